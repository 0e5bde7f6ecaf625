package enums

import "fmt"

// PaymentOutcome is the normalized result a provider webhook reports.
type PaymentOutcome string

const (
	PaymentOutcomeInitiated PaymentOutcome = "initiated"
	PaymentOutcomeConfirmed PaymentOutcome = "confirmed"
	PaymentOutcomeFailed    PaymentOutcome = "failed"
)

var validPaymentOutcomes = []PaymentOutcome{
	PaymentOutcomeInitiated,
	PaymentOutcomeConfirmed,
	PaymentOutcomeFailed,
}

// String implements fmt.Stringer.
func (p PaymentOutcome) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentOutcome.
func (p PaymentOutcome) IsValid() bool {
	for _, candidate := range validPaymentOutcomes {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePaymentOutcome converts raw input into a PaymentOutcome.
func ParsePaymentOutcome(value string) (PaymentOutcome, error) {
	for _, candidate := range validPaymentOutcomes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment outcome %q", value)
}
