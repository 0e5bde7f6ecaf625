package enums

import "fmt"

// AttemptStatus tracks the lifecycle of a provider-side payment attempt.
type AttemptStatus string

const (
	AttemptStatusPending AttemptStatus = "pending"
	// AttemptStatusProcessed marks an attempt whose outcome has been driven
	// through the state machine to completion or to an audited no-op, so the
	// staleness sweep never picks it up again.
	AttemptStatusProcessed AttemptStatus = "processed"
	AttemptStatusConfirmed AttemptStatus = "confirmed"
	AttemptStatusFailed    AttemptStatus = "failed"
)

var validAttemptStatuses = []AttemptStatus{
	AttemptStatusPending,
	AttemptStatusProcessed,
	AttemptStatusConfirmed,
	AttemptStatusFailed,
}

// String implements fmt.Stringer.
func (a AttemptStatus) String() string {
	return string(a)
}

// IsValid reports whether the value is a known AttemptStatus.
func (a AttemptStatus) IsValid() bool {
	for _, candidate := range validAttemptStatuses {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseAttemptStatus converts raw input into an AttemptStatus.
func ParseAttemptStatus(value string) (AttemptStatus, error) {
	for _, candidate := range validAttemptStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid attempt status %q", value)
}
