package enums

import "fmt"

// RiskDecision is the verdict the risk evaluator returns for an order.
type RiskDecision string

const (
	RiskDecisionAllow  RiskDecision = "allow"
	RiskDecisionReview RiskDecision = "review"
	RiskDecisionBlock  RiskDecision = "block"
)

var validRiskDecisions = []RiskDecision{
	RiskDecisionAllow,
	RiskDecisionReview,
	RiskDecisionBlock,
}

// String implements fmt.Stringer.
func (r RiskDecision) String() string {
	return string(r)
}

// IsValid reports whether the value is a known RiskDecision.
func (r RiskDecision) IsValid() bool {
	for _, candidate := range validRiskDecisions {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseRiskDecision converts raw input into a RiskDecision.
func ParseRiskDecision(value string) (RiskDecision, error) {
	for _, candidate := range validRiskDecisions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid risk decision %q", value)
}
