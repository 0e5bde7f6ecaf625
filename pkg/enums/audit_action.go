package enums

import "fmt"

// AuditAction labels the entries the engine appends to the audit log.
type AuditAction string

const (
	AuditActionOrderCreated      AuditAction = "order_created"
	AuditActionPaymentInitiated  AuditAction = "payment_initiated"
	AuditActionPaymentConfirmed  AuditAction = "payment_confirmed"
	AuditActionPaymentFailed     AuditAction = "payment_failed"
	AuditActionDeliverySucceeded AuditAction = "delivery_succeeded"
	AuditActionDeliveryFailed    AuditAction = "delivery_failed"
	AuditActionAdminCancel       AuditAction = "admin_cancel"
	AuditActionUserCancel        AuditAction = "user_cancel"
	AuditActionReviewHold        AuditAction = "review_hold"
	AuditActionReviewDecision    AuditAction = "review_decision"
	AuditActionRiskBlocked       AuditAction = "risk_blocked"
	AuditActionInvalidTransition AuditAction = "invalid_transition"
	AuditActionAlertRaised       AuditAction = "alert_raised"
	AuditActionPromoApplied      AuditAction = "promo_applied"
	AuditActionReferralBonus     AuditAction = "referral_bonus"
	AuditActionForceRedeliver    AuditAction = "force_redeliver"
)

var validAuditActions = []AuditAction{
	AuditActionOrderCreated,
	AuditActionPaymentInitiated,
	AuditActionPaymentConfirmed,
	AuditActionPaymentFailed,
	AuditActionDeliverySucceeded,
	AuditActionDeliveryFailed,
	AuditActionAdminCancel,
	AuditActionUserCancel,
	AuditActionReviewHold,
	AuditActionReviewDecision,
	AuditActionRiskBlocked,
	AuditActionInvalidTransition,
	AuditActionAlertRaised,
	AuditActionPromoApplied,
	AuditActionReferralBonus,
	AuditActionForceRedeliver,
}

// String implements fmt.Stringer.
func (a AuditAction) String() string {
	return string(a)
}

// IsValid reports whether the value is a known AuditAction.
func (a AuditAction) IsValid() bool {
	for _, candidate := range validAuditActions {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseAuditAction converts raw input into an AuditAction.
func ParseAuditAction(value string) (AuditAction, error) {
	for _, candidate := range validAuditActions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid audit action %q", value)
}
