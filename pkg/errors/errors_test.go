package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestMetadataFor_KnownCodes(t *testing.T) {
	tests := []struct {
		code   Code
		status int
	}{
		{CodeUntrustedPayload, http.StatusUnauthorized},
		{CodeMalformedPayload, http.StatusBadRequest},
		{CodeInvalidTransition, http.StatusUnprocessableEntity},
		{CodeConcurrentModification, http.StatusConflict},
		{CodePromoExhausted, http.StatusConflict},
		{CodePromoExpired, http.StatusUnprocessableEntity},
		{CodeRiskBlocked, http.StatusForbidden},
		{CodeDeliveryFailed, http.StatusBadGateway},
	}
	for _, tc := range tests {
		if got := MetadataFor(tc.code).HTTPStatus; got != tc.status {
			t.Fatalf("MetadataFor(%s).HTTPStatus = %d, want %d", tc.code, got, tc.status)
		}
	}
}

func TestMetadataFor_UnknownFallsBackToInternal(t *testing.T) {
	meta := MetadataFor(Code("NOPE"))
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("unknown code should map to internal, got %d", meta.HTTPStatus)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(CodeDependency, cause, "calling fulfillment")
	if !errors.Is(err, cause) {
		t.Fatal("wrapped error should unwrap to cause")
	}
	if As(err).Code() != CodeDependency {
		t.Fatalf("unexpected code %s", As(err).Code())
	}
}

func TestAs_FindsTypedErrorInChain(t *testing.T) {
	inner := New(CodeConcurrentModification, "version mismatch")
	outer := fmt.Errorf("transition: %w", inner)
	typed := As(outer)
	if typed == nil || typed.Code() != CodeConcurrentModification {
		t.Fatalf("expected typed error in chain, got %v", typed)
	}
}

func TestHasCode(t *testing.T) {
	err := New(CodePromoExhausted, "no uses left")
	if !HasCode(err, CodePromoExhausted) {
		t.Fatal("HasCode should match")
	}
	if HasCode(err, CodePromoExpired) {
		t.Fatal("HasCode should not match a different code")
	}
	if HasCode(nil, CodePromoExpired) {
		t.Fatal("nil error has no code")
	}
}

func TestWithDetails(t *testing.T) {
	err := New(CodeInvalidTransition, "payment_confirmed from created").
		WithDetails(map[string]any{"from": "created", "event": "payment_confirmed"})
	if err.Details() == nil {
		t.Fatal("details should be attached")
	}
}
