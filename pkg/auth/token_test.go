package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/ucstore/ucstore-backend/pkg/config"
)

func testJWTConfig() config.AdminJWTConfig {
	return config.AdminJWTConfig{
		Secret:            "test-secret",
		Issuer:            "ucstore",
		ExpirationMinutes: 30,
	}
}

func TestMintAndParseAdminToken(t *testing.T) {
	cfg := testJWTConfig()
	now := time.Now().UTC()

	token, err := MintAdminToken(cfg, now, "admin-42")
	if err != nil {
		t.Fatalf("MintAdminToken: %v", err)
	}

	claims, err := ParseAdminToken(cfg, token)
	if err != nil {
		t.Fatalf("ParseAdminToken: %v", err)
	}
	if claims.AdminID != "admin-42" {
		t.Fatalf("admin id = %q, want admin-42", claims.AdminID)
	}
	if claims.Issuer != cfg.Issuer {
		t.Fatalf("issuer = %q, want %q", claims.Issuer, cfg.Issuer)
	}
}

func TestParseAdminToken_RejectsExpired(t *testing.T) {
	cfg := testJWTConfig()
	issued := time.Now().UTC().Add(-2 * time.Hour)

	token, err := MintAdminToken(cfg, issued, "admin-42")
	if err != nil {
		t.Fatalf("MintAdminToken: %v", err)
	}
	if _, err := ParseAdminToken(cfg, token); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestParseAdminToken_RejectsWrongSecret(t *testing.T) {
	cfg := testJWTConfig()
	token, err := MintAdminToken(cfg, time.Now().UTC(), "admin-42")
	if err != nil {
		t.Fatalf("MintAdminToken: %v", err)
	}

	other := cfg
	other.Secret = "different-secret"
	if _, err := ParseAdminToken(other, token); err == nil {
		t.Fatal("expected signature mismatch to be rejected")
	}
}

func TestParseAdminToken_RejectsTampering(t *testing.T) {
	cfg := testJWTConfig()
	token, err := MintAdminToken(cfg, time.Now().UTC(), "admin-42")
	if err != nil {
		t.Fatalf("MintAdminToken: %v", err)
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("unexpected token shape")
	}
	tampered := parts[0] + ".eyJhZG1pbklkIjoiYWRtaW4tOTkifQ." + parts[2]
	if _, err := ParseAdminToken(cfg, tampered); err == nil {
		t.Fatal("expected tampered token to be rejected")
	}
}
