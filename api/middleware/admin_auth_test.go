package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	pkgAuth "github.com/ucstore/ucstore-backend/pkg/auth"
	"github.com/ucstore/ucstore-backend/pkg/config"
)

func adminJWTConfig() config.AdminJWTConfig {
	return config.AdminJWTConfig{
		Secret:            "test-secret",
		Issuer:            "ucstore",
		ExpirationMinutes: 30,
	}
}

func TestAdminAuth_RejectsMissingToken(t *testing.T) {
	handler := AdminAuth(adminJWTConfig(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestAdminAuth_RejectsBadToken(t *testing.T) {
	handler := AdminAuth(adminJWTConfig(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestAdminAuth_SeedsAdminID(t *testing.T) {
	cfg := adminJWTConfig()
	token, err := pkgAuth.MintAdminToken(cfg, time.Now().UTC(), "admin-7")
	if err != nil {
		t.Fatalf("MintAdminToken: %v", err)
	}

	var seen string
	handler := AdminAuth(cfg, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = AdminIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if seen != "admin-7" {
		t.Fatalf("admin id = %q, want admin-7", seen)
	}
}
