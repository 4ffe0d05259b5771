package admin

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestTokenManagerRoundTrip(t *testing.T) {
	m := NewTokenManager("test-secret", time.Minute)

	tok, err := m.Generate()
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if err := m.Verify(tok); err != nil {
		t.Fatalf("Verify() of a freshly issued token failed: %v", err)
	}
}

func TestTokenManagerRejectsWrongSecret(t *testing.T) {
	issuer := NewTokenManager("secret-a", time.Minute)
	verifier := NewTokenManager("secret-b", time.Minute)

	tok, err := issuer.Generate()
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if err := verifier.Verify(tok); err == nil {
		t.Fatal("expected Verify() to reject a token signed with a different secret")
	}
}

func TestTokenManagerRejectsExpiredToken(t *testing.T) {
	m := NewTokenManager("test-secret", -time.Minute)

	tok, err := m.Generate()
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if err := m.Verify(tok); err == nil {
		t.Fatal("expected Verify() to reject an already-expired token")
	}
}

func TestTokenManagerRejectsGarbage(t *testing.T) {
	m := NewTokenManager("test-secret", time.Minute)
	if err := m.Verify("not-a-jwt"); err == nil {
		t.Fatal("expected Verify() to reject a malformed token string")
	}
}

func TestExtractTokenPrefersQueryParam(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/admin/stream?token=from-query", nil)
	r.Header.Set("Authorization", "Bearer from-header")

	tok, err := extractToken(r)
	if err != nil {
		t.Fatalf("extractToken() error: %v", err)
	}
	if tok != "from-query" {
		t.Errorf("extractToken() = %q, want %q", tok, "from-query")
	}
}

func TestExtractTokenFallsBackToAuthorizationHeader(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/admin/stream", nil)
	r.Header.Set("Authorization", "Bearer from-header")

	tok, err := extractToken(r)
	if err != nil {
		t.Fatalf("extractToken() error: %v", err)
	}
	if tok != "from-header" {
		t.Errorf("extractToken() = %q, want %q", tok, "from-header")
	}
}

func TestExtractTokenErrorsWithNoCredentials(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/admin/stream", nil)
	if _, err := extractToken(r); err == nil {
		t.Fatal("expected extractToken() to error with no query param or header")
	}
}
