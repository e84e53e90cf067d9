package auth

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"
)

func TestResolve_RoundTrip(t *testing.T) {
	r := NewJWTResolver("test-secret")

	token, err := r.Issue("u1", "rider", time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	identity, err := r.Resolve(token)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if identity != "u1" {
		t.Fatalf("expected identity u1, got %q", identity)
	}
}

func TestResolve_WrongSecretRejected(t *testing.T) {
	issuer := NewJWTResolver("secret-a")
	verifier := NewJWTResolver("secret-b")

	token, err := issuer.Issue("u1", "rider", time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := verifier.Resolve(token); err == nil {
		t.Fatalf("token signed with different secret should not resolve")
	}
}

func TestResolve_ExpiredRejected(t *testing.T) {
	r := NewJWTResolver("test-secret")

	token, err := r.Issue("u1", "rider", -time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := r.Resolve(token); err == nil {
		t.Fatalf("expired token should not resolve")
	}
}

func TestResolve_EmptyCredential(t *testing.T) {
	r := NewJWTResolver("test-secret")
	if _, err := r.Resolve(""); !errors.Is(err, ErrNoCredential) {
		t.Fatalf("expected ErrNoCredential, got %v", err)
	}
}

func TestCredentialFromRequest(t *testing.T) {
	req := httptest.NewRequest("GET", "/ws?token=abc", nil)
	if got := CredentialFromRequest(req); got != "abc" {
		t.Fatalf("query token: expected abc, got %q", got)
	}

	req = httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Authorization", "Bearer xyz")
	if got := CredentialFromRequest(req); got != "xyz" {
		t.Fatalf("header token: expected xyz, got %q", got)
	}

	req = httptest.NewRequest("GET", "/ws", nil)
	if got := CredentialFromRequest(req); got != "" {
		t.Fatalf("expected empty credential, got %q", got)
	}

	// Query parameter wins when both are present.
	req = httptest.NewRequest("GET", "/ws?token=abc", nil)
	req.Header.Set("Authorization", "Bearer xyz")
	if got := CredentialFromRequest(req); got != "abc" {
		t.Fatalf("expected query to win, got %q", got)
	}
}
