package usertoken

import (
	"testing"
	"time"
)

func TestIssueAndVerifyRoundTrip(t *testing.T) {
	m, err := New("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	token, err := m.Issue("u1", "alice")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := m.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != "u1" || claims.Username != "alice" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	issuer, err := New("secret-a", time.Hour)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	verifier, err := New("secret-b", time.Hour)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	token, err := issuer.Issue("u1", "alice")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := verifier.Verify(token); err == nil {
		t.Fatalf("expected verification to fail for wrong secret")
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	m, err := New("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	// Issue with a TTL far in the past, beyond verification leeway.
	m.ttl = -2 * time.Hour
	token, err := m.Issue("u1", "alice")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	m.ttl = time.Hour
	if _, err := m.Verify(token); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	m, err := New("test-secret", 0)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := m.Verify("not.a.token"); err == nil {
		t.Fatalf("expected garbage token to be rejected")
	}
}

func TestNewRequiresSecret(t *testing.T) {
	if _, err := New("  ", time.Hour); err == nil {
		t.Fatalf("expected constructor error for empty secret")
	}
}
