package coordinator

import (
	"testing"
	"time"
)

func TestTokenIssuerIssueAndVerifyRoundTrip(t *testing.T) {
	ti := NewTokenIssuer([]byte("test-secret"), time.Minute)
	tok, err := ti.Issue("sess-1", "us-east")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	sid, zone, err := ti.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if sid != "sess-1" || zone != "us-east" {
		t.Fatalf("Verify = (%q, %q), want (sess-1, us-east)", sid, zone)
	}
}

func TestTokenIssuerVerifyRejectsWrongSecret(t *testing.T) {
	ti := NewTokenIssuer([]byte("secret-a"), time.Minute)
	tok, err := ti.Issue("sess-1", "us-east")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	other := NewTokenIssuer([]byte("secret-b"), time.Minute)
	if _, _, err := other.Verify(tok); err == nil {
		t.Fatalf("Verify accepted a token signed with a different secret")
	}
}

func TestTokenIssuerVerifyRejectsExpiredToken(t *testing.T) {
	ti := NewTokenIssuer([]byte("test-secret"), -time.Minute)
	tok, err := ti.Issue("sess-1", "us-east")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, _, err := ti.Verify(tok); err == nil {
		t.Fatalf("Verify accepted an already-expired token")
	}
}

func TestNewTokenIssuerDefaultsTTL(t *testing.T) {
	ti := NewTokenIssuer([]byte("s"), 0)
	if ti.ttl != time.Hour {
		t.Fatalf("default ttl = %v, want 1h", ti.ttl)
	}
}
