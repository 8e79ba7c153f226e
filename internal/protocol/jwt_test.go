package protocol

import (
	"testing"
	"time"

	"github.com/nostrportal/portal/internal/identity"
)

func TestIssueAndVerifyJWT(t *testing.T) {
	issuer, err := identity.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}

	token, err := IssueJWT(issuer, "alice", 1)
	if err != nil {
		t.Fatalf("IssueJWT: %v", err)
	}

	claims, err := VerifyJWT(issuer.PubKey(), token, time.Now())
	if err != nil {
		t.Fatalf("VerifyJWT: %v", err)
	}
	if claims.Subject != "alice" {
		t.Fatalf("subject = %q, want alice", claims.Subject)
	}
	if claims.Issuer != issuer.PubKey().String() {
		t.Fatalf("issuer = %q, want %q", claims.Issuer, issuer.PubKey().String())
	}
}

func TestVerifyJWTRejectsExpired(t *testing.T) {
	issuer, err := identity.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}

	token, err := IssueJWT(issuer, "alice", 1)
	if err != nil {
		t.Fatalf("IssueJWT: %v", err)
	}

	if _, err := VerifyJWT(issuer.PubKey(), token, time.Now().Add(2*time.Hour)); err == nil {
		t.Fatal("expected verification to fail once the token has expired")
	}
}

func TestVerifyJWTRejectsTamperedSignature(t *testing.T) {
	issuer, err := identity.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}

	token, err := IssueJWT(issuer, "alice", 1)
	if err != nil {
		t.Fatalf("IssueJWT: %v", err)
	}

	tampered := token + "x"
	if _, err := VerifyJWT(issuer.PubKey(), tampered, time.Now()); err == nil {
		t.Fatal("expected verification to fail for a tampered token")
	}
}

func TestIssueJWTRejectsNonPositiveDuration(t *testing.T) {
	issuer, err := identity.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	if _, err := IssueJWT(issuer, "alice", 0); err == nil {
		t.Fatal("expected an error for a non-positive duration")
	}
}
