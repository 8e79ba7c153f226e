package envelope

import (
	"crypto/rand"
	"testing"
	"time"

	"github.com/nostrportal/portal/internal/identity"
)

func mustKeypair(t *testing.T) *identity.Keypair {
	t.Helper()
	kp, err := identity.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	return kp
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	alice := mustKeypair(t)
	bob := mustKeypair(t)

	plain := []byte(`{"hello":"world"}`)
	cipher, err := Encrypt(alice, bob.PubKey(), plain, rand.Reader)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	decrypted, err := Decrypt(bob, alice.PubKey(), cipher)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(decrypted) != string(plain) {
		t.Fatalf("decrypted mismatch: got %s, want %s", decrypted, plain)
	}
}

func TestDecryptFailsForWrongRecipient(t *testing.T) {
	alice := mustKeypair(t)
	bob := mustKeypair(t)
	mallory := mustKeypair(t)

	cipher, err := Encrypt(alice, bob.PubKey(), []byte("secret"), rand.Reader)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := Decrypt(mallory, alice.PubKey(), cipher); err == nil {
		t.Fatal("expected decryption to fail for the wrong recipient")
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	alice := mustKeypair(t)
	bob := mustKeypair(t)

	env, err := New(SubkindAuthChallenge, "corr-1", AuthChallengeBodyForTest{Nonce: "abc"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sealed, err := Seal(alice, bob.PubKey(), env)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	opened, err := Open(bob, alice.PubKey(), sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if opened.Subkind != SubkindAuthChallenge || opened.CorrelationID != "corr-1" {
		t.Fatalf("unexpected envelope: %+v", opened)
	}

	var body AuthChallengeBodyForTest
	if err := opened.DecodeBody(&body); err != nil {
		t.Fatalf("DecodeBody: %v", err)
	}
	if body.Nonce != "abc" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

// AuthChallengeBodyForTest mirrors protocol.AuthChallengeBody's shape
// without importing the protocol package, which would create an import
// cycle (protocol imports envelope).
type AuthChallengeBodyForTest struct {
	Nonce string `json:"nonce"`
}

func TestEnvelopeExpired(t *testing.T) {
	env := &Envelope{Subkind: SubkindCancel}
	if env.Expired(time.Now()) {
		t.Fatal("envelope with no expiry should never be expired")
	}

	env.WithExpiry(time.Now().Add(-time.Minute))
	if !env.Expired(time.Now()) {
		t.Fatal("envelope with a past expiry should be expired")
	}

	env.WithExpiry(time.Now().Add(time.Minute))
	if env.Expired(time.Now()) {
		t.Fatal("envelope with a future expiry should not be expired")
	}
}

func TestBuildEventIsAddressedAndSigned(t *testing.T) {
	alice := mustKeypair(t)
	bob := mustKeypair(t)

	env, err := New(SubkindCancel, "corr-2", struct{}{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ev, err := BuildEvent(alice, bob.PubKey(), 30100, env)
	if err != nil {
		t.Fatalf("BuildEvent: %v", err)
	}
	if ev.Author != alice.PubKey() {
		t.Fatalf("event author mismatch: got %s, want %s", ev.Author, alice.PubKey())
	}
	if !ev.VerifySignature() {
		t.Fatal("expected the built event's signature to verify")
	}
	found := false
	for _, tag := range ev.Tags {
		if len(tag) == 2 && tag[0] == "p" && tag[1] == bob.PubKey().String() {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a p-tag addressing the recipient")
	}
}
