package identity

import (
	"encoding/json"
	"testing"
)

func TestGenerateKeypairRoundTripsThroughHex(t *testing.T) {
	kp, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}

	reloaded, err := KeypairFromHex(kp.PrivateKeyHex())
	if err != nil {
		t.Fatalf("KeypairFromHex: %v", err)
	}
	if reloaded.PubKey() != kp.PubKey() {
		t.Fatalf("pubkey mismatch after reload: got %s, want %s", reloaded.PubKey(), kp.PubKey())
	}
}

func TestSignVerify(t *testing.T) {
	kp, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	msg := sha256Sum([]byte("hello portal"))

	sig, err := kp.Sign(msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !Verify(kp.PubKey(), msg, sig) {
		t.Fatal("Verify returned false for a valid signature")
	}

	other := sha256Sum([]byte("different message"))
	if Verify(kp.PubKey(), other, sig) {
		t.Fatal("Verify returned true for a mismatched message")
	}
}

func TestParsePubKeyRejectsWrongLength(t *testing.T) {
	if _, err := ParsePubKey("abcd"); err == nil {
		t.Fatal("expected an error for a short hex string")
	}
}

func TestPubKeyJSONRoundTrip(t *testing.T) {
	kp, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}

	b, err := json.Marshal(kp.PubKey())
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded PubKey
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded != kp.PubKey() {
		t.Fatalf("pubkey mismatch after JSON round trip: got %s, want %s", decoded, kp.PubKey())
	}
}

func TestDelegationProofVerify(t *testing.T) {
	main, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	sub, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}

	proof, err := main.SignDelegation(sub.PubKey(), "kind=5")
	if err != nil {
		t.Fatalf("SignDelegation: %v", err)
	}
	if !proof.Verify() {
		t.Fatal("delegation proof did not verify")
	}

	tampered := *proof
	tampered.Conditions = "kind=6"
	if tampered.Verify() {
		t.Fatal("tampered delegation proof verified")
	}
}

func TestResolveAuthor(t *testing.T) {
	main, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	sub, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}

	if resolved, delegated, ok := ResolveAuthor(main.PubKey(), nil); !ok || delegated || resolved != main.PubKey() {
		t.Fatalf("unexpected result for undelegated author: %v %v %v", resolved, delegated, ok)
	}

	proof, err := main.SignDelegation(sub.PubKey(), "")
	if err != nil {
		t.Fatalf("SignDelegation: %v", err)
	}
	if resolved, delegated, ok := ResolveAuthor(sub.PubKey(), proof); !ok || !delegated || resolved != main.PubKey() {
		t.Fatalf("unexpected result for delegated author: %v %v %v", resolved, delegated, ok)
	}
}

func TestPeerResolveMain(t *testing.T) {
	main, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	sub, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}

	peer := NewPeer(main.PubKey())
	proof, err := main.SignDelegation(sub.PubKey(), "")
	if err != nil {
		t.Fatalf("SignDelegation: %v", err)
	}
	if err := peer.AddSubkey(proof); err != nil {
		t.Fatalf("AddSubkey: %v", err)
	}

	if resolved, ok := peer.ResolveMain(sub.PubKey()); !ok || resolved != main.PubKey() {
		t.Fatalf("expected subkey to resolve to main key, got %v %v", resolved, ok)
	}
	unrelated, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	if _, ok := peer.ResolveMain(unrelated.PubKey()); ok {
		t.Fatal("unrelated key should not resolve against this peer")
	}
}
