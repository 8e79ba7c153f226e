package protocol

import (
	"testing"

	"github.com/nostrportal/portal/internal/identity"
)

func TestHandshakeURLRoundTrip(t *testing.T) {
	main, err := identity.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}

	h := HandshakeURL{
		MainKey: main.PubKey(),
		Relays:  []string{"wss://relay.one", "wss://relay.two"},
		Token:   "abc123",
	}

	parsed, err := ParseHandshakeURL(h.String())
	if err != nil {
		t.Fatalf("ParseHandshakeURL: %v", err)
	}
	if parsed.MainKey != h.MainKey {
		t.Fatalf("main key mismatch: got %s, want %s", parsed.MainKey, h.MainKey)
	}
	if parsed.Token != h.Token {
		t.Fatalf("token mismatch: got %q, want %q", parsed.Token, h.Token)
	}
	if len(parsed.Relays) != 2 || parsed.Relays[0] != "wss://relay.one" || parsed.Relays[1] != "wss://relay.two" {
		t.Fatalf("relays mismatch: %v", parsed.Relays)
	}
	if parsed.Subkey != nil {
		t.Fatalf("expected no subkey, got %v", parsed.Subkey)
	}
}

func TestHandshakeURLWithSubkeySendsToSubkey(t *testing.T) {
	main, err := identity.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	sub, err := identity.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	subkey := sub.PubKey()

	h := HandshakeURL{MainKey: main.PubKey(), Relays: []string{"wss://relay.one"}, Token: "tok", Subkey: &subkey}

	if h.SendTo() != subkey {
		t.Fatalf("SendTo() = %s, want subkey %s", h.SendTo(), subkey)
	}
	keys := h.AllKeys()
	if len(keys) != 2 || keys[0] != main.PubKey() || keys[1] != subkey {
		t.Fatalf("AllKeys() = %v", keys)
	}

	parsed, err := ParseHandshakeURL(h.String())
	if err != nil {
		t.Fatalf("ParseHandshakeURL: %v", err)
	}
	if parsed.Subkey == nil || *parsed.Subkey != subkey {
		t.Fatalf("expected parsed subkey %s, got %v", subkey, parsed.Subkey)
	}
}

func TestParseHandshakeURLRejectsUnknownParam(t *testing.T) {
	main, err := identity.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	raw := "portal://" + main.PubKey().String() + "?relays=wss%3A%2F%2Frelay.one&token=abc&bogus=1"
	if _, err := ParseHandshakeURL(raw); err == nil {
		t.Fatal("expected an error for an unknown query parameter")
	}
}

func TestParseHandshakeURLRejectsMissingToken(t *testing.T) {
	main, err := identity.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	raw := "portal://" + main.PubKey().String() + "?relays=wss%3A%2F%2Frelay.one"
	if _, err := ParseHandshakeURL(raw); err == nil {
		t.Fatal("expected an error for a missing token")
	}
}

func TestParseHandshakeURLRejectsBadPrefix(t *testing.T) {
	if _, err := ParseHandshakeURL("https://example.com"); err == nil {
		t.Fatal("expected an error for a non-portal:// URL")
	}
}
