package router

import (
	"testing"
	"time"

	"github.com/nostrportal/portal/internal/envelope"
	"github.com/nostrportal/portal/internal/identity"
	"github.com/nostrportal/portal/internal/nostrevent"
)

func mustEnvelopeEvent(t *testing.T, sender *identity.Keypair, recipient identity.PubKey, correlationID string) *envelope.Envelope {
	t.Helper()
	env, err := envelope.New(envelope.SubkindAuthChallenge, correlationID, map[string]string{"nonce": "abc"})
	if err != nil {
		t.Fatalf("envelope.New: %v", err)
	}
	return env
}

func TestHandleRoutesToRegisteredConversation(t *testing.T) {
	server, err := identity.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	peer, err := identity.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}

	r := New(nil, server, nil)
	inbox, unregister := r.RegisterConversation("conv-1")
	defer unregister()

	env := mustEnvelopeEvent(t, peer, server.PubKey(), "conv-1")
	ev, err := envelope.BuildEvent(peer, server.PubKey(), 20001, env)
	if err != nil {
		t.Fatalf("BuildEvent: %v", err)
	}

	r.handle(ev)

	select {
	case routed := <-inbox:
		if routed.From != peer.PubKey() {
			t.Fatalf("From = %s, want %s", routed.From, peer.PubKey())
		}
		if routed.Delegated {
			t.Fatal("expected Delegated = false for a non-delegated event")
		}
	default:
		t.Fatal("expected the event to be routed to the conversation inbox")
	}

	stats := r.Stats()
	if stats.Routed != 1 {
		t.Fatalf("Routed = %d, want 1", stats.Routed)
	}
}

func TestHandleDropsBadSignature(t *testing.T) {
	server, err := identity.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	peer, err := identity.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}

	r := New(nil, server, nil)
	_, unregister := r.RegisterConversation("conv-1")
	defer unregister()

	env := mustEnvelopeEvent(t, peer, server.PubKey(), "conv-1")
	ev, err := envelope.BuildEvent(peer, server.PubKey(), 20001, env)
	if err != nil {
		t.Fatalf("BuildEvent: %v", err)
	}
	ev.Content = append(ev.Content, 'x')

	r.handle(ev)

	if stats := r.Stats(); stats.Dropped != 1 {
		t.Fatalf("Dropped = %d, want 1 (tampered content invalidates signature verification)", stats.Dropped)
	}
}

func TestHandleDropsEventNotAddressedToUs(t *testing.T) {
	server, err := identity.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	other, err := identity.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	peer, err := identity.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}

	r := New(nil, server, nil)

	env := mustEnvelopeEvent(t, peer, other.PubKey(), "conv-1")
	ev, err := envelope.BuildEvent(peer, other.PubKey(), 20001, env)
	if err != nil {
		t.Fatalf("BuildEvent: %v", err)
	}

	r.handle(ev)

	stats := r.Stats()
	if stats.Routed != 0 || stats.Dropped != 0 {
		t.Fatalf("expected silent drop for an event addressed to a different recipient, got %+v", stats)
	}
}

func TestHandleDedupesRepeatedEnvelope(t *testing.T) {
	server, err := identity.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	peer, err := identity.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}

	r := New(nil, server, nil)
	inbox, unregister := r.RegisterConversation("conv-1")
	defer unregister()

	env := mustEnvelopeEvent(t, peer, server.PubKey(), "conv-1")
	ev, err := envelope.BuildEvent(peer, server.PubKey(), 20001, env)
	if err != nil {
		t.Fatalf("BuildEvent: %v", err)
	}

	r.handle(ev)
	<-inbox
	r.handle(ev)

	select {
	case <-inbox:
		t.Fatal("expected the duplicate event to not be delivered again")
	default:
	}

	if stats := r.Stats(); stats.Duplicate != 1 {
		t.Fatalf("Duplicate = %d, want 1", stats.Duplicate)
	}
}

func TestHandleFlagsSuspectTime(t *testing.T) {
	server, err := identity.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	peer, err := identity.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}

	r := New(nil, server, nil)
	inbox, unregister := r.RegisterConversation("conv-1")
	defer unregister()

	env := mustEnvelopeEvent(t, peer, server.PubKey(), "conv-1")
	ev, err := envelope.BuildEvent(peer, server.PubKey(), 20001, env)
	if err != nil {
		t.Fatalf("BuildEvent: %v", err)
	}
	// CreatedAt is covered by the event id, so it must be re-signed after
	// mutating it to simulate an out-of-skew but otherwise valid event.
	ev.CreatedAt = time.Now().Add(-1 * time.Hour).Unix()
	if err := nostrevent.Sign(ev, peer); err != nil {
		t.Fatalf("re-signing event: %v", err)
	}

	r.handle(ev)

	select {
	case routed := <-inbox:
		if !routed.SuspectTime {
			t.Fatal("expected SuspectTime = true for an event an hour outside the clock skew window")
		}
	default:
		t.Fatal("expected the event to still be routed despite suspect timing")
	}
}
