package subscription

import (
	"testing"

	"github.com/nostrportal/portal/internal/conversation"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	rt := conversation.New(nil, nil, nil, nil)
	return New(rt, "secret-token", nil)
}

func TestAuthenticateRejectsWrongToken(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.Authenticate("client-1", "wrong"); err == nil {
		t.Fatal("expected an error for a wrong token")
	}
	if err := r.RequireAuthenticated("client-1"); err == nil {
		t.Fatal("expected RequireAuthenticated to still fail")
	}
}

func TestAuthenticateAcceptsCorrectToken(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.Authenticate("client-1", "secret-token"); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if err := r.RequireAuthenticated("client-1"); err != nil {
		t.Fatalf("RequireAuthenticated: %v", err)
	}
}

func TestRequireAuthenticatedRejectsUnknownClient(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.RequireAuthenticated("ghost"); err == nil {
		t.Fatal("expected an error for a client that never authenticated")
	}
}

// newManualSub inserts a subscription directly, bypassing conversation.Runtime.Spawn,
// so enqueue/teardown behavior can be exercised without a live router/pool.
func newManualSub(r *Registry, clientID, convID string) *sub {
	s := &sub{id: convID, clientID: clientID, conversationID: convID, outbound: make(chan Notification, DefaultQueueDepth)}
	r.mu.Lock()
	r.subs[convID] = s
	if r.clientSubs[clientID] == nil {
		r.clientSubs[clientID] = make(map[string]struct{})
	}
	r.clientSubs[clientID][convID] = struct{}{}
	r.mu.Unlock()
	return s
}

func TestEnqueueDeliversToOutbound(t *testing.T) {
	r := newTestRegistry(t)
	newManualSub(r, "client-1", "conv-1")

	r.handleNotification("conv-1", "hello")

	out, ok := r.Outbound("conv-1")
	if !ok {
		t.Fatal("expected an outbound channel for conv-1")
	}
	select {
	case n := <-out:
		if n.Data != "hello" {
			t.Fatalf("notification data = %v, want hello", n.Data)
		}
	default:
		t.Fatal("expected a queued notification")
	}
}

func TestEnqueueDropsOldestWhenFull(t *testing.T) {
	r := newTestRegistry(t)
	newManualSub(r, "client-1", "conv-1")

	for i := 0; i < DefaultQueueDepth+5; i++ {
		r.handleNotification("conv-1", i)
	}

	r.mu.Lock()
	dropped := r.subs["conv-1"].dropped
	r.mu.Unlock()
	if dropped == 0 {
		t.Fatal("expected some notifications to have been dropped")
	}

	out, ok := r.Outbound("conv-1")
	if !ok {
		t.Fatal("expected conv-1 to still be registered")
	}
	if len(out) != DefaultQueueDepth {
		t.Fatalf("queue length = %d, want %d", len(out), DefaultQueueDepth)
	}
}

func TestHandleCompletionTearsDownSubscription(t *testing.T) {
	r := newTestRegistry(t)
	newManualSub(r, "client-1", "conv-1")

	r.handleCompletion("conv-1", conversation.Effect{Kind: conversation.EffectCompleteOk, Result: "done"})

	out, ok := r.Outbound("conv-1")
	if !ok {
		t.Fatal("expected the outbound channel to still be reachable for the final notification")
	}
	select {
	case n := <-out:
		if !n.Done || n.Data != "done" {
			t.Fatalf("unexpected final notification: %+v", n)
		}
	default:
		t.Fatal("expected a final notification")
	}

	if _, ok := r.Outbound("conv-1"); ok {
		t.Fatal("expected the subscription to be torn down after completion")
	}
}

func TestDisconnectCancelsOwnedConversations(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.Authenticate("client-1", "secret-token"); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	newManualSub(r, "client-1", "conv-1")
	newManualSub(r, "client-1", "conv-2")

	r.Disconnect("client-1")

	if err := r.RequireAuthenticated("client-1"); err == nil {
		t.Fatal("expected client-1 to no longer be authenticated after disconnect")
	}
	r.mu.Lock()
	_, stillTracked := r.clientSubs["client-1"]
	r.mu.Unlock()
	if stillTracked {
		t.Fatal("expected client-1's subscription set to be cleared")
	}
}
