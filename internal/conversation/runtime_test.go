package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nostrportal/portal/internal/identity"
	"github.com/nostrportal/portal/internal/router"
)

// fakeConversation lets tests script Init/OnMessage/Deadline without a real
// protocol state machine.
type fakeConversation struct {
	mu       sync.Mutex
	init     []Effect
	deadline time.Time
	onMsg    func(msg Message) []Effect
}

func (f *fakeConversation) Init() []Effect { return f.init }
func (f *fakeConversation) Deadline() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deadline
}
func (f *fakeConversation) OnMessage(msg Message) []Effect {
	f.mu.Lock()
	fn := f.onMsg
	f.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(msg)
}

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	kp, err := identity.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	rtr := router.New(nil, kp, nil)
	return New(nil, rtr, kp, nil)
}

func TestSpawnDeliversClientIntentAndCompletes(t *testing.T) {
	rt := newTestRuntime(t)

	var gotIntent interface{}
	done := make(chan Effect, 1)
	rt.OnCompletion(func(id string, eff Effect) { done <- eff })

	conv := &fakeConversation{
		onMsg: func(msg Message) []Effect {
			if msg.Kind == MsgClientIntent {
				gotIntent = msg.ClientIntent
				return []Effect{{Kind: EffectCompleteOk, Result: "ok"}}
			}
			return nil
		},
	}

	id, err := rt.Spawn(context.Background(), conv)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	if ok := rt.Deliver(id, "hello"); !ok {
		t.Fatal("expected Deliver to succeed for a live conversation")
	}

	select {
	case eff := <-done:
		if eff.Kind != EffectCompleteOk || eff.Result != "ok" {
			t.Fatalf("unexpected completion effect: %+v", eff)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion")
	}

	if gotIntent != "hello" {
		t.Fatalf("ClientIntent = %v, want hello", gotIntent)
	}

	// The worker goroutine tears itself down asynchronously after emitting
	// the terminal effect; give it a moment before checking Count.
	deadline := time.Now().Add(time.Second)
	for rt.Count() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if rt.Count() != 0 {
		t.Fatalf("Count() = %d, want 0 after completion", rt.Count())
	}
}

func TestDeliverToUnknownConversationReturnsFalse(t *testing.T) {
	rt := newTestRuntime(t)
	if ok := rt.Deliver("does-not-exist", "x"); ok {
		t.Fatal("expected Deliver to return false for an unknown conversation")
	}
}

func TestDeadlinePlusGracePeriodForcesTimeout(t *testing.T) {
	rt := newTestRuntime(t)

	done := make(chan Effect, 1)
	rt.OnCompletion(func(id string, eff Effect) { done <- eff })

	conv := &fakeConversation{deadline: time.Now().Add(10 * time.Millisecond)}

	if _, err := rt.Spawn(context.Background(), conv); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	select {
	case eff := <-done:
		if eff.Kind != EffectCompleteErr || eff.Err != ErrTimedOut {
			t.Fatalf("expected a forced timeout effect, got %+v", eff)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the runtime to force completion")
	}
}

func TestNotificationHandlerReceivesEmittedPayloads(t *testing.T) {
	rt := newTestRuntime(t)

	notifications := make(chan interface{}, 4)
	rt.OnNotification(func(id string, payload interface{}) { notifications <- payload })
	done := make(chan struct{})
	rt.OnCompletion(func(id string, eff Effect) { close(done) })

	conv := &fakeConversation{
		init: []Effect{{Kind: EffectEmitNotification, Notification: "started"}},
		onMsg: func(msg Message) []Effect {
			return []Effect{{Kind: EffectCompleteOk, Result: "done"}}
		},
	}

	id, err := rt.Spawn(context.Background(), conv)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	select {
	case payload := <-notifications:
		if payload != "started" {
			t.Fatalf("notification = %v, want started", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the init notification")
	}

	rt.Deliver(id, struct{}{})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for completion")
	}
}

func TestCapacityLimitRejectsSpawnWhenFull(t *testing.T) {
	rt := newTestRuntime(t)
	rt.maxConv = 1

	blocker := &fakeConversation{deadline: time.Time{}}
	if _, err := rt.Spawn(context.Background(), blocker); err != nil {
		t.Fatalf("first Spawn: %v", err)
	}

	if _, err := rt.Spawn(context.Background(), &fakeConversation{}); err != ErrCapacity {
		t.Fatalf("second Spawn error = %v, want ErrCapacity", err)
	}
}
