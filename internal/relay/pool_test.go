package relay

import (
	"context"
	"testing"

	"github.com/nostrportal/portal/internal/identity"
	"github.com/nostrportal/portal/internal/nostrevent"
)

func TestPublishFailsWithNoRelaysAvailable(t *testing.T) {
	kp, err := identity.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := New(ctx, kp, nil)
	defer p.Close()

	ev := &nostrevent.Event{}
	if err := p.Publish(ctx, ev); err != ErrNoRelaysAvailable {
		t.Fatalf("Publish error = %v, want ErrNoRelaysAvailable", err)
	}
}

func TestSnapshotEmptyPool(t *testing.T) {
	kp, err := identity.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := New(ctx, kp, nil)
	defer p.Close()

	if snap := p.Snapshot(); len(snap) != 0 {
		t.Fatalf("expected an empty snapshot, got %v", snap)
	}
}

func TestSubscribeReturnsIndependentChannels(t *testing.T) {
	kp, err := identity.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := New(ctx, kp, nil)
	defer p.Close()

	a := p.Subscribe()
	b := p.Subscribe()
	if a == b {
		t.Fatal("expected distinct channels from separate Subscribe calls")
	}
}
