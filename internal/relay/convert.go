package relay

import (
	"fmt"

	"fiatjaf.com/nostr"

	"github.com/nostrportal/portal/internal/identity"
	"github.com/nostrportal/portal/internal/nostrevent"
)

// toWire signs e with keypair and converts it into the wire nostr.Event type,
// letting the library itself compute the id and signature rather than
// hand-converting our own precomputed ID/Sig fields into its internal
// representation.
func toWire(keypair *identity.Keypair, e *nostrevent.Event) (*nostr.Event, error) {
	tags := make(nostr.Tags, 0, len(e.Tags))
	for _, t := range e.Tags {
		tags = append(tags, nostr.Tag(t))
	}

	ev := &nostr.Event{
		CreatedAt: nostr.Timestamp(e.CreatedAt),
		Kind:      nostr.Kind(e.Kind),
		Tags:      tags,
		Content:   string(e.Content),
	}
	if ev.CreatedAt == 0 {
		ev.CreatedAt = nostr.Timestamp(e.CreatedAt)
	}

	var sk nostr.SecretKey
	priv := keypair.ECDHPrivate().Serialize()
	copy(sk[:], priv)

	if err := ev.Sign(sk); err != nil {
		return nil, fmt.Errorf("signing wire event: %w", err)
	}

	// mirror the library's computed id/pubkey/sig back onto our own event so
	// callers that inspect e after Publish see the final values.
	copy(e.ID[:], ev.ID[:])
	copy(e.Sig[:], ev.Sig[:])
	e.Author = identity.PubKey(ev.PubKey)

	return ev, nil
}

// fromWire converts an inbound wire event into our own Event type. Inbound
// events are never re-signed, so no keypair is needed.
func fromWire(ev *nostr.Event) *nostrevent.Event {
	tags := make(nostrevent.Tags, 0, len(ev.Tags))
	for _, t := range ev.Tags {
		tags = append(tags, nostrevent.Tag(t))
	}

	e := &nostrevent.Event{
		ID:        [32]byte(ev.ID),
		Author:    identity.PubKey(ev.PubKey),
		CreatedAt: int64(ev.CreatedAt),
		Kind:      uint16(ev.Kind),
		Tags:      tags,
		Content:   []byte(ev.Content),
		Sig:       [64]byte(ev.Sig),
	}
	return e
}
