package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nostrportal/portal/internal/identity"
	"github.com/nostrportal/portal/internal/nostrevent"
	"github.com/nostrportal/portal/internal/relay"
)

// DefaultProfileCollectionWindow is how long FetchProfile waits for
// kind-0 metadata events to arrive before returning whatever it has
// (spec.md §4.5 ProfileFetch). Unlike every other protocol operation,
// profile metadata events are plain, unencrypted Nostr events (NIP-01 kind
// 0) rather than Portal envelopes, so this reads straight off the relay
// pool's merged stream instead of going through the router/conversation
// machinery.
const DefaultProfileCollectionWindow = 3 * time.Second

// Profile is the parsed content of a kind-0 metadata event.
type Profile struct {
	Name    string `json:"name,omitempty"`
	About   string `json:"about,omitempty"`
	Picture string `json:"picture,omitempty"`
	Nip05   string `json:"nip05,omitempty"`
	LUD16   string `json:"lud16,omitempty"`
}

// FetchProfile collects kind-0 events authored by pubkey from the merged
// relay stream for a fixed window and returns the most recent one.
func FetchProfile(ctx context.Context, pool *relay.Pool, pubkey identity.PubKey) (*Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultProfileCollectionWindow)
	defer cancel()

	stream := pool.Subscribe()
	var latest *nostrevent.Event

	for {
		select {
		case <-ctx.Done():
			if latest == nil {
				return nil, fmt.Errorf("no profile metadata received for %s", pubkey)
			}
			var p Profile
			if err := json.Unmarshal(latest.Content, &p); err != nil {
				return nil, fmt.Errorf("parsing profile content: %w", err)
			}
			return &p, nil
		case ev := <-stream:
			if ev.Kind != nostrevent.KindProfileMetadata || ev.Author != pubkey {
				continue
			}
			if latest == nil || ev.CreatedAt > latest.CreatedAt {
				latest = ev
			}
		}
	}
}

// nip05Document is the shape of a NIP-05 .well-known/nostr.json document.
type nip05Document struct {
	Names map[string]string `json:"names"`
}

// LookupNip05 resolves a "name@domain" identifier to a public key by
// fetching https://domain/.well-known/nostr.json?name=name (spec.md §4.5
// Nip05Lookup).
func LookupNip05(ctx context.Context, identifier string) (identity.PubKey, error) {
	name, domain, ok := strings.Cut(identifier, "@")
	if !ok || name == "" || domain == "" {
		return identity.PubKey{}, fmt.Errorf("invalid nip-05 identifier: %q", identifier)
	}

	url := fmt.Sprintf("https://%s/.well-known/nostr.json?name=%s", domain, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return identity.PubKey{}, fmt.Errorf("building nip-05 request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return identity.PubKey{}, fmt.Errorf("fetching nip-05 document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return identity.PubKey{}, fmt.Errorf("nip-05 lookup for %s returned status %d", identifier, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return identity.PubKey{}, fmt.Errorf("reading nip-05 document: %w", err)
	}

	var doc nip05Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return identity.PubKey{}, fmt.Errorf("parsing nip-05 document: %w", err)
	}

	hexKey, ok := doc.Names[name]
	if !ok {
		return identity.PubKey{}, fmt.Errorf("nip-05 document has no entry for %q", name)
	}
	return identity.ParsePubKey(hexKey)
}
