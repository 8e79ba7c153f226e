// Package router implements the single-reader Message Router (spec.md §4.3):
// it consumes the relay pool's merged event stream, resolves authorship
// through delegation proofs, decrypts envelopes, and dispatches them either
// to a conversation's inbox by correlation id or to a standing listener
// registered for an event kind.
package router

import (
	"container/list"
	"context"
	"log"
	"sync"
	"time"

	"github.com/nostrportal/portal/internal/envelope"
	"github.com/nostrportal/portal/internal/identity"
	"github.com/nostrportal/portal/internal/nostrevent"
	"github.com/nostrportal/portal/internal/relay"
)

// DefaultClockSkew is the maximum difference between an event's created_at
// and the server's clock before it is tagged SuspectTime (spec.md §4.3).
const DefaultClockSkew = 10 * time.Minute

// DefaultPerConversationDedup bounds each conversation's recent-envelope
// dedup LRU.
const DefaultPerConversationDedup = 256

// Routed is a decrypted, classified inbound message handed to a
// conversation or standing listener.
type Routed struct {
	Event      *nostrevent.Event
	Envelope   *envelope.Envelope
	From       identity.PubKey // resolved main key, after delegation
	Delegated  bool
	SuspectTime bool
}

// Inbox is the delivery target for a single conversation, keyed by
// correlation id.
type Inbox chan *Routed

// Listener is a standing delivery target for every envelope of a given
// kind that does not match a live conversation's correlation id (spec.md
// §4.5: ListenClosedRecurring and similar standing subscriptions).
type Listener chan *Routed

// Router owns the single reader of the relay pool's merged stream and
// dispatches decrypted envelopes to registered conversations or standing
// listeners (spec.md §2.1, §4.3).
type Router struct {
	pool    *relay.Pool
	keypair *identity.Keypair
	logger  *log.Logger
	clockSkew time.Duration

	peersMu sync.RWMutex
	peers   map[identity.PubKey]*identity.Peer // mainKey -> peer record

	mu          sync.Mutex
	inboxes     map[string]Inbox            // correlation_id -> conversation inbox
	listeners   map[uint16][]listenerEntry  // kind -> ordered standing listeners (oldest first)
	recentByConv map[string]*dedupLRU        // correlation_id -> recent envelope dedup

	routed    uint64
	dropped   uint64
	duplicate uint64
}

type listenerEntry struct {
	id    string
	match string // correlation id this listener claims; empty matches any
	ch    Listener
}

// New constructs a Router reading from pool and decrypting with keypair.
func New(pool *relay.Pool, keypair *identity.Keypair, logger *log.Logger) *Router {
	if logger == nil {
		logger = log.Default()
	}
	return &Router{
		pool:         pool,
		keypair:      keypair,
		logger:       logger,
		clockSkew:    DefaultClockSkew,
		peers:        make(map[identity.PubKey]*identity.Peer),
		inboxes:      make(map[string]Inbox),
		listeners:    make(map[uint16][]listenerEntry),
		recentByConv: make(map[string]*dedupLRU),
	}
}

// RegisterPeer makes a peer's delegated subkeys resolvable to its main key
// (spec.md §4.3 author resolution). Conversations that already carry a
// self-describing delegation tag on every event do not need this; it exists
// for peers whose subkeys are known out of band.
func (r *Router) RegisterPeer(p *identity.Peer) {
	r.peersMu.Lock()
	r.peers[p.MainKey] = p
	r.peersMu.Unlock()
}

// RegisterConversation installs an inbox for correlationID and returns it
// along with a function to unregister it. Delivery to an unregistered
// correlation id falls through to standing listeners, then is dropped.
func (r *Router) RegisterConversation(correlationID string) (Inbox, func()) {
	inbox := make(Inbox, 64)
	r.mu.Lock()
	r.inboxes[correlationID] = inbox
	r.recentByConv[correlationID] = newDedupLRU(DefaultPerConversationDedup)
	r.mu.Unlock()

	unregister := func() {
		r.mu.Lock()
		delete(r.inboxes, correlationID)
		delete(r.recentByConv, correlationID)
		r.mu.Unlock()
	}
	return inbox, unregister
}

// RegisterListener installs a standing listener for kind, identified by id
// so it can later be removed. match restricts delivery to envelopes whose
// CorrelationID equals it; an empty match makes this a catch-all listener
// for every envelope of kind.
// At most one listener claims a given event (spec.md §4.3, §8 Testable
// Property #6): among listeners registered for kind, dispatch picks the
// oldest whose match is either empty or equal to the envelope's
// correlation id, so a non-matching older listener falls through to the
// next rather than eating the event.
func (r *Router) RegisterListener(kind uint16, id, match string) (Listener, func()) {
	ch := make(Listener, 64)
	r.mu.Lock()
	r.listeners[kind] = append(r.listeners[kind], listenerEntry{id: id, match: match, ch: ch})
	r.mu.Unlock()

	unregister := func() {
		r.mu.Lock()
		entries := r.listeners[kind]
		for i, e := range entries {
			if e.id == id {
				r.listeners[kind] = append(entries[:i], entries[i+1:]...)
				break
			}
		}
		r.mu.Unlock()
	}
	return ch, unregister
}

// Run is the router's single-reader loop; it blocks until ctx is canceled.
func (r *Router) Run(ctx context.Context) {
	stream := r.pool.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-stream:
			if !ok {
				return
			}
			r.handle(ev)
		}
	}
}

func (r *Router) handle(ev *nostrevent.Event) {
	if !ev.VerifySignature() {
		r.logger.Printf("[router] dropping event %x: bad signature", ev.ID[:4])
		r.mu.Lock()
		r.dropped++
		r.mu.Unlock()
		return
	}

	env, err := envelope.Open(r.keypair, ev.Author, ev.Content)
	if err != nil {
		// Not every event on the wire is addressed to us; silent drop.
		return
	}

	now := time.Now()
	if env.Expired(now) {
		r.logger.Printf("[router] dropping expired envelope, correlation_id=%s", env.CorrelationID)
		r.mu.Lock()
		r.dropped++
		r.mu.Unlock()
		return
	}

	from := ev.Author
	delegated := false
	if proof, ok := ev.DelegationProofTag(); ok && proof.Verify() && proof.SubKey == ev.Author {
		from = proof.MainKey
		delegated = true
	}

	suspect := false
	eventTime := time.Unix(ev.CreatedAt, 0)
	if eventTime.Before(now.Add(-r.clockSkew)) || eventTime.After(now.Add(r.clockSkew)) {
		suspect = true
	}

	routed := &Routed{
		Event:       ev,
		Envelope:    env,
		From:        from,
		Delegated:   delegated,
		SuspectTime: suspect,
	}

	r.mu.Lock()
	if dedup, ok := r.recentByConv[env.CorrelationID]; ok {
		if dedup.seenOrAdd(ev.ID) {
			r.duplicate++
			r.mu.Unlock()
			return
		}
	}
	inbox, hasInbox := r.inboxes[env.CorrelationID]
	var match *listenerEntry
	if !hasInbox {
		for i, e := range r.listeners[ev.Kind] {
			if e.match == "" || e.match == env.CorrelationID {
				match = &r.listeners[ev.Kind][i]
				break
			}
		}
	}
	r.routed++
	r.mu.Unlock()

	if hasInbox {
		select {
		case inbox <- routed:
		default:
			r.logger.Printf("[router] conversation inbox full, correlation_id=%s, blocking", env.CorrelationID)
			inbox <- routed
		}
		return
	}

	if match == nil {
		r.mu.Lock()
		r.dropped++
		r.mu.Unlock()
		return
	}
	select {
	case match.ch <- routed:
	default:
		r.logger.Printf("[router] standing listener %s full, dropping envelope", match.id)
	}
}

// Stats reports routing counters for telemetry.
type Stats struct {
	Routed    uint64
	Dropped   uint64
	Duplicate uint64
}

func (r *Router) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{Routed: r.routed, Dropped: r.dropped, Duplicate: r.duplicate}
}

// dedupLRU mirrors relay's LRU but keyed on plain [32]byte ids for envelope
// dedup scoped to a single conversation.
type dedupLRU struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	index    map[[32]byte]*list.Element
}

func newDedupLRU(capacity int) *dedupLRU {
	return &dedupLRU{capacity: capacity, order: list.New(), index: make(map[[32]byte]*list.Element, capacity)}
}

func (d *dedupLRU) seenOrAdd(id [32]byte) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if el, ok := d.index[id]; ok {
		d.order.MoveToFront(el)
		return true
	}
	el := d.order.PushFront(id)
	d.index[id] = el
	if d.order.Len() > d.capacity {
		oldest := d.order.Back()
		if oldest != nil {
			d.order.Remove(oldest)
			delete(d.index, oldest.Value.([32]byte))
		}
	}
	return false
}
