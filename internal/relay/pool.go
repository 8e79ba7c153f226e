// Package relay owns persistent connections to a dynamic set of relay URLs
// and exposes publish(event) and a single merged, filtered inbound stream
// (spec.md §2.1, §4.1). It is the only package that imports fiatjaf.com/nostr
// directly for relay I/O; everything above this layer speaks the module's
// own nostrevent.Event type.
package relay

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"fiatjaf.com/nostr"

	"github.com/nostrportal/portal/internal/identity"
	"github.com/nostrportal/portal/internal/nostrevent"
)

const (
	// DefaultPublishTimeout bounds how long Publish waits for any relay to
	// acknowledge before failing with ErrPublishTimeout (spec.md §4.1).
	DefaultPublishTimeout = 10 * time.Second
	// DefaultDedupSize bounds the inbound event-id dedup LRU.
	DefaultDedupSize = 10000
	backoffBase      = time.Second
	backoffCap       = 60 * time.Second
)

// State is a relay connection's lifecycle state (spec.md §3 Relay).
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateBackoff      State = "backoff"
)

// ErrNoRelaysAvailable is returned by Publish when no relay is connected.
var ErrNoRelaysAvailable = fmt.Errorf("no relays available")

// ErrPublishTimeout is returned by Publish when no relay acknowledges
// within the timeout.
var ErrPublishTimeout = fmt.Errorf("publish timed out")

// connection tracks one relay's connection lifecycle. It is owned
// exclusively by its own I/O goroutine (single-writer), per spec.md §4.1 and
// §5 ("Relay management is strictly single-writer per-relay").
type connection struct {
	url string

	mu        sync.RWMutex
	state     State
	lastError error
	relay     *nostr.Relay

	cancel context.CancelFunc
}

func (c *connection) snapshotState() (State, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state, c.lastError
}

func (c *connection) setState(s State, err error) {
	c.mu.Lock()
	c.state = s
	c.lastError = err
	c.mu.Unlock()
}

func (c *connection) getRelay() *nostr.Relay {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.relay
}

// Pool maintains persistent connections to a dynamic set of relay URLs and
// merges their inbound events into one deduplicated stream (spec.md §2.1).
type Pool struct {
	keypair *identity.Keypair
	logger  *log.Logger

	mu    sync.RWMutex
	conns map[string]*connection

	dedup *dedupLRU

	subMu     sync.Mutex
	listeners []chan *nostrevent.Event

	rootCtx context.Context
	cancel  context.CancelFunc
}

// New creates an empty pool. Relays are added with Add.
func New(ctx context.Context, keypair *identity.Keypair, logger *log.Logger) *Pool {
	if logger == nil {
		logger = log.Default()
	}
	rootCtx, cancel := context.WithCancel(ctx)
	return &Pool{
		keypair: keypair,
		logger:  logger,
		conns:   make(map[string]*connection),
		dedup:   newDedupLRU(DefaultDedupSize),
		rootCtx: rootCtx,
		cancel:  cancel,
	}
}

// Add connects to url and begins forwarding its events into the merged
// stream. Effective immediately (spec.md §4.1).
func (p *Pool) Add(url string) {
	p.mu.Lock()
	if _, exists := p.conns[url]; exists {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(p.rootCtx)
	c := &connection{url: url, state: StateDisconnected, cancel: cancel}
	p.conns[url] = c
	p.mu.Unlock()

	go p.runConnection(ctx, c)
}

// Remove disconnects from url; in-flight subscriptions on it terminate
// cleanly (spec.md §4.1).
func (p *Pool) Remove(url string) {
	p.mu.Lock()
	c, ok := p.conns[url]
	if ok {
		delete(p.conns, url)
	}
	p.mu.Unlock()
	if !ok {
		return
	}
	c.cancel()
	if r := c.getRelay(); r != nil {
		r.Close()
	}
}

// runConnection owns one relay's entire lifecycle: connect, subscribe to
// the wildcard filter, forward events, reconnect with exponential backoff
// on disconnect (spec.md §4.1: base 1s, cap 60s, jitter +/-20%).
func (p *Pool) runConnection(ctx context.Context, c *connection) {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.setState(StateConnecting, nil)
		r, err := nostr.RelayConnect(ctx, c.url, nostr.RelayOptions{})
		if err != nil {
			c.setState(StateBackoff, err)
			p.logger.Printf("[relay] connect %s failed: %v", c.url, err)
			if !p.sleepBackoff(ctx, attempt) {
				return
			}
			attempt++
			continue
		}

		c.mu.Lock()
		c.relay = r
		c.mu.Unlock()
		c.setState(StateConnected, nil)
		attempt = 0
		p.logger.Printf("[relay] connected %s", c.url)

		p.forwardUntilDisconnect(ctx, c, r)

		c.setState(StateBackoff, fmt.Errorf("disconnected"))
		if !p.sleepBackoff(ctx, attempt) {
			return
		}
		attempt++
	}
}

// forwardUntilDisconnect subscribes to everything on r and forwards events
// into the merged stream until the connection drops or ctx is canceled.
func (p *Pool) forwardUntilDisconnect(ctx context.Context, c *connection, r *nostr.Relay) {
	sub, err := r.Subscribe(ctx, nostr.Filter{}, nostr.SubscriptionOptions{})
	if err != nil {
		p.logger.Printf("[relay] subscribe %s failed: %v", c.url, err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			e := fromWire(&ev)
			if p.dedup.seenOrAdd(e.ID) {
				continue
			}
			p.fanOut(e)
		}
	}
}

func (p *Pool) fanOut(e *nostrevent.Event) {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	for _, ch := range p.listeners {
		select {
		case ch <- e:
		default:
			p.logger.Printf("[relay] merged stream subscriber is slow, dropping event %x", e.ID[:4])
		}
	}
}

func (p *Pool) sleepBackoff(ctx context.Context, attempt int) bool {
	d := backoffBase << attempt
	if d > backoffCap || d <= 0 {
		d = backoffCap
	}
	jitter := time.Duration(float64(d) * (rand.Float64()*0.4 - 0.2))
	d += jitter
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// Subscribe returns a lazy, merged, infinite stream of inbound events from
// every connected relay, deduplicated by event id (spec.md §4.1). Filtering
// beyond dedup is the caller's (router's) responsibility, since the pool
// merges all relays into a single stream regardless of topic.
func (p *Pool) Subscribe() <-chan *nostrevent.Event {
	ch := make(chan *nostrevent.Event, 256)
	p.subMu.Lock()
	p.listeners = append(p.listeners, ch)
	p.subMu.Unlock()
	return ch
}

// Publish fans the event out to every connected relay in parallel and
// resolves as soon as the first one acknowledges (spec.md §4.1).
func (p *Pool) Publish(ctx context.Context, e *nostrevent.Event) error {
	p.mu.RLock()
	var relays []*nostr.Relay
	for _, c := range p.conns {
		if r := c.getRelay(); r != nil {
			if st, _ := c.snapshotState(); st == StateConnected {
				relays = append(relays, r)
			}
		}
	}
	p.mu.RUnlock()

	if len(relays) == 0 {
		return ErrNoRelaysAvailable
	}

	wireEvent, err := toWire(p.keypair, e)
	if err != nil {
		return fmt.Errorf("converting event for wire: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultPublishTimeout)
	defer cancel()

	type result struct{ err error }
	results := make(chan result, len(relays))
	for _, r := range relays {
		go func(r *nostr.Relay) {
			results <- result{err: r.Publish(ctx, *wireEvent)}
		}(r)
	}

	var lastErr error
	for i := 0; i < len(relays); i++ {
		select {
		case res := <-results:
			if res.err == nil {
				return nil
			}
			lastErr = res.err
		case <-ctx.Done():
			return ErrPublishTimeout
		}
	}
	if lastErr != nil {
		return fmt.Errorf("all relays rejected publish: %w", lastErr)
	}
	return ErrPublishTimeout
}

// Snapshot reports the current state of every configured relay, for health
// endpoints and the TUI dashboard.
type Snapshot struct {
	URL   string
	State State
	Error string
}

func (p *Pool) Snapshot() []Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Snapshot, 0, len(p.conns))
	for url, c := range p.conns {
		st, err := c.snapshotState()
		s := Snapshot{URL: url, State: st}
		if err != nil {
			s.Error = err.Error()
		}
		out = append(out, s)
	}
	return out
}

// Close disconnects from all relays.
func (p *Pool) Close() {
	p.cancel()
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.conns {
		if r := c.getRelay(); r != nil {
			r.Close()
		}
	}
}
