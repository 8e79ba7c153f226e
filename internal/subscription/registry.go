// Package subscription implements the Subscription Registry (spec.md
// §4.7): it turns client commands into conversation spawns, assigns each a
// subscription id, and fans conversation notifications and completions
// back out to the owning client's outbound queue.
package subscription

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/nostrportal/portal/internal/conversation"
)

// DefaultQueueDepth bounds a subscription's outbound notification queue
// (spec.md §4.7). When full, the oldest queued notification is dropped to
// make room for the newest rather than blocking; the drop is counted and
// logged, but no Dropped notification is put into the client's stream.
const DefaultQueueDepth = 32

// Notification is one message destined for a client over its subscription.
// Exactly one of Data, Dropped, or (Err set) is meaningful.
type Notification struct {
	SubscriptionID string
	Data           interface{}
	Dropped        int
	Done           bool
	Err            error
}

// Registry tracks every live subscription and which client owns it.
type Registry struct {
	runtime *conversation.Runtime
	logger  *log.Logger

	mu         sync.Mutex
	subs       map[string]*sub
	clientSubs map[string]map[string]struct{}
	clientAuthenticated map[string]bool

	staticToken string
}

type sub struct {
	id            string
	clientID      string
	conversationID string
	outbound      chan Notification
	queued        []Notification
	dropped       int
}

// New constructs a Registry backed by runtime, gating the first command
// from each client on staticToken (spec.md §4.7, §6).
func New(runtime *conversation.Runtime, staticToken string, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.Default()
	}
	r := &Registry{
		runtime:     runtime,
		logger:      logger,
		subs:        make(map[string]*sub),
		clientSubs:  make(map[string]map[string]struct{}),
		clientAuthenticated: make(map[string]bool),
		staticToken: staticToken,
	}
	runtime.OnCompletion(r.handleCompletion)
	runtime.OnNotification(r.handleNotification)
	return r
}

// ErrClientFault marks a protocol violation by the client (bad first
// command, auth mismatch) rather than a server-side failure.
type ErrClientFault struct{ Reason string }

func (e ErrClientFault) Error() string { return e.Reason }

// Authenticate marks clientID as having presented the static token. Must
// be the first command processed for any client (spec.md §4.7).
func (r *Registry) Authenticate(clientID, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if token != r.staticToken {
		return ErrClientFault{Reason: "invalid auth token"}
	}
	r.clientAuthenticated[clientID] = true
	return nil
}

// RequireAuthenticated returns ErrClientFault if clientID has not yet
// authenticated (spec.md §4.7: commands before Auth are rejected).
func (r *Registry) RequireAuthenticated(clientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.clientAuthenticated[clientID] {
		return ErrClientFault{Reason: "auth required before any other command"}
	}
	return nil
}

// Spawn allocates a subscription id, spawns conv under it, and registers
// it as owned by clientID.
func (r *Registry) Spawn(ctx context.Context, clientID string, conv conversation.Conversation) (string, error) {
	convID, err := r.runtime.Spawn(ctx, conv)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	s := &sub{id: convID, clientID: clientID, conversationID: convID, outbound: make(chan Notification, DefaultQueueDepth)}
	r.subs[convID] = s
	if r.clientSubs[clientID] == nil {
		r.clientSubs[clientID] = make(map[string]struct{})
	}
	r.clientSubs[clientID][convID] = struct{}{}
	return convID, nil
}

// Outbound returns the channel of notifications for subscriptionID.
func (r *Registry) Outbound(subscriptionID string) (<-chan Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[subscriptionID]
	if !ok {
		return nil, false
	}
	return s.outbound, true
}

// Deliver forwards a client-originated intent to the conversation behind
// subscriptionID.
func (r *Registry) Deliver(subscriptionID string, intent interface{}) error {
	if !r.runtime.Deliver(subscriptionID, intent) {
		return fmt.Errorf("no such subscription: %s", subscriptionID)
	}
	return nil
}

func (r *Registry) handleNotification(conversationID string, payload interface{}) {
	r.enqueue(conversationID, Notification{SubscriptionID: conversationID, Data: payload})
}

func (r *Registry) handleCompletion(conversationID string, eff conversation.Effect) {
	n := Notification{SubscriptionID: conversationID, Done: true}
	if eff.Kind == conversation.EffectCompleteOk {
		n.Data = eff.Result
	} else {
		n.Err = eff.Err
	}
	r.enqueue(conversationID, n)
	r.teardown(conversationID)
}

// enqueue delivers n, dropping the oldest queued notification and
// incrementing a coalescing drop count if the subscription's queue is full
// (spec.md §4.7).
func (r *Registry) enqueue(conversationID string, n Notification) {
	r.mu.Lock()
	s, ok := r.subs[conversationID]
	r.mu.Unlock()
	if !ok {
		return
	}

	select {
	case s.outbound <- n:
		return
	default:
	}

	select {
	case dropped := <-s.outbound:
		_ = dropped
		r.mu.Lock()
		s.dropped++
		d := s.dropped
		r.mu.Unlock()
		select {
		case s.outbound <- n:
		default:
			r.logger.Printf("[subscription] %s: outbound queue still full after eviction", conversationID)
		}
		r.logger.Printf("[subscription] %s: dropped %d notifications to stay within queue depth", conversationID, d)
	default:
	}
}

func (r *Registry) teardown(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[conversationID]
	if !ok {
		return
	}
	delete(r.subs, conversationID)
	if set, ok := r.clientSubs[s.clientID]; ok {
		delete(set, conversationID)
	}
}

// Disconnect cancels every conversation owned by clientID (spec.md §4.7:
// client disconnect cancels all owned conversations).
func (r *Registry) Disconnect(clientID string) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.clientSubs[clientID]))
	for id := range r.clientSubs[clientID] {
		ids = append(ids, id)
	}
	delete(r.clientSubs, clientID)
	delete(r.clientAuthenticated, clientID)
	r.mu.Unlock()

	for _, id := range ids {
		r.runtime.Cancel(id)
	}
}
