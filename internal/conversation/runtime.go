package conversation

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nostrportal/portal/internal/envelope"
	"github.com/nostrportal/portal/internal/identity"
	"github.com/nostrportal/portal/internal/relay"
	"github.com/nostrportal/portal/internal/router"
)

const (
	// DefaultInboxSize bounds a single conversation's message inbox
	// (spec.md §4.4).
	DefaultInboxSize = 64
	// DefaultGracePeriod extends a conversation's deadline before the
	// runtime forces a TimedOut completion, to absorb scheduling jitter.
	DefaultGracePeriod = 2 * time.Second
	// DefaultMaxConversations caps concurrently live conversations
	// (spec.md §5 resource caps).
	DefaultMaxConversations = 4096
)

// ErrCapacity is returned by Spawn when the runtime is at its concurrent
// conversation cap.
var ErrCapacity = fmt.Errorf("conversation runtime at capacity")

// CompletionHandler is invoked once, exactly when a conversation finishes,
// with its terminal effect. Typically wired to the Subscription Registry so
// it can relay the outcome to the owning client.
type CompletionHandler func(id string, effect Effect)

// NotificationHandler is invoked for every EffectEmitNotification a
// conversation produces, in order, before completion.
type NotificationHandler func(id string, payload interface{})

// Runtime schedules conversations, one worker goroutine pinned per
// conversation for its entire lifetime (spec.md §4.4, §5).
type Runtime struct {
	pool   *relay.Pool
	router *router.Router
	logger *log.Logger

	keypair *identity.Keypair

	onCompletion   CompletionHandler
	onNotification NotificationHandler

	mu        sync.Mutex
	instances map[string]*instance
	maxConv   int
}

type instance struct {
	id     string
	conv   Conversation
	inbox  chan Message
	cancel context.CancelFunc
}

// New constructs a conversation Runtime. pool and rtr are used to publish
// envelopes and clean up correlation-id registrations respectively.
func New(pool *relay.Pool, rtr *router.Router, keypair *identity.Keypair, logger *log.Logger) *Runtime {
	if logger == nil {
		logger = log.Default()
	}
	return &Runtime{
		pool:      pool,
		router:    rtr,
		logger:    logger,
		keypair:   keypair,
		instances: make(map[string]*instance),
		maxConv:   DefaultMaxConversations,
	}
}

// OnCompletion registers the handler invoked when any conversation
// finishes. Only the most recently registered handler is kept.
func (rt *Runtime) OnCompletion(h CompletionHandler) { rt.onCompletion = h }

// OnNotification registers the handler invoked for streaming notifications.
func (rt *Runtime) OnNotification(h NotificationHandler) { rt.onNotification = h }

// Spawn registers conv under a new correlation id, wires its router inbox,
// runs Init, and starts its dedicated worker goroutine. It returns the
// correlation id assigned.
func (rt *Runtime) Spawn(ctx context.Context, conv Conversation) (string, error) {
	rt.mu.Lock()
	if len(rt.instances) >= rt.maxConv {
		rt.mu.Unlock()
		return "", ErrCapacity
	}
	rt.mu.Unlock()

	id := uuid.NewString()
	routerInbox, unregister := rt.router.RegisterConversation(id)

	convCtx, cancel := context.WithCancel(ctx)
	inst := &instance{
		id:     id,
		conv:   conv,
		inbox:  make(chan Message, DefaultInboxSize),
		cancel: cancel,
	}

	rt.mu.Lock()
	rt.instances[id] = inst
	rt.mu.Unlock()

	go rt.worker(convCtx, inst, routerInbox, unregister)

	return id, nil
}

// Cancel requests an orderly shutdown of the conversation identified by id.
func (rt *Runtime) Cancel(id string) {
	rt.mu.Lock()
	inst, ok := rt.instances[id]
	rt.mu.Unlock()
	if !ok {
		return
	}
	select {
	case inst.inbox <- Message{Kind: MsgCancel}:
	default:
		inst.cancel()
	}
}

// Deliver hands a client-originated intent to the conversation identified
// by id. Returns false if no such conversation is live.
func (rt *Runtime) Deliver(id string, intent interface{}) bool {
	rt.mu.Lock()
	inst, ok := rt.instances[id]
	rt.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case inst.inbox <- Message{Kind: MsgClientIntent, ClientIntent: intent}:
		return true
	default:
		rt.logger.Printf("[conversation] inbox full for %s, dropping client intent", id)
		return false
	}
}

// Count returns the number of currently live conversations.
func (rt *Runtime) Count() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return len(rt.instances)
}

// listenerRequest carries a conversation's EffectRegisterListener ask out
// of applyEffects so the worker can (re)install it in the router and swap
// the channel its select loop reads from.
type listenerRequest struct {
	kind  uint16
	id    string
	match string
}

func (rt *Runtime) worker(ctx context.Context, inst *instance, routerInbox router.Inbox, unregister func()) {
	var listenerInbox router.Listener
	unregisterListener := func() {}
	defer func() {
		unregisterListener()
		unregister()
		rt.mu.Lock()
		delete(rt.instances, inst.id)
		rt.mu.Unlock()
		inst.cancel()
	}()

	swapListener := func(req *listenerRequest) {
		if req == nil {
			return
		}
		unregisterListener()
		listenerInbox, unregisterListener = rt.router.RegisterListener(req.kind, req.id, req.match)
	}

	terminal, listenReq := rt.applyEffects(ctx, inst.id, inst.conv.Init())
	swapListener(listenReq)
	if terminal {
		return
	}

	deadline := inst.conv.Deadline()
	var timer *time.Timer
	var timerCh <-chan time.Time
	if !deadline.IsZero() {
		timer = time.NewTimer(time.Until(deadline) + DefaultGracePeriod)
		timerCh = timer.C
		defer timer.Stop()
	}

	for {
		select {
		case <-ctx.Done():
			return

		case routed, ok := <-routerInbox:
			if !ok {
				return
			}
			effects := inst.conv.OnMessage(Message{Kind: MsgEvent, Event: routed})
			terminal, listenReq := rt.applyEffects(ctx, inst.id, effects)
			swapListener(listenReq)
			if terminal {
				return
			}

		case routed, ok := <-listenerInbox:
			if !ok {
				listenerInbox = nil
				continue
			}
			effects := inst.conv.OnMessage(Message{Kind: MsgEvent, Event: routed})
			terminal, listenReq := rt.applyEffects(ctx, inst.id, effects)
			swapListener(listenReq)
			if terminal {
				return
			}

		case msg := <-inst.inbox:
			if msg.Kind == MsgCancel {
				effects := inst.conv.OnMessage(msg)
				rt.applyEffects(ctx, inst.id, effects)
				return
			}
			effects := inst.conv.OnMessage(msg)
			terminal, listenReq := rt.applyEffects(ctx, inst.id, effects)
			swapListener(listenReq)
			if terminal {
				return
			}

		case <-timerCh:
			rt.logger.Printf("[conversation] %s timed out", inst.id)
			rt.applyEffects(ctx, inst.id, []Effect{TimedOutEffect()})
			return
		}
	}
}

// applyEffects processes effects in order, publishing envelopes, forwarding
// notifications, and invoking the completion handler. It returns true if a
// terminal effect (CompleteOk/CompleteErr) was among them, plus the last
// RegisterListener request seen, if any.
func (rt *Runtime) applyEffects(ctx context.Context, id string, effects []Effect) (bool, *listenerRequest) {
	terminal := false
	var listenReq *listenerRequest
	for _, eff := range effects {
		switch eff.Kind {
		case EffectPublishEnvelope:
			recipient, ok := eff.Recipient.(identity.PubKey)
			if !ok {
				rt.logger.Printf("[conversation] %s: PublishEnvelope effect missing recipient", id)
				continue
			}
			ev, err := envelope.BuildEvent(rt.keypair, recipient, eff.EventKind, eff.Envelope)
			if err != nil {
				rt.logger.Printf("[conversation] %s: building envelope event failed: %v", id, err)
				continue
			}
			if err := rt.pool.Publish(ctx, ev); err != nil {
				rt.logger.Printf("[conversation] %s: publish failed: %v", id, err)
			}

		case EffectRegisterListener:
			listenReq = &listenerRequest{kind: eff.EventKind, id: eff.ListenerID, match: eff.ListenerMatch}

		case EffectEmitNotification:
			if rt.onNotification != nil {
				rt.onNotification(id, eff.Notification)
			}

		case EffectCompleteOk, EffectCompleteErr:
			terminal = true
			if rt.onCompletion != nil {
				rt.onCompletion(id, eff)
			}
		}
	}
	return terminal, listenReq
}
