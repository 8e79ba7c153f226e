// Package conversation runs the cooperative conversation state machines
// that make up the protocol layer (spec.md §2.1, §4.4): each conversation
// is pinned to one worker for its entire lifetime, consumes a bounded inbox
// of typed messages, and emits effects (publish, notify, complete) rather
// than performing I/O itself.
package conversation

import (
	"time"

	"github.com/nostrportal/portal/internal/envelope"
	"github.com/nostrportal/portal/internal/router"
)

// Message is the sum type a conversation's OnMessage receives (spec.md §4.4).
type Message struct {
	Kind MessageKind

	Event      *router.Routed // Kind == MsgEvent
	FiredAt     time.Time      // Kind == MsgTimer
	ClientIntent interface{}   // Kind == MsgClientIntent
}

// MessageKind discriminates a Message.
type MessageKind int

const (
	MsgEvent MessageKind = iota
	MsgTimer
	MsgClientIntent
	MsgCancel
)

// Effect is emitted by a conversation in response to a Message. A
// conversation may emit any number of effects per message, in order.
type Effect struct {
	Kind EffectKind

	Recipient interface{}       // PublishEnvelope: identity.PubKey
	Envelope  *envelope.Envelope // PublishEnvelope
	EventKind uint16             // PublishEnvelope, RegisterListener: event kind to publish/listen on

	ListenerID string // RegisterListener: id passed to router.RegisterListener, for later removal

	// ListenerMatch, when non-empty, restricts this listener to envelopes
	// whose CorrelationID equals it — so two concurrently live listeners on
	// the same EventKind (e.g. two key handshakes, two single payments) each
	// only see the replies addressed to them, instead of the oldest one
	// claiming every matching-kind event. Empty means "match any envelope
	// of this kind regardless of correlation", for a true catch-all standing
	// listener (spec.md §4.5 ListenClosedRecurring).
	ListenerMatch string

	Notification interface{} // EmitNotification: arbitrary client-facing payload

	Result interface{} // CompleteOk: arbitrary result payload
	Err    error        // CompleteErr
}

// EffectKind discriminates an Effect.
type EffectKind int

const (
	EffectPublishEnvelope EffectKind = iota
	EffectEmitNotification
	EffectCompleteOk
	EffectCompleteErr
	// EffectRegisterListener installs (or, if already installed, replaces)
	// this conversation's standing listener on EventKind, keyed for
	// unregistration by ListenerID and filtered by ListenerMatch. Used both
	// by conversations waiting for an unsolicited event (spec.md §4.5.1
	// KeyHandshake, §4.5 ListenClosedRecurring) and by ordinary
	// request/response conversations (SinglePayment, RecurringPayment,
	// InvoiceRequest/Pay, Cashu...), which register a ListenerMatch equal to
	// the correlation id they stamped on their own outbound envelope so the
	// peer's reply routes back to them specifically.
	EffectRegisterListener
)

// Conversation is one protocol state machine instance (spec.md §3
// Conversation, §4.4). Implementations must be single-threaded: the
// runtime guarantees OnMessage is never called concurrently for the same
// instance.
type Conversation interface {
	// Init returns the effects to emit immediately upon creation, before
	// any message arrives (e.g. sending the first envelope of a handshake).
	Init() []Effect

	// OnMessage advances the state machine and returns effects to emit.
	// A CompleteOk/CompleteErr effect marks the conversation finished; the
	// runtime tears it down after emitting it.
	OnMessage(msg Message) []Effect

	// Deadline is the wall-clock time after which the runtime forces a
	// TimedOut completion if the conversation hasn't finished on its own.
	Deadline() time.Time
}

// TimedOutEffect is the effect the runtime synthesizes when a
// conversation's deadline (plus grace period) passes without a natural
// completion (spec.md §4.4).
func TimedOutEffect() Effect {
	return Effect{Kind: EffectCompleteErr, Err: ErrTimedOut}
}

// ErrTimedOut marks a conversation forced to completion past its deadline.
var ErrTimedOut = timeoutError{}

type timeoutError struct{}

func (timeoutError) Error() string { return "conversation timed out" }
