package protocol

import (
	"time"

	"github.com/nostrportal/portal/internal/conversation"
	"github.com/nostrportal/portal/internal/envelope"
	"github.com/nostrportal/portal/internal/identity"
	"github.com/nostrportal/portal/internal/nostrevent"
)

// RecurrenceUnit names a calendar recurrence granularity (spec.md §3
// RecurringPayment calendars).
type RecurrenceUnit string

const (
	RecurrenceMinutely     RecurrenceUnit = "minutely"
	RecurrenceHourly       RecurrenceUnit = "hourly"
	RecurrenceDaily        RecurrenceUnit = "daily"
	RecurrenceWeekly       RecurrenceUnit = "weekly"
	RecurrenceMonthly      RecurrenceUnit = "monthly"
	RecurrenceQuarterly    RecurrenceUnit = "quarterly"
	RecurrenceSemiannually RecurrenceUnit = "semiannually"
	RecurrenceYearly       RecurrenceUnit = "yearly"
)

// NextOccurrence advances t by one period of unit, clamping civil-month
// increments to the shorter month's length (and Feb 29 on a non-leap year
// down to Feb 28), per spec.md's recurrence calendar edge cases.
func NextOccurrence(t time.Time, unit RecurrenceUnit) time.Time {
	switch unit {
	case RecurrenceMinutely:
		return t.Add(time.Minute)
	case RecurrenceHourly:
		return t.Add(time.Hour)
	case RecurrenceDaily:
		return t.AddDate(0, 0, 1)
	case RecurrenceWeekly:
		return t.AddDate(0, 0, 7)
	case RecurrenceMonthly:
		return addMonthsClamped(t, 1)
	case RecurrenceQuarterly:
		return addMonthsClamped(t, 3)
	case RecurrenceSemiannually:
		return addMonthsClamped(t, 6)
	case RecurrenceYearly:
		return addMonthsClamped(t, 12)
	default:
		return t
	}
}

// addMonthsClamped adds n months to t, clamping the result's day-of-month
// to the target month's last day rather than overflowing into the month
// after (time.AddDate's default behavior). E.g. Jan 31 + 1 month -> Feb 28
// (or 29), not Mar 3.
func addMonthsClamped(t time.Time, n int) time.Time {
	year, month, day := t.Date()
	target := time.Date(year, month+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	lastDay := daysInMonth(target.Year(), target.Month())
	if day > lastDay {
		day = lastDay
	}
	return time.Date(target.Year(), target.Month(), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysInMonth(year int, month time.Month) int {
	firstOfNext := time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC)
	lastOfThis := firstOfNext.AddDate(0, 0, -1)
	return lastOfThis.Day()
}

// RecurringPaymentRequestBody requests standing authorization to charge
// recurring amounts on a calendar.
type RecurringPaymentRequestBody struct {
	AmountMsats uint64         `json:"amount_msats"`
	Unit        RecurrenceUnit `json:"recurrence"`
	Description string         `json:"description,omitempty"`
	FirstChargeAt int64        `json:"first_charge_at,omitempty"`
}

// RecurringPaymentResponseBody is the peer's authorization response. Per
// spec.md §6, the peer may only authorize an amount less than or equal to
// what was requested, never more.
type RecurringPaymentResponseBody struct {
	Accepted         bool   `json:"accepted"`
	AuthorizedAmount uint64 `json:"authorized_amount,omitempty"`
	SubscriptionID   string `json:"subscription_id,omitempty"`
	Reason           string `json:"reason,omitempty"`
}

// RecurringPaymentConversation negotiates a standing authorization (the
// conversation completes as soon as the
// authorization response arrives; subsequent per-period charges are
// separate SinglePayment conversations driven by the caller's scheduler).
type RecurringPaymentConversation struct {
	Peer     identity.PubKey
	Request  RecurringPaymentRequestBody
	deadline time.Time
	token    string
}

func NewRecurringPayment(peer identity.PubKey, req RecurringPaymentRequestBody, timeout time.Duration) *RecurringPaymentConversation {
	return &RecurringPaymentConversation{Peer: peer, Request: req, deadline: time.Now().Add(timeout)}
}

func (c *RecurringPaymentConversation) Deadline() time.Time { return c.deadline }

func (c *RecurringPaymentConversation) Init() []conversation.Effect {
	token, err := NewHandshakeToken()
	if err != nil {
		return []conversation.Effect{{Kind: conversation.EffectCompleteErr, Err: err}}
	}
	env, err := envelope.New(envelope.SubkindRecurringRequest, token, c.Request)
	if err != nil {
		return []conversation.Effect{{Kind: conversation.EffectCompleteErr, Err: err}}
	}
	c.token = token
	return []conversation.Effect{
		{Kind: conversation.EffectPublishEnvelope, Recipient: c.Peer, Envelope: env, EventKind: nostrevent.KindRecurringPayment},
		registerReplyListener(nostrevent.KindRecurringPayment, token),
	}
}

func (c *RecurringPaymentConversation) OnMessage(msg conversation.Message) []conversation.Effect {
	if msg.Kind == conversation.MsgCancel {
		return []conversation.Effect{{Kind: conversation.EffectCompleteErr, Err: conversation.ErrTimedOut}}
	}
	if msg.Kind != conversation.MsgEvent || msg.Event.Envelope.Subkind != envelope.SubkindRecurringResp {
		return nil
	}
	var body RecurringPaymentResponseBody
	if err := msg.Event.Envelope.DecodeBody(&body); err != nil {
		return []conversation.Effect{{Kind: conversation.EffectCompleteErr, Err: err}}
	}
	if !body.Accepted {
		return []conversation.Effect{{Kind: conversation.EffectCompleteErr, Err: errUserRejected}}
	}
	if body.AuthorizedAmount > c.Request.AmountMsats {
		return []conversation.Effect{{Kind: conversation.EffectCompleteErr, Err: errAuthorizedAmountTooHigh}}
	}
	return []conversation.Effect{{Kind: conversation.EffectCompleteOk, Result: body}}
}

// CloseBody identifies which standing authorization the sender is
// canceling.
type CloseBody struct {
	SubscriptionID string `json:"subscription_id"`
}

// CloseRecurringPaymentConversation tells the peer a previously authorized
// recurring payment is canceled and waits for its acknowledgment.
type CloseRecurringPaymentConversation struct {
	Peer           identity.PubKey
	SubscriptionID string
	deadline       time.Time
	token          string
}

func NewCloseRecurringPayment(peer identity.PubKey, subscriptionID string, timeout time.Duration) *CloseRecurringPaymentConversation {
	return &CloseRecurringPaymentConversation{Peer: peer, SubscriptionID: subscriptionID, deadline: time.Now().Add(timeout)}
}

func (c *CloseRecurringPaymentConversation) Deadline() time.Time { return c.deadline }

func (c *CloseRecurringPaymentConversation) Init() []conversation.Effect {
	token, err := NewHandshakeToken()
	if err != nil {
		return []conversation.Effect{{Kind: conversation.EffectCompleteErr, Err: err}}
	}
	env, err := envelope.New(envelope.SubkindClose, token, CloseBody{SubscriptionID: c.SubscriptionID})
	if err != nil {
		return []conversation.Effect{{Kind: conversation.EffectCompleteErr, Err: err}}
	}
	c.token = token
	return []conversation.Effect{
		{Kind: conversation.EffectPublishEnvelope, Recipient: c.Peer, Envelope: env, EventKind: nostrevent.KindCloseRecurring},
		registerReplyListener(nostrevent.KindCloseRecurring, token),
	}
}

func (c *CloseRecurringPaymentConversation) OnMessage(msg conversation.Message) []conversation.Effect {
	if msg.Kind == conversation.MsgCancel {
		return []conversation.Effect{{Kind: conversation.EffectCompleteErr, Err: conversation.ErrTimedOut}}
	}
	if msg.Kind != conversation.MsgEvent || msg.Event.Envelope.Subkind != envelope.SubkindCloseAck {
		return nil
	}
	return []conversation.Effect{{Kind: conversation.EffectCompleteOk, Result: nil}}
}

// ClosedRecurringBody is what a closed_recurring envelope carries: which
// subscription was closed and, optionally, why.
type ClosedRecurringBody struct {
	SubscriptionID string `json:"subscription_id"`
	Reason         string `json:"reason,omitempty"`
}

// ClosedRecurringNotification is the client-facing payload emitted for
// each closed_recurring event the standing listener observes.
type ClosedRecurringNotification struct {
	SubscriptionID string          `json:"subscription_id"`
	ClosedBy       identity.PubKey `json:"closed_by"`
	Reason         string          `json:"reason,omitempty"`
}

// ListenClosedRecurringConversation is a standing listener (spec.md §4.5):
// it never completes on its own, only on explicit Cancel, and emits a
// notification every time a peer closes a recurring payment it didn't
// itself initiate the close for.
type ListenClosedRecurringConversation struct {
	id string
}

func NewListenClosedRecurring() *ListenClosedRecurringConversation {
	return &ListenClosedRecurringConversation{}
}

func (c *ListenClosedRecurringConversation) Deadline() time.Time { return time.Time{} }

func (c *ListenClosedRecurringConversation) Init() []conversation.Effect {
	id, err := NewHandshakeToken()
	if err != nil {
		return []conversation.Effect{{Kind: conversation.EffectCompleteErr, Err: err}}
	}
	c.id = id
	return []conversation.Effect{{
		Kind: conversation.EffectRegisterListener, EventKind: nostrevent.KindClosedRecurring, ListenerID: c.id,
		// ListenerMatch left empty: this is a catch-all listener for every
		// closed_recurring event, not a reply to a request this conversation sent.
	}}
}

func (c *ListenClosedRecurringConversation) OnMessage(msg conversation.Message) []conversation.Effect {
	if msg.Kind == conversation.MsgCancel {
		return []conversation.Effect{{Kind: conversation.EffectCompleteOk, Result: nil}}
	}
	if msg.Kind != conversation.MsgEvent || msg.Event.Envelope.Subkind != envelope.SubkindClosedRecurring {
		return nil
	}
	var body ClosedRecurringBody
	if err := msg.Event.Envelope.DecodeBody(&body); err != nil {
		return nil
	}
	notification := ClosedRecurringNotification{
		SubscriptionID: body.SubscriptionID,
		ClosedBy:       msg.Event.From,
		Reason:         body.Reason,
	}
	return []conversation.Effect{{Kind: conversation.EffectEmitNotification, Notification: notification}}
}

var errAuthorizedAmountTooHigh = errTooHigh{}

type errTooHigh struct{}

func (errTooHigh) Error() string { return "peer authorized more than was requested" }
