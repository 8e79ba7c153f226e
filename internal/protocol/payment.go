package protocol

import (
	"time"

	"github.com/nostrportal/portal/internal/conversation"
	"github.com/nostrportal/portal/internal/envelope"
	"github.com/nostrportal/portal/internal/identity"
	"github.com/nostrportal/portal/internal/nostrevent"
)

// Mode distinguishes the two entry points into a single payment
// conversation (spec.md §6 Open Questions: RequestSinglePayment vs.
// RequestPaymentRaw collapse into one state machine keyed by Mode).
type Mode string

const (
	// ModeRequestAmount asks the peer's wallet for a bare amount; the
	// peer's own wallet produces the invoice.
	ModeRequestAmount Mode = "request_amount"
	// ModeRequestInvoice supplies a pre-built invoice for the peer to pay
	// as-is (RequestPaymentRaw).
	ModeRequestInvoice Mode = "request_invoice"
)

// PaymentState is the single payment conversation's state enum (spec.md
// §4.5).
type PaymentState string

const (
	PaymentSent          PaymentState = "sent"
	PaymentUserApproved  PaymentState = "user_approved"
	PaymentUserRejected  PaymentState = "user_rejected"
	PaymentUserSucceeded PaymentState = "user_succeeded"
	PaymentUserFailed    PaymentState = "user_failed"
	PaymentPaid          PaymentState = "paid"
	PaymentTimedOut      PaymentState = "timed_out"
	PaymentError         PaymentState = "error"
)

// SinglePaymentRequestBody is the outbound request (spec.md §3
// SinglePayment).
type SinglePaymentRequestBody struct {
	Mode        Mode   `json:"mode"`
	AmountMsats uint64 `json:"amount_msats,omitempty"`
	Invoice     string `json:"invoice,omitempty"`
	Description string `json:"description,omitempty"`
}

// SinglePaymentStatusBody carries every state transition the peer reports
// back (user_approved/rejected/succeeded/failed, paid).
type SinglePaymentStatusBody struct {
	State   string `json:"state"`
	Invoice string `json:"invoice,omitempty"`
	Preimage string `json:"preimage,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// SinglePaymentConversation drives a single payment request through to a
// terminal state, forwarding every intermediate status to the owning
// client as a streaming notification.
type SinglePaymentConversation struct {
	Peer    identity.PubKey
	Request SinglePaymentRequestBody
	State   PaymentState

	deadline time.Time
	token    string
}

// NewSinglePayment constructs a single-payment conversation.
func NewSinglePayment(peer identity.PubKey, req SinglePaymentRequestBody, timeout time.Duration) *SinglePaymentConversation {
	return &SinglePaymentConversation{
		Peer:     peer,
		Request:  req,
		State:    PaymentSent,
		deadline: time.Now().Add(timeout),
	}
}

func (c *SinglePaymentConversation) Deadline() time.Time { return c.deadline }

func (c *SinglePaymentConversation) Init() []conversation.Effect {
	token, err := NewHandshakeToken()
	if err != nil {
		return []conversation.Effect{{Kind: conversation.EffectCompleteErr, Err: err}}
	}
	env, err := envelope.New(envelope.SubkindSinglePayment, token, c.Request)
	if err != nil {
		return []conversation.Effect{{Kind: conversation.EffectCompleteErr, Err: err}}
	}
	c.token = token
	return []conversation.Effect{
		{Kind: conversation.EffectPublishEnvelope, Recipient: c.Peer, Envelope: env, EventKind: nostrevent.KindSinglePayment},
		registerReplyListener(nostrevent.KindSinglePayment, token),
	}
}

func (c *SinglePaymentConversation) OnMessage(msg conversation.Message) []conversation.Effect {
	if msg.Kind == conversation.MsgCancel {
		env, err := envelope.New(envelope.SubkindCancel, c.token, nil)
		effects := []conversation.Effect{{Kind: conversation.EffectCompleteErr, Err: conversation.ErrTimedOut}}
		if err == nil {
			effects = append([]conversation.Effect{{
				Kind: conversation.EffectPublishEnvelope, Recipient: c.Peer, Envelope: env, EventKind: nostrevent.KindSinglePayment,
			}}, effects...)
		}
		return effects
	}
	if msg.Kind != conversation.MsgEvent {
		return nil
	}

	switch msg.Event.Envelope.Subkind {
	case envelope.SubkindUserApproved:
		c.State = PaymentUserApproved
		return []conversation.Effect{{Kind: conversation.EffectEmitNotification, Notification: c.statusUpdate()}}
	case envelope.SubkindUserRejected:
		c.State = PaymentUserRejected
		var body SinglePaymentStatusBody
		_ = msg.Event.Envelope.DecodeBody(&body)
		body.State = string(c.State)
		return []conversation.Effect{
			{Kind: conversation.EffectEmitNotification, Notification: body},
			{Kind: conversation.EffectCompleteErr, Err: withReason(errUserRejected, body.Reason)},
		}
	case envelope.SubkindUserFailed:
		c.State = PaymentUserFailed
		var body SinglePaymentStatusBody
		_ = msg.Event.Envelope.DecodeBody(&body)
		body.State = string(c.State)
		return []conversation.Effect{
			{Kind: conversation.EffectEmitNotification, Notification: body},
			{Kind: conversation.EffectCompleteErr, Err: withReason(errUserFailed, body.Reason)},
		}
	case envelope.SubkindUserSucceeded:
		c.State = PaymentUserSucceeded
		return []conversation.Effect{{Kind: conversation.EffectEmitNotification, Notification: c.statusUpdate()}}
	case envelope.SubkindPaid:
		c.State = PaymentPaid
		var body SinglePaymentStatusBody
		_ = msg.Event.Envelope.DecodeBody(&body)
		return []conversation.Effect{{Kind: conversation.EffectCompleteOk, Result: body}}
	default:
		return nil
	}
}

func (c *SinglePaymentConversation) statusUpdate() SinglePaymentStatusBody {
	return SinglePaymentStatusBody{State: string(c.State)}
}
