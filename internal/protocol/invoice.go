package protocol

import (
	"time"

	"github.com/nostrportal/portal/internal/conversation"
	"github.com/nostrportal/portal/internal/envelope"
	"github.com/nostrportal/portal/internal/identity"
	"github.com/nostrportal/portal/internal/nostrevent"
)

// InvoiceRequestBody asks the peer for a bolt11 invoice of a given amount,
// separate from SinglePayment because the requester here wants to pay the
// peer, not be paid (spec.md §4.5 InvoiceRequest/InvoicePay).
type InvoiceRequestBody struct {
	AmountMsats uint64 `json:"amount_msats"`
	Description string `json:"description,omitempty"`
}

// InvoiceResponseBody carries the requested invoice.
type InvoiceResponseBody struct {
	Invoice string `json:"invoice"`
}

// InvoiceRequestConversation asks the peer to produce an invoice and
// completes once it arrives.
type InvoiceRequestConversation struct {
	Peer     identity.PubKey
	Request  InvoiceRequestBody
	deadline time.Time
	token    string
}

func NewInvoiceRequest(peer identity.PubKey, req InvoiceRequestBody, timeout time.Duration) *InvoiceRequestConversation {
	return &InvoiceRequestConversation{Peer: peer, Request: req, deadline: time.Now().Add(timeout)}
}

func (c *InvoiceRequestConversation) Deadline() time.Time { return c.deadline }

func (c *InvoiceRequestConversation) Init() []conversation.Effect {
	token, err := NewHandshakeToken()
	if err != nil {
		return []conversation.Effect{{Kind: conversation.EffectCompleteErr, Err: err}}
	}
	env, err := envelope.New(envelope.SubkindInvoiceRequest, token, c.Request)
	if err != nil {
		return []conversation.Effect{{Kind: conversation.EffectCompleteErr, Err: err}}
	}
	c.token = token
	return []conversation.Effect{
		{Kind: conversation.EffectPublishEnvelope, Recipient: c.Peer, Envelope: env, EventKind: nostrevent.KindInvoiceRequest},
		registerReplyListener(nostrevent.KindInvoiceRequest, token),
	}
}

func (c *InvoiceRequestConversation) OnMessage(msg conversation.Message) []conversation.Effect {
	if msg.Kind == conversation.MsgCancel {
		return []conversation.Effect{{Kind: conversation.EffectCompleteErr, Err: conversation.ErrTimedOut}}
	}
	if msg.Kind != conversation.MsgEvent || msg.Event.Envelope.Subkind != envelope.SubkindInvoiceResponse {
		return nil
	}
	var body InvoiceResponseBody
	if err := msg.Event.Envelope.DecodeBody(&body); err != nil {
		return []conversation.Effect{{Kind: conversation.EffectCompleteErr, Err: err}}
	}
	return []conversation.Effect{{Kind: conversation.EffectCompleteOk, Result: body}}
}

// InvoicePayBody asks the peer to pay a specific, already-built invoice
// (spec.md §4.5.5), as opposed to InvoiceRequest which asks the peer to
// produce one. The status machine that follows is identical to
// SinglePayment's.
type InvoicePayBody struct {
	Invoice     string `json:"invoice"`
	Description string `json:"description,omitempty"`
}

// InvoicePayConversation asks the peer to pay Invoice and drives the same
// Sent -> UserApproved -> UserSucceeded -> Paid{preimage} state machine
// (or UserRejected/UserFailed/TimedOut/Error) as SinglePaymentConversation,
// forwarding every intermediate status as a streaming notification.
type InvoicePayConversation struct {
	Peer    identity.PubKey
	Request InvoicePayBody
	State   PaymentState

	deadline time.Time
	token    string
}

func NewInvoicePay(peer identity.PubKey, req InvoicePayBody, timeout time.Duration) *InvoicePayConversation {
	return &InvoicePayConversation{Peer: peer, Request: req, State: PaymentSent, deadline: time.Now().Add(timeout)}
}

func (c *InvoicePayConversation) Deadline() time.Time { return c.deadline }

func (c *InvoicePayConversation) Init() []conversation.Effect {
	token, err := NewHandshakeToken()
	if err != nil {
		return []conversation.Effect{{Kind: conversation.EffectCompleteErr, Err: err}}
	}
	env, err := envelope.New(envelope.SubkindInvoicePay, token, c.Request)
	if err != nil {
		return []conversation.Effect{{Kind: conversation.EffectCompleteErr, Err: err}}
	}
	c.token = token
	return []conversation.Effect{
		{Kind: conversation.EffectPublishEnvelope, Recipient: c.Peer, Envelope: env, EventKind: nostrevent.KindInvoicePay},
		registerReplyListener(nostrevent.KindInvoicePay, token),
	}
}

func (c *InvoicePayConversation) OnMessage(msg conversation.Message) []conversation.Effect {
	if msg.Kind == conversation.MsgCancel {
		return []conversation.Effect{{Kind: conversation.EffectCompleteErr, Err: conversation.ErrTimedOut}}
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

func (c *InvoicePayConversation) statusUpdate() SinglePaymentStatusBody {
	return SinglePaymentStatusBody{State: string(c.State), Invoice: c.Request.Invoice}
}
