package protocol

import (
	"context"
	"time"

	"github.com/nostrportal/portal/internal/conversation"
	"github.com/nostrportal/portal/internal/envelope"
	"github.com/nostrportal/portal/internal/identity"
	"github.com/nostrportal/portal/internal/nostrevent"
)

// CashuRequestBody asks the peer to send an amount of ecash for a given
// mint (spec.md §4.5 RequestCashu). Mint and Burn, by contrast, never go
// over the wire as conversations — they are direct synchronous calls into
// the Mint Adapter (see internal/mint).
type CashuRequestBody struct {
	AmountSats uint64 `json:"amount_sats"`
	MintURL    string `json:"mint_url"`
}

// Cashu response statuses (spec.md §4.5 RequestCashu): the peer either
// hands over a token, reports it can't cover the amount, or rejects the
// request outright.
const (
	CashuStatusSuccess           = "success"
	CashuStatusInsufficientFunds = "insufficient_funds"
	CashuStatusRejected          = "rejected"
)

// CashuResponseBody carries the three-way outcome of a cashu request.
type CashuResponseBody struct {
	Status string `json:"status"`
	Token  string `json:"token,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// CashuDirectBody is an unsolicited ecash transfer (spec.md §4.5
// SendCashuDirect) — no matching request precedes it.
type CashuDirectBody struct {
	Token   string `json:"token"`
	MintURL string `json:"mint_url"`
}

// CashuRequestConversation asks the peer for ecash and completes with the
// token or an error.
type CashuRequestConversation struct {
	Peer     identity.PubKey
	Request  CashuRequestBody
	deadline time.Time
	token    string
}

func NewCashuRequest(peer identity.PubKey, req CashuRequestBody, timeout time.Duration) *CashuRequestConversation {
	return &CashuRequestConversation{Peer: peer, Request: req, deadline: time.Now().Add(timeout)}
}

func (c *CashuRequestConversation) Deadline() time.Time { return c.deadline }

func (c *CashuRequestConversation) Init() []conversation.Effect {
	token, err := NewHandshakeToken()
	if err != nil {
		return []conversation.Effect{{Kind: conversation.EffectCompleteErr, Err: err}}
	}
	env, err := envelope.New(envelope.SubkindCashuRequest, token, c.Request)
	if err != nil {
		return []conversation.Effect{{Kind: conversation.EffectCompleteErr, Err: err}}
	}
	c.token = token
	return []conversation.Effect{
		{Kind: conversation.EffectPublishEnvelope, Recipient: c.Peer, Envelope: env, EventKind: nostrevent.KindCashuRequest},
		registerReplyListener(nostrevent.KindCashuRequest, token),
	}
}

func (c *CashuRequestConversation) OnMessage(msg conversation.Message) []conversation.Effect {
	if msg.Kind == conversation.MsgCancel {
		return []conversation.Effect{{Kind: conversation.EffectCompleteErr, Err: conversation.ErrTimedOut}}
	}
	if msg.Kind != conversation.MsgEvent || msg.Event.Envelope.Subkind != envelope.SubkindCashuResponse {
		return nil
	}
	var body CashuResponseBody
	if err := msg.Event.Envelope.DecodeBody(&body); err != nil {
		return []conversation.Effect{{Kind: conversation.EffectCompleteErr, Err: err}}
	}
	switch body.Status {
	case CashuStatusSuccess:
		return []conversation.Effect{{Kind: conversation.EffectCompleteOk, Result: body}}
	case CashuStatusInsufficientFunds:
		return []conversation.Effect{{Kind: conversation.EffectCompleteErr, Err: withReason(errInsufficientFunds, body.Reason)}}
	default:
		return []conversation.Effect{{Kind: conversation.EffectCompleteErr, Err: withReason(errCashuRejected, body.Reason)}}
	}
}

// SendCashuDirectConversation pushes unsolicited ecash to a peer and waits
// for acknowledgment.
type SendCashuDirectConversation struct {
	Peer     identity.PubKey
	Body     CashuDirectBody
	deadline time.Time
	token    string
}

func NewSendCashuDirect(peer identity.PubKey, body CashuDirectBody, timeout time.Duration) *SendCashuDirectConversation {
	return &SendCashuDirectConversation{Peer: peer, Body: body, deadline: time.Now().Add(timeout)}
}

func (c *SendCashuDirectConversation) Deadline() time.Time { return c.deadline }

func (c *SendCashuDirectConversation) Init() []conversation.Effect {
	token, err := NewHandshakeToken()
	if err != nil {
		return []conversation.Effect{{Kind: conversation.EffectCompleteErr, Err: err}}
	}
	env, err := envelope.New(envelope.SubkindCashuDirect, token, c.Body)
	if err != nil {
		return []conversation.Effect{{Kind: conversation.EffectCompleteErr, Err: err}}
	}
	c.token = token
	return []conversation.Effect{
		{Kind: conversation.EffectPublishEnvelope, Recipient: c.Peer, Envelope: env, EventKind: nostrevent.KindCashuDirect},
		registerReplyListener(nostrevent.KindCashuDirect, token),
	}
}

func (c *SendCashuDirectConversation) OnMessage(msg conversation.Message) []conversation.Effect {
	if msg.Kind == conversation.MsgCancel {
		return []conversation.Effect{{Kind: conversation.EffectCompleteErr, Err: conversation.ErrTimedOut}}
	}
	if msg.Kind != conversation.MsgEvent || msg.Event.Envelope.Subkind != envelope.SubkindCashuDirectAck {
		return nil
	}
	return []conversation.Effect{{Kind: conversation.EffectCompleteOk, Result: nil}}
}

// MintAdapter is the synchronous port Cashu Mint/Burn operations call
// directly, never via a conversation (spec.md §4.5).
type MintAdapter interface {
	Mint(ctx context.Context, amountSats uint64, mintURL string) (token string, err error)
	Burn(ctx context.Context, token string) (amountSats uint64, err error)
}
