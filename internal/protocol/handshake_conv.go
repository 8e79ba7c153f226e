package protocol

import (
	"fmt"
	"time"

	"github.com/nostrportal/portal/internal/conversation"
	"github.com/nostrportal/portal/internal/envelope"
	"github.com/nostrportal/portal/internal/identity"
	"github.com/nostrportal/portal/internal/nostrevent"
)

// DefaultHandshakeValidity bounds a non-static key handshake URL's
// lifetime; a URL minted with a static_token never expires on its own
// (spec.md §4.5.1).
const DefaultHandshakeValidity = time.Hour

// DefaultAuthChallengeValidity is the window advertised to the peer in an
// auth_challenge's expires_at. The conversation itself doesn't track a
// separate deadline for this phase: it's inlined as a continuation of the
// handshake and runs out the handshake's own deadline (spec.md §4.5.2).
const DefaultAuthChallengeValidity = 2 * time.Minute

// KeyHandshakeResponseBody is what an unsolicited key_handshake_response
// envelope carries: the counterparty's identity and relay hints
// (spec.md §4.5.1 step 2).
type KeyHandshakeResponseBody struct {
	MainKey         identity.PubKey   `json:"main_key"`
	Subkeys         []identity.PubKey `json:"subkeys,omitempty"`
	PreferredRelays []string          `json:"preferred_relays,omitempty"`
}

// KeyHandshakeNotification is the client-facing payload emitted on every
// matching key_handshake_response (repeatedly, for a static_token URL;
// exactly once otherwise).
type KeyHandshakeNotification struct {
	Type            string          `json:"type"`
	MainKey         identity.PubKey `json:"main_key"`
	PreferredRelays []string        `json:"preferred_relays,omitempty"`
}

// AuthChallengeBody is the nonce the server sends to the discovered main
// key once a handshake response arrives and no_request wasn't set.
type AuthChallengeBody struct {
	Nonce     string          `json:"nonce"`
	Recipient identity.PubKey `json:"recipient"`
	ExpiresAt int64           `json:"expires_at"`
}

// Auth response statuses (spec.md §4.5.2).
const (
	AuthStatusApproved = "approved"
	AuthStatusDeclined = "declined"
)

// AuthResponseBody answers an auth challenge, signed and encrypted by the
// key that claims to be (or delegate for) the handshake's main key.
type AuthResponseBody struct {
	ChallengeEcho      string   `json:"challenge_echo"`
	Status             string   `json:"status"`
	GrantedPermissions []string `json:"granted_permissions,omitempty"`
	SessionToken       string   `json:"session_token,omitempty"`
	Reason             string   `json:"reason,omitempty"`
}

// AuthResult is the terminal payload of a handshake that chained into and
// completed an auth challenge.
type AuthResult struct {
	UserKey            identity.PubKey `json:"user_key"`
	Status             string          `json:"status"`
	GrantedPermissions []string        `json:"granted_permissions,omitempty"`
	SessionToken       string          `json:"session_token,omitempty"`
}

type handshakePhase int

const (
	phaseAwaitingHandshake handshakePhase = iota
	phaseAwaitingAuth
)

// KeyHandshakeConversation is the server side of spec.md §4.5.1: rather
// than addressing a known peer, it installs a standing listener for
// key_handshake_response envelopes carrying Token — the value embedded in
// the portal:// URL the client displayed out of band — and waits for an
// unsolicited reply. Unless NoRequest is set, the first matching response
// chains automatically into an inlined AuthChallenge continuation
// (spec.md §4.5.2) addressed to the discovered main key. A Static
// conversation never completes on its own and re-fires its notification
// on every distinct response, since its URL is meant to be reused.
type KeyHandshakeConversation struct {
	Token     string
	Static    bool
	NoRequest bool

	deadline time.Time

	phase   handshakePhase
	mainKey identity.PubKey
	nonce   string
}

// NewKeyHandshake constructs the conversation behind a freshly minted
// portal:// handshake URL carrying token.
func NewKeyHandshake(token string, static, noRequest bool) *KeyHandshakeConversation {
	c := &KeyHandshakeConversation{Token: token, Static: static, NoRequest: noRequest}
	if !static {
		c.deadline = time.Now().Add(DefaultHandshakeValidity)
	}
	return c
}

func (c *KeyHandshakeConversation) Deadline() time.Time { return c.deadline }

func (c *KeyHandshakeConversation) Init() []conversation.Effect {
	return []conversation.Effect{{
		Kind:          conversation.EffectRegisterListener,
		EventKind:     nostrevent.KindKeyHandshake,
		ListenerID:    c.Token,
		ListenerMatch: c.Token,
	}}
}

func (c *KeyHandshakeConversation) OnMessage(msg conversation.Message) []conversation.Effect {
	if msg.Kind == conversation.MsgCancel {
		return []conversation.Effect{{Kind: conversation.EffectCompleteErr, Err: conversation.ErrTimedOut}}
	}
	if msg.Kind != conversation.MsgEvent {
		return nil
	}
	if c.phase == phaseAwaitingAuth {
		return c.onAuthResponse(msg)
	}
	return c.onHandshakeResponse(msg)
}

func (c *KeyHandshakeConversation) onHandshakeResponse(msg conversation.Message) []conversation.Effect {
	if msg.Event.Envelope.Subkind != envelope.SubkindKeyHandshakeResp {
		return nil
	}
	if msg.Event.Envelope.CorrelationID != c.Token {
		return nil // not this handshake's token
	}

	var body KeyHandshakeResponseBody
	if err := msg.Event.Envelope.DecodeBody(&body); err != nil {
		return []conversation.Effect{{Kind: conversation.EffectCompleteErr, Err: err}}
	}

	c.mainKey = msg.Event.From
	notification := KeyHandshakeNotification{
		Type:            "key_handshake",
		MainKey:         msg.Event.From,
		PreferredRelays: body.PreferredRelays,
	}
	effects := []conversation.Effect{{Kind: conversation.EffectEmitNotification, Notification: notification}}

	if c.Static {
		// The URL is reusable: stay registered, never complete.
		return effects
	}
	if c.NoRequest {
		return append(effects, conversation.Effect{Kind: conversation.EffectCompleteOk, Result: notification})
	}

	nonce, err := NewHandshakeToken()
	if err != nil {
		return append(effects, conversation.Effect{Kind: conversation.EffectCompleteErr, Err: err})
	}
	env, err := envelope.New(envelope.SubkindAuthChallenge, nonce, AuthChallengeBody{
		Nonce:     nonce,
		Recipient: c.mainKey,
		ExpiresAt: time.Now().Add(DefaultAuthChallengeValidity).Unix(),
	})
	if err != nil {
		return append(effects, conversation.Effect{Kind: conversation.EffectCompleteErr, Err: err})
	}

	c.nonce = nonce
	c.phase = phaseAwaitingAuth

	return append(effects,
		conversation.Effect{Kind: conversation.EffectPublishEnvelope, Recipient: c.mainKey, Envelope: env, EventKind: nostrevent.KindAuthChallenge},
		conversation.Effect{Kind: conversation.EffectRegisterListener, EventKind: nostrevent.KindAuthResponse, ListenerID: nonce, ListenerMatch: nonce},
	)
}

func (c *KeyHandshakeConversation) onAuthResponse(msg conversation.Message) []conversation.Effect {
	if msg.Event.Envelope.Subkind != envelope.SubkindAuthResponse {
		return nil
	}
	if msg.Event.From != c.mainKey {
		return nil // not the key we challenged
	}

	var body AuthResponseBody
	if err := msg.Event.Envelope.DecodeBody(&body); err != nil {
		return []conversation.Effect{{Kind: conversation.EffectCompleteErr, Err: err}}
	}
	if body.ChallengeEcho != c.nonce {
		return nil // stale or mismatched response, keep waiting
	}
	if body.Status != AuthStatusApproved {
		reason := body.Reason
		if reason == "" {
			reason = "declined"
		}
		return []conversation.Effect{{Kind: conversation.EffectCompleteErr, Err: fmt.Errorf("%w: %s", errAuthDeclined, reason)}}
	}

	result := AuthResult{
		UserKey:            c.mainKey,
		Status:             AuthStatusApproved,
		GrantedPermissions: body.GrantedPermissions,
		SessionToken:       body.SessionToken,
	}
	return []conversation.Effect{{Kind: conversation.EffectCompleteOk, Result: result}}
}
