package protocol

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/nostrportal/portal/internal/conversation"
)

// NewHandshakeToken generates a fresh random token (128 bits, hex-encoded):
// a key handshake's correlation token, an auth challenge's nonce (spec.md
// §4.5.1: "random, at least 128 bits, unless a caller-provided static_token
// is supplied"), or a request/response conversation's correlation id.
func NewHandshakeToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating handshake token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// registerReplyListener is the standing-listener effect every
// request/response conversation (SinglePayment, RecurringPayment,
// InvoiceRequest/Pay, Cashu...) appends to its Init(), alongside the
// PublishEnvelope effect that stamped token onto the outbound envelope's
// CorrelationID. Without it, the router has nothing to deliver the peer's
// reply to: conversations are spawned with a router inbox keyed by the
// runtime's own internal id, which never reaches the wire, so the peer has
// no correlation id to echo back unless the conversation hands it one
// itself and listens for it directly (spec.md §4.3, §4.5).
func registerReplyListener(kind uint16, token string) conversation.Effect {
	return conversation.Effect{
		Kind: conversation.EffectRegisterListener, EventKind: kind, ListenerID: token, ListenerMatch: token,
	}
}
