package envelope

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nostrportal/portal/internal/identity"
	"github.com/nostrportal/portal/internal/nostrevent"
)

// Subkind enumerates the protocol messages carried inside an envelope
// (spec.md §4.2). Open maps an empty subkind to SubkindUnknown; any other
// subkind string is kept as-is, and the router neither drops nor logs an
// envelope because of its subkind.
type Subkind string

const (
	SubkindKeyHandshake     Subkind = "key_handshake"
	SubkindKeyHandshakeResp Subkind = "key_handshake_response"
	SubkindAuthChallenge    Subkind = "auth_challenge"
	SubkindAuthResponse     Subkind = "auth_response"
	SubkindSinglePayment    Subkind = "single_payment_request"
	SubkindUserApproved     Subkind = "user_approved"
	SubkindUserRejected     Subkind = "user_rejected"
	SubkindUserSucceeded    Subkind = "user_succeeded"
	SubkindUserFailed       Subkind = "user_failed"
	SubkindPaid             Subkind = "paid"
	SubkindCancel           Subkind = "cancel"
	SubkindRecurringRequest Subkind = "recurring_request"
	SubkindRecurringResp    Subkind = "recurring_response"
	SubkindClose            Subkind = "close"
	SubkindCloseAck         Subkind = "close_ack"
	SubkindClosedRecurring  Subkind = "closed_recurring"
	SubkindInvoiceRequest   Subkind = "invoice_request"
	SubkindInvoiceResponse  Subkind = "invoice_response"
	SubkindInvoicePay       Subkind = "invoice_pay"
	SubkindCashuRequest     Subkind = "cashu_request"
	SubkindCashuResponse    Subkind = "cashu_response"
	SubkindCashuDirect      Subkind = "cashu_direct"
	SubkindCashuDirectAck   Subkind = "cashu_direct_ack"
	SubkindUnknown          Subkind = "unknown"
)

// Envelope is the typed inner payload of an event after decryption and
// parsing (spec.md §3 Envelope). CorrelationID ties a multi-message
// conversation together across events; ReplyTo optionally references the
// correlation this envelope answers (currently unused beyond documentation
// since CorrelationID alone identifies the conversation in this protocol).
type Envelope struct {
	Subkind       Subkind         `json:"subkind"`
	CorrelationID string          `json:"correlation_id"`
	ReplyTo       string          `json:"reply_to,omitempty"`
	ExpiresAt     *int64          `json:"expires_at,omitempty"`
	Body          json.RawMessage `json:"body"`
}

// Expired reports whether the envelope carries an expiry that has passed.
func (e *Envelope) Expired(now time.Time) bool {
	if e.ExpiresAt == nil {
		return false
	}
	return now.Unix() > *e.ExpiresAt
}

// DecodeBody unmarshals the envelope's body into dst.
func (e *Envelope) DecodeBody(dst interface{}) error {
	if len(e.Body) == 0 {
		return fmt.Errorf("envelope has no body")
	}
	return json.Unmarshal(e.Body, dst)
}

// New builds an envelope with a JSON-encoded body.
func New(subkind Subkind, correlationID string, body interface{}) (*Envelope, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling envelope body: %w", err)
	}
	return &Envelope{
		Subkind:       subkind,
		CorrelationID: correlationID,
		Body:          raw,
	}, nil
}

// WithExpiry sets the envelope's expiry and returns it for chaining.
func (e *Envelope) WithExpiry(t time.Time) *Envelope {
	ts := t.Unix()
	e.ExpiresAt = &ts
	return e
}

// Seal JSON-encodes the envelope and encrypts it to recipient, returning
// ciphertext suitable for an event's Content field (spec.md §4.2 send).
func Seal(sender *identity.Keypair, recipient identity.PubKey, env *Envelope) ([]byte, error) {
	plain, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshaling envelope: %w", err)
	}
	cipher, err := Encrypt(sender, recipient, plain, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("encrypting envelope: %w", err)
	}
	encoded := make([]byte, base64.StdEncoding.EncodedLen(len(cipher)))
	base64.StdEncoding.Encode(encoded, cipher)
	return encoded, nil
}

// Open decrypts and parses an event's content into an Envelope. A decode or
// decrypt failure always yields (nil, err); the caller must drop the event.
func Open(recipientPriv *identity.Keypair, sender identity.PubKey, content []byte) (*Envelope, error) {
	cipher := make([]byte, base64.StdEncoding.DecodedLen(len(content)))
	n, err := base64.StdEncoding.Decode(cipher, content)
	if err != nil {
		return nil, fmt.Errorf("base64 decoding content: %w", err)
	}
	cipher = cipher[:n]

	plain, err := Decrypt(recipientPriv, sender, cipher)
	if err != nil {
		return nil, err
	}

	var env Envelope
	if err := json.Unmarshal(plain, &env); err != nil {
		return nil, fmt.Errorf("parsing envelope json: %w", err)
	}
	if env.Subkind == "" {
		env.Subkind = SubkindUnknown
	}
	return &env, nil
}

// BuildEvent wraps a sealed envelope into a signed event addressed to
// recipient via a "p" tag, ready for publication.
func BuildEvent(sender *identity.Keypair, recipient identity.PubKey, kind uint16, env *Envelope) (*nostrevent.Event, error) {
	sealed, err := Seal(sender, recipient, env)
	if err != nil {
		return nil, err
	}
	ev := &nostrevent.Event{
		Kind: kind,
		Tags: nostrevent.Tags{
			{"p", recipient.String()},
		},
		Content: sealed,
	}
	if err := nostrevent.Sign(ev, sender); err != nil {
		return nil, fmt.Errorf("signing envelope event: %w", err)
	}
	return ev, nil
}
