// Package protocol implements the concrete conversation state machines
// that make up the Portal wire protocol (spec.md §4.5): key handshake,
// auth challenge, single/recurring payments, invoices, Cashu, profile
// lookup, and JWT issuance, all built on top of internal/conversation.
package protocol

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/nostrportal/portal/internal/identity"
)

// HandshakeURL is the portal:// URL a client displays (as a QR code or
// deep link) to invite a peer to establish a session (spec.md §4.5,
// supplementing original_source/src/protocol/key_handshake.rs). Keys are
// hex-encoded rather than bech32 here: this module's PubKey.String()
// already standardizes on hex everywhere else, and bech32 adds no safety
// property beyond a checksum this protocol doesn't otherwise rely on.
type HandshakeURL struct {
	MainKey identity.PubKey
	Relays  []string
	Token   string
	Subkey  *identity.PubKey
}

// SendTo returns the key a handshake envelope should be sent to: the
// subkey if present, otherwise the main key.
func (h HandshakeURL) SendTo() identity.PubKey {
	if h.Subkey != nil {
		return *h.Subkey
	}
	return h.MainKey
}

// AllKeys returns every key a recipient of this handshake should be
// allowed to authenticate as.
func (h HandshakeURL) AllKeys() []identity.PubKey {
	keys := []identity.PubKey{h.MainKey}
	if h.Subkey != nil {
		keys = append(keys, *h.Subkey)
	}
	return keys
}

// String renders the portal:// URL form.
func (h HandshakeURL) String() string {
	var b strings.Builder
	b.WriteString("portal://")
	b.WriteString(h.MainKey.String())
	b.WriteString("?relays=")
	encoded := make([]string, len(h.Relays))
	for i, r := range h.Relays {
		encoded[i] = url.QueryEscape(r)
	}
	b.WriteString(strings.Join(encoded, ","))
	b.WriteString("&token=")
	b.WriteString(h.Token)
	if h.Subkey != nil {
		b.WriteString("&subkey=")
		b.WriteString(h.Subkey.String())
	}
	return b.String()
}

// ParseHandshakeURL parses a portal:// URL (spec.md §4.5). Missing token,
// missing relays, and an unparseable subkey are all errors; unknown query
// parameters are rejected rather than ignored, matching the strictness of
// original_source/src/protocol/key_handshake.rs.
func ParseHandshakeURL(s string) (*HandshakeURL, error) {
	const prefix = "portal://"
	if !strings.HasPrefix(s, prefix) {
		return nil, fmt.Errorf("invalid protocol: expected %q prefix", prefix)
	}
	rest := s[len(prefix):]

	pubkeyPart, query, ok := strings.Cut(rest, "?")
	if !ok {
		return nil, fmt.Errorf("missing query parameters")
	}

	mainKey, err := identity.ParsePubKey(pubkeyPart)
	if err != nil {
		return nil, fmt.Errorf("parsing main key: %w", err)
	}

	var relays []string
	var token string
	var subkey *identity.PubKey

	for _, param := range strings.Split(query, "&") {
		k, v, ok := strings.Cut(param, "=")
		if !ok {
			return nil, fmt.Errorf("invalid query parameter %q: missing value", param)
		}
		switch k {
		case "relays":
			for _, r := range strings.Split(v, ",") {
				decoded, err := url.QueryUnescape(r)
				if err != nil {
					return nil, fmt.Errorf("invalid relay url %q: %w", r, err)
				}
				relays = append(relays, decoded)
			}
		case "token":
			token = v
		case "subkey":
			sk, err := identity.ParsePubKey(v)
			if err != nil {
				return nil, fmt.Errorf("parsing subkey: %w", err)
			}
			subkey = &sk
		default:
			return nil, fmt.Errorf("unknown query parameter: %s", k)
		}
	}

	if token == "" {
		return nil, fmt.Errorf("missing required parameter: token")
	}
	if len(relays) == 0 {
		return nil, fmt.Errorf("no relays specified")
	}

	return &HandshakeURL{MainKey: mainKey, Relays: relays, Token: token, Subkey: subkey}, nil
}
