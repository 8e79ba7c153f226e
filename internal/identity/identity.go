// Package identity owns keypairs, peer identities, and delegation proofs.
//
// A peer is never a single public key: it is a main key plus zero or more
// subkeys, each vouched for by a delegation proof signed by the main key.
// Routing and signature verification both go through this package so that
// "from the counterparty" has one definition across the router and the
// protocol state machines.
package identity

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// PubKey is a 32-byte x-only secp256k1 public key, the Nostr convention.
type PubKey [32]byte

// String renders the key as lowercase hex.
func (k PubKey) String() string {
	return hex.EncodeToString(k[:])
}

// IsZero reports whether the key is the zero value (unset).
func (k PubKey) IsZero() bool {
	return k == PubKey{}
}

// MarshalJSON renders the key as a quoted hex string.
func (k PubKey) MarshalJSON() ([]byte, error) {
	return []byte(`"` + k.String() + `"`), nil
}

// UnmarshalJSON parses a quoted hex string into the key, so PubKey can sit
// directly in client request/response payloads.
func (k *PubKey) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("decoding pubkey json: %w", err)
	}
	parsed, err := ParsePubKey(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParsePubKey decodes a 64-character hex string into a PubKey.
func ParsePubKey(s string) (PubKey, error) {
	var k PubKey
	b, err := hex.DecodeString(s)
	if err != nil {
		return k, fmt.Errorf("decoding pubkey hex: %w", err)
	}
	if len(b) != 32 {
		return k, fmt.Errorf("pubkey must be 32 bytes, got %d", len(b))
	}
	copy(k[:], b)
	return k, nil
}

// btcecPub recovers a full (even-y) btcec public key from the x-only form,
// the representation schnorr.Verify expects.
func (k PubKey) btcecPub() (*btcec.PublicKey, error) {
	return schnorr.ParsePubKey(k[:])
}

// Keypair is the server's own identity: a secp256k1 keypair plus, if the
// server is acting as a subkey, the delegation proof binding it to a main
// key (spec.md §3 Identity).
type Keypair struct {
	priv *btcec.PrivateKey
	pub  PubKey

	// Delegation is non-nil when this keypair is a delegated subkey acting
	// for a main identity.
	Delegation *DelegationProof
}

// GenerateKeypair creates a fresh random keypair.
func GenerateKeypair() (*Keypair, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generating private key: %w", err)
	}
	return keypairFromPrivate(priv), nil
}

// KeypairFromHex loads a keypair from a hex-encoded 32-byte private key.
func KeypairFromHex(privHex string) (*Keypair, error) {
	b, err := hex.DecodeString(privHex)
	if err != nil {
		return nil, fmt.Errorf("decoding private key hex: %w", err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(b))
	}
	priv, _ := btcec.PrivKeyFromBytes(b)
	return keypairFromPrivate(priv), nil
}

func keypairFromPrivate(priv *btcec.PrivateKey) *Keypair {
	var pub PubKey
	xonly := schnorr.SerializePubKey(priv.PubKey())
	copy(pub[:], xonly)
	return &Keypair{priv: priv, pub: pub}
}

// PubKey returns the keypair's own public key (the subkey's, if delegated).
func (k *Keypair) PubKey() PubKey { return k.pub }

// PrivateKeyHex returns the hex-encoded private key, for persistence by the
// external configuration loader only; the core never writes this to disk.
func (k *Keypair) PrivateKeyHex() string {
	return hex.EncodeToString(k.priv.Serialize())
}

// Sign computes a Schnorr signature over msg (already hashed to 32 bytes by
// the caller, per BIP-340/NIP-01 convention). btcec's schnorr.Sign draws its
// own auxiliary randomness from crypto/rand internally.
func (k *Keypair) Sign(msgHash [32]byte) ([64]byte, error) {
	var sig64 [64]byte
	sig, err := schnorr.Sign(k.priv, msgHash[:])
	if err != nil {
		return sig64, fmt.Errorf("schnorr signing: %w", err)
	}
	copy(sig64[:], sig.Serialize())
	return sig64, nil
}

// ECDHPrivate exposes the raw private scalar for the envelope layer's ECDH
// step. Callers must not persist or log the returned bytes.
func (k *Keypair) ECDHPrivate() *btcec.PrivateKey {
	return k.priv
}

// ParseSignatureHex decodes a 128-character hex string into a 64-byte
// Schnorr signature.
func ParseSignatureHex(s string) ([64]byte, error) {
	var sig [64]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return sig, fmt.Errorf("decoding signature hex: %w", err)
	}
	if len(b) != 64 {
		return sig, fmt.Errorf("signature must be 64 bytes, got %d", len(b))
	}
	copy(sig[:], b)
	return sig, nil
}

// Verify checks a Schnorr signature over msgHash under pub.
func Verify(pub PubKey, msgHash [32]byte, sig [64]byte) bool {
	parsedPub, err := pub.btcecPub()
	if err != nil {
		return false
	}
	parsedSig, err := schnorr.ParseSignature(sig[:])
	if err != nil {
		return false
	}
	return parsedSig.Verify(msgHash[:], parsedPub)
}

// DelegationProof asserts that SubKey may act for MainKey within Conditions.
// Verified whenever an event authored by SubKey is routed (spec.md §3, §4.3).
type DelegationProof struct {
	MainKey    PubKey
	SubKey     PubKey
	Conditions string
	Signature  [64]byte
}

// delegationMessage builds the deterministic byte string the main key signs
// to authorize a subkey, mirroring NIP-26-style delegation tokens:
// "nostr:delegation:<subkey-hex>:<conditions>".
func delegationMessage(subkey PubKey, conditions string) [32]byte {
	return sha256Sum([]byte("nostr:delegation:" + subkey.String() + ":" + conditions))
}

// SignDelegation produces a delegation proof binding subkey to this (main) keypair.
func (k *Keypair) SignDelegation(subkey PubKey, conditions string) (*DelegationProof, error) {
	msg := delegationMessage(subkey, conditions)
	sig, err := k.Sign(msg)
	if err != nil {
		return nil, fmt.Errorf("signing delegation: %w", err)
	}
	return &DelegationProof{
		MainKey:    k.pub,
		SubKey:     subkey,
		Conditions: conditions,
		Signature:  sig,
	}, nil
}

// Verify checks that the proof was actually signed by MainKey for SubKey.
func (p *DelegationProof) Verify() bool {
	if p == nil {
		return false
	}
	msg := delegationMessage(p.SubKey, p.Conditions)
	return Verify(p.MainKey, msg, p.Signature)
}

// Peer describes a counterparty as spec.md §3 defines it: a main_key plus a
// set of subkeys, each with a delegation proof. Any event signed by any of
// these is "from the counterparty".
type Peer struct {
	mu      sync.RWMutex
	MainKey PubKey
	proofs  map[PubKey]*DelegationProof // subkey -> proof, single-writer map
}

// NewPeer creates a peer identified by its main key.
func NewPeer(mainKey PubKey) *Peer {
	return &Peer{MainKey: mainKey, proofs: make(map[PubKey]*DelegationProof)}
}

// AddSubkey registers a delegation proof for a subkey. It returns an error,
// and registers nothing, if proof.Verify() fails or proof.MainKey is not
// this peer's MainKey.
func (p *Peer) AddSubkey(proof *DelegationProof) error {
	if proof == nil || !proof.Verify() {
		return fmt.Errorf("invalid delegation proof")
	}
	if proof.MainKey != p.MainKey {
		return fmt.Errorf("delegation proof is for a different main key")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.proofs[proof.SubKey] = proof
	return nil
}

// ResolveMain reports whether author is this peer (main key or a validly
// delegated subkey), returning the resolved main key on success.
func (p *Peer) ResolveMain(author PubKey) (PubKey, bool) {
	if author == p.MainKey {
		return p.MainKey, true
	}
	p.mu.RLock()
	_, ok := p.proofs[author]
	p.mu.RUnlock()
	return p.MainKey, ok
}

// Subkeys returns a snapshot of the peer's currently known subkeys.
func (p *Peer) Subkeys() []PubKey {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PubKey, 0, len(p.proofs))
	for k := range p.proofs {
		out = append(out, k)
	}
	return out
}

// ResolveAuthor checks author against the claimed subkey proof tag (if any)
// carried on an inbound event, verifying it on the fly rather than requiring
// a pre-registered Peer. This is the router's primary entry point (spec.md
// §4.3): routing key resolution must work for peers the server has never
// seen a Peer record for yet.
func ResolveAuthor(author PubKey, proof *DelegationProof) (main PubKey, delegated bool, ok bool) {
	if proof == nil {
		return author, false, true
	}
	if proof.SubKey != author {
		return PubKey{}, false, false
	}
	if !proof.Verify() {
		return PubKey{}, false, false
	}
	return proof.MainKey, true, true
}
