// Package envelope implements the typed inbound/outbound payload carried
// inside an event's encrypted content (spec.md §3 Envelope, §4.2 Envelope
// Layer): authenticated encryption keyed from ECDH, and parsing of the
// typed structure peers exchange once decrypted.
package envelope

import (
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/nostrportal/portal/internal/identity"
)

// domainSeparation is mixed into the HKDF info parameter so that this
// envelope's symmetric key can never collide with a key derived for an
// unrelated purpose from the same ECDH shared point (spec.md §4.2).
const domainSeparation = "portal-envelope-v1"

// sharedSecret performs ECDH between priv and pub, returning the shared
// point's x-coordinate, matching the NIP-44 construction.
func sharedSecret(priv *btcec.PrivateKey, pub identity.PubKey) ([]byte, error) {
	// NIP-44/NIP-04 style ECDH expects a full (even-y) public key; x-only
	// keys are lifted by assuming the even-y solution, same convention the
	// Nostr wire format uses everywhere else.
	fullPub, err := secp256k1.ParsePubKey(append([]byte{0x02}, pub[:]...))
	if err != nil {
		return nil, fmt.Errorf("parsing peer pubkey for ecdh: %w", err)
	}

	var point secp256k1.JacobianPoint
	fullPub.AsJacobian(&point)

	privKeyScalar := secp256k1.PrivKeyFromBytes(priv.Serialize())
	var result secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(&privKeyScalar.Key, &point, &result)
	result.ToAffine()

	x := result.X.Bytes()
	return x[:], nil
}

// deriveKey expands the ECDH shared secret into a 32-byte ChaCha20-Poly1305
// key via HKDF-SHA256, domain-separated per envelope.
func deriveKey(shared []byte, salt []byte) ([32]byte, error) {
	var key [32]byte
	kdf := hkdf.New(sha256.New, shared, salt, []byte(domainSeparation))
	if _, err := io.ReadFull(kdf, key[:]); err != nil {
		return key, fmt.Errorf("deriving key: %w", err)
	}
	return key, nil
}

// Encrypt authenticates and encrypts plaintext for recipient using senderPriv.
// The returned ciphertext is self-contained: a random 16-byte salt followed
// by the AEAD nonce and sealed box, so decryption needs nothing but the
// sender's pubkey and the recipient's private key.
func Encrypt(senderPriv *identity.Keypair, recipient identity.PubKey, plaintext []byte, randSource io.Reader) ([]byte, error) {
	shared, err := sharedSecret(senderPriv.ECDHPrivate(), recipient)
	if err != nil {
		return nil, err
	}

	salt := make([]byte, 16)
	if _, err := io.ReadFull(randSource, salt); err != nil {
		return nil, fmt.Errorf("reading salt: %w", err)
	}

	key, err := deriveKey(shared, salt)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("constructing aead: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(randSource, nonce); err != nil {
		return nil, fmt.Errorf("reading nonce: %w", err)
	}

	sealed := aead.Seal(nil, nonce, plaintext, nil)

	out := make([]byte, 0, len(salt)+len(nonce)+len(sealed))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

// Decrypt reverses Encrypt. A decryption failure (bad MAC, truncated input)
// is always a hard drop of the event per spec.md §4.2 — never retried, and
// the caller should not distinguish "wrong key" from "corrupted" beyond
// logging.
func Decrypt(recipientPriv *identity.Keypair, sender identity.PubKey, ciphertext []byte) ([]byte, error) {
	shared, err := sharedSecret(recipientPriv.ECDHPrivate(), sender)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < 16+chacha20poly1305.NonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	salt := ciphertext[:16]
	rest := ciphertext[16:]
	nonce := rest[:chacha20poly1305.NonceSize]
	sealed := rest[chacha20poly1305.NonceSize:]

	key, err := deriveKey(shared, salt)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("constructing aead: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}
	return plaintext, nil
}
