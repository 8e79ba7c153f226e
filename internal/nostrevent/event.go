// Package nostrevent defines the immutable event record (spec.md §3 Event)
// and the canonical hashing/signing that gives it a reproducible id and a
// verifiable Schnorr signature, independent of any specific relay library's
// wire encoding.
package nostrevent

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nostrportal/portal/internal/identity"
)

// Tag is an ordered list of strings, e.g. {"p", "<pubkey>"} or
// {"e", "<event id>", "<relay hint>"}.
type Tag []string

// Tags is an ordered list of Tag.
type Tags []Tag

// First returns the value at index 1 of the first tag whose index-0 element
// matches name, or "" if none match.
func (t Tags) First(name string) string {
	for _, tag := range t {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1]
		}
	}
	return ""
}

// All returns every value at index 1 of tags whose index-0 element matches
// name, preserving order.
func (t Tags) All(name string) []string {
	var out []string
	for _, tag := range t {
		if len(tag) >= 2 && tag[0] == name {
			out = append(out, tag[1])
		}
	}
	return out
}

// Event is the immutable record described in spec.md §3.
type Event struct {
	ID        [32]byte
	Author    identity.PubKey
	CreatedAt int64 // unix seconds
	Kind      uint16
	Tags      Tags
	Content   []byte
	Sig       [64]byte
}

// canonicalJSON builds the NIP-01 serialization array this event's id is
// hashed from: [0, pubkey, created_at, kind, tags, content].
func (e *Event) canonicalJSON() ([]byte, error) {
	tags := e.Tags
	if tags == nil {
		tags = Tags{}
	}
	arr := []interface{}{
		0,
		e.Author.String(),
		e.CreatedAt,
		e.Kind,
		tags,
		string(e.Content),
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(arr); err != nil {
		return nil, fmt.Errorf("encoding canonical event: %w", err)
	}
	out := buf.Bytes()
	// json.Encoder.Encode appends a trailing newline; NIP-01 ids are hashed
	// over the bare array without one.
	return bytes.TrimRight(out, "\n"), nil
}

// ComputeID recomputes the event id from every field except Sig.
func (e *Event) ComputeID() ([32]byte, error) {
	canon, err := e.canonicalJSON()
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(canon), nil
}

// Sign finalizes the event: sets Author to kp's pubkey, computes ID, and
// signs it, appending the delegation proof tag if kp is acting as a subkey
// (spec.md §4.2).
func Sign(e *Event, kp *identity.Keypair) error {
	e.Author = kp.PubKey()
	if kp.Delegation != nil {
		e.Tags = append(e.Tags, Tag{
			"delegation",
			kp.Delegation.MainKey.String(),
			kp.Delegation.Conditions,
			fmt.Sprintf("%x", kp.Delegation.Signature),
		})
	}
	if e.CreatedAt == 0 {
		e.CreatedAt = time.Now().Unix()
	}
	id, err := e.ComputeID()
	if err != nil {
		return err
	}
	e.ID = id
	sig, err := kp.Sign(id)
	if err != nil {
		return fmt.Errorf("signing event: %w", err)
	}
	e.Sig = sig
	return nil
}

// VerifySignature recomputes the id and checks the Schnorr signature
// against the claimed author (spec.md §8 property 2, first half).
func (e *Event) VerifySignature() bool {
	id, err := e.ComputeID()
	if err != nil || id != e.ID {
		return false
	}
	return identity.Verify(e.Author, e.ID, e.Sig)
}

// DelegationProofTag extracts a delegation proof from the event's tags, if
// present, so the router can verify subkey authorship (spec.md §4.3).
func (e *Event) DelegationProofTag() (*identity.DelegationProof, bool) {
	for _, tag := range e.Tags {
		if len(tag) >= 4 && tag[0] == "delegation" {
			main, err := identity.ParsePubKey(tag[1])
			if err != nil {
				return nil, false
			}
			sigBytes, err := hex.DecodeString(tag[3])
			if err != nil || len(sigBytes) != 64 {
				return nil, false
			}
			var sig [64]byte
			copy(sig[:], sigBytes)
			return &identity.DelegationProof{
				MainKey:    main,
				SubKey:     e.Author,
				Conditions: tag[2],
				Signature:  sig,
			}, true
		}
	}
	return nil, false
}
