// Package oracle defines the boundary between the ledger and the decryption
// oracle: request kinds, the bytes a fulfillment is signed over, and the
// signature-set policy that authenticates callbacks.
package oracle

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"
)

type Kind uint8

const (
	KindMatchTotals Kind = 1
	KindUserBet     Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindMatchTotals:
		return "match_totals"
	case KindUserBet:
		return "user_bet"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	switch k {
	case KindMatchTotals, KindUserBet:
		return []byte(k.String()), nil
	default:
		return nil, fmt.Errorf("oracle: unknown kind %d", uint8(k))
	}
}

func (k *Kind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "match_totals":
		*k = KindMatchTotals
	case "user_bet":
		*k = KindUserBet
	default:
		return fmt.Errorf("oracle: unknown kind %q", string(b))
	}
	return nil
}

var ErrBadSignatures = errors.New("oracle: signature set does not meet policy")

const signDomain = "cipherbet/v1/oracle-fulfillment"

// Fulfillment is the tuple the committee attests to.
type Fulfillment struct {
	ChainID   string   `cbor:"1,keyasint"`
	RequestID uint64   `cbor:"2,keyasint"`
	Kind      Kind     `cbor:"3,keyasint"`
	Values    []uint64 `cbor:"4,keyasint"`
}

type signPayload struct {
	Domain string      `cbor:"0,keyasint"`
	F      Fulfillment `cbor:"1,keyasint"`
}

var encMode cbor.EncMode

func init() {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("oracle: cbor enc mode: %v", err))
	}
	encMode = em
}

// SignBytes is the deterministic CBOR encoding of the domain-separated fulfillment.
func SignBytes(f Fulfillment) ([]byte, error) {
	if f.Values == nil {
		f.Values = []uint64{}
	}
	return encMode.Marshal(signPayload{Domain: signDomain, F: f})
}

type Signature struct {
	PubKey []byte `json:"pubKey"`
	Sig    []byte `json:"sig"`
}

// Policy authenticates callbacks: at least Threshold distinct configured
// signers must have signed the exact fulfillment.
type Policy struct {
	Threshold uint32   `json:"threshold"`
	Signers   [][]byte `json:"signers"`
}

func (p Policy) Validate() error {
	if p.Threshold == 0 {
		return fmt.Errorf("oracle policy: threshold must be positive")
	}
	if int(p.Threshold) > len(p.Signers) {
		return fmt.Errorf("oracle policy: threshold %d exceeds %d signers", p.Threshold, len(p.Signers))
	}
	seen := map[string]struct{}{}
	for _, s := range p.Signers {
		if len(s) != ed25519.PublicKeySize {
			return fmt.Errorf("oracle policy: signer key must be %d bytes", ed25519.PublicKeySize)
		}
		if _, dup := seen[string(s)]; dup {
			return fmt.Errorf("oracle policy: duplicate signer")
		}
		seen[string(s)] = struct{}{}
	}
	return nil
}

func (p Policy) isSigner(pub []byte) bool {
	for _, s := range p.Signers {
		if bytes.Equal(s, pub) {
			return true
		}
	}
	return false
}

// Verify counts distinct configured signers with a valid signature over f.
// Unknown keys, invalid signatures and repeats do not count.
func (p Policy) Verify(f Fulfillment, sigs []Signature) error {
	msg, err := SignBytes(f)
	if err != nil {
		return fmt.Errorf("oracle: sign bytes: %w", err)
	}
	valid := map[string]struct{}{}
	for _, s := range sigs {
		if len(s.PubKey) != ed25519.PublicKeySize || len(s.Sig) != ed25519.SignatureSize {
			continue
		}
		if !p.isSigner(s.PubKey) {
			continue
		}
		if !ed25519.Verify(ed25519.PublicKey(s.PubKey), msg, s.Sig) {
			continue
		}
		valid[string(s.PubKey)] = struct{}{}
	}
	if p.Threshold == 0 || uint32(len(valid)) < p.Threshold {
		return fmt.Errorf("%w: %d valid of %d required", ErrBadSignatures, len(valid), p.Threshold)
	}
	return nil
}

// SortSignatures orders a signature set by public key so encoded
// transactions are stable regardless of collection order.
func SortSignatures(sigs []Signature) {
	sort.Slice(sigs, func(i, j int) bool { return bytes.Compare(sigs[i].PubKey, sigs[j].PubKey) < 0 })
}
