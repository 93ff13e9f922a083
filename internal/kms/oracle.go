package kms

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"slices"

	"cipherbet/internal/betcrypto"
	"cipherbet/internal/fhe"
	"cipherbet/internal/oracle"
)

var ErrNotGranted = errors.New("kms: address holds no view grant for handle")

// CiphertextSource resolves handles to ciphertexts, typically the coprocessor store.
type CiphertextSource interface {
	Ciphertext(h fhe.Handle) (betcrypto.Ciphertext, error)
}

// Oracle answers decryption requests for handles: it decrypts with the
// committee and attests to the result with the members' signatures.
type Oracle struct {
	committee *Committee
	source    CiphertextSource
}

func NewOracle(c *Committee, src CiphertextSource) *Oracle {
	return &Oracle{committee: c, source: src}
}

func (o *Oracle) Committee() *Committee {
	return o.committee
}

func (o *Oracle) Reveal(handles []fhe.Handle) ([]uint64, error) {
	out := make([]uint64, 0, len(handles))
	for _, h := range handles {
		ct, err := o.source.Ciphertext(h)
		if err != nil {
			return nil, fmt.Errorf("kms: handle %s: %w", h, err)
		}
		v, err := o.committee.Decrypt(ct)
		if err != nil {
			return nil, fmt.Errorf("kms: decrypt %s: %w", h, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Attest signs f with every member key. The ledger's policy accepts the set
// once threshold distinct members have signed.
func (o *Oracle) Attest(f oracle.Fulfillment) ([]oracle.Signature, error) {
	msg, err := oracle.SignBytes(f)
	if err != nil {
		return nil, err
	}
	sigs := make([]oracle.Signature, 0, len(o.committee.Members))
	for _, m := range o.committee.Members {
		sigs = append(sigs, oracle.Signature{
			PubKey: []byte(m.SignerKey()),
			Sig:    ed25519.Sign(m.SignKey, msg),
		})
	}
	oracle.SortSignatures(sigs)
	return sigs, nil
}

// Fulfill decrypts the handles of a request and returns the signed tuple.
func (o *Oracle) Fulfill(chainID string, requestID uint64, kind oracle.Kind, handles []fhe.Handle) (oracle.Fulfillment, []oracle.Signature, error) {
	vals, err := o.Reveal(handles)
	if err != nil {
		return oracle.Fulfillment{}, nil, err
	}
	f := oracle.Fulfillment{ChainID: chainID, RequestID: requestID, Kind: kind, Values: vals}
	sigs, err := o.Attest(f)
	if err != nil {
		return oracle.Fulfillment{}, nil, err
	}
	return f, sigs, nil
}

// View decrypts a single handle for addr, a read-side round trip that never
// touches ledger state. grants is the address list recorded for the handle.
func (o *Oracle) View(h fhe.Handle, addr string, grants []string) (uint64, error) {
	if addr == "" || !slices.Contains(grants, addr) {
		return 0, ErrNotGranted
	}
	vals, err := o.Reveal([]fhe.Handle{h})
	if err != nil {
		return 0, err
	}
	return vals[0], nil
}
