// Package kms is the reference decryption oracle: a t-of-n committee holding
// Shamir shares of the network key. Members publish verifiable partial
// decryptions; any t of them combine into a plaintext. The committee also
// signs fulfillments for the ledger callbacks.
package kms

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"cipherbet/internal/betcrypto"
	"cipherbet/internal/oracle"
)

type Member struct {
	Index    uint32
	share    betcrypto.Scalar
	PubShare betcrypto.Point // share*G
	SignKey  ed25519.PrivateKey
}

func (m Member) SignerKey() ed25519.PublicKey {
	return m.SignKey.Public().(ed25519.PublicKey)
}

type Committee struct {
	Threshold int
	PubKey    betcrypto.Point
	Members   []Member
	rnd       io.Reader
}

// NewCommittee runs a trusted-dealer split of a fresh network secret.
// It is a devnet stand-in for a DKG; the dealer forgets the secret on return.
func NewCommittee(rnd io.Reader, n, t int) (*Committee, error) {
	if t <= 0 || n < t {
		return nil, fmt.Errorf("kms: need 0 < t <= n, got t=%d n=%d", t, n)
	}
	coeffs := make([]betcrypto.Scalar, t)
	for i := range coeffs {
		s, err := betcrypto.RandomScalar(rnd)
		if err != nil {
			return nil, err
		}
		coeffs[i] = s
	}
	c := &Committee{Threshold: t, PubKey: betcrypto.MulBase(coeffs[0]), rnd: rnd}
	for i := 1; i <= n; i++ {
		_, priv, err := ed25519.GenerateKey(rnd)
		if err != nil {
			return nil, fmt.Errorf("kms: signing key: %w", err)
		}
		share := betcrypto.EvalPoly(coeffs, uint32(i))
		c.Members = append(c.Members, Member{
			Index:    uint32(i),
			share:    share,
			PubShare: betcrypto.MulBase(share),
			SignKey:  priv,
		})
	}
	return c, nil
}

// SetRand replaces the randomness source for proof nonces.
func (c *Committee) SetRand(r io.Reader) {
	c.rnd = r
}

// Policy is the oracle policy the ledger must be configured with to accept
// this committee's signatures.
func (c *Committee) Policy() oracle.Policy {
	p := oracle.Policy{Threshold: uint32(c.Threshold)}
	for _, m := range c.Members {
		p.Signers = append(p.Signers, []byte(m.SignerKey()))
	}
	return p
}

func (c *Committee) shareKeys() map[uint32]betcrypto.Point {
	out := make(map[uint32]betcrypto.Point, len(c.Members))
	for _, m := range c.Members {
		out[m.Index] = m.PubShare
	}
	return out
}

type memberFile struct {
	Index    uint32 `json:"index"`
	Share    []byte `json:"share"`
	PubShare []byte `json:"pubShare"`
	SignKey  []byte `json:"signKey"`
}

type committeeFile struct {
	Threshold int          `json:"threshold"`
	PubKey    []byte       `json:"pubKey"`
	Members   []memberFile `json:"members"`
}

func (c *Committee) MarshalJSON() ([]byte, error) {
	f := committeeFile{Threshold: c.Threshold, PubKey: c.PubKey.Bytes()}
	for _, m := range c.Members {
		f.Members = append(f.Members, memberFile{
			Index:    m.Index,
			Share:    m.share.Bytes(),
			PubShare: m.PubShare.Bytes(),
			SignKey:  []byte(m.SignKey),
		})
	}
	return json.Marshal(f)
}

func (c *Committee) UnmarshalJSON(b []byte) error {
	var f committeeFile
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	pk, err := betcrypto.PointFromBytesCanonical(f.PubKey)
	if err != nil {
		return fmt.Errorf("kms: pubKey: %w", err)
	}
	if f.Threshold <= 0 || len(f.Members) < f.Threshold {
		return fmt.Errorf("kms: threshold %d with %d members", f.Threshold, len(f.Members))
	}
	out := Committee{Threshold: f.Threshold, PubKey: pk}
	for _, mf := range f.Members {
		share, err := betcrypto.ScalarFromBytesCanonical(mf.Share)
		if err != nil {
			return fmt.Errorf("kms: member %d share: %w", mf.Index, err)
		}
		if !betcrypto.PointEq(betcrypto.MulBase(share), pointOrIdentity(mf.PubShare)) {
			return fmt.Errorf("kms: member %d pubShare does not match share", mf.Index)
		}
		if len(mf.SignKey) != ed25519.PrivateKeySize {
			return fmt.Errorf("kms: member %d signing key size", mf.Index)
		}
		out.Members = append(out.Members, Member{
			Index:    mf.Index,
			share:    share,
			PubShare: betcrypto.MulBase(share),
			SignKey:  ed25519.PrivateKey(mf.SignKey),
		})
	}
	out.rnd = c.rnd
	*c = out
	return nil
}

func pointOrIdentity(b []byte) betcrypto.Point {
	p, err := betcrypto.PointFromBytesCanonical(b)
	if err != nil {
		return betcrypto.PointZero()
	}
	return p
}

func (c *Committee) Save(path string) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

func Load(path string, rnd io.Reader) (*Committee, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c := &Committee{rnd: rnd}
	if err := json.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("kms: decode %s: %w", path, err)
	}
	return c, nil
}
