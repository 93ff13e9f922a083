package kms

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sort"

	"cipherbet/internal/betcrypto"
)

var ErrInsufficientShares = errors.New("kms: insufficient valid partial decryptions")

// Partial is one member's decryption share share_i*C1 with a proof that it
// used the same exponent as its public share.
type Partial struct {
	Index uint32
	Share betcrypto.Point
	Proof betcrypto.ChaumPedersenProof
}

func (m Member) PartialDecrypt(rnd io.Reader, ct betcrypto.Ciphertext) (Partial, error) {
	w, err := betcrypto.RandomScalar(rnd)
	if err != nil {
		return Partial{}, err
	}
	d := betcrypto.MulPoint(ct.C1, m.share)
	proof, err := betcrypto.ChaumPedersenProve(m.PubShare, ct.C1, d, m.share, w)
	if err != nil {
		return Partial{}, fmt.Errorf("kms: member %d proof: %w", m.Index, err)
	}
	return Partial{Index: m.Index, Share: d, Proof: proof}, nil
}

// Combine verifies the partials against the members' public shares and
// interpolates the first threshold valid ones (by index) into v*G.
// Invalid or unknown partials are skipped, not fatal.
func Combine(ct betcrypto.Ciphertext, partials []Partial, shareKeys map[uint32]betcrypto.Point, threshold int) (betcrypto.Point, error) {
	valid := make([]Partial, 0, len(partials))
	seen := map[uint32]struct{}{}
	for _, p := range partials {
		y, ok := shareKeys[p.Index]
		if !ok {
			continue
		}
		if _, dup := seen[p.Index]; dup {
			continue
		}
		ok, err := betcrypto.ChaumPedersenVerify(y, ct.C1, p.Share, p.Proof)
		if err != nil || !ok {
			continue
		}
		seen[p.Index] = struct{}{}
		valid = append(valid, p)
	}
	if len(valid) < threshold {
		return betcrypto.Point{}, fmt.Errorf("%w: have %d need %d", ErrInsufficientShares, len(valid), threshold)
	}
	sort.Slice(valid, func(i, j int) bool { return valid[i].Index < valid[j].Index })
	valid = valid[:threshold]

	idxs := make([]uint32, 0, threshold)
	for _, p := range valid {
		idxs = append(idxs, p.Index)
	}
	lambdas, err := betcrypto.LagrangeAtZero(idxs)
	if err != nil {
		return betcrypto.Point{}, err
	}
	combined := betcrypto.PointZero()
	for i, p := range valid {
		combined = betcrypto.PointAdd(combined, betcrypto.MulPoint(p.Share, lambdas[i]))
	}
	return betcrypto.PointSub(ct.C2, combined), nil
}

func (c *Committee) partials(ct betcrypto.Ciphertext) ([]Partial, error) {
	out := make([]Partial, 0, len(c.Members))
	for _, m := range c.Members {
		p, err := m.PartialDecrypt(c.random(), ct)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Decrypt collects partials from every member, combines them and decodes
// the plaintext. The network secret is never reconstructed.
func (c *Committee) Decrypt(ct betcrypto.Ciphertext) (uint64, error) {
	partials, err := c.partials(ct)
	if err != nil {
		return 0, err
	}
	pt, err := Combine(ct, partials, c.shareKeys(), c.Threshold)
	if err != nil {
		return 0, err
	}
	return betcrypto.DiscreteLog(pt)
}

const nonceDomain = "cipherbet/v1/kms/nonce"

// Nonce is a threshold PRF keyed by the network secret x. The members apply
// their shares to P = HashToPoint(domain, msg) exactly as for a partial
// decryption, the verified partials combine into x*P, and that point is
// hashed to a non-zero scalar. Computing it from P and the network key is
// as hard as CDH.
func (c *Committee) Nonce(domain string, msg []byte) (betcrypto.Scalar, error) {
	p, err := betcrypto.HashToPoint(nonceDomain, []byte(domain), msg)
	if err != nil {
		return betcrypto.Scalar{}, err
	}
	// With C2 = 0 the combine step yields -x*P.
	q := betcrypto.Ciphertext{C1: p, C2: betcrypto.PointZero()}
	partials, err := c.partials(q)
	if err != nil {
		return betcrypto.Scalar{}, err
	}
	negXP, err := Combine(q, partials, c.shareKeys(), c.Threshold)
	if err != nil {
		return betcrypto.Scalar{}, fmt.Errorf("kms: nonce: %w", err)
	}
	return betcrypto.HashToNonzeroScalar(nonceDomain, p.Bytes(), negXP.Bytes())
}

func (c *Committee) random() io.Reader {
	if c.rnd == nil {
		return rand.Reader
	}
	return c.rnd
}
