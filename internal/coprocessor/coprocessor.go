// Package coprocessor is the reference fhe.Backend. Values are exponential
// ElGamal ciphertexts under the committee's network key. Linear operations
// run on ciphertexts directly; comparisons and boolean logic are evaluated
// by the committee and re-encrypted with committee-secret randomness bound
// to the output handle, so every evaluation of the same handle yields the
// same ciphertext and nobody outside the committee can strip it.
package coprocessor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"cipherbet/internal/betcrypto"
	"cipherbet/internal/fhe"
)

var ErrUnknownHandle = errors.New("coprocessor: unknown handle")

const reencryptDomain = "cipherbet/v1/coprocessor/reencrypt"

// Decrypter is the committee view the coprocessor needs for non-linear ops.
type Decrypter interface {
	Decrypt(ct betcrypto.Ciphertext) (uint64, error)
	// Nonce derives a scalar from (domain, msg) under a key only the
	// committee holds. Equal inputs give equal outputs.
	Nonce(domain string, msg []byte) (betcrypto.Scalar, error)
}

type Coprocessor struct {
	mu  sync.RWMutex
	pk  betcrypto.Point
	dec Decrypter
	cts map[fhe.Handle]betcrypto.Ciphertext
}

var _ fhe.Backend = (*Coprocessor)(nil)

func New(pk betcrypto.Point, dec Decrypter) *Coprocessor {
	return &Coprocessor{pk: pk, dec: dec, cts: map[fhe.Handle]betcrypto.Ciphertext{}}
}

func (c *Coprocessor) PublicKey() betcrypto.Point {
	return c.pk
}

func (c *Coprocessor) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cts)
}

func (c *Coprocessor) Ciphertext(h fhe.Handle) (betcrypto.Ciphertext, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ct, ok := c.cts[h]
	if !ok {
		return betcrypto.Ciphertext{}, fmt.Errorf("%w: %s", ErrUnknownHandle, h)
	}
	return ct, nil
}

func (c *Coprocessor) put(h fhe.Handle, ct betcrypto.Ciphertext) {
	c.mu.Lock()
	c.cts[h] = ct
	c.mu.Unlock()
}

func (c *Coprocessor) decrypt(h fhe.Handle) (uint64, error) {
	ct, err := c.Ciphertext(h)
	if err != nil {
		return 0, err
	}
	return c.dec.Decrypt(ct)
}

func (c *Coprocessor) nonce(out fhe.Handle) (betcrypto.Scalar, error) {
	r, err := c.dec.Nonce(reencryptDomain, out[:])
	if err != nil {
		return betcrypto.Scalar{}, fmt.Errorf("coprocessor: nonce for %s: %w", out, err)
	}
	return r, nil
}

func (c *Coprocessor) reencrypt(out fhe.Handle, v uint64) error {
	r, err := c.nonce(out)
	if err != nil {
		return err
	}
	ct, err := betcrypto.Encrypt(c.pk, v, r)
	if err != nil {
		return err
	}
	c.put(out, ct)
	return nil
}

func decodeAll(raw [][]byte) ([]betcrypto.Ciphertext, error) {
	out := make([]betcrypto.Ciphertext, len(raw))
	for i, b := range raw {
		ct, err := betcrypto.CiphertextFromBytes(b)
		if err != nil {
			return nil, fmt.Errorf("ciphertext %d: %w", i, err)
		}
		out[i] = ct
	}
	return out, nil
}

func (c *Coprocessor) VerifyInput(in fhe.ExternalInput, bind fhe.Binding) error {
	cts, err := decodeAll(in.Ciphertexts)
	if err != nil {
		return err
	}
	ok, err := betcrypto.VerifyInputs(c.pk, betcrypto.InputBinding{ChainID: bind.ChainID, Caller: bind.Caller}, cts, in.Proof)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("proof does not verify for caller %q", bind.Caller)
	}
	return nil
}

// Ingest stores a client ciphertext after checking its plaintext lies in the
// range of the handle's type.
func (c *Coprocessor) Ingest(out fhe.Handle, raw []byte) error {
	ct, err := betcrypto.CiphertextFromBytes(raw)
	if err != nil {
		return err
	}
	v, err := c.dec.Decrypt(ct)
	if err != nil {
		return fmt.Errorf("coprocessor: undecodable input: %w", err)
	}
	if v >= out.Type().Max() {
		return fmt.Errorf("coprocessor: input %d out of range for %s", v, out.Type())
	}
	c.put(out, ct)
	return nil
}

func (c *Coprocessor) Trivial(out fhe.Handle, v uint64) error {
	c.put(out, betcrypto.Trivial(v))
	return nil
}

func (c *Coprocessor) linear(out fhe.Handle, f func(...betcrypto.Ciphertext) betcrypto.Ciphertext, in ...fhe.Handle) error {
	cts := make([]betcrypto.Ciphertext, len(in))
	for i, h := range in {
		ct, err := c.Ciphertext(h)
		if err != nil {
			return err
		}
		cts[i] = ct
	}
	c.put(out, f(cts...))
	return nil
}

func (c *Coprocessor) Add(out, a, b fhe.Handle) error {
	return c.linear(out, func(x ...betcrypto.Ciphertext) betcrypto.Ciphertext {
		return betcrypto.CiphertextAdd(x[0], x[1])
	}, a, b)
}

// Sub does not wrap: callers guard subtractions that could go negative.
func (c *Coprocessor) Sub(out, a, b fhe.Handle) error {
	return c.linear(out, func(x ...betcrypto.Ciphertext) betcrypto.Ciphertext {
		return betcrypto.CiphertextSub(x[0], x[1])
	}, a, b)
}

func (c *Coprocessor) MulConst(out, a fhe.Handle, k uint64) error {
	return c.linear(out, func(x ...betcrypto.Ciphertext) betcrypto.Ciphertext {
		return betcrypto.CiphertextMulConst(x[0], k)
	}, a)
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func (c *Coprocessor) EqConst(out, a fhe.Handle, k uint64) error {
	v, err := c.decrypt(a)
	if err != nil {
		return err
	}
	return c.reencrypt(out, b2u(v == k))
}

func (c *Coprocessor) compare(out, a, b fhe.Handle, f func(x, y uint64) bool) error {
	x, err := c.decrypt(a)
	if err != nil {
		return err
	}
	y, err := c.decrypt(b)
	if err != nil {
		return err
	}
	return c.reencrypt(out, b2u(f(x, y)))
}

func (c *Coprocessor) Ge(out, a, b fhe.Handle) error {
	return c.compare(out, a, b, func(x, y uint64) bool { return x >= y })
}

func (c *Coprocessor) And(out, a, b fhe.Handle) error {
	return c.compare(out, a, b, func(x, y uint64) bool { return x == 1 && y == 1 })
}

func (c *Coprocessor) Or(out, a, b fhe.Handle) error {
	return c.compare(out, a, b, func(x, y uint64) bool { return x == 1 || y == 1 })
}

// Select decrypts only the condition; the chosen branch is re-randomized
// so the output cannot be linked to either input ciphertext.
func (c *Coprocessor) Select(out, cond, a, b fhe.Handle) error {
	v, err := c.decrypt(cond)
	if err != nil {
		return err
	}
	src := b
	if v == 1 {
		src = a
	}
	ct, err := c.Ciphertext(src)
	if err != nil {
		return err
	}
	r, err := c.nonce(out)
	if err != nil {
		return err
	}
	zero, err := betcrypto.Encrypt(c.pk, 0, r)
	if err != nil {
		return err
	}
	c.put(out, betcrypto.CiphertextAdd(ct, zero))
	return nil
}

// Save writes the handle table as JSON (handle hex -> ciphertext bytes).
func (c *Coprocessor) Save(path string) error {
	c.mu.RLock()
	m := make(map[string][]byte, len(c.cts))
	for h, ct := range c.cts {
		m[h.String()] = ct.Bytes()
	}
	c.mu.RUnlock()

	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Load replaces the handle table with the file contents. A missing file is
// an empty table.
func (c *Coprocessor) Load(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var m map[string][]byte
	if err := json.Unmarshal(b, &m); err != nil {
		return fmt.Errorf("coprocessor: decode %s: %w", path, err)
	}
	cts := make(map[fhe.Handle]betcrypto.Ciphertext, len(m))
	for k, raw := range m {
		h, err := fhe.ParseHandle(k)
		if err != nil {
			return err
		}
		ct, err := betcrypto.CiphertextFromBytes(raw)
		if err != nil {
			return fmt.Errorf("coprocessor: handle %s: %w", k, err)
		}
		cts[h] = ct
	}
	c.mu.Lock()
	c.cts = cts
	c.mu.Unlock()
	return nil
}
