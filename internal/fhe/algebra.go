package fhe

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/zeebo/blake3"
)

var (
	ErrInvalidInput  = errors.New("fhe: invalid encrypted input")
	ErrTypeMismatch  = errors.New("fhe: type mismatch")
	ErrUninitialized = errors.New("fhe: uninitialized handle")
)

const handleDomain = "cipherbet/v1/handle"

type op byte

const (
	opInput op = iota + 1
	opTrivial
	opAdd
	opSub
	opMulConst
	opEqConst
	opGe
	opAnd
	opOr
	opSelect
)

// Algebra derives result handles and forwards each operation to the backend.
//
// Derivation is a pure function of the operation and its operands, so every
// replica computes the same handles for the same transaction sequence.
type Algebra struct {
	backend Backend
}

func NewAlgebra(b Backend) *Algebra {
	return &Algebra{backend: b}
}

func derive(o op, t Type, operands []Handle, consts ...[]byte) Handle {
	h := blake3.New()
	_, _ = h.Write([]byte(handleDomain))
	_, _ = h.Write([]byte{byte(o), byte(t)})
	for _, x := range operands {
		_, _ = h.Write(x[:])
	}
	for _, c := range consts {
		var l [4]byte
		binary.LittleEndian.PutUint32(l[:], uint32(len(c)))
		_, _ = h.Write(l[:])
		_, _ = h.Write(c)
	}
	var out Handle
	copy(out[:], h.Sum(nil))
	out[30] = byte(t)
	out[31] = HandleVersion
	return out
}

func u64(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}

// ordered sorts the operands of a commutative op so a+b and b+a share a handle.
func ordered(a, b Handle) []Handle {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return []Handle{a, b}
}

func needInit(hs ...Handle) error {
	for _, h := range hs {
		if h.IsZero() {
			return ErrUninitialized
		}
	}
	return nil
}

func needInteger(a, b Handle) error {
	if err := needInit(a, b); err != nil {
		return err
	}
	if !a.Type().integer() || a.Type() != b.Type() {
		return fmt.Errorf("%w: %s and %s", ErrTypeMismatch, a.Type(), b.Type())
	}
	return nil
}

func needBool(a, b Handle) error {
	if err := needInit(a, b); err != nil {
		return err
	}
	if a.Type() != Bool || b.Type() != Bool {
		return fmt.Errorf("%w: %s and %s, want ebool", ErrTypeMismatch, a.Type(), b.Type())
	}
	return nil
}

func (a *Algebra) Trivial(v uint64, t Type) (Handle, error) {
	if !t.Valid() {
		return Handle{}, fmt.Errorf("%w: %s", ErrTypeMismatch, t)
	}
	if v >= t.Max() {
		return Handle{}, fmt.Errorf("fhe: constant %d out of range for %s", v, t)
	}
	out := derive(opTrivial, t, nil, u64(v))
	if err := a.backend.Trivial(out, v); err != nil {
		return Handle{}, fmt.Errorf("fhe trivial: %w", err)
	}
	return out, nil
}

// FromExternal verifies the input proof against bind and ingests every
// ciphertext. Any failure is reported as ErrInvalidInput.
func (a *Algebra) FromExternal(in ExternalInput, bind Binding) ([]Handle, error) {
	if len(in.Ciphertexts) == 0 || len(in.Ciphertexts) != len(in.Types) {
		return nil, fmt.Errorf("%w: %d ciphertexts, %d types", ErrInvalidInput, len(in.Ciphertexts), len(in.Types))
	}
	for _, t := range in.Types {
		if !t.Valid() {
			return nil, fmt.Errorf("%w: type %s", ErrInvalidInput, t)
		}
	}
	if err := a.backend.VerifyInput(in, bind); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	out := make([]Handle, len(in.Ciphertexts))
	for i, ct := range in.Ciphertexts {
		h := derive(opInput, in.Types[i], nil, []byte(bind.ChainID), []byte(bind.Caller), ct, u64(uint64(i)))
		if err := a.backend.Ingest(h, ct); err != nil {
			return nil, fmt.Errorf("%w: ciphertext %d: %v", ErrInvalidInput, i, err)
		}
		out[i] = h
	}
	return out, nil
}

func (a *Algebra) Add(x, y Handle) (Handle, error) {
	if err := needInteger(x, y); err != nil {
		return Handle{}, err
	}
	out := derive(opAdd, x.Type(), ordered(x, y))
	if err := a.backend.Add(out, x, y); err != nil {
		return Handle{}, fmt.Errorf("fhe add: %w", err)
	}
	return out, nil
}

func (a *Algebra) Sub(x, y Handle) (Handle, error) {
	if err := needInteger(x, y); err != nil {
		return Handle{}, err
	}
	out := derive(opSub, x.Type(), []Handle{x, y})
	if err := a.backend.Sub(out, x, y); err != nil {
		return Handle{}, fmt.Errorf("fhe sub: %w", err)
	}
	return out, nil
}

func (a *Algebra) MulConst(x Handle, k uint64) (Handle, error) {
	if err := needInteger(x, x); err != nil {
		return Handle{}, err
	}
	out := derive(opMulConst, x.Type(), []Handle{x}, u64(k))
	if err := a.backend.MulConst(out, x, k); err != nil {
		return Handle{}, fmt.Errorf("fhe mul: %w", err)
	}
	return out, nil
}

func (a *Algebra) EqConst(x Handle, k uint64) (Handle, error) {
	if err := needInteger(x, x); err != nil {
		return Handle{}, err
	}
	out := derive(opEqConst, Bool, []Handle{x}, u64(k))
	if err := a.backend.EqConst(out, x, k); err != nil {
		return Handle{}, fmt.Errorf("fhe eq: %w", err)
	}
	return out, nil
}

func (a *Algebra) Ge(x, y Handle) (Handle, error) {
	if err := needInteger(x, y); err != nil {
		return Handle{}, err
	}
	out := derive(opGe, Bool, []Handle{x, y})
	if err := a.backend.Ge(out, x, y); err != nil {
		return Handle{}, fmt.Errorf("fhe ge: %w", err)
	}
	return out, nil
}

func (a *Algebra) And(x, y Handle) (Handle, error) {
	if err := needBool(x, y); err != nil {
		return Handle{}, err
	}
	out := derive(opAnd, Bool, ordered(x, y))
	if err := a.backend.And(out, x, y); err != nil {
		return Handle{}, fmt.Errorf("fhe and: %w", err)
	}
	return out, nil
}

func (a *Algebra) Or(x, y Handle) (Handle, error) {
	if err := needBool(x, y); err != nil {
		return Handle{}, err
	}
	out := derive(opOr, Bool, ordered(x, y))
	if err := a.backend.Or(out, x, y); err != nil {
		return Handle{}, fmt.Errorf("fhe or: %w", err)
	}
	return out, nil
}

// Select returns a handle to cond ? x : y without revealing cond.
func (a *Algebra) Select(cond, x, y Handle) (Handle, error) {
	if err := needInit(cond, x, y); err != nil {
		return Handle{}, err
	}
	if cond.Type() != Bool {
		return Handle{}, fmt.Errorf("%w: select condition is %s", ErrTypeMismatch, cond.Type())
	}
	if x.Type() != y.Type() {
		return Handle{}, fmt.Errorf("%w: select branches %s and %s", ErrTypeMismatch, x.Type(), y.Type())
	}
	out := derive(opSelect, x.Type(), []Handle{cond, x, y})
	if err := a.backend.Select(out, cond, x, y); err != nil {
		return Handle{}, fmt.Errorf("fhe select: %w", err)
	}
	return out, nil
}
