package fhe

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// plainBackend keeps plaintexts next to their handles. It exercises the
// algebra's derivation and type rules without any cryptography.
type plainBackend struct {
	vals map[Handle]uint64
}

func newPlainBackend() *plainBackend {
	return &plainBackend{vals: map[Handle]uint64{}}
}

func (p *plainBackend) get(h Handle) (uint64, error) {
	v, ok := p.vals[h]
	if !ok {
		return 0, errors.New("unknown handle")
	}
	return v, nil
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func (p *plainBackend) VerifyInput(in ExternalInput, bind Binding) error {
	if string(in.Proof) != bind.ChainID+"|"+bind.Caller {
		return errors.New("bad proof")
	}
	return nil
}

func (p *plainBackend) Ingest(out Handle, ct []byte) error {
	if len(ct) != 8 {
		return errors.New("bad ciphertext")
	}
	v := binary.LittleEndian.Uint64(ct)
	if v >= out.Type().Max() {
		return errors.New("out of range")
	}
	p.vals[out] = v
	return nil
}

func (p *plainBackend) Trivial(out Handle, v uint64) error { p.vals[out] = v; return nil }

func (p *plainBackend) binary(out, a, b Handle, f func(x, y uint64) uint64) error {
	x, err := p.get(a)
	if err != nil {
		return err
	}
	y, err := p.get(b)
	if err != nil {
		return err
	}
	p.vals[out] = f(x, y)
	return nil
}

func (p *plainBackend) Add(out, a, b Handle) error {
	return p.binary(out, a, b, func(x, y uint64) uint64 { return x + y })
}

func (p *plainBackend) Sub(out, a, b Handle) error {
	return p.binary(out, a, b, func(x, y uint64) uint64 { return x - y })
}

func (p *plainBackend) MulConst(out, a Handle, k uint64) error {
	return p.binary(out, a, a, func(x, _ uint64) uint64 { return x * k })
}

func (p *plainBackend) EqConst(out, a Handle, k uint64) error {
	return p.binary(out, a, a, func(x, _ uint64) uint64 { return b2u(x == k) })
}

func (p *plainBackend) Ge(out, a, b Handle) error {
	return p.binary(out, a, b, func(x, y uint64) uint64 { return b2u(x >= y) })
}

func (p *plainBackend) And(out, a, b Handle) error {
	return p.binary(out, a, b, func(x, y uint64) uint64 { return x & y })
}

func (p *plainBackend) Or(out, a, b Handle) error {
	return p.binary(out, a, b, func(x, y uint64) uint64 { return x | y })
}

func (p *plainBackend) Select(out, cond, a, b Handle) error {
	c, err := p.get(cond)
	if err != nil {
		return err
	}
	src := b
	if c == 1 {
		src = a
	}
	v, err := p.get(src)
	if err != nil {
		return err
	}
	p.vals[out] = v
	return nil
}

func plainInput(bind Binding, types []Type, vals ...uint64) ExternalInput {
	in := ExternalInput{Types: types, Proof: []byte(bind.ChainID + "|" + bind.Caller)}
	for _, v := range vals {
		ct := make([]byte, 8)
		binary.LittleEndian.PutUint64(ct, v)
		in.Ciphertexts = append(in.Ciphertexts, ct)
	}
	return in
}

func TestAlgebra_SelectFoldsWithoutBranching(t *testing.T) {
	be := newPlainBackend()
	alg := NewAlgebra(be)
	bind := Binding{ChainID: "c", Caller: "alice"}

	hs, err := alg.FromExternal(plainInput(bind, []Type{Uint8, Uint32}, 2, 7), bind)
	require.NoError(t, err)
	dir, amt := hs[0], hs[1]
	require.Equal(t, Uint8, dir.Type())
	require.Equal(t, Uint32, amt.Type())

	zero, err := alg.Trivial(0, Uint32)
	require.NoError(t, err)

	isHome, err := alg.EqConst(dir, 1)
	require.NoError(t, err)
	isAway, err := alg.EqConst(dir, 2)
	require.NoError(t, err)
	require.Equal(t, Bool, isAway.Type())

	home, err := alg.Select(isHome, amt, zero)
	require.NoError(t, err)
	away, err := alg.Select(isAway, amt, zero)
	require.NoError(t, err)
	require.Equal(t, uint64(0), be.vals[home])
	require.Equal(t, uint64(7), be.vals[away])
}

func TestAlgebra_DerivationIsDeterministic(t *testing.T) {
	a1 := NewAlgebra(newPlainBackend())
	a2 := NewAlgebra(newPlainBackend())

	x1, err := a1.Trivial(3, Uint32)
	require.NoError(t, err)
	x2, err := a2.Trivial(3, Uint32)
	require.NoError(t, err)
	require.Equal(t, x1, x2)

	y, err := a1.Trivial(4, Uint32)
	require.NoError(t, err)
	_, err = a2.Trivial(4, Uint32)
	require.NoError(t, err)

	s1, err := a1.Add(x1, y)
	require.NoError(t, err)
	s2, err := a2.Add(y, x2)
	require.NoError(t, err)
	require.Equal(t, s1, s2, "add handles are order independent")

	d1, err := a1.Sub(x1, y)
	require.NoError(t, err)
	d2, err := a1.Sub(y, x1)
	require.NoError(t, err)
	require.NotEqual(t, d1, d2)
}

func TestAlgebra_TypeRules(t *testing.T) {
	alg := NewAlgebra(newPlainBackend())
	u8, err := alg.Trivial(1, Uint8)
	require.NoError(t, err)
	u32, err := alg.Trivial(1, Uint32)
	require.NoError(t, err)
	b, err := alg.EqConst(u8, 1)
	require.NoError(t, err)

	_, err = alg.Add(u8, u32)
	require.ErrorIs(t, err, ErrTypeMismatch)
	_, err = alg.Add(b, b)
	require.ErrorIs(t, err, ErrTypeMismatch)
	_, err = alg.And(u8, b)
	require.ErrorIs(t, err, ErrTypeMismatch)
	_, err = alg.Select(u32, u32, u32)
	require.ErrorIs(t, err, ErrTypeMismatch)
	_, err = alg.Select(b, u8, u32)
	require.ErrorIs(t, err, ErrTypeMismatch)
	_, err = alg.Add(Handle{}, u32)
	require.ErrorIs(t, err, ErrUninitialized)
	_, err = alg.Trivial(256, Uint8)
	require.Error(t, err)
}

func TestAlgebra_FromExternalRejectsForeignBinding(t *testing.T) {
	alg := NewAlgebra(newPlainBackend())
	alice := Binding{ChainID: "c", Caller: "alice"}
	in := plainInput(alice, []Type{Uint8, Uint32}, 1, 5)

	_, err := alg.FromExternal(in, Binding{ChainID: "c", Caller: "bob"})
	require.ErrorIs(t, err, ErrInvalidInput)

	bad := plainInput(alice, []Type{Uint8, Uint32}, 300, 5)
	_, err = alg.FromExternal(bad, alice)
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = alg.FromExternal(ExternalInput{Types: []Type{Uint8}}, alice)
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestHandle_TextRoundTrip(t *testing.T) {
	alg := NewAlgebra(newPlainBackend())
	h, err := alg.Trivial(9, Uint32)
	require.NoError(t, err)

	var back Handle
	require.NoError(t, back.UnmarshalText([]byte(h.String())))
	require.Equal(t, h, back)

	_, err = ParseHandle("zz")
	require.Error(t, err)
}
