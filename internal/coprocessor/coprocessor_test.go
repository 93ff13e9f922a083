package coprocessor

import (
	"crypto/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"cipherbet/internal/betcrypto"
	"cipherbet/internal/fhe"
	"cipherbet/internal/kms"
)

type fixture struct {
	committee *kms.Committee
	cop       *Coprocessor
	alg       *fhe.Algebra
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	c, err := kms.NewCommittee(rand.Reader, 3, 2)
	require.NoError(t, err)
	cop := New(c.PubKey, c)
	return fixture{committee: c, cop: cop, alg: fhe.NewAlgebra(cop)}
}

func (f fixture) reveal(t *testing.T, h fhe.Handle) uint64 {
	t.Helper()
	ct, err := f.cop.Ciphertext(h)
	require.NoError(t, err)
	v, err := f.committee.Decrypt(ct)
	require.NoError(t, err)
	return v
}

func (f fixture) input(t *testing.T, bind fhe.Binding, dir, amount uint64) fhe.ExternalInput {
	t.Helper()
	in, err := EncryptInput(rand.Reader, f.cop.PublicKey(), bind, []fhe.Type{fhe.Uint8, fhe.Uint32}, dir, amount)
	require.NoError(t, err)
	return in
}

func TestCoprocessor_GuardedDebit(t *testing.T) {
	f := newFixture(t)
	bind := fhe.Binding{ChainID: "c", Caller: "alice"}
	hs, err := f.alg.FromExternal(f.input(t, bind, 1, 5), bind)
	require.NoError(t, err)
	amount := hs[1]

	balance, err := f.alg.Trivial(300, fhe.Uint32)
	require.NoError(t, err)
	zero, err := f.alg.Trivial(0, fhe.Uint32)
	require.NoError(t, err)

	cost, err := f.alg.MulConst(amount, 100)
	require.NoError(t, err)
	require.Equal(t, uint64(500), f.reveal(t, cost))

	ok, err := f.alg.Ge(balance, cost)
	require.NoError(t, err)
	require.Equal(t, uint64(0), f.reveal(t, ok))

	debit, err := f.alg.Select(ok, cost, zero)
	require.NoError(t, err)
	after, err := f.alg.Sub(balance, debit)
	require.NoError(t, err)
	require.Equal(t, uint64(300), f.reveal(t, after))
}

func TestCoprocessor_BooleanOps(t *testing.T) {
	f := newFixture(t)
	three, err := f.alg.Trivial(3, fhe.Uint8)
	require.NoError(t, err)

	is3, err := f.alg.EqConst(three, 3)
	require.NoError(t, err)
	is1, err := f.alg.EqConst(three, 1)
	require.NoError(t, err)

	and, err := f.alg.And(is3, is1)
	require.NoError(t, err)
	or, err := f.alg.Or(is3, is1)
	require.NoError(t, err)
	require.Equal(t, uint64(0), f.reveal(t, and))
	require.Equal(t, uint64(1), f.reveal(t, or))
}

func TestCoprocessor_SelectRerandomizes(t *testing.T) {
	f := newFixture(t)
	x, err := f.alg.Trivial(11, fhe.Uint32)
	require.NoError(t, err)
	y, err := f.alg.Trivial(22, fhe.Uint32)
	require.NoError(t, err)
	yes, err := f.alg.EqConst(x, 11)
	require.NoError(t, err)

	out, err := f.alg.Select(yes, x, y)
	require.NoError(t, err)
	require.Equal(t, uint64(11), f.reveal(t, out))

	in, err := f.cop.Ciphertext(x)
	require.NoError(t, err)
	got, err := f.cop.Ciphertext(out)
	require.NoError(t, err)
	require.NotEqual(t, in.Bytes(), got.Bytes())

	// Re-evaluating the same handle is deterministic.
	again := New(f.committee.PubKey, f.committee)
	alg2 := fhe.NewAlgebra(again)
	x2, _ := alg2.Trivial(11, fhe.Uint32)
	y2, _ := alg2.Trivial(22, fhe.Uint32)
	yes2, err := alg2.EqConst(x2, 11)
	require.NoError(t, err)
	out2, err := alg2.Select(yes2, x2, y2)
	require.NoError(t, err)
	require.Equal(t, out, out2)
	got2, err := again.Ciphertext(out2)
	require.NoError(t, err)
	require.Equal(t, got.Bytes(), got2.Bytes())
}

func TestCoprocessor_InputBinding(t *testing.T) {
	f := newFixture(t)
	alice := fhe.Binding{ChainID: "c", Caller: "alice"}
	in := f.input(t, alice, 2, 10)

	_, err := f.alg.FromExternal(in, fhe.Binding{ChainID: "c", Caller: "bob"})
	require.ErrorIs(t, err, fhe.ErrInvalidInput)

	tooBig := f.input(t, alice, 300, 10)
	_, err = f.alg.FromExternal(tooBig, alice)
	require.ErrorIs(t, err, fhe.ErrInvalidInput)

	hs, err := f.alg.FromExternal(in, alice)
	require.NoError(t, err)
	require.Equal(t, uint64(2), f.reveal(t, hs[0]))
	require.Equal(t, uint64(10), f.reveal(t, hs[1]))
}

func TestCoprocessor_SaveLoad(t *testing.T) {
	f := newFixture(t)
	h, err := f.alg.Trivial(77, fhe.Uint32)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "ciphertexts.json")
	require.NoError(t, f.cop.Save(path))

	back := New(f.committee.PubKey, f.committee)
	require.NoError(t, back.Load(path))
	require.Equal(t, f.cop.Len(), back.Len())
	ct, err := back.Ciphertext(h)
	require.NoError(t, err)
	v, err := f.committee.Decrypt(ct)
	require.NoError(t, err)
	require.Equal(t, uint64(77), v)

	require.NoError(t, New(f.committee.PubKey, f.committee).Load(filepath.Join(t.TempDir(), "missing.json")))
}

// Re-encrypted results must not be openable from public data: the handle,
// its ciphertext and the network key.
func TestCoprocessor_ResultsNeedCommitteeKey(t *testing.T) {
	f := newFixture(t)
	bind := fhe.Binding{ChainID: "c", Caller: "alice"}
	hs, err := f.alg.FromExternal(f.input(t, bind, 2, 7), bind)
	require.NoError(t, err)
	dir, amount := hs[0], hs[1]

	isAway, err := f.alg.EqConst(dir, 2)
	require.NoError(t, err)
	require.Equal(t, uint64(1), f.reveal(t, isAway))
	ct, err := f.cop.Ciphertext(isAway)
	require.NoError(t, err)

	public, err := betcrypto.HashToNonzeroScalar(reencryptDomain, isAway[:])
	require.NoError(t, err)
	require.False(t, betcrypto.PointEq(ct.C1, betcrypto.MulBase(public)))
	for _, bit := range []uint64{0, 1} {
		guess, err := betcrypto.Encrypt(f.cop.PublicKey(), bit, public)
		require.NoError(t, err)
		require.NotEqual(t, guess.Bytes(), ct.Bytes())
	}

	r, err := f.committee.Nonce(reencryptDomain, isAway[:])
	require.NoError(t, err)
	require.True(t, betcrypto.PointEq(ct.C1, betcrypto.MulBase(r)))

	zero, err := f.alg.Trivial(0, fhe.Uint32)
	require.NoError(t, err)
	stake, err := f.alg.Select(isAway, amount, zero)
	require.NoError(t, err)
	got, err := f.cop.Ciphertext(stake)
	require.NoError(t, err)
	src, err := f.cop.Ciphertext(amount)
	require.NoError(t, err)
	public, err = betcrypto.HashToNonzeroScalar(reencryptDomain, stake[:])
	require.NoError(t, err)
	mask, err := betcrypto.Encrypt(f.cop.PublicKey(), 0, public)
	require.NoError(t, err)
	require.NotEqual(t, betcrypto.CiphertextAdd(src, mask).Bytes(), got.Bytes())
	require.Equal(t, uint64(7), f.reveal(t, stake))
}
