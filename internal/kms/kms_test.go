package kms

import (
	"crypto/rand"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"cipherbet/internal/betcrypto"
	"cipherbet/internal/fhe"
	"cipherbet/internal/oracle"
)

type mapSource map[fhe.Handle]betcrypto.Ciphertext

func (m mapSource) Ciphertext(h fhe.Handle) (betcrypto.Ciphertext, error) {
	ct, ok := m[h]
	if !ok {
		return betcrypto.Ciphertext{}, fmt.Errorf("unknown handle %s", h)
	}
	return ct, nil
}

func encrypt(t *testing.T, pk betcrypto.Point, v uint64) betcrypto.Ciphertext {
	t.Helper()
	r, err := betcrypto.RandomScalar(rand.Reader)
	require.NoError(t, err)
	ct, err := betcrypto.Encrypt(pk, v, r)
	require.NoError(t, err)
	return ct
}

func TestCommittee_ThresholdDecrypt(t *testing.T) {
	c, err := NewCommittee(rand.Reader, 5, 3)
	require.NoError(t, err)

	ct := encrypt(t, c.PubKey, 99500)
	v, err := c.Decrypt(ct)
	require.NoError(t, err)
	require.Equal(t, uint64(99500), v)
}

func TestCombine_AnySubsetOfThreshold(t *testing.T) {
	c, err := NewCommittee(rand.Reader, 4, 2)
	require.NoError(t, err)
	ct := encrypt(t, c.PubKey, 15)

	for _, pair := range [][2]int{{0, 1}, {1, 3}, {2, 3}} {
		var ps []Partial
		for _, i := range pair {
			p, err := c.Members[i].PartialDecrypt(rand.Reader, ct)
			require.NoError(t, err)
			ps = append(ps, p)
		}
		pt, err := Combine(ct, ps, c.shareKeys(), c.Threshold)
		require.NoError(t, err)
		v, err := betcrypto.DiscreteLog(pt)
		require.NoError(t, err)
		require.Equal(t, uint64(15), v)
	}
}

func TestCombine_SkipsForgedPartials(t *testing.T) {
	c, err := NewCommittee(rand.Reader, 3, 2)
	require.NoError(t, err)
	ct := encrypt(t, c.PubKey, 7)

	good, err := c.Members[0].PartialDecrypt(rand.Reader, ct)
	require.NoError(t, err)
	forged, err := c.Members[1].PartialDecrypt(rand.Reader, ct)
	require.NoError(t, err)
	forged.Share = betcrypto.PointAdd(forged.Share, betcrypto.PointBase())

	_, err = Combine(ct, []Partial{good, forged}, c.shareKeys(), c.Threshold)
	require.ErrorIs(t, err, ErrInsufficientShares)

	// The same member twice counts once.
	_, err = Combine(ct, []Partial{good, good}, c.shareKeys(), c.Threshold)
	require.ErrorIs(t, err, ErrInsufficientShares)
}

func TestOracle_FulfillSatisfiesPolicy(t *testing.T) {
	c, err := NewCommittee(rand.Reader, 3, 2)
	require.NoError(t, err)
	h := fhe.Handle{1, 2, 3, 30: byte(fhe.Uint32)}
	o := NewOracle(c, mapSource{h: encrypt(t, c.PubKey, 42)})

	f, sigs, err := o.Fulfill("cipherbet-test", 9, oracle.KindUserBet, []fhe.Handle{h})
	require.NoError(t, err)
	require.Equal(t, []uint64{42}, f.Values)
	require.NoError(t, c.Policy().Verify(f, sigs))

	_, _, err = o.Fulfill("cipherbet-test", 9, oracle.KindUserBet, []fhe.Handle{{9}})
	require.Error(t, err)
}

func TestOracle_ViewRequiresGrant(t *testing.T) {
	c, err := NewCommittee(rand.Reader, 2, 2)
	require.NoError(t, err)
	h := fhe.Handle{7, 30: byte(fhe.Uint32)}
	o := NewOracle(c, mapSource{h: encrypt(t, c.PubKey, 5)})

	v, err := o.View(h, "alice", []string{"alice", "bob"})
	require.NoError(t, err)
	require.Equal(t, uint64(5), v)

	_, err = o.View(h, "mallory", []string{"alice"})
	require.ErrorIs(t, err, ErrNotGranted)
}

func TestCommittee_SaveLoad(t *testing.T) {
	c, err := NewCommittee(rand.Reader, 3, 2)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "kms.json")
	require.NoError(t, c.Save(path))

	back, err := Load(path, rand.Reader)
	require.NoError(t, err)
	require.Equal(t, c.Threshold, back.Threshold)
	require.True(t, betcrypto.PointEq(c.PubKey, back.PubKey))
	require.Equal(t, c.Policy(), back.Policy())

	ct := encrypt(t, c.PubKey, 1234)
	v, err := back.Decrypt(ct)
	require.NoError(t, err)
	require.Equal(t, uint64(1234), v)
}

func TestNewCommittee_RejectsBadThreshold(t *testing.T) {
	_, err := NewCommittee(rand.Reader, 2, 3)
	require.Error(t, err)
	_, err = NewCommittee(rand.Reader, 2, 0)
	require.Error(t, err)
}

func TestNonce_KeyedByNetworkSecret(t *testing.T) {
	c, err := NewCommittee(rand.Reader, 3, 2)
	require.NoError(t, err)

	a, err := c.Nonce("d", []byte("handle-1"))
	require.NoError(t, err)
	require.False(t, a.IsZero())
	again, err := c.Nonce("d", []byte("handle-1"))
	require.NoError(t, err)
	require.Equal(t, a.Bytes(), again.Bytes())

	b, err := c.Nonce("d", []byte("handle-2"))
	require.NoError(t, err)
	require.NotEqual(t, a.Bytes(), b.Bytes())
	other, err := c.Nonce("e", []byte("handle-1"))
	require.NoError(t, err)
	require.NotEqual(t, a.Bytes(), other.Bytes())

	// Reloaded shares give the same value; another committee does not.
	path := filepath.Join(t.TempDir(), "committee.json")
	require.NoError(t, c.Save(path))
	back, err := Load(path, rand.Reader)
	require.NoError(t, err)
	fromDisk, err := back.Nonce("d", []byte("handle-1"))
	require.NoError(t, err)
	require.Equal(t, a.Bytes(), fromDisk.Bytes())

	c2, err := NewCommittee(rand.Reader, 3, 2)
	require.NoError(t, err)
	foreign, err := c2.Nonce("d", []byte("handle-1"))
	require.NoError(t, err)
	require.NotEqual(t, a.Bytes(), foreign.Bytes())
}
