package oracle

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

type signer struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

func newSigners(t *testing.T, n int) []signer {
	t.Helper()
	out := make([]signer, n)
	for i := range out {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)
		out[i] = signer{pub: pub, priv: priv}
	}
	return out
}

func policyOf(threshold uint32, ss []signer) Policy {
	p := Policy{Threshold: threshold}
	for _, s := range ss {
		p.Signers = append(p.Signers, []byte(s.pub))
	}
	return p
}

func sign(t *testing.T, f Fulfillment, ss ...signer) []Signature {
	t.Helper()
	msg, err := SignBytes(f)
	require.NoError(t, err)
	out := make([]Signature, 0, len(ss))
	for _, s := range ss {
		out = append(out, Signature{PubKey: s.pub, Sig: ed25519.Sign(s.priv, msg)})
	}
	return out
}

func TestPolicy_ThresholdOfDistinctSigners(t *testing.T) {
	ss := newSigners(t, 3)
	p := policyOf(2, ss)
	require.NoError(t, p.Validate())

	f := Fulfillment{ChainID: "c", RequestID: 7, Kind: KindMatchTotals, Values: []uint64{10, 5, 0, 15}}

	require.NoError(t, p.Verify(f, sign(t, f, ss[0], ss[2])))

	one := sign(t, f, ss[1])
	require.ErrorIs(t, p.Verify(f, one), ErrBadSignatures)

	// The same signer twice counts once.
	dup := append(sign(t, f, ss[1]), sign(t, f, ss[1])...)
	require.ErrorIs(t, p.Verify(f, dup), ErrBadSignatures)

	// Signers outside the policy do not count.
	outsiders := newSigners(t, 2)
	require.ErrorIs(t, p.Verify(f, sign(t, f, outsiders...)), ErrBadSignatures)
}

func TestPolicy_SignaturesCoverExactTuple(t *testing.T) {
	ss := newSigners(t, 2)
	p := policyOf(2, ss)
	f := Fulfillment{ChainID: "c", RequestID: 1, Kind: KindMatchTotals, Values: []uint64{10, 5, 0, 15}}
	sigs := sign(t, f, ss...)

	tampered := f
	tampered.Values = []uint64{5, 10, 0, 15}
	require.ErrorIs(t, p.Verify(tampered, sigs), ErrBadSignatures)

	otherID := f
	otherID.RequestID = 2
	require.ErrorIs(t, p.Verify(otherID, sigs), ErrBadSignatures)

	otherKind := f
	otherKind.Kind = KindUserBet
	require.ErrorIs(t, p.Verify(otherKind, sigs), ErrBadSignatures)

	otherChain := f
	otherChain.ChainID = "d"
	require.ErrorIs(t, p.Verify(otherChain, sigs), ErrBadSignatures)
}

func TestPolicy_Validate(t *testing.T) {
	ss := newSigners(t, 2)
	require.Error(t, Policy{}.Validate())
	require.Error(t, policyOf(3, ss).Validate())
	require.Error(t, Policy{Threshold: 1, Signers: [][]byte{ss[0].pub, ss[0].pub}}.Validate())
	require.Error(t, Policy{Threshold: 1, Signers: [][]byte{{1, 2, 3}}}.Validate())
}

func TestKind_JSON(t *testing.T) {
	b, err := json.Marshal(struct {
		K Kind `json:"k"`
	}{KindUserBet})
	require.NoError(t, err)
	require.JSONEq(t, `{"k":"user_bet"}`, string(b))

	var k Kind
	require.Error(t, k.UnmarshalText([]byte("nope")))
}
