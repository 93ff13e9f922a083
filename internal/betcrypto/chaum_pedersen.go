package betcrypto

import (
	"errors"
	"fmt"
)

// ChaumPedersenProof is a non-interactive proof that the share key Y = x*G
// and the partial decryption D = x*C1 use the same x.
type ChaumPedersenProof struct {
	A Point
	B Point
	S Scalar
}

const (
	chaumPedersenDomain = "cipherbet/v1/partial-decryption"
	ChaumPedersenBytes  = 2*PointBytes + ScalarBytes
)

func partialChallenge(points ...Point) (Scalar, error) {
	tr := NewTranscript(chaumPedersenDomain)
	for i, p := range points {
		if err := tr.AppendMessage(fmt.Sprintf("p%d", i), p.Bytes()); err != nil {
			return Scalar{}, err
		}
	}
	return tr.ChallengeScalar("e")
}

// ChaumPedersenProve proves knowledge of x with nonce w.
func ChaumPedersenProve(y, c1, d Point, x, w Scalar) (ChaumPedersenProof, error) {
	if w.IsZero() {
		return ChaumPedersenProof{}, errors.New("betcrypto: zero proof nonce")
	}
	p := ChaumPedersenProof{A: MulBase(w), B: MulPoint(c1, w)}
	e, err := partialChallenge(y, c1, d, p.A, p.B)
	if err != nil {
		return ChaumPedersenProof{}, err
	}
	p.S = ScalarAdd(w, ScalarMul(e, x))
	return p, nil
}

func ChaumPedersenVerify(y, c1, d Point, p ChaumPedersenProof) (bool, error) {
	e, err := partialChallenge(y, c1, d, p.A, p.B)
	if err != nil {
		return false, err
	}
	okG := PointEq(MulBase(p.S), PointAdd(p.A, MulPoint(y, e)))
	okC := PointEq(MulPoint(c1, p.S), PointAdd(p.B, MulPoint(d, e)))
	return okG && okC, nil
}

func (p ChaumPedersenProof) Bytes() []byte {
	return concatBytes(p.A.Bytes(), p.B.Bytes(), p.S.Bytes())
}

func ChaumPedersenProofFromBytes(b []byte) (ChaumPedersenProof, error) {
	var p ChaumPedersenProof
	if len(b) != ChaumPedersenBytes {
		return p, fmt.Errorf("betcrypto: proof is %d bytes, want %d", len(b), ChaumPedersenBytes)
	}
	var err error
	if p.A, err = PointFromBytesCanonical(b[:PointBytes]); err != nil {
		return ChaumPedersenProof{}, err
	}
	if p.B, err = PointFromBytesCanonical(b[PointBytes : 2*PointBytes]); err != nil {
		return ChaumPedersenProof{}, err
	}
	if p.S, err = ScalarFromBytesCanonical(b[2*PointBytes:]); err != nil {
		return ChaumPedersenProof{}, err
	}
	return p, nil
}
