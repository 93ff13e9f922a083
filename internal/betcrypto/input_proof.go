package betcrypto

import (
	"fmt"
	"io"
)

const (
	inputProofDomain = "cipherbet/v1/input-pok"
	inputProofBytes  = 2 * 32
)

// InputBinding ties an encrypted input to the chain and caller it was made for.
type InputBinding struct {
	ChainID string
	Caller  string
}

// inputProofItem proves knowledge of r with C1 = r*G for one ciphertext.
type inputProofItem struct {
	A Point  // w*G
	S Scalar // w + e*r
}

func inputTranscript(pk Point, bind InputBinding, cts []Ciphertext) *Transcript {
	tr := NewTranscript(inputProofDomain)
	_ = tr.AppendMessage("chain", []byte(bind.ChainID))
	_ = tr.AppendMessage("caller", []byte(bind.Caller))
	_ = tr.AppendMessage("pk", pk.Bytes())
	_ = tr.AppendMessage("n", u32le(uint32(len(cts))))
	for _, ct := range cts {
		_ = tr.AppendMessage("ct", ct.Bytes())
	}
	return tr
}

// ProveInputs proves knowledge of the encryption randomness of every ciphertext,
// under one challenge bound to the full input set. The result is the single
// proof blob submitted next to the ciphertexts.
func ProveInputs(rnd io.Reader, pk Point, bind InputBinding, cts []Ciphertext, rs []Scalar) ([]byte, error) {
	if len(cts) == 0 || len(cts) != len(rs) {
		return nil, fmt.Errorf("input proof: %d ciphertexts, %d witnesses", len(cts), len(rs))
	}
	ws := make([]Scalar, len(cts))
	as := make([]Point, len(cts))
	tr := inputTranscript(pk, bind, cts)
	for i := range cts {
		w, err := RandomScalar(rnd)
		if err != nil {
			return nil, err
		}
		ws[i], as[i] = w, MulBase(w)
		_ = tr.AppendMessage("a", as[i].Bytes())
	}
	e, err := tr.ChallengeScalar("e")
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(cts)*inputProofBytes)
	for i := range cts {
		out = append(out, as[i].Bytes()...)
		out = append(out, ScalarAdd(ws[i], ScalarMul(e, rs[i])).Bytes()...)
	}
	return out, nil
}

// VerifyInputs returns false (not an error) for a well-formed proof that does not verify.
func VerifyInputs(pk Point, bind InputBinding, cts []Ciphertext, proof []byte) (bool, error) {
	if len(cts) == 0 {
		return false, fmt.Errorf("input proof: no ciphertexts")
	}
	if len(proof) != len(cts)*inputProofBytes {
		return false, fmt.Errorf("input proof: expected %d bytes, got %d", len(cts)*inputProofBytes, len(proof))
	}
	items := make([]inputProofItem, len(cts))
	tr := inputTranscript(pk, bind, cts)
	for i := range cts {
		chunk := proof[i*inputProofBytes : (i+1)*inputProofBytes]
		a, err := PointFromBytesCanonical(chunk[:32])
		if err != nil {
			return false, fmt.Errorf("input proof a[%d]: %w", i, err)
		}
		s, err := ScalarFromBytesCanonical(chunk[32:])
		if err != nil {
			return false, fmt.Errorf("input proof s[%d]: %w", i, err)
		}
		items[i] = inputProofItem{A: a, S: s}
		_ = tr.AppendMessage("a", a.Bytes())
	}
	e, err := tr.ChallengeScalar("e")
	if err != nil {
		return false, err
	}
	for i, ct := range cts {
		// s*G == A + e*C1
		if !PointEq(MulBase(items[i].S), PointAdd(items[i].A, MulPoint(ct.C1, e))) {
			return false, nil
		}
	}
	return true, nil
}
