package betcrypto

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
)

const transcriptContext = "cipherbet/v1 transcript"

// Transcript is a Fiat-Shamir transcript over a BLAKE3 derive-key hasher.
// Every message is framed as len(label)||label||len(msg)||msg, and drawing a
// challenge does not consume the transcript.
type Transcript struct {
	h *blake3.Hasher
}

func NewTranscript(domainSep string) *Transcript {
	t := &Transcript{h: blake3.NewDeriveKey(transcriptContext)}
	t.frame([]byte("dom"), []byte(domainSep))
	return t
}

func (t *Transcript) frame(label, msg []byte) {
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(label)))
	_, _ = t.h.Write(n[:])
	_, _ = t.h.Write(label)
	binary.LittleEndian.PutUint32(n[:], uint32(len(msg)))
	_, _ = t.h.Write(n[:])
	_, _ = t.h.Write(msg)
}

func (t *Transcript) AppendMessage(label string, msg []byte) error {
	if t == nil || t.h == nil {
		return fmt.Errorf("transcript: not initialized")
	}
	if msg == nil {
		return fmt.Errorf("transcript: nil message for %q", label)
	}
	t.frame([]byte(label), msg)
	return nil
}

func (t *Transcript) wide(label string) ([]byte, error) {
	if t == nil || t.h == nil {
		return nil, fmt.Errorf("transcript: not initialized")
	}
	fork := t.h.Clone()
	_, _ = fork.Write([]byte("challenge:" + label))
	wide := make([]byte, 64)
	if _, err := io.ReadFull(fork.Digest(), wide); err != nil {
		return nil, fmt.Errorf("transcript: read digest: %w", err)
	}
	return wide, nil
}

// ChallengeScalar reads 64 bytes of XOF output for label and reduces them.
func (t *Transcript) ChallengeScalar(label string) (Scalar, error) {
	wide, err := t.wide(label)
	if err != nil {
		return Scalar{}, err
	}
	return ScalarFromUniformBytes(wide)
}

func hashTranscript(domainSep string, msgs [][]byte) (*Transcript, error) {
	t := NewTranscript(domainSep)
	for i, m := range msgs {
		if m == nil {
			return nil, fmt.Errorf("hash: message %d is nil", i)
		}
		t.frame(nil, m)
	}
	return t, nil
}

// HashToPoint maps a domain-separated message list to a group element whose
// discrete log nobody knows.
func HashToPoint(domainSep string, msgs ...[]byte) (Point, error) {
	t, err := hashTranscript(domainSep, msgs)
	if err != nil {
		return Point{}, err
	}
	wide, err := t.wide("point")
	if err != nil {
		return Point{}, err
	}
	var p Point
	p.v.FromUniformBytes(wide)
	return p, nil
}

// HashToScalar maps a domain-separated message list to a scalar.
func HashToScalar(domainSep string, msgs ...[]byte) (Scalar, error) {
	t, err := hashTranscript(domainSep, msgs)
	if err != nil {
		return Scalar{}, err
	}
	return t.ChallengeScalar("scalar")
}

// HashToNonzeroScalar appends a counter until the result is non-zero.
func HashToNonzeroScalar(domainSep string, msgs ...[]byte) (Scalar, error) {
	for counter := uint32(0); counter < 256; counter++ {
		all := msgs
		if counter > 0 {
			all = append(append([][]byte(nil), msgs...), u32le(counter))
		}
		s, err := HashToScalar(domainSep, all...)
		if err != nil {
			return Scalar{}, err
		}
		if !s.IsZero() {
			return s, nil
		}
	}
	return Scalar{}, fmt.Errorf("hash to scalar: no non-zero output for %q", domainSep)
}
