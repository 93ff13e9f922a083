// Package betcrypto holds the ristretto255 primitives behind encrypted
// balances: exponential ElGamal, Chaum-Pedersen proofs of correct partial
// decryption, input validity proofs and a bounded discrete log.
package betcrypto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/gtank/ristretto255"
)

const (
	ScalarBytes = 32
	PointBytes  = 32
)

var ErrNonCanonical = errors.New("betcrypto: non-canonical encoding")

// Scalar wraps a ristretto255 scalar; the zero value is 0.
type Scalar struct{ v ristretto255.Scalar }

// Point wraps a ristretto255 element. Use PointZero for the identity.
type Point struct{ v ristretto255.Element }

func ScalarZero() Scalar { return Scalar{} }

func ScalarFromUint64(x uint64) Scalar {
	var buf [64]byte
	binary.LittleEndian.PutUint64(buf[:], x)
	var s Scalar
	s.v.FromUniformBytes(buf[:])
	return s
}

func ScalarFromUniformBytes(b []byte) (Scalar, error) {
	if len(b) != 64 {
		return Scalar{}, fmt.Errorf("betcrypto: uniform scalar input is %d bytes, want 64", len(b))
	}
	var s Scalar
	s.v.FromUniformBytes(b)
	return s, nil
}

func ScalarFromBytesCanonical(b []byte) (Scalar, error) {
	var s Scalar
	if len(b) != ScalarBytes {
		return s, fmt.Errorf("%w: scalar is %d bytes", ErrNonCanonical, len(b))
	}
	if _, err := s.v.SetCanonicalBytes(b); err != nil {
		return Scalar{}, fmt.Errorf("%w: scalar: %v", ErrNonCanonical, err)
	}
	return s, nil
}

// RandomScalar samples a non-zero scalar, giving up after a few zero draws.
func RandomScalar(r io.Reader) (Scalar, error) {
	buf := make([]byte, 64)
	for range 8 {
		if _, err := io.ReadFull(r, buf); err != nil {
			return Scalar{}, fmt.Errorf("betcrypto: randomness: %w", err)
		}
		if s, _ := ScalarFromUniformBytes(buf); !s.IsZero() {
			return s, nil
		}
	}
	return Scalar{}, errors.New("betcrypto: randomness source returned only zero scalars")
}

func (s Scalar) Bytes() []byte { return s.v.Bytes() }

func (s Scalar) IsZero() bool {
	zero := ScalarZero()
	return s.v.Equal(&zero.v) == 1
}

func ScalarAdd(a, b Scalar) (out Scalar) { out.v.Add(&a.v, &b.v); return }

func ScalarSub(a, b Scalar) (out Scalar) { out.v.Subtract(&a.v, &b.v); return }

func ScalarMul(a, b Scalar) (out Scalar) { out.v.Multiply(&a.v, &b.v); return }

func ScalarNeg(a Scalar) (out Scalar) { out.v.Negate(&a.v); return }

func ScalarInv(a Scalar) (Scalar, error) {
	if a.IsZero() {
		return Scalar{}, errors.New("betcrypto: zero has no inverse")
	}
	var out Scalar
	out.v.Invert(&a.v)
	return out, nil
}

func PointZero() (p Point) { p.v.Zero(); return }

func PointBase() (p Point) { p.v.Base(); return }

func PointFromBytesCanonical(b []byte) (Point, error) {
	var p Point
	if len(b) != PointBytes {
		return p, fmt.Errorf("%w: point is %d bytes", ErrNonCanonical, len(b))
	}
	if _, err := p.v.SetCanonicalBytes(b); err != nil {
		return Point{}, fmt.Errorf("%w: point: %v", ErrNonCanonical, err)
	}
	return p, nil
}

func (p Point) Bytes() []byte { return p.v.Bytes() }

func (p Point) IsIdentity() bool { return PointEq(p, PointZero()) }

func PointEq(a, b Point) bool { return a.v.Equal(&b.v) == 1 }

func PointAdd(a, b Point) (out Point) { out.v.Add(&a.v, &b.v); return }

func PointSub(a, b Point) (out Point) { out.v.Subtract(&a.v, &b.v); return }

func MulBase(k Scalar) (out Point) { out.v.ScalarBaseMult(&k.v); return }

func MulPoint(p Point, k Scalar) (out Point) { out.v.ScalarMult(&k.v, &p.v); return }

// ValuePoint maps v into the exponent, v*G.
func ValuePoint(v uint64) Point { return MulBase(ScalarFromUint64(v)) }

func u32le(x uint32) []byte { return binary.LittleEndian.AppendUint32(nil, x) }

func concatBytes(chunks ...[]byte) []byte {
	var out []byte
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}
