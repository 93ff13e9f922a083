package betcrypto

import "fmt"

const CiphertextBytes = 2 * PointBytes

// Ciphertext is an exponential ElGamal ciphertext in additive notation:
//
//	Enc(Y, v; r) = (r*G, v*G + r*Y)
//
// Component-wise addition of two ciphertexts encrypts the sum of the plaintexts.
type Ciphertext struct {
	C1 Point
	C2 Point
}

func Encrypt(pk Point, v uint64, r Scalar) (Ciphertext, error) {
	if r.IsZero() {
		// Zero randomness leaks the plaintext; use Trivial for public constants.
		return Ciphertext{}, fmt.Errorf("elgamal: r must be non-zero")
	}
	return Ciphertext{
		C1: MulBase(r),
		C2: PointAdd(ValuePoint(v), MulPoint(pk, r)),
	}, nil
}

// Trivial encrypts a public constant with zero randomness.
func Trivial(v uint64) Ciphertext {
	return Ciphertext{C1: PointZero(), C2: ValuePoint(v)}
}

// DecryptPoint returns v*G for the plaintext v: c2 - x*c1.
func DecryptPoint(sk Scalar, ct Ciphertext) Point {
	return PointSub(ct.C2, MulPoint(ct.C1, sk))
}

func CiphertextAdd(a, b Ciphertext) Ciphertext {
	return Ciphertext{C1: PointAdd(a.C1, b.C1), C2: PointAdd(a.C2, b.C2)}
}

func CiphertextSub(a, b Ciphertext) Ciphertext {
	return Ciphertext{C1: PointSub(a.C1, b.C1), C2: PointSub(a.C2, b.C2)}
}

func CiphertextMulConst(a Ciphertext, k uint64) Ciphertext {
	s := ScalarFromUint64(k)
	return Ciphertext{C1: MulPoint(a.C1, s), C2: MulPoint(a.C2, s)}
}

// Encoding: C1(32) || C2(32)
func (ct Ciphertext) Bytes() []byte {
	out := make([]byte, 0, CiphertextBytes)
	out = append(out, ct.C1.Bytes()...)
	return append(out, ct.C2.Bytes()...)
}

func CiphertextFromBytes(b []byte) (Ciphertext, error) {
	if len(b) != CiphertextBytes {
		return Ciphertext{}, fmt.Errorf("elgamal: expected %d bytes, got %d", CiphertextBytes, len(b))
	}
	c1, err := PointFromBytesCanonical(b[:PointBytes])
	if err != nil {
		return Ciphertext{}, fmt.Errorf("elgamal c1: %w", err)
	}
	c2, err := PointFromBytesCanonical(b[PointBytes:])
	if err != nil {
		return Ciphertext{}, fmt.Errorf("elgamal c2: %w", err)
	}
	return Ciphertext{C1: c1, C2: c2}, nil
}
