package betcrypto

import "fmt"

// LagrangeAtZero returns the coefficients λ_i for interpolating f(0) from
// the shares at x-coordinates ids. Ids must be distinct and non-zero.
func LagrangeAtZero(ids []uint32) ([]Scalar, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("lagrange: empty id set")
	}
	seen := make(map[uint32]struct{}, len(ids))
	for _, id := range ids {
		if id == 0 {
			return nil, fmt.Errorf("lagrange: id 0 is reserved")
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("lagrange: duplicate id %d", id)
		}
		seen[id] = struct{}{}
	}

	out := make([]Scalar, len(ids))
	for i, xi := range ids {
		num := ScalarFromUint64(1)
		den := ScalarFromUint64(1)
		sxi := ScalarFromUint64(uint64(xi))
		for j, xj := range ids {
			if i == j {
				continue
			}
			sxj := ScalarFromUint64(uint64(xj))
			// λ_i = Π x_j / (x_j - x_i)
			num = ScalarMul(num, sxj)
			den = ScalarMul(den, ScalarSub(sxj, sxi))
		}
		inv, err := ScalarInv(den)
		if err != nil {
			return nil, fmt.Errorf("lagrange: %w", err)
		}
		out[i] = ScalarMul(num, inv)
	}
	return out, nil
}

// EvalPoly evaluates coeffs[0] + coeffs[1]*x + ... at x.
func EvalPoly(coeffs []Scalar, x uint32) Scalar {
	sx := ScalarFromUint64(uint64(x))
	acc := ScalarZero()
	for i := len(coeffs) - 1; i >= 0; i-- {
		acc = ScalarAdd(ScalarMul(acc, sx), coeffs[i])
	}
	return acc
}
