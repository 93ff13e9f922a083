package coprocessor

import (
	"fmt"
	"io"

	"cipherbet/internal/betcrypto"
	"cipherbet/internal/fhe"
)

// EncryptInput is the client side of the input boundary: it encrypts vals
// under the network key and proves knowledge of the randomness, bound to
// (chain, caller).
func EncryptInput(rnd io.Reader, pk betcrypto.Point, bind fhe.Binding, types []fhe.Type, vals ...uint64) (fhe.ExternalInput, error) {
	if len(types) != len(vals) {
		return fhe.ExternalInput{}, fmt.Errorf("coprocessor: %d types for %d values", len(types), len(vals))
	}
	cts := make([]betcrypto.Ciphertext, len(vals))
	rs := make([]betcrypto.Scalar, len(vals))
	in := fhe.ExternalInput{Types: append([]fhe.Type(nil), types...)}
	for i, v := range vals {
		r, err := betcrypto.RandomScalar(rnd)
		if err != nil {
			return fhe.ExternalInput{}, err
		}
		ct, err := betcrypto.Encrypt(pk, v, r)
		if err != nil {
			return fhe.ExternalInput{}, err
		}
		cts[i], rs[i] = ct, r
		in.Ciphertexts = append(in.Ciphertexts, ct.Bytes())
	}
	proof, err := betcrypto.ProveInputs(rnd, pk, betcrypto.InputBinding{ChainID: bind.ChainID, Caller: bind.Caller}, cts, rs)
	if err != nil {
		return fhe.ExternalInput{}, err
	}
	in.Proof = proof
	return in, nil
}
