package fhe

// Binding is the (environment, caller) pair an encrypted input must be bound to.
type Binding struct {
	ChainID string
	Caller  string
}

// ExternalInput is a client-encrypted input: one ciphertext per value plus a
// single validity proof covering all of them.
type ExternalInput struct {
	Ciphertexts [][]byte `json:"ciphertexts"`
	Types       []Type   `json:"types"`
	Proof       []byte   `json:"proof"`
}

// Backend is the encryption scheme behind the algebra. Every method
// materializes the ciphertext for the already-derived output handle, so a
// backend never chooses handles itself.
type Backend interface {
	VerifyInput(in ExternalInput, bind Binding) error
	Ingest(out Handle, ciphertext []byte) error
	Trivial(out Handle, v uint64) error

	Add(out, a, b Handle) error
	Sub(out, a, b Handle) error
	MulConst(out, a Handle, k uint64) error

	EqConst(out, a Handle, k uint64) error
	Ge(out, a, b Handle) error
	And(out, a, b Handle) error
	Or(out, a, b Handle) error
	Select(out, cond, a, b Handle) error
}
