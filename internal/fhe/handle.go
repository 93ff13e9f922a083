package fhe

import (
	"encoding/hex"
	"fmt"
)

// Type is the plaintext type carried by a handle.
type Type uint8

const (
	Bool   Type = 0
	Uint8  Type = 2
	Uint32 Type = 4
)

const HandleVersion byte = 0

func (t Type) String() string {
	switch t {
	case Bool:
		return "ebool"
	case Uint8:
		return "euint8"
	case Uint32:
		return "euint32"
	default:
		return fmt.Sprintf("etype(%d)", uint8(t))
	}
}

func (t Type) Valid() bool {
	return t == Bool || t == Uint8 || t == Uint32
}

func (t Type) integer() bool {
	return t == Uint8 || t == Uint32
}

// Max returns the exclusive plaintext bound for values of type t.
func (t Type) Max() uint64 {
	switch t {
	case Bool:
		return 2
	case Uint8:
		return 1 << 8
	default:
		return 1 << 32
	}
}

// Handle names a ciphertext held by the backend. Byte 30 is the value type,
// byte 31 the handle version. The zero handle is "uninitialized".
type Handle [32]byte

func (h Handle) Type() Type {
	return Type(h[30])
}

func (h Handle) IsZero() bool {
	return h == Handle{}
}

func (h Handle) String() string {
	return hex.EncodeToString(h[:])
}

func (h Handle) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Handle) UnmarshalText(b []byte) error {
	parsed, err := ParseHandle(string(b))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

func ParseHandle(s string) (Handle, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Handle{}, fmt.Errorf("handle: %w", err)
	}
	if len(b) != len(Handle{}) {
		return Handle{}, fmt.Errorf("handle: expected 32 bytes, got %d", len(b))
	}
	var h Handle
	copy(h[:], b)
	if !h.IsZero() && !h.Type().Valid() {
		return Handle{}, fmt.Errorf("handle: unknown type byte %d", h[30])
	}
	return h, nil
}
