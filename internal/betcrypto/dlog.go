package betcrypto

import (
	"fmt"
	"sync"
)

const (
	// DecodeBound bounds every decodable value. Inputs are range-checked to
	// 32 bits at ingest; scaled costs and pool sums stay below 2^40.
	DecodeBound = uint64(1) << 40

	babySteps = uint64(1) << 16
)

var (
	babyOnce  sync.Once
	babyTable map[[PointBytes]byte]uint32
	giantStep Point // babySteps*G
)

func buildBabyTable() {
	babyTable = make(map[[PointBytes]byte]uint32, babySteps)
	g := PointBase()
	acc := PointZero()
	for j := uint64(0); j < babySteps; j++ {
		var k [PointBytes]byte
		copy(k[:], acc.Bytes())
		babyTable[k] = uint32(j)
		acc = PointAdd(acc, g)
	}
	giantStep = acc
}

// DiscreteLog recovers v from v*G for v in [0, DecodeBound) with
// baby-step/giant-step. Cost grows with v/2^16.
func DiscreteLog(p Point) (uint64, error) {
	babyOnce.Do(buildBabyTable)

	cur := p
	for i := uint64(0); i < DecodeBound/babySteps; i++ {
		var k [PointBytes]byte
		copy(k[:], cur.Bytes())
		if j, ok := babyTable[k]; ok {
			return i*babySteps + uint64(j), nil
		}
		cur = PointSub(cur, giantStep)
	}
	return 0, fmt.Errorf("dlog: value outside [0, 2^40)")
}

// DecryptValue decrypts ct with the full secret key. Only tests and devnet
// tooling hold the full key; the committee never reconstructs it.
func DecryptValue(sk Scalar, ct Ciphertext) (uint64, error) {
	return DiscreteLog(DecryptPoint(sk, ct))
}
