package assets

import "math/big"

var basisPoints = big.NewInt(10_000)

// pegFloor is the lowest acceptable low-price bound before default is
// suspected: peg · (1 - threshold).
func pegFloor(col *Collateral) *big.Int {
	threshold := col.DefaultThresholdBps
	if threshold > 10_000 {
		threshold = 10_000
	}
	keep := new(big.Int).SetUint64(10_000 - threshold)
	floor := new(big.Int).Mul(col.PegPrice, keep)
	return floor.Quo(floor, basisPoints)
}
