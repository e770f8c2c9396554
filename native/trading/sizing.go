package trading

import (
	"errors"
	"math/big"
)

var (
	errInvalidPrice  = errors.New("trade sizing: price must be positive")
	errInvalidAmount = errors.New("trade sizing: amount must be positive")
	errErrorTooWide  = errors.New("trade sizing: oracle error must leave a positive low price")
)

var (
	basisPoints = big.NewInt(10_000)
	wad         = mustBigInt("1000000000000000000") // 1e18 fixed-point base
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// ceilDiv divides a by b rounding toward positive infinity. Every division in
// the sizing math rounds this way so that repeated trades can never leak value
// to the counter-party through rounding.
func ceilDiv(a, b *big.Int) *big.Int {
	if b.Sign() == 0 {
		return big.NewInt(0)
	}
	q, r := new(big.Int).QuoRem(a, b, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

// discountedPrices derives the conservative two-sided bounds used by both
// sizing directions: the sell leg is priced at its low bound and the buy leg
// at its high bound, each widened by the oracle error.
func discountedPrices(sellPrice, buyPrice *big.Int, oracleErrorBps uint64) (*big.Int, *big.Int, error) {
	if sellPrice == nil || sellPrice.Sign() <= 0 || buyPrice == nil || buyPrice.Sign() <= 0 {
		return nil, nil, errInvalidPrice
	}
	if oracleErrorBps >= 10_000 {
		return nil, nil, errErrorTooWide
	}
	errBps := new(big.Int).SetUint64(oracleErrorBps)
	lowSell := new(big.Int).Sub(basisPoints, errBps)
	lowSell.Mul(lowSell, sellPrice)
	lowSell = ceilDiv(lowSell, basisPoints)
	highBuy := new(big.Int).Add(basisPoints, errBps)
	highBuy.Mul(highBuy, buyPrice)
	highBuy = ceilDiv(highBuy, basisPoints)
	if lowSell.Sign() <= 0 {
		return nil, nil, errErrorTooWide
	}
	return lowSell, highBuy, nil
}

// SellAmount returns the quantity of the sell asset that must be offered so
// that, even if the sell leg realises its low price bound and the buy leg its
// high bound, the auction still returns at least minBuyAmt of the buy asset
// after the slippage allowance. Amounts are wad-scaled token quantities and
// prices are wad-scaled target units per whole token.
func SellAmount(minBuyAmt, sellPrice, buyPrice *big.Int, oracleErrorBps, maxSlippageBps uint64) (*big.Int, error) {
	if minBuyAmt == nil || minBuyAmt.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	lowSell, highBuy, err := discountedPrices(sellPrice, buyPrice, oracleErrorBps)
	if err != nil {
		return nil, err
	}
	padded := new(big.Int).Add(basisPoints, new(big.Int).SetUint64(maxSlippageBps))
	padded.Mul(padded, minBuyAmt)
	padded = ceilDiv(padded, basisPoints)
	value := new(big.Int).Mul(padded, highBuy)
	value = ceilDiv(value, wad)
	sell := new(big.Int).Mul(value, wad)
	return ceilDiv(sell, lowSell), nil
}

// MinBuyAmount is the symmetric inverse of SellAmount: the floor guarantee
// offered to a counter-party buying sellAmt from the protocol. The same
// low-sell/high-buy bounds apply, with the slippage allowance deducted.
func MinBuyAmount(sellAmt, sellPrice, buyPrice *big.Int, oracleErrorBps, maxSlippageBps uint64) (*big.Int, error) {
	if sellAmt == nil || sellAmt.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	if maxSlippageBps >= 10_000 {
		return nil, errErrorTooWide
	}
	lowSell, highBuy, err := discountedPrices(sellPrice, buyPrice, oracleErrorBps)
	if err != nil {
		return nil, err
	}
	shaved := new(big.Int).Sub(basisPoints, new(big.Int).SetUint64(maxSlippageBps))
	shaved.Mul(shaved, sellAmt)
	shaved = ceilDiv(shaved, basisPoints)
	value := new(big.Int).Mul(shaved, lowSell)
	value = ceilDiv(value, wad)
	buy := new(big.Int).Mul(value, wad)
	return ceilDiv(buy, highBuy), nil
}
