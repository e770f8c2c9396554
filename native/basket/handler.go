package basket

import (
	"errors"
	"fmt"
	"math/big"

	"rtoken/core/events"
	"rtoken/native/assets"
)

var (
	// ErrBasketDisabled reports an operation that requires a live basket while
	// the basket is DISABLED pending administrative repair.
	ErrBasketDisabled = errors.New("basket handler: basket disabled")
	// ErrEmptyPrime reports an attempt to install an empty prime basket.
	ErrEmptyPrime = errors.New("basket handler: prime basket must not be empty")
	// ErrUnknownAsset reports a prime entry naming unregistered collateral.
	ErrUnknownAsset = errors.New("basket handler: prime entry references unknown collateral")
	// ErrWeightSum reports prime quantities that do not price out to one unit
	// of their target at construction time.
	ErrWeightSum   = errors.New("basket handler: target-unit weights do not sum to one unit")
	errBadQuantity = errors.New("basket handler: quantity must be positive")
)

var wad = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// PriceView resolves conservative price bounds for an asset in wad-scaled
// target units per whole token. Implementations fold oracle-error widening and
// nested-instance resolution behind this interface.
type PriceView interface {
	Price(assetID string) (low, high *big.Int, err error)
}

// BalanceView reports the quantity of an underlying token held as backing.
type BalanceView interface {
	Holdings(token string) *big.Int
}

// PrimeEntry fixes the target quantity of one collateral per unit of token.
type PrimeEntry struct {
	CollateralID string
	Quantity     *big.Int // wad-scaled quantity per whole token
}

// RefEntry is one constituent of the reference basket: a prime entry whose
// collateral was SOUND at the last refresh.
type RefEntry struct {
	CollateralID string
	Token        string
	TargetUnit   string
	Quantity     *big.Int
}

// Handler derives the reference basket from the prime basket and the registry
// statuses, and owns the basket-level status machine. Baskets are recomputed,
// never mutated: every refresh installs a fresh generation atomically and the
// generation counter lets consumers detect that a snapshot they hold is stale.
type Handler struct {
	registry   *assets.Registry
	prime      []PrimeEntry
	reference  []RefEntry
	generation uint64
	disabled   bool
	lastStatus assets.Status
	emitter    events.Emitter
}

func NewHandler(registry *assets.Registry) *Handler {
	return &Handler{
		registry:   registry,
		disabled:   true, // no prime basket yet
		lastStatus: assets.StatusDisabled,
		emitter:    events.NoopEmitter{},
	}
}

// SetEmitter wires an event sink; nil restores the discard emitter.
func (h *Handler) SetEmitter(e events.Emitter) {
	if e == nil {
		e = events.NoopEmitter{}
	}
	h.emitter = e
}

// Generation returns the reference basket generation, bumped on every
// recompute.
func (h *Handler) Generation() uint64 { return h.generation }

// SetPrime validates and installs a new prime basket, then rebuilds the
// reference basket. This is the only path out of DISABLED. On any validation
// error the previous basket is retained untouched.
//
// Validity requires every entry to name registered collateral and, per target
// unit, the priced-out quantities to sum to exactly one unit of that target at
// current mid prices, within one rounding unit per entry.
func (h *Handler) SetPrime(entries []PrimeEntry, prices PriceView) error {
	if len(entries) == 0 {
		return ErrEmptyPrime
	}
	sums := make(map[string]*big.Int)
	counts := make(map[string]int64)
	for _, entry := range entries {
		if entry.Quantity == nil || entry.Quantity.Sign() <= 0 {
			return errBadQuantity
		}
		col, ok := h.registry.Get(entry.CollateralID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownAsset, entry.CollateralID)
		}
		low, high, err := prices.Price(entry.CollateralID)
		if err != nil {
			return fmt.Errorf("basket handler: price %s: %w", entry.CollateralID, err)
		}
		mid := new(big.Int).Add(low, high)
		mid.Rsh(mid, 1)
		value := new(big.Int).Mul(entry.Quantity, mid)
		value.Quo(value, wad)
		sum, ok := sums[col.TargetUnit]
		if !ok {
			sum = big.NewInt(0)
			sums[col.TargetUnit] = sum
		}
		sum.Add(sum, value)
		counts[col.TargetUnit]++
	}
	for target, sum := range sums {
		diff := new(big.Int).Sub(sum, wad)
		diff.Abs(diff)
		if diff.Cmp(big.NewInt(counts[target])) > 0 {
			return fmt.Errorf("%w: %s sums to %s", ErrWeightSum, target, sum)
		}
	}
	h.prime = make([]PrimeEntry, len(entries))
	for i, entry := range entries {
		h.prime[i] = PrimeEntry{CollateralID: entry.CollateralID, Quantity: new(big.Int).Set(entry.Quantity)}
	}
	h.disabled = false
	h.Refresh()
	return nil
}

// Prime returns a copy of the installed prime basket.
func (h *Handler) Prime() []PrimeEntry {
	out := make([]PrimeEntry, len(h.prime))
	for i, entry := range h.prime {
		out[i] = PrimeEntry{CollateralID: entry.CollateralID, Quantity: new(big.Int).Set(entry.Quantity)}
	}
	return out
}

// Reference returns the current reference basket snapshot and its generation.
func (h *Handler) Reference() ([]RefEntry, uint64) {
	out := make([]RefEntry, len(h.reference))
	for i, entry := range h.reference {
		out[i] = RefEntry{
			CollateralID: entry.CollateralID,
			Token:        entry.Token,
			TargetUnit:   entry.TargetUnit,
			Quantity:     new(big.Int).Set(entry.Quantity),
		}
	}
	return out, h.generation
}

// Refresh recomputes the reference basket from the prime basket, dropping
// collateral that is not currently SOUND. If any target unit loses all of its
// sound collateral the basket becomes DISABLED and stays so until a new prime
// basket is installed.
func (h *Handler) Refresh() assets.Status {
	if h.disabled {
		return h.transition(assets.StatusDisabled)
	}
	targets := make(map[string]bool)
	covered := make(map[string]bool)
	next := make([]RefEntry, 0, len(h.prime))
	iffy := false
	for _, entry := range h.prime {
		col, ok := h.registry.Get(entry.CollateralID)
		if !ok {
			continue
		}
		targets[col.TargetUnit] = true
		switch col.Status() {
		case assets.StatusSound:
			covered[col.TargetUnit] = true
			next = append(next, RefEntry{
				CollateralID: entry.CollateralID,
				Token:        col.Token,
				TargetUnit:   col.TargetUnit,
				Quantity:     new(big.Int).Set(entry.Quantity),
			})
		case assets.StatusIffy:
			iffy = true
		}
	}
	for target := range targets {
		if !covered[target] {
			h.disabled = true
			h.reference = nil
			h.generation++
			h.emitter.Emit(events.BasketRefreshed{Generation: h.generation, Assets: 0})
			return h.transition(assets.StatusDisabled)
		}
	}
	h.reference = next
	h.generation++
	h.emitter.Emit(events.BasketRefreshed{Generation: h.generation, Assets: len(next)})
	if iffy {
		return h.transition(assets.StatusIffy)
	}
	return h.transition(assets.StatusSound)
}

func (h *Handler) transition(next assets.Status) assets.Status {
	if next != h.lastStatus {
		h.emitter.Emit(events.BasketStatusChanged{
			Generation: h.generation,
			Previous:   h.lastStatus.String(),
			Current:    next.String(),
		})
		h.lastStatus = next
	}
	return next
}

// Status derives the basket's current status from its constituents without
// rebuilding the reference basket. DISABLED is sticky.
func (h *Handler) Status() assets.Status {
	if h.disabled {
		return assets.StatusDisabled
	}
	targets := make(map[string]bool)
	covered := make(map[string]bool)
	iffy := false
	for _, entry := range h.prime {
		col, ok := h.registry.Get(entry.CollateralID)
		if !ok {
			continue
		}
		targets[col.TargetUnit] = true
		switch col.Status() {
		case assets.StatusSound:
			covered[col.TargetUnit] = true
		case assets.StatusIffy:
			iffy = true
		}
	}
	for target := range targets {
		if !covered[target] {
			return assets.StatusDisabled
		}
	}
	if iffy {
		return assets.StatusIffy
	}
	return assets.StatusSound
}

// RequiredQuantity returns the reference-basket requirement of one collateral
// for the given circulating supply, rounded up so that a shortfall is never
// hidden by truncation.
func (h *Handler) RequiredQuantity(entry RefEntry, supply *big.Int) *big.Int {
	if supply == nil || supply.Sign() <= 0 {
		return big.NewInt(0)
	}
	required := new(big.Int).Mul(entry.Quantity, supply)
	rem := new(big.Int)
	required.QuoRem(required, wad, rem)
	if rem.Sign() != 0 {
		required.Add(required, big.NewInt(1))
	}
	return required
}

// FullyCollateralized reports whether, for every reference constituent, the
// held balance valued at its low price bound covers the basket-implied
// requirement for the circulating supply. The low bound is used on both sides;
// the midpoint is never consulted.
func (h *Handler) FullyCollateralized(supply *big.Int, holdings BalanceView, prices PriceView) (bool, error) {
	if h.disabled {
		return false, ErrBasketDisabled
	}
	if supply == nil || supply.Sign() == 0 {
		return true, nil
	}
	for _, entry := range h.reference {
		low, _, err := prices.Price(entry.CollateralID)
		if err != nil {
			return false, fmt.Errorf("basket handler: price %s: %w", entry.CollateralID, err)
		}
		required := h.RequiredQuantity(entry, supply)
		held := holdings.Holdings(entry.Token)
		heldValue := new(big.Int).Mul(held, low)
		requiredValue := new(big.Int).Mul(required, low)
		if heldValue.Cmp(requiredValue) < 0 {
			return false, nil
		}
	}
	return true, nil
}

// CollateralizationRatio returns conservatively-priced held backing over the
// basket-implied requirement, both valued at low bounds. A nil ratio means the
// requirement is zero (no supply).
func (h *Handler) CollateralizationRatio(supply *big.Int, holdings BalanceView, prices PriceView) (*big.Rat, error) {
	if h.disabled {
		return nil, ErrBasketDisabled
	}
	heldTotal := new(big.Int)
	requiredTotal := new(big.Int)
	for _, entry := range h.reference {
		low, _, err := prices.Price(entry.CollateralID)
		if err != nil {
			return nil, fmt.Errorf("basket handler: price %s: %w", entry.CollateralID, err)
		}
		required := h.RequiredQuantity(entry, supply)
		held := holdings.Holdings(entry.Token)
		heldTotal.Add(heldTotal, new(big.Int).Mul(held, low))
		requiredTotal.Add(requiredTotal, new(big.Int).Mul(required, low))
	}
	if requiredTotal.Sign() == 0 {
		return nil, nil
	}
	return new(big.Rat).SetFrac(heldTotal, requiredTotal), nil
}
