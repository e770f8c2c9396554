package core

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"rtoken/core/events"
	"rtoken/native/assets"
	"rtoken/native/backing"
	"rtoken/native/basket"
	"rtoken/native/common"
	"rtoken/native/oracle"
	"rtoken/native/revenue"
	"rtoken/native/token"
	"rtoken/native/trading"
)

var (
	// ErrIssuanceFrozen reports an issue attempt while the basket is DISABLED.
	ErrIssuanceFrozen = errors.New("instance: issuance frozen while basket disabled")
	// ErrPriceUnavailable reports a price resolution failure for an asset.
	ErrPriceUnavailable = errors.New("instance: price unavailable")
	// ErrNestingTooDeep reports price resolution crossing more nesting levels
	// than permitted.
	ErrNestingTooDeep = errors.New("instance: nesting depth exceeded")
	errInvalidAmount  = errors.New("instance: amount must be positive")
)

const issueModule = "issuance"

var (
	wad         = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	basisPoints = big.NewInt(10_000)
)

// Params fixes one instance's economic configuration. All values are immutable
// after construction except through explicit administrative calls on the
// component engines.
type Params struct {
	TokenSymbol    string
	StakeSymbol    string
	OracleErrorBps uint64
	MaxSlippageBps uint64
	MinTradeVolume *big.Int
	MaxTradeVolume *big.Int
	MeltShareBps   uint64
	RewardPeriod   time.Duration
	PriceTimeout   time.Duration
	PriceStaleness time.Duration
}

// Instance wires one complete basket-backed token system: registry, basket
// handler, backing manager, revenue distribution and price resolution. Its
// token can in turn serve as collateral in another Instance; the two only ever
// relate through read-only price and status lookups.
type Instance struct {
	params   Params
	ledger   token.Ledger
	source   oracle.Source
	decay    oracle.Decay
	registry *assets.Registry
	handler  *basket.Handler
	broker   *trading.Broker
	furnace  *revenue.Furnace
	dist     *revenue.Distributor
	manager  *backing.Manager
	pauses   common.PauseView
	lock     common.ReentrancyLock
	emitter  events.Emitter
}

// New assembles an instance over the given ledger and price source.
func New(params Params, ledger token.Ledger, source oracle.Source) (*Instance, error) {
	if params.TokenSymbol == "" || params.StakeSymbol == "" {
		return nil, errors.New("instance: token and stake symbols are required")
	}
	if ledger == nil || source == nil {
		return nil, errors.New("instance: ledger and price source are required")
	}
	decay := oracle.Decay{Timeout: params.PriceTimeout, Ceiling: params.PriceStaleness}
	inst := &Instance{
		params:  params,
		ledger:  ledger,
		source:  source,
		decay:   decay,
		broker:  trading.NewBroker(),
		emitter: events.NoopEmitter{},
	}
	inst.registry = assets.NewRegistry(params.TokenSymbol, decay)
	inst.handler = basket.NewHandler(inst.registry)
	inst.furnace = revenue.NewFurnace(ledger, params.TokenSymbol, params.RewardPeriod)
	dist, err := revenue.NewDistributor(revenue.Config{
		TokenSymbol:    params.TokenSymbol,
		StakeSymbol:    params.StakeSymbol,
		MeltShareBps:   params.MeltShareBps,
		OracleErrorBps: params.OracleErrorBps,
		MaxSlippageBps: params.MaxSlippageBps,
	}, ledger, inst.furnace, inst.broker, instancePrices{inst})
	if err != nil {
		return nil, err
	}
	inst.dist = dist
	manager, err := backing.NewManager(backing.Config{
		TokenSymbol:    params.TokenSymbol,
		StakeSymbol:    params.StakeSymbol,
		OracleErrorBps: params.OracleErrorBps,
		MaxSlippageBps: params.MaxSlippageBps,
		MinTradeVolume: params.MinTradeVolume,
		MaxTradeVolume: params.MaxTradeVolume,
	}, inst.registry, inst.handler, ledger, inst.broker, dist, instancePrices{inst})
	if err != nil {
		return nil, err
	}
	inst.manager = manager
	return inst, nil
}

// SetEmitter wires an event sink through every component.
func (in *Instance) SetEmitter(e events.Emitter) {
	if e == nil {
		e = events.NoopEmitter{}
	}
	in.emitter = e
	in.handler.SetEmitter(e)
	in.furnace.SetEmitter(e)
	in.dist.SetEmitter(e)
	in.manager.SetEmitter(e)
}

// SetPauses wires the administrative pause switches through every component.
func (in *Instance) SetPauses(p common.PauseView) {
	in.pauses = p
	in.dist.SetPauses(p)
	in.manager.SetPauses(p)
}

// Registry exposes the collateral registry for administrative calls.
func (in *Instance) Registry() *assets.Registry { return in.registry }

// Basket exposes the basket handler for administrative calls.
func (in *Instance) Basket() *basket.Handler { return in.handler }

// Backing exposes the backing manager, primarily for trade settlement.
func (in *Instance) Backing() *backing.Manager { return in.manager }

// Revenue exposes the revenue distributor, primarily for trade settlement.
func (in *Instance) Revenue() *revenue.Distributor { return in.dist }

// Furnace exposes the melting mechanism.
func (in *Instance) Furnace() *revenue.Furnace { return in.furnace }

// Broker exposes the trade broker for inspection.
func (in *Instance) Broker() *trading.Broker { return in.broker }

// instancePrices adapts the instance's price resolution to the PriceView
// interfaces consumed by the basket, backing and revenue packages.
type instancePrices struct{ in *Instance }

func (p instancePrices) Price(id string) (*big.Int, *big.Int, error) {
	return p.in.resolvePrice(id, 0, time.Now())
}

// Price returns the conservative price bounds for a registered collateral or
// the configured stake symbol.
func (in *Instance) Price(id string) (low, high *big.Int, err error) {
	return in.resolvePrice(id, 0, time.Now())
}

// resolvePrice resolves an asset's price. For collateral backed by another
// instance it recurses into that instance's own conservative price and then
// compounds this instance's oracle-error/slippage discount exactly once, so
// confidence strictly narrows with depth.
func (in *Instance) resolvePrice(id string, depth int, now time.Time) (*big.Int, *big.Int, error) {
	if depth > assets.MaxNestingDepth {
		return nil, nil, ErrNestingTooDeep
	}
	if col, ok := in.registry.Get(id); ok && col.Issuer != nil {
		innerLow, innerHigh, err := col.Issuer.LotPrice(depth + 1)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %s: %v", ErrPriceUnavailable, id, err)
		}
		return in.discountNested(innerLow), in.inflateNested(innerHigh), nil
	}
	quote, err := in.source.CurrentPrice(in.quoteKey(id))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrPriceUnavailable, id, err)
	}
	effBps, usable := in.decay.EffectiveErrorBps(in.params.OracleErrorBps, now.Sub(quote.Timestamp))
	if !usable {
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrPriceUnavailable, id, oracle.ErrStaleQuote)
	}
	low := mulBps(quote.Low, 10_000-effBps)
	high := mulBps(quote.High, 10_000+effBps)
	if low.Sign() <= 0 {
		return nil, nil, fmt.Errorf("%w: %s", ErrPriceUnavailable, id)
	}
	return low, high, nil
}

// quoteKey maps a collateral id to its oracle feed key: the underlying token
// symbol when registered, the id itself otherwise (stake token and friends).
func (in *Instance) quoteKey(id string) string {
	if col, ok := in.registry.Get(id); ok {
		return col.Token
	}
	return id
}

func (in *Instance) discountNested(innerLow *big.Int) *big.Int {
	low := mulBps(innerLow, 10_000-in.params.OracleErrorBps)
	return mulBps(low, 10_000-in.params.MaxSlippageBps)
}

func (in *Instance) inflateNested(innerHigh *big.Int) *big.Int {
	return mulBps(innerHigh, 10_000+in.params.OracleErrorBps)
}

func mulBps(v *big.Int, bps uint64) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(v, new(big.Int).SetUint64(bps))
	return out.Quo(out, basisPoints)
}

// Symbol implements assets.Issuer.
func (in *Instance) Symbol() string { return in.params.TokenSymbol }

// BackingIssuers implements assets.Issuer by listing nested issuers among this
// instance's registered collateral.
func (in *Instance) BackingIssuers() []assets.Issuer {
	var out []assets.Issuer
	for _, col := range in.registry.List() {
		if col.Issuer != nil {
			out = append(out, col.Issuer)
		}
	}
	return out
}

// LotPrice implements assets.Issuer: the conservative price of one token of
// this instance, derived from its reference basket and constituent prices.
// The caller, not this instance, applies any outer discount.
func (in *Instance) LotPrice(depth int) (*big.Int, *big.Int, error) {
	if depth > assets.MaxNestingDepth {
		return nil, nil, ErrNestingTooDeep
	}
	reference, _ := in.handler.Reference()
	if len(reference) == 0 {
		return nil, nil, fmt.Errorf("%w: %s has no reference basket", ErrPriceUnavailable, in.params.TokenSymbol)
	}
	now := time.Now()
	lowTotal := new(big.Int)
	highTotal := new(big.Int)
	for _, entry := range reference {
		low, high, err := in.resolvePrice(entry.CollateralID, depth, now)
		if err != nil {
			return nil, nil, err
		}
		lowTotal.Add(lowTotal, mulWad(entry.Quantity, low))
		highTotal.Add(highTotal, mulWad(entry.Quantity, high))
	}
	return lowTotal, highTotal, nil
}

func mulWad(a, b *big.Int) *big.Int {
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, wad)
}

// RefreshAll pulls fresh prices for every registered collateral, drives the
// per-collateral status machines and then recomputes the reference basket.
func (in *Instance) RefreshAll(now time.Time) assets.Status {
	for _, col := range in.registry.List() {
		quote := in.collateralQuote(col, now)
		_, _ = in.registry.Refresh(col.ID, quote, now)
	}
	return in.handler.Refresh()
}

// collateralQuote builds the status-machine input for one collateral: the raw
// oracle quote for plain assets, a synthetic spot quote for nested ones. A nil
// return disables the asset.
func (in *Instance) collateralQuote(col assets.Collateral, now time.Time) *oracle.Quote {
	if col.Issuer != nil {
		low, high, err := col.Issuer.LotPrice(1)
		if err != nil {
			return nil
		}
		return &oracle.Quote{Low: low, High: high, Timestamp: now, Source: col.Issuer.Symbol()}
	}
	quote, err := in.source.CurrentPrice(col.Token)
	if err != nil {
		return nil
	}
	return &quote
}

// Issue mints amount of the token to the holder against a deposit of the
// basket-implied collateral quanta, rounded up per constituent. Issuance is
// frozen while the basket is DISABLED.
func (in *Instance) Issue(holder string, amount *big.Int) error {
	if err := common.Guard(in.pauses, issueModule); err != nil {
		return err
	}
	if err := in.lock.Enter(); err != nil {
		return err
	}
	defer in.lock.Exit()
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if in.handler.Status() == assets.StatusDisabled {
		return ErrIssuanceFrozen
	}
	reference, _ := in.handler.Reference()
	for _, entry := range reference {
		deposit := in.handler.RequiredQuantity(entry, amount)
		if deposit.Sign() == 0 {
			continue
		}
		if err := in.ledger.Transfer(entry.Token, holder, backing.Account, deposit); err != nil {
			return err
		}
	}
	return in.ledger.Mint(in.params.TokenSymbol, holder, amount)
}

// Redeem burns amount of the holder's tokens and returns a pro-rata share of
// every held backing balance. Redemption stays open even when the basket is
// DISABLED; it is the holder's exit path of last resort.
func (in *Instance) Redeem(holder string, amount *big.Int) error {
	if err := in.lock.Enter(); err != nil {
		return err
	}
	defer in.lock.Exit()
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	supply := in.ledger.TotalSupply(in.params.TokenSymbol)
	if supply.Sign() == 0 || amount.Cmp(supply) > 0 {
		return token.ErrInsufficientBalance
	}
	if err := in.ledger.Burn(in.params.TokenSymbol, holder, amount); err != nil {
		return err
	}
	seen := make(map[string]bool)
	for _, col := range in.registry.List() {
		if seen[col.Token] {
			continue
		}
		seen[col.Token] = true
		held := in.ledger.BalanceOf(col.Token, backing.Account)
		if held.Sign() == 0 {
			continue
		}
		share := new(big.Int).Mul(held, amount)
		share.Quo(share, supply)
		if share.Sign() == 0 {
			continue
		}
		if err := in.ledger.Transfer(col.Token, backing.Account, holder, share); err != nil {
			return err
		}
	}
	return nil
}

// Maintain is the periodic upkeep call: refresh prices and statuses, run one
// rebalancing step, and vest the furnace. A disabled basket surfaces as
// backing.ErrBasketDisabled.
func (in *Instance) Maintain(now time.Time) error {
	in.RefreshAll(now)
	if err := in.manager.Rebalance(now); err != nil {
		return err
	}
	_, err := in.furnace.Melt(now)
	return err
}
