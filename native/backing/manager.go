package backing

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"rtoken/core/events"
	"rtoken/native/assets"
	"rtoken/native/basket"
	"rtoken/native/common"
	"rtoken/native/revenue"
	"rtoken/native/token"
	"rtoken/native/trading"
)

const (
	// Venue is the backing manager's trading venue. At most one rebalancing
	// trade may be open on it at any time.
	Venue = "backing"
	// Account is the ledger holding for all backing collateral.
	Account = "backing"
	// RevenueSource is the holding that freshly minted revenue token passes
	// through on its way to distribution.
	RevenueSource = "revenue:source"

	moduleName = "backing"
)

var (
	// ErrBasketDisabled reports a maintenance call while the basket awaits
	// administrative repair; nothing is traded until a new prime basket is
	// set.
	ErrBasketDisabled = errors.New("backing manager: basket disabled, awaiting repair")
	errNilDependency  = errors.New("backing manager: registry, basket, ledger, broker and distributor are required")
)

// PriceView resolves conservative low/high bounds for a collateral id or a
// token symbol in wad-scaled target units per whole token.
type PriceView interface {
	Price(id string) (low, high *big.Int, err error)
}

// Config carries the trade-sizing parameters applied to rebalancing auctions.
// Volumes are wad-scaled values in target units.
type Config struct {
	TokenSymbol    string
	StakeSymbol    string
	OracleErrorBps uint64
	MaxSlippageBps uint64
	MinTradeVolume *big.Int
	MaxTradeVolume *big.Int
}

// Manager orchestrates one rebalancing trade at a time. Each maintenance call
// either opens the single most useful trade toward full collateralization, or,
// once the basket is whole, converts true surplus into revenue.
type Manager struct {
	cfg      Config
	registry *assets.Registry
	basket   *basket.Handler
	ledger   token.Ledger
	broker   *trading.Broker
	prices   PriceView
	dist     *revenue.Distributor
	pauses   common.PauseView
	lock     common.ReentrancyLock
	emitter  events.Emitter
}

func NewManager(cfg Config, registry *assets.Registry, handler *basket.Handler, ledger token.Ledger, broker *trading.Broker, dist *revenue.Distributor, prices PriceView) (*Manager, error) {
	if registry == nil || handler == nil || ledger == nil || broker == nil || dist == nil {
		return nil, errNilDependency
	}
	return &Manager{
		cfg:      cfg,
		registry: registry,
		basket:   handler,
		ledger:   ledger,
		broker:   broker,
		dist:     dist,
		prices:   prices,
		emitter:  events.NoopEmitter{},
	}, nil
}

// SetEmitter wires an event sink; nil restores the discard emitter.
func (m *Manager) SetEmitter(e events.Emitter) {
	if e == nil {
		e = events.NoopEmitter{}
	}
	m.emitter = e
}

// SetPauses wires the administrative pause switches.
func (m *Manager) SetPauses(p common.PauseView) { m.pauses = p }

// Holdings implements basket.BalanceView over the backing account.
func (m *Manager) Holdings(tokenSym string) *big.Int {
	return m.ledger.BalanceOf(tokenSym, Account)
}

// gap is one collateral's standing relative to its basket requirement.
type gap struct {
	entry    basket.RefEntry
	low      *big.Int
	high     *big.Int
	deficit  *big.Int // quantity short of requirement
	surplus  *big.Int // quantity above requirement
	defValue *big.Int // deficit valued at the low bound
	surValue *big.Int // surplus valued at the high bound
}

// Rebalance is the maintenance entry point. While a rebalancing trade is
// unsettled it does nothing. A DISABLED basket is a fatal-until-fixed
// condition. A sizing result below the minimum trade volume makes this cycle a
// no-op, retried on the next call.
func (m *Manager) Rebalance(now time.Time) error {
	if err := common.Guard(m.pauses, moduleName); err != nil {
		return err
	}
	if err := m.lock.Enter(); err != nil {
		return err
	}
	defer m.lock.Exit()
	if m.broker.HasOpen(Venue) {
		return nil
	}
	if m.basket.Status() == assets.StatusDisabled {
		return ErrBasketDisabled
	}
	supply := m.ledger.TotalSupply(m.cfg.TokenSymbol)
	gaps, err := m.measure(supply)
	if err != nil {
		return err
	}
	worst := worstDeficit(gaps)
	if worst == nil {
		return m.forwardSurplus(gaps, supply, now)
	}
	return m.openRebalance(gaps, worst, now)
}

func (m *Manager) measure(supply *big.Int) ([]gap, error) {
	reference, _ := m.basket.Reference()
	gaps := make([]gap, 0, len(reference))
	for _, entry := range reference {
		low, high, err := m.prices.Price(entry.CollateralID)
		if err != nil {
			return nil, fmt.Errorf("backing manager: price %s: %w", entry.CollateralID, err)
		}
		required := m.basket.RequiredQuantity(entry, supply)
		held := m.ledger.BalanceOf(entry.Token, Account)
		g := gap{
			entry:    entry,
			low:      low,
			high:     high,
			deficit:  big.NewInt(0),
			surplus:  big.NewInt(0),
			defValue: big.NewInt(0),
			surValue: big.NewInt(0),
		}
		diff := new(big.Int).Sub(required, held)
		if diff.Sign() > 0 {
			g.deficit = diff
			g.defValue = valueAt(diff, low)
		} else if diff.Sign() < 0 {
			g.surplus = diff.Neg(diff)
			g.surValue = valueAt(g.surplus, high)
		}
		gaps = append(gaps, g)
	}
	return gaps, nil
}

func worstDeficit(gaps []gap) *gap {
	var worst *gap
	for i := range gaps {
		if gaps[i].deficit.Sign() == 0 {
			continue
		}
		if worst == nil || gaps[i].defValue.Cmp(worst.defValue) > 0 {
			worst = &gaps[i]
		}
	}
	return worst
}

// openRebalance sells the largest surplus, falling back to the reserve stake
// token, to buy the most deficient collateral.
func (m *Manager) openRebalance(gaps []gap, worst *gap, now time.Time) error {
	sellToken, sellLow, available := m.pickSell(gaps)
	if available.Sign() == 0 {
		return nil
	}
	minBuy := new(big.Int).Set(worst.deficit)
	if m.cfg.MaxTradeVolume != nil && m.cfg.MaxTradeVolume.Sign() > 0 {
		if capQty := quantityAt(m.cfg.MaxTradeVolume, worst.low); capQty.Cmp(minBuy) < 0 {
			minBuy = capQty
		}
	}
	if minBuy.Sign() == 0 {
		return nil
	}
	sellAmt, err := trading.SellAmount(minBuy, sellLow, worst.high, m.cfg.OracleErrorBps, m.cfg.MaxSlippageBps)
	if err != nil {
		return err
	}
	if sellAmt.Cmp(available) > 0 {
		sellAmt = available
		minBuy, err = trading.MinBuyAmount(sellAmt, sellLow, worst.high, m.cfg.OracleErrorBps, m.cfg.MaxSlippageBps)
		if err != nil {
			return err
		}
		if minBuy.Sign() == 0 {
			return nil
		}
	}
	if m.cfg.MinTradeVolume != nil && valueAt(sellAmt, sellLow).Cmp(m.cfg.MinTradeVolume) < 0 {
		return nil
	}
	trade, err := m.broker.Open(Venue, sellToken, worst.entry.Token, sellAmt, minBuy, trading.KindDutch, now)
	if err != nil {
		return err
	}
	m.emitter.Emit(events.TradeStarted{
		TradeID:   trade.ID,
		Venue:     Venue,
		Sell:      trade.Sell,
		Buy:       trade.Buy,
		SellAmt:   new(big.Int).Set(trade.SellAmount),
		MinBuyAmt: new(big.Int).Set(trade.MinBuyAmount),
	})
	return nil
}

// pickSell chooses the sell side: the largest surplus collateral first, then
// the reserve stake token held in the backing account.
func (m *Manager) pickSell(gaps []gap) (string, *big.Int, *big.Int) {
	var best *gap
	for i := range gaps {
		if gaps[i].surplus.Sign() == 0 {
			continue
		}
		if best == nil || gaps[i].surValue.Cmp(best.surValue) > 0 {
			best = &gaps[i]
		}
	}
	if best != nil {
		return best.entry.Token, best.low, new(big.Int).Set(best.surplus)
	}
	reserve := m.ledger.BalanceOf(m.cfg.StakeSymbol, Account)
	if reserve.Sign() == 0 {
		return "", big.NewInt(0), big.NewInt(0)
	}
	low, _, err := m.prices.Price(m.cfg.StakeSymbol)
	if err != nil {
		return "", big.NewInt(0), big.NewInt(0)
	}
	return m.cfg.StakeSymbol, low, reserve
}

// forwardSurplus handles the fully-collateralized case: mint the basket-implied
// additional supply against excess backing and hand it to revenue
// distribution, then auction any residual non-proportional surplus collateral.
func (m *Manager) forwardSurplus(gaps []gap, supply *big.Int, now time.Time) error {
	reference, _ := m.basket.Reference()
	if len(reference) == 0 {
		return nil
	}
	maxSupply := m.supportableSupply(reference)
	extra := new(big.Int).Sub(maxSupply, supply)
	if extra.Sign() > 0 {
		if err := m.ledger.Mint(m.cfg.TokenSymbol, RevenueSource, extra); err != nil {
			return err
		}
		if err := m.dist.Distribute(RevenueSource, extra, now); err != nil {
			return err
		}
		supply = maxSupply
	}
	return m.auctionResidual(reference, supply, now)
}

// supportableSupply is the largest circulating supply the held backing can
// fully collateralize: the minimum across constituents of held/quantity.
func (m *Manager) supportableSupply(reference []basket.RefEntry) *big.Int {
	var maxSupply *big.Int
	for _, entry := range reference {
		held := m.ledger.BalanceOf(entry.Token, Account)
		supportable := new(big.Int).Mul(held, wad)
		supportable.Quo(supportable, entry.Quantity)
		if maxSupply == nil || supportable.Cmp(maxSupply) < 0 {
			maxSupply = supportable
		}
	}
	if maxSupply == nil {
		return big.NewInt(0)
	}
	return maxSupply
}

// auctionResidual moves surplus collateral that can never back supply (because
// another constituent is the binding one) to the revenue trader and opens a
// surplus auction for it, volume permitting.
func (m *Manager) auctionResidual(reference []basket.RefEntry, supply *big.Int, now time.Time) error {
	var bestToken string
	var bestAmt, bestValue, bestLow *big.Int
	for _, entry := range reference {
		held := m.ledger.BalanceOf(entry.Token, Account)
		required := m.basket.RequiredQuantity(entry, supply)
		if held.Cmp(required) <= 0 {
			continue
		}
		residual := new(big.Int).Sub(held, required)
		low, high, err := m.prices.Price(entry.CollateralID)
		if err != nil {
			return fmt.Errorf("backing manager: price %s: %w", entry.CollateralID, err)
		}
		value := valueAt(residual, high)
		if bestValue == nil || value.Cmp(bestValue) > 0 {
			bestToken, bestAmt, bestValue, bestLow = entry.Token, residual, value, low
		}
	}
	if bestAmt == nil {
		return nil
	}
	if m.cfg.MinTradeVolume != nil && bestValue.Cmp(m.cfg.MinTradeVolume) < 0 {
		return nil
	}
	return m.dist.AuctionSurplus(Account, bestToken, bestAmt, bestLow, now)
}

// SettleRebalance records the fill of the open rebalancing trade. A fill below
// the floor guarantee counts as an expired auction: the venue frees up and the
// next maintenance call re-evaluates.
func (m *Manager) SettleRebalance(tradeID, counterparty string, bought *big.Int) error {
	if err := m.lock.Enter(); err != nil {
		return err
	}
	defer m.lock.Exit()
	trade, ok := m.broker.OpenTrade(Venue)
	if !ok {
		return trading.ErrNoOpenTrade
	}
	if trade.ID != tradeID {
		return trading.ErrTradeMismatch
	}
	if bought == nil || bought.Cmp(trade.MinBuyAmount) < 0 {
		if _, err := m.broker.Settle(Venue, tradeID); err != nil {
			return err
		}
		m.emitter.Emit(events.TradeSettled{TradeID: trade.ID, Venue: Venue, BoughtAmt: big.NewInt(0), Expired: true})
		return nil
	}
	// Collect the buy leg before releasing anything: an underfunded
	// counterparty leaves the trade open and the escrow untouched.
	if err := m.ledger.Transfer(trade.Buy, counterparty, Account, bought); err != nil {
		return err
	}
	if err := m.ledger.Transfer(trade.Sell, Account, counterparty, trade.SellAmount); err != nil {
		_ = m.ledger.Transfer(trade.Buy, Account, counterparty, bought)
		return err
	}
	if _, err := m.broker.Settle(Venue, tradeID); err != nil {
		return err
	}
	m.emitter.Emit(events.TradeSettled{TradeID: trade.ID, Venue: Venue, BoughtAmt: new(big.Int).Set(bought)})
	return nil
}

var wad = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

func valueAt(quantity, price *big.Int) *big.Int {
	value := new(big.Int).Mul(quantity, price)
	return value.Quo(value, wad)
}

func quantityAt(value, price *big.Int) *big.Int {
	if price == nil || price.Sign() == 0 {
		return big.NewInt(0)
	}
	qty := new(big.Int).Mul(value, wad)
	return qty.Quo(qty, price)
}
