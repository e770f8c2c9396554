package revenue

import (
	"errors"
	"math/big"
	"time"

	"rtoken/core/events"
	"rtoken/native/common"
	"rtoken/native/token"
	"rtoken/native/trading"
)

const (
	// StakeTraderAccount holds revenue token awaiting auction for the stake
	// token.
	StakeTraderAccount = "revenue:stake"
	// StakersAccount receives auction proceeds for distribution to stakers.
	StakersAccount = "stakers"
	// StakeVenue is the revenue trader's trading venue; it is distinct from
	// the backing manager's so their one-open-trade invariants are
	// independent.
	StakeVenue = "revenue.stake"

	moduleName = "revenue"
)

var (
	errInvalidSplit   = errors.New("revenue distributor: melt share must be at most 10000 bps")
	errInvalidAmount  = errors.New("revenue distributor: amount must be positive")
	errNilDependency  = errors.New("revenue distributor: ledger, furnace and broker are required")
	errMissingSymbols = errors.New("revenue distributor: token and stake symbols are required")
)

// PriceView resolves conservative price bounds for a token symbol in
// wad-scaled target units per whole token.
type PriceView interface {
	Price(symbol string) (low, high *big.Int, err error)
}

// Config fixes the distribution split and auction sizing parameters. The
// melt-vs-stake ratio is always configuration, never derived from state.
type Config struct {
	TokenSymbol    string
	StakeSymbol    string
	MeltShareBps   uint64
	OracleErrorBps uint64
	MaxSlippageBps uint64
}

// Distributor splits surplus protocol token between the furnace and the
// stake-reward stream, and runs the stake-reward auctions.
type Distributor struct {
	cfg     Config
	ledger  token.Ledger
	furnace *Furnace
	broker  *trading.Broker
	prices  PriceView
	pauses  common.PauseView
	lock    common.ReentrancyLock
	emitter events.Emitter
}

func NewDistributor(cfg Config, ledger token.Ledger, furnace *Furnace, broker *trading.Broker, prices PriceView) (*Distributor, error) {
	if ledger == nil || furnace == nil || broker == nil {
		return nil, errNilDependency
	}
	if cfg.TokenSymbol == "" || cfg.StakeSymbol == "" {
		return nil, errMissingSymbols
	}
	if cfg.MeltShareBps > 10_000 {
		return nil, errInvalidSplit
	}
	return &Distributor{
		cfg:     cfg,
		ledger:  ledger,
		furnace: furnace,
		broker:  broker,
		prices:  prices,
		emitter: events.NoopEmitter{},
	}, nil
}

// SetEmitter wires an event sink; nil restores the discard emitter.
func (d *Distributor) SetEmitter(e events.Emitter) {
	if e == nil {
		e = events.NoopEmitter{}
	}
	d.emitter = e
}

// SetPauses wires the administrative pause switches.
func (d *Distributor) SetPauses(p common.PauseView) { d.pauses = p }

// Distribute splits amount of protocol token held by the from account between
// the furnace and the stake trader, then tries to open a stake-reward auction
// for the stake share. The split itself always completes; the auction is
// opportunistic and accrues for the next run when the venue is busy.
func (d *Distributor) Distribute(from string, amount *big.Int, now time.Time) error {
	if err := common.Guard(d.pauses, moduleName); err != nil {
		return err
	}
	if err := d.lock.Enter(); err != nil {
		return err
	}
	defer d.lock.Exit()
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if err := d.split(from, amount); err != nil {
		return err
	}
	return d.runStakeAuction(now)
}

// split divides amount between the furnace and the stake trader according to
// the configured melt share, truncation favoring the stake stream.
func (d *Distributor) split(from string, amount *big.Int) error {
	meltShare := new(big.Int).Mul(amount, new(big.Int).SetUint64(d.cfg.MeltShareBps))
	meltShare.Quo(meltShare, big.NewInt(10_000))
	stakeShare := new(big.Int).Sub(amount, meltShare)
	if meltShare.Sign() > 0 {
		if err := d.ledger.Transfer(d.cfg.TokenSymbol, from, FurnaceAccount, meltShare); err != nil {
			return err
		}
	}
	if stakeShare.Sign() > 0 {
		if err := d.ledger.Transfer(d.cfg.TokenSymbol, from, StakeTraderAccount, stakeShare); err != nil {
			return err
		}
	}
	d.emitter.Emit(events.RevenueSplit{
		Total:      new(big.Int).Set(amount),
		MeltShare:  meltShare,
		StakeShare: stakeShare,
	})
	return nil
}

// RunStakeAuction opens a stake-reward auction for whatever the stake trader
// currently holds, if the venue is free.
func (d *Distributor) RunStakeAuction(now time.Time) error {
	if err := common.Guard(d.pauses, moduleName); err != nil {
		return err
	}
	if err := d.lock.Enter(); err != nil {
		return err
	}
	defer d.lock.Exit()
	return d.runStakeAuction(now)
}

func (d *Distributor) runStakeAuction(now time.Time) error {
	if d.broker.HasOpen(StakeVenue) {
		return nil
	}
	held := d.ledger.BalanceOf(d.cfg.TokenSymbol, StakeTraderAccount)
	if held.Sign() == 0 {
		return nil
	}
	sellLow, _, err := d.prices.Price(d.cfg.TokenSymbol)
	if err != nil {
		return err
	}
	_, buyHigh, err := d.prices.Price(d.cfg.StakeSymbol)
	if err != nil {
		return err
	}
	minBuy, err := trading.MinBuyAmount(held, sellLow, buyHigh, d.cfg.OracleErrorBps, d.cfg.MaxSlippageBps)
	if err != nil {
		return err
	}
	if minBuy.Sign() == 0 {
		return nil
	}
	trade, err := d.broker.Open(StakeVenue, d.cfg.TokenSymbol, d.cfg.StakeSymbol, held, minBuy, trading.KindBatch, now)
	if err != nil {
		return err
	}
	d.emitter.Emit(events.TradeStarted{
		TradeID:   trade.ID,
		Venue:     StakeVenue,
		Sell:      trade.Sell,
		Buy:       trade.Buy,
		SellAmt:   new(big.Int).Set(trade.SellAmount),
		MinBuyAmt: new(big.Int).Set(trade.MinBuyAmount),
	})
	return nil
}

// SettleStakeAuction records the fill of the open stake auction: the sold
// protocol token leaves for the counter-party account and the bought stake
// token moves from the counter-party to the stakers pool.
func (d *Distributor) SettleStakeAuction(tradeID, counterparty string, bought *big.Int) error {
	if err := d.lock.Enter(); err != nil {
		return err
	}
	defer d.lock.Exit()
	trade, ok := d.broker.OpenTrade(StakeVenue)
	if !ok {
		return trading.ErrNoOpenTrade
	}
	if trade.ID != tradeID {
		return trading.ErrTradeMismatch
	}
	if bought == nil || bought.Cmp(trade.MinBuyAmount) < 0 {
		// The fill must honor the floor guarantee; a short fill is an expiry.
		if _, err := d.broker.Settle(StakeVenue, tradeID); err != nil {
			return err
		}
		d.emitter.Emit(events.TradeSettled{TradeID: trade.ID, Venue: StakeVenue, BoughtAmt: big.NewInt(0), Expired: true})
		return nil
	}
	// Collect the buy leg before releasing the sold token: an underfunded
	// counterparty leaves the trade open and the trader untouched.
	if err := d.ledger.Transfer(d.cfg.StakeSymbol, counterparty, StakersAccount, bought); err != nil {
		return err
	}
	if err := d.ledger.Transfer(d.cfg.TokenSymbol, StakeTraderAccount, counterparty, trade.SellAmount); err != nil {
		_ = d.ledger.Transfer(d.cfg.StakeSymbol, StakersAccount, counterparty, bought)
		return err
	}
	if _, err := d.broker.Settle(StakeVenue, tradeID); err != nil {
		return err
	}
	d.emitter.Emit(events.TradeSettled{TradeID: trade.ID, Venue: StakeVenue, BoughtAmt: new(big.Int).Set(bought)})
	return nil
}
