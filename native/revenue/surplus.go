package revenue

import (
	"math/big"
	"time"

	"rtoken/core/events"
	"rtoken/native/trading"
)

const (
	// SurplusTraderAccount holds surplus collateral awaiting auction for the
	// protocol token.
	SurplusTraderAccount = "revenue:surplus"
	// SurplusVenue is the surplus trader's venue, independent of both the
	// stake trader's and the backing manager's.
	SurplusVenue = "revenue.surplus"
)

// AuctionSurplus pulls surplus collateral from the given holding and opens an
// auction exchanging it for the protocol token. While the venue is busy the
// collateral simply accrues with the trader.
func (d *Distributor) AuctionSurplus(from, collateralSymbol string, amount, collateralLow *big.Int, now time.Time) error {
	if err := d.lock.Enter(); err != nil {
		return err
	}
	defer d.lock.Exit()
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if err := d.ledger.Transfer(collateralSymbol, from, SurplusTraderAccount, amount); err != nil {
		return err
	}
	if d.broker.HasOpen(SurplusVenue) {
		return nil
	}
	held := d.ledger.BalanceOf(collateralSymbol, SurplusTraderAccount)
	_, tokenHigh, err := d.prices.Price(d.cfg.TokenSymbol)
	if err != nil {
		return err
	}
	minBuy, err := trading.MinBuyAmount(held, collateralLow, tokenHigh, d.cfg.OracleErrorBps, d.cfg.MaxSlippageBps)
	if err != nil {
		return err
	}
	if minBuy.Sign() == 0 {
		return nil
	}
	trade, err := d.broker.Open(SurplusVenue, collateralSymbol, d.cfg.TokenSymbol, held, minBuy, trading.KindBatch, now)
	if err != nil {
		return err
	}
	d.emitter.Emit(events.TradeStarted{
		TradeID:   trade.ID,
		Venue:     SurplusVenue,
		Sell:      trade.Sell,
		Buy:       trade.Buy,
		SellAmt:   new(big.Int).Set(trade.SellAmount),
		MinBuyAmt: new(big.Int).Set(trade.MinBuyAmount),
	})
	return nil
}

// SettleSurplusAuction records the fill of the open surplus auction. The
// protocol token received is revenue and is split immediately; the sold
// collateral leaves for the counter-party.
func (d *Distributor) SettleSurplusAuction(tradeID, counterparty string, bought *big.Int, now time.Time) error {
	if err := d.lock.Enter(); err != nil {
		return err
	}
	defer d.lock.Exit()
	trade, ok := d.broker.OpenTrade(SurplusVenue)
	if !ok {
		return trading.ErrNoOpenTrade
	}
	if trade.ID != tradeID {
		return trading.ErrTradeMismatch
	}
	if bought == nil || bought.Cmp(trade.MinBuyAmount) < 0 {
		if _, err := d.broker.Settle(SurplusVenue, tradeID); err != nil {
			return err
		}
		d.emitter.Emit(events.TradeSettled{TradeID: trade.ID, Venue: SurplusVenue, BoughtAmt: big.NewInt(0), Expired: true})
		return nil
	}
	// Collect the proceeds before releasing the collateral: an underfunded
	// counterparty leaves the trade open and the trader untouched.
	if err := d.ledger.Transfer(d.cfg.TokenSymbol, counterparty, SurplusTraderAccount, bought); err != nil {
		return err
	}
	if err := d.ledger.Transfer(trade.Sell, SurplusTraderAccount, counterparty, trade.SellAmount); err != nil {
		_ = d.ledger.Transfer(d.cfg.TokenSymbol, SurplusTraderAccount, counterparty, bought)
		return err
	}
	if _, err := d.broker.Settle(SurplusVenue, tradeID); err != nil {
		return err
	}
	d.emitter.Emit(events.TradeSettled{TradeID: trade.ID, Venue: SurplusVenue, BoughtAmt: new(big.Int).Set(bought)})
	if err := d.split(SurplusTraderAccount, bought); err != nil {
		return err
	}
	return d.runStakeAuction(now)
}
