package revenue

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rtoken/core/events"
	"rtoken/native/token"
	"rtoken/native/trading"
)

var wad = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

func wadUnits(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), wad) }

type flatPrices map[string]*big.Int

func (p flatPrices) Price(symbol string) (*big.Int, *big.Int, error) {
	mid, ok := p[symbol]
	if !ok {
		return nil, nil, errors.New("no price")
	}
	return mid, mid, nil
}

type recordingEmitter struct {
	events []events.Event
}

func (r *recordingEmitter) Emit(e events.Event) { r.events = append(r.events, e) }

func (r *recordingEmitter) ofType(eventType string) []events.Event {
	var out []events.Event
	for _, e := range r.events {
		if e.EventType() == eventType {
			out = append(out, e)
		}
	}
	return out
}

func newDistributor(t *testing.T, meltBps uint64) (*Distributor, *Furnace, *token.MemLedger, *recordingEmitter) {
	t.Helper()
	ledger := token.NewMemLedger()
	furnace := NewFurnace(ledger, "RSV", time.Hour)
	broker := trading.NewBroker()
	prices := flatPrices{"RSV": wadUnits(1), "STK": wadUnits(1)}
	dist, err := NewDistributor(Config{
		TokenSymbol:  "RSV",
		StakeSymbol:  "STK",
		MeltShareBps: meltBps,
	}, ledger, furnace, broker, prices)
	require.NoError(t, err)
	rec := &recordingEmitter{}
	dist.SetEmitter(rec)
	furnace.SetEmitter(rec)
	return dist, furnace, ledger, rec
}

func TestDistributeSplitsByConfiguredRatio(t *testing.T) {
	dist, furnace, ledger, rec := newDistributor(t, 4000)
	require.NoError(t, ledger.Mint("RSV", "backing", wadUnits(100)))

	require.NoError(t, dist.Distribute("backing", wadUnits(100), time.Now()))

	require.Zero(t, furnace.Accrued().Cmp(wadUnits(40)), "melt share")
	// The stake share went straight into an auction, so the trader holds it
	// but an open trade references it.
	require.Zero(t, ledger.BalanceOf("RSV", StakeTraderAccount).Cmp(wadUnits(60)), "stake share")

	splits := rec.ofType(events.TypeRevenueSplit)
	require.Len(t, splits, 1)
	split := splits[0].(events.RevenueSplit)
	require.Zero(t, split.MeltShare.Cmp(wadUnits(40)))
	require.Zero(t, split.StakeShare.Cmp(wadUnits(60)))
	require.Len(t, rec.ofType(events.TypeTradeStarted), 1)
}

func TestStakeAuctionSettlement(t *testing.T) {
	dist, _, ledger, rec := newDistributor(t, 5000)
	require.NoError(t, ledger.Mint("RSV", "backing", wadUnits(100)))
	require.NoError(t, dist.Distribute("backing", wadUnits(100), time.Now()))

	started := rec.ofType(events.TypeTradeStarted)
	require.Len(t, started, 1)
	trade := started[0].(events.TradeStarted)

	// Fund the counter-party and settle at exactly the floor guarantee.
	require.NoError(t, ledger.Mint("STK", "market", trade.MinBuyAmt))
	require.NoError(t, dist.SettleStakeAuction(trade.TradeID, "market", trade.MinBuyAmt))

	require.Zero(t, ledger.BalanceOf("STK", StakersAccount).Cmp(trade.MinBuyAmt), "stakers proceeds")
	require.Zero(t, ledger.BalanceOf("RSV", StakeTraderAccount).Sign(), "trader emptied")
	require.Zero(t, ledger.BalanceOf("RSV", "market").Cmp(trade.SellAmt), "counterparty received sale")
}

func TestStakeAuctionShortFillIsExpiry(t *testing.T) {
	dist, _, ledger, rec := newDistributor(t, 0)
	require.NoError(t, ledger.Mint("RSV", "backing", wadUnits(10)))
	require.NoError(t, dist.Distribute("backing", wadUnits(10), time.Now()))

	started := rec.ofType(events.TypeTradeStarted)
	require.Len(t, started, 1)
	trade := started[0].(events.TradeStarted)

	short := new(big.Int).Sub(trade.MinBuyAmt, big.NewInt(1))
	require.NoError(t, ledger.Mint("STK", "market", short))
	require.NoError(t, dist.SettleStakeAuction(trade.TradeID, "market", short))

	settled := rec.ofType(events.TypeTradeSettled)
	require.Len(t, settled, 1)
	require.True(t, settled[0].(events.TradeSettled).Expired)
	// The unsold stake share stays with the trader for the next run.
	require.Zero(t, ledger.BalanceOf("RSV", StakeTraderAccount).Cmp(wadUnits(10)))
}

func TestStakeAuctionUnderfundedCounterpartyLeavesTradeOpen(t *testing.T) {
	dist, _, ledger, rec := newDistributor(t, 0)
	require.NoError(t, ledger.Mint("RSV", "backing", wadUnits(10)))
	require.NoError(t, dist.Distribute("backing", wadUnits(10), time.Now()))
	started := rec.ofType(events.TypeTradeStarted)
	require.Len(t, started, 1)
	trade := started[0].(events.TradeStarted)

	// A full fill claimed with an empty wallet moves nothing and keeps the
	// trade open.
	err := dist.SettleStakeAuction(trade.TradeID, "market", trade.MinBuyAmt)
	require.ErrorIs(t, err, token.ErrInsufficientBalance)
	require.Zero(t, ledger.BalanceOf("RSV", "market").Sign(), "counterparty must not receive the sale")
	require.Zero(t, ledger.BalanceOf("RSV", StakeTraderAccount).Cmp(wadUnits(10)), "trader drained")
	require.Empty(t, rec.ofType(events.TypeTradeSettled))

	// Funding the counterparty lets the same trade settle.
	require.NoError(t, ledger.Mint("STK", "market", trade.MinBuyAmt))
	require.NoError(t, dist.SettleStakeAuction(trade.TradeID, "market", trade.MinBuyAmt))
	require.Zero(t, ledger.BalanceOf("STK", StakersAccount).Cmp(trade.MinBuyAmt))
	require.Zero(t, ledger.BalanceOf("RSV", "market").Cmp(trade.SellAmt))
}

func TestSettleStakeAuctionRejectsUnknownTrade(t *testing.T) {
	dist, _, ledger, _ := newDistributor(t, 0)
	err := dist.SettleStakeAuction("bogus", "market", wadUnits(1))
	require.ErrorIs(t, err, trading.ErrNoOpenTrade)

	require.NoError(t, ledger.Mint("RSV", "backing", wadUnits(10)))
	require.NoError(t, dist.Distribute("backing", wadUnits(10), time.Now()))
	err = dist.SettleStakeAuction("bogus", "market", wadUnits(10))
	require.ErrorIs(t, err, trading.ErrTradeMismatch)
}

func TestDistributeWhileAuctionOpenAccrues(t *testing.T) {
	dist, _, ledger, rec := newDistributor(t, 0)
	require.NoError(t, ledger.Mint("RSV", "backing", wadUnits(20)))
	require.NoError(t, dist.Distribute("backing", wadUnits(10), time.Now()))
	require.Len(t, rec.ofType(events.TypeTradeStarted), 1)

	// Second distribution while the venue is busy: split happens, no second
	// trade opens.
	require.NoError(t, dist.Distribute("backing", wadUnits(10), time.Now()))
	require.Len(t, rec.ofType(events.TypeTradeStarted), 1)
	require.Zero(t, ledger.BalanceOf("RSV", StakeTraderAccount).Cmp(wadUnits(20)))
}

func TestMeltCadence(t *testing.T) {
	_, furnace, ledger, rec := newDistributor(t, 10_000)
	require.NoError(t, ledger.Mint("RSV", FurnaceAccount, wadUnits(30)))
	now := time.Now()

	burned, err := furnace.Melt(now)
	require.NoError(t, err)
	require.Zero(t, burned.Cmp(wadUnits(30)), "first melt burns accrual")
	require.Zero(t, ledger.TotalSupply("RSV").Sign())
	require.Len(t, rec.ofType(events.TypeMeltExecuted), 1)

	// Accrue again; melting inside the period is a no-op.
	require.NoError(t, ledger.Mint("RSV", FurnaceAccount, wadUnits(5)))
	burned, err = furnace.Melt(now.Add(30 * time.Minute))
	require.NoError(t, err)
	require.Zero(t, burned.Sign())
	require.Zero(t, furnace.Accrued().Cmp(wadUnits(5)))

	// After the period elapses the batch vests.
	burned, err = furnace.Melt(now.Add(2 * time.Hour))
	require.NoError(t, err)
	require.Zero(t, burned.Cmp(wadUnits(5)))
	require.Equal(t, uint64(2), furnace.Epoch())
}

func TestDistributorRejectsBadConfig(t *testing.T) {
	ledger := token.NewMemLedger()
	furnace := NewFurnace(ledger, "RSV", time.Hour)
	broker := trading.NewBroker()
	_, err := NewDistributor(Config{TokenSymbol: "RSV", StakeSymbol: "STK", MeltShareBps: 10_001}, ledger, furnace, broker, flatPrices{})
	require.ErrorIs(t, err, errInvalidSplit)
	_, err = NewDistributor(Config{MeltShareBps: 100}, ledger, furnace, broker, flatPrices{})
	require.ErrorIs(t, err, errMissingSymbols)
	_, err = NewDistributor(Config{TokenSymbol: "RSV", StakeSymbol: "STK"}, nil, furnace, broker, flatPrices{})
	require.ErrorIs(t, err, errNilDependency)
}
