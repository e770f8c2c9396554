package revenue

import (
	"errors"
	"math/big"
	"time"

	"rtoken/core/events"
	"rtoken/native/token"
)

// FurnaceAccount is the ledger holding that accrues the melt share. Balances
// here are out of circulation but not yet destroyed.
const FurnaceAccount = "furnace"

var errNilLedger = errors.New("furnace: ledger not configured")

// Furnace destroys the melt share of protocol revenue. Melting is a batch
// operation on a reward-period cadence: revenue events credit the furnace
// holding, and each elapsed period the accrued balance is burned in one step,
// raising per-unit backing for the remaining holders.
type Furnace struct {
	ledger   token.Ledger
	symbol   string
	period   time.Duration
	lastMelt time.Time
	epoch    uint64
	emitter  events.Emitter
}

func NewFurnace(ledger token.Ledger, symbol string, period time.Duration) *Furnace {
	return &Furnace{
		ledger:  ledger,
		symbol:  symbol,
		period:  period,
		emitter: events.NoopEmitter{},
	}
}

// SetEmitter wires an event sink; nil restores the discard emitter.
func (f *Furnace) SetEmitter(e events.Emitter) {
	if e == nil {
		e = events.NoopEmitter{}
	}
	f.emitter = e
}

// Accrued returns the balance awaiting the next melt.
func (f *Furnace) Accrued() *big.Int {
	if f.ledger == nil {
		return big.NewInt(0)
	}
	return f.ledger.BalanceOf(f.symbol, FurnaceAccount)
}

// Epoch counts executed melts.
func (f *Furnace) Epoch() uint64 { return f.epoch }

// Melt burns the accrued balance if at least one reward period has elapsed
// since the previous melt. Inside the period it is a no-op returning a zero
// amount; the accrual simply keeps vesting.
func (f *Furnace) Melt(now time.Time) (*big.Int, error) {
	if f.ledger == nil {
		return nil, errNilLedger
	}
	if !f.lastMelt.IsZero() && f.period > 0 && now.Sub(f.lastMelt) < f.period {
		return big.NewInt(0), nil
	}
	accrued := f.ledger.BalanceOf(f.symbol, FurnaceAccount)
	f.lastMelt = now
	if accrued.Sign() == 0 {
		return big.NewInt(0), nil
	}
	if err := f.ledger.Burn(f.symbol, FurnaceAccount, accrued); err != nil {
		return nil, err
	}
	f.epoch++
	f.emitter.Emit(events.MeltExecuted{Amount: new(big.Int).Set(accrued), Epoch: f.epoch})
	return accrued, nil
}
