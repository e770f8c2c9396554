package trading

import (
	"errors"
	"math/big"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrTradeOpen reports an attempt to open a second trade on a venue whose
	// previous trade has not settled.
	ErrTradeOpen = errors.New("trading: venue already has an open trade")
	// ErrNoOpenTrade reports a settlement against a venue with nothing open.
	ErrNoOpenTrade = errors.New("trading: no open trade on venue")
	// ErrTradeMismatch reports a settlement naming a different trade than the
	// one currently open on the venue.
	ErrTradeMismatch = errors.New("trading: trade id does not match open trade")
)

// Kind discriminates the auction mechanism used to fill a trade.
type Kind uint8

const (
	KindDutch Kind = iota
	KindBatch
)

func (k Kind) String() string {
	switch k {
	case KindDutch:
		return "dutch"
	case KindBatch:
		return "batch"
	default:
		return "unknown"
	}
}

// Trade describes one open auction: sell SellAmount of Sell in exchange for at
// least MinBuyAmount of Buy.
type Trade struct {
	ID           string
	Venue        string
	Sell         string
	Buy          string
	SellAmount   *big.Int
	MinBuyAmount *big.Int
	Kind         Kind
	OpenedAt     time.Time
}

// Broker enforces the at-most-one-open-trade invariant per trading venue. The
// backing manager and each revenue trader are distinct venues; within a venue
// a new trade cannot open until the previous one settles.
type Broker struct {
	open map[string]*Trade
}

func NewBroker() *Broker {
	return &Broker{open: make(map[string]*Trade)}
}

// Open registers a new trade on the venue and assigns its identifier. It is
// rejected without mutation when a trade is already open there.
func (b *Broker) Open(venue, sell, buy string, sellAmt, minBuyAmt *big.Int, kind Kind, now time.Time) (*Trade, error) {
	if _, exists := b.open[venue]; exists {
		return nil, ErrTradeOpen
	}
	if sellAmt == nil || sellAmt.Sign() <= 0 || minBuyAmt == nil || minBuyAmt.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	trade := &Trade{
		ID:           uuid.NewString(),
		Venue:        venue,
		Sell:         sell,
		Buy:          buy,
		SellAmount:   new(big.Int).Set(sellAmt),
		MinBuyAmount: new(big.Int).Set(minBuyAmt),
		Kind:         kind,
		OpenedAt:     now,
	}
	b.open[venue] = trade
	return trade, nil
}

// HasOpen reports whether the venue currently holds an unsettled trade.
func (b *Broker) HasOpen(venue string) bool {
	_, exists := b.open[venue]
	return exists
}

// OpenTrade returns the unsettled trade on the venue, if any.
func (b *Broker) OpenTrade(venue string) (*Trade, bool) {
	t, ok := b.open[venue]
	return t, ok
}

// Settle closes the named trade, freeing the venue for the next auction.
func (b *Broker) Settle(venue, tradeID string) (*Trade, error) {
	trade, ok := b.open[venue]
	if !ok {
		return nil, ErrNoOpenTrade
	}
	if trade.ID != tradeID {
		return nil, ErrTradeMismatch
	}
	delete(b.open, venue)
	return trade, nil
}
