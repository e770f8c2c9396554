package events

import "math/big"

const (
	// TypeTradeStarted is emitted when a rebalancing or revenue auction opens.
	TypeTradeStarted = "trade.started"
	// TypeTradeSettled is emitted when an open auction resolves or expires.
	TypeTradeSettled = "trade.settled"
)

type TradeStarted struct {
	TradeID   string
	Venue     string
	Sell      string
	Buy       string
	SellAmt   *big.Int
	MinBuyAmt *big.Int
}

func (TradeStarted) EventType() string { return TypeTradeStarted }

func (e TradeStarted) Attributes() map[string]string {
	return map[string]string{
		"tradeId":   e.TradeID,
		"venue":     e.Venue,
		"sell":      e.Sell,
		"buy":       e.Buy,
		"sellAmt":   formatBig(e.SellAmt),
		"minBuyAmt": formatBig(e.MinBuyAmt),
	}
}

type TradeSettled struct {
	TradeID   string
	Venue     string
	BoughtAmt *big.Int
	Expired   bool
}

func (TradeSettled) EventType() string { return TypeTradeSettled }

func (e TradeSettled) Attributes() map[string]string {
	expired := "false"
	if e.Expired {
		expired = "true"
	}
	return map[string]string{
		"tradeId":   e.TradeID,
		"venue":     e.Venue,
		"boughtAmt": formatBig(e.BoughtAmt),
		"expired":   expired,
	}
}
