package events

import "math/big"

const (
	// TypeMeltExecuted is emitted when the furnace destroys accrued melt share.
	TypeMeltExecuted = "revenue.melt"
	// TypeRevenueSplit is emitted when surplus token is divided between the
	// furnace and the stake-reward trader.
	TypeRevenueSplit = "revenue.split"
)

type MeltExecuted struct {
	Amount *big.Int
	Epoch  uint64
}

func (MeltExecuted) EventType() string { return TypeMeltExecuted }

func (e MeltExecuted) Attributes() map[string]string {
	return map[string]string{
		"amount": formatBig(e.Amount),
		"epoch":  formatUint(e.Epoch),
	}
}

type RevenueSplit struct {
	Total      *big.Int
	MeltShare  *big.Int
	StakeShare *big.Int
}

func (RevenueSplit) EventType() string { return TypeRevenueSplit }

func (e RevenueSplit) Attributes() map[string]string {
	return map[string]string{
		"total":      formatBig(e.Total),
		"meltShare":  formatBig(e.MeltShare),
		"stakeShare": formatBig(e.StakeShare),
	}
}
