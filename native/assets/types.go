package assets

import (
	"math/big"
	"time"
)

// Status tracks a collateral's health. Transitions only ever move downward
// except for the IFFY -> SOUND recovery; DISABLED is terminal until the asset
// is unregistered and re-registered.
type Status uint8

const (
	StatusSound Status = iota
	StatusIffy
	StatusDisabled
)

func (s Status) String() string {
	switch s {
	case StatusSound:
		return "SOUND"
	case StatusIffy:
		return "IFFY"
	case StatusDisabled:
		return "DISABLED"
	default:
		return "UNKNOWN"
	}
}

// Issuer describes a token that is itself backed by another basket instance.
// Price resolution recurses through it; registration walks it to reject
// cyclic nesting.
type Issuer interface {
	// Symbol returns the issued token's symbol.
	Symbol() string
	// BackingIssuers lists the nested issuers among the instance's own
	// collateral, for transitive cycle detection.
	BackingIssuers() []Issuer
	// LotPrice returns the instance's conservative low/high price per whole
	// token in wad-scaled target units. depth counts nesting levels already
	// traversed by the caller.
	LotPrice(depth int) (*big.Int, *big.Int, error)
}

// Collateral describes one registered backing asset.
type Collateral struct {
	// ID is the registry key for this collateral variant.
	ID string
	// Token is the underlying token symbol held on the ledger.
	Token string
	// TargetUnit tags the unit of account this collateral backs (e.g. "USD").
	TargetUnit string
	// PegPrice, when non-nil, is the expected wad-scaled price in target
	// units. A low price bound sagging more than DefaultThresholdBps below
	// the peg marks the collateral IFFY.
	PegPrice *big.Int
	// DefaultThresholdBps is the allowed downward deviation from the peg
	// before default is suspected.
	DefaultThresholdBps uint64
	// DefaultDelay is how long the collateral may stay IFFY before it is
	// confirmed defaulted and DISABLED.
	DefaultDelay time.Duration
	// Issuer is set when the underlying token is itself basket-backed.
	Issuer Issuer

	status    Status
	iffySince time.Time
}

// Status returns the collateral's current health.
func (c *Collateral) Status() Status { return c.status }

// IffySince returns when default was first suspected; zero unless IFFY.
func (c *Collateral) IffySince() time.Time { return c.iffySince }

// Clone returns a copy safe to hand to callers. Issuer stays shared; it is a
// read-only relation into another instance.
func (c *Collateral) Clone() Collateral {
	clone := *c
	if c.PegPrice != nil {
		clone.PegPrice = new(big.Int).Set(c.PegPrice)
	}
	return clone
}
