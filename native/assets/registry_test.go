package assets

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"rtoken/native/oracle"
)

var testDecay = oracle.Decay{Timeout: time.Minute, Ceiling: time.Hour}

func wad(units int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(units), big.NewInt(1_000_000_000_000_000_000))
}

func usdc() Collateral {
	return Collateral{
		ID:                  "USDC",
		Token:               "USDC",
		TargetUnit:          "USD",
		PegPrice:            wad(1),
		DefaultThresholdBps: 500,
		DefaultDelay:        24 * time.Hour,
	}
}

func quoteAt(mid *big.Int, ts time.Time) *oracle.Quote {
	return &oracle.Quote{Low: mid, High: mid, Timestamp: ts}
}

func TestRegisterAndVersioning(t *testing.T) {
	r := NewRegistry("RSV", testDecay)
	if r.Version() != 0 {
		t.Fatalf("fresh registry version = %d", r.Version())
	}
	if err := r.Register(usdc()); err != nil {
		t.Fatalf("register: %v", err)
	}
	if r.Version() != 1 {
		t.Fatalf("version after register = %d", r.Version())
	}
	if err := r.Register(usdc()); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}
	col, ok := r.Get("USDC")
	if !ok || col.Status() != StatusSound {
		t.Fatalf("expected sound collateral, got %v %v", ok, col.Status())
	}
	if err := r.Unregister("USDC"); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if _, ok := r.Get("USDC"); ok {
		t.Fatalf("collateral should be gone")
	}
	if err := r.Unregister("USDC"); !errors.Is(err, ErrUnknownCollateral) {
		t.Fatalf("expected unknown collateral, got %v", err)
	}
}

func TestRefreshDefaultDelayMachinery(t *testing.T) {
	r := NewRegistry("RSV", testDecay)
	if err := r.Register(usdc()); err != nil {
		t.Fatalf("register: %v", err)
	}
	now := time.Now()

	// Healthy peg keeps the asset sound.
	status, err := r.Refresh("USDC", quoteAt(wad(1), now), now)
	if err != nil || status != StatusSound {
		t.Fatalf("refresh sound: %v %v", status, err)
	}

	// A 10% depeg suspects default and starts the timer.
	depegged := new(big.Int).Mul(wad(9), big.NewInt(1))
	depegged.Quo(depegged, big.NewInt(10))
	status, _ = r.Refresh("USDC", quoteAt(depegged, now), now)
	if status != StatusIffy {
		t.Fatalf("expected IFFY, got %v", status)
	}

	// Still iffy inside the delay window.
	later := now.Add(time.Hour)
	status, _ = r.Refresh("USDC", quoteAt(depegged, later), later)
	if status != StatusIffy {
		t.Fatalf("expected IFFY inside delay, got %v", status)
	}

	// Recovery clears the timer.
	status, _ = r.Refresh("USDC", quoteAt(wad(1), later), later)
	if status != StatusSound {
		t.Fatalf("expected recovery to SOUND, got %v", status)
	}
	col, _ := r.Get("USDC")
	if !col.IffySince().IsZero() {
		t.Fatalf("iffy timer should be cleared")
	}

	// A fresh depeg that persists past the delay confirms default.
	status, _ = r.Refresh("USDC", quoteAt(depegged, later), later)
	if status != StatusIffy {
		t.Fatalf("expected IFFY, got %v", status)
	}
	confirmed := later.Add(25 * time.Hour)
	status, _ = r.Refresh("USDC", quoteAt(depegged, confirmed), confirmed)
	if status != StatusDisabled {
		t.Fatalf("expected DISABLED after delay, got %v", status)
	}

	// DISABLED is sticky even if the peg recovers.
	status, _ = r.Refresh("USDC", quoteAt(wad(1), confirmed), confirmed)
	if status != StatusDisabled {
		t.Fatalf("DISABLED must be terminal, got %v", status)
	}
}

func TestRefreshMissingOrStaleQuoteDisables(t *testing.T) {
	r := NewRegistry("RSV", testDecay)
	if err := r.Register(usdc()); err != nil {
		t.Fatalf("register: %v", err)
	}
	now := time.Now()
	if status, _ := r.Refresh("USDC", nil, now); status != StatusDisabled {
		t.Fatalf("missing quote should disable, got %v", status)
	}

	r2 := NewRegistry("RSV", testDecay)
	if err := r2.Register(usdc()); err != nil {
		t.Fatalf("register: %v", err)
	}
	stale := quoteAt(wad(1), now.Add(-2*time.Hour))
	if status, _ := r2.Refresh("USDC", stale, now); status != StatusDisabled {
		t.Fatalf("stale quote should disable, got %v", status)
	}
}

type fakeIssuer struct {
	symbol  string
	backing []Issuer
}

func (f *fakeIssuer) Symbol() string                           { return f.symbol }
func (f *fakeIssuer) BackingIssuers() []Issuer                 { return f.backing }
func (f *fakeIssuer) LotPrice(int) (*big.Int, *big.Int, error) { return wad(1), wad(1), nil }

func TestRegisterRejectsCyclicNesting(t *testing.T) {
	r := NewRegistry("RSV", testDecay)

	direct := Collateral{ID: "SELF", Token: "RSV", TargetUnit: "USD", Issuer: &fakeIssuer{symbol: "RSV"}}
	if err := r.Register(direct); !errors.Is(err, ErrCyclicNesting) {
		t.Fatalf("expected direct cycle rejection, got %v", err)
	}

	transitive := Collateral{
		ID:         "OUTER",
		Token:      "OUTER",
		TargetUnit: "USD",
		Issuer: &fakeIssuer{symbol: "OUTER", backing: []Issuer{
			&fakeIssuer{symbol: "MID", backing: []Issuer{&fakeIssuer{symbol: "RSV"}}},
		}},
	}
	if err := r.Register(transitive); !errors.Is(err, ErrCyclicNesting) {
		t.Fatalf("expected transitive cycle rejection, got %v", err)
	}

	legit := Collateral{ID: "INNER", Token: "INNER", TargetUnit: "USD", Issuer: &fakeIssuer{symbol: "INNER"}}
	if err := r.Register(legit); err != nil {
		t.Fatalf("acyclic nesting should register: %v", err)
	}
}

func TestRegisterRejectsExcessiveDepth(t *testing.T) {
	r := NewRegistry("RSV", testDecay)
	leaf := &fakeIssuer{symbol: "L0"}
	chain := leaf
	for i := 1; i <= MaxNestingDepth+1; i++ {
		chain = &fakeIssuer{symbol: "L" + string(rune('0'+i%10)), backing: []Issuer{chain}}
	}
	deep := Collateral{ID: "DEEP", Token: "DEEP", TargetUnit: "USD", Issuer: chain}
	if err := r.Register(deep); !errors.Is(err, ErrNestingTooDeep) {
		t.Fatalf("expected depth rejection, got %v", err)
	}
}
