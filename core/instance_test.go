package core

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"rtoken/native/assets"
	"rtoken/native/backing"
	"rtoken/native/basket"
	"rtoken/native/oracle"
	"rtoken/native/token"
)

func wadUnits(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), wad) }

func testParams(symbol string) Params {
	return Params{
		TokenSymbol:    symbol,
		StakeSymbol:    "STK",
		MeltShareBps:   5000,
		RewardPeriod:   time.Hour,
		PriceTimeout:   time.Minute,
		PriceStaleness: time.Hour,
	}
}

// newInstance builds a single-collateral USD instance over a manual feed.
func newInstance(t *testing.T, params Params) (*Instance, *token.MemLedger, *oracle.ManualSource) {
	t.Helper()
	ledger := token.NewMemLedger()
	source := oracle.NewManualSource()
	now := time.Now()
	if err := source.Set("USDC", wadUnits(1), 0, now); err != nil {
		t.Fatalf("seed price: %v", err)
	}
	if err := source.Set("STK", wadUnits(1), 0, now); err != nil {
		t.Fatalf("seed price: %v", err)
	}
	if err := source.Set(params.TokenSymbol, wadUnits(1), 0, now); err != nil {
		t.Fatalf("seed price: %v", err)
	}
	inst, err := New(params, ledger, source)
	if err != nil {
		t.Fatalf("new instance: %v", err)
	}
	if err := inst.Registry().Register(assets.Collateral{
		ID: "USDC", Token: "USDC", TargetUnit: "USD",
		PegPrice: wadUnits(1), DefaultThresholdBps: 500, DefaultDelay: time.Hour,
	}); err != nil {
		t.Fatalf("register collateral: %v", err)
	}
	if err := inst.Basket().SetPrime([]basket.PrimeEntry{{CollateralID: "USDC", Quantity: wadUnits(1)}}, instancePrices{inst}); err != nil {
		t.Fatalf("set prime: %v", err)
	}
	return inst, ledger, source
}

func TestIssueRedeemLifecycle(t *testing.T) {
	inst, ledger, _ := newInstance(t, testParams("RSV"))
	if err := ledger.Mint("USDC", "alice", wadUnits(100)); err != nil {
		t.Fatalf("fund alice: %v", err)
	}
	if err := inst.Issue("alice", wadUnits(100)); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if ledger.TotalSupply("RSV").Cmp(wadUnits(100)) != 0 {
		t.Fatalf("supply = %s", ledger.TotalSupply("RSV"))
	}
	if ledger.BalanceOf("USDC", backing.Account).Cmp(wadUnits(100)) != 0 {
		t.Fatalf("backing = %s", ledger.BalanceOf("USDC", backing.Account))
	}
	ok, err := inst.Basket().FullyCollateralized(wadUnits(100), inst.Backing(), instancePrices{inst})
	if err != nil || !ok {
		t.Fatalf("expected fully collateralized: %v %v", ok, err)
	}

	if err := inst.Redeem("alice", wadUnits(100)); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if ledger.TotalSupply("RSV").Sign() != 0 {
		t.Fatalf("supply should be zero, got %s", ledger.TotalSupply("RSV"))
	}
	if ledger.BalanceOf("USDC", backing.Account).Sign() != 0 {
		t.Fatalf("idle backing should be zero, got %s", ledger.BalanceOf("USDC", backing.Account))
	}
	if ledger.BalanceOf("USDC", "alice").Cmp(wadUnits(100)) != 0 {
		t.Fatalf("alice USDC = %s", ledger.BalanceOf("USDC", "alice"))
	}
}

func TestUndercollateralizedLifecycle(t *testing.T) {
	inst, ledger, _ := newInstance(t, testParams("RSV"))
	if err := ledger.Mint("USDC", "alice", wadUnits(100)); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if err := inst.Issue("alice", wadUnits(100)); err != nil {
		t.Fatalf("issue: %v", err)
	}
	// Half the backing vanishes; the collateral itself is still sound.
	if err := ledger.Burn("USDC", backing.Account, wadUnits(50)); err != nil {
		t.Fatalf("burn backing: %v", err)
	}
	now := time.Now()
	if status := inst.RefreshAll(now); status != assets.StatusSound {
		t.Fatalf("status = %v, want SOUND", status)
	}
	ok, err := inst.Basket().FullyCollateralized(wadUnits(100), inst.Backing(), instancePrices{inst})
	if err != nil || ok {
		t.Fatalf("expected undercollateralized: %v %v", ok, err)
	}

	// Maintenance opens exactly one rebalancing trade against the reserve.
	if err := ledger.Mint("STK", backing.Account, wadUnits(200)); err != nil {
		t.Fatalf("fund reserve: %v", err)
	}
	if err := inst.Maintain(now); err != nil {
		t.Fatalf("maintain: %v", err)
	}
	trade, open := inst.Broker().OpenTrade(backing.Venue)
	if !open {
		t.Fatalf("expected open rebalancing trade")
	}
	if trade.Sell != "STK" || trade.Buy != "USDC" {
		t.Fatalf("unexpected pair %s -> %s", trade.Sell, trade.Buy)
	}

	// Redeeming the whole supply drains it and the remaining backing.
	if err := inst.Redeem("alice", wadUnits(100)); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if ledger.TotalSupply("RSV").Sign() != 0 {
		t.Fatalf("supply should be zero")
	}
	if ledger.BalanceOf("USDC", backing.Account).Sign() != 0 {
		t.Fatalf("backing should be drained")
	}
}

func TestIssueFrozenWhileDisabled(t *testing.T) {
	inst, ledger, source := newInstance(t, testParams("RSV"))
	source.Unset("USDC")
	now := time.Now()
	if status := inst.RefreshAll(now); status != assets.StatusDisabled {
		t.Fatalf("expected disabled basket, got %v", status)
	}
	if err := ledger.Mint("USDC", "alice", wadUnits(10)); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if err := inst.Issue("alice", wadUnits(10)); !errors.Is(err, ErrIssuanceFrozen) {
		t.Fatalf("expected frozen issuance, got %v", err)
	}
}

func TestPriceWidensWithQuoteAge(t *testing.T) {
	params := testParams("RSV")
	params.OracleErrorBps = 100
	inst, _, source := newInstance(t, params)
	now := time.Now()
	if err := source.Set("USDC", wadUnits(1), 0, now.Add(-31*time.Minute)); err != nil {
		t.Fatalf("set stale-ish: %v", err)
	}
	low, _, err := inst.resolvePrice("USDC", 0, now)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	// Fresh quote: low = 0.99. Aged half way between timeout (1m) and
	// ceiling (1h): effective error ~1.5x base, so low sits below 0.99.
	fresh := mulBps(wadUnits(1), 9_900)
	if low.Cmp(fresh) >= 0 {
		t.Fatalf("aged low %s should be below fresh low %s", low, fresh)
	}

	// Past the ceiling the price is unavailable outright.
	if err := source.Set("USDC", wadUnits(1), 0, now.Add(-2*time.Hour)); err != nil {
		t.Fatalf("set stale: %v", err)
	}
	if _, _, err := inst.resolvePrice("USDC", 0, now); !errors.Is(err, ErrPriceUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestNestedPriceDiscountedExactlyOncePerLevel(t *testing.T) {
	innerParams := testParams("IRSV")
	innerParams.OracleErrorBps = 500 // 5%
	inner, _, _ := newInstance(t, innerParams)

	outerParams := testParams("ORSV")
	outerParams.OracleErrorBps = 200 // 2%
	outerParams.MaxSlippageBps = 100 // 1%
	outerLedger := token.NewMemLedger()
	outerSource := oracle.NewManualSource()
	if err := outerSource.Set("STK", wadUnits(1), 0, time.Now()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	outer, err := New(outerParams, outerLedger, outerSource)
	if err != nil {
		t.Fatalf("outer: %v", err)
	}
	if err := outer.Registry().Register(assets.Collateral{
		ID: "IRSV", Token: "IRSV", TargetUnit: "USD",
		PegPrice: wadUnits(1), DefaultThresholdBps: 1500, DefaultDelay: time.Hour,
		Issuer: inner,
	}); err != nil {
		t.Fatalf("register nested: %v", err)
	}

	// Inner conservative low: 1.0 widened by the inner 5% error band.
	innerLow, innerHigh, err := inner.LotPrice(0)
	if err != nil {
		t.Fatalf("inner lot price: %v", err)
	}
	if innerLow.Cmp(mulBps(wadUnits(1), 9_500)) != 0 {
		t.Fatalf("inner low = %s, want 0.95", innerLow)
	}

	// Outer applies its own error and slippage discount exactly once.
	low, high, err := outer.Price("IRSV")
	if err != nil {
		t.Fatalf("outer price: %v", err)
	}
	wantLow := mulBps(mulBps(innerLow, 9_800), 9_900)
	if low.Cmp(wantLow) != 0 {
		t.Fatalf("outer low = %s, want %s", low, wantLow)
	}
	wantHigh := mulBps(innerHigh, 10_200)
	if high.Cmp(wantHigh) != 0 {
		t.Fatalf("outer high = %s, want %s", high, wantHigh)
	}
}

func TestSelfCollateralRejected(t *testing.T) {
	inst, _, _ := newInstance(t, testParams("RSV"))
	err := inst.Registry().Register(assets.Collateral{
		ID: "SELF", Token: "RSV", TargetUnit: "USD", Issuer: inst,
	})
	if !errors.Is(err, assets.ErrCyclicNesting) {
		t.Fatalf("expected cyclic nesting rejection, got %v", err)
	}
}

func TestReentrantMaintenanceRejected(t *testing.T) {
	inst, ledger, _ := newInstance(t, testParams("RSV"))
	if err := ledger.Mint("USDC", "alice", wadUnits(10)); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if err := inst.lock.Enter(); err != nil {
		t.Fatalf("enter: %v", err)
	}
	defer inst.lock.Exit()
	if err := inst.Issue("alice", wadUnits(10)); err == nil {
		t.Fatalf("expected reentrancy rejection")
	}
}
