package oracle

import (
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"
)

var (
	// ErrNoQuote indicates that no source could produce any quote for the asset.
	ErrNoQuote = errors.New("oracle: no quote available")
	// ErrStaleQuote indicates the freshest available quote is older than the
	// absolute staleness ceiling and must not be used for pricing.
	ErrStaleQuote = errors.New("oracle: quote past staleness ceiling")
	// ErrInvalidQuote indicates a malformed quote (nil, zero or inverted bounds).
	ErrInvalidQuote = errors.New("oracle: invalid quote")
)

// Quote carries a two-sided price estimate for an asset in wad-scaled target
// units per whole token, along with the timestamp reported by the source.
// Low and High bound the plausible price; consumers pick the side least
// favorable to the protocol.
type Quote struct {
	Low       *big.Int
	High      *big.Int
	Timestamp time.Time
	Source    string
}

// Clone returns a deep copy of the quote to prevent accidental mutation.
func (q Quote) Clone() Quote {
	clone := Quote{Timestamp: q.Timestamp, Source: q.Source}
	if q.Low != nil {
		clone.Low = new(big.Int).Set(q.Low)
	}
	if q.High != nil {
		clone.High = new(big.Int).Set(q.High)
	}
	return clone
}

// Mid returns the midpoint of the quote's bounds. Sizing math never uses the
// midpoint directly; it exists for display and for basket-construction checks
// that want the unbiased estimate.
func (q Quote) Mid() *big.Int {
	if q.Low == nil || q.High == nil {
		return big.NewInt(0)
	}
	mid := new(big.Int).Add(q.Low, q.High)
	return mid.Rsh(mid, 1)
}

func (q Quote) valid() bool {
	return q.Low != nil && q.High != nil && q.Low.Sign() > 0 && q.High.Cmp(q.Low) >= 0
}

// Source resolves the current price bounds for an asset identifier.
type Source interface {
	CurrentPrice(asset string) (Quote, error)
}

// ManualSource is a settable price source used by tests and by the daemon's
// admin endpoint.
type ManualSource struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

func NewManualSource() *ManualSource {
	return &ManualSource{quotes: make(map[string]Quote)}
}

// Set records symmetric bounds around mid: low = mid·(1-spreadBps/1e4),
// high = mid·(1+spreadBps/1e4).
func (m *ManualSource) Set(asset string, mid *big.Int, spreadBps uint64, ts time.Time) error {
	if mid == nil || mid.Sign() <= 0 {
		return ErrInvalidQuote
	}
	bps := new(big.Int).SetUint64(spreadBps)
	delta := new(big.Int).Mul(mid, bps)
	delta.Quo(delta, big.NewInt(10_000))
	low := new(big.Int).Sub(mid, delta)
	high := new(big.Int).Add(mid, delta)
	return m.SetBounds(asset, low, high, ts)
}

// SetBounds records explicit low/high bounds for the asset.
func (m *ManualSource) SetBounds(asset string, low, high *big.Int, ts time.Time) error {
	q := Quote{Low: low, High: high, Timestamp: ts, Source: "manual"}
	if !q.valid() {
		return ErrInvalidQuote
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotes[normalize(asset)] = q.Clone()
	return nil
}

// Unset removes the quote for the asset, simulating a dead feed.
func (m *ManualSource) Unset(asset string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.quotes, normalize(asset))
}

func (m *ManualSource) CurrentPrice(asset string) (Quote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.quotes[normalize(asset)]
	if !ok {
		return Quote{}, ErrNoQuote
	}
	return q.Clone(), nil
}

// Aggregator consults registered sources in priority order until one returns a
// usable quote. It does not apply staleness policy itself; callers combine the
// returned timestamp with a Decay to derive the effective error band.
type Aggregator struct {
	mu       sync.RWMutex
	priority []string
	sources  map[string]Source
}

func NewAggregator(priority []string) *Aggregator {
	return &Aggregator{
		priority: append([]string(nil), priority...),
		sources:  make(map[string]Source),
	}
}

// Register attaches a named source. Registering under an existing name
// replaces the previous source.
func (a *Aggregator) Register(name string, src Source) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sources[name] = src
}

func (a *Aggregator) CurrentPrice(asset string) (Quote, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var lastErr error
	for _, name := range a.priority {
		src, ok := a.sources[name]
		if !ok {
			continue
		}
		q, err := src.CurrentPrice(asset)
		if err != nil {
			lastErr = err
			continue
		}
		if !q.valid() {
			lastErr = ErrInvalidQuote
			continue
		}
		if q.Source == "" {
			q.Source = name
		}
		return q, nil
	}
	if lastErr != nil {
		return Quote{}, lastErr
	}
	return Quote{}, ErrNoQuote
}

func normalize(asset string) string { return strings.ToUpper(strings.TrimSpace(asset)) }
