package assets

import (
	"errors"
	"fmt"
	"time"

	"rtoken/native/oracle"
)

// MaxNestingDepth bounds how many basket-backed levels a collateral may sit
// above raw assets. Registration and price resolution both enforce it.
const MaxNestingDepth = 10

var (
	ErrUnknownCollateral = errors.New("collateral registry: unknown collateral")
	ErrDuplicateID       = errors.New("collateral registry: id already registered")
	ErrCyclicNesting     = errors.New("collateral registry: cyclic nesting")
	ErrNestingTooDeep    = errors.New("collateral registry: nesting depth exceeded")
	errMissingFields     = errors.New("collateral registry: id, token and target unit are required")
)

// Registry owns the set of registered collateral and their statuses. It is
// the only writer of collateral state; every other component reads snapshots.
// Each mutation bumps the version so consumers can pin the generation they
// read against concurrent refreshes.
type Registry struct {
	selfSymbol string
	collateral map[string]*Collateral
	order      []string
	version    uint64
	decay      oracle.Decay
}

// NewRegistry creates a registry for the instance issuing selfSymbol. The
// decay policy governs how quote age degrades confidence during refresh.
func NewRegistry(selfSymbol string, decay oracle.Decay) *Registry {
	return &Registry{
		selfSymbol: selfSymbol,
		collateral: make(map[string]*Collateral),
		decay:      decay,
	}
}

// Version returns the current registry generation. It increases on every
// register, unregister and status change.
func (r *Registry) Version() uint64 { return r.version }

// Decay exposes the staleness policy applied during refresh.
func (r *Registry) Decay() oracle.Decay { return r.decay }

// Register adds a collateral descriptor. Registration of a collateral whose
// transitive backing includes this instance's own token is rejected: a token
// must never serve, directly or indirectly, as its own collateral.
func (r *Registry) Register(col Collateral) error {
	if col.ID == "" || col.Token == "" || col.TargetUnit == "" {
		return errMissingFields
	}
	if _, exists := r.collateral[col.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, col.ID)
	}
	if col.Issuer != nil {
		if err := r.checkNesting(col.Issuer, 1); err != nil {
			return err
		}
	}
	entry := col.Clone()
	entry.status = StatusSound
	entry.iffySince = time.Time{}
	r.collateral[col.ID] = &entry
	r.order = append(r.order, col.ID)
	r.version++
	return nil
}

func (r *Registry) checkNesting(issuer Issuer, depth int) error {
	if depth > MaxNestingDepth {
		return ErrNestingTooDeep
	}
	if issuer.Symbol() == r.selfSymbol {
		return fmt.Errorf("%w: %s backs itself", ErrCyclicNesting, r.selfSymbol)
	}
	for _, inner := range issuer.BackingIssuers() {
		if err := r.checkNesting(inner, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// Unregister removes a collateral. This is the only removal path; defaulted
// collateral otherwise stays registered in DISABLED state.
func (r *Registry) Unregister(id string) error {
	if _, exists := r.collateral[id]; !exists {
		return fmt.Errorf("%w: %s", ErrUnknownCollateral, id)
	}
	delete(r.collateral, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.version++
	return nil
}

// Get returns a snapshot of the collateral descriptor.
func (r *Registry) Get(id string) (Collateral, bool) {
	col, ok := r.collateral[id]
	if !ok {
		return Collateral{}, false
	}
	return col.Clone(), true
}

// List returns snapshots of all registered collateral in registration order.
func (r *Registry) List() []Collateral {
	out := make([]Collateral, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.collateral[id].Clone())
	}
	return out
}

// Refresh applies the latest quote to the collateral's status machine and
// returns the resulting status. A nil quote (feed absent or returning zero)
// disables the asset, as does a quote older than the staleness ceiling.
// A low bound sagging below the peg threshold suspects default and starts the
// delay timer; recovery before the delay elapses returns the asset to SOUND.
func (r *Registry) Refresh(id string, quote *oracle.Quote, now time.Time) (Status, error) {
	col, ok := r.collateral[id]
	if !ok {
		return StatusDisabled, fmt.Errorf("%w: %s", ErrUnknownCollateral, id)
	}
	prev := col.status
	next := r.nextStatus(col, quote, now)
	if next != prev {
		col.status = next
		r.version++
	}
	return next, nil
}

func (r *Registry) nextStatus(col *Collateral, quote *oracle.Quote, now time.Time) Status {
	if col.status == StatusDisabled {
		return StatusDisabled
	}
	if quote == nil || quote.Low == nil || quote.Low.Sign() <= 0 {
		return StatusDisabled
	}
	if _, usable := r.decay.EffectiveErrorBps(0, now.Sub(quote.Timestamp)); !usable {
		return StatusDisabled
	}
	if suspectedDefault(col, quote) {
		if col.status != StatusIffy {
			col.iffySince = now
			return StatusIffy
		}
		if col.DefaultDelay > 0 && now.Sub(col.iffySince) >= col.DefaultDelay {
			return StatusDisabled
		}
		return StatusIffy
	}
	col.iffySince = time.Time{}
	return StatusSound
}

func suspectedDefault(col *Collateral, quote *oracle.Quote) bool {
	if col.PegPrice == nil || col.PegPrice.Sign() <= 0 {
		return false
	}
	floor := pegFloor(col)
	return quote.Low.Cmp(floor) < 0
}
