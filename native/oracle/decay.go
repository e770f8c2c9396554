package oracle

import "time"

const maxErrorBps = 10_000

// Decay translates quote age into confidence. A quote younger than Timeout
// keeps its base error band. Between Timeout and Ceiling the band widens
// linearly until it reaches twice the base at the ceiling. Past Ceiling the
// quote is unusable and the asset must be treated as disabled.
type Decay struct {
	Timeout time.Duration
	Ceiling time.Duration
}

// EffectiveErrorBps returns the widened oracle error for a quote of the given
// age. The boolean is false once the age exceeds the staleness ceiling.
func (d Decay) EffectiveErrorBps(baseBps uint64, age time.Duration) (uint64, bool) {
	if age < 0 {
		age = 0
	}
	if d.Ceiling > 0 && age > d.Ceiling {
		return 0, false
	}
	if d.Timeout <= 0 || age <= d.Timeout {
		return clampBps(baseBps), true
	}
	span := d.Ceiling - d.Timeout
	if span <= 0 {
		return clampBps(baseBps), true
	}
	excess := age - d.Timeout
	widened := baseBps + uint64(float64(baseBps)*float64(excess)/float64(span))
	return clampBps(widened), true
}

func clampBps(bps uint64) uint64 {
	if bps > maxErrorBps {
		return maxErrorBps
	}
	return bps
}
