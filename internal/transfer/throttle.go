package transfer

import "time"

// ProgressGate suppresses repetitive progress callbacks while preserving
// signal: a callback passes when enough time elapsed since the last forward
// or the percentage moved far enough. This bounds UI churn without starving
// slow transfers of updates.
type ProgressGate struct {
	interval time.Duration
	delta    float64

	forwarded   bool
	lastForward time.Time
	lastPercent float64
}

// NewProgressGate constructs a gate that forwards when at least interval
// elapsed (default 500ms) or the percent moved by at least delta points
// (default 2) since the last forwarded callback.
func NewProgressGate(interval time.Duration, delta float64) *ProgressGate {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if delta <= 0 {
		delta = 2
	}
	return &ProgressGate{interval: interval, delta: delta}
}

// ShouldForward reports whether a progress callback at the given time and
// percentage should be forwarded to listeners. The first callback always
// passes.
func (g *ProgressGate) ShouldForward(now time.Time, percent float64) bool {
	if g == nil {
		return true
	}
	if !g.forwarded {
		g.mark(now, percent)
		return true
	}
	if now.Sub(g.lastForward) >= g.interval || percent-g.lastPercent >= g.delta {
		g.mark(now, percent)
		return true
	}
	return false
}

// Reset clears the gate state when a new transfer starts.
func (g *ProgressGate) Reset() {
	if g == nil {
		return
	}
	g.forwarded = false
	g.lastForward = time.Time{}
	g.lastPercent = 0
}

func (g *ProgressGate) mark(now time.Time, percent float64) {
	g.forwarded = true
	g.lastForward = now
	g.lastPercent = percent
}
