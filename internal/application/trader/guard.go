package trader

// guard.go — oracle agreement gate for entries.
//
// The guard refuses entries unless the oracle's recent movement agrees with
// the side about to be bought. Checks run in a fixed order and the first
// failing one blocks; every block is counted per reason and alerted at most
// once per market+reason. Exits never consult the guard.

import (
	"sync"
	"time"

	"github.com/alejandrodnm/updown/internal/domain"
)

// GuardConfig holds the tuned thresholds of the gate.
type GuardConfig struct {
	// Enabled=false makes every evaluation pass: markets whose underlying
	// has no oracle feed trade without the gate.
	Enabled    bool
	Window     time.Duration // rolling window span
	MinPoints  int
	MaxVolPct  float64
	MinAbsZ    float64
	BeatMaxLag time.Duration // margin after window start to capture price_to_beat
	StaleAfter time.Duration // max age of the last point before the feed counts as dead
	// MaxReversalSlope blocks entries whose side fights a slope steeper
	// than this many USD/s. 0 disables the check.
	MaxReversalSlope float64
}

// Guard is the per-market oracle gate.
type Guard struct {
	mu          sync.Mutex
	cfg         GuardConfig
	windowStart time.Time
	window      *domain.OracleWindow
	priceToBeat float64
	blocks      map[domain.GuardReason]int
	alerted     map[domain.GuardReason]bool
}

// NewGuard creates the guard for a market window starting at windowStart.
func NewGuard(cfg GuardConfig, windowStart time.Time) *Guard {
	return &Guard{
		cfg:         cfg,
		windowStart: windowStart,
		window:      domain.NewOracleWindow(cfg.Window),
		blocks:      make(map[domain.GuardReason]int),
		alerted:     make(map[domain.GuardReason]bool),
	}
}

// Observe folds an oracle point into the rolling window and captures the
// price to beat if the point lands inside the capture margin. The price to
// beat is never backfilled: once the margin passes without a point, it stays
// unset for the life of the market.
func (g *Guard) Observe(p domain.OraclePoint) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.window.Add(p)

	if g.priceToBeat == 0 &&
		!p.At.Before(g.windowStart) &&
		p.At.Sub(g.windowStart) <= g.cfg.BeatMaxLag {
		g.priceToBeat = p.Price
	}
}

// PriceToBeat returns the captured open price, 0 if never captured.
func (g *Guard) PriceToBeat() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.priceToBeat
}

// LastPrice returns the most recent oracle price, 0 if none arrived.
func (g *Guard) LastPrice() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if last, ok := g.window.Last(); ok {
		return last.Price
	}
	return 0
}

// Evaluate runs the ordered gate for an entry on side. Returns GuardOK when
// the entry may proceed, otherwise the first failing reason.
func (g *Guard) Evaluate(side domain.Side, now time.Time) domain.GuardReason {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.cfg.Enabled {
		return domain.GuardOK
	}

	reason := g.evaluate(side, now)
	if reason != domain.GuardOK {
		g.blocks[reason]++
	}
	return reason
}

func (g *Guard) evaluate(side domain.Side, now time.Time) domain.GuardReason {
	last, ok := g.window.Last()
	if !ok {
		return domain.GuardNoSnapshot
	}
	if now.Sub(last.At) > g.cfg.StaleAfter {
		return domain.GuardStale
	}
	if g.priceToBeat == 0 {
		return domain.GuardNoBeat
	}
	if g.window.Len() < g.cfg.MinPoints {
		return domain.GuardFewPoints
	}

	vol, ok := g.window.Volatility()
	if !ok {
		return domain.GuardNoVol
	}
	if vol > g.cfg.MaxVolPct {
		return domain.GuardHighVol
	}

	z, ok := g.window.Z(g.priceToBeat)
	if !ok {
		return domain.GuardNoZ
	}
	if abs(z) < g.cfg.MinAbsZ {
		return domain.GuardLowZ
	}

	// The oracle must point the same way as the side being bought.
	if (side == domain.SideUp && z < 0) || (side == domain.SideDown && z > 0) {
		return domain.GuardDisagrees
	}

	if limit := g.cfg.MaxReversalSlope; limit > 0 {
		slope, ok := g.window.Slope()
		if ok && ((side == domain.SideUp && slope < -limit) || (side == domain.SideDown && slope > limit)) {
			return domain.GuardReversal
		}
	}

	return domain.GuardOK
}

// ShouldAlert reports whether this reason has not been alerted yet for this
// market, and marks it alerted.
func (g *Guard) ShouldAlert(reason domain.GuardReason) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.alerted[reason] {
		return false
	}
	g.alerted[reason] = true
	return true
}

// Blocks returns a copy of the per-reason block counters.
func (g *Guard) Blocks() map[domain.GuardReason]int {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[domain.GuardReason]int, len(g.blocks))
	for k, v := range g.blocks {
		out[k] = v
	}
	return out
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
