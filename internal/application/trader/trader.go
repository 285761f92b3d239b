package trader

// trader.go — session orchestration for one Up/Down market window.
//
// The engine runs both websocket streams, pumps their events into the
// tracker and the oracle guard, and drives the decision and exit checks on
// a fixed tick. The session ends when the window expires and nothing is
// left to manage, or when the parent context is cancelled.

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alejandrodnm/updown/internal/domain"
	"github.com/alejandrodnm/updown/internal/ports"
)

const (
	tickInterval = time.Second
	// bookStaleAfter gates entries on websocket freshness. Exits still run
	// on a stale book: a stop check on old quotes beats no stop check.
	bookStaleAfter = 2 * time.Second
	// expiryGrace leaves room for the last book messages before the
	// position is released to on-chain resolution.
	expiryGrace = 5 * time.Second
)

// SummaryPrinter renders the end-of-session recap.
type SummaryPrinter interface {
	PrintSessionSummary(trades []domain.Trade, day domain.DailyStats)
}

// Engine drives one trading session over a single market.
type Engine struct {
	market       domain.Market
	marketStream ports.MarketStream
	oracleStream ports.OracleStream
	tracker      *Tracker
	guard        *Guard
	strategy     *Strategy
	positions    *Positions
	execution    *Execution
	journal      *Journal
	store        ports.Store
	notify       ports.Notifier
	summary      SummaryPrinter
}

// NewEngine assembles the session from already-wired components.
func NewEngine(
	market domain.Market,
	marketStream ports.MarketStream,
	oracleStream ports.OracleStream,
	tracker *Tracker,
	guard *Guard,
	strategy *Strategy,
	positions *Positions,
	execution *Execution,
	journal *Journal,
	store ports.Store,
	notify ports.Notifier,
	summary SummaryPrinter,
) *Engine {
	return &Engine{
		market:       market,
		marketStream: marketStream,
		oracleStream: oracleStream,
		tracker:      tracker,
		guard:        guard,
		strategy:     strategy,
		positions:    positions,
		execution:    execution,
		journal:      journal,
		store:        store,
		notify:       notify,
		summary:      summary,
	}
}

// Run blocks until the session ends or ctx is cancelled, then prints the
// session summary. A cancelled context is a clean shutdown, not an error.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.journal.Append(ctx, "session_start", e.market.ConditionID, map[string]any{
		"slug":         e.market.Slug,
		"window_start": e.market.WindowStart,
		"window_end":   e.market.WindowEnd,
	})
	slog.Info("engine: session started",
		"market", e.market.Slug,
		"session", e.journal.SessionID(),
		"window_end", e.market.WindowEnd.Format(time.RFC3339))

	e.strategy.Arm(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.marketStream.Run(gctx) })
	g.Go(func() error { e.pumpBook(gctx); return nil })
	// Markets without a known oracle feed run without the stream; the guard
	// is disabled for them and nothing consumes points.
	if e.oracleStream != nil {
		g.Go(func() error { return e.oracleStream.Run(gctx) })
		g.Go(func() error { e.pumpOracle(gctx); return nil })
	}
	g.Go(func() error {
		err := e.loop(gctx)
		cancel() // session over, wind the streams down
		return err
	})

	err := g.Wait()
	e.printSummary()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// pumpBook folds book events into the tracker, records quote snapshots and
// re-evaluates the trigger. Entries fire off the message that moved the
// book instead of waiting for the next tick.
func (e *Engine) pumpBook(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-e.marketStream.Events():
			if !ok {
				return
			}
			e.tracker.Apply(ev)
			e.snapshotQuotes(ctx)
			e.maybeTrigger(ctx, time.Now())
		}
	}
}

func (e *Engine) snapshotQuotes(ctx context.Context) {
	for _, side := range []domain.Side{domain.SideUp, domain.SideDown} {
		bid, ask := e.tracker.Quotes(side)
		if bid == 0 && ask == 0 {
			continue
		}
		if err := e.store.SaveSnapshot(ctx, e.market.ConditionID, side, bid, ask); err != nil {
			slog.Warn("engine: save snapshot", "err", err)
		}
	}
}

func (e *Engine) pumpOracle(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-e.oracleStream.Points():
			if !ok {
				return
			}
			e.guard.Observe(p)
		}
	}
}

// loop is the decision heartbeat. It returns nil when the session is done.
func (e *Engine) loop(ctx context.Context) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if e.step(ctx, now) {
				return nil
			}
		}
	}
}

// maybeTrigger runs one trigger evaluation if the book is usable. A stale
// book blocks entries, never expiry detection.
func (e *Engine) maybeTrigger(ctx context.Context, now time.Time) {
	fresh := time.Since(e.marketStream.LastSeen()) <= bookStaleAfter
	expired := now.After(e.market.WindowEnd)
	if expired || (fresh && e.tracker.HasSnapshot()) {
		e.strategy.CheckTrigger(ctx, now)
	}
}

// step runs one tick and reports whether the session is finished.
func (e *Engine) step(ctx context.Context, now time.Time) bool {
	e.maybeTrigger(ctx, now)

	e.positions.CheckExits(ctx, now, func(pos domain.Position) (float64, bool) {
		lvl, ok := e.tracker.BestBid(pos.Side)
		if !ok {
			return 0, false
		}
		return lvl.Price, ok
	})

	if now.After(e.market.WindowEnd.Add(expiryGrace)) {
		e.releaseExpired(ctx)
		if state := e.strategy.State(); state.Terminal() && len(e.positions.Open()) == 0 {
			e.journal.Append(ctx, "session_end", e.market.ConditionID, map[string]any{
				"state": state.String(),
			})
			slog.Info("engine: session finished", "market", e.market.Slug, "state", state)
			return true
		}
	}
	return false
}

// releaseExpired hands positions still open past the window end to on-chain
// resolution. The token settles to 0 or 1 by itself; there is no book left
// to sell into.
func (e *Engine) releaseExpired(ctx context.Context) {
	for _, pos := range e.positions.Open() {
		released, ok := e.positions.Release(pos.ConditionID)
		if !ok {
			continue
		}
		e.journal.Append(ctx, "position_expired", released.ConditionID, map[string]any{
			"side": released.Side, "entry": released.EntryPrice,
		})
		// Live rows stay: the next session's recovery verifies them against
		// the on-chain balance. Simulated positions resolve here, against
		// the oracle's verdict.
		if released.DryRun {
			status := e.resolutionStatus(released.Side)
			if err := e.store.CloseDryRunPosition(ctx, released.ConditionID, status); err != nil {
				slog.Warn("engine: close expired dry-run position", "err", err)
			}
		}
		a := domain.Alert{
			Kind:        "expiry",
			ConditionID: released.ConditionID,
			Message:     "position held to resolution, settling on-chain",
			At:          time.Now().UTC(),
		}
		if err := e.notify.Alert(ctx, a); err != nil {
			slog.Warn("engine: notifier failed", "err", err)
		}
		if err := e.store.SaveAlert(ctx, a); err != nil {
			slog.Warn("engine: save alert", "err", err)
		}
	}
}

// resolutionStatus decides how an expired simulated position resolved,
// comparing the last oracle price against the window's price to beat. With
// either side of the comparison missing the outcome is unknowable: voided.
func (e *Engine) resolutionStatus(side domain.Side) string {
	beat := e.guard.PriceToBeat()
	last := e.guard.LastPrice()
	if beat == 0 || last == 0 || last == beat {
		return domain.PositionVoided
	}
	wentUp := last > beat
	if (side == domain.SideUp) == wentUp {
		return domain.PositionResolvedWin
	}
	return domain.PositionResolvedLoss
}

func (e *Engine) printSummary() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	day, err := e.store.GetDay(ctx, time.Now().UTC().Format("2006-01-02"))
	if err != nil {
		slog.Warn("engine: load daily stats", "err", err)
	}
	e.summary.PrintSessionSummary(e.execution.Trades(), day)

	if blocks := e.guard.Blocks(); len(blocks) > 0 {
		for reason, n := range blocks {
			slog.Info("engine: guard blocks", "reason", reason, "count", n)
		}
	}
}
