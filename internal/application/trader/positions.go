package trader

// positions.go — open position tracking, stops and take-profit.
//
// Exit checks run on a throttle and in strict priority: stop-loss first,
// then take-profit, then the trailing ratchet. Exits never consult the
// oracle guard — a position in danger leaves no matter what the oracle says.

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/updown/internal/domain"
	"github.com/alejandrodnm/updown/internal/ports"
)

// StopsConfig holds the exit thresholds.
type StopsConfig struct {
	StopLossPct      float64
	StopLossAbsolute float64
	TrailingPct      float64
	TakeProfitPct    float64
	CheckInterval    time.Duration
}

// Positions manages open positions for the session.
type Positions struct {
	mu        sync.Mutex
	cfg       StopsConfig
	execution *Execution
	risk      *Risk
	store     ports.Store
	open      map[string]*domain.Position
	lastCheck time.Time
}

// NewPositions creates the position manager.
func NewPositions(cfg StopsConfig, execution *Execution, risk *Risk, store ports.Store) *Positions {
	return &Positions{
		cfg:       cfg,
		execution: execution,
		risk:      risk,
		store:     store,
		open:      make(map[string]*domain.Position),
	}
}

// Track starts managing a freshly opened position.
func (p *Positions) Track(pos domain.Position) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open[pos.ConditionID] = &pos
}

// Recover reloads open positions from storage after a restart. verify, when
// non-nil, is asked whether the position still exists on-chain; stale rows
// are deleted instead of tracked.
func (p *Positions) Recover(ctx context.Context, verify func(ctx context.Context, tokenID string) (bool, error)) error {
	stored, err := p.store.OpenPositions(ctx)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pos := range stored {
		if verify != nil {
			held, err := verify(ctx, pos.TokenID)
			if err != nil {
				slog.Warn("positions: verify failed, keeping position", "market", pos.ConditionID, "err", err)
			} else if !held {
				slog.Info("positions: dropping stale position", "market", pos.ConditionID)
				if err := p.store.ClosePosition(ctx, pos.ConditionID); err != nil {
					slog.Warn("positions: drop stale", "err", err)
				}
				continue
			}
		}
		pos := pos
		p.open[pos.ConditionID] = &pos
		slog.Info("positions: recovered", "market", pos.ConditionID, "side", pos.Side, "entry", pos.EntryPrice)
	}
	return nil
}

// Has reports whether a position is open for the market.
func (p *Positions) Has(conditionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.open[conditionID]
	return ok
}

// Open returns a snapshot of the open positions.
func (p *Positions) Open() []domain.Position {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.Position, 0, len(p.open))
	for _, pos := range p.open {
		out = append(out, *pos)
	}
	return out
}

// Release stops tracking a position without selling. Used at window expiry,
// when the token resolves on-chain and there is nothing left to exit into.
func (p *Positions) Release(conditionID string) (domain.Position, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.open[conditionID]
	if !ok {
		return domain.Position{}, false
	}
	delete(p.open, conditionID)
	return *pos, true
}

// CheckExits runs one throttled exit pass. bidFor returns the current best
// bid for a position's token; ok=false skips the position this cycle.
func (p *Positions) CheckExits(ctx context.Context, now time.Time, bidFor func(pos domain.Position) (float64, bool)) {
	p.mu.Lock()
	if now.Sub(p.lastCheck) < p.cfg.CheckInterval {
		p.mu.Unlock()
		return
	}
	p.lastCheck = now

	candidates := make([]*domain.Position, 0, len(p.open))
	for _, pos := range p.open {
		candidates = append(candidates, pos)
	}
	p.mu.Unlock()

	for _, pos := range candidates {
		bid, ok := bidFor(*pos)
		if !ok || bid <= 0 {
			continue
		}
		p.checkOne(ctx, now, pos, bid)
	}
}

// checkOne applies the exit priority to one position. A bid sitting exactly
// on a threshold does not fire; only crossing it does.
func (p *Positions) checkOne(ctx context.Context, now time.Time, pos *domain.Position, bid float64) {
	stop := pos.StopPrice(p.cfg.StopLossPct, p.cfg.StopLossAbsolute)
	if bid < stop {
		reason := domain.ExitStopLoss
		if pos.TrailingStop > 0 {
			reason = domain.ExitTrailingStop
		}
		p.exit(ctx, now, pos, bid, reason)
		return
	}

	if tp := pos.TakeProfitPrice(p.cfg.TakeProfitPct); tp > 0 && bid > tp {
		p.exit(ctx, now, pos, bid, domain.ExitTakeProfit)
		return
	}

	before := pos.TrailingStop
	pos.RatchetTrailing(bid, p.cfg.TrailingPct, p.cfg.StopLossAbsolute)
	if pos.TrailingStop != before {
		slog.Debug("positions: trailing raised", "market", pos.ConditionID, "stop", pos.TrailingStop)
		if err := p.store.UpsertPosition(ctx, *pos); err != nil {
			slog.Warn("positions: persist trailing", "err", err)
		}
	}
}

func (p *Positions) exit(ctx context.Context, now time.Time, pos *domain.Position, bid float64, reason domain.ExitReason) {
	pnl, err := p.execution.ExecuteExit(ctx, *pos, bid, reason)
	if err != nil {
		slog.Error("positions: exit failed, will retry next cycle", "market", pos.ConditionID, "err", err)
		return
	}

	p.risk.RecordExit(now, pnl)

	p.mu.Lock()
	delete(p.open, pos.ConditionID)
	p.mu.Unlock()
}
