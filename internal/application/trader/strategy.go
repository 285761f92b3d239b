package trader

// strategy.go — the per-market decision state machine and entry trigger.
//
// States: Idle → Armed → LateWindow → Executed | Expired. The trigger runs
// under a mutex: concurrent fires serialize, and the second caller observes
// Executed and does nothing. Entry checks run in a fixed order; the first
// failing one skips the cycle.

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/updown/internal/domain"
	"github.com/alejandrodnm/updown/internal/ports"
)

// liquidityDepth is how many ask levels count toward entry liquidity.
const liquidityDepth = 5

// StrategyConfig holds the entry thresholds.
type StrategyConfig struct {
	MinConfidence   float64
	MaxPrice        float64
	PriceEpsilon    float64
	MinLiquidity    float64 // 0 disables the check
	LateWindow      time.Duration
	EarlyEntry      bool
	EarlyFrom       time.Duration // remaining time where early entry opens
	EarlyUntil      time.Duration // remaining time where early entry closes
	EarlyBidFloor   float64
	MaxAttempts     int
	AttemptCooldown time.Duration
}

// Strategy drives entries for one market.
type Strategy struct {
	mu  sync.Mutex
	cfg StrategyConfig

	market    domain.Market
	tracker   *Tracker
	guard     *Guard
	risk      *Risk
	execution *Execution
	positions *Positions
	journal   *Journal
	notify    ports.Notifier

	state       domain.DecisionState
	attempts    int
	lastAttempt time.Time

	// Balance is fetched once per market and cached; a stale balance only
	// makes the engine skip, never overspend, because sizing re-caps later.
	balance        float64
	balanceChecked bool
	balanceFn      func(ctx context.Context) (float64, error)

	breakerAlerted bool
}

// NewStrategy wires the strategy for one market.
func NewStrategy(
	cfg StrategyConfig,
	market domain.Market,
	tracker *Tracker,
	guard *Guard,
	risk *Risk,
	execution *Execution,
	positions *Positions,
	journal *Journal,
	notify ports.Notifier,
	balanceFn func(ctx context.Context) (float64, error),
) *Strategy {
	return &Strategy{
		cfg:       cfg,
		market:    market,
		tracker:   tracker,
		guard:     guard,
		risk:      risk,
		execution: execution,
		positions: positions,
		journal:   journal,
		notify:    notify,
		balanceFn: balanceFn,
		state:     domain.StateIdle,
	}
}

// State returns the current decision state.
func (s *Strategy) State() domain.DecisionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Arm moves Idle → Armed once the market is being tracked.
func (s *Strategy) Arm(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.StateIdle {
		return
	}
	s.state = domain.StateArmed
	s.journal.Append(ctx, "arm", s.market.ConditionID, map[string]any{
		"window_end": s.market.WindowEnd,
	})
	slog.Info("strategy: armed", "market", s.market.ConditionID, "remaining", s.market.Remaining(time.Now()).Round(time.Second))
}

// CheckTrigger runs one entry evaluation. Safe to call concurrently; calls
// serialize and terminal states no-op.
func (s *Strategy) CheckTrigger(ctx context.Context, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() || s.state == domain.StateIdle {
		return
	}

	remaining := s.market.Remaining(now)
	if remaining <= 0 {
		s.state = domain.StateExpired
		s.journal.Append(ctx, "expire", s.market.ConditionID, nil)
		slog.Info("strategy: window expired without entry", "market", s.market.ConditionID)
		return
	}

	if s.attempts >= s.cfg.MaxAttempts {
		return
	}
	if !s.lastAttempt.IsZero() && now.Sub(s.lastAttempt) < s.cfg.AttemptCooldown {
		return
	}

	// Window phase.
	early := false
	if remaining > s.cfg.LateWindow {
		if !s.earlyEligible(remaining) {
			return
		}
		early = true
	} else if s.state == domain.StateArmed {
		s.state = domain.StateLateWindow
		s.journal.Append(ctx, "late_window", s.market.ConditionID, map[string]any{
			"remaining_s": int(remaining.Seconds()),
		})
	}

	side, confidence := s.tracker.Favored(s.cfg.PriceEpsilon)
	if side == domain.SideNone {
		s.skip(ctx, "no_favorite", nil)
		return
	}

	ask, ok := s.tracker.BestAsk(side)
	if !ok {
		s.skip(ctx, "no_ask", map[string]any{"side": side})
		return
	}

	// Early entries gate on the favored bid; the late window gates on the
	// price actually paid, the best ask.
	if early {
		if confidence < s.cfg.EarlyBidFloor {
			s.skip(ctx, "low_confidence", map[string]any{"side": side, "confidence": confidence})
			return
		}
	} else if ask.Price < s.cfg.MinConfidence {
		s.skip(ctx, "low_confidence", map[string]any{"side": side, "ask": ask.Price})
		return
	}

	if ask.Price > s.cfg.MaxPrice+s.cfg.PriceEpsilon {
		s.skip(ctx, "price_ceiling", map[string]any{"side": side, "ask": ask.Price})
		return
	}

	// Liquidity fails OPEN: unknown depth does not block the entry.
	if s.cfg.MinLiquidity > 0 {
		if liq, known := s.tracker.AskLiquidity(side, liquidityDepth); known && liq < s.cfg.MinLiquidity {
			s.skip(ctx, "thin_liquidity", map[string]any{"side": side, "liquidity": liq})
			return
		}
	}

	if reason := s.guard.Evaluate(side, now); reason != domain.GuardOK {
		s.guardBlock(ctx, side, reason)
		return
	}

	if !s.risk.Allow(now, s.cachedBalance(ctx)) {
		s.breakerBlock(ctx)
		return
	}

	notional := s.risk.Size(s.cachedBalance(ctx))
	if s.cachedBalance(ctx) < notional {
		s.skip(ctx, "insufficient_balance", map[string]any{"balance": s.balance, "required": notional})
		return
	}

	// Things moved while we were deciding; never enter a closed window.
	if s.market.Remaining(time.Now()) <= 0 {
		return
	}

	s.attempts++
	s.lastAttempt = now

	pos, err := s.execution.ExecuteEntry(ctx, s.market, side, ask.Price, notional)
	if err != nil {
		slog.Warn("strategy: entry attempt failed",
			"market", s.market.ConditionID, "attempt", s.attempts, "err", err)
		s.journal.Append(ctx, "entry_failed", s.market.ConditionID, map[string]any{
			"attempt": s.attempts, "err": err.Error(),
		})
		return
	}

	s.state = domain.StateExecuted
	s.positions.Track(pos)
	s.journal.Append(ctx, "entry", s.market.ConditionID, map[string]any{
		"side": side, "price": pos.EntryPrice, "usdc": pos.Notional, "early": early,
	})
}

// earlyEligible reports whether the early-entry shortcut applies at this
// remaining time.
func (s *Strategy) earlyEligible(remaining time.Duration) bool {
	if !s.cfg.EarlyEntry {
		return false
	}
	return remaining <= s.cfg.EarlyFrom && remaining > s.cfg.EarlyUntil
}

// cachedBalance fetches the balance once per market and caches it.
func (s *Strategy) cachedBalance(ctx context.Context) float64 {
	if s.balanceChecked {
		return s.balance
	}
	bal, err := s.balanceFn(ctx)
	if err != nil {
		slog.Warn("strategy: balance check failed", "err", err)
		return 0 // fail closed downstream
	}
	s.balance = bal
	s.balanceChecked = true
	return bal
}

func (s *Strategy) skip(ctx context.Context, reason string, extra map[string]any) {
	detail := map[string]any{"reason": reason}
	for k, v := range extra {
		detail[k] = v
	}
	s.journal.Append(ctx, "skip", s.market.ConditionID, detail)
	slog.Debug("strategy: skip", "market", s.market.ConditionID, "reason", reason)
}

// guardBlock journals the block and alerts once per (market, reason).
func (s *Strategy) guardBlock(ctx context.Context, side domain.Side, reason domain.GuardReason) {
	s.journal.Append(ctx, "guard_block", s.market.ConditionID, map[string]any{
		"side": side, "reason": reason,
	})
	if s.guard.ShouldAlert(reason) {
		a := domain.Alert{
			Kind:        "guard_block",
			ConditionID: s.market.ConditionID,
			Message:     fmt.Sprintf("entry on %s blocked: %s", side, reason),
			At:          time.Now().UTC(),
		}
		if err := s.notify.Alert(ctx, a); err != nil {
			slog.Warn("strategy: notifier failed", "err", err)
		}
	}
}

func (s *Strategy) breakerBlock(ctx context.Context) {
	reason := s.risk.TrippedReason()
	if reason == "" {
		reason = "unknown_balance"
	}
	s.journal.Append(ctx, "breaker", s.market.ConditionID, map[string]any{"reason": reason})
	if !s.breakerAlerted {
		s.breakerAlerted = true
		a := domain.Alert{
			Kind:        "breaker",
			ConditionID: s.market.ConditionID,
			Message:     "trading halted: " + reason,
			At:          time.Now().UTC(),
		}
		if err := s.notify.Alert(ctx, a); err != nil {
			slog.Warn("strategy: notifier failed", "err", err)
		}
	}
}
