package trader

// risk.go — position sizing and the daily circuit breaker.

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/alejandrodnm/updown/internal/domain"
	"github.com/alejandrodnm/updown/internal/ports"
)

// RiskConfig holds the sizing knobs and breaker limits.
type RiskConfig struct {
	TradeSize    float64 // base USDC per trade
	MinTradeUSDC float64
	MaxTradeUSDC float64
	BalancePct   float64 // dynamic sizing fraction of balance
	MaxLossPct   float64
	MaxTrades    int
}

// Risk sizes entries and enforces the daily circuit breaker. Safe for
// concurrent use.
type Risk struct {
	mu      sync.Mutex
	cfg     RiskConfig
	breaker *domain.DailyBreaker
}

// NewRisk creates the risk manager seeded with the starting balance.
func NewRisk(cfg RiskConfig, now time.Time, initialBalance float64) *Risk {
	return &Risk{
		cfg:     cfg,
		breaker: domain.NewDailyBreaker(now, initialBalance, cfg.MaxLossPct, cfg.MaxTrades),
	}
}

// Size returns the USDC notional for a new entry:
// min(max(trade_size, min_trade, balance*pct), max_trade).
func (r *Risk) Size(balance float64) float64 {
	required := math.Max(r.cfg.TradeSize, r.cfg.MinTradeUSDC)
	required = math.Max(required, balance*r.cfg.BalancePct)
	return math.Min(required, r.cfg.MaxTradeUSDC)
}

// Allow reports whether a new entry is permitted. The breaker re-arms itself
// on UTC day rollover. A balance the engine could not determine (0) fails
// closed.
func (r *Risk) Allow(now time.Time, balance float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if balance <= 0 {
		return false
	}
	return r.breaker.Allow(now, balance)
}

// SeedFromStore folds the persisted counters of the current UTC day into
// the breaker, so limits survive a process restart. An unreadable store
// fails closed: the breaker opens until the next day rollover.
func (r *Risk) SeedFromStore(ctx context.Context, store ports.Store) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	day, err := store.GetDay(ctx, r.breaker.Date)
	if err != nil {
		r.breaker.TrippedReason = "stats_unreadable"
		return fmt.Errorf("risk.SeedFromStore: %w", err)
	}
	r.breaker.Seed(day)
	return nil
}

// RecordExit feeds a realized pnl into the breaker.
func (r *Risk) RecordExit(now time.Time, pnl float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breaker.RecordTrade(now, pnl)
}

// TrippedReason returns why the breaker is open, "" when trading is allowed.
func (r *Risk) TrippedReason() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.breaker.TrippedReason
}
