package trader

// execution.go — order submission with a stable identity across retries.
//
// Entries are FOK market buys sized in USDC at the worst-acceptable ask;
// exits are FOK sells of the whole position. The request built on the first
// attempt for a market is reused verbatim on retries, so a retry can never
// change side, token, size or price. Executing twice for the same market
// returns the already-open position.

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/updown/internal/domain"
	"github.com/alejandrodnm/updown/internal/ports"
)

// Execution submits orders and persists their outcome.
type Execution struct {
	mu        sync.Mutex
	exec      ports.Executor
	store     ports.Store
	notify    ports.Notifier
	sessionID string
	dryRun    bool

	pending map[string]domain.OrderRequest // conditionID → frozen entry request
	done    map[string]*domain.Position    // conditionID → opened position

	tradesMu sync.Mutex
	trades   []domain.Trade // session trade log, for the summary
}

// NewExecution creates the execution manager for a session.
func NewExecution(exec ports.Executor, store ports.Store, notify ports.Notifier, sessionID string, dryRun bool) *Execution {
	return &Execution{
		exec:      exec,
		store:     store,
		notify:    notify,
		sessionID: sessionID,
		dryRun:    dryRun,
		pending:   make(map[string]domain.OrderRequest),
		done:      make(map[string]*domain.Position),
	}
}

// ExecuteEntry opens a position on the market's side, spending notional USDC
// at worst price ask. Idempotent per market.
func (e *Execution) ExecuteEntry(ctx context.Context, market domain.Market, side domain.Side, ask, notional float64) (domain.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if pos, ok := e.done[market.ConditionID]; ok {
		return *pos, nil
	}

	req, ok := e.pending[market.ConditionID]
	if !ok {
		req = domain.OrderRequest{
			ConditionID: market.ConditionID,
			TokenID:     market.TokenFor(side),
			Side:        side,
			Buy:         true,
			Price:       domain.ClampPrice(ask),
			Notional:    notional,
			NegRisk:     market.NegRisk,
		}
		e.pending[market.ConditionID] = req
	}

	res, err := e.exec.PlaceOrder(ctx, req)
	if err != nil {
		return domain.Position{}, fmt.Errorf("execution.ExecuteEntry: %w", err)
	}

	entryPrice := res.FillPrice
	if entryPrice == 0 {
		entryPrice = req.Price
	}
	filled := res.FilledUSDC
	if filled == 0 {
		filled = req.Notional
	}
	shares := res.Shares
	if shares == 0 && entryPrice > 0 {
		shares = filled / entryPrice
	}

	now := time.Now().UTC()
	pos := domain.Position{
		ID:          uuid.NewString(),
		SessionID:   e.sessionID,
		ConditionID: market.ConditionID,
		Side:        req.Side,
		TokenID:     req.TokenID,
		EntryPrice:  entryPrice,
		Notional:    filled,
		Shares:      shares,
		NegRisk:     req.NegRisk,
		OpenedAt:    now,
		DryRun:      e.dryRun,
	}
	e.done[market.ConditionID] = &pos
	delete(e.pending, market.ConditionID)

	trade := domain.Trade{
		ID:          uuid.NewString(),
		SessionID:   e.sessionID,
		ConditionID: market.ConditionID,
		Side:        req.Side,
		TokenID:     req.TokenID,
		Kind:        domain.TradeEntry,
		Price:       entryPrice,
		Notional:    filled,
		Shares:      shares,
		DryRun:      e.dryRun,
		ExecutedAt:  now,
	}
	e.persistEntry(ctx, pos, trade)

	slog.Info("execution: entry filled",
		"market", market.ConditionID, "side", side, "price", entryPrice, "usdc", filled, "order_id", res.OrderID)
	return pos, nil
}

// ExecuteExit liquidates the position at worst price bid and returns the
// realized pnl.
func (e *Execution) ExecuteExit(ctx context.Context, pos domain.Position, bid float64, reason domain.ExitReason) (float64, error) {
	req := domain.OrderRequest{
		ConditionID: pos.ConditionID,
		TokenID:     pos.TokenID,
		Side:        pos.Side,
		Buy:         false,
		Price:       domain.ClampPrice(bid),
		Shares:      pos.Shares,
		NegRisk:     pos.NegRisk,
	}

	res, err := e.exec.PlaceOrder(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("execution.ExecuteExit: %w", err)
	}

	exitPrice := res.FillPrice
	if exitPrice == 0 {
		exitPrice = req.Price
	}
	pnl := pos.PnL(exitPrice)

	now := time.Now().UTC()
	trade := domain.Trade{
		ID:          uuid.NewString(),
		SessionID:   e.sessionID,
		ConditionID: pos.ConditionID,
		Side:        pos.Side,
		TokenID:     pos.TokenID,
		Kind:        domain.TradeExit,
		Price:       exitPrice,
		Notional:    pos.Notional,
		Shares:      pos.Shares,
		PnL:         pnl,
		ExitReason:  reason,
		DryRun:      e.dryRun,
		ExecutedAt:  now,
	}
	e.persistExit(ctx, trade)

	slog.Info("execution: exit filled",
		"market", pos.ConditionID, "reason", reason, "price", exitPrice, "pnl", pnl)
	return pnl, nil
}

// Position returns the opened position for a market, if any.
func (e *Execution) Position(conditionID string) (domain.Position, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if pos, ok := e.done[conditionID]; ok {
		return *pos, true
	}
	return domain.Position{}, false
}

// Trades returns the trades executed this session, in order.
func (e *Execution) Trades() []domain.Trade {
	e.tradesMu.Lock()
	defer e.tradesMu.Unlock()
	out := make([]domain.Trade, len(e.trades))
	copy(out, e.trades)
	return out
}

func (e *Execution) recordSessionTrade(t domain.Trade) {
	e.tradesMu.Lock()
	e.trades = append(e.trades, t)
	e.tradesMu.Unlock()
}

// persistEntry writes position, trade and day counters. Persistence errors
// are logged, never propagated: the order is already on the book.
func (e *Execution) persistEntry(ctx context.Context, pos domain.Position, trade domain.Trade) {
	e.recordSessionTrade(trade)
	if err := e.store.UpsertPosition(ctx, pos); err != nil {
		slog.Error("execution: persist position", "err", err)
	}
	if err := e.store.SaveTrade(ctx, trade); err != nil {
		slog.Error("execution: persist trade", "err", err)
	}
	if err := e.store.RecordDay(ctx, domain.DailyStats{
		Date: trade.ExecutedAt.Format("2006-01-02"), Trades: 1,
	}); err != nil {
		slog.Error("execution: record day", "err", err)
	}
	e.alert(ctx, domain.Alert{
		Kind:        "entry",
		ConditionID: pos.ConditionID,
		Message: fmt.Sprintf("bought %s @ %.3f for $%.2f",
			pos.Side, pos.EntryPrice, pos.Notional),
		At: trade.ExecutedAt,
	})
}

func (e *Execution) persistExit(ctx context.Context, trade domain.Trade) {
	e.recordSessionTrade(trade)
	if err := e.store.SaveTrade(ctx, trade); err != nil {
		slog.Error("execution: persist trade", "err", err)
	}
	// Live rows disappear; simulated ones keep the row with the exit reason
	// as terminal status, for the audit trail.
	if e.dryRun {
		if err := e.store.CloseDryRunPosition(ctx, trade.ConditionID, string(trade.ExitReason)); err != nil {
			slog.Error("execution: close dry-run position", "err", err)
		}
	} else if err := e.store.ClosePosition(ctx, trade.ConditionID); err != nil {
		slog.Error("execution: close position", "err", err)
	}
	day := domain.DailyStats{Date: trade.ExecutedAt.Format("2006-01-02"), PnL: trade.PnL}
	if trade.PnL >= 0 {
		day.Wins = 1
	} else {
		day.Losses = 1
	}
	if err := e.store.RecordDay(ctx, day); err != nil {
		slog.Error("execution: record day", "err", err)
	}
	e.alert(ctx, domain.Alert{
		Kind:        "exit",
		ConditionID: trade.ConditionID,
		Message: fmt.Sprintf("sold %s @ %.3f (%s), pnl $%+.2f",
			trade.Side, trade.Price, trade.ExitReason, trade.PnL),
		At: trade.ExecutedAt,
	})
}

// alert emits through the notifier and records to storage; failures are
// logged and swallowed.
func (e *Execution) alert(ctx context.Context, a domain.Alert) {
	if err := e.notify.Alert(ctx, a); err != nil {
		slog.Warn("execution: notifier failed", "err", err)
	}
	if err := e.store.SaveAlert(ctx, a); err != nil {
		slog.Warn("execution: save alert", "err", err)
	}
}
