package trader

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/updown/internal/adapters/storage"
	"github.com/alejandrodnm/updown/internal/domain"
)

// fakeExecutor registra las órdenes recibidas y devuelve resultados
// programados por el test.
type fakeExecutor struct {
	mu       sync.Mutex
	requests []domain.OrderRequest
	results  []domain.OrderResult
	errs     []error
	balance  float64
}

func (f *fakeExecutor) PlaceOrder(_ context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	i := len(f.requests) - 1
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	if err != nil {
		return domain.OrderResult{}, err
	}
	if i < len(f.results) {
		return f.results[i], nil
	}
	return domain.OrderResult{OrderID: "ord", Status: "matched"}, nil
}

func (f *fakeExecutor) Balance(context.Context) (float64, error) {
	return f.balance, nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	alerts []domain.Alert
}

func (f *fakeNotifier) Alert(_ context.Context, a domain.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, a)
	return nil
}

func (f *fakeNotifier) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.alerts))
	for i, a := range f.alerts {
		out[i] = a.Kind
	}
	return out
}

func newTestStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestExecuteEntryFillsAndPersists(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	exec := &fakeExecutor{results: []domain.OrderResult{
		{OrderID: "ord-1", Status: "matched", FillPrice: 0.91, FilledUSDC: 10, Shares: 10.989},
	}}
	e := NewExecution(exec, store, &fakeNotifier{}, "sess-1", false)

	pos, err := e.ExecuteEntry(ctx, testMarket(), domain.SideUp, 0.92, 10)
	require.NoError(t, err)
	assert.Equal(t, "tok-up", pos.TokenID)
	assert.Equal(t, 0.91, pos.EntryPrice)
	assert.Equal(t, 10.0, pos.Notional)

	// La orden era una compra FOK al peor precio aceptable.
	require.Len(t, exec.requests, 1)
	req := exec.requests[0]
	assert.True(t, req.Buy)
	assert.Equal(t, 0.92, req.Price)
	assert.Equal(t, 10.0, req.Notional)

	// Posición y trade persistidos.
	open, err := store.OpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, pos.ID, open[0].ID)

	trades := e.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, domain.TradeEntry, trades[0].Kind)
}

func TestExecuteEntryIdempotentPerMarket(t *testing.T) {
	ctx := context.Background()
	e := NewExecution(&fakeExecutor{}, newTestStore(t), &fakeNotifier{}, "sess-1", true)

	first, err := e.ExecuteEntry(ctx, testMarket(), domain.SideUp, 0.92, 10)
	require.NoError(t, err)

	// La segunda llamada devuelve la posición ya abierta sin enviar nada.
	second, err := e.ExecuteEntry(ctx, testMarket(), domain.SideDown, 0.50, 99)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, e.Trades(), 1)
}

func TestExecuteEntryRetryKeepsIdentity(t *testing.T) {
	ctx := context.Background()
	exec := &fakeExecutor{errs: []error{errors.New("fak rejected"), nil}}
	e := NewExecution(exec, newTestStore(t), &fakeNotifier{}, "sess-1", false)

	_, err := e.ExecuteEntry(ctx, testMarket(), domain.SideUp, 0.92, 10)
	require.Error(t, err)

	// El reintento llega con el libro movido, pero la orden congelada en el
	// primer intento se reenvía idéntica.
	_, err = e.ExecuteEntry(ctx, testMarket(), domain.SideDown, 0.40, 50)
	require.NoError(t, err)

	require.Len(t, exec.requests, 2)
	assert.Equal(t, exec.requests[0], exec.requests[1])
	assert.Equal(t, domain.SideUp, exec.requests[1].Side)
	assert.Equal(t, 0.92, exec.requests[1].Price)
}

func TestExecuteExitRealizesPnL(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	notif := &fakeNotifier{}
	exec := &fakeExecutor{results: []domain.OrderResult{
		{OrderID: "ord-2", Status: "matched", FillPrice: 0.95, FilledUSDC: 10.43, Shares: 10.989},
	}}
	e := NewExecution(exec, store, notif, "sess-1", false)

	pos := domain.Position{
		ID:          "pos-1",
		SessionID:   "sess-1",
		ConditionID: "0xcond",
		Side:        domain.SideUp,
		TokenID:     "tok-up",
		EntryPrice:  0.91,
		Notional:    10,
		Shares:      10.989,
		OpenedAt:    time.Now().UTC(),
	}
	require.NoError(t, store.UpsertPosition(ctx, pos))

	pnl, err := e.ExecuteExit(ctx, pos, 0.95, domain.ExitTakeProfit)
	require.NoError(t, err)
	// pnl = notional * (exit-entry)/entry
	assert.InDelta(t, 10*(0.95-0.91)/0.91, pnl, 1e-9)

	// La venta liquida todas las shares.
	require.Len(t, exec.requests, 1)
	req := exec.requests[0]
	assert.False(t, req.Buy)
	assert.Equal(t, 10.989, req.Shares)

	// La posición desaparece del storage y el día acumula la ganancia.
	open, err := store.OpenPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)

	day, err := store.GetDay(ctx, time.Now().UTC().Format("2006-01-02"))
	require.NoError(t, err)
	assert.Equal(t, 1, day.Wins)
	assert.InDelta(t, pnl, day.PnL, 1e-9)

	assert.Contains(t, notif.kinds(), "exit")
}

func TestExecuteExitDryRunLeavesOpenSet(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	e := NewExecution(&fakeExecutor{}, store, &fakeNotifier{}, "sess-1", true)

	pos := domain.Position{
		ID:          "pos-1",
		SessionID:   "sess-1",
		ConditionID: "0xcond",
		Side:        domain.SideUp,
		TokenID:     "tok-up",
		EntryPrice:  0.91,
		Notional:    10,
		Shares:      10.989,
		DryRun:      true,
		OpenedAt:    time.Now().UTC(),
	}
	require.NoError(t, store.UpsertPosition(ctx, pos))

	_, err := e.ExecuteExit(ctx, pos, 0.85, domain.ExitStopLoss)
	require.NoError(t, err)

	// La fila simulada sale del conjunto de abiertas vía estado terminal,
	// no vía borrado.
	open, err := store.OpenPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestExecuteExitFailurePropagates(t *testing.T) {
	ctx := context.Background()
	exec := &fakeExecutor{errs: []error{errors.New("no liquidity")}}
	e := NewExecution(exec, newTestStore(t), &fakeNotifier{}, "sess-1", false)

	_, err := e.ExecuteExit(ctx, domain.Position{ConditionID: "0xcond", Shares: 5}, 0.5, domain.ExitStopLoss)
	require.Error(t, err)
	assert.Empty(t, e.Trades())
}
