package trader

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/updown/internal/domain"
)

func testStopsConfig() StopsConfig {
	return StopsConfig{
		StopLossPct:      0.30,
		StopLossAbsolute: 0.80,
		TrailingPct:      0.15,
		TakeProfitPct:    0.05,
		CheckInterval:    0, // sin throttle en tests
	}
}

func newTestPositions(t *testing.T, exec *fakeExecutor) (*Positions, *Execution) {
	t.Helper()
	store := newTestStore(t)
	execution := NewExecution(exec, store, &fakeNotifier{}, "sess-1", false)
	risk := NewRisk(testRiskConfig(), time.Now(), 1000)
	return NewPositions(testStopsConfig(), execution, risk, store), execution
}

func openPosition() domain.Position {
	return domain.Position{
		ID:          "pos-1",
		SessionID:   "sess-1",
		ConditionID: "0xcond",
		Side:        domain.SideUp,
		TokenID:     "tok-up",
		EntryPrice:  0.90,
		Notional:    10,
		Shares:      11.11,
		OpenedAt:    time.Now().UTC(),
	}
}

func bidAt(price float64) func(domain.Position) (float64, bool) {
	return func(domain.Position) (float64, bool) { return price, true }
}

func TestCheckExitsStopLoss(t *testing.T) {
	exec := &fakeExecutor{}
	p, _ := newTestPositions(t, exec)
	p.Track(openPosition())

	// Por encima del stop no pasa nada.
	p.CheckExits(context.Background(), time.Now(), bidAt(0.85))
	assert.True(t, p.Has("0xcond"))

	// Con entry 0.90: stop relativo 0.63, suelo absoluto 0.80 → manda 0.80.
	p.CheckExits(context.Background(), time.Now(), bidAt(0.79))
	assert.False(t, p.Has("0xcond"))
	require.Len(t, exec.requests, 1)
	assert.False(t, exec.requests[0].Buy)
}

func TestCheckExitsTakeProfit(t *testing.T) {
	exec := &fakeExecutor{}
	p, execution := newTestPositions(t, exec)
	p.Track(openPosition())

	// entry 0.90 * 1.05 = 0.945
	p.CheckExits(context.Background(), time.Now(), bidAt(0.95))
	assert.False(t, p.Has("0xcond"))

	trades := execution.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, domain.ExitTakeProfit, trades[0].ExitReason)
}

func TestCheckExitsBoundaryDoesNotFire(t *testing.T) {
	exec := &fakeExecutor{}
	p, _ := newTestPositions(t, exec)
	p.Track(openPosition())
	ctx := context.Background()

	// Justo en el stop (suelo absoluto 0.80) no se vende...
	p.CheckExits(ctx, time.Now(), bidAt(0.80))
	assert.True(t, p.Has("0xcond"))
	// ...ni justo en el take-profit (0.90 * 1.05 = 0.945).
	p.CheckExits(ctx, time.Now(), bidAt(0.945))
	assert.True(t, p.Has("0xcond"))
	assert.Empty(t, exec.requests)

	// Cruzar el umbral sí dispara.
	p.CheckExits(ctx, time.Now(), bidAt(0.946))
	assert.False(t, p.Has("0xcond"))
}

func TestCheckExitsTrailingRatchet(t *testing.T) {
	exec := &fakeExecutor{}
	p, execution := newTestPositions(t, exec)
	cfg := testStopsConfig()
	cfg.TakeProfitPct = 0 // desactivado: dejamos correr la posición
	p.cfg = cfg
	p.Track(openPosition())
	ctx := context.Background()

	// El bid sube: el trailing se fija en 0.94 * 0.85 = 0.799 → bajo el
	// suelo absoluto, así que queda en 0.80.
	p.CheckExits(ctx, time.Now(), bidAt(0.94))
	open := p.Open()
	require.Len(t, open, 1)
	assert.InDelta(t, 0.80, open[0].TrailingStop, 1e-9)

	// Sigue subiendo: 0.99 * 0.85 = 0.8415.
	p.CheckExits(ctx, time.Now(), bidAt(0.99))
	open = p.Open()
	assert.InDelta(t, 0.8415, open[0].TrailingStop, 1e-9)

	// Baja: el trailing nunca retrocede.
	p.CheckExits(ctx, time.Now(), bidAt(0.90))
	open = p.Open()
	assert.InDelta(t, 0.8415, open[0].TrailingStop, 1e-9)

	// Y cae a través del trailing: salida etiquetada como trailing stop.
	p.CheckExits(ctx, time.Now(), bidAt(0.84))
	assert.False(t, p.Has("0xcond"))
	trades := execution.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, domain.ExitTrailingStop, trades[0].ExitReason)
}

func TestCheckExitsFailedExitRetries(t *testing.T) {
	exec := &fakeExecutor{errs: []error{errors.New("fak rejected"), nil}}
	p, _ := newTestPositions(t, exec)
	p.Track(openPosition())
	ctx := context.Background()

	// La primera venta falla: la posición sigue viva para el próximo ciclo.
	p.CheckExits(ctx, time.Now(), bidAt(0.50))
	assert.True(t, p.Has("0xcond"))

	p.CheckExits(ctx, time.Now(), bidAt(0.50))
	assert.False(t, p.Has("0xcond"))
	assert.Len(t, exec.requests, 2)
}

func TestCheckExitsThrottle(t *testing.T) {
	exec := &fakeExecutor{}
	p, _ := newTestPositions(t, exec)
	p.cfg.CheckInterval = time.Second
	p.Track(openPosition())

	now := time.Now()
	p.CheckExits(context.Background(), now, bidAt(0.50))
	// Demasiado pronto: ni siquiera se consulta el bid.
	p.CheckExits(context.Background(), now.Add(200*time.Millisecond), bidAt(0.50))
	assert.Len(t, exec.requests, 1)
}

func TestRelease(t *testing.T) {
	p, _ := newTestPositions(t, &fakeExecutor{})
	p.Track(openPosition())

	pos, ok := p.Release("0xcond")
	require.True(t, ok)
	assert.Equal(t, "pos-1", pos.ID)
	assert.False(t, p.Has("0xcond"))

	_, ok = p.Release("0xcond")
	assert.False(t, ok)
}

func TestRecoverVerifiesOnChain(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	execution := NewExecution(&fakeExecutor{}, store, &fakeNotifier{}, "sess-2", false)
	risk := NewRisk(testRiskConfig(), time.Now(), 1000)
	p := NewPositions(testStopsConfig(), execution, risk, store)

	held := openPosition()
	stale := openPosition()
	stale.ID = "pos-2"
	stale.ConditionID = "0xother"
	stale.TokenID = "tok-gone"
	require.NoError(t, store.UpsertPosition(ctx, held))
	require.NoError(t, store.UpsertPosition(ctx, stale))

	verify := func(_ context.Context, tokenID string) (bool, error) {
		return tokenID != "tok-gone", nil
	}
	require.NoError(t, p.Recover(ctx, verify))

	// La posición sin respaldo on-chain se descarta y se borra del storage.
	assert.True(t, p.Has("0xcond"))
	assert.False(t, p.Has("0xother"))
	rows, err := store.OpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "0xcond", rows[0].ConditionID)
}

func TestRecoverWithoutVerifier(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	execution := NewExecution(&fakeExecutor{}, store, &fakeNotifier{}, "sess-2", true)
	risk := NewRisk(testRiskConfig(), time.Now(), 1000)
	p := NewPositions(testStopsConfig(), execution, risk, store)

	require.NoError(t, store.UpsertPosition(ctx, openPosition()))
	require.NoError(t, p.Recover(ctx, nil))
	assert.True(t, p.Has("0xcond"))
}
