package trader

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/updown/internal/domain"
)

type fakeMarketStream struct {
	events chan domain.BookEvent
}

func (f *fakeMarketStream) Run(ctx context.Context) error {
	<-ctx.Done()
	close(f.events)
	return nil
}
func (f *fakeMarketStream) Events() <-chan domain.BookEvent { return f.events }
func (f *fakeMarketStream) LastSeen() time.Time             { return time.Now() }

type fakeOracleStream struct {
	points chan domain.OraclePoint
}

func (f *fakeOracleStream) Run(ctx context.Context) error {
	<-ctx.Done()
	close(f.points)
	return nil
}
func (f *fakeOracleStream) Points() <-chan domain.OraclePoint { return f.points }
func (f *fakeOracleStream) LastSeen() time.Time               { return time.Now() }

type fakeSummary struct {
	mu     sync.Mutex
	called bool
	trades []domain.Trade
}

func (f *fakeSummary) PrintSessionSummary(trades []domain.Trade, _ domain.DailyStats) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.called = true
	f.trades = trades
}

func newTestEngine(t *testing.T, market domain.Market) (*Engine, *fakeMarketStream, *fakeOracleStream, *fakeSummary) {
	t.Helper()
	store := newTestStore(t)
	notifier := &fakeNotifier{}
	tracker := NewTracker(market)
	guard := NewGuard(testGuardConfig(), market.WindowStart)
	risk := NewRisk(testRiskConfig(), time.Now(), 1000)
	execution := NewExecution(&fakeExecutor{}, store, notifier, "sess-e", true)
	positions := NewPositions(testStopsConfig(), execution, risk, store)
	journal := NewJournal(store, "sess-e")
	strategy := NewStrategy(testStrategyConfig(), market, tracker, guard, risk,
		execution, positions, journal, notifier,
		func(context.Context) (float64, error) { return 1000, nil })

	ms := &fakeMarketStream{events: make(chan domain.BookEvent, 8)}
	os := &fakeOracleStream{points: make(chan domain.OraclePoint, 8)}
	sum := &fakeSummary{}
	eng := NewEngine(market, ms, os, tracker, guard, strategy, positions,
		execution, journal, store, notifier, sum)
	return eng, ms, os, sum
}

func TestEngineFinishesExpiredSession(t *testing.T) {
	now := time.Now()
	m := testMarket()
	m.WindowStart = now.Add(-6 * time.Minute)
	m.WindowEnd = now.Add(-10 * time.Second)

	eng, _, _, sum := newTestEngine(t, m)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// La sesión termina sola: la ventana ya expiró y no hay posiciones.
	require.NoError(t, eng.Run(ctx))
	require.NoError(t, ctx.Err(), "la sesión debió terminar antes del timeout")

	sum.mu.Lock()
	defer sum.mu.Unlock()
	assert.True(t, sum.called)
	assert.Empty(t, sum.trades)
}

func TestEngineCancelledContextIsCleanShutdown(t *testing.T) {
	now := time.Now()
	m := testMarket()
	m.WindowStart = now
	m.WindowEnd = now.Add(5 * time.Minute)

	eng, _, _, sum := newTestEngine(t, m)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("el engine no se apagó tras cancelar el contexto")
	}
	sum.mu.Lock()
	defer sum.mu.Unlock()
	assert.True(t, sum.called)
}

func TestEngineEntersOnBookMessageBeforeTick(t *testing.T) {
	now := time.Now()
	m := testMarket()
	m.WindowStart = now.Add(-4 * time.Minute)
	m.WindowEnd = now.Add(60 * time.Second)

	eng, ms, _, _ := newTestEngine(t, m)

	// Guard en verde para Up: beat al abrir la ventana y tendencia al alza.
	eng.guard.Observe(domain.OraclePoint{Symbol: "btc/usd", Price: 100000, At: m.WindowStart})
	at := now.Add(-6 * time.Second)
	for _, p := range []float64{100100, 100110, 100115, 100120} {
		eng.guard.Observe(domain.OraclePoint{Symbol: "btc/usd", Price: p, At: at})
		at = at.Add(2 * time.Second)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	ms.events <- snapshot("tok-up",
		[]domain.Level{{Price: 0.92, Size: 100}},
		[]domain.Level{{Price: 0.93, Size: 100}},
	)
	ms.events <- snapshot("tok-down",
		[]domain.Level{{Price: 0.07, Size: 100}},
		[]domain.Level{{Price: 0.08, Size: 100}},
	)

	// La entrada sale disparada por el mensaje que movió el libro, mucho
	// antes del primer tick del heartbeat (1s).
	require.Eventually(t, func() bool {
		return eng.positions.Has(m.ConditionID)
	}, 500*time.Millisecond, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestEngineWithoutOracleStream(t *testing.T) {
	now := time.Now()
	m := testMarket()
	m.WindowStart = now.Add(-4 * time.Minute)
	m.WindowEnd = now.Add(60 * time.Second)

	store := newTestStore(t)
	tracker := NewTracker(m)
	cfg := testGuardConfig()
	cfg.Enabled = false
	guard := NewGuard(cfg, m.WindowStart)
	risk := NewRisk(testRiskConfig(), time.Now(), 1000)
	execution := NewExecution(&fakeExecutor{}, store, &fakeNotifier{}, "sess-no", true)
	positions := NewPositions(testStopsConfig(), execution, risk, store)
	journal := NewJournal(store, "sess-no")
	strategy := NewStrategy(testStrategyConfig(), m, tracker, guard, risk,
		execution, positions, journal, &fakeNotifier{},
		func(context.Context) (float64, error) { return 1000, nil })

	ms := &fakeMarketStream{events: make(chan domain.BookEvent, 8)}
	eng := NewEngine(m, ms, nil, tracker, guard, strategy, positions,
		execution, journal, store, &fakeNotifier{}, &fakeSummary{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	// Sin oráculo el guard desactivado no bloquea: el libro basta.
	ms.events <- snapshot("tok-up",
		[]domain.Level{{Price: 0.92, Size: 100}},
		[]domain.Level{{Price: 0.93, Size: 100}},
	)
	ms.events <- snapshot("tok-down",
		[]domain.Level{{Price: 0.07, Size: 100}},
		[]domain.Level{{Price: 0.08, Size: 100}},
	)

	require.Eventually(t, func() bool {
		return eng.positions.Has(m.ConditionID)
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestEngineResolutionStatus(t *testing.T) {
	m := testMarket()
	eng, _, _, _ := newTestEngine(t, m)

	// Sin precios del oráculo el desenlace es incognoscible.
	assert.Equal(t, domain.PositionVoided, eng.resolutionStatus(domain.SideUp))

	eng.guard.Observe(domain.OraclePoint{Symbol: "btc/usd", Price: 100000, At: m.WindowStart})
	eng.guard.Observe(domain.OraclePoint{Symbol: "btc/usd", Price: 100200, At: m.WindowStart.Add(time.Minute)})

	assert.Equal(t, domain.PositionResolvedWin, eng.resolutionStatus(domain.SideUp))
	assert.Equal(t, domain.PositionResolvedLoss, eng.resolutionStatus(domain.SideDown))
}

func TestEnginePumpsBookIntoTracker(t *testing.T) {
	now := time.Now()
	m := testMarket()
	m.WindowStart = now
	m.WindowEnd = now.Add(5 * time.Minute)

	eng, ms, _, _ := newTestEngine(t, m)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	ms.events <- snapshot("tok-up",
		[]domain.Level{{Price: 0.88, Size: 10}},
		[]domain.Level{{Price: 0.90, Size: 10}},
	)

	require.Eventually(t, func() bool {
		_, ok := eng.tracker.BestBid(domain.SideUp)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
