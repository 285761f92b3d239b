package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/updown/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func makeTrade(id, cond string) domain.Trade {
	return domain.Trade{
		ID:          id,
		SessionID:   "sess-1",
		ConditionID: cond,
		Side:        domain.SideUp,
		TokenID:     "tok-up",
		Kind:        domain.TradeEntry,
		Price:       0.88,
		Notional:    25,
		Shares:      28.4,
		ExecutedAt:  time.Now(),
	}
}

func TestMigrate_FreshDBReachesCurrentVersion(t *testing.T) {
	s := newTestStore(t)

	var v int
	err := s.db.QueryRow(`SELECT version FROM schema_version`).Scan(&v)
	require.NoError(t, err)
	assert.Equal(t, schemaVersion, v)
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	// Re-aplicar sobre una DB al día no hace nada
	require.NoError(t, migrate(s.db))
}

func TestSaveTrade_AppendOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveTrade(ctx, makeTrade("t1", "0xcond")))
	// Mismo ID otra vez → error, nunca sobreescritura
	assert.Error(t, s.SaveTrade(ctx, makeTrade("t1", "0xcond")))
}

func TestPositions_UpsertAndRecover(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := domain.Position{
		ID:          "p1",
		SessionID:   "sess-1",
		ConditionID: "0xcond",
		Side:        domain.SideUp,
		TokenID:     "tok-up",
		EntryPrice:  0.88,
		Notional:    25,
		Shares:      28.4,
		OpenedAt:    time.Now(),
	}
	require.NoError(t, s.UpsertPosition(ctx, p))

	// El trailing stop ratcheteado reemplaza la fila, no duplica
	p.TrailingStop = 0.90
	require.NoError(t, s.UpsertPosition(ctx, p))

	got, err := s.OpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 0.90, got[0].TrailingStop)
	assert.Equal(t, domain.SideUp, got[0].Side)
	assert.InDelta(t, 0.88, got[0].EntryPrice, 1e-9)
}

func TestClosePosition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertPosition(ctx, domain.Position{ID: "p1", ConditionID: "0xcond", Side: domain.SideUp, OpenedAt: time.Now()}))
	require.NoError(t, s.ClosePosition(ctx, "0xcond"))
	// Cerrar dos veces no falla
	require.NoError(t, s.ClosePosition(ctx, "0xcond"))

	got, err := s.OpenPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCloseDryRunPosition_TerminalStatusOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertPosition(ctx, domain.Position{
		ID: "p1", ConditionID: "0xcond", Side: domain.SideUp,
		DryRun: true, OpenedAt: time.Now(),
	}))

	require.NoError(t, s.CloseDryRunPosition(ctx, "0xcond", domain.PositionResolvedWin))

	// La fila no se borra: queda como auditoría con su estado terminal.
	var status string
	require.NoError(t, s.db.QueryRow(
		`SELECT status FROM positions WHERE condition_id = ?`, "0xcond").Scan(&status))
	assert.Equal(t, domain.PositionResolvedWin, status)

	// Un segundo cierre no pisa el estado ya escrito.
	require.NoError(t, s.CloseDryRunPosition(ctx, "0xcond", domain.PositionVoided))
	require.NoError(t, s.db.QueryRow(
		`SELECT status FROM positions WHERE condition_id = ?`, "0xcond").Scan(&status))
	assert.Equal(t, domain.PositionResolvedWin, status)

	// Y la posición resuelta ya no cuenta como abierta.
	got, err := s.OpenPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCloseDryRunPosition_IgnoresLiveRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertPosition(ctx, domain.Position{
		ID: "p1", ConditionID: "0xlive", Side: domain.SideUp, OpenedAt: time.Now(),
	}))

	// El camino dry-run no toca filas reales.
	require.NoError(t, s.CloseDryRunPosition(ctx, "0xlive", domain.PositionVoided))
	got, err := s.OpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "0xlive", got[0].ConditionID)
}

func TestSnapshots_BufferedFlushOnClose(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.SaveSnapshot(ctx, "0xcond", domain.SideUp, 0.88, 0.90))
	require.NoError(t, s.SaveSnapshot(ctx, "0xcond", domain.SideDown, 0.10, 0.12))

	// Aún en buffer
	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM book_snapshots`).Scan(&n))
	assert.Equal(t, 0, n)

	require.NoError(t, s.flushSnapshots(ctx))
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM book_snapshots`).Scan(&n))
	assert.Equal(t, 2, n)
	s.Close()
}

func TestRecordDay_MonotonicAccumulation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordDay(ctx, domain.DailyStats{Date: "2026-08-31", Trades: 1, Wins: 1, PnL: 3.5, StartBalance: 1000}))
	require.NoError(t, s.RecordDay(ctx, domain.DailyStats{Date: "2026-08-31", Trades: 1, Losses: 1, PnL: -1.2}))

	d, err := s.GetDay(ctx, "2026-08-31")
	require.NoError(t, err)
	assert.Equal(t, 2, d.Trades)
	assert.Equal(t, 1, d.Wins)
	assert.Equal(t, 1, d.Losses)
	assert.InDelta(t, 2.3, d.PnL, 1e-9)
	// start_balance se fija una sola vez
	assert.Equal(t, 1000.0, d.StartBalance)
}

func TestGetDay_MissingDateIsZero(t *testing.T) {
	s := newTestStore(t)

	d, err := s.GetDay(context.Background(), "2026-01-01")
	require.NoError(t, err)
	assert.Equal(t, 0, d.Trades)
	assert.Equal(t, 0.0, d.PnL)
}

func TestEvents_OrderedJournal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		require.NoError(t, s.AppendEvent(ctx, domain.Event{
			SessionID: "sess-1", Seq: i, Kind: "skip", ConditionID: "0xcond",
			Detail: `{"reason":"low_zscore"}`, At: time.Now(),
		}))
	}
	// Otra sesión no contamina
	require.NoError(t, s.AppendEvent(ctx, domain.Event{SessionID: "sess-2", Seq: 1, Kind: "arm", At: time.Now()}))

	events, err := s.SessionEvents(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, int64(1), events[0].Seq)
	assert.Equal(t, int64(3), events[2].Seq)
	assert.Equal(t, `{"reason":"low_zscore"}`, events[0].Detail)
}

func TestEvents_DuplicateSeqRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendEvent(ctx, domain.Event{SessionID: "s", Seq: 1, Kind: "arm", At: time.Now()}))
	assert.Error(t, s.AppendEvent(ctx, domain.Event{SessionID: "s", Seq: 1, Kind: "arm", At: time.Now()}))
}

func TestSaveAlert(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SaveAlert(context.Background(), domain.Alert{
		Kind: "guard_block", ConditionID: "0xcond", Message: "oracle disagrees",
	}))

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM alerts`).Scan(&n))
	assert.Equal(t, 1, n)
}
