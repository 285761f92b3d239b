package storage

// sqlite.go — la única ruta de persistencia del engine.
//
// Estrategia:
//   - `trades`: registro append-only de ejecuciones. Nunca se actualiza.
//   - `positions`: UNA fila por mercado (UPSERT por condition_id). Es la
//     fuente de verdad para recuperar posiciones tras un crash.
//   - `book_snapshots`: escritura buffered — se acumulan en memoria y se
//     vuelcan en batch. Un snapshot por segundo por mercado genera ruido si
//     se escribe fila a fila.
//   - `daily_stats`: upsert por fecha UTC con acumulación monótona.
//   - `events`: journal secuencial por sesión para replay determinista.
//   - schema_version + migraciones solo hacia delante.

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/alejandrodnm/updown/internal/domain"
	_ "modernc.org/sqlite"
)

const schemaVersion = 2

// migrations[i] lleva el schema de la versión i a la i+1. Solo se añade al
// final; nunca se edita una migración aplicada.
var migrations = []string{
	// v0 → v1: schema inicial
	`
CREATE TABLE IF NOT EXISTS trades (
    id           TEXT PRIMARY KEY,
    session_id   TEXT    NOT NULL,
    condition_id TEXT    NOT NULL,
    side         TEXT    NOT NULL,
    token_id     TEXT    NOT NULL,
    kind         TEXT    NOT NULL,
    price        REAL    NOT NULL,
    notional     REAL    NOT NULL,
    shares       REAL    NOT NULL DEFAULT 0,
    pnl          REAL    NOT NULL DEFAULT 0,
    exit_reason  TEXT    NOT NULL DEFAULT '',
    dry_run      INTEGER NOT NULL DEFAULT 0,
    executed_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
    condition_id  TEXT PRIMARY KEY,
    id            TEXT    NOT NULL,
    session_id    TEXT    NOT NULL,
    side          TEXT    NOT NULL,
    token_id      TEXT    NOT NULL,
    entry_price   REAL    NOT NULL,
    notional      REAL    NOT NULL,
    shares        REAL    NOT NULL DEFAULT 0,
    trailing_stop REAL    NOT NULL DEFAULT 0,
    neg_risk      INTEGER NOT NULL DEFAULT 0,
    dry_run       INTEGER NOT NULL DEFAULT 0,
    opened_at     DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS book_snapshots (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    condition_id TEXT NOT NULL,
    side         TEXT NOT NULL,
    bid          REAL NOT NULL,
    ask          REAL NOT NULL,
    at           DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS alerts (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    kind         TEXT NOT NULL,
    condition_id TEXT NOT NULL DEFAULT '',
    message      TEXT NOT NULL,
    at           DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS daily_stats (
    date          TEXT PRIMARY KEY,
    trades        INTEGER NOT NULL DEFAULT 0,
    wins          INTEGER NOT NULL DEFAULT 0,
    losses        INTEGER NOT NULL DEFAULT 0,
    pnl           REAL    NOT NULL DEFAULT 0,
    start_balance REAL    NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS events (
    session_id   TEXT    NOT NULL,
    seq          INTEGER NOT NULL,
    kind         TEXT    NOT NULL,
    condition_id TEXT    NOT NULL DEFAULT '',
    detail       TEXT    NOT NULL DEFAULT '',
    at           DATETIME NOT NULL,
    PRIMARY KEY (session_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_trades_session ON trades(session_id);
CREATE INDEX IF NOT EXISTS idx_trades_at      ON trades(executed_at DESC);
CREATE INDEX IF NOT EXISTS idx_snaps_cond     ON book_snapshots(condition_id, at);
CREATE INDEX IF NOT EXISTS idx_alerts_at      ON alerts(at DESC);
`,
	// v1 → v2: las posiciones dry-run dejan de borrarse al cerrar; pasan a
	// un estado terminal y la fila queda como auditoría.
	`
ALTER TABLE positions ADD COLUMN status TEXT NOT NULL DEFAULT 'open';
`,
}

const snapshotFlushSize = 64

type pendingSnapshot struct {
	conditionID string
	side        domain.Side
	bid, ask    float64
	at          time.Time
}

// SQLiteStore implementa ports.Store usando SQLite (pure Go, sin CGo).
type SQLiteStore struct {
	db    *sql.DB
	mu    sync.Mutex
	snaps []pendingSnapshot
}

// NewSQLiteStore abre (o crea) la base de datos en la ruta dada, activa WAL
// y aplica las migraciones pendientes.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStore: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStore: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// dsn añade los pragmas de apertura: WAL y busy_timeout.
func dsn(path string) string {
	if strings.Contains(path, ":memory:") {
		return path
	}
	return fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)
}

// migrate aplica en orden las migraciones por encima de la versión actual.
func migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("migrate: version table: %w", err)
	}

	var current int
	err := db.QueryRow(`SELECT version FROM schema_version`).Scan(&current)
	if err == sql.ErrNoRows {
		if _, err := db.Exec(`INSERT INTO schema_version (version) VALUES (0)`); err != nil {
			return fmt.Errorf("migrate: seed version: %w", err)
		}
		current = 0
	} else if err != nil {
		return fmt.Errorf("migrate: read version: %w", err)
	}

	if current > schemaVersion {
		return fmt.Errorf("migrate: db version %d is newer than binary (%d)", current, schemaVersion)
	}

	for v := current; v < schemaVersion; v++ {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("migrate: begin v%d: %w", v+1, err)
		}
		if _, err := tx.Exec(migrations[v]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate: apply v%d: %w", v+1, err)
		}
		if _, err := tx.Exec(`UPDATE schema_version SET version = ?`, v+1); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate: bump to v%d: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migrate: commit v%d: %w", v+1, err)
		}
	}
	return nil
}

// SaveTrade inserta un trade. El registro es append-only: un ID repetido es
// un bug del caller y se devuelve como error.
func (s *SQLiteStore) SaveTrade(ctx context.Context, t domain.Trade) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades
			(id, session_id, condition_id, side, token_id, kind, price,
			 notional, shares, pnl, exit_reason, dry_run, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SessionID, t.ConditionID, string(t.Side), t.TokenID, string(t.Kind),
		t.Price, t.Notional, t.Shares, t.PnL, string(t.ExitReason), boolInt(t.DryRun),
		t.ExecutedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveTrade: insert %s: %w", t.ID, err)
	}
	return nil
}

// UpsertPosition guarda la posición del mercado, reemplazando la anterior.
// Una escritura sobre una fila terminal la reabre: es una posición nueva
// sobre el mismo mercado.
func (s *SQLiteStore) UpsertPosition(ctx context.Context, p domain.Position) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO positions
			(condition_id, id, session_id, side, token_id, entry_price,
			 notional, shares, trailing_stop, neg_risk, dry_run, opened_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(condition_id) DO UPDATE SET
			id            = excluded.id,
			session_id    = excluded.session_id,
			side          = excluded.side,
			token_id      = excluded.token_id,
			entry_price   = excluded.entry_price,
			notional      = excluded.notional,
			shares        = excluded.shares,
			trailing_stop = excluded.trailing_stop,
			neg_risk      = excluded.neg_risk,
			dry_run       = excluded.dry_run,
			opened_at     = excluded.opened_at,
			status        = 'open'`,
		p.ConditionID, p.ID, p.SessionID, string(p.Side), p.TokenID, p.EntryPrice,
		p.Notional, p.Shares, p.TrailingStop, boolInt(p.NegRisk), boolInt(p.DryRun), p.OpenedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage.UpsertPosition: %s: %w", p.ConditionID, err)
	}
	return nil
}

// ClosePosition elimina la posición del mercado. No falla si no existe.
func (s *SQLiteStore) ClosePosition(ctx context.Context, conditionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM positions WHERE condition_id = ?`, conditionID); err != nil {
		return fmt.Errorf("storage.ClosePosition: %s: %w", conditionID, err)
	}
	return nil
}

// CloseDryRunPosition marca una posición simulada con su estado terminal.
// El filtro por status = 'open' hace la transición exactamente una vez: un
// segundo cierre no pisa el estado ya escrito.
func (s *SQLiteStore) CloseDryRunPosition(ctx context.Context, conditionID, status string) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE positions SET status = ?
		WHERE condition_id = ? AND dry_run = 1 AND status = 'open'`,
		status, conditionID,
	); err != nil {
		return fmt.Errorf("storage.CloseDryRunPosition: %s: %w", conditionID, err)
	}
	return nil
}

// OpenPositions devuelve todas las posiciones abiertas — recuperación tras
// un crash. Las filas dry-run ya resueltas no cuentan.
func (s *SQLiteStore) OpenPositions(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT condition_id, id, session_id, side, token_id, entry_price,
		       notional, shares, trailing_stop, neg_risk, dry_run, opened_at
		FROM positions WHERE status = 'open' ORDER BY opened_at`)
	if err != nil {
		return nil, fmt.Errorf("storage.OpenPositions: query: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		var p domain.Position
		var side, openedAt string
		var negRisk, dryRun int
		if err := rows.Scan(&p.ConditionID, &p.ID, &p.SessionID, &side, &p.TokenID,
			&p.EntryPrice, &p.Notional, &p.Shares, &p.TrailingStop, &negRisk, &dryRun, &openedAt); err != nil {
			return nil, fmt.Errorf("storage.OpenPositions: scan: %w", err)
		}
		p.Side = domain.Side(side)
		p.NegRisk = negRisk == 1
		p.DryRun = dryRun == 1
		p.OpenedAt = parseDBTime(openedAt)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// SaveSnapshot acumula un snapshot en el buffer; se vuelca al llenarse.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, conditionID string, side domain.Side, bid, ask float64) error {
	s.mu.Lock()
	s.snaps = append(s.snaps, pendingSnapshot{conditionID, side, bid, ask, time.Now().UTC()})
	shouldFlush := len(s.snaps) >= snapshotFlushSize
	s.mu.Unlock()

	if shouldFlush {
		return s.flushSnapshots(ctx)
	}
	return nil
}

// flushSnapshots vuelca el buffer en una sola transacción.
func (s *SQLiteStore) flushSnapshots(ctx context.Context) error {
	s.mu.Lock()
	pending := s.snaps
	s.snaps = nil
	s.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.flushSnapshots: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO book_snapshots (condition_id, side, bid, ask, at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("storage.flushSnapshots: prepare: %w", err)
	}
	defer stmt.Close()

	for _, sn := range pending {
		if _, err := stmt.ExecContext(ctx, sn.conditionID, string(sn.side), sn.bid, sn.ask, sn.at); err != nil {
			return fmt.Errorf("storage.flushSnapshots: insert: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.flushSnapshots: commit: %w", err)
	}
	return nil
}

// SaveAlert persiste una alerta emitida.
func (s *SQLiteStore) SaveAlert(ctx context.Context, a domain.Alert) error {
	at := a.At
	if at.IsZero() {
		at = time.Now()
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (kind, condition_id, message, at) VALUES (?, ?, ?, ?)`,
		a.Kind, a.ConditionID, a.Message, at.UTC(),
	); err != nil {
		return fmt.Errorf("storage.SaveAlert: %w", err)
	}
	return nil
}

// RecordDay acumula la actividad del día: los contadores y el pnl SUMAN
// sobre lo ya persistido; start_balance solo se fija la primera vez.
func (s *SQLiteStore) RecordDay(ctx context.Context, d domain.DailyStats) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_stats (date, trades, wins, losses, pnl, start_balance)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			trades        = trades + excluded.trades,
			wins          = wins + excluded.wins,
			losses        = losses + excluded.losses,
			pnl           = pnl + excluded.pnl,
			start_balance = CASE WHEN start_balance = 0 THEN excluded.start_balance ELSE start_balance END`,
		d.Date, d.Trades, d.Wins, d.Losses, d.PnL, d.StartBalance,
	)
	if err != nil {
		return fmt.Errorf("storage.RecordDay: %s: %w", d.Date, err)
	}
	return nil
}

// GetDay devuelve las stats del día. Día sin actividad → stats en cero.
func (s *SQLiteStore) GetDay(ctx context.Context, date string) (domain.DailyStats, error) {
	d := domain.DailyStats{Date: date}
	err := s.db.QueryRowContext(ctx,
		`SELECT trades, wins, losses, pnl, start_balance FROM daily_stats WHERE date = ?`, date,
	).Scan(&d.Trades, &d.Wins, &d.Losses, &d.PnL, &d.StartBalance)
	if err == sql.ErrNoRows {
		return d, nil
	}
	if err != nil {
		return domain.DailyStats{}, fmt.Errorf("storage.GetDay: %s: %w", date, err)
	}
	return d, nil
}

// AppendEvent añade una entrada al journal de la sesión.
func (s *SQLiteStore) AppendEvent(ctx context.Context, e domain.Event) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO events (session_id, seq, kind, condition_id, detail, at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.SessionID, e.Seq, e.Kind, e.ConditionID, e.Detail, e.At.UTC(),
	); err != nil {
		return fmt.Errorf("storage.AppendEvent: seq %d: %w", e.Seq, err)
	}
	return nil
}

// SessionEvents devuelve el journal completo de una sesión en orden.
func (s *SQLiteStore) SessionEvents(ctx context.Context, sessionID string) ([]domain.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, seq, kind, condition_id, detail, at
		FROM events WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("storage.SessionEvents: query: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var e domain.Event
		var at string
		if err := rows.Scan(&e.SessionID, &e.Seq, &e.Kind, &e.ConditionID, &e.Detail, &at); err != nil {
			return nil, fmt.Errorf("storage.SessionEvents: scan: %w", err)
		}
		e.At = parseDBTime(at)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Close vuelca los snapshots pendientes y cierra la conexión.
func (s *SQLiteStore) Close() error {
	if err := s.flushSnapshots(context.Background()); err != nil {
		return err
	}
	return s.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// parseDBTime tolera los formatos con los que el driver serializa time.Time.
func parseDBTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
