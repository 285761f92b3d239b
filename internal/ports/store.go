package ports

import (
	"context"

	"github.com/alejandrodnm/updown/internal/domain"
)

// Store persiste la actividad de trading. Una sola ruta de persistencia:
// todo va a SQLite, incluido el estado necesario para recuperar tras un crash.
type Store interface {
	// Trades: registro append-only, nunca se actualiza.
	SaveTrade(ctx context.Context, t domain.Trade) error

	// Posiciones: una por mercado (upsert por condition_id). Las reales se
	// borran al cerrar; las simuladas pasan a un estado terminal y quedan
	// como auditoría.
	UpsertPosition(ctx context.Context, p domain.Position) error
	ClosePosition(ctx context.Context, conditionID string) error
	CloseDryRunPosition(ctx context.Context, conditionID, status string) error
	OpenPositions(ctx context.Context) ([]domain.Position, error)

	// Snapshots del orderbook, con escritura buffered.
	SaveSnapshot(ctx context.Context, conditionID string, side domain.Side, bid, ask float64) error

	// Alertas emitidas.
	SaveAlert(ctx context.Context, a domain.Alert) error

	// Stats diarias: upsert por fecha UTC, acumulación monótona.
	RecordDay(ctx context.Context, d domain.DailyStats) error
	GetDay(ctx context.Context, date string) (domain.DailyStats, error)

	// Journal de eventos para replay de sesión.
	AppendEvent(ctx context.Context, e domain.Event) error
	SessionEvents(ctx context.Context, sessionID string) ([]domain.Event, error)

	// Close hace flush de buffers pendientes y cierra la conexión.
	Close() error
}
