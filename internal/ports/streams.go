package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/updown/internal/domain"
)

// MarketStream entrega eventos del orderbook por websocket.
type MarketStream interface {
	// Run mantiene la conexión (con reconexión) hasta que el contexto muera.
	Run(ctx context.Context) error

	// Events emite los eventos ya decodificados. El canal se cierra al
	// terminar Run.
	Events() <-chan domain.BookEvent

	// LastSeen devuelve cuándo llegó el último mensaje; los consumidores
	// tratan > 2s como stale.
	LastSeen() time.Time
}

// OracleStream entrega observaciones del precio del oráculo por websocket.
type OracleStream interface {
	Run(ctx context.Context) error
	Points() <-chan domain.OraclePoint
	LastSeen() time.Time
}
