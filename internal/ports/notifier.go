package ports

import (
	"context"

	"github.com/alejandrodnm/updown/internal/domain"
)

// Notifier presenta alertas operacionales al usuario. Los errores del
// notifier se loggean y nunca interrumpen el flujo de trading.
type Notifier interface {
	Alert(ctx context.Context, a domain.Alert) error
}
