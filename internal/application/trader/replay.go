package trader

import (
	"context"
	"fmt"

	"github.com/alejandrodnm/updown/internal/domain"
	"github.com/alejandrodnm/updown/internal/ports"
)

// ReplayPrinter renders a recorded session.
type ReplayPrinter interface {
	PrintReplay(sessionID string, events []domain.Event)
}

// Replay loads the event journal of a past session and renders it in order.
// The journal is append-only with a per-session sequence, so two replays of
// the same session always produce the same output.
func Replay(ctx context.Context, store ports.Store, printer ReplayPrinter, sessionID string) error {
	events, err := store.SessionEvents(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("trader.Replay: load events: %w", err)
	}
	if len(events) == 0 {
		return fmt.Errorf("trader.Replay: no events recorded for session %s", sessionID)
	}
	printer.PrintReplay(sessionID, events)
	return nil
}
