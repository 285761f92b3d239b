package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/updown/internal/domain"
)

// Console implementa ports.Notifier escribiendo a stdout.
type Console struct {
	out io.Writer
}

// NewConsole crea un notificador que escribe a stdout.
func NewConsole() *Console {
	return &Console{out: os.Stdout}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w}
}

// Alert imprime una alerta con timestamp. Nunca devuelve error fatal para el
// caller: los fallos de escritura se devuelven pero el engine solo los loggea.
func (c *Console) Alert(_ context.Context, a domain.Alert) error {
	at := a.At
	if at.IsZero() {
		at = time.Now()
	}
	tag := strings.ToUpper(a.Kind)
	if a.ConditionID != "" {
		_, err := fmt.Fprintf(c.out, "[%s] %s %s — %s\n", at.Format("15:04:05"), tag, shortID(a.ConditionID), a.Message)
		return err
	}
	_, err := fmt.Fprintf(c.out, "[%s] %s — %s\n", at.Format("15:04:05"), tag, a.Message)
	return err
}

// PrintSessionSummary imprime la tabla de trades de la sesión y el total.
func (c *Console) PrintSessionSummary(trades []domain.Trade, day domain.DailyStats) {
	if len(trades) == 0 {
		fmt.Fprintln(c.out, "session summary: no trades")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Market", "Side", "Kind", "Price", "USDC", "PnL", "Reason", "At")

	var pnl float64
	for i, t := range trades {
		pnl += t.PnL
		reason := string(t.ExitReason)
		if t.Kind == domain.TradeEntry {
			reason = "-"
		}
		table.Append(
			fmt.Sprintf("%d", i+1),
			shortID(t.ConditionID),
			string(t.Side),
			string(t.Kind),
			fmt.Sprintf("%.3f", t.Price),
			fmt.Sprintf("$%.2f", t.Notional),
			fmt.Sprintf("$%+.2f", t.PnL),
			reason,
			t.ExecutedAt.Format("15:04:05"),
		)
	}
	table.Render()

	fmt.Fprintf(c.out, "  session pnl: $%+.2f | day: %d trades, %dW/%dL, $%+.2f\n",
		pnl, day.Trades, day.Wins, day.Losses, day.PnL)
}

// PrintReplay imprime la secuencia de decisiones de una sesión.
func (c *Console) PrintReplay(sessionID string, events []domain.Event) {
	if len(events) == 0 {
		fmt.Fprintf(c.out, "replay %s: no events\n", sessionID)
		return
	}

	fmt.Fprintf(c.out, "\nreplay %s — %d events\n", sessionID, len(events))

	table := tablewriter.NewWriter(c.out)
	table.Header("Seq", "At", "Kind", "Market", "Detail")
	for _, e := range events {
		table.Append(
			fmt.Sprintf("%d", e.Seq),
			e.At.Format("15:04:05"),
			e.Kind,
			shortID(e.ConditionID),
			truncate(e.Detail, 60),
		)
	}
	table.Render()
}

// shortID abrevia un condition ID largo para la consola.
func shortID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:10] + ".."
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-2] + ".."
}
