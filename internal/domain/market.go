package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Side es el lado de un mercado binario Up/Down.
type Side string

const (
	SideUp   Side = "UP"
	SideDown Side = "DOWN"
	SideNone Side = "" // sin favorito claro
)

// Opposite devuelve el lado contrario. SideNone se devuelve a sí mismo.
func (s Side) Opposite() Side {
	switch s {
	case SideUp:
		return SideDown
	case SideDown:
		return SideUp
	}
	return SideNone
}

// Market es un mercado Up/Down de ventana corta (5-15 min).
type Market struct {
	ConditionID string
	Slug        string
	Question    string
	Asset       string // "btc", "eth", "sol", "xrp"
	UpTokenID   string
	DownTokenID string
	WindowStart time.Time
	WindowEnd   time.Time
	NegRisk     bool
}

// TokenFor devuelve el token ID del lado dado.
func (m Market) TokenFor(side Side) string {
	if side == SideDown {
		return m.DownTokenID
	}
	return m.UpTokenID
}

// SideFor devuelve el lado al que pertenece el token dado.
func (m Market) SideFor(tokenID string) Side {
	switch tokenID {
	case m.UpTokenID:
		return SideUp
	case m.DownTokenID:
		return SideDown
	}
	return SideNone
}

// Remaining devuelve el tiempo restante hasta el cierre de la ventana.
// Negativo si la ventana ya cerró.
func (m Market) Remaining(now time.Time) time.Duration {
	return m.WindowEnd.Sub(now)
}

// Elapsed devuelve el tiempo transcurrido desde la apertura de la ventana.
func (m Market) Elapsed(now time.Time) time.Duration {
	return now.Sub(m.WindowStart)
}

// FeedSymbol devuelve el símbolo del feed Chainlink para el asset del mercado.
// Devuelve "" si el asset no tiene feed conocido.
func (m Market) FeedSymbol() string {
	if s := GuessFeedSymbol(m.Asset); s != "" {
		return s
	}
	return GuessFeedSymbol(m.Slug)
}

// GuessFeedSymbol mapea un asset (o un slug/título que lo contenga) al
// símbolo de su feed de precios.
func GuessFeedSymbol(s string) string {
	low := strings.ToLower(s)
	switch {
	case strings.Contains(low, "bitcoin") || strings.Contains(low, "btc"):
		return "btc/usd"
	case strings.Contains(low, "ethereum") || strings.Contains(low, "eth"):
		return "eth/usd"
	case strings.Contains(low, "solana") || strings.Contains(low, "sol"):
		return "sol/usd"
	case strings.Contains(low, "xrp"):
		return "xrp/usd"
	}
	return ""
}

// windowRe captura "August 31, 3:05PM-3:10PM ET" dentro del título del mercado.
var windowRe = regexp.MustCompile(`([A-Z][a-z]+) (\d{1,2}), (\d{1,2}:\d{2})(AM|PM)-(\d{1,2}:\d{2})(AM|PM) ET`)

// etLocation se resuelve una vez; si la tzdata no está disponible caemos a UTC-4.
var etLocation = func() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.FixedZone("ET", -4*3600)
	}
	return loc
}()

// ParseWindow extrae la ventana temporal del título de un mercado Up/Down,
// por ejemplo "Bitcoin Up or Down - August 31, 3:05PM-3:10PM ET".
// El año se toma de ref. Una ventana que cruza medianoche suma un día al fin.
func ParseWindow(question string, ref time.Time) (start, end time.Time, err error) {
	m := windowRe.FindStringSubmatch(question)
	if m == nil {
		return time.Time{}, time.Time{}, fmt.Errorf("domain.ParseWindow: no window in %q", question)
	}

	year := ref.In(etLocation).Year()
	const layout = "January 2 2006 3:04PM"

	start, err = time.ParseInLocation(layout,
		fmt.Sprintf("%s %s %d %s%s", m[1], m[2], year, m[3], m[4]), etLocation)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("domain.ParseWindow: start: %w", err)
	}
	end, err = time.ParseInLocation(layout,
		fmt.Sprintf("%s %s %d %s%s", m[1], m[2], year, m[5], m[6]), etLocation)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("domain.ParseWindow: end: %w", err)
	}
	if !end.After(start) {
		end = end.AddDate(0, 0, 1)
	}
	return start.UTC(), end.UTC(), nil
}
