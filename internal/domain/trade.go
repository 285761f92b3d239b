package domain

import (
	"fmt"
	"time"
)

// DecisionState es el estado de la máquina de decisión por mercado.
type DecisionState int

const (
	StateIdle DecisionState = iota
	StateArmed
	StateLateWindow
	StateExecuted // terminal
	StateExpired  // terminal
)

// String implementa fmt.Stringer para logs y persistencia.
func (s DecisionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateLateWindow:
		return "late_window"
	case StateExecuted:
		return "executed"
	case StateExpired:
		return "expired"
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// Terminal indica si el estado ya no admite transiciones.
func (s DecisionState) Terminal() bool {
	return s == StateExecuted || s == StateExpired
}

// TradeKind discrimina entradas de salidas.
type TradeKind string

const (
	TradeEntry TradeKind = "entry"
	TradeExit  TradeKind = "exit"
)

// Trade es un registro inmutable de una ejecución (real o simulada).
type Trade struct {
	ID          string // UUID local
	SessionID   string
	ConditionID string
	Side        Side
	TokenID     string
	Kind        TradeKind
	Price       float64
	Notional    float64 // USDC
	Shares      float64
	PnL         float64    // solo salidas
	ExitReason  ExitReason // solo salidas
	DryRun      bool
	ExecutedAt  time.Time
}

// OrderRequest es la intención de orden que recibe el executor. FOK a mercado:
// Price es el peor precio aceptable, Notional los USDC a gastar.
type OrderRequest struct {
	ConditionID string
	TokenID     string
	Side        Side
	Buy         bool
	Price       float64
	Notional    float64 // compras: USDC
	Shares      float64 // ventas: shares a liquidar
	NegRisk     bool
}

// OrderResult es el resultado de una orden aceptada por el CLOB (o simulada).
type OrderResult struct {
	OrderID    string
	Status     string
	FillPrice  float64
	FilledUSDC float64
	Shares     float64
}

// Alert es una notificación operacional. Los fallos al emitirla nunca
// interrumpen el trading.
type Alert struct {
	Kind        string // "entry", "exit", "guard_block", "breaker", "error"
	ConditionID string
	Message     string
	At          time.Time
}

// DailyStats acumula la actividad de un día UTC.
type DailyStats struct {
	Date         string // "2006-01-02"
	Trades       int
	Wins         int
	Losses       int
	PnL          float64
	StartBalance float64
}

// Event es una entrada del journal de sesión, para replay determinista.
// Seq es monotónico dentro de la sesión.
type Event struct {
	SessionID   string
	Seq         int64
	Kind        string // "arm", "entry", "skip", "guard_block", "exit", "expire", "breaker"
	ConditionID string
	Detail      string // JSON con el contexto de la decisión
	At          time.Time
}

// DailyBreaker es el circuit breaker diario: corta el trading cuando la
// pérdida realizada o el número de trades del día UTC excede los límites.
// Se rearma solo al cruzar la medianoche UTC.
type DailyBreaker struct {
	Date           string // día UTC "2006-01-02"
	InitialBalance float64
	MaxLossPct     float64
	MaxTrades      int
	RealizedPnL    float64
	TradeCount     int
	TrippedReason  string
}

// NewDailyBreaker arranca el breaker para el día de now.
func NewDailyBreaker(now time.Time, initialBalance, maxLossPct float64, maxTrades int) *DailyBreaker {
	return &DailyBreaker{
		Date:           now.UTC().Format("2006-01-02"),
		InitialBalance: initialBalance,
		MaxLossPct:     maxLossPct,
		MaxTrades:      maxTrades,
	}
}

// Allow indica si se permite abrir una posición nueva. Hace rollover al
// cambiar el día UTC, reiniciando contadores con el balance dado.
func (b *DailyBreaker) Allow(now time.Time, balance float64) bool {
	b.rollover(now, balance)
	return b.TrippedReason == ""
}

// RecordTrade registra un trade cerrado y puede disparar el breaker.
func (b *DailyBreaker) RecordTrade(now time.Time, pnl float64) {
	b.rollover(now, b.InitialBalance)
	b.TradeCount++
	b.RealizedPnL += pnl
	b.trip()
}

// Seed restaura los acumuladores desde las stats persistidas del día. Los
// límites sobreviven así a un reinicio del proceso: si la pérdida ya cruzó
// el tope antes del crash, el breaker arranca abierto. Stats de otra fecha
// se ignoran.
func (b *DailyBreaker) Seed(d DailyStats) {
	if d.Date != b.Date {
		return
	}
	b.TradeCount = d.Trades
	b.RealizedPnL = d.PnL
	if b.InitialBalance <= 0 && d.StartBalance > 0 {
		b.InitialBalance = d.StartBalance
	}
	b.trip()
}

// trip evalúa los límites contra los acumuladores actuales.
func (b *DailyBreaker) trip() {
	if b.MaxTrades > 0 && b.TradeCount >= b.MaxTrades {
		b.TrippedReason = "max_daily_trades"
	}
	if b.TradeCount == 0 {
		return
	}
	// Con actividad y sin balance inicial válido no se puede medir la
	// pérdida: falla cerrado.
	if b.InitialBalance <= 0 {
		b.TrippedReason = "unknown_balance"
		return
	}
	if b.RealizedPnL < 0 && -b.RealizedPnL >= b.InitialBalance*b.MaxLossPct {
		b.TrippedReason = "max_daily_loss"
	}
}

func (b *DailyBreaker) rollover(now time.Time, balance float64) {
	day := now.UTC().Format("2006-01-02")
	if day == b.Date {
		return
	}
	b.Date = day
	b.InitialBalance = balance
	b.RealizedPnL = 0
	b.TradeCount = 0
	b.TrippedReason = ""
}
