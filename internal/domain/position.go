package domain

import (
	"math"
	"time"
)

// Position es una posición abierta en un mercado Up/Down. Como mucho hay una
// por mercado.
type Position struct {
	ID           string // UUID local
	SessionID    string
	ConditionID  string
	Side         Side
	TokenID      string
	EntryPrice   float64
	Notional     float64 // USDC invertidos
	Shares       float64
	TrailingStop float64 // 0 = aún sin activar
	NegRisk      bool    // exchange neg-risk: necesario para firmar la salida
	OpenedAt     time.Time
	DryRun       bool
}

// PnL devuelve el P&L en USDC si la posición saliera al precio dado:
// notional * (exit - entry) / entry.
func (p Position) PnL(exitPrice float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	return p.Notional * (exitPrice - p.EntryPrice) / p.EntryPrice
}

// StopPrice devuelve el precio de stop efectivo. Si el trailing stop está
// activo manda él; si no, el máximo entre el stop porcentual desde la entrada
// y el suelo absoluto.
func (p Position) StopPrice(stopPct, absoluteFloor float64) float64 {
	if p.TrailingStop > 0 {
		return p.TrailingStop
	}
	return math.Max(p.EntryPrice*(1-stopPct), absoluteFloor)
}

// RatchetTrailing sube el trailing stop según el precio actual. Solo sube,
// nunca baja: max(actual, price*(1-trailingPct), suelo absoluto).
func (p *Position) RatchetTrailing(price, trailingPct, absoluteFloor float64) {
	candidate := math.Max(price*(1-trailingPct), absoluteFloor)
	if candidate > p.TrailingStop {
		p.TrailingStop = candidate
	}
}

// TakeProfitPrice devuelve el precio objetivo de take-profit, o 0 si está
// desactivado (tpPct <= 0).
func (p Position) TakeProfitPrice(tpPct float64) float64 {
	if tpPct <= 0 {
		return 0
	}
	return ClampPrice(p.EntryPrice * (1 + tpPct))
}

// ExitReason clasifica por qué se cerró una posición.
type ExitReason string

const (
	ExitStopLoss     ExitReason = "stop_loss"
	ExitTrailingStop ExitReason = "trailing_stop"
	ExitTakeProfit   ExitReason = "take_profit"
	ExitExpiry       ExitReason = "expiry"
	ExitManual       ExitReason = "manual"
)

// Estados terminales de una fila de posición simulada. Las filas dry-run no
// se borran: transicionan de "open" a un estado final exactamente una vez y
// quedan como registro de auditoría.
const (
	PositionOpen         = "open"
	PositionResolvedWin  = "resolved_win"
	PositionResolvedLoss = "resolved_loss"
	PositionVoided       = "voided"
)
