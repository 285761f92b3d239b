package domain

import (
	"math"
	"time"
)

// Límites duros de precio en el CLOB: fuera de [0.001, 0.999] el API rechaza.
const (
	MinPrice = 0.001
	MaxPrice = 0.999
)

// ClampPrice recorta un precio al rango operable del CLOB.
func ClampPrice(p float64) float64 {
	return math.Min(MaxPrice, math.Max(MinPrice, p))
}

// Level es un nivel de precio del orderbook.
type Level struct {
	Price float64
	Size  float64 // shares
}

// TokenBook es el orderbook de un token: bids descendentes, asks ascendentes.
// Un Size negativo marca un nivel cuyo tamaño fue invalidado por un evento
// incremental (price_change / best_bid_ask) y aún no se ha re-sincronizado.
type TokenBook struct {
	TokenID   string
	Bids      []Level
	Asks      []Level
	UpdatedAt time.Time
}

// BestBid devuelve el mejor bid. ok=false si el libro no tiene bids.
func (b TokenBook) BestBid() (Level, bool) {
	if len(b.Bids) == 0 {
		return Level{}, false
	}
	return b.Bids[0], true
}

// BestAsk devuelve el mejor ask. ok=false si el libro no tiene asks.
func (b TokenBook) BestAsk() (Level, bool) {
	if len(b.Asks) == 0 {
		return Level{}, false
	}
	return b.Asks[0], true
}

// AskLiquidity devuelve la liquidez en USDC de los primeros depth niveles de
// asks. ok=false si algún tamaño relevante está invalidado — el caller decide
// si falla abierto o cerrado.
func (b TokenBook) AskLiquidity(depth int) (float64, bool) {
	if len(b.Asks) == 0 {
		return 0, false
	}
	var total float64
	for i, lvl := range b.Asks {
		if i >= depth {
			break
		}
		if lvl.Size < 0 {
			return 0, false
		}
		total += lvl.Price * lvl.Size
	}
	return total, true
}

// Favored determina el lado favorito de un mercado Up/Down.
//
// Cadena de decisión:
//  1. mejores bids de ambos lados — gana el bid más alto
//  2. falta algún bid: mejores asks de ambos lados — gana el ask más alto
//  3. un solo lado con precio: favorito si su precio > 0.5
//
// Empates dentro de eps → sin favorito. confidence es el mejor bid del
// favorito (0 si no tiene bids).
func Favored(up, down TokenBook, eps float64) (side Side, confidence float64) {
	upBid, upHasBid := up.BestBid()
	downBid, downHasBid := down.BestBid()

	if upHasBid && downHasBid {
		return pickHigher(upBid.Price, downBid.Price, eps)
	}

	upAsk, upHasAsk := up.BestAsk()
	downAsk, downHasAsk := down.BestAsk()
	if upHasAsk && downHasAsk {
		side, _ = pickHigher(upAsk.Price, downAsk.Price, eps)
		return side, bidOrZero(up, down, side)
	}

	// Un solo lado con precios: favorito solo si cotiza por encima de 0.5.
	if price, ok := singlePrice(up); ok && !downHasBid && !downHasAsk {
		if price > 0.5 {
			return SideUp, bidOrZero(up, down, SideUp)
		}
		return SideNone, 0
	}
	if price, ok := singlePrice(down); ok && !upHasBid && !upHasAsk {
		if price > 0.5 {
			return SideDown, bidOrZero(up, down, SideDown)
		}
		return SideNone, 0
	}

	return SideNone, 0
}

func pickHigher(upPrice, downPrice, eps float64) (Side, float64) {
	if math.Abs(upPrice-downPrice) <= eps {
		return SideNone, 0
	}
	if upPrice > downPrice {
		return SideUp, upPrice
	}
	return SideDown, downPrice
}

// singlePrice devuelve el precio representativo de un libro de un solo lado:
// su mejor bid, o en su defecto su mejor ask.
func singlePrice(b TokenBook) (float64, bool) {
	if bid, ok := b.BestBid(); ok {
		return bid.Price, true
	}
	if ask, ok := b.BestAsk(); ok {
		return ask.Price, true
	}
	return 0, false
}

func bidOrZero(up, down TokenBook, side Side) float64 {
	var b TokenBook
	switch side {
	case SideUp:
		b = up
	case SideDown:
		b = down
	default:
		return 0
	}
	if bid, ok := b.BestBid(); ok {
		return bid.Price
	}
	return 0
}

// BookEventType discrimina los eventos del stream de mercado.
type BookEventType int

const (
	EventBookSnapshot BookEventType = iota
	EventPriceChange
	EventBestBidAsk
	EventTickSizeChange
)

// LevelChange es un cambio incremental en un nivel del libro.
type LevelChange struct {
	SideBid bool // true=bid, false=ask
	Price   float64
	Size    float64
}

// BookEvent es la unión etiquetada que emite el stream de mercado tras
// decodificar. Solo los campos del tipo correspondiente están poblados.
type BookEvent struct {
	Type     BookEventType
	TokenID  string
	Bids     []Level       // EventBookSnapshot
	Asks     []Level       // EventBookSnapshot
	Changes  []LevelChange // EventPriceChange
	BestBid  float64       // EventBestBidAsk (0 = sin dato)
	BestAsk  float64       // EventBestBidAsk
	TickSize float64       // EventTickSizeChange
	At       time.Time
}
