package ports

import (
	"context"

	"github.com/alejandrodnm/updown/internal/domain"
)

// MarketProvider resuelve mercados Up/Down desde la API Gamma.
type MarketProvider interface {
	// FetchMarket devuelve el mercado con el slug dado, con sus token IDs
	// y su ventana temporal ya resueltos.
	FetchMarket(ctx context.Context, slug string) (domain.Market, error)
}
