package ports

import (
	"context"

	"github.com/alejandrodnm/updown/internal/domain"
)

// Executor places real (or simulated) orders against the CLOB.
type Executor interface {
	// PlaceOrder signs and submits a FOK market order. For buys, Notional is
	// the USDC to spend at worst-acceptable Price; for sells, Shares is the
	// amount to liquidate.
	PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error)

	// Balance returns the available USDC balance.
	Balance(ctx context.Context) (float64, error)
}
