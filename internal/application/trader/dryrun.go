package trader

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/alejandrodnm/updown/internal/domain"
)

// DryRunExecutor simula las órdenes contra un balance virtual: los fills
// son inmediatos al precio pedido, sin tocar el CLOB ni la cadena.
type DryRunExecutor struct {
	mu      sync.Mutex
	balance float64
	shares  map[string]float64 // token → shares en cartera
}

// NewDryRunExecutor crea el simulador con el balance virtual inicial.
func NewDryRunExecutor(balance float64) *DryRunExecutor {
	return &DryRunExecutor{
		balance: balance,
		shares:  make(map[string]float64),
	}
}

// PlaceOrder llena la orden al precio solicitado contra el balance virtual.
func (d *DryRunExecutor) PlaceOrder(_ context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if req.Price <= 0 {
		return domain.OrderResult{}, fmt.Errorf("dryrun.PlaceOrder: invalid price %.4f", req.Price)
	}

	if req.Buy {
		if req.Notional > d.balance {
			return domain.OrderResult{}, fmt.Errorf("dryrun.PlaceOrder: insufficient balance: have %.2f, need %.2f", d.balance, req.Notional)
		}
		shares := req.Notional / req.Price
		d.balance -= req.Notional
		d.shares[req.TokenID] += shares
		return domain.OrderResult{
			OrderID:    "dry-" + uuid.NewString(),
			Status:     "matched",
			FillPrice:  req.Price,
			FilledUSDC: req.Notional,
			Shares:     shares,
		}, nil
	}

	held := d.shares[req.TokenID]
	if req.Shares > held+1e-9 {
		return domain.OrderResult{}, fmt.Errorf("dryrun.PlaceOrder: insufficient shares: have %.4f, need %.4f", held, req.Shares)
	}
	proceeds := req.Shares * req.Price
	d.balance += proceeds
	d.shares[req.TokenID] -= req.Shares
	return domain.OrderResult{
		OrderID:    "dry-" + uuid.NewString(),
		Status:     "matched",
		FillPrice:  req.Price,
		FilledUSDC: proceeds,
		Shares:     req.Shares,
	}, nil
}

// Balance devuelve el balance virtual restante.
func (d *DryRunExecutor) Balance(_ context.Context) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.balance, nil
}

// Holdings devuelve las shares en cartera para un token.
func (d *DryRunExecutor) Holdings(tokenID string) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shares[tokenID]
}
