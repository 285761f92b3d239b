package trader

// tracker.go — live orderbook state for both sides of an Up/Down market.

import (
	"sort"
	"sync"
	"time"

	"github.com/alejandrodnm/updown/internal/domain"
)

// unknownSize marks a level whose size was invalidated by an incremental
// event and not yet re-synced by a full snapshot.
const unknownSize = -1

// Tracker consumes book events and maintains the two token books. All
// methods are safe for concurrent use.
type Tracker struct {
	mu       sync.RWMutex
	market   domain.Market
	up       domain.TokenBook
	down     domain.TokenBook
	tickSize float64
	updated  time.Time
}

// NewTracker creates a tracker for the market's two tokens.
func NewTracker(market domain.Market) *Tracker {
	return &Tracker{
		market: market,
		up:     domain.TokenBook{TokenID: market.UpTokenID},
		down:   domain.TokenBook{TokenID: market.DownTokenID},
	}
}

// Apply folds one stream event into the book state. Events for unknown
// tokens are ignored.
func (t *Tracker) Apply(ev domain.BookEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	book := t.bookFor(ev.TokenID)
	if book == nil {
		return
	}

	switch ev.Type {
	case domain.EventBookSnapshot:
		book.Bids = sortLevels(validLevels(ev.Bids), true)
		book.Asks = sortLevels(validLevels(ev.Asks), false)

	case domain.EventPriceChange:
		for _, ch := range ev.Changes {
			// Removals (size 0) pass through; any other price outside the
			// tradable range is a malformed update and gets dropped.
			if ch.Size != 0 && !validPrice(ch.Price) {
				continue
			}
			if ch.SideBid {
				book.Bids = applyChange(book.Bids, ch.Price, ch.Size, true)
			} else {
				book.Asks = applyChange(book.Asks, ch.Price, ch.Size, false)
			}
		}

	case domain.EventBestBidAsk:
		// Only prices arrive; the sizes at the new bests are unknown until
		// the next snapshot or price_change.
		if validPrice(ev.BestBid) {
			book.Bids = forceBest(book.Bids, ev.BestBid, true)
		}
		if validPrice(ev.BestAsk) {
			book.Asks = forceBest(book.Asks, ev.BestAsk, false)
		}

	case domain.EventTickSizeChange:
		t.tickSize = ev.TickSize
	}

	book.UpdatedAt = ev.At
	t.updated = ev.At
}

// Favored returns the current favored side and its confidence (the favored
// side's best bid).
func (t *Tracker) Favored(eps float64) (domain.Side, float64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return domain.Favored(t.up, t.down, eps)
}

// BestAsk returns the best ask of the given side's book.
func (t *Tracker) BestAsk(side domain.Side) (domain.Level, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b := t.sideBook(side)
	if b == nil {
		return domain.Level{}, false
	}
	return b.BestAsk()
}

// BestBid returns the best bid of the given side's book.
func (t *Tracker) BestBid(side domain.Side) (domain.Level, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b := t.sideBook(side)
	if b == nil {
		return domain.Level{}, false
	}
	return b.BestBid()
}

// AskLiquidity returns the USDC liquidity in the top ask levels of the side.
// ok=false when the book is empty or sizes are invalidated; the caller
// decides whether unknown liquidity blocks the trade.
func (t *Tracker) AskLiquidity(side domain.Side, depth int) (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b := t.sideBook(side)
	if b == nil {
		return 0, false
	}
	return b.AskLiquidity(depth)
}

// Quotes returns best bid and ask prices of the side, zero when missing.
func (t *Tracker) Quotes(side domain.Side) (bid, ask float64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b := t.sideBook(side)
	if b == nil {
		return 0, 0
	}
	if l, ok := b.BestBid(); ok {
		bid = l.Price
	}
	if l, ok := b.BestAsk(); ok {
		ask = l.Price
	}
	return bid, ask
}

// UpdatedAt returns when the last event was folded in.
func (t *Tracker) UpdatedAt() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.updated
}

// HasSnapshot reports whether both books received at least one full snapshot
// or quote.
func (t *Tracker) HasSnapshot() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return (len(t.up.Bids) > 0 || len(t.up.Asks) > 0) &&
		(len(t.down.Bids) > 0 || len(t.down.Asks) > 0)
}

func (t *Tracker) bookFor(tokenID string) *domain.TokenBook {
	switch tokenID {
	case t.up.TokenID:
		return &t.up
	case t.down.TokenID:
		return &t.down
	}
	return nil
}

func (t *Tracker) sideBook(side domain.Side) *domain.TokenBook {
	switch side {
	case domain.SideUp:
		return &t.up
	case domain.SideDown:
		return &t.down
	}
	return nil
}

// validPrice reports whether a quoted price sits in the tradable CLOB range.
func validPrice(p float64) bool {
	return p >= domain.MinPrice && p <= domain.MaxPrice
}

// validLevels drops levels whose price falls outside the tradable range.
func validLevels(levels []domain.Level) []domain.Level {
	out := make([]domain.Level, 0, len(levels))
	for _, lvl := range levels {
		if validPrice(lvl.Price) {
			out = append(out, lvl)
		}
	}
	return out
}

// sortLevels orders bids descending and asks ascending by price.
func sortLevels(levels []domain.Level, desc bool) []domain.Level {
	out := make([]domain.Level, len(levels))
	copy(out, levels)
	sort.Slice(out, func(i, j int) bool {
		if desc {
			return out[i].Price > out[j].Price
		}
		return out[i].Price < out[j].Price
	})
	return out
}

// applyChange updates the level at price: size 0 removes it, otherwise it is
// set (inserting if new), keeping the slice sorted.
func applyChange(levels []domain.Level, price, size float64, desc bool) []domain.Level {
	for i, lvl := range levels {
		if lvl.Price == price {
			if size == 0 {
				return append(levels[:i], levels[i+1:]...)
			}
			levels[i].Size = size
			return levels
		}
	}
	if size == 0 {
		return levels
	}
	return sortLevels(append(levels, domain.Level{Price: price, Size: size}), desc)
}

// forceBest makes price the best level, dropping anything better and marking
// the size unknown if the level is new.
func forceBest(levels []domain.Level, price float64, desc bool) []domain.Level {
	// Drop levels that would sort ahead of the announced best.
	kept := levels[:0:0]
	for _, lvl := range levels {
		if desc && lvl.Price > price {
			continue
		}
		if !desc && lvl.Price < price {
			continue
		}
		kept = append(kept, lvl)
	}
	if len(kept) > 0 && kept[0].Price == price {
		return kept
	}
	return sortLevels(append(kept, domain.Level{Price: price, Size: unknownSize}), desc)
}
