package polymarket

// types.go — wire types del websocket de mercado y su decode al dominio.
//
// El stream entrega arrays de eventos heterogéneos. Aquí se convierten en la
// unión etiquetada domain.BookEvent; los tipos desconocidos se cuentan y se
// descartan en vez de romper el decode.

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/alejandrodnm/updown/internal/domain"
)

// rawBookEvent cubre los campos de todos los event_type conocidos; solo los
// del tipo correspondiente vienen poblados.
type rawBookEvent struct {
	EventType string     `json:"event_type"`
	AssetID   string     `json:"asset_id"`
	Market    string     `json:"market"`
	Bids      []rawLevel `json:"bids"`
	Asks      []rawLevel `json:"asks"`
	Changes   []rawChange `json:"changes"`
	BestBid   string     `json:"best_bid"`
	BestAsk   string     `json:"best_ask"`
	NewTick   string     `json:"new_tick_size"`
	Timestamp string     `json:"timestamp"` // ms epoch
}

type rawLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type rawChange struct {
	Price string `json:"price"`
	Side  string `json:"side"` // "BUY" | "SELL"
	Size  string `json:"size"`
}

// decodeBookEvents decodifica un mensaje del ws de mercado. Devuelve los
// eventos conocidos y cuántos desconocidos se descartaron.
func decodeBookEvents(data []byte) (events []domain.BookEvent, dropped int, err error) {
	// El servidor manda tanto arrays como objetos sueltos.
	var raws []rawBookEvent
	if err := json.Unmarshal(data, &raws); err != nil {
		var single rawBookEvent
		if err2 := json.Unmarshal(data, &single); err2 != nil {
			return nil, 0, fmt.Errorf("polymarket.decodeBookEvents: %w", err)
		}
		raws = []rawBookEvent{single}
	}

	for _, raw := range raws {
		ev, ok := mapBookEvent(raw)
		if !ok {
			dropped++
			continue
		}
		events = append(events, ev)
	}
	return events, dropped, nil
}

func mapBookEvent(raw rawBookEvent) (domain.BookEvent, bool) {
	at := parseMillis(raw.Timestamp)

	switch raw.EventType {
	case "book":
		return domain.BookEvent{
			Type:    domain.EventBookSnapshot,
			TokenID: raw.AssetID,
			Bids:    mapLevels(raw.Bids),
			Asks:    mapLevels(raw.Asks),
			At:      at,
		}, true

	case "price_change":
		changes := make([]domain.LevelChange, 0, len(raw.Changes))
		for _, c := range raw.Changes {
			changes = append(changes, domain.LevelChange{
				SideBid: c.Side == "BUY",
				Price:   parseNum(c.Price),
				Size:    parseNum(c.Size),
			})
		}
		return domain.BookEvent{
			Type:    domain.EventPriceChange,
			TokenID: raw.AssetID,
			Changes: changes,
			At:      at,
		}, true

	case "best_bid_ask":
		return domain.BookEvent{
			Type:    domain.EventBestBidAsk,
			TokenID: raw.AssetID,
			BestBid: parseNum(raw.BestBid),
			BestAsk: parseNum(raw.BestAsk),
			At:      at,
		}, true

	case "tick_size_change":
		return domain.BookEvent{
			Type:     domain.EventTickSizeChange,
			TokenID:  raw.AssetID,
			TickSize: parseNum(raw.NewTick),
			At:       at,
		}, true
	}

	return domain.BookEvent{}, false
}

func mapLevels(raws []rawLevel) []domain.Level {
	levels := make([]domain.Level, 0, len(raws))
	for _, r := range raws {
		levels = append(levels, domain.Level{Price: parseNum(r.Price), Size: parseNum(r.Size)})
	}
	return levels
}

func parseNum(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func parseMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms <= 0 {
		return time.Now().UTC()
	}
	return time.UnixMilli(ms).UTC()
}
