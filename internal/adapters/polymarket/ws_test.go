package polymarket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/updown/internal/domain"
)

func TestDecodeBookEvents_Snapshot(t *testing.T) {
	data := []byte(`[{
		"event_type": "book",
		"asset_id": "tok-1",
		"market": "0xabc",
		"bids": [{"price": "0.88", "size": "120.5"}, {"price": "0.85", "size": "40"}],
		"asks": [{"price": "0.90", "size": "75"}],
		"timestamp": "1756650300000"
	}]`)

	events, dropped, err := decodeBookEvents(data)
	require.NoError(t, err)
	assert.Equal(t, 0, dropped)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, domain.EventBookSnapshot, ev.Type)
	assert.Equal(t, "tok-1", ev.TokenID)
	require.Len(t, ev.Bids, 2)
	assert.Equal(t, 0.88, ev.Bids[0].Price)
	assert.Equal(t, 120.5, ev.Bids[0].Size)
	require.Len(t, ev.Asks, 1)
	assert.Equal(t, time.UnixMilli(1756650300000).UTC(), ev.At)
}

func TestDecodeBookEvents_PriceChange(t *testing.T) {
	data := []byte(`[{
		"event_type": "price_change",
		"asset_id": "tok-1",
		"changes": [
			{"price": "0.89", "side": "BUY", "size": "10"},
			{"price": "0.91", "side": "SELL", "size": "0"}
		],
		"timestamp": "1756650301000"
	}]`)

	events, _, err := decodeBookEvents(data)
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, domain.EventPriceChange, ev.Type)
	require.Len(t, ev.Changes, 2)
	assert.True(t, ev.Changes[0].SideBid)
	assert.False(t, ev.Changes[1].SideBid)
	assert.Equal(t, 0.0, ev.Changes[1].Size) // size 0 = nivel eliminado
}

func TestDecodeBookEvents_BestBidAsk(t *testing.T) {
	data := []byte(`[{
		"event_type": "best_bid_ask",
		"asset_id": "tok-2",
		"best_bid": "0.12",
		"best_ask": "0.14",
		"timestamp": "1756650302000"
	}]`)

	events, _, err := decodeBookEvents(data)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventBestBidAsk, events[0].Type)
	assert.Equal(t, 0.12, events[0].BestBid)
	assert.Equal(t, 0.14, events[0].BestAsk)
}

func TestDecodeBookEvents_UnknownTypeDroppedAndCounted(t *testing.T) {
	// Un tipo nuevo del servidor no debe romper el decode del resto
	data := []byte(`[
		{"event_type": "last_trade_price", "asset_id": "tok-1", "price": "0.9"},
		{"event_type": "tick_size_change", "asset_id": "tok-1", "new_tick_size": "0.001"}
	]`)

	events, dropped, err := decodeBookEvents(data)
	require.NoError(t, err)
	assert.Equal(t, 1, dropped)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventTickSizeChange, events[0].Type)
	assert.Equal(t, 0.001, events[0].TickSize)
}

func TestDecodeBookEvents_SingleObject(t *testing.T) {
	data := []byte(`{"event_type": "book", "asset_id": "tok-1", "bids": [], "asks": []}`)

	events, _, err := decodeBookEvents(data)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestDecodeBookEvents_Garbage(t *testing.T) {
	_, _, err := decodeBookEvents([]byte(`PONG`))
	assert.Error(t, err)
}

func TestDecodeOraclePoint(t *testing.T) {
	data := []byte(`{
		"topic": "rtds_crypto_prices",
		"type": "update",
		"payload": {"symbol": "btc/usd", "value": 64250.15, "timestamp": 1756650300000}
	}`)

	p, ok := decodeOraclePoint(data, "btc/usd")
	require.True(t, ok)
	assert.Equal(t, 64250.15, p.Price)
	assert.Equal(t, "btc/usd", p.Symbol)
	assert.Equal(t, time.UnixMilli(1756650300000).UTC(), p.At)
}

func TestDecodeOraclePoint_TopicAliases(t *testing.T) {
	// El servidor responde bajo cualquiera de los nombres del feed.
	for _, topic := range []string{"crypto_prices", "crypto_prices_chainlink"} {
		data := []byte(`{
			"topic": "` + topic + `",
			"type": "update",
			"payload": {"symbol": "btc/usd", "value": 64250.15, "timestamp": 1756650300000}
		}`)
		p, ok := decodeOraclePoint(data, "btc/usd")
		require.True(t, ok, topic)
		assert.Equal(t, 64250.15, p.Price)
	}
}

func TestDecodeOraclePoint_WrongSymbol(t *testing.T) {
	data := []byte(`{"topic": "rtds_crypto_prices", "payload": {"symbol": "eth/usd", "value": 2500}}`)
	_, ok := decodeOraclePoint(data, "btc/usd")
	assert.False(t, ok)
}

func TestDecodeOraclePoint_OtherTopic(t *testing.T) {
	data := []byte(`{"topic": "comments", "payload": {"value": 1}}`)
	_, ok := decodeOraclePoint(data, "btc/usd")
	assert.False(t, ok)
}

func TestDetectPricePrecision(t *testing.T) {
	assert.Equal(t, int64(100), detectPricePrecision(0.60))
	assert.Equal(t, int64(1000), detectPricePrecision(0.673))
	assert.Equal(t, int64(10000), detectPricePrecision(0.7251))
}

func TestParseUSDC(t *testing.T) {
	assert.Equal(t, 1.0, parseUSDC("1000000"))
	assert.Equal(t, 0.5, parseUSDC("500000"))
	assert.Equal(t, 0.0, parseUSDC(""))
}

func TestMapGammaMarket(t *testing.T) {
	gm := gammaMarket{
		ConditionID:  "0xcond",
		Question:     "Bitcoin Up or Down - August 31, 3:05PM-3:10PM ET",
		Slug:         "bitcoin-up-or-down-august-31-305pm-et",
		Outcomes:     `["Up","Down"]`,
		ClobTokenIDs: `["111","222"]`,
	}
	ref := time.Date(2026, 8, 31, 18, 0, 0, 0, time.UTC)

	m, err := mapGammaMarket(gm, ref)
	require.NoError(t, err)
	assert.Equal(t, "111", m.UpTokenID)
	assert.Equal(t, "222", m.DownTokenID)
	assert.Equal(t, "btc", m.Asset)
	assert.Equal(t, 5*time.Minute, m.WindowEnd.Sub(m.WindowStart))
}

func TestMapGammaMarket_FallsBackToISO(t *testing.T) {
	gm := gammaMarket{
		ConditionID:  "0xcond",
		Question:     "Ethereum Up or Down",
		Slug:         "ethereum-up-or-down",
		Outcomes:     `["Up","Down"]`,
		ClobTokenIDs: `["111","222"]`,
		StartDateISO: "2026-08-31T19:05:00Z",
		EndDateISO:   "2026-08-31T19:10:00Z",
	}

	m, err := mapGammaMarket(gm, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, m.WindowEnd.Sub(m.WindowStart))
}

func TestMapGammaMarket_NotBinary(t *testing.T) {
	gm := gammaMarket{Outcomes: `["A","B","C"]`, ClobTokenIDs: `["1","2","3"]`}
	_, err := mapGammaMarket(gm, time.Now())
	assert.Error(t, err)
}
