package polymarket

// rtds.go — stream del precio del oráculo (real-time data service).
//
// Un solo símbolo Chainlink por stream; el engine abre uno por mercado.

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alejandrodnm/updown/internal/domain"
)

const defaultOracleWS = "wss://ws-live-data.polymarket.com"

// El servidor publica los precios crypto bajo más de un topic según la
// versión del feed: se suscribe a los dos nombres vigentes y al decodificar
// se acepta además el nombre legacy con prefijo rtds_.
var (
	oracleTopics       = []string{"crypto_prices_chainlink", "crypto_prices"}
	oracleLegacyTopics = []string{"rtds_crypto_prices"}
)

// rtdsMessage es el sobre de los updates de precios crypto.
type rtdsMessage struct {
	Topic   string      `json:"topic"`
	Type    string      `json:"type"`
	Payload rtdsPayload `json:"payload"`
}

type rtdsPayload struct {
	Symbol    string  `json:"symbol"`
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"` // ms epoch
}

// OracleStream implementa ports.OracleStream.
type OracleStream struct {
	url      string
	symbol   string // "btc/usd"
	points   chan domain.OraclePoint
	lastSeen atomic.Int64
}

// NewOracleStream crea el stream para el símbolo dado.
func NewOracleStream(wsBase, symbol string) *OracleStream {
	if wsBase == "" {
		wsBase = defaultOracleWS
	}
	return &OracleStream{
		url:    wsBase,
		symbol: symbol,
		points: make(chan domain.OraclePoint, 256),
	}
}

// Points devuelve el canal de observaciones del oráculo.
func (s *OracleStream) Points() <-chan domain.OraclePoint {
	return s.points
}

// LastSeen devuelve cuándo llegó el último mensaje (zero si ninguno).
func (s *OracleStream) LastSeen() time.Time {
	ns := s.lastSeen.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Run mantiene la conexión con reconexión y backoff hasta que el contexto
// muera. Cierra el canal de puntos al salir.
func (s *OracleStream) Run(ctx context.Context) error {
	defer close(s.points)

	backoff := wsInitialBackoff
	for {
		started := time.Now()
		if err := s.runConn(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("oracle ws: connection lost, reconnecting", "err", err, "backoff", backoff)
		}
		if time.Since(started) > time.Minute {
			backoff = wsInitialBackoff
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, wsMaxBackoff)
	}
}

func (s *OracleStream) runConn(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.url, err)
	}
	defer conn.Close()

	filters, err := json.Marshal(map[string]string{"symbol": s.symbol})
	if err != nil {
		return fmt.Errorf("subscribe: filters: %w", err)
	}
	subs := make([]map[string]string, 0, len(oracleTopics))
	for _, topic := range oracleTopics {
		subs = append(subs, map[string]string{
			"topic":   topic,
			"type":    "update",
			"filters": string(filters),
		})
	}
	sub := map[string]any{
		"action":        "subscribe",
		"subscriptions": subs,
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	slog.Info("oracle ws: subscribed", "symbol", s.symbol)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	go s.pingLoop(ctx, conn, done)

	for {
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		s.lastSeen.Store(time.Now().UnixNano())

		point, ok := decodeOraclePoint(data, s.symbol)
		if !ok {
			continue
		}

		select {
		case s.points <- point:
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *OracleStream) pingLoop(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
				return
			}
		case <-ctx.Done():
			return
		case <-done:
			return
		}
	}
}

// decodeOraclePoint extrae una observación del mensaje. Ignora todo lo que
// no sea un update de precio del símbolo suscrito; cualquiera de los topics
// conocidos vale.
func decodeOraclePoint(data []byte, symbol string) (domain.OraclePoint, bool) {
	var msg rtdsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return domain.OraclePoint{}, false
	}
	if !knownOracleTopic(msg.Topic) || msg.Payload.Value <= 0 {
		return domain.OraclePoint{}, false
	}
	if msg.Payload.Symbol != "" && msg.Payload.Symbol != symbol {
		return domain.OraclePoint{}, false
	}

	at := time.Now().UTC()
	if msg.Payload.Timestamp > 0 {
		at = time.UnixMilli(msg.Payload.Timestamp).UTC()
	}
	return domain.OraclePoint{Symbol: symbol, Price: msg.Payload.Value, At: at}, true
}

func knownOracleTopic(topic string) bool {
	for _, t := range oracleTopics {
		if t == topic {
			return true
		}
	}
	for _, t := range oracleLegacyTopics {
		if t == topic {
			return true
		}
	}
	return false
}
