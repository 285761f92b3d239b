package polymarket

// ws.go — stream del orderbook por websocket (canal "market" del CLOB).

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alejandrodnm/updown/internal/domain"
)

const (
	defaultMarketWS = "wss://ws-subscriptions-clob.polymarket.com/ws/market"

	wsPingInterval   = 10 * time.Second
	wsReadTimeout    = 30 * time.Second
	wsMaxBackoff     = 30 * time.Second
	wsInitialBackoff = time.Second
)

// MarketStream implementa ports.MarketStream sobre gorilla/websocket.
type MarketStream struct {
	url      string
	assetIDs []string
	events   chan domain.BookEvent
	lastSeen atomic.Int64 // unix nanos del último mensaje
	dropped  atomic.Int64 // eventos de tipo desconocido descartados
}

// NewMarketStream crea el stream suscrito a los token IDs dados.
func NewMarketStream(wsBase string, assetIDs []string) *MarketStream {
	if wsBase == "" {
		wsBase = defaultMarketWS
	}
	return &MarketStream{
		url:      wsBase,
		assetIDs: assetIDs,
		events:   make(chan domain.BookEvent, 256),
	}
}

// Events devuelve el canal de eventos decodificados.
func (s *MarketStream) Events() <-chan domain.BookEvent {
	return s.events
}

// LastSeen devuelve cuándo llegó el último mensaje (zero si ninguno).
func (s *MarketStream) LastSeen() time.Time {
	ns := s.lastSeen.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Dropped devuelve cuántos eventos desconocidos se han descartado.
func (s *MarketStream) Dropped() int64 {
	return s.dropped.Load()
}

// Run mantiene la conexión con reconexión y backoff hasta que el contexto
// muera. Cierra el canal de eventos al salir.
func (s *MarketStream) Run(ctx context.Context) error {
	defer close(s.events)

	backoff := wsInitialBackoff
	for {
		started := time.Now()
		if err := s.runConn(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("market ws: connection lost, reconnecting", "err", err, "backoff", backoff)
		}
		// Una conexión que duró lo suficiente resetea el backoff.
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

// runConn abre una conexión, se suscribe y bombea mensajes hasta el primer
// error.
func (s *MarketStream) runConn(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.url, err)
	}
	defer conn.Close()

	sub := map[string]any{"type": "market", "assets_ids": s.assetIDs}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	slog.Info("market ws: subscribed", "assets", len(s.assetIDs))

	// Cierre limpio cuando el contexto muere.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()

	go s.pingLoop(ctx, conn, done)

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	for {
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		s.lastSeen.Store(time.Now().UnixNano())

		// El servidor responde "PONG" a los pings de texto.
		if len(data) == 0 || string(data) == "PONG" {
			continue
		}

		events, dropped, err := decodeBookEvents(data)
		if err != nil {
			slog.Debug("market ws: undecodable message", "err", err)
			continue
		}
		if dropped > 0 {
			s.dropped.Add(int64(dropped))
		}

		for _, ev := range events {
			select {
			case s.events <- ev:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// pingLoop manda PING de texto periódicamente; el CLOB cierra conexiones
// silenciosas.
func (s *MarketStream) pingLoop(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.TextMessage, []byte("PING")); err != nil {
				return
			}
		case <-ctx.Done():
			return
		case <-done:
			return
		}
	}
}
