package transport

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"momentum-go/internal/metrics"
)

// WebSocket reads a relay that pushes one JSON message per frame. Acks are no-ops.
type WebSocket struct {
	log zerolog.Logger
	url string
}

// NewWebSocket targets the relay URL.
func NewWebSocket(log zerolog.Logger, url string) *WebSocket {
	return &WebSocket{log: log, url: url}
}

// Subscribe connects and reconnects with backoff until ctx ends.
func (w *WebSocket) Subscribe(ctx context.Context, out chan<- Delivery) error {
	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		delivered, err := w.consume(ctx, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if delivered {
			backoff = initialBackoff
		}
		metrics.TransportEvents.WithLabelValues("websocket", "disconnect").Inc()
		w.log.Warn().Err(err).Dur("backoff", backoff).Msg("websocket relay disconnected, retrying")
		if sleep(ctx, backoff) {
			return ctx.Err()
		}
		backoff = nextBackoff(backoff)
	}
}

func (w *WebSocket) consume(ctx context.Context, out chan<- Delivery) (bool, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	w.log.Info().Str("url", w.url).Msg("connected websocket relay")

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		return nil
	})

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					w.log.Warn().Err(err).Msg("websocket ping failed")
					return
				}
			case <-connCtx.Done():
				// unblock ReadMessage on shutdown
				_ = conn.Close()
				return
			}
		}
	}()

	delivered := false
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return delivered, err
		}
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		if err := send(ctx, out, NewDelivery(w.url, message, nil)); err != nil {
			return delivered, err
		}
		delivered = true
	}
}

// Close is a no-op; connections close when Subscribe returns.
func (w *WebSocket) Close() error { return nil }
