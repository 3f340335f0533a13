package ari

import (
	"context"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
)

// EventHandler processes one parsed event from the socket. Errors are
// logged; they never stop the read loop.
type EventHandler func(ctx context.Context, ev ParsedEvent) error

// Listener keeps the ARI event socket connected and feeds every frame to
// the handler. Frames for a single connection are delivered sequentially,
// in socket order.
type Listener struct {
	url     string
	handler EventHandler

	// Reconnect backoff, starting at a few seconds after a lost socket.
	retryMin time.Duration
	retryMax time.Duration
}

// NewListener creates a listener for the given events URL
// (ws://host:port/ari/events?app=...&api_key=...).
func NewListener(url string, handler EventHandler) *Listener {
	return &Listener{
		url:      url,
		handler:  handler,
		retryMin: 3 * time.Second,
		retryMax: 30 * time.Second,
	}
}

// Run connects the event socket and dispatches frames until ctx is
// cancelled. Connection loss triggers a reconnect after a backoff pause.
func (l *Listener) Run(ctx context.Context) error {
	b := &backoff.Backoff{Min: l.retryMin, Max: l.retryMax, Jitter: true}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, err := l.dial(ctx)
		if err != nil {
			d := b.Duration()
			slog.Error("ari event socket connect failed", "error", err, "retry_in", d)
			if !sleep(ctx, d) {
				return ctx.Err()
			}
			continue
		}

		slog.Info("ari event socket connected")
		b.Reset()

		err = l.readLoop(ctx, conn)
		conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}

		d := b.Duration()
		slog.Warn("ari event socket lost, reconnecting", "error", err, "retry_in", d)
		if !sleep(ctx, d) {
			return ctx.Err()
		}
	}
}

func (l *Listener) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, l.url, nil)
	if err != nil {
		if resp != nil {
			slog.Error("ari websocket handshake rejected", "status", resp.StatusCode)
		}
		return nil, err
	}
	return conn, nil
}

// readLoop reads frames until the connection fails or ctx is cancelled.
// A cancelled context closes the connection to unblock the pending read.
func (l *Listener) readLoop(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		ev := ParseEvent(data)
		if ev.Type == "" {
			slog.Warn("dropping malformed event frame", "size", len(data))
			continue
		}

		if err := l.handler(ctx, ev); err != nil {
			slog.Error("event handler failed",
				"type", ev.Type,
				"channel_id", ev.ChannelID,
				"error", err,
			)
		}
	}
}

// sleep pauses for d, returning false if ctx is cancelled first.
func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
