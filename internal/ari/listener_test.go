package ari

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// wsServer serves one websocket connection per request, writing the given
// frames and then closing the socket.
func wsServer(t *testing.T, frames [][]byte, connects *atomic.Int32) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		if connects != nil {
			connects.Add(1)
		}
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, f); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestListenerDeliversFrames(t *testing.T) {
	frames := [][]byte{
		[]byte(`{"type":"StasisStart","channel":{"id":"C-A"}}`),
		[]byte(`not json at all`),
		[]byte(`{"type":"ChannelDestroyed","channel":{"id":"C-A"},"cause":16}`),
	}
	srv := wsServer(t, frames, nil)
	defer srv.Close()

	got := make(chan ParsedEvent, 8)
	l := NewListener(wsURL(srv), func(ctx context.Context, ev ParsedEvent) error {
		got <- ev
		return nil
	})
	l.retryMin = time.Hour // no reconnect during this test

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.Run(ctx)
	}()

	// The malformed frame is dropped, so two events arrive.
	for i, wantType := range []string{"StasisStart", "ChannelDestroyed"} {
		select {
		case ev := <-got:
			if ev.Type != wantType {
				t.Errorf("event %d type = %q, want %q", i, ev.Type, wantType)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not stop after cancel")
	}
}

func TestListenerReconnects(t *testing.T) {
	var connects atomic.Int32
	srv := wsServer(t, [][]byte{
		[]byte(`{"type":"StasisStart","channel":{"id":"C-A"}}`),
	}, &connects)
	defer srv.Close()

	got := make(chan ParsedEvent, 8)
	l := NewListener(wsURL(srv), func(ctx context.Context, ev ParsedEvent) error {
		got <- ev
		return nil
	})
	l.retryMin = 10 * time.Millisecond
	l.retryMax = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.Run(ctx)
	}()

	// The server drops each connection after one frame; receiving two events
	// proves the listener dialed again.
	for i := 0; i < 2; i++ {
		select {
		case <-got:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for delivery %d", i)
		}
	}
	if n := connects.Load(); n < 2 {
		t.Errorf("connects = %d, want at least 2", n)
	}

	cancel()
	<-done
}

func TestListenerHandlerErrorDoesNotStopLoop(t *testing.T) {
	frames := [][]byte{
		[]byte(`{"type":"StasisStart","channel":{"id":"C-A"}}`),
		[]byte(`{"type":"StasisEnd","channel":{"id":"C-A"}}`),
	}
	srv := wsServer(t, frames, nil)
	defer srv.Close()

	got := make(chan ParsedEvent, 8)
	l := NewListener(wsURL(srv), func(ctx context.Context, ev ParsedEvent) error {
		got <- ev
		return context.DeadlineExceeded
	})
	l.retryMin = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	for i := 0; i < 2; i++ {
		select {
		case <-got:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestListenerStopsWhenCancelledBeforeConnect(t *testing.T) {
	l := NewListener("ws://127.0.0.1:1/ari/events", func(ctx context.Context, ev ParsedEvent) error {
		return nil
	})
	l.retryMin = 10 * time.Millisecond
	l.retryMax = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()

	select {
	case err := <-errCh:
		if err == nil {
			t.Error("Run() = nil, want context error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
