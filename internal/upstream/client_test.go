package upstream

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"stockstreamer/internal/broker"
	"stockstreamer/internal/cache"
	"stockstreamer/internal/metrics"
	"stockstreamer/internal/model"
)

var upgrader = websocket.Upgrader{}

// TestRunIngestsAndReconnects serves two records plus a malformed one,
// drops the connection, and checks the client ingests, publishes,
// counts the decode error and dials again.
func TestRunIngestsAndReconnects(t *testing.T) {
	var conns atomic.Int64
	hold := make(chan struct{})

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		if conns.Add(1) == 1 {
			ws.WriteMessage(websocket.TextMessage, []byte("x;NVDA;100.0;101.5;99.0;102.0;500;12;1700000000000;1"))
			ws.WriteMessage(websocket.TextMessage, []byte("x;NVDA;bad;103.0;100.0;104.0;600;15;1700000010000;1"))
			ws.WriteMessage(websocket.TextMessage, []byte("x;AMD;20.0;21.0;19.0;22.0;200;4;1700000020000;1"))
			return // drop the connection to force a reconnect
		}
		<-hold
	}))
	t.Cleanup(ts.Close)
	t.Cleanup(func() { close(hold) })

	mc := cache.New([]model.Interval{1})
	b := broker.New(mc)
	met, _ := metrics.New()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	// An all-symbols subscriber observes the publish path.
	id := b.AddSubscriber()
	if err := b.Subscribe(id, broker.AllTarget()); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	b.Drain(id)

	c := New(Config{
		URL:            "ws" + strings.TrimPrefix(ts.URL, "http"),
		ReconnectDelay: 10 * time.Millisecond,
	}, mc, b, log, met)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	var events []string
	deadline := time.Now().Add(5 * time.Second)
	for len(events) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for published events, got %v", events)
		}
		events = append(events, b.Drain(id)...)
		time.Sleep(10 * time.Millisecond)
	}

	if !strings.Contains(events[0], `"name":"NVDA"`) || !strings.Contains(events[1], `"name":"AMD"`) {
		t.Errorf("published events: got %v", events)
	}
	if !mc.HasSymbol("NVDA") || !mc.HasSymbol("AMD") {
		t.Error("ingested symbols missing from cache")
	}

	if got := testutil.ToFloat64(met.DecodeErrors); got != 1 {
		t.Errorf("decode errors: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(met.RecordsTotal); got != 2 {
		t.Errorf("records total: got %v, want 2", got)
	}

	// The dropped first connection must have been retried.
	reconDeadline := time.Now().Add(5 * time.Second)
	for conns.Load() < 2 {
		if time.Now().After(reconDeadline) {
			t.Fatal("client never reconnected")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := testutil.ToFloat64(met.UpstreamReconnects); got < 1 {
		t.Errorf("reconnects: got %v, want >= 1", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop on ctx cancel")
	}
}
