// Package server accepts downstream subscriber connections and runs the
// per-connection workers: an inbound worker turning control frames into
// broker subscription calls, and an outbound worker draining the
// subscriber's queue onto the wire.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"stockstreamer/internal/broker"
	"stockstreamer/internal/metrics"
)

const (
	pollInterval   = 10 * time.Millisecond
	idleProbeAfter = 500 // consecutive empty polls before a keepalive probe
	writeTimeout   = 10 * time.Second
	readLimit      = 4096
)

// Server serves the subscriber WebSocket endpoint.
type Server struct {
	broker *broker.Broker
	log    *slog.Logger
	met    *metrics.Metrics

	upgrader websocket.Upgrader
}

// New creates a Server fanning out through the given broker.
func New(b *broker.Broker, log *slog.Logger, met *metrics.Metrics) *Server {
	return &Server{
		broker: b,
		log:    log,
		met:    met,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Run serves the /ws endpoint on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	s.log.Info("subscriber server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "err", err)
		return
	}

	c := &conn{
		id:   s.broker.AddSubscriber(),
		ws:   ws,
		srv:  s,
		done: make(chan struct{}),
	}
	s.met.Subscribers.Inc()
	s.log.Info("subscriber connected", "id", c.id, "remote", r.RemoteAddr)

	go c.outboundLoop()
	go c.inboundLoop()
}

// conn is one subscriber connection. The broker owns all subscription
// state; the connection references it only by id.
type conn struct {
	id   int64
	ws   *websocket.Conn
	srv  *Server
	done chan struct{}

	writeMu   sync.Mutex // gorilla allows a single concurrent writer
	closeOnce sync.Once
}

// controlMsg is the downstream subscription-control message. The
// reserved stock value "*" selects the aggregate all-symbols feed.
type controlMsg struct {
	Stock string `json:"stock"`
}

// inboundLoop blocks on transport reads and applies subscription changes.
// A read error or closed connection tears the subscriber down; malformed
// control messages only produce an error reply.
func (c *conn) inboundLoop() {
	defer c.teardown("read closed")

	c.ws.SetReadLimit(readLimit)

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		var msg controlMsg
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Stock == "" {
			c.writeText(`{"error":"control message requires a stock field"}`)
			continue
		}

		target := broker.SymbolTarget(msg.Stock)
		if msg.Stock == "*" {
			target = broker.AllTarget()
		}

		start := time.Now()
		if err := c.srv.broker.Subscribe(c.id, target); err != nil {
			c.srv.log.Warn("subscription rejected", "id", c.id, "target", target.String(), "err", err)
			c.writeText(`{"error":"unknown stock"}`)
			continue
		}
		c.srv.met.SnapshotDur.Observe(time.Since(start).Seconds())
		c.srv.log.Info("subscribed", "id", c.id, "target", target.String())
	}
}

// outboundLoop drains the subscriber's queue once per poll cycle. When
// the queue stays empty long enough it sends a keepalive probe; a failed
// probe or write tears the connection down.
func (c *conn) outboundLoop() {
	emptyPolls := 0

	for {
		events := c.srv.broker.Drain(c.id)
		if len(events) == 0 {
			select {
			case <-c.done:
				return
			case <-time.After(pollInterval):
			}

			emptyPolls++
			if emptyPolls >= idleProbeAfter {
				emptyPolls = 0
				if err := c.writeControl(websocket.PingMessage); err != nil {
					c.teardown("keepalive probe failed")
					return
				}
			}
			continue
		}

		emptyPolls = 0
		for _, ev := range events {
			if err := c.writeText(ev); err != nil {
				c.teardown("write failed")
				return
			}
		}
	}
}

func (c *conn) writeText(msg string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, []byte(msg))
}

func (c *conn) writeControl(messageType int) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteControl(messageType, nil, time.Now().Add(writeTimeout))
}

// teardown is safe to invoke from either worker, any number of times.
func (c *conn) teardown(reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		c.srv.broker.RemoveSubscriber(c.id)
		c.ws.Close()
		c.srv.met.Subscribers.Dec()
		c.srv.met.SubscriberTeardowns.Inc()
		c.srv.log.Info("subscriber torn down", "id", c.id, "reason", reason)
	})
}
