// cmd/feedsim — Demo upstream feed server.
// Broadcasts simulated candle records for testing the streamer without a
// real market feed.
//
// Record wire format matches the streamer's ingest path:
//
//	x;NVDA;100.000000;101.500000;99.000000;102.000000;500;12;1700000000000;1
//
// Config (env vars):
//
//	FEED_ADDR         — listen address (default ":9004")
//	FEED_SYMBOLS      — comma-separated symbols (default "NVDA,AAPL,AMD")
//	FEED_INTERVAL_MS  — broadcast interval milliseconds (default "1000")
package main

import (
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// instrument holds per-symbol simulation state.
type instrument struct {
	Symbol string
	Price  float64
	tick   int64
}

// ─── Hub ──────────────────────────────────────────────────────────────────────

type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]chan []byte
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]chan []byte)}
}

func (h *hub) register(conn *websocket.Conn) chan []byte {
	ch := make(chan []byte, 256)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		close(ch)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.clients {
		select {
		case ch <- msg:
		default: // slow client — drop record
		}
	}
}

// ─── WebSocket handler ────────────────────────────────────────────────────────

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func wsHandler(h *hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[feedsim] upgrade error: %v", err)
			return
		}
		log.Printf("[feedsim] client connected: %s", r.RemoteAddr)

		ch := h.register(conn)
		defer func() {
			h.unregister(conn)
			conn.Close()
			log.Printf("[feedsim] client disconnected: %s", r.RemoteAddr)
		}()

		for msg := range ch {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// ─── Candle generator ─────────────────────────────────────────────────────────

// walkPrice applies a tiny random walk (±0.1%) to simulate price movement.
func walkPrice(price float64) float64 {
	pct := (rand.Float64()*0.2 - 0.1) / 100.0
	newPrice := price * (1 + pct)
	if newPrice < 0.01 {
		newPrice = 0.01
	}
	return newPrice
}

// record renders one feed record for the symbol at the given interval.
func record(inst *instrument, interval int64, open float64) string {
	min, max := open, inst.Price
	if min > max {
		min, max = max, min
	}
	return fmt.Sprintf("x;%s;%.6f;%.6f;%.6f;%.6f;%d;%d;%d;%d",
		inst.Symbol, open, inst.Price, min*0.999, max*1.001,
		rand.Intn(1000)+1, rand.Intn(50)+1,
		time.Now().UnixMilli(), interval)
}

func runGenerator(h *hub, instruments []*instrument, intervalMs int) {
	ticker := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
	defer ticker.Stop()

	// Emit a base-interval record per symbol each tick; wider intervals
	// are emitted every N ticks.
	emitEvery := map[int64]int64{1: 1, 10: 10, 60: 60, 300: 300, 600: 600}

	for range ticker.C {
		var sb strings.Builder
		for _, inst := range instruments {
			open := inst.Price
			inst.Price = walkPrice(inst.Price)
			inst.tick++

			for interval, every := range emitEvery {
				if inst.tick%every == 0 {
					sb.WriteString(record(inst, interval, open))
					sb.WriteByte('\n')
				}
			}
		}
		if sb.Len() > 0 {
			h.broadcast([]byte(sb.String()))
		}
	}
}

// ─── main ─────────────────────────────────────────────────────────────────────

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[feedsim] starting demo feed server...")

	addr := envOrDefault("FEED_ADDR", ":9004")
	symbolsEnv := envOrDefault("FEED_SYMBOLS", "NVDA,AAPL,AMD")
	intervalMs := envIntOrDefault("FEED_INTERVAL_MS", 1000)

	var instruments []*instrument
	for _, s := range strings.Split(symbolsEnv, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		instruments = append(instruments, &instrument{
			Symbol: s,
			Price:  50 + rand.Float64()*200,
		})
	}
	if len(instruments) == 0 {
		log.Fatalf("[feedsim] no symbols configured via FEED_SYMBOLS")
	}
	log.Printf("[feedsim] symbols: %s, interval: %dms", symbolsEnv, intervalMs)

	h := newHub()
	go runGenerator(h, instruments, intervalMs)

	http.HandleFunc("/ws", wsHandler(h))
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"feedsim"}`)
	})

	log.Printf("[feedsim] listening on %s (WebSocket: ws://localhost%s/ws)", addr, addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("[feedsim] server error: %v", err)
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
