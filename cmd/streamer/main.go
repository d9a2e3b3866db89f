// cmd/streamer — market data streaming node.
//
// Connects to an upstream candle feed, maintains bounded per-symbol
// history with rolling indicators, and fans updates out to WebSocket
// subscribers.
//
// Config (env vars, prefix STREAMER_):
//
//	STREAMER_LISTEN_ADDR      — subscriber WebSocket listen address (default ":9002")
//	STREAMER_UPSTREAM_URL     — upstream feed URL (default "ws://localhost:9004/ws")
//	STREAMER_METRICS_ADDR     — Prometheus/health listen address (default ":9090")
//	STREAMER_INTERVALS        — tracked intervals, csv seconds (default "1,10,60,300,600")
//	STREAMER_WINDOW_SIZE      — sliding window capacity per bucket (default 120)
//	STREAMER_TRACKED_SYMBOLS  — csv symbol subset, empty = all
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"stockstreamer/config"
	"stockstreamer/internal/broker"
	"stockstreamer/internal/cache"
	"stockstreamer/internal/logger"
	"stockstreamer/internal/metrics"
	"stockstreamer/internal/server"
	"stockstreamer/internal/upstream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("streamer: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logger.Init("streamer", logger.ParseLevel(cfg.LogLevel))
	log.Info("starting", "listen", cfg.ListenAddr, "upstream", cfg.UpstreamURL)

	met, reg := metrics.New()

	mc := cache.New(cfg.ParseIntervals(),
		cache.WithCapacity(cfg.WindowSize),
		cache.WithTrackedSymbols(cfg.ParseSymbols()),
	)

	b := broker.New(mc)
	b.OnDrop = func(int64) { met.QueueDrops.Inc() }

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Metrics + health endpoint.
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(reg))
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok"))
		})
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			log.Error("metrics server failed", "err", err)
		}
	}()

	// Upstream ingestion path.
	go func() {
		feed := upstream.New(upstream.Config{
			URL:            cfg.UpstreamURL,
			ReconnectDelay: cfg.ReconnectDelay,
		}, mc, b, log, met)
		if err := feed.Run(ctx); err != nil {
			log.Error("upstream client failed", "err", err)
			cancel()
		}
	}()

	// Downstream subscriber server; blocks until shutdown.
	srv := server.New(b, log, met)
	if err := srv.Run(ctx, cfg.ListenAddr); err != nil {
		log.Error("subscriber server failed", "err", err)
		os.Exit(1)
	}

	log.Info("shutdown complete")
}
