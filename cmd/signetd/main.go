// Command signetd is the server side of spec.md: it accepts TCP
// connections, runs the fixed worker pool and the single serial
// enqueue worker over a content-addressed local store, and serves a
// small HTTP sidecar for health, metrics and chain-tip debugging.
// Grounded on cmd/miner/main.go's wiring shape (config.Load, logger.New,
// background agents, api.Router, ListenAndServe as the final blocking
// call).
package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"signetd/internal/api"
	"signetd/internal/chain"
	"signetd/internal/config"
	"signetd/internal/enqueue"
	"signetd/internal/heartbeat"
	"signetd/internal/logger"
	"signetd/internal/metrics"
	"signetd/internal/noiseconn"
	"signetd/internal/store"
	"signetd/internal/workerpool"
)

func main() {
	cfgPath := os.Getenv("SIGNETD_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/signetd.yaml"
	}

	cfg, err := config.LoadServer(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	lg := logger.New(cfg.LogLevel)

	s, err := store.Open(cfg.Server.StorageDir)
	if err != nil {
		lg.Fatal().Err(err).Msg("store: open failed")
	}

	manager := chain.New(s)

	enqueueCh := make(chan *noiseconn.Conn, cfg.Server.Workers*4)
	pool := workerpool.New(cfg.Server.Workers, s, enqueueCh, lg)

	statsAgent := metrics.New(manager, cfg.Stats.FlushInterval.Duration, lg)

	enqueueWorker := enqueue.New(enqueueCh, manager, cfg.Enqueue.Timeout.Duration, lg)
	enqueueWorker.OnCommit(statsAgent.AddCommit)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go enqueueWorker.Run()
	if cfg.Stats.Enable {
		go statsAgent.Run(ctx)
	}
	if cfg.Heartbeat.Enable {
		go heartbeat.Run(ctx, pool, manager, cfg.Heartbeat.Interval.Duration, lg)
	}

	ln, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		lg.Fatal().Err(err).Str("listen", cfg.Server.Listen).Msg("tcp listen failed")
	}
	go acceptLoop(ln, pool, lg)

	mux := api.Router(cfg, manager, statsAgent.TotalCommits)
	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lg.Info().
		Str("listen", cfg.Server.Listen).
		Str("http", cfg.HTTP.Listen).
		Int("workers", cfg.Server.Workers).
		Msg("signetd listening")
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		lg.Fatal().Err(err).Msg("http sidecar failed")
	}
}

func acceptLoop(ln net.Listener, pool *workerpool.Pool, lg zerolog.Logger) {
	for {
		c, err := ln.Accept()
		if err != nil {
			lg.Error().Err(err).Msg("accept failed")
			continue
		}
		pool.Accept(c)
	}
}
