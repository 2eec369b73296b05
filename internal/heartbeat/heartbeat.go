// Package heartbeat is the liveness agent of SPEC_FULL.md §4.8: a
// periodic log line reporting worker-pool occupancy and whether the
// enqueue worker currently holds the store lock, so an operator
// tailing logs can see the server is alive and how busy it is without
// a full metrics scrape. Grounded on internal/presence/agent.go's
// ticker-only shape, given real occupancy data to report instead of a
// constant "ok".
package heartbeat

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"signetd/internal/workerpool"
)

// LockState reports whether the enqueue worker currently holds the
// store's exclusive lock, i.e. whether a commit is in flight.
type LockState interface {
	CommitInFlight() bool
}

// Run logs a heartbeat every interval until ctx is canceled.
func Run(ctx context.Context, pool *workerpool.Pool, lock LockState, interval time.Duration, log zerolog.Logger) {
	log = log.With().Str("component", "heartbeat").Logger()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			counts := pool.Snapshot()
			total := 0
			for _, c := range counts {
				total += c
			}
			log.Info().
				Ints("worker_conns", counts).
				Int("total_conns", total).
				Bool("commit_in_flight", lock.CommitInFlight()).
				Msg("heartbeat: ok")
		}
	}
}
