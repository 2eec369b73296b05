// Package metrics is the server-side stats agent of SPEC_FULL.md §4.7:
// a ticker-driven flush loop that aggregates committed-signature counts
// per user and periodically logs the chain tip and a Merkle anchor over
// the (at most 256) most recent signatures committed since the agent
// started. Counts and recent ids are cumulative; a flush does not reset
// them. Grounded on
// internal/service/agent.go's shape (per-key map, mutex, ticker flush,
// deterministic-order aggregate at flush time), replacing its QoS
// receipt model with signetd's commit events.
package metrics

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"signetd/internal/chain"
	"signetd/internal/hash"
)

var (
	commitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signetd_commits_total",
		Help: "Signatures committed to the chain, by user id.",
	}, []string{"user"})

	chainLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "signetd_chain_length",
		Help: "Number of signatures committed since the agent started.",
	})
)

// Agent aggregates per-user commit counts since it was created.
type Agent struct {
	log     zerolog.Logger
	manager *chain.Manager

	mu            sync.Mutex
	perUser       map[hash.H]int64
	recentSigIDs  []hash.H
	flushInterval time.Duration
	totalCommits  int64
}

// New creates a stats Agent over manager with the given flush interval.
func New(manager *chain.Manager, flushInterval time.Duration, log zerolog.Logger) *Agent {
	return &Agent{
		log:           log.With().Str("component", "metrics").Logger(),
		manager:       manager,
		perUser:       make(map[hash.H]int64),
		flushInterval: flushInterval,
	}
}

// AddCommit records one successful commit; call it from the enqueue
// worker right after chain.Manager.Commit succeeds.
func (a *Agent) AddCommit(userID, sigID hash.H) {
	commitsTotal.WithLabelValues(userID.Hex()).Inc()

	a.mu.Lock()
	defer a.mu.Unlock()
	a.perUser[userID]++
	a.totalCommits++
	a.recentSigIDs = append(a.recentSigIDs, sigID)
	if len(a.recentSigIDs) > 256 {
		a.recentSigIDs = a.recentSigIDs[len(a.recentSigIDs)-256:]
	}
	chainLength.Set(float64(a.totalCommits))
}

// TotalCommits returns the number of commits recorded since the agent
// was created, for internal/api's /debug/tip handler.
func (a *Agent) TotalCommits() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totalCommits
}

// Run flushes periodically until ctx is canceled.
func (a *Agent) Run(ctx context.Context) {
	t := time.NewTicker(a.flushInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.flush()
		}
	}
}

func (a *Agent) flush() {
	a.mu.Lock()
	if len(a.perUser) == 0 {
		a.mu.Unlock()
		return
	}
	users := make([]hash.H, 0, len(a.perUser))
	for u := range a.perUser {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Hex() < users[j].Hex() })
	recent := append([]hash.H(nil), a.recentSigIDs...)
	a.mu.Unlock()

	for _, u := range users {
		a.mu.Lock()
		count := a.perUser[u]
		a.mu.Unlock()
		a.log.Info().Str("user", u.Hex()).Int64("commits", count).Msg("metrics: user window")
	}

	tip, present, err := a.manager.Tip()
	if err != nil {
		a.log.Warn().Err(err).Msg("metrics: read tip failed")
		return
	}
	anchor := chain.Anchor(recent)
	a.log.Info().
		Bool("tip_present", present).
		Str("tip", tip.Hex()).
		Str("anchor", anchor.Hex()).
		Int("recent_sigs", len(recent)).
		Msg("metrics: chain window")
}
