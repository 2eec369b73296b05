// Package workerpool implements the fixed-size I/O worker pool of
// spec.md §4.3: each worker owns a disjoint subset of live connections
// and multiplexes them via readiness polling, serving the three
// read-only opcodes directly and handing Enqueue connections off to a
// single serial worker (internal/enqueue).
//
// Grounded on original_source/server/src/threadpool.rs (the Rust
// Server/Thread/thread_loop triad this package's Pool/Worker mirror)
// and, for the Go-idiomatic edge-triggered readiness piece, on
// golang.org/x/sys/unix.Poll — used the same way several pack repos
// use golang.org/x/sys for low-level socket work.
package workerpool

import (
	"net"

	"github.com/rs/zerolog"

	"signetd/internal/noiseconn"
	"signetd/internal/store"
)

// Pool is the fixed-N accept-side dispatcher. It owns no connections
// itself; each accepted connection is immediately handed to exactly
// one Worker.
type Pool struct {
	workers    []*Worker
	nextAccept int
}

// New creates n workers against store s, each able to hand Enqueue
// connections off to enqueueCh (the single channel read by the serial
// enqueue worker).
func New(n int, s *store.LocalStore, enqueueCh chan<- *noiseconn.Conn, log zerolog.Logger) *Pool {
	p := &Pool{workers: make([]*Worker, n)}
	for i := 0; i < n; i++ {
		p.workers[i] = newWorker(i, s, enqueueCh, log)
		go p.workers[i].run()
	}
	return p
}

// Accept assigns a newly connected socket to the next worker in
// round-robin order (spec.md §4.3: "Round-robin without feedback").
func (p *Pool) Accept(c net.Conn) {
	nc, err := noiseconn.NewServer(c)
	if err != nil {
		c.Close()
		return
	}
	p.workers[p.nextAccept].acceptConn(nc)
	p.nextAccept++
	if p.nextAccept == len(p.workers) {
		p.nextAccept = 0
	}
}

// Stop signals every worker to exit its poll loop.
func (p *Pool) Stop() {
	for _, w := range p.workers {
		w.stop()
	}
}

// Snapshot reports live-connection counts per worker, for the
// heartbeat agent (internal/heartbeat).
func (p *Pool) Snapshot() []int {
	counts := make([]int, len(p.workers))
	for i, w := range p.workers {
		counts[i] = w.connCount()
	}
	return counts
}
