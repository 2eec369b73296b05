//go:build linux || darwin

package workerpool

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"signetd/internal/noiseconn"
	"signetd/internal/store"
)

const pollTimeoutMillis = 50

type ctrlKind int

const (
	ctrlAccept ctrlKind = iota
	ctrlStop
)

type ctrlMsg struct {
	kind ctrlKind
	conn *noiseconn.Conn
}

// Worker owns a disjoint subset of live connections and multiplexes
// them with a single poll(2)-style readiness check per iteration
// (spec.md §4.3).
type Worker struct {
	id        int
	ctrl      chan ctrlMsg
	store     *store.LocalStore
	enqueueCh chan<- *noiseconn.Conn
	log       zerolog.Logger

	conns   []*noiseconn.Conn
	pollfds []unix.PollFd

	live int64 // atomic; connCount() reads this from other goroutines
}

func newWorker(id int, s *store.LocalStore, enqueueCh chan<- *noiseconn.Conn, log zerolog.Logger) *Worker {
	return &Worker{
		id:        id,
		ctrl:      make(chan ctrlMsg, 64),
		store:     s,
		enqueueCh: enqueueCh,
		log:       log.With().Int("worker", id).Logger(),
	}
}

func (w *Worker) acceptConn(c *noiseconn.Conn) { w.ctrl <- ctrlMsg{kind: ctrlAccept, conn: c} }
func (w *Worker) stop()                        { w.ctrl <- ctrlMsg{kind: ctrlStop} }
func (w *Worker) connCount() int               { return int(atomic.LoadInt64(&w.live)) }

func (w *Worker) rebuildFds() {
	w.pollfds = w.pollfds[:0]
	for _, c := range w.conns {
		w.pollfds = append(w.pollfds, unix.PollFd{Fd: int32(c.Fd()), Events: unix.POLLIN})
	}
	atomic.StoreInt64(&w.live, int64(len(w.conns)))
}

func (w *Worker) removeAt(i int) {
	w.conns[i].Close()
	w.conns = append(w.conns[:i], w.conns[i+1:]...)
	w.rebuildFds()
}

// run is the main loop: non-blocking drain of the control channel,
// then a bounded poll, then one read/dispatch/respond cycle per ready
// connection (spec.md §4.3 steps 1-4).
func (w *Worker) run() {
	for {
		draining := true
		for draining {
			select {
			case m := <-w.ctrl:
				switch m.kind {
				case ctrlStop:
					for _, c := range w.conns {
						c.Close()
					}
					return
				case ctrlAccept:
					w.conns = append(w.conns, m.conn)
					w.rebuildFds()
				}
			default:
				draining = false
			}
		}

		if len(w.conns) == 0 {
			select {
			case m := <-w.ctrl:
				if m.kind == ctrlStop {
					return
				}
				w.conns = append(w.conns, m.conn)
				w.rebuildFds()
			case <-time.After(pollTimeoutMillis * time.Millisecond):
			}
			continue
		}

		n, err := unix.Poll(w.pollfds, pollTimeoutMillis)
		if err != nil || n <= 0 {
			continue
		}

		for i := 0; i < len(w.pollfds); i++ {
			if w.pollfds[i].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) == 0 {
				continue
			}
			if w.handleReady(i) {
				// connection list mutated; fd indices are stale, stop
				// this poll batch and re-poll next iteration.
				break
			}
		}
	}
}

// handleReady services one ready connection. It returns true if the
// connection list was mutated (removed, or handed off), invalidating
// further iteration over the current pollfds slice.
func (w *Worker) handleReady(i int) bool {
	c := w.conns[i]

	if !c.Ready() {
		if err := c.GetReady(); err != nil && err != noiseconn.ErrNotReady {
			w.removeAt(i)
			return true
		}
		return false
	}

	payload, err := c.Read()
	if err != nil {
		w.removeAt(i)
		return true
	}
	if payload == nil {
		return false // no complete frame yet
	}

	action, resp := dispatch(payload, w.store)
	switch action {
	case actionRespond:
		if err := c.WriteBlocking(resp); err != nil {
			w.removeAt(i)
			return true
		}
		return false
	case actionEnqueue:
		w.conns = append(w.conns[:i], w.conns[i+1:]...)
		w.rebuildFds()
		w.enqueueCh <- c
		return true
	case actionDisconnect:
		w.removeAt(i)
		return true
	default: // actionNone
		return false
	}
}
