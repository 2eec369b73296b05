//go:build linux || darwin

// Package enqueue is the singleton serial worker of spec.md §4.4: it
// receives connections handed off by the worker pool's Enqueue opcode
// and conducts the two-phase chain-extending exchange end-to-end under
// exclusive access to the store, via internal/chain.Manager.Commit.
package enqueue

import (
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"signetd/internal/chain"
	"signetd/internal/hash"
	"signetd/internal/noiseconn"
	"signetd/internal/store"
	"signetd/internal/wire"
)

// Worker is the single thread that owns the chain-extension critical
// section (spec.md §4.4). It is not safe for more than one goroutine
// to call Run concurrently — there is exactly one of these per server,
// by construction (internal/workerpool only ever hands connections to
// the one channel this Worker reads).
type Worker struct {
	in       <-chan *noiseconn.Conn
	manager  *chain.Manager
	timeout  time.Duration
	log      zerolog.Logger
	onCommit func(userID, sigID hash.H)
}

func New(in <-chan *noiseconn.Conn, manager *chain.Manager, timeout time.Duration, log zerolog.Logger) *Worker {
	return &Worker{in: in, manager: manager, timeout: timeout, log: log.With().Str("component", "enqueue").Logger()}
}

// OnCommit registers a callback invoked after every successful commit,
// with the signing user and the new signature's id. Used to feed
// internal/metrics's stats agent without enqueue depending on it.
func (w *Worker) OnCommit(f func(userID, sigID hash.H)) { w.onCommit = f }

// Run processes handed-off connections one at a time, forever.
func (w *Worker) Run() {
	for c := range w.in {
		w.handle(c)
		c.Close()
	}
}

// handle implements the state machine of spec.md §4.2/§4.4:
// AwaitingTip -> send tip -> AwaitingSig -> read (<=timeout) -> Commit
// -> Reply -> Done, with a timeout/error path straight to Done
// (silent, no reply, no mutation).
func (w *Worker) handle(c *noiseconn.Conn) {
	var committed store.Signature
	sigID, err := w.manager.Commit(func(tip hash.H) (store.Signature, bool, error) {
		tipMsg := wire.New()
		if tipPresent := !tip.IsZero(); tipPresent {
			tipMsg.WriteI8(wire.StatusFound)
			tipMsg.WriteBuffer(tip[:])
		} else {
			tipMsg.WriteI8(wire.StatusOK)
		}
		if err := c.WriteBlocking(tipMsg.Bytes()); err != nil {
			return store.Signature{}, false, nil
		}

		payload, ok := w.readWithTimeout(c)
		if !ok {
			return store.Signature{}, false, nil
		}

		sig, err := parseSignPayload(payload)
		if err != nil {
			return store.Signature{}, false, nil
		}
		committed = sig
		return sig, true, nil
	})

	if sigID == hash.Zero && err == nil {
		// Timed out, malformed follow-up, or write failure: spec.md
		// §4.2 step 4, "abandons the transaction silently."
		return
	}

	resp := wire.New()
	if err != nil {
		resp.WriteI8(wire.StatusErr)
	} else {
		resp.WriteI8(wire.StatusOK)
		if w.onCommit != nil {
			w.onCommit(committed.User, sigID)
		}
	}
	_ = c.WriteBlocking(resp.Bytes())
}

// readWithTimeout polls the connection's fd until a full message
// arrives or the deadline passes (spec.md §4.2 step 3: "waits up to
// 1000 ms").
func (w *Worker) readWithTimeout(c *noiseconn.Conn) ([]byte, bool) {
	deadline := time.Now().Add(w.timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, false
		}
		ms := int(remaining / time.Millisecond)
		if ms > 50 {
			ms = 50
		}
		pfd := []unix.PollFd{{Fd: int32(c.Fd()), Events: unix.POLLIN}}
		n, err := unix.Poll(pfd, ms)
		if err != nil {
			return nil, false
		}
		if n <= 0 {
			continue
		}
		payload, err := c.Read()
		if err != nil {
			return nil, false
		}
		if payload != nil {
			return payload, true
		}
	}
}

// parseSignPayload validates the client's follow-up message: four
// fields, the first three exactly 32 bytes and the fourth non-empty
// (spec.md §4.2 step 5).
func parseSignPayload(payload []byte) (store.Signature, error) {
	m := wire.FromBytes(payload)
	objB, err := m.ReadFixed(32)
	if err != nil {
		return store.Signature{}, err
	}
	userB, err := m.ReadFixed(32)
	if err != nil {
		return store.Signature{}, err
	}
	prevB, err := m.ReadFixed(32)
	if err != nil {
		return store.Signature{}, err
	}
	sigBytes, err := m.ReadBuffer()
	if err != nil || len(sigBytes) == 0 {
		return store.Signature{}, wire.ErrCorruptedMessage
	}

	obj, _ := hash.FromBytes(objB)
	user, _ := hash.FromBytes(userB)
	prev, _ := hash.FromBytes(prevB)
	return store.Signature{
		Obj:            obj,
		User:           user,
		PrevSig:        prev,
		SignatureBytes: append([]byte(nil), sigBytes...),
	}, nil
}
