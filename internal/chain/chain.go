// Package chain is the thin layer over store.LocalStore that enforces
// the tip invariant (spec.md §4.2): prev_sig always names the most
// recently committed signature, and every committed signature links
// to the value prev_sig held immediately before its commit.
package chain

import (
	"sync/atomic"

	"signetd/internal/hash"
	"signetd/internal/store"
)

// Manager serializes chain-extending transactions against a store.
// Only the serial enqueue worker (internal/enqueue) should hold a
// Manager; read-only opcodes go straight to the store.
type Manager struct {
	store    *store.LocalStore
	inFlight atomic.Bool
}

func New(s *store.LocalStore) *Manager { return &Manager{store: s} }

// CommitInFlight reports whether a Commit call is currently inside its
// build callback, i.e. waiting on the client's network round-trip
// while holding the store lock. Used by internal/heartbeat to report
// server occupancy.
func (m *Manager) CommitInFlight() bool { return m.inFlight.Load() }

// Tip reads the current chain tip. It takes the store's read lock for
// the instant of the read; callers that need the tip to remain valid
// across a subsequent network round-trip must use Commit instead,
// which holds the lock across the whole exchange.
func (m *Manager) Tip() (hash.H, bool, error) {
	return m.store.GetPrev()
}

// Commit runs the chain-extending transaction described in spec.md
// §4.2 under exclusive access to the store: it reads the tip, invokes
// build with that tip to obtain the signature to commit (this is where
// the caller performs the network round-trip with the client — the
// client signs over exactly the tip value Commit just handed it), and
// then appends the result. The store lock is held for the entire
// duration, which is what makes this the single enforcement point for
// I1 (tip-link) and I4 (linearity): at most one signer is ever
// in-flight, and it always observes the tip that becomes its own
// prev_sig.
//
// If build returns ok=false (the client timed out or sent nothing
// usable), Commit aborts without touching the store — spec.md §4.2
// step 4's "abandons the transaction silently".
func (m *Manager) Commit(build func(tip hash.H) (sig store.Signature, ok bool, err error)) (hash.H, error) {
	m.store.Lock()
	defer m.store.Unlock()

	tip, _, err := m.store.GetPrevLocked()
	if err != nil {
		return hash.Zero, err
	}

	m.inFlight.Store(true)
	sig, ok, err := build(tip)
	m.inFlight.Store(false)
	if err != nil {
		return hash.Zero, err
	}
	if !ok {
		return hash.Zero, nil
	}

	return m.store.AddSigLocked(sig)
}
