// Package store implements LocalStore: the content-addressed,
// append-only on-disk layout described in spec.md §4.1. It owns four
// namespaces under its root — user/, sig/, obj/, and a singleton
// prev_sig file — and is the only component that ever opens paths
// under that root (spec.md §3, "Ownership").
//
// Grounded on server/src/localstorage.rs from the original
// implementation (original_source/server/src/localstorage.rs), with
// the obj/ index and sig_id content-addressing spec.md adds on top of
// that earlier two-namespace layout.
package store

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"signetd/internal/hash"
)

const maxKeyLen = 4096

// LocalStore is the single shared, lock-guarded handle to the
// filesystem root. Workers and the serial enqueue worker hold only a
// clone of this handle (it is safe for concurrent use); they never
// open paths under root directly (spec.md §3).
type LocalStore struct {
	mu   sync.RWMutex
	root string
}

// Open creates the namespace directories if absent and returns a
// ready-to-use store rooted at path.
func Open(path string) (*LocalStore, error) {
	root, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	for _, ns := range []string{"user", "sig", "obj"} {
		if err := os.MkdirAll(filepath.Join(root, ns), 0o755); err != nil {
			return nil, fmt.Errorf("store: mkdir %s: %w", ns, err)
		}
	}
	return &LocalStore{root: root}, nil
}

// Lock and Unlock expose the store's single mutual-exclusion lock to
// the chain manager, which must hold it across the whole two-phase
// enqueue exchange (spec.md §4.2, §4.4) rather than per-call.
func (s *LocalStore) Lock()   { s.mu.Lock() }
func (s *LocalStore) Unlock() { s.mu.Unlock() }

func (s *LocalStore) path(ns string, h hash.H) string {
	return filepath.Join(s.root, ns, h.Hex())
}

// SetUser writes a user record keyed by SHA256(username). Returns
// ErrHashCollision if the slot is already occupied (I3).
func (s *LocalStore) SetUser(u User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setUserLocked(u)
}

func (s *LocalStore) setUserLocked(u User) error {
	p := s.path("user", u.ID())
	if _, err := os.Stat(p); err == nil {
		return ErrHashCollision
	}
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return ErrHashCollision
		}
		return err
	}
	defer f.Close()

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(u.PubKeyDER)))
	if _, err := f.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := f.Write(u.PubKeyDER); err != nil {
		return err
	}
	if _, err := f.Write(u.Username); err != nil {
		return err
	}
	return nil
}

// GetUser reads and parses a user record. A nil, nil result means
// "not found" (spec.md's Option<User>).
func (s *LocalStore) GetUser(h hash.H) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, err := os.Open(s.path("user", h))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var lenBuf [4]byte
	if _, err := io.ReadFull(f, lenBuf[:]); err != nil {
		return nil, ErrCorruptedStorage
	}
	keyLen := binary.LittleEndian.Uint32(lenBuf[:])
	if keyLen > maxKeyLen {
		return nil, ErrCorruptedStorage
	}
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(f, key); err != nil {
		return nil, ErrCorruptedStorage
	}
	username, err := io.ReadAll(f)
	if err != nil {
		return nil, ErrCorruptedStorage
	}
	return &User{Username: username, PubKeyDER: key}, nil
}

// AddSig computes sig_id, writes sig/<hex>, appends to obj/<hex(obj)>,
// and overwrites the prev_sig singleton, in that order (spec.md §4.1's
// documented crash-safe ordering). It takes the store lock itself; use
// AddSigLocked from within a transaction that already holds it (the
// enqueue exchange in internal/chain).
func (s *LocalStore) AddSig(sig Signature) (hash.H, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.AddSigLocked(sig)
}

// AddSigLocked is AddSig without locking; the caller must hold the
// store lock (spec.md §4.4: the serial enqueue worker holds it across
// the entire transaction, not just this write).
func (s *LocalStore) AddSigLocked(sig Signature) (hash.H, error) {
	sigID := sig.ID()
	p := s.path("sig", sigID)
	if _, err := os.Stat(p); err == nil {
		return hash.Zero, ErrHashCollision
	}

	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return hash.Zero, ErrHashCollision
		}
		return hash.Zero, err
	}
	if _, err := f.Write(sig.Obj[:]); err == nil {
		if _, err = f.Write(sig.User[:]); err == nil {
			if _, err = f.Write(sig.PrevSig[:]); err == nil {
				_, err = f.Write(sig.SignatureBytes)
			}
		}
	}
	closeErr := f.Close()
	if err != nil {
		return hash.Zero, err
	}
	if closeErr != nil {
		return hash.Zero, closeErr
	}

	if err := s.appendObjLocked(sig.Obj, sigID); err != nil {
		return hash.Zero, err
	}
	if err := s.setPrevLocked(sigID); err != nil {
		return hash.Zero, err
	}
	return sigID, nil
}

func (s *LocalStore) appendObjLocked(obj, sigID hash.H) error {
	p := s.path("obj", obj)
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(sigID[:])
	return err
}

// GetSig reads a signature record by sig_id.
func (s *LocalStore) GetSig(h hash.H) (*Signature, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getSigLocked(h)
}

func (s *LocalStore) getSigLocked(h hash.H) (*Signature, error) {
	f, err := os.Open(s.path("sig", h))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var obj, user, prev [32]byte
	if _, err := io.ReadFull(f, obj[:]); err != nil {
		return nil, ErrCorruptedStorage
	}
	if _, err := io.ReadFull(f, user[:]); err != nil {
		return nil, ErrCorruptedStorage
	}
	if _, err := io.ReadFull(f, prev[:]); err != nil {
		return nil, ErrCorruptedStorage
	}
	sigBytes, err := io.ReadAll(f)
	if err != nil {
		return nil, ErrCorruptedStorage
	}
	return &Signature{
		Obj:            hash.H(obj),
		User:           hash.H(user),
		PrevSig:        hash.H(prev),
		SignatureBytes: sigBytes,
	}, nil
}

// GetObj streams the 32-byte sig_id entries appended under obj. A
// truncated final entry is ErrCorruptedStorage (spec.md §4.1).
func (s *LocalStore) GetObj(h hash.H) (*Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, err := os.Open(s.path("obj", h))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var ids []hash.H
	for {
		var entry [32]byte
		n, err := io.ReadFull(f, entry[:])
		if err == io.EOF {
			break
		}
		if err != nil {
			if n > 0 {
				return nil, ErrCorruptedStorage
			}
			return nil, err
		}
		ids = append(ids, hash.H(entry))
	}
	return &Object{SigIDs: ids}, nil
}

// GetPrev returns the chain tip, or (zero, false) if the chain is
// empty (spec.md §3 Chain tip).
func (s *LocalStore) GetPrev() (hash.H, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.GetPrevLocked()
}

// GetPrevLocked is GetPrev without locking; callers that already hold
// the store lock (the enqueue transaction) must use this instead.
func (s *LocalStore) GetPrevLocked() (hash.H, bool, error) {
	f, err := os.Open(filepath.Join(s.root, "prev_sig"))
	if err != nil {
		if os.IsNotExist(err) {
			return hash.Zero, false, nil
		}
		return hash.Zero, false, err
	}
	defer f.Close()
	var h [32]byte
	if _, err := io.ReadFull(f, h[:]); err != nil {
		return hash.Zero, false, ErrCorruptedStorage
	}
	return hash.H(h), true, nil
}

func (s *LocalStore) setPrevLocked(h hash.H) error {
	p := filepath.Join(s.root, "prev_sig")
	f, err := os.Create(p)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(h[:])
	return err
}

// SetPrev overwrites the tip singleton directly. Exposed for recovery
// tooling (internal/chain.WalkChain-driven repair); not used by the
// normal commit path, which calls setPrevLocked as part of AddSigLocked.
func (s *LocalStore) SetPrev(h hash.H) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setPrevLocked(h)
}
