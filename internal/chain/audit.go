package chain

import (
	"errors"
	"fmt"

	"signetd/internal/hash"
	"signetd/internal/store"
)

// anchorDomainTag separates this digest from any other use of SHA-256
// over similar-shaped byte strings elsewhere in the system, the same
// discipline the teacher's receipt signer used for its domain tag.
const anchorDomainTag = "signetd:chain-anchor:v1"

// ErrBrokenChain is returned by WalkChain when a prev_sig link points
// at a signature that does not exist on disk.
var ErrBrokenChain = errors.New("chain: broken link")

// WalkChain follows prev_sig links from the tip back to the all-zero
// sentinel, returning sig_ids oldest-first. It is the verification
// procedure for P1 (chain linearity) and the recovery tool spec.md §9
// describes for the crash window in which a signature is committed
// but prev_sig has not yet been overwritten: pass the suspected-stale
// tip explicitly instead of reading it from the store.
func WalkChain(s *store.LocalStore, tip hash.H, tipPresent bool) ([]hash.H, error) {
	if !tipPresent {
		return nil, nil
	}

	var reversed []hash.H
	cur := tip
	for {
		sig, err := s.GetSig(cur)
		if err != nil {
			return nil, err
		}
		if sig == nil {
			return nil, fmt.Errorf("%w: missing sig %s", ErrBrokenChain, cur.Hex())
		}
		reversed = append(reversed, cur)
		if sig.PrevSig.IsZero() {
			break
		}
		cur = sig.PrevSig
	}

	out := make([]hash.H, len(reversed))
	for i, id := range reversed {
		out[len(reversed)-1-i] = id
	}
	return out, nil
}

// RecoverTip scans the given candidate sig_ids to find the first
// candidate that no other candidate signature's prev_sig
// names as its predecessor — i.e. the true tip — when the prev_sig
// singleton is suspected to lag a committed signature by the crash
// window spec.md §4.1 documents. It is O(n) over the candidate set
// passed in, not a full sig/ directory scan: callers typically seed
// candidates from the obj/ index of the object just signed.
func RecoverTip(s *store.LocalStore, candidates []hash.H) (hash.H, bool, error) {
	pointedTo := make(map[hash.H]bool, len(candidates))
	for _, id := range candidates {
		sig, err := s.GetSig(id)
		if err != nil {
			return hash.Zero, false, err
		}
		if sig == nil {
			continue
		}
		if !sig.PrevSig.IsZero() {
			pointedTo[sig.PrevSig] = true
		}
	}
	for _, id := range candidates {
		if !pointedTo[id] {
			return id, true, nil
		}
	}
	return hash.Zero, false, nil
}

// Anchor computes a domain-separated Merkle root over an ordered chain
// segment, for compact external attestation of "the chain was in this
// state at this point" (supplements spec.md; not exposed over the wire
// protocol — Non-goal: no replication).
func Anchor(sigIDs []hash.H) hash.H {
	if len(sigIDs) == 0 {
		return hash.Zero
	}
	leaves := make([]hash.H, len(sigIDs))
	for i, id := range sigIDs {
		leaves[i] = hash.Sum256([]byte(anchorDomainTag), []byte("leaf"), id[:])
	}
	return merkleize(leaves)
}

func merkleize(nodes []hash.H) hash.H {
	if len(nodes) == 1 {
		return nodes[0]
	}
	if len(nodes)%2 == 1 {
		nodes = append(nodes, nodes[len(nodes)-1])
	}
	next := make([]hash.H, 0, len(nodes)/2)
	for i := 0; i < len(nodes); i += 2 {
		next = append(next, hash.Sum256([]byte(anchorDomainTag), nodes[i][:], nodes[i+1][:]))
	}
	return merkleize(next)
}
