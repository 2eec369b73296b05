package chain

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"signetd/internal/hash"
	"signetd/internal/store"
)

func openTestStore(t *testing.T) *store.LocalStore {
	t.Helper()
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestCommitFirstSignatureHasZeroPrev(t *testing.T) {
	s := openTestStore(t)
	m := New(s)

	var observedTip hash.H
	var tipPresent bool
	sigID, err := m.Commit(func(tip hash.H) (store.Signature, bool, error) {
		observedTip = tip
		tipPresent = !tip.IsZero()
		sig := store.Signature{
			Obj:            hash.Sum256([]byte("file")),
			User:           hash.Sum256([]byte("alice")),
			PrevSig:        tip,
			SignatureBytes: []byte{0x01},
		}
		return sig, true, nil
	})
	require.NoError(t, err)
	require.False(t, tipPresent)
	require.True(t, observedTip.IsZero())

	tip, present, err := m.Tip()
	require.NoError(t, err)
	require.True(t, present)
	require.Equal(t, sigID, tip)
}

// I1/P6: each successive commit observes the tip that was just
// written by the previous one.
func TestCommitChainsSequentially(t *testing.T) {
	s := openTestStore(t)
	m := New(s)

	var prevSigID hash.H
	for i := 0; i < 5; i++ {
		expectTip := prevSigID
		sigID, err := m.Commit(func(tip hash.H) (store.Signature, bool, error) {
			require.Equal(t, expectTip, tip)
			sig := store.Signature{
				Obj:            hash.Sum256([]byte("file")),
				User:           hash.Sum256([]byte("user")),
				PrevSig:        tip,
				SignatureBytes: []byte{byte(i)},
			}
			return sig, true, nil
		})
		require.NoError(t, err)
		prevSigID = sigID
	}

	tip, present, err := m.Tip()
	require.NoError(t, err)
	require.True(t, present)
	require.Equal(t, prevSigID, tip)
}

// P7: a build callback that reports !ok leaves the store untouched and
// the manager ready for the next commit.
func TestCommitAbortLeavesNoTrace(t *testing.T) {
	s := openTestStore(t)
	m := New(s)

	_, present, err := m.Tip()
	require.NoError(t, err)
	require.False(t, present)

	sigID, err := m.Commit(func(tip hash.H) (store.Signature, bool, error) {
		return store.Signature{}, false, nil
	})
	require.NoError(t, err)
	require.Equal(t, hash.Zero, sigID)

	_, present, err = m.Tip()
	require.NoError(t, err)
	require.False(t, present)

	// The manager must still be usable afterward.
	sigID, err = m.Commit(func(tip hash.H) (store.Signature, bool, error) {
		return store.Signature{Obj: hash.Sum256([]byte("f")), User: hash.Sum256([]byte("u")), PrevSig: tip, SignatureBytes: []byte{0x1}}, true, nil
	})
	require.NoError(t, err)
	require.NotEqual(t, hash.Zero, sigID)
}

// P6: concurrent commits still serialize — no two commits share a
// prev_sig, and the final chain length matches the number of commits.
func TestCommitSerializesConcurrentCallers(t *testing.T) {
	s := openTestStore(t)
	m := New(s)

	const n = 20
	var wg sync.WaitGroup
	prevs := make([]hash.H, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sigID, err := m.Commit(func(tip hash.H) (store.Signature, bool, error) {
				sig := store.Signature{
					Obj:            hash.Sum256([]byte("file")),
					User:           hash.Sum256([]byte("user")),
					PrevSig:        tip,
					SignatureBytes: hash.Sum256([]byte{byte(i)})[:4],
				}
				return sig, true, nil
			})
			require.NoError(t, err)
			prevs[i] = sigID
		}(i)
	}
	wg.Wait()

	tip, present := mustTip(t, m)
	sigIDs, err := WalkChain(s, tip, present)
	require.NoError(t, err)
	require.Len(t, sigIDs, n)

	seen := make(map[hash.H]bool, n)
	for _, id := range sigIDs {
		require.False(t, seen[id], "every commit must be distinct")
		seen[id] = true
	}
}

func mustTip(t *testing.T, m *Manager) (hash.H, bool) {
	t.Helper()
	tip, present, err := m.Tip()
	require.NoError(t, err)
	return tip, present
}
