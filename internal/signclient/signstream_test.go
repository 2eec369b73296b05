package signclient

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"signetd/internal/hash"
)

func writeTempFile(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.bin")
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

// The shared digest helper is the load-bearing invariant spec.md §9
// calls out: Sign and Verify must feed the identical byte stream
// (file contents, then prev_sig) into the same signing digest, in the
// same order, or existing signatures silently stop verifying.
func TestSignDigestMatchesBetweenSignAndVerifyPaths(t *testing.T) {
	path := writeTempFile(t, []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9})
	tip := hash.Sum256([]byte("some-tip"))

	d1, err := signDigestFor(path, tip)
	require.NoError(t, err)

	// Sign's path: the file bytes go into newSignDigest first, and the
	// tip is written once the enqueue exchange has revealed it.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	signSide := newSignDigest()
	signSide.Write(raw)
	signSide.Write(tip[:])
	d2 := signSide.Sum(nil)
	require.Equal(t, d1, d2)

	// A different tip must change the digest.
	otherTip := hash.Sum256([]byte("other-tip"))
	d3, err := signDigestFor(path, otherTip)
	require.NoError(t, err)
	require.NotEqual(t, d1, d3)
}

// spec.md §9's resolved Open Question: the all-zero prev_sig for the
// chain-initial signature is fed explicitly, never skipped, so a
// chain-initial signature's digest differs from one over the file
// alone.
func TestSignDigestAlwaysAppendsPrevSigEvenWhenZero(t *testing.T) {
	path := writeTempFile(t, []byte("hello"))

	withZeroTip, err := signDigestFor(path, hash.Zero)
	require.NoError(t, err)

	// Reproduce "file only, no prev_sig byte at all" by hand and
	// confirm it differs from the resolved behavior.
	d := newSignDigest()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	d.Write(raw)
	fileOnlyDigest := d.Sum(nil)

	require.NotEqual(t, fileOnlyDigest, withZeroTip, "prev_sig=0 must still be appended, not skipped")
}

// End-to-end sign/verify over the digest helper and stdlib ECDSA,
// without a live server connection: reproduces spec.md §8 scenario 5's
// cryptographic check in isolation.
func TestSignAndVerifyWithECDSAP384(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)

	path := writeTempFile(t, []byte("the file contents"))
	tip := hash.Sum256([]byte("chain-tip"))

	digest, err := signDigestFor(path, tip)
	require.NoError(t, err)

	sigBytes, err := ecdsa.SignASN1(rand.Reader, priv, digest)
	require.NoError(t, err)

	verifyDigest, err := signDigestFor(path, tip)
	require.NoError(t, err)
	require.True(t, ecdsa.VerifyASN1(&priv.PublicKey, verifyDigest, sigBytes))

	// Tampering with the file must invalidate the signature.
	require.NoError(t, os.WriteFile(path, []byte("tampered contents!"), 0o644))
	tamperedDigest, err := signDigestFor(path, tip)
	require.NoError(t, err)
	require.False(t, ecdsa.VerifyASN1(&priv.PublicKey, tamperedDigest, sigBytes))
}
