package signclient

import (
	"crypto/sha512"
	"hash"
	"io"

	signhash "signetd/internal/hash"
)

// newSignDigest returns the streaming hash the ECDSA signer consumes.
// spec.md §4.5/§9 call this "a signer configured without message
// digest... receives raw bytes to hash internally with its own
// policy" — SHA-384 is that policy here, matched to the P-384 curve.
// This single constructor is the "shared helper used by both sides"
// Design Notes calls for: Sign and Verify must feed identical byte
// streams in identical order, or every existing signature silently
// stops verifying.
func newSignDigest() hash.Hash { return sha512.New384() }

// feedFileThenTip writes file's full contents into d, then the 32
// bytes of tip — even when tip is the all-zero sentinel for the
// chain-initial signature (spec.md §9's resolved Open Question: verify
// always appends prev_sig, never skips it).
func feedFileThenTip(d hash.Hash, file io.Reader, tip signhash.H) error {
	if _, err := io.Copy(d, file); err != nil {
		return err
	}
	_, err := d.Write(tip[:])
	return err
}
