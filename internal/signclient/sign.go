package signclient

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"io"
	"os"

	"signetd/internal/hash"
)

// Sign implements spec.md §4.5's client-side Sign algorithm: the file
// is hashed once (SHA-256, becoming the object id) while simultaneously
// being fed into the ECDSA signing digest (newSignDigest); only after
// the enqueue exchange reveals the chain tip does the tip get mixed
// into that same digest and the signature finalized. The tip — and
// therefore the position in the chain — is baked into the signature
// itself, which is the whole point of the protocol.
func Sign(c *Client, key *ecdsa.PrivateKey, username, path string) (hash.H, error) {
	f, err := os.Open(path)
	if err != nil {
		return hash.Zero, err
	}
	defer f.Close()

	objHasher := sha256.New()
	signDigest := newSignDigest()
	if _, err := io.Copy(io.MultiWriter(objHasher, signDigest), f); err != nil {
		return hash.Zero, err
	}
	objID, _ := hash.FromBytes(objHasher.Sum(nil))
	userID := hash.Sum256([]byte(username))

	var sigID hash.H
	err = c.enqueueSession(func(tip hash.H) Signature {
		signDigest.Write(tip[:])
		digest := signDigest.Sum(nil)
		sigBytes, signErr := ecdsa.SignASN1(rand.Reader, key, digest)
		if signErr != nil {
			// An empty signature_bytes is rejected by the server as a
			// corrupted message (spec.md §4.2 step 5); there is no
			// valid quadruple to send on a local signing failure.
			sigBytes = nil
		}
		sig := Signature{Obj: objID, User: userID, PrevSig: tip, SignatureBytes: sigBytes}
		sigID = hash.Sum256(sig.Obj[:], sig.User[:], sig.PrevSig[:], sig.SignatureBytes)
		return sig
	})
	if err != nil {
		return hash.Zero, err
	}
	return sigID, nil
}
