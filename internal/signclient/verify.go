package signclient

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"io"
	"os"

	"signetd/internal/hash"
)

// ErrNotSigned is returned by Verify when the file has no committed
// signatures at all.
var ErrNotSigned = errors.New("signclient: file has no signatures")

// Result is one signature's verification outcome, as spec.md §4.5's
// Verify algorithm produces per sig_id found under the object.
type Result struct {
	SigID  hash.H
	UserID hash.H
	Valid  bool
}

// Verify implements spec.md §4.5/§8 scenario 5: hash path, GetObj to
// find every sig_id committed against it, and for each one fetch the
// signature and its signer's public key, replay the file bytes then
// prev_sig into the same digest Sign used, and check the signature.
func Verify(c *Client, path string) ([]Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	objHasher := sha256.New()
	_, err = io.Copy(objHasher, f)
	f.Close()
	if err != nil {
		return nil, err
	}
	objID, _ := hash.FromBytes(objHasher.Sum(nil))

	sigIDs, err := c.GetObj(objID)
	if err != nil {
		return nil, err
	}
	if len(sigIDs) == 0 {
		return nil, ErrNotSigned
	}

	results := make([]Result, 0, len(sigIDs))
	for _, sigID := range sigIDs {
		sig, err := c.GetSig(sigID)
		if err != nil {
			return nil, err
		}
		if sig == nil {
			results = append(results, Result{SigID: sigID, Valid: false})
			continue
		}

		valid := false
		user, err := c.GetUser(sig.User)
		if err == nil && user != nil {
			if pub, perr := x509.ParsePKIXPublicKey(user.PubKeyDER); perr == nil {
				if ecdsaPub, ok := pub.(*ecdsa.PublicKey); ok {
					digest, derr := signDigestFor(path, sig.PrevSig)
					if derr == nil {
						valid = ecdsa.VerifyASN1(ecdsaPub, digest, sig.SignatureBytes)
					}
				}
			}
		}
		results = append(results, Result{SigID: sigID, UserID: sig.User, Valid: valid})
	}
	return results, nil
}

// signDigestFor reopens path and feeds it through the shared sign
// digest along with tip, reproducing exactly what Sign fed the signer
// at commit time (spec.md §9's resolved Open Question: prev_sig is
// always appended, even when it is the all-zero sentinel).
func signDigestFor(path string, tip hash.H) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	d := newSignDigest()
	if err := feedFileThenTip(d, f, tip); err != nil {
		return nil, err
	}
	return d.Sum(nil), nil
}
