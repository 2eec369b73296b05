package store

import "signetd/internal/hash"

// User is a registered key holder. UserID = SHA256(Username).
type User struct {
	Username  []byte
	PubKeyDER []byte // ECDSA P-384, DER, <= maxKeyLen bytes
}

// ID returns the content address this user is stored under.
func (u User) ID() hash.H { return hash.Sum256(u.Username) }

// Signature is a single committed link in the chain. SigID is derived,
// never stored explicitly — it is the filename under sig/.
type Signature struct {
	Obj            hash.H
	User           hash.H
	PrevSig        hash.H
	SignatureBytes []byte // ECDSA DER; the store does not bound its length
}

// ID computes sig_id = SHA256(obj || user || prev_sig || signature_bytes).
// This is invariant I2/P2's content address.
func (s Signature) ID() hash.H {
	return hash.Sum256(s.Obj[:], s.User[:], s.PrevSig[:], s.SignatureBytes)
}

// Object is the ordered, append-only list of sig_ids committed against
// a single object hash (§4.1 get_obj).
type Object struct {
	SigIDs []hash.H
}
