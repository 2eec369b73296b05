package store

import "errors"

// Error kinds mirror the original implementation's Error enum one for
// one (spec.md §7): NetworkError and CryptoError are not store-level
// concerns and have no sentinel here; network and crypto failures
// surface as the underlying Go errors from the packages that hit them.
var (
	// ErrHashCollision is returned when a write targets an already
	// occupied content-addressed slot (user, sig, or the (obj,sig)
	// pair). I3.
	ErrHashCollision = errors.New("store: hash collision")

	// ErrCorruptedStorage is returned when an on-disk record fails
	// structural validation (oversized key_len, truncated record).
	ErrCorruptedStorage = errors.New("store: corrupted storage")

	// ErrNotFound is not returned by any LocalStore method: the public
	// Get* methods report "not found" as a (nil, nil) result instead,
	// matching spec.md's Option<T> semantics.
	ErrNotFound = errors.New("store: not found")
)
