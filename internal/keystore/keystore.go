// Package keystore holds the client-local signing identity: a P-384
// ECDSA keypair and the username it was registered under. Grounded on
// internal/wallet/keystore.go's shape (mutex-guarded key, best-effort
// wipe on Close, env/file bootstrap helper) but retargeted from
// secp256k1/go-ethereum onto the stdlib P-384 DER encoding spec.md §4.5
// calls for, since signetd has no EVM address or chain ID to carry.
package keystore

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	keyFileName      = "key"
	usernameFileName = "username"
	keyFileMode      = 0o600
)

// Keystore holds a single P-384 key and the username it is registered
// under on the server.
type Keystore struct {
	mu       sync.RWMutex
	priv     *ecdsa.PrivateKey
	username string
}

// NewRandom generates a fresh P-384 key for username.
func NewRandom(username string) (*Keystore, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("keystore: generate key: %w", err)
	}
	return &Keystore{priv: priv, username: username}, nil
}

// Load reads the key and username persisted under dataDir by Save. It
// mirrors LoadHexFromEnv's bootstrap shape: if nothing is on disk and
// allowGenerate is set, a new identity is created and saved under
// username.
func Load(dataDir, username string, allowGenerate bool) (*Keystore, error) {
	keyPath := filepath.Join(dataDir, keyFileName)
	der, err := os.ReadFile(keyPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("keystore: read key: %w", err)
		}
		if !allowGenerate {
			return nil, fmt.Errorf("keystore: no key at %s and generation disabled", keyPath)
		}
		ks, genErr := NewRandom(username)
		if genErr != nil {
			return nil, genErr
		}
		if saveErr := ks.Save(dataDir); saveErr != nil {
			return nil, saveErr
		}
		return ks, nil
	}

	block, _ := pem.Decode(der)
	if block == nil {
		return nil, errors.New("keystore: key file is not PEM")
	}
	priv, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("keystore: parse key: %w", err)
	}

	storedUser, err := os.ReadFile(filepath.Join(dataDir, usernameFileName))
	if err != nil {
		return nil, fmt.Errorf("keystore: read username: %w", err)
	}
	return &Keystore{priv: priv, username: strings.TrimSpace(string(storedUser))}, nil
}

// Save persists the key and username under dataDir, creating it if
// necessary.
func (k *Keystore) Save(dataDir string) error {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.priv == nil {
		return errors.New("keystore: closed")
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("keystore: mkdir: %w", err)
	}
	der, err := x509.MarshalECPrivateKey(k.priv)
	if err != nil {
		return fmt.Errorf("keystore: marshal key: %w", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})
	if err := os.WriteFile(filepath.Join(dataDir, keyFileName), pemBytes, keyFileMode); err != nil {
		return fmt.Errorf("keystore: write key: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dataDir, usernameFileName), []byte(k.username), 0o644); err != nil {
		return fmt.Errorf("keystore: write username: %w", err)
	}
	return nil
}

// PublicKeyDER returns the SubjectPublicKeyInfo DER encoding of the
// public half, the form spec.md §4.3's SetUser/GetUser carry over the
// wire and store on disk.
func (k *Keystore) PublicKeyDER() ([]byte, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.priv == nil {
		return nil, errors.New("keystore: closed")
	}
	return x509.MarshalPKIXPublicKey(&k.priv.PublicKey)
}

// PrivateKey returns the underlying key for use with Sign.
func (k *Keystore) PrivateKey() *ecdsa.PrivateKey {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.priv
}

// Username returns the registered username.
func (k *Keystore) Username() string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.username
}

// Close best-effort wipes the private scalar from memory.
func (k *Keystore) Close() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.priv != nil {
		k.priv.D.SetInt64(0)
	}
	k.priv = nil
}
