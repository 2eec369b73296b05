// Package integration wires the full server stack (store, chain,
// workerpool, enqueue, noiseconn) over a real TCP loopback listener
// and drives it with internal/signclient, reproducing spec.md §8's
// end-to-end scenarios against the actual wire protocol rather than
// against any single package in isolation.
package integration

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"signetd/internal/chain"
	"signetd/internal/enqueue"
	"signetd/internal/noiseconn"
	"signetd/internal/signclient"
	"signetd/internal/store"
	"signetd/internal/workerpool"
)

type testServer struct {
	addr    string
	ln      net.Listener
	manager *chain.Manager
}

func startTestServer(t *testing.T) *testServer {
	t.Helper()
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)

	manager := chain.New(s)
	enqueueCh := make(chan *noiseconn.Conn, 8)
	pool := workerpool.New(2, s, enqueueCh, zerolog.Nop())
	worker := enqueue.New(enqueueCh, manager, time.Second, zerolog.Nop())
	go worker.Run()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			pool.Accept(c)
		}
	}()

	t.Cleanup(func() {
		ln.Close()
		pool.Stop()
	})

	return &testServer{addr: ln.Addr().String(), ln: ln, manager: manager}
}

func newClient(t *testing.T, addr string) *signclient.Client {
	t.Helper()
	c, err := signclient.Dial(addr)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func registerUser(t *testing.T, c *signclient.Client, username string) (*ecdsa.PrivateKey, []byte) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)
	pub, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	require.NoError(t, c.SetUser(pub, []byte(username)))
	return priv, pub
}

// Scenario 1/2: fresh registration then duplicate registration.
func TestRegisterThenDuplicateFails(t *testing.T) {
	srv := startTestServer(t)
	c := newClient(t, srv.addr)

	_, pub := registerUser(t, c, "alice")

	u, err := c.GetUserByUsername("alice")
	require.NoError(t, err)
	require.NotNil(t, u)
	require.Equal(t, "alice", string(u.Username))
	require.Equal(t, pub, u.PubKeyDER)

	err = c.SetUser(pub, []byte("alice"))
	require.ErrorIs(t, err, signclient.ErrServerError)
}

// Scenario 3/4/5: two signers chain a signature over the same file and
// both verify.
func TestSignTwiceThenVerifyBothValid(t *testing.T) {
	srv := startTestServer(t)

	path := filepath.Join(t.TempDir(), "f.bin")
	require.NoError(t, os.WriteFile(path, []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, 0o644))

	cAlice := newClient(t, srv.addr)
	aliceKey, _ := registerUser(t, cAlice, "alice")
	firstSigID, err := signclient.Sign(cAlice, aliceKey, "alice", path)
	require.NoError(t, err)
	require.False(t, firstSigID.IsZero())

	cBob := newClient(t, srv.addr)
	bobKey, _ := registerUser(t, cBob, "bob")
	secondSigID, err := signclient.Sign(cBob, bobKey, "bob", path)
	require.NoError(t, err)
	require.NotEqual(t, firstSigID, secondSigID)

	cVerify := newClient(t, srv.addr)
	results, err := signclient.Verify(cVerify, path)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		require.True(t, r.Valid)
	}
	require.Equal(t, firstSigID, results[0].SigID)
	require.Equal(t, secondSigID, results[1].SigID)
}

// Scenario 6: a well-framed but semantically invalid request (wrong
// buffer length) disconnects rather than receiving a reply.
func TestCorruptRequestDisconnects(t *testing.T) {
	srv := startTestServer(t)

	raw, err := net.Dial("tcp", srv.addr)
	require.NoError(t, err)
	defer raw.Close()

	nc, err := noiseconn.NewClient(raw)
	require.NoError(t, err)
	deadline := time.Now().Add(2 * time.Second)
	for !nc.Ready() {
		require.False(t, time.Now().After(deadline), "handshake did not complete")
		if err := nc.GetReady(); err != nil && err != noiseconn.ErrNotReady {
			t.Fatalf("handshake failed: %v", err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	// GetUser (opcode 1) with a 31-byte buffer instead of 32.
	bad := []byte{1, 0, 0, 0, 31}
	bad = append(bad, make([]byte, 31)...)
	require.NoError(t, nc.WriteBlocking(bad))

	deadline = time.Now().Add(2 * time.Second)
	for {
		require.False(t, time.Now().After(deadline), "expected disconnect, got no response in time")
		_, err := nc.Read()
		if err != nil {
			return // disconnected, as expected
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// P7: a client that opens an enqueue session but never
// sends the follow-up causes no store mutation, and the server is
// ready to serve another enqueue afterward.
func TestEnqueueTimeoutLeavesNoTraceAndServerStaysUp(t *testing.T) {
	srv := startTestServer(t)

	raw, err := net.Dial("tcp", srv.addr)
	require.NoError(t, err)

	nc, err := noiseconn.NewClient(raw)
	require.NoError(t, err)
	deadline := time.Now().Add(2 * time.Second)
	for !nc.Ready() {
		require.False(t, time.Now().After(deadline))
		if err := nc.GetReady(); err != nil && err != noiseconn.ErrNotReady {
			t.Fatalf("handshake failed: %v", err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	// Send opcode 4 (Enqueue) and then nothing else: the server sends
	// the tip and starts its 1s bounded wait for the follow-up, which
	// never arrives.
	enq := []byte{4}
	require.NoError(t, nc.WriteBlocking(enq))

	// Give the serial worker time to hit its 1s read timeout and
	// return to servicing new connections.
	time.Sleep(1200 * time.Millisecond)
	raw.Close()

	_, present, err := srv.manager.Tip()
	require.NoError(t, err)
	require.False(t, present)

	c := newClient(t, srv.addr)
	_, pub := registerUser(t, c, "carol")
	require.NotEmpty(t, pub)
}
