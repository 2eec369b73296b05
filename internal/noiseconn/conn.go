// Package noiseconn is the framing/handshake primitive spec.md treats
// as an external collaborator (spec.md §1, §4.3): it wraps a plain TCP
// connection in a Noise handshake and, once that handshake completes,
// delivers whole length-prefixed, encrypted frames. Before the
// handshake completes, Read reports ErrNotReady exactly as spec.md's
// worker-pool loop expects, and the caller is responsible for driving
// GetReady() from its own poll loop (internal/workerpool) rather than
// blocking on it.
//
// The handshake pattern (NN, no static keys) matches the spec's
// framing: the core never validates client identity cryptographically
// at this layer (spec.md's Non-goal: "authentication of clients beyond
// key possession" — that possession check happens at the application
// layer via registered ECDSA keys, not here).
package noiseconn

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/flynn/noise"
)

// ErrNotReady signals that the handshake has not completed; the
// caller must invoke GetReady before attempting another Read.
var ErrNotReady = errors.New("noiseconn: not ready")

const maxCipherFrame = 16<<20 + 16 // generous bound plus AEAD tag

var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherAESGCM, noise.HashSHA256)

// Conn is a non-blocking, handshake-gated wrapper over a raw TCP
// connection. Exactly one goroutine (the worker that owns this
// connection) may call its methods at a time; that invariant is
// maintained by the worker pool, not by Conn itself.
type Conn struct {
	net  net.Conn
	fd   int
	init bool

	hs      *noise.HandshakeState
	send    *noise.CipherState
	recv    *noise.CipherState
	ready   bool
	pending []byte // raw bytes read from the socket, not yet a full frame
}

// NewServer wraps an accepted connection as the handshake responder.
func NewServer(c net.Conn) (*Conn, error) { return newConn(c, false) }

// NewClient wraps a dialed connection as the handshake initiator.
func NewClient(c net.Conn) (*Conn, error) { return newConn(c, true) }

func newConn(c net.Conn, initiator bool) (*Conn, error) {
	fd, err := fdOf(c)
	if err != nil {
		return nil, err
	}
	if err := setNonblock(fd); err != nil {
		return nil, err
	}
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite: cipherSuite,
		Pattern:     noise.HandshakeNN,
		Initiator:   initiator,
	})
	if err != nil {
		return nil, err
	}
	cn := &Conn{net: c, fd: fd, init: initiator, hs: hs}
	if initiator {
		msg, _, _, err := hs.WriteMessage(nil, nil)
		if err != nil {
			return nil, err
		}
		if err := cn.writeFramed(msg); err != nil {
			return nil, err
		}
	}
	return cn, nil
}

// Fd returns the underlying socket descriptor, for registration in the
// worker pool's poll set (internal/workerpool).
func (c *Conn) Fd() int { return c.fd }

// Ready reports whether the handshake has completed.
func (c *Conn) Ready() bool { return c.ready }

// Close releases the underlying connection and the duplicated fd used
// for direct non-blocking syscalls.
func (c *Conn) Close() error {
	syscall.Close(c.fd)
	return c.net.Close()
}

// GetReady advances the handshake by one step using whatever bytes are
// currently available on the socket, without blocking. It returns
// ErrNotReady (not an error condition per se) until the handshake
// completes, matching spec.md §4.3's "invoke its get-ready method; on
// failure, mark for disconnect."
func (c *Conn) GetReady() error {
	if c.ready {
		return nil
	}
	if c.init {
		// Initiator already sent message 1 in newConn; it only has to
		// read message 2 and derive ciphers.
		msg, err := c.readRawFrame()
		if err != nil {
			return err
		}
		if msg == nil {
			return ErrNotReady
		}
		_, cs0, cs1, err := c.hs.ReadMessage(nil, msg)
		if err != nil {
			return err
		}
		c.send, c.recv = cs0, cs1
		c.ready = true
		return nil
	}

	// Responder: read message 1, then write message 2 and derive ciphers.
	msg, err := c.readRawFrame()
	if err != nil {
		return err
	}
	if msg == nil {
		return ErrNotReady
	}
	if _, _, _, err := c.hs.ReadMessage(nil, msg); err != nil {
		return err
	}
	out, cs0, cs1, err := c.hs.WriteMessage(nil, nil)
	if err != nil {
		return err
	}
	if err := c.writeFramed(out); err != nil {
		return err
	}
	// cs0 carries initiator-to-responder traffic, cs1 the reverse.
	c.send, c.recv = cs1, cs0
	c.ready = true
	return nil
}

// Read attempts a non-blocking read of one complete plaintext frame.
// A (nil, nil) result means the socket had no complete frame available
// yet — try again once the poll set reports readiness again, not an
// error. ErrNotReady means the handshake has not completed.
func (c *Conn) Read() ([]byte, error) {
	if !c.ready {
		return nil, ErrNotReady
	}
	ct, err := c.readRawFrame()
	if err != nil {
		return nil, err
	}
	if ct == nil {
		return nil, nil
	}
	return c.recv.Decrypt(nil, nil, ct)
}

// WriteBlocking encrypts and frames plaintext, then writes it with a
// blocking syscall (spec.md §5: worker writes to the client socket are
// blocking).
func (c *Conn) WriteBlocking(plaintext []byte) error {
	if !c.ready {
		return ErrNotReady
	}
	ct := c.send.Encrypt(nil, nil, plaintext)
	return c.writeFramed(ct)
}

// readRawFrame pulls whatever is currently available from the socket
// into c.pending (non-blocking; EAGAIN is not an error here) and, if
// c.pending now holds a complete 4-byte-length-prefixed frame, returns
// its payload and trims it from c.pending. Otherwise returns (nil, nil).
func (c *Conn) readRawFrame() ([]byte, error) {
	buf := make([]byte, 65536)
	for {
		n, err := syscall.Read(c.fd, buf)
		if n > 0 {
			c.pending = append(c.pending, buf[:n]...)
			continue
		}
		if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
			break
		}
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, io.EOF
		}
	}

	if len(c.pending) < 4 {
		return nil, nil
	}
	flen := binary.BigEndian.Uint32(c.pending[:4])
	if flen > maxCipherFrame {
		return nil, errors.New("noiseconn: frame too large")
	}
	if len(c.pending) < 4+int(flen) {
		return nil, nil
	}
	payload := make([]byte, flen)
	copy(payload, c.pending[4:4+flen])
	c.pending = c.pending[4+flen:]
	return payload, nil
}

func (c *Conn) writeFramed(payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	return c.writeRaw(append(lenBuf[:], payload...))
}

// writeRaw is a blocking write over the (non-blocking-at-the-fd-level)
// socket; short writes are retried until the whole buffer is sent.
func (c *Conn) writeRaw(b []byte) error {
	for len(b) > 0 {
		n, err := syscall.Write(c.fd, b)
		if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
			continue
		}
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}
