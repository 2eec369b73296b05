// Package signclient implements the protocol-visible half of the
// client (spec.md §4.5): the wire calls, and the Sign/Verify
// algorithms built on top of them. Grounded on
// original_source/client/src/remotestorage.rs, translated from the
// Rust RemoteStorage type's blocking-request-then-5s-timeout-read
// style into the same shape over noiseconn.
package signclient

import (
	"errors"
	"net"
	"time"

	"signetd/internal/hash"
	"signetd/internal/noiseconn"
	"signetd/internal/wire"
)

// ErrServerError is the catch-all client-side translation of any -1
// status or unexpected reply (spec.md §7).
var ErrServerError = errors.New("signclient: server error")

const requestTimeout = 5 * time.Second

// Client is a single connection to the server, good for a sequence of
// request/response calls from one logical session (spec.md §5:
// "connections are strictly request/response").
type Client struct {
	conn *noiseconn.Conn
}

// Dial connects to addr and completes the handshake before returning,
// mirroring RemoteStorage::new's wait_until_ready.
func Dial(addr string) (*Client, error) {
	tc, err := net.DialTimeout("tcp", addr, requestTimeout)
	if err != nil {
		return nil, err
	}
	nc, err := noiseconn.NewClient(tc)
	if err != nil {
		tc.Close()
		return nil, err
	}
	deadline := time.Now().Add(requestTimeout)
	for !nc.Ready() {
		if time.Now().After(deadline) {
			nc.Close()
			return nil, errors.New("signclient: handshake timed out")
		}
		if err := nc.GetReady(); err != nil && err != noiseconn.ErrNotReady {
			nc.Close()
			return nil, err
		}
		time.Sleep(2 * time.Millisecond)
	}
	return &Client{conn: nc}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) roundTrip(req *wire.Message) (*wire.Message, error) {
	if err := c.conn.WriteBlocking(req.Bytes()); err != nil {
		return nil, err
	}
	deadline := time.Now().Add(requestTimeout)
	for {
		payload, err := c.conn.Read()
		if err != nil {
			return nil, err
		}
		if payload != nil {
			return wire.FromBytes(payload), nil
		}
		if time.Now().After(deadline) {
			return nil, errors.New("signclient: response timed out")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// SetUser registers username with the given DER-encoded public key.
func (c *Client) SetUser(pubkeyDER, username []byte) error {
	req := wire.New()
	req.WriteU8(byte(wire.OpSetUser))
	req.WriteBuffer(pubkeyDER)
	req.WriteBuffer(username)
	resp, err := c.roundTrip(req)
	if err != nil {
		return err
	}
	status, err := resp.ReadI8()
	if err != nil {
		return ErrServerError
	}
	if status != wire.StatusOK {
		return ErrServerError
	}
	return nil
}

// User mirrors store.User for the client side, avoiding an import
// cycle back into internal/store.
type User struct {
	Username  []byte
	PubKeyDER []byte
}

// GetUser looks a user up by id. (nil, nil) means not found.
func (c *Client) GetUser(id hash.H) (*User, error) {
	req := wire.New()
	req.WriteU8(byte(wire.OpGetUser))
	req.WriteBuffer(id[:])
	resp, err := c.roundTrip(req)
	if err != nil {
		return nil, err
	}
	status, err := resp.ReadI8()
	if err != nil {
		return nil, ErrServerError
	}
	switch status {
	case wire.StatusOK:
		return nil, nil
	case wire.StatusFound:
		username, err := resp.ReadBuffer()
		if err != nil {
			return nil, ErrServerError
		}
		pubkey, err := resp.ReadBuffer()
		if err != nil {
			return nil, ErrServerError
		}
		return &User{Username: append([]byte(nil), username...), PubKeyDER: append([]byte(nil), pubkey...)}, nil
	default:
		return nil, ErrServerError
	}
}

// GetUserByUsername hashes username and looks it up.
func (c *Client) GetUserByUsername(username string) (*User, error) {
	return c.GetUser(hash.Sum256([]byte(username)))
}

// GetObj returns the ordered sig_ids committed against obj.
func (c *Client) GetObj(obj hash.H) ([]hash.H, error) {
	req := wire.New()
	req.WriteU8(byte(wire.OpGetObj))
	req.WriteBuffer(obj[:])
	resp, err := c.roundTrip(req)
	if err != nil {
		return nil, err
	}
	status, err := resp.ReadI8()
	if err != nil {
		return nil, ErrServerError
	}
	if status == wire.StatusErr {
		return nil, ErrServerError
	}
	if status == wire.StatusOK {
		return nil, nil
	}
	var ids []hash.H
	for !resp.Done() {
		b, err := resp.ReadFixed(32)
		if err != nil {
			return nil, ErrServerError
		}
		id, _ := hash.FromBytes(b)
		ids = append(ids, id)
	}
	return ids, nil
}

// Signature mirrors store.Signature for the client side.
type Signature struct {
	Obj            hash.H
	User           hash.H
	PrevSig        hash.H
	SignatureBytes []byte
}

// GetSig fetches a signature record by sig_id.
func (c *Client) GetSig(id hash.H) (*Signature, error) {
	req := wire.New()
	req.WriteU8(byte(wire.OpGetSig))
	req.WriteBuffer(id[:])
	resp, err := c.roundTrip(req)
	if err != nil {
		return nil, err
	}
	status, err := resp.ReadI8()
	if err != nil {
		return nil, ErrServerError
	}
	switch status {
	case wire.StatusOK:
		return nil, nil
	case wire.StatusFound:
		objB, err1 := resp.ReadFixed(32)
		userB, err2 := resp.ReadFixed(32)
		prevB, err3 := resp.ReadFixed(32)
		sigBytes, err4 := resp.ReadBuffer()
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			return nil, ErrServerError
		}
		obj, _ := hash.FromBytes(objB)
		user, _ := hash.FromBytes(userB)
		prev, _ := hash.FromBytes(prevB)
		return &Signature{Obj: obj, User: user, PrevSig: prev, SignatureBytes: append([]byte(nil), sigBytes...)}, nil
	default:
		return nil, ErrServerError
	}
}

// enqueueSession is the two-phase exchange of spec.md §4.2 from the
// client's side: it sends opcode 4, receives the tip, lets the caller
// build the signature quadruple with that tip, and submits it.
func (c *Client) enqueueSession(build func(tip hash.H) Signature) error {
	req := wire.New()
	req.WriteU8(byte(wire.OpEnqueue))
	resp, err := c.roundTrip(req)
	if err != nil {
		return err
	}
	status, err := resp.ReadI8()
	if err != nil {
		return ErrServerError
	}
	var tip hash.H
	switch status {
	case wire.StatusOK:
		tip = hash.Zero
	case wire.StatusFound:
		b, err := resp.ReadFixed(32)
		if err != nil {
			return ErrServerError
		}
		tip, _ = hash.FromBytes(b)
	default:
		return ErrServerError
	}

	sig := build(tip)

	follow := wire.New()
	follow.WriteBuffer(sig.Obj[:])
	follow.WriteBuffer(sig.User[:])
	follow.WriteBuffer(sig.PrevSig[:])
	follow.WriteBuffer(sig.SignatureBytes)
	if err := c.conn.WriteBlocking(follow.Bytes()); err != nil {
		return err
	}

	final, err := c.waitFinal()
	if err != nil {
		return err
	}
	status, err = final.ReadI8()
	if err != nil || status != wire.StatusOK {
		return ErrServerError
	}
	return nil
}

func (c *Client) waitFinal() (*wire.Message, error) {
	deadline := time.Now().Add(requestTimeout)
	for {
		payload, err := c.conn.Read()
		if err != nil {
			return nil, err
		}
		if payload != nil {
			return wire.FromBytes(payload), nil
		}
		if time.Now().After(deadline) {
			return nil, errors.New("signclient: commit reply timed out")
		}
		time.Sleep(2 * time.Millisecond)
	}
}
