// Package wire implements the framed binary protocol of spec.md §6: a
// length-prefixed frame whose payload is a 1-byte opcode/status
// followed by zero or more length-prefixed buffers. Grounded on the
// original implementation's simpletcp::Message type
// (original_source/client/src/remotestorage.rs,
// original_source/server/src/threadpool.rs), which this package's
// Message mirrors method-for-method (read_u8/write_u8,
// read_buffer/write_buffer).
package wire

import (
	"encoding/binary"
	"errors"
	"io"
)

// ErrCorruptedMessage is returned when a request is well-framed but
// semantically invalid: a missing buffer, a buffer that runs past the
// end of the frame, or similar (spec.md §7). Callers disconnect on
// this error rather than replying.
var ErrCorruptedMessage = errors.New("wire: corrupted message")

const maxFrameLen = 16 << 20 // generous bound against a hostile length prefix

// Message is an in-memory, cursor-based view over one frame's payload.
// Building a request/response writes sequentially; parsing one reads
// sequentially. There is no random access, matching how both the
// client and server actually use it.
type Message struct {
	buf []byte
	pos int
}

// New returns an empty outgoing message.
func New() *Message { return &Message{} }

// FromBytes wraps an already-received frame payload for reading.
func FromBytes(b []byte) *Message { return &Message{buf: b} }

// Bytes returns the accumulated payload, ready to be framed and sent.
func (m *Message) Bytes() []byte { return m.buf }

// WriteU8 appends a single unsigned byte (opcodes).
func (m *Message) WriteU8(v byte) { m.buf = append(m.buf, v) }

// WriteI8 appends a single signed byte (status codes).
func (m *Message) WriteI8(v int8) { m.buf = append(m.buf, byte(v)) }

// WriteBuffer appends a 4-byte big-endian length prefix followed by b.
func (m *Message) WriteBuffer(b []byte) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	m.buf = append(m.buf, lenBuf[:]...)
	m.buf = append(m.buf, b...)
}

// ReadU8 reads one unsigned byte.
func (m *Message) ReadU8() (byte, error) {
	if m.pos >= len(m.buf) {
		return 0, ErrCorruptedMessage
	}
	v := m.buf[m.pos]
	m.pos++
	return v, nil
}

// ReadI8 reads one signed byte.
func (m *Message) ReadI8() (int8, error) {
	v, err := m.ReadU8()
	return int8(v), err
}

// ReadBuffer reads a 4-byte big-endian length prefix and that many
// following bytes. The returned slice aliases the message's backing
// array and must be copied by the caller if it outlives further reads.
func (m *Message) ReadBuffer() ([]byte, error) {
	if m.pos+4 > len(m.buf) {
		return nil, ErrCorruptedMessage
	}
	n := binary.BigEndian.Uint32(m.buf[m.pos : m.pos+4])
	m.pos += 4
	if n > uint32(maxFrameLen) || m.pos+int(n) > len(m.buf) {
		return nil, ErrCorruptedMessage
	}
	b := m.buf[m.pos : m.pos+int(n)]
	m.pos += int(n)
	return b, nil
}

// ReadFixed reads a length-prefixed buffer, as ReadBuffer does, and
// rejects it with ErrCorruptedMessage unless it is exactly n bytes long
// (used for fixed-width hash fields, mirroring a read_buffer whose
// result is then checked).
func (m *Message) ReadFixed(n int) ([]byte, error) {
	b, err := m.ReadBuffer()
	if err != nil {
		return nil, err
	}
	if len(b) != n {
		return nil, ErrCorruptedMessage
	}
	return b, nil
}

// Done reports whether every byte of the message has been consumed.
// Unused trailing bytes are not an error by themselves (spec.md's
// framing is delimited by the outer frame length, not by message
// content), but callers that expect an exact shape may use this.
func (m *Message) Done() bool { return m.pos == len(m.buf) }

// ReadFrame reads one complete length-prefixed frame from r and
// returns it as a Message ready for parsing.
func ReadFrame(r io.Reader) (*Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameLen {
		return nil, ErrCorruptedMessage
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return &Message{buf: buf}, nil
}

// WriteFrame writes m as one length-prefixed frame to w.
func WriteFrame(w io.Writer, m *Message) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(m.buf)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(m.buf)
	return err
}
