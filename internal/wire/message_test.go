package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadBufferRoundTrip(t *testing.T) {
	m := New()
	m.WriteU8(byte(OpSetUser))
	m.WriteBuffer([]byte{0x30, 0x81, 0x02})
	m.WriteBuffer([]byte("alice"))

	r := FromBytes(m.Bytes())
	op, err := r.ReadU8()
	require.NoError(t, err)
	require.Equal(t, byte(OpSetUser), op)

	pub, err := r.ReadBuffer()
	require.NoError(t, err)
	require.Equal(t, []byte{0x30, 0x81, 0x02}, pub)

	name, err := r.ReadBuffer()
	require.NoError(t, err)
	require.Equal(t, []byte("alice"), name)
	require.True(t, r.Done())
}

func TestReadFixedRejectsWrongLength(t *testing.T) {
	m := New()
	m.WriteBuffer(make([]byte, 31))
	r := FromBytes(m.Bytes())
	_, err := r.ReadFixed(32)
	require.ErrorIs(t, err, ErrCorruptedMessage)
}

func TestReadFixedAcceptsExactLength(t *testing.T) {
	m := New()
	id := make([]byte, 32)
	id[0] = 0xAA
	m.WriteBuffer(id)
	r := FromBytes(m.Bytes())
	got, err := r.ReadFixed(32)
	require.NoError(t, err)
	require.Equal(t, id, got)
}

func TestReadBufferPastEndIsCorrupted(t *testing.T) {
	// A length prefix claiming more bytes than actually follow.
	buf := []byte{0x00, 0x00, 0x00, 0x10, 0x01, 0x02}
	r := FromBytes(buf)
	_, err := r.ReadBuffer()
	require.ErrorIs(t, err, ErrCorruptedMessage)
}

func TestReadU8PastEndIsCorrupted(t *testing.T) {
	r := FromBytes(nil)
	_, err := r.ReadU8()
	require.ErrorIs(t, err, ErrCorruptedMessage)
}

func TestStatusByteRoundTripsAsSigned(t *testing.T) {
	m := New()
	m.WriteI8(StatusErr)
	r := FromBytes(m.Bytes())
	v, err := r.ReadI8()
	require.NoError(t, err)
	require.Equal(t, StatusErr, v)
}

func TestFrameRoundTrip(t *testing.T) {
	m := New()
	m.WriteU8(byte(OpGetObj))
	m.WriteBuffer([]byte("payload"))

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, m))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, m.Bytes(), got.Bytes())
}
