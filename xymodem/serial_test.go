package xymodem

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

// fakePort stands in for an open serial device. Methods the transport does
// not use fall through to the nil embedded Port.
type fakePort struct {
	serial.Port

	reads    [][]byte
	readErr  error
	written  []byte
	timeouts []time.Duration
	resets   int
	drained  bool
	closed   bool
}

func (p *fakePort) Read(b []byte) (int, error) {
	if p.readErr != nil {
		return 0, p.readErr
	}
	if len(p.reads) == 0 {
		return 0, nil
	}
	n := copy(b, p.reads[0])
	p.reads = p.reads[1:]
	return n, nil
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.written = append(p.written, b...)
	return len(b), nil
}

func (p *fakePort) SetReadTimeout(t time.Duration) error {
	p.timeouts = append(p.timeouts, t)
	return nil
}

func (p *fakePort) ResetInputBuffer() error {
	p.resets++
	return nil
}

func (p *fakePort) Drain() error {
	p.drained = true
	return nil
}

func (p *fakePort) Close() error {
	p.closed = true
	return nil
}

func TestSerialTransport_ReadAhead(t *testing.T) {
	t.Parallel()

	port := &fakePort{reads: [][]byte{[]byte("abc"), []byte("d")}}
	st := NewSerialTransport(port)

	var got []byte
	for i := 0; i < 4; i++ {
		b, ok, err := st.ReadByteTimeout(time.Second)
		require.NoError(t, err)
		require.True(t, ok)
		got = append(got, b)
	}
	assert.Equal(t, "abcd", string(got))
	// The timeout is only pushed to the port when it changes.
	assert.Equal(t, []time.Duration{time.Second}, port.timeouts)

	_, ok, err := st.ReadByteTimeout(50 * time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []time.Duration{time.Second, 50 * time.Millisecond}, port.timeouts)
}

func TestSerialTransport_FlushInput(t *testing.T) {
	t.Parallel()

	port := &fakePort{reads: [][]byte{[]byte("xyz")}}
	st := NewSerialTransport(port)

	b, _, err := st.ReadByteTimeout(time.Second)
	require.NoError(t, err)
	assert.Equal(t, byte('x'), b)

	require.NoError(t, st.FlushInput())
	assert.Equal(t, 1, port.resets)

	_, ok, err := st.ReadByteTimeout(time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSerialTransport_ErrorsAndLifecycle(t *testing.T) {
	t.Parallel()

	gone := errors.New("device removed")
	port := &fakePort{readErr: gone}
	st := NewSerialTransport(port)

	_, _, err := st.ReadByteTimeout(time.Second)
	assert.ErrorIs(t, err, gone)

	n, err := st.Write([]byte{NAK})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []byte{NAK}, port.written)

	require.NoError(t, st.Drain())
	require.NoError(t, st.Close())
	assert.True(t, port.drained)
	assert.True(t, port.closed)
}

func TestSerialTransport_Receive(t *testing.T) {
	t.Parallel()

	frame := mustEncode(t, VariantCRC16, SOH, 1, []byte("serial"))
	// The device delivers the frame in uneven chunks.
	port := &fakePort{reads: [][]byte{frame[:1], frame[1:50], frame[50:], {EOT}}}

	var sink pipeSink
	r := NewReceiver(NewSerialTransport(port), fastConfig())
	require.NoError(t, r.Receive(&sink))
	assert.Equal(t, subPadded([]byte("serial"), 128), sink.data)
	assert.Equal(t, []byte{WANTCRC, ACK, ACK}, port.written)
}
