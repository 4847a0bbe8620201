package xymodem

import (
	"bytes"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// scriptedPeer is an in-memory Transport. Bytes queued with feed are read
// back by the engine; respond, when set, is called for every write and its
// result is queued as the peer's answer.
type scriptedPeer struct {
	mu      sync.Mutex
	in      []byte
	written [][]byte
	flushes int
	respond func(p []byte) []byte
}

func newScriptedPeer(initial ...byte) *scriptedPeer {
	return &scriptedPeer{in: append([]byte(nil), initial...)}
}

func (p *scriptedPeer) feed(b ...byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.in = append(p.in, b...)
}

func (p *scriptedPeer) Write(b []byte) (int, error) {
	cp := append([]byte(nil), b...)
	p.mu.Lock()
	p.written = append(p.written, cp)
	respond := p.respond
	p.mu.Unlock()

	if respond != nil {
		if out := respond(cp); len(out) > 0 {
			p.feed(out...)
		}
	}
	return len(b), nil
}

func (p *scriptedPeer) ReadByteTimeout(timeout time.Duration) (byte, bool, error) {
	p.mu.Lock()
	if len(p.in) == 0 {
		p.mu.Unlock()
		time.Sleep(min(timeout, time.Millisecond))
		return 0, false, nil
	}
	b := p.in[0]
	p.in = p.in[1:]
	p.mu.Unlock()
	return b, true, nil
}

func (p *scriptedPeer) FlushInput() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.in = nil
	p.flushes++
	return nil
}

func (p *scriptedPeer) writes() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.written...)
}

func (p *scriptedPeer) last() []byte {
	w := p.writes()
	if len(w) == 0 {
		return nil
	}
	return w[len(w)-1]
}

// replies answers the n-th write with replies[n]; writes past the end get
// no answer.
func replies(r ...[]byte) func([]byte) []byte {
	var mu sync.Mutex
	n := 0
	return func([]byte) []byte {
		mu.Lock()
		defer mu.Unlock()
		if n >= len(r) {
			return nil
		}
		out := r[n]
		n++
		return out
	}
}

// fastConfig keeps timeouts short for in-memory links.
func fastConfig() *Config {
	cfg := DefaultConfig()
	cfg.HandshakeTimeout = 500 * time.Millisecond
	cfg.HandshakeInterval = 20 * time.Millisecond
	cfg.BlockTimeout = 20 * time.Millisecond
	cfg.ByteTimeout = 10 * time.Millisecond
	cfg.RetryLimit = 5
	cfg.Convention = ConventionLF
	return cfg
}

func mustEncode(t *testing.T, v BlockVariant, header, seq byte, payload []byte) []byte {
	t.Helper()
	frame, err := Encode(v, header, seq, payload)
	require.NoError(t, err)
	return frame
}

func pattern(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i*7 + 3)
	}
	return p
}

// pipeLink returns the two ends of an in-memory full duplex link.
func pipeLink(t *testing.T) (Transport, Transport) {
	t.Helper()
	ar, bw := io.Pipe()
	br, aw := io.Pipe()
	t.Cleanup(func() {
		ar.Close()
		br.Close()
		aw.Close()
		bw.Close()
	})
	return NewStreamTransport(ar, aw), NewStreamTransport(br, bw)
}

// failingWriter fails every write.
type failingWriter struct{ err error }

func (w failingWriter) Write([]byte) (int, error) { return 0, w.err }

// failingReader returns data once, then an error.
type failingReader struct {
	data []byte
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.data) > 0 {
		n := copy(p, r.data)
		r.data = r.data[n:]
		return n, nil
	}
	return 0, r.err
}

func subPadded(data []byte, size int) []byte {
	out := append([]byte(nil), data...)
	return append(out, bytes.Repeat([]byte{SUB}, size-len(data))...)
}
