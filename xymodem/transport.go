package xymodem

import (
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"time"
)

// Transport is the byte link a transfer runs over.
//
// ReadByteTimeout returns ok=false with a nil error when no byte arrived
// within timeout. Any non-nil error is treated as a broken link.
type Transport interface {
	Write(p []byte) (int, error)
	ReadByteTimeout(timeout time.Duration) (b byte, ok bool, err error)
	FlushInput() error
}

// ReaderWithTimeout is a reader with deadline support, such as net.Conn.
type ReaderWithTimeout interface {
	io.Reader
	SetReadDeadline(time.Time) error
}

// StreamTransport adapts a plain blocking reader (stdin, SSH pipes, io.Pipe)
// by pumping it from a goroutine. The pump exits when the reader returns an
// error; a reader that never returns keeps it alive.
type StreamTransport struct {
	w    io.Writer
	data chan []byte

	mu   sync.Mutex
	buf  []byte
	err  error
	done chan struct{}
}

// NewStreamTransport starts pumping r and writes to w.
func NewStreamTransport(r io.Reader, w io.Writer) *StreamTransport {
	t := &StreamTransport{
		w:    w,
		data: make(chan []byte, 16),
		done: make(chan struct{}),
	}
	go t.pump(r)
	return t
}

func (t *StreamTransport) pump(r io.Reader) {
	defer close(t.done)
	for {
		buf := make([]byte, 1024)
		n, err := r.Read(buf)
		if n > 0 {
			t.data <- buf[:n]
		}
		if err != nil {
			t.mu.Lock()
			t.err = err
			t.mu.Unlock()
			return
		}
	}
}

// Write writes p to the underlying writer.
func (t *StreamTransport) Write(p []byte) (int, error) {
	return t.w.Write(p)
}

// ReadByteTimeout returns the next byte, waiting at most timeout.
func (t *StreamTransport) ReadByteTimeout(timeout time.Duration) (byte, bool, error) {
	if len(t.buf) > 0 {
		return t.next(), true, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case chunk := <-t.data:
		t.buf = chunk
		return t.next(), true, nil
	case <-t.done:
		// Drain anything the pump queued before it stopped.
		select {
		case chunk := <-t.data:
			t.buf = chunk
			return t.next(), true, nil
		default:
		}
		t.mu.Lock()
		err := t.err
		t.mu.Unlock()
		return 0, false, err
	case <-timer.C:
		return 0, false, nil
	}
}

func (t *StreamTransport) next() byte {
	b := t.buf[0]
	t.buf = t.buf[1:]
	return b
}

// FlushInput discards buffered and queued input.
func (t *StreamTransport) FlushInput() error {
	t.buf = nil
	for {
		select {
		case <-t.data:
		default:
			return nil
		}
	}
}

// ConnTransport reads through a deadline-capable reader such as net.Conn.
type ConnTransport struct {
	reader ReaderWithTimeout
	writer io.Writer
	rbuf   []byte
	rpos   int
	rleft  int
}

// NewConnTransport creates a transport over a deadline-capable reader.
func NewConnTransport(reader ReaderWithTimeout, writer io.Writer) *ConnTransport {
	return &ConnTransport{
		reader: reader,
		writer: writer,
		rbuf:   make([]byte, 1024),
	}
}

// Write writes p to the underlying writer.
func (c *ConnTransport) Write(p []byte) (int, error) {
	return c.writer.Write(p)
}

// ReadByteTimeout returns the next byte, waiting at most timeout.
func (c *ConnTransport) ReadByteTimeout(timeout time.Duration) (byte, bool, error) {
	if c.rleft > 0 {
		c.rleft--
		b := c.rbuf[c.rpos]
		c.rpos++
		return b, true, nil
	}

	if err := c.reader.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, false, err
	}

	n, err := c.reader.Read(c.rbuf)
	if n > 0 {
		c.rpos = 1
		c.rleft = n - 1
		return c.rbuf[0], true, nil
	}
	if err != nil {
		if isTimeoutErr(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return 0, false, nil
}

// FlushInput discards buffered input.
func (c *ConnTransport) FlushInput() error {
	c.rleft = 0
	c.rpos = 0
	return nil
}

func isTimeoutErr(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
