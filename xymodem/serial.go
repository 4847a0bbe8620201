package xymodem

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// SerialTransport runs transfers over a serial port.
type SerialTransport struct {
	port    serial.Port
	timeout time.Duration
	rbuf    []byte
	rpos    int
	rleft   int
}

// OpenSerial opens a serial device at the given baud rate, 8N1.
func OpenSerial(name string, baud int) (*SerialTransport, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return NewSerialTransport(port), nil
}

// NewSerialTransport wraps an already opened port.
func NewSerialTransport(port serial.Port) *SerialTransport {
	return &SerialTransport{
		port:    port,
		timeout: -1,
		rbuf:    make([]byte, 1024),
	}
}

// Write writes p to the port.
func (s *SerialTransport) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

// ReadByteTimeout returns the next byte, waiting at most timeout.
// The port returns zero bytes and no error when its read timeout expires.
func (s *SerialTransport) ReadByteTimeout(timeout time.Duration) (byte, bool, error) {
	if s.rleft > 0 {
		s.rleft--
		b := s.rbuf[s.rpos]
		s.rpos++
		return b, true, nil
	}

	if timeout != s.timeout {
		if err := s.port.SetReadTimeout(timeout); err != nil {
			return 0, false, err
		}
		s.timeout = timeout
	}

	n, err := s.port.Read(s.rbuf)
	if err != nil {
		return 0, false, err
	}
	if n == 0 {
		return 0, false, nil
	}
	s.rpos = 1
	s.rleft = n - 1
	return s.rbuf[0], true, nil
}

// FlushInput purges the port's input buffer and anything read ahead.
func (s *SerialTransport) FlushInput() error {
	s.rleft = 0
	s.rpos = 0
	return s.port.ResetInputBuffer()
}

// Drain waits until all written data has left the port.
func (s *SerialTransport) Drain() error {
	return s.port.Drain()
}

// Close closes the port.
func (s *SerialTransport) Close() error {
	return s.port.Close()
}
