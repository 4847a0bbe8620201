package xymodem

import (
	"fmt"
	"time"
)

// State is a state of the sender or receiver state machine.
type State int

const (
	// Sender states
	StateAwaitHandshake State = iota
	StateSendBlock
	StateAwaitResponse
	StateSendEOT
	StateAwaitEOTAck

	// Receiver states
	StateSendHandshake
	StateAwaitBlock
	StateValidate

	// Terminal states
	StateDone
	StateAborted
	StateTimedOut
)

var stateNames = [...]string{
	StateAwaitHandshake: "AWAIT_HANDSHAKE",
	StateSendBlock:      "SEND_BLOCK",
	StateAwaitResponse:  "AWAIT_RESPONSE",
	StateSendEOT:        "SEND_EOT",
	StateAwaitEOTAck:    "AWAIT_EOT_ACK",
	StateSendHandshake:  "SEND_HANDSHAKE",
	StateAwaitBlock:     "AWAIT_BLOCK",
	StateValidate:       "VALIDATE",
	StateDone:           "DONE",
	StateAborted:        "ABORTED",
	StateTimedOut:       "TIMED_OUT",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether no further transitions happen from s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateAborted || s == StateTimedOut
}

// TransferSession is the mutable state of one directed transfer. It is owned
// by a single Sender or Receiver and only changed by its step functions.
type TransferSession struct {
	Protocol  Protocol
	Variant   BlockVariant
	Mode      Mode
	Direction Direction

	// Expected is the next sequence number to send or accept. It wraps mod 256.
	Expected byte

	// Retries counts consecutive timeouts and failures since the last
	// state-advancing event.
	Retries int

	// Deadline bounds the current wait.
	Deadline time.Time

	State State

	// Negotiated is set once the handshake fixed Variant.
	Negotiated bool

	// Blocks and Bytes count data accepted (or acknowledged) for the current file.
	Blocks int
	Bytes  int64
}

func newTransferSession(cfg *Config, dir Direction) *TransferSession {
	return &TransferSession{
		Protocol:  cfg.Protocol,
		Mode:      cfg.Mode,
		Direction: dir,
		Expected:  1,
	}
}

// advance accepts the current block and moves to the next sequence number.
func (ts *TransferSession) advance() {
	ts.Expected++
	ts.Retries = 0
}

// fail records a timeout or rejected frame and reports whether the retry
// budget is spent.
func (ts *TransferSession) fail(limit int) bool {
	ts.Retries++
	return ts.Retries >= limit
}

// startFile resets the per-file counters and sequence.
func (ts *TransferSession) startFile(seq byte) {
	ts.Expected = seq
	ts.Retries = 0
	ts.Blocks = 0
	ts.Bytes = 0
}
