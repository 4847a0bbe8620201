package xymodem

import (
	"context"
	"time"
)

// link holds what the sender and receiver state machines share: the
// transport, configuration, abort sources and reporting hooks.
type link struct {
	t        Transport
	cfg      *Config
	ctx      context.Context
	abort    *AbortToken
	logger   Logger
	cb       *Callbacks
	progress *ProgressTracker
	ts       *TransferSession
	filename string
}

func newLink(t Transport, config *Config, dir Direction) link {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := config.withDefaults()
	l := link{
		t:      t,
		cfg:    cfg,
		ctx:    cfg.Context,
		abort:  cfg.Abort,
		logger: cfg.Logger,
		cb:     mergeCallbacks(cfg.Callbacks),
		ts:     newTransferSession(cfg, dir),
	}
	if l.ctx == nil {
		l.ctx = context.Background()
	}
	if l.logger == nil {
		l.logger = NoopLogger{}
	}
	return l
}

// checkAbort is called at every wait point. When an abort is pending it
// cancels the peer and moves to ABORTED without retry accounting.
func (l *link) checkAbort() error {
	if !aborted(l.ctx, l.abort) {
		return nil
	}
	l.logger.Info("abort requested in %s, cancelling peer", l.ts.State)
	l.cancelPeer()
	l.ts.State = StateAborted
	l.event(EventAborted, "abort requested", -1)
	return NewError(ErrAborted, "abort requested")
}

// cancelPeer sends CAN twice. A write error is only logged; the transfer
// is ending either way.
func (l *link) cancelPeer() {
	if _, err := l.t.Write([]byte{CAN, CAN}); err != nil {
		l.logger.Debug("cancel peer: %v", err)
	}
}

// flushInput drops unread input before a resend. A failed flush leaves stale
// bytes that the next read treats as noise, so it is logged and not fatal.
func (l *link) flushInput() {
	if err := l.t.FlushInput(); err != nil {
		l.logger.Debug("flush input: %v", err)
	}
}

// peerCancelled records a CAN from the other side.
func (l *link) peerCancelled() error {
	l.logger.Info("peer cancelled transfer in %s", l.ts.State)
	l.ts.State = StateAborted
	l.event(EventAborted, "cancelled by peer", -1)
	return NewError(ErrAborted, "cancelled by peer")
}

// timedOut moves to TIMED_OUT.
func (l *link) timedOut(message string) error {
	l.logger.Error("%s after %d retries in %s", message, l.ts.Retries, l.ts.State)
	l.ts.State = StateTimedOut
	l.event(EventTimeout, message, int(l.ts.Expected))
	return NewBlockError(ErrTimeout, message, l.ts.Expected)
}

// send writes raw bytes; a failure means the link is gone.
func (l *link) send(p ...byte) error {
	if _, err := l.t.Write(p); err != nil {
		return wrapError(ErrTransport, "write", err)
	}
	return nil
}

// readByte waits for one byte, polling the abort sources before and after
// the blocking read.
func (l *link) readByte(timeout time.Duration) (byte, bool, error) {
	if err := l.checkAbort(); err != nil {
		return 0, false, err
	}
	b, ok, err := l.t.ReadByteTimeout(timeout)
	if err != nil {
		return 0, false, wrapError(ErrTransport, "read", err)
	}
	if err := l.checkAbort(); err != nil {
		return 0, false, err
	}
	return b, ok, nil
}

// confirmCancel reads one more byte after a CAN; a second CAN confirms the
// peer's cancel, anything else is line noise.
func (l *link) confirmCancel() (bool, error) {
	b, ok, err := l.readByte(l.cfg.ByteTimeout)
	if err != nil {
		return false, err
	}
	return ok && b == CAN, nil
}

func (l *link) event(t EventType, message string, seq int) {
	l.cb.OnEvent(Event{
		Type:      t,
		Message:   message,
		Sequence:  seq,
		Timestamp: time.Now(),
	})
}

// blockDone reports one accepted or acknowledged data block.
func (l *link) blockDone(n int) {
	l.ts.Blocks++
	l.ts.Bytes += int64(n)
	l.cb.OnBlock(l.filename, l.ts.Blocks)
	if l.progress != nil {
		l.progress.Block(n)
	}
}
