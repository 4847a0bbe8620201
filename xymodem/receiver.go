package xymodem

import (
	"fmt"
	"io"
	"time"
)

// Receiver drives the inbound side of a transfer.
//
// States:
//
//	SEND_HANDSHAKE -> AWAIT_BLOCK -> VALIDATE -> (ok) ACK, AWAIT_BLOCK
//	                                          -> (bad) NAK, AWAIT_BLOCK
//	AWAIT_BLOCK -> (EOT) ACK, DONE
//
// Text mode output passes through a Normalizer; binary output is written as
// received, including the SUB padding of the final block.
type Receiver struct {
	link
	norm       *Normalizer
	attempts   int // handshake signals sent before negotiation
	frame      []byte
	normalized []byte
}

// NewReceiver creates a receiver over t. A nil config uses DefaultConfig.
func NewReceiver(t Transport, config *Config) *Receiver {
	r := &Receiver{link: newLink(t, config, Receive)}
	r.norm = NewNormalizer(r.cfg.Convention)
	r.frame = make([]byte, FrameSize(VariantCRC16_1K, STX))
	return r
}

// Session exposes the transfer state.
func (r *Receiver) Session() *TransferSession {
	return r.ts
}

// Receive performs a complete XMODEM receive into sink. In text mode a byte
// the normalizer is still holding at EOT is flushed into sink.
func (r *Receiver) Receive(sink io.Writer) error {
	r.ts.startFile(1)
	r.norm.Reset()
	if err := r.receiveBlocks(r.dataDelivery(sink, nil), false); err != nil {
		return err
	}
	return r.flushText(sink)
}

// dataDelivery returns the callback writing accepted payloads to sink. When
// lw is non-nil it is the trimming writer wrapping sink.
func (r *Receiver) dataDelivery(sink io.Writer, lw *limitWriter) func(*Block) error {
	return func(b *Block) error {
		out := b.Payload
		if r.ts.Mode == Text {
			r.normalized = r.norm.Normalize(r.normalized[:0], b.Payload)
			out = r.normalized
		}

		n := len(b.Payload)
		if lw != nil {
			before := lw.remaining
			if _, err := lw.Write(out); err != nil {
				return wrapError(ErrIO, "write sink", err)
			}
			n = int(before - lw.remaining)
		} else if len(out) > 0 {
			if _, err := sink.Write(out); err != nil {
				return wrapError(ErrIO, "write sink", err)
			}
		}
		r.blockDone(n)
		return nil
	}
}

// flushText writes out a byte the normalizer is still holding at EOT.
func (r *Receiver) flushText(sink io.Writer) error {
	if r.ts.Mode != Text {
		return nil
	}
	r.normalized = r.norm.Flush(r.normalized[:0])
	if len(r.normalized) == 0 {
		return nil
	}
	if _, err := sink.Write(r.normalized); err != nil {
		return wrapError(ErrIO, "write sink", err)
	}
	return nil
}

// signal returns the handshake byte to send next.
func (r *Receiver) signal() byte {
	if r.ts.Negotiated {
		if r.ts.Variant.UsesCRC() {
			return WANTCRC
		}
		return NAK
	}
	if r.cfg.Checksum || r.attempts >= r.cfg.CRCAttempts {
		return NAK
	}
	return WANTCRC
}

// handshake signals the sender until the first byte of a block (or EOT)
// arrives and returns that byte. The first successful handshake of a session
// fixes the block variant.
func (r *Receiver) handshake() (byte, error) {
	ts := r.ts
	ts.Retries = 0
	ts.Deadline = time.Now().Add(r.cfg.HandshakeTimeout)

	for {
		ts.State = StateSendHandshake
		remaining := time.Until(ts.Deadline)
		if remaining <= 0 {
			return 0, r.timedOut("sender did not start")
		}

		sig := r.signal()
		if err := r.checkAbort(); err != nil {
			return 0, err
		}
		if err := r.send(sig); err != nil {
			return 0, err
		}
		r.event(EventHandshake, ControlName(sig), -1)
		ts.State = StateAwaitBlock

		wait := time.Now().Add(min(remaining, r.cfg.HandshakeInterval))
		for {
			left := time.Until(wait)
			if left <= 0 {
				break
			}
			b, ok, err := r.readByte(left)
			if err != nil {
				return 0, err
			}
			if !ok {
				break
			}
			switch b {
			case SOH, STX, EOT:
				if !ts.Negotiated {
					ts.Variant = VariantChecksum
					if sig == WANTCRC {
						ts.Variant = VariantCRC16
					}
					ts.Negotiated = true
					r.logger.Info("handshake %s answered: using %s blocks", ControlName(sig), ts.Variant)
				}
				return b, nil
			case CAN:
				return 0, r.peerCancelled()
			default:
				r.logger.Debug("ignoring %s during handshake", ControlName(b))
			}
		}

		if !ts.Negotiated {
			r.attempts++
			if r.attempts == r.cfg.CRCAttempts && !r.cfg.Checksum {
				r.logger.Info("no answer to CRC handshake, falling back to checksum")
			}
		}
	}
}

// readFrame reads the rest of a frame whose header byte has been seen.
func (r *Receiver) readFrame(header byte) ([]byte, error) {
	ts := r.ts
	if header == STX && ts.Variant == VariantCRC16 {
		ts.Variant = VariantCRC16_1K
	}

	size := FrameSize(ts.Variant, header)
	frame := r.frame[:size]
	frame[0] = header
	for i := 1; i < size; i++ {
		b, ok, err := r.readByte(r.cfg.ByteTimeout)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, NewError(ErrStructural, fmt.Sprintf("short frame: %d of %d bytes", i, size))
		}
		frame[i] = b
	}
	return frame, nil
}

// reject discards the line and asks for a resend.
func (r *Receiver) reject(cause error) error {
	ts := r.ts
	r.flushInput()
	if ts.fail(r.cfg.RetryLimit) {
		return r.timedOut(fmt.Sprintf("block %d: too many errors", ts.Expected))
	}
	r.logger.Debug("rejecting block: %v, retry %d", cause, ts.Retries)
	r.event(EventRetry, cause.Error(), int(ts.Expected))
	ts.State = StateAwaitBlock
	return r.send(NAK)
}

// receiveBlocks runs the receive state machine from the handshake until EOT.
// In the header phase it returns after one accepted block; a stray EOT (the
// previous file's, whose ACK was lost) is acknowledged again.
func (r *Receiver) receiveBlocks(deliver func(*Block) error, headerPhase bool) error {
	ts := r.ts
	first, err := r.handshake()
	if err != nil {
		return err
	}
	have := true

	for {
		var b byte
		if have {
			b, have = first, false
		} else {
			ts.State = StateAwaitBlock
			got, ok, err := r.readByte(r.cfg.BlockTimeout)
			if err != nil {
				return err
			}
			if !ok {
				if ts.fail(r.cfg.RetryLimit) {
					return r.timedOut(fmt.Sprintf("waiting for block %d", ts.Expected))
				}
				r.event(EventTimeout, "no block", int(ts.Expected))
				if err := r.send(NAK); err != nil {
					return err
				}
				continue
			}
			b = got
		}

		switch b {
		case SOH, STX:
			done, err := r.validate(b, deliver, headerPhase)
			if err != nil || done {
				return err
			}

		case EOT:
			if err := r.send(ACK); err != nil {
				return err
			}
			r.event(EventEOT, "received", -1)
			if headerPhase {
				r.logger.Debug("acknowledged repeated EOT, asking for header again")
				if first, err = r.handshake(); err != nil {
					return err
				}
				have = true
				continue
			}
			ts.State = StateDone
			return nil

		case CAN:
			return r.peerCancelled()

		default:
			cause := NewError(ErrStructural, fmt.Sprintf("unexpected %s while waiting for block", ControlName(b)))
			if err := r.reject(cause); err != nil {
				return err
			}
		}
	}
}

// validate reads, checks and acts on one frame. done is set when the header
// phase has accepted its block.
func (r *Receiver) validate(header byte, deliver func(*Block) error, headerPhase bool) (bool, error) {
	ts := r.ts
	frame, err := r.readFrame(header)
	if err != nil {
		if IsRecoverable(err) {
			return false, r.reject(err)
		}
		return false, err
	}

	ts.State = StateValidate
	blk, err := Decode(ts.Variant, frame)
	if err != nil {
		return false, r.reject(err)
	}

	switch blk.Sequence {
	case ts.Expected:
		r.event(EventBlockReceived, fmt.Sprintf("%d bytes", len(blk.Payload)), int(blk.Sequence))
		if err := deliver(blk); err != nil {
			r.cancelPeer()
			ts.State = StateAborted
			if _, ok := errorType(err); ok {
				return false, err
			}
			return false, wrapError(ErrIO, "deliver block", err)
		}
		ts.advance()
		if err := r.send(ACK); err != nil {
			return false, err
		}
		if headerPhase {
			ts.State = StateDone
			return true, nil
		}

	case ts.Expected - 1:
		r.logger.Debug("duplicate block %d", blk.Sequence)
		r.event(EventDuplicate, "re-acknowledged", int(blk.Sequence))
		if err := r.send(ACK); err != nil {
			return false, err
		}

	default:
		return false, r.reject(NewBlockError(ErrSequence,
			fmt.Sprintf("got block %d, want %d", blk.Sequence, ts.Expected), blk.Sequence))
	}

	ts.State = StateAwaitBlock
	return false, nil
}
