package xymodem

import (
	"fmt"
	"io"
	"time"
)

// Sender drives the outbound side of a transfer.
//
// States:
//
//	AWAIT_HANDSHAKE -> SEND_BLOCK -> AWAIT_RESPONSE -> (ACK) SEND_BLOCK ...
//	                                                -> (NAK/timeout) SEND_BLOCK, same frame
//	-> SEND_EOT -> AWAIT_EOT_ACK -> DONE
//
// ABORTED and TIMED_OUT are reachable from any wait.
type Sender struct {
	link
}

// NewSender creates a sender over t. A nil config uses DefaultConfig.
func NewSender(t Transport, config *Config) *Sender {
	return &Sender{link: newLink(t, config, Send)}
}

// Session exposes the transfer state.
func (s *Sender) Session() *TransferSession {
	return s.ts
}

// Handshake waits for the receiver's NAK or 'C'. The first handshake of a
// session selects the block variant; later ones (YMODEM) only gate the next
// phase.
func (s *Sender) Handshake() error {
	ts := s.ts
	ts.State = StateAwaitHandshake
	ts.Retries = 0
	ts.Deadline = time.Now().Add(s.cfg.HandshakeTimeout)

	for {
		remaining := time.Until(ts.Deadline)
		if remaining <= 0 {
			return s.timedOut("no handshake from receiver")
		}
		b, ok, err := s.readByte(min(remaining, s.cfg.BlockTimeout))
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		switch b {
		case NAK, WANTCRC:
			if !ts.Negotiated {
				ts.Variant = s.variantFor(b)
				ts.Negotiated = true
				s.logger.Info("handshake %s: using %s blocks", ControlName(b), ts.Variant)
			}
			s.event(EventHandshake, ControlName(b), -1)
			return nil
		case CAN:
			confirmed, err := s.confirmCancel()
			if err != nil {
				return err
			}
			if confirmed {
				return s.peerCancelled()
			}
		default:
			s.logger.Debug("ignoring %s while waiting for handshake", ControlName(b))
		}
	}
}

func (s *Sender) variantFor(handshake byte) BlockVariant {
	if handshake == NAK {
		return VariantChecksum
	}
	if s.cfg.Use1K {
		return VariantCRC16_1K
	}
	return VariantCRC16
}

// Send transmits src as data blocks numbered from 1, then EOT.
// Handshake must have completed.
func (s *Sender) Send(src io.Reader) error {
	ts := s.ts
	if !ts.Negotiated {
		return NewError(ErrProtocol, "send before handshake")
	}
	if ts.Mode == Text {
		src = newTextReader(src)
	}
	ts.startFile(1)

	size := ts.Variant.BlockSize()
	header := ts.Variant.DataHeader()
	chunk := make([]byte, size)

	for {
		n, err := io.ReadFull(src, chunk)
		if n == 0 && (err == io.EOF || err == io.ErrUnexpectedEOF) {
			break
		}
		if err != nil && err != io.ErrUnexpectedEOF {
			s.cancelPeer()
			ts.State = StateAborted
			return wrapError(ErrIO, "read source", err)
		}

		frame, encErr := Encode(ts.Variant, header, ts.Expected, chunk[:n])
		if encErr != nil {
			return encErr
		}
		if err := s.sendFrame(frame); err != nil {
			return err
		}
		s.blockDone(n)
		ts.advance()

		if err == io.ErrUnexpectedEOF {
			break
		}
	}

	return s.finish()
}

// sendFrame runs SEND_BLOCK/AWAIT_RESPONSE for one frame until it is
// acknowledged or the retry budget runs out. A NAK or timeout resends the
// frame unchanged.
func (s *Sender) sendFrame(frame []byte) error {
	ts := s.ts
	ts.State = StateSendBlock
	seq := frame[1]

	for {
		switch ts.State {
		case StateSendBlock:
			if err := s.checkAbort(); err != nil {
				return err
			}
			if err := s.send(frame...); err != nil {
				return err
			}
			s.event(EventBlockSent, fmt.Sprintf("%d bytes", len(frame)), int(seq))
			ts.State = StateAwaitResponse

		case StateAwaitResponse:
			resp, ok, err := s.awaitResponse()
			if err != nil {
				return err
			}
			if ok && resp == ACK {
				ts.Retries = 0
				return nil
			}

			reason := "timeout"
			if ok {
				reason = ControlName(resp)
				if resp != NAK {
					s.flushInput()
				}
			}
			if ts.fail(s.cfg.RetryLimit) {
				return s.timedOut(fmt.Sprintf("block %d not acknowledged", seq))
			}
			s.logger.Debug("block %d: %s, retry %d", seq, reason, ts.Retries)
			s.event(EventRetry, reason, int(seq))
			ts.State = StateSendBlock

		default:
			return NewError(ErrProtocol, fmt.Sprintf("sender in unexpected state %s", ts.State))
		}
	}
}

// finish runs SEND_EOT/AWAIT_EOT_ACK.
func (s *Sender) finish() error {
	ts := s.ts
	ts.State = StateSendEOT
	ts.Retries = 0

	for {
		switch ts.State {
		case StateSendEOT:
			if err := s.checkAbort(); err != nil {
				return err
			}
			if err := s.send(EOT); err != nil {
				return err
			}
			s.event(EventEOT, "sent", -1)
			ts.State = StateAwaitEOTAck

		case StateAwaitEOTAck:
			resp, ok, err := s.awaitResponse()
			if err != nil {
				return err
			}
			if ok && resp == ACK {
				ts.State = StateDone
				s.logger.Info("transfer complete: %d blocks, %d bytes", ts.Blocks, ts.Bytes)
				return nil
			}
			if ts.fail(s.cfg.RetryLimit) {
				return s.timedOut("EOT not acknowledged")
			}
			ts.State = StateSendEOT

		default:
			return NewError(ErrProtocol, fmt.Sprintf("sender in unexpected state %s", ts.State))
		}
	}
}

// awaitResponse waits for a single response byte. ok is false on timeout.
// Two consecutive CAN bytes end the transfer.
func (s *Sender) awaitResponse() (byte, bool, error) {
	b, ok, err := s.readByte(s.cfg.BlockTimeout)
	if err != nil || !ok {
		return 0, false, err
	}
	if b == CAN {
		confirmed, err := s.confirmCancel()
		if err != nil {
			return 0, false, err
		}
		if confirmed {
			return 0, false, s.peerCancelled()
		}
	}
	return b, true, nil
}

// SendFile performs a complete XMODEM transfer: handshake, data, EOT.
func (s *Sender) SendFile(src io.Reader) error {
	if err := s.Handshake(); err != nil {
		return err
	}
	return s.Send(src)
}
