package xymodem

import "fmt"

// Block is one decoded wire frame.
type Block struct {
	Header   byte
	Sequence byte
	Payload  []byte
}

// PayloadSize returns the payload length announced by a frame header,
// or 0 if the byte does not start a data frame.
func PayloadSize(header byte) int {
	switch header {
	case SOH:
		return BlockSize128
	case STX:
		return BlockSize1K
	default:
		return 0
	}
}

// FrameSize returns the full on-wire length of a frame with the given header.
func FrameSize(v BlockVariant, header byte) int {
	size := PayloadSize(header)
	if size == 0 {
		return 0
	}
	return 3 + size + v.TrailerSize()
}

// Encode builds a wire frame. A short payload is padded with SUB.
//
// Layout: header, seq, 255-seq, payload, then a checksum byte or a
// big-endian CRC16 depending on the variant.
func Encode(v BlockVariant, header, seq byte, payload []byte) ([]byte, error) {
	size := PayloadSize(header)
	if size == 0 {
		return nil, NewError(ErrProtocol, fmt.Sprintf("cannot encode frame with header %s", ControlName(header)))
	}
	if len(payload) > size {
		return nil, NewBlockError(ErrProtocol, fmt.Sprintf("payload of %d bytes exceeds %d", len(payload), size), seq)
	}

	frame := make([]byte, FrameSize(v, header))
	frame[0] = header
	frame[1] = seq
	frame[2] = 0xFF - seq

	data := frame[3 : 3+size]
	n := copy(data, payload)
	for i := n; i < size; i++ {
		data[i] = SUB
	}

	trailer := frame[3+size:]
	if v.UsesCRC() {
		crc := CRC16(data)
		trailer[0] = byte(crc >> 8)
		trailer[1] = byte(crc)
	} else {
		trailer[0] = Checksum(data)
	}
	return frame, nil
}

// Decode validates a complete frame and returns its block.
// Checks run in order: header, length, sequence complement, trailer.
// The returned payload aliases frame.
func Decode(v BlockVariant, frame []byte) (*Block, error) {
	if len(frame) == 0 {
		return nil, NewError(ErrStructural, "empty frame")
	}
	header := frame[0]
	size := PayloadSize(header)
	if size == 0 {
		return nil, NewError(ErrStructural, fmt.Sprintf("unexpected header %s", ControlName(header)))
	}
	if want := FrameSize(v, header); len(frame) != want {
		return nil, NewError(ErrStructural, fmt.Sprintf("frame length %d, want %d", len(frame), want))
	}

	seq := frame[1]
	if frame[2] != 0xFF-seq {
		return nil, NewBlockError(ErrStructural, fmt.Sprintf("bad sequence complement 0x%02X", frame[2]), seq)
	}

	data := frame[3 : 3+size]
	trailer := frame[3+size:]
	if v.UsesCRC() {
		got := uint16(trailer[0])<<8 | uint16(trailer[1])
		if want := CRC16(data); got != want {
			return nil, NewBlockError(ErrIntegrity, fmt.Sprintf("CRC 0x%04X, want 0x%04X", got, want), seq)
		}
	} else {
		if want := Checksum(data); trailer[0] != want {
			return nil, NewBlockError(ErrIntegrity, fmt.Sprintf("checksum 0x%02X, want 0x%02X", trailer[0], want), seq)
		}
	}

	return &Block{
		Header:   header,
		Sequence: seq,
		Payload:  data,
	}, nil
}
