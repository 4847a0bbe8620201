// Package xymodem implements the XMODEM and YMODEM file transfer protocols.
//
// XMODEM moves a single file over a half-duplex byte link in fixed-size
// blocks protected by an 8-bit checksum or a 16-bit CRC. YMODEM adds 1K blocks
// and a batch layer that sends a filename/size header before each file and an
// empty header to close the batch.
//
// The package is built around a Transport (write, read-with-timeout and input
// flush). Adapters are provided for serial ports, SSH sessions, net.Conn and
// plain streams such as stdin/stdout. Callbacks report per-block progress and
// an AbortToken (or a context) cancels an active transfer.
package xymodem

import "fmt"

// Wire control bytes
const (
	SOH     = 0x01 // 128-byte block follows
	STX     = 0x02 // 1024-byte block follows
	EOT     = 0x04 // end of file
	ACK     = 0x06
	NAK     = 0x15 // negative ack, also the checksum-mode handshake
	CAN     = 0x18 // cancel; sent twice
	SUB     = 0x1A // CP/M EOF, pads the final block
	WANTCRC = 'C'  // receiver handshake requesting CRC16
)

// Payload sizes
const (
	BlockSize128 = 128
	BlockSize1K  = 1024
)

// Protocol selects plain XMODEM or YMODEM batch transfers.
type Protocol int

const (
	XMODEM Protocol = iota
	YMODEM
)

func (p Protocol) String() string {
	switch p {
	case XMODEM:
		return "XMODEM"
	case YMODEM:
		return "YMODEM"
	default:
		return fmt.Sprintf("Protocol(%d)", int(p))
	}
}

// BlockVariant is the block size and trailer combination negotiated by the
// handshake. It stays fixed for the life of a transfer.
type BlockVariant int

const (
	// VariantChecksum uses 128-byte blocks with a 1-byte arithmetic checksum
	VariantChecksum BlockVariant = iota

	// VariantCRC16 uses 128-byte blocks with a 2-byte CRC
	VariantCRC16

	// VariantCRC16_1K uses 1024-byte blocks with a 2-byte CRC
	VariantCRC16_1K
)

// UsesCRC reports whether frames of this variant carry a CRC16 trailer.
func (v BlockVariant) UsesCRC() bool {
	return v != VariantChecksum
}

// TrailerSize returns the number of trailer bytes per frame.
func (v BlockVariant) TrailerSize() int {
	if v.UsesCRC() {
		return 2
	}
	return 1
}

// BlockSize returns the payload size the sender uses for data blocks.
func (v BlockVariant) BlockSize() int {
	if v == VariantCRC16_1K {
		return BlockSize1K
	}
	return BlockSize128
}

// DataHeader returns the header byte announcing a data block of this variant.
func (v BlockVariant) DataHeader() byte {
	if v == VariantCRC16_1K {
		return STX
	}
	return SOH
}

func (v BlockVariant) String() string {
	switch v {
	case VariantChecksum:
		return "checksum"
	case VariantCRC16:
		return "CRC16"
	case VariantCRC16_1K:
		return "CRC16-1K"
	default:
		return fmt.Sprintf("BlockVariant(%d)", int(v))
	}
}

// Mode selects text (line-ending conversion, SUB stripping) or binary transfers.
type Mode int

const (
	Binary Mode = iota
	Text
)

func (m Mode) String() string {
	if m == Text {
		return "text"
	}
	return "binary"
}

// Direction of a transfer relative to the local side.
type Direction int

const (
	Send Direction = iota
	Receive
)

func (d Direction) String() string {
	if d == Receive {
		return "receive"
	}
	return "send"
}

var controlNames = map[byte]string{
	SOH:     "SOH",
	STX:     "STX",
	EOT:     "EOT",
	ACK:     "ACK",
	NAK:     "NAK",
	CAN:     "CAN",
	SUB:     "SUB",
	WANTCRC: "C",
}

// ControlName returns the mnemonic of a control byte, or its hex value.
func ControlName(b byte) string {
	if name, ok := controlNames[b]; ok {
		return name
	}
	return fmt.Sprintf("0x%02X", b)
}
