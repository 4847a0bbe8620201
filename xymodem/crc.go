package xymodem

import "github.com/sigurn/crc16"

// CRC-16/XMODEM: poly 0x1021, init 0, no reflection, no final xor.
var crcTable = crc16.MakeTable(crc16.CRC16_XMODEM)

// Checksum returns the arithmetic sum of p modulo 256.
func Checksum(p []byte) byte {
	var sum byte
	for _, b := range p {
		sum += b
	}
	return sum
}

// CRC16 returns the CRC-CCITT of p as used by XMODEM-CRC.
// The high byte goes on the wire first.
func CRC16(p []byte) uint16 {
	return crc16.Checksum(p, crcTable)
}
