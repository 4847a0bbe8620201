package xymodem

import (
	"context"
	"time"
)

// Config holds transfer configuration.
type Config struct {
	// Protocol options
	Protocol Protocol
	Mode     Mode

	// Use1K makes the sender use 1024-byte blocks when the receiver asks for CRC.
	Use1K bool

	// Checksum makes the receiver ask for checksum mode (NAK) from the start.
	Checksum bool

	// Convention is the host line ending written in text mode.
	Convention Convention

	// Timeouts
	HandshakeTimeout  time.Duration // total wait for the transfer to start
	HandshakeInterval time.Duration // receiver re-signal interval
	BlockTimeout      time.Duration // wait for a response byte or the start of a block
	ByteTimeout       time.Duration // wait between bytes inside a frame

	// CRCAttempts is how many 'C' handshakes go unanswered before the
	// receiver falls back to NAK.
	CRCAttempts int

	// RetryLimit is the number of consecutive failures that end a transfer.
	RetryLimit int

	// Progress update interval
	ProgressInterval time.Duration

	// Runtime collaborators; Session fills these from its options.
	Context   context.Context
	Abort     *AbortToken
	Logger    Logger
	Callbacks *Callbacks
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		Protocol:          XMODEM,
		Mode:              Binary,
		Convention:        HostConvention(),
		HandshakeTimeout:  60 * time.Second,
		HandshakeInterval: 3 * time.Second,
		BlockTimeout:      10 * time.Second,
		ByteTimeout:       time.Second,
		CRCAttempts:       3,
		RetryLimit:        10,
		ProgressInterval:  100 * time.Millisecond,
	}
}

// withDefaults returns a copy with zero values replaced by defaults.
func (c *Config) withDefaults() *Config {
	def := DefaultConfig()
	out := *c
	if out.HandshakeTimeout <= 0 {
		out.HandshakeTimeout = def.HandshakeTimeout
	}
	if out.HandshakeInterval <= 0 {
		out.HandshakeInterval = def.HandshakeInterval
	}
	if out.BlockTimeout <= 0 {
		out.BlockTimeout = def.BlockTimeout
	}
	if out.ByteTimeout <= 0 {
		out.ByteTimeout = def.ByteTimeout
	}
	if out.CRCAttempts <= 0 {
		out.CRCAttempts = def.CRCAttempts
	}
	if out.RetryLimit <= 0 {
		out.RetryLimit = def.RetryLimit
	}
	if out.ProgressInterval <= 0 {
		out.ProgressInterval = def.ProgressInterval
	}
	return &out
}
