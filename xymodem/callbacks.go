package xymodem

import (
	"io"
	"os"
	"time"
)

// Callbacks provides hooks for transfer events.
// All callbacks are optional - nil callbacks use default behavior.
type Callbacks struct {
	// OnBlock is called once per accepted (receive) or acknowledged (send)
	// data block. ordinal is 1-based and counts blocks of the current file;
	// filename is empty for plain XMODEM.
	OnBlock func(filename string, ordinal int)

	// OnProgress is called periodically during file transfer.
	// total is 0 when the size is unknown; rate is in bytes per second.
	OnProgress func(filename string, transferred, total int64, rate float64)

	// OnFilePrompt is called when a YMODEM header arrives.
	// Return false to drain the file without storing it.
	// If an error is returned, the transfer is aborted.
	OnFilePrompt func(filename string, size int64, mode os.FileMode) (bool, error)

	// OnFileStart is called when a file transfer starts.
	OnFileStart func(filename string, size int64, mode os.FileMode)

	// OnFileComplete is called when a file transfer completes.
	OnFileComplete func(filename string, bytesTransferred int64, duration time.Duration)

	// OnError is called when an error occurs.
	// context: description of where the error occurred
	// Return true to skip to the next file of a batch, false to stop.
	OnError func(err error, context string) bool

	// OnEvent is called for protocol events (debugging/logging).
	OnEvent func(event Event)

	// OnFileOpen is called when opening a file for reading (sender).
	// If nil, uses default file opening.
	OnFileOpen func(filename string) (io.Reader, os.FileInfo, error)

	// OnFileCreate is called when creating a file for writing (receiver).
	// If nil, the base name is created in the working directory.
	OnFileCreate func(filename string, size int64, mode os.FileMode) (io.Writer, error)
}

// Event represents a protocol event for logging/debugging.
type Event struct {
	Type      EventType
	Message   string
	Sequence  int
	Timestamp time.Time
}

// EventType categorizes protocol events.
type EventType int

const (
	EventHandshake EventType = iota
	EventBlockSent
	EventBlockReceived
	EventDuplicate
	EventRetry
	EventTimeout
	EventAborted
	EventEOT
)

func (t EventType) String() string {
	switch t {
	case EventHandshake:
		return "handshake"
	case EventBlockSent:
		return "block sent"
	case EventBlockReceived:
		return "block received"
	case EventDuplicate:
		return "duplicate"
	case EventRetry:
		return "retry"
	case EventTimeout:
		return "timeout"
	case EventAborted:
		return "aborted"
	case EventEOT:
		return "EOT"
	default:
		return "unknown"
	}
}

// defaultCallbacks returns a set of callbacks with default implementations.
func defaultCallbacks() *Callbacks {
	return &Callbacks{
		OnBlock:    func(string, int) {},
		OnProgress: func(string, int64, int64, float64) {},
		OnFilePrompt: func(string, int64, os.FileMode) (bool, error) {
			return true, nil // Accept all files by default
		},
		OnFileStart:    func(string, int64, os.FileMode) {},
		OnFileComplete: func(string, int64, time.Duration) {},
		OnError: func(error, string) bool {
			return false
		},
		OnEvent: func(Event) {},
	}
}

// mergeCallbacks merges user callbacks with defaults.
// User callbacks override defaults, nil callbacks use defaults.
func mergeCallbacks(user *Callbacks) *Callbacks {
	def := defaultCallbacks()
	if user == nil {
		return def
	}

	result := *def
	if user.OnBlock != nil {
		result.OnBlock = user.OnBlock
	}
	if user.OnProgress != nil {
		result.OnProgress = user.OnProgress
	}
	if user.OnFilePrompt != nil {
		result.OnFilePrompt = user.OnFilePrompt
	}
	if user.OnFileStart != nil {
		result.OnFileStart = user.OnFileStart
	}
	if user.OnFileComplete != nil {
		result.OnFileComplete = user.OnFileComplete
	}
	if user.OnError != nil {
		result.OnError = user.OnError
	}
	if user.OnEvent != nil {
		result.OnEvent = user.OnEvent
	}

	// File operations (nil means use default)
	result.OnFileOpen = user.OnFileOpen
	result.OnFileCreate = user.OnFileCreate

	return &result
}
