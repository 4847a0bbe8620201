package xymodem

import (
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Logger interface for protocol logging
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Error(format string, args ...interface{})
}

// FileLogger writes logs to a file
type FileLogger struct {
	file *os.File
	mu   sync.Mutex
}

// NewFileLogger creates a logger that appends to a file
func NewFileLogger(path string) (*FileLogger, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &FileLogger{file: file}, nil
}

func (l *FileLogger) log(level, format string, args ...interface{}) {
	if l == nil || l.file == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(l.file, "[%s] %s: %s\n", timestamp, level, msg)
}

func (l *FileLogger) Debug(format string, args ...interface{}) {
	l.log("DEBUG", format, args...)
}

func (l *FileLogger) Info(format string, args ...interface{}) {
	l.log("INFO", format, args...)
}

func (l *FileLogger) Error(format string, args ...interface{}) {
	l.log("ERROR", format, args...)
}

func (l *FileLogger) Close() error {
	if l != nil && l.file != nil {
		return l.file.Close()
	}
	return nil
}

// NoopLogger does nothing
type NoopLogger struct{}

func (NoopLogger) Debug(format string, args ...interface{}) {}
func (NoopLogger) Info(format string, args ...interface{})  {}
func (NoopLogger) Error(format string, args ...interface{}) {}

// ZapLogger adapts a zap sugared logger.
type ZapLogger struct {
	s *zap.SugaredLogger
}

// NewZapLogger wraps l. A nil logger yields a no-op zap logger.
func NewZapLogger(l *zap.Logger) *ZapLogger {
	if l == nil {
		l = zap.NewNop()
	}
	return &ZapLogger{s: l.Sugar()}
}

func (z *ZapLogger) Debug(format string, args ...interface{}) {
	z.s.Debugf(format, args...)
}

func (z *ZapLogger) Info(format string, args ...interface{}) {
	z.s.Infof(format, args...)
}

func (z *ZapLogger) Error(format string, args ...interface{}) {
	z.s.Errorf(format, args...)
}

// FormatBlockLog formats a frame for logging with the payload truncated.
func FormatBlockLog(direction string, b *Block) string {
	msg := fmt.Sprintf("%s %s seq=%d", direction, ControlName(b.Header), b.Sequence)
	if len(b.Payload) > 0 {
		display := b.Payload
		suffix := ""
		if len(display) > 32 {
			display = display[:32]
			suffix = "...[truncated]"
		}
		msg += fmt.Sprintf(", len=%d, data=%q%s", len(b.Payload), display, suffix)
	}
	return msg
}

// LoggingTransport wraps a transport and logs wire traffic at debug level.
type LoggingTransport struct {
	Transport
	logger Logger
	name   string
}

// NewLoggingTransport wraps t, tagging log lines with name.
func NewLoggingTransport(t Transport, logger Logger, name string) *LoggingTransport {
	return &LoggingTransport{
		Transport: t,
		logger:    logger,
		name:      name,
	}
}

func (lt *LoggingTransport) Write(p []byte) (int, error) {
	n, err := lt.Transport.Write(p)
	if len(p) <= 2 {
		// Control bytes
		for _, b := range p {
			lt.logger.Debug("%s: sent %s", lt.name, ControlName(b))
		}
	} else if len(p) > 64 {
		lt.logger.Debug("%s: wrote %d bytes: %q...[truncated]", lt.name, n, p[:64])
	} else {
		lt.logger.Debug("%s: wrote %d bytes: %q", lt.name, n, p)
	}
	if err != nil {
		lt.logger.Error("%s: write error: %v", lt.name, err)
	}
	return n, err
}

func (lt *LoggingTransport) ReadByteTimeout(timeout time.Duration) (byte, bool, error) {
	b, ok, err := lt.Transport.ReadByteTimeout(timeout)
	if err != nil {
		lt.logger.Error("%s: read error: %v", lt.name, err)
	} else if !ok {
		lt.logger.Debug("%s: read timed out after %v", lt.name, timeout)
	}
	return b, ok, err
}
