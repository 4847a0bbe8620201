// Package cli holds the pieces shared by the gsx and grx commands.
package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/drunlade/go-xymodem/internal/journal"
	"github.com/drunlade/go-xymodem/xymodem"
)

// NewLogger builds the stderr logger. stdout may be carrying the transfer.
func NewLogger(verbose, quiet bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableStacktrace = true
	cfg.OutputPaths = []string{"stderr"}
	switch {
	case quiet:
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	case verbose:
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	return cfg.Build()
}

// Link is an open transport plus its cleanup.
type Link struct {
	Transport xymodem.Transport
	Name      string
	close     func() error
}

// Close releases the link.
func (l *Link) Close() error {
	if l.close == nil {
		return nil
	}
	return l.close()
}

// OpenLink opens the serial device when port is set, otherwise stdin/stdout.
// A terminal on stdin is switched to raw mode until Close.
func OpenLink(port string, baud int, log *zap.Logger) (*Link, error) {
	if port != "" {
		st, err := xymodem.OpenSerial(port, baud)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", port, err)
		}
		log.Info("serial port open", zap.String("port", port), zap.Int("baud", baud))
		return &Link{
			Transport: st,
			Name:      port,
			close: func() error {
				st.Drain()
				return st.Close()
			},
		}, nil
	}

	fd := int(os.Stdin.Fd())
	restore := func() error { return nil }
	if term.IsTerminal(fd) {
		state, err := term.MakeRaw(fd)
		if err != nil {
			return nil, fmt.Errorf("raw mode: %w", err)
		}
		restore = func() error { return term.Restore(fd, state) }
	}
	return &Link{
		Transport: xymodem.NewStreamTransport(os.Stdin, os.Stdout),
		Name:      "stdio",
		close:     restore,
	}, nil
}

// AbortOnSignal trips token on SIGINT or SIGTERM. The returned function
// stops listening.
func AbortOnSignal(token *xymodem.AbortToken, log *zap.Logger) func() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		select {
		case sig := <-sigChan:
			log.Warn("aborting transfer", zap.Stringer("signal", sig))
			token.Abort()
		case <-done:
		}
	}()
	return func() {
		signal.Stop(sigChan)
		close(done)
	}
}

// Tenths converts a timeout given in tenths of seconds.
func Tenths(n int) time.Duration {
	return time.Duration(n) * 100 * time.Millisecond
}

// Outcome maps a transfer error to a journal outcome.
func Outcome(err error) string {
	switch {
	case err == nil:
		return journal.OutcomeDone
	case xymodem.IsAborted(err):
		return journal.OutcomeAborted
	case xymodem.IsTimeout(err):
		return journal.OutcomeTimedOut
	default:
		return journal.OutcomeFailed
	}
}

// OpenJournal opens the journal at path, or returns nil when path is empty.
func OpenJournal(path string, log *zap.Logger) (*journal.Journal, error) {
	if path == "" {
		return nil, nil
	}
	return journal.Open(journal.Config{Path: path}, zap.NewStdLog(log))
}

// PrintHistory writes the newest n journal rows to w.
func PrintHistory(w io.Writer, path string, n int, log *zap.Logger) error {
	if path == "" {
		return fmt.Errorf("-history needs -journal")
	}
	j, err := OpenJournal(path, log)
	if err != nil {
		return err
	}
	defer j.Close()

	rows, err := j.Recent(n)
	if err != nil {
		return err
	}
	for _, r := range rows {
		fmt.Fprintln(w, r.String())
	}
	return nil
}

// Recorder collects per-file results for the journal.
type Recorder struct {
	j        *journal.Journal
	log      *zap.Logger
	dir      xymodem.Direction
	protocol xymodem.Protocol
}

// NewRecorder returns a recorder writing to j. A nil journal records nothing.
func NewRecorder(j *journal.Journal, dir xymodem.Direction, protocol xymodem.Protocol, log *zap.Logger) *Recorder {
	return &Recorder{j: j, log: log, dir: dir, protocol: protocol}
}

// Record stores one transfer result. ts may be nil when the transfer never
// started.
func (r *Recorder) Record(filename string, ts *xymodem.TransferSession, d time.Duration, err error) {
	if r == nil || r.j == nil {
		return
	}
	t := &journal.Transfer{
		Direction: r.dir.String(),
		Protocol:  r.protocol.String(),
		Filename:  filename,
		Duration:  d,
		Outcome:   Outcome(err),
	}
	if ts != nil {
		t.Bytes = ts.Bytes
		t.Blocks = ts.Blocks
		if ts.Negotiated {
			t.Variant = ts.Variant.String()
		}
	}
	if err != nil {
		t.Error = err.Error()
	}
	if rerr := r.j.Record(t); rerr != nil {
		r.log.Warn("journal write failed", zap.Error(rerr))
	}
}

// ProgressPrinter returns an OnProgress callback drawing a status line on
// stderr, or nil when stderr is not a terminal or output is quiet.
func ProgressPrinter(verbose, quiet bool) func(string, int64, int64, float64) {
	if quiet || !verbose || !term.IsTerminal(int(os.Stderr.Fd())) {
		return nil
	}
	return func(filename string, transferred, total int64, rate float64) {
		if total > 0 {
			percent := float64(transferred) / float64(total) * 100
			fmt.Fprintf(os.Stderr, "\r%s: %.1f%% (%.0f bytes/s)", filename, percent, rate)
			return
		}
		fmt.Fprintf(os.Stderr, "\r%s: %d bytes (%.0f bytes/s)", filename, transferred, rate)
	}
}
