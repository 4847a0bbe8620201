package xymodem

import (
	"context"
	"io"
	"os"
	"path/filepath"
)

// Session represents an XMODEM/YMODEM transfer session over one link.
// It provides a high-level API for sending and receiving files.
type Session struct {
	t Transport

	config    *Config
	callbacks *Callbacks
	ctx       context.Context
	logger    Logger
	abort     *AbortToken
	progress  *ProgressTracker
	last      *TransferSession
}

// Option configures a Session.
type Option func(*Session)

// WithConfig sets the session configuration.
func WithConfig(config *Config) Option {
	return func(s *Session) {
		s.config = config
	}
}

// WithCallbacks sets the session callbacks.
func WithCallbacks(callbacks *Callbacks) Option {
	return func(s *Session) {
		s.callbacks = mergeCallbacks(callbacks)
	}
}

// WithContext sets the session context. Cancelling it aborts a running transfer.
func WithContext(ctx context.Context) Option {
	return func(s *Session) {
		s.ctx = ctx
	}
}

// WithLogger sets a logger for protocol debugging.
func WithLogger(logger Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithAbort shares an abort token with the caller. A nil token keeps the
// session's own.
func WithAbort(token *AbortToken) Option {
	return func(s *Session) {
		if token != nil {
			s.abort = token
		}
	}
}

// NewSession creates a new session over t.
func NewSession(t Transport, opts ...Option) *Session {
	s := &Session{
		t:         t,
		config:    DefaultConfig(),
		callbacks: defaultCallbacks(),
		ctx:       context.Background(),
		logger:    NoopLogger{},
		abort:     NewAbortToken(),
	}

	for _, opt := range opts {
		opt(s)
	}
	if s.config == nil {
		s.config = DefaultConfig()
	}

	s.progress = NewProgressTracker(s.callbacks.OnProgress, s.config.ProgressInterval)
	return s
}

// Abort cancels the running transfer. It is safe to call from any goroutine;
// the peer receives CAN CAN at the transfer's next wait point. An abort
// requested between transfers cancels the next one. The token is cleared
// when a transfer returns, so the session stays usable afterwards.
func (s *Session) Abort() {
	s.abort.Abort()
}

// Progress returns the session's progress tracker.
func (s *Session) Progress() *ProgressTracker {
	return s.progress
}

// resetAbort clears the abort token once a transfer has returned.
func (s *Session) resetAbort() {
	s.abort.Reset()
}

// runConfig builds the per-transfer configuration.
func (s *Session) runConfig(ctx context.Context) *Config {
	if ctx == nil {
		ctx = s.ctx
	}
	cfg := *s.config
	cfg.Context = ctx
	cfg.Abort = s.abort
	cfg.Logger = s.logger
	cfg.Callbacks = s.callbacks
	return &cfg
}

// Transfer returns the state of the most recent file transfer, or nil.
func (s *Session) Transfer() *TransferSession {
	return s.last
}

func (s *Session) beginFile(l *link, name string, size int64, mode os.FileMode) {
	s.last = l.ts
	l.filename = name
	l.progress = s.progress
	s.progress.Start(name, size)
	s.callbacks.OnFileStart(name, size, mode)
}

func (s *Session) endFile(l *link) {
	duration := s.progress.Complete()
	s.logger.Info("%s: %d bytes in %d blocks, %v", displayName(l.filename), l.ts.Bytes, l.ts.Blocks, duration)
	s.callbacks.OnFileComplete(l.filename, l.ts.Bytes, duration)
}

// SendFile sends a single file. Under XMODEM the name is only used for
// reporting; under YMODEM it is sent in the header and the batch is closed
// after the file.
func (s *Session) SendFile(ctx context.Context, filename string, file io.Reader, fileInfo os.FileInfo) error {
	defer s.resetAbort()

	snd := NewSender(s.t, s.runConfig(ctx))
	name := filepath.Base(filename)

	if snd.ts.Protocol == YMODEM {
		h := headerFor(name, fileInfo)
		h.FilesLeft = 1
		h.BytesLeft = h.Size
		if err := s.sendBatchFile(snd, h, file); err != nil {
			return err
		}
		if err := snd.EndBatch(); err != nil {
			s.callbacks.OnError(err, "end batch")
			return err
		}
		return nil
	}

	var size int64
	var mode os.FileMode
	if fileInfo != nil {
		size, mode = fileInfo.Size(), fileInfo.Mode()
	}
	s.beginFile(&snd.link, name, size, mode)
	if err := snd.SendFile(file); err != nil {
		s.callbacks.OnError(err, "send file")
		return err
	}
	s.endFile(&snd.link)
	return nil
}

func (s *Session) sendBatchFile(snd *Sender, h *BatchHeader, file io.Reader) error {
	s.beginFile(&snd.link, h.Name, h.Size, h.Mode)
	if err := snd.SendBatchFile(h, file); err != nil {
		s.callbacks.OnError(err, "send file")
		return err
	}
	s.endFile(&snd.link)
	return nil
}

// SendFiles sends multiple files as one YMODEM batch, regardless of the
// configured protocol. A file that cannot be opened is skipped when OnError
// returns true.
func (s *Session) SendFiles(ctx context.Context, files []FileInfo) error {
	defer s.resetAbort()

	cfg := s.runConfig(ctx)
	cfg.Protocol = YMODEM
	snd := NewSender(s.t, cfg)

	var bytesLeft int64
	for _, f := range files {
		if f.Info != nil {
			bytesLeft += f.Info.Size()
		}
	}

	for i, fileInfo := range files {
		file, info, closeFn, err := s.openSource(fileInfo)
		if err != nil {
			if s.callbacks.OnError(err, "open file") {
				s.logger.Info("skipping %s: %v", fileInfo.Filename, err)
				continue
			}
			snd.cancelPeer()
			return wrapError(ErrIO, "open "+fileInfo.Filename, err)
		}

		h := headerFor(filepath.Base(fileInfo.Filename), info)
		h.FilesLeft = len(files) - i
		h.BytesLeft = bytesLeft
		err = s.sendBatchFile(snd, h, file)
		closeFn()
		if err != nil {
			return err
		}
		bytesLeft -= h.Size
	}

	if err := snd.EndBatch(); err != nil {
		s.callbacks.OnError(err, "end batch")
		return err
	}
	return nil
}

func (s *Session) openSource(fi FileInfo) (io.Reader, os.FileInfo, func() error, error) {
	if s.callbacks.OnFileOpen != nil {
		r, info, err := s.callbacks.OnFileOpen(fi.Filename)
		if err != nil {
			return nil, nil, nil, err
		}
		if info == nil {
			info = fi.Info
		}
		closeFn := func() error { return nil }
		if c, ok := r.(io.Closer); ok {
			closeFn = c.Close
		}
		return r, info, closeFn, nil
	}

	f, err := os.Open(fi.Filename)
	if err != nil {
		return nil, nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, nil, err
	}
	return f, info, f.Close, nil
}

// ReceiveFile receives a single file into sink. Under YMODEM the first file
// of the batch goes to sink and any further files are drained.
func (s *Session) ReceiveFile(ctx context.Context, sink io.Writer) error {
	defer s.resetAbort()

	rcv := NewReceiver(s.t, s.runConfig(ctx))

	if rcv.ts.Protocol == YMODEM {
		used := false
		_, err := s.receiveBatch(rcv, func(h *BatchHeader, name string) (io.Writer, func() error, bool, error) {
			if used {
				return io.Discard, nil, false, nil
			}
			used = true
			return sink, nil, true, nil
		})
		return err
	}

	s.beginFile(&rcv.link, "", 0, 0)
	if err := rcv.Receive(sink); err != nil {
		s.callbacks.OnError(err, "receive file")
		return err
	}
	s.endFile(&rcv.link)
	return nil
}

// ReceiveFiles receives a YMODEM batch into files named after the headers.
// Files are created with OnFileCreate, or in the working directory. Once
// maxFiles (if positive) have been stored, further files are drained. It
// returns the number of files stored.
func (s *Session) ReceiveFiles(ctx context.Context, maxFiles int) (int, error) {
	defer s.resetAbort()

	cfg := s.runConfig(ctx)
	cfg.Protocol = YMODEM
	rcv := NewReceiver(s.t, cfg)

	stored := 0
	return s.receiveBatch(rcv, func(h *BatchHeader, name string) (io.Writer, func() error, bool, error) {
		if maxFiles > 0 && stored >= maxFiles {
			s.logger.Info("file limit reached, draining %s", name)
			return io.Discard, nil, false, nil
		}

		accept, err := s.callbacks.OnFilePrompt(name, h.Size, h.Mode)
		if err != nil {
			return nil, nil, false, err
		}
		if !accept {
			s.logger.Info("file %s rejected, draining", name)
			return io.Discard, nil, false, nil
		}

		w, closeFn, err := s.createSink(name, h)
		if err != nil {
			if s.callbacks.OnError(err, "create file") {
				return io.Discard, nil, false, nil
			}
			return nil, nil, false, wrapError(ErrIO, "create "+name, err)
		}
		stored++
		return w, closeFn, true, nil
	})
}

func (s *Session) createSink(name string, h *BatchHeader) (io.Writer, func() error, error) {
	if s.callbacks.OnFileCreate != nil {
		w, err := s.callbacks.OnFileCreate(name, h.Size, h.Mode)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() error { return nil }
		if c, ok := w.(io.Closer); ok {
			closeFn = c.Close
		}
		return w, closeFn, nil
	}

	f, err := os.Create(name)
	if err != nil {
		return nil, nil, err
	}
	return f, func() error {
		if err := f.Close(); err != nil {
			return err
		}
		applyAttributes(f.Name(), h)
		return nil
	}, nil
}

// sinkFunc picks the destination for a file announced by h. keep reports
// whether the file counts as stored.
type sinkFunc func(h *BatchHeader, name string) (w io.Writer, closeFn func() error, keep bool, err error)

func (s *Session) receiveBatch(rcv *Receiver, open sinkFunc) (int, error) {
	received := 0
	for {
		h, err := rcv.ReceiveHeader()
		if err != nil {
			s.callbacks.OnError(err, "receive header")
			return received, err
		}
		if h.IsEnd() {
			s.logger.Info("batch complete: %d files", received)
			return received, nil
		}

		name := safeName(h.Name)
		w, closeFn, keep, err := open(h, name)
		if err != nil {
			rcv.cancelPeer()
			rcv.ts.State = StateAborted
			s.callbacks.OnError(err, "open sink")
			return received, err
		}

		s.beginFile(&rcv.link, name, h.Size, h.Mode)
		err = rcv.ReceiveBatchFile(h, w)
		if closeFn != nil {
			if cerr := closeFn(); cerr != nil && err == nil {
				err = wrapError(ErrIO, "close "+name, cerr)
			}
		}
		if err != nil {
			s.callbacks.OnError(err, "receive file")
			return received, err
		}
		s.endFile(&rcv.link)
		if keep {
			received++
		}
	}
}

// applyAttributes sets the mode and mtime announced in the header. Failures
// are not fatal; the data is already on disk.
func applyAttributes(path string, h *BatchHeader) {
	if h.Mode != 0 {
		os.Chmod(path, h.Mode)
	}
	if !h.ModTime.IsZero() {
		os.Chtimes(path, h.ModTime, h.ModTime)
	}
}

func headerFor(name string, info os.FileInfo) *BatchHeader {
	h := &BatchHeader{Name: name}
	if info != nil {
		h.Size = info.Size()
		h.ModTime = info.ModTime()
		h.Mode = info.Mode() & os.ModePerm
	}
	return h
}

// safeName reduces a header name to a plain base name.
func safeName(name string) string {
	base := filepath.Base(filepath.FromSlash(name))
	switch base {
	case ".", "..", string(filepath.Separator):
		return "unnamed"
	}
	return base
}

func displayName(name string) string {
	if name == "" {
		return "transfer"
	}
	return name
}

// FileInfo holds information about a file to transfer.
type FileInfo struct {
	Filename string
	Info     os.FileInfo
}
