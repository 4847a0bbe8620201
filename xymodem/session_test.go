package xymodem

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// linkConfig suits two engines talking over io.Pipe.
func linkConfig() *Config {
	cfg := DefaultConfig()
	cfg.HandshakeTimeout = 5 * time.Second
	cfg.HandshakeInterval = 200 * time.Millisecond
	cfg.BlockTimeout = time.Second
	cfg.ByteTimeout = 500 * time.Millisecond
	cfg.RetryLimit = 5
	cfg.Convention = ConventionLF
	return cfg
}

type fakeInfo struct {
	name  string
	size  int64
	mode  os.FileMode
	mtime time.Time
}

func (f fakeInfo) Name() string       { return f.name }
func (f fakeInfo) Size() int64        { return f.size }
func (f fakeInfo) Mode() os.FileMode  { return f.mode }
func (f fakeInfo) ModTime() time.Time { return f.mtime }
func (f fakeInfo) IsDir() bool        { return false }
func (f fakeInfo) Sys() any           { return nil }

// both runs send and receive concurrently and returns their errors.
func both(send, receive func() error) (sendErr, recvErr error) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sendErr = send()
	}()
	go func() {
		defer wg.Done()
		recvErr = receive()
	}()
	wg.Wait()
	return
}

// memFiles serves OnFileOpen from memory.
func memFiles(files map[string][]byte, mode os.FileMode) func(string) (io.Reader, os.FileInfo, error) {
	return func(name string) (io.Reader, os.FileInfo, error) {
		data, ok := files[filepath.Base(name)]
		if !ok {
			return nil, nil, os.ErrNotExist
		}
		return bytes.NewReader(data), fakeInfo{name: name, size: int64(len(data)), mode: mode}, nil
	}
}

// memSinks collects OnFileCreate output.
type memSinks struct {
	mu    sync.Mutex
	files map[string]*bytes.Buffer
	modes map[string]os.FileMode
}

func newMemSinks() *memSinks {
	return &memSinks{files: map[string]*bytes.Buffer{}, modes: map[string]os.FileMode{}}
}

func (m *memSinks) create(name string, _ int64, mode os.FileMode) (io.Writer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := &bytes.Buffer{}
	m.files[name] = buf
	m.modes[name] = mode
	return buf, nil
}

func TestSession_XMODEM(t *testing.T) {
	t.Parallel()

	a, b := pipeLink(t)
	data := pattern(300)

	var completed int64
	sender := NewSession(a, WithConfig(linkConfig()), WithCallbacks(&Callbacks{
		OnFileComplete: func(_ string, n int64, _ time.Duration) { completed = n },
	}))
	receiver := NewSession(b, WithConfig(linkConfig()))

	var sink bytes.Buffer
	sendErr, recvErr := both(
		func() error { return sender.SendFile(context.Background(), "dir/file.bin", bytes.NewReader(data), nil) },
		func() error { return receiver.ReceiveFile(context.Background(), &sink) },
	)
	require.NoError(t, sendErr)
	require.NoError(t, recvErr)

	assert.Equal(t, subPadded(data, 384), sink.Bytes())
	assert.Equal(t, int64(300), completed)
	assert.Equal(t, StateDone, sender.Transfer().State)
	assert.Equal(t, StateDone, receiver.Transfer().State)
	assert.Equal(t, VariantCRC16, receiver.Transfer().Variant)
}

func TestSession_XMODEMChecksum(t *testing.T) {
	t.Parallel()

	a, b := pipeLink(t)
	cfg := linkConfig()
	cfg.Checksum = true

	sender := NewSession(a, WithConfig(linkConfig()))
	receiver := NewSession(b, WithConfig(cfg))

	var sink bytes.Buffer
	sendErr, recvErr := both(
		func() error { return sender.SendFile(context.Background(), "x", bytes.NewReader(pattern(256)), nil) },
		func() error { return receiver.ReceiveFile(context.Background(), &sink) },
	)
	require.NoError(t, sendErr)
	require.NoError(t, recvErr)
	assert.Equal(t, pattern(256), sink.Bytes())
	assert.Equal(t, VariantChecksum, sender.Transfer().Variant)
}

func TestSession_TextMode(t *testing.T) {
	t.Parallel()

	a, b := pipeLink(t)
	cfg := linkConfig()
	cfg.Mode = Text

	sender := NewSession(a, WithConfig(cfg))
	receiver := NewSession(b, WithConfig(cfg))

	var sink bytes.Buffer
	sendErr, recvErr := both(
		func() error {
			return sender.SendFile(context.Background(), "notes.txt", bytes.NewBufferString("one\ntwo\r\nthree\n"), nil)
		},
		func() error { return receiver.ReceiveFile(context.Background(), &sink) },
	)
	require.NoError(t, sendErr)
	require.NoError(t, recvErr)
	assert.Equal(t, "one\ntwo\nthree\n", sink.String())
}

func TestSession_YMODEMBatch(t *testing.T) {
	t.Parallel()

	a, b := pipeLink(t)
	files := map[string][]byte{
		"a.txt": pattern(300),
		"b.bin": pattern(1500),
		"empty": {},
	}

	sendCfg := linkConfig()
	sendCfg.Use1K = true
	sender := NewSession(a, WithConfig(sendCfg), WithCallbacks(&Callbacks{
		OnFileOpen: memFiles(files, 0o640),
	}))

	sinks := newMemSinks()
	var started []string
	receiver := NewSession(b, WithConfig(linkConfig()), WithCallbacks(&Callbacks{
		OnFileCreate: sinks.create,
		OnFileStart:  func(name string, _ int64, _ os.FileMode) { started = append(started, name) },
	}))

	var received int
	sendErr, recvErr := both(
		func() error {
			return sender.SendFiles(context.Background(), []FileInfo{
				{Filename: "/src/a.txt"},
				{Filename: "b.bin"},
				{Filename: "empty"},
			})
		},
		func() error {
			var err error
			received, err = receiver.ReceiveFiles(context.Background(), 0)
			return err
		},
	)
	require.NoError(t, sendErr)
	require.NoError(t, recvErr)

	assert.Equal(t, 3, received)
	assert.Equal(t, []string{"a.txt", "b.bin", "empty"}, started)
	assert.Equal(t, files["a.txt"], sinks.files["a.txt"].Bytes())
	assert.Equal(t, files["b.bin"], sinks.files["b.bin"].Bytes())
	assert.Zero(t, sinks.files["empty"].Len())
	assert.Equal(t, os.FileMode(0o640), sinks.modes["b.bin"])
	assert.Equal(t, VariantCRC16_1K, sender.Transfer().Variant)
}

func TestSession_YMODEMPromptReject(t *testing.T) {
	t.Parallel()

	a, b := pipeLink(t)
	files := map[string][]byte{"keep": pattern(100), "skip": pattern(700)}

	sender := NewSession(a, WithConfig(linkConfig()), WithCallbacks(&Callbacks{
		OnFileOpen: memFiles(files, 0o644),
	}))

	sinks := newMemSinks()
	receiver := NewSession(b, WithConfig(linkConfig()), WithCallbacks(&Callbacks{
		OnFileCreate: sinks.create,
		OnFilePrompt: func(name string, _ int64, _ os.FileMode) (bool, error) { return name != "skip", nil },
	}))

	var received int
	sendErr, recvErr := both(
		func() error {
			return sender.SendFiles(context.Background(), []FileInfo{{Filename: "skip"}, {Filename: "keep"}})
		},
		func() error {
			var err error
			received, err = receiver.ReceiveFiles(context.Background(), 0)
			return err
		},
	)
	require.NoError(t, sendErr)
	require.NoError(t, recvErr)

	assert.Equal(t, 1, received)
	assert.NotContains(t, sinks.files, "skip")
	assert.Equal(t, files["keep"], sinks.files["keep"].Bytes())
}

func TestSession_YMODEMMaxFiles(t *testing.T) {
	t.Parallel()

	a, b := pipeLink(t)
	files := map[string][]byte{"one": pattern(10), "two": pattern(20)}

	sender := NewSession(a, WithConfig(linkConfig()), WithCallbacks(&Callbacks{
		OnFileOpen: memFiles(files, 0o644),
	}))
	sinks := newMemSinks()
	receiver := NewSession(b, WithConfig(linkConfig()), WithCallbacks(&Callbacks{OnFileCreate: sinks.create}))

	var received int
	sendErr, recvErr := both(
		func() error {
			return sender.SendFiles(context.Background(), []FileInfo{{Filename: "one"}, {Filename: "two"}})
		},
		func() error {
			var err error
			received, err = receiver.ReceiveFiles(context.Background(), 1)
			return err
		},
	)
	require.NoError(t, sendErr)
	require.NoError(t, recvErr)
	assert.Equal(t, 1, received)
	assert.Len(t, sinks.files, 1)
	assert.Equal(t, files["one"], sinks.files["one"].Bytes())
}

func TestSession_SkipUnopenableFile(t *testing.T) {
	t.Parallel()

	a, b := pipeLink(t)
	files := map[string][]byte{"there": pattern(50)}

	var openErrs []string
	sender := NewSession(a, WithConfig(linkConfig()), WithCallbacks(&Callbacks{
		OnFileOpen: memFiles(files, 0o644),
		OnError: func(err error, where string) bool {
			openErrs = append(openErrs, where)
			return errors.Is(err, os.ErrNotExist)
		},
	}))
	sinks := newMemSinks()
	receiver := NewSession(b, WithConfig(linkConfig()), WithCallbacks(&Callbacks{OnFileCreate: sinks.create}))

	var received int
	sendErr, recvErr := both(
		func() error {
			return sender.SendFiles(context.Background(), []FileInfo{{Filename: "missing"}, {Filename: "there"}})
		},
		func() error {
			var err error
			received, err = receiver.ReceiveFiles(context.Background(), 0)
			return err
		},
	)
	require.NoError(t, sendErr)
	require.NoError(t, recvErr)
	assert.Equal(t, 1, received)
	assert.Equal(t, []string{"open file"}, openErrs)
	assert.Equal(t, files["there"], sinks.files["there"].Bytes())
}

func TestSession_YMODEMSingleFile(t *testing.T) {
	t.Parallel()

	a, b := pipeLink(t)
	cfg := linkConfig()
	cfg.Protocol = YMODEM

	sender := NewSession(a, WithConfig(cfg))
	receiver := NewSession(b, WithConfig(cfg))

	data := pattern(700)
	info := fakeInfo{name: "fw.bin", size: int64(len(data)), mode: 0o600}

	var sink bytes.Buffer
	sendErr, recvErr := both(
		func() error { return sender.SendFile(context.Background(), "out/fw.bin", bytes.NewReader(data), info) },
		func() error { return receiver.ReceiveFile(context.Background(), &sink) },
	)
	require.NoError(t, sendErr)
	require.NoError(t, recvErr)
	assert.Equal(t, data, sink.Bytes())
}

func TestSession_AbortMidTransfer(t *testing.T) {
	t.Parallel()

	a, b := pipeLink(t)

	var sender *Session
	sender = NewSession(a, WithConfig(linkConfig()), WithCallbacks(&Callbacks{
		OnBlock: func(_ string, n int) {
			if n == 2 {
				sender.Abort()
			}
		},
	}))
	receiver := NewSession(b, WithConfig(linkConfig()))

	var sink bytes.Buffer
	sendErr, recvErr := both(
		func() error { return sender.SendFile(context.Background(), "big", bytes.NewReader(pattern(4096)), nil) },
		func() error { return receiver.ReceiveFile(context.Background(), &sink) },
	)
	assert.True(t, IsAborted(sendErr), "sender: %v", sendErr)
	assert.True(t, IsAborted(recvErr), "receiver: %v", recvErr)
	assert.Equal(t, StateAborted, sender.Transfer().State)
	assert.Equal(t, StateAborted, receiver.Transfer().State)
	assert.Equal(t, 256, sink.Len())
}

func TestSession_ContextCancelsReceive(t *testing.T) {
	t.Parallel()

	_, b := pipeLink(t)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	receiver := NewSession(b, WithConfig(linkConfig()))
	err := receiver.ReceiveFile(ctx, io.Discard)
	assert.True(t, IsAborted(err))
}

func TestSession_ReceiveFilesToDisk(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	a, b := pipeLink(t)
	mtime := time.Date(2023, 6, 1, 8, 30, 0, 0, time.UTC)
	data := []byte("quarterly numbers\n")

	sender := NewSession(a, WithConfig(linkConfig()), WithCallbacks(&Callbacks{
		OnFileOpen: func(string) (io.Reader, os.FileInfo, error) {
			return bytes.NewReader(data), fakeInfo{name: "report.txt", size: int64(len(data)), mode: 0o640, mtime: mtime}, nil
		},
	}))
	receiver := NewSession(b, WithConfig(linkConfig()))

	sendErr, recvErr := both(
		func() error { return sender.SendFiles(context.Background(), []FileInfo{{Filename: "../../report.txt"}}) },
		func() error {
			_, err := receiver.ReceiveFiles(context.Background(), 0)
			return err
		},
	)
	require.NoError(t, sendErr)
	require.NoError(t, recvErr)

	path := filepath.Join(dir, "report.txt")
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	st, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), st.Mode().Perm())
	assert.True(t, mtime.Equal(st.ModTime()), "mtime %v", st.ModTime())
}

func TestSafeName(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"file.txt":         "file.txt",
		"a/b/c.txt":        "c.txt",
		"../../etc/passwd": "passwd",
		"..":               "unnamed",
		"/":                "unnamed",
		".":                "unnamed",
	}
	for in, want := range tests {
		assert.Equal(t, want, safeName(in), in)
	}
}

func TestSession_NilAbortToken(t *testing.T) {
	t.Parallel()

	peer := newScriptedPeer(WANTCRC)
	peer.respond = ackAll
	s := NewSession(peer, WithConfig(fastConfig()), WithAbort(nil))

	require.NoError(t, s.SendFile(context.Background(), "a.bin", bytes.NewReader(pattern(10)), nil))
	assert.NotPanics(t, s.Abort)
	err := s.SendFile(context.Background(), "a.bin", bytes.NewReader(pattern(10)), nil)
	assert.True(t, IsAborted(err))
}

func TestSession_UsableAfterAbort(t *testing.T) {
	t.Parallel()

	token := NewAbortToken()
	peer := newScriptedPeer(WANTCRC)
	peer.respond = ackAll
	s := NewSession(peer, WithConfig(fastConfig()), WithAbort(token))

	// An abort requested before the transfer cancels it at the first wait.
	s.Abort()
	err := s.SendFile(context.Background(), "a.bin", bytes.NewReader(pattern(10)), nil)
	require.True(t, IsAborted(err))
	assert.Equal(t, [][]byte{{CAN, CAN}}, peer.writes())
	assert.False(t, token.Requested())

	require.NoError(t, s.SendFile(context.Background(), "a.bin", bytes.NewReader(pattern(10)), nil))
	assert.Equal(t, StateDone, s.Transfer().State)
}
