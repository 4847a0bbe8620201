package xymodem

import (
	"context"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/ssh"
)

// SSHSession wraps an SSH session for XMODEM/YMODEM transfers against a
// remote lrzsz (rx, rb, sx, sb). It manages the stdin/stdout/stderr pipes.
type SSHSession struct {
	*Session
	sshSession *ssh.Session
	stdin      io.WriteCloser
	stdout     io.Reader
	stderr     io.Reader
}

// NewSSHSession creates a transfer session from an SSH session.
func NewSSHSession(sshSession *ssh.Session, opts ...Option) (*SSHSession, error) {
	stdin, err := sshSession.StdinPipe()
	if err != nil {
		return nil, err
	}

	stdout, err := sshSession.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, err
	}

	stderr, err := sshSession.StderrPipe()
	if err != nil {
		stdin.Close()
		return nil, err
	}

	// SSH pipes have no read deadline; pump them instead.
	session := NewSession(NewStreamTransport(stdout, stdin), opts...)

	return &SSHSession{
		Session:    session,
		sshSession: sshSession,
		stdin:      stdin,
		stdout:     stdout,
		stderr:     stderr,
	}, nil
}

// run starts cmd remotely, performs the local half of the transfer and
// waits for the remote command to exit.
func (s *SSHSession) run(ctx context.Context, cmd string, transfer func() error) error {
	if ctx == nil {
		ctx = s.ctx
	}
	s.logger.Info("ssh: running %q", cmd)
	if err := s.sshSession.Start(cmd); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- s.sshSession.Wait()
	}()

	err := transfer()

	// Close stdin to signal completion
	s.stdin.Close()

	select {
	case err2 := <-done:
		if err == nil {
			err = err2
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	return err
}

// SendFiles sends files as a YMODEM batch to a remote "rb".
func (s *SSHSession) SendFiles(ctx context.Context, files []FileInfo) error {
	return s.run(ctx, "rb", func() error {
		return s.Session.SendFiles(ctx, files)
	})
}

// SendFile sends one file. Under XMODEM the remote runs "rx name", under
// YMODEM "rb".
func (s *SSHSession) SendFile(ctx context.Context, filename string, file io.Reader, fileInfo os.FileInfo) error {
	cmd := "rb"
	if s.config.Protocol == XMODEM {
		cmd = "rx " + shellQuote(baseName(filename))
	}
	return s.run(ctx, cmd, func() error {
		return s.Session.SendFile(ctx, filename, file, fileInfo)
	})
}

// ReceiveFiles asks a remote "sb" for the named files and stores them like
// Session.ReceiveFiles.
func (s *SSHSession) ReceiveFiles(ctx context.Context, remote []string, maxFiles int) (int, error) {
	var n int
	err := s.run(ctx, "sb "+quoteAll(remote), func() error {
		var err error
		n, err = s.Session.ReceiveFiles(ctx, maxFiles)
		return err
	})
	return n, err
}

// ReceiveFile fetches one remote file into sink with "sx" (XMODEM) or "sb"
// (YMODEM).
func (s *SSHSession) ReceiveFile(ctx context.Context, remote string, sink io.Writer) error {
	cmd := "sx "
	if s.config.Protocol == YMODEM {
		cmd = "sb "
	}
	return s.run(ctx, cmd+shellQuote(remote), func() error {
		return s.Session.ReceiveFile(ctx, sink)
	})
}

// Close closes the SSH session and cleans up resources.
func (s *SSHSession) Close() error {
	var errs []error

	if s.stdin != nil {
		if err := s.stdin.Close(); err != nil && err != io.EOF {
			errs = append(errs, err)
		}
	}

	if s.sshSession != nil {
		if err := s.sshSession.Close(); err != nil && err != io.EOF {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errs[0] // Return first error
	}

	return nil
}

// Stderr returns the stderr reader for monitoring remote command output.
func (s *SSHSession) Stderr() io.Reader {
	return s.stderr
}

func baseName(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		return name[i+1:]
	}
	return name
}

// shellQuote quotes s for a POSIX shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func quoteAll(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = shellQuote(n)
	}
	return strings.Join(quoted, " ")
}
