package xymodem

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// BatchHeader is the YMODEM block-0 file description.
//
// Wire format: name\0size mtime mode 0 filesleft bytesleft, NUL padded to
// 128 bytes (1024 if it does not fit). Size is decimal, mtime and mode octal.
// A header with an empty name ends the batch.
type BatchHeader struct {
	Name      string
	Size      int64
	ModTime   time.Time
	Mode      os.FileMode
	FilesLeft int
	BytesLeft int64
}

// IsEnd reports whether h is the end-of-batch marker.
func (h *BatchHeader) IsEnd() bool {
	return h == nil || h.Name == ""
}

// BuildBatchHeader encodes h as a block-0 payload and returns it with the
// frame header byte it needs.
func BuildBatchHeader(h *BatchHeader) ([]byte, byte, error) {
	if h.IsEnd() {
		return make([]byte, BlockSize128), SOH, nil
	}
	if strings.IndexByte(h.Name, 0) >= 0 {
		return nil, 0, NewError(ErrProtocol, "file name contains NUL")
	}

	var b bytes.Buffer
	b.WriteString(h.Name)
	b.WriteByte(0)

	var mtime int64
	if !h.ModTime.IsZero() {
		mtime = h.ModTime.Unix()
	}
	fmt.Fprintf(&b, "%d %o %o 0 %d %d", h.Size, mtime, h.Mode&os.ModePerm, h.FilesLeft, h.BytesLeft)

	size, header := BlockSize128, byte(SOH)
	if b.Len() > BlockSize128 {
		size, header = BlockSize1K, STX
	}
	if b.Len() > size {
		return nil, 0, NewError(ErrProtocol, fmt.Sprintf("header for %q does not fit in a block", h.Name))
	}

	payload := make([]byte, size)
	copy(payload, b.Bytes())
	return payload, header, nil
}

// ParseBatchHeader decodes a block-0 payload. Missing trailing fields are
// left zero.
func ParseBatchHeader(payload []byte) (*BatchHeader, error) {
	nul := bytes.IndexByte(payload, 0)
	if nul < 0 {
		return nil, NewError(ErrProtocol, "no null terminator in file header")
	}
	h := &BatchHeader{Name: string(payload[:nul])}
	if h.Name == "" {
		return h, nil
	}

	info := payload[nul+1:]
	if end := bytes.IndexByte(info, 0); end >= 0 {
		info = info[:end]
	}
	fields := strings.Fields(string(info))

	var err error
	if len(fields) >= 1 {
		if h.Size, err = strconv.ParseInt(fields[0], 10, 64); err != nil {
			return nil, wrapError(ErrProtocol, "bad size in file header", err)
		}
	}
	if len(fields) >= 2 {
		mtime, err := strconv.ParseInt(fields[1], 8, 64)
		if err != nil {
			return nil, wrapError(ErrProtocol, "bad mtime in file header", err)
		}
		if mtime > 0 {
			h.ModTime = time.Unix(mtime, 0)
		}
	}
	if len(fields) >= 3 {
		mode, err := strconv.ParseUint(fields[2], 8, 32)
		if err != nil {
			return nil, wrapError(ErrProtocol, "bad mode in file header", err)
		}
		h.Mode = os.FileMode(mode) & os.ModePerm
	}
	if len(fields) >= 5 {
		h.FilesLeft, _ = strconv.Atoi(fields[4])
	}
	if len(fields) >= 6 {
		h.BytesLeft, _ = strconv.ParseInt(fields[5], 10, 64)
	}
	return h, nil
}

// SendHeader sends h as block 0 and waits for its ACK. Handshake must have
// completed.
func (s *Sender) SendHeader(h *BatchHeader) error {
	ts := s.ts
	if !ts.Negotiated {
		return NewError(ErrProtocol, "header before handshake")
	}
	payload, header, err := BuildBatchHeader(h)
	if err != nil {
		return err
	}
	ts.startFile(0)
	frame, err := Encode(ts.Variant, header, 0, payload)
	if err != nil {
		return err
	}
	if err := s.sendFrame(frame); err != nil {
		return err
	}
	ts.Expected = 1
	return nil
}

// SendBatchFile sends one file of a YMODEM batch: header, then data.
func (s *Sender) SendBatchFile(h *BatchHeader, src io.Reader) error {
	if h.IsEnd() {
		return NewError(ErrProtocol, "batch file without a name")
	}
	if err := s.Handshake(); err != nil {
		return err
	}
	s.logger.Info("sending header for %s (%d bytes)", h.Name, h.Size)
	if err := s.SendHeader(h); err != nil {
		return err
	}
	if err := s.Handshake(); err != nil {
		return err
	}
	return s.Send(src)
}

// EndBatch sends the empty header closing a YMODEM batch.
func (s *Sender) EndBatch() error {
	if err := s.Handshake(); err != nil {
		return err
	}
	if err := s.SendHeader(nil); err != nil {
		return err
	}
	s.ts.State = StateDone
	s.logger.Info("batch closed")
	return nil
}

// ReceiveHeader waits for the next block-0 header. An end-of-batch header
// is returned as is; check IsEnd.
func (r *Receiver) ReceiveHeader() (*BatchHeader, error) {
	r.ts.startFile(0)
	var h *BatchHeader
	err := r.receiveBlocks(func(b *Block) error {
		parsed, err := ParseBatchHeader(b.Payload)
		if err != nil {
			return err
		}
		h = parsed
		return nil
	}, true)
	if err != nil {
		return nil, err
	}
	if h.IsEnd() {
		r.logger.Info("end of batch")
	} else {
		r.logger.Info("header: %s, %d bytes, mode %o", h.Name, h.Size, h.Mode)
	}
	return h, nil
}

// ReceiveBatchFile receives the data of the file described by h into sink.
// In binary mode output stops at h.Size, dropping the final block's padding.
func (r *Receiver) ReceiveBatchFile(h *BatchHeader, sink io.Writer) error {
	r.ts.startFile(1)
	r.norm.Reset()

	var lw *limitWriter
	if r.ts.Mode == Binary && h.Size > 0 {
		lw = &limitWriter{w: sink, remaining: h.Size}
	}
	if err := r.receiveBlocks(r.dataDelivery(sink, lw), false); err != nil {
		return err
	}
	return r.flushText(sink)
}

// limitWriter passes through the first remaining bytes and silently drops
// the rest.
type limitWriter struct {
	w         io.Writer
	remaining int64
}

func (l *limitWriter) Write(p []byte) (int, error) {
	if l.remaining <= 0 {
		return len(p), nil
	}
	n := len(p)
	if int64(n) > l.remaining {
		n = int(l.remaining)
	}
	written, err := l.w.Write(p[:n])
	l.remaining -= int64(written)
	if err != nil {
		return written, err
	}
	return len(p), nil
}
