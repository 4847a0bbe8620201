package xymodem

import (
	"bufio"
	"io"
	"runtime"
)

// Convention is the line terminator written to the host file in text mode.
type Convention int

const (
	// ConventionLF writes "\n"
	ConventionLF Convention = iota

	// ConventionCRLF writes "\r\n"
	ConventionCRLF
)

// HostConvention returns the line-ending convention of the running platform.
func HostConvention() Convention {
	if runtime.GOOS == "windows" {
		return ConventionCRLF
	}
	return ConventionLF
}

func (c Convention) lineEnd() []byte {
	if c == ConventionCRLF {
		return []byte{'\r', '\n'}
	}
	return []byte{'\n'}
}

func (c Convention) String() string {
	if c == ConventionCRLF {
		return "CRLF"
	}
	return "LF"
}

type byteClass int

const (
	classCR byteClass = iota
	classLF
	classSUB
	classOther
)

func classify(b byte) byteClass {
	switch b {
	case '\r':
		return classCR
	case '\n':
		return classLF
	case SUB:
		return classSUB
	default:
		return classOther
	}
}

// pairOp is what the normalizer does with a (first, second) byte pair.
type pairOp int

const (
	opEmitBoth           pairOp = iota // both verbatim
	opEmitFirstKeep                    // first verbatim, second becomes the carry
	opEmitFirstDrop                    // first verbatim, second dropped
	opEmitSecondDrop                   // first dropped, second verbatim
	opDropBoth                         // both dropped
	opDropFirstKeep                    // first dropped, second becomes the carry
	opLineEnd                          // one line terminator for both
	opLineEndKeep                      // line terminator for first, second becomes the carry
	opTwoLineEnds                      // one line terminator each
)

// transcodeTable is indexed [first][second] by byte class.
var transcodeTable = [4][4]pairOp{
	classCR: {
		classCR:    opTwoLineEnds,
		classLF:    opLineEnd,
		classSUB:   opLineEnd,
		classOther: opLineEndKeep,
	},
	classLF: {
		classCR:    opLineEnd,
		classLF:    opTwoLineEnds,
		classSUB:   opLineEnd,
		classOther: opLineEndKeep,
	},
	classSUB: {
		classCR:    opDropFirstKeep,
		classLF:    opDropFirstKeep,
		classSUB:   opDropBoth,
		classOther: opEmitSecondDrop,
	},
	classOther: {
		classCR:    opEmitFirstKeep,
		classLF:    opEmitFirstKeep,
		classSUB:   opEmitFirstDrop,
		classOther: opEmitBoth,
	},
}

// Normalizer converts text received off the wire into the host line-ending
// convention and strips SUB padding. Bytes are resolved in pairs; at most one
// unresolved byte is carried between calls so a CR/LF pair split across two
// blocks comes out the same as an unsplit one.
type Normalizer struct {
	convention Convention
	pending    byte
	hasPending bool
}

// NewNormalizer creates a normalizer writing the given convention.
func NewNormalizer(convention Convention) *Normalizer {
	return &Normalizer{convention: convention}
}

// Pending returns the carried byte, if any.
func (n *Normalizer) Pending() (byte, bool) {
	return n.pending, n.hasPending
}

// Normalize appends the transcoded form of p to dst and returns it.
func (n *Normalizer) Normalize(dst, p []byte) []byte {
	for _, b := range p {
		if !n.hasPending {
			n.pending = b
			n.hasPending = true
			continue
		}
		dst = n.resolve(dst, n.pending, b)
	}
	return dst
}

// Flush resolves the carried byte as if it were followed by SUB.
func (n *Normalizer) Flush(dst []byte) []byte {
	if !n.hasPending {
		return dst
	}
	n.hasPending = false
	return n.apply(dst, transcodeTable[classify(n.pending)][classSUB], n.pending, SUB)
}

// Reset drops any carried byte.
func (n *Normalizer) Reset() {
	n.hasPending = false
}

func (n *Normalizer) resolve(dst []byte, first, second byte) []byte {
	n.hasPending = false
	return n.apply(dst, transcodeTable[classify(first)][classify(second)], first, second)
}

func (n *Normalizer) apply(dst []byte, op pairOp, first, second byte) []byte {
	switch op {
	case opEmitBoth:
		dst = append(dst, first, second)
	case opEmitFirstKeep:
		dst = append(dst, first)
		n.keep(second)
	case opEmitFirstDrop:
		dst = append(dst, first)
	case opEmitSecondDrop:
		dst = append(dst, second)
	case opDropBoth:
	case opDropFirstKeep:
		n.keep(second)
	case opLineEnd:
		dst = append(dst, n.convention.lineEnd()...)
	case opLineEndKeep:
		dst = append(dst, n.convention.lineEnd()...)
		n.keep(second)
	case opTwoLineEnds:
		dst = append(dst, n.convention.lineEnd()...)
		dst = append(dst, n.convention.lineEnd()...)
	}
	return dst
}

func (n *Normalizer) keep(b byte) {
	n.pending = b
	n.hasPending = true
}

// textReader expands bare LF to CRLF on the send side so the wire always
// carries CR/LF text. A CR already followed by LF is passed through.
type textReader struct {
	r      *bufio.Reader
	prevCR bool
	owed   bool // an LF is owed after an inserted CR
}

func newTextReader(r io.Reader) *textReader {
	return &textReader{r: bufio.NewReader(r)}
}

func (t *textReader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if t.owed {
			p[n] = '\n'
			n++
			t.owed = false
			t.prevCR = false
			continue
		}
		if n > 0 && t.r.Buffered() == 0 {
			break
		}
		b, err := t.r.ReadByte()
		if err != nil {
			if n > 0 {
				return n, nil
			}
			return 0, err
		}
		if b == '\n' && !t.prevCR {
			p[n] = '\r'
			n++
			t.owed = true
			continue
		}
		p[n] = b
		n++
		t.prevCR = b == '\r'
	}
	return n, nil
}
