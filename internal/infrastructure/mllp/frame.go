// Package mllp implements the Minimal Lower Layer Protocol used to carry
// HL7 v2 messages over TCP: a client that delivers queued messages to
// destination systems and a listener that accepts messages from sources.
package mllp

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// Frame delimiters
const (
	StartBlock     byte = 0x0B
	EndBlock       byte = 0x1C
	CarriageReturn byte = 0x0D
)

// DefaultMaxMessageSize bounds a single frame payload
const DefaultMaxMessageSize = 1 << 20

var (
	// ErrFrameTooLarge is returned when a payload exceeds the reader's limit
	ErrFrameTooLarge = errors.New("mllp: frame exceeds maximum message size")
	// ErrInvalidFrame is returned when the end block is not followed by a carriage return
	ErrInvalidFrame = errors.New("mllp: invalid frame trailer")
)

// Encode wraps payload in an MLLP frame
func Encode(payload []byte) []byte {
	frame := make([]byte, 0, len(payload)+3)
	frame = append(frame, StartBlock)
	frame = append(frame, payload...)
	return append(frame, EndBlock, CarriageReturn)
}

// WriteFrame writes payload to w as a single frame
func WriteFrame(w io.Writer, payload []byte) error {
	if bytes.IndexByte(payload, StartBlock) >= 0 || bytes.IndexByte(payload, EndBlock) >= 0 {
		return fmt.Errorf("mllp: payload contains a frame delimiter")
	}
	_, err := w.Write(Encode(payload))
	return err
}

// Reader reads MLLP frames from a byte stream
type Reader struct {
	r       *bufio.Reader
	maxSize int
}

// NewReader creates a frame reader; maxSize <= 0 uses DefaultMaxMessageSize
func NewReader(r io.Reader, maxSize int) *Reader {
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}
	return &Reader{r: bufio.NewReader(r), maxSize: maxSize}
}

// ReadFrame returns the next frame payload. Bytes before the start block are
// discarded. io.EOF is returned only when the stream ends between frames.
func (fr *Reader) ReadFrame() ([]byte, error) {
	for {
		b, err := fr.r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b == StartBlock {
			break
		}
	}

	var buf bytes.Buffer
	for {
		b, err := fr.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}

		switch b {
		case EndBlock:
			next, err := fr.r.ReadByte()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return nil, io.ErrUnexpectedEOF
				}
				return nil, err
			}
			if next != CarriageReturn {
				return nil, ErrInvalidFrame
			}
			return buf.Bytes(), nil
		case StartBlock:
			// a new frame started before the previous one ended; drop the partial one
			buf.Reset()
		default:
			if buf.Len() >= fr.maxSize {
				return nil, ErrFrameTooLarge
			}
			buf.WriteByte(b)
		}
	}
}
