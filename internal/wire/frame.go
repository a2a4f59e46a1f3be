// Package wire defines the on-the-network frame format and the message
// catalog of spec.md §6: one self-describing, UTF-8, newline-terminated
// JSON object per message, encoded with github.com/ugorji/go/codec's
// JsonHandle (the teacher's ugorji codec dependency, switched from its
// MsgpackHandle to JsonHandle to produce text frames instead of binary
// ones).
package wire

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/ugorji/go/codec"
)

var jsonHandle codec.JsonHandle

// Frame is one line on the wire: a tag identifying the message type and
// its JSON-encoded body.
type Frame struct {
	Tag  Tag             `json:"tag"`
	Body json.RawMessage `json:"body,omitempty"`
}

// Encode renders msg into a Frame tagged t.
func Encode(t Tag, msg interface{}) (Frame, error) {
	var buf []byte
	if msg != nil {
		if err := codec.NewEncoderBytes(&buf, &jsonHandle).Encode(msg); err != nil {
			return Frame{}, fmt.Errorf("wire: encode %s: %w", t, err)
		}
	}
	return Frame{Tag: t, Body: buf}, nil
}

// Decode unmarshals a Frame's body into out.
func Decode(f Frame, out interface{}) error {
	if len(f.Body) == 0 {
		return nil
	}
	if err := codec.NewDecoderBytes(f.Body, &jsonHandle).Decode(out); err != nil {
		return fmt.Errorf("wire: decode %s: %w", f.Tag, err)
	}
	return nil
}

// Reader reads newline-delimited Frames off a stream.
type Reader struct {
	scanner *bufio.Scanner
}

func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	return &Reader{scanner: scanner}
}

// ReadFrame blocks until the next line arrives, returning io.EOF when the
// underlying stream closes.
func (r *Reader) ReadFrame() (Frame, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return Frame{}, err
		}
		return Frame{}, io.EOF
	}
	var f Frame
	if err := codec.NewDecoderBytes(r.scanner.Bytes(), &jsonHandle).Decode(&f); err != nil {
		return Frame{}, fmt.Errorf("wire: malformed frame: %w", err)
	}
	return f, nil
}

// Writer writes newline-delimited Frames to a stream. Safe for concurrent
// use: multiple agents may hold the same peer channel's Writer.
type Writer struct {
	mu sync.Mutex
	w  *bufio.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

func (w *Writer) WriteFrame(f Frame) error {
	var line []byte
	if err := codec.NewEncoderBytes(&line, &jsonHandle).Encode(f); err != nil {
		return fmt.Errorf("wire: encode frame %s: %w", f.Tag, err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.w.Write(line); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}
