package ipc

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// maxLineBytes bounds one message. Status dumps of large networks run to a few
// megabytes.
const maxLineBytes = 64 << 20

// Encoder writes one JSON document per line. It is safe for concurrent use.
type Encoder struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewEncoder(w io.Writer) *Encoder {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &Encoder{enc: enc}
}

func (e *Encoder) Encode(v any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enc.Encode(v); err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	return nil
}

// Decoder reads newline-delimited JSON. A malformed line is reported by
// Decode and does not end the stream.
type Decoder struct {
	scanner *bufio.Scanner
}

func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &Decoder{scanner: scanner}
}

// SyntaxError wraps a line that could not be decoded.
type SyntaxError struct {
	Line string
	Err  error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("decode message: %v", e.Err)
}

func (e *SyntaxError) Unwrap() error { return e.Err }

// Decode reads the next non-blank line into v. It returns io.EOF at the end of
// the stream.
func (d *Decoder) Decode(v any) error {
	for d.scanner.Scan() {
		line := d.scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		if err := json.Unmarshal(line, v); err != nil {
			snippet := string(line)
			if len(snippet) > 256 {
				snippet = snippet[:256]
			}
			return &SyntaxError{Line: snippet, Err: err}
		}
		return nil
	}
	if err := d.scanner.Err(); err != nil {
		return fmt.Errorf("read message: %w", err)
	}
	return io.EOF
}
