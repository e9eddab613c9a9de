package proto

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// MaxLineSize bounds a single protocol line, excluding the newline.
const MaxLineSize = 1 << 20

var (
	// ErrMalformed is returned for lines that are not a single valid UTF-8 JSON object.
	ErrMalformed = errors.New("malformed message")
	// ErrLineTooLong is returned by LineReader for a line over its limit.
	// The rest of that line has been consumed, so reading can continue.
	ErrLineTooLong = fmt.Errorf("%w: line too long", ErrMalformed)
)

// Encode marshals v into one newline-terminated line.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Decode unmarshals a single line (with or without its trailing newline) into v.
func Decode(line []byte, v any) error {
	if n := len(line); n > 0 && line[n-1] == '\n' {
		line = line[:n-1]
	}
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	if len(line) == 0 {
		return fmt.Errorf("%w: empty line", ErrMalformed)
	}
	if !utf8.Valid(line) {
		return fmt.Errorf("%w: invalid utf-8", ErrMalformed)
	}
	if err := json.Unmarshal(line, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// LineReader reads newline-terminated lines of bounded length. Unlike
// bufio.Scanner it survives an over-long line: the line is skipped and
// ErrLineTooLong returned, and the next call reads the following line.
type LineReader struct {
	r   *bufio.Reader
	max int
}

func NewLineReader(r io.Reader, max int) *LineReader {
	if max <= 0 {
		max = MaxLineSize
	}
	return &LineReader{r: bufio.NewReaderSize(r, 4096), max: max}
}

// ReadLine returns the next line including its newline, if any. The slice
// is owned by the caller. A final line without newline is returned before
// io.EOF.
func (l *LineReader) ReadLine() ([]byte, error) {
	var line []byte
	tooLong := false
	for {
		chunk, err := l.r.ReadSlice('\n')
		if !tooLong {
			line = append(line, chunk...)
			if len(bytes.TrimRight(line, "\r\n")) > l.max {
				tooLong = true
				line = nil
			}
		}

		switch {
		case err == nil:
			if tooLong {
				return nil, ErrLineTooLong
			}
			return line, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case tooLong:
			return nil, ErrLineTooLong
		case errors.Is(err, io.EOF) && len(line) > 0:
			return line, nil
		default:
			return nil, err
		}
	}
}
