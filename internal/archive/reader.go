package archive

import (
	"bufio"
	"bytes"
	"errors"
	"io"

	"github.com/klauspost/compress/gzip"
)

// Lines iterates newline-delimited records, decompressing gzip input.
type Lines struct {
	src  io.Closer
	gz   *gzip.Reader
	r    *bufio.Reader
	line []byte
	err  error
	n    int
}

// NewLines wraps rc. When compressed is true the stream is gunzipped.
func NewLines(rc io.ReadCloser, compressed bool) (*Lines, error) {
	l := &Lines{src: rc}
	var r io.Reader = rc
	if compressed {
		gz, err := gzip.NewReader(rc)
		if err != nil {
			rc.Close()
			return nil, err
		}
		l.gz = gz
		r = gz
	}
	l.r = bufio.NewReaderSize(r, 64*1024)
	return l, nil
}

// Next advances to the next non-empty line.
func (l *Lines) Next() bool {
	for l.err == nil {
		line, err := l.r.ReadBytes('\n')
		if len(line) > 0 {
			line = bytes.TrimSpace(line)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				l.err = err
				return false
			}
			l.err = io.EOF
		}
		if len(line) > 0 {
			l.line = line
			l.n++
			return true
		}
	}
	return false
}

// Bytes returns the current line. It is valid until the next call to Next.
func (l *Lines) Bytes() []byte { return l.line }

// Count reports how many lines have been returned.
func (l *Lines) Count() int { return l.n }

// Err returns the first non-EOF error.
func (l *Lines) Err() error {
	if errors.Is(l.err, io.EOF) {
		return nil
	}
	return l.err
}

// Close releases the decompressor and the underlying file.
func (l *Lines) Close() error {
	if l.gz != nil {
		l.gz.Close()
	}
	return l.src.Close()
}
