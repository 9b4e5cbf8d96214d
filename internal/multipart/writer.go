// Package multipart encodes and decodes multipart/byteranges bodies.
//
// The framing is byte-exact: every part is "--boundary CRLF", its headers,
// a blank line, the body and a CRLF; the body ends with "--boundary--CRLF".
// Decode is the inverse of this framing and works on raw bytes only.
package multipart

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/tanq16/ranger/internal/byterange"
)

const (
	crlf = "\r\n"
	dash = "--"

	// BoundaryPrefix starts every generated boundary token.
	BoundaryPrefix = "BYTERANGES_"
)

var errClosed = errors.New("multipart: writer closed")

// NewBoundary returns a fresh boundary token. Collision with body bytes
// is unlikely but not impossible.
func NewBoundary() string {
	return BoundaryPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ContentType returns the response Content-Type for boundary.
func ContentType(boundary string) string {
	return "multipart/byteranges; boundary=" + boundary
}

// Part is an in-memory part for Encode.
type Part struct {
	Range       byterange.ByteRange
	Total       int64
	ContentType string
	Body        []byte
}

// Writer streams parts to an underlying writer as they are written.
type Writer struct {
	w        io.Writer
	boundary string
	buf      []byte
	closed   bool
}

func NewWriter(w io.Writer, boundary string) *Writer {
	return &Writer{w: w, boundary: boundary}
}

func (mw *Writer) Boundary() string {
	return mw.boundary
}

// SetBuffer sets the buffer used to copy part bodies, bounding how much of
// a body is held in memory at once.
func (mw *Writer) SetBuffer(buf []byte) {
	mw.buf = buf
}

// WritePart writes one part whose body is exactly r.Len() bytes read from
// body. A body that ends early yields io.ErrUnexpectedEOF.
func (mw *Writer) WritePart(contentType string, r byterange.ByteRange, total int64, body io.Reader) (int64, error) {
	if mw.closed {
		return 0, errClosed
	}
	var header bytes.Buffer
	header.WriteString(dash + mw.boundary + crlf)
	if contentType != "" {
		header.WriteString("Content-Type: " + contentType + crlf)
	}
	header.WriteString("Content-Range: " + byterange.ContentRange(r, total) + crlf)
	header.WriteString(crlf)
	if _, err := mw.w.Write(header.Bytes()); err != nil {
		return 0, fmt.Errorf("write part header: %w", err)
	}

	n, err := io.CopyBuffer(mw.w, io.LimitReader(body, r.Len()), mw.buf)
	if err != nil {
		return n, err
	}
	if n != r.Len() {
		return n, fmt.Errorf("part %s: %w after %d of %d bytes", r, io.ErrUnexpectedEOF, n, r.Len())
	}
	if _, err := io.WriteString(mw.w, crlf); err != nil {
		return n, err
	}
	return n, nil
}

// Close writes the terminal boundary marker.
func (mw *Writer) Close() error {
	if mw.closed {
		return errClosed
	}
	mw.closed = true
	_, err := io.WriteString(mw.w, dash+mw.boundary+dash+crlf)
	return err
}

// Encode returns a lazy reader over the encoding of parts. Bytes are
// produced only as the reader is consumed, and the reader cannot be rewound.
// Closing the reader early stops production.
func Encode(parts []Part, boundary string) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		mw := NewWriter(pw, boundary)
		for _, p := range parts {
			if _, err := mw.WritePart(p.ContentType, p.Range, p.Total, bytes.NewReader(p.Body)); err != nil {
				pw.CloseWithError(err)
				return
			}
		}
		pw.CloseWithError(mw.Close())
	}()
	return pr
}
