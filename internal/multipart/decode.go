package multipart

import (
	"bytes"
	"errors"
	"net/textproto"

	"github.com/tanq16/ranger/internal/byterange"
)

// ErrMalformedMultipart is returned when no boundary line can be found.
var ErrMalformedMultipart = errors.New("multipart: boundary not found")

// DecodedPart is one part recovered from a multipart/byteranges payload.
type DecodedPart struct {
	Header       textproto.MIMEHeader
	ContentRange string
	Body         []byte
}

// ByteRange parses the part's Content-Range header.
func (p DecodedPart) ByteRange() (byterange.ByteRange, int64, error) {
	return byterange.ParseContentRange(p.ContentRange)
}

type scanState int

const (
	scanBoundary scanState = iota
	scanSegment
	scanDone
)

// decoder walks a payload one segment at a time. Bodies are sub-slices of
// raw, so no byte is ever reinterpreted.
type decoder struct {
	raw   []byte
	pos   int
	delim []byte
	state scanState
	parts []DecodedPart
}

// Decode splits raw into its parts in order. It does not check that the
// parts cover anything in particular; concatenating the bodies yields the
// original resource only when they were encoded from a contiguous,
// ascending, non-overlapping cover.
func Decode(raw []byte) ([]DecodedPart, error) {
	d := &decoder{raw: raw}
	for d.state != scanDone {
		switch d.state {
		case scanBoundary:
			if err := d.scanBoundary(); err != nil {
				return nil, err
			}
		case scanSegment:
			d.scanSegment()
		}
	}
	return d.parts, nil
}

// FindBoundary returns the token of the first line that starts with "--".
func FindBoundary(raw []byte) (string, error) {
	for i := 0; i < len(raw); {
		line := raw[i:]
		if nl := bytes.IndexByte(line, '\n'); nl >= 0 {
			line = line[:nl+1]
		}
		if bytes.HasPrefix(line, []byte(dash)) {
			token := bytes.TrimRight(line[len(dash):], "\r\n")
			token = bytes.TrimRight(token, " \t")
			if len(token) > 0 {
				return string(token), nil
			}
		}
		i += len(line)
	}
	return "", ErrMalformedMultipart
}

func (d *decoder) scanBoundary() error {
	boundary, err := FindBoundary(d.raw)
	if err != nil {
		return err
	}
	d.delim = []byte(dash + boundary)
	// everything before the first delimiter is preamble
	d.pos = bytes.Index(d.raw, d.delim) + len(d.delim)
	d.state = scanSegment
	return nil
}

func (d *decoder) scanSegment() {
	rest := d.raw[d.pos:]
	segment := rest
	last := true
	if next := bytes.Index(rest, d.delim); next >= 0 {
		segment = rest[:next]
		d.pos += next + len(d.delim)
		last = false
	}
	if last {
		d.state = scanDone
	}
	if bytes.HasPrefix(segment, []byte(dash)) {
		d.state = scanDone
		return
	}
	if part, ok := parsePart(segment); ok {
		d.parts = append(d.parts, part)
	}
}

func parsePart(segment []byte) (DecodedPart, bool) {
	segment = trimLeadingEOL(segment)

	var headerBlock, body []byte
	switch {
	case bytes.HasPrefix(segment, []byte("\r\n")):
		body = segment[2:]
	case bytes.HasPrefix(segment, []byte("\n")):
		body = segment[1:]
	default:
		at, width := blankLine(segment)
		if at < 0 {
			return DecodedPart{}, false
		}
		headerBlock = segment[:at]
		body = segment[at+width:]
	}

	header := parseHeader(headerBlock)
	return DecodedPart{
		Header:       header,
		ContentRange: header.Get("Content-Range"),
		Body:         trimTrailingEOL(body),
	}, true
}

// blankLine finds the earliest header/body separator.
func blankLine(b []byte) (int, int) {
	crlfAt := bytes.Index(b, []byte("\r\n\r\n"))
	lfAt := bytes.Index(b, []byte("\n\n"))
	switch {
	case crlfAt < 0 && lfAt < 0:
		return -1, 0
	case lfAt < 0 || (crlfAt >= 0 && crlfAt < lfAt):
		return crlfAt, 4
	default:
		return lfAt, 2
	}
}

func parseHeader(block []byte) textproto.MIMEHeader {
	header := make(textproto.MIMEHeader)
	for _, line := range bytes.Split(block, []byte("\n")) {
		line = bytes.TrimRight(line, "\r")
		key, value, ok := bytes.Cut(line, []byte(":"))
		if !ok {
			continue
		}
		header.Add(textproto.CanonicalMIMEHeaderKey(string(bytes.TrimSpace(key))), string(bytes.TrimSpace(value)))
	}
	return header
}

func trimLeadingEOL(b []byte) []byte {
	if bytes.HasPrefix(b, []byte("\r\n")) {
		return b[2:]
	}
	if bytes.HasPrefix(b, []byte("\n")) {
		return b[1:]
	}
	return b
}

func trimTrailingEOL(b []byte) []byte {
	if bytes.HasSuffix(b, []byte("\r\n")) {
		return b[:len(b)-2]
	}
	if bytes.HasSuffix(b, []byte("\n")) {
		return b[:len(b)-1]
	}
	return b
}
