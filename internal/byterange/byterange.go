// Package byterange implements RFC 7233 byte-range handling: parsing and
// classifying Range headers, and formatting Content-Range values.
package byterange

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrMalformedRange reports a Range header that is not valid syntax.
	ErrMalformedRange = errors.New("byterange: malformed range")
	// ErrInvalidRange reports a range with negative or inverted bounds.
	ErrInvalidRange = errors.New("byterange: invalid range")
)

// ByteRange is an inclusive [Start, End] offset pair.
type ByteRange struct {
	Start int64
	End   int64
}

// Len returns the number of bytes covered by r.
func (r ByteRange) Len() int64 {
	return r.End - r.Start + 1
}

// Valid reports whether r has ordered, non-negative bounds.
func (r ByteRange) Valid() bool {
	return r.Start >= 0 && r.Start <= r.End
}

// Within reports whether r addresses bytes of a resource of the given size.
func (r ByteRange) Within(total int64) bool {
	return r.Valid() && r.End < total
}

func (r ByteRange) String() string {
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// Header returns r as a Range request header value.
func (r ByteRange) Header() string {
	return "bytes=" + r.String()
}

// ContentRange formats the Content-Range value for r within total bytes.
func ContentRange(r ByteRange, total int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, total)
}

// UnsatisfiedContentRange formats the Content-Range value sent with a 416.
func UnsatisfiedContentRange(total int64) string {
	return fmt.Sprintf("bytes */%d", total)
}

// ParseContentRange parses "bytes start-end/total". A total of "*" is
// reported as -1.
func ParseContentRange(value string) (ByteRange, int64, error) {
	value = strings.TrimSpace(value)
	unit, spec, ok := strings.Cut(value, " ")
	if !ok || !strings.EqualFold(unit, "bytes") {
		return ByteRange{}, 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	rangePart, totalPart, ok := strings.Cut(strings.TrimSpace(spec), "/")
	if !ok {
		return ByteRange{}, 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	startPart, endPart, ok := strings.Cut(rangePart, "-")
	if !ok {
		return ByteRange{}, 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	start, err := parseOffset(startPart)
	if err != nil {
		return ByteRange{}, 0, fmt.Errorf("invalid start byte in %q: %w", value, err)
	}
	end, err := parseOffset(endPart)
	if err != nil {
		return ByteRange{}, 0, fmt.Errorf("invalid end byte in %q: %w", value, err)
	}
	r := ByteRange{Start: start, End: end}
	if !r.Valid() {
		return ByteRange{}, 0, fmt.Errorf("%w: %s", ErrInvalidRange, r)
	}
	total := int64(-1)
	if totalPart != "*" {
		total, err = parseOffset(totalPart)
		if err != nil {
			return ByteRange{}, 0, fmt.Errorf("invalid total in %q: %w", value, err)
		}
		if end >= total {
			return ByteRange{}, 0, fmt.Errorf("%w: %s beyond total %d", ErrInvalidRange, r, total)
		}
	}
	return r, total, nil
}

// ParseList parses a comma-separated list such as "0-9,10-19" into ranges,
// keeping order and duplicates.
func ParseList(csv string) ([]ByteRange, error) {
	var ranges []ByteRange
	for _, token := range strings.Split(csv, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		startPart, endPart, ok := strings.Cut(token, "-")
		if !ok {
			return nil, fmt.Errorf("%w: %q is not start-end", ErrInvalidRange, token)
		}
		start, err := parseOffset(startPart)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidRange, token, err)
		}
		end, err := parseOffset(endPart)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidRange, token, err)
		}
		r := ByteRange{Start: start, End: end}
		if !r.Valid() {
			return nil, fmt.Errorf("%w: %s", ErrInvalidRange, r)
		}
		ranges = append(ranges, r)
	}
	if len(ranges) == 0 {
		return nil, fmt.Errorf("%w: empty range list", ErrInvalidRange)
	}
	return ranges, nil
}

// Split divides total bytes into n contiguous ranges; the last range
// absorbs the remainder. n is reduced when total is smaller than n.
func Split(total int64, n int) []ByteRange {
	if total <= 0 {
		return nil
	}
	if n <= 0 {
		n = 1
	}
	if int64(n) > total {
		n = int(total)
	}
	chunkSize := total / int64(n)
	ranges := make([]ByteRange, 0, n)
	for i := range n {
		start := int64(i) * chunkSize
		end := start + chunkSize - 1
		if i == n-1 {
			end = total - 1
		}
		ranges = append(ranges, ByteRange{Start: start, End: end})
	}
	return ranges
}

// MaxEnd returns the largest End across ranges, or -1 for an empty list.
func MaxEnd(ranges []ByteRange) int64 {
	end := int64(-1)
	for _, r := range ranges {
		end = max(end, r.End)
	}
	return end
}

// parseOffset accepts only unsigned decimal digits.
func parseOffset(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty offset")
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, fmt.Errorf("non-digit in offset %q", s)
		}
	}
	return strconv.ParseInt(s, 10, 64)
}
