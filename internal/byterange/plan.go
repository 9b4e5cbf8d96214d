package byterange

import (
	"fmt"
	"strings"
)

// Kind classifies how a request is answered.
type Kind int

const (
	Full Kind = iota
	Single
	Multipart
	Unsatisfiable
)

func (k Kind) String() string {
	switch k {
	case Full:
		return "full"
	case Single:
		return "single"
	case Multipart:
		return "multipart"
	case Unsatisfiable:
		return "unsatisfiable"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Plan is the classified outcome of a Range header. Every range in a
// Single or Multipart plan lies within the resource.
type Plan struct {
	Ranges []ByteRange
	Kind   Kind
}

// Parser turns Range headers into plans. With Strict set, a malformed
// header yields Unsatisfiable instead of degrading to Full.
type Parser struct {
	Strict bool
}

// Parse classifies header against a resource of total bytes. The returned
// Plan is always usable; a non-nil error wraps ErrMalformedRange and means
// the policy fallback was applied.
func (p Parser) Parse(header string, total int64) (Plan, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return Plan{Kind: Full}, nil
	}
	ranges, err := parseSet(header, total)
	if err != nil {
		if p.Strict {
			return Plan{Kind: Unsatisfiable}, err
		}
		return Plan{Kind: Full}, err
	}
	return classify(ranges), nil
}

func classify(ranges []ByteRange) Plan {
	switch len(ranges) {
	case 0:
		return Plan{Kind: Unsatisfiable}
	case 1:
		return Plan{Ranges: ranges, Kind: Single}
	default:
		return Plan{Ranges: ranges, Kind: Multipart}
	}
}

// parseSet returns the satisfiable ranges of header in the order given.
// Unsatisfiable elements are dropped; syntax errors fail the whole header.
func parseSet(header string, total int64) ([]ByteRange, error) {
	unit, set, ok := strings.Cut(header, "=")
	if !ok || !strings.EqualFold(strings.TrimSpace(unit), "bytes") {
		return nil, fmt.Errorf("%w: missing bytes unit in %q", ErrMalformedRange, header)
	}
	var ranges []ByteRange
	elements := 0
	for _, spec := range strings.Split(set, ",") {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}
		elements++
		startPart, endPart, ok := strings.Cut(spec, "-")
		if !ok {
			return nil, fmt.Errorf("%w: %q has no '-'", ErrMalformedRange, spec)
		}
		startPart = strings.TrimSpace(startPart)
		endPart = strings.TrimSpace(endPart)

		if startPart == "" {
			// suffix-byte-range-spec
			n, err := parseOffset(endPart)
			if err != nil {
				return nil, fmt.Errorf("%w: suffix length in %q: %v", ErrMalformedRange, spec, err)
			}
			if n == 0 || total <= 0 {
				continue
			}
			ranges = append(ranges, ByteRange{Start: max(total-n, 0), End: total - 1})
			continue
		}

		start, err := parseOffset(startPart)
		if err != nil {
			return nil, fmt.Errorf("%w: first-byte-pos in %q: %v", ErrMalformedRange, spec, err)
		}
		end := total - 1
		if endPart != "" {
			end, err = parseOffset(endPart)
			if err != nil {
				return nil, fmt.Errorf("%w: last-byte-pos in %q: %v", ErrMalformedRange, spec, err)
			}
			if end < start {
				continue
			}
			end = min(end, total-1)
		}
		if start >= total {
			continue
		}
		ranges = append(ranges, ByteRange{Start: start, End: end})
	}
	if elements == 0 {
		return nil, fmt.Errorf("%w: no ranges in %q", ErrMalformedRange, header)
	}
	return ranges, nil
}
