// Package source provides the byte sources a streamer serves from: local
// files, S3 objects and gocloud blob buckets.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"time"

	"github.com/tanq16/ranger/internal/byterange"
)

// ErrNotFound reports a resource that is missing or unreadable.
var ErrNotFound = errors.New("source: resource not found")

const defaultContentType = "application/octet-stream"

// Descriptor is the immutable metadata of a resource. It is captured once
// when the source is opened and shared read-only by every request.
type Descriptor struct {
	ID          string
	Name        string
	Size        int64
	ContentType string
	ETag        string
	ModTime     time.Time
}

// Source is a random-access byte source.
type Source interface {
	Descriptor() Descriptor
	Size() int64
	// OpenRange returns a stream over the inclusive range [start, end].
	OpenRange(ctx context.Context, start, end int64) (io.ReadCloser, error)
}

func checkRange(start, end, size int64) error {
	r := byterange.ByteRange{Start: start, End: end}
	if !r.Within(size) {
		return fmt.Errorf("%w: %s outside %d bytes", byterange.ErrInvalidRange, r, size)
	}
	return nil
}

// detectContentType guesses from the name's extension.
func detectContentType(name string) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return defaultContentType
}
