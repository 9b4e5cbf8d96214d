// Package streamer answers HTTP requests for a single resource with full,
// single-range, multi-range or unsatisfiable responses.
package streamer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/ranger/internal/byterange"
	"github.com/tanq16/ranger/internal/multipart"
	"github.com/tanq16/ranger/internal/source"
	"github.com/tanq16/ranger/internal/utils"
	"golang.org/x/time/rate"
)

// Options tunes a Streamer.
type Options struct {
	// Strict answers malformed Range headers with 416 instead of the full body.
	Strict bool
	// ChunkSize bounds the bytes held in memory per response.
	// Default: 64KiB
	ChunkSize int
	// RateLimit caps each response in bytes per second. Zero disables it.
	RateLimit int64
	// Boundary generates multipart boundary tokens.
	// Default: multipart.NewBoundary
	Boundary func() string
}

// Streamer serves one resource. It holds no per-request state, so a single
// Streamer serves any number of concurrent requests.
type Streamer struct {
	desc   source.Descriptor
	src    source.Source
	parser byterange.Parser
	opts   Options
}

func New(desc source.Descriptor, src source.Source, opts Options) *Streamer {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = utils.DefaultBufferSize
	}
	if opts.Boundary == nil {
		opts.Boundary = multipart.NewBoundary
	}
	return &Streamer{
		desc:   desc,
		src:    src,
		parser: byterange.Parser{Strict: opts.Strict},
		opts:   opts,
	}
}

// Descriptor returns the metadata of the served resource.
func (s *Streamer) Descriptor() source.Descriptor {
	return s.desc
}

func (s *Streamer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.setResourceHeaders(w.Header())

	if r.Method == http.MethodHead {
		s.setFullHeaders(w.Header())
		w.WriteHeader(http.StatusOK)
		return
	}

	plan, err := s.parser.Parse(r.Header.Get("Range"), s.desc.Size)
	if err != nil {
		log.Debug().Str("op", "streamer/serve").Err(err).Msgf("malformed range for %s, serving as %s", s.desc.ID, plan.Kind)
	}
	log.Debug().Str("op", "streamer/serve").Msgf("%s %s: %s %v", r.Method, s.desc.ID, plan.Kind, plan.Ranges)

	switch plan.Kind {
	case byterange.Single:
		s.serveSingle(w, r, plan.Ranges[0])
	case byterange.Multipart:
		s.serveMultipart(w, r, plan.Ranges)
	case byterange.Unsatisfiable:
		s.serveUnsatisfiable(w)
	default:
		s.serveFull(w, r)
	}
}

func (s *Streamer) setResourceHeaders(h http.Header) {
	h.Set("Accept-Ranges", "bytes")
	if s.desc.ETag != "" {
		h.Set("ETag", s.desc.ETag)
	}
	if !s.desc.ModTime.IsZero() {
		h.Set("Last-Modified", s.desc.ModTime.UTC().Format(http.TimeFormat))
	}
}

func (s *Streamer) setFullHeaders(h http.Header) {
	h.Set("Content-Type", s.desc.ContentType)
	h.Set("Content-Length", strconv.FormatInt(s.desc.Size, 10))
	s.setDisposition(h)
}

func (s *Streamer) setDisposition(h http.Header) {
	if s.desc.Name != "" {
		h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", s.desc.Name))
	}
}

func (s *Streamer) serveFull(w http.ResponseWriter, r *http.Request) {
	if s.desc.Size == 0 {
		s.setFullHeaders(w.Header())
		w.WriteHeader(http.StatusOK)
		return
	}
	full := byterange.ByteRange{Start: 0, End: s.desc.Size - 1}
	body, ok := s.open(w, r, full)
	if !ok {
		return
	}
	defer body.Close()

	s.setFullHeaders(w.Header())
	w.WriteHeader(http.StatusOK)
	s.stream(w, r, body, full)
}

func (s *Streamer) serveSingle(w http.ResponseWriter, r *http.Request, rng byterange.ByteRange) {
	body, ok := s.open(w, r, rng)
	if !ok {
		return
	}
	defer body.Close()

	h := w.Header()
	h.Set("Content-Type", s.desc.ContentType)
	h.Set("Content-Range", byterange.ContentRange(rng, s.desc.Size))
	h.Set("Content-Length", strconv.FormatInt(rng.Len(), 10))
	s.setDisposition(h)
	w.WriteHeader(http.StatusPartialContent)
	s.stream(w, r, body, rng)
}

// serveMultipart writes the parts in request order; Content-Length is not
// known ahead of the framing and is not sent.
func (s *Streamer) serveMultipart(w http.ResponseWriter, r *http.Request, ranges []byterange.ByteRange) {
	first, ok := s.open(w, r, ranges[0])
	if !ok {
		return
	}
	boundary := s.opts.Boundary()
	w.Header().Set("Content-Type", multipart.ContentType(boundary))
	w.WriteHeader(http.StatusPartialContent)

	out := s.output(w, r)
	mw := multipart.NewWriter(out, boundary)
	mw.SetBuffer(make([]byte, s.opts.ChunkSize))
	for i, rng := range ranges {
		body := first
		if i > 0 {
			var err error
			body, err = s.src.OpenRange(r.Context(), rng.Start, rng.End)
			if err != nil {
				s.abort(r, fmt.Errorf("open part %d (%s): %w", i, rng, err))
			}
		}
		_, err := mw.WritePart(s.desc.ContentType, rng, s.desc.Size, body)
		body.Close()
		if err != nil {
			s.abort(r, fmt.Errorf("write part %d (%s): %w", i, rng, err))
		}
	}
	if err := mw.Close(); err != nil {
		s.abort(r, fmt.Errorf("write closing boundary: %w", err))
	}
}

func (s *Streamer) serveUnsatisfiable(w http.ResponseWriter) {
	w.Header().Set("Content-Range", byterange.UnsatisfiedContentRange(s.desc.Size))
	w.Header().Set("Content-Length", "0")
	w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
}

// open opens the first stream of a response before any header is sent, so
// a missing resource can still become a 404.
func (s *Streamer) open(w http.ResponseWriter, r *http.Request, rng byterange.ByteRange) (io.ReadCloser, bool) {
	body, err := s.src.OpenRange(r.Context(), rng.Start, rng.End)
	if err == nil {
		return body, true
	}
	h := w.Header()
	h.Del("ETag")
	h.Del("Last-Modified")
	if errors.Is(err, source.ErrNotFound) {
		log.Warn().Str("op", "streamer/serve").Err(err).Msgf("resource %s not found", s.desc.ID)
		http.Error(w, "resource not found", http.StatusNotFound)
		return nil, false
	}
	log.Error().Str("op", "streamer/serve").Err(err).Msgf("error opening resource %s", s.desc.ID)
	http.Error(w, "error reading resource", http.StatusInternalServerError)
	return nil, false
}

// stream copies exactly rng.Len() bytes of body to the client.
func (s *Streamer) stream(w http.ResponseWriter, r *http.Request, body io.Reader, rng byterange.ByteRange) {
	buf := make([]byte, s.opts.ChunkSize)
	n, err := io.CopyBuffer(s.output(w, r), io.LimitReader(body, rng.Len()), buf)
	if err == nil && n != rng.Len() {
		err = fmt.Errorf("%w: source ended after %d of %d bytes", io.ErrUnexpectedEOF, n, rng.Len())
	}
	if err != nil {
		s.abort(r, fmt.Errorf("stream %s: %w", rng, err))
	}
}

func (s *Streamer) output(w http.ResponseWriter, r *http.Request) io.Writer {
	out := &flushWriter{w: w, rc: http.NewResponseController(w), ctx: r.Context()}
	if s.opts.RateLimit > 0 {
		out.limiter = rate.NewLimiter(rate.Limit(s.opts.RateLimit), s.opts.ChunkSize)
	}
	return out
}

// abort tears down the connection. The status line is already on the wire,
// so truncation is the only signal left: the client sees a short body or a
// missing closing boundary.
func (s *Streamer) abort(r *http.Request, err error) {
	if r.Context().Err() != nil {
		log.Debug().Str("op", "streamer/serve").Err(err).Msgf("client went away while streaming %s", s.desc.ID)
	} else {
		log.Error().Str("op", "streamer/serve").Err(err).Msgf("aborting response for %s", s.desc.ID)
	}
	panic(http.ErrAbortHandler)
}

// flushWriter pushes every chunk to the client as soon as it is written.
// Writes block while the socket is full, which stalls the source read.
type flushWriter struct {
	w       io.Writer
	rc      *http.ResponseController
	ctx     context.Context
	limiter *rate.Limiter
}

func (f *flushWriter) Write(p []byte) (int, error) {
	if f.limiter != nil {
		for left := len(p); left > 0; {
			n := min(left, f.limiter.Burst())
			if err := f.limiter.WaitN(f.ctx, n); err != nil {
				return 0, err
			}
			left -= n
		}
	}
	n, err := f.w.Write(p)
	if err != nil {
		return n, err
	}
	if err := f.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return n, err
	}
	return n, nil
}
