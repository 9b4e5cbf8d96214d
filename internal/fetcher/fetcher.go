// Package fetcher downloads a list of byte ranges concurrently and writes
// each one at its offset in a single output file.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/ranger/internal/byterange"
	"github.com/tanq16/ranger/internal/utils"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrChunkIntegrity reports a response body whose length differs from
	// the requested range.
	ErrChunkIntegrity = errors.New("fetcher: chunk integrity check failed")
	// ErrUnexpectedStatus reports a status other than 206, or 200 for a
	// single-range job.
	ErrUnexpectedStatus = errors.New("fetcher: unexpected status")
)

const (
	DefaultChunkTimeout = 60 * time.Second
	DefaultRetries      = 5
)

// Transport issues one GET. The per-request deadline rides on ctx.
type Transport interface {
	Get(ctx context.Context, url, rangeHeader string) (*utils.Response, error)
}

type State int

const (
	Pending State = iota
	Completed
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Job describes one fetch.
type Job struct {
	URL        string
	Ranges     []byterange.ByteRange
	OutputPath string
	// Concurrency caps in-flight requests. Default: 8
	Concurrency int
	// ChunkTimeout bounds each attempt at a range. Default: 60s
	ChunkTimeout time.Duration
	// Retries is the number of extra attempts after a retryable failure.
	// Zero means the default of 5; negative disables retries.
	Retries int
	// Progress receives byte deltas as they are written, and a negative
	// delta when a partial attempt is discarded. It is called from many
	// goroutines at once.
	Progress func(n int64)
}

type ChunkResult struct {
	Index   int
	Range   byterange.ByteRange
	State   State
	Written int64
	Err     error
}

// Result lists every range of a job in input order.
type Result struct {
	Chunks  []ChunkResult
	Size    int64
	Elapsed time.Duration
}

// Completed reports how many chunks finished.
func (r *Result) Completed() int {
	n := 0
	for _, c := range r.Chunks {
		if c.State == Completed {
			n++
		}
	}
	return n
}

// ChunkError is the failure that ended a job.
type ChunkError struct {
	Index int
	Range byterange.ByteRange
	Err   error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d (%s): %v", e.Index, e.Range, e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}

type Fetcher struct {
	transport Transport
	// Backoff is the delay before the first retry; it doubles per attempt
	// up to MaxBackoff, with jitter.
	Backoff    time.Duration
	MaxBackoff time.Duration
}

func New(t Transport) *Fetcher {
	return &Fetcher{
		transport:  t,
		Backoff:    500 * time.Millisecond,
		MaxBackoff: 10 * time.Second,
	}
}

func (j Job) validate() error {
	if j.URL == "" {
		return errors.New("job has no URL")
	}
	if j.OutputPath == "" {
		return errors.New("job has no output path")
	}
	if len(j.Ranges) == 0 {
		return fmt.Errorf("%w: job has no ranges", byterange.ErrInvalidRange)
	}
	for i, r := range j.Ranges {
		if !r.Valid() {
			return fmt.Errorf("%w: range %d is %s", byterange.ErrInvalidRange, i, r)
		}
	}
	return nil
}

func (j Job) withDefaults() Job {
	if j.Concurrency <= 0 {
		j.Concurrency = utils.DefaultConnections
	}
	if j.ChunkTimeout <= 0 {
		j.ChunkTimeout = DefaultChunkTimeout
	}
	if j.Retries == 0 {
		j.Retries = DefaultRetries
	}
	if j.Retries < 0 {
		j.Retries = 0
	}
	return j
}

// Fetch downloads every range of job into job.OutputPath, which is sized to
// the largest range end before any request is made. The first failure
// cancels the remaining ranges; Fetch returns once every range is terminal.
// On failure the output keeps whatever completed ranges were written.
func (f *Fetcher) Fetch(ctx context.Context, job Job) (*Result, error) {
	if err := job.validate(); err != nil {
		return nil, err
	}
	job = job.withDefaults()
	start := time.Now()

	size := byterange.MaxEnd(job.Ranges) + 1
	asm, err := NewAssembler(job.OutputPath, size)
	if err != nil {
		return nil, err
	}

	res := &Result{Chunks: make([]ChunkResult, len(job.Ranges)), Size: size}
	for i, r := range job.Ranges {
		res.Chunks[i] = ChunkResult{Index: i, Range: r, State: Pending}
	}
	log.Debug().Str("op", "fetcher/fetch").Msgf("fetching %d ranges (%s) from %s with %d connections", len(job.Ranges), utils.FormatBytes(uint64(size)), job.URL, job.Concurrency)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(job.Concurrency)
	single := len(job.Ranges) == 1
	for i := range res.Chunks {
		chunk := &res.Chunks[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				chunk.State = Cancelled
				chunk.Err = err
				return nil
			}
			n, err := f.fetchChunk(gctx, job, asm, chunk.Range, single)
			chunk.Written = n
			if err == nil {
				chunk.State = Completed
				log.Debug().Str("op", "fetcher/fetch").Msgf("chunk %d (%s) completed", chunk.Index, chunk.Range)
				return nil
			}
			chunk.Err = err
			if gctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
				chunk.State = Cancelled
				return nil
			}
			chunk.State = Failed
			log.Error().Str("op", "fetcher/fetch").Err(err).Msgf("chunk %d (%s) failed", chunk.Index, chunk.Range)
			return &ChunkError{Index: chunk.Index, Range: chunk.Range, Err: err}
		})
	}
	err = g.Wait()
	if cerr := asm.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err == nil {
		err = ctx.Err()
	}
	res.Elapsed = time.Since(start)
	return res, err
}

func (f *Fetcher) fetchChunk(ctx context.Context, job Job, w io.WriterAt, r byterange.ByteRange, single bool) (int64, error) {
	var lastErr error
	for attempt := 0; attempt <= job.Retries; attempt++ {
		if attempt > 0 {
			log.Debug().Str("op", "fetcher/chunk").Int("attempt", attempt+1).Int("maxAttempts", job.Retries+1).Msgf("retrying range %s", r)
			if err := f.backoff(ctx, attempt); err != nil {
				return 0, err
			}
		}
		n, err := f.attempt(ctx, job, w, r, single)
		if err == nil {
			return n, nil
		}
		if n > 0 && job.Progress != nil {
			job.Progress(-n)
		}
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		var te *temporaryError
		if !errors.As(err, &te) {
			return 0, err
		}
		lastErr = te.err
		log.Warn().Str("op", "fetcher/chunk").Err(lastErr).Int("attempt", attempt+1).Msgf("range %s attempt failed", r)
	}
	return 0, fmt.Errorf("failed after %d attempts: %w", job.Retries+1, lastErr)
}

// attempt makes one request for r and copies its body into place.
func (f *Fetcher) attempt(ctx context.Context, job Job, w io.WriterAt, r byterange.ByteRange, single bool) (int64, error) {
	actx, cancel := context.WithTimeout(ctx, job.ChunkTimeout)
	defer cancel()

	resp, err := f.transport.Get(actx, job.URL, r.Header())
	if err != nil {
		return 0, &temporaryError{err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusPartialContent:
		if cr := resp.Header.Get("Content-Range"); cr != "" {
			got, _, err := byterange.ParseContentRange(cr)
			if err != nil || got != r {
				return 0, fmt.Errorf("%w: asked for %s, server sent %q", ErrChunkIntegrity, r, cr)
			}
		}
	case resp.StatusCode == http.StatusOK && single && r.Start == 0:
	case resp.StatusCode >= 500:
		return 0, &temporaryError{fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)}
	default:
		return 0, fmt.Errorf("%w: %d for range %s", ErrUnexpectedStatus, resp.StatusCode, r)
	}

	cw := &chunkWriter{w: io.NewOffsetWriter(w, r.Start), remaining: r.Len(), progress: job.Progress}
	buf := make([]byte, utils.DefaultBufferSize)
	n, err := io.CopyBuffer(cw, io.LimitReader(resp.Body, r.Len()+1), buf)
	if err != nil {
		var we *writeError
		if errors.Is(err, ErrChunkIntegrity) || errors.As(err, &we) {
			return n, err
		}
		return n, &temporaryError{err}
	}
	if n != r.Len() {
		return n, fmt.Errorf("%w: range %s got %d bytes, want %d", ErrChunkIntegrity, r, n, r.Len())
	}
	return n, nil
}

// backoff waits for an exponentially increasing duration with jitter.
func (f *Fetcher) backoff(ctx context.Context, attempt int) error {
	d := f.Backoff * time.Duration(1<<uint(attempt-1))
	if d > f.MaxBackoff || d <= 0 {
		d = f.MaxBackoff
	}
	// Jitter: 0.5 to 1.5 of the delay
	d = time.Duration(float64(d) * (0.5 + rand.Float64()))
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// temporaryError marks failures worth another attempt.
type temporaryError struct {
	err error
}

func (e *temporaryError) Error() string { return e.err.Error() }

func (e *temporaryError) Unwrap() error { return e.err }

type writeError struct {
	err error
}

func (e *writeError) Error() string { return "error writing output: " + e.err.Error() }

func (e *writeError) Unwrap() error { return e.err }

// chunkWriter writes at most remaining bytes; anything past that means the
// server sent more than was asked for.
type chunkWriter struct {
	w         io.Writer
	remaining int64
	progress  func(int64)
}

func (c *chunkWriter) Write(p []byte) (int, error) {
	var overflow bool
	if int64(len(p)) > c.remaining {
		p = p[:c.remaining]
		overflow = true
	}
	n, err := c.w.Write(p)
	c.remaining -= int64(n)
	if n > 0 && c.progress != nil {
		c.progress(int64(n))
	}
	if err != nil {
		return n, &writeError{err}
	}
	if overflow {
		return n, fmt.Errorf("%w: response longer than requested range", ErrChunkIntegrity)
	}
	return n, nil
}
