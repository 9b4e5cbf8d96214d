package streamer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tanq16/ranger/internal/multipart"
	"github.com/tanq16/ranger/internal/source"
)

type memSource struct {
	desc source.Descriptor
	data []byte
	// serve stops after this many bytes of any range when positive
	truncate int
	err      error
}

func newMemSource(data []byte) *memSource {
	return &memSource{
		data: data,
		desc: source.Descriptor{
			ID:          "mem",
			Name:        "mem.bin",
			Size:        int64(len(data)),
			ContentType: "application/octet-stream",
			ETag:        `"mem"`,
			ModTime:     time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		},
	}
}

func (m *memSource) Descriptor() source.Descriptor { return m.desc }

func (m *memSource) Size() int64 { return m.desc.Size }

func (m *memSource) OpenRange(ctx context.Context, start, end int64) (io.ReadCloser, error) {
	if m.err != nil {
		return nil, m.err
	}
	chunk := m.data[start : end+1]
	if m.truncate > 0 && len(chunk) > m.truncate {
		chunk = chunk[:m.truncate]
	}
	return io.NopCloser(bytes.NewReader(chunk)), nil
}

func alphabet(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = 'a' + byte(i%26)
	}
	return data
}

func fixedBoundary() string { return "TESTBOUNDARY" }

func serve(t *testing.T, s *Streamer, method, rangeHeader string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, "/download/mem", nil)
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestServeFull(t *testing.T) {
	data := alphabet(100)
	src := newMemSource(data)
	s := New(src.desc, src, Options{})

	rec := serve(t, s, http.MethodGet, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "100", rec.Header().Get("Content-Length"))
	assert.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
	assert.Equal(t, `"mem"`, rec.Header().Get("ETag"))
	assert.Equal(t, "Tue, 02 Jan 2024 03:04:05 GMT", rec.Header().Get("Last-Modified"))
	assert.Equal(t, `attachment; filename="mem.bin"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, data, rec.Body.Bytes())
}

func TestServeSingle(t *testing.T) {
	data := alphabet(100)
	src := newMemSource(data)
	s := New(src.desc, src, Options{})

	tests := []struct {
		header       string
		contentRange string
		body         []byte
	}{
		{"bytes=0-9", "bytes 0-9/100", data[0:10]},
		{"bytes=90-", "bytes 90-99/100", data[90:]},
		{"bytes=-5", "bytes 95-99/100", data[95:]},
		{"bytes=50-500", "bytes 50-99/100", data[50:]},
		{"bytes=0-9,200-300", "bytes 0-9/100", data[0:10]},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			rec := serve(t, s, http.MethodGet, tt.header)
			assert.Equal(t, http.StatusPartialContent, rec.Code)
			assert.Equal(t, tt.contentRange, rec.Header().Get("Content-Range"))
			assert.Equal(t, fmt.Sprint(len(tt.body)), rec.Header().Get("Content-Length"))
			assert.Equal(t, tt.body, rec.Body.Bytes())
		})
	}
}

func TestServeMultipart(t *testing.T) {
	data := alphabet(30)
	src := newMemSource(data)
	s := New(src.desc, src, Options{Boundary: fixedBoundary})

	rec := serve(t, s, http.MethodGet, "bytes=0-9,20-29")
	require.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "multipart/byteranges; boundary=TESTBOUNDARY", rec.Header().Get("Content-Type"))
	assert.Empty(t, rec.Header().Get("Content-Length"))

	want := "--TESTBOUNDARY\r\nContent-Type: application/octet-stream\r\nContent-Range: bytes 0-9/30\r\n\r\n" +
		string(data[0:10]) + "\r\n" +
		"--TESTBOUNDARY\r\nContent-Type: application/octet-stream\r\nContent-Range: bytes 20-29/30\r\n\r\n" +
		string(data[20:30]) + "\r\n" +
		"--TESTBOUNDARY--\r\n"
	assert.Equal(t, want, rec.Body.String())

	parts, err := multipart.Decode(rec.Body.Bytes())
	require.NoError(t, err)
	require.Len(t, parts, 2)
	assert.Equal(t, "bytes 20-29/30", parts[1].ContentRange)
	assert.Equal(t, data[20:30], parts[1].Body)
}

func TestServeMultipartKeepsRequestOrder(t *testing.T) {
	data := alphabet(50)
	src := newMemSource(data)
	s := New(src.desc, src, Options{})

	rec := serve(t, s, http.MethodGet, "bytes=40-44,0-4,10-14")
	require.Equal(t, http.StatusPartialContent, rec.Code)
	parts, err := multipart.Decode(rec.Body.Bytes())
	require.NoError(t, err)
	require.Len(t, parts, 3)
	assert.Equal(t, data[40:45], parts[0].Body)
	assert.Equal(t, data[0:5], parts[1].Body)
	assert.Equal(t, data[10:15], parts[2].Body)
}

func TestServeUnsatisfiable(t *testing.T) {
	src := newMemSource(alphabet(100))
	s := New(src.desc, src, Options{})

	rec := serve(t, s, http.MethodGet, "bytes=200-300")
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, rec.Code)
	assert.Equal(t, "bytes */100", rec.Header().Get("Content-Range"))
	assert.Zero(t, rec.Body.Len())
}

func TestServeMalformed(t *testing.T) {
	data := alphabet(100)
	src := newMemSource(data)

	lenient := New(src.desc, src, Options{})
	rec := serve(t, lenient, http.MethodGet, "bytes=abc")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, data, rec.Body.Bytes())

	strict := New(src.desc, src, Options{Strict: true})
	rec = serve(t, strict, http.MethodGet, "bytes=abc")
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, rec.Code)
	assert.Equal(t, "bytes */100", rec.Header().Get("Content-Range"))
}

func TestServeHead(t *testing.T) {
	src := newMemSource(alphabet(100))
	s := New(src.desc, src, Options{})

	rec := serve(t, s, http.MethodHead, "bytes=0-9")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "100", rec.Header().Get("Content-Length"))
	assert.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
	assert.Zero(t, rec.Body.Len())
}

func TestServeMethodNotAllowed(t *testing.T) {
	src := newMemSource(alphabet(10))
	s := New(src.desc, src, Options{})

	rec := serve(t, s, http.MethodPost, "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "GET, HEAD", rec.Header().Get("Allow"))
}

func TestServeEmptyResource(t *testing.T) {
	src := newMemSource(nil)
	s := New(src.desc, src, Options{})

	rec := serve(t, s, http.MethodGet, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("Content-Length"))

	rec = serve(t, s, http.MethodGet, "bytes=0-0")
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, rec.Code)
	assert.Equal(t, "bytes */0", rec.Header().Get("Content-Range"))
}

func TestServeOpenErrors(t *testing.T) {
	src := newMemSource(alphabet(10))
	src.err = fmt.Errorf("%w: gone", source.ErrNotFound)
	rec := serve(t, New(src.desc, src, Options{}), http.MethodGet, "bytes=0-4")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, rec.Header().Get("Content-Range"))

	src.err = fmt.Errorf("disk on fire")
	rec = serve(t, New(src.desc, src, Options{}), http.MethodGet, "bytes=0-4,6-8")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServeFileRemovedAfterStartup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gone.bin")
	require.NoError(t, os.WriteFile(path, alphabet(10), 0644))
	src, err := source.OpenFile("gone", path, "")
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	rec := serve(t, New(src.Descriptor(), src, Options{}), http.MethodGet, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeTruncatedSourceAborts(t *testing.T) {
	src := newMemSource(alphabet(1000))
	src.truncate = 100

	for _, header := range []string{"", "bytes=0-499", "bytes=0-199,500-699"} {
		t.Run(header, func(t *testing.T) {
			srv := httptest.NewServer(New(src.desc, src, Options{ChunkSize: 32}))
			defer srv.Close()

			req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
			require.NoError(t, err)
			if header != "" {
				req.Header.Set("Range", header)
			}
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			_, err = io.ReadAll(resp.Body)
			assert.Error(t, err)
		})
	}
}

func TestServeRateLimit(t *testing.T) {
	data := alphabet(200)
	src := newMemSource(data)
	s := New(src.desc, src, Options{ChunkSize: 100, RateLimit: 1000})

	start := time.Now()
	rec := serve(t, s, http.MethodGet, "")
	assert.Equal(t, data, rec.Body.Bytes())
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}
