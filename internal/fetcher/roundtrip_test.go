package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tanq16/ranger/internal/byterange"
	"github.com/tanq16/ranger/internal/source"
	"github.com/tanq16/ranger/internal/streamer"
	"github.com/tanq16/ranger/internal/utils"
)

func newStreamerServer(t *testing.T, data []byte) *httptest.Server {
	t.Helper()
	path := filepath.Join(t.TempDir(), "payload.bin")
	require.NoError(t, os.WriteFile(path, data, 0644))
	src, err := source.OpenFile("payload", path, "")
	require.NoError(t, err)
	srv := httptest.NewServer(streamer.New(src.Descriptor(), src, streamer.Options{ChunkSize: 4096}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchFromStreamer(t *testing.T) {
	data := testData(256*1024 + 17)
	srv := newStreamerServer(t, data)
	client := utils.NewRangerHTTPClient(utils.HTTPClientConfig{Timeout: 5 * time.Second})
	f := newTestFetcher(client)

	info, err := f.Probe(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), info.Size)
	assert.True(t, info.AcceptsRanges)
	assert.Equal(t, "payload.bin", info.Name)
	assert.NotEmpty(t, info.ETag)

	out := filepath.Join(t.TempDir(), "copy.bin")
	res, err := f.Fetch(context.Background(), Job{
		URL:         srv.URL,
		Ranges:      byterange.Split(info.Size, 7),
		OutputPath:  out,
		Concurrency: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, 7, res.Completed())

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestFetchFromStreamerNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	f := newTestFetcher(utils.NewRangerHTTPClient(utils.HTTPClientConfig{}))

	_, err := f.Fetch(context.Background(), Job{
		URL:        srv.URL,
		Ranges:     []byterange.ByteRange{{Start: 0, End: 9}},
		OutputPath: filepath.Join(t.TempDir(), "out.bin"),
	})
	assert.ErrorIs(t, err, ErrUnexpectedStatus)

	_, err = f.Probe(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
}

func TestProbeWithoutHead(t *testing.T) {
	data := testData(500)
	info, err := newTestFetcher(rangeTransport(t, data)).Probe(context.Background(), "http://example.test/file")
	require.NoError(t, err)
	assert.Equal(t, int64(500), info.Size)
	assert.True(t, info.AcceptsRanges)
}

func TestFilenameFromDisposition(t *testing.T) {
	assert.Equal(t, "report.pdf", filenameFromDisposition(`attachment; filename="report.pdf"`))
	assert.Equal(t, "a_b.txt", filenameFromDisposition(`attachment; filename="a/b.txt"`))
	assert.Equal(t, "", filenameFromDisposition(""))
	assert.Equal(t, "", filenameFromDisposition("attachment"))
}
