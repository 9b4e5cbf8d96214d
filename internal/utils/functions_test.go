package utils

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBytes(t *testing.T) {
	tests := []struct {
		in   string
		want int64
		err  bool
	}{
		{"512", 512, false},
		{"64KB", 64 << 10, false},
		{"64kb", 64 << 10, false},
		{" 8 MB ", 8 << 20, false},
		{"1G", 1 << 30, false},
		{"10B", 10, false},
		{"", 0, true},
		{"lots", 0, true},
		{"-5", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseBytes(tt.in)
		if tt.err {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.00 KB", FormatBytes(1024))
	assert.Equal(t, "1.50 MB", FormatBytes(3<<19))
	assert.Equal(t, "0 B/s", FormatSpeed(100, 0))
	assert.Equal(t, "1.00 KB/s", FormatSpeed(2048, 2))
}

func TestParseHeaderArgs(t *testing.T) {
	got := ParseHeaderArgs([]string{"Authorization: Bearer abc", "X-Empty:", "broken", "Cookie: a=b: c"})
	assert.Equal(t, map[string]string{
		"Authorization": "Bearer abc",
		"X-Empty":       "",
		"Cookie":        "a=b: c",
	}, got)
}

func TestRenewOutputPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.tar.gz")
	require.NoError(t, os.WriteFile(path, nil, 0644))
	assert.Equal(t, filepath.Join(dir, "file.tar-(1).gz"), RenewOutputPath(path))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "file.tar-(1).gz"), nil, 0644))
	assert.Equal(t, filepath.Join(dir, "file.tar-(2).gz"), RenewOutputPath(path))
}

func TestTempPath(t *testing.T) {
	assert.Equal(t, filepath.Join("out", TempDirName, "a.bin.part"), TempPath(filepath.Join("out", "a.bin")))
}

func TestHTTPClientHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Header().Set("Content-Length", "5")
		w.WriteHeader(http.StatusPartialContent)
		if r.Method == http.MethodGet {
			io.WriteString(w, "hello")
		}
	}))
	defer srv.Close()

	client := NewRangerHTTPClient(HTTPClientConfig{
		Timeout: 5 * time.Second,
		Headers: map[string]string{"Authorization": "Bearer t"},
	})
	resp, err := client.Get(context.Background(), srv.URL, "bytes=0-4")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	assert.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.Equal(t, "hello", string(body))
	assert.Equal(t, "bytes=0-4", got.Get("Range"))
	assert.Equal(t, ToolUserAgent, got.Get("User-Agent"))
	assert.Equal(t, "Bearer t", got.Get("Authorization"))

	client.SetHeader("X-Trace", "1")
	resp, err = client.Head(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, int64(5), resp.ContentLength)
	assert.Empty(t, got.Get("Range"))
	assert.Equal(t, "1", got.Get("X-Trace"))
}
