package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ranger.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, int64(64*1024), cfg.ChunkSize)
	assert.Zero(t, cfg.RateLimit)
	assert.False(t, cfg.StrictRanges)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
}

func TestLoadFromYAML(t *testing.T) {
	path := writeConfig(t, `
listen: "127.0.0.1:9000"
strict_ranges: true
chunk_size: 256KB
rate_limit: 1MB
shutdown_timeout: 3s
resources:
  - id: installer
    path: /data/installer.msi
  - id: video
    s3: mybucket/videos/a.mp4
    profile: default
    region: us-east-1
  - id: archive
    blob: file:///srv/blobs
    key: archive.tar
    content_type: application/x-tar
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Listen)
	assert.True(t, cfg.StrictRanges)
	assert.Equal(t, int64(256*1024), cfg.ChunkSize)
	assert.Equal(t, int64(1024*1024), cfg.RateLimit)
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
	require.Len(t, cfg.Resources, 3)
	assert.Equal(t, KindFile, cfg.Resources[0].Kind())
	assert.Equal(t, KindS3, cfg.Resources[1].Kind())
	assert.Equal(t, "us-east-1", cfg.Resources[1].Region)
	assert.Equal(t, KindBlob, cfg.Resources[2].Kind())
	assert.Equal(t, "application/x-tar", cfg.Resources[2].ContentType)
}

func TestLoadKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
resources:
  - id: a
    path: /tmp/a
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, int64(64*1024), cfg.ChunkSize)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config file")

	_, err = Load(writeConfig(t, "listen: [unterminated"))
	assert.ErrorContains(t, err, "parse config file")

	_, err = Load(writeConfig(t, "chunk_size: lots\nresources:\n  - id: a\n    path: /a\n"))
	assert.ErrorContains(t, err, "parse chunk_size")

	_, err = Load(writeConfig(t, "listen: \":1\"\n"))
	assert.ErrorContains(t, err, "at least one resource")
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("RANGER_LISTEN", ":7070")
	t.Setenv("RANGER_STRICT_RANGES", "true")
	t.Setenv("RANGER_CHUNK_SIZE", "1MB")
	t.Setenv("RANGER_RATE_LIMIT", "512KB")
	t.Setenv("RANGER_SHUTDOWN_TIMEOUT", "1m")

	cfg := Default()
	require.NoError(t, cfg.LoadFromEnv())
	assert.Equal(t, ":7070", cfg.Listen)
	assert.True(t, cfg.StrictRanges)
	assert.Equal(t, int64(1<<20), cfg.ChunkSize)
	assert.Equal(t, int64(512<<10), cfg.RateLimit)
	assert.Equal(t, time.Minute, cfg.ShutdownTimeout)

	t.Setenv("RANGER_CHUNK_SIZE", "big")
	assert.Error(t, cfg.LoadFromEnv())
}

func TestValidate(t *testing.T) {
	base := func() Config {
		cfg := Default()
		cfg.Resources = []Resource{{ID: "a", Path: "/data/a"}}
		return cfg
	}
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"no listen", func(c *Config) { c.Listen = "" }, "listen"},
		{"zero chunk", func(c *Config) { c.ChunkSize = 0 }, "chunk_size"},
		{"negative rate", func(c *Config) { c.RateLimit = -1 }, "rate_limit"},
		{"missing id", func(c *Config) { c.Resources[0].ID = "" }, "id is required"},
		{"id with slash", func(c *Config) { c.Resources[0].ID = "a/b" }, "single path segment"},
		{"duplicate id", func(c *Config) {
			c.Resources = append(c.Resources, Resource{ID: "a", Path: "/data/b"})
		}, "duplicate"},
		{"no store", func(c *Config) { c.Resources[0].Path = "" }, "exactly one"},
		{"two stores", func(c *Config) { c.Resources[0].S3 = "b/k" }, "exactly one"},
		{"blob without key", func(c *Config) {
			c.Resources[0] = Resource{ID: "a", Blob: "mem://"}
		}, "needs a key"},
		{"s3 without key", func(c *Config) {
			c.Resources[0] = Resource{ID: "a", S3: "bucket"}
		}, "invalid S3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
