package fetcher

import (
	"fmt"
	"os"
	"path/filepath"
)

// Assembler is the pre-sized output file chunks are written into. Writes
// are positional, so concurrent writers never share a cursor.
type Assembler struct {
	file *os.File
	size int64
}

// NewAssembler creates or truncates path and sizes it to size bytes.
func NewAssembler(path string, size int64) (*Assembler, error) {
	if size < 0 {
		return nil, fmt.Errorf("invalid output size %d", size)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("error creating output directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("error creating output file: %w", err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("error sizing output file: %w", err)
	}
	return &Assembler{file: f, size: size}, nil
}

func (a *Assembler) Size() int64 { return a.size }

// WriteAt writes p at off. Writes past the pre-sized end are rejected.
func (a *Assembler) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > a.size {
		return 0, fmt.Errorf("write of %d bytes at %d outside %d byte output", len(p), off, a.size)
	}
	return a.file.WriteAt(p, off)
}

// Close flushes the file to disk and closes it.
func (a *Assembler) Close() error {
	if err := a.file.Sync(); err != nil {
		a.file.Close()
		return fmt.Errorf("error syncing output file: %w", err)
	}
	return a.file.Close()
}
