package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// FileSource serves a local file. Each range opens its own handle, so
// concurrent requests never share a file offset.
type FileSource struct {
	path string
	desc Descriptor
}

// OpenFile stats path once and returns a source for it. An empty
// contentType is inferred from the file extension.
func OpenFile(id, path, contentType string) (*FileSource, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("error checking file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	name := filepath.Base(path)
	if contentType == "" {
		contentType = detectContentType(name)
	}
	return &FileSource{
		path: path,
		desc: Descriptor{
			ID:          id,
			Name:        name,
			Size:        info.Size(),
			ContentType: contentType,
			ETag:        fmt.Sprintf(`"%x-%x"`, info.ModTime().UnixNano(), info.Size()),
			ModTime:     info.ModTime(),
		},
	}, nil
}

func (f *FileSource) Descriptor() Descriptor { return f.desc }

func (f *FileSource) Size() int64 { return f.desc.Size }

func (f *FileSource) OpenRange(ctx context.Context, start, end int64) (io.ReadCloser, error) {
	if err := checkRange(start, end, f.desc.Size); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := os.Open(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
		}
		return nil, err
	}
	return &sectionReadCloser{
		SectionReader: io.NewSectionReader(file, start, end-start+1),
		file:          file,
	}, nil
}

type sectionReadCloser struct {
	*io.SectionReader
	file *os.File
}

func (s *sectionReadCloser) Close() error {
	return s.file.Close()
}
