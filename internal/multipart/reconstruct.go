package multipart

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/ranger/internal/utils"
)

// Reconstruct decodes raw completely, then writes the part bodies to w in
// order. Nothing is written when decoding fails.
func Reconstruct(w io.Writer, raw []byte) (int64, error) {
	parts, err := Decode(raw)
	if err != nil {
		return 0, err
	}
	var total int64
	for i, part := range parts {
		n, err := w.Write(part.Body)
		total += int64(n)
		if err != nil {
			return total, fmt.Errorf("write part %d: %w", i, err)
		}
	}
	return total, nil
}

// ReconstructFile rebuilds outputPath from a captured multipart/byteranges
// response. The output is staged in a temp file and renamed into place, so
// a failed reconstruction leaves no output behind.
func ReconstructFile(capturePath, outputPath string) (int64, error) {
	raw, err := os.ReadFile(capturePath)
	if err != nil {
		return 0, fmt.Errorf("error reading capture: %w", err)
	}
	parts, err := Decode(raw)
	if err != nil {
		return 0, err
	}
	log.Debug().Str("op", "multipart/reconstruct").Msgf("decoded %d parts from %s", len(parts), capturePath)

	tempPath := utils.TempPath(outputPath)
	if err := os.MkdirAll(filepath.Dir(tempPath), 0755); err != nil {
		return 0, fmt.Errorf("error creating temp directory: %w", err)
	}
	out, err := os.Create(tempPath)
	if err != nil {
		return 0, fmt.Errorf("error creating output file: %w", err)
	}
	var total int64
	for i, part := range parts {
		n, err := out.Write(part.Body)
		total += int64(n)
		if err != nil {
			out.Close()
			os.Remove(tempPath)
			return 0, fmt.Errorf("write part %d: %w", i, err)
		}
	}
	if err := out.Close(); err != nil {
		os.Remove(tempPath)
		return 0, fmt.Errorf("error closing output file: %w", err)
	}
	if err := os.Rename(tempPath, outputPath); err != nil {
		return 0, fmt.Errorf("error renaming (finalizing) output file: %w", err)
	}
	cleanTempDir(filepath.Dir(tempPath))
	log.Info().Str("op", "multipart/reconstruct").Msgf("reconstructed %d bytes into %s", total, outputPath)
	return total, nil
}

func cleanTempDir(dir string) {
	if entries, err := os.ReadDir(dir); err == nil && len(entries) == 0 {
		os.Remove(dir)
	}
}
