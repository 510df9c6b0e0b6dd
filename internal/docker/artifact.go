package docker

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// extractFile writes the first regular file in a tar stream (the shape
// CopyFromContainer returns for a single path) into dir and returns the
// written path.
func extractFile(r io.Reader, dir string) (string, error) {
	if dir == "" {
		return "", errors.New("no artifact directory")
	}
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return "", errors.New("artifact archive contains no regular file")
		}
		if err != nil {
			return "", fmt.Errorf("read artifact archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create artifact dir: %w", err)
		}
		dst := filepath.Join(dir, filepath.Base(hdr.Name))
		f, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return "", fmt.Errorf("create artifact: %w", err)
		}
		if _, err := io.Copy(f, tr); err != nil {
			f.Close()
			return "", fmt.Errorf("write artifact: %w", err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("close artifact: %w", err)
		}
		return dst, nil
	}
}
