package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileGateway stores each collection as <dir>/<name>.json.
type FileGateway struct {
	dir string
}

// NewFileGateway returns a gateway rooted at dir.
func NewFileGateway(dir string) *FileGateway {
	return &FileGateway{dir: dir}
}

// Path returns the file backing collection c.
func (g *FileGateway) Path(c Collection) string {
	return filepath.Join(g.dir, string(c)+".json")
}

func (g *FileGateway) Read(_ context.Context, c Collection) ([]byte, error) {
	data, err := os.ReadFile(g.Path(c))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", g.Path(c), ErrNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", g.Path(c), err)
	}
	return data, nil
}

// Write replaces the collection file. The content goes to a temporary file in
// the same directory first and is renamed over the old one.
func (g *FileGateway) Write(_ context.Context, c Collection, data []byte) error {
	tmp, err := os.CreateTemp(g.dir, string(c)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", c, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), g.Path(c)); err != nil {
		return fmt.Errorf("replace %s: %w", g.Path(c), err)
	}
	return nil
}

// Ensure creates the data directory and an empty collection file when none
// exists. An existing file is left untouched, even if malformed.
func (g *FileGateway) Ensure(ctx context.Context, c Collection) error {
	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return fmt.Errorf("create data dir %s: %w", g.dir, err)
	}
	_, err := os.Stat(g.Path(c))
	if err == nil {
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", g.Path(c), err)
	}
	return g.Write(ctx, c, []byte("[]"))
}
