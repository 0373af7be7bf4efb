// Package storage resolves and reads the host's stored images from its
// output, input, and temp directories.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrNotFound means the referenced artifact does not exist.
	ErrNotFound = errors.New("image not found")

	// ErrInvalidReference means the reference is malformed or attempts to
	// escape the storage root. The message never includes path detail.
	ErrInvalidReference = errors.New("invalid image reference")
)

// Image type names, matching the host's directory layout.
const (
	TypeOutput = "output"
	TypeInput  = "input"
	TypeTemp   = "temp"
)

// Store reads images from the host's fixed root directories.
type Store struct {
	roots    map[string]string
	maxBytes int64
}

// Config holds the root directories and the read sanity bound.
type Config struct {
	OutputDir string
	InputDir  string // optional
	TempDir   string // optional
	MaxBytes  int64
}

// New creates a store. OutputDir is required; unset optional roots make the
// corresponding type unresolvable.
func New(cfg Config) (*Store, error) {
	if cfg.OutputDir == "" {
		return nil, fmt.Errorf("output dir is required")
	}
	if cfg.MaxBytes <= 0 {
		return nil, fmt.Errorf("max bytes must be positive")
	}

	roots := make(map[string]string)
	for typ, dir := range map[string]string{
		TypeOutput: cfg.OutputDir,
		TypeInput:  cfg.InputDir,
		TypeTemp:   cfg.TempDir,
	} {
		if dir == "" {
			continue
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, fmt.Errorf("resolve %s dir: %w", typ, err)
		}
		roots[typ] = abs
	}

	return &Store{roots: roots, maxBytes: cfg.MaxBytes}, nil
}

// Resolve maps a filename/subfolder/type triple to an absolute path inside
// the matching root. Unknown types fall back to the output root. Any
// reference that is absolute, contains ".." segments, or otherwise escapes
// the root is rejected with ErrInvalidReference before touching the
// filesystem.
func (s *Store) Resolve(filename, subfolder, typ string) (string, error) {
	if filename == "" {
		return "", ErrInvalidReference
	}

	root, ok := s.roots[typ]
	if !ok {
		root, ok = s.roots[TypeOutput]
		if !ok {
			return "", ErrInvalidReference
		}
	}

	rel := filepath.Join(filepath.FromSlash(subfolder), filepath.FromSlash(filename))
	if filepath.IsAbs(rel) || !filepath.IsLocal(rel) {
		return "", ErrInvalidReference
	}

	full := filepath.Join(root, rel)
	if full != root && !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return "", ErrInvalidReference
	}

	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("stat image: %w", err)
	}
	if info.IsDir() {
		return "", ErrNotFound
	}
	return full, nil
}

// Read returns the full contents of a resolved path. Files larger than the
// configured bound are refused rather than buffered.
func (s *Store) Read(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat image: %w", err)
	}
	if info.Size() > s.maxBytes {
		return nil, fmt.Errorf("image exceeds size bound (%d > %d bytes)", info.Size(), s.maxBytes)
	}

	data, err := io.ReadAll(io.LimitReader(f, s.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return data, nil
}

// Delete removes a resolved path. A missing file is not an error.
func (s *Store) Delete(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete image: %w", err)
	}
	return nil
}
