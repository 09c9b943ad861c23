package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/etnz/taxfolio"
	"github.com/vmihailenco/msgpack/v5"
)

// File stores one msgpack file per portfolio in a directory.
type File struct {
	dir string
}

// NewFile creates the directory if needed.
func NewFile(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}
	return &File{dir: dir}, nil
}

func (f *File) path(portfolio string) (string, error) {
	if portfolio == "" || strings.ContainsAny(portfolio, `/\`) || portfolio == "." || portfolio == ".." {
		return "", fmt.Errorf("invalid portfolio name %q", portfolio)
	}
	return filepath.Join(f.dir, portfolio+".snapshot"), nil
}

func (f *File) Load(portfolio string) (taxfolio.Snapshot, error) {
	path, err := f.path(portfolio)
	if err != nil {
		return taxfolio.Snapshot{}, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return taxfolio.Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, portfolio)
	}
	if err != nil {
		return taxfolio.Snapshot{}, err
	}
	var rec snapshotRecord
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return taxfolio.Snapshot{}, fmt.Errorf("decode snapshot %s: %w", portfolio, err)
	}
	return rec.snapshot()
}

// Save writes the snapshot to a temporary file then renames it, so a crash
// never leaves a truncated snapshot.
func (f *File) Save(s taxfolio.Snapshot) error {
	path, err := f.path(s.Portfolio)
	if err != nil {
		return err
	}
	data, err := msgpack.Marshal(toSnapshotRecord(s))
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", s.Portfolio, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (f *File) Close() error { return nil }
