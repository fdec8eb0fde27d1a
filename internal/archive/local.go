package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BardiaPzK/ribooster/internal/model"
)

const (
	archiveExt = ".zip"
	partialExt = ".zip.partial"
)

// LocalStore keeps archives as files in a single directory. Archives are
// written as <job>.zip.partial and renamed on commit, so a listed .zip file is
// always complete.
type LocalStore struct {
	dir string
}

// NewLocalStore creates dir if needed.
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	return &LocalStore{dir: dir}, nil
}

func (s *LocalStore) Create(_ context.Context, jobID string) (Writer, error) {
	if err := checkName(jobID); err != nil {
		return nil, err
	}
	final := filepath.Join(s.dir, jobID+archiveExt)
	if _, err := os.Stat(final); err == nil {
		return nil, fmt.Errorf("create archive %s: already exists", jobID)
	}

	f, err := os.OpenFile(filepath.Join(s.dir, jobID+partialExt), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("create archive %s: %w", jobID, err)
	}

	return newZipWriter(f, func(_ context.Context, path string, size int64) (model.ArchiveHandle, error) {
		if err := os.Rename(path, final); err != nil {
			return model.ArchiveHandle{}, fmt.Errorf("publish archive %s: %w", jobID, err)
		}
		return model.ArchiveHandle{Key: jobID + archiveExt, SizeBytes: size}, nil
	}), nil
}

func (s *LocalStore) Open(_ context.Context, key string) (io.ReadCloser, int64, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, fmt.Errorf("open archive %s: %w", key, ErrNotFound)
		}
		return nil, 0, fmt.Errorf("open archive %s: %w", key, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat archive %s: %w", key, err)
	}
	return f, info.Size(), nil
}

func (s *LocalStore) Delete(_ context.Context, key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("delete archive %s: %w", key, ErrNotFound)
		}
		return fmt.Errorf("delete archive %s: %w", key, err)
	}
	return nil
}

func (s *LocalStore) path(key string) (string, error) {
	if !strings.HasSuffix(key, archiveExt) {
		return "", fmt.Errorf("archive key %q: %w", key, ErrNotFound)
	}
	if err := checkName(strings.TrimSuffix(key, archiveExt)); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, key), nil
}

// checkName rejects names that could escape the archive directory.
func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid archive name %q", name)
	}
	return nil
}
