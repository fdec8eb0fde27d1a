// Package archive produces the downloadable zip container for a backup job.
// Module records are streamed into one JSON array entry per module, and a
// manifest.json entry is appended when the archive is committed.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/BardiaPzK/ribooster/internal/model"
)

// ErrNotFound is returned when an archive key does not resolve to an artifact.
var ErrNotFound = errors.New("archive not found")

// ManifestName is the entry written last into every archive.
const ManifestName = "manifest.json"

// Manifest describes the contents of a committed archive.
type Manifest struct {
	JobID       string              `json:"job_id"`
	ProjectID   string              `json:"project_id"`
	ProjectName string              `json:"project_name"`
	Options     model.BackupOptions `json:"options"`
	Entries     map[string]int      `json:"entries"`
	CreatedAt   int64               `json:"created_at"`
}

// Writer streams entries into a single archive. Entries are written one at a
// time. After Commit or Abort the writer must not be used again.
type Writer interface {
	BeginEntry(name string) error
	WriteRecords(records []json.RawMessage) error
	EndEntry() error
	Commit(ctx context.Context, manifest Manifest) (model.ArchiveHandle, error)
	Abort() error
}

// Store creates archives and serves committed ones.
type Store interface {
	Create(ctx context.Context, jobID string) (Writer, error)
	Open(ctx context.Context, key string) (io.ReadCloser, int64, error)
	Delete(ctx context.Context, key string) error
}
