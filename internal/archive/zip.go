package archive

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/BardiaPzK/ribooster/internal/model"
)

// finalizeFunc publishes a closed zip file and returns its handle.
type finalizeFunc func(ctx context.Context, path string, size int64) (model.ArchiveHandle, error)

// zipWriter writes a zip container into a spool file. What happens to the
// file on commit is decided by the store through finalize.
type zipWriter struct {
	f        *os.File
	zw       *zip.Writer
	entry    io.Writer
	name     string
	first    bool
	counts   map[string]int
	done     bool
	finalize finalizeFunc
}

func newZipWriter(f *os.File, finalize finalizeFunc) *zipWriter {
	return &zipWriter{
		f:        f,
		zw:       zip.NewWriter(f),
		counts:   make(map[string]int),
		finalize: finalize,
	}
}

func (w *zipWriter) BeginEntry(name string) error {
	if w.done {
		return fmt.Errorf("begin entry %s: archive already closed", name)
	}
	if w.entry != nil {
		return fmt.Errorf("begin entry %s: entry %s still open", name, w.name)
	}
	if _, exists := w.counts[name]; exists || name == ManifestName {
		return fmt.Errorf("begin entry %s: duplicate entry", name)
	}
	e, err := w.zw.Create(name)
	if err != nil {
		return fmt.Errorf("create entry %s: %w", name, err)
	}
	if _, err := io.WriteString(e, "["); err != nil {
		return fmt.Errorf("write entry %s: %w", name, err)
	}
	w.entry = e
	w.name = name
	w.first = true
	w.counts[name] = 0
	return nil
}

func (w *zipWriter) WriteRecords(records []json.RawMessage) error {
	if w.entry == nil {
		return fmt.Errorf("write records: no open entry")
	}
	for _, rec := range records {
		if !w.first {
			if _, err := io.WriteString(w.entry, ","); err != nil {
				return fmt.Errorf("write entry %s: %w", w.name, err)
			}
		}
		if len(rec) == 0 {
			rec = json.RawMessage("null")
		}
		if _, err := w.entry.Write(rec); err != nil {
			return fmt.Errorf("write entry %s: %w", w.name, err)
		}
		w.first = false
		w.counts[w.name]++
	}
	return nil
}

func (w *zipWriter) EndEntry() error {
	if w.entry == nil {
		return fmt.Errorf("end entry: no open entry")
	}
	if _, err := io.WriteString(w.entry, "]"); err != nil {
		return fmt.Errorf("write entry %s: %w", w.name, err)
	}
	w.entry = nil
	w.name = ""
	return nil
}

func (w *zipWriter) Commit(ctx context.Context, m Manifest) (model.ArchiveHandle, error) {
	if w.done {
		return model.ArchiveHandle{}, fmt.Errorf("commit: archive already closed")
	}
	if w.entry != nil {
		return model.ArchiveHandle{}, fmt.Errorf("commit: entry %s still open", w.name)
	}

	handle, err := w.commit(ctx, m)
	if err != nil {
		_ = w.Abort()
		return model.ArchiveHandle{}, err
	}
	w.done = true
	return handle, nil
}

func (w *zipWriter) commit(ctx context.Context, m Manifest) (model.ArchiveHandle, error) {
	m.Entries = w.counts
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return model.ArchiveHandle{}, fmt.Errorf("marshal manifest: %w", err)
	}
	e, err := w.zw.Create(ManifestName)
	if err != nil {
		return model.ArchiveHandle{}, fmt.Errorf("create manifest: %w", err)
	}
	if _, err := e.Write(raw); err != nil {
		return model.ArchiveHandle{}, fmt.Errorf("write manifest: %w", err)
	}
	if err := w.zw.Close(); err != nil {
		return model.ArchiveHandle{}, fmt.Errorf("close zip: %w", err)
	}
	if err := w.f.Sync(); err != nil {
		return model.ArchiveHandle{}, fmt.Errorf("sync archive: %w", err)
	}
	info, err := w.f.Stat()
	if err != nil {
		return model.ArchiveHandle{}, fmt.Errorf("stat archive: %w", err)
	}
	if err := w.f.Close(); err != nil {
		return model.ArchiveHandle{}, fmt.Errorf("close archive: %w", err)
	}
	return w.finalize(ctx, w.f.Name(), info.Size())
}

// Abort discards the spool file. It is safe to call more than once.
func (w *zipWriter) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	_ = w.zw.Close()
	_ = w.f.Close()
	if err := os.Remove(w.f.Name()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove partial archive: %w", err)
	}
	return nil
}
