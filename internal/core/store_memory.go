package core

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/BardiaPzK/ribooster/internal/model"
)

type activeKey struct {
	org, company, user, project string
}

func keyOf(j *model.BackupJob) activeKey {
	return activeKey{org: j.OrgID, company: j.CompanyID, user: j.UserID, project: j.ProjectID}
}

// memoryRecord holds one job behind its own lock so unrelated jobs never
// contend with each other.
type memoryRecord struct {
	mu            sync.RWMutex
	job           *model.BackupJob
	stopRequested bool
}

// MemoryJobStore keeps jobs in process memory. It is used when no database is
// configured and in tests.
type MemoryJobStore struct {
	mu     sync.RWMutex
	jobs   map[string]*memoryRecord
	active map[activeKey]string
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs:   make(map[string]*memoryRecord),
		active: make(map[activeKey]string),
	}
}

func (s *MemoryJobStore) Create(_ context.Context, job *model.BackupJob) error {
	if job.Status != model.StatusPending {
		return fmt.Errorf("create job %s: status must be pending, got %s", job.JobID, job.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.JobID]; exists {
		return fmt.Errorf("create job %s: duplicate id", job.JobID)
	}
	k := keyOf(job)
	if _, busy := s.active[k]; busy {
		return ErrConflict
	}

	s.jobs[job.JobID] = &memoryRecord{job: job.Clone()}
	s.active[k] = job.JobID
	return nil
}

func (s *MemoryJobStore) record(jobID string) (*memoryRecord, error) {
	s.mu.RLock()
	rec, ok := s.jobs[jobID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	return rec, nil
}

func (s *MemoryJobStore) Get(_ context.Context, jobID, orgID string) (*model.BackupJob, error) {
	rec, err := s.record(jobID)
	if err != nil {
		return nil, err
	}

	rec.mu.RLock()
	defer rec.mu.RUnlock()
	if rec.job.OrgID != orgID {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	return rec.job.Clone(), nil
}

func (s *MemoryJobStore) AppendLog(_ context.Context, jobID, line string) error {
	rec, err := s.record(jobID)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.job.Log = append(rec.job.Log, line)
	rec.job.UpdatedAt = nowFunc().Unix()
	return nil
}

func (s *MemoryJobStore) SetProgress(_ context.Context, jobID string, pct int) error {
	rec, err := s.record(jobID)
	if err != nil {
		return err
	}

	pct = clampPercent(pct)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if pct > rec.job.Progress {
		rec.job.Progress = pct
		rec.job.UpdatedAt = nowFunc().Unix()
	}
	return nil
}

func (s *MemoryJobStore) Transition(_ context.Context, jobID string, to model.Status, archive *model.ArchiveHandle) error {
	rec, err := s.record(jobID)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if err := checkTransition(rec.job.Status, to, archive); err != nil {
		return fmt.Errorf("transition job %s: %w", jobID, err)
	}

	rec.job.Status = to
	rec.job.UpdatedAt = nowFunc().Unix()
	if to == model.StatusCompleted {
		a := *archive
		rec.job.Archive = &a
		rec.job.Progress = 100
	}

	if model.IsTerminal(to) {
		k := keyOf(rec.job)
		s.mu.Lock()
		if s.active[k] == jobID {
			delete(s.active, k)
		}
		s.mu.Unlock()
	}
	return nil
}

func (s *MemoryJobStore) RequestStop(_ context.Context, jobID string) (bool, error) {
	rec, err := s.record(jobID)
	if err != nil {
		return false, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if !model.IsActive(rec.job.Status) {
		return false, nil
	}
	if !rec.stopRequested {
		rec.stopRequested = true
		rec.job.UpdatedAt = nowFunc().Unix()
	}
	return true, nil
}

func (s *MemoryJobStore) StopPending(_ context.Context, jobID string) (bool, error) {
	rec, err := s.record(jobID)
	if err != nil {
		return false, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.job.Status != model.StatusPending {
		return false, nil
	}
	rec.stopRequested = true
	rec.job.Status = model.StatusStopped
	rec.job.UpdatedAt = nowFunc().Unix()

	k := keyOf(rec.job)
	s.mu.Lock()
	if s.active[k] == jobID {
		delete(s.active, k)
	}
	s.mu.Unlock()
	return true, nil
}

func (s *MemoryJobStore) StopRequested(_ context.Context, jobID string) (bool, error) {
	rec, err := s.record(jobID)
	if err != nil {
		return false, err
	}

	rec.mu.RLock()
	defer rec.mu.RUnlock()
	return rec.stopRequested, nil
}

func (s *MemoryJobStore) ListActive(_ context.Context) ([]model.BackupJob, error) {
	s.mu.RLock()
	recs := make([]*memoryRecord, 0, len(s.active))
	for _, id := range s.active {
		recs = append(recs, s.jobs[id])
	}
	s.mu.RUnlock()

	var out []model.BackupJob
	for _, rec := range recs {
		rec.mu.RLock()
		if model.IsActive(rec.job.Status) {
			out = append(out, *rec.job.Clone())
		}
		rec.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].JobID < out[j].JobID
	})
	return out, nil
}

func clampPercent(pct int) int {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
