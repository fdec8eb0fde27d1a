package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/BardiaPzK/ribooster/internal/archive"
	"github.com/BardiaPzK/ribooster/internal/metrics"
	"github.com/BardiaPzK/ribooster/internal/model"
	"github.com/BardiaPzK/ribooster/internal/platform"
)

// JobSubmitter hands a stored pending job to the execution pool.
type JobSubmitter interface {
	Submit(job model.BackupJob) error
}

// StartBackupParams is a validated start request.
type StartBackupParams struct {
	ProjectID   string
	ProjectName string
	Options     model.BackupOptions
}

// BackupService is the tenant-facing entry point for backup jobs. It only
// touches the job store and the archive store; all upstream traffic happens
// in the runner.
type BackupService struct {
	store    JobStore
	runner   JobSubmitter
	archives archive.Store
	logger   zerolog.Logger
}

func NewBackupService(store JobStore, runner JobSubmitter, archives archive.Store, logger zerolog.Logger) *BackupService {
	return &BackupService{
		store:    store,
		runner:   runner,
		archives: archives,
		logger:   logger.With().Str("component", "backup-service").Logger(),
	}
}

// Start creates a pending job and queues it. It returns the pending snapshot
// without waiting for any work to happen.
func (s *BackupService) Start(ctx context.Context, scope model.Scope, params StartBackupParams) (*model.BackupJob, error) {
	if err := validateScope(scope); err != nil {
		return nil, err
	}
	projectID := strings.TrimSpace(params.ProjectID)
	if projectID == "" {
		return nil, &ValidationError{Field: "project_id", Message: "is required"}
	}
	name := strings.TrimSpace(params.ProjectName)
	if name == "" {
		name = projectID
	}

	now := nowFunc()
	job := &model.BackupJob{
		JobID:       platform.NewJobID(),
		OrgID:       scope.OrgID,
		CompanyID:   scope.CompanyID,
		UserID:      scope.UserID,
		ProjectID:   projectID,
		ProjectName: name,
		Options:     params.Options,
		Status:      model.StatusPending,
		Log:         []string{LogLine("Job created")},
		CreatedAt:   now.Unix(),
		UpdatedAt:   now.Unix(),
	}
	if err := s.store.Create(ctx, job); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("create backup job: %w", err)
	}

	if err := s.runner.Submit(*job); err != nil {
		// The job is stored; Recover picks it up on the next boot.
		s.logger.Warn().Err(err).Str("job_id", job.JobID).Msg("job stored but not queued")
	}

	s.logger.Info().
		Str("job_id", job.JobID).
		Str("org_id", job.OrgID).
		Str("project_id", job.ProjectID).
		Msg("backup job created")
	return job, nil
}

// Get returns the job when it belongs to the caller.
func (s *BackupService) Get(ctx context.Context, scope model.Scope, jobID string) (*model.BackupJob, error) {
	if err := validateScope(scope); err != nil {
		return nil, err
	}
	job, err := s.store.Get(ctx, jobID, scope.OrgID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get backup job %s: %w", jobID, err)
	}
	if job.Owner() != scope {
		return nil, ErrNotFound
	}
	return job, nil
}

// Stop cancels the job. A job that has not started yet is stopped at once and
// releases its project slot; a running job is flagged and abandoned by the
// runner at its next checkpoint. It reports false when the job has already
// finished.
func (s *BackupService) Stop(ctx context.Context, scope model.Scope, jobID string) (bool, error) {
	if _, err := s.Get(ctx, scope, jobID); err != nil {
		return false, err
	}

	cancelled, err := s.store.StopPending(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("stop backup job %s: %w", jobID, err)
	}
	if cancelled {
		if err := s.store.AppendLog(ctx, jobID, LogLine("Stop requested before start")); err != nil {
			s.logger.Warn().Err(err).Str("job_id", jobID).Msg("failed to append job log")
		}
		metrics.BackupJobsFinished.WithLabelValues(string(model.StatusStopped)).Inc()
		s.logger.Info().Str("job_id", jobID).Msg("pending job stopped")
		return true, nil
	}

	stopped, err := s.store.RequestStop(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("stop backup job %s: %w", jobID, err)
	}
	if stopped {
		s.logger.Info().Str("job_id", jobID).Msg("stop requested")
	}
	return stopped, nil
}

// Download opens the archive of a completed job. The caller must close the
// returned reader.
func (s *BackupService) Download(ctx context.Context, scope model.Scope, jobID string) (io.ReadCloser, *model.BackupJob, error) {
	job, err := s.Get(ctx, scope, jobID)
	if err != nil {
		return nil, nil, err
	}
	if job.Status != model.StatusCompleted || job.Archive == nil {
		return nil, nil, ErrNotReady
	}

	rc, size, err := s.archives.Open(ctx, job.Archive.Key)
	if err != nil {
		if errors.Is(err, archive.ErrNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("open archive for %s: %w", jobID, err)
	}
	if size != job.Archive.SizeBytes {
		rc.Close()
		return nil, nil, fmt.Errorf("archive for %s: size %d does not match recorded %d", jobID, size, job.Archive.SizeBytes)
	}
	return rc, job, nil
}

func validateScope(scope model.Scope) error {
	switch {
	case scope.OrgID == "":
		return &ValidationError{Field: "org_id", Message: "is required"}
	case scope.CompanyID == "":
		return &ValidationError{Field: "company_id", Message: "is required"}
	case scope.UserID == "":
		return &ValidationError{Field: "user_id", Message: "is required"}
	}
	return nil
}
