package core

import (
	"context"
	"fmt"
	"time"

	"github.com/BardiaPzK/ribooster/internal/model"
)

// JobStore is the authoritative record of backup jobs. Every mutation is an
// atomic single-record operation; callers never mutate a job they have read.
type JobStore interface {
	// Create inserts a pending job. It returns ErrConflict when a pending or
	// running job already exists for the same org, company, user and project.
	Create(ctx context.Context, job *model.BackupJob) error
	// Get returns a copy of the job, or ErrNotFound when it does not exist or
	// belongs to another organization.
	Get(ctx context.Context, jobID, orgID string) (*model.BackupJob, error)
	AppendLog(ctx context.Context, jobID, line string) error
	// SetProgress raises the stored progress to pct. Lower values are ignored.
	SetProgress(ctx context.Context, jobID string, pct int) error
	// Transition moves the job to status to. The archive handle must be set
	// exactly when to is completed.
	Transition(ctx context.Context, jobID string, to model.Status, archive *model.ArchiveHandle) error
	// RequestStop flags a pending or running job for cancellation. It returns
	// false without mutating anything when the job is already terminal.
	RequestStop(ctx context.Context, jobID string) (bool, error)
	// StopPending moves a job that has not started yet straight to stopped.
	// It returns false when the job is no longer pending.
	StopPending(ctx context.Context, jobID string) (bool, error)
	StopRequested(ctx context.Context, jobID string) (bool, error)
	// ListActive returns every pending or running job, oldest first.
	ListActive(ctx context.Context) ([]model.BackupJob, error)
}

// nowFunc is the clock used for job timestamps and log prefixes.
var nowFunc = time.Now

// checkTransition validates a requested status change against the current one.
func checkTransition(from, to model.Status, archive *model.ArchiveHandle) error {
	if !model.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	if to == model.StatusCompleted && archive == nil {
		return errArchiveRequired
	}
	if to != model.StatusCompleted && archive != nil {
		return errArchiveUnexpected
	}
	return nil
}

var (
	errArchiveRequired   = fmt.Errorf("%w: completed requires an archive handle", ErrInvalidTransition)
	errArchiveUnexpected = fmt.Errorf("%w: archive handle is only valid for completed", ErrInvalidTransition)
)
