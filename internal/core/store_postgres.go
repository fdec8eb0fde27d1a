package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/BardiaPzK/ribooster/internal/model"
)

const (
	uniqueViolation     = "23505"
	oneActiveConstraint = "backup_jobs_one_active"
)

const jobColumns = `job_id, org_id, company_id, user_id, project_id, project_name, options, status, progress, log, archive_key, archive_size, created_at, updated_at`

// PostgresJobStore persists jobs in the backup_jobs table. The partial unique
// index backup_jobs_one_active enforces one pending/running job per
// (org, company, user, project).
type PostgresJobStore struct {
	db DB
}

func NewPostgresJobStore(db DB) *PostgresJobStore {
	return &PostgresJobStore{db: db}
}

func (s *PostgresJobStore) Create(ctx context.Context, job *model.BackupJob) error {
	if job.Status != model.StatusPending {
		return fmt.Errorf("create job %s: status must be pending, got %s", job.JobID, job.Status)
	}
	opts, err := json.Marshal(job.Options)
	if err != nil {
		return fmt.Errorf("marshal job options: %w", err)
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO backup_jobs (job_id, org_id, company_id, user_id, project_id, project_name, options, status, progress, log, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		job.JobID, job.OrgID, job.CompanyID, job.UserID, job.ProjectID, job.ProjectName,
		string(opts), string(job.Status), job.Progress, job.Log, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == oneActiveConstraint {
			return ErrConflict
		}
		return fmt.Errorf("insert backup job: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Get(ctx context.Context, jobID, orgID string) (*model.BackupJob, error) {
	job, err := scanJob(s.db.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM backup_jobs WHERE job_id = $1 AND org_id = $2`, jobID, orgID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get backup job %s: %w", jobID, err)
	}
	return job, nil
}

func (s *PostgresJobStore) AppendLog(ctx context.Context, jobID, line string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE backup_jobs SET log = array_append(log, $2), updated_at = $3 WHERE job_id = $1`,
		jobID, line, nowFunc().Unix())
	if err != nil {
		return fmt.Errorf("append log to job %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	return nil
}

func (s *PostgresJobStore) SetProgress(ctx context.Context, jobID string, pct int) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE backup_jobs
		 SET updated_at = CASE WHEN $2 > progress THEN $3 ELSE updated_at END,
		     progress = GREATEST(progress, $2)
		 WHERE job_id = $1`,
		jobID, clampPercent(pct), nowFunc().Unix())
	if err != nil {
		return fmt.Errorf("set progress of job %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	return nil
}

func (s *PostgresJobStore) Transition(ctx context.Context, jobID string, to model.Status, archive *model.ArchiveHandle) error {
	sources := model.SourcesFor(to)
	if len(sources) == 0 {
		return fmt.Errorf("transition job %s: %w: no path to %s", jobID, ErrInvalidTransition, to)
	}
	if to == model.StatusCompleted && archive == nil {
		return fmt.Errorf("transition job %s: %w", jobID, errArchiveRequired)
	}
	if to != model.StatusCompleted && archive != nil {
		return fmt.Errorf("transition job %s: %w", jobID, errArchiveUnexpected)
	}

	var archiveKey *string
	var archiveSize *int64
	if archive != nil {
		archiveKey = &archive.Key
		archiveSize = &archive.SizeBytes
	}
	from := make([]string, len(sources))
	for i, st := range sources {
		from[i] = string(st)
	}

	tag, err := s.db.Exec(ctx,
		`UPDATE backup_jobs
		 SET status = $2, archive_key = $3, archive_size = $4, updated_at = $5,
		     progress = CASE WHEN $2 = 'completed' THEN 100 ELSE progress END
		 WHERE job_id = $1 AND status = ANY($6)`,
		jobID, string(to), archiveKey, archiveSize, nowFunc().Unix(), from)
	if err != nil {
		return fmt.Errorf("transition job %s to %s: %w", jobID, to, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	current, err := s.status(ctx, jobID)
	if err != nil {
		return err
	}
	return fmt.Errorf("transition job %s: %w: %s -> %s", jobID, ErrInvalidTransition, current, to)
}

func (s *PostgresJobStore) RequestStop(ctx context.Context, jobID string) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE backup_jobs SET stop_requested = true, updated_at = $2
		 WHERE job_id = $1 AND status IN ('pending', 'running')`,
		jobID, nowFunc().Unix())
	if err != nil {
		return false, fmt.Errorf("request stop of job %s: %w", jobID, err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	if _, err := s.status(ctx, jobID); err != nil {
		return false, err
	}
	return false, nil
}

func (s *PostgresJobStore) StopPending(ctx context.Context, jobID string) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE backup_jobs SET status = 'stopped', stop_requested = true, updated_at = $2
		 WHERE job_id = $1 AND status = 'pending'`,
		jobID, nowFunc().Unix())
	if err != nil {
		return false, fmt.Errorf("stop pending job %s: %w", jobID, err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	if _, err := s.status(ctx, jobID); err != nil {
		return false, err
	}
	return false, nil
}

func (s *PostgresJobStore) StopRequested(ctx context.Context, jobID string) (bool, error) {
	var stop bool
	err := s.db.QueryRow(ctx, `SELECT stop_requested FROM backup_jobs WHERE job_id = $1`, jobID).Scan(&stop)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("get stop flag of job %s: %w", jobID, err)
	}
	return stop, nil
}

func (s *PostgresJobStore) ListActive(ctx context.Context) ([]model.BackupJob, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+jobColumns+` FROM backup_jobs WHERE status IN ('pending', 'running') ORDER BY created_at, job_id`)
	if err != nil {
		return nil, fmt.Errorf("list active backup jobs: %w", err)
	}
	defer rows.Close()

	var jobs []model.BackupJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan backup job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate backup jobs: %w", err)
	}
	return jobs, nil
}

func (s *PostgresJobStore) status(ctx context.Context, jobID string) (model.Status, error) {
	var st string
	err := s.db.QueryRow(ctx, `SELECT status FROM backup_jobs WHERE job_id = $1`, jobID).Scan(&st)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get status of job %s: %w", jobID, err)
	}
	return model.Status(st), nil
}

func scanJob(row pgx.Row) (*model.BackupJob, error) {
	var (
		j           model.BackupJob
		opts        []byte
		status      string
		archiveKey  *string
		archiveSize *int64
	)
	if err := row.Scan(&j.JobID, &j.OrgID, &j.CompanyID, &j.UserID, &j.ProjectID, &j.ProjectName,
		&opts, &status, &j.Progress, &j.Log, &archiveKey, &archiveSize, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	if len(opts) > 0 {
		if err := json.Unmarshal(opts, &j.Options); err != nil {
			return nil, fmt.Errorf("decode options of job %s: %w", j.JobID, err)
		}
	}
	j.Status = model.Status(status)
	if !j.Status.Valid() {
		return nil, fmt.Errorf("job %s has unknown status %q", j.JobID, status)
	}
	if archiveKey != nil {
		j.Archive = &model.ArchiveHandle{Key: *archiveKey}
		if archiveSize != nil {
			j.Archive.SizeBytes = *archiveSize
		}
	}
	if j.Log == nil {
		j.Log = []string{}
	}
	return &j, nil
}
