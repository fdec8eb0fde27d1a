package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/BardiaPzK/ribooster/internal/archive"
	"github.com/BardiaPzK/ribooster/internal/metrics"
	"github.com/BardiaPzK/ribooster/internal/model"
	"github.com/BardiaPzK/ribooster/internal/platform"
)

// ErrRunnerClosed is returned by Submit after Shutdown has been called.
var ErrRunnerClosed = errors.New("runner is shut down")

// finalizeTimeout bounds the store writes that record a job's outcome. They
// run on a fresh context so a cancelled job can still be marked terminal.
const finalizeTimeout = 10 * time.Second

type RunnerConfig struct {
	MaxConcurrent  int
	FetchAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	JobTimeout     time.Duration
}

func (c *RunnerConfig) applyDefaults() {
	if c.MaxConcurrent < 1 {
		c.MaxConcurrent = 4
	}
	if c.FetchAttempts < 1 {
		c.FetchAttempts = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 30 * time.Minute
	}
}

// Runner executes backup jobs on a bounded pool of goroutines. Each job is
// driven by exactly one goroutine from pending to a terminal state.
type Runner struct {
	store    JobStore
	source   ProjectSource
	archives archive.Store
	notifier Notifier
	logger   zerolog.Logger
	cfg      RunnerConfig

	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	active map[string]struct{}
	closed bool

	// sleep waits between retries; tests replace it.
	sleep func(ctx context.Context, d time.Duration) error
}

type RunnerOption func(*Runner)

// WithNotifier publishes job state changes to n.
func WithNotifier(n Notifier) RunnerOption {
	return func(r *Runner) { r.notifier = n }
}

func NewRunner(store JobStore, source ProjectSource, archives archive.Store, logger zerolog.Logger, cfg RunnerConfig, opts ...RunnerOption) *Runner {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		store:    store,
		source:   source,
		archives: archives,
		notifier: noopNotifier{},
		logger:   logger.With().Str("component", "backup-runner").Logger(),
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		ctx:      ctx,
		cancel:   cancel,
		active:   make(map[string]struct{}),
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Submit queues a pending job. It never blocks. Submitting a job that is
// already queued or running is a no-op.
func (r *Runner) Submit(job model.BackupJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRunnerClosed
	}
	if _, busy := r.active[job.JobID]; busy {
		return nil
	}
	r.active[job.JobID] = struct{}{}
	r.wg.Add(1)

	go func() {
		defer r.wg.Done()
		defer r.release(job.JobID)

		// Shutdown while waiting leaves the job pending for the next boot.
		if err := r.sem.Acquire(r.ctx, 1); err != nil {
			return
		}
		defer r.sem.Release(1)

		metrics.BackupJobsRunning.Inc()
		defer metrics.BackupJobsRunning.Dec()

		r.run(&job)
	}()
	return nil
}

func (r *Runner) release(jobID string) {
	r.mu.Lock()
	delete(r.active, jobID)
	r.mu.Unlock()
}

// Shutdown stops accepting jobs, cancels running ones and waits for every
// worker goroutine to return or for ctx to expire.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for backup workers: %w", ctx.Err())
	}
}

// Recover resumes work left behind by a previous process. Jobs that were
// running are failed; pending jobs are queued again.
func (r *Runner) Recover(ctx context.Context) error {
	jobs, err := r.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active jobs: %w", err)
	}

	var resumed, failed int
	for i := range jobs {
		job := &jobs[i]
		switch job.Status {
		case model.StatusRunning:
			r.appendLog(ctx, job, "Backup failed: interrupted by restart")
			if err := r.store.Transition(ctx, job.JobID, model.StatusFailed, nil); err != nil {
				r.logger.Error().Err(err).Str("job_id", job.JobID).Msg("failed to fail stale job")
				continue
			}
			metrics.BackupJobsFinished.WithLabelValues(string(model.StatusFailed)).Inc()
			r.publish(ctx, job, model.StatusFailed, "")
			failed++
		case model.StatusPending:
			if err := r.Submit(*job); err != nil {
				return fmt.Errorf("resubmit job %s: %w", job.JobID, err)
			}
			resumed++
		}
	}

	r.logger.Info().Int("resumed", resumed).Int("failed", failed).Msg("recovered backup jobs")
	return nil
}

// run drives one job. It never returns an error; every outcome is recorded
// on the job itself.
func (r *Runner) run(job *model.BackupJob) {
	log := r.logger.With().Str("job_id", job.JobID).Str("project_id", job.ProjectID).Logger()

	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic", p).Msg("backup runner panic")
			r.finish(job, model.StatusFailed, "Backup failed: internal error")
		}
	}()

	current, err := r.store.Get(r.ctx, job.JobID, job.OrgID)
	if err != nil {
		log.Error().Err(err).Msg("failed to reload queued job")
		return
	}
	if current.Status != model.StatusPending {
		// Stopped while waiting for a worker slot.
		log.Debug().Str("status", string(current.Status)).Msg("job no longer pending")
		return
	}

	stop, err := r.store.StopRequested(r.ctx, job.JobID)
	if err != nil {
		// The job stays pending and is picked up again by Recover.
		log.Error().Err(err).Msg("failed to read stop flag")
		return
	}
	if stop {
		r.finish(job, model.StatusStopped, "Stop requested before start")
		return
	}

	if err := r.store.Transition(r.ctx, job.JobID, model.StatusRunning, nil); err != nil {
		// Another worker claimed the job, or it was stopped in the meantime.
		log.Debug().Err(err).Msg("job not claimable")
		return
	}
	job.Status = model.StatusRunning
	metrics.BackupJobsStarted.Inc()
	r.publish(r.ctx, job, model.StatusRunning, "")
	log.Info().Msg("backup started")

	jobCtx, cancel := context.WithTimeout(r.ctx, r.cfg.JobTimeout)
	defer cancel()

	status, line := r.export(jobCtx, job, log)
	r.finish(job, status, line)

	log.Info().Str("status", string(status)).Msg("backup finished")
}

// export writes every enabled module into a new archive. It returns the
// terminal status and the log line describing it.
func (r *Runner) export(ctx context.Context, job *model.BackupJob, log zerolog.Logger) (model.Status, string) {
	w, err := r.archives.Create(ctx, job.JobID)
	if err != nil {
		return r.failure(ctx, "Backup failed", err)
	}
	committed := false
	defer func() {
		if !committed {
			if err := w.Abort(); err != nil {
				log.Warn().Err(err).Msg("failed to discard partial archive")
			}
		}
	}()

	modules := job.Options.Modules()
	counts := make(map[string]int, len(modules))
	p := progress{total: len(modules)}

	for _, m := range modules {
		r.appendLog(ctx, job, "Started "+string(m))
		if err := w.BeginEntry(m.EntryName()); err != nil {
			return r.failure(ctx, "Failed "+string(m), err)
		}

		token := ""
		for {
			page, err := r.fetch(ctx, job, m, token)
			if err != nil {
				return r.failure(ctx, "Failed "+string(m), err)
			}
			if err := w.WriteRecords(page.Records); err != nil {
				return r.failure(ctx, "Failed "+string(m), err)
			}
			counts[m.EntryName()] += len(page.Records)
			p.pages++
			r.setProgress(ctx, job, p.percent())

			if stop, _ := r.stopRequested(ctx, job); stop {
				return model.StatusStopped, "Stop requested, export abandoned"
			}
			if err := ctx.Err(); err != nil {
				return r.failure(ctx, "Failed "+string(m), err)
			}
			if page.NextToken == "" {
				break
			}
			token = page.NextToken
		}

		if err := w.EndEntry(); err != nil {
			return r.failure(ctx, "Failed "+string(m), err)
		}
		p.done++
		p.pages = 0
		r.setProgress(ctx, job, p.percent())
		r.appendLog(ctx, job, fmt.Sprintf("Finished %s (%d records)", m, counts[m.EntryName()]))
	}

	if stop, _ := r.stopRequested(ctx, job); stop {
		return model.StatusStopped, "Stop requested, export abandoned"
	}

	handle, err := w.Commit(ctx, archive.Manifest{
		JobID:       job.JobID,
		ProjectID:   job.ProjectID,
		ProjectName: job.ProjectName,
		Options:     job.Options,
		CreatedAt:   nowFunc().Unix(),
	})
	if err != nil {
		return r.failure(ctx, "Backup failed", err)
	}
	committed = true
	job.Archive = &handle
	metrics.BackupArchiveBytes.Observe(float64(handle.SizeBytes))
	return model.StatusCompleted, fmt.Sprintf("Backup completed (%d bytes)", handle.SizeBytes)
}

// failure classifies err into a failed status and its log line. Context
// errors take precedence so the log states why the job was cut short.
func (r *Runner) failure(ctx context.Context, prefix string, err error) (model.Status, string) {
	switch {
	case r.ctx.Err() != nil:
		return model.StatusFailed, "Backup failed: interrupted by shutdown"
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return model.StatusFailed, "Backup failed: deadline exceeded"
	}
	return model.StatusFailed, fmt.Sprintf("%s: %v", prefix, err)
}

// fetch retrieves one page, retrying transient errors with exponential
// backoff.
func (r *Runner) fetch(ctx context.Context, job *model.BackupJob, m model.Module, token string) (*model.Page, error) {
	for attempt := 1; ; attempt++ {
		page, err := r.source.FetchModule(ctx, job.ProjectID, m, token)
		if err == nil {
			if page == nil {
				page = &model.Page{}
			}
			return page, nil
		}
		if attempt >= r.cfg.FetchAttempts || !IsTransient(err) || ctx.Err() != nil {
			return nil, err
		}

		r.appendLog(ctx, job, fmt.Sprintf("Retrying %s page after error (attempt %d/%d): %v", m, attempt+1, r.cfg.FetchAttempts, err))
		metrics.BackupFetchRetries.WithLabelValues(string(m)).Inc()
		if err := r.sleep(ctx, r.backoff(attempt)); err != nil {
			return nil, err
		}
	}
}

func (r *Runner) backoff(attempt int) time.Duration {
	d := r.cfg.RetryBaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= r.cfg.RetryMaxDelay {
			return r.cfg.RetryMaxDelay
		}
	}
	return min(d, r.cfg.RetryMaxDelay)
}

// finish records the terminal log line and status on a fresh context.
func (r *Runner) finish(job *model.BackupJob, status model.Status, line string) {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	r.appendLog(ctx, job, line)

	var handle *model.ArchiveHandle
	if status == model.StatusCompleted {
		handle = job.Archive
	}
	if err := r.store.Transition(ctx, job.JobID, status, handle); err != nil {
		r.logger.Error().Err(err).Str("job_id", job.JobID).Str("status", string(status)).Msg("failed to record job outcome")
		if handle != nil {
			if err := r.archives.Delete(ctx, handle.Key); err != nil {
				r.logger.Warn().Err(err).Str("job_id", job.JobID).Msg("failed to delete orphaned archive")
			}
		}
		return
	}
	job.Status = status
	metrics.BackupJobsFinished.WithLabelValues(string(status)).Inc()
	r.publish(ctx, job, status, "")
}

func (r *Runner) stopRequested(ctx context.Context, job *model.BackupJob) (bool, error) {
	stop, err := r.store.StopRequested(ctx, job.JobID)
	if err != nil {
		r.logger.Warn().Err(err).Str("job_id", job.JobID).Msg("failed to read stop flag")
	}
	return stop, err
}

func (r *Runner) appendLog(ctx context.Context, job *model.BackupJob, msg string) {
	line := LogLine(msg)
	if err := r.store.AppendLog(ctx, job.JobID, line); err != nil {
		r.logger.Warn().Err(err).Str("job_id", job.JobID).Msg("failed to append job log")
		return
	}
	r.publish(ctx, job, job.Status, line)
}

func (r *Runner) setProgress(ctx context.Context, job *model.BackupJob, pct int) {
	if pct <= job.Progress {
		return
	}
	if err := r.store.SetProgress(ctx, job.JobID, pct); err != nil {
		r.logger.Warn().Err(err).Str("job_id", job.JobID).Msg("failed to update progress")
		return
	}
	job.Progress = pct
	r.publish(ctx, job, job.Status, "")
}

func (r *Runner) publish(ctx context.Context, job *model.BackupJob, status model.Status, line string) {
	progress := job.Progress
	if status == model.StatusCompleted {
		progress = 100
	}
	r.notifier.Publish(ctx, model.JobEvent{
		EventID:   platform.NewID(),
		JobID:     job.JobID,
		OrgID:     job.OrgID,
		UserID:    job.UserID,
		Status:    status,
		Progress:  progress,
		Line:      line,
		Timestamp: nowFunc().Unix(),
	})
}

// LogLine prefixes msg with a UTC timestamp.
func LogLine(msg string) string {
	return nowFunc().UTC().Format(time.RFC3339) + " " + msg
}

// progress tracks export progress across modules of equal weight. Within a
// module the fraction pages/(pages+1) approaches but never reaches one, since
// the page count is unknown upfront.
type progress struct {
	total int
	done  int
	pages int
}

func (p progress) percent() int {
	if p.total == 0 {
		return 0
	}
	frac := float64(p.pages) / float64(p.pages+1)
	pct := int((float64(p.done) + frac) / float64(p.total) * 100)
	return min(pct, 99)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
