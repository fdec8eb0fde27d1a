package core

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BardiaPzK/ribooster/internal/archive"
	"github.com/BardiaPzK/ribooster/internal/model"
)

type recordingSubmitter struct {
	mu   sync.Mutex
	jobs []model.BackupJob
	err  error
}

func (s *recordingSubmitter) Submit(job model.BackupJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
	return s.err
}

var testScope = model.Scope{OrgID: "org-1", CompanyID: "co-1", UserID: "user-1"}

func newTestBackupService(t *testing.T) (*BackupService, *MemoryJobStore, *recordingSubmitter, *archive.LocalStore) {
	t.Helper()
	archives, err := archive.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	store := NewMemoryJobStore()
	sub := &recordingSubmitter{}
	return NewBackupService(store, sub, archives, zerolog.Nop()), store, sub, archives
}

func TestBackupService_Start_Success(t *testing.T) {
	svc, _, sub, _ := newTestBackupService(t)
	ctx := context.Background()

	job, err := svc.Start(ctx, testScope, StartBackupParams{ProjectID: " 1001 ", Options: allModules()})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(job.JobID, "job_"))
	assert.Equal(t, model.StatusPending, job.Status)
	assert.Equal(t, 0, job.Progress)
	assert.Equal(t, "1001", job.ProjectID)
	assert.Equal(t, "1001", job.ProjectName)
	require.Len(t, job.Log, 1)
	assert.True(t, strings.HasSuffix(job.Log[0], " Job created"))
	assert.Nil(t, job.Archive)

	require.Len(t, sub.jobs, 1)
	assert.Equal(t, job.JobID, sub.jobs[0].JobID)
}

func TestBackupService_Start_Validation(t *testing.T) {
	svc, _, sub, _ := newTestBackupService(t)
	ctx := context.Background()

	_, err := svc.Start(ctx, testScope, StartBackupParams{ProjectID: "  "})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "project_id", ve.Field)

	_, err = svc.Start(ctx, model.Scope{OrgID: "org-1", UserID: "u"}, StartBackupParams{ProjectID: "1"})
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "company_id", ve.Field)

	assert.Empty(t, sub.jobs)
}

func TestBackupService_Start_ConflictWhileActive(t *testing.T) {
	svc, _, sub, _ := newTestBackupService(t)
	ctx := context.Background()

	first, err := svc.Start(ctx, testScope, StartBackupParams{ProjectID: "1001"})
	require.NoError(t, err)

	_, err = svc.Start(ctx, testScope, StartBackupParams{ProjectID: "1001"})
	assert.ErrorIs(t, err, ErrConflict)
	assert.Len(t, sub.jobs, 1)

	got, err := svc.Get(ctx, testScope, first.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)
}

func TestBackupService_Start_ConcurrentSameProject(t *testing.T) {
	svc, _, sub, _ := newTestBackupService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]error, 2)
	ids := make([]string, 2)
	start := make(chan struct{})
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			job, err := svc.Start(ctx, testScope, StartBackupParams{ProjectID: "P-1"})
			results[i] = err
			if job != nil {
				ids[i] = job.JobID
			}
		}()
	}
	close(start)
	wg.Wait()

	var ok, conflicts int
	for i, err := range results {
		switch {
		case err == nil:
			ok++
			assert.NotEmpty(t, ids[i])
		case errors.Is(err, ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)
	assert.Len(t, sub.jobs, 1)
}

func TestBackupService_Start_SubmitFailureKeepsJob(t *testing.T) {
	svc, _, sub, _ := newTestBackupService(t)
	sub.err = ErrRunnerClosed
	ctx := context.Background()

	job, err := svc.Start(ctx, testScope, StartBackupParams{ProjectID: "1001"})
	require.NoError(t, err)

	got, err := svc.Get(ctx, testScope, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)
}

func TestBackupService_CrossTenantIsNotFound(t *testing.T) {
	svc, _, _, _ := newTestBackupService(t)
	ctx := context.Background()

	job, err := svc.Start(ctx, testScope, StartBackupParams{ProjectID: "1001"})
	require.NoError(t, err)

	for _, scope := range []model.Scope{
		{OrgID: "org-2", CompanyID: "co-1", UserID: "user-1"},
		{OrgID: "org-1", CompanyID: "co-2", UserID: "user-1"},
		{OrgID: "org-1", CompanyID: "co-1", UserID: "user-2"},
	} {
		_, err := svc.Get(ctx, scope, job.JobID)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = svc.Stop(ctx, scope, job.JobID)
		assert.ErrorIs(t, err, ErrNotFound)
		_, _, err = svc.Download(ctx, scope, job.JobID)
		assert.ErrorIs(t, err, ErrNotFound)
	}
}

func TestBackupService_Stop(t *testing.T) {
	svc, store, _, _ := newTestBackupService(t)
	ctx := context.Background()

	job, err := svc.Start(ctx, testScope, StartBackupParams{ProjectID: "1001"})
	require.NoError(t, err)
	require.NoError(t, store.Transition(ctx, job.JobID, model.StatusRunning, nil))

	ok, err := svc.Stop(ctx, testScope, job.JobID)
	require.NoError(t, err)
	assert.True(t, ok)
	got, err := svc.Get(ctx, testScope, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRunning, got.Status, "a running job is left to the runner")
	requested, err := store.StopRequested(ctx, job.JobID)
	require.NoError(t, err)
	assert.True(t, requested)

	require.NoError(t, store.Transition(ctx, job.JobID, model.StatusStopped, nil))
	ok, err = svc.Stop(ctx, testScope, job.JobID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBackupService_StopPendingReleasesProject(t *testing.T) {
	svc, _, _, _ := newTestBackupService(t)
	ctx := context.Background()

	job, err := svc.Start(ctx, testScope, StartBackupParams{ProjectID: "1001"})
	require.NoError(t, err)

	ok, err := svc.Stop(ctx, testScope, job.JobID)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := svc.Get(ctx, testScope, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusStopped, got.Status)
	assert.Equal(t, []string{"Job created", "Stop requested before start"}, messages(got.Log))

	_, err = svc.Start(ctx, testScope, StartBackupParams{ProjectID: "1001"})
	assert.NoError(t, err)

	ok, err = svc.Stop(ctx, testScope, job.JobID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBackupService_Download_NotReady(t *testing.T) {
	svc, store, _, _ := newTestBackupService(t)
	ctx := context.Background()

	job, err := svc.Start(ctx, testScope, StartBackupParams{ProjectID: "1001"})
	require.NoError(t, err)

	_, _, err = svc.Download(ctx, testScope, job.JobID)
	assert.ErrorIs(t, err, ErrNotReady)

	require.NoError(t, store.Transition(ctx, job.JobID, model.StatusRunning, nil))
	require.NoError(t, store.Transition(ctx, job.JobID, model.StatusFailed, nil))
	_, _, err = svc.Download(ctx, testScope, job.JobID)
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestBackupService_Download_Completed(t *testing.T) {
	svc, store, _, archives := newTestBackupService(t)
	ctx := context.Background()

	job, err := svc.Start(ctx, testScope, StartBackupParams{ProjectID: "1001"})
	require.NoError(t, err)

	w, err := archives.Create(ctx, job.JobID)
	require.NoError(t, err)
	handle, err := w.Commit(ctx, archive.Manifest{JobID: job.JobID})
	require.NoError(t, err)
	require.NoError(t, store.Transition(ctx, job.JobID, model.StatusRunning, nil))
	require.NoError(t, store.Transition(ctx, job.JobID, model.StatusCompleted, &handle))

	rc, got, err := svc.Download(ctx, testScope, job.JobID)
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, got.Archive.SizeBytes, int64(len(body)))
}

func TestBackupService_Download_Reclaimed(t *testing.T) {
	svc, store, _, archives := newTestBackupService(t)
	ctx := context.Background()

	job, err := svc.Start(ctx, testScope, StartBackupParams{ProjectID: "1001"})
	require.NoError(t, err)
	w, err := archives.Create(ctx, job.JobID)
	require.NoError(t, err)
	handle, err := w.Commit(ctx, archive.Manifest{JobID: job.JobID})
	require.NoError(t, err)
	require.NoError(t, store.Transition(ctx, job.JobID, model.StatusRunning, nil))
	require.NoError(t, store.Transition(ctx, job.JobID, model.StatusCompleted, &handle))
	require.NoError(t, archives.Delete(ctx, handle.Key))

	_, _, err = svc.Download(ctx, testScope, job.JobID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBackupService_EndToEnd(t *testing.T) {
	archives, err := archive.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	store := NewMemoryJobStore()
	source := newFakeSource()
	source.pages[model.ModuleEstimates] = []int{2, 1}
	source.pages[model.ModuleLineItems] = []int{1}
	source.pages[model.ModuleResources] = []int{1}
	source.pages[model.ModuleActivities] = []int{1}

	runner := NewRunner(store, source, archives, zerolog.Nop(), RunnerConfig{})
	t.Cleanup(func() { _ = runner.Shutdown(context.Background()) })
	svc := NewBackupService(store, runner, archives, zerolog.Nop())
	ctx := context.Background()

	job, err := svc.Start(ctx, testScope, StartBackupParams{ProjectID: "P-1", ProjectName: "Pier", Options: allModules()})
	require.NoError(t, err)

	var done *model.BackupJob
	require.Eventually(t, func() bool {
		done, err = svc.Get(ctx, testScope, job.JobID)
		return err == nil && model.IsTerminal(done.Status)
	}, 5*time.Second, 5*time.Millisecond)
	require.Equal(t, model.StatusCompleted, done.Status)

	rc, _, err := svc.Download(ctx, testScope, job.JobID)
	require.NoError(t, err)
	rc.Close()

	_, err = svc.Start(ctx, testScope, StartBackupParams{ProjectID: "P-1"})
	assert.NoError(t, err, "a finished job frees the project for a new backup")
}

func TestProjectService_List(t *testing.T) {
	source := newFakeSource()
	svc := NewProjectService(source)

	projects, err := svc.List(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, projects)
	assert.Empty(t, projects)

	source.projects = []model.Project{{ID: "1", Name: "Alpha"}}
	projects, err = svc.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, source.projects, projects)
}

type failingSource struct{}

func (failingSource) ListProjects(context.Context) ([]model.Project, error) {
	return nil, errors.New("status 502")
}

func (failingSource) FetchModule(context.Context, string, model.Module, string) (*model.Page, error) {
	return nil, errors.New("status 502")
}

func TestProjectService_List_Error(t *testing.T) {
	_, err := NewProjectService(failingSource{}).List(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list projects")
}
