package handler

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	mw "github.com/BardiaPzK/ribooster/internal/api/middleware"
	"github.com/BardiaPzK/ribooster/internal/api/request"
	"github.com/BardiaPzK/ribooster/internal/api/response"
	"github.com/BardiaPzK/ribooster/internal/core"
	"github.com/BardiaPzK/ribooster/internal/model"
)

type Backup struct {
	svc *core.BackupService
}

func NewBackup(svc *core.BackupService) *Backup {
	return &Backup{svc: svc}
}

// backupJobResponse is the job snapshot returned to the portal. The archive
// location is only exposed once the job has completed.
type backupJobResponse struct {
	model.BackupJob
	DownloadPath     string `json:"download_path,omitempty"`
	ArchiveSizeBytes *int64 `json:"archive_size_bytes,omitempty"`
}

func newBackupJobResponse(job *model.BackupJob) backupJobResponse {
	resp := backupJobResponse{BackupJob: *job}
	if job.Status == model.StatusCompleted && job.Archive != nil {
		size := job.Archive.SizeBytes
		resp.DownloadPath = downloadPath(job.JobID)
		resp.ArchiveSizeBytes = &size
	}
	return resp
}

func downloadPath(jobID string) string {
	return "/api/user/projects/backup/" + jobID + "/file"
}

func (h *Backup) Start(w http.ResponseWriter, r *http.Request) {
	scope, ok := mw.GetScope(r.Context())
	if !ok {
		response.WriteError(w, http.StatusUnauthorized, "missing authorization")
		return
	}

	var req request.StartBackup
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.svc.Start(r.Context(), scope, core.StartBackupParams{
		ProjectID:   req.ProjectID,
		ProjectName: req.ProjectName,
		Options:     req.Options(),
	})
	if err != nil {
		response.WriteServiceError(w, r, err)
		return
	}

	response.WriteJSON(w, http.StatusAccepted, newBackupJobResponse(job))
}

func (h *Backup) Get(w http.ResponseWriter, r *http.Request) {
	scope, jobID, ok := h.target(w, r)
	if !ok {
		return
	}

	job, err := h.svc.Get(r.Context(), scope, jobID)
	if err != nil {
		response.WriteServiceError(w, r, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, newBackupJobResponse(job))
}

func (h *Backup) Stop(w http.ResponseWriter, r *http.Request) {
	scope, jobID, ok := h.target(w, r)
	if !ok {
		return
	}

	stopped, err := h.svc.Stop(r.Context(), scope, jobID)
	if err != nil {
		response.WriteServiceError(w, r, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, map[string]bool{"stopped": stopped})
}

func (h *Backup) Download(w http.ResponseWriter, r *http.Request) {
	scope, jobID, ok := h.target(w, r)
	if !ok {
		return
	}

	rc, job, err := h.svc.Download(r.Context(), scope, jobID)
	if err != nil {
		response.WriteServiceError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Length", strconv.FormatInt(job.Archive.SizeBytes, 10))
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.zip"`, job.JobID))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, rc); err != nil {
		// Headers are already sent; all we can do is log and drop the connection.
		zerolog.Ctx(r.Context()).Warn().Err(err).Str("job_id", jobID).Msg("archive download interrupted")
	}
}

// target resolves the caller scope and the job id path parameter, writing the
// error response itself when either is missing.
func (h *Backup) target(w http.ResponseWriter, r *http.Request) (model.Scope, string, bool) {
	scope, ok := mw.GetScope(r.Context())
	if !ok {
		response.WriteError(w, http.StatusUnauthorized, "missing authorization")
		return model.Scope{}, "", false
	}
	jobID, err := request.RequireJobID(chi.URLParam(r, "jobID"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return model.Scope{}, "", false
	}
	return scope, jobID, true
}
