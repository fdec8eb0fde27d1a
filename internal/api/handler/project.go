package handler

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/BardiaPzK/ribooster/internal/api/response"
	"github.com/BardiaPzK/ribooster/internal/core"
)

type Project struct {
	svc *core.ProjectService
}

func NewProject(svc *core.ProjectService) *Project {
	return &Project{svc: svc}
}

// List returns the projects visible to the portal's ERP account.
func (h *Project) List(w http.ResponseWriter, r *http.Request) {
	projects, err := h.svc.List(r.Context())
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("list projects")
		response.WriteError(w, http.StatusBadGateway, "failed to load projects from ERP")
		return
	}

	response.WriteJSON(w, http.StatusOK, projects)
}
