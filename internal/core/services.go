package core

import (
	"github.com/rs/zerolog"

	"github.com/BardiaPzK/ribooster/internal/archive"
)

// Services bundles what the HTTP layer needs.
type Services struct {
	Backup  *BackupService
	Project *ProjectService
	Auth    *AuthService
}

func NewServices(store JobStore, runner JobSubmitter, archives archive.Store, source ProjectSource, auth *AuthService, logger zerolog.Logger) *Services {
	return &Services{
		Backup:  NewBackupService(store, runner, archives, logger),
		Project: NewProjectService(source),
		Auth:    auth,
	}
}
