package request

import "github.com/BardiaPzK/ribooster/internal/model"

// StartBackup is the body of POST /api/user/projects/backup. ProjectID is the
// ERP's integer project key. Omitted include flags default to true.
type StartBackup struct {
	ProjectID         string `json:"project_id" validate:"required,number,max=18"`
	ProjectName       string `json:"project_name" validate:"max=255"`
	IncludeEstimates  *bool  `json:"include_estimates"`
	IncludeLineItems  *bool  `json:"include_lineitems"`
	IncludeResources  *bool  `json:"include_resources"`
	IncludeActivities *bool  `json:"include_activities"`
}

func (r *StartBackup) Options() model.BackupOptions {
	return model.BackupOptions{
		IncludeEstimates:  orTrue(r.IncludeEstimates),
		IncludeLineItems:  orTrue(r.IncludeLineItems),
		IncludeResources:  orTrue(r.IncludeResources),
		IncludeActivities: orTrue(r.IncludeActivities),
	}
}

func orTrue(b *bool) bool {
	return b == nil || *b
}
