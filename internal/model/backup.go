package model

// Module is one of the project data categories that can be exported.
type Module string

const (
	ModuleEstimates  Module = "estimates"
	ModuleLineItems  Module = "lineitems"
	ModuleResources  Module = "resources"
	ModuleActivities Module = "activities"
)

// EntryName is the archive entry the module's records are written to.
func (m Module) EntryName() string {
	return string(m) + ".json"
}

// BackupOptions is the export scope captured when a job is created.
type BackupOptions struct {
	IncludeEstimates  bool `json:"include_estimates"`
	IncludeLineItems  bool `json:"include_lineitems"`
	IncludeResources  bool `json:"include_resources"`
	IncludeActivities bool `json:"include_activities"`
}

// Modules returns the enabled modules in export order.
func (o BackupOptions) Modules() []Module {
	var out []Module
	if o.IncludeEstimates {
		out = append(out, ModuleEstimates)
	}
	if o.IncludeLineItems {
		out = append(out, ModuleLineItems)
	}
	if o.IncludeResources {
		out = append(out, ModuleResources)
	}
	if o.IncludeActivities {
		out = append(out, ModuleActivities)
	}
	return out
}

// ArchiveHandle references a finalized backup artifact.
type ArchiveHandle struct {
	Key       string `json:"key"`
	SizeBytes int64  `json:"size_bytes"`
}

// Scope identifies the caller a job belongs to.
type Scope struct {
	OrgID     string
	CompanyID string
	UserID    string
}

// BackupJob is one project export request and its execution state.
type BackupJob struct {
	JobID       string         `json:"job_id"`
	OrgID       string         `json:"org_id"`
	CompanyID   string         `json:"company_id"`
	UserID      string         `json:"user_id"`
	ProjectID   string         `json:"project_id"`
	ProjectName string         `json:"project_name"`
	Options     BackupOptions  `json:"options"`
	Status      Status         `json:"status"`
	Progress    int            `json:"progress"`
	Log         []string       `json:"log"`
	CreatedAt   int64          `json:"created_at"`
	UpdatedAt   int64          `json:"updated_at"`
	Archive     *ArchiveHandle `json:"-"`
}

// Owner returns the tenancy scope of the job.
func (j *BackupJob) Owner() Scope {
	return Scope{OrgID: j.OrgID, CompanyID: j.CompanyID, UserID: j.UserID}
}

// Clone returns a deep copy safe to hand to callers.
func (j *BackupJob) Clone() *BackupJob {
	c := *j
	c.Log = append([]string(nil), j.Log...)
	if j.Archive != nil {
		a := *j.Archive
		c.Archive = &a
	}
	return &c
}

// Project is a remote ERP project as shown in the project picker.
type Project struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
