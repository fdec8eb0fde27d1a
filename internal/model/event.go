package model

import "encoding/json"

// Page is one batch of records fetched from the project API.
// An empty NextToken means the module has no further pages.
type Page struct {
	Records   []json.RawMessage
	NextToken string
}

// JobEvent describes a change to a backup job, published for live clients.
// EventID lets subscribers drop duplicates.
type JobEvent struct {
	EventID   string `json:"event_id"`
	JobID     string `json:"job_id"`
	OrgID     string `json:"org_id"`
	UserID    string `json:"user_id"`
	Status    Status `json:"status"`
	Progress  int    `json:"progress"`
	Line      string `json:"line,omitempty"`
	Timestamp int64  `json:"timestamp"`
}
