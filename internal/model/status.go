package model

// Status is the lifecycle state of a backup job.
type Status string

// Backup job status constants.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
)

// transitions lists the allowed target states for each non-terminal state.
var transitions = map[Status][]Status{
	StatusPending: {StatusRunning, StatusStopped},
	StatusRunning: {StatusCompleted, StatusFailed, StatusStopped},
}

// IsTerminal reports whether no further transitions are allowed from s.
func IsTerminal(s Status) bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusStopped:
		return true
	}
	return false
}

// IsActive reports whether s is pending or running.
func IsActive(s Status) bool {
	return s == StatusPending || s == StatusRunning
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// SourcesFor returns the states from which to can be reached.
func SourcesFor(to Status) []Status {
	var out []Status
	for _, from := range []Status{StatusPending, StatusRunning} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusStopped:
		return true
	}
	return false
}
