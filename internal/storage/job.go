package storage

import (
	"errors"
	"time"
)

// JobStatus enumerates possible states for a processing job.
type JobStatus string

const (
	StatusQueued      JobStatus = "queued"
	StatusDownloading JobStatus = "downloading"
	StatusProcessing  JobStatus = "processing"
	StatusCompleted   JobStatus = "completed"
	StatusFailed      JobStatus = "failed"
)

// statusRank orders the forward path; terminal states share the last rank.
var statusRank = map[JobStatus]int{
	StatusQueued:      0,
	StatusDownloading: 1,
	StatusProcessing:  2,
	StatusCompleted:   3,
	StatusFailed:      3,
}

// IsKnown reports whether s is one of the defined statuses.
func (s JobStatus) IsKnown() bool {
	_, ok := statusRank[s]
	return ok
}

// IsTerminal returns true for completed and failed.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsActive returns true while the job is still being worked on.
func (s JobStatus) IsActive() bool {
	return s.IsKnown() && !s.IsTerminal()
}

// CanTransition reports whether moving from one status to another follows the
// forward path. Staying in place is allowed; leaving a terminal state is not
// (a retry is a reset, not a transition).
func CanTransition(from, to JobStatus) bool {
	if !from.IsKnown() || !to.IsKnown() {
		return false
	}
	if from == to {
		return true
	}
	if from.IsTerminal() {
		return false
	}
	return statusRank[to] > statusRank[from]
}

// Scope identifies the list a job is shown in. The zero value is the owner's
// personal list.
type Scope struct {
	GroupID string
}

// Personal is the scope of jobs not shared with a group.
var Personal = Scope{}

// GroupScope returns the scope for a group's shared list.
func GroupScope(groupID string) Scope {
	return Scope{GroupID: groupID}
}

// IsPersonal reports whether the scope is the owner's own list.
func (s Scope) IsPersonal() bool {
	return s.GroupID == ""
}

func (s Scope) String() string {
	if s.IsPersonal() {
		return "personal"
	}
	return "group:" + s.GroupID
}

// Job is one video-to-idea processing request. The JSON form is the
// descriptor exchanged with the processing backend and the update channel.
type Job struct {
	ID               string    `json:"id"`
	OwnerID          string    `json:"owner_id"`
	GroupID          string    `json:"group_id,omitempty"`
	SourceURL        string    `json:"source_url"`
	Status           JobStatus `json:"status"`
	ProgressMessage  string    `json:"progress_message,omitempty"`
	ErrorMessage     string    `json:"error_message,omitempty"`
	ResultID         string    `json:"result_id,omitempty"`
	Retryable        bool      `json:"retryable"`
	ThumbnailPreview string    `json:"thumbnail_preview,omitempty"`
	TitlePreview     string    `json:"title_preview,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Scope returns the list this job belongs to.
func (j *Job) Scope() Scope {
	return Scope{GroupID: j.GroupID}
}

// DefaultFailureMessage is used when a failed document carries no reason.
const DefaultFailureMessage = "processing failed"

var (
	errMissingID       = errors.New("id is required")
	errUnknownStatus   = errors.New("unknown status")
	errMissingResultID = errors.New("completed job has no result id")
)

// ValidateBasic checks the minimal shape of a descriptor.
func (j *Job) ValidateBasic() error {
	if j.ID == "" {
		return errMissingID
	}
	if !j.Status.IsKnown() {
		return errUnknownStatus
	}
	if j.Status == StatusCompleted && j.ResultID == "" {
		return errMissingResultID
	}
	return nil
}

// Normalize enforces the result/error exclusivity rules in place.
func (j *Job) Normalize() {
	if j.Status != StatusCompleted {
		j.ResultID = ""
	}
	if j.Status != StatusFailed {
		j.ErrorMessage = ""
	} else if j.ErrorMessage == "" {
		j.ErrorMessage = DefaultFailureMessage
	}
}

// ResetForRetry moves a failed job back to queued, keeping its identity.
func (j *Job) ResetForRetry(now time.Time) {
	j.Status = StatusQueued
	j.ErrorMessage = ""
	j.ResultID = ""
	j.ProgressMessage = ""
	j.UpdatedAt = now
}

// Equal compares two jobs field by field, using time equality for timestamps.
func (j Job) Equal(o Job) bool {
	return j.ID == o.ID &&
		j.OwnerID == o.OwnerID &&
		j.GroupID == o.GroupID &&
		j.SourceURL == o.SourceURL &&
		j.Status == o.Status &&
		j.ProgressMessage == o.ProgressMessage &&
		j.ErrorMessage == o.ErrorMessage &&
		j.ResultID == o.ResultID &&
		j.Retryable == o.Retryable &&
		j.ThumbnailPreview == o.ThumbnailPreview &&
		j.TitlePreview == o.TitlePreview &&
		j.CreatedAt.Equal(o.CreatedAt) &&
		j.UpdatedAt.Equal(o.UpdatedAt)
}
