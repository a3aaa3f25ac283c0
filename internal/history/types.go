package history

import (
	"errors"
	"time"
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Deployment is one run of the deployment script and the push that caused it.
type Deployment struct {
	ID            string `json:"id"`
	DeliveryID    string `json:"delivery_id,omitempty"`
	Ref           string `json:"ref"`
	CommitID      string `json:"commit_id,omitempty"`
	CommitMessage string `json:"commit_message,omitempty"`
	Pusher        string `json:"pusher,omitempty"`
	Status        Status `json:"status"`
	ExitCode      *int   `json:"exit_code,omitempty"`
	Stdout        string `json:"stdout,omitempty"`
	Stderr        string `json:"stderr,omitempty"`
	Error         string `json:"error,omitempty"`

	// OutputTruncated is set when the script wrote more than was kept.
	OutputTruncated bool `json:"output_truncated,omitempty"`

	Script      string     `json:"script"`
	ScriptHash  string     `json:"script_hash,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMS  *int64     `json:"duration_ms,omitempty"`
}

// BeginRequest describes a deployment about to start.
type BeginRequest struct {
	DeliveryID    string
	Ref           string
	CommitID      string
	CommitMessage string
	Pusher        string
	Script        string
	ScriptHash    string
}

// Outcome is the terminal state written by Finish.
type Outcome struct {
	Status   Status
	ExitCode *int
	Stdout   string
	Stderr   string
	Error    string
	Duration time.Duration

	OutputTruncated bool
}

var ErrNotFound = errors.New("deployment not found")
