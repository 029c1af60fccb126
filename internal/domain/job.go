package domain

import (
	"encoding/json"
	"time"
)

// JobState enumerates the queue states the inspector reads.
type JobState string

const (
	JobWaiting   JobState = "waiting"
	JobActive    JobState = "active"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobDelayed   JobState = "delayed"
)

// JobStates lists the states in the order they are queried.
var JobStates = []JobState{JobWaiting, JobActive, JobCompleted, JobFailed, JobDelayed}

// QueueJob is a normalized view of a background job.
type QueueJob struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Queue        string          `json:"queue"`
	Status       JobState        `json:"status"`
	Data         json.RawMessage `json:"data"`
	CreatedAt    time.Time       `json:"createdAt"`
	CompletedAt  *time.Time      `json:"completedAt"`
	FailedReason *string         `json:"failedReason"`
}

// JobDetail extends QueueJob with execution details.
type JobDetail struct {
	QueueJob
	Progress    json.RawMessage `json:"progress"`
	ProcessedAt *time.Time      `json:"processedAt"`
	Stacktrace  []string        `json:"stacktrace"`
	ReturnValue json.RawMessage `json:"returnvalue"`
}
