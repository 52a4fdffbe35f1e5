package entity

import "time"

type JobStatus string

const (
	JobStatusPending        JobStatus = "pending"
	JobStatusRunning        JobStatus = "running"
	JobStatusRetryScheduled JobStatus = "retry_scheduled"
	JobStatusSucceeded      JobStatus = "succeeded"
	JobStatusFailed         JobStatus = "failed"
	JobStatusCancelled      JobStatus = "cancelled"
)

// Terminal reports whether a job in this status can never run again.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

type Job struct {
	ID             string
	Priority       int
	Status         JobStatus
	Attempts       int
	MaxAttempts    int
	AttemptTimeout time.Duration
	SubmittedAt    time.Time
}
