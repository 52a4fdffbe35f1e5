package entity

import (
	"encoding/json"
	"time"
)

// Outcome is the single final result produced for a job. Exactly one
// outcome is delivered per job, no matter how many attempts ran.
type Outcome struct {
	JobID      string
	Status     JobStatus
	Payload    json.RawMessage
	ErrorKind  ErrorKind
	Error      string
	Attempts   int
	Elapsed    time.Duration
	FinishedAt time.Time
}
