package core

import "fmt"

// JobStatus is the lifecycle state of a materialization job. Status moves
// forward only and is terminal once succeeded or errored.
type JobStatus string

const (
	// JobStatusPending indicates the job is accepted but not yet running.
	JobStatusPending JobStatus = "pending"

	// JobStatusRunning indicates the batch engine is executing the job.
	JobStatusRunning JobStatus = "running"

	// JobStatusSucceeded indicates the job completed successfully.
	JobStatusSucceeded JobStatus = "succeeded"

	// JobStatusError indicates the job failed; Job.Err carries the cause.
	JobStatusError JobStatus = "error"
)

// IsTerminal reports whether the status is final.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSucceeded || s == JobStatusError
}

// Validate checks that the status is a known state.
func (s JobStatus) Validate() error {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusSucceeded, JobStatusError:
		return nil
	default:
		return fmt.Errorf("invalid job status: %q", string(s))
	}
}

// rank orders statuses for the forward-only transition check.
func (s JobStatus) rank() int {
	switch s {
	case JobStatusPending:
		return 0
	case JobStatusRunning:
		return 1
	case JobStatusSucceeded, JobStatusError:
		return 2
	default:
		return -1
	}
}

// CanTransition reports whether a job may move from s to next. Terminal
// states accept no further transitions.
func (s JobStatus) CanTransition(next JobStatus) bool {
	if s.IsTerminal() {
		return false
	}
	return next.rank() > s.rank()
}
