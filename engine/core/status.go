package core

// -----------------------------------------------------------------------------
// Status
// -----------------------------------------------------------------------------

// StatusType is the lifecycle stage of a task within a run. Runners publish
// stage transitions to observers using these values.
type StatusType string

const (
	StatusPending  StatusType = "PENDING"
	StatusRunning  StatusType = "RUNNING"
	StatusSuccess  StatusType = "SUCCESS"
	StatusFailed   StatusType = "FAILED"
	StatusSkipped  StatusType = "SKIPPED"
	StatusCanceled StatusType = "CANCELED"
)

func (s StatusType) String() string {
	return string(s)
}

// IsTerminal reports whether a task in this status will receive no further
// stage transitions.
func (s StatusType) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusSkipped, StatusCanceled:
		return true
	default:
		return false
	}
}

func (s StatusType) IsFailure() bool {
	return s == StatusFailed
}

// StatusFromResult maps a task outcome onto its terminal status.
func StatusFromResult(success bool) StatusType {
	if success {
		return StatusSuccess
	}
	return StatusFailed
}
