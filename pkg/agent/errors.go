package agent

import (
	"errors"
	"fmt"
)

// StageError records the stage an event could not reach
type StageError struct {
	Stage   Stage
	EventID string
	Err     error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("event %s failed before %s: %v", e.EventID, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// PublishError is a failure reported by the calendar client or its constructor
type PublishError struct {
	Op         string
	CalendarID string
	Err        error
}

func (e *PublishError) Error() string {
	if e.CalendarID == "" {
		return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("failed to %s for calendar %s: %v", e.Op, e.CalendarID, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// FailedStage returns the stage carried by err, or StageFailed when err has none
func FailedStage(err error) Stage {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Stage
	}
	return StageFailed
}
