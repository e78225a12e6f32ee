package runner

import (
	"errors"
	"fmt"

	"github.com/petasbytes/go-assistant/internal/assistant"
)

var (
	// ErrRemoteService wraps any failure talking to the remote service.
	ErrRemoteService = errors.New("remote service error")
	// ErrRunFailed marks a run that reached a terminal status other than
	// completed.
	ErrRunFailed = errors.New("run failed")
	// ErrStreamProducer ends a streamed sequence that failed before
	// completion.
	ErrStreamProducer = errors.New("stream producer failed")
)

// RunError describes a run that ended unsuccessfully.
type RunError struct {
	RunID   string
	Status  assistant.RunStatus
	Message string
}

func (e *RunError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("run %s ended with status %s", e.RunID, e.Status)
	}
	return fmt.Sprintf("run %s ended with status %s: %s", e.RunID, e.Status, e.Message)
}

func (e *RunError) Unwrap() error { return ErrRunFailed }

func newRunError(run assistant.Run) *RunError {
	return &RunError{RunID: run.ID, Status: run.Status, Message: run.LastError}
}

func remoteError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrRemoteService, op, err)
}
