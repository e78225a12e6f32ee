package assistant

import "context"

// EventStream is a pull-based feed of events from one streamed request.
// Next blocks until an event is available or the feed ends; Err reports why
// it ended. Close releases the underlying connection.
type EventStream interface {
	Next() bool
	Current() Event
	Err() error
	Close() error
}

// Service is the remote capability set the orchestrator needs. All calls are
// network-bound; implementations must honour ctx cancellation.
type Service interface {
	CreateThreadAndRun(ctx context.Context, message string) (Run, error)
	CreateRun(ctx context.Context, threadID, message string) (Run, error)
	GetRun(ctx context.Context, threadID, runID string) (Run, error)
	SubmitToolOutputs(ctx context.Context, threadID, runID string, results []ToolCallResult) (Run, error)
	CancelRun(ctx context.Context, threadID, runID string) error
	// ListMessages returns the messages produced by runID, newest first.
	ListMessages(ctx context.Context, threadID, runID string) ([]Message, error)

	CreateThreadAndRunStream(ctx context.Context, message string) (EventStream, error)
	CreateRunStream(ctx context.Context, threadID, message string) (EventStream, error)
	SubmitToolOutputsStream(ctx context.Context, threadID, runID string, results []ToolCallResult) (EventStream, error)
}
