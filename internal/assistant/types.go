package assistant

import (
	"encoding/json"
	"errors"
)

// ErrThreadBusy is returned when a run is requested on a thread that already
// has an active run.
var ErrThreadBusy = errors.New("thread already has an active run")

// RunStatus is the lifecycle state reported by the service for a run.
type RunStatus string

const (
	StatusQueued         RunStatus = "queued"
	StatusInProgress     RunStatus = "in_progress"
	StatusRequiresAction RunStatus = "requires_action"
	StatusCancelling     RunStatus = "cancelling"
	StatusCancelled      RunStatus = "cancelled"
	StatusFailed         RunStatus = "failed"
	StatusCompleted      RunStatus = "completed"
	StatusIncomplete     RunStatus = "incomplete"
	StatusExpired        RunStatus = "expired"
)

// Terminal reports whether no further transitions can occur.
func (s RunStatus) Terminal() bool {
	switch s {
	case StatusCancelled, StatusFailed, StatusCompleted, StatusIncomplete, StatusExpired:
		return true
	}
	return false
}

// Succeeded reports whether the run completed normally.
func (s RunStatus) Succeeded() bool { return s == StatusCompleted }

// ToolCallRequest is one function invocation the service asks the caller to
// perform. ID correlates the eventual result.
type ToolCallRequest struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolCallResult answers a ToolCallRequest.
type ToolCallResult struct {
	CallID string
	Output string
}

// Run is a snapshot of one run as last reported by the service.
// ToolCalls is populated only while Status is StatusRequiresAction.
type Run struct {
	ID        string
	ThreadID  string
	Status    RunStatus
	ToolCalls []ToolCallRequest
	LastError string
}

// Role of a message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContentFragment is one text part of a message. Markers lists literal
// annotation substrings embedded in Text.
type ContentFragment struct {
	Text    string
	Markers []string
}

// Message is a thread message.
type Message struct {
	ID      string
	Role    Role
	RunID   string
	Content []ContentFragment
}
