package assistant

// Event is one item of a streamed run. The set of variants is closed:
// ThreadCreated, RunStatusChanged, RunRequiresAction, MessageDelta and
// OtherEvent.
type Event interface {
	isEvent()
}

// ThreadCreated announces the thread a streamed run was started on.
type ThreadCreated struct {
	ThreadID string
}

// RunStatusChanged carries a run snapshot after a status transition other
// than requires_action.
type RunStatusChanged struct {
	Run Run
}

// RunRequiresAction carries a run snapshot paused on tool calls.
type RunRequiresAction struct {
	Run Run
}

// MessageDelta carries an incremental piece of assistant text.
type MessageDelta struct {
	Text string
}

// OtherEvent is any event the orchestrator does not act on. Kind holds the
// service's event name; ThreadID is set when the event carried one.
type OtherEvent struct {
	Kind     string
	ThreadID string
}

func (ThreadCreated) isEvent()     {}
func (RunStatusChanged) isEvent()  {}
func (RunRequiresAction) isEvent() {}
func (MessageDelta) isEvent()      {}
func (OtherEvent) isEvent()        {}

// ThreadIDOf returns the thread id carried by ev, or "" when it has none.
func ThreadIDOf(ev Event) string {
	switch e := ev.(type) {
	case ThreadCreated:
		return e.ThreadID
	case RunStatusChanged:
		return e.Run.ThreadID
	case RunRequiresAction:
		return e.Run.ThreadID
	case OtherEvent:
		return e.ThreadID
	case MessageDelta:
		return ""
	}
	return ""
}
