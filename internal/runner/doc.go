// Package runner drives one run on the remote assistant service from
// submission to a terminal state and dispatches the tool calls it pauses on.
//
// Two paths share the dispatch and scrubbing logic:
//
//	Execute:          create run -> poll (requires_action -> submit) -> read reply
//	ExecuteStreaming: open feed  -> forward deltas (requires_action -> nested feed)
//
// Invariants:
//   - a tool result is submitted only for a call pending on the run snapshot
//     being handled, and at most once per call id;
//   - once a terminal status is observed no further remote calls are made for
//     that run;
//   - in streaming mode the thread id is fixed by the first event that
//     carries one.
package runner
