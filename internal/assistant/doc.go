// Package assistant describes the remote conversational-agent service the
// orchestrator talks to: threads, runs, tool calls, messages and the events a
// streamed run produces.
//
// Backends live in internal/provider; the orchestrator in internal/runner only
// depends on the Service interface declared here.
package assistant
