// Package telemetry appends structured run events as JSON lines to
// <artifacts dir>/events.jsonl when observation is enabled.
//
// Events never carry raw user, reply or tool payloads; only sizes, ids,
// durations and derived text features.
package telemetry
