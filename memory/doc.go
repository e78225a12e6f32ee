// Package memory persists the CLI chat session between invocations.
//
// Persistence model:
//   - The remote thread id, so the next run continues the same thread.
//   - A text-only transcript (role + text) for display. The service keeps
//     the authoritative history; tool exchanges are not stored.
package memory
