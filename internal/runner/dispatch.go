package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/petasbytes/go-assistant/internal/assistant"
	"github.com/petasbytes/go-assistant/internal/telemetry"
	"github.com/petasbytes/go-assistant/tools"
)

// resolveToolCalls runs every call pending on run that has not been
// submitted yet. Results keep the order of run.ToolCalls. Any failure
// aborts the whole batch.
func (r *Runner) resolveToolCalls(ctx context.Context, run assistant.Run, submitted map[string]struct{}) ([]assistant.ToolCallResult, error) {
	pending := make([]assistant.ToolCallRequest, 0, len(run.ToolCalls))
	seen := make(map[string]struct{}, len(run.ToolCalls))
	for _, call := range run.ToolCalls {
		if _, dup := submitted[call.ID]; dup {
			r.log.Warnw("dropping tool call already answered", "run_id", run.ID, "call_id", call.ID, "tool", call.Name)
			continue
		}
		if _, dup := seen[call.ID]; dup {
			r.log.Warnw("dropping duplicate tool call", "run_id", run.ID, "call_id", call.ID, "tool", call.Name)
			continue
		}
		seen[call.ID] = struct{}{}
		pending = append(pending, call)
	}
	if len(pending) == 0 {
		return nil, nil
	}

	results := make([]assistant.ToolCallResult, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	for i, call := range pending {
		g.Go(func() error {
			out, err := r.execTool(gctx, call)
			if err != nil {
				return fmt.Errorf("tool call %s (%s): %w", call.ID, call.Name, err)
			}
			results[i] = assistant.ToolCallResult{CallID: call.ID, Output: out}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *Runner) execTool(ctx context.Context, call assistant.ToolCallRequest) (string, error) {
	turnID, _ := telemetry.TurnIDFromContext(ctx)

	emit := func(durationMs int64, inputSize int, outputSize int, errStr string) {
		fields := map[string]any{
			"tool_name":   call.Name,
			"duration_ms": durationMs,
			"input_size":  inputSize,
			"output_size": outputSize,
			"turn_id":     turnID,
		}
		if errStr != "" {
			fields["error"] = errStr
		} else {
			fields["error"] = nil
		}
		telemetry.Emit("tool_exec", fields)
	}

	start := time.Now()
	inSize := len(call.Arguments)

	out, err := r.tools.Invoke(ctx, call.Name, call.Arguments)
	switch {
	case errors.Is(err, tools.ErrUnhandledToolCall):
		emit(time.Since(start).Milliseconds(), inSize, 0, "tool not found")
		if r.opts.UnhandledTools != UnhandledAcknowledge {
			return "", err
		}
		r.log.Warnw("acknowledging unhandled tool call", "turn_id", turnID, "call_id", call.ID, "tool", call.Name)
		return unhandledOutput(call.Name), nil
	case errors.Is(err, tools.ErrInvalidToolArguments):
		emit(time.Since(start).Milliseconds(), inSize, 0, "invalid arguments")
		return "", err
	case err != nil:
		// Generic error string keeps raw payloads out of telemetry.
		emit(time.Since(start).Milliseconds(), inSize, 0, "tool error")
		return "", err
	}
	emit(time.Since(start).Milliseconds(), inSize, len(out), "")
	return out, nil
}

func unhandledOutput(name string) string {
	b, _ := json.Marshal(map[string]string{
		"error": fmt.Sprintf("no handler registered for tool %q", name),
	})
	return string(b)
}

func markSubmitted(submitted map[string]struct{}, results []assistant.ToolCallResult) {
	for _, res := range results {
		submitted[res.CallID] = struct{}{}
	}
}
