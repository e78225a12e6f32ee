package runner

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/petasbytes/go-assistant/internal/assistant"
	"github.com/petasbytes/go-assistant/internal/scrub"
	"github.com/petasbytes/go-assistant/internal/telemetry"
	"github.com/petasbytes/go-assistant/tools"
)

const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultThreadIDWait = 5 * time.Second

	// cancelTimeout bounds the best-effort CancelRun issued for an
	// abandoned run.
	cancelTimeout = 5 * time.Second
)

// UnhandledPolicy decides what happens when the service requests a tool
// with no registered handler.
type UnhandledPolicy string

const (
	// UnhandledFail cancels the run and returns tools.ErrUnhandledToolCall.
	UnhandledFail UnhandledPolicy = "fail"
	// UnhandledAcknowledge submits a JSON error output for the call and
	// lets the service decide how to continue.
	UnhandledAcknowledge UnhandledPolicy = "acknowledge"
)

type Options struct {
	PollInterval   time.Duration
	ThreadIDWait   time.Duration
	UnhandledTools UnhandledPolicy
}

// Reply is the outcome of a polled run.
type Reply struct {
	Text     string
	ThreadID string
}

type Runner struct {
	svc   assistant.Service
	tools *tools.Registry
	opts  Options
	log   *zap.SugaredLogger
}

// New returns a Runner. Zero option values take the package defaults and a
// nil logger discards output.
func New(svc assistant.Service, registry *tools.Registry, opts Options, logger *zap.SugaredLogger) *Runner {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.ThreadIDWait <= 0 {
		opts.ThreadIDWait = DefaultThreadIDWait
	}
	if opts.UnhandledTools == "" {
		opts.UnhandledTools = UnhandledFail
	}
	if registry == nil {
		registry = tools.New()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Runner{svc: svc, tools: registry, opts: opts, log: logger}
}

// Execute submits message as a new run (on threadID when set, otherwise on a
// new thread), polls it to a terminal status and returns the scrubbed text of
// the newest assistant message.
func (r *Runner) Execute(ctx context.Context, message, threadID string) (Reply, error) {
	ctx, turnID := telemetry.EnsureTurnID(ctx)
	start := time.Now()

	var (
		run assistant.Run
		err error
	)
	if threadID != "" {
		run, err = r.svc.CreateRun(ctx, threadID, message)
	} else {
		run, err = r.svc.CreateThreadAndRun(ctx, message)
	}
	if err != nil {
		r.log.Warnw("create run failed", "turn_id", turnID, "thread_id", threadID, "error", err)
		return Reply{ThreadID: threadID}, remoteError("create run", err)
	}
	if threadID == "" {
		threadID = run.ThreadID
	}
	if run.ThreadID == "" {
		run.ThreadID = threadID
	}
	r.log.Infow("run started", "turn_id", turnID, "thread_id", threadID, "run_id", run.ID, "mode", "poll")
	emitRunStarted(turnID, threadID, run.ID, "poll")

	run, err = r.poll(ctx, run)
	if err != nil {
		r.finish(turnID, run, start, err)
		return Reply{ThreadID: threadID}, err
	}
	if !run.Status.Succeeded() {
		err = newRunError(run)
		r.finish(turnID, run, start, err)
		return Reply{ThreadID: threadID}, err
	}

	msgs, err := r.svc.ListMessages(ctx, threadID, run.ID)
	if err != nil {
		err = remoteError("list messages", err)
		r.finish(turnID, run, start, err)
		return Reply{ThreadID: threadID}, err
	}
	text, ok := latestAssistantText(msgs)
	if !ok {
		r.log.Warnw("completed run has no assistant message", "turn_id", turnID, "thread_id", threadID, "run_id", run.ID)
	}
	r.finish(turnID, run, start, nil)
	telemetry.EmitReplyFeatures(ctx, text)
	return Reply{Text: text, ThreadID: threadID}, nil
}

// poll loops until run is terminal: submit pending tool outputs, wait the
// poll interval, re-fetch.
func (r *Runner) poll(ctx context.Context, run assistant.Run) (assistant.Run, error) {
	submitted := make(map[string]struct{})
	for !run.Status.Terminal() {
		if run.Status == assistant.StatusRequiresAction {
			results, err := r.resolveToolCalls(ctx, run, submitted)
			if err != nil {
				r.abandon(ctx, run)
				return run, err
			}
			if len(results) > 0 {
				next, err := r.svc.SubmitToolOutputs(ctx, run.ThreadID, run.ID, results)
				if err != nil {
					return run, remoteError("submit tool outputs", err)
				}
				markSubmitted(submitted, results)
				run = mergeRun(run, next)
				if run.Status.Terminal() {
					break
				}
			}
		}

		if err := sleep(ctx, r.opts.PollInterval); err != nil {
			r.abandon(ctx, run)
			return run, err
		}

		next, err := r.svc.GetRun(ctx, run.ThreadID, run.ID)
		if err != nil {
			if ctx.Err() != nil {
				r.abandon(ctx, run)
			}
			return run, remoteError("get run", err)
		}
		run = mergeRun(run, next)
	}
	return run, nil
}

// abandon issues a best-effort cancel for a run the caller stopped driving.
// It uses a detached context so an already-cancelled ctx does not void it.
func (r *Runner) abandon(ctx context.Context, run assistant.Run) {
	if run.ID == "" || run.Status.Terminal() {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelTimeout)
	defer cancel()
	if err := r.svc.CancelRun(cctx, run.ThreadID, run.ID); err != nil {
		r.log.Warnw("cancel run failed", "thread_id", run.ThreadID, "run_id", run.ID, "error", err)
		return
	}
	r.log.Infow("run cancelled", "thread_id", run.ThreadID, "run_id", run.ID)
}

func (r *Runner) finish(turnID string, run assistant.Run, start time.Time, err error) {
	fields := map[string]any{
		"turn_id":     turnID,
		"thread_id":   run.ThreadID,
		"run_id":      run.ID,
		"status":      string(run.Status),
		"duration_ms": time.Since(start).Milliseconds(),
		"error":       nil,
	}
	if err != nil {
		fields["error"] = err.Error()
		r.log.Warnw("run finished", "turn_id", turnID, "thread_id", run.ThreadID, "run_id", run.ID, "status", run.Status, "error", err)
	} else {
		r.log.Infow("run finished", "turn_id", turnID, "thread_id", run.ThreadID, "run_id", run.ID, "status", run.Status)
	}
	telemetry.Emit("run_finished", fields)
}

// mergeRun keeps identifiers the service omitted from a later snapshot.
func mergeRun(prev, next assistant.Run) assistant.Run {
	if next.ID == "" {
		next.ID = prev.ID
	}
	if next.ThreadID == "" {
		next.ThreadID = prev.ThreadID
	}
	return next
}

// latestAssistantText scrubs and joins the fragments of the newest assistant
// message. msgs is ordered newest first.
func latestAssistantText(msgs []assistant.Message) (string, bool) {
	for _, m := range msgs {
		if m.Role != assistant.RoleAssistant {
			continue
		}
		var b strings.Builder
		for _, frag := range m.Content {
			b.WriteString(scrub.Markers(frag.Text, frag.Markers))
		}
		return b.String(), true
	}
	return "", false
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func emitRunStarted(turnID, threadID, runID, mode string) {
	telemetry.Emit("run_started", map[string]any{
		"turn_id":   turnID,
		"thread_id": threadID,
		"run_id":    runID,
		"mode":      mode,
	})
}
