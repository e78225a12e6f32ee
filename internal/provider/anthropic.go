package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/petasbytes/go-assistant/internal/assistant"
	"github.com/petasbytes/go-assistant/internal/telemetry"
	"github.com/petasbytes/go-assistant/tools"
)

const (
	DefaultModel     = anthropic.ModelClaudeSonnet4_5
	defaultMaxTokens = 1024
)

// ErrNotFound is returned for unknown thread or run ids.
var ErrNotFound = errors.New("not found")

// AnthropicConfig configures the Messages API backend.
type AnthropicConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int64
	System    string
	// TokenBudget caps the estimated input size of each request; 0 sends
	// the whole thread history.
	TokenBudget int
	MaxRetries  int
	HTTPClient  *http.Client
}

// AnthropicService implements assistant.Service by keeping threads and runs
// in memory and executing each run step as one Messages API call. A step
// ends either with tool_use blocks (requires_action) or with text
// (completed).
type AnthropicService struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
	system    string
	budget    int
	tools     []anthropic.ToolUnionParam
	counter   TokenCounter
	log       *zap.SugaredLogger

	mu      sync.Mutex
	threads map[string]*emuThread
	runs    map[string]*emuRun
}

var _ assistant.Service = (*AnthropicService)(nil)

type emuThread struct {
	history  []anthropic.MessageParam
	messages []assistant.Message // oldest first
	active   string
}

type emuRun struct {
	snap assistant.Run
	// cancel stops the in-flight model call, if any.
	cancel context.CancelFunc
}

func NewAnthropicService(cfg AnthropicConfig, registry *tools.Registry, logger *zap.SugaredLogger, opts ...option.RequestOption) *AnthropicService {
	base := []option.RequestOption{}
	if cfg.APIKey != "" {
		base = append(base, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		base = append(base, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.MaxRetries >= 0 {
		base = append(base, option.WithMaxRetries(cfg.MaxRetries))
	}
	if cfg.HTTPClient != nil {
		base = append(base, option.WithHTTPClient(cfg.HTTPClient))
	}
	model := anthropic.Model(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &AnthropicService{
		client:    anthropic.NewClient(append(base, opts...)...),
		model:     model,
		maxTokens: maxTokens,
		system:    cfg.System,
		budget:    cfg.TokenBudget,
		tools:     anthropicTools(registry),
		counter:   HeuristicCounter{},
		log:       logger,
		threads:   make(map[string]*emuThread),
		runs:      make(map[string]*emuRun),
	}
}

func anthropicTools(registry *tools.Registry) []anthropic.ToolUnionParam {
	if registry == nil {
		return nil
	}
	defs := registry.Definitions()
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, t := range defs {
		schema := anthropic.ToolInputSchemaParam{Required: t.Required()}
		if props, ok := t.Parameters()["properties"]; ok {
			schema.Properties = props
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
			Name:        t.Name,
			Description: anthropic.String(t.Description),
			InputSchema: schema,
		}})
	}
	return out
}

func (s *AnthropicService) CreateThreadAndRun(ctx context.Context, message string) (assistant.Run, error) {
	s.mu.Lock()
	run, err := s.startRunLocked(s.newThreadLocked(), message)
	if err != nil {
		s.mu.Unlock()
		return assistant.Run{}, err
	}
	snap := run.snap
	s.mu.Unlock()
	s.launch(ctx, snap.ID)
	return snap, nil
}

func (s *AnthropicService) CreateRun(ctx context.Context, threadID, message string) (assistant.Run, error) {
	s.mu.Lock()
	run, err := s.startRunLocked(threadID, message)
	if err != nil {
		s.mu.Unlock()
		return assistant.Run{}, err
	}
	snap := run.snap
	s.mu.Unlock()
	s.launch(ctx, snap.ID)
	return snap, nil
}

func (s *AnthropicService) GetRun(_ context.Context, threadID, runID string) (assistant.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.runLocked(threadID, runID)
	if err != nil {
		return assistant.Run{}, err
	}
	return snapshot(r), nil
}

func (s *AnthropicService) SubmitToolOutputs(ctx context.Context, threadID, runID string, results []assistant.ToolCallResult) (assistant.Run, error) {
	s.mu.Lock()
	r, err := s.acceptOutputsLocked(threadID, runID, results)
	if err != nil {
		s.mu.Unlock()
		return assistant.Run{}, err
	}
	snap := snapshot(r)
	s.mu.Unlock()
	s.launch(ctx, runID)
	return snap, nil
}

func (s *AnthropicService) CancelRun(_ context.Context, threadID, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.runLocked(threadID, runID)
	if err != nil {
		return err
	}
	if r.snap.Status.Terminal() {
		return nil
	}
	th := s.threads[threadID]
	if r.snap.Status == assistant.StatusRequiresAction {
		// Close the open tool exchange so the history stays sendable.
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(r.snap.ToolCalls))
		for _, call := range r.snap.ToolCalls {
			blocks = append(blocks, anthropic.NewToolResultBlock(call.ID, "run cancelled", true))
		}
		th.history = append(th.history, anthropic.NewUserMessage(blocks...))
	}
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	s.endRunLocked(r, assistant.StatusCancelled, "")
	return nil
}

func (s *AnthropicService) ListMessages(_ context.Context, threadID, runID string) ([]assistant.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	th, ok := s.threads[threadID]
	if !ok {
		return nil, fmt.Errorf("thread %s: %w", threadID, ErrNotFound)
	}
	out := make([]assistant.Message, 0, len(th.messages))
	for i := len(th.messages) - 1; i >= 0; i-- {
		m := th.messages[i]
		if runID != "" && m.RunID != runID {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *AnthropicService) CreateThreadAndRunStream(ctx context.Context, message string) (assistant.EventStream, error) {
	s.mu.Lock()
	threadID := s.newThreadLocked()
	run, err := s.startRunLocked(threadID, message)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	snap := run.snap
	s.mu.Unlock()
	return s.streamStep(ctx, snap, assistant.ThreadCreated{ThreadID: threadID}), nil
}

func (s *AnthropicService) CreateRunStream(ctx context.Context, threadID, message string) (assistant.EventStream, error) {
	s.mu.Lock()
	run, err := s.startRunLocked(threadID, message)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	snap := run.snap
	s.mu.Unlock()
	return s.streamStep(ctx, snap, nil), nil
}

func (s *AnthropicService) SubmitToolOutputsStream(ctx context.Context, threadID, runID string, results []assistant.ToolCallResult) (assistant.EventStream, error) {
	s.mu.Lock()
	r, err := s.acceptOutputsLocked(threadID, runID, results)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	snap := snapshot(r)
	s.mu.Unlock()
	return s.streamStep(ctx, snap, nil), nil
}

// streamStep runs the next step of snap's run inline in a producer goroutine
// and exposes its events. first, when set, is delivered before anything else.
func (s *AnthropicService) streamStep(ctx context.Context, snap assistant.Run, first assistant.Event) assistant.EventStream {
	sctx, cancel := context.WithCancel(ctx)
	pipe := assistant.NewPipe(cancel)
	s.setCancel(snap.ID, cancel)
	go func() {
		defer cancel()
		if (first != nil && !pipe.Send(first)) || !pipe.Send(assistant.RunStatusChanged{Run: snap}) {
			s.abandonRun(snap.ID)
			pipe.Finish(nil)
			return
		}
		pipe.Finish(s.step(sctx, snap.ID, pipe.Send))
	}()
	return pipe
}

// launch runs the next step in the background, detached from ctx's
// cancellation so the run outlives the request that created it.
func (s *AnthropicService) launch(ctx context.Context, runID string) {
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.setCancel(runID, cancel)
	go func() {
		defer cancel()
		if err := s.step(sctx, runID, nil); err != nil {
			s.log.Warnw("run step failed", "run_id", runID, "error", err)
		}
	}()
}

func (s *AnthropicService) setCancel(runID string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.runs[runID]; ok {
		r.cancel = cancel
	}
}

// step performs one model call for runID and records the outcome. emit, when
// non-nil, receives status changes and text deltas; it returns false once
// the consumer has gone away.
func (s *AnthropicService) step(ctx context.Context, runID string, emit func(assistant.Event) bool) error {
	if emit == nil {
		emit = func(assistant.Event) bool { return true }
	}

	s.mu.Lock()
	r, ok := s.runs[runID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if r.snap.Status.Terminal() {
		s.mu.Unlock()
		return nil
	}
	th := s.threads[r.snap.ThreadID]
	r.snap.Status = assistant.StatusInProgress
	window, stats, werr := windowHistory(th.history, s.budget, s.counter)
	window = append([]anthropic.MessageParam(nil), window...)
	snap := snapshot(r)
	if werr != nil {
		s.endRunLocked(r, assistant.StatusFailed, werr.Error())
		snap = snapshot(r)
	}
	s.mu.Unlock()

	turnID, _ := telemetry.TurnIDFromContext(ctx)
	telemetry.Emit("window_prepared", map[string]any{
		"turn_id":         turnID,
		"run_id":          runID,
		"model":           string(s.model),
		"budget":          stats.Budget,
		"total_estimated": stats.Total,
		"included_groups": stats.IncludedGroups,
		"skipped_groups":  stats.SkippedGroups,
	})
	s.log.Debugw("window prepared", "run_id", runID, "budget", stats.Budget,
		"total", stats.Total, "groups_in", stats.IncludedGroups, "groups_skip", stats.SkippedGroups)

	if werr != nil {
		emit(assistant.RunStatusChanged{Run: snap})
		return nil
	}
	if !emit(assistant.RunStatusChanged{Run: snap}) {
		s.abandonRun(runID)
		return nil
	}

	params := anthropic.MessageNewParams{
		Model:     s.model,
		MaxTokens: s.maxTokens,
		Messages:  window,
		Tools:     s.tools,
	}
	if s.system != "" {
		params.System = []anthropic.TextBlockParam{{Text: s.system}}
	}

	stream := s.client.Messages.NewStreaming(ctx, params)
	var msg anthropic.Message
	var streamErr error
	for stream.Next() {
		ev := stream.Current()
		if err := msg.Accumulate(ev); err != nil {
			streamErr = err
			break
		}
		if d, ok := ev.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if td, ok := d.Delta.AsAny().(anthropic.TextDelta); ok && td.Text != "" {
				if !emit(assistant.MessageDelta{Text: td.Text}) {
					streamErr = context.Canceled
					break
				}
			}
		}
	}
	if streamErr == nil {
		streamErr = stream.Err()
	}
	_ = stream.Close()

	final, ok := s.recordStep(ctx, runID, &msg, streamErr)
	if !ok {
		return nil
	}
	if final.Status == assistant.StatusRequiresAction {
		emit(assistant.RunRequiresAction{Run: final})
	} else {
		emit(assistant.RunStatusChanged{Run: final})
	}
	return nil
}

// recordStep applies a finished model call to the run. It reports false when
// the run was ended elsewhere (cancelled) while the call was in flight.
func (s *AnthropicService) recordStep(ctx context.Context, runID string, msg *anthropic.Message, callErr error) (assistant.Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.runs[runID]
	if r.snap.Status.Terminal() {
		return assistant.Run{}, false
	}
	r.cancel = nil
	th := s.threads[r.snap.ThreadID]

	if callErr != nil {
		if ctx.Err() != nil || errors.Is(callErr, context.Canceled) {
			s.endRunLocked(r, assistant.StatusCancelled, "")
		} else {
			s.endRunLocked(r, assistant.StatusFailed, callErr.Error())
		}
		return snapshot(r), true
	}

	var (
		calls []assistant.ToolCallRequest
		text  strings.Builder
	)
	for _, blk := range msg.Content {
		switch b := blk.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(b.Text)
		case anthropic.ToolUseBlock:
			calls = append(calls, assistant.ToolCallRequest{ID: b.ID, Name: b.Name, Arguments: append([]byte(nil), b.Input...)})
		}
	}
	if len(msg.Content) > 0 {
		th.history = append(th.history, msg.ToParam())
	}

	if len(calls) > 0 {
		r.snap.Status = assistant.StatusRequiresAction
		r.snap.ToolCalls = calls
		return snapshot(r), true
	}

	th.messages = append(th.messages, assistant.Message{
		ID:      "msg_" + uuid.NewString(),
		Role:    assistant.RoleAssistant,
		RunID:   runID,
		Content: []assistant.ContentFragment{{Text: text.String()}},
	})
	status := assistant.StatusCompleted
	if msg.StopReason == anthropic.StopReasonMaxTokens {
		status = assistant.StatusIncomplete
	}
	s.endRunLocked(r, status, "")
	return snapshot(r), true
}

// abandonRun cancels a queued or in-progress run whose stream consumer left
// before the model call finished.
func (s *AnthropicService) abandonRun(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.runs[runID]; ok && !r.snap.Status.Terminal() && r.snap.Status != assistant.StatusRequiresAction {
		r.cancel = nil
		s.endRunLocked(r, assistant.StatusCancelled, "")
	}
}

func (s *AnthropicService) newThreadLocked() string {
	id := "thread_" + uuid.NewString()
	s.threads[id] = &emuThread{}
	return id
}

func (s *AnthropicService) startRunLocked(threadID, message string) (*emuRun, error) {
	th, ok := s.threads[threadID]
	if !ok {
		return nil, fmt.Errorf("thread %s: %w", threadID, ErrNotFound)
	}
	if th.active != "" {
		return nil, fmt.Errorf("thread %s has run %s: %w", threadID, th.active, assistant.ErrThreadBusy)
	}
	runID := "run_" + uuid.NewString()
	th.history = append(th.history, anthropic.NewUserMessage(anthropic.NewTextBlock(message)))
	th.messages = append(th.messages, assistant.Message{
		ID:      "msg_" + uuid.NewString(),
		Role:    assistant.RoleUser,
		Content: []assistant.ContentFragment{{Text: message}},
	})
	th.active = runID
	r := &emuRun{snap: assistant.Run{ID: runID, ThreadID: threadID, Status: assistant.StatusQueued}}
	s.runs[runID] = r
	return r, nil
}

func (s *AnthropicService) runLocked(threadID, runID string) (*emuRun, error) {
	r, ok := s.runs[runID]
	if !ok || r.snap.ThreadID != threadID {
		return nil, fmt.Errorf("run %s on thread %s: %w", runID, threadID, ErrNotFound)
	}
	return r, nil
}

// acceptOutputsLocked checks results answer exactly the pending calls and
// appends them to the history in request order.
func (s *AnthropicService) acceptOutputsLocked(threadID, runID string, results []assistant.ToolCallResult) (*emuRun, error) {
	r, err := s.runLocked(threadID, runID)
	if err != nil {
		return nil, err
	}
	if r.snap.Status != assistant.StatusRequiresAction {
		return nil, fmt.Errorf("run %s is %s, not waiting for tool outputs", runID, r.snap.Status)
	}
	byID := make(map[string]string, len(results))
	for _, res := range results {
		if _, dup := byID[res.CallID]; dup {
			return nil, fmt.Errorf("duplicate output for tool call %s", res.CallID)
		}
		byID[res.CallID] = res.Output
	}
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(r.snap.ToolCalls))
	for _, call := range r.snap.ToolCalls {
		out, ok := byID[call.ID]
		if !ok {
			return nil, fmt.Errorf("missing output for tool call %s", call.ID)
		}
		delete(byID, call.ID)
		blocks = append(blocks, anthropic.NewToolResultBlock(call.ID, out, false))
	}
	for id := range byID {
		return nil, fmt.Errorf("output for unknown tool call %s", id)
	}

	th := s.threads[threadID]
	th.history = append(th.history, anthropic.NewUserMessage(blocks...))
	r.snap.Status = assistant.StatusQueued
	r.snap.ToolCalls = nil
	return r, nil
}

func (s *AnthropicService) endRunLocked(r *emuRun, status assistant.RunStatus, lastErr string) {
	r.snap.Status = status
	r.snap.LastError = lastErr
	r.snap.ToolCalls = nil
	if th, ok := s.threads[r.snap.ThreadID]; ok && th.active == r.snap.ID {
		th.active = ""
	}
}

func snapshot(r *emuRun) assistant.Run {
	snap := r.snap
	snap.ToolCalls = append([]assistant.ToolCallRequest(nil), r.snap.ToolCalls...)
	return snap
}
