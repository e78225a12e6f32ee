package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/ssestream"

	"github.com/petasbytes/go-assistant/internal/assistant"
	"github.com/petasbytes/go-assistant/tools"
)

// OpenAIConfig configures the Assistants API backend.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	AssistantID string
	// MaxRetries is the SDK's transport-level retry budget; negative keeps
	// the SDK default.
	MaxRetries int
	HTTPClient *http.Client
}

// OpenAIService implements assistant.Service on the OpenAI Assistants API.
type OpenAIService struct {
	client      openai.Client
	assistantID string
	tools       []openai.AssistantToolUnionParam
}

var _ assistant.Service = (*OpenAIService)(nil)

func NewOpenAIService(cfg OpenAIConfig, registry *tools.Registry, opts ...option.RequestOption) *OpenAIService {
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
	return &OpenAIService{
		client:      openai.NewClient(append(base, opts...)...),
		assistantID: cfg.AssistantID,
		tools:       openAITools(registry),
	}
}

func openAITools(registry *tools.Registry) []openai.AssistantToolUnionParam {
	if registry == nil {
		return nil
	}
	defs := registry.Definitions()
	out := make([]openai.AssistantToolUnionParam, 0, len(defs))
	for _, t := range defs {
		out = append(out, openai.AssistantToolUnionParam{OfFunction: &openai.FunctionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  openai.FunctionParameters(t.Parameters()),
			},
		}})
	}
	return out
}

func (s *OpenAIService) newAndRunParams(message string) openai.BetaThreadNewAndRunParams {
	return openai.BetaThreadNewAndRunParams{
		AssistantID: s.assistantID,
		Thread: openai.BetaThreadNewAndRunParamsThread{
			Messages: []openai.BetaThreadNewAndRunParamsThreadMessage{{
				Role:    "user",
				Content: openai.BetaThreadNewAndRunParamsThreadMessageContentUnion{OfString: openai.String(message)},
			}},
		},
		Tools: s.tools,
	}
}

func (s *OpenAIService) runParams(message string) openai.BetaThreadRunNewParams {
	return openai.BetaThreadRunNewParams{
		AssistantID: s.assistantID,
		AdditionalMessages: []openai.BetaThreadRunNewParamsAdditionalMessage{{
			Role:    "user",
			Content: openai.BetaThreadRunNewParamsAdditionalMessageContentUnion{OfString: openai.String(message)},
		}},
		Tools: s.tools,
	}
}

func toolOutputsParams(results []assistant.ToolCallResult) openai.BetaThreadRunSubmitToolOutputsParams {
	outs := make([]openai.BetaThreadRunSubmitToolOutputsParamsToolOutput, 0, len(results))
	for _, r := range results {
		outs = append(outs, openai.BetaThreadRunSubmitToolOutputsParamsToolOutput{
			ToolCallID: openai.String(r.CallID),
			Output:     openai.String(r.Output),
		})
	}
	return openai.BetaThreadRunSubmitToolOutputsParams{ToolOutputs: outs}
}

func (s *OpenAIService) CreateThreadAndRun(ctx context.Context, message string) (assistant.Run, error) {
	run, err := s.client.Beta.Threads.NewAndRun(ctx, s.newAndRunParams(message))
	if err != nil {
		return assistant.Run{}, classifyOpenAIError(err)
	}
	return runFromOpenAI(*run), nil
}

func (s *OpenAIService) CreateRun(ctx context.Context, threadID, message string) (assistant.Run, error) {
	run, err := s.client.Beta.Threads.Runs.New(ctx, threadID, s.runParams(message))
	if err != nil {
		return assistant.Run{}, classifyOpenAIError(err)
	}
	return runFromOpenAI(*run), nil
}

func (s *OpenAIService) GetRun(ctx context.Context, threadID, runID string) (assistant.Run, error) {
	run, err := s.client.Beta.Threads.Runs.Get(ctx, threadID, runID)
	if err != nil {
		return assistant.Run{}, classifyOpenAIError(err)
	}
	return runFromOpenAI(*run), nil
}

func (s *OpenAIService) SubmitToolOutputs(ctx context.Context, threadID, runID string, results []assistant.ToolCallResult) (assistant.Run, error) {
	run, err := s.client.Beta.Threads.Runs.SubmitToolOutputs(ctx, threadID, runID, toolOutputsParams(results))
	if err != nil {
		return assistant.Run{}, classifyOpenAIError(err)
	}
	return runFromOpenAI(*run), nil
}

func (s *OpenAIService) CancelRun(ctx context.Context, threadID, runID string) error {
	if _, err := s.client.Beta.Threads.Runs.Cancel(ctx, threadID, runID); err != nil {
		return classifyOpenAIError(err)
	}
	return nil
}

// messagePageSize bounds ListMessages; a single run rarely produces more.
const messagePageSize = 20

func (s *OpenAIService) ListMessages(ctx context.Context, threadID, runID string) ([]assistant.Message, error) {
	params := openai.BetaThreadMessageListParams{
		Order: openai.BetaThreadMessageListParamsOrderDesc,
		Limit: openai.Int(messagePageSize),
	}
	if runID != "" {
		params.RunID = openai.String(runID)
	}
	page, err := s.client.Beta.Threads.Messages.List(ctx, threadID, params)
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	out := make([]assistant.Message, 0, len(page.Data))
	for _, m := range page.Data {
		out = append(out, messageFromOpenAI(m))
	}
	return out, nil
}

func (s *OpenAIService) CreateThreadAndRunStream(ctx context.Context, message string) (assistant.EventStream, error) {
	return openStream(s.client.Beta.Threads.NewAndRunStreaming(ctx, s.newAndRunParams(message)))
}

func (s *OpenAIService) CreateRunStream(ctx context.Context, threadID, message string) (assistant.EventStream, error) {
	return openStream(s.client.Beta.Threads.Runs.NewStreaming(ctx, threadID, s.runParams(message)))
}

func (s *OpenAIService) SubmitToolOutputsStream(ctx context.Context, threadID, runID string, results []assistant.ToolCallResult) (assistant.EventStream, error) {
	return openStream(s.client.Beta.Threads.Runs.SubmitToolOutputsStreaming(ctx, threadID, runID, toolOutputsParams(results)))
}

// openStream surfaces request failures, which the SDK otherwise reports
// only on the first Next.
func openStream(raw *ssestream.Stream[openai.AssistantStreamEventUnion]) (assistant.EventStream, error) {
	if raw == nil {
		return nil, errors.New("stream not opened: missing thread or run id")
	}
	if err := raw.Err(); err != nil {
		_ = raw.Close()
		return nil, classifyOpenAIError(err)
	}
	return &openAIStream{raw: raw}, nil
}

// openAIStream adapts the SDK's SSE stream to assistant.EventStream.
type openAIStream struct {
	raw *ssestream.Stream[openai.AssistantStreamEventUnion]
	cur assistant.Event
	err error
}

func (s *openAIStream) Next() bool {
	if s.err != nil {
		return false
	}
	if !s.raw.Next() {
		return false
	}
	ev, err := eventFromOpenAI(s.raw.Current())
	if err != nil {
		s.err = err
		return false
	}
	s.cur = ev
	return true
}

func (s *openAIStream) Current() assistant.Event { return s.cur }

func (s *openAIStream) Err() error {
	if s.err != nil {
		return s.err
	}
	if err := s.raw.Err(); err != nil {
		return classifyOpenAIError(err)
	}
	return nil
}

func (s *openAIStream) Close() error { return s.raw.Close() }

// eventFromOpenAI maps one SDK event onto the closed assistant.Event set. An
// "error" event becomes an error.
func eventFromOpenAI(ev openai.AssistantStreamEventUnion) (assistant.Event, error) {
	switch {
	case ev.Event == "thread.created":
		return assistant.ThreadCreated{ThreadID: ev.Data.ID}, nil
	case ev.Event == "thread.run.requires_action":
		return assistant.RunRequiresAction{Run: runFromOpenAI(ev.AsThreadRunRequiresAction().Data)}, nil
	case ev.Event == "thread.message.delta":
		var b strings.Builder
		for _, c := range ev.AsThreadMessageDelta().Data.Delta.Content {
			if c.Type == "text" {
				b.WriteString(c.Text.Value)
			}
		}
		return assistant.MessageDelta{Text: b.String()}, nil
	case ev.Event == "error":
		data := ev.AsErrorEvent().Data
		return nil, fmt.Errorf("stream error event: %s: %s", data.Code, data.Message)
	case strings.HasPrefix(ev.Event, "thread.run.") && !strings.HasPrefix(ev.Event, "thread.run.step."):
		return assistant.RunStatusChanged{Run: assistant.Run{
			ID:        ev.Data.ID,
			ThreadID:  ev.Data.ThreadID,
			Status:    assistant.RunStatus(ev.Data.Status),
			LastError: ev.Data.LastError.Message,
		}}, nil
	}
	return assistant.OtherEvent{Kind: ev.Event, ThreadID: ev.Data.ThreadID}, nil
}

func runFromOpenAI(r openai.Run) assistant.Run {
	out := assistant.Run{
		ID:        r.ID,
		ThreadID:  r.ThreadID,
		Status:    assistant.RunStatus(r.Status),
		LastError: r.LastError.Message,
	}
	if r.Status == openai.RunStatusRequiresAction {
		for _, call := range r.RequiredAction.SubmitToolOutputs.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, assistant.ToolCallRequest{
				ID:        call.ID,
				Name:      call.Function.Name,
				Arguments: []byte(call.Function.Arguments),
			})
		}
	}
	return out
}

func messageFromOpenAI(m openai.Message) assistant.Message {
	out := assistant.Message{ID: m.ID, Role: assistant.Role(m.Role), RunID: m.RunID}
	for _, c := range m.Content {
		if c.Type != "text" {
			continue
		}
		frag := assistant.ContentFragment{Text: c.Text.Value}
		for _, a := range c.Text.Annotations {
			if a.Text != "" {
				frag.Markers = append(frag.Markers, a.Text)
			}
		}
		out.Content = append(out.Content, frag)
	}
	return out
}

// classifyOpenAIError tags the "active run on thread" rejection with
// assistant.ErrThreadBusy.
func classifyOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest &&
		strings.Contains(apiErr.Message, "already has an active run") {
		return fmt.Errorf("%w: %w", assistant.ErrThreadBusy, err)
	}
	return err
}
