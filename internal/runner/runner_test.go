package runner_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petasbytes/go-assistant/internal/assistant"
	"github.com/petasbytes/go-assistant/internal/runner"
	"github.com/petasbytes/go-assistant/tools"
)

func newRunner(svc assistant.Service, opts runner.Options) *runner.Runner {
	if opts.PollInterval == 0 {
		opts.PollInterval = time.Millisecond
	}
	return runner.New(svc, tools.Default(), opts, nil)
}

func weatherCall(id, city string) assistant.ToolCallRequest {
	args, _ := json.Marshal(map[string]string{"city": city})
	return assistant.ToolCallRequest{ID: id, Name: "get_weather", Arguments: args}
}

func run(status assistant.RunStatus, calls ...assistant.ToolCallRequest) assistant.Run {
	return assistant.Run{ID: "run_1", ThreadID: "thread_1", Status: status, ToolCalls: calls}
}

func assistantMsg(frags ...assistant.ContentFragment) assistant.Message {
	return assistant.Message{ID: "msg_2", Role: assistant.RoleAssistant, RunID: "run_1", Content: frags}
}

func TestExecute_NoAction_ReturnsScrubbedConcatenation(t *testing.T) {
	svc := &fakeService{
		created: run(assistant.StatusQueued),
		runs:    []assistant.Run{run(assistant.StatusInProgress), run(assistant.StatusCompleted)},
		messages: []assistant.Message{
			assistantMsg(
				assistant.ContentFragment{Text: "It is 30C【4:0†source】 in Lahore.", Markers: []string{"【4:0†source】"}},
				assistant.ContentFragment{Text: " Enjoy!"},
			),
			{ID: "msg_1", Role: assistant.RoleUser, Content: []assistant.ContentFragment{{Text: "weather?"}}},
		},
	}

	reply, err := newRunner(svc, runner.Options{}).Execute(context.Background(), "weather?", "")
	require.NoError(t, err)
	assert.Equal(t, "It is 30C in Lahore. Enjoy!", reply.Text)
	assert.Equal(t, "thread_1", reply.ThreadID)
	assert.Equal(t, []string{""}, svc.createdOn, "new thread expected")
	assert.Equal(t, 2, svc.getCount)
	assert.Empty(t, svc.submissions())
}

func TestExecute_ExistingThread_CreatesRunOnIt(t *testing.T) {
	svc := &fakeService{
		created:  assistant.Run{ID: "run_1", Status: assistant.StatusQueued},
		runs:     []assistant.Run{{ID: "run_1", Status: assistant.StatusCompleted}},
		messages: []assistant.Message{assistantMsg(assistant.ContentFragment{Text: "hi"})},
	}
	reply, err := newRunner(svc, runner.Options{}).Execute(context.Background(), "hello", "thread_9")
	require.NoError(t, err)
	assert.Equal(t, []string{"thread_9"}, svc.createdOn)
	assert.Equal(t, "thread_9", reply.ThreadID)
	assert.Equal(t, "hi", reply.Text)
}

func TestExecute_RequiresAction_SubmitsToolOutputAndResumes(t *testing.T) {
	cases := []struct {
		city string
		want string
	}{
		{"Lahore", "30C"},
		{"Gotham", "28C"},
	}
	for _, tc := range cases {
		t.Run(tc.city, func(t *testing.T) {
			svc := &fakeService{
				created:    run(assistant.StatusRequiresAction, weatherCall("call_1", tc.city)),
				submitResp: run(assistant.StatusQueued),
				runs:       []assistant.Run{run(assistant.StatusInProgress), run(assistant.StatusCompleted)},
				messages:   []assistant.Message{assistantMsg(assistant.ContentFragment{Text: "done"})},
			}
			reply, err := newRunner(svc, runner.Options{}).Execute(context.Background(), "weather?", "")
			require.NoError(t, err)
			assert.Equal(t, "done", reply.Text)

			subs := svc.submissions()
			require.Len(t, subs, 1)
			assert.Equal(t, []assistant.ToolCallResult{{CallID: "call_1", Output: tc.want}}, subs[0])
			assert.Equal(t, 2, svc.getCount, "polling resumes after submission")
		})
	}
}

func TestExecute_BatchKeepsRequestOrder(t *testing.T) {
	svc := &fakeService{
		created: run(assistant.StatusRequiresAction,
			weatherCall("call_a", "Karachi"), weatherCall("call_b", "Islamabad"), weatherCall("call_c", "Lahore")),
		submitResp: run(assistant.StatusCompleted),
		messages:   []assistant.Message{assistantMsg(assistant.ContentFragment{Text: "ok"})},
	}
	_, err := newRunner(svc, runner.Options{}).Execute(context.Background(), "m", "")
	require.NoError(t, err)
	subs := svc.submissions()
	require.Len(t, subs, 1)
	assert.Equal(t, []assistant.ToolCallResult{
		{CallID: "call_a", Output: "33C"},
		{CallID: "call_b", Output: "27C"},
		{CallID: "call_c", Output: "30C"},
	}, subs[0])
	assert.Equal(t, 0, svc.getCount, "terminal submission response ends polling")
}

func TestExecute_StaleSnapshotNotResubmitted(t *testing.T) {
	pending := run(assistant.StatusRequiresAction, weatherCall("call_1", "Lahore"))
	svc := &fakeService{
		created:    pending,
		submitResp: pending,
		runs:       []assistant.Run{pending, run(assistant.StatusCompleted)},
		messages:   []assistant.Message{assistantMsg(assistant.ContentFragment{Text: "ok"})},
	}
	_, err := newRunner(svc, runner.Options{}).Execute(context.Background(), "m", "")
	require.NoError(t, err)
	assert.Len(t, svc.submissions(), 1)
}

func TestExecute_RequiresActionReentrant(t *testing.T) {
	svc := &fakeService{
		created:    run(assistant.StatusRequiresAction, weatherCall("call_1", "Lahore")),
		submitResp: run(assistant.StatusInProgress),
		runs: []assistant.Run{
			run(assistant.StatusRequiresAction, weatherCall("call_2", "Karachi")),
			run(assistant.StatusCompleted),
		},
		messages: []assistant.Message{assistantMsg(assistant.ContentFragment{Text: "ok"})},
	}
	_, err := newRunner(svc, runner.Options{}).Execute(context.Background(), "m", "")
	require.NoError(t, err)
	subs := svc.submissions()
	require.Len(t, subs, 2)
	assert.Equal(t, "call_1", subs[0][0].CallID)
	assert.Equal(t, "call_2", subs[1][0].CallID)
	assert.Equal(t, "33C", subs[1][0].Output)
}

func TestExecute_InvalidArgumentsAbortsAndCancels(t *testing.T) {
	svc := &fakeService{
		created: run(assistant.StatusRequiresAction,
			assistant.ToolCallRequest{ID: "call_1", Name: "get_weather", Arguments: json.RawMessage(`{"town":"Lahore"}`)}),
	}
	_, err := newRunner(svc, runner.Options{}).Execute(context.Background(), "m", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, tools.ErrInvalidToolArguments)
	assert.Empty(t, svc.submissions())
	assert.Equal(t, []string{"run_1"}, svc.cancellations())
	assert.Zero(t, svc.listCount)
}

func TestExecute_UnhandledTool_FailPolicy(t *testing.T) {
	svc := &fakeService{
		created: run(assistant.StatusRequiresAction,
			assistant.ToolCallRequest{ID: "call_1", Name: "book_flight", Arguments: json.RawMessage(`{}`)}),
	}
	_, err := newRunner(svc, runner.Options{UnhandledTools: runner.UnhandledFail}).Execute(context.Background(), "m", "")
	assert.ErrorIs(t, err, tools.ErrUnhandledToolCall)
	assert.Empty(t, svc.submissions())
	assert.Equal(t, []string{"run_1"}, svc.cancellations())
}

func TestExecute_UnhandledTool_AcknowledgePolicy(t *testing.T) {
	svc := &fakeService{
		created: run(assistant.StatusRequiresAction,
			assistant.ToolCallRequest{ID: "call_1", Name: "book_flight", Arguments: json.RawMessage(`{}`)}),
		submitResp: run(assistant.StatusCompleted),
		messages:   []assistant.Message{assistantMsg(assistant.ContentFragment{Text: "sorry"})},
	}
	reply, err := newRunner(svc, runner.Options{UnhandledTools: runner.UnhandledAcknowledge}).Execute(context.Background(), "m", "")
	require.NoError(t, err)
	assert.Equal(t, "sorry", reply.Text)
	subs := svc.submissions()
	require.Len(t, subs, 1)
	assert.JSONEq(t, `{"error":"no handler registered for tool \"book_flight\""}`, subs[0][0].Output)
}

func TestExecute_TerminalFailureSurfacesRunError(t *testing.T) {
	for _, status := range []assistant.RunStatus{
		assistant.StatusFailed, assistant.StatusExpired, assistant.StatusCancelled, assistant.StatusIncomplete,
	} {
		t.Run(string(status), func(t *testing.T) {
			failed := run(status)
			failed.LastError = "rate_limit_exceeded"
			svc := &fakeService{created: run(assistant.StatusQueued), runs: []assistant.Run{failed}}

			_, err := newRunner(svc, runner.Options{}).Execute(context.Background(), "m", "")
			require.ErrorIs(t, err, runner.ErrRunFailed)
			var re *runner.RunError
			require.True(t, errors.As(err, &re))
			assert.Equal(t, status, re.Status)
			assert.Equal(t, "rate_limit_exceeded", re.Message)
			assert.Zero(t, svc.listCount, "no message read after failure")
			assert.Empty(t, svc.cancellations())
		})
	}
}

func TestExecute_RemoteErrorsWrapped(t *testing.T) {
	svc := &fakeService{createErr: assistant.ErrThreadBusy}
	reply, err := newRunner(svc, runner.Options{}).Execute(context.Background(), "m", "thread_1")
	assert.ErrorIs(t, err, runner.ErrRemoteService)
	assert.ErrorIs(t, err, assistant.ErrThreadBusy)
	assert.Equal(t, "thread_1", reply.ThreadID)
}

func TestExecute_ContextCancelStopsPollingAndCancelsRun(t *testing.T) {
	svc := &fakeService{
		created: run(assistant.StatusQueued),
		runs:    []assistant.Run{run(assistant.StatusInProgress)},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := newRunner(svc, runner.Options{PollInterval: 5 * time.Millisecond}).Execute(ctx, "m", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, []string{"run_1"}, svc.cancellations())
}
