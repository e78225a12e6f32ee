package runner_test

import (
	"context"
	"errors"
	"sync"

	"github.com/petasbytes/go-assistant/internal/assistant"
)

// fakeService is a scripted assistant.Service. GetRun pops runs in order and
// repeats the last one; stream constructors pop feeds in order.
type fakeService struct {
	mu sync.Mutex

	created    assistant.Run
	createErr  error
	runs       []assistant.Run
	submitResp assistant.Run
	messages   []assistant.Message

	feeds   []assistant.EventStream
	nested  []assistant.EventStream
	openErr error

	createdOn []string
	submitted [][]assistant.ToolCallResult
	cancelled []string
	getCount  int
	listCount int
}

func (f *fakeService) CreateThreadAndRun(_ context.Context, _ string) (assistant.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createdOn = append(f.createdOn, "")
	return f.created, f.createErr
}

func (f *fakeService) CreateRun(_ context.Context, threadID, _ string) (assistant.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createdOn = append(f.createdOn, threadID)
	return f.created, f.createErr
}

func (f *fakeService) GetRun(ctx context.Context, _, _ string) (assistant.Run, error) {
	if err := ctx.Err(); err != nil {
		return assistant.Run{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCount++
	if len(f.runs) == 0 {
		return assistant.Run{}, errors.New("no scripted run")
	}
	r := f.runs[0]
	if len(f.runs) > 1 {
		f.runs = f.runs[1:]
	}
	return r, nil
}

func (f *fakeService) SubmitToolOutputs(_ context.Context, _, _ string, results []assistant.ToolCallResult) (assistant.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, results)
	return f.submitResp, nil
}

func (f *fakeService) CancelRun(ctx context.Context, _, runID string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, runID)
	return nil
}

func (f *fakeService) ListMessages(_ context.Context, _, _ string) ([]assistant.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCount++
	return f.messages, nil
}

func (f *fakeService) CreateThreadAndRunStream(_ context.Context, _ string) (assistant.EventStream, error) {
	return f.nextFeed(&f.feeds)
}

func (f *fakeService) CreateRunStream(_ context.Context, threadID, _ string) (assistant.EventStream, error) {
	f.mu.Lock()
	f.createdOn = append(f.createdOn, threadID)
	f.mu.Unlock()
	return f.nextFeed(&f.feeds)
}

func (f *fakeService) SubmitToolOutputsStream(_ context.Context, _, _ string, results []assistant.ToolCallResult) (assistant.EventStream, error) {
	f.mu.Lock()
	f.submitted = append(f.submitted, results)
	f.mu.Unlock()
	return f.nextFeed(&f.nested)
}

func (f *fakeService) nextFeed(q *[]assistant.EventStream) (assistant.EventStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	if len(*q) == 0 {
		return nil, errors.New("no scripted feed")
	}
	feed := (*q)[0]
	*q = (*q)[1:]
	return feed, nil
}

func (f *fakeService) submissions() [][]assistant.ToolCallResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]assistant.ToolCallResult(nil), f.submitted...)
}

func (f *fakeService) cancellations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cancelled...)
}

// sliceFeed replays fixed events then ends with err.
type sliceFeed struct {
	events []assistant.Event
	err    error
	i      int
	cur    assistant.Event
}

func feedOf(events ...assistant.Event) *sliceFeed { return &sliceFeed{events: events} }

func (s *sliceFeed) Next() bool {
	if s.i >= len(s.events) {
		return false
	}
	s.cur = s.events[s.i]
	s.i++
	return true
}

func (s *sliceFeed) Current() assistant.Event { return s.cur }
func (s *sliceFeed) Err() error               { return s.err }
func (s *sliceFeed) Close() error             { return nil }

// chanFeed delivers events as the test sends them; closing ch ends the feed.
type chanFeed struct {
	ch  chan assistant.Event
	cur assistant.Event
}

func newChanFeed() *chanFeed { return &chanFeed{ch: make(chan assistant.Event, 16)} }

func (c *chanFeed) Next() bool {
	ev, ok := <-c.ch
	if !ok {
		return false
	}
	c.cur = ev
	return true
}

func (c *chanFeed) Current() assistant.Event { return c.cur }
func (c *chanFeed) Err() error               { return nil }
func (c *chanFeed) Close() error             { return nil }
