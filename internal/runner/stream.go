package runner

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/petasbytes/go-assistant/internal/assistant"
	"github.com/petasbytes/go-assistant/internal/scrub"
	"github.com/petasbytes/go-assistant/internal/telemetry"
)

// Stream is the consumer side of a streamed run: scrubbed text increments in
// arrival order, followed by the terminal error (if any).
type Stream struct {
	q      *textQueue
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	threadID string
	ready    chan struct{}
	consErr  error
}

func newStream(cancel context.CancelFunc) *Stream {
	return &Stream{
		q:      newTextQueue(),
		cancel: cancel,
		done:   make(chan struct{}),
		ready:  make(chan struct{}),
	}
}

// Next returns the next text increment. It returns false once the sequence
// has ended or ctx is done; Err then reports why.
func (s *Stream) Next(ctx context.Context) (string, bool) {
	text, ok, err := s.q.pop(ctx)
	if err != nil {
		s.mu.Lock()
		s.consErr = err
		s.mu.Unlock()
	}
	return text, ok
}

// Err returns the error that ended the sequence, nil after a clean end.
func (s *Stream) Err() error {
	if err := s.q.failure(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consErr
}

// ThreadID reports the thread id once resolved. It may become non-empty
// after ExecuteStreaming returned an empty id.
func (s *Stream) ThreadID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadID
}

// Close stops the producer. Safe to call more than once.
func (s *Stream) Close() {
	s.cancel()
}

// Done is closed when the producer has exited.
func (s *Stream) Done() <-chan struct{} { return s.done }

// setThreadID records id if none is known yet; later ids are ignored.
func (s *Stream) setThreadID(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.threadID != "" {
		return
	}
	s.threadID = id
	close(s.ready)
}

// streamState is owned by the producer goroutine.
type streamState struct {
	submitted map[string]struct{}
	scrubber  scrub.Stream
	last      assistant.Run
	text      strings.Builder
}

func (st *streamState) forward(s *Stream, out string) {
	if out == "" {
		return
	}
	st.text.WriteString(out)
	s.q.push(out)
}

// ExecuteStreaming starts a streamed run and returns as soon as the thread
// id is known, the thread-id wait elapses, or ctx is done. Content produced
// meanwhile is buffered. An empty id means the service had not identified
// the thread in time; Stream.ThreadID picks it up later.
func (r *Runner) ExecuteStreaming(ctx context.Context, message, threadID string) (*Stream, string) {
	ctx, turnID := telemetry.EnsureTurnID(ctx)
	pctx, cancel := context.WithCancel(ctx)
	s := newStream(cancel)
	s.setThreadID(threadID)

	go r.produce(pctx, s, turnID, message, threadID)

	if threadID != "" {
		return s, threadID
	}

	timer := time.NewTimer(r.opts.ThreadIDWait)
	defer timer.Stop()
	select {
	case <-s.ready:
	case <-s.done:
	case <-timer.C:
	case <-ctx.Done():
	}
	id := s.ThreadID()
	if id == "" {
		r.log.Warnw("thread id unresolved at stream start; continuing without it",
			"turn_id", turnID, "wait", r.opts.ThreadIDWait)
	}
	return s, id
}

func (r *Runner) produce(ctx context.Context, s *Stream, turnID, message, threadID string) {
	defer close(s.done)
	start := time.Now()

	var (
		feed assistant.EventStream
		err  error
	)
	if threadID != "" {
		feed, err = r.svc.CreateRunStream(ctx, threadID, message)
	} else {
		feed, err = r.svc.CreateThreadAndRunStream(ctx, message)
	}
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrStreamProducer, remoteError("open stream", err))
		r.log.Warnw("open stream failed", "turn_id", turnID, "thread_id", threadID, "error", err)
		s.q.close(err)
		return
	}
	emitRunStarted(turnID, threadID, "", "stream")

	st := &streamState{submitted: make(map[string]struct{})}
	err = r.drain(ctx, s, feed, st)
	switch {
	case err == nil && st.last.Status != "" && !st.last.Status.Terminal():
		// The feed is gone but the run can still move; nothing will drive it.
		err = fmt.Errorf("feed ended with run %s still %s", st.last.ID, st.last.Status)
		r.abandon(ctx, st.last)
	case err != nil && ctx.Err() != nil:
		r.abandon(ctx, st.last)
	}
	st.forward(s, st.scrubber.Flush())
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrStreamProducer, err)
	}
	if st.last.ThreadID == "" {
		st.last.ThreadID = s.ThreadID()
	}
	r.finish(turnID, st.last, start, err)
	if err == nil {
		telemetry.EmitReplyFeatures(ctx, st.text.String())
	}
	s.q.close(err)
}

// drain forwards one feed, recursing into the nested feed opened by each
// tool-output submission so deltas keep arrival order.
func (r *Runner) drain(ctx context.Context, s *Stream, feed assistant.EventStream, st *streamState) error {
	defer feed.Close()
	for feed.Next() {
		ev := feed.Current()
		s.setThreadID(assistant.ThreadIDOf(ev))

		switch e := ev.(type) {
		case assistant.MessageDelta:
			st.forward(s, st.scrubber.Push(e.Text))
		case assistant.RunStatusChanged:
			st.last = mergeRun(st.last, e.Run)
			if e.Run.Status.Terminal() && !e.Run.Status.Succeeded() {
				return newRunError(st.last)
			}
		case assistant.RunRequiresAction:
			run := mergeRun(st.last, e.Run)
			if run.ThreadID == "" {
				run.ThreadID = s.ThreadID()
			}
			st.last = run
			results, err := r.resolveToolCalls(ctx, run, st.submitted)
			if err != nil {
				r.abandon(ctx, run)
				return err
			}
			if len(results) == 0 {
				continue
			}
			nested, err := r.svc.SubmitToolOutputsStream(ctx, run.ThreadID, run.ID, results)
			if err != nil {
				return remoteError("submit tool outputs", err)
			}
			markSubmitted(st.submitted, results)
			if err := r.drain(ctx, s, nested, st); err != nil {
				return err
			}
		case assistant.ThreadCreated, assistant.OtherEvent:
		}
	}
	if err := feed.Err(); err != nil {
		return err
	}
	return nil
}
