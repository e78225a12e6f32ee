package assistant

import (
	"context"
	"sync"
)

// Pipe is an EventStream fed by a producer goroutine. Send blocks until the
// consumer takes the event or the pipe is closed.
type Pipe struct {
	ch     chan Event
	done   chan struct{}
	once   sync.Once
	mu     sync.Mutex
	err    error
	cur    Event
	cancel context.CancelFunc
}

// NewPipe returns an open pipe. cancel, when non-nil, is invoked by Close so
// the producer can stop early.
func NewPipe(cancel context.CancelFunc) *Pipe {
	return &Pipe{ch: make(chan Event), done: make(chan struct{}), cancel: cancel}
}

// Send delivers ev to the consumer. It returns false once the consumer has
// closed the pipe.
func (p *Pipe) Send(ev Event) bool {
	select {
	case p.ch <- ev:
		return true
	case <-p.done:
		return false
	}
}

// Finish ends the feed, recording err (nil for a clean end). Only the first
// call has an effect.
func (p *Pipe) Finish(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.done:
		return
	default:
	}
	p.err = err
	close(p.ch)
	p.closeDone()
}

func (p *Pipe) closeDone() {
	p.once.Do(func() { close(p.done) })
}

func (p *Pipe) Next() bool {
	select {
	case ev, ok := <-p.ch:
		if !ok {
			return false
		}
		p.cur = ev
		return true
	case <-p.done:
		return false
	}
}

func (p *Pipe) Current() Event { return p.cur }

func (p *Pipe) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Close abandons the feed. Pending and future Sends return false.
func (p *Pipe) Close() error {
	p.closeDone()
	if p.cancel != nil {
		p.cancel()
	}
	return nil
}
