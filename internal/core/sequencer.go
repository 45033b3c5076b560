package core

import (
	"context"
	"sync"
)

// sessionSequencer orders log appends per session by the order requests
// were received. Each request takes a ticket on arrival and waits for every
// earlier ticket of the same session before appending.
type sessionSequencer struct {
	mu    sync.Mutex
	tails map[string]chan struct{}
}

type ticket struct {
	session string
	prev    <-chan struct{}
	done    chan struct{}
}

func newSessionSequencer() *sessionSequencer {
	return &sessionSequencer{tails: make(map[string]chan struct{})}
}

func (s *sessionSequencer) take(session string) *ticket {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &ticket{session: session, done: make(chan struct{})}
	if prev, ok := s.tails[session]; ok {
		t.prev = prev
	}
	s.tails[session] = t.done
	return t
}

// wait blocks until every earlier ticket of the session has been released.
func (t *ticket) wait(ctx context.Context) error {
	if t.prev == nil {
		return nil
	}
	select {
	case <-t.prev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// release lets the next ticket proceed once all earlier tickets are done.
// It never blocks.
func (s *sessionSequencer) release(t *ticket) {
	finish := func() {
		s.mu.Lock()
		close(t.done)
		if s.tails[t.session] == t.done {
			delete(s.tails, t.session)
		}
		s.mu.Unlock()
	}

	if t.prev == nil {
		finish()
		return
	}
	select {
	case <-t.prev:
		finish()
	default:
		go func() {
			<-t.prev
			finish()
		}()
	}
}

// pending reports how many sessions have unreleased tickets.
func (s *sessionSequencer) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tails)
}
