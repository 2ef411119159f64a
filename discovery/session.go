package discovery

import (
	"context"
	"errors"
	"sync"
)

// ErrSuperseded is returned to a discovery request when a newer request
// from the same user started before it finished.
var ErrSuperseded = errors.New("discovery: superseded by a newer request")

type session struct {
	cancel context.CancelCauseFunc
}

// sessions keeps the in-flight discovery request per user so only the
// latest one can deliver results.
type sessions struct {
	mu     sync.Mutex
	byUser map[string]*session
}

func newSessions() *sessions {
	return &sessions{byUser: make(map[string]*session)}
}

// begin cancels the user's previous request and returns the context for
// the new one plus a func to release it.
func (s *sessions) begin(parent context.Context, userID string) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(parent)
	cur := &session{cancel: cancel}

	s.mu.Lock()
	if prev, ok := s.byUser[userID]; ok {
		prev.cancel(ErrSuperseded)
	}
	s.byUser[userID] = cur
	s.mu.Unlock()

	return ctx, func() {
		s.mu.Lock()
		if s.byUser[userID] == cur {
			delete(s.byUser, userID)
		}
		s.mu.Unlock()
		cancel(context.Canceled)
	}
}

func (s *sessions) inFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byUser)
}

func superseded(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), ErrSuperseded)
}
