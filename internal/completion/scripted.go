package completion

import (
	"context"
	"fmt"
	"sync"
)

// Reply is one canned completion result.
type Reply struct {
	Text string
	Err  error
}

// Text is a successful reply.
func Text(s string) Reply { return Reply{Text: s} }

// Fail is a failed reply.
func Fail(err error) Reply { return Reply{Err: err} }

// Scripted replays canned replies keyed by Request.Role. Replies for a role
// are consumed in order and the last one repeats. It backs the "scripted"
// provider and tests.
type Scripted struct {
	mu      sync.Mutex
	replies map[string][]Reply
	calls   []Request
}

// NewScripted creates an empty script.
func NewScripted() *Scripted {
	return &Scripted{replies: make(map[string][]Reply)}
}

// On appends replies for role.
func (s *Scripted) On(role string, replies ...Reply) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[role] = append(s.replies[role], replies...)
	return s
}

// Complete returns the next reply for req.Role.
func (s *Scripted) Complete(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", contextError(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)

	queue := s.replies[req.Role]
	if len(queue) == 0 {
		return "", fmt.Errorf("%w: no scripted reply for %q", ErrRejected, req.Role)
	}
	next := queue[0]
	if len(queue) > 1 {
		s.replies[req.Role] = queue[1:]
	}
	if next.Err != nil {
		return "", next.Err
	}
	return next.Text, nil
}

// Calls returns every request received, in order.
func (s *Scripted) Calls() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.calls...)
}

// CallCount returns how many requests role made.
func (s *Scripted) CallCount(role string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Role == role {
			n++
		}
	}
	return n
}

var _ Client = (*Scripted)(nil)
