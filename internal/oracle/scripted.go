package oracle

import (
	"context"
	"fmt"
	"sync"
)

// Scripted is an Oracle that replays a fixed sequence of responses.
// Tests and dry runs use it in place of a model.
type Scripted struct {
	mu    sync.Mutex
	queue []scriptEntry
	calls []PromptContext
}

type scriptEntry struct {
	resp *Response
	err  error
}

// NewScripted creates an empty Scripted oracle.
func NewScripted() *Scripted {
	return &Scripted{}
}

// Enqueue appends a response to the script.
func (s *Scripted) Enqueue(resp *Response) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, scriptEntry{resp: resp})
	return s
}

// EnqueueError appends an error to the script.
func (s *Scripted) EnqueueError(err error) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, scriptEntry{err: err})
	return s
}

// Calls returns every PromptContext received, in order.
func (s *Scripted) Calls() []PromptContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PromptContext, len(s.calls))
	copy(out, s.calls)
	return out
}

// Propose pops the next scripted entry.
func (s *Scripted) Propose(ctx context.Context, pc PromptContext) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, pc)
	if len(s.queue) == 0 {
		return nil, fmt.Errorf("scripted oracle exhausted at phase %s", pc.Phase)
	}
	entry := s.queue[0]
	s.queue = s.queue[1:]
	if entry.err != nil {
		return nil, entry.err
	}
	if err := entry.resp.Validate(pc.Phase); err != nil {
		return nil, malformed(pc.Phase, "scripted", err)
	}
	return entry.resp, nil
}
