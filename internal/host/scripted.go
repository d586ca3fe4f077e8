package host

import (
	"context"
	"sync"
)

// Scripted is a Host that replays queued responses in order. It records
// every announcement and prompt it receives. Used by tests and by
// non-interactive tooling.
type Scripted struct {
	mu        sync.Mutex
	responses []Response
	errs      []error
	// OnElicit, if set, runs before a response is popped.
	OnElicit func(ctx context.Context, p Prompt)

	Announcements []string
	Prompts       []Prompt
}

// NewScripted returns a Scripted host that answers with responses in order.
func NewScripted(responses ...Response) *Scripted {
	return &Scripted{responses: responses}
}

// Push queues another response.
func (s *Scripted) Push(r Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, r)
}

// PushError queues an error returned by the next Elicit call.
func (s *Scripted) PushError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func (s *Scripted) Announce(_ context.Context, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Announcements = append(s.Announcements, message)
	return nil
}

func (s *Scripted) Elicit(ctx context.Context, p Prompt) (Response, error) {
	if s.OnElicit != nil {
		s.OnElicit(ctx, p)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Prompts = append(s.Prompts, p)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return Response{}, err
	}
	if len(s.responses) == 0 {
		return Response{Action: ActionCancel}, nil
	}
	r := s.responses[0]
	s.responses = s.responses[1:]
	return r, nil
}

// ElicitCount returns the number of prompts seen so far.
func (s *Scripted) ElicitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Prompts)
}

// Accept is a shorthand for an accepted response with an optional choice.
func Accept(choice string) Response { return Response{Action: ActionAccept, Choice: choice} }

// Decline is a shorthand for a declined response.
func Decline() Response { return Response{Action: ActionDecline} }
