package delivery

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// scriptedSender replays queued errors in order and succeeds once they run out.
type scriptedSender struct {
	mu    sync.Mutex
	errs  []error
	calls []Event
}

func (s *scriptedSender) Send(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, event)
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

func (s *scriptedSender) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.calls))
	for _, c := range s.calls {
		out = append(out, c.Name)
	}
	return out
}

func (s *scriptedSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func serverError() error {
	return NewStatusError(http.StatusServiceUnavailable, 0, errors.New("sink unavailable"))
}

func repeat(err error, n int) []error {
	out := make([]error, n)
	for i := range out {
		out[i] = err
	}
	return out
}

type recordingSink struct {
	mu      sync.Mutex
	letters []DeadLetter
	err     error
}

func (r *recordingSink) DeadLetter(_ context.Context, dl DeadLetter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.letters = append(r.letters, dl)
	return r.err
}

func newTestQueue(t *testing.T, clock *fakeClock, sender Sender, mutate func(*Params)) *Queue {
	t.Helper()
	p := Params{
		Config: Config{
			Capacity:    100,
			BaseDelay:   time.Second,
			Multiplier:  2,
			MaxAttempts: 3,
		},
		Sender: sender,
		Clock:  clock,
	}
	if mutate != nil {
		mutate(&p)
	}
	q, err := NewQueue(p)
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	return q
}

func mustEnqueue(t *testing.T, q *Queue, name string) *Ticket {
	t.Helper()
	ticket, err := q.Enqueue(context.Background(), Event{Name: name, Params: map[string]any{"value": 1}})
	if err != nil {
		t.Fatalf("enqueue %s: %v", name, err)
	}
	return ticket
}

func resolved(t *testing.T, ticket *Ticket) Result {
	t.Helper()
	select {
	case res := <-ticket.Done():
		return res
	default:
		t.Fatalf("ticket %s not resolved", ticket.ID())
		return Result{}
	}
}

func assertPending(t *testing.T, ticket *Ticket) {
	t.Helper()
	select {
	case res := <-ticket.Done():
		t.Fatalf("ticket %s unexpectedly resolved: %+v", ticket.ID(), res)
	default:
	}
}
