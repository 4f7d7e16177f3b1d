package delivery

import (
	"context"

	"github.com/angelmondragon/payments-relay/pkg/enums"
)

// Result is the terminal state of an enqueued event.
type Result struct {
	EventID string
	State   enums.DeliveryState
	Reason  enums.DeadLetterReason
	Event   Event
	Err     error
}

// Ticket is returned by Enqueue and resolves once the event is terminal.
type Ticket struct {
	id   string
	done chan Result
}

func newTicket(id string) *Ticket {
	return &Ticket{id: id, done: make(chan Result, 1)}
}

// ID is the outbound event id.
func (t *Ticket) ID() string { return t.id }

// Done yields exactly one Result and is then closed.
func (t *Ticket) Done() <-chan Result { return t.done }

// Wait blocks until the event is terminal or ctx is done.
func (t *Ticket) Wait(ctx context.Context) (Result, error) {
	select {
	case res, ok := <-t.done:
		if !ok {
			return Result{EventID: t.id, Err: ErrQueueClosed}, ErrQueueClosed
		}
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (t *Ticket) resolve(res Result) {
	if t == nil {
		return
	}
	t.done <- res
	close(t.done)
}
