package delivery

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrQueueFull is returned by Enqueue when the queue holds Capacity events.
	ErrQueueFull = errors.New("delivery queue is full")
	// ErrQueueClosed is returned once the run loop has stopped.
	ErrQueueClosed = errors.New("delivery queue is closed")

	// ErrTransient marks failures worth retrying (network, timeout, 5xx, 429).
	ErrTransient = errors.New("transient delivery error")
	// ErrPermanent marks failures that no retry can fix (4xx other than 429).
	ErrPermanent = errors.New("permanent delivery error")
)

// SendError is returned by senders that observed an HTTP response.
type SendError struct {
	StatusCode int
	RetryAfter time.Duration
	Permanent  bool
	Err        error
}

// NewStatusError classifies a non-2xx sink response.
func NewStatusError(status int, retryAfter time.Duration, err error) *SendError {
	return &SendError{
		StatusCode: status,
		RetryAfter: retryAfter,
		Permanent:  status >= 400 && status < 500 && status != http.StatusTooManyRequests,
		Err:        err,
	}
}

// NewPermanentError wraps err as a failure that must not be retried.
func NewPermanentError(err error) *SendError {
	return &SendError{Permanent: true, Err: err}
}

func (e *SendError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	msg := kind + " delivery error"
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s: status %d", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *SendError) Unwrap() error { return e.Err }

// Is lets errors.Is match the ErrTransient / ErrPermanent sentinels.
func (e *SendError) Is(target error) bool {
	switch target {
	case ErrPermanent:
		return e.Permanent
	case ErrTransient:
		return !e.Permanent
	}
	return false
}

// classify maps a sender error onto an attempt outcome. Errors that carry no
// classification are treated as transient.
func classify(err error) (AttemptOutcome, int, time.Duration) {
	if err == nil {
		return AttemptSucceeded, http.StatusOK, 0
	}
	var sendErr *SendError
	if errors.As(err, &sendErr) {
		if sendErr.Permanent {
			return AttemptPermanent, sendErr.StatusCode, 0
		}
		return AttemptTransient, sendErr.StatusCode, sendErr.RetryAfter
	}
	if errors.Is(err, ErrPermanent) {
		return AttemptPermanent, 0, 0
	}
	return AttemptTransient, 0, 0
}
