package delivery

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/angelmondragon/payments-relay/pkg/enums"
	"github.com/angelmondragon/payments-relay/pkg/logger"
	"github.com/angelmondragon/payments-relay/pkg/metrics"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	defaultCapacity     = 100
	defaultBaseDelay    = time.Second
	defaultMultiplier   = 2
	defaultMaxAttempts  = 3
	defaultScanInterval = 250 * time.Millisecond
	defaultSendTimeout  = 5 * time.Second

	limiterErrorLogInterval = 30 * time.Second
)

// Sender delivers a single event to the remote sink.
type Sender interface {
	Send(ctx context.Context, event Event) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, event Event) error

func (f SenderFunc) Send(ctx context.Context, event Event) error { return f(ctx, event) }

// Stamper fills correlation fields on events before they are queued.
type Stamper interface {
	Stamp(ctx context.Context, event *Event) error
}

// Config tunes retry, capacity and scheduling. Zero values take defaults.
type Config struct {
	Capacity     int
	BaseDelay    time.Duration
	Multiplier   float64
	MaxAttempts  int
	MaxDelay     time.Duration
	ScanInterval time.Duration
	SendTimeout  time.Duration
	// Offline starts the queue without delivery attempts until SetOnline(true).
	Offline bool
}

type Params struct {
	Config      Config
	Sender      Sender
	Limiter     Limiter
	Journal     Journal
	DeadLetters DeadLetterSink
	Stamper     Stamper
	Clock       Clock
	Logger      *logger.Logger
	Metrics     *metrics.DeliveryMetrics
	NewID       func() string
}

// Queue buffers outbound events and delivers them with retry, backoff,
// offline buffering and rate limiting. Enqueue only appends; every state
// transition happens on the scan path (Tick / Run).
type Queue struct {
	cfg         Config
	backoff     Backoff
	sender      Sender
	limiter     Limiter
	journal     Journal
	deadLetters DeadLetterSink
	stamper     Stamper
	clock       Clock
	logg        *logger.Logger
	metrics     *metrics.DeliveryMetrics
	newID       func() string

	// limiterErrLog keeps a failing shared limiter from logging every scan.
	limiterErrLog rate.Sometimes

	mu      sync.Mutex
	entries []*entry
	seq     uint64
	online  bool
	closed  bool
	wake    chan struct{}
}

type entry struct {
	event  Event
	ticket *Ticket
}

func NewQueue(p Params) (*Queue, error) {
	if p.Sender == nil {
		return nil, errors.New("sender is required")
	}
	cfg := p.Config
	if cfg.Capacity <= 0 {
		cfg.Capacity = defaultCapacity
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = defaultMultiplier
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = defaultScanInterval
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	clock := p.Clock
	if clock == nil {
		clock = SystemClock()
	}
	logg := p.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	newID := p.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	q := &Queue{
		cfg:         cfg,
		backoff:     Backoff{Base: cfg.BaseDelay, Multiplier: cfg.Multiplier, Max: cfg.MaxDelay},
		sender:      p.Sender,
		limiter:     p.Limiter,
		journal:     p.Journal,
		deadLetters: p.DeadLetters,
		stamper:     p.Stamper,
		clock:       clock,
		logg:        logg,
		metrics:     p.Metrics,
		newID:       newID,
		online:      !cfg.Offline,
		wake:        make(chan struct{}, 1),
	}
	q.limiterErrLog.First = 1
	q.limiterErrLog.Interval = limiterErrorLogInterval
	return q, nil
}

// Restore reloads journaled events. Call it before the first Enqueue.
func (q *Queue) Restore(ctx context.Context) (int, error) {
	if q.journal == nil {
		return 0, nil
	}
	events, err := q.journal.Pending(ctx)
	if err != nil {
		return 0, err
	}
	q.mu.Lock()
	restored := 0
	for _, ev := range events {
		if len(q.entries) >= q.cfg.Capacity {
			q.logg.Warn(q.logg.WithFields(ctx, ev.fields()), "journaled event exceeds queue capacity; left in journal")
			continue
		}
		q.entries = append(q.entries, &entry{event: ev, ticket: newTicket(ev.ID)})
		if ev.Seq > q.seq {
			q.seq = ev.Seq
		}
		restored++
	}
	depth := len(q.entries)
	q.mu.Unlock()

	q.metrics.SetDepth(depth)
	if restored > 0 {
		q.logg.Info(q.logg.WithField(ctx, "restored", restored), "restored pending outbound events")
		q.signal()
	}
	return restored, nil
}

// Enqueue appends event in Pending state. It never attempts delivery itself.
// When the queue already holds Capacity events the new event is rejected.
func (q *Queue) Enqueue(ctx context.Context, event Event) (*Ticket, error) {
	if event.Name == "" {
		return nil, errors.New("event name is required")
	}
	if q.stamper != nil {
		if err := q.stamper.Stamp(ctx, &event); err != nil {
			return nil, err
		}
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrQueueClosed
	}
	if len(q.entries) >= q.cfg.Capacity {
		depth := len(q.entries)
		q.mu.Unlock()
		ctx = q.logg.WithFields(ctx, map[string]any{"event_name": event.Name, "capacity": q.cfg.Capacity, "depth": depth})
		q.logg.Warn(ctx, "delivery queue full; rejecting event")
		return nil, ErrQueueFull
	}

	now := q.clock.Now()
	if event.ID == "" {
		event.ID = q.newID()
	}
	event.Seq = q.seq + 1
	event.EnqueuedAt = now
	event.NextEligibleAt = now
	event.State = enums.DeliveryStatePending
	event.Attempt = 0
	event.Failures = 0
	event.LastError = ""
	event.History = nil

	if q.journal != nil {
		if err := q.journal.Save(ctx, event); err != nil {
			q.mu.Unlock()
			return nil, err
		}
	}
	q.seq = event.Seq
	e := &entry{event: event, ticket: newTicket(event.ID)}
	q.entries = append(q.entries, e)
	depth := len(q.entries)
	online := q.online
	q.mu.Unlock()

	q.metrics.SetDepth(depth)
	q.logg.Debug(q.logg.WithFields(ctx, event.fields()), "outbound event enqueued")
	if online {
		q.signal()
	}
	return e.ticket, nil
}

// SetOnline toggles delivery. Going online wakes the loop, which drains
// pending events in enqueue order.
func (q *Queue) SetOnline(online bool) {
	q.mu.Lock()
	changed := q.online != online
	q.online = online
	q.mu.Unlock()
	if !changed {
		return
	}
	ctx := q.logg.WithField(context.Background(), "online", online)
	q.logg.Info(ctx, "delivery queue connectivity changed")
	if online {
		q.signal()
	}
}

func (q *Queue) Online() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.online
}

// Len returns the number of non-terminal events held by the queue.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Snapshot returns copies of the held events in enqueue order.
func (q *Queue) Snapshot() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Event, 0, len(q.entries))
	for _, e := range q.entries {
		out = append(out, e.event.clone())
	}
	return out
}

// Run scans the queue every ScanInterval, or sooner when woken by Enqueue or
// SetOnline, until ctx is done.
func (q *Queue) Run(ctx context.Context) error {
	ticker := time.NewTicker(q.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		q.Tick(ctx)
		select {
		case <-ctx.Done():
			q.shutdown(ctx)
			return nil
		case <-ticker.C:
		case <-q.wake:
		}
	}
}

// Tick performs one scan: every pending event whose backoff has elapsed is
// attempted oldest first. Events still waiting do not block later ones. A
// rate-limit deferral ends the scan so first attempts keep their order.
func (q *Queue) Tick(ctx context.Context) int {
	q.mu.Lock()
	if !q.online || q.closed {
		q.mu.Unlock()
		return 0
	}
	now := q.clock.Now()
	var due []*entry
	for _, e := range q.entries {
		if e.event.State == enums.DeliveryStatePending && !e.event.NextEligibleAt.After(now) {
			due = append(due, e)
		}
	}
	q.mu.Unlock()

	attempted := 0
	for _, e := range due {
		if ctx.Err() != nil || !q.Online() {
			break
		}
		if q.limiter != nil {
			wait, err := q.limiter.Reserve(ctx, q.clock.Now())
			if err != nil {
				q.limiterErrLog.Do(func() {
					q.logg.Error(ctx, "rate limiter unavailable; deferring deliveries", err)
				})
				break
			}
			if wait > 0 {
				q.metrics.IncDeferred()
				q.logg.Debug(q.logg.WithField(ctx, "wait_ms", wait.Milliseconds()), "delivery deferred by rate limit")
				break
			}
		}
		q.attempt(ctx, e)
		attempted++
	}
	return attempted
}

func (q *Queue) attempt(ctx context.Context, e *entry) {
	q.mu.Lock()
	e.event.State = enums.DeliveryStateSending
	e.event.Attempt++
	sending := e.event.clone()
	q.mu.Unlock()

	// Bookkeeping writes must land even when shutdown cancels ctx mid-send.
	persistCtx := context.WithoutCancel(ctx)
	q.persist(persistCtx, sending)

	sendCtx, cancel := context.WithTimeout(ctx, q.cfg.SendTimeout)
	started := q.clock.Now()
	err := q.sender.Send(sendCtx, sending)
	cancel()
	finished := q.clock.Now()

	outcome, status, retryAfter := classify(err)
	if err != nil && ctx.Err() != nil {
		outcome = AttemptAborted
	}
	rec := AttemptRecord{
		Attempt:    sending.Attempt,
		StartedAt:  started,
		FinishedAt: finished,
		StatusCode: status,
		Outcome:    outcome,
	}
	if err != nil {
		rec.Err = err.Error()
	}

	var reason enums.DeadLetterReason
	q.mu.Lock()
	ev := &e.event
	ev.History = append(ev.History, rec)
	ev.LastError = rec.Err
	switch outcome {
	case AttemptSucceeded:
		ev.State = enums.DeliveryStateSuccess
	case AttemptAborted:
		ev.State = enums.DeliveryStatePending
	case AttemptPermanent:
		ev.State = enums.DeliveryStateDeadLettered
		reason = enums.DeadLetterReasonPermanent
	case AttemptTransient:
		ev.Failures++
		if ev.Failures > q.cfg.MaxAttempts {
			ev.State = enums.DeliveryStateDeadLettered
			reason = enums.DeadLetterReasonExhausted
			break
		}
		delay := q.backoff.Delay(ev.Failures)
		if retryAfter > delay {
			delay = retryAfter
		}
		ev.State = enums.DeliveryStatePending
		ev.NextEligibleAt = finished.Add(delay)
	}
	final := ev.clone()
	if final.State.Terminal() {
		q.removeLocked(e)
	}
	depth := len(q.entries)
	q.mu.Unlock()

	q.metrics.ObserveAttempt(final.Name, string(outcome), finished.Sub(started))
	q.metrics.SetDepth(depth)
	logCtx := q.logg.WithFields(ctx, final.fields())

	switch final.State {
	case enums.DeliveryStateSuccess:
		q.forget(persistCtx, final.ID)
		q.logg.Info(logCtx, "outbound event delivered")
		e.ticket.resolve(Result{EventID: final.ID, State: final.State, Event: final})
	case enums.DeliveryStateDeadLettered:
		q.forget(persistCtx, final.ID)
		q.deadLetter(persistCtx, final, reason, err)
		e.ticket.resolve(Result{EventID: final.ID, State: final.State, Reason: reason, Event: final, Err: err})
	default:
		q.persist(persistCtx, final)
		if outcome == AttemptAborted {
			q.logg.Info(logCtx, "delivery aborted by shutdown; event kept pending")
			return
		}
		logCtx = q.logg.WithField(logCtx, "next_eligible_at", final.NextEligibleAt.Format(time.RFC3339Nano))
		q.logg.Warn(logCtx, "outbound delivery failed; retry scheduled")
	}
}

func (q *Queue) deadLetter(ctx context.Context, ev Event, reason enums.DeadLetterReason, cause error) {
	q.metrics.IncDeadLetter(ev.Name, string(reason))
	logCtx := q.logg.WithFields(ctx, ev.fields())
	logCtx = q.logg.WithField(logCtx, "dead_letter_reason", reason)
	q.logg.Error(logCtx, "outbound event dead-lettered", cause)

	if q.deadLetters == nil {
		return
	}
	dl := DeadLetter{Event: ev, Reason: reason, Err: cause, FailedAt: q.clock.Now()}
	if err := q.deadLetters.DeadLetter(ctx, dl); err != nil {
		q.logg.Error(logCtx, "dead letter sink failed", err)
	}
}

func (q *Queue) persist(ctx context.Context, ev Event) {
	if q.journal == nil {
		return
	}
	if err := q.journal.Save(ctx, ev); err != nil {
		q.logg.Error(q.logg.WithFields(ctx, ev.fields()), "journal save failed", err)
	}
}

func (q *Queue) forget(ctx context.Context, id string) {
	if q.journal == nil {
		return
	}
	if err := q.journal.Remove(ctx, id); err != nil {
		q.logg.Error(q.logg.WithField(ctx, "outbound_id", id), "journal remove failed", err)
	}
}

func (q *Queue) removeLocked(target *entry) {
	for i, e := range q.entries {
		if e == target {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return
		}
	}
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) shutdown(ctx context.Context) {
	q.mu.Lock()
	q.closed = true
	remaining := q.entries
	q.entries = nil
	q.mu.Unlock()

	ctx = q.logg.WithField(context.WithoutCancel(ctx), "pending", len(remaining))
	switch {
	case len(remaining) == 0:
		q.logg.Info(ctx, "delivery queue stopped")
	case q.journal == nil:
		q.logg.Warn(ctx, "delivery queue stopped; memory-only queue drops undelivered events")
	default:
		q.logg.Info(ctx, "delivery queue stopped; undelivered events remain journaled")
	}
	for _, e := range remaining {
		e.ticket.resolve(Result{EventID: e.event.ID, State: e.event.State, Event: e.event.clone(), Err: ErrQueueClosed})
	}
	q.metrics.SetDepth(0)
}
