package session

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/angelmondragon/payments-relay/pkg/delivery"
	"github.com/angelmondragon/payments-relay/pkg/logger"
	"github.com/google/uuid"
)

// Identity is the correlation pair stamped on outbound telemetry. ClientID
// outlives sessions; SessionID is scoped to one browsing lifetime.
type Identity struct {
	ClientID  string    `json:"client_id"`
	SessionID string    `json:"session_id"`
	StartedAt time.Time `json:"started_at"`
}

func (i Identity) complete() bool {
	return i.ClientID != "" && i.SessionID != ""
}

type Option func(*Correlator)

func WithClock(now func() time.Time) Option {
	return func(c *Correlator) {
		if now != nil {
			c.now = now
		}
	}
}

func WithLogger(logg *logger.Logger) Option {
	return func(c *Correlator) {
		if logg != nil {
			c.logg = logg
		}
	}
}

// WithUserID stamps a signed-in user id alongside the session.
func WithUserID(userID string) Option {
	return func(c *Correlator) { c.userID = userID }
}

// Correlator lazily creates one Identity and hands it to every event that
// lacks one.
type Correlator struct {
	store  Store
	now    func() time.Time
	logg   *logger.Logger
	userID string

	mu      sync.Mutex
	current *Identity
}

func NewCorrelator(store Store, opts ...Option) *Correlator {
	if store == nil {
		store = NewMemoryStore()
	}
	c := &Correlator{
		store: store,
		now:   time.Now,
		logg:  logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Identity returns the active identity, loading it from the store or
// generating one on first use.
func (c *Correlator) Identity(ctx context.Context) (Identity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		return *c.current, nil
	}
	stored, ok, err := c.store.Load(ctx)
	if err != nil {
		return Identity{}, fmt.Errorf("load session: %w", err)
	}
	if ok && stored.complete() {
		c.current = &stored
		return stored, nil
	}

	id := Identity{
		ClientID:  stored.ClientID,
		SessionID: NewSessionID(),
		StartedAt: c.now().UTC(),
	}
	if id.ClientID == "" {
		id.ClientID = NewClientID(c.now())
	}
	if err := c.store.Save(ctx, id); err != nil {
		return Identity{}, fmt.Errorf("save session: %w", err)
	}
	c.current = &id
	c.logg.Debug(c.logg.WithFields(ctx, map[string]any{"client_id": id.ClientID, "session_id": id.SessionID}), "session started")
	return id, nil
}

// Rotate starts a new session and keeps the client id.
func (c *Correlator) Rotate(ctx context.Context) (Identity, error) {
	current, err := c.Identity(ctx)
	if err != nil {
		return Identity{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	next := Identity{
		ClientID:  current.ClientID,
		SessionID: NewSessionID(),
		StartedAt: c.now().UTC(),
	}
	if err := c.store.Save(ctx, next); err != nil {
		return Identity{}, fmt.Errorf("save session: %w", err)
	}
	c.current = &next
	return next, nil
}

// Stamp implements delivery.Stamper. Fields already set on the event win.
func (c *Correlator) Stamp(ctx context.Context, event *delivery.Event) error {
	if event == nil {
		return nil
	}
	if event.ClientID != "" && event.SessionID != "" {
		if event.UserID == "" {
			event.UserID = c.userID
		}
		return nil
	}
	id, err := c.Identity(ctx)
	if err != nil {
		return err
	}
	if event.ClientID == "" {
		event.ClientID = id.ClientID
	}
	if event.SessionID == "" {
		event.SessionID = id.SessionID
	}
	if event.UserID == "" {
		event.UserID = c.userID
	}
	return nil
}

func NewSessionID() string {
	return uuid.NewString()
}

// NewClientID returns an analytics-style "<random>.<unix seconds>" id.
func NewClientID(now time.Time) string {
	return strconv.FormatUint(uint64(rand.Uint32()), 10) + "." + strconv.FormatInt(now.Unix(), 10)
}
