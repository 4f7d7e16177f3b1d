package session

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/angelmondragon/payments-relay/pkg/delivery"
	"github.com/angelmondragon/payments-relay/pkg/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var clientIDPattern = regexp.MustCompile(`^\d+\.\d+$`)

func fixedNow() time.Time {
	return time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
}

func TestIdentityIsGeneratedOnceAndReused(t *testing.T) {
	store := NewMemoryStore()
	c := NewCorrelator(store, WithClock(fixedNow))

	first, err := c.Identity(context.Background())
	require.NoError(t, err)
	assert.Regexp(t, clientIDPattern, first.ClientID)
	assert.NotEmpty(t, first.SessionID)
	assert.Equal(t, fixedNow(), first.StartedAt)

	second, err := c.Identity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)

	stored, ok, err := store.Load(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first, stored)
}

func TestIdentityConcurrentCallersShareSession(t *testing.T) {
	c := NewCorrelator(NewMemoryStore())
	var wg sync.WaitGroup
	ids := make([]string, 16)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := c.Identity(context.Background())
			if err != nil {
				t.Errorf("identity: %v", err)
				return
			}
			ids[i] = id.SessionID
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestIdentityLoadsExistingStore(t *testing.T) {
	store := NewMemoryStore()
	existing := Identity{ClientID: "1.2", SessionID: "sess", StartedAt: fixedNow()}
	require.NoError(t, store.Save(context.Background(), existing))

	got, err := NewCorrelator(store).Identity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, existing, got)
}

func TestRotateKeepsClientID(t *testing.T) {
	c := NewCorrelator(NewMemoryStore())
	first, err := c.Identity(context.Background())
	require.NoError(t, err)

	next, err := c.Rotate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.ClientID, next.ClientID)
	assert.NotEqual(t, first.SessionID, next.SessionID)

	again, err := c.Identity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, next, again)
}

func TestStampFillsOnlyMissingFields(t *testing.T) {
	c := NewCorrelator(NewMemoryStore(), WithUserID("user-7"))
	id, err := c.Identity(context.Background())
	require.NoError(t, err)

	blank := delivery.Event{Name: "page_view"}
	require.NoError(t, c.Stamp(context.Background(), &blank))
	assert.Equal(t, id.ClientID, blank.ClientID)
	assert.Equal(t, id.SessionID, blank.SessionID)
	assert.Equal(t, "user-7", blank.UserID)

	explicit := delivery.Event{Name: "purchase", ClientID: "9.9", SessionID: "mine", UserID: "other"}
	require.NoError(t, c.Stamp(context.Background(), &explicit))
	assert.Equal(t, "9.9", explicit.ClientID)
	assert.Equal(t, "mine", explicit.SessionID)
	assert.Equal(t, "other", explicit.UserID)
}

func TestStampThroughQueue(t *testing.T) {
	var got delivery.Event
	sender := delivery.SenderFunc(func(_ context.Context, ev delivery.Event) error {
		got = ev
		return nil
	})
	c := NewCorrelator(NewMemoryStore())
	q, err := delivery.NewQueue(delivery.Params{Sender: sender, Stamper: c})
	require.NoError(t, err)

	_, err = q.Enqueue(context.Background(), delivery.Event{Name: "add_to_cart"})
	require.NoError(t, err)
	q.Tick(context.Background())

	id, err := c.Identity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, id.ClientID, got.ClientID)
	assert.Equal(t, id.SessionID, got.SessionID)
}

func TestFileStoreSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "session.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)

	_, ok, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	first, err := NewCorrelator(store).Identity(context.Background())
	require.NoError(t, err)

	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	second, err := NewCorrelator(reopened).Identity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, first.ClientID, second.ClientID)
}

type fakeKV struct {
	values map[string]string
	ttls   map[string]time.Duration
	getErr error
}

func (f *fakeKV) Get(_ context.Context, key string) (string, error) {
	if f.getErr != nil {
		return "", f.getErr
	}
	v, ok := f.values[key]
	if !ok {
		return "", redis.ErrNotFound
	}
	return v, nil
}

func (f *fakeKV) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	f.values[key] = value.(string)
	f.ttls[key] = ttl
	return nil
}

func (f *fakeKV) SessionKey(scope, name string) string {
	return "relay:session:" + scope + ":" + name
}

func TestRedisStoreRoundTrip(t *testing.T) {
	kv := &fakeKV{values: map[string]string{}, ttls: map[string]time.Duration{}}
	store, err := NewRedisStore(kv, "web", "install-1", 30*time.Minute)
	require.NoError(t, err)

	_, ok, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	id, err := NewCorrelator(store).Identity(context.Background())
	require.NoError(t, err)
	assert.Contains(t, kv.values, "relay:session:web:install-1")
	assert.Equal(t, 30*time.Minute, kv.ttls["relay:session:web:install-1"])

	loaded, ok, err := store.Load(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, id.SessionID, loaded.SessionID)
}

func TestRedisStoreErrorsPropagate(t *testing.T) {
	kv := &fakeKV{values: map[string]string{}, ttls: map[string]time.Duration{}, getErr: errors.New("down")}
	store, err := NewRedisStore(kv, "web", "install-1", 0)
	require.NoError(t, err)

	_, err = NewCorrelator(store).Identity(context.Background())
	require.Error(t, err)

	_, err = NewRedisStore(nil, "web", "x", 0)
	require.Error(t, err)
}
