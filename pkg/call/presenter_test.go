package call

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tripzi-app/calling/internal/models"
	"github.com/tripzi-app/calling/pkg/cache"
	"github.com/tripzi-app/calling/pkg/signaling"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	glog "gorm.io/gorm/logger"
)

func newPresenterFixture(t *testing.T) (*gorm.DB, *signaling.Channel) {
	t.Helper()

	silentLogger := glog.New(
		log.New(io.Discard, "", log.LstdFlags),
		glog.Config{LogLevel: glog.Silent, IgnoreRecordNotFoundError: true},
	)
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: silentLogger})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.CallRecord{}, &models.CallSignal{}, &models.User{}))

	return db, signaling.NewChannel(db)
}

type countingResolver struct {
	mu    sync.Mutex
	calls int
	inner ProfileResolver
}

func (r *countingResolver) Resolve(ctx context.Context, userID string) (*Profile, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	return r.inner.Resolve(ctx, userID)
}

func (r *countingResolver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func TestPresenterSurfacesRingingPrompt(t *testing.T) {
	db, ch := newPresenterFixture(t)
	ctx := context.Background()

	require.NoError(t, models.CreateUser(db, &models.User{
		UID:         "alice",
		DisplayName: "Alice",
		Avatar:      "https://cdn.example.com/alice.png",
	}))

	invites := make(chan Invite, 4)
	presenter, err := NewIncomingCallPresenter(PresenterConfig{
		UserID:     "bob",
		Channel:    ch,
		Resolver:   NewUserResolver(db),
		OnIncoming: func(inv Invite) { invites <- inv },
	})
	require.NoError(t, err)
	presenter.Start()
	defer presenter.Stop()

	record, err := ch.CreateCall(ctx, "alice", "bob", models.CallTypeVideo)
	require.NoError(t, err)

	select {
	case inv := <-invites:
		assert.Equal(t, record.CallID, inv.CallID)
		assert.Equal(t, models.CallTypeVideo, inv.CallType)
		assert.Equal(t, "Alice", inv.Caller.DisplayName)
		assert.Equal(t, "https://cdn.example.com/alice.png", inv.Caller.Avatar)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for invite")
	}
}

func TestPresenterFallsBackToCallerID(t *testing.T) {
	_, ch := newPresenterFixture(t)
	ctx := context.Background()

	invites := make(chan Invite, 4)
	presenter, err := NewIncomingCallPresenter(PresenterConfig{
		UserID:     "bob",
		Channel:    ch,
		OnIncoming: func(inv Invite) { invites <- inv },
	})
	require.NoError(t, err)
	presenter.Start()
	defer presenter.Stop()

	_, err = ch.CreateCall(ctx, "stranger", "bob", models.CallTypeAudio)
	require.NoError(t, err)

	select {
	case inv := <-invites:
		assert.Equal(t, "stranger", inv.Caller.DisplayName)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for invite")
	}
}

func TestPresenterDismissesResolvedPrompt(t *testing.T) {
	_, ch := newPresenterFixture(t)
	ctx := context.Background()

	invites := make(chan Invite, 4)
	dismissed := make(chan string, 4)
	presenter, err := NewIncomingCallPresenter(PresenterConfig{
		UserID:      "bob",
		Channel:     ch,
		OnIncoming:  func(inv Invite) { invites <- inv },
		OnDismissed: func(callID, reason string) { dismissed <- callID },
	})
	require.NoError(t, err)
	presenter.Start()
	defer presenter.Stop()

	record, err := ch.CreateCall(ctx, "alice", "bob", models.CallTypeAudio)
	require.NoError(t, err)

	select {
	case <-invites:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for invite")
	}

	// the caller hangs up before bob reacts
	ended := models.CallStatusEnded
	_, err = ch.UpdateCall(ctx, record.CallID, signaling.Patch{Status: &ended})
	require.NoError(t, err)

	select {
	case callID := <-dismissed:
		assert.Equal(t, record.CallID, callID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dismissal")
	}
}

func TestPresenterIgnoresAnsweredPrompt(t *testing.T) {
	_, ch := newPresenterFixture(t)
	ctx := context.Background()

	invites := make(chan Invite, 4)
	dismissed := make(chan string, 4)
	presenter, err := NewIncomingCallPresenter(PresenterConfig{
		UserID:      "bob",
		Channel:     ch,
		OnIncoming:  func(inv Invite) { invites <- inv },
		OnDismissed: func(callID, reason string) { dismissed <- callID },
	})
	require.NoError(t, err)
	presenter.Start()
	defer presenter.Stop()

	record, err := ch.CreateCall(ctx, "alice", "bob", models.CallTypeAudio)
	require.NoError(t, err)

	select {
	case <-invites:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for invite")
	}

	answered := models.CallStatusAnswered
	_, err = ch.UpdateCall(ctx, record.CallID, signaling.Patch{Status: &answered})
	require.NoError(t, err)

	// answering locally is not a dismissal
	select {
	case <-dismissed:
		t.Fatal("answered prompt must not be dismissed")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPresenterReorderedTerminalBeforeRinging(t *testing.T) {
	_, ch := newPresenterFixture(t)

	invites := make(chan Invite, 4)
	presenter, err := NewIncomingCallPresenter(PresenterConfig{
		UserID:     "bob",
		Channel:    ch,
		OnIncoming: func(inv Invite) { invites <- inv },
	})
	require.NoError(t, err)

	record := models.CallRecord{
		CallID:     "reordered-call",
		CallerID:   "alice",
		ReceiverID: "bob",
		CallType:   models.CallTypeAudio,
	}
	declined := record
	declined.Status = models.CallStatusDeclined
	ringing := record
	ringing.Status = models.CallStatusRinging

	// per-event goroutine fan-out may run the terminal snapshot first; the
	// late ringing snapshot must not surface a prompt nobody can dismiss
	presenter.handleEvent(signaling.Event{Type: signaling.EventCallUpdated, Record: declined})
	presenter.handleEvent(signaling.Event{Type: signaling.EventCallCreated, Record: ringing})

	select {
	case <-invites:
		t.Fatal("resolved call must not be surfaced")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPresenterStopDropsSubscription(t *testing.T) {
	_, ch := newPresenterFixture(t)
	ctx := context.Background()

	invites := make(chan Invite, 4)
	presenter, err := NewIncomingCallPresenter(PresenterConfig{
		UserID:     "bob",
		Channel:    ch,
		OnIncoming: func(inv Invite) { invites <- inv },
	})
	require.NoError(t, err)
	presenter.Start()
	presenter.Stop()
	presenter.Stop()

	_, err = ch.CreateCall(ctx, "alice", "bob", models.CallTypeAudio)
	require.NoError(t, err)

	select {
	case <-invites:
		t.Fatal("stopped presenter must not surface prompts")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPresenterInviteActionsDriveSession(t *testing.T) {
	_, ch := newPresenterFixture(t)
	ctx := context.Background()

	receiver := newTestParty(t, ch, "bob")
	invites := make(chan Invite, 4)
	presenter, err := NewIncomingCallPresenter(PresenterConfig{
		UserID:     "bob",
		Channel:    ch,
		Session:    receiver.session,
		OnIncoming: func(inv Invite) { invites <- inv },
	})
	require.NoError(t, err)
	presenter.Start()
	defer presenter.Stop()

	record, err := ch.CreateCall(ctx, "alice", "bob", models.CallTypeAudio)
	require.NoError(t, err)
	offer := testSDP
	_, err = ch.UpdateCall(ctx, record.CallID, signaling.Patch{OfferSDP: &offer})
	require.NoError(t, err)

	var inv Invite
	select {
	case inv = <-invites:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for invite")
	}
	require.NotNil(t, inv.Accept)
	require.NotNil(t, inv.Decline)

	require.NoError(t, inv.Accept(ctx))
	updated, err := ch.Get(ctx, record.CallID)
	require.NoError(t, err)
	assert.Equal(t, models.CallStatusAnswered, updated.Status)
}

func TestPresenterInviteDecline(t *testing.T) {
	_, ch := newPresenterFixture(t)
	ctx := context.Background()

	receiver := newTestParty(t, ch, "bob")
	invites := make(chan Invite, 4)
	presenter, err := NewIncomingCallPresenter(PresenterConfig{
		UserID:     "bob",
		Channel:    ch,
		Session:    receiver.session,
		OnIncoming: func(inv Invite) { invites <- inv },
	})
	require.NoError(t, err)
	presenter.Start()
	defer presenter.Stop()

	record, err := ch.CreateCall(ctx, "alice", "bob", models.CallTypeAudio)
	require.NoError(t, err)

	var inv Invite
	select {
	case inv = <-invites:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for invite")
	}

	require.NoError(t, inv.Decline(ctx))
	updated, err := ch.Get(ctx, record.CallID)
	require.NoError(t, err)
	assert.Equal(t, models.CallStatusDeclined, updated.Status)
}

func TestCachedResolver(t *testing.T) {
	db, _ := newPresenterFixture(t)

	require.NoError(t, models.CreateUser(db, &models.User{
		UID:         "alice",
		DisplayName: "Alice",
	}))

	counting := &countingResolver{inner: NewUserResolver(db)}
	store := cache.NewLocalCache(cache.Config{})
	resolver := NewCachedResolver(counting, store, time.Minute)

	ctx := context.Background()
	first, err := resolver.Resolve(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", first.DisplayName)

	second, err := resolver.Resolve(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", second.DisplayName)

	assert.Equal(t, 1, counting.count())
}

// marshalingCache mimics the redis backend, where stored values only
// survive as their JSON encoding
type marshalingCache struct {
	inner cache.Cache
}

func (c *marshalingCache) Get(ctx context.Context, key string) (interface{}, bool) {
	v, ok := c.inner.Get(ctx, key)
	if !ok {
		return nil, false
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false
	}
	return out, true
}

func (c *marshalingCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.inner.Set(ctx, key, value, ttl)
}

func (c *marshalingCache) Delete(ctx context.Context, key string) error {
	return c.inner.Delete(ctx, key)
}

func (c *marshalingCache) Close() error { return c.inner.Close() }

func TestCachedResolverSurvivesMarshalingBackend(t *testing.T) {
	db, _ := newPresenterFixture(t)

	require.NoError(t, models.CreateUser(db, &models.User{
		UID:         "alice",
		DisplayName: "Alice",
		Avatar:      "https://cdn.example.com/alice.png",
	}))

	counting := &countingResolver{inner: NewUserResolver(db)}
	store := &marshalingCache{inner: cache.NewLocalCache(cache.Config{})}
	resolver := NewCachedResolver(counting, store, time.Minute)

	ctx := context.Background()
	_, err := resolver.Resolve(ctx, "alice")
	require.NoError(t, err)

	second, err := resolver.Resolve(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", second.DisplayName)
	assert.Equal(t, "https://cdn.example.com/alice.png", second.Avatar)

	assert.Equal(t, 1, counting.count())
}
