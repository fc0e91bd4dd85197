package call

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tripzi-app/calling/internal/models"
	"github.com/tripzi-app/calling/pkg/cache"
	"github.com/tripzi-app/calling/pkg/constants"
	"github.com/tripzi-app/calling/pkg/signaling"
	"gorm.io/gorm"
)

// Profile is the display metadata shown on an incoming-call prompt
type Profile struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar"`
}

// ProfileResolver looks up display metadata for a user id
type ProfileResolver interface {
	Resolve(ctx context.Context, userID string) (*Profile, error)
}

// UserResolver resolves profiles from the users table
type UserResolver struct {
	db *gorm.DB
}

func NewUserResolver(db *gorm.DB) *UserResolver {
	return &UserResolver{db: db}
}

func (r *UserResolver) Resolve(ctx context.Context, userID string) (*Profile, error) {
	user, err := models.GetUserByUID(r.db.WithContext(ctx), userID)
	if err != nil {
		return nil, err
	}
	return &Profile{
		UserID:      user.UID,
		DisplayName: user.DisplayName,
		Avatar:      user.Avatar,
	}, nil
}

// CachedResolver fronts another resolver with the shared cache so a burst
// of calls from the same user costs one lookup.
type CachedResolver struct {
	inner ProfileResolver
	store cache.Cache
	ttl   time.Duration
}

func NewCachedResolver(inner ProfileResolver, store cache.Cache, ttl time.Duration) *CachedResolver {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedResolver{inner: inner, store: store, ttl: ttl}
}

// Resolve caches profiles as JSON strings so the entry survives both the
// local backend and the redis backend's marshal round trip.
func (r *CachedResolver) Resolve(ctx context.Context, userID string) (*Profile, error) {
	key := constants.CacheKeyProfileByUID + userID
	if v, ok := r.store.Get(ctx, key); ok {
		if raw, ok := v.(string); ok {
			var profile Profile
			if err := json.Unmarshal([]byte(raw), &profile); err == nil {
				return &profile, nil
			}
		}
	}

	profile, err := r.inner.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(profile)
	if err != nil {
		return profile, nil
	}
	if err := r.store.Set(ctx, key, string(raw), r.ttl); err != nil {
		logrus.WithError(err).WithField("userId", userID).Warn("Failed to cache profile")
	}
	return profile, nil
}

// Invite is one surfaced ringing prompt. Accept and Decline delegate to
// the presenter's session; both are nil when no session was configured.
type Invite struct {
	CallID   string          `json:"callId"`
	CallType models.CallType `json:"callType"`
	Caller   Profile         `json:"caller"`

	Accept  func(ctx context.Context) error `json:"-"`
	Decline func(ctx context.Context) error `json:"-"`
}

// PresenterConfig wires the presenter to the authenticated user's session
type PresenterConfig struct {
	UserID   string
	Channel  *signaling.Channel
	Resolver ProfileResolver

	// Session answers or declines surfaced prompts. Optional; without it
	// prompts carry no actions and the owner routes them itself.
	Session *Session

	// OnIncoming surfaces a new ringing prompt.
	OnIncoming func(Invite)

	// OnDismissed withdraws a prompt that was resolved elsewhere, for
	// example the caller hung up before the local user reacted.
	OnDismissed func(callID string, reason string)
}

// IncomingCallPresenter is a passive subscriber that turns ringing records
// addressed to the local user into prompts, and withdraws them when the
// record resolves without local involvement. It never drives the call
// lifecycle itself.
type IncomingCallPresenter struct {
	cfg PresenterConfig

	mu          sync.Mutex
	unsubscribe func()
	prompts     map[string]struct{}

	// resolved remembers calls already seen in a terminal state, kept for
	// the presenter's lifetime. Delivery may reorder snapshots, so a
	// ringing event can arrive after the decline or hangup that resolved
	// the same call; surfacing it then would leave an undismissable prompt.
	resolved map[string]struct{}
}

func NewIncomingCallPresenter(cfg PresenterConfig) (*IncomingCallPresenter, error) {
	if cfg.UserID == "" {
		return nil, errors.New("call: presenter user id is required")
	}
	if cfg.Channel == nil {
		return nil, errors.New("call: presenter needs a signaling channel")
	}
	return &IncomingCallPresenter{
		cfg:      cfg,
		prompts:  make(map[string]struct{}),
		resolved: make(map[string]struct{}),
	}, nil
}

// Start subscribes for records addressed to the local user. Calling Start
// on a running presenter is a no-op.
func (p *IncomingCallPresenter) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.unsubscribe != nil {
		return
	}
	p.unsubscribe = p.cfg.Channel.Subscribe(signaling.ForReceiver(p.cfg.UserID), p.handleEvent)
}

// Stop removes the subscription and drops all tracked prompts. Safe to
// call more than once.
func (p *IncomingCallPresenter) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.unsubscribe != nil {
		p.unsubscribe()
		p.unsubscribe = nil
	}
	p.prompts = make(map[string]struct{})
	p.resolved = make(map[string]struct{})
}

func (p *IncomingCallPresenter) handleEvent(ev signaling.Event) {
	record := ev.Record

	p.mu.Lock()
	_, tracked := p.prompts[record.CallID]

	switch {
	case record.Status == models.CallStatusRinging && !tracked:
		if _, done := p.resolved[record.CallID]; done {
			// a late ringing snapshot for a call that already resolved
			p.mu.Unlock()
			return
		}
		p.prompts[record.CallID] = struct{}{}
		p.mu.Unlock()
		p.surface(record)
	case record.Status.Terminal():
		p.resolved[record.CallID] = struct{}{}
		if !tracked {
			p.mu.Unlock()
			return
		}
		delete(p.prompts, record.CallID)
		p.mu.Unlock()
		if p.cfg.OnDismissed != nil {
			p.cfg.OnDismissed(record.CallID, string(record.Status))
		}
	case record.Status == models.CallStatusAnswered && tracked:
		// answered locally through a session; the prompt owner resolves it
		delete(p.prompts, record.CallID)
		p.mu.Unlock()
	default:
		p.mu.Unlock()
	}
}

func (p *IncomingCallPresenter) surface(record models.CallRecord) {
	caller := Profile{UserID: record.CallerID, DisplayName: record.CallerID}
	if p.cfg.Resolver != nil {
		if profile, err := p.cfg.Resolver.Resolve(context.Background(), record.CallerID); err != nil {
			logrus.WithError(err).WithField("callerId", record.CallerID).Warn("Failed to resolve caller profile")
		} else {
			caller = *profile
		}
	}

	if p.cfg.OnIncoming != nil {
		invite := Invite{
			CallID:   record.CallID,
			CallType: record.CallType,
			Caller:   caller,
		}
		if p.cfg.Session != nil {
			callID := record.CallID
			invite.Accept = func(ctx context.Context) error {
				return p.cfg.Session.Answer(ctx, callID)
			}
			invite.Decline = func(ctx context.Context) error {
				p.dismiss(callID)
				return p.cfg.Session.Decline(ctx, callID)
			}
		}
		p.cfg.OnIncoming(invite)
	}
}

func (p *IncomingCallPresenter) dismiss(callID string) {
	p.mu.Lock()
	delete(p.prompts, callID)
	p.mu.Unlock()
}
