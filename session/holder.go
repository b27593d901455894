package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/adda/auth"
	"github.com/tcriess/adda/filter"
	"github.com/tcriess/adda/globals"
	"github.com/tcriess/adda/realtime"
	"github.com/tcriess/adda/types"
)

const (
	defaultRetries = 3
	defaultBackoff = 500 * time.Millisecond
)

var ErrClosed = errors.New("session holder is closed")

// AuthSource is the part of the authenticator the holder follows.
type AuthSource interface {
	CurrentSession() *auth.Session
	OnAuthStateChange(fn auth.StateListener) func()
}

// ProfileSource loads profiles.
type ProfileSource interface {
	GetProfile(ctx context.Context, id string) (*types.Profile, error)
}

// State is a snapshot of the holder. Err is set when the profile could not be loaded after all retries.
type State struct {
	Session *auth.Session
	Profile *types.Profile
	Loading bool
	Err     error
}

// Holder keeps the signed-in identity of the process together with its profile. It follows sign-in and sign-out
// and keeps the profile current from the profile change events of the hub.
type Holder struct {
	auth    AuthSource
	store   ProfileSource
	hub     *realtime.Hub
	retries int
	backoff time.Duration
	sleep   func(ctx context.Context, d time.Duration) error
	logger  hclog.Logger

	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	state       State
	gen         int
	loaded      chan struct{}
	sub         *realtime.Subscription
	unsubscribe func()
	listeners   map[int]func(State)
	nextId      int
	closed      bool
}

type Option func(*Holder)

// WithRetries sets how often a failed profile fetch is retried and the initial delay, which doubles on each attempt.
func WithRetries(retries int, backoff time.Duration) Option {
	return func(h *Holder) {
		h.retries = retries
		h.backoff = backoff
	}
}

// NewHolder creates a holder. hub may be nil, the profile is then only loaded on sign-in.
func NewHolder(authSource AuthSource, store ProfileSource, hub *realtime.Hub, opts ...Option) *Holder {
	h := &Holder{
		auth:      authSource,
		store:     store,
		hub:       hub,
		retries:   defaultRetries,
		backoff:   defaultBackoff,
		sleep:     sleepContext,
		logger:    globals.AppLogger.Named("session"),
		loaded:    make(chan struct{}),
		listeners: make(map[int]func(State)),
	}
	close(h.loaded)
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Start begins following the authenticator. A session that already exists is picked up immediately.
func (h *Holder) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	if h.cancel != nil {
		h.mu.Unlock()
		return nil
	}
	h.ctx, h.cancel = context.WithCancel(ctx)
	h.mu.Unlock()

	unsubscribe := h.auth.OnAuthStateChange(h.authChanged)
	h.mu.Lock()
	h.unsubscribe = unsubscribe
	h.mu.Unlock()
	if session := h.auth.CurrentSession(); session != nil {
		h.authChanged(auth.EventSignedIn, session)
	}
	return nil
}

// Close stops following the authenticator and releases the profile subscription. Loads still in flight are
// discarded.
func (h *Holder) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.gen++
	if h.cancel != nil {
		h.cancel()
	}
	unsubscribe := h.unsubscribe
	h.closeSubLocked()
	h.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// State returns the current snapshot.
func (h *Holder) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Profile returns the profile of the signed-in user, or nil.
func (h *Holder) Profile() *types.Profile {
	return h.State().Profile
}

// OnChange registers a listener for state changes. The returned function removes it.
func (h *Holder) OnChange(fn func(State)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextId
	h.nextId++
	h.listeners[id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.listeners, id)
	}
}

// Await blocks until the current profile load has finished and returns the result.
func (h *Holder) Await(ctx context.Context) (State, error) {
	h.mu.Lock()
	loaded := h.loaded
	h.mu.Unlock()
	select {
	case <-ctx.Done():
		return State{}, ctx.Err()
	case <-loaded:
	}
	state := h.State()
	return state, state.Err
}

func (h *Holder) authChanged(event auth.Event, session *auth.Session) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.gen++
	gen := h.gen
	h.closeSubLocked()
	if session == nil {
		h.state = State{}
		h.mu.Unlock()
		h.logger.Debug("signed out")
		h.emit()
		return
	}
	h.state = State{Session: session, Loading: true}
	loaded := make(chan struct{})
	h.loaded = loaded
	ctx := h.ctx
	h.mu.Unlock()
	h.emit()
	go h.load(ctx, gen, loaded, session.Identity.UserId)
}

// load subscribes to the user's profile row and then fetches it. Events arriving during the fetch wait in the
// subscription and are applied afterwards.
func (h *Holder) load(ctx context.Context, gen int, loaded chan struct{}, userId string) {
	defer close(loaded)
	var sub *realtime.Subscription
	if h.hub != nil {
		var err error
		sub, err = h.hub.Subscribe(types.TableProfiles, filter.FieldEquals("id", userId))
		if err != nil {
			h.logger.Warn("could not subscribe to profile changes", "user", userId, "error", err)
		}
	}
	profile, err := h.fetchProfile(ctx, userId)

	h.mu.Lock()
	if gen != h.gen {
		h.mu.Unlock()
		if sub != nil {
			sub.Close()
		}
		return
	}
	h.sub = sub
	h.state.Loading = false
	h.state.Profile = profile
	h.state.Err = err
	h.mu.Unlock()
	if err != nil {
		h.logger.Error("could not load profile", "user", userId, "error", err)
	}
	if sub != nil {
		go h.watch(gen, sub)
	}
	h.emit()
}

func (h *Holder) fetchProfile(ctx context.Context, userId string) (*types.Profile, error) {
	delay := h.backoff
	for attempt := 0; ; attempt++ {
		profile, err := h.store.GetProfile(ctx, userId)
		if err == nil {
			return profile, nil
		}
		if attempt >= h.retries || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		h.logger.Debug("profile fetch failed, retrying", "user", userId, "attempt", attempt+1, "delay", delay, "error", err)
		err = h.sleep(ctx, delay)
		if err != nil {
			return nil, err
		}
		delay *= 2
	}
}

func (h *Holder) watch(gen int, sub *realtime.Subscription) {
	for event := range sub.Events() {
		var profile *types.Profile
		if event.Kind != types.ChangeDelete {
			profile = &types.Profile{}
			err := realtime.Decode(event, profile)
			if err != nil {
				h.logger.Warn("could not decode profile event", "id", event.RecordId, "error", err)
				continue
			}
		}
		h.mu.Lock()
		if gen != h.gen {
			h.mu.Unlock()
			return
		}
		current := h.state.Profile
		if profile != nil && current != nil && profile.UpdatedAt.Before(current.UpdatedAt) {
			h.mu.Unlock()
			continue
		}
		h.state.Profile = profile
		h.state.Err = nil
		h.mu.Unlock()
		h.emit()
	}
}

func (h *Holder) closeSubLocked() {
	if h.sub != nil {
		h.sub.Close()
		h.sub = nil
	}
}

func (h *Holder) emit() {
	h.mu.Lock()
	state := h.state
	listeners := make([]func(State), 0, len(h.listeners))
	for _, l := range h.listeners {
		listeners = append(listeners, l)
	}
	h.mu.Unlock()
	for _, l := range listeners {
		l(state)
	}
}
