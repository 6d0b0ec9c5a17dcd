package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Leochrono/dinero-tikee-sub001/internal/domain/eventbus"
	"github.com/Leochrono/dinero-tikee-sub001/internal/domain/session/model"
	"github.com/Leochrono/dinero-tikee-sub001/internal/platform/clientstore"
	platformerrors "github.com/Leochrono/dinero-tikee-sub001/internal/platform/errors"
	"github.com/Leochrono/dinero-tikee-sub001/internal/platform/httpapi"
)

// Credentials carry a login attempt. Secret is a password or a one-time
// recovery code; the remote service distinguishes.
type Credentials struct {
	Email  string
	Secret string
}

// LoginOutcome distinguishes a full login from the recovery-code shape.
type LoginOutcome string

const (
	OutcomeAuthenticated LoginOutcome = "authenticated"
	OutcomeRecoveryCode  LoginOutcome = "recovery_code"
)

// AuthAPI is the remote authentication contract consumed by the controller.
type AuthAPI interface {
	VerifySession(ctx context.Context, accessToken string) (httpapi.UserSummary, error)
	Login(ctx context.Context, email, secret string) (httpapi.LoginResult, error)
	Logout(ctx context.Context, accessToken string) error
	ChangePassword(ctx context.Context, accessToken, current, next string) error
}

// transitionTable is the exhaustive session state machine. Any transition
// not listed here is rejected. Checking is mandatory between Uninitialized
// and Authenticated so no privileged view renders before the remote check
// resolves.
var transitionTable = map[model.Status]map[model.Status]bool{
	model.StatusUninitialized: {
		model.StatusChecking:        true,
		model.StatusUnauthenticated: true,
	},
	model.StatusChecking: {
		model.StatusAuthenticated:   true,
		model.StatusUnauthenticated: true,
	},
	model.StatusAuthenticated: {
		model.StatusUnauthenticated: true,
	},
	model.StatusUnauthenticated: {
		model.StatusAuthenticated: true,
	},
}

// Options encapsulates the dependencies required to construct a Controller.
type Options struct {
	Store            clientstore.Store
	API              AuthAPI
	Logger           model.Logger
	Bus              eventbus.Bus
	ReverifyInterval time.Duration
}

// Controller owns the authentication state machine: initial verification,
// login, logout, periodic reverification and activity stamping. All state
// is mutated under one mutex; remote calls happen outside it and their
// results are re-validated against the epoch counter before being applied,
// so a late-arriving verification cannot resurrect a logged-out session.
type Controller struct {
	store  clientstore.Store
	api    AuthAPI
	logger model.Logger
	bus    eventbus.Bus

	mu              sync.Mutex
	status          model.Status
	tokens          *model.TokenBundle
	lastActivityAt  time.Time
	lastVerifiedAt  time.Time
	recoveryPending bool
	recoveryToken   string
	initialized     bool
	epoch           uint64

	initGroup singleflight.Group

	reverifyInterval time.Duration
	reverifyStop     chan struct{}
	reverifyOnce     sync.Once
	reverifyStarted  bool
}

// NewController wires a Controller using the supplied options.
func NewController(opts Options) (*Controller, error) {
	if opts.Store == nil {
		return nil, errors.New("session controller requires a store")
	}
	if opts.API == nil {
		return nil, errors.New("session controller requires an auth API")
	}
	if opts.Logger == nil {
		return nil, errors.New("session controller requires a logger")
	}
	bus := opts.Bus
	if bus == nil {
		bus = eventbus.Get()
	}
	interval := opts.ReverifyInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Controller{
		store:            opts.Store,
		api:              opts.API,
		logger:           opts.Logger,
		bus:              bus,
		status:           model.StatusUninitialized,
		reverifyInterval: interval,
		reverifyStop:     make(chan struct{}),
	}, nil
}

// Bus exposes the bus carrying session events for subscribers.
func (c *Controller) Bus() eventbus.Bus {
	return c.bus
}

// Subscribe registers a handler for a session topic.
func (c *Controller) Subscribe(topic string, fn interface{}) error {
	return c.bus.Subscribe(topic, fn)
}

// AccessToken hands the live token to collaborators making remote calls on
// behalf of the session. Returns false while unauthenticated.
func (c *Controller) AccessToken() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != model.StatusAuthenticated || c.tokens == nil {
		return "", false
	}
	return c.tokens.AccessToken, true
}

// Snapshot returns an immutable view of the current session state.
func (c *Controller) Snapshot() model.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() model.Snapshot {
	snap := model.Snapshot{
		Status:          c.status,
		RecoveryPending: c.recoveryPending,
		LastActivityAt:  c.lastActivityAt,
		LastVerifiedAt:  c.lastVerifiedAt,
	}
	if c.tokens != nil {
		user := c.tokens.User
		snap.User = &user
	}
	return snap
}

// transitionLocked applies a state change, enforcing the transition table
// and the bundle invariant. Returns the topic to publish once the lock is
// released.
func (c *Controller) transitionLocked(to model.Status, bundle *model.TokenBundle) (string, error) {
	if c.status == to {
		// Re-login over a live session swaps the bundle without an event.
		if to == model.StatusAuthenticated && bundle != nil {
			c.tokens = bundle
		}
		return "", nil
	}
	if !transitionTable[c.status][to] {
		return "", platformerrors.New(
			platformerrors.KindConflict,
			"session.transition",
			string(c.status)+" -> "+string(to)+" is not a legal session transition",
		)
	}
	if to == model.StatusAuthenticated && bundle == nil {
		return "", platformerrors.New(
			platformerrors.KindConflict,
			"session.transition",
			"authenticated state requires a token bundle",
		)
	}

	c.status = to
	if to == model.StatusAuthenticated {
		c.tokens = bundle
	} else {
		c.tokens = nil
	}

	switch to {
	case model.StatusChecking:
		return eventbus.EventSessionChecking, nil
	case model.StatusAuthenticated:
		return eventbus.EventSessionAuthenticated, nil
	default:
		return eventbus.EventSessionUnauthenticated, nil
	}
}

func (c *Controller) publish(topic string, reason string) {
	if topic == "" {
		return
	}
	data := eventbus.SessionEventData{Status: topicStatus(topic), Reason: reason}
	c.mu.Lock()
	if c.tokens != nil {
		data.UserID = c.tokens.User.ID
	}
	c.mu.Unlock()
	c.bus.Publish(topic, data)
}

func topicStatus(topic string) string {
	switch topic {
	case eventbus.EventSessionChecking:
		return string(model.StatusChecking)
	case eventbus.EventSessionAuthenticated:
		return string(model.StatusAuthenticated)
	default:
		return string(model.StatusUnauthenticated)
	}
}

// Initialize performs the one-time startup verification. Concurrent callers
// share the same in-flight run; later callers get the settled snapshot.
func (c *Controller) Initialize(ctx context.Context) (model.Snapshot, error) {
	c.mu.Lock()
	if c.initialized {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, nil
	}
	c.mu.Unlock()

	v, err, _ := c.initGroup.Do("initialize", func() (interface{}, error) {
		return c.runInitialize(ctx)
	})
	if err != nil {
		return model.Snapshot{}, err
	}
	return v.(model.Snapshot), nil
}

func (c *Controller) runInitialize(ctx context.Context) (model.Snapshot, error) {
	activity := c.loadActivityRecord(ctx)

	record, ok := c.loadTokenRecord(ctx)
	if ok {
		if err := inspectToken(record.AccessToken); err != nil {
			c.logger.Info("session: stored token unusable, discarding: %v", err)
			_ = c.store.Delete(ctx, clientstore.RecordTokens)
			ok = false
		}
	}

	if !ok {
		c.mu.Lock()
		c.lastActivityAt = activity
		topic, terr := c.transitionLocked(model.StatusUnauthenticated, nil)
		c.initialized = true
		snap := c.snapshotLocked()
		c.mu.Unlock()
		if terr != nil {
			return snap, terr
		}
		c.publish(topic, "no stored session")
		return snap, nil
	}

	c.mu.Lock()
	c.lastActivityAt = activity
	topic, terr := c.transitionLocked(model.StatusChecking, nil)
	epoch := c.epoch
	c.mu.Unlock()
	if terr != nil {
		return model.Snapshot{}, terr
	}
	c.publish(topic, "verifying stored session")

	user, err := c.api.VerifySession(ctx, record.AccessToken)

	c.mu.Lock()
	if c.epoch != epoch {
		// Logout raced the verification; the late result is discarded.
		c.initialized = true
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, nil
	}

	var reason string
	if err != nil {
		// Any failure, transient included, collapses to Unauthenticated.
		_ = c.store.Delete(ctx, clientstore.RecordTokens)
		topic, terr = c.transitionLocked(model.StatusUnauthenticated, nil)
		reason = "stored session rejected"
		c.logger.Info("session: stored session rejected: %v", err)
	} else {
		bundle := &model.TokenBundle{
			AccessToken: record.AccessToken,
			User:        mapUser(user),
			SavedAt:     record.SavedAt,
		}
		topic, terr = c.transitionLocked(model.StatusAuthenticated, bundle)
		c.lastVerifiedAt = time.Now()
		reason = "stored session verified"
	}
	c.initialized = true
	snap := c.snapshotLocked()
	c.mu.Unlock()
	if terr != nil {
		return snap, terr
	}
	c.publish(topic, reason)
	return snap, nil
}

// Login exchanges credentials for a session. The recovery-code response
// shape is surfaced as OutcomeRecoveryCode and leaves status untouched; the
// caller routes to the password-reset flow.
func (c *Controller) Login(ctx context.Context, creds Credentials) (LoginOutcome, error) {
	result, err := c.api.Login(ctx, creds.Email, creds.Secret)
	if err != nil {
		return "", err
	}

	if result.IsRecoveryCode {
		c.mu.Lock()
		c.recoveryPending = true
		c.recoveryToken = result.AccessToken
		c.mu.Unlock()
		c.bus.Publish(eventbus.EventSessionRecovery, eventbus.SessionEventData{
			Status: string(c.Snapshot().Status),
			UserID: result.User.ID,
			Reason: "recovery code accepted",
		})
		return OutcomeRecoveryCode, nil
	}

	now := time.Now()
	record := tokenRecord{
		AccessToken: result.AccessToken,
		User:        mapUser(result.User),
		SavedAt:     now,
	}

	// Persist and transition under one lock so the stored bundle and the
	// authenticated status never disagree.
	c.mu.Lock()
	if err := c.saveTokenRecord(ctx, record); err != nil {
		c.mu.Unlock()
		return "", platformerrors.Wrap(
			platformerrors.KindStorage, "session.login", "persisting token bundle", err)
	}
	c.saveActivityRecord(ctx, now)
	if c.status == model.StatusUninitialized {
		// Login without a prior Initialize still goes through Checking.
		if _, err := c.transitionLocked(model.StatusChecking, nil); err != nil {
			c.mu.Unlock()
			return "", err
		}
	}
	bundle := &model.TokenBundle{
		AccessToken: record.AccessToken,
		User:        record.User,
		SavedAt:     now,
	}
	topic, terr := c.transitionLocked(model.StatusAuthenticated, bundle)
	c.lastActivityAt = now
	c.lastVerifiedAt = now
	c.recoveryPending = false
	c.recoveryToken = ""
	c.initialized = true
	c.mu.Unlock()
	if terr != nil {
		return "", terr
	}
	c.publish(topic, "login")
	return OutcomeAuthenticated, nil
}

// Logout clears the session locally and notifies the remote service on a
// best-effort basis. It never blocks on the network.
func (c *Controller) Logout(ctx context.Context) error {
	c.mu.Lock()
	_ = c.store.Delete(ctx, clientstore.RecordTokens)
	_ = c.store.Delete(ctx, clientstore.RecordActivity)
	token := ""
	if c.tokens != nil {
		token = c.tokens.AccessToken
	}
	c.epoch++
	var topic string
	var terr error
	if c.status == model.StatusAuthenticated || c.status == model.StatusChecking {
		topic, terr = c.transitionLocked(model.StatusUnauthenticated, nil)
	}
	c.lastActivityAt = time.Time{}
	c.lastVerifiedAt = time.Time{}
	c.mu.Unlock()
	if terr != nil {
		return terr
	}
	c.publish(topic, "logout")

	if token != "" {
		go func() {
			notifyCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := c.api.Logout(notifyCtx, token); err != nil {
				c.logger.Debug("session: best-effort remote logout failed: %v", err)
			}
		}()
	}
	return nil
}

// Reverify repeats the verification call. Any failure forces the same
// discard path as initialization, regardless of the reverify schedule.
func (c *Controller) Reverify(ctx context.Context) error {
	c.mu.Lock()
	if c.status != model.StatusAuthenticated || c.tokens == nil {
		c.mu.Unlock()
		return nil
	}
	token := c.tokens.AccessToken
	epoch := c.epoch
	c.mu.Unlock()

	user, err := c.api.VerifySession(ctx, token)

	c.mu.Lock()
	if c.epoch != epoch || c.status != model.StatusAuthenticated {
		// Logout won the race; this result no longer matters.
		c.mu.Unlock()
		return nil
	}
	if err == nil {
		c.tokens.User = mapUser(user)
		c.lastVerifiedAt = time.Now()
		c.mu.Unlock()
		return nil
	}

	_ = c.store.Delete(ctx, clientstore.RecordTokens)
	_ = c.store.Delete(ctx, clientstore.RecordActivity)
	topic, terr := c.transitionLocked(model.StatusUnauthenticated, nil)
	c.mu.Unlock()
	if terr != nil {
		return terr
	}
	c.logger.Info("session: reverification failed, session closed: %v", err)
	c.publish(topic, "reverification failed")
	c.bus.Publish(eventbus.EventNotification, eventbus.NotificationData{
		Level:   "warn",
		Message: "Your session is no longer valid. Please sign in again.",
	})
	return nil
}

// MarkActivity updates the last-activity stamp. It never changes status.
func (c *Controller) MarkActivity(ctx context.Context) {
	now := time.Now()
	c.mu.Lock()
	c.lastActivityAt = now
	c.mu.Unlock()
	c.saveActivityRecord(ctx, now)
}

// ChangePassword completes either the normal password change or the
// recovery-code flow. In the recovery flow no session exists yet; the
// one-time token from the login response authorizes the call.
func (c *Controller) ChangePassword(ctx context.Context, current, next string) error {
	c.mu.Lock()
	token := ""
	viaRecovery := false
	if c.status == model.StatusAuthenticated && c.tokens != nil {
		token = c.tokens.AccessToken
	} else if c.recoveryToken != "" {
		token = c.recoveryToken
		viaRecovery = true
	}
	c.mu.Unlock()

	if token == "" {
		return platformerrors.New(
			platformerrors.KindConflict,
			"session.change-password",
			"no credential available for password change",
		)
	}
	if err := c.api.ChangePassword(ctx, token, current, next); err != nil {
		return err
	}

	c.mu.Lock()
	if viaRecovery {
		c.recoveryPending = false
		c.recoveryToken = ""
	} else if c.tokens != nil {
		c.tokens.User.RequiresPasswordChange = false
	}
	c.mu.Unlock()
	return nil
}

// StartReverify launches the periodic reverification timer. Stopped by Close.
func (c *Controller) StartReverify() {
	c.mu.Lock()
	if c.reverifyStarted {
		c.mu.Unlock()
		return
	}
	c.reverifyStarted = true
	c.mu.Unlock()
	go c.runReverify()
}

func (c *Controller) runReverify() {
	ticker := time.NewTicker(c.reverifyInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := c.Reverify(ctx); err != nil {
				c.logger.Warn("session: periodic reverification error: %v", err)
			}
			cancel()
		case <-c.reverifyStop:
			return
		}
	}
}

// Close cancels the reverification timer. Safe to call more than once.
func (c *Controller) Close() error {
	c.reverifyOnce.Do(func() {
		close(c.reverifyStop)
	})
	return nil
}

func mapUser(user httpapi.UserSummary) model.UserSummary {
	return model.UserSummary{
		ID:                     user.ID,
		Email:                  user.Email,
		FullName:               user.FullName,
		RequiresPasswordChange: user.RequiresPasswordChange,
	}
}
