package activity

import (
	"context"
	"sync"
	"time"

	"github.com/Leochrono/dinero-tikee-sub001/internal/domain/eventbus"
	"github.com/Leochrono/dinero-tikee-sub001/internal/domain/session/model"
)

// Session is the slice of the session controller the monitor drives.
type Session interface {
	Snapshot() model.Snapshot
	MarkActivity(ctx context.Context)
	Logout(ctx context.Context) error
}

// Options configure a Monitor.
type Options struct {
	Session   Session
	Logger    model.Logger
	Bus       eventbus.Bus
	Threshold time.Duration // inactivity budget before forced logout
	Throttle  time.Duration // minimum spacing between persisted stamps
	Poll      time.Duration // expiry check cadence
}

// Monitor tracks user activity and forces a logout once the inactivity
// budget is spent. Touch is cheap and safe to call from every interaction
// handler: stamps are throttled so bursts do not hammer the store. The
// monitor is inert while the session is not authenticated.
type Monitor struct {
	session   Session
	logger    model.Logger
	bus       eventbus.Bus
	threshold time.Duration
	throttle  time.Duration
	poll      time.Duration

	mu          sync.Mutex
	lastStamped time.Time
	started     bool

	stop     chan struct{}
	stopOnce sync.Once
}

// NewMonitor builds a Monitor with defaults filled in for zero options.
func NewMonitor(opts Options) *Monitor {
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = 15 * time.Minute
	}
	throttle := opts.Throttle
	if throttle <= 0 {
		throttle = 5 * time.Second
	}
	poll := opts.Poll
	if poll <= 0 {
		poll = 30 * time.Second
	}
	bus := opts.Bus
	if bus == nil {
		bus = eventbus.Get()
	}
	return &Monitor{
		session:   opts.Session,
		logger:    opts.Logger,
		bus:       bus,
		threshold: threshold,
		throttle:  throttle,
		poll:      poll,
		stop:      make(chan struct{}),
	}
}

// Touch records user activity. Calls inside the throttle window are
// dropped; calls while unauthenticated are dropped.
func (m *Monitor) Touch(ctx context.Context) {
	if !m.session.Snapshot().Authenticated() {
		return
	}

	now := time.Now()
	m.mu.Lock()
	if now.Sub(m.lastStamped) < m.throttle {
		m.mu.Unlock()
		return
	}
	m.lastStamped = now
	m.mu.Unlock()

	m.session.MarkActivity(ctx)
}

// Start launches the periodic expiry check. Stopped by Close.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()
	go m.run()
}

func (m *Monitor) run() {
	ticker := time.NewTicker(m.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Check(context.Background())
		case <-m.stop:
			return
		}
	}
}

// Check evaluates the inactivity budget once. Exposed so resume-from-sleep
// hooks and tests can force an immediate evaluation between poll ticks.
func (m *Monitor) Check(ctx context.Context) {
	snap := m.session.Snapshot()
	if !snap.Authenticated() {
		return
	}
	last := snap.LastActivityAt
	if last.IsZero() {
		// An authenticated session with no stamp yet starts its budget now.
		m.session.MarkActivity(ctx)
		return
	}
	if time.Since(last) < m.threshold {
		return
	}

	m.logger.Info("activity: inactivity budget spent, closing session")
	if err := m.session.Logout(ctx); err != nil {
		m.logger.Warn("activity: forced logout failed: %v", err)
		return
	}
	userID := ""
	if snap.User != nil {
		userID = snap.User.ID
	}
	m.bus.Publish(eventbus.EventSessionExpired, eventbus.SessionEventData{
		Status: string(model.StatusUnauthenticated),
		UserID: userID,
		Reason: "inactivity",
	})
	m.bus.Publish(eventbus.EventNotification, eventbus.NotificationData{
		Level:   "info",
		Message: "You were signed out after a period of inactivity.",
	})
}

// Close stops the expiry ticker. Safe to call more than once.
func (m *Monitor) Close() error {
	m.stopOnce.Do(func() {
		close(m.stop)
	})
	return nil
}
