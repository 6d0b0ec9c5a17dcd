package activity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Leochrono/dinero-tikee-sub001/internal/domain/eventbus"
	"github.com/Leochrono/dinero-tikee-sub001/internal/domain/session/model"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

type fakeSession struct {
	mu          sync.Mutex
	snap        model.Snapshot
	markCalls   int
	logoutCalls int
}

func (f *fakeSession) Snapshot() model.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeSession) MarkActivity(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markCalls++
	f.snap.LastActivityAt = time.Now()
}

func (f *fakeSession) Logout(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logoutCalls++
	f.snap = model.Snapshot{Status: model.StatusUnauthenticated}
	return nil
}

func (f *fakeSession) marks() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.markCalls
}

func (f *fakeSession) logouts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logoutCalls
}

func authenticatedSession(last time.Time) *fakeSession {
	return &fakeSession{snap: model.Snapshot{
		Status:         model.StatusAuthenticated,
		User:           &model.UserSummary{ID: "u-1"},
		LastActivityAt: last,
	}}
}

func newTestMonitor(t *testing.T, s Session, threshold, throttle time.Duration) *Monitor {
	t.Helper()
	m := NewMonitor(Options{
		Session:   s,
		Logger:    nopLogger{},
		Bus:       eventbus.New(),
		Threshold: threshold,
		Throttle:  throttle,
		Poll:      time.Minute,
	})
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestTouchThrottlesBursts(t *testing.T) {
	s := authenticatedSession(time.Now())
	m := newTestMonitor(t, s, time.Hour, 100*time.Millisecond)

	for i := 0; i < 10; i++ {
		m.Touch(context.Background())
	}
	if n := s.marks(); n != 1 {
		t.Fatalf("expected one stamp from a burst, got %d", n)
	}

	time.Sleep(120 * time.Millisecond)
	m.Touch(context.Background())
	if n := s.marks(); n != 2 {
		t.Fatalf("expected second stamp after throttle window, got %d", n)
	}
}

func TestTouchInertWhenUnauthenticated(t *testing.T) {
	s := &fakeSession{snap: model.Snapshot{Status: model.StatusUnauthenticated}}
	m := newTestMonitor(t, s, time.Hour, time.Millisecond)

	m.Touch(context.Background())
	if n := s.marks(); n != 0 {
		t.Fatalf("unauthenticated touch must not stamp, got %d", n)
	}
}

func TestCheckForcesLogoutAfterThreshold(t *testing.T) {
	s := authenticatedSession(time.Now().Add(-time.Hour))
	bus := eventbus.New()
	m := NewMonitor(Options{
		Session:   s,
		Logger:    nopLogger{},
		Bus:       bus,
		Threshold: time.Minute,
		Throttle:  time.Millisecond,
		Poll:      time.Minute,
	})
	t.Cleanup(func() { _ = m.Close() })

	var mu sync.Mutex
	var expired []eventbus.SessionEventData
	if err := bus.Subscribe(eventbus.EventSessionExpired, func(data eventbus.SessionEventData) {
		mu.Lock()
		expired = append(expired, data)
		mu.Unlock()
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	m.Check(context.Background())

	if n := s.logouts(); n != 1 {
		t.Fatalf("expected forced logout, got %d", n)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(expired) != 1 {
		t.Fatalf("expected one expired event, got %d", len(expired))
	}
	if expired[0].Reason != "inactivity" || expired[0].UserID != "u-1" {
		t.Fatalf("unexpected event payload: %+v", expired[0])
	}
}

func TestCheckWithinBudgetDoesNothing(t *testing.T) {
	s := authenticatedSession(time.Now())
	m := newTestMonitor(t, s, time.Hour, time.Millisecond)

	m.Check(context.Background())
	if n := s.logouts(); n != 0 {
		t.Fatalf("session within budget must survive, got %d logouts", n)
	}
}

func TestCheckInertWhenUnauthenticated(t *testing.T) {
	s := &fakeSession{snap: model.Snapshot{Status: model.StatusUnauthenticated}}
	m := newTestMonitor(t, s, time.Millisecond, time.Millisecond)

	m.Check(context.Background())
	if n := s.logouts(); n != 0 {
		t.Fatalf("unauthenticated check must do nothing, got %d logouts", n)
	}
}

func TestCheckSeedsMissingStamp(t *testing.T) {
	s := authenticatedSession(time.Time{})
	m := newTestMonitor(t, s, time.Minute, time.Millisecond)

	m.Check(context.Background())
	if n := s.marks(); n != 1 {
		t.Fatalf("expected the missing stamp to be seeded, got %d", n)
	}
	if n := s.logouts(); n != 0 {
		t.Fatalf("seeding must not log out, got %d", n)
	}
}

func TestPollTickerEventuallyExpires(t *testing.T) {
	s := authenticatedSession(time.Now().Add(-time.Hour))
	m := NewMonitor(Options{
		Session:   s,
		Logger:    nopLogger{},
		Bus:       eventbus.New(),
		Threshold: time.Minute,
		Throttle:  time.Millisecond,
		Poll:      20 * time.Millisecond,
	})
	t.Cleanup(func() { _ = m.Close() })

	m.Start()
	deadline := time.Now().Add(2 * time.Second)
	for s.logouts() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("poll ticker never forced the logout")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
