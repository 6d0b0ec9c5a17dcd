package session

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Leochrono/dinero-tikee-sub001/internal/domain/eventbus"
	"github.com/Leochrono/dinero-tikee-sub001/internal/domain/session/model"
	"github.com/Leochrono/dinero-tikee-sub001/internal/platform/clientstore"
	platformerrors "github.com/Leochrono/dinero-tikee-sub001/internal/platform/errors"
	"github.com/Leochrono/dinero-tikee-sub001/internal/platform/httpapi"
)

type testLogger struct{ t *testing.T }

func (l testLogger) Debug(format string, args ...any) { l.t.Logf("DEBUG "+format, args...) }
func (l testLogger) Info(format string, args ...any)  { l.t.Logf("INFO "+format, args...) }
func (l testLogger) Warn(format string, args ...any)  { l.t.Logf("WARN "+format, args...) }
func (l testLogger) Error(format string, args ...any) { l.t.Logf("ERROR "+format, args...) }

type fakeAuthAPI struct {
	mu          sync.Mutex
	verifyErr   error
	verifyUser  httpapi.UserSummary
	verifyGate  chan struct{} // when set, VerifySession blocks until closed
	verifyCalls int32
	loginResult httpapi.LoginResult
	loginErr    error
	logoutCalls int32
	passwordErr error
}

func (f *fakeAuthAPI) VerifySession(ctx context.Context, token string) (httpapi.UserSummary, error) {
	atomic.AddInt32(&f.verifyCalls, 1)
	f.mu.Lock()
	gate := f.verifyGate
	user, err := f.verifyUser, f.verifyErr
	f.mu.Unlock()
	if gate != nil {
		<-gate
		f.mu.Lock()
		user, err = f.verifyUser, f.verifyErr
		f.mu.Unlock()
	}
	return user, err
}

func (f *fakeAuthAPI) Login(ctx context.Context, email, secret string) (httpapi.LoginResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loginResult, f.loginErr
}

func (f *fakeAuthAPI) Logout(ctx context.Context, token string) error {
	atomic.AddInt32(&f.logoutCalls, 1)
	return nil
}

func (f *fakeAuthAPI) ChangePassword(ctx context.Context, token, current, next string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.passwordErr
}

func signedTestToken(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": "u-1", "exp": exp.Unix()}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("signing test token: %v", err)
	}
	return token
}

func newTestController(t *testing.T, api *fakeAuthAPI) (*Controller, clientstore.Store) {
	t.Helper()
	store := clientstore.NewMemory()
	ctrl, err := NewController(Options{
		Store:            store,
		API:              api,
		Logger:           testLogger{t},
		Bus:              eventbus.New(),
		ReverifyInterval: time.Minute,
	})
	if err != nil {
		t.Fatalf("building controller: %v", err)
	}
	t.Cleanup(func() { _ = ctrl.Close() })
	return ctrl, store
}

func TestInitializeWithoutStoredToken(t *testing.T) {
	api := &fakeAuthAPI{}
	ctrl, _ := newTestController(t, api)

	snap, err := ctrl.Initialize(context.Background())
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if snap.Status != model.StatusUnauthenticated {
		t.Fatalf("expected unauthenticated, got %s", snap.Status)
	}
	if n := atomic.LoadInt32(&api.verifyCalls); n != 0 {
		t.Fatalf("no remote call expected without a stored token, got %d", n)
	}
}

func TestInitializeVerifiesStoredToken(t *testing.T) {
	api := &fakeAuthAPI{verifyUser: httpapi.UserSummary{ID: "u-1", Email: "ana@example.cl"}}
	ctrl, store := newTestController(t, api)

	token := signedTestToken(t, time.Now().Add(time.Hour))
	seed, _ := seedTokenRecord(token)
	if err := store.Put(context.Background(), clientstore.RecordTokens, seed); err != nil {
		t.Fatalf("seeding store: %v", err)
	}

	snap, err := ctrl.Initialize(context.Background())
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if snap.Status != model.StatusAuthenticated {
		t.Fatalf("expected authenticated, got %s", snap.Status)
	}
	if snap.User == nil || snap.User.ID != "u-1" {
		t.Fatalf("expected user u-1 in snapshot, got %+v", snap.User)
	}
}

func TestInitializeDiscardsExpiredToken(t *testing.T) {
	api := &fakeAuthAPI{}
	ctrl, store := newTestController(t, api)

	seed, _ := seedTokenRecord(signedTestToken(t, time.Now().Add(-time.Hour)))
	_ = store.Put(context.Background(), clientstore.RecordTokens, seed)

	snap, err := ctrl.Initialize(context.Background())
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if snap.Status != model.StatusUnauthenticated {
		t.Fatalf("expected unauthenticated, got %s", snap.Status)
	}
	if n := atomic.LoadInt32(&api.verifyCalls); n != 0 {
		t.Fatalf("expired token must not reach the remote, got %d calls", n)
	}
	if _, ok, _ := store.Get(context.Background(), clientstore.RecordTokens); ok {
		t.Fatalf("expired token record should have been removed")
	}
}

func TestInitializeDiscardsMalformedRecord(t *testing.T) {
	api := &fakeAuthAPI{}
	ctrl, store := newTestController(t, api)

	_ = store.Put(context.Background(), clientstore.RecordTokens, []byte("{not json"))

	snap, err := ctrl.Initialize(context.Background())
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if snap.Status != model.StatusUnauthenticated {
		t.Fatalf("expected unauthenticated, got %s", snap.Status)
	}
	if _, ok, _ := store.Get(context.Background(), clientstore.RecordTokens); ok {
		t.Fatalf("malformed record should have been removed")
	}
}

func TestInitializeRejectedTokenCollapses(t *testing.T) {
	api := &fakeAuthAPI{
		verifyErr: platformerrors.New(platformerrors.KindCredential, "verify", "revoked"),
	}
	ctrl, store := newTestController(t, api)

	seed, _ := seedTokenRecord(signedTestToken(t, time.Now().Add(time.Hour)))
	_ = store.Put(context.Background(), clientstore.RecordTokens, seed)

	snap, err := ctrl.Initialize(context.Background())
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if snap.Status != model.StatusUnauthenticated {
		t.Fatalf("expected unauthenticated after rejection, got %s", snap.Status)
	}
	if _, ok, _ := store.Get(context.Background(), clientstore.RecordTokens); ok {
		t.Fatalf("rejected token should have been cleared from the store")
	}
}

func TestInitializeCoalescesConcurrentCallers(t *testing.T) {
	api := &fakeAuthAPI{
		verifyUser: httpapi.UserSummary{ID: "u-1"},
		verifyGate: make(chan struct{}),
	}
	ctrl, store := newTestController(t, api)

	seed, _ := seedTokenRecord(signedTestToken(t, time.Now().Add(time.Hour)))
	_ = store.Put(context.Background(), clientstore.RecordTokens, seed)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]model.Snapshot, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snap, err := ctrl.Initialize(context.Background())
			if err != nil {
				t.Errorf("caller %d: %v", i, err)
				return
			}
			results[i] = snap
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(api.verifyGate)
	wg.Wait()

	if n := atomic.LoadInt32(&api.verifyCalls); n != 1 {
		t.Fatalf("expected a single verification, got %d", n)
	}
	for i, snap := range results {
		if snap.Status != model.StatusAuthenticated {
			t.Fatalf("caller %d settled at %s", i, snap.Status)
		}
	}
}

func TestLoginEstablishesSession(t *testing.T) {
	api := &fakeAuthAPI{
		loginResult: httpapi.LoginResult{
			AccessToken: "tok-1",
			User:        httpapi.UserSummary{ID: "u-1", Email: "ana@example.cl"},
		},
	}
	ctrl, store := newTestController(t, api)

	if _, err := ctrl.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	outcome, err := ctrl.Login(context.Background(), Credentials{Email: "ana@example.cl", Secret: "s"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if outcome != OutcomeAuthenticated {
		t.Fatalf("expected authenticated outcome, got %s", outcome)
	}
	snap := ctrl.Snapshot()
	if !snap.Authenticated() {
		t.Fatalf("expected authenticated snapshot, got %s", snap.Status)
	}
	if _, ok, _ := store.Get(context.Background(), clientstore.RecordTokens); !ok {
		t.Fatalf("authenticated session must have a persisted token record")
	}
}

func TestLoginRecoveryCodeDoesNotAuthenticate(t *testing.T) {
	api := &fakeAuthAPI{
		loginResult: httpapi.LoginResult{
			AccessToken:    "one-time",
			User:           httpapi.UserSummary{ID: "u-1"},
			IsRecoveryCode: true,
		},
	}
	ctrl, store := newTestController(t, api)
	_, _ = ctrl.Initialize(context.Background())

	outcome, err := ctrl.Login(context.Background(), Credentials{Email: "ana@example.cl", Secret: "code"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if outcome != OutcomeRecoveryCode {
		t.Fatalf("expected recovery outcome, got %s", outcome)
	}
	snap := ctrl.Snapshot()
	if snap.Authenticated() {
		t.Fatalf("recovery code must not authenticate")
	}
	if !snap.RecoveryPending {
		t.Fatalf("expected recovery pending flag")
	}
	if _, ok, _ := store.Get(context.Background(), clientstore.RecordTokens); ok {
		t.Fatalf("recovery code must not persist a token record")
	}
}

func TestLoginFailurePropagates(t *testing.T) {
	api := &fakeAuthAPI{
		loginErr: platformerrors.New(platformerrors.KindCredential, "login", "bad credentials"),
	}
	ctrl, _ := newTestController(t, api)
	_, _ = ctrl.Initialize(context.Background())

	if _, err := ctrl.Login(context.Background(), Credentials{Email: "a", Secret: "b"}); err == nil {
		t.Fatalf("expected login error")
	} else if !platformerrors.IsKind(err, platformerrors.KindCredential) {
		t.Fatalf("expected credential kind, got %v", err)
	}
	if ctrl.Snapshot().Authenticated() {
		t.Fatalf("failed login must leave session closed")
	}
}

func TestLogoutClearsStoreAndState(t *testing.T) {
	api := &fakeAuthAPI{
		loginResult: httpapi.LoginResult{AccessToken: "tok-1", User: httpapi.UserSummary{ID: "u-1"}},
	}
	ctrl, store := newTestController(t, api)
	_, _ = ctrl.Initialize(context.Background())
	if _, err := ctrl.Login(context.Background(), Credentials{Email: "a", Secret: "b"}); err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := ctrl.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if ctrl.Snapshot().Authenticated() {
		t.Fatalf("expected unauthenticated after logout")
	}
	if _, ok, _ := store.Get(context.Background(), clientstore.RecordTokens); ok {
		t.Fatalf("logout must remove the token record")
	}
	if _, ok, _ := store.Get(context.Background(), clientstore.RecordActivity); ok {
		t.Fatalf("logout must remove the activity record")
	}

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&api.logoutCalls) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected best-effort remote logout call")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestReverifyFailureClosesSession(t *testing.T) {
	api := &fakeAuthAPI{
		loginResult: httpapi.LoginResult{AccessToken: "tok-1", User: httpapi.UserSummary{ID: "u-1"}},
	}
	ctrl, store := newTestController(t, api)
	_, _ = ctrl.Initialize(context.Background())
	_, _ = ctrl.Login(context.Background(), Credentials{Email: "a", Secret: "b"})

	api.mu.Lock()
	api.verifyErr = platformerrors.New(platformerrors.KindCredential, "verify", "revoked")
	api.mu.Unlock()

	if err := ctrl.Reverify(context.Background()); err != nil {
		t.Fatalf("reverify: %v", err)
	}
	if ctrl.Snapshot().Authenticated() {
		t.Fatalf("failed reverification must close the session")
	}
	if _, ok, _ := store.Get(context.Background(), clientstore.RecordTokens); ok {
		t.Fatalf("failed reverification must clear the token record")
	}
}

func TestReverifyIsInertWhenUnauthenticated(t *testing.T) {
	api := &fakeAuthAPI{}
	ctrl, _ := newTestController(t, api)
	_, _ = ctrl.Initialize(context.Background())

	if err := ctrl.Reverify(context.Background()); err != nil {
		t.Fatalf("reverify: %v", err)
	}
	if n := atomic.LoadInt32(&api.verifyCalls); n != 0 {
		t.Fatalf("reverify must not call the remote while unauthenticated, got %d", n)
	}
}

func TestLateVerificationDiscardedAfterLogout(t *testing.T) {
	api := &fakeAuthAPI{
		loginResult: httpapi.LoginResult{AccessToken: "tok-1", User: httpapi.UserSummary{ID: "u-1"}},
	}
	ctrl, store := newTestController(t, api)
	_, _ = ctrl.Initialize(context.Background())
	_, _ = ctrl.Login(context.Background(), Credentials{Email: "a", Secret: "b"})

	api.mu.Lock()
	api.verifyGate = make(chan struct{})
	api.verifyUser = httpapi.UserSummary{ID: "u-1"}
	api.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- ctrl.Reverify(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&api.verifyCalls) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("reverify never reached the remote")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := ctrl.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}
	close(api.verifyGate)
	if err := <-done; err != nil {
		t.Fatalf("reverify: %v", err)
	}

	if ctrl.Snapshot().Authenticated() {
		t.Fatalf("late verification must not resurrect a logged-out session")
	}
	if _, ok, _ := store.Get(context.Background(), clientstore.RecordTokens); ok {
		t.Fatalf("store must remain clear after discarded late verification")
	}
}

func TestMarkActivityDoesNotChangeStatus(t *testing.T) {
	api := &fakeAuthAPI{}
	ctrl, store := newTestController(t, api)
	_, _ = ctrl.Initialize(context.Background())

	before := ctrl.Snapshot().Status
	ctrl.MarkActivity(context.Background())
	after := ctrl.Snapshot()
	if after.Status != before {
		t.Fatalf("activity stamp changed status: %s -> %s", before, after.Status)
	}
	if after.LastActivityAt.IsZero() {
		t.Fatalf("expected activity stamp to advance")
	}
	if _, ok, _ := store.Get(context.Background(), clientstore.RecordActivity); !ok {
		t.Fatalf("expected persisted activity record")
	}
}

func TestChangePasswordViaRecoveryToken(t *testing.T) {
	api := &fakeAuthAPI{
		loginResult: httpapi.LoginResult{AccessToken: "one-time", IsRecoveryCode: true},
	}
	ctrl, _ := newTestController(t, api)
	_, _ = ctrl.Initialize(context.Background())
	if _, err := ctrl.Login(context.Background(), Credentials{Email: "a", Secret: "code"}); err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := ctrl.ChangePassword(context.Background(), "code", "new-password"); err != nil {
		t.Fatalf("change password: %v", err)
	}
	if ctrl.Snapshot().RecoveryPending {
		t.Fatalf("recovery flag must clear after password change")
	}
}

func TestChangePasswordWithoutCredentialFails(t *testing.T) {
	api := &fakeAuthAPI{}
	ctrl, _ := newTestController(t, api)
	_, _ = ctrl.Initialize(context.Background())

	err := ctrl.ChangePassword(context.Background(), "old", "new")
	if err == nil {
		t.Fatalf("expected error without session or recovery token")
	}
	if !platformerrors.IsKind(err, platformerrors.KindConflict) {
		t.Fatalf("expected conflict kind, got %v", err)
	}
}

func TestSessionEventsPublished(t *testing.T) {
	api := &fakeAuthAPI{
		loginResult: httpapi.LoginResult{AccessToken: "tok-1", User: httpapi.UserSummary{ID: "u-1"}},
	}
	ctrl, _ := newTestController(t, api)

	var mu sync.Mutex
	var seen []string
	record := func(topic string) func(eventbus.SessionEventData) {
		return func(eventbus.SessionEventData) {
			mu.Lock()
			seen = append(seen, topic)
			mu.Unlock()
		}
	}
	for _, topic := range []string{
		eventbus.EventSessionAuthenticated,
		eventbus.EventSessionUnauthenticated,
	} {
		if err := ctrl.Subscribe(topic, record(topic)); err != nil {
			t.Fatalf("subscribe %s: %v", topic, err)
		}
	}

	_, _ = ctrl.Initialize(context.Background())
	_, _ = ctrl.Login(context.Background(), Credentials{Email: "a", Secret: "b"})
	_ = ctrl.Logout(context.Background())

	mu.Lock()
	defer mu.Unlock()
	want := []string{
		eventbus.EventSessionUnauthenticated,
		eventbus.EventSessionAuthenticated,
		eventbus.EventSessionUnauthenticated,
	}
	if len(seen) != len(want) {
		t.Fatalf("expected %d events, got %v", len(want), seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], seen[i])
		}
	}
}

// seedTokenRecord builds a store value in the layout the controller persists.
func seedTokenRecord(token string) ([]byte, error) {
	record := tokenRecord{
		AccessToken: token,
		User:        model.UserSummary{ID: "u-1", Email: "ana@example.cl"},
		SavedAt:     time.Now(),
	}
	return json.Marshal(record)
}
