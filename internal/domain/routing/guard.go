package routing

import (
	"net/url"
	"strings"

	"github.com/Leochrono/dinero-tikee-sub001/internal/domain/session/model"
	"github.com/Leochrono/dinero-tikee-sub001/internal/platform/config"
)

// Verdict is the guard's decision for a navigation target.
type Verdict string

const (
	// VerdictRender lets the target render.
	VerdictRender Verdict = "render"
	// VerdictLoading renders the neutral loading view; the session check has
	// not settled yet and the real decision is deferred.
	VerdictLoading Verdict = "loading"
	// VerdictRedirect sends the user elsewhere; Decision.Target says where.
	VerdictRedirect Verdict = "redirect"
)

// Decision carries the verdict plus the redirect target when applicable.
type Decision struct {
	Verdict Verdict
	Target  string
}

// SessionView is the slice of the session controller the guard consults.
type SessionView interface {
	Snapshot() model.Snapshot
}

// Guard decides whether a navigation target may render for the current
// session state. It holds no state of its own beyond the route tables.
type Guard struct {
	session            SessionView
	loginPath          string
	passwordChangePath string
	public             map[string]bool
}

// NewGuard builds a Guard from the route configuration.
func NewGuard(session SessionView, routes config.RoutesConfig) *Guard {
	public := make(map[string]bool, len(routes.Public))
	for _, p := range routes.Public {
		public[normalizePath(p)] = true
	}
	loginPath := routes.LoginPath
	if loginPath == "" {
		loginPath = "/login"
	}
	passwordPath := routes.PasswordChangePath
	if passwordPath == "" {
		passwordPath = "/account/password"
	}
	return &Guard{
		session:            session,
		loginPath:          normalizePath(loginPath),
		passwordChangePath: normalizePath(passwordPath),
		public:             public,
	}
}

// Decide resolves a navigation target against the current session state.
func (g *Guard) Decide(path string) Decision {
	path = normalizePath(path)
	snap := g.session.Snapshot()

	switch snap.Status {
	case model.StatusUninitialized, model.StatusChecking:
		// Nothing renders behind the gate until the check settles. Public
		// views do not need the session and may render immediately.
		if g.public[path] {
			return Decision{Verdict: VerdictRender}
		}
		return Decision{Verdict: VerdictLoading}

	case model.StatusAuthenticated:
		if snap.User != nil && snap.User.RequiresPasswordChange && path != g.passwordChangePath {
			return Decision{Verdict: VerdictRedirect, Target: g.passwordChangePath}
		}
		return Decision{Verdict: VerdictRender}

	default: // unauthenticated
		if g.public[path] {
			return Decision{Verdict: VerdictRender}
		}
		// The recovery-code flow reaches the password-change view without a
		// full session. This is the single deliberate hole in the gate.
		if snap.RecoveryPending && path == g.passwordChangePath {
			return Decision{Verdict: VerdictRender}
		}
		return Decision{Verdict: VerdictRedirect, Target: g.loginRedirect(path)}
	}
}

// loginRedirect builds the login target carrying the originally requested
// path so login can return the user there.
func (g *Guard) loginRedirect(requested string) string {
	if requested == "" || requested == g.loginPath {
		return g.loginPath
	}
	return g.loginPath + "?return_to=" + url.QueryEscape(requested)
}

// ReturnTo extracts the post-login return path from a login target built by
// the guard. Falls back to "/" when absent or unparsable.
func ReturnTo(loginTarget string) string {
	u, err := url.Parse(loginTarget)
	if err != nil {
		return "/"
	}
	if back := u.Query().Get("return_to"); back != "" {
		return normalizePath(back)
	}
	return "/"
}

// normalizePath strips the query string and any trailing slash so route
// table lookups are stable. The root path stays "/".
func normalizePath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
		if path == "" {
			return "/"
		}
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}
