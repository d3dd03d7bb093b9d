package oidc

import (
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"

	"clinic-auth-gateway/identity"
)

const sessionName = "clinic_auth_session"

const (
	sessionStateKey  = "session_state"
	stateParamKey    = "state"
	originalPathKey  = "original_path"
	loginProviderKey = "login_provider"
)

// loadState reads the SessionState carried by the request's session cookie.
// The second return value is false when there is no session or no state yet.
func loadState(c echo.Context) (identity.SessionState, bool) {
	sess, err := session.Get(sessionName, c)
	if err != nil {
		return identity.SessionState{}, false
	}
	state, ok := sess.Values[sessionStateKey].(identity.SessionState)
	return state, ok
}

// saveState replaces the stored SessionState as a whole unit. Racing
// refreshes each produce a self-consistent state; this atomic replace is
// what keeps them from interleaving field by field.
func saveState(c echo.Context, state identity.SessionState) error {
	sess, err := session.Get(sessionName, c)
	if err != nil {
		return err
	}
	sess.Values[sessionStateKey] = state
	return sess.Save(c.Request(), c.Response())
}

// clearSession drops the whole session on sign-out. Destroying the state is
// the only way a refresh-failed session becomes usable again.
func clearSession(c echo.Context) error {
	sess, err := session.Get(sessionName, c)
	if err != nil {
		return err
	}
	sess.Options.MaxAge = -1
	for key := range sess.Values {
		delete(sess.Values, key)
	}
	return sess.Save(c.Request(), c.Response())
}
