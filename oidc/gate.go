package oidc

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	log "github.com/sirupsen/logrus"

	"clinic-auth-gateway/authz"
	"clinic-auth-gateway/identity"
)

// IdentityContextKey is where the gate stashes the resolved AccessClaims for
// downstream handlers.
const IdentityContextKey = "resolved_identity"

var (
	gateDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_gate_decisions_total",
		Help: "Route authorization decisions taken by the edge gate.",
	}, []string{"decision"})
	refreshFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_refresh_failures_total",
		Help: "Sessions marked refresh-failed by the identity pipeline.",
	})
)

// ResolveRequest runs the identity pipeline for the current request and
// persists the updated state back into the session store when the token
// pair changed. The returned state may be zero-valued when the request
// carries no session.
func (o *OIDC) ResolveRequest(c echo.Context) identity.SessionState {
	state, ok := loadState(c)
	if !ok || state.AccessToken == "" {
		return state
	}

	resolved := o.resolver.Resolve(c.Request().Context(), state)

	if resolved.Error == identity.ErrorRefreshFailed && state.Error == "" {
		refreshFailures.Inc()
	}
	if stateChanged(state, resolved) {
		if err := saveState(c, resolved); err != nil {
			log.WithError(err).Error("Failed to persist refreshed session state")
		}
	}
	return resolved
}

// Gate protects the application routes: resolve identity, then apply the
// authorization engine's decision. Identity presence is checked before role
// sufficiency; an authenticated session with no roles still goes through the
// role rules and never falls back to the anonymous path.
func (o *OIDC) Gate() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			resolved := o.ResolveRequest(c)
			path := c.Request().URL.Path

			var decision authz.Decision
			if resolved.Authenticated() {
				decision = authz.Authorize(path, resolved.Claims.Roles)
			} else {
				decision = authz.AuthorizeAnonymous(path)
			}

			if !decision.Allow {
				gateDecisions.WithLabelValues("redirect").Inc()
				return c.Redirect(http.StatusFound, decision.RedirectTo)
			}

			gateDecisions.WithLabelValues("allow").Inc()
			c.Set(IdentityContextKey, resolved.Claims)
			return next(c)
		}
	}
}

// stateChanged reports whether the token pair, expiry or error flag moved.
// Claims are derived from the access token, so an unchanged token means the
// stored claims are still consistent.
func stateChanged(before, after identity.SessionState) bool {
	return before.AccessToken != after.AccessToken ||
		before.RefreshToken != after.RefreshToken ||
		before.ExpiresAt != after.ExpiresAt ||
		before.Error != after.Error
}
