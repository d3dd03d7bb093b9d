package identity

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// RefreshMargin is how long before token expiry a refresh is triggered. The
// margin hides clock skew and in-flight latency: refreshing proactively
// avoids a downstream 401 that would require buffering and replaying the
// original request.
const RefreshMargin = 30 * time.Second

// Resolver runs the per-request identity pipeline: refresh the token pair if
// it is about to expire, then decode the freshest access token into claims.
type Resolver struct {
	refresher       *Refresher
	backendClientID string
	now             func() time.Time
}

// ResolverOption modifies a Resolver, primarily for testing.
type ResolverOption func(*Resolver)

// WithResolverNowFunc overrides the clock.
func WithResolverNowFunc(now func() time.Time) ResolverOption {
	return func(r *Resolver) { r.now = now }
}

func NewResolver(refresher *Refresher, backendClientID string, options ...ResolverOption) *Resolver {
	r := &Resolver{
		refresher:       refresher,
		backendClientID: backendClientID,
		now:             time.Now,
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// Resolve returns the session state to use for the current request. It never
// fails: a decode problem leaves the prior claims in place and a refresh
// problem surfaces through the state's Error field or a later expiry.
func (r *Resolver) Resolve(ctx context.Context, state SessionState) SessionState {
	// ExpiresAt is only trusted while the terminal error flag is unset;
	// a refresh-failed session stays unauthenticated until re-login.
	if state.Error == "" && state.ExpiresAt > 0 && r.now().UnixMilli() >= state.ExpiresAt-RefreshMargin.Milliseconds() {
		state = r.refresher.Refresh(ctx, state)
	}

	if state.AccessToken != "" {
		claims, err := DecodeAccessToken(state.AccessToken, r.backendClientID)
		if err != nil {
			// fail-safe-stale: keep the prior claims rather than dropping
			// the session on a malformed token
			log.WithField("provider", state.Provider).
				WithError(err).
				Warn("Failed to decode access token, keeping prior claims")
		} else {
			state.Claims = claims
		}
	}

	return state
}
