package identity

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const refreshTimeout = 10 * time.Second

// Refresher performs the refresh-token grant against the identity provider's
// token endpoint. It is safe for concurrent use; every call produces a
// self-consistent SessionState and the caller's whole-value session write is
// what serializes racing refreshes.
type Refresher struct {
	providers *Providers
	client    *http.Client
	now       func() time.Time
}

// RefresherOption modifies a Refresher, primarily for testing.
type RefresherOption func(*Refresher)

// WithHTTPClient overrides the HTTP client used for the token endpoint.
func WithHTTPClient(c *http.Client) RefresherOption {
	return func(r *Refresher) { r.client = c }
}

// WithNowFunc overrides the clock.
func WithNowFunc(now func() time.Time) RefresherOption {
	return func(r *Refresher) { r.now = now }
}

func NewRefresher(providers *Providers, options ...RefresherOption) *Refresher {
	r := &Refresher{
		providers: providers,
		client:    &http.Client{Timeout: refreshTimeout},
		now:       time.Now,
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

type tokenEndpointResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Refresh exchanges the state's refresh token for a fresh token pair.
//
// Without a refresh token or a configured token endpoint the state is
// returned unchanged. Missing client credentials for the state's provider is
// an operator error: logged loudly, state returned unchanged so the old
// token expires naturally. A completed non-2xx response from the endpoint
// sets Error to refresh-failed while retaining the old token pair. Network
// and timeout errors are transient: the state is returned unchanged and the
// next request retries. Only a fully received success response replaces the
// token pair, and claims are re-decoded from the new access token before the
// state is returned.
func (r *Refresher) Refresh(ctx context.Context, state SessionState) SessionState {
	if state.RefreshToken == "" || r.providers.TokenEndpoint() == "" {
		return state
	}

	creds, ok := r.providers.Client(state.Provider)
	if !ok || creds.ClientID == "" {
		log.WithField("provider", state.Provider).
			Error("Missing client configuration for session provider, cannot refresh")
		return state
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {creds.ClientID},
		"refresh_token": {state.RefreshToken},
	}
	if creds.ClientSecret != "" {
		form.Set("client_secret", creds.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.providers.TokenEndpoint(), strings.NewReader(form.Encode()))
	if err != nil {
		log.WithError(err).Error("Failed to build token endpoint request")
		return state
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	response, err := r.client.Do(req)
	if err != nil {
		// transient: keep the state, the next request will retry
		log.WithField("provider", state.Provider).
			WithError(err).
			Warn("Token endpoint unreachable, keeping current session state")
		return state
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			log.WithError(err).Warn("Failed to close token endpoint response body")
		}
	}(response.Body)

	body, err := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if err != nil {
		log.WithField("provider", state.Provider).
			WithError(err).
			Warn("Failed to read token endpoint response, keeping current session state")
		return state
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		log.WithField("provider", state.Provider).
			WithField("status", response.StatusCode).
			WithField("detail", strings.TrimSpace(string(body))).
			Warn("Identity provider rejected the refresh grant")
		state.Error = ErrorRefreshFailed
		return state
	}

	var refreshed tokenEndpointResponse
	if err := json.Unmarshal(body, &refreshed); err != nil {
		log.WithField("provider", state.Provider).
			WithError(err).
			Warn("Failed to decode token endpoint response, keeping current session state")
		return state
	}

	next := state
	next.AccessToken = refreshed.AccessToken
	if refreshed.RefreshToken != "" {
		// providers may omit rotation, keep the current refresh token then
		next.RefreshToken = refreshed.RefreshToken
	}
	next.ExpiresAt = r.now().UnixMilli() + refreshed.ExpiresIn*1000

	// claims must always match the access token they came from
	claims, err := DecodeAccessToken(next.AccessToken, r.providers.BackendClientID())
	if err != nil {
		log.WithField("provider", state.Provider).
			WithError(err).
			Warn("Failed to decode refreshed access token, keeping prior claims")
	} else {
		next.Claims = claims
	}
	return next
}
