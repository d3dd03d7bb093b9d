// Package oidc runs the sign-in ceremony against the clinic identity
// provider and guards the application routes with the identity pipeline.
// Two OIDC clients share one issuer: the patient population and the
// professional population sign in through separate client ids.
package oidc

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
	"golang.org/x/oauth2"

	log "github.com/sirupsen/logrus"

	"clinic-auth-gateway/identity"
)

// ProviderSpec is the client configuration of one identity population.
type ProviderSpec struct {
	ID           string
	ClientID     string
	ClientSecret string
}

// Config collects everything the ceremony needs. All providers share the
// issuer; TokenEndpoint may override the discovered endpoint (or stay empty
// to disable refreshes in environments without one).
type Config struct {
	Issuer          string
	BaseURL         string
	BackendClientID string
	TokenEndpoint   string
	Providers       []ProviderSpec
}

type OIDC struct {
	provider  *oidc.Provider
	clients   map[string]oauth2.Config
	providers *identity.Providers
	resolver  *identity.Resolver
}

// New discovers the issuer and builds one oauth2 client per configured
// population, plus the refresher/resolver pair used on every request.
func New(ctx context.Context, cfg Config) (*OIDC, error) {
	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		log.WithField("issuer", cfg.Issuer).
			WithError(err).
			Error("Failed to create oidc provider")
		return nil, err
	}

	clients := make(map[string]oauth2.Config, len(cfg.Providers))
	credentials := make(map[string]identity.ClientCredentials, len(cfg.Providers))
	for _, spec := range cfg.Providers {
		clients[spec.ID] = oauth2.Config{
			ClientID:     spec.ClientID,
			ClientSecret: spec.ClientSecret,
			RedirectURL:  fmt.Sprintf("%s/auth/%s/callback", strings.TrimRight(cfg.BaseURL, "/"), spec.ID),
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email", oidc.ScopeOfflineAccess},
		}
		credentials[spec.ID] = identity.ClientCredentials{
			ClientID:     spec.ClientID,
			ClientSecret: spec.ClientSecret,
		}
	}

	tokenEndpoint := cfg.TokenEndpoint
	if tokenEndpoint == "" {
		tokenEndpoint = provider.Endpoint().TokenURL
	}

	providers := identity.NewProviders(tokenEndpoint, cfg.BackendClientID, credentials)
	refresher := identity.NewRefresher(providers)

	return &OIDC{
		provider:  provider,
		clients:   clients,
		providers: providers,
		resolver:  identity.NewResolver(refresher, cfg.BackendClientID),
	}, nil
}

// Resolver exposes the identity pipeline, mainly for tests.
func (o *OIDC) Resolver() *identity.Resolver {
	return o.resolver
}

// LoginHandler starts the auth-code flow for the :provider population.
func (o *OIDC) LoginHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		providerID := c.Param("provider")
		client, ok := o.clients[providerID]
		if !ok {
			return c.String(http.StatusBadRequest, "unknown identity provider")
		}
		return redirectForAuth(client, providerID, c)
	}
}

// CallbackHandler finishes the auth-code flow: it validates the CSRF state,
// exchanges the code, verifies the ID token and writes the first-grant
// SessionState. Refresh cycles never pass through here.
func (o *OIDC) CallbackHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		providerID := c.Param("provider")
		client, ok := o.clients[providerID]
		if !ok {
			return c.String(http.StatusBadRequest, "unknown identity provider")
		}

		sess, err := session.Get(sessionName, c)
		if err != nil {
			return c.String(http.StatusInternalServerError, "session cannot be retrieved")
		}

		// state check to prevent CSRF
		receivedState := c.QueryParam("state")
		expectedState, ok := sess.Values[stateParamKey].(string)
		if !ok || receivedState != expectedState {
			return c.String(http.StatusUnauthorized, "invalid or missing state parameter")
		}

		code := c.QueryParam("code")
		if code == "" {
			return c.String(http.StatusBadRequest, "missing code parameter")
		}

		oauth2Token, err := client.Exchange(ctx, code)
		if err != nil {
			return c.String(http.StatusInternalServerError, fmt.Sprintf("token exchange failed: %v", err))
		}

		rawIDToken, ok := oauth2Token.Extra("id_token").(string)
		if !ok {
			return c.String(http.StatusInternalServerError, "no id token in response")
		}

		verifier := o.provider.Verifier(&oidc.Config{ClientID: client.ClientID})
		if _, err := verifier.Verify(ctx, rawIDToken); err != nil {
			return c.String(http.StatusUnauthorized, fmt.Sprintf("id token verification failed: %v", err))
		}

		state := identity.SessionState{
			AccessToken:  oauth2Token.AccessToken,
			RefreshToken: oauth2Token.RefreshToken,
			Provider:     providerID,
		}
		if !oauth2Token.Expiry.IsZero() {
			state.ExpiresAt = oauth2Token.Expiry.UnixMilli()
		}
		claims, err := identity.DecodeAccessToken(state.AccessToken, o.providers.BackendClientID())
		if err != nil {
			log.WithField("provider", providerID).
				WithError(err).
				Warn("Failed to decode access token claims on sign-in")
		} else {
			state.Claims = claims
		}

		redirectURL, _ := sess.Values[originalPathKey].(string)
		if redirectURL == "" {
			redirectURL = "/app"
		}
		delete(sess.Values, stateParamKey)
		delete(sess.Values, originalPathKey)
		sess.Values[sessionStateKey] = state
		if err := sess.Save(c.Request(), c.Response()); err != nil {
			return c.String(http.StatusInternalServerError, fmt.Sprintf("failed to save session: %v", err))
		}

		log.WithField("provider", providerID).
			WithField("subject", state.Claims.Subject).
			Info("Sign-in completed")
		return c.Redirect(http.StatusFound, redirectURL)
	}
}

// LogoutHandler destroys the session and sends the browser home.
func (o *OIDC) LogoutHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := clearSession(c); err != nil {
			return c.String(http.StatusInternalServerError, "failed to clear session")
		}
		return c.Redirect(http.StatusFound, "/")
	}
}

func redirectForAuth(client oauth2.Config, providerID string, c echo.Context) error {
	sess, err := session.Get(sessionName, c)
	if err != nil {
		return c.String(http.StatusInternalServerError, "session cannot be retrieved")
	}

	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return err
	}
	state := base64.URLEncoding.EncodeToString(b)

	sess.Values[stateParamKey] = state
	sess.Values[loginProviderKey] = providerID
	if returnTo := c.QueryParam("return_to"); strings.HasPrefix(returnTo, "/") {
		sess.Values[originalPathKey] = returnTo
	}

	if err := sess.Save(c.Request(), c.Response()); err != nil {
		return c.String(http.StatusInternalServerError, "cannot save session")
	}

	return c.Redirect(http.StatusFound, client.AuthCodeURL(state))
}
