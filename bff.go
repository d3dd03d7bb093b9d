package main

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	log "github.com/sirupsen/logrus"

	"clinic-auth-gateway/oidc"
)

// bffProxy forwards authenticated JSON requests to the downstream business
// API. It only attaches the bearer token; the API enforces its own
// authorization on top.
type bffProxy struct {
	apiBase string
	oidc    *oidc.OIDC
	client  *http.Client
}

func newBFFProxy(apiBase string, o *oidc.OIDC) *bffProxy {
	return &bffProxy{
		apiBase: apiBase,
		oidc:    o,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (p *bffProxy) forwardTo(apiPath string) echo.HandlerFunc {
	return func(c echo.Context) error {
		state := p.oidc.ResolveRequest(c)
		if !state.Authenticated() {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}
		if p.apiBase == "" {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "API_BASE is not configured"})
		}

		req, err := http.NewRequestWithContext(
			c.Request().Context(),
			c.Request().Method,
			fmt.Sprintf("%s%s", p.apiBase, apiPath),
			c.Request().Body,
		)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to build upstream request"})
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", state.AccessToken))
		req.Header.Set("X-Request-ID", uuid.New().String())

		response, err := p.client.Do(req)
		if err != nil {
			log.WithField("path", apiPath).WithError(err).Warn("Downstream API unreachable")
			return c.JSON(http.StatusBadGateway, map[string]string{"error": "upstream unavailable"})
		}
		defer func(body io.ReadCloser) {
			if err := body.Close(); err != nil {
				log.WithError(err).Warn("Failed to close upstream response body")
			}
		}(response.Body)

		body, err := io.ReadAll(response.Body)
		if err != nil {
			return c.JSON(http.StatusBadGateway, map[string]string{"error": "invalid response from API"})
		}
		return c.Blob(response.StatusCode, echo.MIMEApplicationJSON, body)
	}
}
