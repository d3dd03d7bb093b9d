package main

import (
	"context"
	"fmt"
	"os"

	"github.com/oauth2-proxy/mockoidc"

	"clinic-auth-gateway/internal/test"
	"clinic-auth-gateway/oidc"
)

// BackendClientID used by all tests; roles live under this resource_access
// entry in access tokens.
const testBackendClientID = "clinic-backend"

func CreateConfig(m *mockoidc.MockOIDC, sessionPath, apiBase string) *Config {
	httpPort, err := test.GetFreePort()
	if err != nil {
		panic(err)
	}
	cfg := &Config{
		Settings: Settings{
			Host: SettingsHost{Address: "", Port: httpPort},
			Session: SettingsSession{
				Key:            "472347328478392",
				StoreDriver:    "filesystem",
				StoreDirectory: sessionPath,
			},
			ApiBase: apiBase,
		},
		Content: ContentConfig{
			OIDC: ContentConfigOIDC{
				BaseUrl:         fmt.Sprintf("http://localhost:%d", httpPort),
				Issuer:          m.Issuer(),
				BackendClientID: testBackendClientID,
				TokenEndpoint:   m.TokenEndpoint(),
				Providers: []OIDCProvider{
					{
						Id:           "patient",
						ClientID:     m.ClientID,
						ClientSecret: m.ClientSecret,
					},
					{
						Id:           "pro",
						ClientID:     m.ClientID,
						ClientSecret: m.ClientSecret,
					},
				},
			},
		},
	}
	return cfg
}

func SetupGateway(apiBase string) (*Config, *mockoidc.MockOIDC, *Webserver, error) {
	// mockoidc rejects scopes outside ScopesSupported; the gateway always
	// requests offline_access, so the mock IdP must advertise it.
	if !scopeSupported(mockoidc.ScopesSupported, "offline_access") {
		mockoidc.ScopesSupported = append(mockoidc.ScopesSupported, "offline_access")
	}
	m, err := mockoidc.Run()
	if err != nil {
		return nil, nil, nil, err
	}
	sessionStorage, err := os.MkdirTemp("", fmt.Sprintf("clinic-auth-gateway-session-%s", test.RandHex(8)))
	if err != nil {
		_ = m.Shutdown()
		return nil, nil, nil, err
	}
	cfg := CreateConfig(m, sessionStorage, apiBase)
	o, err := oidc.New(context.Background(), oidcConfig(cfg))
	if err != nil {
		_ = m.Shutdown()
		_ = os.RemoveAll(sessionStorage)
		return nil, nil, nil, err
	}
	ws, err := NewWebserver(cfg, o)
	if err != nil {
		_ = m.Shutdown()
		_ = os.RemoveAll(sessionStorage)
		return nil, nil, nil, err
	}
	return cfg, m, ws, nil
}

func scopeSupported(scopes []string, scope string) bool {
	for _, s := range scopes {
		if s == scope {
			return true
		}
	}
	return false
}
