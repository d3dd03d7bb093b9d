package identity

// ClientCredentials are the OAuth client settings of one identity provider.
type ClientCredentials struct {
	ClientID     string
	ClientSecret string
}

// Providers is the immutable provider configuration shared by the refresher
// and the sign-in handlers. It is constructed once at process start and
// passed by reference; there is no mutable global.
type Providers struct {
	tokenEndpoint   string
	backendClientID string
	clients         map[string]ClientCredentials
}

// NewProviders builds the provider configuration. tokenEndpoint may be empty
// when the environment has no refresh capability; refreshes then become
// no-ops. backendClientID selects the resource_access entry roles are read
// from during claim decoding.
func NewProviders(tokenEndpoint, backendClientID string, clients map[string]ClientCredentials) *Providers {
	copied := make(map[string]ClientCredentials, len(clients))
	for id, c := range clients {
		copied[id] = c
	}
	return &Providers{
		tokenEndpoint:   tokenEndpoint,
		backendClientID: backendClientID,
		clients:         copied,
	}
}

func (p *Providers) TokenEndpoint() string { return p.tokenEndpoint }

func (p *Providers) BackendClientID() string { return p.backendClientID }

// Client returns the credentials configured for the given provider id.
func (p *Providers) Client(id string) (ClientCredentials, bool) {
	c, ok := p.clients[id]
	return c, ok
}
