package identity

import (
	"encoding/gob"
)

// ErrorRefreshFailed marks a session whose refresh grant was rejected by the
// identity provider. Once set, the session counts as unauthenticated until
// the user signs in again.
const ErrorRefreshFailed = "refresh-failed"

// SessionState is the per-session record carried in the caller-managed
// session container (cookie-backed store). It is always replaced as a whole
// unit; no field is updated in isolation.
type SessionState struct {
	AccessToken  string
	RefreshToken string
	// ExpiresAt is the instant in milliseconds since epoch after which
	// AccessToken must not be trusted. Zero means unknown.
	ExpiresAt int64
	// Provider is the id of the identity provider client that issued this
	// session ("patient" or "pro").
	Provider string
	Claims   AccessClaims
	Error    string
}

func init() {
	// registered so gorilla session stores can gob-encode the state
	gob.Register(SessionState{})
}

// Authenticated reports whether the state carries a usable identity.
// A session with the refresh-failed marker is not trustworthy.
func (s SessionState) Authenticated() bool {
	return s.AccessToken != "" && s.Error == ""
}
