package identity

import (
	"errors"
	"sort"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Role names that participate in routing decisions. Patient and professional
// roles are disjoint populations; clinic_admin is the privileged member of
// the professional band.
const (
	RolePatient     = "patient"
	RoleDoctor      = "doctor"
	RoleNurse       = "nurse"
	RoleSecretary   = "secretary"
	RoleClinicAdmin = "clinic_admin"
)

// ProfessionalRoles lists every role of the professional band.
var ProfessionalRoles = []string{RoleDoctor, RoleNurse, RoleSecretary, RoleClinicAdmin}

var ErrMalformedToken = errors.New("malformed access token")

// RoleSet is a set of lowercase role strings.
type RoleSet map[string]struct{}

// NewRoleSet builds a RoleSet from raw role strings, lower-casing each one.
func NewRoleSet(roles ...string) RoleSet {
	s := make(RoleSet, len(roles))
	for _, r := range roles {
		s[strings.ToLower(r)] = struct{}{}
	}
	return s
}

func (s RoleSet) Has(role string) bool {
	_, ok := s[role]
	return ok
}

// HasAny reports whether the set contains at least one of the given roles.
func (s RoleSet) HasAny(roles ...string) bool {
	for _, r := range roles {
		if s.Has(r) {
			return true
		}
	}
	return false
}

// Strings returns the roles in sorted order, mainly for logging and display.
func (s RoleSet) Strings() []string {
	out := make([]string, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// AccessClaims is the normalized identity record derived from an access
// token. It is recomputed whenever the token changes and never persisted
// independently of it.
type AccessClaims struct {
	Subject  string
	Roles    RoleSet
	TenantID string
	Username string
	Email    string
}

// DecodeAccessToken parses the payload of a compact signed token into
// AccessClaims. The signature is NOT verified here; the token was received
// over the TLS channel to the identity provider, which is the trust anchor.
//
// Roles are looked up under resource_access[backendClientID].roles first,
// falling back to a top-level roles claim, then to an empty set.
func DecodeAccessToken(raw, backendClientID string) (AccessClaims, error) {
	parser := jwt.NewParser()
	token, _, err := parser.ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return AccessClaims{}, ErrMalformedToken
	}
	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return AccessClaims{}, ErrMalformedToken
	}

	claims := AccessClaims{Roles: NewRoleSet()}
	claims.Subject, _ = mc["sub"].(string)
	claims.Username, _ = mc["preferred_username"].(string)
	claims.Email, _ = mc["email"].(string)

	if tenant, ok := mc["tenant_id"].(string); ok {
		claims.TenantID = tenant
	} else if tenant, ok := mc["tenantId"].(string); ok {
		claims.TenantID = tenant
	}

	if roles, ok := clientRoles(mc, backendClientID); ok {
		claims.Roles = NewRoleSet(roles...)
	} else if roles, ok := stringSlice(mc["roles"]); ok {
		claims.Roles = NewRoleSet(roles...)
	}

	return claims, nil
}

// clientRoles extracts resource_access[clientID].roles from the claim map.
func clientRoles(mc jwt.MapClaims, clientID string) ([]string, bool) {
	access, ok := mc["resource_access"].(map[string]any)
	if !ok {
		return nil, false
	}
	client, ok := access[clientID].(map[string]any)
	if !ok {
		return nil, false
	}
	return stringSlice(client["roles"])
}

func stringSlice(v any) ([]string, bool) {
	items, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			continue
		}
		out = append(out, s)
	}
	return out, true
}
