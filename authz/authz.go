// Package authz decides, for every request path and resolved role set,
// whether the request may proceed or where the browser should be sent
// instead. Decisions are pure values; applying them is the caller's job.
package authz

import (
	"strings"

	"clinic-auth-gateway/identity"
)

const (
	appPrefix        = "/app"
	patientAreaPath  = "/app/patient"
	proAreaPath      = "/app/pro"
	adminAreaPath    = "/app/pro/admin"
	PatientEntryPath = "/patient"
	ProEntryPath     = "/pro"
)

// Decision is the outcome of an authorization check: either allow the
// request or redirect the browser to RedirectTo.
type Decision struct {
	Allow      bool
	RedirectTo string
}

func allow() Decision {
	return Decision{Allow: true}
}

func redirectTo(path string) Decision {
	return Decision{RedirectTo: path}
}

// Authorize decides access for a request that carries a resolved identity.
// It is total: every path yields a decision. Rules match by path prefix,
// most specific first.
//
// Callers must route requests WITHOUT a usable identity through
// AuthorizeAnonymous instead; an authenticated session with an empty role
// set is not the same thing as no session, and conflating the two would let
// role checks be bypassed.
func Authorize(path string, roles identity.RoleSet) Decision {
	switch {
	case strings.HasPrefix(path, patientAreaPath):
		if roles.Has(identity.RolePatient) {
			return allow()
		}
		return redirectTo(PatientEntryPath)
	case strings.HasPrefix(path, adminAreaPath):
		if roles.Has(identity.RoleClinicAdmin) {
			return allow()
		}
		return redirectTo(ProEntryPath)
	case strings.HasPrefix(path, proAreaPath):
		if roles.HasAny(identity.ProfessionalRoles...) {
			return allow()
		}
		return redirectTo(ProEntryPath)
	}
	// the shared dashboard under /app and everything outside /app is open
	// to any resolved identity
	return allow()
}

// AuthorizeAnonymous decides access for a request with no resolvable
// session. Anything under /app short-circuits to the entry point of the
// population the path belongs to; everything else is public.
func AuthorizeAnonymous(path string) Decision {
	if !strings.HasPrefix(path, appPrefix) {
		return allow()
	}
	if strings.HasPrefix(path, proAreaPath) {
		return redirectTo(ProEntryPath)
	}
	return redirectTo(PatientEntryPath)
}
