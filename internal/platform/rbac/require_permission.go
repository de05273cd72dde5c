// Package rbac enforces permission checks against the policy engine for authenticated callers.
package rbac

import (
	"context"
	"errors"
	"net/http"

	"security-gateway/backend/internal/apierror"
	"security-gateway/backend/internal/event"
	"security-gateway/backend/internal/policy/domain"
	"security-gateway/backend/internal/policy/engine"
	"security-gateway/backend/internal/server/interceptors"
)

var errNoIdentity = errors.New("no authenticated identity in context")

// RequirePermission ensures the caller is authenticated and the policy allows action on resource.
// Returns the caller's user ID on success; an apierror Auth (401) or Forbidden (403) otherwise.
// An evaluation error denies.
func RequirePermission(ctx context.Context, authz engine.Authorizer, action string, resource domain.Resource) (string, error) {
	claims, ok := interceptors.GetClaims(ctx)
	if !ok || claims == nil || claims.RegisteredClaims.Subject == "" {
		return "", apierror.Auth(errNoIdentity)
	}
	in := domain.Input{
		Subject:  engine.SubjectFromClaims(claims.RegisteredClaims.Subject, claims.TenantID, claims.Role, claims.Permissions),
		Action:   action,
		Resource: resource,
	}
	d, err := authz.Authorize(ctx, in)
	if err != nil || !d.Allowed {
		return "", apierror.Forbidden(apierror.CodeForbidden, "Insufficient permissions")
	}
	return claims.RegisteredClaims.Subject, nil
}

// Require wraps next so that only callers allowed to perform action reach it. Denials are
// recorded as ACCESS_DENIED events; events may be nil.
func Require(authz engine.Authorizer, action string, events event.Recorder) func(http.Handler) http.Handler {
	events = event.OrNop(events)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if _, err := RequirePermission(ctx, authz, action, domain.Resource{}); err != nil {
				if apierror.KindOf(err) == apierror.KindForbidden {
					uid, _ := interceptors.GetUserID(ctx)
					events.Record(ctx, event.New(event.TypeAccessDenied, event.SeverityMedium, interceptors.GetClientIP(ctx)).
						WithUser(uid).
						With("action", action).
						With("path", r.URL.Path))
				}
				apierror.Write(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
