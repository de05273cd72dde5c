package engine

import (
	"context"

	"security-gateway/backend/internal/policy/domain"
)

// Authorizer decides whether a subject may perform an action on a resource.
type Authorizer interface {
	// Authorize evaluates in. Evaluation errors deny: the returned Decision is never Allowed
	// when err is non-nil.
	Authorize(ctx context.Context, in domain.Input) (domain.Decision, error)
}

// SubjectFromClaims builds the policy subject from verified token identity.
func SubjectFromClaims(userID, tenantID, role string, permissions []string) domain.Subject {
	if permissions == nil {
		permissions = []string{}
	}
	return domain.Subject{UserID: userID, TenantID: tenantID, Role: role, Permissions: permissions}
}
