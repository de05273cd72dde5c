package repository

import (
	"context"

	"security-gateway/backend/internal/audit/domain"
	"security-gateway/backend/internal/event"
	"security-gateway/backend/internal/querysafety"
)

// Repository persists security events and query audit entries. It satisfies monitor.EventStore
// and querysafety.AuditStore.
type Repository interface {
	SaveEvent(ctx context.Context, e event.Event) error
	ListEvents(ctx context.Context, q domain.EventQuery) ([]event.Event, error)
	SaveQueryAudit(ctx context.Context, e querysafety.AuditEntry) error
	ListQueryAudits(ctx context.Context, q domain.AuditQuery) ([]querysafety.AuditEntry, error)
}
