package querysafety

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"security-gateway/backend/internal/apierror"
	"security-gateway/backend/internal/event"
	"security-gateway/backend/internal/logging"
	"security-gateway/backend/internal/server/interceptors"
)

// SafeDB is the only path to the database. Every statement passes ValidateQuery and is audited;
// rejected statements return an Integrity error that carries no query detail to clients.
type SafeDB struct {
	db      *sql.DB
	dialect Dialect
	audit   *AuditLog
	events  event.Recorder
	logger  *zap.Logger
}

// NewSafeDB wraps db. audit, events and logger may be nil.
func NewSafeDB(db *sql.DB, dialect Dialect, audit *AuditLog, events event.Recorder, logger *zap.Logger) *SafeDB {
	return &SafeDB{
		db:      db,
		dialect: dialect,
		audit:   audit,
		events:  event.OrNop(events),
		logger:  logging.WithComponent(logger, "safedb"),
	}
}

// Dialect returns the placeholder dialect of the underlying driver.
func (s *SafeDB) Dialect() Dialect { return s.dialect }

// QueryContext validates and runs a query returning rows.
func (s *SafeDB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if err := s.check(ctx, query, args); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	s.record(ctx, query, args, err)
	return rows, err
}

// ExecContext validates and runs a statement.
func (s *SafeDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if err := s.check(ctx, query, args); err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	s.record(ctx, query, args, err)
	return res, err
}

// PingContext checks the connection.
func (s *SafeDB) PingContext(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close closes the underlying pool.
func (s *SafeDB) Close() error { return s.db.Close() }

func (s *SafeDB) check(ctx context.Context, query string, args []any) error {
	err := ValidateQuery(query, args)
	if err == nil {
		return nil
	}
	var rej *RejectedError
	reason := err.Error()
	if errors.As(err, &rej) {
		reason = rej.Reason
	}
	ip := interceptors.GetClientIP(ctx)
	s.logger.Warn("query rejected", zap.String("reason", reason), zap.String("ip", ip))
	s.events.Record(ctx, event.New(event.TypeQueryRejected, event.SeverityHigh, ip).
		WithUser(userID(ctx)).
		With("reason", reason))
	s.record(ctx, query, args, err)
	return apierror.Integrity(err)
}

var (
	operationPattern = regexp.MustCompile(`(?i)^\s*(select|insert|update|delete|with|upsert|replace)\b`)
	tablePattern     = regexp.MustCompile(`(?i)\b(from|into|update)\s+"?([A-Za-z_][A-Za-z0-9_]*)"?`)
)

func (s *SafeDB) record(ctx context.Context, query string, args []any, err error) {
	if s.audit == nil || auditDisabled(ctx) {
		return
	}
	e := AuditEntry{
		Operation: "UNKNOWN",
		UserID:    userID(ctx),
		IP:        interceptors.GetClientIP(ctx),
		Success:   err == nil,
		Details:   map[string]any{"param_count": len(args)},
	}
	if m := operationPattern.FindStringSubmatch(query); m != nil {
		e.Operation = strings.ToUpper(m[1])
	}
	if m := tablePattern.FindStringSubmatch(query); m != nil {
		e.Table = m[2]
	}
	if err != nil {
		e.Error = "rejected"
		if !errors.Is(err, ErrQueryRejected) {
			e.Error = "execution failed"
		}
	}
	s.audit.Record(e)
}

func userID(ctx context.Context) string {
	id, _ := interceptors.GetUserID(ctx)
	return id
}
