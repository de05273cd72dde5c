package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"security-gateway/backend/internal/audit/domain"
	"security-gateway/backend/internal/event"
	"security-gateway/backend/internal/querysafety"
)

const (
	tableEvents = "security_events"
	tableAudits = "query_audit_logs"
)

// Whitelist is the closed set of identifiers this repository builds filters on.
var Whitelist = querysafety.NewWhitelist(
	[]string{tableEvents, tableAudits},
	[]string{"type", "severity", "ip", "user_id", "created_at", "table_name", "success"},
)

// SQLRepository implements Repository on Postgres or SQLite through SafeDB. Its own writes are
// excluded from query auditing.
type SQLRepository struct {
	db      *querysafety.SafeDB
	builder querysafety.Builder
}

// NewSQLRepository returns a repository over db.
func NewSQLRepository(db *querysafety.SafeDB) *SQLRepository {
	return &SQLRepository{
		db:      db,
		builder: querysafety.Builder{Dialect: db.Dialect(), Whitelist: Whitelist},
	}
}

func (r *SQLRepository) ph(n int) string { return r.db.Dialect().Placeholder(n) }

// SaveEvent persists e.
func (r *SQLRepository) SaveEvent(ctx context.Context, e event.Event) error {
	details, err := marshalDetails(e.Details)
	if err != nil {
		return err
	}
	q := fmt.Sprintf(`INSERT INTO security_events (id, type, severity, ip, user_id, details, created_at) VALUES (%s, %s, %s, %s, %s, %s, %s)`,
		r.ph(1), r.ph(2), r.ph(3), r.ph(4), r.ph(5), r.ph(6), r.ph(7))
	_, err = r.db.ExecContext(querysafety.WithoutAudit(ctx), q,
		e.ID, string(e.Type), string(e.Severity), e.IP, e.UserID, details, e.Timestamp.UTC())
	return err
}

// ListEvents returns events matching q, newest first.
func (r *SQLRepository) ListEvents(ctx context.Context, q domain.EventQuery) ([]event.Event, error) {
	var conds []querysafety.Condition
	if q.Type != "" {
		conds = append(conds, querysafety.Condition{Column: "type", Op: querysafety.OpEq, Value: string(q.Type)})
	}
	if q.MinSeverity != "" {
		var vals []any
		for _, s := range domain.SeveritiesAtLeast(q.MinSeverity) {
			vals = append(vals, string(s))
		}
		conds = append(conds, querysafety.Condition{Column: "severity", Op: querysafety.OpIn, Values: vals})
	}
	if q.IP != "" {
		conds = append(conds, querysafety.Condition{Column: "ip", Op: querysafety.OpEq, Value: q.IP})
	}
	if q.UserID != "" {
		conds = append(conds, querysafety.Condition{Column: "user_id", Op: querysafety.OpEq, Value: q.UserID})
	}
	if !q.Since.IsZero() || !q.Until.IsZero() {
		conds = append(conds, querysafety.Condition{Column: "created_at", Op: querysafety.OpDateRange, From: q.Since.UTC(), To: q.Until.UTC()})
	}
	query, args, err := r.listQuery(tableEvents, "id, type, severity, ip, user_id, details, created_at", conds, q.Limit)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []event.Event
	for rows.Next() {
		var (
			e       event.Event
			typ     string
			sev     string
			details sql.NullString
		)
		if err := rows.Scan(&e.ID, &typ, &sev, &e.IP, &e.UserID, &details, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Type, e.Severity = event.Type(typ), event.Severity(sev)
		if e.Details, err = unmarshalDetails(details); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SaveQueryAudit persists an audit entry.
func (r *SQLRepository) SaveQueryAudit(ctx context.Context, e querysafety.AuditEntry) error {
	details, err := marshalDetails(e.Details)
	if err != nil {
		return err
	}
	q := fmt.Sprintf(`INSERT INTO query_audit_logs (id, operation, table_name, user_id, ip, success, error, details, created_at) VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		r.ph(1), r.ph(2), r.ph(3), r.ph(4), r.ph(5), r.ph(6), r.ph(7), r.ph(8), r.ph(9))
	_, err = r.db.ExecContext(querysafety.WithoutAudit(ctx), q,
		e.ID, e.Operation, e.Table, e.UserID, e.IP, e.Success, e.Error, details, e.Timestamp.UTC())
	return err
}

// ListQueryAudits returns audit entries matching q, newest first.
func (r *SQLRepository) ListQueryAudits(ctx context.Context, q domain.AuditQuery) ([]querysafety.AuditEntry, error) {
	var conds []querysafety.Condition
	if q.Table != "" {
		conds = append(conds, querysafety.Condition{Column: "table_name", Op: querysafety.OpEq, Value: q.Table})
	}
	if q.UserID != "" {
		conds = append(conds, querysafety.Condition{Column: "user_id", Op: querysafety.OpEq, Value: q.UserID})
	}
	if q.FailedOnly {
		conds = append(conds, querysafety.Condition{Column: "success", Op: querysafety.OpEq, Value: false})
	}
	if !q.Since.IsZero() {
		conds = append(conds, querysafety.Condition{Column: "created_at", Op: querysafety.OpDateRange, From: q.Since.UTC()})
	}
	query, args, err := r.listQuery(tableAudits, "id, operation, table_name, user_id, ip, success, error, details, created_at", conds, q.Limit)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(querysafety.WithoutAudit(ctx), query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []querysafety.AuditEntry
	for rows.Next() {
		var (
			e       querysafety.AuditEntry
			details sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Operation, &e.Table, &e.UserID, &e.IP, &e.Success, &e.Error, &details, &e.Timestamp); err != nil {
			return nil, err
		}
		if e.Details, err = unmarshalDetails(details); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *SQLRepository) listQuery(table, columns string, conds []querysafety.Condition, limit int) (string, []any, error) {
	tbl, err := Whitelist.SafeTableIdentifier(table)
	if err != nil {
		return "", nil, err
	}
	where, args, err := r.builder.BuildWhereClause(conds, 1)
	if err != nil {
		return "", nil, err
	}
	query := fmt.Sprintf(`SELECT %s FROM %s %s ORDER BY created_at DESC LIMIT %s`, columns, tbl, where, r.ph(len(args)+1))
	return query, append(args, domain.ClampLimit(limit)), nil
}

func marshalDetails(d map[string]any) (any, error) {
	if len(d) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal details: %w", err)
	}
	return string(b), nil
}

func unmarshalDetails(s sql.NullString) (map[string]any, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var d map[string]any
	if err := json.Unmarshal([]byte(s.String), &d); err != nil {
		return nil, fmt.Errorf("unmarshal details: %w", err)
	}
	return d, nil
}
