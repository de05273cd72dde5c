package querysafety

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"security-gateway/backend/internal/event"
	"security-gateway/backend/internal/telemetry"
)

// AuditEntry records one database access.
type AuditEntry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Operation string         `json:"operation"`
	Table     string         `json:"table,omitempty"`
	UserID    string         `json:"userId,omitempty"`
	IP        string         `json:"ip,omitempty"`
	Success   bool           `json:"success"`
	Error     string         `json:"error,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// AuditStore persists audit entries.
type AuditStore interface {
	SaveQueryAudit(ctx context.Context, e AuditEntry) error
}

// AuditLog keeps recent entries in memory and persists them best-effort.
type AuditLog struct {
	ring  *event.Ring[AuditEntry]
	store AuditStore
	async *telemetry.Async
}

// NewAuditLog returns a log holding capacity entries. store may be nil to keep entries in memory
// only. When store is set and async is nil, the log runs its own background runner.
func NewAuditLog(capacity int, store AuditStore, async *telemetry.Async) *AuditLog {
	if store != nil && async == nil {
		async = telemetry.NewAsync(nil, 0)
	}
	return &AuditLog{ring: event.NewRing[AuditEntry](capacity), store: store, async: async}
}

// Flush waits for pending writes to the store.
func (a *AuditLog) Flush(ctx context.Context) error {
	return a.async.Wait(ctx)
}

// Record masks sensitive details, buffers e and persists it in the background.
func (a *AuditLog) Record(e AuditEntry) AuditEntry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	e.Details = MaskDetails(e.Details)
	a.ring.Push(e)
	if a.store != nil {
		a.async.Go("persist query audit", func(ctx context.Context) error {
			return a.store.SaveQueryAudit(WithoutAudit(ctx), e)
		})
	}
	return e
}

// Recent returns up to n newest entries, newest first. n <= 0 returns all.
func (a *AuditLog) Recent(n int) []AuditEntry {
	all := a.ring.Snapshot()
	if n <= 0 || n > len(all) {
		n = len(all)
	}
	out := make([]AuditEntry, 0, n)
	for i := len(all) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, all[i])
	}
	return out
}

var sensitiveKey = regexp.MustCompile(`(?i)pass(word)?|secret|token|api_?key|authorization|cookie|email|phone|card|cvv|ssn|iban`)

// MaskDetails returns a copy of details with sensitive values partially masked.
func MaskDetails(details map[string]any) map[string]any {
	if len(details) == 0 {
		return details
	}
	out := make(map[string]any, len(details))
	for k, v := range details {
		switch t := v.(type) {
		case map[string]any:
			out[k] = MaskDetails(t)
		case string:
			if sensitiveKey.MatchString(k) {
				out[k] = MaskValue(t)
			} else {
				out[k] = t
			}
		default:
			if sensitiveKey.MatchString(k) && v != nil {
				out[k] = "****"
			} else {
				out[k] = v
			}
		}
	}
	return out
}

// MaskValue keeps just enough of s to correlate: the first character of an email's local part
// and its domain, otherwise the first and last two characters.
func MaskValue(s string) string {
	if at := strings.LastIndexByte(s, '@'); at > 0 {
		return s[:1] + "***" + s[at:]
	}
	if len(s) <= 6 {
		return "****"
	}
	return s[:2] + "****" + s[len(s)-2:]
}

type auditCtxKey struct{}

// WithoutAudit marks ctx so SafeDB skips auditing. Used by the audit store itself.
func WithoutAudit(ctx context.Context) context.Context {
	return context.WithValue(ctx, auditCtxKey{}, true)
}

func auditDisabled(ctx context.Context) bool {
	v, _ := ctx.Value(auditCtxKey{}).(bool)
	return v
}
