package domain

import (
	"time"

	"security-gateway/backend/internal/event"
)

// EventQuery selects persisted security events. Zero fields match everything.
type EventQuery struct {
	Type        event.Type
	MinSeverity event.Severity
	IP          string
	UserID      string
	Since       time.Time
	Until       time.Time
	Limit       int
}

// AuditQuery selects persisted query audit entries. Zero fields match everything.
type AuditQuery struct {
	Table      string
	UserID     string
	FailedOnly bool
	Since      time.Time
	Limit      int
}

// DefaultLimit and MaxLimit bound list queries.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// ClampLimit returns n bounded to (0, MaxLimit], DefaultLimit when n <= 0.
func ClampLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultLimit
	case n > MaxLimit:
		return MaxLimit
	default:
		return n
	}
}

// SeveritiesAtLeast lists the severities ranked at or above min.
func SeveritiesAtLeast(min event.Severity) []event.Severity {
	all := []event.Severity{event.SeverityLow, event.SeverityMedium, event.SeverityHigh, event.SeverityCritical}
	var out []event.Severity
	for _, s := range all {
		if s.AtLeast(min) {
			out = append(out, s)
		}
	}
	return out
}
