package monitor

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"security-gateway/backend/internal/event"
)

// ThreatTier classifies an IP by the events attributed to it.
type ThreatTier string

const (
	TierLow      ThreatTier = "low"
	TierMedium   ThreatTier = "medium"
	TierHigh     ThreatTier = "high"
	TierCritical ThreatTier = "critical"
)

// IPAnalysis summarizes the buffered events of one IP.
type IPAnalysis struct {
	IP         string                 `json:"ip"`
	Tier       ThreatTier             `json:"threatLevel"`
	Total      int                    `json:"totalEvents"`
	BySeverity map[event.Severity]int `json:"bySeverity"`
	ByType     map[event.Type]int     `json:"byType"`
	FirstSeen  time.Time              `json:"firstSeen,omitempty"`
	LastSeen   time.Time              `json:"lastSeen,omitempty"`
}

// IPCount is one row of the top offenders list.
type IPCount struct {
	IP    string `json:"ip"`
	Count int    `json:"count"`
}

// Report is the periodic security summary.
type Report struct {
	GeneratedAt      time.Time              `json:"generatedAt"`
	SecurityScore    float64                `json:"securityScore"`
	Counters         Counters               `json:"counters"`
	ActiveAlerts     []Alert                `json:"activeAlerts"`
	EventsBySeverity map[event.Severity]int `json:"eventsBySeverity"`
	EventsByType     map[event.Type]int     `json:"eventsByType"`
	TopIPs           []IPCount              `json:"topIPs"`
	RecentEvents     []event.Event          `json:"recentEvents"`
}

// EventFilter selects buffered events. Zero fields match everything.
type EventFilter struct {
	Type        event.Type
	MinSeverity event.Severity
	IP          string
	Since       time.Time
	Limit       int
}

const (
	reportTopIPs = 10
	reportRecent = 20
)

// Events returns buffered events matching f, newest first.
func (m *Monitor) Events(f EventFilter) []event.Event {
	matched := m.events.Filter(func(e event.Event) bool {
		if f.Type != "" && e.Type != f.Type {
			return false
		}
		if f.MinSeverity != "" && !e.Severity.AtLeast(f.MinSeverity) {
			return false
		}
		if f.IP != "" && e.IP != f.IP {
			return false
		}
		return f.Since.IsZero() || !e.Timestamp.Before(f.Since)
	})
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched
}

// AnalyzeIP classifies ip from its buffered events.
func (m *Monitor) AnalyzeIP(ip string) IPAnalysis {
	a := IPAnalysis{
		IP:         ip,
		BySeverity: make(map[event.Severity]int),
		ByType:     make(map[event.Type]int),
	}
	for _, e := range m.events.Filter(func(e event.Event) bool { return e.IP == ip }) {
		a.Total++
		a.BySeverity[e.Severity]++
		a.ByType[e.Type]++
		if a.FirstSeen.IsZero() || e.Timestamp.Before(a.FirstSeen) {
			a.FirstSeen = e.Timestamp
		}
		if e.Timestamp.After(a.LastSeen) {
			a.LastSeen = e.Timestamp
		}
	}
	a.Tier = tierFor(a)
	return a
}

func tierFor(a IPAnalysis) ThreatTier {
	switch {
	case a.BySeverity[event.SeverityCritical] > 0 || a.BySeverity[event.SeverityHigh] >= 5:
		return TierCritical
	case a.BySeverity[event.SeverityHigh] > 0 || a.BySeverity[event.SeverityMedium] >= 5:
		return TierHigh
	case a.BySeverity[event.SeverityMedium] > 0 || a.Total >= 10:
		return TierMedium
	default:
		return TierLow
	}
}

// Report builds a summary of the current state.
func (m *Monitor) Report() Report {
	now := m.now().UTC()
	snapshot := m.events.Snapshot()
	r := Report{
		GeneratedAt:      now,
		SecurityScore:    m.CalculateSecurityScore(),
		Counters:         m.Counters(),
		EventsBySeverity: make(map[event.Severity]int),
		EventsByType:     make(map[event.Type]int),
	}
	cutoff := now.Add(-alertRetention)
	for _, a := range m.Alerts() {
		if a.Timestamp.After(cutoff) {
			r.ActiveAlerts = append(r.ActiveAlerts, a)
		}
	}
	perIP := make(map[string]int)
	for _, e := range snapshot {
		r.EventsBySeverity[e.Severity]++
		r.EventsByType[e.Type]++
		if e.IP != "" {
			perIP[e.IP]++
		}
	}
	for ip, n := range perIP {
		r.TopIPs = append(r.TopIPs, IPCount{IP: ip, Count: n})
	}
	sort.Slice(r.TopIPs, func(i, j int) bool {
		if r.TopIPs[i].Count != r.TopIPs[j].Count {
			return r.TopIPs[i].Count > r.TopIPs[j].Count
		}
		return r.TopIPs[i].IP < r.TopIPs[j].IP
	})
	if len(r.TopIPs) > reportTopIPs {
		r.TopIPs = r.TopIPs[:reportTopIPs]
	}
	r.RecentEvents = m.Events(EventFilter{Limit: reportRecent})
	return r
}

// LastReport returns the report built by the most recent Sweep, or nil.
func (m *Monitor) LastReport() *Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastReport
}

// Sweep builds and stores a report, prunes alerts older than 24 hours and resets the counters
// when the UTC day changes.
func (m *Monitor) Sweep(now time.Time) Report {
	r := m.Report()
	cutoff := now.Add(-alertRetention)

	m.mu.Lock()
	m.lastReport = &r
	kept := m.alerts[:0]
	for _, a := range m.alerts {
		if a.Timestamp.After(cutoff) {
			kept = append(kept, a)
		}
	}
	m.alerts = kept
	if day := dayOf(now); day != m.day {
		m.day = day
		m.counters = Counters{}
		m.scoreBreached = false
	}
	m.mu.Unlock()

	m.metrics.securityScore.Set(m.CalculateSecurityScore())
	m.logger.Info("security report",
		zap.Float64("score", r.SecurityScore),
		zap.Int64("requests", r.Counters.Requests),
		zap.Int64("blocked", r.Counters.Blocked),
		zap.Int64("attacks", r.Counters.Attacks),
		zap.Int("active_alerts", len(r.ActiveAlerts)))
	return r
}

// Run sweeps every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(m.now())
		}
	}
}
