// Package handler serves the security reporting endpoints.
package handler

import (
	"context"
	"net/http"
	"net/netip"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"security-gateway/backend/internal/apierror"
	auditdomain "security-gateway/backend/internal/audit/domain"
	"security-gateway/backend/internal/event"
	"security-gateway/backend/internal/logging"
	"security-gateway/backend/internal/monitor"
	"security-gateway/backend/internal/threat"
)

// EventLister reads persisted security events.
type EventLister interface {
	ListEvents(ctx context.Context, q auditdomain.EventQuery) ([]event.Event, error)
}

// ReputationSource exposes the current reputation of an address.
type ReputationSource interface {
	Reputation(ip string) (threat.Reputation, bool)
}

// IPResponse is the body of GET /api/security/ip/{ip}.
type IPResponse struct {
	monitor.IPAnalysis
	Reputation *threat.Reputation `json:"reputation,omitempty"`
}

// EventsResponse is the body of GET /api/security/events.
type EventsResponse struct {
	Source string        `json:"source"`
	Count  int           `json:"count"`
	Events []event.Event `json:"events"`
}

// SecurityHandler serves reports from the monitor, backed by the durable event log when set.
type SecurityHandler struct {
	monitor     *monitor.Monitor
	events      EventLister
	reputations ReputationSource
	logger      *zap.Logger
}

// NewSecurityHandler returns the handler. events and reputations may be nil.
func NewSecurityHandler(m *monitor.Monitor, events EventLister, reputations ReputationSource, logger *zap.Logger) *SecurityHandler {
	return &SecurityHandler{monitor: m, events: events, reputations: reputations, logger: logging.WithComponent(logger, "security_handler")}
}

// Report handles GET /api/security/report.
func (h *SecurityHandler) Report(w http.ResponseWriter, r *http.Request) {
	apierror.WriteJSON(w, http.StatusOK, h.monitor.Report())
}

// IP handles GET /api/security/ip/{ip}.
func (h *SecurityHandler) IP(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["ip"]
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		apierror.Write(w, apierror.Validation("invalid IP address"))
		return
	}
	ip := addr.String()
	resp := IPResponse{IPAnalysis: h.monitor.AnalyzeIP(ip)}
	if h.reputations != nil {
		if rep, ok := h.reputations.Reputation(ip); ok {
			resp.Reputation = &rep
		}
	}
	apierror.WriteJSON(w, http.StatusOK, resp)
}

// Events handles GET /api/security/events?type=&severity=&ip=&since=&limit=.
// since is RFC 3339. The durable log is used when configured, the in-memory buffer otherwise.
func (h *SecurityHandler) Events(w http.ResponseWriter, r *http.Request) {
	q, err := parseEventQuery(r)
	if err != nil {
		apierror.Write(w, err)
		return
	}
	if h.events != nil {
		list, err := h.events.ListEvents(r.Context(), q)
		if err == nil {
			apierror.WriteJSON(w, http.StatusOK, EventsResponse{Source: "store", Count: len(list), Events: nonNil(list)})
			return
		}
		h.logger.Warn("list persisted events failed; serving buffer", zap.Error(err))
	}
	list := h.monitor.Events(monitor.EventFilter{
		Type:        q.Type,
		MinSeverity: q.MinSeverity,
		IP:          q.IP,
		Since:       q.Since,
		Limit:       q.Limit,
	})
	apierror.WriteJSON(w, http.StatusOK, EventsResponse{Source: "buffer", Count: len(list), Events: nonNil(list)})
}

func nonNil(list []event.Event) []event.Event {
	if list == nil {
		return []event.Event{}
	}
	return list
}

func validSeverity(s event.Severity) bool {
	switch s {
	case event.SeverityLow, event.SeverityMedium, event.SeverityHigh, event.SeverityCritical:
		return true
	}
	return false
}

func parseEventQuery(r *http.Request) (auditdomain.EventQuery, error) {
	v := r.URL.Query()
	q := auditdomain.EventQuery{
		Type:   event.Type(v.Get("type")),
		UserID: v.Get("userId"),
	}
	if s := v.Get("severity"); s != "" {
		sev := event.Severity(s)
		if !validSeverity(sev) {
			return q, apierror.Validation("severity must be one of low, medium, high, critical")
		}
		q.MinSeverity = sev
	}
	if s := v.Get("ip"); s != "" {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return q, apierror.Validation("invalid IP address")
		}
		q.IP = addr.String()
	}
	if s := v.Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return q, apierror.Validation("since must be an RFC 3339 timestamp")
		}
		q.Since = t
	}
	if s := v.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return q, apierror.Validation("limit must be a positive integer")
		}
		q.Limit = n
	}
	q.Limit = auditdomain.ClampLimit(q.Limit)
	return q, nil
}
