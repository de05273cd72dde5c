// Package loki pushes security events and alerts to Grafana Loki.
package loki

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"security-gateway/backend/internal/event"
	"security-gateway/backend/internal/monitor"
)

// PushRequest is the Loki push API request body (v1).
type PushRequest struct {
	Streams []Stream `json:"streams"`
}

// Stream is a single stream with labels and log entries.
type Stream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"` // each entry is [timestamp_ns, log_line]
}

// labelSanitize replaces characters we avoid in Loki label values.
var labelSanitize = regexp.MustCompile(`[^a-zA-Z0-9_\-:.]`)

// ErrNoURL is returned when the client has no base URL.
var ErrNoURL = errors.New("loki: base URL is empty")

// Client pushes log lines to a Loki instance.
type Client struct {
	baseURL string
	job     string
	http    *http.Client
}

// NewClient returns a client for baseURL (e.g. http://localhost:3100). httpClient may be nil.
func NewClient(baseURL, job string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if job == "" {
		job = "security-gateway"
	}
	return &Client{baseURL: strings.TrimSuffix(baseURL, "/"), job: job, http: httpClient}
}

// Emit pushes e as a JSON line labelled with its type and severity. Implements telemetry.EventEmitter.
func (c *Client) Emit(ctx context.Context, e event.Event) error {
	line, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return c.Push(ctx, e.Timestamp, string(line), eventLabels(e))
}

// SendAlert pushes a as a JSON line. Implements monitor.AlertSink.
func (c *Client) SendAlert(ctx context.Context, a monitor.Alert) error {
	line, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return c.Push(ctx, a.Timestamp, string(line), map[string]string{
		"kind":       "alert",
		"alert_type": string(a.Type),
		"severity":   string(a.Severity),
	})
}

// PushJSON pushes a raw Kafka message value of the given kind ("event" or "alert"). Labels and
// timestamp are taken from the payload when it parses; otherwise the raw line is pushed at the
// current time.
func (c *Client) PushJSON(ctx context.Context, kind string, raw []byte) error {
	ts := time.Now().UTC()
	labels := map[string]string{"kind": kind}
	if kind == "alert" {
		var a monitor.Alert
		if err := json.Unmarshal(raw, &a); err == nil {
			labels["alert_type"] = string(a.Type)
			labels["severity"] = string(a.Severity)
			if !a.Timestamp.IsZero() {
				ts = a.Timestamp
			}
		}
	} else {
		var e event.Event
		if err := json.Unmarshal(raw, &e); err == nil {
			labels = eventLabels(e)
			if !e.Timestamp.IsZero() {
				ts = e.Timestamp
			}
		}
	}
	return c.Push(ctx, ts, string(raw), labels)
}

func eventLabels(e event.Event) map[string]string {
	return map[string]string{
		"kind":       "event",
		"event_type": string(e.Type),
		"severity":   string(e.Severity),
	}
}

// Push sends a single log line. Returns an error if the request fails or Loki returns non-2xx.
func (c *Client) Push(ctx context.Context, timestamp time.Time, line string, labels map[string]string) error {
	if c == nil || c.baseURL == "" {
		return ErrNoURL
	}
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}
	streamLabels := make(map[string]string, len(labels)+1)
	streamLabels["job"] = c.job
	for k, v := range labels {
		if sanitized := labelSanitize.ReplaceAllString(strings.TrimSpace(v), "_"); sanitized != "" {
			streamLabels[k] = sanitized
		}
	}
	body := PushRequest{
		Streams: []Stream{{
			Stream: streamLabels,
			Values: [][]string{{strconv.FormatInt(timestamp.UnixNano(), 10), line}},
		}},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/loki/api/v1/push", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("loki: push returned %s", resp.Status)
	}
	return nil
}
