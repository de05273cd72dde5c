package threat

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"security-gateway/backend/internal/apierror"
	"security-gateway/backend/internal/event"
)

// ClientIPFunc resolves the caller address of r.
type ClientIPFunc func(r *http.Request) string

// Middleware applies, in order, size limit, rate limit, slow-down, reputation and attack
// detection. Rejections use the JSON error envelope.
func (d *Detector) Middleware(clientIP ClientIPFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ip := clientIP(r)

			body, err := d.limitBody(w, r)
			if err != nil {
				d.Record(ctx, d.newEvent(event.TypeRequestTooLarge, event.SeverityMedium, ip).
					With("path", r.URL.Path).
					With("content_length", r.ContentLength))
				apierror.Write(w, apierror.TooLarge())
				return
			}

			dec := d.limiter.Allow(ip)
			w.Header().Set("RateLimit-Limit", strconv.Itoa(dec.Limit))
			w.Header().Set("RateLimit-Remaining", strconv.Itoa(dec.Remaining))
			if !dec.Allowed {
				d.reputations.Increase(ip, PenaltyRateLimit)
				d.Record(ctx, d.newEvent(event.TypeRateLimitExceeded, event.SeverityMedium, ip).
					With("path", r.URL.Path).
					With("count", dec.Count))
				apierror.Write(w, apierror.RateLimited(apierror.CodeRateLimited, dec.RetryAfter))
				return
			}

			if delay, count := d.slow.Delay(ip); delay > 0 {
				if count == d.slow.delayAfter+1 {
					d.Record(ctx, d.newEvent(event.TypeRequestSlowed, event.SeverityLow, ip).
						With("delay_ms", delay.Milliseconds()))
				}
				t := time.NewTimer(delay)
				select {
				case <-t.C:
				case <-ctx.Done():
					t.Stop()
					return
				}
			}

			switch rep := d.reputations.Check(ip); rep.Verdict {
			case VerdictBlocked:
				d.Record(ctx, d.newEvent(event.TypeIPBlocked, event.SeverityHigh, ip).
					With("score", rep.Score).
					With("path", r.URL.Path))
				apierror.Write(w, apierror.Forbidden(apierror.CodeIPBlocked, "Access denied"))
				return
			case VerdictWarning:
				d.Record(ctx, d.newEvent(event.TypeSuspiciousActivity, event.SeverityMedium, ip).
					With("score", rep.Score))
			}

			if det := d.patterns.Detect(InspectionFromRequest(r, body)); det.Detected {
				sev, points := event.SeverityHigh, float64(PenaltyAttack)
				if det.Type.Critical() {
					sev, points = event.SeverityCritical, PenaltyCriticalAttack
				}
				score := d.reputations.Increase(ip, points)
				d.logger.Warn("attack pattern detected",
					zap.String("ip", ip),
					zap.String("type", string(det.Type)),
					zap.String("location", det.Location),
					zap.String("path", r.URL.Path))
				d.Record(ctx, d.newEvent(event.TypeAttackDetected, sev, ip).
					With("attack_type", string(det.Type)).
					With("location", det.Location).
					With("path", r.URL.Path).
					With("method", r.Method).
					With("score", score))
				apierror.Write(w, apierror.Threat(apierror.CodeThreatDetected))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// limitBody rejects bodies over the size limit and buffers the rest so it can be scanned and
// read again downstream.
func (d *Detector) limitBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if d.maxSize > 0 && r.ContentLength > d.maxSize {
		return nil, errTooLarge
	}
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	var src io.Reader = r.Body
	if d.maxSize > 0 {
		src = http.MaxBytesReader(w, r.Body, d.maxSize)
	}
	body, err := io.ReadAll(src)
	_ = r.Body.Close()
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, errTooLarge
		}
		d.logger.Debug("read request body", zap.Error(err))
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

var errTooLarge = errors.New("request body too large")
