package threat

import (
	"context"

	"security-gateway/backend/internal/apierror"
	"security-gateway/backend/internal/event"
)

// Admit applies the rate limit and reputation checks to a call that has no HTTP body to scan,
// such as an RPC. target names the call in recorded events. The returned error is an
// *apierror.Error.
func (d *Detector) Admit(ctx context.Context, ip, target string) error {
	dec := d.limiter.Allow(ip)
	if !dec.Allowed {
		d.reputations.Increase(ip, PenaltyRateLimit)
		d.Record(ctx, d.newEvent(event.TypeRateLimitExceeded, event.SeverityMedium, ip).
			With("path", target).
			With("count", dec.Count))
		return apierror.RateLimited(apierror.CodeRateLimited, dec.RetryAfter)
	}
	switch rep := d.reputations.Check(ip); rep.Verdict {
	case VerdictBlocked:
		d.Record(ctx, d.newEvent(event.TypeIPBlocked, event.SeverityHigh, ip).
			With("score", rep.Score).
			With("path", target))
		return apierror.Forbidden(apierror.CodeIPBlocked, "Access denied")
	case VerdictWarning:
		d.Record(ctx, d.newEvent(event.TypeSuspiciousActivity, event.SeverityMedium, ip).
			With("score", rep.Score))
	}
	return nil
}
