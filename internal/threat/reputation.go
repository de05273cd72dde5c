package threat

import (
	"net/netip"
	"sync"
	"time"
)

// Verdict classifies an IP by its reputation score.
type Verdict string

const (
	VerdictAllowed Verdict = "allowed"
	VerdictWarning Verdict = "warning"
	VerdictBlocked Verdict = "blocked"
)

const (
	warnScore  = 100
	blockScore = 200
	decayIdle  = 24 * time.Hour
)

// Reputation is the risk score of one client address.
type Reputation struct {
	IP       string    `json:"ip"`
	Score    float64   `json:"score"`
	LastSeen time.Time `json:"lastSeen"`
}

// ReputationCheck is the result of CheckIPReputation.
type ReputationCheck struct {
	Verdict  Verdict `json:"verdict"`
	Score    float64 `json:"score"`
	Bypassed bool    `json:"bypassed,omitempty"`
}

// Reputations tracks decaying per-IP scores. Loopback and private addresses are never scored,
// and nothing is scored unless enforce is set.
type Reputations struct {
	mu      sync.Mutex
	m       map[string]*Reputation
	enforce bool
	now     func() time.Time
}

// NewReputations returns an empty tracker. enforce is false outside production.
func NewReputations(enforce bool) *Reputations {
	return &Reputations{m: make(map[string]*Reputation), enforce: enforce, now: time.Now}
}

func (r *Reputations) bypass(ip string) bool {
	if !r.enforce {
		return true
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	return addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() || addr.IsUnspecified()
}

// decay halves the score once the entry has been idle for more than a day. Caller holds mu.
func (r *Reputations) decay(rep *Reputation, now time.Time) {
	if now.Sub(rep.LastSeen) > decayIdle {
		rep.Score *= 0.5
		rep.LastSeen = now
	}
}

// Check decays and classifies ip: above 200 is blocked, above 100 a warning.
func (r *Reputations) Check(ip string) ReputationCheck {
	if r.bypass(ip) {
		return ReputationCheck{Verdict: VerdictAllowed, Bypassed: true}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rep, ok := r.m[ip]
	if !ok {
		return ReputationCheck{Verdict: VerdictAllowed}
	}
	r.decay(rep, r.now())
	return ReputationCheck{Verdict: classify(rep.Score), Score: rep.Score}
}

// Increase adds points to ip after decay and returns the new score. Negative points are ignored.
func (r *Reputations) Increase(ip string, points float64) float64 {
	if r.bypass(ip) || points <= 0 {
		return r.Score(ip)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	rep, ok := r.m[ip]
	if !ok {
		rep = &Reputation{IP: ip, LastSeen: now}
		r.m[ip] = rep
	}
	r.decay(rep, now)
	rep.Score += points
	rep.LastSeen = now
	return rep.Score
}

// Score returns the current stored score without applying decay.
func (r *Reputations) Score(ip string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rep, ok := r.m[ip]; ok {
		return rep.Score
	}
	return 0
}

// Get returns a copy of the entry for ip.
func (r *Reputations) Get(ip string) (Reputation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rep, ok := r.m[ip]
	if !ok {
		return Reputation{}, false
	}
	return *rep, true
}

// Prune drops entries idle for more than a day whose score has decayed below 1.
func (r *Reputations) Prune() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	n := 0
	for ip, rep := range r.m {
		if now.Sub(rep.LastSeen) > decayIdle && rep.Score*0.5 < 1 {
			delete(r.m, ip)
			n++
		}
	}
	return n
}

func classify(score float64) Verdict {
	switch {
	case score > blockScore:
		return VerdictBlocked
	case score > warnScore:
		return VerdictWarning
	default:
		return VerdictAllowed
	}
}
