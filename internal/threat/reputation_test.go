package threat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReputation_MonotonicUntilDecay(t *testing.T) {
	now := time.Now()
	r := NewReputations(true)
	r.now = func() time.Time { return now }
	ip := "203.0.113.7"

	prev := 0.0
	for i := 0; i < 10; i++ {
		s := r.Increase(ip, 15)
		assert.GreaterOrEqual(t, s, prev)
		prev = s
		now = now.Add(time.Hour)
	}
	assert.Equal(t, 150.0, prev)
	assert.Equal(t, VerdictWarning, r.Check(ip).Verdict)

	now = now.Add(25 * time.Hour)
	check := r.Check(ip)
	assert.Equal(t, 75.0, check.Score)
	assert.Equal(t, VerdictAllowed, check.Verdict)

	// Decay is applied once per idle period, not on every read.
	assert.Equal(t, 75.0, r.Check(ip).Score)
}

func TestReputation_Classification(t *testing.T) {
	r := NewReputations(true)
	ip := "198.51.100.20"
	r.Increase(ip, 100)
	assert.Equal(t, VerdictAllowed, r.Check(ip).Verdict)
	r.Increase(ip, 1)
	assert.Equal(t, VerdictWarning, r.Check(ip).Verdict)
	r.Increase(ip, 100)
	assert.Equal(t, VerdictBlocked, r.Check(ip).Verdict)
}

func TestReputation_NeverNegative(t *testing.T) {
	r := NewReputations(true)
	ip := "198.51.100.21"
	r.Increase(ip, 10)
	assert.Equal(t, 10.0, r.Increase(ip, -50))
	assert.GreaterOrEqual(t, r.Score(ip), 0.0)
}

func TestReputation_Bypass(t *testing.T) {
	r := NewReputations(true)
	for _, ip := range []string{"127.0.0.1", "::1", "10.1.2.3", "192.168.0.10", "172.16.5.4", "::ffff:10.0.0.1"} {
		r.Increase(ip, 500)
		check := r.Check(ip)
		assert.True(t, check.Bypassed, ip)
		assert.Equal(t, VerdictAllowed, check.Verdict, ip)
		assert.Zero(t, r.Score(ip), ip)
	}

	dev := NewReputations(false)
	dev.Increase("203.0.113.9", 500)
	assert.Equal(t, VerdictAllowed, dev.Check("203.0.113.9").Verdict)
}

func TestReputation_Prune(t *testing.T) {
	now := time.Now()
	r := NewReputations(true)
	r.now = func() time.Time { return now }
	r.Increase("203.0.113.1", 1)
	r.Increase("203.0.113.2", 300)
	now = now.Add(48 * time.Hour)
	assert.Equal(t, 1, r.Prune())
	_, ok := r.Get("203.0.113.2")
	assert.True(t, ok)
}
