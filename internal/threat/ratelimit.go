package threat

import (
	"sync"
	"time"
)

const pruneEvery = 1024

// fixedWindow counts hits per key in fixed windows starting at each key's first hit.
type fixedWindow struct {
	mu      sync.Mutex
	size    time.Duration
	windows map[string]*window
	writes  int
	now     func() time.Time
}

type window struct {
	start time.Time
	count int
}

func newFixedWindow(size time.Duration) *fixedWindow {
	return &fixedWindow{size: size, windows: make(map[string]*window), now: time.Now}
}

// hit counts one request for key and returns the count in the current window and its reset time.
func (f *fixedWindow) hit(key string) (int, time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	w, ok := f.windows[key]
	if !ok || !now.Before(w.start.Add(f.size)) {
		w = &window{start: now}
		f.windows[key] = w
	}
	w.count++
	f.writes++
	if f.writes%pruneEvery == 0 {
		f.pruneLocked(now)
	}
	return w.count, w.start.Add(f.size)
}

func (f *fixedWindow) pruneLocked(now time.Time) int {
	n := 0
	for k, w := range f.windows {
		if !now.Before(w.start.Add(f.size)) {
			delete(f.windows, k)
			n++
		}
	}
	return n
}

func (f *fixedWindow) prune() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pruneLocked(f.now())
}

// Decision is the outcome of RateLimiter.Allow.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	Count      int
	RetryAfter time.Duration
}

// RateLimiter is a per-key fixed window counter.
type RateLimiter struct {
	win *fixedWindow
	max int
}

// NewRateLimiter allows max requests per key in each window.
func NewRateLimiter(window time.Duration, max int) *RateLimiter {
	return &RateLimiter{win: newFixedWindow(window), max: max}
}

// Allow counts a request for key. Requests beyond max in the window are refused until it resets.
func (l *RateLimiter) Allow(key string) Decision {
	count, reset := l.win.hit(key)
	d := Decision{Limit: l.max, Count: count, Allowed: count <= l.max}
	if d.Allowed {
		d.Remaining = l.max - count
		return d
	}
	d.RetryAfter = reset.Sub(l.win.now())
	if d.RetryAfter < time.Second {
		d.RetryAfter = time.Second
	}
	return d
}

// SlowDown delays requests once a key exceeds delayAfter hits in a window.
type SlowDown struct {
	win        *fixedWindow
	delayAfter int
	step       time.Duration
	maxDelay   time.Duration
}

// NewSlowDown adds step for every request past delayAfter, capped at maxDelay.
func NewSlowDown(window time.Duration, delayAfter int, step, maxDelay time.Duration) *SlowDown {
	return &SlowDown{win: newFixedWindow(window), delayAfter: delayAfter, step: step, maxDelay: maxDelay}
}

// Delay counts a request for key and returns the delay to apply and the count in the window.
func (s *SlowDown) Delay(key string) (time.Duration, int) {
	count, _ := s.win.hit(key)
	if s.step <= 0 || count <= s.delayAfter {
		return 0, count
	}
	d := time.Duration(count-s.delayAfter) * s.step
	if s.maxDelay > 0 && d > s.maxDelay {
		d = s.maxDelay
	}
	return d, count
}
