package session

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const admissionPruneThreshold = 1024

type admissionEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Admission enforces a minimum spacing between accepted stream attempts
// from the same participant. Rejected attempts are not queued.
type Admission struct {
	mu      sync.Mutex
	m       map[string]*admissionEntry
	spacing time.Duration
	now     func() time.Time
}

// NewAdmission creates an admission pool. A non-positive spacing admits
// every attempt.
func NewAdmission(minSpacing time.Duration) *Admission {
	return &Admission{
		m:       make(map[string]*admissionEntry),
		spacing: minSpacing,
		now:     time.Now,
	}
}

// Allow reports whether an attempt by key may proceed now.
func (a *Admission) Allow(key string) bool {
	if a.spacing <= 0 {
		return true
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	if len(a.m) > admissionPruneThreshold {
		a.pruneLocked(now)
	}
	e, ok := a.m[key]
	if !ok {
		e = &admissionEntry{limiter: rate.NewLimiter(rate.Every(a.spacing), 1)}
		a.m[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// pruneLocked drops limiters idle long enough to have refilled.
func (a *Admission) pruneLocked(now time.Time) {
	for k, e := range a.m {
		if now.Sub(e.lastSeen) > a.spacing {
			delete(a.m, k)
		}
	}
}
