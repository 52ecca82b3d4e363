// Package ratelimit provides per-tenant fixed-window admission control.
package ratelimit

import (
	"sync"
	"time"
)

const (
	// DefaultCeiling is the default per-tenant event budget per window.
	DefaultCeiling = 10_000

	// DefaultWindow is the default admission window length.
	DefaultWindow = time.Minute
)

// Config holds tunable parameters for the limiter.
type Config struct {
	Ceiling int           // events admitted per tenant per window
	Window  time.Duration // window length
}

// Limiter admits events per tenant within a fixed window. Admission is a
// single atomic step against the tenant's window counter, so concurrent
// ingestion workers never race a read-then-write update. Exceeding the
// ceiling rejects only the excess: a batch straddling the budget is
// admitted partially, in order.
type Limiter struct {
	ceiling int
	window  time.Duration
	now     func() time.Time

	mu      sync.Mutex
	tenants map[string]*windowCounter
}

type windowCounter struct {
	mu    sync.Mutex
	start time.Time
	count int
}

// NewLimiter creates a limiter. Zero config fields fall back to defaults.
func NewLimiter(conf ...Config) *Limiter {
	ceiling := DefaultCeiling
	window := DefaultWindow
	if len(conf) > 0 {
		if conf[0].Ceiling > 0 {
			ceiling = conf[0].Ceiling
		}
		if conf[0].Window > 0 {
			window = conf[0].Window
		}
	}
	return &Limiter{
		ceiling: ceiling,
		window:  window,
		now:     time.Now,
		tenants: make(map[string]*windowCounter),
	}
}

// Admit requests admission for n events. It returns how many of them are
// admitted (0..n, taken from the front) and the time the current window
// resets, for reporting with rate_limited outcomes.
func (l *Limiter) Admit(tenant string, n int) (admitted int, resetAt time.Time) {
	if n <= 0 {
		return 0, time.Time{}
	}

	wc := l.counter(tenant)

	wc.mu.Lock()
	defer wc.mu.Unlock()

	now := l.now()
	windowStart := now.Truncate(l.window)
	if !wc.start.Equal(windowStart) {
		wc.start = windowStart
		wc.count = 0
	}

	remaining := l.ceiling - wc.count
	if remaining < 0 {
		remaining = 0
	}
	admitted = n
	if admitted > remaining {
		admitted = remaining
	}
	wc.count += admitted

	return admitted, windowStart.Add(l.window)
}

func (l *Limiter) counter(tenant string) *windowCounter {
	l.mu.Lock()
	defer l.mu.Unlock()
	wc, ok := l.tenants[tenant]
	if !ok {
		wc = &windowCounter{}
		l.tenants[tenant] = wc
	}
	return wc
}
