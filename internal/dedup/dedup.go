// Package dedup suppresses re-delivered identical events within a rolling
// window.
package dedup

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/tinytelemetry/faultline/internal/fingerprint"
	"github.com/tinytelemetry/faultline/internal/model"
)

const (
	// DefaultWindow is the default suppression window.
	DefaultWindow = 10 * time.Minute

	// DefaultMaxEntries bounds the membership structure so a flood of
	// unique events cannot grow it without limit inside one window.
	DefaultMaxEntries = 1_000_000
)

// Config holds tunable parameters for the dedup window.
type Config struct {
	Window     time.Duration
	MaxEntries int
}

// Window is a time-bounded membership structure keyed by
// (tenant, content hash). Entries are advisory and never persisted;
// expiry beyond the window is handled by the underlying TTL cache without
// blocking lookups. Check-and-insert is a single atomic step.
type Window struct {
	mu         sync.Mutex
	entries    *expirable.LRU[string, struct{}]
	duplicates atomic.Int64
}

// NewWindow creates a dedup window. Zero config fields fall back to
// defaults.
func NewWindow(conf ...Config) *Window {
	window := DefaultWindow
	maxEntries := DefaultMaxEntries
	if len(conf) > 0 {
		if conf[0].Window > 0 {
			window = conf[0].Window
		}
		if conf[0].MaxEntries > 0 {
			maxEntries = conf[0].MaxEntries
		}
	}
	return &Window{
		entries: expirable.NewLRU[string, struct{}](maxEntries, nil, window),
	}
}

// Seen reports whether an identical event was already recorded for this
// tenant within the window. The first sight records the event and returns
// false; every further sight within the window returns true, so exactly
// one submission of a racing pair survives.
func (w *Window) Seen(tenant string, event *model.LogEvent) bool {
	key := tenant + "\x00" + fingerprint.DedupHash(event).String()

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.entries.Get(key); ok {
		w.duplicates.Add(1)
		return true
	}
	w.entries.Add(key, struct{}{})
	return false
}

// Duplicates returns how many submissions were suppressed as duplicates.
func (w *Window) Duplicates() int64 {
	return w.duplicates.Load()
}

// Len returns the number of live window entries.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.entries.Len()
}
