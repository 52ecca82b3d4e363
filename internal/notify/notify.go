// Package notify emits cluster lifecycle signals for external alerting.
// Delivery mechanics are out of scope; consumers drain a bounded channel
// and emission never blocks ingestion.
package notify

import (
	"log"
	"sync/atomic"
	"time"

	"github.com/tinytelemetry/faultline/internal/model"
)

// SignalType identifies the cluster transition being reported.
type SignalType string

const (
	// SignalClusterCreated fires when a template fingerprint is seen for
	// the first time within a tenant.
	SignalClusterCreated SignalType = "cluster_created"

	// SignalThresholdCrossed fires when a cluster's occurrence count
	// crosses the configured alert threshold.
	SignalThresholdCrossed SignalType = "threshold_crossed"
)

// Signal is one emitted cluster transition.
type Signal struct {
	Type        SignalType
	ClusterID   string
	Tenant      string
	Template    string
	Category    model.Category
	Occurrences int64
	At          time.Time
}

// Notifier fans cluster signals out to a single consumer channel. When the
// consumer falls behind, signals are dropped and counted rather than
// stalling the pipeline.
type Notifier struct {
	ch      chan Signal
	dropped atomic.Int64
	lastLog atomic.Int64
}

// NewNotifier creates a notifier with the given channel capacity.
func NewNotifier(capacity int) *Notifier {
	if capacity <= 0 {
		capacity = 256
	}
	return &Notifier{ch: make(chan Signal, capacity)}
}

// Emit publishes a signal without blocking.
func (n *Notifier) Emit(sig Signal) {
	select {
	case n.ch <- sig:
	default:
		count := n.dropped.Add(1)
		now := time.Now().Unix()
		last := n.lastLog.Load()
		if now-last >= 10 && n.lastLog.CompareAndSwap(last, now) {
			log.Printf("notify: %d signals dropped (consumer falling behind)", count)
		}
	}
}

// Signals returns the consumer channel.
func (n *Notifier) Signals() <-chan Signal {
	return n.ch
}

// Dropped returns how many signals were discarded under backpressure.
func (n *Notifier) Dropped() int64 {
	return n.dropped.Load()
}
