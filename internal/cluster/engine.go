// Package cluster owns the mapping from template fingerprint to cluster
// and maintains the cluster aggregates.
package cluster

import (
	"errors"
	"sync"
	"time"

	"github.com/tinytelemetry/faultline/internal/fingerprint"
	"github.com/tinytelemetry/faultline/internal/model"
	"github.com/tinytelemetry/faultline/internal/notify"
	"github.com/tinytelemetry/faultline/internal/similarity"
)

const (
	// DefaultSampleCapacity bounds the per-cluster ring of raw samples.
	DefaultSampleCapacity = 20

	// DefaultSimilarityThreshold is the fuzzy-match score floor.
	DefaultSimilarityThreshold = 0.8

	// DefaultCandidateLimit bounds the fuzzy candidate scan per miss.
	DefaultCandidateLimit = 32
)

// ErrEmptyFingerprint reports a corrupt assignment request: a computed
// fingerprint set with a zero template hash.
var ErrEmptyFingerprint = errors.New("cluster: empty template fingerprint")

// Config holds tunable parameters for the engine.
type Config struct {
	SampleCapacity      int
	AlertThreshold      int64 // occurrence count that triggers a signal, 0 = disabled
	FuzzyEnabled        bool
	SimilarityThreshold float64
	CandidateLimit      int
	Notifier            *notify.Notifier
}

// Assignment reports the result of assigning one event to a cluster.
type Assignment struct {
	ClusterID   string
	Created     bool
	Occurrences int64
	FuzzyReason string // set when a fuzzy fallback matched an existing cluster
}

type indexKey struct {
	tenant string
	fp     model.Fingerprint
}

// entry wraps one cluster with its own lock so updates to a key are
// linearizable without serializing the whole index.
type entry struct {
	mu      sync.Mutex
	cluster model.Cluster
	dirty   bool
}

// Engine is the in-process cluster index. Lookup and create-if-absent are
// atomic against the index lock; per-cluster updates take the entry lock
// only, so concurrent events racing on a brand-new template converge on a
// single winner and no increments are lost.
type Engine struct {
	mu     sync.RWMutex
	index  map[indexKey]*entry
	recent map[string][]*entry // per tenant, creation order

	sampleCap      int
	alertThreshold int64
	fuzzyEnabled   bool
	simThreshold   float64
	candidateLimit int
	matcher        *similarity.Matcher
	notifier       *notify.Notifier
	now            func() time.Time
}

// NewEngine creates an engine. Zero config fields fall back to defaults.
func NewEngine(conf ...Config) *Engine {
	e := &Engine{
		index:          make(map[indexKey]*entry),
		recent:         make(map[string][]*entry),
		sampleCap:      DefaultSampleCapacity,
		simThreshold:   DefaultSimilarityThreshold,
		candidateLimit: DefaultCandidateLimit,
		matcher:        similarity.NewMatcher(2),
		now:            time.Now,
	}
	if len(conf) > 0 {
		c := conf[0]
		if c.SampleCapacity > 0 {
			e.sampleCap = c.SampleCapacity
		}
		if c.AlertThreshold > 0 {
			e.alertThreshold = c.AlertThreshold
		}
		if c.SimilarityThreshold > 0 {
			e.simThreshold = c.SimilarityThreshold
		}
		if c.CandidateLimit > 0 {
			e.candidateLimit = c.CandidateLimit
		}
		e.fuzzyEnabled = c.FuzzyEnabled
		e.notifier = c.Notifier
	}
	return e
}

// Assign maps an event to its cluster, creating the cluster on first
// occurrence of the template fingerprint for the tenant. When fuzzy
// grouping is enabled and the exact lookup misses, a bounded set of the
// tenant's recent same-category clusters is consulted before creating a
// new one.
func (e *Engine) Assign(event *model.LogEvent, normalized *model.NormalizedEvent, fps model.FingerprintSet) (Assignment, error) {
	if fps.Template.IsZero() {
		return Assignment{}, ErrEmptyFingerprint
	}

	k := indexKey{tenant: event.Tenant, fp: fps.Template}

	e.mu.RLock()
	ent, ok := e.index[k]
	e.mu.RUnlock()
	if ok {
		return e.hit(ent, event, ""), nil
	}

	if e.fuzzyEnabled {
		if match, reason := e.fuzzyLookup(event.Tenant, normalized); match != nil {
			e.mu.Lock()
			if existing, raced := e.index[k]; raced {
				match = existing
				reason = ""
			} else {
				// Alias this fingerprint to the matched cluster so later
				// events take the exact path.
				e.index[k] = match
			}
			e.mu.Unlock()
			return e.hit(match, event, reason), nil
		}
	}

	e.mu.Lock()
	ent, ok = e.index[k]
	created := false
	if !ok {
		ent = &entry{cluster: model.Cluster{
			ID:                  fingerprint.ClusterID(event.Tenant, fps.Template),
			Tenant:              event.Tenant,
			Service:             event.Service,
			TemplateFingerprint: fps.Template,
			Template:            normalized.Template,
			Category:            normalized.Category,
			FirstSeen:           e.eventTime(event),
		}}
		e.index[k] = ent
		e.pushRecent(event.Tenant, ent)
		created = true
	}
	e.mu.Unlock()

	assignment := e.hit(ent, event, "")
	if created {
		assignment.Created = true
		e.emit(notify.SignalClusterCreated, ent)
	}
	return assignment, nil
}

// Release undoes one occurrence increment after the event could not be
// durably enqueued, so the in-memory aggregate never runs ahead of what
// the caller was told succeeded.
func (e *Engine) Release(tenant string, template model.Fingerprint) {
	e.mu.RLock()
	ent, ok := e.index[indexKey{tenant: tenant, fp: template}]
	e.mu.RUnlock()
	if !ok {
		return
	}

	ent.mu.Lock()
	if ent.cluster.Occurrences > 0 {
		ent.cluster.Occurrences--
	}
	ent.dirty = true
	ent.mu.Unlock()
}

// Lookup returns a copy of the cluster for (tenant, template fingerprint).
func (e *Engine) Lookup(tenant string, template model.Fingerprint) (*model.Cluster, bool) {
	e.mu.RLock()
	ent, ok := e.index[indexKey{tenant: tenant, fp: template}]
	e.mu.RUnlock()
	if !ok {
		return nil, false
	}

	ent.mu.Lock()
	c := cloneCluster(&ent.cluster)
	ent.mu.Unlock()
	return c, true
}

// Snapshot returns copies of all clusters modified since the previous
// snapshot and marks them clean. The persistence syncer drains this.
func (e *Engine) Snapshot() []*model.Cluster {
	e.mu.RLock()
	entries := make([]*entry, 0, len(e.index))
	seen := make(map[*entry]struct{}, len(e.index))
	for _, ent := range e.index {
		// Fuzzy aliases map several keys to one entry.
		if _, dup := seen[ent]; dup {
			continue
		}
		seen[ent] = struct{}{}
		entries = append(entries, ent)
	}
	e.mu.RUnlock()

	var out []*model.Cluster
	for _, ent := range entries {
		ent.mu.Lock()
		if ent.dirty {
			out = append(out, cloneCluster(&ent.cluster))
			ent.dirty = false
		}
		ent.mu.Unlock()
	}
	return out
}

// Seed loads previously persisted clusters into the index at startup.
func (e *Engine) Seed(clusters []*model.Cluster) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range clusters {
		if c.TemplateFingerprint.IsZero() {
			continue
		}
		ent := &entry{cluster: *cloneCluster(c)}
		e.index[indexKey{tenant: c.Tenant, fp: c.TemplateFingerprint}] = ent
		e.recent[c.Tenant] = append(e.recent[c.Tenant], ent)
	}
}

// Size returns the number of distinct clusters in the index.
func (e *Engine) Size() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	seen := make(map[*entry]struct{}, len(e.index))
	for _, ent := range e.index {
		seen[ent] = struct{}{}
	}
	return len(seen)
}

func (e *Engine) hit(ent *entry, event *model.LogEvent, fuzzyReason string) Assignment {
	ts := e.eventTime(event)

	ent.mu.Lock()
	ent.cluster.Occurrences++
	if ts.After(ent.cluster.LastSeen) {
		ent.cluster.LastSeen = ts
	}
	if ent.cluster.FirstSeen.IsZero() || ts.Before(ent.cluster.FirstSeen) {
		ent.cluster.FirstSeen = ts
	}
	appendSample(&ent.cluster, event.Message, e.sampleCap)
	ent.dirty = true
	count := ent.cluster.Occurrences
	ent.mu.Unlock()

	if e.alertThreshold > 0 && count == e.alertThreshold {
		e.emit(notify.SignalThresholdCrossed, ent)
	}

	return Assignment{
		ClusterID:   ent.cluster.ID,
		Occurrences: count,
		FuzzyReason: fuzzyReason,
	}
}

// fuzzyLookup scans the tenant's recent same-category clusters, newest
// first, and returns the first one whose template scores at or above the
// similarity threshold. The scan is bounded by the candidate limit.
func (e *Engine) fuzzyLookup(tenant string, normalized *model.NormalizedEvent) (*entry, string) {
	e.mu.RLock()
	recent := e.recent[tenant]
	candidates := make([]*entry, 0, e.candidateLimit)
	for i := len(recent) - 1; i >= 0 && len(candidates) < e.candidateLimit; i-- {
		candidates = append(candidates, recent[i])
	}
	e.mu.RUnlock()

	for _, cand := range candidates {
		cand.mu.Lock()
		category := cand.cluster.Category
		template := cand.cluster.Template
		cand.mu.Unlock()

		if category != normalized.Category {
			continue
		}
		if r := e.matcher.ShouldClusterTogether(normalized.Template, template, e.simThreshold); r.Match {
			return cand, r.Reason
		}
	}
	return nil, ""
}

func (e *Engine) pushRecent(tenant string, ent *entry) {
	recent := append(e.recent[tenant], ent)
	if limit := e.candidateLimit * 4; len(recent) > limit {
		recent = recent[len(recent)-limit:]
	}
	e.recent[tenant] = recent
}

func (e *Engine) emit(kind notify.SignalType, ent *entry) {
	if e.notifier == nil {
		return
	}
	ent.mu.Lock()
	sig := notify.Signal{
		Type:        kind,
		ClusterID:   ent.cluster.ID,
		Tenant:      ent.cluster.Tenant,
		Template:    ent.cluster.Template,
		Category:    ent.cluster.Category,
		Occurrences: ent.cluster.Occurrences,
		At:          e.now(),
	}
	ent.mu.Unlock()
	e.notifier.Emit(sig)
}

func (e *Engine) eventTime(event *model.LogEvent) time.Time {
	if !event.Timestamp.IsZero() {
		return event.Timestamp
	}
	return e.now()
}

// appendSample keeps the most-recent sampleCap raw messages, evicting the
// oldest first.
func appendSample(c *model.Cluster, message string, sampleCap int) {
	if sampleCap <= 0 || message == "" {
		return
	}
	c.Samples = append(c.Samples, message)
	if len(c.Samples) > sampleCap {
		c.Samples = c.Samples[len(c.Samples)-sampleCap:]
	}
}

func cloneCluster(c *model.Cluster) *model.Cluster {
	out := *c
	out.Samples = append([]string(nil), c.Samples...)
	return &out
}
