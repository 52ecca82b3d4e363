// Package pipeline is the ingress gate: every event admitted into the
// system passes through here exactly once. The gate validates, rate
// limits, deduplicates, normalizes, fingerprints, assigns a cluster and
// queues the record for persistence, and reports one outcome per event.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tinytelemetry/faultline/internal/cluster"
	"github.com/tinytelemetry/faultline/internal/dedup"
	"github.com/tinytelemetry/faultline/internal/fingerprint"
	"github.com/tinytelemetry/faultline/internal/logparse"
	"github.com/tinytelemetry/faultline/internal/model"
	"github.com/tinytelemetry/faultline/internal/normalize"
	"github.com/tinytelemetry/faultline/internal/ratelimit"
)

const (
	// MaxMessageBytes is the size above which a message is truncated.
	MaxMessageBytes = 50 * 1024

	// MaxStackBytes is the size above which a stack trace is truncated.
	MaxStackBytes = 100 * 1024
)

var eventIDCounter atomic.Uint64

// Sink receives records the gate accepted. TryAdd must not block; it
// reports an error when the record cannot be taken right now.
type Sink interface {
	TryAdd(record *model.EventRecord) error
}

// Config wires the pipeline's stages together.
type Config struct {
	Normalizer *normalize.Normalizer
	Limiter    *ratelimit.Limiter
	Dedup      *dedup.Window
	Engine     *cluster.Engine
	Sink       Sink
}

// Stats are cumulative outcome counters since startup.
type Stats struct {
	Accepted     int64 `json:"accepted"`
	Deduplicated int64 `json:"deduplicated"`
	RateLimited  int64 `json:"rate_limited"`
	Rejected     int64 `json:"rejected"`
	Unavailable  int64 `json:"storage_unavailable"`
}

// Pipeline is safe for concurrent use by multiple transports.
type Pipeline struct {
	normalizer *normalize.Normalizer
	limiter    *ratelimit.Limiter
	dedup      *dedup.Window
	engine     *cluster.Engine
	sink       Sink
	now        func() time.Time

	accepted     atomic.Int64
	deduplicated atomic.Int64
	rateLimited  atomic.Int64
	rejected     atomic.Int64
	unavailable  atomic.Int64
}

// New creates a pipeline. Nil stages fall back to defaults; Sink is
// required.
func New(conf Config) *Pipeline {
	p := &Pipeline{
		normalizer: conf.Normalizer,
		limiter:    conf.Limiter,
		dedup:      conf.Dedup,
		engine:     conf.Engine,
		sink:       conf.Sink,
		now:        time.Now,
	}
	if p.normalizer == nil {
		p.normalizer = normalize.New()
	}
	if p.limiter == nil {
		p.limiter = ratelimit.NewLimiter()
	}
	if p.dedup == nil {
		p.dedup = dedup.NewWindow()
	}
	if p.engine == nil {
		p.engine = cluster.NewEngine()
	}
	return p
}

// Ingest processes a batch for one tenant and returns one outcome per
// event, in input order. A batch deadline on ctx turns the remaining
// events into timeout outcomes; events already processed keep theirs.
func (p *Pipeline) Ingest(ctx context.Context, tenant string, events []*model.LogEvent) []model.Outcome {
	outcomes := make([]model.Outcome, len(events))

	for i, event := range events {
		if ctx.Err() != nil {
			for ; i < len(events); i++ {
				outcomes[i] = model.Outcome{Status: model.OutcomeTimeout}
			}
			break
		}
		outcomes[i] = p.ingestOne(tenant, event)
		p.count(outcomes[i].Status)
	}
	return outcomes
}

func (p *Pipeline) ingestOne(tenant string, event *model.LogEvent) model.Outcome {
	if event == nil {
		return model.Outcome{Status: model.OutcomeRejected, Reason: model.ReasonMissingMessage}
	}

	if tenant != "" {
		event.Tenant = tenant
	}
	if strings.TrimSpace(event.Tenant) == "" {
		return model.Outcome{Status: model.OutcomeRejected, Reason: model.ReasonMissingTenant}
	}
	if strings.TrimSpace(event.Message) == "" {
		return model.Outcome{Status: model.OutcomeRejected, Reason: model.ReasonMissingMessage}
	}

	truncated := false
	if len(event.Message) > MaxMessageBytes {
		event.Message = event.Message[:MaxMessageBytes]
		truncated = true
	}
	if len(event.StackTrace) > MaxStackBytes {
		event.StackTrace = event.StackTrace[:MaxStackBytes]
		truncated = true
	}

	if admitted, resetAt := p.limiter.Admit(event.Tenant, 1); admitted == 0 {
		return model.Outcome{Status: model.OutcomeRateLimited, ResetAt: resetAt}
	}

	event.Severity = logparse.NormalizeSeverity(event.Severity)

	if p.dedup.Seen(event.Tenant, event) {
		return model.Outcome{Status: model.OutcomeDeduplicated}
	}

	outcome, err := p.process(event, truncated)
	if err != nil {
		log.Printf("pipeline: event dropped (tenant=%s msg=%.80s): %v", event.Tenant, event.Message, err)
		return model.Outcome{Status: model.OutcomeRejected, Reason: model.ReasonInternal}
	}
	return outcome
}

// process runs the derivation stages. A panic in any stage is contained
// to the event being processed.
func (p *Pipeline) process(event *model.LogEvent, truncated bool) (outcome model.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage panic: %v", r)
		}
	}()

	normalized := p.normalizer.Normalize(event.Message)
	fps := fingerprint.Compute(event, &normalized)

	assignment, err := p.engine.Assign(event, &normalized, fps)
	if err != nil {
		return model.Outcome{}, err
	}

	receivedAt := p.now().UTC()
	ts := event.Timestamp
	if ts.IsZero() {
		ts = receivedAt
	}

	record := &model.EventRecord{
		EventID:          nextEventID(),
		Tenant:           event.Tenant,
		Service:          event.Service,
		Host:             event.Host,
		Logger:           event.Logger,
		Severity:         event.Severity,
		Timestamp:        ts,
		ReceivedAt:       receivedAt,
		Message:          event.Message,
		ExceptionType:    event.ExceptionType,
		ExceptionMessage: event.ExceptionMessage,
		StackTrace:       event.StackTrace,
		Metadata:         event.Metadata,
		ClusterID:        assignment.ClusterID,
		Template:         normalized.Template,
		Category:         normalized.Category,
		Fingerprints:     fps,
		Truncated:        truncated,
	}

	if p.sink != nil {
		if qerr := p.sink.TryAdd(record); qerr != nil {
			// The aggregate must not run ahead of what the caller was
			// told succeeded.
			p.engine.Release(event.Tenant, fps.Template)
			log.Printf("pipeline: enqueue failed (tenant=%s): %v", event.Tenant, qerr)
			return model.Outcome{Status: model.OutcomeStorageUnavailable}, nil
		}
	}

	return model.Outcome{
		Status:    model.OutcomeAccepted,
		ClusterID: assignment.ClusterID,
		EventID:   record.EventID,
		Truncated: truncated,
	}, nil
}

// Stats returns cumulative outcome counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Accepted:     p.accepted.Load(),
		Deduplicated: p.deduplicated.Load(),
		RateLimited:  p.rateLimited.Load(),
		Rejected:     p.rejected.Load(),
		Unavailable:  p.unavailable.Load(),
	}
}

func (p *Pipeline) count(status model.OutcomeStatus) {
	switch status {
	case model.OutcomeAccepted:
		p.accepted.Add(1)
	case model.OutcomeDeduplicated:
		p.deduplicated.Add(1)
	case model.OutcomeRateLimited:
		p.rateLimited.Add(1)
	case model.OutcomeRejected:
		p.rejected.Add(1)
	case model.OutcomeStorageUnavailable:
		p.unavailable.Add(1)
	}
}

func nextEventID() string {
	n := eventIDCounter.Add(1)
	return fmt.Sprintf("%x-%x", time.Now().UTC().UnixNano(), n)
}
