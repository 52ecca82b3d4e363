package cluster

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tinytelemetry/faultline/internal/fingerprint"
	"github.com/tinytelemetry/faultline/internal/model"
	"github.com/tinytelemetry/faultline/internal/normalize"
	"github.com/tinytelemetry/faultline/internal/notify"
	"github.com/tinytelemetry/faultline/internal/similarity"
)

var testNormalizer = normalize.New()

func prepared(t *testing.T, tenant, message string) (*model.LogEvent, *model.NormalizedEvent, model.FingerprintSet) {
	t.Helper()
	event := &model.LogEvent{
		Timestamp: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		Severity:  "ERROR",
		Message:   message,
		Tenant:    tenant,
		Service:   "checkout",
	}
	normalized := testNormalizer.Normalize(message)
	return event, &normalized, fingerprint.Compute(event, &normalized)
}

func TestAssignCreatesThenIncrements(t *testing.T) {
	t.Parallel()
	e := NewEngine()

	ev, norm, fps := prepared(t, "tenant-a", "User 12345 failed login at 2024-01-15T10:30:00Z")
	first, err := e.Assign(ev, norm, fps)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if !first.Created {
		t.Error("first occurrence did not create a cluster")
	}
	if first.Occurrences != 1 {
		t.Errorf("occurrences = %d, want 1", first.Occurrences)
	}

	ev2, norm2, fps2 := prepared(t, "tenant-a", "User 67890 failed login at 2024-01-15T11:45:00Z")
	second, err := e.Assign(ev2, norm2, fps2)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if second.Created {
		t.Error("equivalent message created a second cluster")
	}
	if second.ClusterID != first.ClusterID {
		t.Errorf("cluster ids differ: %s vs %s", first.ClusterID, second.ClusterID)
	}
	if second.Occurrences != 2 {
		t.Errorf("occurrences = %d, want 2", second.Occurrences)
	}
}

func TestClustersAreTenantScoped(t *testing.T) {
	t.Parallel()
	e := NewEngine()

	evA, normA, fpsA := prepared(t, "tenant-a", "Connection refused to db-01:5432")
	evB, normB, fpsB := prepared(t, "tenant-b", "Connection refused to db-01:5432")

	a, _ := e.Assign(evA, normA, fpsA)
	b, _ := e.Assign(evB, normB, fpsB)
	if a.ClusterID == b.ClusterID {
		t.Error("tenants share a cluster id")
	}
	if e.Size() != 2 {
		t.Errorf("index size = %d, want 2", e.Size())
	}
}

func TestConcurrentFirstSubmissionsConvergeOnOneCluster(t *testing.T) {
	t.Parallel()
	e := NewEngine()

	const workers = 32
	var wg sync.WaitGroup
	ids := make([]string, workers)
	created := make([]bool, workers)

	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ev, norm, fps := prepared(t, "tenant-a", "disk write failed on /var/data/wal.log")
			a, err := e.Assign(ev, norm, fps)
			if err != nil {
				t.Errorf("Assign: %v", err)
				return
			}
			ids[i] = a.ClusterID
			created[i] = a.Created
		}()
	}
	wg.Wait()

	creators := 0
	for i := range workers {
		if ids[i] != ids[0] {
			t.Fatalf("worker %d got cluster %s, want %s", i, ids[i], ids[0])
		}
		if created[i] {
			creators++
		}
	}
	if creators != 1 {
		t.Errorf("%d workers created a cluster, want exactly 1", creators)
	}
	if e.Size() != 1 {
		t.Errorf("index size = %d, want 1", e.Size())
	}

	ev, _, fps := prepared(t, "tenant-a", "disk write failed on /var/data/wal.log")
	c, ok := e.Lookup(ev.Tenant, fps.Template)
	if !ok {
		t.Fatal("cluster missing after concurrent assignment")
	}
	if c.Occurrences != workers {
		t.Errorf("occurrences = %d, want %d (no lost increments)", c.Occurrences, workers)
	}
}

func TestSampleRingBounded(t *testing.T) {
	t.Parallel()
	e := NewEngine(Config{SampleCapacity: 3})

	for i := range 5 {
		msg := fmt.Sprintf("payment worker crashed on attempt %d", 1000+i)
		ev, norm, fps := prepared(t, "tenant-a", msg)
		if _, err := e.Assign(ev, norm, fps); err != nil {
			t.Fatalf("Assign: %v", err)
		}
	}

	ev, _, fps := prepared(t, "tenant-a", "payment worker crashed on attempt 1000")
	c, ok := e.Lookup(ev.Tenant, fps.Template)
	if !ok {
		t.Fatal("cluster missing")
	}
	if len(c.Samples) != 3 {
		t.Fatalf("samples = %d, want 3", len(c.Samples))
	}
	if c.Samples[2] != "payment worker crashed on attempt 1004" {
		t.Errorf("newest sample = %q, want the most recent message", c.Samples[2])
	}
	if c.Samples[0] != "payment worker crashed on attempt 1002" {
		t.Errorf("oldest retained sample = %q, want oldest evicted first", c.Samples[0])
	}
}

func TestReleaseUndoesIncrement(t *testing.T) {
	t.Parallel()
	e := NewEngine()

	ev, norm, fps := prepared(t, "tenant-a", "boom")
	e.Assign(ev, norm, fps)
	e.Assign(ev, norm, fps)
	e.Release("tenant-a", fps.Template)

	c, _ := e.Lookup("tenant-a", fps.Template)
	if c.Occurrences != 1 {
		t.Errorf("occurrences = %d, want 1 after release", c.Occurrences)
	}
}

func TestNotifierSignals(t *testing.T) {
	t.Parallel()
	n := notify.NewNotifier(16)
	e := NewEngine(Config{AlertThreshold: 3, Notifier: n})

	ev, norm, fps := prepared(t, "tenant-a", "Connection refused to db-01:5432")
	for range 3 {
		e.Assign(ev, norm, fps)
	}

	var kinds []notify.SignalType
	for len(n.Signals()) > 0 {
		kinds = append(kinds, (<-n.Signals()).Type)
	}
	if len(kinds) != 2 {
		t.Fatalf("got %d signals, want 2 (created + threshold)", len(kinds))
	}
	if kinds[0] != notify.SignalClusterCreated {
		t.Errorf("first signal = %s, want %s", kinds[0], notify.SignalClusterCreated)
	}
	if kinds[1] != notify.SignalThresholdCrossed {
		t.Errorf("second signal = %s, want %s", kinds[1], notify.SignalThresholdCrossed)
	}
}

func TestFuzzyFallbackJoinsNearCluster(t *testing.T) {
	t.Parallel()
	e := NewEngine(Config{FuzzyEnabled: true, SimilarityThreshold: 0.5})

	ev1, norm1, fps1 := prepared(t, "tenant-a", "connection refused while syncing shard alpha to replica")
	first, _ := e.Assign(ev1, norm1, fps1)

	// Different template (one token differs), same category, high overlap.
	ev2, norm2, fps2 := prepared(t, "tenant-a", "connection refused while syncing shard beta to replica")
	if norm1.Template == norm2.Template {
		t.Fatal("test premise broken: templates must differ")
	}
	second, _ := e.Assign(ev2, norm2, fps2)

	if second.Created {
		t.Error("fuzzy fallback did not join the near cluster")
	}
	if second.ClusterID != first.ClusterID {
		t.Errorf("cluster ids differ: %s vs %s", second.ClusterID, first.ClusterID)
	}
	if second.FuzzyReason != similarity.ReasonNgramMatch {
		t.Errorf("fuzzy reason = %q, want %q", second.FuzzyReason, similarity.ReasonNgramMatch)
	}

	// The alias makes the third event take the exact path.
	ev3, norm3, fps3 := prepared(t, "tenant-a", "connection refused while syncing shard beta to replica")
	third, _ := e.Assign(ev3, norm3, fps3)
	if third.FuzzyReason != "" {
		t.Error("aliased fingerprint still took the fuzzy path")
	}
	if third.ClusterID != first.ClusterID {
		t.Error("aliased fingerprint resolved to a different cluster")
	}
}

func TestFuzzyDisabledCreatesSeparateClusters(t *testing.T) {
	t.Parallel()
	e := NewEngine()

	ev1, norm1, fps1 := prepared(t, "tenant-a", "connection refused while syncing shard alpha to replica")
	ev2, norm2, fps2 := prepared(t, "tenant-a", "connection refused while syncing shard beta to replica")
	a, _ := e.Assign(ev1, norm1, fps1)
	b, _ := e.Assign(ev2, norm2, fps2)

	if a.ClusterID == b.ClusterID {
		t.Error("fuzzy grouping ran despite being disabled")
	}
}

func TestSnapshotDrainsDirtyClusters(t *testing.T) {
	t.Parallel()
	e := NewEngine()

	ev, norm, fps := prepared(t, "tenant-a", "boom")
	e.Assign(ev, norm, fps)

	first := e.Snapshot()
	if len(first) != 1 {
		t.Fatalf("snapshot = %d clusters, want 1", len(first))
	}
	if second := e.Snapshot(); len(second) != 0 {
		t.Errorf("second snapshot = %d clusters, want 0 (clean)", len(second))
	}

	e.Assign(ev, norm, fps)
	if third := e.Snapshot(); len(third) != 1 {
		t.Errorf("snapshot after new increment = %d clusters, want 1", len(third))
	}
}

func TestSeedRestoresIndex(t *testing.T) {
	t.Parallel()
	e := NewEngine()

	ev, norm, fps := prepared(t, "tenant-a", "Connection refused to db-01:5432")
	e.Seed([]*model.Cluster{{
		ID:                  fingerprint.ClusterID("tenant-a", fps.Template),
		Tenant:              "tenant-a",
		TemplateFingerprint: fps.Template,
		Template:            norm.Template,
		Category:            norm.Category,
		Occurrences:         7,
	}})

	a, err := e.Assign(ev, norm, fps)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if a.Created {
		t.Error("seeded cluster treated as new")
	}
	if a.Occurrences != 8 {
		t.Errorf("occurrences = %d, want 8 (seeded count continued)", a.Occurrences)
	}
}

func TestAssignRejectsZeroFingerprint(t *testing.T) {
	t.Parallel()
	e := NewEngine()

	ev, norm, _ := prepared(t, "tenant-a", "boom")
	if _, err := e.Assign(ev, norm, model.FingerprintSet{}); err == nil {
		t.Error("zero template fingerprint must be rejected")
	}
}
