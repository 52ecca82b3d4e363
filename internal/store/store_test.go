package store

import (
	"errors"
	"testing"
	"time"

	"github.com/tinytelemetry/faultline/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testRecord(id, tenant, clusterID string, ts time.Time) *model.EventRecord {
	return &model.EventRecord{
		EventID:    id,
		Tenant:     tenant,
		Service:    "checkout",
		Host:       "web-01",
		Logger:     "app.worker",
		Severity:   "ERROR",
		Timestamp:  ts,
		ReceivedAt: ts.Add(time.Second),
		Message:    "connection refused to db-01:5432",
		Metadata:   map[string]string{"region": "us-east-1"},
		ClusterID:  clusterID,
		Template:   "connection refused to db-01:<NUMBER>",
		Category:   model.CategoryConnection,
		Fingerprints: model.FingerprintSet{
			Exact:    model.Fingerprint{1},
			Template: model.Fingerprint{2},
			Semantic: model.Fingerprint{3},
			Category: model.Fingerprint{4},
		},
	}
}

func testCluster(id, tenant string, occurrences int64) *model.Cluster {
	return &model.Cluster{
		ID:                  id,
		Tenant:              tenant,
		Service:             "checkout",
		TemplateFingerprint: model.Fingerprint{2},
		Template:            "connection refused to db-01:<NUMBER>",
		Category:            model.CategoryConnection,
		FirstSeen:           time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
		LastSeen:            time.Date(2024, 1, 15, 11, 0, 0, 0, time.UTC),
		Occurrences:         occurrences,
		Samples:             []string{"connection refused to db-01:5432"},
	}
}

func TestInsertEventBatchAndCount(t *testing.T) {
	s := newTestStore(t)

	ts := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	batch := []*model.EventRecord{
		testRecord("ev-1", "tenant-a", "cl-01", ts),
		testRecord("ev-2", "tenant-a", "cl-01", ts.Add(time.Minute)),
		testRecord("ev-3", "tenant-b", "cl-02", ts),
	}
	if err := s.InsertEventBatch(batch); err != nil {
		t.Fatalf("InsertEventBatch: %v", err)
	}

	total, err := s.TotalEventCount(model.QueryOpts{})
	if err != nil {
		t.Fatalf("TotalEventCount: %v", err)
	}
	if total != 3 {
		t.Errorf("TotalEventCount = %d, want 3", total)
	}

	scoped, err := s.TotalEventCount(model.QueryOpts{Tenant: "tenant-a"})
	if err != nil {
		t.Fatalf("TotalEventCount tenant: %v", err)
	}
	if scoped != 2 {
		t.Errorf("tenant-a count = %d, want 2", scoped)
	}
}

func TestClusterEventsRoundTrip(t *testing.T) {
	s := newTestStore(t)

	ts := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	if err := s.InsertEventBatch([]*model.EventRecord{testRecord("ev-1", "tenant-a", "cl-01", ts)}); err != nil {
		t.Fatalf("InsertEventBatch: %v", err)
	}

	events, err := s.ClusterEvents("cl-01", 10)
	if err != nil {
		t.Fatalf("ClusterEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("ClusterEvents = %d records, want 1", len(events))
	}
	got := events[0]
	if got.EventID != "ev-1" || got.Message != "connection refused to db-01:5432" {
		t.Errorf("record fields lost: %+v", got)
	}
	if got.Category != model.CategoryConnection {
		t.Errorf("category = %s, want %s", got.Category, model.CategoryConnection)
	}
	if got.Fingerprints.Template != (model.Fingerprint{2}) {
		t.Error("template fingerprint did not survive the round trip")
	}
	if got.Metadata["region"] != "us-east-1" {
		t.Errorf("metadata = %v, want region preserved", got.Metadata)
	}
}

func TestUpsertClustersInsertThenUpdate(t *testing.T) {
	s := newTestStore(t)

	if err := s.UpsertClusters([]*model.Cluster{testCluster("cl-01", "tenant-a", 5)}); err != nil {
		t.Fatalf("UpsertClusters insert: %v", err)
	}

	updated := testCluster("cl-01", "tenant-a", 9)
	updated.LastSeen = updated.LastSeen.Add(time.Hour)
	if err := s.UpsertClusters([]*model.Cluster{updated}); err != nil {
		t.Fatalf("UpsertClusters update: %v", err)
	}

	got, err := s.ClusterByID("cl-01")
	if err != nil {
		t.Fatalf("ClusterByID: %v", err)
	}
	if got.Occurrences != 9 {
		t.Errorf("occurrences = %d, want 9", got.Occurrences)
	}
	if !got.LastSeen.Equal(updated.LastSeen) {
		t.Errorf("last seen = %v, want %v", got.LastSeen, updated.LastSeen)
	}
	if len(got.Samples) != 1 {
		t.Errorf("samples = %v, want 1 entry", got.Samples)
	}
}

func TestClusterByIDNotFound(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.ClusterByID("cl-missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ClusterByID err = %v, want ErrNotFound", err)
	}
}

func TestTopClustersOrderAndTenantFilter(t *testing.T) {
	s := newTestStore(t)

	a := testCluster("cl-01", "tenant-a", 5)
	b := testCluster("cl-02", "tenant-a", 50)
	c := testCluster("cl-03", "tenant-b", 20)
	if err := s.UpsertClusters([]*model.Cluster{a, b, c}); err != nil {
		t.Fatalf("UpsertClusters: %v", err)
	}

	top, err := s.TopClusters(10, model.QueryOpts{Tenant: "tenant-a"})
	if err != nil {
		t.Fatalf("TopClusters: %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("TopClusters = %d, want 2", len(top))
	}
	if top[0].ID != "cl-02" || top[1].ID != "cl-01" {
		t.Errorf("order = [%s %s], want [cl-02 cl-01]", top[0].ID, top[1].ID)
	}
}

func TestCategoryCounts(t *testing.T) {
	s := newTestStore(t)

	ts := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	timeout := testRecord("ev-2", "tenant-a", "cl-02", ts)
	timeout.Category = model.CategoryTimeout
	batch := []*model.EventRecord{
		testRecord("ev-1", "tenant-a", "cl-01", ts),
		timeout,
		testRecord("ev-3", "tenant-a", "cl-01", ts.Add(time.Minute)),
	}
	if err := s.InsertEventBatch(batch); err != nil {
		t.Fatalf("InsertEventBatch: %v", err)
	}

	counts, err := s.CategoryCounts(model.QueryOpts{})
	if err != nil {
		t.Fatalf("CategoryCounts: %v", err)
	}
	if counts[model.CategoryConnection] != 2 {
		t.Errorf("connection errors = %d, want 2", counts[model.CategoryConnection])
	}
	if counts[model.CategoryTimeout] != 1 {
		t.Errorf("timeout errors = %d, want 1", counts[model.CategoryTimeout])
	}
}

func TestLoadClusters(t *testing.T) {
	s := newTestStore(t)

	if err := s.UpsertClusters([]*model.Cluster{
		testCluster("cl-01", "tenant-a", 5),
		testCluster("cl-02", "tenant-b", 7),
	}); err != nil {
		t.Fatalf("UpsertClusters: %v", err)
	}

	all, err := s.LoadClusters()
	if err != nil {
		t.Fatalf("LoadClusters: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("LoadClusters = %d, want 2", len(all))
	}
	for _, c := range all {
		if c.TemplateFingerprint.IsZero() {
			t.Errorf("cluster %s lost its template fingerprint", c.ID)
		}
	}
}

func TestDeleteEventsBefore(t *testing.T) {
	s := newTestStore(t)

	old := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	fresh := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	if err := s.InsertEventBatch([]*model.EventRecord{
		testRecord("ev-old", "tenant-a", "cl-01", old),
		testRecord("ev-new", "tenant-a", "cl-01", fresh),
	}); err != nil {
		t.Fatalf("InsertEventBatch: %v", err)
	}

	deleted, err := s.DeleteEventsBefore(time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("DeleteEventsBefore: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	total, err := s.TotalEventCount(model.QueryOpts{})
	if err != nil {
		t.Fatalf("TotalEventCount: %v", err)
	}
	if total != 1 {
		t.Errorf("remaining events = %d, want 1", total)
	}
}
