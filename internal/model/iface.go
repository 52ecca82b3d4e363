package model

import "time"

// QueryOpts holds optional filters applied to most read queries.
type QueryOpts struct {
	Tenant string // empty = all tenants
}

// EventWriter provides append-oriented write operations for processed events.
type EventWriter interface {
	InsertEventBatch(records []*EventRecord) error
}

// ClusterWriter persists cluster aggregates.
type ClusterWriter interface {
	UpsertClusters(clusters []*Cluster) error
}

// ClusterQuerier provides read-only queries on clusters and their events.
type ClusterQuerier interface {
	TotalEventCount(opts QueryOpts) (int64, error)
	TopClusters(limit int, opts QueryOpts) ([]*Cluster, error)
	ClusterByID(id string) (*Cluster, error)
	ClusterEvents(clusterID string, limit int) ([]*EventRecord, error)
	CategoryCounts(opts QueryOpts) (map[Category]int64, error)
	LoadClusters() ([]*Cluster, error)
	DeleteEventsBefore(cutoff time.Time) (int64, error)
}
