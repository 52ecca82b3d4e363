package model

import "time"

// Cluster is the durable aggregate of all occurrences sharing a template
// fingerprint within a tenant. Exactly one cluster exists per
// (tenant, template fingerprint) pair; the assignment engine guarantees
// concurrent creation attempts converge on a single winner.
type Cluster struct {
	ID                  string      `json:"id"`
	Tenant              string      `json:"tenant"`
	Service             string      `json:"service,omitempty"`
	TemplateFingerprint Fingerprint `json:"template_fingerprint"`
	Template            string      `json:"template"`
	Category            Category    `json:"category"`
	FirstSeen           time.Time   `json:"first_seen"`
	LastSeen            time.Time   `json:"last_seen"`
	Occurrences         int64       `json:"occurrences"`
	Samples             []string    `json:"samples,omitempty"` // most-recent raw messages, bounded
}
