package model

import "time"

// OutcomeStatus classifies the result of ingesting one event.
type OutcomeStatus string

const (
	OutcomeAccepted           OutcomeStatus = "accepted"
	OutcomeDeduplicated       OutcomeStatus = "deduplicated"
	OutcomeRateLimited        OutcomeStatus = "rate_limited"
	OutcomeRejected           OutcomeStatus = "rejected"
	OutcomeStorageUnavailable OutcomeStatus = "storage_unavailable"
	OutcomeTimeout            OutcomeStatus = "timeout"
)

// Rejection reasons reported with OutcomeRejected.
const (
	ReasonMissingMessage = "missing_message"
	ReasonMissingTenant  = "missing_tenant"
	ReasonInternal       = "internal_inconsistency"
)

// Outcome is the per-event result returned by the ingress gate. Outcomes
// are structured data for the transport layer to render; nothing here is
// user-surfaced directly.
type Outcome struct {
	Status    OutcomeStatus `json:"status"`
	Reason    string        `json:"reason,omitempty"`     // set for rejected
	ClusterID string        `json:"cluster_id,omitempty"` // set for accepted
	EventID   string        `json:"event_id,omitempty"`
	Truncated bool          `json:"truncated,omitempty"`
	ResetAt   time.Time     `json:"reset_at,omitempty"` // set for rate_limited
}

// StatusString renders the outcome in the rejected:<reason> wire form.
func (o Outcome) StatusString() string {
	if o.Status == OutcomeRejected && o.Reason != "" {
		return string(o.Status) + ":" + o.Reason
	}
	return string(o.Status)
}
