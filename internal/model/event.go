package model

import "time"

// LogEvent is one raw error occurrence as delivered by a shipping agent.
// It is immutable once received: ownership passes from the ingress gate to
// the pipeline and ends when the event is queued for persistence.
type LogEvent struct {
	Timestamp        time.Time         `json:"timestamp"`
	Severity         string            `json:"severity"` // TRACE/DEBUG/INFO/WARN/ERROR/FATAL
	Logger           string            `json:"logger"`
	Message          string            `json:"message"`
	ExceptionType    string            `json:"exception_type,omitempty"`
	ExceptionMessage string            `json:"exception_message,omitempty"`
	StackTrace       string            `json:"stack_trace,omitempty"`
	Tenant           string            `json:"tenant"`
	Service          string            `json:"service"`
	Host             string            `json:"host"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// StructuredFlags records which variable kinds were found while normalizing.
type StructuredFlags struct {
	HasUUID      bool
	HasIP        bool
	HasURL       bool
	HasPath      bool
	HasTimestamp bool
	HasNumber    bool
	HasEmail     bool
	HasJSON      bool
}

// NormalizedEvent is the derived, read-only view of a LogEvent's message.
// It is computed once per event and never mutated.
type NormalizedEvent struct {
	Template string
	Category Category
	KeyTerms []string
	Flags    StructuredFlags
}

// EventRecord is the persisted form of an accepted event: the raw event
// plus everything the pipeline derived for it.
type EventRecord struct {
	EventID          string            `json:"event_id"`
	Tenant           string            `json:"tenant"`
	Service          string            `json:"service,omitempty"`
	Host             string            `json:"host,omitempty"`
	Logger           string            `json:"logger,omitempty"`
	Severity         string            `json:"severity"`
	Timestamp        time.Time         `json:"timestamp"`
	ReceivedAt       time.Time         `json:"received_at"`
	Message          string            `json:"message"`
	ExceptionType    string            `json:"exception_type,omitempty"`
	ExceptionMessage string            `json:"exception_message,omitempty"`
	StackTrace       string            `json:"stack_trace,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	ClusterID        string            `json:"cluster_id"`
	Template         string            `json:"template"`
	Category         Category          `json:"category"`
	Fingerprints     FingerprintSet    `json:"fingerprints"`
	Truncated        bool              `json:"truncated,omitempty"`
}
