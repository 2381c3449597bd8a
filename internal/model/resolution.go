// Package model holds the shared domain types for the identity resolution engine.
package model

import "time"

// LookupType identifies which signal a cache entry is keyed on.
type LookupType string

const (
	LookupPlan        LookupType = "plan"
	LookupAccount     LookupType = "account"
	LookupName        LookupType = "name"
	LookupAccountName LookupType = "account_name"
)

// Source records where a resolution or cache entry came from.
type Source string

const (
	SourceManualOverride Source = "manual_override"
	SourceBackflow       Source = "pipeline_backflow"
	SourceEQCSync        Source = "eqc_sync"
	SourceEQCAsync       Source = "eqc_async"

	// SourceTemporary marks results carrying a synthetic identifier.
	// It never appears in the enrichment index.
	SourceTemporary Source = "temporary"
)

// ResolutionRequest is the per-row bundle of candidate signals. Every field
// is optional; blank fields are skipped by the corresponding tier.
type ResolutionRequest struct {
	PlanCode      string `json:"plan_code,omitempty"`
	AccountNumber string `json:"account_number,omitempty"`
	HardcodeKey   string `json:"hardcode_key,omitempty"`
	CustomerName  string `json:"customer_name,omitempty"`
	AccountName   string `json:"account_name,omitempty"`
}

// ResolutionResult is the per-row outcome, positionally aligned with the
// input batch. CompanyID is a real identifier, a synthetic identifier with
// the fixed temp prefix, or nil when every signal was blank or unusable.
type ResolutionResult struct {
	CompanyID    *string `json:"company_id"`
	Source       Source  `json:"source,omitempty"`
	Confidence   float64 `json:"confidence"`
	DecisionPath string  `json:"decision_path"`
}

// IndexRecord is one row of the persistent enrichment index.
// (LookupKey, LookupType) is unique; confidence never regresses on merge
// and hit_count strictly increases on reuse.
type IndexRecord struct {
	LookupKey  string     `json:"lookup_key"`
	LookupType LookupType `json:"lookup_type"`
	CompanyID  string     `json:"company_id"`
	Confidence float64    `json:"confidence"`
	Source     Source     `json:"source"`
	HitCount   int64      `json:"hit_count"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// QueueStatus tracks the lifecycle of an async enrichment entry.
type QueueStatus string

const (
	QueuePending   QueueStatus = "pending"
	QueueResolved  QueueStatus = "resolved"
	QueueAbandoned QueueStatus = "abandoned"
)

// QueueEntry is a deferred name lookup waiting for the out-of-band worker.
type QueueEntry struct {
	ID             string      `json:"id"`
	NormalizedName string      `json:"normalized_name"`
	EnqueuedAt     time.Time   `json:"enqueued_at"`
	Attempts       int         `json:"attempts"`
	Status         QueueStatus `json:"status"`
}
