package models

import "time"

// Pending relationship states.
const (
	RelationshipStatePending     = "pending"
	RelationshipStateResolved    = "resolved"
	RelationshipStateRescheduled = "rescheduled"
	RelationshipStateFailed      = "failed"
)

// PendingRelationship is a parent/child edge declared during normalization
// that the resolver realizes once both endpoints are persisted. Identifiers
// may be source identifiers (resolved through entries) or direct graph ids.
type PendingRelationship struct {
	ID               string     `json:"id" db:"id"`
	TenantID         string     `json:"tenant_id" db:"tenant_id"`
	ImporterRunID    string     `json:"importer_run_id" db:"importer_run_id"`
	ParentIdentifier string     `json:"parent_identifier" db:"parent_identifier"`
	ChildIdentifier  string     `json:"child_identifier" db:"child_identifier"`
	OrderHint        int        `json:"order_hint" db:"order_hint"`
	State            string     `json:"state" db:"state"`
	Attempts         int        `json:"attempts" db:"attempts"`
	ErrorDetail      *string    `json:"error_detail,omitempty" db:"error_detail"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt        *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

// CreatePendingRelationshipRequest is the request for recording a pending edge
type CreatePendingRelationshipRequest struct {
	ImporterRunID    string `json:"importer_run_id" validate:"required"`
	ParentIdentifier string `json:"parent_identifier" validate:"required"`
	ChildIdentifier  string `json:"child_identifier" validate:"required"`
	OrderHint        int    `json:"order_hint" validate:"omitempty,min=0"`
}

// PendingRelationshipListResponse is the response for listing pending edges
type PendingRelationshipListResponse struct {
	Items      []PendingRelationship `json:"items"`
	TotalCount int                   `json:"total_count"`
	Page       int                   `json:"page"`
	PageSize   int                   `json:"page_size"`
}
