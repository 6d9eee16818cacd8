package models

import (
	"encoding/json"
	"time"
)

// Entry owner types. Entries belong to either an importer or an exporter.
const (
	OwnerTypeImporter = "importer"
	OwnerTypeExporter = "exporter"
)

// Entry is a single source record tracked through the ingest pipeline.
// Field order matches schema: id, tenant_id, owner_type, owner_id, identifier, ...
type Entry struct {
	ID             string          `json:"id" db:"id"`
	TenantID       string          `json:"tenant_id" db:"tenant_id"`
	OwnerType      string          `json:"owner_type" db:"owner_type"`
	OwnerID        string          `json:"owner_id" db:"owner_id"`
	Identifier     string          `json:"identifier" db:"identifier"`
	TargetClass    string          `json:"target_class" db:"target_class"`
	RawMetadata    json.RawMessage `json:"raw_metadata" db:"raw_metadata"`
	ParsedMetadata json.RawMessage `json:"parsed_metadata,omitempty" db:"parsed_metadata"`

	// Relationship references captured at normalization time, resolved later
	// by the relationship engine.
	CollectionIDs StringList `json:"collection_ids,omitempty" db:"collection_ids"`
	ParentIDs     StringList `json:"parent_ids,omitempty" db:"parent_ids"`
	ChildIDs      StringList `json:"child_ids,omitempty" db:"child_ids"`

	// Persisted graph entity id, set once the factory has run.
	EntityID *string `json:"entity_id,omitempty" db:"entity_id"`

	ImportAttempts      int        `json:"import_attempts" db:"import_attempts"`
	Fingerprint         string     `json:"fingerprint" db:"fingerprint"`
	PreviousFingerprint string     `json:"previous_fingerprint,omitempty" db:"previous_fingerprint"`
	CreatedAt           time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt           *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

// CreateEntryRequest is the request for creating/upserting an entry during a run
type CreateEntryRequest struct {
	OwnerType   string          `json:"owner_type" validate:"required,oneof=importer exporter"`
	OwnerID     string          `json:"owner_id" validate:"required"`
	Identifier  string          `json:"identifier" validate:"required"`
	TargetClass string          `json:"target_class" validate:"omitempty"`
	RawMetadata json.RawMessage `json:"raw_metadata" validate:"required"`
}

// EntryListResponse is the response for listing entries
type EntryListResponse struct {
	Items      []Entry `json:"items"`
	TotalCount int     `json:"total_count"`
	Page       int     `json:"page"`
	PageSize   int     `json:"page_size"`
}

// EntryDerivative records a file fetched or attached for an entry
// (remote URL downloads and local uploads both land here).
type EntryDerivative struct {
	ID          string     `json:"id" db:"id"`
	TenantID    string     `json:"tenant_id" db:"tenant_id"`
	EntryID     string     `json:"entry_id" db:"entry_id"`
	SourceURL   string     `json:"source_url" db:"source_url"`
	FileName    string     `json:"file_name" db:"file_name"`
	ContentType *string    `json:"content_type,omitempty" db:"content_type"`
	ByteSize    int64      `json:"byte_size" db:"byte_size"`
	Checksum    string     `json:"checksum" db:"checksum"`
	FileSetID   *string    `json:"file_set_id,omitempty" db:"file_set_id"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}
