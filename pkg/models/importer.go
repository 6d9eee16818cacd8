package models

import (
	"encoding/json"
	"time"
)

// Importer is a configured ingest source: which reader parses it, how its
// fields map onto target metadata, and how often it re-runs.
type Importer struct {
	ID            string          `json:"id" db:"id"`
	TenantID      string          `json:"tenant_id" db:"tenant_id"`
	Name          string          `json:"name" db:"name"`
	AdminSetID    *string         `json:"admin_set_id,omitempty" db:"admin_set_id"`
	UserID        string          `json:"user_id" db:"user_id"`
	ReaderFormat  string          `json:"reader_format" db:"reader_format"`
	ReaderConfig  json.RawMessage `json:"reader_config,omitempty" db:"reader_config"`
	FieldMappings json.RawMessage `json:"field_mappings,omitempty" db:"field_mappings"`

	// RunInterval of zero means the importer only runs on demand.
	RunInterval time.Duration `json:"run_interval" db:"run_interval"`
	NextRunAt   *time.Time    `json:"next_run_at,omitempty" db:"next_run_at"`
	LastRunAt   *time.Time    `json:"last_run_at,omitempty" db:"last_run_at"`

	// Limit caps how many records one run will enqueue; zero means no cap.
	Limit int `json:"limit" db:"record_limit"`

	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

// CreateImporterRequest is the request for creating an importer
type CreateImporterRequest struct {
	Name          string          `json:"name" validate:"required"`
	AdminSetID    *string         `json:"admin_set_id,omitempty"`
	UserID        string          `json:"user_id" validate:"required"`
	ReaderFormat  string          `json:"reader_format" validate:"required"`
	ReaderConfig  json.RawMessage `json:"reader_config,omitempty"`
	FieldMappings json.RawMessage `json:"field_mappings,omitempty"`
	RunInterval   time.Duration   `json:"run_interval" validate:"omitempty,min=0"`
	Limit         int             `json:"limit" validate:"omitempty,min=0"`
}

// UpdateImporterRequest is the request for updating an importer
type UpdateImporterRequest struct {
	Name          *string         `json:"name,omitempty"`
	AdminSetID    *string         `json:"admin_set_id,omitempty"`
	ReaderFormat  *string         `json:"reader_format,omitempty"`
	ReaderConfig  json.RawMessage `json:"reader_config,omitempty"`
	FieldMappings json.RawMessage `json:"field_mappings,omitempty"`
	RunInterval   *time.Duration  `json:"run_interval,omitempty"`
	Limit         *int            `json:"limit,omitempty"`
}

// ImporterListResponse is the response for listing importers
type ImporterListResponse struct {
	Items      []Importer `json:"items"`
	TotalCount int        `json:"total_count"`
	Page       int        `json:"page"`
	PageSize   int        `json:"page_size"`
}
