package models

import (
	"encoding/json"
	"time"
)

// Exporter export kinds: what set of entities one run walks.
const (
	ExportKindCollection = "collection"
	ExportKindWorksByID  = "works"
	ExportKindAll        = "all"
)

// Exporter is a configured export job: which entities to walk and which
// writer format to emit them in.
type Exporter struct {
	ID            string          `json:"id" db:"id"`
	TenantID      string          `json:"tenant_id" db:"tenant_id"`
	Name          string          `json:"name" db:"name"`
	UserID        string          `json:"user_id" db:"user_id"`
	ExportKind    string          `json:"export_kind" db:"export_kind"`
	ExportSource  *string         `json:"export_source,omitempty" db:"export_source"`
	WriterFormat  string          `json:"writer_format" db:"writer_format"`
	FieldMappings json.RawMessage `json:"field_mappings,omitempty" db:"field_mappings"`
	Limit         int             `json:"limit" db:"record_limit"`
	LastRunAt     *time.Time      `json:"last_run_at,omitempty" db:"last_run_at"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
	DeletedAt     *time.Time      `json:"deleted_at,omitempty" db:"deleted_at"`
}

// CreateExporterRequest is the request for creating an exporter
type CreateExporterRequest struct {
	Name          string          `json:"name" validate:"required"`
	UserID        string          `json:"user_id" validate:"required"`
	ExportKind    string          `json:"export_kind" validate:"required,oneof=collection works all"`
	ExportSource  *string         `json:"export_source,omitempty"`
	WriterFormat  string          `json:"writer_format" validate:"required"`
	FieldMappings json.RawMessage `json:"field_mappings,omitempty"`
	Limit         int             `json:"limit" validate:"omitempty,min=0"`
}

// ExporterListResponse is the response for listing exporters
type ExporterListResponse struct {
	Items      []Exporter `json:"items"`
	TotalCount int        `json:"total_count"`
	Page       int        `json:"page"`
	PageSize   int        `json:"page_size"`
}
