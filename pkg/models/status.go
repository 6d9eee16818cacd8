package models

import "time"

// Status messages. Anything else is treated as a custom message.
const (
	StatusPending  = "Pending"
	StatusComplete = "Complete"
	StatusFailed   = "Failed"
)

// Statusable owner types for the polymorphic statuses table.
const (
	StatusOwnerEntry       = "entry"
	StatusOwnerImporter    = "importer"
	StatusOwnerExporter    = "exporter"
	StatusOwnerImporterRun = "importer_run"
	StatusOwnerExporterRun = "exporter_run"
)

// Status is one append-only outcome record. The current status of an owner is
// its most recently created row; an owner with no rows is Pending.
type Status struct {
	ID             int64     `json:"id" db:"id"`
	TenantID       string    `json:"tenant_id" db:"tenant_id"`
	OwnerType      string    `json:"owner_type" db:"owner_type"`
	OwnerID        string    `json:"owner_id" db:"owner_id"`
	RunID          *string   `json:"run_id,omitempty" db:"run_id"`
	Message        string    `json:"message" db:"message"`
	ErrorClass     *string   `json:"error_class,omitempty" db:"error_class"`
	ErrorMessage   *string   `json:"error_message,omitempty" db:"error_message"`
	ErrorBacktrace *string   `json:"error_backtrace,omitempty" db:"error_backtrace"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// IsFailure reports whether this status records an error outcome.
func (s *Status) IsFailure() bool {
	return s.Message == StatusFailed || s.ErrorClass != nil
}

// CreateStatusRequest is the request for appending a status record
type CreateStatusRequest struct {
	OwnerType      string  `json:"owner_type" validate:"required"`
	OwnerID        string  `json:"owner_id" validate:"required"`
	RunID          *string `json:"run_id,omitempty"`
	Message        string  `json:"message" validate:"required"`
	ErrorClass     *string `json:"error_class,omitempty"`
	ErrorMessage   *string `json:"error_message,omitempty"`
	ErrorBacktrace *string `json:"error_backtrace,omitempty"`
}
