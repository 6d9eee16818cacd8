package models

import "time"

// Aggregate run statuses derived from counters.
const (
	RunStatusRunning              = "Running"
	RunStatusComplete             = "Complete"
	RunStatusCompleteWithFailures = "Complete (with failures)"
	RunStatusFailed               = "Failed"
)

// RunCounters holds the per-kind progress counters shared by importer and
// exporter runs. All adjustments happen as relative SQL updates; these fields
// are read-side snapshots only.
type RunCounters struct {
	Total           int `json:"total" db:"total"`
	Enqueued        int `json:"enqueued" db:"enqueued"`
	ProcessedRecs   int `json:"processed_records" db:"processed_records"`
	FailedRecs      int `json:"failed_records" db:"failed_records"`
	DeletedRecs     int `json:"deleted_records" db:"deleted_records"`
	ProcessedWorks  int `json:"processed_works" db:"processed_works"`
	FailedWorks     int `json:"failed_works" db:"failed_works"`
	ProcessedColls  int `json:"processed_collections" db:"processed_collections"`
	FailedColls     int `json:"failed_collections" db:"failed_collections"`
	ProcessedFiles  int `json:"processed_file_sets" db:"processed_file_sets"`
	FailedFiles     int `json:"failed_file_sets" db:"failed_file_sets"`
	ProcessedRels   int `json:"processed_relationships" db:"processed_relationships"`
	FailedRels      int `json:"failed_relationships" db:"failed_relationships"`
	InvalidRecords  int `json:"invalid_records" db:"invalid_records"`
}

// Status derives the aggregate run status. Only meaningful once the enqueued
// count has drained to the processed/failed/deleted totals.
func (c *RunCounters) Status() string {
	settled := c.ProcessedRecs + c.FailedRecs + c.DeletedRecs
	if c.Enqueued > settled {
		return RunStatusRunning
	}
	switch {
	case c.FailedRecs == 0 && c.FailedRels == 0:
		return RunStatusComplete
	case c.ProcessedRecs > 0 || c.DeletedRecs > 0:
		return RunStatusCompleteWithFailures
	default:
		return RunStatusFailed
	}
}

// ImporterRun is one execution of an importer. Historical runs are retained.
type ImporterRun struct {
	ID         string `json:"id" db:"id"`
	TenantID   string `json:"tenant_id" db:"tenant_id"`
	ImporterID string `json:"importer_id" db:"importer_id"`
	RunCounters

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

func (ImporterRun) TableName() string {
	return "importer_runs"
}

// ExporterRun is one execution of an exporter.
type ExporterRun struct {
	ID         string `json:"id" db:"id"`
	TenantID   string `json:"tenant_id" db:"tenant_id"`
	ExporterID string `json:"exporter_id" db:"exporter_id"`
	RunCounters

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

func (ExporterRun) TableName() string {
	return "exporter_runs"
}

// CounterDelta is one relative counter adjustment. Column must be one of the
// RunCounters columns; Delta may be negative, the store floors at zero.
type CounterDelta struct {
	Column string
	Delta  int
}

// RunResponse is the API view of a run: counters plus the derived status.
type RunResponse struct {
	ID        string      `json:"id"`
	OwnerType string      `json:"owner_type"`
	OwnerID   string      `json:"owner_id"`
	Counters  RunCounters `json:"counters"`
	Status    string      `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}
