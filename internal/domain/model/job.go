// Package model defines the core data types shared across the orderguard validation and dedupe system.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// JobType represents the bulk operation a job performs.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobType string

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobTypeValidate runs every item through the decision engine.
	JobTypeValidate JobType = "validate"
	// JobTypeDedupe matches every item against the tenant's existing customers.
	JobTypeDedupe JobType = "dedupe"

	// JobStatusPending indicates a job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusProcessing indicates a job is currently owned by a pipeline.
	JobStatusProcessing JobStatus = "processing"
	// JobStatusCompleted indicates every item has a result.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates an infrastructure failure stopped the job.
	JobStatusFailed JobStatus = "failed"
)

// UnmarshalText implements encoding.TextUnmarshaler for JobType to allow env parsing.
func (t *JobType) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	jt := JobType(v)
	if jt.Valid() {
		*t = jt
		return nil
	}
	return fmt.Errorf("invalid JobType: %q", v)
}

// ErrNoJobsAvailable is returned when no jobs are available for reservation.
var ErrNoJobsAvailable = errors.New("no jobs available")

// Valid returns true if the JobType is valid.
func (t JobType) Valid() bool {
	return t == JobTypeValidate || t == JobTypeDedupe
}

// Valid returns true if the JobStatus is valid.
func (s JobStatus) Valid() bool {
	return s == JobStatusPending || s == JobStatusProcessing || s == JobStatusCompleted ||
		s == JobStatusFailed
}

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransition reports whether a job may move from s to next.
// Re-entering processing is allowed so a crashed run can be resumed.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusProcessing
	case JobStatusProcessing:
		return next == JobStatusProcessing || next == JobStatusCompleted || next == JobStatusFailed
	default:
		return false
	}
}

// JobOptions carries per-job processing options chosen at submission.
type JobOptions struct {
	// FieldMapping maps payload fields to JMESPath expressions evaluated against each item.
	FieldMapping map[string]string `json:"field_mapping,omitempty"`
	// RuleSet selects a named tenant rule set for validate jobs. Empty uses the tenant default.
	RuleSet string `json:"rule_set,omitempty"`
}

// Job represents a durable batch operation with its progress and results.
type Job struct {
	ID             string            `json:"id"                         db:"id"`
	TenantID       string            `json:"tenant_id"                  db:"tenant_id"`
	Type           JobType           `json:"job_type"                   db:"job_type"`
	Status         JobStatus         `json:"status"                     db:"status"`
	InputItems     []json.RawMessage `json:"input_items"                db:"input_items"`
	Options        JobOptions        `json:"options"                    db:"options"`
	TotalItems     int               `json:"total_items"                db:"total_items"`
	ProcessedItems int               `json:"processed_items"            db:"processed_items"`
	ResultItems    []ItemResult      `json:"result_items,omitempty"     db:"-"`
	ErrorMessage   *string           `json:"error_message,omitempty"    db:"error_message"`
	Attempts       int               `json:"attempts"                   db:"attempts"`
	LeaseExpiresAt *time.Time        `json:"lease_expires_at,omitempty" db:"lease_expires_at"`
	CreatedAt      time.Time         `json:"created_at"                 db:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"                 db:"updated_at"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"     db:"completed_at"`
}

// Progress returns round(processed/total*100), or nil while the job is pending.
func (j *Job) Progress() *int {
	if j == nil || j.Status == JobStatusPending {
		return nil
	}
	var p int
	switch {
	case j.TotalItems <= 0 && j.Status == JobStatusCompleted:
		p = 100
	case j.TotalItems <= 0:
		p = 0
	default:
		p = int(math.Round(float64(j.ProcessedItems) / float64(j.TotalItems) * 100))
	}
	if p > 100 {
		p = 100
	}
	return &p
}

// CreateJobRequest represents a request to create a new batch job.
type CreateJobRequest struct {
	TenantID string            `json:"tenant_id"`
	Type     JobType           `json:"job_type"`
	Items    []json.RawMessage `json:"items"`
	Options  JobOptions        `json:"options,omitempty"`
}

// Validate validates the CreateJobRequest fields.
func (r *CreateJobRequest) Validate() error {
	if strings.TrimSpace(r.TenantID) == "" {
		return errors.New("tenant_id is required")
	}
	if !r.Type.Valid() {
		return errors.New("invalid job type")
	}
	if len(r.Items) == 0 {
		return errors.New("at least one item is required")
	}
	for field, expr := range r.Options.FieldMapping {
		if !IsPayloadKey(field) {
			return fmt.Errorf("field_mapping: unknown field %q", field)
		}
		if strings.TrimSpace(expr) == "" {
			return fmt.Errorf("field_mapping: empty expression for %q", field)
		}
	}
	return nil
}

// JobStats represents counts of jobs in each state.
type JobStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// JobStatusResponse is the polling view of a job.
// Progress is nil while pending, Result is set only when completed and Error only when failed.
type JobStatusResponse struct {
	JobID          string       `json:"job_id"`
	Status         JobStatus    `json:"status"`
	Progress       *int         `json:"progress,omitempty"`
	TotalItems     int          `json:"total_items"`
	ProcessedItems int          `json:"processed_items"`
	Result         []ItemResult `json:"result,omitempty"`
	Error          *string      `json:"error,omitempty"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
}

// JobProgress is published after each persisted progress update.
type JobProgress struct {
	JobID          string    `json:"job_id"`
	TenantID       string    `json:"tenant_id"`
	Status         JobStatus `json:"status"`
	ProcessedItems int       `json:"processed_items"`
	TotalItems     int       `json:"total_items"`
	Percent        int       `json:"percent"`
	At             time.Time `json:"at"`
}

// NotifyChannel is the Postgres LISTEN/NOTIFY channel announcing reservable jobs.
const NotifyChannel = "batch_job_added"
