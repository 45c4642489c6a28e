package core

import (
	"context"
	"database/sql"
	"time"

	"github.com/orderguard/orderguard/internal/domain/model"
)

// Repository ports. Services depend on these, the data layer implements them.

// JobStore is the durable job store driven by the batch pipeline and the runner.
type JobStore interface {
	Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error)
	GetByID(ctx context.Context, id string) (*model.Job, error)
	// MarkProcessing moves a pending or processing job to processing and records its item count.
	MarkProcessing(ctx context.Context, id string, total int) error
	// UpdateProgress stores max(processed_items, processed).
	UpdateProgress(ctx context.Context, id string, processed int) error
	// Complete writes every item result and marks the job completed in one transaction.
	Complete(ctx context.Context, id string, results []model.ItemResult) error
	Fail(ctx context.Context, id, errMsg string) error
	// ReserveNext leases the oldest pending job or a processing job whose lease expired.
	// It returns model.ErrNoJobsAvailable when nothing is reservable.
	ReserveNext(ctx context.Context, leaseSeconds int) (*model.Job, error)
	Heartbeat(ctx context.Context, id string, leaseSeconds int) (bool, error)
	// WaitForNotification blocks until a job is announced on model.NotifyChannel or ctx ends.
	WaitForNotification(ctx context.Context) error
}

// JobStoreTx creates jobs inside a caller-owned transaction.
type JobStoreTx interface {
	CreateInTx(ctx context.Context, tx *sql.Tx, req *model.CreateJobRequest) (*model.Job, error)
}

// JobSweeperRepository backs the lease sweeper.
type JobSweeperRepository interface {
	// ReannounceStale re-sends notifications for pending jobs older than staleAfter
	// and processing jobs whose lease expired. It returns how many jobs were announced.
	ReannounceStale(ctx context.Context, params ReannounceParams) (int, error)
	Stats(ctx context.Context) (*model.JobStats, error)
}

// ReannounceParams bounds one sweeper pass.
type ReannounceParams struct {
	StaleAfter time.Duration
	Limit      int
}

// CustomerRepository stores existing tenant customers for dedupe matching.
type CustomerRepository interface {
	// FindCandidates returns customers sharing at least one non-empty key, ordered by id.
	FindCandidates(ctx context.Context, tenantID string, keys model.MatchKeys, limit int) ([]model.CustomerRecord, error)
	Upsert(ctx context.Context, rec *model.CustomerRecord) (*model.CustomerRecord, error)
}

// RuleRepository loads tenant decision rules.
type RuleRepository interface {
	// ListByRuleSet returns the tenant's rules for ruleSet ordered by priority then id.
	ListByRuleSet(ctx context.Context, tenantID, ruleSet string) ([]model.RuleDefinition, error)
	Upsert(ctx context.Context, def *model.RuleDefinition) (*model.RuleDefinition, error)
}

// ProgressPublisher announces job progress to interested subscribers.
type ProgressPublisher interface {
	Publish(ctx context.Context, ev model.JobProgress) error
}
