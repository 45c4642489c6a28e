package data

import "errors"

// Shared sentinel errors for data-layer repositories.
var (
	// ErrJobNotFound is returned when a job does not exist.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobStateConflict is returned when a write targets a job in a state that does not allow it.
	ErrJobStateConflict = errors.New("job is not in a state that allows this operation")
	// ErrResultCountMismatch is returned when Complete receives a result set that does not cover every item.
	ErrResultCountMismatch = errors.New("result count does not match total items")
	// ErrCustomerIDRequired is returned when upserting a customer without an id.
	ErrCustomerIDRequired = errors.New("customer id is required")
	// ErrTenantIDRequired is returned when a tenant-scoped call has no tenant.
	ErrTenantIDRequired = errors.New("tenant_id is required")
)
