// Package testutil provides testing utilities and helpers for the orderguard job system.
package testutil

import (
	"encoding/json"
	"fmt"

	"github.com/orderguard/orderguard/internal/domain/model"
)

// DefaultTestTenant is the tenant used by builders unless overridden.
const DefaultTestTenant = "tenant-test"

// JobRequestBuilder provides a fluent interface for building CreateJobRequest objects for testing.
type JobRequestBuilder struct {
	req *model.CreateJobRequest
}

// NewJobRequest creates a validate job request with a single well-formed item.
func NewJobRequest() *JobRequestBuilder {
	return &JobRequestBuilder{
		req: &model.CreateJobRequest{
			TenantID: DefaultTestTenant,
			Type:     model.JobTypeValidate,
			Items:    []json.RawMessage{CustomerItem(0)},
		},
	}
}

// WithTenant sets the tenant id.
func (b *JobRequestBuilder) WithTenant(tenantID string) *JobRequestBuilder {
	b.req.TenantID = tenantID
	return b
}

// WithType sets the job type.
func (b *JobRequestBuilder) WithType(jobType model.JobType) *JobRequestBuilder {
	b.req.Type = jobType
	return b
}

// WithItems replaces the items.
func (b *JobRequestBuilder) WithItems(items ...json.RawMessage) *JobRequestBuilder {
	b.req.Items = items
	return b
}

// WithItemStrings replaces the items with raw JSON strings.
func (b *JobRequestBuilder) WithItemStrings(items ...string) *JobRequestBuilder {
	b.req.Items = make([]json.RawMessage, len(items))
	for i, it := range items {
		b.req.Items[i] = json.RawMessage(it)
	}
	return b
}

// WithCustomerItems replaces the items with n generated customer payloads.
func (b *JobRequestBuilder) WithCustomerItems(n int) *JobRequestBuilder {
	b.req.Items = make([]json.RawMessage, n)
	for i := range n {
		b.req.Items[i] = CustomerItem(i)
	}
	return b
}

// WithRuleSet selects a named tenant rule set.
func (b *JobRequestBuilder) WithRuleSet(ruleSet string) *JobRequestBuilder {
	b.req.Options.RuleSet = ruleSet
	return b
}

// WithFieldMapping sets the per-item JMESPath field mapping.
func (b *JobRequestBuilder) WithFieldMapping(mapping map[string]string) *JobRequestBuilder {
	b.req.Options.FieldMapping = mapping
	return b
}

// Build returns the constructed CreateJobRequest.
func (b *JobRequestBuilder) Build() *model.CreateJobRequest {
	return b.req
}

// CustomerItem returns a deterministic customer payload whose fields vary with i.
func CustomerItem(i int) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(
		`{"email":"user%d@example.com","phone":"+1415555%04d","name":"User %d","transaction_amount":%d.50}`,
		i, i%10000, i, 10+i,
	))
}

// ValidateJobRequest creates a validate job request with n items.
func ValidateJobRequest(n int) *model.CreateJobRequest {
	return NewJobRequest().WithCustomerItems(n).Build()
}

// DedupeJobRequest creates a dedupe job request with n items.
func DedupeJobRequest(n int) *model.CreateJobRequest {
	return NewJobRequest().
		WithType(model.JobTypeDedupe).
		WithCustomerItems(n).
		Build()
}
