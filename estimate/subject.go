/*
Package estimate turns subject attributes and rate masters into tax-head
estimates.

PURPOSE:
  This is the computation front of the engine: given a billing subject (a
  service connection) and the tenant's masters, produce the named charge
  lines for one billing period or one application event. The output is a
  billing.Calculation handed to the Synchronizer; nothing here touches the
  ledger.

KEY CONCEPTS IN THIS FILE (subject.go):
  - Subject: the attributes rules match on (facility, usage category, units)
  - SubjectResolver: lookup of a subject by consumer code, backed by the
    connection registry of the deployment
*/
package estimate

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/warp/billing-engine/billing"
)

// Connection facilities. A combined connection accrues both water and
// sewerage heads.
const (
	FacilityWater    = "WATER"
	FacilitySewerage = "SEWERAGE"
	FacilityBoth     = "WATER_SEWERAGE"
)

// Subject carries the attributes the rate rules match on.
type Subject struct {
	TenantID           string
	ConsumerCode       string
	ConnectionFacility string
	UsageCategory      string
	ConnectionCategory string
	Units              int
}

// HasWater reports whether water heads apply to the subject.
func (s Subject) HasWater() bool {
	return s.ConnectionFacility == FacilityWater || s.ConnectionFacility == FacilityBoth
}

// HasSewerage reports whether sewerage heads apply to the subject.
func (s Subject) HasSewerage() bool {
	return s.ConnectionFacility == FacilitySewerage || s.ConnectionFacility == FacilityBoth
}

func (s Subject) validate() error {
	if s.TenantID == "" {
		return &billing.ValidationError{Field: "tenantId", Message: "required"}
	}
	if s.ConsumerCode == "" {
		return &billing.ValidationError{Field: "consumerCode", Message: "required"}
	}
	if !s.HasWater() && !s.HasSewerage() {
		return &billing.ValidationError{Field: "connectionFacility", Message: "unknown facility " + s.ConnectionFacility}
	}
	return nil
}

// Usage is one period's consumption for a subject.
type Usage struct {
	Quantity   decimal.Decimal
	PeriodFrom int64
	PeriodTo   int64
}

// SubjectResolver looks up the billing subject behind a consumer code.
type SubjectResolver interface {
	Resolve(ctx context.Context, tenantID, consumerCode string) (Subject, error)
}

// =============================================================================
// IN-MEMORY REGISTRY
// =============================================================================

// Registry is an in-memory SubjectResolver for tests and single-node
// deployments that load their connection base at startup.
type Registry struct {
	mu       sync.RWMutex
	subjects map[string]Subject
}

func NewRegistry() *Registry {
	return &Registry{subjects: make(map[string]Subject)}
}

func (r *Registry) key(tenantID, consumerCode string) string {
	return tenantID + "|" + consumerCode
}

// Register installs or replaces a subject.
func (r *Registry) Register(s Subject) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subjects[r.key(s.TenantID, s.ConsumerCode)] = s
}

func (r *Registry) Resolve(ctx context.Context, tenantID, consumerCode string) (Subject, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.subjects[r.key(tenantID, consumerCode)]
	if !ok {
		return Subject{}, &billing.ValidationError{
			Field:   "consumerCode",
			Message: "no subject registered for " + consumerCode,
		}
	}
	return s, nil
}

// Tenants returns the distinct tenant ids with registered subjects.
func (r *Registry) Tenants() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	var tenants []string
	for _, s := range r.subjects {
		if !seen[s.TenantID] {
			seen[s.TenantID] = true
			tenants = append(tenants, s.TenantID)
		}
	}
	return tenants
}

// Codes returns all consumer codes registered for a tenant, for bulk runs.
func (r *Registry) Codes(tenantID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var codes []string
	for _, s := range r.subjects {
		if s.TenantID == tenantID {
			codes = append(codes, s.ConsumerCode)
		}
	}
	return codes
}
