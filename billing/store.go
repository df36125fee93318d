/*
store.go - Ledger store boundary

PURPOSE:
  Defines the interface between the reconciliation engine and the external
  billing ledger. The store is the single source of truth; the engine runs
  read-modify-write cycles against it without holding a connection or
  transaction across the cycle.

CONTRACT:
  - SaveDemands / UpdateDemands are all-or-nothing per call: a failed write
    must leave the prior ledger state untouched.
  - Demand details are append-only in spirit: UpdateDemands persists the
    detail set the engine hands it, and the engine only ever appends lines or
    mutates the single live adjustment line per head.
  - Status transitions (ACTIVE → CANCELLED) belong to the ledger owner, not
    to this engine.

IMPLEMENTATIONS:
  - store/sqlite: production store
  - store/memory: in-memory store for tests/dev
*/
package billing

import "context"

// DemandCriteria narrows a ledger search. ConsumerCodes is required;
// PeriodFrom/To of zero apply no period filter. One-time demands live under
// their own business service and are searched without a period filter.
type DemandCriteria struct {
	TenantID        string
	BusinessService string
	ConsumerCodes   []string
	PeriodFrom      int64
	PeriodTo        int64
}

// LedgerStore is the external billing ledger.
type LedgerStore interface {
	// SearchDemands returns all demands matching the criteria, any status.
	SearchDemands(ctx context.Context, criteria DemandCriteria) ([]Demand, error)

	// SaveDemands persists new demands atomically and returns them with
	// store-assigned identifiers.
	SaveDemands(ctx context.Context, demands []Demand) ([]Demand, error)

	// UpdateDemands replaces the detail sets and mutable fields of existing
	// demands atomically.
	UpdateDemands(ctx context.Context, demands []Demand) ([]Demand, error)
}
