/*
errors.go - Centralized error types for the billing engine

PURPOSE:
  All engine error types in one place. The engine performs no internal
  retries; every failure here is surfaced as a typed, recoverable-by-caller
  error. A failed estimate aborts the whole subject's reconciliation; a
  failed demand write leaves the prior ledger state untouched.

ERROR CATEGORIES:
  1. Computation errors - rule evaluation failures (negative amounts, missing
     masters, missing subject attributes)
  2. Reconciliation errors - demand lookup/state failures
  3. Boundary errors - malformed rule-table or ledger payloads

USAGE:
  Callers branch with errors.Is:

    if errors.Is(err, billing.ErrNegativeAmount) {
        // nothing was persisted; fix the rule table
    }

SEE ALSO:
  - sync.go, adjust.go: producers of the reconciliation errors
  - estimate package: producers of the computation errors
*/
package billing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned when a required subject attribute is missing.
	ErrValidation = errors.New("validation failed")

	// ErrMasterDataNotFound is returned when no rule table exists for the
	// tenant/category combination.
	ErrMasterDataNotFound = errors.New("master data not found")

	// ErrNegativeAmount is returned when a rule evaluation produces a
	// negative charge. Fatal for the batch: nothing is persisted.
	ErrNegativeAmount = errors.New("negative amount computed")

	// ErrNoMatchingDemand is returned when an update resolves to no demand.
	ErrNoMatchingDemand = errors.New("no matching demand")

	// ErrDuplicateKey is returned when a batch carries two calculations for
	// the same (tenant, consumer[, period]) key.
	ErrDuplicateKey = errors.New("duplicate demand key in batch")

	// ErrDataIntegrity is returned when more than one active demand exists
	// for a key. Never silently resolved.
	ErrDataIntegrity = errors.New("data integrity violation")

	// ErrInvalidDemandState is returned when reconciling against a
	// cancelled demand.
	ErrInvalidDemandState = errors.New("invalid demand state")

	// ErrParsing is returned for malformed rule-table or ledger payloads.
	ErrParsing = errors.New("parsing failed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NegativeAmountError reports which head computed below zero.
type NegativeAmountError struct {
	Code   TaxHeadCode
	Amount decimal.Decimal
}

func (e *NegativeAmountError) Error() string {
	return fmt.Sprintf("tax head %s computed negative amount %s", e.Code, e.Amount)
}

func (e *NegativeAmountError) Unwrap() error { return ErrNegativeAmount }

// DuplicateKeyError reports the offending key within a batch.
type DuplicateKeyError struct {
	Key DemandKey
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("batch contains two calculations for %s/%s [%d,%d]",
		e.Key.TenantID, e.Key.ConsumerCode, e.Key.PeriodFrom, e.Key.PeriodTo)
}

func (e *DuplicateKeyError) Unwrap() error { return ErrDuplicateKey }

// DataIntegrityError reports a key that resolved to multiple active demands.
type DataIntegrityError struct {
	Key   DemandKey
	Count int
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("%d active demands found for %s/%s, expected at most one",
		e.Count, e.Key.TenantID, e.Key.ConsumerCode)
}

func (e *DataIntegrityError) Unwrap() error { return ErrDataIntegrity }

// ValidationError reports the missing or malformed subject attribute.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// MasterDataNotFoundError names the absent rule table.
type MasterDataNotFoundError struct {
	TenantID string
	RuleName string
}

func (e *MasterDataNotFoundError) Error() string {
	return fmt.Sprintf("no %s master for tenant %s", e.RuleName, e.TenantID)
}

func (e *MasterDataNotFoundError) Unwrap() error { return ErrMasterDataNotFound }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid input rather
// than ledger or master-data state.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrDuplicateKey) ||
		errors.Is(err, ErrNoMatchingDemand)
}

// IsFatal returns true if the error must abort the batch with nothing
// persisted.
func IsFatal(err error) bool {
	return errors.Is(err, ErrNegativeAmount) ||
		errors.Is(err, ErrDataIntegrity)
}
