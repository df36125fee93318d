/*
Package billing provides the core demand reconciliation engine.

PURPOSE:
  This package contains the domain types and algorithms for turning computed
  charge estimates into a persisted, append-only billing ledger record (a
  Demand). Whether the charge is a water bill, a sewerage fee, or a
  building-permit scrutiny fee, the same engine handles create-vs-update
  resolution, delta computation, round-off balancing, and time-based
  rebate/penalty/interest settlement.

KEY CONCEPTS IN THIS FILE (types.go):
  - TaxHeadEstimate: A transient, named charge line produced per calculation
  - Demand: The persisted billing record for a (tenant, consumer[, period]) key
  - DemandDetail: One append-only ledger line carrying a delta for a tax head
  - DemandKey: The identity under which at most one active Demand may exist

DESIGN PRINCIPLES:
  1. Append-only details: lines are appended, never replaced; the recorded
     total for a head is the sum of all its lines
  2. Precision: decimal.Decimal for every monetary value, no binary floats
  3. Idempotence: recomputing with unchanged inputs must not grow the ledger

SEE ALSO:
  - sync.go: create-vs-update reconciliation
  - roundoff.go: whole-unit round-off balancing
  - adjust.go: rebate/penalty/interest settlement
*/
package billing

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// TAX HEADS - Named charge and adjustment categories
// =============================================================================

// TaxHeadCode names a charge or adjustment category on the ledger.
type TaxHeadCode string

const (
	HeadWaterCharge    TaxHeadCode = "WATER_CHARGE"
	HeadSewerageCharge TaxHeadCode = "SEWERAGE_CHARGE"
	HeadWaterCess      TaxHeadCode = "WATER_CESS"
	HeadSewerageCess   TaxHeadCode = "SEWERAGE_CESS"

	HeadScrutinyFee     TaxHeadCode = "SCRUTINY_FEE"
	HeadSecurityDeposit TaxHeadCode = "SECURITY_DEPOSIT"
	HeadLabourFee       TaxHeadCode = "LABOUR_FEE"
	HeadReconnectionFee TaxHeadCode = "RECONNECTION_FEE"
	HeadOwnershipChange TaxHeadCode = "OWNERSHIP_CHANGE_FEE"

	HeadTimeRebate    TaxHeadCode = "TIME_REBATE"
	HeadTimePenalty   TaxHeadCode = "TIME_PENALTY"
	HeadTimeInterest  TaxHeadCode = "TIME_INTEREST"
	HeadAdvanceRebate TaxHeadCode = "ADVANCE_REBATE"
	HeadAdhocRebate   TaxHeadCode = "ADHOC_REBATE"
	HeadAdhocPenalty  TaxHeadCode = "ADHOC_PENALTY"

	HeadRoundOff TaxHeadCode = "ROUND_OFF"
)

// AdjustableHeads are the charge heads whose recorded total forms the base
// for time-based rebate/penalty/interest computation.
var AdjustableHeads = map[TaxHeadCode]bool{
	HeadWaterCharge:    true,
	HeadSewerageCharge: true,
	HeadWaterCess:      true,
	HeadSewerageCess:   true,
}

// TaxCategory classifies an estimate line.
type TaxCategory string

const (
	CategoryCharge     TaxCategory = "CHARGE"
	CategoryFee        TaxCategory = "FEE"
	CategoryCess       TaxCategory = "CESS"
	CategoryRebate     TaxCategory = "REBATE"
	CategoryPenalty    TaxCategory = "PENALTY"
	CategoryAdjustment TaxCategory = "ADJUSTMENT"
)

// =============================================================================
// TAX HEAD ESTIMATE - Transient output of one calculation call
// =============================================================================

// TaxHeadEstimate is one computed charge line. It is produced per calculation
// call and never persisted directly; the Synchronizer converts it into
// DemandDetail deltas against the recorded ledger state.
//
// Amount carries sign: rebates are stored negated. The magnitude of every
// charge estimate must be non-negative at computation time; a negative
// computed charge is a fatal NegativeAmountError.
type TaxHeadEstimate struct {
	Code     TaxHeadCode
	Category TaxCategory
	Amount   decimal.Decimal
}

// =============================================================================
// DEMAND - Persisted billing ledger record
// =============================================================================

type DemandStatus string

const (
	StatusActive    DemandStatus = "ACTIVE"
	StatusCancelled DemandStatus = "CANCELLED"
)

// Demand is the billing record for one subject and billing period. It is
// created once by the Synchronizer; afterwards only its detail list grows and
// its expiry/status fields are updated by collaborators. The engine never
// deletes a Demand, and it refuses to reconcile against a cancelled one.
//
// TaxPeriodFrom/To are epoch milliseconds; both zero means a one-time,
// non-periodic demand (application fees).
type Demand struct {
	ID                   string
	TenantID             string
	ConsumerCode         string
	TaxPeriodFrom        int64
	TaxPeriodTo          int64
	BusinessService      string
	Status               DemandStatus
	BillExpiryTime       int64
	MinimumAmountPayable decimal.Decimal
	IsPaymentCompleted   bool
	Details              []DemandDetail
}

// IsPeriodic reports whether the demand covers a billing period.
func (d *Demand) IsPeriodic() bool { return d.TaxPeriodFrom != 0 || d.TaxPeriodTo != 0 }

// Key returns the identity under which this demand is looked up.
func (d *Demand) Key() DemandKey {
	return DemandKey{
		TenantID:     d.TenantID,
		ConsumerCode: d.ConsumerCode,
		PeriodFrom:   d.TaxPeriodFrom,
		PeriodTo:     d.TaxPeriodTo,
	}
}

// NetPayable returns Σ(taxAmount − collectionAmount) across all detail lines,
// including any round-off lines.
func (d *Demand) NetPayable() decimal.Decimal {
	total := decimal.Zero
	for _, det := range d.Details {
		total = total.Add(det.TaxAmount.Sub(det.CollectionAmount))
	}
	return total
}

// DemandKey identifies at most one non-cancelled Demand at a time.
type DemandKey struct {
	TenantID     string
	ConsumerCode string
	PeriodFrom   int64
	PeriodTo     int64
}

// ConsumerKey strips the period, leaving the identity under which all of a
// consumer's read-modify-write cycles serialize. Adjustment refresh spans
// every period of a subject, so period-level locking is too fine.
func (k DemandKey) ConsumerKey() DemandKey {
	return DemandKey{TenantID: k.TenantID, ConsumerCode: k.ConsumerCode}
}

// =============================================================================
// DEMAND DETAIL - One append-only ledger line
// =============================================================================

// DemandDetail records one delta for a tax head. Multiple lines may exist for
// the same head over the life of a Demand; each is an adjustment delta, not a
// replacement value. Lines are ordered by append time within a Demand.
type DemandDetail struct {
	ID               string
	DemandID         string
	TenantID         string
	TaxHeadCode      TaxHeadCode
	TaxAmount        decimal.Decimal
	CollectionAmount decimal.Decimal
}

// =============================================================================
// CALCULATION - Input tuple for the Synchronizer
// =============================================================================

// Calculation pairs a subject's computed estimates with the billing period
// they cover. PeriodFrom/To zero means a one-time demand.
type Calculation struct {
	TenantID        string
	ConsumerCode    string
	BusinessService string
	PeriodFrom      int64
	PeriodTo        int64
	Estimates       []TaxHeadEstimate
}

// Key returns the demand identity this calculation reconciles against.
func (c *Calculation) Key() DemandKey {
	return DemandKey{
		TenantID:     c.TenantID,
		ConsumerCode: c.ConsumerCode,
		PeriodFrom:   c.PeriodFrom,
		PeriodTo:     c.PeriodTo,
	}
}

// Total returns the sum of all estimate amounts (rebates already negative).
func (c *Calculation) Total() decimal.Decimal {
	total := decimal.Zero
	for _, e := range c.Estimates {
		total = total.Add(e.Amount)
	}
	return total
}

// =============================================================================
// MONEY HELPERS
// =============================================================================

// RoundMoney rounds to 2 fractional digits, half away from zero. Every amount
// emitted onto the ledger goes through this exactly once so that repeated
// recalculation cannot drift.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
