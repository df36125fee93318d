/*
Package rules holds the typed rate masters the engine computes from.

PURPOSE:
  Every chargeable amount in the system traces back to one of three rule
  shapes, loaded per tenant:

  - SlabTable: progressive usage brackets with a minimum-charge clamp,
    for volumetric charges
  - CategoricalRule: attribute-matched flat amounts, for application and
    connection fees
  - TimeWindowRule: financial-year scoped rate-or-flat rules with min/max
    clamps, for rebate, penalty, interest, and cess percentages

KEY CONCEPTS IN THIS FILE (rules.go):
  - SlabTable.ChargeFor: progressive bracket evaluation
  - MatchCategorical: single-match attribute lookup
  - ApplicableWindow: latest fromFY at or before the target year wins

SEE ALSO:
  - finyear.go: financial-year arithmetic (April start)
  - calculator.go: rebate/penalty/interest evaluation over windows
  - ingress.go: JSON loading and validation
*/
package rules

import (
	"github.com/shopspring/decimal"

	"github.com/warp/billing-engine/billing"
)

// Master names for time-window rule sets.
const (
	MasterRebate       = "Rebate"
	MasterPenalty      = "Penalty"
	MasterInterest     = "Interest"
	MasterWaterCess    = "WaterCess"
	MasterSewerageCess = "SewerageCess"
)

// =============================================================================
// SLAB TABLE - Progressive usage brackets
// =============================================================================

// RateSlab is one bracket [From, To) charged at Rate per unit. A zero To
// marks the open-ended top bracket.
type RateSlab struct {
	From decimal.Decimal
	To   decimal.Decimal
	Rate decimal.Decimal
}

// Open reports whether the slab has no upper bound.
func (s RateSlab) Open() bool { return s.To.IsZero() }

// SlabTable is an ordered list of contiguous brackets plus the minimum
// charge the result is clamped up to.
type SlabTable struct {
	Slabs         []RateSlab
	MinimumCharge decimal.Decimal
}

// ChargeFor evaluates the table progressively: each bracket charges its rate
// on the units falling inside it, and the sum is clamped to MinimumCharge.
func (t SlabTable) ChargeFor(quantity decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, slab := range t.Slabs {
		if quantity.LessThanOrEqual(slab.From) {
			break
		}
		upper := quantity
		if !slab.Open() && upper.GreaterThan(slab.To) {
			upper = slab.To
		}
		total = total.Add(upper.Sub(slab.From).Mul(slab.Rate))
	}
	if total.LessThan(t.MinimumCharge) {
		total = t.MinimumCharge
	}
	return billing.RoundMoney(total)
}

// =============================================================================
// CATEGORICAL RULES - Attribute-matched flat amounts
// =============================================================================

// CategoricalRule maps subject attributes to a flat amount. Empty string
// fields match any value; MaxUnits zero leaves the unit range open-ended.
type CategoricalRule struct {
	UsageCategory      string
	ConnectionCategory string
	MinUnits           int
	MaxUnits           int
	Amount             decimal.Decimal
}

func (r CategoricalRule) matches(usage, connection string, units int) bool {
	if r.UsageCategory != "" && r.UsageCategory != usage {
		return false
	}
	if r.ConnectionCategory != "" && r.ConnectionCategory != connection {
		return false
	}
	if units < r.MinUnits {
		return false
	}
	if r.MaxUnits > 0 && units > r.MaxUnits {
		return false
	}
	return true
}

// MatchCategorical resolves the single rule matching the subject. Zero
// matches return false; more than one is a data-integrity failure because
// overlapping fee rules would make the charge depend on list order.
func MatchCategorical(ruleSet []CategoricalRule, usage, connection string, units int) (CategoricalRule, bool, error) {
	var found CategoricalRule
	count := 0
	for _, r := range ruleSet {
		if r.matches(usage, connection, units) {
			found = r
			count++
		}
	}
	switch count {
	case 0:
		return CategoricalRule{}, false, nil
	case 1:
		return found, true, nil
	default:
		return CategoricalRule{}, false, &billing.DataIntegrityError{Count: count}
	}
}

// =============================================================================
// TIME WINDOW RULES - Financial-year scoped rate rules
// =============================================================================

// TimeWindowRule is one financial-year scoped rate rule. The rule applies
// from FromFY onward until a later rule supersedes it.
//
// StartingDay is the grace in days after bill expiry before the charge
// starts applying. EndingDay is the day of month the window closes on
// (rebates). Rate is a percentage of the base; a zero Rate falls back to
// FlatAmount. MaxAmount caps and MinAmount floors the result when non-zero.
type TimeWindowRule struct {
	FromFY      string
	StartingDay int
	EndingDay   int
	Rate        decimal.Decimal
	FlatAmount  decimal.Decimal
	MaxAmount   decimal.Decimal
	MinAmount   decimal.Decimal
}

// ApplicableWindow picks the rule governing the given financial year: the
// one with the greatest FromFY at or before it.
func ApplicableWindow(ruleSet []TimeWindowRule, finYear string) (TimeWindowRule, bool) {
	var best TimeWindowRule
	found := false
	for _, r := range ruleSet {
		if CompareFY(r.FromFY, finYear) > 0 {
			continue
		}
		if !found || CompareFY(r.FromFY, best.FromFY) > 0 {
			best = r
			found = true
		}
	}
	return best, found
}

var hundred = decimal.NewFromInt(100)

// Applicable evaluates the rule against a base amount: Rate percent of the
// base when Rate is set, FlatAmount otherwise, clamped into [Min, Max].
func (r TimeWindowRule) Applicable(base decimal.Decimal) decimal.Decimal {
	amount := r.FlatAmount
	if !r.Rate.IsZero() {
		amount = base.Mul(r.Rate).Div(hundred)
	}
	if !r.MaxAmount.IsZero() && amount.GreaterThan(r.MaxAmount) {
		amount = r.MaxAmount
	}
	if !r.MinAmount.IsZero() && amount.LessThan(r.MinAmount) {
		amount = r.MinAmount
	}
	return billing.RoundMoney(amount)
}
