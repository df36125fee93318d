/*
roundoff.go - Whole-unit round-off balancing

PURPOSE:
  Appends a ROUND_OFF correction line so the net payable of a Demand always
  lands on a whole currency unit, no matter how many fractional charge lines
  the ledger has accumulated.

ALGORITHM:
  Let total = Σ(taxAmount − collectionAmount) over all non-round-off lines
  and prev = the same sum over existing round-off lines. With frac the
  fractional part of total:

    frac ≥ 0.5  →  roundOff = 1 − frac   (push up to the next unit)
    frac < 0.5  →  roundOff = −frac      (pull down to this unit)

  The emitted line carries roundOff − prev, netting against history so the
  cumulative round-off stays correct across arbitrarily many recalculations.
  A zero net delta appends nothing, which keeps recalculation idempotent.

  This runs over the ENTIRE current detail set (existing + new) on every
  create and every update, never over the new deltas alone.
*/
package billing

import (
	"github.com/shopspring/decimal"
)

var midUnit = decimal.NewFromFloat(0.5)

// BalanceRoundOff computes the round-off correction for the given detail set
// and returns the set with the correction line appended, or unchanged when
// the net correction is zero.
func BalanceRoundOff(tenantID, demandID string, details []DemandDetail) []DemandDetail {
	line, ok := roundOffLine(tenantID, demandID, details)
	if !ok {
		return details
	}
	return append(details, line)
}

// roundOffLine computes the net round-off delta against recorded history.
func roundOffLine(tenantID, demandID string, details []DemandDetail) (DemandDetail, bool) {
	total := decimal.Zero
	previous := decimal.Zero

	for _, d := range details {
		outstanding := d.TaxAmount.Sub(d.CollectionAmount)
		if d.TaxHeadCode == HeadRoundOff {
			previous = previous.Add(outstanding)
		} else {
			total = total.Add(outstanding)
		}
	}

	frac := total.Mod(decimal.NewFromInt(1))

	var roundOff decimal.Decimal
	if frac.GreaterThanOrEqual(midUnit) {
		roundOff = decimal.NewFromInt(1).Sub(frac)
	} else {
		roundOff = frac.Neg()
	}

	// Net against previously recorded round-off so history stays balanced.
	roundOff = roundOff.Sub(previous)

	if roundOff.IsZero() {
		return DemandDetail{}, false
	}
	return DemandDetail{
		DemandID:         demandID,
		TenantID:         tenantID,
		TaxHeadCode:      HeadRoundOff,
		TaxAmount:        roundOff,
		CollectionAmount: decimal.Zero,
	}, true
}
