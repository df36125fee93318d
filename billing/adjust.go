/*
adjust.go - Time-based rebate/penalty/interest settlement

PURPOSE:
  Re-evaluates the date-windowed conditional charges on a subject's unpaid
  demands. Only the single current outstanding period accrues adjustments;
  older (arrear) periods have their uncollected rebate/penalty lines forced
  to zero so superseded conditions stop accruing.

LATEST-LINE RULE:
  Each adjustment head keeps one "live" line. Recomputation mutates that
  line in place by the difference between the new value and the head's
  recorded total, instead of appending forever. A head with no line yet gets
  one appended only when the new value is positive (rebate stored negated).

EXCLUSIVITY:
  A demand carrying an advance-payment rebate line never receives a time
  rebate; the two mechanisms are mutually exclusive.

SEE ALSO:
  - roundoff.go: balancing pass re-run after every adjustment
  - rules package: window lookup and rate math behind AdjustmentCalculator
*/
package billing

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
)

// Adjustments holds the computed conditional amounts for one demand, each
// clamped to ≥ 0. Absent results are zero.
type Adjustments struct {
	Rebate   decimal.Decimal
	Penalty  decimal.Decimal
	Interest decimal.Decimal
}

// AdjustmentCalculator evaluates the time-window rules for a demand's
// financial year against its adjustable base amount.
type AdjustmentCalculator interface {
	Applicables(ctx context.Context, tenantID string, base decimal.Decimal,
		periodFrom, periodTo, billExpiry int64, now time.Time) (Adjustments, error)
}

// Applier settles time-based adjustments across a subject's demands.
//
// Locks must be the same instance the Synchronizer writes under; refresh and
// reconcile race on the same demands otherwise.
type Applier struct {
	Store      LedgerStore
	Locks      *KeyLock
	Calculator AdjustmentCalculator
	Expiry     BillExpiryFunc
	Clock      func() time.Time
}

func NewApplier(store LedgerStore, calc AdjustmentCalculator, expiry BillExpiryFunc) *Applier {
	return &Applier{
		Store:      store,
		Locks:      NewKeyLock(),
		Calculator: calc,
		Expiry:     expiry,
		Clock:      time.Now,
	}
}

// Refresh re-applies rebate/penalty/interest across all of a subject's
// demands for one business service, then persists the whole set atomically.
func (a *Applier) Refresh(ctx context.Context, tenantID, businessService, consumerCode string) ([]Demand, error) {
	// One consumer-level critical section covers every period of the subject.
	unlock := a.Locks.Lock(DemandKey{TenantID: tenantID, ConsumerCode: consumerCode})
	defer unlock()

	demands, err := a.Store.SearchDemands(ctx, DemandCriteria{
		TenantID:        tenantID,
		BusinessService: businessService,
		ConsumerCodes:   []string{consumerCode},
	})
	if err != nil {
		return nil, err
	}
	if len(demands) == 0 {
		return nil, fmt.Errorf("%w for %s/%s", ErrNoMatchingDemand, tenantID, consumerCode)
	}

	now := a.Clock()
	expiry, err := a.Expiry(ctx, tenantID, now)
	if err != nil {
		return nil, err
	}

	// The current period is the one ending last among non-cancelled demands.
	var latestPeriodTo int64
	for i := range demands {
		if demands[i].Status != StatusCancelled && demands[i].TaxPeriodTo > latestPeriodTo {
			latestPeriodTo = demands[i].TaxPeriodTo
		}
	}

	updated := make([]Demand, 0, len(demands))
	for i := range demands {
		demand := demands[i]
		if demand.Status == StatusCancelled {
			return nil, fmt.Errorf("demand %s: %w", demand.ID, ErrInvalidDemandState)
		}
		if !demand.IsPaymentCompleted {
			if demand.TaxPeriodTo == latestPeriodTo {
				if err := a.applyCurrent(ctx, &demand, now); err != nil {
					return nil, err
				}
			} else {
				zeroStaleAdjustments(&demand)
			}
			demand.Details = BalanceRoundOff(demand.TenantID, demand.ID, demand.Details)
		}
		demand.BillExpiryTime = expiry
		updated = append(updated, demand)
	}

	persisted, err := a.Store.UpdateDemands(ctx, updated)
	if err != nil {
		return nil, err
	}
	log.Printf("[Adjust] refreshed %d demand(s) for %s/%s", len(persisted), tenantID, consumerCode)
	return persisted, nil
}

// applyCurrent settles the adjustment heads on the current-period demand.
// Nothing happens until the expiry/grace window has elapsed.
func (a *Applier) applyCurrent(ctx context.Context, demand *Demand, now time.Time) error {
	if now.UnixMilli() <= demand.BillExpiryTime {
		return nil
	}

	base := decimal.Zero
	for _, d := range demand.Details {
		if AdjustableHeads[d.TaxHeadCode] {
			base = base.Add(d.TaxAmount)
		}
	}

	adj, err := a.Calculator.Applicables(ctx, demand.TenantID, base,
		demand.TaxPeriodFrom, demand.TaxPeriodTo, demand.BillExpiryTime, now)
	if err != nil {
		return err
	}

	idx := NewDetailIndex(demand.Details)
	advanceRebatePresent := idx.HasHead(HeadAdvanceRebate)

	// Rebate reduces the payable total, so it lands negated.
	if !advanceRebatePresent {
		settleHead(demand, idx, HeadTimeRebate, adj.Rebate.Neg(), adj.Rebate)
	}
	settleHead(demand, idx, HeadTimeInterest, adj.Interest, adj.Interest)
	settleHead(demand, idx, HeadTimePenalty, adj.Penalty, adj.Penalty)
	return nil
}

// settleHead converges the head's recorded total on newValue. An existing
// latest line is mutated in place; otherwise a line is appended only when
// the head's positivity gate passes.
func settleHead(demand *Demand, idx *DetailIndex, code TaxHeadCode, newValue, gate decimal.Decimal) {
	if pos, ok := idx.LatestLine(code); ok {
		delta := newValue.Sub(idx.RecordedTotal(code))
		demand.Details[pos].TaxAmount = demand.Details[pos].TaxAmount.Add(delta)
		return
	}
	if gate.GreaterThan(decimal.Zero) {
		demand.Details = append(demand.Details, DemandDetail{
			DemandID:         demand.ID,
			TenantID:         demand.TenantID,
			TaxHeadCode:      code,
			TaxAmount:        RoundMoney(newValue),
			CollectionAmount: decimal.Zero,
		})
	}
}

// zeroStaleAdjustments forces uncollected rebate/penalty lines on an arrear
// period to zero. Collected lines stay untouched for audit.
func zeroStaleAdjustments(demand *Demand) {
	for i := range demand.Details {
		d := &demand.Details[i]
		if (d.TaxHeadCode == HeadTimeRebate || d.TaxHeadCode == HeadTimePenalty) &&
			d.CollectionAmount.IsZero() {
			d.TaxAmount = decimal.Zero
		}
	}
}
