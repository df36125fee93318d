/*
calculator.go - Time-window evaluation for rebate, penalty, and interest

PURPOSE:
  Implements billing.AdjustmentCalculator over the tenant's time-window
  masters, and derives the bill expiry instant from the rebate window.

EVALUATION:
  - Rebate applies while today's day of month is within the window's
    ending day. Rate percent of the base, or flat, clamped to [min, max].
  - Penalty applies once the bill expiry plus the window's grace days has
    passed. Same rate-or-flat evaluation.
  - Interest accrues daily after the same grace: base * rate% * days/365,
    clamped. A flat interest rule applies as a one-shot amount.

  A tenant without a given master simply has that component evaluate to
  zero; a malformed master is still an error.
*/
package rules

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/billing-engine/billing"
)

const dayMillis = int64(24 * time.Hour / time.Millisecond)

var daysPerYear = decimal.NewFromInt(365)

// Calculator evaluates time-window masters for a tenant.
type Calculator struct {
	Masters Provider
}

func NewCalculator(masters Provider) *Calculator {
	return &Calculator{Masters: masters}
}

// Applicables computes the rebate, penalty, and interest applicable to a
// demand's adjustable base at the given instant.
func (c *Calculator) Applicables(ctx context.Context, tenantID string, base decimal.Decimal,
	periodFrom, periodTo, billExpiry int64, now time.Time) (billing.Adjustments, error) {

	finYear := FinancialYear(time.UnixMilli(periodTo).UTC())
	var adj billing.Adjustments

	rebate, err := c.window(ctx, tenantID, MasterRebate, finYear)
	if err != nil {
		return adj, err
	}
	if rebate != nil && now.Day() <= rebate.EndingDay {
		adj.Rebate = clampPositive(rebate.Applicable(base))
	}

	penalty, err := c.window(ctx, tenantID, MasterPenalty, finYear)
	if err != nil {
		return adj, err
	}
	if penalty != nil && now.UnixMilli() > billExpiry+int64(penalty.StartingDay)*dayMillis {
		adj.Penalty = clampPositive(penalty.Applicable(base))
	}

	interest, err := c.window(ctx, tenantID, MasterInterest, finYear)
	if err != nil {
		return adj, err
	}
	if interest != nil {
		adj.Interest = clampPositive(interestAmount(*interest, base, billExpiry, now))
	}

	return adj, nil
}

// window resolves the master's applicable rule for the financial year. A
// tenant without the master, or with no rule reaching back far enough,
// yields nil.
func (c *Calculator) window(ctx context.Context, tenantID, master, finYear string) (*TimeWindowRule, error) {
	ruleSet, err := c.Masters.TimeWindows(ctx, tenantID, master)
	if err != nil {
		if errors.Is(err, billing.ErrMasterDataNotFound) {
			return nil, nil
		}
		return nil, err
	}
	rule, ok := ApplicableWindow(ruleSet, finYear)
	if !ok {
		return nil, nil
	}
	return &rule, nil
}

// interestAmount accrues simple daily interest once the grace after bill
// expiry has elapsed.
func interestAmount(rule TimeWindowRule, base decimal.Decimal, billExpiry int64, now time.Time) decimal.Decimal {
	accrualStart := billExpiry + int64(rule.StartingDay)*dayMillis
	if now.UnixMilli() <= accrualStart {
		return decimal.Zero
	}
	if rule.Rate.IsZero() {
		return rule.Applicable(base)
	}

	days := decimal.NewFromInt((now.UnixMilli() - accrualStart) / dayMillis)
	amount := base.Mul(rule.Rate).Div(hundred).Mul(days).Div(daysPerYear)
	if !rule.MaxAmount.IsZero() && amount.GreaterThan(rule.MaxAmount) {
		amount = rule.MaxAmount
	}
	if !rule.MinAmount.IsZero() && amount.LessThan(rule.MinAmount) {
		amount = rule.MinAmount
	}
	return billing.RoundMoney(amount)
}

func clampPositive(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// BILL EXPIRY - Derived from the rebate window
// =============================================================================

// BillExpiry computes the bill expiry instant for a tenant: end of the
// expiry day, where the day follows from the rebate window's ending day.
//
// Early in the month (day 10 or before) the bill expires on the rebate
// ending day, capped at the 15th so a late-configured rebate cannot push
// freshly issued bills out a full month. Past the rebate day, bills run to
// the end of the month.
func (c *Calculator) BillExpiry(ctx context.Context, tenantID string, now time.Time) (int64, error) {
	ruleSet, err := c.Masters.TimeWindows(ctx, tenantID, MasterRebate)
	if err != nil {
		return 0, err
	}
	rule, ok := ApplicableWindow(ruleSet, FinancialYear(now))
	if !ok {
		return 0, &billing.MasterDataNotFoundError{TenantID: tenantID, RuleName: MasterRebate}
	}

	lastDay := time.Date(now.Year(), now.Month()+1, 0, 0, 0, 0, 0, now.Location()).Day()
	day := expiryDay(now.Day(), rule.EndingDay, lastDay)
	if day > lastDay {
		day = lastDay
	}

	expiry := time.Date(now.Year(), now.Month(), day, 23, 59, 59, 0, now.Location())
	return expiry.UnixMilli(), nil
}

func expiryDay(today, rebateDay, lastDay int) int {
	switch {
	case today <= 10:
		if rebateDay <= 15 {
			return rebateDay
		}
		return 15
	case today <= rebateDay:
		return rebateDay
	default:
		return lastDay
	}
}
