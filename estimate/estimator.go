/*
estimator.go - Tax-head estimation

PURPOSE:
  Computes the estimate lines for the three calculation events the engine
  serves:

  - Charges: the periodic volumetric bill (slab charge + cess per facility,
    plus any ad-hoc pass-through lines)
  - Fees: the one-time application fee set (scrutiny, security deposit,
    labour) matched from the categorical masters
  - Reconnection / ownership change: derived one-time fees

ZERO EMISSION:
  Scrutiny is always emitted, even at zero, so the application demand exists
  and downstream collection can see the assessed-at-zero decision. Deposits
  and derived fees are emitted only when positive.

ERRORS:
  A negative computed amount is a NegativeAmountError and aborts the whole
  calculation; nothing is persisted by callers on error.
*/
package estimate

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/rules"
)

// Default business service codes.
const (
	DefaultPeriodicService = "WS"
	DefaultOneTimeService  = "WS.ONE_TIME_FEE"
)

var tenPercent = decimal.NewFromFloat(0.10)

// Adhoc carries operator-entered pass-through amounts for a charge
// calculation. All values are magnitudes; rebates are negated on emission.
type Adhoc struct {
	Penalty       decimal.Decimal
	Rebate        decimal.Decimal
	AdvanceRebate decimal.Decimal
}

// Service computes estimates from the tenant's masters.
type Service struct {
	Masters         rules.Provider
	PeriodicService string
	OneTimeService  string
}

func NewService(masters rules.Provider) *Service {
	return &Service{
		Masters:         masters,
		PeriodicService: DefaultPeriodicService,
		OneTimeService:  DefaultOneTimeService,
	}
}

// =============================================================================
// PERIODIC CHARGES
// =============================================================================

// EstimateCharges computes the periodic bill for one subject and period.
func (s *Service) EstimateCharges(ctx context.Context, subject Subject, usage Usage, adhoc Adhoc) (billing.Calculation, error) {
	if err := subject.validate(); err != nil {
		return billing.Calculation{}, err
	}
	if usage.Quantity.IsNegative() {
		return billing.Calculation{}, &billing.ValidationError{Field: "quantity", Message: "must be non-negative"}
	}

	finYear := rules.FinancialYear(time.UnixMilli(usage.PeriodTo).UTC())
	var estimates []billing.TaxHeadEstimate

	if subject.HasWater() {
		lines, err := s.facilityCharges(ctx, subject.TenantID, usage.Quantity, finYear,
			billing.HeadWaterCharge, billing.HeadWaterCess, rules.MasterWaterCess)
		if err != nil {
			return billing.Calculation{}, err
		}
		estimates = append(estimates, lines...)
	}
	if subject.HasSewerage() {
		lines, err := s.facilityCharges(ctx, subject.TenantID, usage.Quantity, finYear,
			billing.HeadSewerageCharge, billing.HeadSewerageCess, rules.MasterSewerageCess)
		if err != nil {
			return billing.Calculation{}, err
		}
		estimates = append(estimates, lines...)
	}

	adhocLines, err := AdhocLines(adhoc)
	if err != nil {
		return billing.Calculation{}, err
	}
	estimates = append(estimates, adhocLines...)

	return billing.Calculation{
		TenantID:        subject.TenantID,
		ConsumerCode:    subject.ConsumerCode,
		BusinessService: s.PeriodicService,
		PeriodFrom:      usage.PeriodFrom,
		PeriodTo:        usage.PeriodTo,
		Estimates:       estimates,
	}, nil
}

// facilityCharges computes the slab charge plus its cess for one facility.
func (s *Service) facilityCharges(ctx context.Context, tenantID string, quantity decimal.Decimal,
	finYear string, chargeHead, cessHead billing.TaxHeadCode, cessMaster string) ([]billing.TaxHeadEstimate, error) {

	table, err := s.Masters.SlabTable(ctx, tenantID, chargeHead)
	if err != nil {
		return nil, err
	}
	charge := table.ChargeFor(quantity)
	if charge.IsNegative() {
		return nil, &billing.NegativeAmountError{Code: chargeHead, Amount: charge}
	}

	lines := []billing.TaxHeadEstimate{
		{Code: chargeHead, Category: billing.CategoryCharge, Amount: charge},
	}

	cess, err := s.cessOn(ctx, tenantID, cessMaster, finYear, charge)
	if err != nil {
		return nil, err
	}
	if cess.IsPositive() {
		lines = append(lines, billing.TaxHeadEstimate{
			Code: cessHead, Category: billing.CategoryCess, Amount: cess,
		})
	}
	return lines, nil
}

// cessOn evaluates the cess master's applicable window against the charge.
// Tenants without the master levy no cess.
func (s *Service) cessOn(ctx context.Context, tenantID, master, finYear string, base decimal.Decimal) (decimal.Decimal, error) {
	ruleSet, err := s.Masters.TimeWindows(ctx, tenantID, master)
	if err != nil {
		if errors.Is(err, billing.ErrMasterDataNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	rule, ok := rules.ApplicableWindow(ruleSet, finYear)
	if !ok {
		return decimal.Zero, nil
	}
	return rule.Applicable(base), nil
}

// AdhocLines converts operator-entered amounts into estimate lines. Zero
// amounts emit nothing; negative magnitudes are rejected.
func AdhocLines(adhoc Adhoc) ([]billing.TaxHeadEstimate, error) {
	type adhocLine struct {
		code   billing.TaxHeadCode
		cat    billing.TaxCategory
		amount decimal.Decimal
		negate bool
	}
	var lines []billing.TaxHeadEstimate
	for _, l := range []adhocLine{
		{billing.HeadAdhocPenalty, billing.CategoryPenalty, adhoc.Penalty, false},
		{billing.HeadAdhocRebate, billing.CategoryRebate, adhoc.Rebate, true},
		{billing.HeadAdvanceRebate, billing.CategoryRebate, adhoc.AdvanceRebate, true},
	} {
		if l.amount.IsZero() {
			continue
		}
		if l.amount.IsNegative() {
			return nil, &billing.NegativeAmountError{Code: l.code, Amount: l.amount}
		}
		amount := billing.RoundMoney(l.amount)
		if l.negate {
			amount = amount.Neg()
		}
		lines = append(lines, billing.TaxHeadEstimate{Code: l.code, Category: l.cat, Amount: amount})
	}
	return lines, nil
}

// =============================================================================
// ONE-TIME FEES
// =============================================================================

// EstimateFees computes the application fee set for a new connection.
func (s *Service) EstimateFees(ctx context.Context, subject Subject) (billing.Calculation, error) {
	if err := subject.validate(); err != nil {
		return billing.Calculation{}, err
	}
	if subject.UsageCategory == "" {
		return billing.Calculation{}, &billing.ValidationError{Field: "usageCategory", Message: "required for fee estimation"}
	}

	scrutiny, err := s.categoricalFee(ctx, subject, string(billing.HeadScrutinyFee), true)
	if err != nil {
		return billing.Calculation{}, err
	}

	// Scrutiny is always on the demand, even assessed at zero.
	estimates := []billing.TaxHeadEstimate{
		{Code: billing.HeadScrutinyFee, Category: billing.CategoryFee, Amount: scrutiny},
	}

	for _, head := range []billing.TaxHeadCode{billing.HeadSecurityDeposit, billing.HeadLabourFee} {
		amount, err := s.categoricalFee(ctx, subject, string(head), false)
		if err != nil {
			return billing.Calculation{}, err
		}
		if amount.IsPositive() {
			estimates = append(estimates, billing.TaxHeadEstimate{
				Code: head, Category: billing.CategoryFee, Amount: amount,
			})
		}
	}

	return s.oneTimeCalculation(subject, estimates), nil
}

// EstimateReconnection derives the reconnection fee: ten percent of the
// subject's scrutiny fee, rounded up to the paisa.
func (s *Service) EstimateReconnection(ctx context.Context, subject Subject) (billing.Calculation, error) {
	if err := subject.validate(); err != nil {
		return billing.Calculation{}, err
	}
	if subject.UsageCategory == "" {
		return billing.Calculation{}, &billing.ValidationError{Field: "usageCategory", Message: "required for fee estimation"}
	}

	scrutiny, err := s.categoricalFee(ctx, subject, string(billing.HeadScrutinyFee), true)
	if err != nil {
		return billing.Calculation{}, err
	}
	fee := scrutiny.Mul(tenPercent).RoundUp(2)

	return s.oneTimeCalculation(subject, []billing.TaxHeadEstimate{
		{Code: billing.HeadReconnectionFee, Category: billing.CategoryFee, Amount: fee},
	}), nil
}

// EstimateOwnershipChange computes the flat transfer-of-ownership fee.
func (s *Service) EstimateOwnershipChange(ctx context.Context, subject Subject) (billing.Calculation, error) {
	if err := subject.validate(); err != nil {
		return billing.Calculation{}, err
	}

	amount, err := s.categoricalFee(ctx, subject, string(billing.HeadOwnershipChange), true)
	if err != nil {
		return billing.Calculation{}, err
	}

	return s.oneTimeCalculation(subject, []billing.TaxHeadEstimate{
		{Code: billing.HeadOwnershipChange, Category: billing.CategoryFee, Amount: amount},
	}), nil
}

// categoricalFee resolves the single matching fee rule for the subject.
// When required, a missing rule set is an error; otherwise it means zero.
func (s *Service) categoricalFee(ctx context.Context, subject Subject, ruleName string, required bool) (decimal.Decimal, error) {
	ruleSet, err := s.Masters.CategoricalRules(ctx, subject.TenantID, ruleName)
	if err != nil {
		if !required && errors.Is(err, billing.ErrMasterDataNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}

	rule, ok, err := rules.MatchCategorical(ruleSet, subject.UsageCategory, subject.ConnectionCategory, subject.Units)
	if err != nil {
		return decimal.Zero, err
	}
	if !ok {
		return decimal.Zero, nil
	}
	if rule.Amount.IsNegative() {
		return decimal.Zero, &billing.NegativeAmountError{Code: billing.TaxHeadCode(ruleName), Amount: rule.Amount}
	}
	return billing.RoundMoney(rule.Amount), nil
}

func (s *Service) oneTimeCalculation(subject Subject, estimates []billing.TaxHeadEstimate) billing.Calculation {
	return billing.Calculation{
		TenantID:        subject.TenantID,
		ConsumerCode:    subject.ConsumerCode,
		BusinessService: s.OneTimeService,
		Estimates:       estimates,
	}
}
