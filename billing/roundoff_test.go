package billing_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/billing-engine/billing"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func money(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic("bad money literal: " + s)
	}
	return d
}

func line(code billing.TaxHeadCode, tax, collected string) billing.DemandDetail {
	return billing.DemandDetail{
		TenantID:         "pb.amritsar",
		TaxHeadCode:      code,
		TaxAmount:        money(tax),
		CollectionAmount: money(collected),
	}
}

func netPayable(details []billing.DemandDetail) decimal.Decimal {
	total := decimal.Zero
	for _, d := range details {
		total = total.Add(d.TaxAmount.Sub(d.CollectionAmount))
	}
	return total
}

// =============================================================================
// ROUND-OFF DIRECTION TESTS
// =============================================================================

func TestBalanceRoundOff_FractionBelowHalf_PullsDown(t *testing.T) {
	// GIVEN: A detail set with net payable 112.36
	// WHEN: Balancing round-off
	// THEN: A -0.36 correction lands and the net payable becomes 112

	details := []billing.DemandDetail{
		line(billing.HeadWaterCharge, "100.16", "0"),
		line(billing.HeadWaterCess, "12.20", "0"),
	}

	balanced := billing.BalanceRoundOff("pb.amritsar", "d-1", details)

	require.Len(t, balanced, 3)
	ro := balanced[2]
	assert.Equal(t, billing.HeadRoundOff, ro.TaxHeadCode)
	assert.True(t, ro.TaxAmount.Equal(money("-0.36")), "got %s", ro.TaxAmount)
	assert.True(t, netPayable(balanced).Equal(money("112")), "net %s", netPayable(balanced))
}

func TestBalanceRoundOff_FractionAtOrAboveHalf_PushesUp(t *testing.T) {
	// GIVEN: A detail set with net payable 112.50
	// WHEN: Balancing round-off
	// THEN: A +0.50 correction lands and the net payable becomes 113

	details := []billing.DemandDetail{
		line(billing.HeadWaterCharge, "112.50", "0"),
	}

	balanced := billing.BalanceRoundOff("pb.amritsar", "d-1", details)

	require.Len(t, balanced, 2)
	assert.True(t, balanced[1].TaxAmount.Equal(money("0.50")), "got %s", balanced[1].TaxAmount)
	assert.True(t, netPayable(balanced).Equal(money("113")), "net %s", netPayable(balanced))
}

func TestBalanceRoundOff_WholeTotal_AppendsNothing(t *testing.T) {
	// GIVEN: A detail set already on a whole unit
	// WHEN: Balancing round-off
	// THEN: No line is appended

	details := []billing.DemandDetail{
		line(billing.HeadWaterCharge, "100", "0"),
		line(billing.HeadSewerageCharge, "50", "0"),
	}

	balanced := billing.BalanceRoundOff("pb.amritsar", "d-1", details)
	assert.Len(t, balanced, 2)
}

func TestBalanceRoundOff_NegativeTotal_RoundsTowardZero(t *testing.T) {
	// GIVEN: A net payable of -12.36 (rebate exceeds charges)
	// WHEN: Balancing round-off
	// THEN: A +0.36 correction lands and the net payable becomes -12

	details := []billing.DemandDetail{
		line(billing.HeadWaterCharge, "10.00", "0"),
		line(billing.HeadTimeRebate, "-22.36", "0"),
	}

	balanced := billing.BalanceRoundOff("pb.amritsar", "d-1", details)

	require.Len(t, balanced, 3)
	assert.True(t, balanced[2].TaxAmount.Equal(money("0.36")), "got %s", balanced[2].TaxAmount)
	assert.True(t, netPayable(balanced).Equal(money("-12")), "net %s", netPayable(balanced))
}

// =============================================================================
// HISTORY NETTING TESTS
// =============================================================================

func TestBalanceRoundOff_NetsAgainstPreviousCorrection(t *testing.T) {
	// GIVEN: A demand already carrying a -0.36 round-off, then a 0.80 charge
	//        delta appended by a recalculation
	// WHEN: Balancing round-off again
	// THEN: The emitted line nets against history and the total closes whole

	details := []billing.DemandDetail{
		line(billing.HeadWaterCharge, "112.36", "0"),
		line(billing.HeadRoundOff, "-0.36", "0"),
		line(billing.HeadWaterCharge, "0.80", "0"),
	}

	balanced := billing.BalanceRoundOff("pb.amritsar", "d-1", details)

	require.Len(t, balanced, 4)
	assert.Equal(t, billing.HeadRoundOff, balanced[3].TaxHeadCode)
	// charges total 113.16, frac 0.16 -> want -0.16 cumulative; prev -0.36
	assert.True(t, balanced[3].TaxAmount.Equal(money("0.20")), "got %s", balanced[3].TaxAmount)
	assert.True(t, netPayable(balanced).Equal(money("113")), "net %s", netPayable(balanced))
}

func TestBalanceRoundOff_Rerun_IsIdempotent(t *testing.T) {
	// GIVEN: A freshly balanced detail set
	// WHEN: Balancing again without any new lines
	// THEN: Nothing is appended

	details := []billing.DemandDetail{
		line(billing.HeadWaterCharge, "112.36", "0"),
	}

	once := billing.BalanceRoundOff("pb.amritsar", "d-1", details)
	twice := billing.BalanceRoundOff("pb.amritsar", "d-1", once)

	assert.Len(t, once, 2)
	assert.Len(t, twice, 2, "re-balancing must be a no-op")
}

func TestBalanceRoundOff_ConsidersCollections(t *testing.T) {
	// GIVEN: A line partially collected, leaving a fractional outstanding
	// WHEN: Balancing round-off
	// THEN: The correction closes the OUTSTANDING amount, not the gross tax

	details := []billing.DemandDetail{
		line(billing.HeadWaterCharge, "112.36", "100.00"),
	}

	balanced := billing.BalanceRoundOff("pb.amritsar", "d-1", details)

	require.Len(t, balanced, 2)
	assert.True(t, balanced[1].TaxAmount.Equal(money("-0.36")), "got %s", balanced[1].TaxAmount)
	assert.True(t, netPayable(balanced).Equal(money("12")), "net %s", netPayable(balanced))
}
