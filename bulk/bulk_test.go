package bulk_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/bulk"
	"github.com/warp/billing-engine/estimate"
	"github.com/warp/billing-engine/rules"
	"github.com/warp/billing-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const testTenant = "pb.amritsar"

var (
	periodFrom = time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	periodTo   = time.Date(2025, time.June, 30, 23, 59, 59, 0, time.UTC).UnixMilli()
)

func money(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic("bad money literal: " + s)
	}
	return d
}

func fixedExpiry(ctx context.Context, tenantID string, now time.Time) (int64, error) {
	return time.Date(2025, time.July, 10, 23, 59, 59, 0, time.UTC).UnixMilli(), nil
}

type fixture struct {
	runner   *bulk.Runner
	store    *memory.Store
	registry *estimate.Registry
	readings *bulk.MeterReadings
}

func newFixture(t *testing.T) *fixture {
	provider := rules.NewInMemoryProvider()
	provider.Load(&rules.MasterSet{
		TenantID: testTenant,
		Slabs: map[billing.TaxHeadCode]rules.SlabTable{
			billing.HeadWaterCharge: {
				Slabs: []rules.RateSlab{{From: money("0"), Rate: money("5")}},
			},
		},
	})

	store := memory.New()
	registry := estimate.NewRegistry()
	readings := bulk.NewMeterReadings()

	runner := bulk.NewRunner(registry, readings, estimate.NewService(provider),
		billing.NewSynchronizer(store, fixedExpiry, billing.SyncConfig{MinimumPayable: money("100")}))
	runner.Workers = 2

	return &fixture{runner: runner, store: store, registry: registry, readings: readings}
}

func (f *fixture) addConsumer(code string, quantity string) {
	f.registry.Register(estimate.Subject{
		TenantID:           testTenant,
		ConsumerCode:       code,
		ConnectionFacility: estimate.FacilityWater,
		UsageCategory:      "DOMESTIC",
		Units:              4,
	})
	f.readings.Record(testTenant, code, estimate.Usage{Quantity: money(quantity)})
}

func waitForBatch(t *testing.T, runner *bulk.Runner, id string) bulk.Batch {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		batch, ok := runner.Status(id)
		require.True(t, ok)
		if batch.Status == bulk.BatchCompleted {
			return batch
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("batch did not complete in time")
	return bulk.Batch{}
}

func trigger() bulk.Trigger {
	return bulk.Trigger{TenantID: testTenant, PeriodFrom: periodFrom, PeriodTo: periodTo}
}

// =============================================================================
// BULK RUN TESTS
// =============================================================================

func TestRun_GeneratesDemandsForWholeBase(t *testing.T) {
	// GIVEN: Three registered consumers with readings
	// WHEN: Triggering a cycle without an explicit page
	// THEN: Every consumer ends up with a demand for the period

	f := newFixture(t)
	f.addConsumer("WS/101", "40")
	f.addConsumer("WS/102", "60")
	f.addConsumer("WS/103", "20")

	id, err := f.runner.Run(context.Background(), trigger())
	require.NoError(t, err)

	batch := waitForBatch(t, f.runner, id)
	assert.Equal(t, 3, batch.Total)
	assert.Equal(t, 3, batch.Succeeded)
	assert.Zero(t, batch.Failed)

	demands, err := f.store.SearchDemands(context.Background(), billing.DemandCriteria{
		TenantID:      testTenant,
		ConsumerCodes: []string{"WS/101", "WS/102", "WS/103"},
		PeriodFrom:    periodFrom,
		PeriodTo:      periodTo,
	})
	require.NoError(t, err)
	assert.Len(t, demands, 3)
}

func TestRun_PagesDeterministically(t *testing.T) {
	// GIVEN: Four consumers
	// WHEN: Running with offset 1, limit 2
	// THEN: Exactly the middle two (in sorted order) are billed

	f := newFixture(t)
	for _, code := range []string{"WS/104", "WS/101", "WS/103", "WS/102"} {
		f.addConsumer(code, "40")
	}

	trig := trigger()
	trig.Offset = 1
	trig.Limit = 2

	id, err := f.runner.Run(context.Background(), trig)
	require.NoError(t, err)
	batch := waitForBatch(t, f.runner, id)
	assert.Equal(t, 2, batch.Total)
	assert.Equal(t, 2, batch.Succeeded)

	demands, err := f.store.SearchDemands(context.Background(), billing.DemandCriteria{
		TenantID:      testTenant,
		ConsumerCodes: []string{"WS/101", "WS/102", "WS/103", "WS/104"},
		PeriodFrom:    periodFrom,
		PeriodTo:      periodTo,
	})
	require.NoError(t, err)
	require.Len(t, demands, 2)
	codes := []string{demands[0].ConsumerCode, demands[1].ConsumerCode}
	assert.ElementsMatch(t, []string{"WS/102", "WS/103"}, codes)
}

func TestRun_FailuresDoNotAbortTheCycle(t *testing.T) {
	// GIVEN: One consumer with no meter reading
	// WHEN: Running the cycle
	// THEN: The others are billed and the failure is recorded

	f := newFixture(t)
	f.addConsumer("WS/101", "40")
	f.addConsumer("WS/102", "60")
	f.registry.Register(estimate.Subject{
		TenantID:           testTenant,
		ConsumerCode:       "WS/199",
		ConnectionFacility: estimate.FacilityWater,
		UsageCategory:      "DOMESTIC",
	})

	id, err := f.runner.Run(context.Background(), trigger())
	require.NoError(t, err)
	batch := waitForBatch(t, f.runner, id)

	assert.Equal(t, 2, batch.Succeeded)
	assert.Equal(t, 1, batch.Failed)
	require.Len(t, batch.Errors, 1)
	assert.Contains(t, batch.Errors[0], "WS/199")
}

func TestRun_RerunIsIdempotent(t *testing.T) {
	// GIVEN: A completed cycle
	// WHEN: Running the same trigger again with unchanged readings
	// THEN: No demand grows an extra line

	f := newFixture(t)
	f.addConsumer("WS/101", "40")

	ctx := context.Background()
	id, err := f.runner.Run(ctx, trigger())
	require.NoError(t, err)
	waitForBatch(t, f.runner, id)

	id, err = f.runner.Run(ctx, trigger())
	require.NoError(t, err)
	batch := waitForBatch(t, f.runner, id)
	assert.Equal(t, 1, batch.Succeeded)

	demands, err := f.store.SearchDemands(ctx, billing.DemandCriteria{
		TenantID:      testTenant,
		ConsumerCodes: []string{"WS/101"},
		PeriodFrom:    periodFrom,
		PeriodTo:      periodTo,
	})
	require.NoError(t, err)
	require.Len(t, demands, 1)
	assert.Len(t, demands[0].Details, 1, "40 units at 5 is whole, no round-off, no deltas")
	assert.True(t, demands[0].NetPayable().Equal(money("200")))
}

func TestRun_ValidatesTrigger(t *testing.T) {
	f := newFixture(t)

	_, err := f.runner.Run(context.Background(), bulk.Trigger{PeriodFrom: periodFrom, PeriodTo: periodTo})
	assert.ErrorIs(t, err, billing.ErrValidation)

	_, err = f.runner.Run(context.Background(), bulk.Trigger{TenantID: testTenant})
	assert.ErrorIs(t, err, billing.ErrValidation)
}

func TestStatus_UnknownBatch(t *testing.T) {
	f := newFixture(t)
	_, ok := f.runner.Status("nope")
	assert.False(t, ok)
}
