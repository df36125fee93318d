package rules_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/rules"
)

const sampleMasters = `{
  "tenantId": "pb.amritsar",
  "billingSlabs": {
    "WATER_CHARGE": {
      "minimumCharge": 100,
      "slabs": [
        {"from": 0, "to": 20, "rate": 5},
        {"from": 20, "rate": 8}
      ]
    }
  },
  "feeRules": {
    "SCRUTINY_FEE": [
      {"usageCategory": "DOMESTIC", "minUnits": 1, "maxUnits": 25, "amount": 5000},
      {"usageCategory": "COMMERCIAL", "amount": 3500}
    ]
  },
  "timeBasedRules": {
    "Rebate":  [{"fromFY": "2019-20", "endingDay": 10, "rate": 5, "maxAmount": 500}],
    "Penalty": [{"fromFY": "2019-20", "startingDay": 0, "rate": 10}]
  }
}`

func TestParseMasterSet_Complete(t *testing.T) {
	set, err := rules.ParseMasterSet([]byte(sampleMasters))
	require.NoError(t, err)

	assert.Equal(t, "pb.amritsar", set.TenantID)

	table := set.Slabs[billing.HeadWaterCharge]
	require.Len(t, table.Slabs, 2)
	assert.True(t, table.MinimumCharge.Equal(money("100")))
	assert.True(t, table.Slabs[1].Open())
	assert.True(t, table.ChargeFor(money("35")).Equal(money("220")))

	require.Len(t, set.Categorical["SCRUTINY_FEE"], 2)
	require.Len(t, set.TimeWindows[rules.MasterRebate], 1)
	assert.Equal(t, 10, set.TimeWindows[rules.MasterRebate][0].EndingDay)
}

func TestParseMasterSet_MissingTenant(t *testing.T) {
	_, err := rules.ParseMasterSet([]byte(`{"billingSlabs": {}}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, billing.ErrParsing)
}

func TestParseMasterSet_SlabGap_IsRejected(t *testing.T) {
	// GIVEN: Brackets [0,20) then [25,...) leaving 20..25 unpriced
	// WHEN: Parsing
	// THEN: Rejected; a usage of 22 must never fall through silently

	doc := `{
	  "tenantId": "t",
	  "billingSlabs": {"WATER_CHARGE": {"slabs": [
	    {"from": 0, "to": 20, "rate": 5},
	    {"from": 25, "rate": 8}
	  ]}}
	}`

	_, err := rules.ParseMasterSet([]byte(doc))
	require.Error(t, err)
	assert.ErrorIs(t, err, billing.ErrParsing)
	assert.Contains(t, err.Error(), "gap")
}

func TestParseMasterSet_OpenMiddleBracket_IsRejected(t *testing.T) {
	doc := `{
	  "tenantId": "t",
	  "billingSlabs": {"WATER_CHARGE": {"slabs": [
	    {"from": 0, "rate": 5},
	    {"from": 20, "to": 50, "rate": 8}
	  ]}}
	}`

	_, err := rules.ParseMasterSet([]byte(doc))
	require.Error(t, err)
	assert.ErrorIs(t, err, billing.ErrParsing)
}

func TestParseMasterSet_BadFinancialYear_IsRejected(t *testing.T) {
	doc := `{
	  "tenantId": "t",
	  "timeBasedRules": {"Rebate": [{"fromFY": "2019/20", "endingDay": 10, "rate": 5}]}
	}`

	_, err := rules.ParseMasterSet([]byte(doc))
	require.Error(t, err)
	assert.ErrorIs(t, err, billing.ErrParsing)
}

func TestParseMasterSet_NegativeRate_IsRejected(t *testing.T) {
	doc := `{
	  "tenantId": "t",
	  "timeBasedRules": {"Penalty": [{"fromFY": "2019-20", "rate": -10}]}
	}`

	_, err := rules.ParseMasterSet([]byte(doc))
	require.Error(t, err)
	assert.ErrorIs(t, err, billing.ErrParsing)
}

func TestParseMasterSet_RebateWithoutEndingDay_IsRejected(t *testing.T) {
	// GIVEN: A rebate window with no ending day
	// WHEN: Parsing
	// THEN: Rejected; expiry derived from day zero would precede the month

	doc := `{
	  "tenantId": "t",
	  "timeBasedRules": {"Rebate": [{"fromFY": "2019-20", "rate": 5}]}
	}`

	_, err := rules.ParseMasterSet([]byte(doc))
	require.Error(t, err)
	assert.ErrorIs(t, err, billing.ErrParsing)
	assert.Contains(t, err.Error(), "endingDay")
}
