package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/billing-engine/api"
	"github.com/warp/billing-engine/billing"
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

const testMasters = `{
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
      {"usageCategory": "DOMESTIC", "amount": 5000}
    ]
  },
  "timeBasedRules": {
    "Rebate": [{"fromFY": "2019-20", "endingDay": 10, "rate": 5}]
  }
}`

func newTestServer(t *testing.T) *httptest.Server {
	h := api.NewHandler(memory.New(), billing.SyncConfig{MinimumPayable: money("100")})
	srv := httptest.NewServer(api.NewRouter(h))
	t.Cleanup(srv.Close)

	resp := postJSON(t, srv, "/api/masters", testMasters)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()
	return srv
}

func postJSON(t *testing.T, srv *httptest.Server, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+path, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func chargesBody(consumerCode, quantity string, dryRun bool) string {
	return fmt.Sprintf(`{
	  "subject": {
	    "tenantId": %q,
	    "consumerCode": %q,
	    "connectionFacility": "WATER",
	    "usageCategory": "DOMESTIC"
	  },
	  "quantity": %s,
	  "taxPeriodFrom": %d,
	  "taxPeriodTo": %d,
	  "dryRun": %t
	}`, testTenant, consumerCode, quantity, periodFrom, periodTo, dryRun)
}

// =============================================================================
// CALCULATOR ENDPOINT TESTS
// =============================================================================

func TestCalculateCharges_DryRun(t *testing.T) {
	// GIVEN: Loaded masters
	// WHEN: Estimating 35 units with dryRun
	// THEN: The estimate comes back, nothing is persisted

	srv := newTestServer(t)

	resp := postJSON(t, srv, "/api/calculator/charges", chargesBody("WS/101", "35", true))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	calc := decode[api.CalculationDTO](t, resp)
	assert.Equal(t, "WS", calc.BusinessService)
	assert.True(t, calc.Total.Equal(money("220")), "got %s", calc.Total)

	search, err := http.Get(srv.URL + "/api/demands?tenantId=" + testTenant + "&consumerCodes=WS/101")
	require.NoError(t, err)
	demands := decode[[]api.DemandDTO](t, search)
	assert.Empty(t, demands, "dry run must not create a demand")
}

func TestCalculateCharges_PersistsDemand(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv, "/api/calculator/charges", chargesBody("WS/101", "35", false))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	demands := decode[[]api.DemandDTO](t, resp)
	require.Len(t, demands, 1)
	assert.NotEmpty(t, demands[0].ID)
	assert.Equal(t, "ACTIVE", demands[0].Status)
	assert.True(t, demands[0].NetPayable.Equal(money("220")))
	assert.NotZero(t, demands[0].BillExpiryTime)
}

func TestCalculateCharges_UnknownTenant_Is404(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv, "/api/calculator/charges",
		fmt.Sprintf(`{
		  "subject": {"tenantId": "pb.nowhere", "consumerCode": "WS/101", "connectionFacility": "WATER"},
		  "quantity": 35, "taxPeriodFrom": %d, "taxPeriodTo": %d
		}`, periodFrom, periodTo))
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCalculateCharges_BadFacility_Is400(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv, "/api/calculator/charges",
		fmt.Sprintf(`{
		  "subject": {"tenantId": %q, "consumerCode": "WS/101", "connectionFacility": "GAS"},
		  "quantity": 35, "taxPeriodFrom": %d, "taxPeriodTo": %d
		}`, testTenant, periodFrom, periodTo))

	errResp := decode[api.ErrorResponse](t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotEmpty(t, errResp.Details)
}

func TestCalculateFees_PersistsOneTimeDemand(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv, "/api/calculator/fees", fmt.Sprintf(`{
	  "subject": {"tenantId": %q, "consumerCode": "APP/2025/7", "connectionFacility": "WATER", "usageCategory": "DOMESTIC"}
	}`, testTenant))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	demands := decode[[]api.DemandDTO](t, resp)
	require.Len(t, demands, 1)
	assert.Equal(t, "WS.ONE_TIME_FEE", demands[0].BusinessService)
	assert.Zero(t, demands[0].PeriodFrom)
	assert.True(t, demands[0].NetPayable.Equal(money("5000")))
	assert.True(t, demands[0].MinimumAmountPayable.Equal(money("5000")),
		"one-time fees require payment in full")
}

// =============================================================================
// DEMAND ENDPOINT TESTS
// =============================================================================

func TestApplyAdhoc_FoldsIntoExistingDemand(t *testing.T) {
	// GIVEN: A persisted demand of 220
	// WHEN: Applying an ad-hoc penalty of 50
	// THEN: The demand grows a penalty line

	srv := newTestServer(t)
	resp := postJSON(t, srv, "/api/calculator/charges", chargesBody("WS/101", "35", false))
	resp.Body.Close()

	resp = postJSON(t, srv, "/api/demands/adhoc", fmt.Sprintf(`{
	  "tenantId": %q, "consumerCode": "WS/101",
	  "taxPeriodFrom": %d, "taxPeriodTo": %d,
	  "adhocPenalty": 50
	}`, testTenant, periodFrom, periodTo))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	demand := decode[api.DemandDTO](t, resp)
	assert.True(t, demand.NetPayable.Equal(money("270")), "got %s", demand.NetPayable)
}

func TestApplyAdhoc_NoDemand_Is404(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv, "/api/demands/adhoc", fmt.Sprintf(`{
	  "tenantId": %q, "consumerCode": "WS/999",
	  "taxPeriodFrom": %d, "taxPeriodTo": %d,
	  "adhocPenalty": 50
	}`, testTenant, periodFrom, periodTo))
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRefreshAdjustments_NoDemand_Is404(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv, "/api/demands/refresh", fmt.Sprintf(`{
	  "tenantId": %q, "consumerCode": "WS/404"
	}`, testTenant))
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRefreshAdjustments_RenewsExpiry(t *testing.T) {
	srv := newTestServer(t)
	resp := postJSON(t, srv, "/api/calculator/charges", chargesBody("WS/101", "35", false))
	resp.Body.Close()

	resp = postJSON(t, srv, "/api/demands/refresh", fmt.Sprintf(`{
	  "tenantId": %q, "consumerCode": "WS/101"
	}`, testTenant))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	demands := decode[[]api.DemandDTO](t, resp)
	require.Len(t, demands, 1)
	assert.NotZero(t, demands[0].BillExpiryTime)
}

// =============================================================================
// BULK ENDPOINT TESTS
// =============================================================================

func TestBulkCycle_EndToEnd(t *testing.T) {
	// GIVEN: A registered subject with a meter reading
	// WHEN: Triggering a bulk cycle and polling its status
	// THEN: The demand appears in the ledger

	srv := newTestServer(t)

	resp := postJSON(t, srv, "/api/subjects", fmt.Sprintf(`{
	  "tenantId": %q, "consumerCode": "WS/201",
	  "connectionFacility": "WATER", "usageCategory": "DOMESTIC"
	}`, testTenant))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv, "/api/readings", fmt.Sprintf(`{
	  "tenantId": %q, "consumerCode": "WS/201", "quantity": 40
	}`, testTenant))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv, "/api/bulk", fmt.Sprintf(`{
	  "tenantId": %q, "taxPeriodFrom": %d, "taxPeriodTo": %d
	}`, testTenant, periodFrom, periodTo))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	trigger := decode[map[string]string](t, resp)
	batchID := trigger["batchId"]
	require.NotEmpty(t, batchID)

	deadline := time.Now().Add(5 * time.Second)
	var batch api.BulkBatchDTO
	for time.Now().Before(deadline) {
		statusResp, err := http.Get(srv.URL + "/api/bulk/" + batchID)
		require.NoError(t, err)
		batch = decode[api.BulkBatchDTO](t, statusResp)
		if batch.Status == "COMPLETED" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, "COMPLETED", batch.Status)
	assert.Equal(t, 1, batch.Succeeded)
	assert.Zero(t, batch.Failed)

	search, err := http.Get(srv.URL + "/api/demands?tenantId=" + testTenant + "&consumerCodes=WS/201")
	require.NoError(t, err)
	demands := decode[[]api.DemandDTO](t, search)
	require.Len(t, demands, 1)
	assert.True(t, demands[0].NetPayable.Equal(money("260")), "20*5 + 20*8: got %s", demands[0].NetPayable)
}

func TestBulkStatus_Unknown_Is404(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/bulk/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// =============================================================================
// MASTER LOADING TESTS
// =============================================================================

func TestLoadMasters_Rejected_Is400(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv, "/api/masters", `{"billingSlabs": {}}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
