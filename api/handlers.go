/*
handlers.go - HTTP API handlers for the billing reconciliation engine

PURPOSE:
  Exposes the engine via REST API. Handles HTTP request/response, JSON
  serialization, and delegates to domain logic.

ENDPOINTS:
  Calculator:
    POST   /api/calculator/charges       Compute a period bill, persist demand
    POST   /api/calculator/fees          Application fee set
    POST   /api/calculator/reconnection  Reconnection fee
    POST   /api/calculator/ownership     Transfer-of-ownership fee

  Demands:
    GET    /api/demands                  Search demands
    POST   /api/demands/adhoc            Fold ad-hoc penalty/rebate into a demand
    POST   /api/demands/refresh          Re-apply time-based adjustments

  Bulk:
    POST   /api/bulk                     Trigger a bulk generation cycle
    GET    /api/bulk/{id}                Batch status

  Masters / base data:
    POST   /api/masters                  Load a tenant's rule tables
    POST   /api/subjects                 Register a billable subject
    POST   /api/readings                 Record a meter reading

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call domain logic (estimator, synchronizer, applier)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, malformed payloads, duplicate batch keys
  - 404: No matching demand, missing masters
  - 409: Conflicting ledger state (cancelled demand, integrity violation)
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/bulk"
	"github.com/warp/billing-engine/estimate"
	"github.com/warp/billing-engine/rules"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Masters   *rules.InMemoryProvider
	Registry  *estimate.Registry
	Readings  *bulk.MeterReadings
	Estimator *estimate.Service
	Sync      *billing.Synchronizer
	Adjuster  *billing.Applier
	Runner    *bulk.Runner
}

// NewHandler wires the full engine on top of a ledger store.
func NewHandler(store billing.LedgerStore, cfg billing.SyncConfig) *Handler {
	masters := rules.NewInMemoryProvider()
	calculator := rules.NewCalculator(masters)
	estimator := estimate.NewService(masters)
	registry := estimate.NewRegistry()
	readings := bulk.NewMeterReadings()
	sync := billing.NewSynchronizer(store, calculator.BillExpiry, cfg)

	// Reconcile and refresh write the same demands; they must serialize on
	// one consumer-level lock.
	adjuster := billing.NewApplier(store, calculator, calculator.BillExpiry)
	adjuster.Locks = sync.Locks

	return &Handler{
		Masters:   masters,
		Registry:  registry,
		Readings:  readings,
		Estimator: estimator,
		Sync:      sync,
		Adjuster:  adjuster,
		Runner:    bulk.NewRunner(registry, readings, estimator, sync),
	}
}

// =============================================================================
// CALCULATOR HANDLERS
// =============================================================================

// CalculateCharges computes one period's bill and reconciles it into the
// ledger, unless dryRun is set.
// POST /api/calculator/charges
func (h *Handler) CalculateCharges(w http.ResponseWriter, r *http.Request) {
	var req CalculateChargesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	calc, err := h.Estimator.EstimateCharges(r.Context(), toSubject(req.Subject),
		estimate.Usage{Quantity: req.Quantity, PeriodFrom: req.PeriodFrom, PeriodTo: req.PeriodTo},
		estimate.Adhoc{Penalty: req.AdhocPenalty, Rebate: req.AdhocRebate, AdvanceRebate: req.AdvanceRebate})
	if err != nil {
		writeDomainError(w, "Charge estimation failed", err)
		return
	}

	if req.DryRun {
		writeJSON(w, http.StatusOK, toCalculationDTO(calc))
		return
	}
	h.reconcileAndRespond(w, r, calc)
}

// CalculateFees computes the one-time application fee set.
// POST /api/calculator/fees
func (h *Handler) CalculateFees(w http.ResponseWriter, r *http.Request) {
	h.oneTimeCalculation(w, r, h.Estimator.EstimateFees)
}

// CalculateReconnection computes the reconnection fee.
// POST /api/calculator/reconnection
func (h *Handler) CalculateReconnection(w http.ResponseWriter, r *http.Request) {
	h.oneTimeCalculation(w, r, h.Estimator.EstimateReconnection)
}

// CalculateOwnershipChange computes the transfer-of-ownership fee.
// POST /api/calculator/ownership
func (h *Handler) CalculateOwnershipChange(w http.ResponseWriter, r *http.Request) {
	h.oneTimeCalculation(w, r, h.Estimator.EstimateOwnershipChange)
}

type oneTimeEstimator func(ctx context.Context, subject estimate.Subject) (billing.Calculation, error)

func (h *Handler) oneTimeCalculation(w http.ResponseWriter, r *http.Request, est oneTimeEstimator) {
	var req CalculateFeesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	calc, err := est(r.Context(), toSubject(req.Subject))
	if err != nil {
		writeDomainError(w, "Fee estimation failed", err)
		return
	}

	if req.DryRun {
		writeJSON(w, http.StatusOK, toCalculationDTO(calc))
		return
	}
	h.reconcileAndRespond(w, r, calc)
}

func (h *Handler) reconcileAndRespond(w http.ResponseWriter, r *http.Request, calc billing.Calculation) {
	demands, err := h.Sync.Reconcile(r.Context(), []billing.Calculation{calc})
	if err != nil {
		writeDomainError(w, "Reconciliation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toDemandDTOs(demands))
}

// =============================================================================
// DEMAND HANDLERS
// =============================================================================

// SearchDemands returns demands for a tenant and consumer codes.
// GET /api/demands?tenantId=...&consumerCodes=a,b&businessService=WS
func (h *Handler) SearchDemands(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenantId")
	codes := r.URL.Query().Get("consumerCodes")
	if tenantID == "" || codes == "" {
		writeError(w, http.StatusBadRequest, "tenantId and consumerCodes are required", nil)
		return
	}

	demands, err := h.Sync.Store.SearchDemands(r.Context(), billing.DemandCriteria{
		TenantID:        tenantID,
		BusinessService: r.URL.Query().Get("businessService"),
		ConsumerCodes:   strings.Split(codes, ","),
	})
	if err != nil {
		writeDomainError(w, "Search failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toDemandDTOs(demands))
}

// ApplyAdhoc folds operator-entered penalty/rebate into an existing demand.
// POST /api/demands/adhoc
func (h *Handler) ApplyAdhoc(w http.ResponseWriter, r *http.Request) {
	var req AdhocRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	service := req.BusinessService
	if service == "" {
		service = h.Estimator.PeriodicService
	}

	lines, err := estimate.AdhocLines(estimate.Adhoc{Penalty: req.Penalty, Rebate: req.Rebate})
	if err != nil {
		writeDomainError(w, "Invalid ad-hoc amounts", err)
		return
	}

	demand, err := h.Sync.ApplyAdhoc(r.Context(), &billing.Calculation{
		TenantID:        req.TenantID,
		ConsumerCode:    req.ConsumerCode,
		BusinessService: service,
		PeriodFrom:      req.PeriodFrom,
		PeriodTo:        req.PeriodTo,
		Estimates:       lines,
	})
	if err != nil {
		writeDomainError(w, "Ad-hoc application failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toDemandDTO(demand))
}

// RefreshAdjustments re-applies rebate/penalty/interest for one subject.
// POST /api/demands/refresh
func (h *Handler) RefreshAdjustments(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.TenantID == "" || req.ConsumerCode == "" {
		writeError(w, http.StatusBadRequest, "tenantId and consumerCode are required", nil)
		return
	}

	service := req.BusinessService
	if service == "" {
		service = h.Estimator.PeriodicService
	}

	demands, err := h.Adjuster.Refresh(r.Context(), req.TenantID, service, req.ConsumerCode)
	if err != nil {
		writeDomainError(w, "Adjustment refresh failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toDemandDTOs(demands))
}

// =============================================================================
// BULK HANDLERS
// =============================================================================

// TriggerBulk starts an asynchronous bulk generation cycle.
// POST /api/bulk
func (h *Handler) TriggerBulk(w http.ResponseWriter, r *http.Request) {
	var req BulkTriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	id, err := h.Runner.Run(r.Context(), bulk.Trigger{
		TenantID:      req.TenantID,
		PeriodFrom:    req.PeriodFrom,
		PeriodTo:      req.PeriodTo,
		ConsumerCodes: req.ConsumerCodes,
		Offset:        req.Offset,
		Limit:         req.Limit,
	})
	if err != nil {
		writeDomainError(w, "Bulk trigger failed", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"batchId": id})
}

// BulkStatus reports the progress of a bulk run.
// GET /api/bulk/{id}
func (h *Handler) BulkStatus(w http.ResponseWriter, r *http.Request) {
	batch, ok := h.Runner.Status(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "Batch not found", nil)
		return
	}

	dto := BulkBatchDTO{
		ID:        batch.ID,
		TenantID:  batch.TenantID,
		Status:    string(batch.Status),
		Total:     batch.Total,
		Succeeded: batch.Succeeded,
		Failed:    batch.Failed,
		Errors:    batch.Errors,
		StartedAt: batch.StartedAt.Format(time.RFC3339),
	}
	if !batch.CompletedAt.IsZero() {
		dto.CompletedAt = batch.CompletedAt.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// MASTER AND BASE DATA HANDLERS
// =============================================================================

// LoadMasters installs a tenant's rule tables.
// POST /api/masters
func (h *Handler) LoadMasters(w http.ResponseWriter, r *http.Request) {
	var doc rules.MasterSetJSON
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	set, err := rules.FromJSON(doc)
	if err != nil {
		writeDomainError(w, "Rule table rejected", err)
		return
	}
	h.Masters.Load(set)
	writeJSON(w, http.StatusCreated, map[string]string{"tenantId": set.TenantID})
}

// RegisterSubject installs or replaces a billable subject.
// POST /api/subjects
func (h *Handler) RegisterSubject(w http.ResponseWriter, r *http.Request) {
	var dto SubjectDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if dto.TenantID == "" || dto.ConsumerCode == "" {
		writeError(w, http.StatusBadRequest, "tenantId and consumerCode are required", nil)
		return
	}
	h.Registry.Register(toSubject(dto))
	writeJSON(w, http.StatusCreated, dto)
}

// RecordReading records a consumer's consumption for the coming cycle.
// POST /api/readings
func (h *Handler) RecordReading(w http.ResponseWriter, r *http.Request) {
	var req MeterReadingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.TenantID == "" || req.ConsumerCode == "" {
		writeError(w, http.StatusBadRequest, "tenantId and consumerCode are required", nil)
		return
	}
	if req.Quantity.IsNegative() {
		writeError(w, http.StatusBadRequest, "quantity must be non-negative", nil)
		return
	}
	h.Readings.Record(req.TenantID, req.ConsumerCode, estimate.Usage{Quantity: req.Quantity})
	writeJSON(w, http.StatusCreated, req)
}

// =============================================================================
// HELPERS
// =============================================================================

func toSubject(dto SubjectDTO) estimate.Subject {
	return estimate.Subject{
		TenantID:           dto.TenantID,
		ConsumerCode:       dto.ConsumerCode,
		ConnectionFacility: dto.ConnectionFacility,
		UsageCategory:      dto.UsageCategory,
		ConnectionCategory: dto.ConnectionCategory,
		Units:              dto.Units,
	}
}

// writeDomainError maps engine errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, billing.ErrValidation),
		errors.Is(err, billing.ErrParsing),
		errors.Is(err, billing.ErrDuplicateKey),
		errors.Is(err, billing.ErrNegativeAmount):
		status = http.StatusBadRequest
	case errors.Is(err, billing.ErrNoMatchingDemand),
		errors.Is(err, billing.ErrMasterDataNotFound):
		status = http.StatusNotFound
	case errors.Is(err, billing.ErrDataIntegrity),
		errors.Is(err, billing.ErrInvalidDemandState):
		status = http.StatusConflict
	}
	writeError(w, status, message, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
