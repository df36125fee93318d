/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Amounts travel as decimal strings. Clients must not do float math on
  them; the engine owns all rounding.

VALIDATION:
  Validation is done in handlers and in the domain packages, not in DTOs.
  DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - rules/ingress.go: MasterSetJSON, the rule-table payload
*/
package api

import (
	"github.com/shopspring/decimal"

	"github.com/warp/billing-engine/billing"
)

// =============================================================================
// CALCULATION REQUESTS
// =============================================================================

// SubjectDTO carries the connection attributes the rules match on.
type SubjectDTO struct {
	TenantID           string `json:"tenantId"`
	ConsumerCode       string `json:"consumerCode"`
	ConnectionFacility string `json:"connectionFacility"`
	UsageCategory      string `json:"usageCategory,omitempty"`
	ConnectionCategory string `json:"connectionCategory,omitempty"`
	Units              int    `json:"units,omitempty"`
}

// CalculateChargesRequest asks for one period's bill for one subject.
type CalculateChargesRequest struct {
	Subject       SubjectDTO      `json:"subject"`
	Quantity      decimal.Decimal `json:"quantity"`
	PeriodFrom    int64           `json:"taxPeriodFrom"`
	PeriodTo      int64           `json:"taxPeriodTo"`
	AdhocPenalty  decimal.Decimal `json:"adhocPenalty,omitempty"`
	AdhocRebate   decimal.Decimal `json:"adhocRebate,omitempty"`
	AdvanceRebate decimal.Decimal `json:"advanceRebate,omitempty"`
	// DryRun computes the estimate without touching the ledger.
	DryRun bool `json:"dryRun,omitempty"`
}

// CalculateFeesRequest asks for the one-time application fee set.
type CalculateFeesRequest struct {
	Subject SubjectDTO `json:"subject"`
	DryRun  bool       `json:"dryRun,omitempty"`
}

// AdhocRequest folds operator-entered amounts into an existing demand.
type AdhocRequest struct {
	TenantID        string          `json:"tenantId"`
	ConsumerCode    string          `json:"consumerCode"`
	BusinessService string          `json:"businessService,omitempty"`
	PeriodFrom      int64           `json:"taxPeriodFrom"`
	PeriodTo        int64           `json:"taxPeriodTo"`
	Penalty         decimal.Decimal `json:"adhocPenalty,omitempty"`
	Rebate          decimal.Decimal `json:"adhocRebate,omitempty"`
}

// RefreshRequest re-applies time-based adjustments for one subject.
type RefreshRequest struct {
	TenantID        string `json:"tenantId"`
	ConsumerCode    string `json:"consumerCode"`
	BusinessService string `json:"businessService,omitempty"`
}

// =============================================================================
// BULK
// =============================================================================

// BulkTriggerRequest starts a bulk generation cycle.
type BulkTriggerRequest struct {
	TenantID      string   `json:"tenantId"`
	PeriodFrom    int64    `json:"taxPeriodFrom"`
	PeriodTo      int64    `json:"taxPeriodTo"`
	ConsumerCodes []string `json:"consumerCodes,omitempty"`
	Offset        int      `json:"offset,omitempty"`
	Limit         int      `json:"limit,omitempty"`
}

// BulkBatchDTO reports the progress of a bulk run.
type BulkBatchDTO struct {
	ID          string   `json:"id"`
	TenantID    string   `json:"tenantId"`
	Status      string   `json:"status"`
	Total       int      `json:"total"`
	Succeeded   int      `json:"succeeded"`
	Failed      int      `json:"failed"`
	Errors      []string `json:"errors,omitempty"`
	StartedAt   string   `json:"startedAt"`
	CompletedAt string   `json:"completedAt,omitempty"`
}

// MeterReadingRequest records one consumer's consumption for a period.
type MeterReadingRequest struct {
	TenantID     string          `json:"tenantId"`
	ConsumerCode string          `json:"consumerCode"`
	Quantity     decimal.Decimal `json:"quantity"`
}

// =============================================================================
// RESPONSES
// =============================================================================

// EstimateDTO is one computed charge line.
type EstimateDTO struct {
	TaxHeadCode string          `json:"taxHeadCode"`
	Category    string          `json:"category"`
	Amount      decimal.Decimal `json:"amount"`
}

// CalculationDTO is a dry-run estimation result.
type CalculationDTO struct {
	TenantID        string          `json:"tenantId"`
	ConsumerCode    string          `json:"consumerCode"`
	BusinessService string          `json:"businessService"`
	PeriodFrom      int64           `json:"taxPeriodFrom,omitempty"`
	PeriodTo        int64           `json:"taxPeriodTo,omitempty"`
	Total           decimal.Decimal `json:"totalAmount"`
	Estimates       []EstimateDTO   `json:"estimates"`
}

// DemandDetailDTO is one persisted ledger line.
type DemandDetailDTO struct {
	ID               string          `json:"id"`
	TaxHeadCode      string          `json:"taxHeadCode"`
	TaxAmount        decimal.Decimal `json:"taxAmount"`
	CollectionAmount decimal.Decimal `json:"collectionAmount"`
}

// DemandDTO is a persisted demand in API responses.
type DemandDTO struct {
	ID                   string            `json:"id"`
	TenantID             string            `json:"tenantId"`
	ConsumerCode         string            `json:"consumerCode"`
	BusinessService      string            `json:"businessService"`
	PeriodFrom           int64             `json:"taxPeriodFrom,omitempty"`
	PeriodTo             int64             `json:"taxPeriodTo,omitempty"`
	Status               string            `json:"status"`
	BillExpiryTime       int64             `json:"billExpiryTime"`
	MinimumAmountPayable decimal.Decimal   `json:"minimumAmountPayable"`
	IsPaymentCompleted   bool              `json:"isPaymentCompleted"`
	NetPayable           decimal.Decimal   `json:"netPayable"`
	Details              []DemandDetailDTO `json:"demandDetails"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toCalculationDTO(calc billing.Calculation) CalculationDTO {
	dto := CalculationDTO{
		TenantID:        calc.TenantID,
		ConsumerCode:    calc.ConsumerCode,
		BusinessService: calc.BusinessService,
		PeriodFrom:      calc.PeriodFrom,
		PeriodTo:        calc.PeriodTo,
		Total:           calc.Total(),
		Estimates:       make([]EstimateDTO, len(calc.Estimates)),
	}
	for i, e := range calc.Estimates {
		dto.Estimates[i] = EstimateDTO{
			TaxHeadCode: string(e.Code),
			Category:    string(e.Category),
			Amount:      e.Amount,
		}
	}
	return dto
}

func toDemandDTO(d billing.Demand) DemandDTO {
	dto := DemandDTO{
		ID:                   d.ID,
		TenantID:             d.TenantID,
		ConsumerCode:         d.ConsumerCode,
		BusinessService:      d.BusinessService,
		PeriodFrom:           d.TaxPeriodFrom,
		PeriodTo:             d.TaxPeriodTo,
		Status:               string(d.Status),
		BillExpiryTime:       d.BillExpiryTime,
		MinimumAmountPayable: d.MinimumAmountPayable,
		IsPaymentCompleted:   d.IsPaymentCompleted,
		NetPayable:           d.NetPayable(),
		Details:              make([]DemandDetailDTO, len(d.Details)),
	}
	for i, det := range d.Details {
		dto.Details[i] = DemandDetailDTO{
			ID:               det.ID,
			TaxHeadCode:      string(det.TaxHeadCode),
			TaxAmount:        det.TaxAmount,
			CollectionAmount: det.CollectionAmount,
		}
	}
	return dto
}

func toDemandDTOs(demands []billing.Demand) []DemandDTO {
	dtos := make([]DemandDTO, len(demands))
	for i, d := range demands {
		dtos[i] = toDemandDTO(d)
	}
	return dtos
}
