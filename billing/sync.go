/*
sync.go - Demand synchronizer (create-vs-update reconciliation)

PURPOSE:
  Converts freshly computed tax-head estimates into ledger state. For each
  (tenant, consumer[, period]) key the synchronizer decides between creating
  a new Demand and appending delta lines to the existing one, so that the
  recorded total per head always converges on the latest estimate.

IDEMPOTENCE:
  Reconciling the same inputs twice must not grow the ledger. Two rules
  enforce this under at-least-once delivery:
  1. A zero delta appends no line.
  2. The batch itself may not carry the same key twice (DuplicateKeyError),
     which keeps retry-at-batch-granularity from double-processing.

CONCURRENCY:
  Each key's read-modify-write cycle runs inside the per-key critical
  section (keylock.go). Writes are all-or-nothing per Demand.

SEE ALSO:
  - roundoff.go: balancing pass run on every create and update
  - index.go: recorded-total queries backing the delta computation
*/
package billing

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
)

// BillExpiryFunc computes the bill expiry instant for a tenant at demand
// creation time, from the current rebate-window rules.
type BillExpiryFunc func(ctx context.Context, tenantID string, now time.Time) (int64, error)

// SyncConfig carries the deployment-level reconciliation settings.
type SyncConfig struct {
	// MinimumPayable is the configured minimum for periodic demands.
	// One-time demands always require the full total.
	MinimumPayable decimal.Decimal
}

// Synchronizer reconciles calculation batches against the ledger store.
//
// Locks serializes cycles at consumer granularity. Every component that
// writes the same ledger (the adjustment Applier in particular) must share
// this one instance, or concurrent cycles for a consumer can overwrite each
// other's lines.
type Synchronizer struct {
	Store  LedgerStore
	Locks  *KeyLock
	Expiry BillExpiryFunc
	Config SyncConfig
	Clock  func() time.Time
}

func NewSynchronizer(store LedgerStore, expiry BillExpiryFunc, cfg SyncConfig) *Synchronizer {
	return &Synchronizer{
		Store:  store,
		Locks:  NewKeyLock(),
		Expiry: expiry,
		Config: cfg,
		Clock:  time.Now,
	}
}

// Reconcile processes a batch of calculations, creating or updating one
// Demand per key. The batch fails as a whole on a duplicate key; individual
// keys fail without touching the ledger state already written for others.
func (s *Synchronizer) Reconcile(ctx context.Context, batch []Calculation) ([]Demand, error) {
	seen := make(map[DemandKey]bool, len(batch))
	for i := range batch {
		key := batch[i].Key()
		if seen[key] {
			return nil, &DuplicateKeyError{Key: key}
		}
		seen[key] = true
	}

	results := make([]Demand, 0, len(batch))
	for i := range batch {
		demand, err := s.reconcileOne(ctx, &batch[i])
		if err != nil {
			return nil, fmt.Errorf("reconcile %s/%s: %w",
				batch[i].TenantID, batch[i].ConsumerCode, err)
		}
		results = append(results, demand)
	}
	return results, nil
}

func (s *Synchronizer) reconcileOne(ctx context.Context, calc *Calculation) (Demand, error) {
	key := calc.Key()
	unlock := s.Locks.Lock(key.ConsumerKey())
	defer unlock()

	found, err := s.Store.SearchDemands(ctx, DemandCriteria{
		TenantID:        calc.TenantID,
		BusinessService: calc.BusinessService,
		ConsumerCodes:   []string{calc.ConsumerCode},
		PeriodFrom:      calc.PeriodFrom,
		PeriodTo:        calc.PeriodTo,
	})
	if err != nil {
		return Demand{}, err
	}

	// Cancelled demands are terminal: they never match for update and never
	// block a fresh create.
	active := found[:0:0]
	for _, d := range found {
		if d.Status != StatusCancelled {
			active = append(active, d)
		}
	}

	switch len(active) {
	case 0:
		return s.create(ctx, calc)
	case 1:
		return s.update(ctx, calc, active[0])
	default:
		return Demand{}, &DataIntegrityError{Key: key, Count: len(active)}
	}
}

// create builds a Demand carrying one full-amount line per estimate.
func (s *Synchronizer) create(ctx context.Context, calc *Calculation) (Demand, error) {
	details := make([]DemandDetail, 0, len(calc.Estimates)+1)
	for _, est := range calc.Estimates {
		details = append(details, DemandDetail{
			TenantID:         calc.TenantID,
			TaxHeadCode:      est.Code,
			TaxAmount:        est.Amount,
			CollectionAmount: decimal.Zero,
		})
	}
	details = BalanceRoundOff(calc.TenantID, "", details)

	expiry, err := s.Expiry(ctx, calc.TenantID, s.Clock())
	if err != nil {
		return Demand{}, err
	}

	minimum := s.Config.MinimumPayable
	if calc.PeriodFrom == 0 && calc.PeriodTo == 0 {
		// One-time demands require the full amount up front.
		minimum = calc.Total()
	}

	demand := Demand{
		TenantID:             calc.TenantID,
		ConsumerCode:         calc.ConsumerCode,
		TaxPeriodFrom:        calc.PeriodFrom,
		TaxPeriodTo:          calc.PeriodTo,
		BusinessService:      calc.BusinessService,
		Status:               StatusActive,
		BillExpiryTime:       expiry,
		MinimumAmountPayable: minimum,
		Details:              details,
	}

	saved, err := s.Store.SaveDemands(ctx, []Demand{demand})
	if err != nil {
		return Demand{}, err
	}
	log.Printf("[Sync] created demand for %s/%s period [%d,%d]",
		calc.TenantID, calc.ConsumerCode, calc.PeriodFrom, calc.PeriodTo)
	return saved[0], nil
}

// ApplyAdhoc folds ad-hoc charge estimates into an already existing Demand.
// Unlike Reconcile it never creates: a key resolving to nothing is an error.
func (s *Synchronizer) ApplyAdhoc(ctx context.Context, calc *Calculation) (Demand, error) {
	key := calc.Key()
	unlock := s.Locks.Lock(key.ConsumerKey())
	defer unlock()

	found, err := s.Store.SearchDemands(ctx, DemandCriteria{
		TenantID:        calc.TenantID,
		BusinessService: calc.BusinessService,
		ConsumerCodes:   []string{calc.ConsumerCode},
		PeriodFrom:      calc.PeriodFrom,
		PeriodTo:        calc.PeriodTo,
	})
	if err != nil {
		return Demand{}, err
	}

	active := found[:0:0]
	for _, d := range found {
		if d.Status != StatusCancelled {
			active = append(active, d)
		}
	}
	switch len(active) {
	case 0:
		return Demand{}, fmt.Errorf("%w for %s/%s", ErrNoMatchingDemand, calc.TenantID, calc.ConsumerCode)
	case 1:
		return s.update(ctx, calc, active[0])
	default:
		return Demand{}, &DataIntegrityError{Key: key, Count: len(active)}
	}
}

// update appends one delta line per head whose recorded total differs from
// the new estimate. Unchanged heads append nothing.
func (s *Synchronizer) update(ctx context.Context, calc *Calculation, demand Demand) (Demand, error) {
	if demand.Status == StatusCancelled {
		return Demand{}, ErrInvalidDemandState
	}

	idx := NewDetailIndex(demand.Details)
	combined := append([]DemandDetail(nil), demand.Details...)

	for _, est := range calc.Estimates {
		if !idx.HasHead(est.Code) {
			combined = append(combined, DemandDetail{
				DemandID:         demand.ID,
				TenantID:         calc.TenantID,
				TaxHeadCode:      est.Code,
				TaxAmount:        est.Amount,
				CollectionAmount: decimal.Zero,
			})
			continue
		}
		delta := est.Amount.Sub(idx.RecordedTotal(est.Code))
		if delta.IsZero() {
			continue
		}
		combined = append(combined, DemandDetail{
			DemandID:         demand.ID,
			TenantID:         calc.TenantID,
			TaxHeadCode:      est.Code,
			TaxAmount:        delta,
			CollectionAmount: decimal.Zero,
		})
	}

	demand.Details = BalanceRoundOff(calc.TenantID, demand.ID, combined)

	updated, err := s.Store.UpdateDemands(ctx, []Demand{demand})
	if err != nil {
		return Demand{}, err
	}
	return updated[0], nil
}
