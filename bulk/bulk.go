/*
Package bulk drives scheduled demand generation across a tenant's
connection base.

PURPOSE:
  A billing cycle is one Trigger: a tenant, a period, and optionally a
  page of consumer codes. The Runner fans the page out to a small worker
  pool; each worker resolves the subject, fetches its usage, estimates
  the charges, and reconciles the result into the ledger. Failures are
  recorded per consumer and never abort the cycle.

PAGING:
  Consumer codes are sorted before offset/limit is applied, so repeated
  triggers with advancing offsets walk the whole base deterministically.
  Reconciliation is idempotent, so overlapping pages are safe.

TRACKING:
  Run is asynchronous and returns a batch id immediately. Status reports
  progress and the first recorded failures; callers poll it.

USAGE:
  runner := bulk.NewRunner(registry, usage, estimator, sync)
  id, err := runner.Run(ctx, bulk.Trigger{TenantID: "pb.amritsar", ...})
  batch, ok := runner.Status(id)

SEE ALSO:
  - estimate/estimator.go: charge computation
  - billing/sync.go: ledger reconciliation
*/
package bulk

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/estimate"
)

// maxRecordedErrors caps the per-batch failure detail kept in memory.
const maxRecordedErrors = 50

// UsageSource provides the metered consumption for one subject and period.
type UsageSource interface {
	UsageFor(ctx context.Context, tenantID, consumerCode string, periodFrom, periodTo int64) (estimate.Usage, error)
}

// SubjectSource lists and resolves the billable subjects of a tenant.
// estimate.Registry satisfies it.
type SubjectSource interface {
	estimate.SubjectResolver
	Codes(tenantID string) []string
}

// Trigger describes one bulk generation request.
type Trigger struct {
	TenantID      string
	PeriodFrom    int64
	PeriodTo      int64
	ConsumerCodes []string // explicit page; empty means the whole tenant base
	Offset        int
	Limit         int // zero means no limit
}

// BatchStatus is the lifecycle state of a bulk run.
type BatchStatus string

const (
	BatchRunning   BatchStatus = "RUNNING"
	BatchCompleted BatchStatus = "COMPLETED"
)

// Batch tracks the progress of one asynchronous bulk run.
type Batch struct {
	ID          string
	TenantID    string
	Status      BatchStatus
	Total       int
	Succeeded   int
	Failed      int
	Errors      []string
	StartedAt   time.Time
	CompletedAt time.Time
}

// Runner executes bulk triggers against a worker pool.
type Runner struct {
	Subjects  SubjectSource
	Usage     UsageSource
	Estimator *estimate.Service
	Sync      *billing.Synchronizer
	Workers   int

	mu      sync.RWMutex
	batches map[string]*Batch
}

func NewRunner(subjects SubjectSource, usage UsageSource, estimator *estimate.Service, sync *billing.Synchronizer) *Runner {
	return &Runner{
		Subjects:  subjects,
		Usage:     usage,
		Estimator: estimator,
		Sync:      sync,
		Workers:   4,
		batches:   make(map[string]*Batch),
	}
}

// Run starts a bulk cycle and returns its batch id. The work proceeds in
// the background; poll Status for progress.
func (r *Runner) Run(ctx context.Context, trigger Trigger) (string, error) {
	if trigger.TenantID == "" {
		return "", &billing.ValidationError{Field: "tenantId", Message: "required"}
	}
	if trigger.PeriodFrom == 0 || trigger.PeriodTo == 0 || trigger.PeriodTo <= trigger.PeriodFrom {
		return "", &billing.ValidationError{Field: "taxPeriod", Message: "a valid billing period is required"}
	}

	codes := r.page(trigger)

	batch := &Batch{
		ID:        uuid.NewString(),
		TenantID:  trigger.TenantID,
		Status:    BatchRunning,
		Total:     len(codes),
		StartedAt: time.Now(),
	}
	r.mu.Lock()
	r.batches[batch.ID] = batch
	r.mu.Unlock()

	log.Printf("[Bulk] Batch %s started: tenant=%s consumers=%d workers=%d",
		batch.ID, trigger.TenantID, len(codes), r.Workers)

	// The cycle outlives the triggering request.
	go r.execute(context.WithoutCancel(ctx), trigger, batch, codes)
	return batch.ID, nil
}

// Status returns a snapshot of the batch.
func (r *Runner) Status(id string) (Batch, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	batch, ok := r.batches[id]
	if !ok {
		return Batch{}, false
	}
	snapshot := *batch
	snapshot.Errors = append([]string(nil), batch.Errors...)
	return snapshot, true
}

// page resolves the consumer codes the trigger covers.
func (r *Runner) page(trigger Trigger) []string {
	codes := trigger.ConsumerCodes
	if len(codes) == 0 {
		codes = r.Subjects.Codes(trigger.TenantID)
	}
	codes = append([]string(nil), codes...)
	sort.Strings(codes)

	if trigger.Offset >= len(codes) {
		return nil
	}
	codes = codes[trigger.Offset:]
	if trigger.Limit > 0 && trigger.Limit < len(codes) {
		codes = codes[:trigger.Limit]
	}
	return codes
}

func (r *Runner) execute(ctx context.Context, trigger Trigger, batch *Batch, codes []string) {
	workers := r.Workers
	if workers < 1 {
		workers = 1
	}

	work := make(chan string)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for code := range work {
				if err := r.generateOne(ctx, trigger, code); err != nil {
					r.recordFailure(batch, code, err)
				} else {
					r.recordSuccess(batch)
				}
			}
		}()
	}

	for _, code := range codes {
		work <- code
	}
	close(work)
	wg.Wait()

	r.mu.Lock()
	batch.Status = BatchCompleted
	batch.CompletedAt = time.Now()
	succeeded, failed := batch.Succeeded, batch.Failed
	r.mu.Unlock()

	log.Printf("[Bulk] Batch %s completed: %d succeeded, %d failed", batch.ID, succeeded, failed)
}

// generateOne runs the estimate-and-reconcile pipeline for one consumer.
func (r *Runner) generateOne(ctx context.Context, trigger Trigger, code string) error {
	subject, err := r.Subjects.Resolve(ctx, trigger.TenantID, code)
	if err != nil {
		return err
	}

	usage, err := r.Usage.UsageFor(ctx, trigger.TenantID, code, trigger.PeriodFrom, trigger.PeriodTo)
	if err != nil {
		return err
	}
	usage.PeriodFrom = trigger.PeriodFrom
	usage.PeriodTo = trigger.PeriodTo

	calc, err := r.Estimator.EstimateCharges(ctx, subject, usage, estimate.Adhoc{})
	if err != nil {
		return err
	}

	_, err = r.Sync.Reconcile(ctx, []billing.Calculation{calc})
	return err
}

func (r *Runner) recordSuccess(batch *Batch) {
	r.mu.Lock()
	batch.Succeeded++
	r.mu.Unlock()
}

func (r *Runner) recordFailure(batch *Batch, code string, err error) {
	log.Printf("[Bulk] Batch %s: consumer %s failed: %v", batch.ID, code, err)
	r.mu.Lock()
	batch.Failed++
	if len(batch.Errors) < maxRecordedErrors {
		batch.Errors = append(batch.Errors, code+": "+err.Error())
	}
	r.mu.Unlock()
}

// =============================================================================
// IN-MEMORY USAGE SOURCE
// =============================================================================

// MeterReadings is an in-memory UsageSource for tests and deployments that
// load their meter data at cycle start.
type MeterReadings struct {
	mu       sync.RWMutex
	readings map[string]estimate.Usage
}

func NewMeterReadings() *MeterReadings {
	return &MeterReadings{readings: make(map[string]estimate.Usage)}
}

func (m *MeterReadings) key(tenantID, consumerCode string) string {
	return tenantID + "|" + consumerCode
}

// Record installs or replaces the reading for a consumer.
func (m *MeterReadings) Record(tenantID, consumerCode string, usage estimate.Usage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readings[m.key(tenantID, consumerCode)] = usage
}

func (m *MeterReadings) UsageFor(ctx context.Context, tenantID, consumerCode string, periodFrom, periodTo int64) (estimate.Usage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	usage, ok := m.readings[m.key(tenantID, consumerCode)]
	if !ok {
		return estimate.Usage{}, &billing.ValidationError{
			Field:   "consumerCode",
			Message: "no meter reading for " + consumerCode,
		}
	}
	return usage, nil
}
