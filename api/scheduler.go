/*
scheduler.go - Automated adjustment refresh scheduler

PURPOSE:
  Periodically sweeps every registered subject and re-applies the
  time-based rebate/penalty/interest adjustments, so rebate windows close
  and penalties accrue without anyone calling the refresh endpoint.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Sweeps tenant by tenant over the subject registry
  - Subjects without demands yet are skipped, not errors
  - Refresh is idempotent, so overlapping sweeps are harmless

CONFIGURATION:
  - CheckInterval: How often to sweep (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewAdjustmentScheduler(handler)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RefreshAdjustments endpoint (manual refresh)
  - billing/adjust.go: Applier
*/
package api

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/warp/billing-engine/billing"
)

// AdjustmentScheduler handles automated adjustment refresh.
type AdjustmentScheduler struct {
	Handler       *Handler
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewAdjustmentScheduler creates a new scheduler.
func NewAdjustmentScheduler(handler *Handler) *AdjustmentScheduler {
	return &AdjustmentScheduler{
		Handler:       handler,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (as *AdjustmentScheduler) Start() {
	as.mu.Lock()
	defer as.mu.Unlock()

	if !as.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}

	as.ticker = time.NewTicker(as.CheckInterval)
	as.wg.Add(1)

	go as.run()

	log.Printf("[Scheduler] Started with check interval: %v", as.CheckInterval)
}

// Stop stops the scheduler.
func (as *AdjustmentScheduler) Stop() {
	as.mu.Lock()
	defer as.mu.Unlock()

	if as.ticker != nil {
		as.ticker.Stop()
		close(as.stop)
		as.wg.Wait()
		log.Println("[Scheduler] Stopped")
	}
}

func (as *AdjustmentScheduler) run() {
	defer as.wg.Done()

	// Run immediately on start
	as.sweep()

	for {
		select {
		case <-as.ticker.C:
			as.sweep()
		case <-as.stop:
			return
		}
	}
}

func (as *AdjustmentScheduler) sweep() {
	ctx := context.Background()
	service := as.Handler.Estimator.PeriodicService

	log.Printf("[Scheduler] Sweeping adjustments at %v", time.Now())

	refreshed := 0
	skipped := 0
	failed := 0

	for _, tenantID := range as.Handler.Registry.Tenants() {
		for _, code := range as.Handler.Registry.Codes(tenantID) {
			_, err := as.Handler.Adjuster.Refresh(ctx, tenantID, service, code)
			switch {
			case err == nil:
				refreshed++
			case errors.Is(err, billing.ErrNoMatchingDemand):
				// Nothing billed yet for this subject.
				skipped++
			default:
				failed++
				log.Printf("[Scheduler] Refresh failed for %s/%s: %v", tenantID, code, err)
			}
		}
	}

	if refreshed > 0 || failed > 0 {
		log.Printf("[Scheduler] Completed: %d refreshed, %d skipped, %d failed", refreshed, skipped, failed)
	}
}

// RunNow triggers an immediate sweep (for testing/admin).
func (as *AdjustmentScheduler) RunNow() {
	as.sweep()
}

// GetNextRunTime returns when the next scheduled sweep will occur.
func (as *AdjustmentScheduler) GetNextRunTime() time.Time {
	return time.Now().Add(as.CheckInterval)
}
