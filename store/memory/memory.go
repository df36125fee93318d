/*
Package memory provides an in-memory LedgerStore.

PURPOSE:
  Backs tests and local development with the same contract as the sqlite
  store: atomic batch writes, store-assigned identifiers, and search by
  tenant/consumer/period. All data is copied on the way in and out so callers
  can never alias the store's internal state.
*/
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/warp/billing-engine/billing"
)

// Store is an in-memory LedgerStore keyed by demand ID.
type Store struct {
	mu      sync.RWMutex
	demands map[string]billing.Demand
}

func New() *Store {
	return &Store{demands: make(map[string]billing.Demand)}
}

// SearchDemands returns all demands matching the criteria, any status.
// Zero PeriodFrom/To apply no period filter.
func (s *Store) SearchDemands(ctx context.Context, criteria billing.DemandCriteria) ([]billing.Demand, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	codes := make(map[string]bool, len(criteria.ConsumerCodes))
	for _, c := range criteria.ConsumerCodes {
		codes[c] = true
	}

	var out []billing.Demand
	for _, d := range s.demands {
		if d.TenantID != criteria.TenantID {
			continue
		}
		if criteria.BusinessService != "" && d.BusinessService != criteria.BusinessService {
			continue
		}
		if len(codes) > 0 && !codes[d.ConsumerCode] {
			continue
		}
		if criteria.PeriodFrom != 0 || criteria.PeriodTo != 0 {
			if d.TaxPeriodFrom != criteria.PeriodFrom || d.TaxPeriodTo != criteria.PeriodTo {
				continue
			}
		}
		out = append(out, copyDemand(d))
	}
	return out, nil
}

// SaveDemands assigns identifiers and persists the batch atomically.
func (s *Store) SaveDemands(ctx context.Context, demands []billing.Demand) ([]billing.Demand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	saved := make([]billing.Demand, 0, len(demands))
	for _, d := range demands {
		d.ID = uuid.NewString()
		for i := range d.Details {
			d.Details[i].ID = uuid.NewString()
			d.Details[i].DemandID = d.ID
		}
		s.demands[d.ID] = copyDemand(d)
		saved = append(saved, copyDemand(d))
	}
	return saved, nil
}

// UpdateDemands replaces existing demands atomically. Every demand in the
// batch must already exist; on any miss nothing is written.
func (s *Store) UpdateDemands(ctx context.Context, demands []billing.Demand) ([]billing.Demand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range demands {
		if _, ok := s.demands[d.ID]; !ok {
			return nil, fmt.Errorf("update demand %s: %w", d.ID, billing.ErrNoMatchingDemand)
		}
	}

	updated := make([]billing.Demand, 0, len(demands))
	for _, d := range demands {
		for i := range d.Details {
			if d.Details[i].ID == "" {
				d.Details[i].ID = uuid.NewString()
			}
			d.Details[i].DemandID = d.ID
		}
		s.demands[d.ID] = copyDemand(d)
		updated = append(updated, copyDemand(d))
	}
	return updated, nil
}

func copyDemand(d billing.Demand) billing.Demand {
	d.Details = append([]billing.DemandDetail(nil), d.Details...)
	return d
}
