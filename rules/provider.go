/*
provider.go - Per-tenant master lookup

PURPOSE:
  The engine never hardcodes a rate; everything comes from a Provider keyed
  by tenant. The in-memory implementation backs tests and single-node
  deployments loading masters from JSON at startup (ingress.go).
*/
package rules

import (
	"context"
	"sync"

	"github.com/warp/billing-engine/billing"
)

// Provider resolves the rate masters for a tenant. A missing master is a
// MasterDataNotFoundError, never an empty default.
type Provider interface {
	SlabTable(ctx context.Context, tenantID string, head billing.TaxHeadCode) (SlabTable, error)
	CategoricalRules(ctx context.Context, tenantID, ruleName string) ([]CategoricalRule, error)
	TimeWindows(ctx context.Context, tenantID, master string) ([]TimeWindowRule, error)
}

// MasterSet is one tenant's complete rule configuration.
type MasterSet struct {
	TenantID    string
	Slabs       map[billing.TaxHeadCode]SlabTable
	Categorical map[string][]CategoricalRule
	TimeWindows map[string][]TimeWindowRule
}

// InMemoryProvider serves masters loaded per tenant.
type InMemoryProvider struct {
	mu      sync.RWMutex
	tenants map[string]*MasterSet
}

func NewInMemoryProvider() *InMemoryProvider {
	return &InMemoryProvider{tenants: make(map[string]*MasterSet)}
}

// Load installs or replaces a tenant's master set.
func (p *InMemoryProvider) Load(set *MasterSet) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tenants[set.TenantID] = set
}

func (p *InMemoryProvider) SlabTable(ctx context.Context, tenantID string, head billing.TaxHeadCode) (SlabTable, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	set, ok := p.tenants[tenantID]
	if !ok {
		return SlabTable{}, &billing.MasterDataNotFoundError{TenantID: tenantID, RuleName: string(head)}
	}
	table, ok := set.Slabs[head]
	if !ok {
		return SlabTable{}, &billing.MasterDataNotFoundError{TenantID: tenantID, RuleName: string(head)}
	}
	return table, nil
}

func (p *InMemoryProvider) CategoricalRules(ctx context.Context, tenantID, ruleName string) ([]CategoricalRule, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	set, ok := p.tenants[tenantID]
	if !ok {
		return nil, &billing.MasterDataNotFoundError{TenantID: tenantID, RuleName: ruleName}
	}
	ruleSet, ok := set.Categorical[ruleName]
	if !ok {
		return nil, &billing.MasterDataNotFoundError{TenantID: tenantID, RuleName: ruleName}
	}
	return ruleSet, nil
}

func (p *InMemoryProvider) TimeWindows(ctx context.Context, tenantID, master string) ([]TimeWindowRule, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	set, ok := p.tenants[tenantID]
	if !ok {
		return nil, &billing.MasterDataNotFoundError{TenantID: tenantID, RuleName: master}
	}
	ruleSet, ok := set.TimeWindows[master]
	if !ok {
		return nil, &billing.MasterDataNotFoundError{TenantID: tenantID, RuleName: master}
	}
	return ruleSet, nil
}
