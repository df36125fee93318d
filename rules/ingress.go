/*
ingress.go - JSON master definitions

PURPOSE:
  Converts JSON master definitions into typed rule sets. This keeps rate
  configuration out of code: a tenant's slabs, fee tables, and time-window
  rules arrive as one JSON document, validated here before anything is
  served to the engine.

JSON SCHEMA:
  {
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
        {"usageCategory": "DOMESTIC", "minUnits": 1, "maxUnits": 25, "amount": 5000}
      ]
    },
    "timeBasedRules": {
      "Rebate":  [{"fromFY": "2019-20", "endingDay": 10, "rate": 5}],
      "Penalty": [{"fromFY": "2019-20", "startingDay": 0, "rate": 10, "maxAmount": 500}]
    }
  }

VALIDATION:
  Slabs must be ordered and contiguous with only the last bracket open.
  Amounts and rates must be non-negative. Financial-year labels must parse.
  Violations surface as billing.ErrParsing with the offending field named.
*/
package rules

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/billing-engine/billing"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// MasterSetJSON is the JSON representation of one tenant's masters.
type MasterSetJSON struct {
	TenantID     string                           `json:"tenantId"`
	BillingSlabs map[string]SlabTableJSON         `json:"billingSlabs,omitempty"`
	FeeRules     map[string][]CategoricalRuleJSON `json:"feeRules,omitempty"`
	TimeBased    map[string][]TimeWindowRuleJSON  `json:"timeBasedRules,omitempty"`
}

type SlabTableJSON struct {
	MinimumCharge decimal.Decimal `json:"minimumCharge,omitempty"`
	Slabs         []RateSlabJSON  `json:"slabs"`
}

type RateSlabJSON struct {
	From decimal.Decimal `json:"from"`
	To   decimal.Decimal `json:"to,omitempty"`
	Rate decimal.Decimal `json:"rate"`
}

type CategoricalRuleJSON struct {
	UsageCategory      string          `json:"usageCategory,omitempty"`
	ConnectionCategory string          `json:"connectionCategory,omitempty"`
	MinUnits           int             `json:"minUnits,omitempty"`
	MaxUnits           int             `json:"maxUnits,omitempty"`
	Amount             decimal.Decimal `json:"amount"`
}

type TimeWindowRuleJSON struct {
	FromFY      string          `json:"fromFY"`
	StartingDay int             `json:"startingDay,omitempty"`
	EndingDay   int             `json:"endingDay,omitempty"`
	Rate        decimal.Decimal `json:"rate,omitempty"`
	FlatAmount  decimal.Decimal `json:"flatAmount,omitempty"`
	MaxAmount   decimal.Decimal `json:"maxAmount,omitempty"`
	MinAmount   decimal.Decimal `json:"minAmount,omitempty"`
}

// =============================================================================
// PARSING
// =============================================================================

// ParseMasterSet parses and validates one tenant's JSON master document.
func ParseMasterSet(data []byte) (*MasterSet, error) {
	var doc MasterSetJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: master document: %v", billing.ErrParsing, err)
	}
	return FromJSON(doc)
}

// FromJSON converts a MasterSetJSON into a validated MasterSet.
func FromJSON(doc MasterSetJSON) (*MasterSet, error) {
	if doc.TenantID == "" {
		return nil, fmt.Errorf("%w: %v", billing.ErrParsing,
			&billing.ValidationError{Field: "tenantId", Message: "required"})
	}

	set := &MasterSet{
		TenantID:    doc.TenantID,
		Slabs:       make(map[billing.TaxHeadCode]SlabTable),
		Categorical: make(map[string][]CategoricalRule),
		TimeWindows: make(map[string][]TimeWindowRule),
	}

	for head, tj := range doc.BillingSlabs {
		table, err := parseSlabTable(head, tj)
		if err != nil {
			return nil, err
		}
		set.Slabs[billing.TaxHeadCode(head)] = table
	}

	for name, rules := range doc.FeeRules {
		parsed, err := parseFeeRules(name, rules)
		if err != nil {
			return nil, err
		}
		set.Categorical[name] = parsed
	}

	for master, rules := range doc.TimeBased {
		parsed, err := parseTimeWindows(master, rules)
		if err != nil {
			return nil, err
		}
		set.TimeWindows[master] = parsed
	}

	return set, nil
}

func parseSlabTable(head string, tj SlabTableJSON) (SlabTable, error) {
	if len(tj.Slabs) == 0 {
		return SlabTable{}, fmt.Errorf("%w: slab table %s has no brackets", billing.ErrParsing, head)
	}
	if tj.MinimumCharge.IsNegative() {
		return SlabTable{}, fmt.Errorf("%w: slab table %s: negative minimum charge", billing.ErrParsing, head)
	}

	table := SlabTable{MinimumCharge: tj.MinimumCharge}
	for i, sj := range tj.Slabs {
		slab := RateSlab{From: sj.From, To: sj.To, Rate: sj.Rate}
		if slab.Rate.IsNegative() || slab.From.IsNegative() {
			return SlabTable{}, fmt.Errorf("%w: slab table %s bracket %d: negative value", billing.ErrParsing, head, i)
		}
		if !slab.Open() && slab.To.LessThanOrEqual(slab.From) {
			return SlabTable{}, fmt.Errorf("%w: slab table %s bracket %d: to must exceed from", billing.ErrParsing, head, i)
		}
		if i > 0 {
			prev := table.Slabs[i-1]
			if prev.Open() {
				return SlabTable{}, fmt.Errorf("%w: slab table %s: only the last bracket may be open", billing.ErrParsing, head)
			}
			if !prev.To.Equal(slab.From) {
				return SlabTable{}, fmt.Errorf("%w: slab table %s bracket %d: gap after %s", billing.ErrParsing, head, i, prev.To)
			}
		}
		table.Slabs = append(table.Slabs, slab)
	}
	return table, nil
}

func parseFeeRules(name string, rules []CategoricalRuleJSON) ([]CategoricalRule, error) {
	parsed := make([]CategoricalRule, 0, len(rules))
	for i, rj := range rules {
		if rj.Amount.IsNegative() {
			return nil, fmt.Errorf("%w: fee rule %s[%d]: negative amount", billing.ErrParsing, name, i)
		}
		if rj.MaxUnits > 0 && rj.MinUnits > rj.MaxUnits {
			return nil, fmt.Errorf("%w: fee rule %s[%d]: minUnits exceeds maxUnits", billing.ErrParsing, name, i)
		}
		parsed = append(parsed, CategoricalRule{
			UsageCategory:      rj.UsageCategory,
			ConnectionCategory: rj.ConnectionCategory,
			MinUnits:           rj.MinUnits,
			MaxUnits:           rj.MaxUnits,
			Amount:             rj.Amount,
		})
	}
	return parsed, nil
}

func parseTimeWindows(master string, rules []TimeWindowRuleJSON) ([]TimeWindowRule, error) {
	parsed := make([]TimeWindowRule, 0, len(rules))
	for i, rj := range rules {
		if _, err := fyStartYear(rj.FromFY); err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", master, i, err)
		}
		if rj.Rate.IsNegative() || rj.FlatAmount.IsNegative() ||
			rj.MaxAmount.IsNegative() || rj.MinAmount.IsNegative() {
			return nil, fmt.Errorf("%w: time rule %s[%d]: negative value", billing.ErrParsing, master, i)
		}
		if rj.EndingDay < 0 || rj.EndingDay > 31 || rj.StartingDay < 0 {
			return nil, fmt.Errorf("%w: time rule %s[%d]: day out of range", billing.ErrParsing, master, i)
		}
		// Bill expiry is derived from the rebate window's ending day; a day
		// of zero would roll expiry into the previous month.
		if master == MasterRebate && rj.EndingDay < 1 {
			return nil, fmt.Errorf("%w: time rule %s[%d]: endingDay must be at least 1", billing.ErrParsing, master, i)
		}
		parsed = append(parsed, TimeWindowRule{
			FromFY:      rj.FromFY,
			StartingDay: rj.StartingDay,
			EndingDay:   rj.EndingDay,
			Rate:        rj.Rate,
			FlatAmount:  rj.FlatAmount,
			MaxAmount:   rj.MaxAmount,
			MinAmount:   rj.MinAmount,
		})
	}
	return parsed, nil
}
