/*
index.go - Derived in-memory index over append-only detail lines

PURPOSE:
  The ledger itself stays append-only for audit, but reconciliation needs two
  queries answered repeatedly per tax head: "what total is recorded?" and
  "which line was appended last?". Scanning the detail slice for every head
  turns updates quadratic; this index answers both in O(1) after one pass.

INVARIANT:
  The index is built per reconciliation pass and discarded with it. It is a
  view, not a second source of truth: all mutations go through the demand's
  detail slice, with the index holding positions into it.
*/
package billing

import (
	"github.com/shopspring/decimal"
)

// DetailIndex indexes a demand's detail lines by tax head.
type DetailIndex struct {
	recorded map[TaxHeadCode]decimal.Decimal
	latest   map[TaxHeadCode]int // position of the most recently appended line
}

// NewDetailIndex builds the index in one pass over the detail slice. Lines
// are ordered by append time, so the last occurrence of a head wins the
// latest-line slot.
func NewDetailIndex(details []DemandDetail) *DetailIndex {
	idx := &DetailIndex{
		recorded: make(map[TaxHeadCode]decimal.Decimal),
		latest:   make(map[TaxHeadCode]int),
	}
	for i, d := range details {
		idx.recorded[d.TaxHeadCode] = idx.recorded[d.TaxHeadCode].Add(d.TaxAmount)
		idx.latest[d.TaxHeadCode] = i
	}
	return idx
}

// RecordedTotal returns Σ(taxAmount) across all lines for the head, zero if
// the head has no lines.
func (idx *DetailIndex) RecordedTotal(code TaxHeadCode) decimal.Decimal {
	return idx.recorded[code]
}

// HasHead reports whether any line exists for the head.
func (idx *DetailIndex) HasHead(code TaxHeadCode) bool {
	_, ok := idx.latest[code]
	return ok
}

// LatestLine returns the position of the most recently appended line for the
// head within the indexed slice.
func (idx *DetailIndex) LatestLine(code TaxHeadCode) (int, bool) {
	i, ok := idx.latest[code]
	return i, ok
}
