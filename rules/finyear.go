/*
finyear.go - Financial-year arithmetic

PURPOSE:
  The rate masters are scoped to Indian financial years, which run April 1
  through March 31 and are written "2025-26". This file converts between
  instants and financial-year labels and orders labels for window lookup.
*/
package rules

import (
	"fmt"
	"strconv"
	"time"

	"github.com/warp/billing-engine/billing"
)

// FinancialYear returns the "YYYY-YY" label for the financial year that
// contains t. April 2025 through March 2026 is "2025-26".
func FinancialYear(t time.Time) string {
	year := t.Year()
	if t.Month() < time.April {
		year--
	}
	return fmt.Sprintf("%d-%02d", year, (year+1)%100)
}

// FinancialYearStart returns midnight UTC on April 1 of the labeled year.
func FinancialYearStart(finYear string) (time.Time, error) {
	start, err := fyStartYear(finYear)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(start, time.April, 1, 0, 0, 0, 0, time.UTC), nil
}

// CompareFY orders two financial-year labels by start year. Unparseable
// labels sort first so a malformed rule can never win a window lookup.
func CompareFY(a, b string) int {
	ya, errA := fyStartYear(a)
	yb, errB := fyStartYear(b)
	if errA != nil || errB != nil {
		switch {
		case errA != nil && errB != nil:
			return 0
		case errA != nil:
			return -1
		default:
			return 1
		}
	}
	switch {
	case ya < yb:
		return -1
	case ya > yb:
		return 1
	default:
		return 0
	}
}

func fyStartYear(finYear string) (int, error) {
	if len(finYear) != 7 || finYear[4] != '-' {
		return 0, fmt.Errorf("%w: financial year %q, want YYYY-YY", billing.ErrParsing, finYear)
	}
	year, err := strconv.Atoi(finYear[:4])
	if err != nil {
		return 0, fmt.Errorf("%w: financial year %q: %v", billing.ErrParsing, finYear, err)
	}
	suffix, err := strconv.Atoi(finYear[5:])
	if err != nil || suffix != (year+1)%100 {
		return 0, fmt.Errorf("%w: financial year %q has inconsistent suffix", billing.ErrParsing, finYear)
	}
	return year, nil
}
