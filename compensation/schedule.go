/*
Package compensation holds the per-section relief schedule.

PURPOSE:
  Maps the legal sections an atrocity case is filed under to the relief
  amount each carries. The sum over a case's sections is the suggested
  approved total offered to the approving officer; the officer may override
  it, but the ledger invariant binds whatever value is finally set.
*/
package compensation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Schedule maps section codes to relief amounts.
type Schedule struct {
	amounts map[string]decimal.Decimal
}

// New builds a schedule from a code -> amount table.
func New(amounts map[string]decimal.Decimal) *Schedule {
	m := make(map[string]decimal.Decimal, len(amounts))
	for code, amt := range amounts {
		m[normalize(code)] = amt
	}
	return &Schedule{amounts: m}
}

// Default returns the built-in relief schedule.
func Default() *Schedule {
	return New(map[string]decimal.Decimal{
		"3(1)(r)":  decimal.NewFromInt(100000),
		"3(1)(s)":  decimal.NewFromInt(100000),
		"3(1)(w)":  decimal.NewFromInt(200000),
		"3(2)(v)":  decimal.NewFromInt(400000),
		"3(2)(va)": decimal.NewFromInt(200000),
	})
}

// Amount returns the relief for one section code.
func (s *Schedule) Amount(code string) (decimal.Decimal, bool) {
	amt, ok := s.amounts[normalize(code)]
	return amt, ok
}

// Sections returns the known codes, sorted.
func (s *Schedule) Sections() []string {
	out := make([]string, 0, len(s.amounts))
	for code := range s.amounts {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// TotalFor sums the relief over the given sections. Unknown codes and empty
// lists are errors; a case filed under no recognizable section has no
// defensible default total.
func (s *Schedule) TotalFor(codes []string) (decimal.Decimal, error) {
	if len(codes) == 0 {
		return decimal.Zero, fmt.Errorf("no sections supplied")
	}
	total := decimal.Zero
	for _, code := range codes {
		amt, ok := s.Amount(code)
		if !ok {
			return decimal.Zero, fmt.Errorf("unknown section %q", code)
		}
		total = total.Add(amt)
	}
	return total, nil
}

// ParseSections splits a comma-separated section list as stored on a case.
func ParseSections(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func normalize(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}
