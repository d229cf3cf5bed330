/*
ledger.go - Fund ledger invariant

PURPOSE:
  Enforces the two money rules of the engine:
    1. approved_total is set exactly once per case
    2. sum(disbursement events) never exceeds approved_total

DESIGN:
  There is no stored "disbursed so far" column anywhere. The disbursed
  total is always recomputed by summing the case's disbursement events, so
  it cannot drift from the audit trail. The checks here are pure; the
  engine runs them inside the commit transaction, after re-reading events,
  so a racing disbursement cannot slip past the cap.

SEE ALSO:
  - engine.go: calls these checks before appending a disbursement event
*/
package workflow

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// DisbursedTotal sums the amounts of all disbursement events.
func DisbursedTotal(events []Event) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, ev := range events {
		if ev.Type != EventDisbursement {
			continue
		}
		var p DisbursementPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return decimal.Zero, fmt.Errorf("%w: corrupt disbursement payload on event %d of case %s: %v",
				ErrStorage, ev.Seq, ev.CaseID, err)
		}
		total = total.Add(p.Amount)
	}
	return total, nil
}

// CheckSetTotal validates a setApprovedTotal attempt. Fails if the total is
// already non-null or the amount is not positive.
func CheckSetTotal(c *Case, amount decimal.Decimal) error {
	if c.ApprovedTotal != nil {
		return &TotalAlreadySetError{CaseID: c.ID, Current: *c.ApprovedTotal}
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return &ValidationError{Field: "approved_total", Message: "must be positive"}
	}
	return nil
}

// CheckDisbursement validates a tranche against the case's approved total
// and the already disbursed sum.
func CheckDisbursement(c *Case, disbursed, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return &ValidationError{Field: "amount", Message: "must be positive"}
	}
	if c.ApprovedTotal == nil {
		return fmt.Errorf("%w: approved total not set for case %s", ErrLedgerViolation, c.ID)
	}
	if disbursed.Add(amount).GreaterThan(*c.ApprovedTotal) {
		return &LedgerViolationError{
			CaseID:        c.ID,
			ApprovedTotal: *c.ApprovedTotal,
			Disbursed:     disbursed,
			Requested:     amount,
		}
	}
	return nil
}
