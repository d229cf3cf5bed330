package workflow_test

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpcr/caseflow/workflow"
)

// =============================================================================
// DISBURSEMENT CAP
// =============================================================================

func TestLedger_TranchesNeverExceedApprovedTotal(t *testing.T) {
	// GIVEN a case with an approved total of 250000 at the tranche stage
	// WHEN 125000 is disbursed, then 150000 is attempted
	// THEN the first succeeds and the second fails with the exact headroom
	//      shortfall, leaving the case and timeline untouched
	eng, mem := newTestEngine(t)
	ctx := context.Background()
	id := caseAtTranche(t, eng, "FIR-100/2026", "250000")

	res, err := disburse(eng, id, money("125000"), "TXN-1")
	require.NoError(t, err)
	assert.Equal(t, stageFinalTranche, res.Stage)
	assert.Equal(t, workflow.EventDisbursement, res.EventType)

	before, err := mem.ListEvents(ctx, id)
	require.NoError(t, err)

	_, err = disburse(eng, id, money("150000"), "TXN-2")
	require.Error(t, err)
	var lv *workflow.LedgerViolationError
	require.ErrorAs(t, err, &lv)
	assert.True(t, lv.ApprovedTotal.Equal(money("250000")))
	assert.True(t, lv.Disbursed.Equal(money("125000")))
	assert.True(t, lv.Requested.Equal(money("150000")))

	after, err := mem.ListEvents(ctx, id)
	require.NoError(t, err)
	assert.Len(t, after, len(before), "failed tranche leaves no event behind")
	c, err := mem.GetCase(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, stageFinalTranche, c.Stage, "failed tranche does not move the case")

	// The remaining 125000 still fits and completes the case.
	res, err = disburse(eng, id, money("125000"), "TXN-3")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, res.Status)
	assert.Equal(t, workflow.Role(""), res.PendingRole)

	events, err := mem.ListEvents(ctx, id)
	require.NoError(t, err)
	total, err := workflow.DisbursedTotal(events)
	require.NoError(t, err)
	assert.True(t, total.Equal(money("250000")))
}

func TestLedger_DisburseRequiresTransactionID(t *testing.T) {
	eng, _ := newTestEngine(t)
	id := caseAtTranche(t, eng, "FIR-101/2026", "100000")

	_, err := disburse(eng, id, money("50000"), "")
	assert.ErrorIs(t, err, workflow.ErrValidation)
}

func TestLedger_DisburseRejectsNonPositiveAmount(t *testing.T) {
	eng, _ := newTestEngine(t)
	id := caseAtTranche(t, eng, "FIR-102/2026", "100000")

	_, err := disburse(eng, id, decimal.Zero, "TXN-1")
	assert.ErrorIs(t, err, workflow.ErrValidation)
}

func TestLedger_TranchePercentDefaultsFromStage(t *testing.T) {
	// The stage's expected share rides along on the event when the officer
	// does not spell it out.
	eng, mem := newTestEngine(t)
	id := caseAtTranche(t, eng, "FIR-103/2026", "100000")

	_, err := disburse(eng, id, money("50000"), "TXN-1")
	require.NoError(t, err)

	events, err := mem.ListEvents(context.Background(), id)
	require.NoError(t, err)
	last := events[len(events)-1]
	var p workflow.DisbursementPayload
	require.NoError(t, json.Unmarshal(last.Payload, &p))
	assert.True(t, p.PercentOfTotal.Equal(decimal.NewFromInt(50)))
	assert.False(t, p.Final)
}

// =============================================================================
// APPROVED TOTAL - SET ONCE
// =============================================================================

func TestLedger_TotalSurvivesCorrectionLoop(t *testing.T) {
	// GIVEN a case whose total was set, then bounced back for corrections
	// WHEN the first reviewer approves again without an amount
	// THEN the original total stands; an attempt to change it fails
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	id := submitCase(t, eng, "FIR-110/2026")
	_, err := approve(eng, id, reviewerOne(), moneyP("250000"))
	require.NoError(t, err)

	_, err = eng.Transition(ctx, workflow.TransitionRequest{
		CaseID: id,
		Actor:  reviewerTwo(),
		Action: workflow.ActionRequestCorrection,
		Correction: &workflow.CorrectionPayload{
			CorrectionsRequired: []string{"fir_copy"},
		},
	})
	require.NoError(t, err)
	_, err = eng.Resubmit(ctx, workflow.ResubmitRequest{
		CaseID: id,
		Actor:  applicantActor("app-1"),
		Fields: map[string]string{"fir_copy": "blob-ref-2"},
	})
	require.NoError(t, err)

	// Changing the total on re-approval is refused.
	_, err = approve(eng, id, reviewerOne(), moneyP("300000"))
	var already *workflow.TotalAlreadySetError
	require.ErrorAs(t, err, &already)
	assert.True(t, already.Current.Equal(money("250000")))
	assert.ErrorIs(t, err, workflow.ErrLedgerViolation)

	// Re-approving without an amount keeps the original and advances.
	res, err := approve(eng, id, reviewerOne(), nil)
	require.NoError(t, err)
	assert.Equal(t, stageSecondReview, res.Stage)

	c, err := eng.GetCase(ctx, id, reviewerTwo())
	require.NoError(t, err)
	require.NotNil(t, c.ApprovedTotal)
	assert.True(t, c.ApprovedTotal.Equal(money("250000")))
}

func TestLedger_CheckSetTotal(t *testing.T) {
	c := &workflow.Case{ID: "c-1"}

	assert.NoError(t, workflow.CheckSetTotal(c, money("1000")))
	assert.ErrorIs(t, workflow.CheckSetTotal(c, decimal.Zero), workflow.ErrValidation)

	c.ApprovedTotal = moneyP("1000")
	err := workflow.CheckSetTotal(c, money("2000"))
	var already *workflow.TotalAlreadySetError
	require.ErrorAs(t, err, &already)
	assert.True(t, already.Current.Equal(money("1000")))
}

func TestLedger_DisbursementNeedsTotalFirst(t *testing.T) {
	c := &workflow.Case{ID: "c-1"}
	err := workflow.CheckDisbursement(c, decimal.Zero, money("100"))
	assert.ErrorIs(t, err, workflow.ErrLedgerViolation)
}

// =============================================================================
// PROPERTY: THE CAP HOLDS UNDER ARBITRARY SEQUENCES
// =============================================================================

func TestLedger_RandomTranchesNeverBreachCap(t *testing.T) {
	// Replays 500 random tranche attempts against the pure checks and
	// verifies the derived disbursed sum never exceeds the approved total.
	rng := rand.New(rand.NewSource(42))
	total := money("100000")
	c := &workflow.Case{ID: "c-prop", ApprovedTotal: &total}

	var events []workflow.Event
	disbursed := decimal.Zero
	accepted := 0
	for i := 0; i < 500; i++ {
		amt := decimal.NewFromInt(rng.Int63n(30000) - 100) // sometimes non-positive
		if err := workflow.CheckDisbursement(c, disbursed, amt); err != nil {
			continue
		}
		raw, err := workflow.MarshalPayload(workflow.DisbursementPayload{
			Amount:        amt,
			TransactionID: fmt.Sprintf("TXN-%d", i),
		})
		require.NoError(t, err)
		events = append(events, workflow.Event{
			Seq:     int64(accepted + 1),
			CaseID:  c.ID,
			Type:    workflow.EventDisbursement,
			Payload: raw,
		})
		disbursed = disbursed.Add(amt)
		accepted++

		sum, err := workflow.DisbursedTotal(events)
		require.NoError(t, err)
		assert.True(t, sum.Equal(disbursed), "derived sum tracks accepted tranches")
		require.True(t, sum.LessThanOrEqual(total), "cap breached after %d accepted tranches", accepted)
	}
	require.Greater(t, accepted, 0, "the sequence should accept at least one tranche")
}

func TestLedger_CorruptDisbursementPayloadSurfaces(t *testing.T) {
	events := []workflow.Event{{
		Seq:     1,
		CaseID:  "c-bad",
		Type:    workflow.EventDisbursement,
		Payload: json.RawMessage(`{"amount": `),
	}}
	_, err := workflow.DisbursedTotal(events)
	assert.ErrorIs(t, err, workflow.ErrStorage)
}

// =============================================================================
// TREASURY RECONCILIATION
// =============================================================================

// shortfallTreasury passes the pre-commit check but fails every debit, the
// shape of a pool drained between check and commit by a racing tranche.
type shortfallTreasury struct {
	debits int
}

func (s *shortfallTreasury) CheckFunds(context.Context, workflow.Jurisdiction, decimal.Decimal) error {
	return nil
}

func (s *shortfallTreasury) Debit(context.Context, workflow.Jurisdiction, decimal.Decimal, string) error {
	s.debits++
	return workflow.ErrInsufficientFunds
}

func TestLedger_FailedPoolDebitLeavesReconciliationMarker(t *testing.T) {
	// GIVEN a pool whose balance vanishes between the check and the debit
	// WHEN a tranche is disbursed
	// THEN the transition still commits, the timeline gains a reconciliation
	//      marker naming the transaction, and the marker never counts toward
	//      the disbursed sum
	ts := &shortfallTreasury{}
	eng, mem := newTestEngine(t, workflow.WithTreasury(ts))
	ctx := context.Background()
	id := caseAtTranche(t, eng, "FIR-700/2026", "250000")

	res, err := disburse(eng, id, money("125000"), "TXN-1")
	require.NoError(t, err)
	assert.Equal(t, stageFinalTranche, res.Stage)
	assert.Equal(t, 1, ts.debits)

	events, err := mem.ListEvents(ctx, id)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, workflow.EventReconciliation, last.Type)
	assert.Equal(t, stageFinalTranche, last.StageAtEvent)

	var p workflow.ReconciliationPayload
	require.NoError(t, json.Unmarshal(last.Payload, &p))
	assert.Equal(t, "TXN-1", p.TransactionID)
	assert.True(t, p.Amount.Equal(money("125000")))
	assert.NotEmpty(t, p.Reason)

	sum, err := workflow.DisbursedTotal(events)
	require.NoError(t, err)
	assert.True(t, sum.Equal(money("125000")), "marker does not inflate the disbursed sum")
}
