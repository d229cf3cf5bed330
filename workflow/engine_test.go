package workflow_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpcr/caseflow/workflow"
	"github.com/openpcr/caseflow/workflow/store"
)

// =============================================================================
// APPROVALS
// =============================================================================

func TestEngine_ApproveAdvancesStage(t *testing.T) {
	// GIVEN a submitted case waiting at the first review stage
	// WHEN the first reviewer approves with an approved total
	// THEN the case advances one stage, the pending role moves to the next
	//      reviewer, and exactly one approval event is appended
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	id := submitCase(t, eng, "FIR-001/2026")

	res, err := approve(eng, id, reviewerOne(), moneyP("250000"))
	require.NoError(t, err)

	assert.Equal(t, stageSecondReview, res.Stage)
	assert.Equal(t, roleReviewerTwo, res.PendingRole)
	assert.Equal(t, workflow.StatusUnderReview, res.Status)
	assert.Equal(t, workflow.EventApproval, res.EventType)

	c, err := eng.GetCase(ctx, id, reviewerTwo())
	require.NoError(t, err)
	require.NotNil(t, c.ApprovedTotal)
	assert.True(t, c.ApprovedTotal.Equal(money("250000")), "approved total recorded on the case")

	events, err := eng.Timeline(ctx, id, reviewerTwo())
	require.NoError(t, err)
	require.Len(t, events, 2, "submission + approval")
	assert.Equal(t, workflow.EventSubmission, events[0].Type)
	assert.Equal(t, workflow.EventApproval, events[1].Type)
	assert.Equal(t, stageFirstReview, events[1].StageAtEvent, "approval recorded against the stage it happened at")

	var p workflow.ApprovalPayload
	require.NoError(t, json.Unmarshal(events[1].Payload, &p))
	require.NotNil(t, p.ApprovedTotal)
	assert.True(t, p.ApprovedTotal.Equal(money("250000")))
}

func TestEngine_ApproveWithoutTotalAndNoSuggestionFails(t *testing.T) {
	// GIVEN a definition with no suggested-total hook
	// WHEN the total-setting approval carries no amount
	// THEN the transition is a validation error and nothing moves
	eng, _ := newTestEngine(t)
	id := submitCase(t, eng, "FIR-002/2026")

	_, err := approve(eng, id, reviewerOne(), nil)
	assert.ErrorIs(t, err, workflow.ErrValidation)

	c, err := eng.GetCase(context.Background(), id, reviewerOne())
	require.NoError(t, err)
	assert.Equal(t, stageFirstReview, c.Stage)
	assert.Nil(t, c.ApprovedTotal)
}

func TestEngine_StageAtEventIsMonotonicUnderApprovals(t *testing.T) {
	// GIVEN a case approved through both review stages
	// WHEN the timeline is read back
	// THEN stage_at_event strictly increases across the approvals
	eng, _ := newTestEngine(t)
	id := submitCase(t, eng, "FIR-003/2026")

	_, err := approve(eng, id, reviewerOne(), moneyP("100000"))
	require.NoError(t, err)
	_, err = approve(eng, id, reviewerTwo(), nil)
	require.NoError(t, err)

	events, err := eng.Timeline(context.Background(), id, reviewerTwo())
	require.NoError(t, err)
	prev := -1
	for _, ev := range events {
		if ev.Type != workflow.EventApproval {
			continue
		}
		assert.Greater(t, ev.StageAtEvent, prev)
		prev = ev.StageAtEvent
	}
}

// =============================================================================
// CORRECTION LOOP
// =============================================================================

func TestEngine_CorrectionReturnsCaseToApplicant(t *testing.T) {
	// GIVEN a case at the second review stage
	// WHEN the reviewer requests corrections on two fields
	// THEN the case returns to the filing stage with status
	//      CorrectionRequired and the event names exactly those fields
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	id := submitCase(t, eng, "FIR-010/2026")
	_, err := approve(eng, id, reviewerOne(), moneyP("250000"))
	require.NoError(t, err)

	res, err := eng.Transition(ctx, workflow.TransitionRequest{
		CaseID: id,
		Actor:  reviewerTwo(),
		Action: workflow.ActionRequestCorrection,
		Correction: &workflow.CorrectionPayload{
			CorrectionsRequired: []string{"income_certificate", "fir_copy"},
			Comment:             "attachments illegible",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, stageFiling, res.Stage)
	assert.Equal(t, roleApplicant, res.PendingRole)
	assert.Equal(t, workflow.StatusCorrectionRequired, res.Status)

	events, err := eng.Timeline(ctx, id, applicantActor("app-1"))
	require.NoError(t, err)
	last := events[len(events)-1]
	require.Equal(t, workflow.EventCorrectionRequest, last.Type)
	var p workflow.CorrectionPayload
	require.NoError(t, json.Unmarshal(last.Payload, &p))
	assert.Equal(t, []string{"income_certificate", "fir_copy"}, p.CorrectionsRequired)
}

func TestEngine_CorrectionRequiresFieldList(t *testing.T) {
	eng, _ := newTestEngine(t)
	id := submitCase(t, eng, "FIR-011/2026")

	_, err := eng.Transition(context.Background(), workflow.TransitionRequest{
		CaseID:     id,
		Actor:      reviewerOne(),
		Action:     workflow.ActionRequestCorrection,
		Correction: &workflow.CorrectionPayload{Comment: "fix it"},
	})
	assert.ErrorIs(t, err, workflow.ErrValidation)
}

func TestEngine_ResubmitAfterCorrection(t *testing.T) {
	// GIVEN a case bounced back for corrections
	// WHEN the applicant resubmits with one corrected field
	// THEN the case lands at the first review stage as Resubmitted, the
	//      corrected value is merged, and untouched fields survive
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	id := submitCase(t, eng, "FIR-012/2026")
	_, err := eng.Transition(ctx, workflow.TransitionRequest{
		CaseID: id,
		Actor:  reviewerOne(),
		Action: workflow.ActionRequestCorrection,
		Correction: &workflow.CorrectionPayload{
			CorrectionsRequired: []string{"victim_name"},
		},
	})
	require.NoError(t, err)

	res, err := eng.Resubmit(ctx, workflow.ResubmitRequest{
		CaseID: id,
		Actor:  applicantActor("app-1"),
		Fields: map[string]string{"victim_name": "A. Kumari", "ignored": ""},
	})
	require.NoError(t, err)
	assert.Equal(t, stageFirstReview, res.Stage)
	assert.Equal(t, workflow.StatusResubmitted, res.Status)
	assert.Equal(t, roleReviewerOne, res.PendingRole)
	assert.Equal(t, []string{"victim_name"}, res.FieldsUpdated, "empty values are not applied")

	c, err := eng.GetCase(ctx, id, reviewerOne())
	require.NoError(t, err)
	assert.Equal(t, "A. Kumari", c.Fields["victim_name"])
}

func TestEngine_ResubmitRequiresCorrectionStatus(t *testing.T) {
	eng, _ := newTestEngine(t)
	id := submitCase(t, eng, "FIR-013/2026")

	_, err := eng.Resubmit(context.Background(), workflow.ResubmitRequest{
		CaseID: id,
		Actor:  applicantActor("app-1"),
	})
	assert.ErrorIs(t, err, workflow.ErrStageIllegal)
}

func TestEngine_ResubmitByStrangerForbidden(t *testing.T) {
	// GIVEN a case bounced back to its applicant
	// WHEN a different citizen, or a reviewer, tries to resubmit it
	// THEN both get the same Forbidden answer
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	id := submitCase(t, eng, "FIR-014/2026")
	_, err := eng.Transition(ctx, workflow.TransitionRequest{
		CaseID: id,
		Actor:  reviewerOne(),
		Action: workflow.ActionRequestCorrection,
		Correction: &workflow.CorrectionPayload{
			CorrectionsRequired: []string{"victim_name"},
		},
	})
	require.NoError(t, err)

	_, err = eng.Resubmit(ctx, workflow.ResubmitRequest{CaseID: id, Actor: applicantActor("someone-else")})
	assert.ErrorIs(t, err, workflow.ErrForbidden)

	_, err = eng.Resubmit(ctx, workflow.ResubmitRequest{CaseID: id, Actor: reviewerOne()})
	assert.ErrorIs(t, err, workflow.ErrForbidden)
}

// =============================================================================
// GUARDS
// =============================================================================

func TestEngine_UnknownCaseNotFound(t *testing.T) {
	// Existence is checked before authorization, so an unknown id is
	// NotFound even for an actor with no standing at all.
	eng, _ := newTestEngine(t)

	_, err := approve(eng, "no-such-case", workflow.Actor{ID: "x", Role: "Nobody"}, moneyP("1"))
	assert.ErrorIs(t, err, workflow.ErrCaseNotFound)
}

func TestEngine_WrongJurisdictionForbidden(t *testing.T) {
	// GIVEN a case filed in Pune
	// WHEN a first reviewer assigned to Nagpur approves it
	// THEN Forbidden, with no hint that the role itself was right
	eng, _ := newTestEngine(t)
	id := submitCase(t, eng, "FIR-020/2026")

	outsider := reviewerOne()
	outsider.Jurisdiction.SubRegion = "Nagpur"
	_, err := approve(eng, id, outsider, moneyP("250000"))
	assert.ErrorIs(t, err, workflow.ErrForbidden)
}

func TestEngine_WrongRoleForbidden(t *testing.T) {
	// The applicant has standing on the case but no approve verb.
	eng, _ := newTestEngine(t)
	id := submitCase(t, eng, "FIR-021/2026")

	_, err := approve(eng, id, applicantActor("app-1"), moneyP("250000"))
	assert.ErrorIs(t, err, workflow.ErrForbidden)
}

func TestEngine_NotYourTurnForbidden(t *testing.T) {
	// The second reviewer holds the approve verb but the case is still
	// with the first reviewer.
	eng, _ := newTestEngine(t)
	id := submitCase(t, eng, "FIR-022/2026")

	_, err := approve(eng, id, reviewerTwo(), moneyP("250000"))
	assert.ErrorIs(t, err, workflow.ErrForbidden)
}

func TestEngine_ActionIllegalForStage(t *testing.T) {
	// GIVEN a case at a tranche stage, which has no approve rule
	// WHEN a reviewer who may approve elsewhere tries to approve it
	// THEN the answer names the stage problem, not authorization
	eng, _ := newTestEngine(t)
	id := caseAtTranche(t, eng, "FIR-023/2026", "100000")

	_, err := approve(eng, id, reviewerOne(), nil)
	assert.ErrorIs(t, err, workflow.ErrStageIllegal)
}

// =============================================================================
// REJECTION & TERMINAL CASES
// =============================================================================

func TestEngine_RejectTerminatesCase(t *testing.T) {
	// GIVEN a case at the first review stage
	// WHEN the reviewer rejects it with a reason
	// THEN the case keeps its stage, loses its pending role, and refuses
	//      every further transition
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	id := submitCase(t, eng, "FIR-030/2026")

	res, err := eng.Transition(ctx, workflow.TransitionRequest{
		CaseID:    id,
		Actor:     reviewerOne(),
		Action:    workflow.ActionReject,
		Rejection: &workflow.RejectionPayload{Reason: "FIR withdrawn"},
	})
	require.NoError(t, err)
	assert.Equal(t, stageFirstReview, res.Stage)
	assert.Equal(t, workflow.Role(""), res.PendingRole)
	assert.Equal(t, workflow.StatusRejected, res.Status)

	_, err = approve(eng, id, reviewerOne(), moneyP("250000"))
	assert.ErrorIs(t, err, workflow.ErrCaseTerminal)

	_, err = eng.Resubmit(ctx, workflow.ResubmitRequest{CaseID: id, Actor: applicantActor("app-1")})
	assert.ErrorIs(t, err, workflow.ErrCaseTerminal)
}

func TestEngine_RejectRequiresReason(t *testing.T) {
	eng, _ := newTestEngine(t)
	id := submitCase(t, eng, "FIR-031/2026")

	_, err := eng.Transition(context.Background(), workflow.TransitionRequest{
		CaseID: id,
		Actor:  reviewerOne(),
		Action: workflow.ActionReject,
	})
	assert.ErrorIs(t, err, workflow.ErrValidation)
}

func TestEngine_RejectOutsideOwnStageForbidden(t *testing.T) {
	// The first reviewer may only reject from their own review stage.
	eng, _ := newTestEngine(t)
	id := submitCase(t, eng, "FIR-032/2026")
	_, err := approve(eng, id, reviewerOne(), moneyP("250000"))
	require.NoError(t, err)

	_, err = eng.Transition(context.Background(), workflow.TransitionRequest{
		CaseID:    id,
		Actor:     reviewerOne(),
		Action:    workflow.ActionReject,
		Rejection: &workflow.RejectionPayload{Reason: "too late"},
	})
	assert.ErrorIs(t, err, workflow.ErrForbidden)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

// rendezvousStore forces two transitions to read the same case snapshot
// before either commits, so the CAS loser is deterministic.
type rendezvousStore struct {
	*store.Memory
	reads *sync.WaitGroup
}

func (r *rendezvousStore) GetCase(ctx context.Context, id workflow.CaseID) (*workflow.Case, error) {
	c, err := r.Memory.GetCase(ctx, id)
	r.reads.Done()
	r.reads.Wait()
	return c, err
}

func TestEngine_ConcurrentApprovalsExactlyOneWins(t *testing.T) {
	// GIVEN two approvals racing on the same case, both reading stage 1
	// WHEN both try to commit
	// THEN exactly one commits; the loser gets a retryable stage conflict
	//      and the timeline carries a single approval event
	var reads sync.WaitGroup
	reads.Add(2)
	mem := store.NewMemory()
	rs := &rendezvousStore{Memory: mem, reads: &reads}
	eng, err := workflow.NewEngine(testDefinition(), rs)
	require.NoError(t, err)

	id := submitCase(t, eng, "FIR-040/2026")

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := approve(eng, id, reviewerOne(), moneyP("250000"))
			errs <- err
		}()
	}
	first, second := <-errs, <-errs

	var won, lost error
	if first == nil {
		won, lost = first, second
	} else {
		won, lost = second, first
	}
	require.NoError(t, won)
	require.Error(t, lost)
	assert.ErrorIs(t, lost, workflow.ErrStageConflict)
	assert.True(t, workflow.IsRetryable(lost))

	events, err := mem.ListEvents(context.Background(), id)
	require.NoError(t, err)
	approvals := 0
	for _, ev := range events {
		if ev.Type == workflow.EventApproval {
			approvals++
		}
	}
	assert.Equal(t, 1, approvals)

	c, err := mem.GetCase(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, stageSecondReview, c.Stage)
}

func TestEngine_StaleStageUpdateConflicts(t *testing.T) {
	// The store-level CAS: an update carrying a stale expected stage
	// matches nothing and reports a conflict.
	eng, mem := newTestEngine(t)
	id := submitCase(t, eng, "FIR-041/2026")

	err := mem.UpdateTransition(context.Background(), id, stageSecondReview, workflow.CasePatch{
		Stage:       stageFirstTranche,
		PendingRole: roleDisburser,
		Status:      workflow.StatusUnderReview,
	})
	assert.ErrorIs(t, err, workflow.ErrStageConflict)
}
