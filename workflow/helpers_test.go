package workflow_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/openpcr/caseflow/workflow"
	"github.com/openpcr/caseflow/workflow/store"
)

// Shared fixtures for the workflow package tests: a small two-reviewer,
// two-tranche definition exercising every rule kind except decisions
// (covered by the atrocity package tests).

const (
	roleApplicant   = workflow.Role("Applicant")
	roleReviewerOne = workflow.Role("First Reviewer")
	roleReviewerTwo = workflow.Role("Second Reviewer")
	roleDisburser   = workflow.Role("Fund Officer")
)

const (
	stageFiling = iota
	stageFirstReview
	stageSecondReview
	stageFirstTranche
	stageFinalTranche
	stageDone
)

func testDefinition() *workflow.Definition {
	half := decimal.NewFromInt(50)
	return &workflow.Definition{
		ID:        "relief-test",
		Name:      "Relief (test)",
		Applicant: roleApplicant,

		DraftStage:  stageFiling,
		SubmitStage: stageFirstReview,

		Stages: []workflow.StageDef{
			{Name: "Filing", Pending: roleApplicant},
			{
				Name:            "First Review",
				Pending:         roleReviewerOne,
				Approve:         &workflow.ApproveRule{Next: stageSecondReview, SetsTotal: true},
				AllowCorrection: true,
			},
			{
				Name:            "Second Review",
				Pending:         roleReviewerTwo,
				Approve:         &workflow.ApproveRule{Next: stageFirstTranche},
				AllowCorrection: true,
			},
			{
				Name:     "First Tranche",
				Pending:  roleDisburser,
				Disburse: &workflow.DisburseRule{Next: stageFinalTranche, Percent: half},
			},
			{
				Name:     "Final Tranche",
				Pending:  roleDisburser,
				Disburse: &workflow.DisburseRule{Next: stageDone, Percent: half, Final: true},
			},
			{Name: "Completed"},
		},

		Roles: map[workflow.Role]workflow.RoleSpec{
			roleApplicant: {
				Scope:   workflow.ScopeApplicant,
				Actions: []workflow.Action{workflow.ActionResubmit},
				Stages:  []int{stageFiling},
			},
			roleReviewerOne: {
				Scope: workflow.ScopeSubRegion,
				Actions: []workflow.Action{
					workflow.ActionApprove, workflow.ActionRequestCorrection, workflow.ActionReject,
				},
				Stages:       []int{stageFirstReview},
				RejectStages: []int{stageFirstReview},
			},
			roleReviewerTwo: {
				Scope: workflow.ScopeSubRegion,
				Actions: []workflow.Action{
					workflow.ActionApprove, workflow.ActionRequestCorrection, workflow.ActionReject,
				},
				Stages:       []int{stageSecondReview},
				RejectStages: []int{stageSecondReview},
			},
			roleDisburser: {
				Scope:       workflow.ScopeRegion,
				Actions:     []workflow.Action{workflow.ActionDisburse},
				Stages:      []int{stageFirstTranche, stageFinalTranche},
				StageScoped: true,
			},
		},
	}
}

func money(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func moneyP(s string) *decimal.Decimal {
	d := money(s)
	return &d
}

func applicantActor(id string) workflow.Actor {
	return workflow.Actor{
		ID:   id,
		Role: roleApplicant,
		Jurisdiction: workflow.Jurisdiction{
			Region: "MH", SubRegion: "Pune", Station: "PS-01",
		},
	}
}

func reviewerOne() workflow.Actor {
	return workflow.Actor{
		ID:           "rev-1",
		Role:         roleReviewerOne,
		Jurisdiction: workflow.Jurisdiction{Region: "MH", SubRegion: "Pune"},
	}
}

func reviewerTwo() workflow.Actor {
	return workflow.Actor{
		ID:           "rev-2",
		Role:         roleReviewerTwo,
		Jurisdiction: workflow.Jurisdiction{Region: "MH", SubRegion: "Pune"},
	}
}

func disburser() workflow.Actor {
	return workflow.Actor{
		ID:           "pay-1",
		Role:         roleDisburser,
		Jurisdiction: workflow.Jurisdiction{Region: "MH"},
	}
}

func newTestEngine(t *testing.T, opts ...workflow.Option) (*workflow.Engine, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	eng, err := workflow.NewEngine(testDefinition(), mem, opts...)
	require.NoError(t, err)
	return eng, mem
}

// submitCase files a fresh case for applicant "app-1" and returns its id.
// The case lands at the first review stage.
func submitCase(t *testing.T, eng *workflow.Engine, key string) workflow.CaseID {
	t.Helper()
	res, err := eng.CreateOrAdvance(context.Background(), workflow.SubmitRequest{
		Actor:      applicantActor("app-1"),
		NaturalKey: key,
		Fields:     map[string]string{"victim_name": "A. Kumar"},
	})
	require.NoError(t, err)
	require.True(t, res.Created)
	return res.CaseID
}

func approve(eng *workflow.Engine, id workflow.CaseID, actor workflow.Actor, total *decimal.Decimal) (*workflow.TransitionResult, error) {
	return eng.Transition(context.Background(), workflow.TransitionRequest{
		CaseID:   id,
		Actor:    actor,
		Action:   workflow.ActionApprove,
		Approval: &workflow.ApprovalPayload{ApprovedTotal: total},
	})
}

func disburse(eng *workflow.Engine, id workflow.CaseID, amount decimal.Decimal, txn string) (*workflow.TransitionResult, error) {
	return eng.Transition(context.Background(), workflow.TransitionRequest{
		CaseID: id,
		Actor:  disburser(),
		Action: workflow.ActionDisburse,
		Disbursement: &workflow.DisbursementPayload{
			Amount:        amount,
			TransactionID: txn,
		},
	})
}

// caseAtTranche advances a fresh case to the first tranche stage with the
// given approved total.
func caseAtTranche(t *testing.T, eng *workflow.Engine, key string, total string) workflow.CaseID {
	t.Helper()
	id := submitCase(t, eng, key)
	_, err := approve(eng, id, reviewerOne(), moneyP(total))
	require.NoError(t, err)
	_, err = approve(eng, id, reviewerTwo(), nil)
	require.NoError(t, err)
	return id
}
