/*
Package marriage defines the inter-caste-marriage incentive case type.

PURPOSE:
  A fixed-amount incentive paid to an inter-caste couple. The applicant is
  one of the spouses; the case climbs the same reviewer chain as atrocity
  relief but pays out in a single tranche of the configured grant.

STAGE CHAIN:
  0 application (Citizen drafts/resubmits)
  1 Tribal Officer review     approve sets the total to the grant
  2 District review
  3 State review
  4 payout (100%)             PFMS disburse, completes the case
  5 completed
*/
package marriage

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/openpcr/caseflow/workflow"
)

// WorkflowID identifies marriage-incentive cases in the store.
const WorkflowID = "marriage-incentive"

// Stage indexes.
const (
	StageApplication = iota
	StageTribalReview
	StageDistrictReview
	StageStateReview
	StagePayout
	StageCompleted
)

// Grant is the incentive amount per couple.
var Grant = decimal.NewFromInt(250000)

// NewDefinition builds the marriage-incentive workflow table.
func NewDefinition() *workflow.Definition {
	return &workflow.Definition{
		ID:        WorkflowID,
		Name:      "Inter-Caste Marriage Incentive",
		Applicant: workflow.RoleCitizen,

		DraftStage:  StageApplication,
		SubmitStage: StageTribalReview,

		Stages: []workflow.StageDef{
			{Name: "Application", Pending: workflow.RoleCitizen},
			{
				Name:            "Tribal Officer Review",
				Pending:         workflow.RoleTribalOfficer,
				Approve:         &workflow.ApproveRule{Next: StageDistrictReview, SetsTotal: true},
				AllowCorrection: true,
			},
			{
				Name:            "District Review",
				Pending:         workflow.RoleDistrictCollector,
				Approve:         &workflow.ApproveRule{Next: StageStateReview},
				AllowCorrection: true,
			},
			{
				Name:    "State Review",
				Pending: workflow.RoleStateNodalOfficer,
				Approve: &workflow.ApproveRule{Next: StagePayout},
			},
			{
				Name:     "Payout",
				Pending:  workflow.RolePFMSOfficer,
				Disburse: &workflow.DisburseRule{Next: StageCompleted, Percent: decimal.NewFromInt(100), Final: true},
			},
			{Name: "Completed"},
		},

		Roles: map[workflow.Role]workflow.RoleSpec{
			workflow.RoleCitizen: {
				Scope:   workflow.ScopeApplicant,
				Actions: []workflow.Action{workflow.ActionResubmit},
				Stages:  []int{StageApplication},
			},
			workflow.RoleTribalOfficer: {
				Scope: workflow.ScopeSubRegion,
				Actions: []workflow.Action{
					workflow.ActionApprove, workflow.ActionRequestCorrection, workflow.ActionReject,
				},
				Stages:       []int{StageTribalReview},
				RejectStages: []int{StageTribalReview},
			},
			workflow.RoleDistrictCollector: {
				Scope: workflow.ScopeSubRegion,
				Actions: []workflow.Action{
					workflow.ActionApprove, workflow.ActionRequestCorrection, workflow.ActionReject,
				},
				Stages:       []int{StageDistrictReview},
				RejectStages: []int{StageDistrictReview},
			},
			workflow.RoleStateNodalOfficer: {
				Scope:        workflow.ScopeRegion,
				Actions:      []workflow.Action{workflow.ActionApprove, workflow.ActionReject},
				Stages:       []int{StageStateReview},
				RejectStages: []int{StageStateReview},
			},
			workflow.RolePFMSOfficer: {
				Scope:       workflow.ScopeRegion,
				Actions:     []workflow.Action{workflow.ActionDisburse},
				Stages:      []int{StagePayout},
				StageScoped: true,
			},
		},

		SuggestTotal: func(*workflow.Case) (decimal.Decimal, error) {
			return Grant, nil
		},
	}
}

// CoupleKey normalizes an unordered pair of identity numbers into the
// case's natural key, so either spouse applying yields the same key.
func CoupleKey(a, b string) string {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}
