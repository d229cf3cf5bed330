/*
Package atrocity defines the atrocity-relief case type.

PURPOSE:
  Relief for victims of caste atrocities, keyed by the police FIR number.
  The case climbs Tribal Officer -> District Collector -> State Nodal
  Officer, then pays out in three tranches (25% on approval, 50% after the
  court judgment is recorded, 25% on closure), each released by a PFMS
  officer against the single approved total.

STAGE CHAIN:
  0 filing (Investigation Officer drafts/resubmits)
  1 Tribal Officer review        approve sets the total; correction; reject
  2 District review              approve; correction; reject
  3 State review                 approve; reject
  4 first tranche (25%)          PFMS disburse
  5 judgment                     District Collector records the verdict
  6 second tranche (50%)         PFMS disburse; late judgment papers accepted
  7 final tranche (25%)          PFMS disburse, completes the case
  8 completed

SEE ALSO:
  - workflow/definition.go: the table types consumed here
  - compensation/schedule.go: the suggested-total source
*/
package atrocity

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/openpcr/caseflow/compensation"
	"github.com/openpcr/caseflow/workflow"
)

// WorkflowID identifies atrocity-relief cases in the store.
const WorkflowID = "atrocity-relief"

// FieldSections is the case field carrying the comma-separated act sections.
const FieldSections = "act_sections"

// Stage indexes, named for readability in tests and services.
const (
	StageFiling = iota
	StageTribalReview
	StageDistrictReview
	StageStateReview
	StageFirstTranche
	StageJudgment
	StageSecondTranche
	StageFinalTranche
	StageCompleted
)

// NewDefinition builds the atrocity-relief workflow table. The schedule
// supplies the suggested approved total from the case's act sections.
func NewDefinition(sched *compensation.Schedule) *workflow.Definition {
	pct := decimal.NewFromInt

	return &workflow.Definition{
		ID:        WorkflowID,
		Name:      "Atrocity Relief",
		Applicant: workflow.RoleInvestigationOfficer,

		DraftStage:  StageFiling,
		SubmitStage: StageTribalReview,

		Stages: []workflow.StageDef{
			{Name: "Filing", Pending: workflow.RoleInvestigationOfficer},
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
				Approve: &workflow.ApproveRule{Next: StageFirstTranche},
			},
			{
				Name:     "First Tranche",
				Pending:  workflow.RolePFMSOfficer,
				Disburse: &workflow.DisburseRule{Next: StageJudgment, Percent: pct(25)},
			},
			{
				Name:     "Judgment",
				Pending:  workflow.RoleDistrictCollector,
				Decision: &workflow.DecisionRule{Next: StageSecondTranche},
			},
			{
				Name:     "Second Tranche",
				Pending:  workflow.RolePFMSOfficer,
				Disburse: &workflow.DisburseRule{Next: StageFinalTranche, Percent: pct(50)},
				// Late judgment paperwork attaches without moving the case.
				Decision: &workflow.DecisionRule{Next: StageSecondTranche},
			},
			{
				Name:     "Final Tranche",
				Pending:  workflow.RolePFMSOfficer,
				Disburse: &workflow.DisburseRule{Next: StageCompleted, Percent: pct(25), Final: true},
			},
			{Name: "Completed"},
		},

		Roles: map[workflow.Role]workflow.RoleSpec{
			workflow.RoleInvestigationOfficer: {
				Scope:   workflow.ScopeStation,
				Actions: []workflow.Action{workflow.ActionResubmit},
				Stages:  []int{StageFiling},
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
					workflow.ActionApprove, workflow.ActionRequestCorrection,
					workflow.ActionReject, workflow.ActionRecordDecision,
				},
				Stages:       []int{StageDistrictReview, StageJudgment, StageSecondTranche},
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
				Stages:      []int{StageFirstTranche, StageSecondTranche, StageFinalTranche},
				StageScoped: true,
			},
		},

		SuggestTotal: func(c *workflow.Case) (decimal.Decimal, error) {
			sections := compensation.ParseSections(c.Fields[FieldSections])
			total, err := sched.TotalFor(sections)
			if err != nil {
				return decimal.Zero, &workflow.ValidationError{
					Field:   FieldSections,
					Message: err.Error(),
				}
			}
			return total, nil
		},
	}
}

// NaturalKey normalizes an FIR number for duplicate detection.
func NaturalKey(firNumber string) string {
	return strings.ToUpper(strings.TrimSpace(firNumber))
}
