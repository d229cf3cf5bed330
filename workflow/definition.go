/*
definition.go - Static stage and role tables per case type

PURPOSE:
  A Definition is the complete, finite description of one case type's
  workflow: the ordered stage chain, which role acts on each stage, where
  money moves, and which roles may reject or send a case back. It replaces
  the source system's runtime string-keyed role dispatch with a table that
  is validated once at startup.

INVARIANTS:
  - The stage chain is linear; the only backward edge is the correction
    reset to the applicant stage, and the only applicant edge forward is
    resubmit to the first review stage.
  - Every pending role on a stage has an entry in the role table.
  - Exactly one stage sets the approved total, and it does so on approval.

SEE ALSO:
  - atrocity/workflow.go, marriage/workflow.go: the two concrete tables
  - engine.go: consumes the table, never bypasses it
*/
package workflow

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RULES - per-stage action effects
// =============================================================================

// ApproveRule describes what an approval at a stage does.
type ApproveRule struct {
	Next int
	// SetsTotal marks the single stage whose approval writes ApprovedTotal.
	SetsTotal bool
}

// DisburseRule describes a tranche released at a stage.
type DisburseRule struct {
	Next int
	// Percent is the expected share of the approved total for this tranche.
	// Informational; the ledger invariant is the hard limit.
	Percent decimal.Decimal
	// Final marks the tranche that completes the case.
	Final bool
}

// DecisionRule describes a judgment-recorded action. If Next equals the
// stage's own index the action appends an event without moving the case.
type DecisionRule struct {
	Next int
}

// =============================================================================
// STAGE & ROLE TABLES
// =============================================================================

// StageDef is one row of the stage chain.
type StageDef struct {
	Name    string
	Pending Role // role expected to act; empty on terminal stages

	Approve         *ApproveRule
	Disburse        *DisburseRule
	Decision        *DecisionRule
	AllowCorrection bool
}

// RoleSpec is one row of the role table: where a role may act, what it may
// do there, and what jurisdiction scope its assignment pins.
type RoleSpec struct {
	Scope   ScopeKind
	Actions []Action
	Stages  []int
	// StageScoped additionally restricts the role's read/act authority to
	// its stage set (PFMS officers only see fund-release stages).
	StageScoped bool
	// RejectStages lists the stages this role may reject from, independent of
	// whose turn it is. Empty means the role cannot reject.
	RejectStages []int
}

func (rs RoleSpec) allows(a Action) bool {
	for _, x := range rs.Actions {
		if x == a {
			return true
		}
	}
	return false
}

func (rs RoleSpec) actsAt(stage int) bool {
	for _, s := range rs.Stages {
		if s == stage {
			return true
		}
	}
	return false
}

func (rs RoleSpec) rejectsAt(stage int) bool {
	for _, s := range rs.RejectStages {
		if s == stage {
			return true
		}
	}
	return false
}

// Definition is the full static table for one case type.
type Definition struct {
	ID   string
	Name string

	// Applicant is the role that files and resubmits cases of this type.
	Applicant Role

	Stages []StageDef
	Roles  map[Role]RoleSpec

	// DraftStage is where a draft waits with the applicant; SubmitStage is
	// where a final submission (or resubmission) lands.
	DraftStage  int
	SubmitStage int

	// SuggestTotal proposes an approved total when the officer approving at
	// the total-setting stage supplies none. Optional; without it an
	// approval with no amount is a validation error.
	SuggestTotal func(c *Case) (decimal.Decimal, error)
}

// Stage returns the table row for an index. Callers must have validated the
// definition; out-of-range access is a programming error.
func (d *Definition) Stage(i int) StageDef { return d.Stages[i] }

// FinalStage returns the terminal stage index.
func (d *Definition) FinalStage() int { return len(d.Stages) - 1 }

// Spec returns the role table entry, if any.
func (d *Definition) Spec(r Role) (RoleSpec, bool) {
	rs, ok := d.Roles[r]
	return rs, ok
}

// Validate checks the table once at startup so the engine can trust it.
func (d *Definition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("definition: missing id")
	}
	if len(d.Stages) < 2 {
		return fmt.Errorf("definition %s: need at least a review stage and a terminal stage", d.ID)
	}
	if d.Applicant == "" {
		return fmt.Errorf("definition %s: missing applicant role", d.ID)
	}
	if d.SubmitStage <= d.DraftStage || d.SubmitStage >= len(d.Stages) {
		return fmt.Errorf("definition %s: submit stage %d out of order", d.ID, d.SubmitStage)
	}

	totalSetters := 0
	for i, st := range d.Stages {
		if st.Pending == "" {
			if i != d.FinalStage() && i != d.DraftStage {
				return fmt.Errorf("definition %s: stage %d has no pending role but is not terminal", d.ID, i)
			}
		} else if st.Pending != d.Applicant {
			if _, ok := d.Roles[st.Pending]; !ok {
				return fmt.Errorf("definition %s: stage %d pending role %q has no role table entry", d.ID, i, st.Pending)
			}
		}
		if st.Approve != nil {
			if st.Approve.Next <= i || st.Approve.Next > d.FinalStage() {
				return fmt.Errorf("definition %s: stage %d approve target %d not forward", d.ID, i, st.Approve.Next)
			}
			if st.Approve.SetsTotal {
				totalSetters++
			}
		}
		if st.Disburse != nil {
			if st.Disburse.Next <= i || st.Disburse.Next > d.FinalStage() {
				return fmt.Errorf("definition %s: stage %d disburse target %d not forward", d.ID, i, st.Disburse.Next)
			}
			if st.Disburse.Final && st.Disburse.Next != d.FinalStage() {
				return fmt.Errorf("definition %s: stage %d final tranche must complete the case", d.ID, i)
			}
		}
		if st.Decision != nil {
			if st.Decision.Next < i || st.Decision.Next > d.FinalStage() {
				return fmt.Errorf("definition %s: stage %d decision target %d out of range", d.ID, i, st.Decision.Next)
			}
		}
	}
	if totalSetters != 1 {
		return fmt.Errorf("definition %s: approved total must be set at exactly one stage, found %d", d.ID, totalSetters)
	}

	for role, rs := range d.Roles {
		for _, s := range append(append([]int{}, rs.Stages...), rs.RejectStages...) {
			if s < 0 || s > d.FinalStage() {
				return fmt.Errorf("definition %s: role %q references stage %d out of range", d.ID, role, s)
			}
		}
		if len(rs.Actions) == 0 {
			return fmt.Errorf("definition %s: role %q allows no actions", d.ID, role)
		}
	}
	return nil
}
