package marriage_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpcr/caseflow/marriage"
	"github.com/openpcr/caseflow/registry"
	"github.com/openpcr/caseflow/workflow"
	"github.com/openpcr/caseflow/workflow/store"
)

// =============================================================================
// FIXTURES
// =============================================================================

const (
	identityA = "111122223333"
	identityB = "444455556666"
	identityC = "777788889999"
)

func citizen(id string) workflow.Actor {
	return workflow.Actor{
		ID:   id,
		Role: workflow.RoleCitizen,
		Jurisdiction: workflow.Jurisdiction{
			Region: "MH", SubRegion: "Pune",
		},
	}
}

type testIncentive struct {
	svc    *marriage.Service
	engine *workflow.Engine
	store  *store.Memory
	reg    *registry.Memory
}

func newTestIncentive(t *testing.T) *testIncentive {
	t.Helper()
	mem := store.NewMemory()
	eng, err := workflow.NewEngine(marriage.NewDefinition(), mem)
	require.NoError(t, err)
	reg := registry.NewMemory()
	for _, id := range []string{identityA, identityB, identityC} {
		reg.AddIdentity(id)
	}
	return &testIncentive{
		svc:    marriage.NewService(eng, mem, reg),
		engine: eng,
		store:  mem,
		reg:    reg,
	}
}

func (ti *testIncentive) apply(applicant, a, b string) (*workflow.SubmitResult, error) {
	return ti.svc.Submit(context.Background(), marriage.SubmitInput{
		Actor:    citizen(applicant),
		PartnerA: a,
		PartnerB: b,
	})
}

// completeCase drives an application through to payout.
func (ti *testIncentive) completeCase(t *testing.T, id workflow.CaseID) {
	t.Helper()
	ctx := context.Background()
	tribal := workflow.Actor{ID: "to-1", Role: workflow.RoleTribalOfficer,
		Jurisdiction: workflow.Jurisdiction{Region: "MH", SubRegion: "Pune"}}
	collector := workflow.Actor{ID: "dc-1", Role: workflow.RoleDistrictCollector,
		Jurisdiction: workflow.Jurisdiction{Region: "MH", SubRegion: "Pune"}}
	nodal := workflow.Actor{ID: "sno-1", Role: workflow.RoleStateNodalOfficer,
		Jurisdiction: workflow.Jurisdiction{Region: "MH"}}
	pfms := workflow.Actor{ID: "pfms-1", Role: workflow.RolePFMSOfficer,
		Jurisdiction: workflow.Jurisdiction{Region: "MH"}}

	for _, actor := range []workflow.Actor{tribal, collector, nodal} {
		_, err := ti.engine.Transition(ctx, workflow.TransitionRequest{
			CaseID: id, Actor: actor, Action: workflow.ActionApprove,
		})
		require.NoError(t, err)
	}
	res, err := ti.engine.Transition(ctx, workflow.TransitionRequest{
		CaseID: id, Actor: pfms, Action: workflow.ActionDisburse,
		Disbursement: &workflow.DisbursementPayload{
			Amount:        marriage.Grant,
			TransactionID: "PFMS-TXN-1",
		},
	})
	require.NoError(t, err)
	require.Equal(t, workflow.StatusCompleted, res.Status)
}

// =============================================================================
// APPLICATION CHECKS
// =============================================================================

func TestMarriage_ApplicationCreatesCase(t *testing.T) {
	// GIVEN a registered couple, one of whom applies
	// WHEN the application goes in
	// THEN a case is created keyed on the normalized couple pair, carrying
	//      both identities as fields
	ti := newTestIncentive(t)

	res, err := ti.apply(identityA, identityA, identityB)
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, marriage.StageTribalReview, res.Stage)

	c, err := ti.store.GetCase(context.Background(), res.CaseID)
	require.NoError(t, err)
	assert.Equal(t, marriage.CoupleKey(identityA, identityB), c.NaturalKey)
	assert.Equal(t, identityA, c.Fields[marriage.FieldPartnerA])
	assert.Equal(t, identityB, c.Fields[marriage.FieldPartnerB])
}

func TestMarriage_ApplicantMustBeAPartner(t *testing.T) {
	ti := newTestIncentive(t)

	_, err := ti.apply(identityC, identityA, identityB)
	assert.ErrorIs(t, err, workflow.ErrForbidden)
	assert.ErrorIs(t, err, marriage.ErrNotAPartner)
}

func TestMarriage_IdentityFormatValidated(t *testing.T) {
	ti := newTestIncentive(t)

	tests := []struct{ a, b string }{
		{"12345", identityB},          // too short
		{identityA, "44445555666X"},   // non-digit
		{identityA, identityA},        // partners must differ
		{"", identityB},               // missing
	}
	for _, tt := range tests {
		_, err := ti.apply(identityA, tt.a, tt.b)
		assert.ErrorIs(t, err, workflow.ErrValidation, "a=%q b=%q", tt.a, tt.b)
	}
}

func TestMarriage_UnknownIdentityRejected(t *testing.T) {
	ti := newTestIncentive(t)
	unknown := "000000000000"

	_, err := ti.apply(identityA, identityA, unknown)
	assert.ErrorIs(t, err, workflow.ErrValidation)
}

// =============================================================================
// DUPLICATE COUPLES & DOUBLE BENEFIT
// =============================================================================

func TestMarriage_DuplicateCoupleConflictsInEitherOrder(t *testing.T) {
	// GIVEN one spouse already has a live application for the couple
	// WHEN the other spouse applies with the pair written the other way
	// THEN the normalized couple key collides and the application conflicts
	ti := newTestIncentive(t)

	_, err := ti.apply(identityA, identityA, identityB)
	require.NoError(t, err)

	_, err = ti.apply(identityB, identityB, identityA)
	assert.ErrorIs(t, err, workflow.ErrDuplicateNaturalKey)
}

func TestMarriage_SameSpouseRetryIsIdempotent(t *testing.T) {
	ti := newTestIncentive(t)

	first, err := ti.apply(identityA, identityA, identityB)
	require.NoError(t, err)
	second, err := ti.apply(identityA, identityB, identityA)
	require.NoError(t, err)

	assert.Equal(t, first.CaseID, second.CaseID)
	assert.False(t, second.Created)
}

func TestMarriage_BenefitPaidOncePerPerson(t *testing.T) {
	// GIVEN a completed incentive case for one couple
	// WHEN either spouse appears in a new application, with anyone
	// THEN the application is refused
	ti := newTestIncentive(t)

	res, err := ti.apply(identityA, identityA, identityB)
	require.NoError(t, err)
	ti.completeCase(t, res.CaseID)

	_, err = ti.apply(identityA, identityA, identityC)
	assert.ErrorIs(t, err, workflow.ErrDuplicateNaturalKey)

	_, err = ti.apply(identityC, identityC, identityB)
	assert.ErrorIs(t, err, workflow.ErrDuplicateNaturalKey)
}

func TestMarriage_RejectedCaseDoesNotBlockReapplication(t *testing.T) {
	// A rejection is terminal for the case but not for the couple.
	ti := newTestIncentive(t)
	ctx := context.Background()

	res, err := ti.apply(identityA, identityA, identityB)
	require.NoError(t, err)
	_, err = ti.engine.Transition(ctx, workflow.TransitionRequest{
		CaseID: res.CaseID,
		Actor: workflow.Actor{ID: "to-1", Role: workflow.RoleTribalOfficer,
			Jurisdiction: workflow.Jurisdiction{Region: "MH", SubRegion: "Pune"}},
		Action:    workflow.ActionReject,
		Rejection: &workflow.RejectionPayload{Reason: "certificate invalid"},
	})
	require.NoError(t, err)

	again, err := ti.apply(identityA, identityA, identityB)
	require.NoError(t, err)
	assert.True(t, again.Created)
	assert.NotEqual(t, res.CaseID, again.CaseID)
}

// =============================================================================
// GRANT AMOUNT
// =============================================================================

func TestMarriage_ApprovalSetsTheFixedGrant(t *testing.T) {
	// The tribal approval needs no amount; the definition suggests the
	// configured grant.
	ti := newTestIncentive(t)
	ctx := context.Background()

	res, err := ti.apply(identityA, identityA, identityB)
	require.NoError(t, err)

	_, err = ti.engine.Transition(ctx, workflow.TransitionRequest{
		CaseID: res.CaseID,
		Actor: workflow.Actor{ID: "to-1", Role: workflow.RoleTribalOfficer,
			Jurisdiction: workflow.Jurisdiction{Region: "MH", SubRegion: "Pune"}},
		Action: workflow.ActionApprove,
	})
	require.NoError(t, err)

	c, err := ti.store.GetCase(ctx, res.CaseID)
	require.NoError(t, err)
	require.NotNil(t, c.ApprovedTotal)
	assert.True(t, c.ApprovedTotal.Equal(decimal.NewFromInt(250000)))
}

func TestMarriage_CoupleKeyIsOrderInsensitive(t *testing.T) {
	assert.Equal(t,
		marriage.CoupleKey(identityA, identityB),
		marriage.CoupleKey(identityB, identityA))
	assert.Equal(t, identityA+":"+identityB, marriage.CoupleKey(identityB, identityA))
}
