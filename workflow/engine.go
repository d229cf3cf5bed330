/*
engine.go - Stage transition engine

PURPOSE:
  The sole authority for changing stage/pending_role/status on a case.
  Every mutation runs the same guard chain and commits the case update
  together with exactly one event, atomically. No other component writes a
  case row or an event row.

GUARD ORDER (fixed, evaluated before any mutation):
  1. case exists                       -> ErrCaseNotFound
  2. jurisdiction guard                -> ErrForbidden
  3. role/action in the static table  -> ErrForbidden
  4. case not terminal                 -> ErrCaseTerminal
  5. action legal for current stage    -> ErrStageIllegal / ErrForbidden
  6. payload preconditions (ledger...) -> ErrValidation / ErrLedgerViolation

  A Forbidden answer never reveals whether role or jurisdiction failed.

CONCURRENCY:
  The commit is a conditional update on stage (CAS) plus the event append,
  in one store transaction. Of two racing transitions exactly one wins;
  the loser gets ErrStageConflict, which is safe to retry after re-reading.

SEE ALSO:
  - definition.go: the tables consulted here
  - ledger.go:     the disbursement invariant
  - upsert.go:     case creation (the only other write path, same store tx)
*/
package workflow

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// =============================================================================
// TREASURY COLLABORATOR
// =============================================================================

// Treasury is the fund pool a disbursement draws on. CheckFunds runs before
// the case commit and aborts the transition on shortfall; Debit runs after
// the commit. The event log stays the source of truth for disbursed sums,
// so a failed debit is logged and marked on the timeline for reconciliation
// rather than rolling the case back.
type Treasury interface {
	CheckFunds(ctx context.Context, j Jurisdiction, amount decimal.Decimal) error
	Debit(ctx context.Context, j Jurisdiction, amount decimal.Decimal, ref string) error
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine drives one case type's workflow against a TxStore.
type Engine struct {
	def      *Definition
	store    TxStore
	treasury Treasury
	log      zerolog.Logger
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithTreasury attaches a fund pool checked/debited on disbursements.
func WithTreasury(t Treasury) Option {
	return func(e *Engine) { e.treasury = t }
}

// WithLogger attaches a structured logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine validates the definition and builds an engine over the store.
func NewEngine(def *Definition, store TxStore, opts ...Option) (*Engine, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		def:   def,
		store: store,
		log:   zerolog.Nop(),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Definition exposes the static table (read-only use).
func (e *Engine) Definition() *Definition { return e.def }

// =============================================================================
// TRANSITION
// =============================================================================

// TransitionRequest carries one action against one case. Exactly one of the
// payload members matching the action must be set.
type TransitionRequest struct {
	CaseID CaseID
	Actor  Actor
	Action Action

	Approval     *ApprovalPayload
	Correction   *CorrectionPayload
	Rejection    *RejectionPayload
	Disbursement *DisbursementPayload
	Decision     *DecisionPayload
}

// TransitionResult reports the committed outcome.
type TransitionResult struct {
	CaseID      CaseID
	Stage       int
	PendingRole Role
	Status      Status
	EventType   EventType
}

// Transition runs the full guard chain and commits one transition.
func (e *Engine) Transition(ctx context.Context, req TransitionRequest) (*TransitionResult, error) {
	c, err := e.store.GetCase(ctx, req.CaseID)
	if err != nil {
		return nil, err
	}

	if !Authorized(req.Actor, c, e.def) {
		e.denied(req, c, "jurisdiction")
		return nil, ErrForbidden
	}
	rs, ok := e.def.Spec(req.Actor.Role)
	if !ok || !rs.allows(req.Action) {
		e.denied(req, c, "role-action")
		return nil, ErrForbidden
	}
	if c.Terminal() {
		return nil, fmt.Errorf("%w: case %s is %s", ErrCaseTerminal, c.ID, c.Status)
	}

	patch, ev, err := e.plan(c, rs, req)
	if err != nil {
		return nil, err
	}

	if req.Action == ActionDisburse && e.treasury != nil {
		if err := e.treasury.CheckFunds(ctx, c.Jurisdiction, req.Disbursement.Amount); err != nil {
			return nil, err
		}
	}

	prevStage := c.Stage
	err = e.store.WithTx(ctx, func(tx TxStore) error {
		if req.Action == ActionDisburse {
			// Re-derive the disbursed sum inside the transaction so a racing
			// tranche cannot slip past the cap.
			events, err := tx.ListEvents(ctx, c.ID)
			if err != nil {
				return err
			}
			disbursed, err := DisbursedTotal(events)
			if err != nil {
				return err
			}
			if err := CheckDisbursement(c, disbursed, req.Disbursement.Amount); err != nil {
				return err
			}
		}
		if err := tx.UpdateTransition(ctx, c.ID, prevStage, *patch); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, ev)
	})
	if err != nil {
		return nil, err
	}

	if req.Action == ActionDisburse && e.treasury != nil {
		if err := e.treasury.Debit(ctx, c.Jurisdiction, req.Disbursement.Amount, req.Disbursement.TransactionID); err != nil {
			e.log.Error().Err(err).
				Str("case_id", string(c.ID)).
				Str("txn_id", req.Disbursement.TransactionID).
				Msg("treasury debit failed after committed disbursement; needs reconciliation")
			e.markDebitFailure(ctx, c.ID, patch.Stage, req.Actor, req.Disbursement, err)
		}
	}

	e.log.Info().
		Str("workflow", e.def.ID).
		Str("case_id", string(c.ID)).
		Str("actor", req.Actor.ID).
		Str("role", string(req.Actor.Role)).
		Str("action", string(req.Action)).
		Int("from_stage", prevStage).
		Int("to_stage", patch.Stage).
		Msg("transition committed")

	return &TransitionResult{
		CaseID:      c.ID,
		Stage:       patch.Stage,
		PendingRole: patch.PendingRole,
		Status:      patch.Status,
		EventType:   ev.Type,
	}, nil
}

// markDebitFailure appends a reconciliation marker after a disbursement
// committed but the pool debit did not. Best effort: a marker write failure
// leaves the log line above as the only trace.
func (e *Engine) markDebitFailure(ctx context.Context, id CaseID, stage int, actor Actor, d *DisbursementPayload, cause error) {
	raw, err := MarshalPayload(ReconciliationPayload{
		TransactionID: d.TransactionID,
		Amount:        d.Amount,
		Reason:        cause.Error(),
	})
	if err == nil {
		err = e.store.AppendEvent(ctx, &Event{
			CaseID:       id,
			ActorID:      actor.ID,
			ActorRole:    actor.Role,
			Type:         EventReconciliation,
			StageAtEvent: stage,
			Payload:      raw,
			CreatedAt:    e.now(),
		})
	}
	if err != nil {
		e.log.Error().Err(err).
			Str("case_id", string(id)).
			Msg("writing reconciliation marker failed")
	}
}

// plan resolves stage legality and payload preconditions into the patch and
// event for one action. Pure except for the clock.
func (e *Engine) plan(c *Case, rs RoleSpec, req TransitionRequest) (*CasePatch, *Event, error) {
	st := e.def.Stage(c.Stage)

	var (
		patch   CasePatch
		evType  EventType
		payload any
	)

	switch req.Action {
	case ActionApprove:
		if st.Approve == nil {
			return nil, nil, stageIllegal(req.Action, c.Stage)
		}
		if req.Actor.Role != st.Pending {
			return nil, nil, ErrForbidden
		}
		ap := req.Approval
		if ap == nil {
			ap = &ApprovalPayload{}
		}
		if st.Approve.SetsTotal {
			if c.ApprovedTotal != nil {
				// Re-approval after a correction loop keeps the total; only
				// an attempt to change it is a violation.
				if ap.ApprovedTotal != nil && !ap.ApprovedTotal.Equal(*c.ApprovedTotal) {
					return nil, nil, &TotalAlreadySetError{CaseID: c.ID, Current: *c.ApprovedTotal}
				}
			} else {
				total := ap.ApprovedTotal
				if total == nil {
					if e.def.SuggestTotal == nil {
						return nil, nil, &ValidationError{Field: "approved_total", Message: "required at this stage"}
					}
					suggested, err := e.def.SuggestTotal(c)
					if err != nil {
						return nil, nil, err
					}
					total = &suggested
				}
				if err := CheckSetTotal(c, *total); err != nil {
					return nil, nil, err
				}
				patch.ApprovedTotal = total
				ap = &ApprovalPayload{Comment: ap.Comment, ApprovedTotal: total}
			}
		}
		next := st.Approve.Next
		patch.Stage = next
		patch.PendingRole = e.def.Stage(next).Pending
		patch.Status = StatusUnderReview
		evType, payload = EventApproval, ap

	case ActionRequestCorrection:
		if !st.AllowCorrection {
			return nil, nil, stageIllegal(req.Action, c.Stage)
		}
		if req.Actor.Role != st.Pending {
			return nil, nil, ErrForbidden
		}
		if req.Correction == nil || len(req.Correction.CorrectionsRequired) == 0 {
			return nil, nil, &ValidationError{Field: "corrections_required", Message: "must list at least one field"}
		}
		patch.Stage = e.def.DraftStage
		patch.PendingRole = e.def.Applicant
		patch.Status = StatusCorrectionRequired
		evType, payload = EventCorrectionRequest, req.Correction

	case ActionReject:
		if !rs.rejectsAt(c.Stage) {
			return nil, nil, ErrForbidden
		}
		if req.Rejection == nil || req.Rejection.Reason == "" {
			return nil, nil, &ValidationError{Field: "reason", Message: "required"}
		}
		patch.Stage = c.Stage
		patch.PendingRole = ""
		patch.Status = StatusRejected
		evType, payload = EventRejection, req.Rejection

	case ActionDisburse:
		if st.Disburse == nil {
			return nil, nil, stageIllegal(req.Action, c.Stage)
		}
		if req.Actor.Role != st.Pending {
			return nil, nil, ErrForbidden
		}
		d := req.Disbursement
		if d == nil {
			return nil, nil, &ValidationError{Field: "disbursement", Message: "payload required"}
		}
		if d.TransactionID == "" {
			return nil, nil, &ValidationError{Field: "transaction_id", Message: "required"}
		}
		if d.Amount.LessThanOrEqual(decimal.Zero) {
			return nil, nil, &ValidationError{Field: "amount", Message: "must be positive"}
		}
		if d.PercentOfTotal.IsZero() {
			d.PercentOfTotal = st.Disburse.Percent
		}
		d.Final = st.Disburse.Final
		next := st.Disburse.Next
		patch.Stage = next
		if st.Disburse.Final {
			patch.PendingRole = ""
			patch.Status = StatusCompleted
		} else {
			patch.PendingRole = e.def.Stage(next).Pending
			patch.Status = StatusUnderReview
		}
		evType, payload = EventDisbursement, d

	case ActionRecordDecision:
		if st.Decision == nil {
			return nil, nil, stageIllegal(req.Action, c.Stage)
		}
		if !rs.actsAt(c.Stage) {
			return nil, nil, ErrForbidden
		}
		if req.Decision == nil || req.Decision.Verdict == "" {
			return nil, nil, &ValidationError{Field: "verdict", Message: "required"}
		}
		next := st.Decision.Next
		patch.Stage = next
		if next == c.Stage {
			// event-only: stage and owner unchanged, the CAS still serializes
			patch.PendingRole = c.PendingRole
			patch.Status = c.Status
		} else {
			patch.PendingRole = e.def.Stage(next).Pending
			patch.Status = StatusUnderReview
		}
		evType, payload = EventJudgmentRecorded, req.Decision

	default:
		return nil, nil, stageIllegal(req.Action, c.Stage)
	}

	raw, err := MarshalPayload(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: encoding %s payload: %v", ErrStorage, evType, err)
	}
	ev := &Event{
		CaseID:       c.ID,
		ActorID:      req.Actor.ID,
		ActorRole:    req.Actor.Role,
		Type:         evType,
		StageAtEvent: c.Stage,
		Payload:      raw,
		CreatedAt:    e.now(),
	}
	return &patch, ev, nil
}

func stageIllegal(a Action, stage int) error {
	return fmt.Errorf("%w: %s at stage %d", ErrStageIllegal, a, stage)
}

func (e *Engine) denied(req TransitionRequest, c *Case, what string) {
	e.log.Warn().
		Str("workflow", e.def.ID).
		Str("case_id", string(c.ID)).
		Str("actor", req.Actor.ID).
		Str("role", string(req.Actor.Role)).
		Str("action", string(req.Action)).
		Str("check", what).
		Msg("transition denied")
}

// =============================================================================
// RESUBMIT
// =============================================================================

// ResubmitRequest carries corrected fields/files from the applicant. Only
// non-empty values are applied; omitted fields keep their stored value.
type ResubmitRequest struct {
	CaseID   CaseID
	Actor    Actor
	Fields   map[string]string
	FileRefs map[string]string
}

// ResubmitResult reports the committed outcome plus which keys changed.
type ResubmitResult struct {
	CaseID        CaseID
	Stage         int
	PendingRole   Role
	Status        Status
	FieldsUpdated []string
	FilesUpdated  []string
}

// Resubmit returns a bounced-back case to the first review stage.
func (e *Engine) Resubmit(ctx context.Context, req ResubmitRequest) (*ResubmitResult, error) {
	c, err := e.store.GetCase(ctx, req.CaseID)
	if err != nil {
		return nil, err
	}
	// Station-scoped applicant roles cover colleagues at the same posting,
	// so the identity check cannot be left to the jurisdiction guard alone.
	if req.Actor.Role != e.def.Applicant || req.Actor.ID != c.ApplicantID || !Authorized(req.Actor, c, e.def) {
		return nil, ErrForbidden
	}
	if c.Terminal() {
		return nil, fmt.Errorf("%w: case %s is %s", ErrCaseTerminal, c.ID, c.Status)
	}
	if c.Status != StatusCorrectionRequired {
		return nil, fmt.Errorf("%w: resubmit requires status %s, case is %s",
			ErrStageIllegal, StatusCorrectionRequired, c.Status)
	}

	fields := nonEmpty(req.Fields)
	files := nonEmpty(req.FileRefs)

	patch := CasePatch{
		Stage:       e.def.SubmitStage,
		PendingRole: e.def.Stage(e.def.SubmitStage).Pending,
		Status:      StatusResubmitted,
		Fields:      fields,
		FileRefs:    files,
	}
	payload := SubmissionPayload{
		NaturalKey: c.NaturalKey,
		Resubmit:   true,
		Fields:     sortedKeys(fields),
		Files:      sortedKeys(files),
	}
	raw, err := MarshalPayload(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding resubmission payload: %v", ErrStorage, err)
	}
	ev := &Event{
		CaseID:       c.ID,
		ActorID:      req.Actor.ID,
		ActorRole:    req.Actor.Role,
		Type:         EventSubmission,
		StageAtEvent: c.Stage,
		Payload:      raw,
		CreatedAt:    e.now(),
	}

	prevStage := c.Stage
	err = e.store.WithTx(ctx, func(tx TxStore) error {
		if err := tx.UpdateTransition(ctx, c.ID, prevStage, patch); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, ev)
	})
	if err != nil {
		return nil, err
	}

	e.log.Info().
		Str("workflow", e.def.ID).
		Str("case_id", string(c.ID)).
		Str("actor", req.Actor.ID).
		Int("from_stage", prevStage).
		Int("to_stage", patch.Stage).
		Msg("case resubmitted")

	return &ResubmitResult{
		CaseID:        c.ID,
		Stage:         patch.Stage,
		PendingRole:   patch.PendingRole,
		Status:        patch.Status,
		FieldsUpdated: payload.Fields,
		FilesUpdated:  payload.Files,
	}, nil
}

// =============================================================================
// READS - jurisdiction-guarded
// =============================================================================

// GetCase returns the case if the actor's scope covers it.
func (e *Engine) GetCase(ctx context.Context, id CaseID, actor Actor) (*Case, error) {
	c, err := e.store.GetCase(ctx, id)
	if err != nil {
		return nil, err
	}
	if !Authorized(actor, c, e.def) {
		return nil, ErrForbidden
	}
	return c, nil
}

// Timeline returns the case's events ascending by (created_at, seq).
func (e *Engine) Timeline(ctx context.Context, id CaseID, actor Actor) ([]Event, error) {
	c, err := e.store.GetCase(ctx, id)
	if err != nil {
		return nil, err
	}
	if !Authorized(actor, c, e.def) {
		return nil, ErrForbidden
	}
	return e.store.ListEvents(ctx, id)
}

// ListCases returns the cases within the actor's scope, filtered to the
// actor's stage set when the role is stage-scoped.
func (e *Engine) ListCases(ctx context.Context, actor Actor) ([]*Case, error) {
	rs, ok := e.def.Spec(actor.Role)
	if !ok {
		return nil, ErrForbidden
	}

	f := ListFilter{WorkflowID: e.def.ID}
	switch rs.Scope {
	case ScopeApplicant:
		f.ApplicantID = actor.ID
	case ScopeRegion:
		f.Region = actor.Jurisdiction.Region
	case ScopeSubRegion:
		f.Region = actor.Jurisdiction.Region
		f.SubRegion = actor.Jurisdiction.SubRegion
	case ScopeStation:
		f.Region = actor.Jurisdiction.Region
		f.SubRegion = actor.Jurisdiction.SubRegion
		f.Station = actor.Jurisdiction.Station
	}
	if rs.StageScoped {
		f.Stages = rs.Stages
	}
	return e.store.ListCases(ctx, f)
}

// =============================================================================
// HELPERS
// =============================================================================

func nonEmpty(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if v != "" {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
