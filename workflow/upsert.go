/*
upsert.go - Idempotent case creation

PURPOSE:
  Makes case creation safe to retry. A submission with a natural key that no
  non-terminal case holds inserts a fresh case; a retry by the same
  applicant advances or no-ops; the same key held by someone else's active
  case is a conflict. Duplicate submission events are suppressed by
  checking the event log before appending.

  This is what makes network retries and submit-then-correct-then-resubmit
  flows safe without duplicate rows or duplicate audit events.

DRAFTS:
  A draft stays at the draft stage with status Draft and appends NO
  submission event; only the final submission moves the case to the first
  review stage and writes the submission event. Re-saving a draft merges
  the supplied fields.

SEE ALSO:
  - engine.go: all post-creation mutation
*/
package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// SubmitRequest creates or advances a case for a natural key.
type SubmitRequest struct {
	Actor      Actor
	NaturalKey string
	// Draft saves without submitting: the case stays with the applicant and
	// no submission event is written.
	Draft    bool
	Fields   map[string]string
	FileRefs map[string]string
}

// SubmitResult reports the case the submission landed on.
type SubmitResult struct {
	CaseID      CaseID
	Stage       int
	PendingRole Role
	Status      Status
	Created     bool
}

// CreateOrAdvance is the idempotent entry point for new submissions.
func (e *Engine) CreateOrAdvance(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if req.Actor.Role != e.def.Applicant {
		return nil, ErrForbidden
	}
	if req.NaturalKey == "" {
		return nil, &ValidationError{Field: "natural_key", Message: "required"}
	}

	existing, err := e.store.GetActiveByNaturalKey(ctx, e.def.ID, req.NaturalKey)
	switch {
	case err == nil:
		return e.advanceExisting(ctx, existing, req)
	case errors.Is(err, ErrCaseNotFound):
		return e.createFresh(ctx, req)
	default:
		return nil, err
	}
}

func (e *Engine) createFresh(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	now := e.now()
	c := &Case{
		ID:           CaseID(uuid.NewString()),
		WorkflowID:   e.def.ID,
		NaturalKey:   req.NaturalKey,
		ApplicantID:  req.Actor.ID,
		Jurisdiction: req.Actor.Jurisdiction,
		Fields:       nonEmpty(req.Fields),
		FileRefs:     nonEmpty(req.FileRefs),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if req.Draft {
		c.Stage = e.def.DraftStage
		c.PendingRole = e.def.Applicant
		c.Status = StatusDraft
	} else {
		c.Stage = e.def.SubmitStage
		c.PendingRole = e.def.Stage(e.def.SubmitStage).Pending
		c.Status = StatusSubmitted
	}

	err := e.store.WithTx(ctx, func(tx TxStore) error {
		if err := tx.InsertCase(ctx, c); err != nil {
			return err
		}
		if req.Draft {
			return nil
		}
		ev, err := e.submissionEvent(c, req.Actor, e.def.DraftStage)
		if err != nil {
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
		Bool("draft", req.Draft).
		Msg("case created")

	return &SubmitResult{
		CaseID:      c.ID,
		Stage:       c.Stage,
		PendingRole: c.PendingRole,
		Status:      c.Status,
		Created:     true,
	}, nil
}

func (e *Engine) advanceExisting(ctx context.Context, c *Case, req SubmitRequest) (*SubmitResult, error) {
	// A live case under someone else's name is identity reuse, not a retry.
	if c.ApplicantID != req.Actor.ID {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateNaturalKey, req.NaturalKey)
	}

	stillDraft := c.Stage == e.def.DraftStage && c.Status == StatusDraft

	if !stillDraft || req.Draft {
		// Already submitted (pure retry), or a draft re-save: apply only the
		// supplied substantive fields, never a second submission event.
		if fields, files := nonEmpty(req.Fields), nonEmpty(req.FileRefs); fields != nil || files != nil {
			patch := CasePatch{
				Stage:       c.Stage,
				PendingRole: c.PendingRole,
				Status:      c.Status,
				Fields:      fields,
				FileRefs:    files,
			}
			if stillDraft {
				if err := e.store.UpdateTransition(ctx, c.ID, c.Stage, patch); err != nil {
					return nil, err
				}
			}
			// For an already-submitted case the retry changes nothing.
		}
		return &SubmitResult{
			CaseID:      c.ID,
			Stage:       c.Stage,
			PendingRole: c.PendingRole,
			Status:      c.Status,
			Created:     false,
		}, nil
	}

	// Draft -> submitted.
	patch := CasePatch{
		Stage:       e.def.SubmitStage,
		PendingRole: e.def.Stage(e.def.SubmitStage).Pending,
		Status:      StatusSubmitted,
		Fields:      nonEmpty(req.Fields),
		FileRefs:    nonEmpty(req.FileRefs),
	}
	prevStage := c.Stage

	err := e.store.WithTx(ctx, func(tx TxStore) error {
		if err := tx.UpdateTransition(ctx, c.ID, prevStage, patch); err != nil {
			return err
		}
		seen, err := tx.HasEvent(ctx, c.ID, EventSubmission)
		if err != nil {
			return err
		}
		if seen {
			return nil
		}
		ev, err := e.submissionEvent(c, req.Actor, prevStage)
		if err != nil {
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
		Msg("draft submitted")

	return &SubmitResult{
		CaseID:      c.ID,
		Stage:       patch.Stage,
		PendingRole: patch.PendingRole,
		Status:      patch.Status,
		Created:     false,
	}, nil
}

func (e *Engine) submissionEvent(c *Case, actor Actor, stageAt int) (*Event, error) {
	raw, err := MarshalPayload(SubmissionPayload{
		NaturalKey: c.NaturalKey,
		Files:      sortedKeys(c.FileRefs),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encoding submission payload: %v", ErrStorage, err)
	}
	return &Event{
		CaseID:       c.ID,
		ActorID:      actor.ID,
		ActorRole:    actor.Role,
		Type:         EventSubmission,
		StageAtEvent: stageAt,
		Payload:      raw,
		CreatedAt:    e.now(),
	}, nil
}
