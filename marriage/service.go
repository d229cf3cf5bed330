/*
service.go - Creation-time checks for marriage-incentive applications

PURPOSE:
  Wraps the engine's idempotent submission with the checks that only apply
  when a couple first applies:
    - the applicant must be one of the two spouses
    - both identity numbers must resolve in the identity register
    - neither spouse may appear in an already Completed incentive case
      (the benefit is paid once per person)
  Duplicate live applications for the same couple are caught by the
  engine's natural-key upsert, whichever spouse applies and in whichever
  order the pair is written.
*/
package marriage

import (
	"context"
	"fmt"
	"strings"

	"github.com/openpcr/caseflow/registry"
	"github.com/openpcr/caseflow/workflow"
)

// Case fields stored on an application.
const (
	FieldPartnerA     = "partner_a_identity"
	FieldPartnerB     = "partner_b_identity"
	FieldMarriageDate = "marriage_date"
)

// Service files marriage-incentive cases.
type Service struct {
	engine *workflow.Engine
	cases  workflow.CaseStore
	lookup registry.Lookup
}

func NewService(engine *workflow.Engine, cases workflow.CaseStore, lookup registry.Lookup) *Service {
	return &Service{engine: engine, cases: cases, lookup: lookup}
}

// Engine exposes the underlying engine for post-creation operations.
func (s *Service) Engine() *workflow.Engine { return s.engine }

// SubmitInput is one application by a citizen for a couple.
type SubmitInput struct {
	Actor    workflow.Actor
	PartnerA string
	PartnerB string
	Draft    bool
	Fields   map[string]string
	FileRefs map[string]string
}

// Submit validates the couple and runs the idempotent create-or-advance.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*workflow.SubmitResult, error) {
	a, b := strings.TrimSpace(in.PartnerA), strings.TrimSpace(in.PartnerB)
	if err := validIdentity("partner_a", a); err != nil {
		return nil, err
	}
	if err := validIdentity("partner_b", b); err != nil {
		return nil, err
	}
	if a == b {
		return nil, &workflow.ValidationError{Field: "partner_b", Message: "partners must be distinct"}
	}
	// Citizens authenticate by identity number; the applicant must be one
	// of the spouses.
	if in.Actor.ID != a && in.Actor.ID != b {
		return nil, ErrNotAPartner
	}

	for field, id := range map[string]string{"partner_a": a, "partner_b": b} {
		ok, err := s.lookup.IdentityExists(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("%w: identity register lookup: %v", workflow.ErrStorage, err)
		}
		if !ok {
			return nil, &workflow.ValidationError{Field: field, Message: "not found in identity register"}
		}
	}

	if err := s.checkBenefitNotReceived(ctx, a, b); err != nil {
		return nil, err
	}

	fields := make(map[string]string, len(in.Fields)+2)
	for k, v := range in.Fields {
		fields[k] = v
	}
	fields[FieldPartnerA] = a
	fields[FieldPartnerB] = b

	return s.engine.CreateOrAdvance(ctx, workflow.SubmitRequest{
		Actor:      in.Actor,
		NaturalKey: CoupleKey(a, b),
		Draft:      in.Draft,
		Fields:     fields,
		FileRefs:   in.FileRefs,
	})
}

// ErrNotAPartner rejects applications filed on behalf of someone else's
// marriage. Wraps Forbidden for HTTP mapping.
var ErrNotAPartner = fmt.Errorf("%w: applicant is not one of the partners", workflow.ErrForbidden)

// checkBenefitNotReceived scans completed incentive cases for either spouse.
func (s *Service) checkBenefitNotReceived(ctx context.Context, a, b string) error {
	completed, err := s.cases.ListCases(ctx, workflow.ListFilter{WorkflowID: WorkflowID})
	if err != nil {
		return err
	}
	for _, c := range completed {
		if c.Status != workflow.StatusCompleted {
			continue
		}
		for _, id := range strings.SplitN(c.NaturalKey, ":", 2) {
			if id == a || id == b {
				return fmt.Errorf("%w: benefit already disbursed to this person (case %s)",
					workflow.ErrDuplicateNaturalKey, c.ID)
			}
		}
	}
	return nil
}

func validIdentity(field, id string) error {
	if len(id) != 12 {
		return &workflow.ValidationError{Field: field, Message: "identity number must be 12 digits"}
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return &workflow.ValidationError{Field: field, Message: "identity number must be 12 digits"}
		}
	}
	return nil
}
