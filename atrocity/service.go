/*
service.go - Creation-time checks for atrocity-relief filings

PURPOSE:
  Wraps the engine's idempotent submission with the checks that only apply
  when a case is first filed: the FIR must exist in the police register for
  the filing officer's own station, and the victim's bank account must pass
  KYC when supplied. Everything after creation goes through the engine
  directly.
*/
package atrocity

import (
	"context"
	"fmt"

	"github.com/openpcr/caseflow/registry"
	"github.com/openpcr/caseflow/workflow"
)

// Case fields consulted at filing time.
const (
	FieldVictimName  = "victim_name"
	FieldVictimID    = "victim_identity"
	FieldBankAccount = "bank_account"
	FieldBankIFSC    = "bank_ifsc"
)

// Service files atrocity-relief cases.
type Service struct {
	engine *workflow.Engine
	lookup registry.Lookup
}

func NewService(engine *workflow.Engine, lookup registry.Lookup) *Service {
	return &Service{engine: engine, lookup: lookup}
}

// Engine exposes the underlying engine for post-creation operations.
func (s *Service) Engine() *workflow.Engine { return s.engine }

// SubmitInput is one filing attempt by an Investigation Officer.
type SubmitInput struct {
	Actor     workflow.Actor
	FIRNumber string
	Draft     bool
	Fields    map[string]string
	FileRefs  map[string]string
}

// Submit validates the filing against the external registers and runs the
// idempotent create-or-advance.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*workflow.SubmitResult, error) {
	fir := NaturalKey(in.FIRNumber)
	if fir == "" {
		return nil, &workflow.ValidationError{Field: "fir_number", Message: "required"}
	}

	// The register is checked against the officer's own verified station,
	// not anything from the request body.
	found, err := s.lookup.FIRExists(ctx, in.Actor.Jurisdiction.Region, in.Actor.Jurisdiction.Station, fir)
	if err != nil {
		return nil, fmt.Errorf("%w: FIR register lookup: %v", workflow.ErrStorage, err)
	}
	if !found {
		return nil, &workflow.ValidationError{Field: "fir_number", Message: "not found in police register"}
	}

	if acct := in.Fields[FieldBankAccount]; acct != "" {
		ok, err := s.lookup.BankAccountValid(ctx, acct, in.Fields[FieldBankIFSC])
		if err != nil {
			return nil, fmt.Errorf("%w: bank KYC lookup: %v", workflow.ErrStorage, err)
		}
		if !ok {
			return nil, &workflow.ValidationError{Field: FieldBankAccount, Message: "failed KYC validation"}
		}
	}

	return s.engine.CreateOrAdvance(ctx, workflow.SubmitRequest{
		Actor:      in.Actor,
		NaturalKey: fir,
		Draft:      in.Draft,
		Fields:     in.Fields,
		FileRefs:   in.FileRefs,
	})
}
