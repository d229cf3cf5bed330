/*
dto.go - Wire shapes for the HTTP API

PURPOSE:
  JSON request/response types. Role and jurisdiction never appear in
  request bodies for case operations; they come from the verified token.
  The demo login endpoint is the single exception, since it stands in for
  the external identity provider.
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openpcr/caseflow/workflow"
)

// =============================================================================
// ERRORS
// =============================================================================

type errorBody struct {
	Error     Kind   `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// =============================================================================
// AUTH (demo issuer)
// =============================================================================

type loginRequest struct {
	ActorID   string `json:"actor_id"`
	Role      string `json:"role"`
	Region    string `json:"region,omitempty"`
	SubRegion string `json:"sub_region,omitempty"`
	Station   string `json:"station,omitempty"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// =============================================================================
// CASES
// =============================================================================

type submitRequest struct {
	// Atrocity cases key on the FIR number.
	FIRNumber string `json:"fir_number,omitempty"`
	// Marriage cases key on the couple's identity numbers.
	PartnerA string `json:"partner_a,omitempty"`
	PartnerB string `json:"partner_b,omitempty"`

	Draft    bool              `json:"draft,omitempty"`
	Fields   map[string]string `json:"fields,omitempty"`
	FileRefs map[string]string `json:"file_refs,omitempty"`
}

type submitResponse struct {
	CaseID      string `json:"case_id"`
	Stage       int    `json:"stage"`
	PendingRole string `json:"pending_role"`
	Status      string `json:"status"`
	Created     bool   `json:"created"`
}

type caseResponse struct {
	CaseID        string            `json:"case_id"`
	WorkflowID    string            `json:"workflow_id"`
	NaturalKey    string            `json:"natural_key"`
	Stage         int               `json:"stage"`
	PendingRole   string            `json:"pending_role"`
	Status        string            `json:"status"`
	ApplicantID   string            `json:"applicant_id"`
	Region        string            `json:"region"`
	SubRegion     string            `json:"sub_region"`
	Station       string            `json:"station,omitempty"`
	ApprovedTotal *decimal.Decimal  `json:"approved_total,omitempty"`
	Fields        map[string]string `json:"fields,omitempty"`
	FileRefs      map[string]string `json:"file_refs,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

func toCaseResponse(c *workflow.Case) caseResponse {
	return caseResponse{
		CaseID:        string(c.ID),
		WorkflowID:    c.WorkflowID,
		NaturalKey:    c.NaturalKey,
		Stage:         c.Stage,
		PendingRole:   string(c.PendingRole),
		Status:        string(c.Status),
		ApplicantID:   c.ApplicantID,
		Region:        c.Jurisdiction.Region,
		SubRegion:     c.Jurisdiction.SubRegion,
		Station:       c.Jurisdiction.Station,
		ApprovedTotal: c.ApprovedTotal,
		Fields:        c.Fields,
		FileRefs:      c.FileRefs,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}

type eventResponse struct {
	Seq          int64           `json:"seq"`
	ActorID      string          `json:"actor_id"`
	ActorRole    string          `json:"actor_role"`
	Type         string          `json:"type"`
	StageAtEvent int             `json:"stage_at_event"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

func toEventResponse(ev workflow.Event) eventResponse {
	return eventResponse{
		Seq:          ev.Seq,
		ActorID:      ev.ActorID,
		ActorRole:    string(ev.ActorRole),
		Type:         string(ev.Type),
		StageAtEvent: ev.StageAtEvent,
		Payload:      ev.Payload,
		CreatedAt:    ev.CreatedAt,
	}
}

type transitionResponse struct {
	CaseID      string `json:"case_id"`
	Stage       int    `json:"stage"`
	PendingRole string `json:"pending_role"`
	Status      string `json:"status"`
	EventType   string `json:"event_type"`
}

type resubmitResponse struct {
	CaseID        string   `json:"case_id"`
	Stage         int      `json:"stage"`
	PendingRole   string   `json:"pending_role"`
	Status        string   `json:"status"`
	FieldsUpdated []string `json:"fields_updated,omitempty"`
	FilesUpdated  []string `json:"files_updated,omitempty"`
}

// =============================================================================
// ACTIONS
// =============================================================================

type approveRequest struct {
	Comment       string           `json:"comment,omitempty"`
	ApprovedTotal *decimal.Decimal `json:"approved_total,omitempty"`
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

type correctionRequest struct {
	CorrectionsRequired []string `json:"corrections_required"`
	Comment             string   `json:"comment,omitempty"`
}

type resubmitRequest struct {
	Fields   map[string]string `json:"fields,omitempty"`
	FileRefs map[string]string `json:"file_refs,omitempty"`
}

type disburseRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	PercentOfTotal decimal.Decimal `json:"percent_of_total,omitempty"`
	TransactionID  string          `json:"transaction_id"`
	BankRef        string          `json:"bank_ref,omitempty"`
}

type decisionRequest struct {
	Verdict  string `json:"verdict"`
	CourtRef string `json:"court_ref,omitempty"`
	Comment  string `json:"comment,omitempty"`
}

// =============================================================================
// TREASURY & FILES
// =============================================================================

type creditRequest struct {
	// SubRegion names the district pool to fund; the region always comes
	// from the crediting officer's own verified scope.
	SubRegion string          `json:"sub_region"`
	Amount    decimal.Decimal `json:"amount"`
	Ref       string          `json:"ref,omitempty"`
}

type balanceResponse struct {
	Region    string          `json:"region"`
	SubRegion string          `json:"sub_region"`
	Balance   decimal.Decimal `json:"balance"`
}

type fileResponse struct {
	Ref string `json:"ref"`
}
