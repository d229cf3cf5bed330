/*
Package workflow provides the core case workflow engine.

PURPOSE:
  This package contains the case-type-agnostic machinery for routing a
  benefit case through a fixed chain of reviewing roles. Whether the case
  is an atrocity-relief filing or a marriage-incentive application, the
  same engine handles stage transitions, jurisdiction checks, the
  append-only event log, and the fund-disbursement invariant.

KEY CONCEPTS IN THIS FILE (types.go):
  - Case:  one workflow instance with its current stage and pending role
  - Event: an immutable fact about a case (the audit timeline)
  - Actor: a verified identity with a role and a jurisdiction scope
  - Payloads: typed event bodies (disbursement, correction, ...)

DESIGN PRINCIPLES:
  1. Immutability: events are never updated or deleted
  2. Derivation: the disbursed total is always computed from events,
     never stored on the case row
  3. Precision: decimal.Decimal for all money, never float64
  4. Closed tables: roles, actions, and stages come from a static
     Definition (definition.go), not from runtime string matching

SEE ALSO:
  - definition.go: per-case-type stage/role tables
  - engine.go:     the transition engine
  - ledger.go:     the fund ledger invariant
*/
package workflow

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CaseID string

// Role is a reviewing role name, e.g. "Tribal Officer". The engine never
// interprets role strings; it only looks them up in a Definition's role table.
type Role string

// Action is one of the closed set of things an actor can do to a case.
type Action string

const (
	ActionApprove           Action = "approve"
	ActionReject            Action = "reject"
	ActionRequestCorrection Action = "request_correction"
	ActionResubmit          Action = "resubmit"
	ActionDisburse          Action = "disburse"
	ActionRecordDecision    Action = "record_decision"
)

// Status is the coarse user-visible state of a case.
type Status string

const (
	StatusDraft              Status = "Draft"
	StatusSubmitted          Status = "Submitted"
	StatusUnderReview        Status = "UnderReview"
	StatusCorrectionRequired Status = "CorrectionRequired"
	StatusResubmitted        Status = "Resubmitted"
	StatusRejected           Status = "Rejected"
	StatusCompleted          Status = "Completed"
)

// EventType is the closed vocabulary of facts recorded on the timeline.
// Completion is represented by the final disbursement event together with
// Status = Completed; a transition appends exactly one event. The one
// exception is the reconciliation marker, appended after the commit when
// the treasury debit for a disbursement fails.
type EventType string

const (
	EventSubmission        EventType = "submission"
	EventApproval          EventType = "approval"
	EventCorrectionRequest EventType = "correction_request"
	EventRejection         EventType = "rejection"
	EventDisbursement      EventType = "disbursement"
	EventJudgmentRecorded  EventType = "judgment_recorded"
	EventReconciliation    EventType = "reconciliation"
)

// =============================================================================
// ACTOR & JURISDICTION
// =============================================================================

// Jurisdiction is the geographic scope recorded on a case at creation.
// Region maps to State/UT, SubRegion to District, Station to the police
// station. It is set once from the submitting actor's own verified scope
// and never edited afterward.
type Jurisdiction struct {
	Region    string `json:"region"`
	SubRegion string `json:"sub_region"`
	Station   string `json:"station"`
}

// ScopeKind says which jurisdiction components an actor's assignment pins.
type ScopeKind string

const (
	ScopeNational  ScopeKind = "national"
	ScopeRegion    ScopeKind = "region"
	ScopeSubRegion ScopeKind = "sub_region"
	ScopeStation   ScopeKind = "station"
	// ScopeApplicant authorizes only the case's original applicant.
	ScopeApplicant ScopeKind = "applicant"
)

// Actor is a verified identity. It comes from the authenticator collaborator,
// never from request parameters.
type Actor struct {
	ID           string
	Role         Role
	Jurisdiction Jurisdiction
}

// =============================================================================
// CASE
// =============================================================================

// Case is one workflow instance. Mutated only through Engine transitions.
type Case struct {
	ID         CaseID
	WorkflowID string
	// NaturalKey is the caller-visible identity used for duplicate detection
	// (FIR number, or the normalized couple pair). Unique among non-terminal
	// cases of a workflow.
	NaturalKey  string
	Stage       int
	PendingRole Role // empty means terminal
	Status      Status
	ApplicantID string

	Jurisdiction Jurisdiction

	// ApprovedTotal is writable exactly once, by the designated role at the
	// designated stage. Nil until then.
	ApprovedTotal *decimal.Decimal

	// Fields holds the substantive form data; FileRefs holds blob references.
	// The engine treats both as opaque, merging non-empty values on resubmit.
	Fields   map[string]string
	FileRefs map[string]string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Terminal reports whether the case accepts no further transitions.
func (c *Case) Terminal() bool { return c.PendingRole == "" }

// Clone returns a deep copy so stores can hand out cases without aliasing.
func (c *Case) Clone() *Case {
	cp := *c
	if c.ApprovedTotal != nil {
		v := *c.ApprovedTotal
		cp.ApprovedTotal = &v
	}
	cp.Fields = cloneMap(c.Fields)
	cp.FileRefs = cloneMap(c.FileRefs)
	return &cp
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// =============================================================================
// EVENT - One immutable fact about a case
// =============================================================================

// Event is append-only. Seq is monotonic per case; the timeline ordered by
// (CreatedAt, Seq) reproduces the case's current stage/status/pending role.
type Event struct {
	Seq          int64
	CaseID       CaseID
	ActorID      string
	ActorRole    Role
	Type         EventType
	StageAtEvent int
	Payload      json.RawMessage
	CreatedAt    time.Time
}

// =============================================================================
// EVENT PAYLOADS
// =============================================================================

type SubmissionPayload struct {
	NaturalKey string   `json:"natural_key"`
	Files      []string `json:"files,omitempty"`
	Resubmit   bool     `json:"resubmit,omitempty"`
	Fields     []string `json:"fields_updated,omitempty"`
}

type ApprovalPayload struct {
	Comment       string           `json:"comment,omitempty"`
	ApprovedTotal *decimal.Decimal `json:"approved_total,omitempty"`
}

type CorrectionPayload struct {
	CorrectionsRequired []string `json:"corrections_required"`
	Comment             string   `json:"comment,omitempty"`
}

type RejectionPayload struct {
	Reason string `json:"reason"`
}

// DisbursementPayload is the tranche record. Amounts live only in events;
// the case row never carries a running disbursed total.
type DisbursementPayload struct {
	Amount         decimal.Decimal `json:"amount"`
	PercentOfTotal decimal.Decimal `json:"percent_of_total"`
	TransactionID  string          `json:"transaction_id"`
	BankRef        string          `json:"bank_ref,omitempty"`
	Final          bool            `json:"final,omitempty"`
}

// ReconciliationPayload marks a committed disbursement whose treasury
// debit failed. The amount here never counts toward the disbursed sum; the
// marker flags the timeline for follow-up against the pool ledger.
type ReconciliationPayload struct {
	TransactionID string          `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	Reason        string          `json:"reason"`
}

type DecisionPayload struct {
	Verdict  string `json:"verdict"`
	CourtRef string `json:"court_ref,omitempty"`
	Comment  string `json:"comment,omitempty"`
}

// MarshalPayload encodes a typed payload for storage on an Event.
func MarshalPayload(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
