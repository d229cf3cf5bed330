/*
store.go - Persistence interfaces for cases and events

PURPOSE:
  Defines the interface between the engine and the database. Cases are
  mutated only through the conditional UpdateTransition; events are
  append-only with no Update or Delete. Different implementations can use
  SQLite or in-memory storage.

KEY INTERFACES:
  CaseStore: case rows (insert, lookup, conditional transition update)
  EventStore: append-only per-case timeline
  TxStore:   both stores plus atomic multi-write transactions

APPEND-ONLY CONTRACT:
  EventStore has AppendEvent and reads. Nothing else. A case's disbursed
  total is always derived by summing its events, so corrupting it would
  require corrupting the audit trail itself.

CONDITIONAL UPDATE:
  UpdateTransition only succeeds if the row's stage still equals the value
  the caller read. Zero rows matched means the case moved under the caller
  and the whole transaction must roll back with ErrStageConflict.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: production SQLite
  - workflow/store/memory.go: in-memory for testing

SEE ALSO:
  - engine.go: the only writer
*/
package workflow

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CASE STORE
// =============================================================================

// CasePatch is the set of fields a transition may change on a case row.
// Nil / empty members keep the stored value: ApprovedTotal is written only
// when non-nil, and Fields/FileRefs entries are merged key by key.
type CasePatch struct {
	Stage         int
	PendingRole   Role
	Status        Status
	ApprovedTotal *decimal.Decimal
	Fields        map[string]string
	FileRefs      map[string]string
}

// ListFilter narrows ListCases. Zero value lists a whole workflow.
type ListFilter struct {
	WorkflowID  string
	ApplicantID string
	Stages      []int
	Region      string
	SubRegion   string
	Station     string
}

// CaseStore handles case row persistence.
type CaseStore interface {
	// InsertCase persists a new case. Returns ErrDuplicateNaturalKey if a
	// non-terminal case of the same workflow already holds the natural key.
	InsertCase(ctx context.Context, c *Case) error

	// GetCase returns the case or ErrCaseNotFound.
	GetCase(ctx context.Context, id CaseID) (*Case, error)

	// GetActiveByNaturalKey returns the single non-terminal case holding the
	// key within a workflow, or ErrCaseNotFound.
	GetActiveByNaturalKey(ctx context.Context, workflowID, naturalKey string) (*Case, error)

	// UpdateTransition applies patch to the case iff its stored stage still
	// equals expectedStage. Returns ErrStageConflict when it does not.
	UpdateTransition(ctx context.Context, id CaseID, expectedStage int, patch CasePatch) error

	// ListCases returns cases matching the filter, newest first.
	ListCases(ctx context.Context, f ListFilter) ([]*Case, error)
}

// =============================================================================
// EVENT STORE - Append-only
// =============================================================================

// EventStore handles the per-case timeline.
type EventStore interface {
	// AppendEvent persists an event, assigning the next per-case Seq.
	AppendEvent(ctx context.Context, ev *Event) error

	// ListEvents returns all events for a case ascending by (CreatedAt, Seq).
	ListEvents(ctx context.Context, id CaseID) ([]Event, error)

	// HasEvent reports whether any event of the given type exists for the
	// case. Used by the upsert layer to suppress duplicate submission events.
	HasEvent(ctx context.Context, id CaseID, t EventType) (bool, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore combines both stores with transaction support. The engine commits
// every case update together with its event through WithTx; no other
// component writes either table.
type TxStore interface {
	CaseStore
	EventStore

	// WithTx executes fn atomically. If fn returns an error the transaction
	// is rolled back and nothing reached either store.
	WithTx(ctx context.Context, fn func(TxStore) error) error
}
