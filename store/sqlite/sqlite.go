/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements workflow.TxStore (cases + events) and treasury.Store using
  SQLite. The same patterns apply to PostgreSQL with minor dialect changes.

KEY TABLES:
  cases:            one row per workflow instance
  case_events:      immutable per-case timeline
  treasury_entries: immutable fund-pool ledger

APPEND-ONLY ENFORCEMENT:
  case_events and treasury_entries have no UPDATE or DELETE statements
  anywhere in this package. Case rows change only through the conditional
  transition update.

CONDITIONAL UPDATE:
  UpdateTransition runs UPDATE ... WHERE id = ? AND stage = ?. Zero rows
  affected on an existing case means a racing transition won; the caller's
  surrounding transaction rolls back with ErrStageConflict.

UNIQUENESS:
  A partial unique index on (workflow_id, natural_key) WHERE pending_role
  is non-empty enforces "one live case per natural key" at the database
  level; terminal cases release the key.

WAL MODE:
  Opened with WAL for better read concurrency and crash recovery.

SEE ALSO:
  - workflow/store.go: interface definitions
  - workflow/store/memory.go: in-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/openpcr/caseflow/treasury"
	"github.com/openpcr/caseflow/workflow"
)

// Store implements the storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (or creates) the database. Use ":memory:" for tests.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cases (
		id TEXT PRIMARY KEY,
		workflow_id TEXT NOT NULL,
		natural_key TEXT NOT NULL,
		stage INTEGER NOT NULL,
		pending_role TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		applicant_id TEXT NOT NULL,
		region TEXT NOT NULL DEFAULT '',
		sub_region TEXT NOT NULL DEFAULT '',
		station TEXT NOT NULL DEFAULT '',
		approved_total TEXT,
		fields_json TEXT,
		files_json TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- One live case per natural key; terminal cases release the key.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_cases_active_key
		ON cases(workflow_id, natural_key) WHERE pending_role != '';

	CREATE INDEX IF NOT EXISTS idx_cases_jurisdiction
		ON cases(workflow_id, region, sub_region, station);
	CREATE INDEX IF NOT EXISTS idx_cases_applicant
		ON cases(workflow_id, applicant_id);

	-- Immutable per-case timeline
	CREATE TABLE IF NOT EXISTS case_events (
		case_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		actor_id TEXT NOT NULL,
		actor_role TEXT NOT NULL,
		event_type TEXT NOT NULL,
		stage_at_event INTEGER NOT NULL,
		payload_json TEXT,
		created_at TEXT NOT NULL,
		PRIMARY KEY (case_id, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_case_events_type
		ON case_events(case_id, event_type);

	-- Immutable fund-pool ledger
	CREATE TABLE IF NOT EXISTS treasury_entries (
		id TEXT PRIMARY KEY,
		region TEXT NOT NULL,
		sub_region TEXT NOT NULL,
		entry_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		balance_after TEXT NOT NULL,
		ref TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_treasury_pool
		ON treasury_entries(region, sub_region, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// dbtx abstracts *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// CASE STORE (workflow.CaseStore interface)
// =============================================================================

func (s *Store) InsertCase(ctx context.Context, c *workflow.Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertCase(ctx, s.db, c)
}

func (s *Store) insertCase(ctx context.Context, db dbtx, c *workflow.Case) error {
	fieldsJSON, _ := json.Marshal(c.Fields)
	filesJSON, _ := json.Marshal(c.FileRefs)

	var total *string
	if c.ApprovedTotal != nil {
		v := c.ApprovedTotal.String()
		total = &v
	}

	query := `
		INSERT INTO cases
		(id, workflow_id, natural_key, stage, pending_role, status, applicant_id,
		 region, sub_region, station, approved_total, fields_json, files_json,
		 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		string(c.ID), c.WorkflowID, c.NaturalKey, c.Stage, string(c.PendingRole),
		string(c.Status), c.ApplicantID,
		c.Jurisdiction.Region, c.Jurisdiction.SubRegion, c.Jurisdiction.Station,
		total, string(fieldsJSON), string(filesJSON),
		c.CreatedAt.Format(time.RFC3339Nano), c.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return workflow.ErrDuplicateNaturalKey
		}
		return fmt.Errorf("%w: inserting case: %v", workflow.ErrStorage, err)
	}
	return nil
}

const caseColumns = `id, workflow_id, natural_key, stage, pending_role, status,
	applicant_id, region, sub_region, station, approved_total,
	fields_json, files_json, created_at, updated_at`

func (s *Store) GetCase(ctx context.Context, id workflow.CaseID) (*workflow.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getCase(ctx, s.db, id)
}

func (s *Store) getCase(ctx context.Context, db dbtx, id workflow.CaseID) (*workflow.Case, error) {
	row := db.QueryRowContext(ctx,
		"SELECT "+caseColumns+" FROM cases WHERE id = ?", string(id))
	c, err := scanCase(row)
	if err == sql.ErrNoRows {
		return nil, workflow.ErrCaseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: loading case: %v", workflow.ErrStorage, err)
	}
	return c, nil
}

func (s *Store) GetActiveByNaturalKey(ctx context.Context, workflowID, naturalKey string) (*workflow.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getActiveByKey(ctx, s.db, workflowID, naturalKey)
}

func (s *Store) getActiveByKey(ctx context.Context, db dbtx, workflowID, naturalKey string) (*workflow.Case, error) {
	row := db.QueryRowContext(ctx,
		"SELECT "+caseColumns+" FROM cases WHERE workflow_id = ? AND natural_key = ? AND pending_role != ''",
		workflowID, naturalKey)
	c, err := scanCase(row)
	if err == sql.ErrNoRows {
		return nil, workflow.ErrCaseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: loading case by key: %v", workflow.ErrStorage, err)
	}
	return c, nil
}

func (s *Store) UpdateTransition(ctx context.Context, id workflow.CaseID, expectedStage int, patch workflow.CasePatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateTransition(ctx, s.db, id, expectedStage, patch)
}

func (s *Store) updateTransition(ctx context.Context, db dbtx, id workflow.CaseID, expectedStage int, patch workflow.CasePatch) error {
	current, err := s.getCase(ctx, db, id)
	if err != nil {
		return err
	}

	fields := mergeMaps(current.Fields, patch.Fields)
	files := mergeMaps(current.FileRefs, patch.FileRefs)
	fieldsJSON, _ := json.Marshal(fields)
	filesJSON, _ := json.Marshal(files)

	var total *string
	if patch.ApprovedTotal != nil {
		v := patch.ApprovedTotal.String()
		total = &v
	}

	query := `
		UPDATE cases
		SET stage = ?, pending_role = ?, status = ?,
		    approved_total = COALESCE(?, approved_total),
		    fields_json = ?, files_json = ?, updated_at = ?
		WHERE id = ? AND stage = ?
	`
	res, err := db.ExecContext(ctx, query,
		patch.Stage, string(patch.PendingRole), string(patch.Status),
		total, string(fieldsJSON), string(filesJSON),
		time.Now().UTC().Format(time.RFC3339Nano),
		string(id), expectedStage,
	)
	if err != nil {
		return fmt.Errorf("%w: updating case: %v", workflow.ErrStorage, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: updating case: %v", workflow.ErrStorage, err)
	}
	if n == 0 {
		return workflow.ErrStageConflict
	}
	return nil
}

func (s *Store) ListCases(ctx context.Context, f workflow.ListFilter) ([]*workflow.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listCases(ctx, s.db, f)
}

func (s *Store) listCases(ctx context.Context, db dbtx, f workflow.ListFilter) ([]*workflow.Case, error) {
	query := "SELECT " + caseColumns + " FROM cases WHERE 1=1"
	var args []any

	if f.WorkflowID != "" {
		query += " AND workflow_id = ?"
		args = append(args, f.WorkflowID)
	}
	if f.ApplicantID != "" {
		query += " AND applicant_id = ?"
		args = append(args, f.ApplicantID)
	}
	if f.Region != "" {
		query += " AND region = ?"
		args = append(args, f.Region)
	}
	if f.SubRegion != "" {
		query += " AND sub_region = ?"
		args = append(args, f.SubRegion)
	}
	if f.Station != "" {
		query += " AND station = ?"
		args = append(args, f.Station)
	}
	if len(f.Stages) > 0 {
		query += " AND stage IN (?" + strings.Repeat(",?", len(f.Stages)-1) + ")"
		for _, st := range f.Stages {
			args = append(args, st)
		}
	}
	query += " ORDER BY created_at DESC"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: listing cases: %v", workflow.ErrStorage, err)
	}
	defer rows.Close()

	var cases []*workflow.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scanning case: %v", workflow.ErrStorage, err)
		}
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCase(row rowScanner) (*workflow.Case, error) {
	var (
		c                    workflow.Case
		id, pending, status  string
		total                sql.NullString
		fieldsJSON           sql.NullString
		filesJSON            sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(
		&id, &c.WorkflowID, &c.NaturalKey, &c.Stage, &pending, &status,
		&c.ApplicantID, &c.Jurisdiction.Region, &c.Jurisdiction.SubRegion, &c.Jurisdiction.Station,
		&total, &fieldsJSON, &filesJSON, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.ID = workflow.CaseID(id)
	c.PendingRole = workflow.Role(pending)
	c.Status = workflow.Status(status)
	if total.Valid {
		d, err := decimal.NewFromString(total.String)
		if err != nil {
			return nil, fmt.Errorf("corrupt approved_total %q: %v", total.String, err)
		}
		c.ApprovedTotal = &d
	}
	if fieldsJSON.Valid && fieldsJSON.String != "" {
		json.Unmarshal([]byte(fieldsJSON.String), &c.Fields)
	}
	if filesJSON.Valid && filesJSON.String != "" {
		json.Unmarshal([]byte(filesJSON.String), &c.FileRefs)
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	c.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &c, nil
}

// =============================================================================
// EVENT STORE (workflow.EventStore interface) - append-only
// =============================================================================

func (s *Store) AppendEvent(ctx context.Context, ev *workflow.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendEvent(ctx, s.db, ev)
}

func (s *Store) appendEvent(ctx context.Context, db dbtx, ev *workflow.Event) error {
	var next int64
	err := db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq), 0) + 1 FROM case_events WHERE case_id = ?",
		string(ev.CaseID)).Scan(&next)
	if err != nil {
		return fmt.Errorf("%w: sequencing event: %v", workflow.ErrStorage, err)
	}
	ev.Seq = next

	_, err = db.ExecContext(ctx, `
		INSERT INTO case_events
		(case_id, seq, actor_id, actor_role, event_type, stage_at_event, payload_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(ev.CaseID), ev.Seq, ev.ActorID, string(ev.ActorRole), string(ev.Type),
		ev.StageAtEvent, string(ev.Payload), ev.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("%w: appending event: %v", workflow.ErrStorage, err)
	}
	return nil
}

func (s *Store) ListEvents(ctx context.Context, id workflow.CaseID) ([]workflow.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listEvents(ctx, s.db, id)
}

func (s *Store) listEvents(ctx context.Context, db dbtx, id workflow.CaseID) ([]workflow.Event, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT case_id, seq, actor_id, actor_role, event_type, stage_at_event, payload_json, created_at
		FROM case_events
		WHERE case_id = ?
		ORDER BY created_at ASC, seq ASC`,
		string(id))
	if err != nil {
		return nil, fmt.Errorf("%w: listing events: %v", workflow.ErrStorage, err)
	}
	defer rows.Close()

	var events []workflow.Event
	for rows.Next() {
		var (
			ev                workflow.Event
			caseID, role, typ string
			payload           sql.NullString
			createdAt         string
		)
		if err := rows.Scan(&caseID, &ev.Seq, &ev.ActorID, &role, &typ,
			&ev.StageAtEvent, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("%w: scanning event: %v", workflow.ErrStorage, err)
		}
		ev.CaseID = workflow.CaseID(caseID)
		ev.ActorRole = workflow.Role(role)
		ev.Type = workflow.EventType(typ)
		if payload.Valid {
			ev.Payload = []byte(payload.String)
		}
		ev.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *Store) HasEvent(ctx context.Context, id workflow.CaseID, t workflow.EventType) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasEvent(ctx, s.db, id, t)
}

func (s *Store) hasEvent(ctx context.Context, db dbtx, id workflow.CaseID, t workflow.EventType) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM case_events WHERE case_id = ? AND event_type = ?",
		string(id), string(t)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("%w: checking events: %v", workflow.ErrStorage, err)
	}
	return count > 0, nil
}

// =============================================================================
// TRANSACTIONAL STORE (workflow.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(workflow.TxStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %v", workflow.ErrStorage, err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx, parent: s}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("%w: commit transaction: %v", workflow.ErrStorage, err)
	}
	return nil
}

type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (ts *txStore) InsertCase(ctx context.Context, c *workflow.Case) error {
	return ts.parent.insertCase(ctx, ts.tx, c)
}

func (ts *txStore) GetCase(ctx context.Context, id workflow.CaseID) (*workflow.Case, error) {
	return ts.parent.getCase(ctx, ts.tx, id)
}

func (ts *txStore) GetActiveByNaturalKey(ctx context.Context, workflowID, naturalKey string) (*workflow.Case, error) {
	return ts.parent.getActiveByKey(ctx, ts.tx, workflowID, naturalKey)
}

func (ts *txStore) UpdateTransition(ctx context.Context, id workflow.CaseID, expectedStage int, patch workflow.CasePatch) error {
	return ts.parent.updateTransition(ctx, ts.tx, id, expectedStage, patch)
}

func (ts *txStore) ListCases(ctx context.Context, f workflow.ListFilter) ([]*workflow.Case, error) {
	return ts.parent.listCases(ctx, ts.tx, f)
}

func (ts *txStore) AppendEvent(ctx context.Context, ev *workflow.Event) error {
	return ts.parent.appendEvent(ctx, ts.tx, ev)
}

func (ts *txStore) ListEvents(ctx context.Context, id workflow.CaseID) ([]workflow.Event, error) {
	return ts.parent.listEvents(ctx, ts.tx, id)
}

func (ts *txStore) HasEvent(ctx context.Context, id workflow.CaseID, t workflow.EventType) (bool, error) {
	return ts.parent.hasEvent(ctx, ts.tx, id, t)
}

func (ts *txStore) WithTx(ctx context.Context, fn func(workflow.TxStore) error) error {
	return fn(ts)
}

// =============================================================================
// TREASURY STORE (treasury.Store interface) - append-only
// =============================================================================

func (s *Store) AppendEntry(ctx context.Context, e treasury.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO treasury_entries
		(id, region, sub_region, entry_type, amount, balance_after, ref, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Region, e.SubRegion, string(e.Type),
		e.Amount.String(), e.BalanceAfter.String(), e.Ref,
		e.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("%w: appending treasury entry: %v", workflow.ErrStorage, err)
	}
	return nil
}

func (s *Store) LastBalance(ctx context.Context, region, subRegion string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var balance string
	err := s.db.QueryRowContext(ctx, `
		SELECT balance_after FROM treasury_entries
		WHERE region = ? AND sub_region = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1`,
		region, subRegion).Scan(&balance)
	if err == sql.ErrNoRows {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: reading treasury balance: %v", workflow.ErrStorage, err)
	}
	d, err := decimal.NewFromString(balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: corrupt treasury balance %q: %v", workflow.ErrStorage, balance, err)
	}
	return d, nil
}

func (s *Store) ListEntries(ctx context.Context, region, subRegion string) ([]treasury.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, region, sub_region, entry_type, amount, balance_after, ref, created_at
		FROM treasury_entries
		WHERE region = ? AND sub_region = ?
		ORDER BY created_at ASC, rowid ASC`,
		region, subRegion)
	if err != nil {
		return nil, fmt.Errorf("%w: listing treasury entries: %v", workflow.ErrStorage, err)
	}
	defer rows.Close()

	var entries []treasury.Entry
	for rows.Next() {
		var (
			e                         treasury.Entry
			typ, amount, after, ctime string
			ref                       sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Region, &e.SubRegion, &typ, &amount, &after, &ref, &ctime); err != nil {
			return nil, fmt.Errorf("%w: scanning treasury entry: %v", workflow.ErrStorage, err)
		}
		e.Type = treasury.EntryType(typ)
		e.Amount, _ = decimal.NewFromString(amount)
		e.BalanceAfter, _ = decimal.NewFromString(after)
		e.Ref = ref.String
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, ctime)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func mergeMaps(base, patch map[string]string) map[string]string {
	if len(patch) == 0 {
		return base
	}
	out := make(map[string]string, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
