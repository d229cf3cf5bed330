// Package store provides in-memory implementations of the workflow storage
// interfaces, used by tests and local development.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/openpcr/caseflow/workflow"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu     sync.RWMutex
	cases  map[workflow.CaseID]*workflow.Case
	events map[workflow.CaseID][]workflow.Event
	seq    map[workflow.CaseID]int64
}

func NewMemory() *Memory {
	return &Memory{
		cases:  make(map[workflow.CaseID]*workflow.Case),
		events: make(map[workflow.CaseID][]workflow.Event),
		seq:    make(map[workflow.CaseID]int64),
	}
}

// =============================================================================
// CASE STORE
// =============================================================================

func (m *Memory) InsertCase(_ context.Context, c *workflow.Case) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertCaseLocked(c)
}

func (m *Memory) insertCaseLocked(c *workflow.Case) error {
	if _, ok := m.cases[c.ID]; ok {
		return workflow.ErrDuplicateNaturalKey
	}
	for _, other := range m.cases {
		if other.WorkflowID == c.WorkflowID && other.NaturalKey == c.NaturalKey && !other.Terminal() {
			return workflow.ErrDuplicateNaturalKey
		}
	}
	m.cases[c.ID] = c.Clone()
	return nil
}

func (m *Memory) GetCase(_ context.Context, id workflow.CaseID) (*workflow.Case, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getCaseLocked(id)
}

func (m *Memory) getCaseLocked(id workflow.CaseID) (*workflow.Case, error) {
	c, ok := m.cases[id]
	if !ok {
		return nil, workflow.ErrCaseNotFound
	}
	return c.Clone(), nil
}

func (m *Memory) GetActiveByNaturalKey(_ context.Context, workflowID, naturalKey string) (*workflow.Case, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getActiveByKeyLocked(workflowID, naturalKey)
}

func (m *Memory) getActiveByKeyLocked(workflowID, naturalKey string) (*workflow.Case, error) {
	for _, c := range m.cases {
		if c.WorkflowID == workflowID && c.NaturalKey == naturalKey && !c.Terminal() {
			return c.Clone(), nil
		}
	}
	return nil, workflow.ErrCaseNotFound
}

func (m *Memory) UpdateTransition(_ context.Context, id workflow.CaseID, expectedStage int, patch workflow.CasePatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateTransitionLocked(id, expectedStage, patch)
}

func (m *Memory) updateTransitionLocked(id workflow.CaseID, expectedStage int, patch workflow.CasePatch) error {
	c, ok := m.cases[id]
	if !ok {
		return workflow.ErrCaseNotFound
	}
	if c.Stage != expectedStage {
		return workflow.ErrStageConflict
	}
	c.Stage = patch.Stage
	c.PendingRole = patch.PendingRole
	c.Status = patch.Status
	if patch.ApprovedTotal != nil {
		v := *patch.ApprovedTotal
		c.ApprovedTotal = &v
	}
	if len(patch.Fields) > 0 {
		if c.Fields == nil {
			c.Fields = make(map[string]string, len(patch.Fields))
		}
		for k, v := range patch.Fields {
			c.Fields[k] = v
		}
	}
	if len(patch.FileRefs) > 0 {
		if c.FileRefs == nil {
			c.FileRefs = make(map[string]string, len(patch.FileRefs))
		}
		for k, v := range patch.FileRefs {
			c.FileRefs[k] = v
		}
	}
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) ListCases(_ context.Context, f workflow.ListFilter) ([]*workflow.Case, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listCasesLocked(f)
}

func (m *Memory) listCasesLocked(f workflow.ListFilter) ([]*workflow.Case, error) {
	var out []*workflow.Case
	for _, c := range m.cases {
		if !matches(c, f) {
			continue
		}
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func matches(c *workflow.Case, f workflow.ListFilter) bool {
	if f.WorkflowID != "" && c.WorkflowID != f.WorkflowID {
		return false
	}
	if f.ApplicantID != "" && c.ApplicantID != f.ApplicantID {
		return false
	}
	if f.Region != "" && c.Jurisdiction.Region != f.Region {
		return false
	}
	if f.SubRegion != "" && c.Jurisdiction.SubRegion != f.SubRegion {
		return false
	}
	if f.Station != "" && c.Jurisdiction.Station != f.Station {
		return false
	}
	if len(f.Stages) > 0 {
		found := false
		for _, s := range f.Stages {
			if c.Stage == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// =============================================================================
// EVENT STORE
// =============================================================================

func (m *Memory) AppendEvent(_ context.Context, ev *workflow.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendEventLocked(ev)
}

func (m *Memory) appendEventLocked(ev *workflow.Event) error {
	m.seq[ev.CaseID]++
	ev.Seq = m.seq[ev.CaseID]

	evs := m.events[ev.CaseID]

	// Insert ordered by CreatedAt; ties keep append order via Seq.
	i := sort.Search(len(evs), func(i int) bool {
		return evs[i].CreatedAt.After(ev.CreatedAt)
	})
	evs = append(evs, workflow.Event{})
	copy(evs[i+1:], evs[i:])
	evs[i] = *ev
	m.events[ev.CaseID] = evs
	return nil
}

func (m *Memory) ListEvents(_ context.Context, id workflow.CaseID) ([]workflow.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listEventsLocked(id)
}

func (m *Memory) listEventsLocked(id workflow.CaseID) ([]workflow.Event, error) {
	evs := m.events[id]
	out := make([]workflow.Event, len(evs))
	copy(out, evs)
	return out, nil
}

func (m *Memory) HasEvent(_ context.Context, id workflow.CaseID, t workflow.EventType) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hasEventLocked(id, t)
}

func (m *Memory) hasEventLocked(id workflow.CaseID, t workflow.EventType) (bool, error) {
	for _, ev := range m.events[id] {
		if ev.Type == t {
			return true, nil
		}
	}
	return false, nil
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx simulates a transaction with a snapshot + rollback on error.
func (m *Memory) WithTx(_ context.Context, fn func(workflow.TxStore) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	view := &txView{parent: m}
	if err := fn(view); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	cases  map[workflow.CaseID]*workflow.Case
	events map[workflow.CaseID][]workflow.Event
	seq    map[workflow.CaseID]int64
}

func (m *Memory) snapshot() memorySnapshot {
	casesCopy := make(map[workflow.CaseID]*workflow.Case, len(m.cases))
	for k, v := range m.cases {
		casesCopy[k] = v.Clone()
	}
	eventsCopy := make(map[workflow.CaseID][]workflow.Event, len(m.events))
	for k, v := range m.events {
		eventsCopy[k] = append([]workflow.Event{}, v...)
	}
	seqCopy := make(map[workflow.CaseID]int64, len(m.seq))
	for k, v := range m.seq {
		seqCopy[k] = v
	}
	return memorySnapshot{cases: casesCopy, events: eventsCopy, seq: seqCopy}
}

func (m *Memory) restore(s memorySnapshot) {
	m.cases = s.cases
	m.events = s.events
	m.seq = s.seq
}

// txView routes calls to the parent's locked internals. The parent's mutex
// is held for the whole transaction, so views must not lock again.
type txView struct {
	parent *Memory
}

func (tv *txView) InsertCase(_ context.Context, c *workflow.Case) error {
	return tv.parent.insertCaseLocked(c)
}

func (tv *txView) GetCase(_ context.Context, id workflow.CaseID) (*workflow.Case, error) {
	return tv.parent.getCaseLocked(id)
}

func (tv *txView) GetActiveByNaturalKey(_ context.Context, workflowID, naturalKey string) (*workflow.Case, error) {
	return tv.parent.getActiveByKeyLocked(workflowID, naturalKey)
}

func (tv *txView) UpdateTransition(_ context.Context, id workflow.CaseID, expectedStage int, patch workflow.CasePatch) error {
	return tv.parent.updateTransitionLocked(id, expectedStage, patch)
}

func (tv *txView) ListCases(_ context.Context, f workflow.ListFilter) ([]*workflow.Case, error) {
	return tv.parent.listCasesLocked(f)
}

func (tv *txView) AppendEvent(_ context.Context, ev *workflow.Event) error {
	return tv.parent.appendEventLocked(ev)
}

func (tv *txView) ListEvents(_ context.Context, id workflow.CaseID) ([]workflow.Event, error) {
	return tv.parent.listEventsLocked(id)
}

func (tv *txView) HasEvent(_ context.Context, id workflow.CaseID, t workflow.EventType) (bool, error) {
	return tv.parent.hasEventLocked(id, t)
}

func (tv *txView) WithTx(ctx context.Context, fn func(workflow.TxStore) error) error {
	return fn(tv)
}
