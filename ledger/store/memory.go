// Package store provides an in-memory ledger.TxStore for tests and dev.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/fitnessplus/coach-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu         sync.RWMutex
	members    map[memberKey]*ledger.Member
	packages   map[packageKey]*ledger.Package
	aggregates map[ledger.CoachID]*ledger.CoachAggregate
	events     map[eventKey]*ledger.Event
	applied    map[string]bool
}

type memberKey struct {
	CoachID  ledger.CoachID
	MemberID ledger.MemberID
}

type packageKey struct {
	CoachID   ledger.CoachID
	PackageID ledger.PackageID
}

type eventKey struct {
	CoachID ledger.CoachID
	EventID ledger.EventID
}

func NewMemory() *Memory {
	return &Memory{
		members:    make(map[memberKey]*ledger.Member),
		packages:   make(map[packageKey]*ledger.Package),
		aggregates: make(map[ledger.CoachID]*ledger.CoachAggregate),
		events:     make(map[eventKey]*ledger.Event),
		applied:    make(map[string]bool),
	}
}

// WithTx executes fn within a transaction. For the memory store this is a
// snapshot + rollback on error, under the write lock so transactions are
// fully serialized, same as a single-writer database.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
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

// =============================================================================
// MEMBERS
// =============================================================================

func (m *Memory) GetMember(_ context.Context, coachID ledger.CoachID, memberID ledger.MemberID) (*ledger.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getMemberLocked(coachID, memberID)
}

func (m *Memory) getMemberLocked(coachID ledger.CoachID, memberID ledger.MemberID) (*ledger.Member, error) {
	rec, ok := m.members[memberKey{coachID, memberID}]
	if !ok {
		return nil, ledger.ErrMemberNotFound
	}
	return cloneMember(rec), nil
}

func (m *Memory) PutMember(_ context.Context, rec *ledger.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putMemberLocked(rec)
	return nil
}

func (m *Memory) putMemberLocked(rec *ledger.Member) {
	m.members[memberKey{rec.CoachID, rec.ID}] = cloneMember(rec)
}

func (m *Memory) DeleteMember(_ context.Context, coachID ledger.CoachID, memberID ledger.MemberID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.members, memberKey{coachID, memberID})
	return nil
}

func (m *Memory) ListMembers(_ context.Context, coachID ledger.CoachID) ([]*ledger.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listMembersLocked(coachID), nil
}

func (m *Memory) listMembersLocked(coachID ledger.CoachID) []*ledger.Member {
	var out []*ledger.Member
	for k, rec := range m.members {
		if k.CoachID == coachID {
			out = append(out, cloneMember(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// =============================================================================
// PACKAGES
// =============================================================================

func (m *Memory) GetPackage(_ context.Context, coachID ledger.CoachID, packageID ledger.PackageID) (*ledger.Package, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getPackageLocked(coachID, packageID)
}

func (m *Memory) getPackageLocked(coachID ledger.CoachID, packageID ledger.PackageID) (*ledger.Package, error) {
	rec, ok := m.packages[packageKey{coachID, packageID}]
	if !ok {
		return nil, ledger.ErrPackageNotFound
	}
	return clonePackage(rec), nil
}

func (m *Memory) PutPackage(_ context.Context, rec *ledger.Package) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putPackageLocked(rec)
	return nil
}

func (m *Memory) putPackageLocked(rec *ledger.Package) {
	m.packages[packageKey{rec.CoachID, rec.ID}] = clonePackage(rec)
}

func (m *Memory) DeletePackage(_ context.Context, coachID ledger.CoachID, packageID ledger.PackageID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.packages, packageKey{coachID, packageID})
	return nil
}

func (m *Memory) ListPackagesByMember(_ context.Context, coachID ledger.CoachID, memberID ledger.MemberID) ([]*ledger.Package, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listPackagesByMemberLocked(coachID, memberID), nil
}

func (m *Memory) listPackagesByMemberLocked(coachID ledger.CoachID, memberID ledger.MemberID) []*ledger.Package {
	var out []*ledger.Package
	for k, rec := range m.packages {
		if k.CoachID == coachID && rec.MemberID == memberID {
			out = append(out, clonePackage(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

func (m *Memory) ListPackagesByCoach(_ context.Context, coachID ledger.CoachID) ([]*ledger.Package, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listPackagesByCoachLocked(coachID), nil
}

func (m *Memory) listPackagesByCoachLocked(coachID ledger.CoachID) []*ledger.Package {
	var out []*ledger.Package
	for k, rec := range m.packages {
		if k.CoachID == coachID {
			out = append(out, clonePackage(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MemberID != out[j].MemberID {
			return out[i].MemberID < out[j].MemberID
		}
		return out[i].Sequence < out[j].Sequence
	})
	return out
}

// =============================================================================
// AGGREGATES
// =============================================================================

func (m *Memory) GetAggregate(_ context.Context, coachID ledger.CoachID) (*ledger.CoachAggregate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getAggregateLocked(coachID), nil
}

func (m *Memory) getAggregateLocked(coachID ledger.CoachID) *ledger.CoachAggregate {
	rec, ok := m.aggregates[coachID]
	if !ok {
		return nil
	}
	cp := *rec
	return &cp
}

// ListCoaches returns every coach with a stored aggregate, sorted by ID.
func (m *Memory) ListCoaches(_ context.Context) ([]ledger.CoachID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ledger.CoachID, 0, len(m.aggregates))
	for id := range m.aggregates {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m *Memory) PutAggregate(_ context.Context, rec *ledger.CoachAggregate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putAggregateLocked(rec)
	return nil
}

func (m *Memory) putAggregateLocked(rec *ledger.CoachAggregate) {
	cp := *rec
	m.aggregates[rec.CoachID] = &cp
}

// =============================================================================
// EVENTS
// =============================================================================

func (m *Memory) GetEvent(_ context.Context, coachID ledger.CoachID, eventID ledger.EventID) (*ledger.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getEventLocked(coachID, eventID)
}

func (m *Memory) getEventLocked(coachID ledger.CoachID, eventID ledger.EventID) (*ledger.Event, error) {
	rec, ok := m.events[eventKey{coachID, eventID}]
	if !ok {
		return nil, ledger.ErrEventNotFound
	}
	return cloneEvent(rec), nil
}

func (m *Memory) PutEvent(_ context.Context, rec *ledger.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putEventLocked(rec)
	return nil
}

func (m *Memory) putEventLocked(rec *ledger.Event) {
	m.events[eventKey{rec.CoachID, rec.ID}] = cloneEvent(rec)
}

func (m *Memory) DeleteEvent(_ context.Context, coachID ledger.CoachID, eventID ledger.EventID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.events, eventKey{coachID, eventID})
	return nil
}

func (m *Memory) ListEvents(_ context.Context, coachID ledger.CoachID) ([]*ledger.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listEventsLocked(coachID), nil
}

func (m *Memory) listEventsLocked(coachID ledger.CoachID) []*ledger.Event {
	var out []*ledger.Event
	for k, rec := range m.events {
		if k.CoachID == coachID {
			out = append(out, cloneEvent(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// =============================================================================
// IDEMPOTENCY REGISTRY
// =============================================================================

func (m *Memory) Applied(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.applied[key], nil
}

func (m *Memory) MarkApplied(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markAppliedLocked(key)
}

func (m *Memory) markAppliedLocked(key string) error {
	if m.applied[key] {
		return ledger.ErrAlreadyApplied
	}
	m.applied[key] = true
	return nil
}

// =============================================================================
// SNAPSHOT / ROLLBACK
// =============================================================================

type memorySnapshot struct {
	members    map[memberKey]*ledger.Member
	packages   map[packageKey]*ledger.Package
	aggregates map[ledger.CoachID]*ledger.CoachAggregate
	events     map[eventKey]*ledger.Event
	applied    map[string]bool
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		members:    make(map[memberKey]*ledger.Member, len(m.members)),
		packages:   make(map[packageKey]*ledger.Package, len(m.packages)),
		aggregates: make(map[ledger.CoachID]*ledger.CoachAggregate, len(m.aggregates)),
		events:     make(map[eventKey]*ledger.Event, len(m.events)),
		applied:    make(map[string]bool, len(m.applied)),
	}
	for k, v := range m.members {
		s.members[k] = cloneMember(v)
	}
	for k, v := range m.packages {
		s.packages[k] = clonePackage(v)
	}
	for k, v := range m.aggregates {
		cp := *v
		s.aggregates[k] = &cp
	}
	for k, v := range m.events {
		s.events[k] = cloneEvent(v)
	}
	for k, v := range m.applied {
		s.applied[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.members = s.members
	m.packages = s.packages
	m.aggregates = s.aggregates
	m.events = s.events
	m.applied = s.applied
}

// =============================================================================
// TRANSACTIONAL VIEW
// =============================================================================

// txView is the Store handed to WithTx callbacks. The parent already holds
// its write lock for the duration of the transaction, so the view calls the
// lock-free helpers directly.
type txView struct {
	parent *Memory
}

func (tv *txView) GetMember(_ context.Context, coachID ledger.CoachID, memberID ledger.MemberID) (*ledger.Member, error) {
	return tv.parent.getMemberLocked(coachID, memberID)
}

func (tv *txView) PutMember(_ context.Context, rec *ledger.Member) error {
	tv.parent.putMemberLocked(rec)
	return nil
}

func (tv *txView) DeleteMember(_ context.Context, coachID ledger.CoachID, memberID ledger.MemberID) error {
	delete(tv.parent.members, memberKey{coachID, memberID})
	return nil
}

func (tv *txView) ListMembers(_ context.Context, coachID ledger.CoachID) ([]*ledger.Member, error) {
	return tv.parent.listMembersLocked(coachID), nil
}

func (tv *txView) GetPackage(_ context.Context, coachID ledger.CoachID, packageID ledger.PackageID) (*ledger.Package, error) {
	return tv.parent.getPackageLocked(coachID, packageID)
}

func (tv *txView) PutPackage(_ context.Context, rec *ledger.Package) error {
	tv.parent.putPackageLocked(rec)
	return nil
}

func (tv *txView) DeletePackage(_ context.Context, coachID ledger.CoachID, packageID ledger.PackageID) error {
	delete(tv.parent.packages, packageKey{coachID, packageID})
	return nil
}

func (tv *txView) ListPackagesByMember(_ context.Context, coachID ledger.CoachID, memberID ledger.MemberID) ([]*ledger.Package, error) {
	return tv.parent.listPackagesByMemberLocked(coachID, memberID), nil
}

func (tv *txView) ListPackagesByCoach(_ context.Context, coachID ledger.CoachID) ([]*ledger.Package, error) {
	return tv.parent.listPackagesByCoachLocked(coachID), nil
}

func (tv *txView) GetAggregate(_ context.Context, coachID ledger.CoachID) (*ledger.CoachAggregate, error) {
	return tv.parent.getAggregateLocked(coachID), nil
}

func (tv *txView) PutAggregate(_ context.Context, rec *ledger.CoachAggregate) error {
	tv.parent.putAggregateLocked(rec)
	return nil
}

func (tv *txView) GetEvent(_ context.Context, coachID ledger.CoachID, eventID ledger.EventID) (*ledger.Event, error) {
	return tv.parent.getEventLocked(coachID, eventID)
}

func (tv *txView) PutEvent(_ context.Context, rec *ledger.Event) error {
	tv.parent.putEventLocked(rec)
	return nil
}

func (tv *txView) DeleteEvent(_ context.Context, coachID ledger.CoachID, eventID ledger.EventID) error {
	delete(tv.parent.events, eventKey{coachID, eventID})
	return nil
}

func (tv *txView) ListEvents(_ context.Context, coachID ledger.CoachID) ([]*ledger.Event, error) {
	return tv.parent.listEventsLocked(coachID), nil
}

func (tv *txView) Applied(_ context.Context, key string) (bool, error) {
	return tv.parent.applied[key], nil
}

func (tv *txView) MarkApplied(_ context.Context, key string) error {
	return tv.parent.markAppliedLocked(key)
}

// =============================================================================
// CLONING
// =============================================================================
// Stored records are cloned on every read and write so callers can mutate
// what they hold without aliasing store state.

func cloneMember(m *ledger.Member) *ledger.Member {
	cp := *m
	if m.WindowStart != nil {
		t := *m.WindowStart
		cp.WindowStart = &t
	}
	if m.WindowEnd != nil {
		t := *m.WindowEnd
		cp.WindowEnd = &t
	}
	return &cp
}

func clonePackage(p *ledger.Package) *ledger.Package {
	cp := *p
	if p.ApprovedAt != nil {
		t := *p.ApprovedAt
		cp.ApprovedAt = &t
	}
	return &cp
}

func cloneEvent(e *ledger.Event) *ledger.Event {
	cp := *e
	cp.Participants = append([]ledger.Participant(nil), e.Participants...)
	return &cp
}
