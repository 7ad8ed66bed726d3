package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/veloprocure/be-proc-approvals/internal/apperrors"
	"github.com/veloprocure/be-proc-approvals/internal/repository"
)

// In-memory fakes for the store interfaces. They preserve insertion order so
// selection and resolution behave like the ordered SQL queries they stand in
// for.

type memHierarchyStore struct {
	hierarchies []*repository.ApprovalHierarchy
	levels      map[string][]*repository.ApprovalLevel
}

func newMemHierarchyStore() *memHierarchyStore {
	return &memHierarchyStore{levels: make(map[string][]*repository.ApprovalLevel)}
}

func (s *memHierarchyStore) ListByEntityType(_ context.Context, entityType repository.EntityType) ([]*repository.ApprovalHierarchy, error) {
	var out []*repository.ApprovalHierarchy
	for _, h := range s.hierarchies {
		if h.EntityType == entityType {
			out = append(out, h)
		}
	}
	return out, nil
}

func (s *memHierarchyStore) GetLevels(_ context.Context, hierarchyID string) ([]*repository.ApprovalLevel, error) {
	levels := append([]*repository.ApprovalLevel(nil), s.levels[hierarchyID]...)
	sort.SliceStable(levels, func(i, j int) bool { return levels[i].SortOrder < levels[j].SortOrder })
	return levels, nil
}

func (s *memHierarchyStore) GetLevelByID(_ context.Context, id string) (*repository.ApprovalLevel, error) {
	for _, levels := range s.levels {
		for _, l := range levels {
			if l.ID == id {
				return l, nil
			}
		}
	}
	return nil, apperrors.NotFound("approval_level", id)
}

type memApprovalStore struct {
	mu    sync.Mutex
	rows  map[string]*repository.Approval
	order []string
}

func newMemApprovalStore() *memApprovalStore {
	return &memApprovalStore{rows: make(map[string]*repository.Approval)}
}

func (s *memApprovalStore) CreateBatch(_ context.Context, approvals []*repository.Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range approvals {
		cp := *a
		s.rows[a.ID] = &cp
		s.order = append(s.order, a.ID)
	}
	return nil
}

func (s *memApprovalStore) GetByID(_ context.Context, id string) (*repository.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.rows[id]
	if !ok {
		return nil, apperrors.NotFound("approval", id)
	}
	cp := *a
	return &cp, nil
}

func (s *memApprovalStore) GetByEntity(_ context.Context, entityID string, entityType repository.EntityType) ([]*repository.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*repository.Approval
	for _, id := range s.order {
		a := s.rows[id]
		if a.EntityID == entityID && a.EntityType == entityType {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].LevelNumber < out[j].LevelNumber })
	return out, nil
}

func (s *memApprovalStore) GetPendingForUser(_ context.Context, userID string) ([]*repository.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*repository.Approval
	for _, id := range s.order {
		a := s.rows[id]
		if a.ApproverID == userID && a.Status == repository.StatusPending {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memApprovalStore) Decide(_ context.Context, id string, status repository.ApprovalStatus, comments *string) (*repository.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.rows[id]
	if !ok {
		return nil, apperrors.NotFound("approval", id)
	}
	if a.Status != repository.StatusPending {
		return nil, apperrors.New(apperrors.CodeAlreadyDecided, "approval has already been decided")
	}
	now := time.Now().UTC()
	a.Status = status
	a.ActedAt = &now
	a.Comments = comments
	cp := *a
	return &cp, nil
}

func (s *memApprovalStore) countForEntity(entityID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.rows {
		if a.EntityID == entityID {
			n++
		}
	}
	return n
}

type memUserDirectory struct {
	byRole map[repository.ApproverRole][]*repository.User
}

func newMemUserDirectory() *memUserDirectory {
	return &memUserDirectory{byRole: make(map[repository.ApproverRole][]*repository.User)}
}

func (d *memUserDirectory) add(id string, role repository.ApproverRole, department string) {
	u := &repository.User{ID: id, Name: id, Role: role, IsActive: true}
	if department != "" {
		u.Department = &department
	}
	d.byRole[role] = append(d.byRole[role], u)
}

func (d *memUserDirectory) GetByRole(_ context.Context, role repository.ApproverRole) ([]*repository.User, error) {
	return d.byRole[role], nil
}

type memAuditLog struct {
	mu         sync.Mutex
	entries    []*repository.AuditEntry
	failAppend bool
}

func (l *memAuditLog) Append(_ context.Context, entry *repository.AuditEntry) error {
	if l.failAppend {
		return errors.New("audit store unavailable")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	return nil
}

func (l *memAuditLog) GetByEntity(_ context.Context, entityID string, entityType repository.EntityType) ([]*repository.AuditEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*repository.AuditEntry
	for _, e := range l.entries {
		if e.EntityID == entityID && e.EntityType == entityType {
			out = append(out, e)
		}
	}
	return out, nil
}

type memEntityStatusStore struct {
	mu       sync.Mutex
	statuses map[string]string
}

func newMemEntityStatusStore() *memEntityStatusStore {
	return &memEntityStatusStore{statuses: make(map[string]string)}
}

func (s *memEntityStatusStore) UpdateStatus(_ context.Context, entityID string, _ repository.EntityType, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[entityID] = status
	return nil
}

func (s *memEntityStatusStore) statusOf(entityID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statuses[entityID]
}

type publishedEvent struct {
	eventType  string
	recipients []string
}

type memPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *memPublisher) PublishApprovalEvent(_ context.Context, eventType string, _ repository.EntityType, _, _ string, recipients []string, _ map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{eventType: eventType, recipients: recipients})
}

func (p *memPublisher) eventTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.eventType)
	}
	return out
}

// testEnv bundles a service wired against fresh fakes.
type testEnv struct {
	svc         *WorkflowService
	hierarchies *memHierarchyStore
	approvals   *memApprovalStore
	users       *memUserDirectory
	audit       *memAuditLog
	entities    *memEntityStatusStore
	events      *memPublisher
}

func newTestEnv() *testEnv {
	env := &testEnv{
		hierarchies: newMemHierarchyStore(),
		approvals:   newMemApprovalStore(),
		users:       newMemUserDirectory(),
		audit:       &memAuditLog{},
		entities:    newMemEntityStatusStore(),
		events:      &memPublisher{},
	}
	env.svc = NewWorkflowService(
		env.hierarchies, env.approvals, env.users, env.audit, env.entities, env.events,
		zerolog.Nop())
	return env
}

// addHierarchy registers a hierarchy with its levels; level sort order
// follows slice position.
func (env *testEnv) addHierarchy(id string, entityType repository.EntityType, isDefault, isActive bool, levels ...*repository.ApprovalLevel) {
	env.hierarchies.hierarchies = append(env.hierarchies.hierarchies, &repository.ApprovalHierarchy{
		ID:         id,
		EntityType: entityType,
		Name:       id,
		IsDefault:  isDefault,
		IsActive:   isActive,
	})
	for i, l := range levels {
		l.HierarchyID = id
		if l.ID == "" {
			l.ID = id + "-L" + string(rune('0'+l.LevelNumber))
		}
		l.SortOrder = i + 1
		if l.RequiredCount == 0 {
			l.RequiredCount = 1
		}
	}
	env.hierarchies.levels[id] = levels
}
