package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/veloprocure/be-proc-approvals/internal/apperrors"
	"github.com/veloprocure/be-proc-approvals/internal/repository"
)

// ── Collaborator interfaces ───────────────────────────────────────────────────

// HierarchyStore reads approval hierarchy configuration.
type HierarchyStore interface {
	ListByEntityType(ctx context.Context, entityType repository.EntityType) ([]*repository.ApprovalHierarchy, error)
	GetLevels(ctx context.Context, hierarchyID string) ([]*repository.ApprovalLevel, error)
	GetLevelByID(ctx context.Context, id string) (*repository.ApprovalLevel, error)
}

// ApprovalStore persists and reads approval rows.
type ApprovalStore interface {
	CreateBatch(ctx context.Context, approvals []*repository.Approval) error
	GetByID(ctx context.Context, id string) (*repository.Approval, error)
	GetByEntity(ctx context.Context, entityID string, entityType repository.EntityType) ([]*repository.Approval, error)
	GetPendingForUser(ctx context.Context, userID string) ([]*repository.Approval, error)
	Decide(ctx context.Context, id string, status repository.ApprovalStatus, comments *string) (*repository.Approval, error)
}

// UserDirectory resolves users by role.
type UserDirectory interface {
	GetByRole(ctx context.Context, role repository.ApproverRole) ([]*repository.User, error)
}

// AuditLog appends and reads immutable audit entries.
type AuditLog interface {
	Append(ctx context.Context, entry *repository.AuditEntry) error
	GetByEntity(ctx context.Context, entityID string, entityType repository.EntityType) ([]*repository.AuditEntry, error)
}

// EntityStatusStore flips the approval status on the procurement document
// when the workflow finalizes.
type EntityStatusStore interface {
	UpdateStatus(ctx context.Context, entityID string, entityType repository.EntityType, status string) error
}

// EventPublisher publishes approval events for the notifications service.
// Implementations must never fail the caller.
type EventPublisher interface {
	PublishApprovalEvent(ctx context.Context, eventType string, entityType repository.EntityType, entityID, actorID string, recipients []string, payload map[string]interface{})
}

// ── Request / result types ────────────────────────────────────────────────────

// WorkflowContext carries the facts needed to select a hierarchy and resolve
// approvers. It is never persisted.
type WorkflowContext struct {
	EntityID    string
	EntityType  repository.EntityType
	Amount      *int64
	Department  *string
	RequestedBy string
}

// ApproverStatus is one approver's state within a step.
type ApproverStatus struct {
	UserID   string                    `json:"user_id"`
	Status   repository.ApprovalStatus `json:"status"`
	ActedAt  *time.Time                `json:"acted_at,omitempty"`
	Comments *string                   `json:"comments,omitempty"`
}

// ApprovalStep is the derived, per-level reporting view. It is recomputed
// from approval rows on every query and is never the source of truth.
type ApprovalStep struct {
	LevelID       string                  `json:"level_id"`
	LevelNumber   int                     `json:"level_number"`
	LevelName     string                  `json:"level_name,omitempty"`
	RequiredRole  repository.ApproverRole `json:"required_role,omitempty"`
	RequiredCount int                     `json:"required_count,omitempty"`
	IsParallel    bool                    `json:"is_parallel"`
	TimeoutHours  *int                    `json:"timeout_hours,omitempty"`
	Status        repository.StepStatus   `json:"status"`
	Approvers     []ApproverStatus        `json:"approvers"`
}

// Action is an approver's decision on one approval row.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// ActionResult describes what an approval action did to the workflow.
type ActionResult struct {
	WorkflowComplete bool                  `json:"workflow_complete"`
	FinalStatus      repository.StepStatus `json:"final_status,omitempty"`
	NextStep         *ApprovalStep         `json:"next_step,omitempty"`
}

// WorkflowStatus is the aggregate view over all levels of an entity's
// workflow.
type WorkflowStatus struct {
	Status          repository.StepStatus `json:"status"`
	CurrentLevel    *int                  `json:"current_level,omitempty"`
	CompletedLevels []int                 `json:"completed_levels"`
	TotalLevels     int                   `json:"total_levels"`
	Steps           []ApprovalStep        `json:"steps"`
}

// ── Service ──────────────────────────────────────────────────────────────────

// WorkflowService orchestrates the multi-level approval workflow: hierarchy
// selection, approval materialization, action processing, level advancement
// and aggregate reporting. It holds no workflow state of its own.
type WorkflowService struct {
	hierarchies HierarchyStore
	approvals   ApprovalStore
	users       UserDirectory
	audit       AuditLog
	entities    EntityStatusStore
	events      EventPublisher
	log         zerolog.Logger

	// entityLocks serializes action processing per entity so two
	// near-simultaneous approvals cannot both advance or finalize.
	entityLocks sync.Map // key string -> *sync.Mutex
}

// NewWorkflowService creates a new WorkflowService. events may be nil to
// disable event publishing.
func NewWorkflowService(
	hierarchies HierarchyStore,
	approvals ApprovalStore,
	users UserDirectory,
	audit AuditLog,
	entities EntityStatusStore,
	events EventPublisher,
	log zerolog.Logger,
) *WorkflowService {
	return &WorkflowService{
		hierarchies: hierarchies,
		approvals:   approvals,
		users:       users,
		audit:       audit,
		entities:    entities,
		events:      events,
		log:         log,
	}
}

// ── Hierarchy selection ───────────────────────────────────────────────────────

// DetermineHierarchy picks the hierarchy applicable to the context: the
// first default+active hierarchy for the entity type, else the first active
// one, else nil.
func (s *WorkflowService) DetermineHierarchy(ctx context.Context, wctx *WorkflowContext) (*repository.ApprovalHierarchy, error) {
	hierarchies, err := s.hierarchies.ListByEntityType(ctx, wctx.EntityType)
	if err != nil {
		return nil, err
	}

	for _, h := range hierarchies {
		if h.IsDefault && h.IsActive {
			return h, nil
		}
	}
	for _, h := range hierarchies {
		if h.IsActive {
			return h, nil
		}
	}
	return nil, nil
}

// ── Workflow initiation ───────────────────────────────────────────────────────

// Initiate materializes the full approval workflow for an entity: every
// level of the selected hierarchy gets its approval rows up front. Levels
// with no eligible approvers get no rows and are reported as skipped steps
// rather than blocking the workflow.
func (s *WorkflowService) Initiate(ctx context.Context, wctx *WorkflowContext) ([]ApprovalStep, error) {
	if !wctx.EntityType.Valid() {
		return nil, apperrors.InvalidInput("entity_type", "unknown entity type")
	}
	if wctx.EntityID == "" {
		return nil, apperrors.InvalidInput("entity_id", "entity id is required")
	}
	if wctx.RequestedBy == "" {
		return nil, apperrors.InvalidInput("requested_by", "requester is required")
	}

	hierarchy, err := s.DetermineHierarchy(ctx, wctx)
	if err != nil {
		return nil, err
	}
	if hierarchy == nil {
		return nil, apperrors.New(apperrors.CodeNoHierarchy,
			"no approval hierarchy configured for entity type "+string(wctx.EntityType))
	}

	levels, err := s.hierarchies.GetLevels(ctx, hierarchy.ID)
	if err != nil {
		return nil, err
	}
	if len(levels) == 0 {
		return nil, apperrors.New(apperrors.CodeNoLevels,
			"approval hierarchy "+hierarchy.Name+" has no levels configured")
	}

	now := time.Now().UTC()
	var steps []ApprovalStep
	var rows []*repository.Approval

	for _, level := range levels {
		eligible, err := s.EligibleApprovers(ctx, level, wctx)
		if err != nil {
			return nil, err
		}
		if len(eligible) == 0 {
			s.log.Warn().
				Str("entity_id", wctx.EntityID).
				Str("level", level.Name).
				Int("level_number", level.LevelNumber).
				Str("required_role", string(level.RequiredRole)).
				Msg("No eligible approvers for level, skipping")
			steps = append(steps, ApprovalStep{
				LevelID:       level.ID,
				LevelNumber:   level.LevelNumber,
				LevelName:     level.Name,
				RequiredRole:  level.RequiredRole,
				RequiredCount: level.RequiredCount,
				IsParallel:    level.IsParallel,
				TimeoutHours:  level.TimeoutHours,
				Status:        repository.StepSkipped,
			})
			continue
		}

		selected := selectApprovers(eligible, level)

		var requiredBy *time.Time
		if level.TimeoutHours != nil {
			t := now.Add(time.Duration(*level.TimeoutHours) * time.Hour)
			requiredBy = &t
		}

		step := ApprovalStep{
			LevelID:       level.ID,
			LevelNumber:   level.LevelNumber,
			LevelName:     level.Name,
			RequiredRole:  level.RequiredRole,
			RequiredCount: level.RequiredCount,
			IsParallel:    level.IsParallel,
			TimeoutHours:  level.TimeoutHours,
			Status:        repository.StepPending,
		}

		for _, userID := range selected {
			step.Approvers = append(step.Approvers, ApproverStatus{
				UserID: userID,
				Status: repository.StatusPending,
			})
			rows = append(rows, &repository.Approval{
				ID:          uuid.NewString(),
				EntityType:  wctx.EntityType,
				EntityID:    wctx.EntityID,
				ApproverID:  userID,
				LevelID:     level.ID,
				LevelNumber: level.LevelNumber,
				Status:      repository.StatusPending,
				AssignedAt:  now,
				RequiredBy:  requiredBy,
			})
		}

		steps = append(steps, step)
	}

	if len(rows) > 0 {
		if err := s.approvals.CreateBatch(ctx, rows); err != nil {
			return nil, err
		}
	}

	s.log.Info().
		Str("entity_id", wctx.EntityID).
		Str("entity_type", string(wctx.EntityType)).
		Str("hierarchy", hierarchy.Name).
		Int("levels", len(steps)).
		Int("approvals", len(rows)).
		Msg("Approval workflow initiated")

	s.appendAudit(ctx, &repository.AuditEntry{
		EntityType:  wctx.EntityType,
		EntityID:    wctx.EntityID,
		Action:      "submitted",
		PerformedBy: wctx.RequestedBy,
		Metadata: map[string]interface{}{
			"hierarchy": hierarchy.Name,
			"levels":    len(steps),
		},
	})

	for _, step := range steps {
		if step.Status == repository.StepSkipped {
			continue
		}
		s.publish(ctx, "approval_required", wctx.EntityType, wctx.EntityID, wctx.RequestedBy,
			approverIDs(step.Approvers), map[string]interface{}{
				"level_number": step.LevelNumber,
				"level_name":   step.LevelName,
			})
		break
	}
	s.publish(ctx, "workflow_initiated", wctx.EntityType, wctx.EntityID, wctx.RequestedBy,
		[]string{wctx.RequestedBy}, nil)

	return steps, nil
}

// EligibleApprovers returns the user ids eligible to approve a level under
// the given context: role match, department match for department approvers,
// and never the requester.
func (s *WorkflowService) EligibleApprovers(ctx context.Context, level *repository.ApprovalLevel, wctx *WorkflowContext) ([]string, error) {
	users, err := s.users.GetByRole(ctx, level.RequiredRole)
	if err != nil {
		return nil, err
	}

	var eligible []string
	for _, u := range users {
		if level.RequiredRole == repository.RoleDepartmentApprover && wctx.Department != nil {
			if u.Department == nil || *u.Department != *wctx.Department {
				continue
			}
		}
		if u.ID == wctx.RequestedBy {
			continue
		}
		eligible = append(eligible, u.ID)
	}
	return eligible, nil
}

// selectApprovers picks the acting approvers from the eligible pool: the
// first requiredCount for a parallel level (truncating when the pool is
// smaller), the first one otherwise.
func selectApprovers(eligible []string, level *repository.ApprovalLevel) []string {
	if level.IsParallel {
		n := level.RequiredCount
		if n > len(eligible) {
			n = len(eligible)
		}
		return eligible[:n]
	}
	return eligible[:1]
}

// ── Action processing ─────────────────────────────────────────────────────────

// ProcessAction records one approver's decision and advances or finalizes
// the workflow. Processing is serialized per entity.
func (s *WorkflowService) ProcessAction(ctx context.Context, approvalID string, action Action, approverID string, comments *string) (*ActionResult, error) {
	if action != ActionApprove && action != ActionReject {
		return nil, apperrors.InvalidInput("action", "must be approve or reject")
	}

	approval, err := s.approvals.GetByID(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	if approval.ApproverID != approverID {
		return nil, apperrors.New(apperrors.CodeUnauthorized,
			"user is not the assigned approver for this approval")
	}

	unlock := s.lockEntity(approval.EntityType, approval.EntityID)
	defer unlock()

	// A rejection anywhere terminates the workflow; rows on other levels stay
	// pending but may no longer be acted on.
	all, err := s.approvals.GetByEntity(ctx, approval.EntityID, approval.EntityType)
	if err != nil {
		return nil, err
	}
	if hasRejection(all) {
		return nil, apperrors.New(apperrors.CodeConflict,
			"approval workflow has already been rejected")
	}

	status := repository.StatusApproved
	if action == ActionReject {
		status = repository.StatusRejected
	}

	decided, err := s.approvals.Decide(ctx, approvalID, status, comments)
	if err != nil {
		return nil, err
	}

	all, err = s.approvals.GetByEntity(ctx, decided.EntityID, decided.EntityType)
	if err != nil {
		return nil, err
	}
	groups, numbers := groupByLevel(all)

	s.appendAudit(ctx, &repository.AuditEntry{
		EntityType:  decided.EntityType,
		EntityID:    decided.EntityID,
		ApprovalID:  &decided.ID,
		Action:      string(status),
		PerformedBy: approverID,
		Metadata:    map[string]interface{}{"level_number": decided.LevelNumber},
	})

	// A single rejection at any level fails the whole workflow.
	if action == ActionReject {
		s.finalize(ctx, decided.EntityType, decided.EntityID, approverID, repository.StepRejected)
		return &ActionResult{WorkflowComplete: true, FinalStatus: repository.StepRejected}, nil
	}

	if !allApproved(groups[decided.LevelNumber]) {
		// Level still waiting on other approvers.
		return &ActionResult{}, nil
	}

	next := nextLevelAfter(numbers, decided.LevelNumber)
	if next == 0 {
		s.finalize(ctx, decided.EntityType, decided.EntityID, approverID, repository.StepApproved)
		return &ActionResult{WorkflowComplete: true, FinalStatus: repository.StepApproved}, nil
	}

	nextStep := s.buildStep(ctx, next, groups[next])
	s.activateLevel(ctx, decided.EntityType, decided.EntityID, approverID, nextStep)
	return &ActionResult{NextStep: nextStep}, nil
}

// activateLevel is a side-effect hook: the rows for the level already exist
// from initiation, so activation only logs and notifies.
func (s *WorkflowService) activateLevel(ctx context.Context, entityType repository.EntityType, entityID, actorID string, step *ApprovalStep) {
	s.log.Info().
		Str("entity_id", entityID).
		Int("level_number", step.LevelNumber).
		Int("approvers", len(step.Approvers)).
		Msg("Approval level activated")

	var pending []string
	for _, a := range step.Approvers {
		if a.Status == repository.StatusPending {
			pending = append(pending, a.UserID)
		}
	}
	s.publish(ctx, "approval_required", entityType, entityID, actorID, pending,
		map[string]interface{}{
			"level_number": step.LevelNumber,
			"level_name":   step.LevelName,
		})
}

// finalize updates the entity status, audits and publishes the terminal
// event. Failures here are logged, not propagated: the approval rows are the
// source of truth and already reflect the outcome.
func (s *WorkflowService) finalize(ctx context.Context, entityType repository.EntityType, entityID, actorID string, outcome repository.StepStatus) {
	statusBefore := "pending_approval"
	statusAfter := string(outcome)

	if err := s.entities.UpdateStatus(ctx, entityID, entityType, statusAfter); err != nil {
		s.log.Error().Err(err).
			Str("entity_id", entityID).
			Str("status", statusAfter).
			Msg("Failed to update entity status on workflow completion")
	}

	s.appendAudit(ctx, &repository.AuditEntry{
		EntityType:         entityType,
		EntityID:           entityID,
		Action:             "finalized",
		PerformedBy:        actorID,
		EntityStatusBefore: &statusBefore,
		EntityStatusAfter:  &statusAfter,
	})

	event := "workflow_approved"
	if outcome == repository.StepRejected {
		event = "workflow_rejected"
	}
	s.publish(ctx, event, entityType, entityID, actorID, []string{actorID}, nil)

	s.log.Info().
		Str("entity_id", entityID).
		Str("entity_type", string(entityType)).
		Str("final_status", statusAfter).
		Msg("Approval workflow finalized")
}

// ── Aggregate status ──────────────────────────────────────────────────────────

// Status reports the aggregate workflow state for an entity, recomputed from
// the approval rows.
func (s *WorkflowService) Status(ctx context.Context, entityID string, entityType repository.EntityType) (*WorkflowStatus, error) {
	if !entityType.Valid() {
		return nil, apperrors.InvalidInput("entity_type", "unknown entity type")
	}

	all, err := s.approvals.GetByEntity(ctx, entityID, entityType)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return &WorkflowStatus{
			Status:          repository.StepPending,
			CompletedLevels: []int{},
			Steps:           []ApprovalStep{},
		}, nil
	}

	groups, numbers := groupByLevel(all)

	result := &WorkflowStatus{
		CompletedLevels: []int{},
		TotalLevels:     len(numbers),
	}
	rejected := false

	for _, n := range numbers {
		levelRows := groups[n]
		step := s.buildStep(ctx, n, levelRows)

		switch {
		case hasRejection(levelRows):
			rejected = true
			step.Status = repository.StepRejected
		case allApproved(levelRows):
			result.CompletedLevels = append(result.CompletedLevels, n)
			step.Status = repository.StepApproved
		default:
			if result.CurrentLevel == nil {
				level := n
				result.CurrentLevel = &level
			}
		}
		result.Steps = append(result.Steps, *step)
	}

	switch {
	case rejected:
		result.Status = repository.StepRejected
	case len(result.CompletedLevels) == result.TotalLevels:
		result.Status = repository.StepApproved
	default:
		result.Status = repository.StepPending
	}
	return result, nil
}

// PendingForUser returns the approval rows awaiting action from a user.
func (s *WorkflowService) PendingForUser(ctx context.Context, userID string) ([]*repository.Approval, error) {
	return s.approvals.GetPendingForUser(ctx, userID)
}

// AuditTrail returns the audit log for an entity oldest-first.
func (s *WorkflowService) AuditTrail(ctx context.Context, entityID string, entityType repository.EntityType) ([]*repository.AuditEntry, error) {
	return s.audit.GetByEntity(ctx, entityID, entityType)
}

// buildStep assembles the reporting view for one level from its approval
// rows, enriched with level configuration when it can still be loaded. The
// aggregate view always reports is_parallel as true; per-approver detail is
// preserved in the approvers list regardless.
func (s *WorkflowService) buildStep(ctx context.Context, levelNumber int, levelRows []*repository.Approval) *ApprovalStep {
	step := &ApprovalStep{
		LevelNumber: levelNumber,
		IsParallel:  true,
		Status:      repository.StepPending,
	}
	if len(levelRows) == 0 {
		return step
	}

	step.LevelID = levelRows[0].LevelID
	if level, err := s.hierarchies.GetLevelByID(ctx, step.LevelID); err == nil {
		step.LevelName = level.Name
		step.RequiredRole = level.RequiredRole
		step.RequiredCount = level.RequiredCount
		step.TimeoutHours = level.TimeoutHours
	} else {
		s.log.Debug().Err(err).
			Str("level_id", step.LevelID).
			Msg("Could not load level configuration for status view")
	}

	for _, a := range levelRows {
		step.Approvers = append(step.Approvers, ApproverStatus{
			UserID:   a.ApproverID,
			Status:   a.Status,
			ActedAt:  a.ActedAt,
			Comments: a.Comments,
		})
	}
	return step
}

// ── Internal helpers ──────────────────────────────────────────────────────────

// lockEntity acquires the per-entity critical section and returns its
// release func.
func (s *WorkflowService) lockEntity(entityType repository.EntityType, entityID string) func() {
	key := string(entityType) + "/" + entityID
	mu, _ := s.entityLocks.LoadOrStore(key, &sync.Mutex{})
	m := mu.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

// appendAudit writes an audit entry, logging a warning on failure. Audit
// failures never interrupt workflow operations.
func (s *WorkflowService) appendAudit(ctx context.Context, entry *repository.AuditEntry) {
	if err := s.audit.Append(ctx, entry); err != nil {
		s.log.Warn().Err(err).
			Str("entity_id", entry.EntityID).
			Str("action", entry.Action).
			Msg("Failed to write audit log entry")
	}
}

// publish emits an event when a publisher is configured.
func (s *WorkflowService) publish(ctx context.Context, eventType string, entityType repository.EntityType, entityID, actorID string, recipients []string, payload map[string]interface{}) {
	if s.events == nil {
		return
	}
	s.events.PublishApprovalEvent(ctx, eventType, entityType, entityID, actorID, recipients, payload)
}

func approverIDs(approvers []ApproverStatus) []string {
	ids := make([]string, 0, len(approvers))
	for _, a := range approvers {
		ids = append(ids, a.UserID)
	}
	return ids
}
