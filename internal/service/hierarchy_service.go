package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/veloprocure/be-proc-approvals/internal/apperrors"
	"github.com/veloprocure/be-proc-approvals/internal/repository"
)

// HierarchyAdminStore is the full configuration CRUD surface.
type HierarchyAdminStore interface {
	HierarchyStore
	GetByID(ctx context.Context, id string) (*repository.ApprovalHierarchy, error)
	Create(ctx context.Context, h *repository.ApprovalHierarchy) error
	Update(ctx context.Context, h *repository.ApprovalHierarchy) error
	Delete(ctx context.Context, id string) error
	CreateLevel(ctx context.Context, l *repository.ApprovalLevel) error
	UpdateLevel(ctx context.Context, l *repository.ApprovalLevel) error
	DeleteLevel(ctx context.Context, id string) error
}

// HierarchyService validates and persists approval hierarchy configuration.
// Configuration is administrator-edited and read-only to the engine.
type HierarchyService struct {
	store HierarchyAdminStore
	log   zerolog.Logger
}

// NewHierarchyService creates a new HierarchyService.
func NewHierarchyService(store HierarchyAdminStore, log zerolog.Logger) *HierarchyService {
	return &HierarchyService{store: store, log: log}
}

// List returns all hierarchies for an entity type.
func (s *HierarchyService) List(ctx context.Context, entityType repository.EntityType) ([]*repository.ApprovalHierarchy, error) {
	if !entityType.Valid() {
		return nil, apperrors.InvalidInput("entity_type", "unknown entity type")
	}
	return s.store.ListByEntityType(ctx, entityType)
}

// Get returns one hierarchy with its levels.
func (s *HierarchyService) Get(ctx context.Context, id string) (*repository.ApprovalHierarchy, []*repository.ApprovalLevel, error) {
	h, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	levels, err := s.store.GetLevels(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return h, levels, nil
}

// Create validates and inserts a hierarchy.
func (s *HierarchyService) Create(ctx context.Context, h *repository.ApprovalHierarchy) error {
	if err := validateHierarchy(h); err != nil {
		return err
	}
	if err := s.store.Create(ctx, h); err != nil {
		return err
	}
	s.log.Info().
		Str("hierarchy_id", h.ID).
		Str("entity_type", string(h.EntityType)).
		Str("name", h.Name).
		Msg("Approval hierarchy created")
	return nil
}

// Update validates and persists changes to a hierarchy.
func (s *HierarchyService) Update(ctx context.Context, h *repository.ApprovalHierarchy) error {
	if err := validateHierarchy(h); err != nil {
		return err
	}
	return s.store.Update(ctx, h)
}

// Delete removes a hierarchy and its levels. Caller responsibility: do not
// delete hierarchies referenced by in-flight workflows.
func (s *HierarchyService) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

// AddLevel validates and inserts a level under a hierarchy.
func (s *HierarchyService) AddLevel(ctx context.Context, l *repository.ApprovalLevel) error {
	if err := s.validateLevel(ctx, l, ""); err != nil {
		return err
	}
	return s.store.CreateLevel(ctx, l)
}

// UpdateLevel validates and persists changes to a level.
func (s *HierarchyService) UpdateLevel(ctx context.Context, l *repository.ApprovalLevel) error {
	if err := s.validateLevel(ctx, l, l.ID); err != nil {
		return err
	}
	return s.store.UpdateLevel(ctx, l)
}

// DeleteLevel removes a single level.
func (s *HierarchyService) DeleteLevel(ctx context.Context, id string) error {
	return s.store.DeleteLevel(ctx, id)
}

func validateHierarchy(h *repository.ApprovalHierarchy) error {
	if !h.EntityType.Valid() {
		return apperrors.InvalidInput("entity_type", "unknown entity type")
	}
	if h.Name == "" {
		return apperrors.InvalidInput("name", "name is required")
	}
	return nil
}

func (s *HierarchyService) validateLevel(ctx context.Context, l *repository.ApprovalLevel, excludeID string) error {
	if l.HierarchyID == "" {
		return apperrors.InvalidInput("hierarchy_id", "hierarchy id is required")
	}
	if !l.RequiredRole.Valid() {
		return apperrors.InvalidInput("required_role", "unknown approver role")
	}
	if l.RequiredCount < 1 {
		return apperrors.InvalidInput("required_count", "must be at least 1")
	}
	if l.LevelNumber < 1 {
		return apperrors.InvalidInput("level_number", "must be at least 1")
	}

	// Level numbers are unique within a hierarchy.
	existing, err := s.store.GetLevels(ctx, l.HierarchyID)
	if err != nil {
		return err
	}
	for _, other := range existing {
		if other.LevelNumber == l.LevelNumber && other.ID != excludeID {
			return apperrors.New(apperrors.CodeConflict,
				"a level with this level number already exists in the hierarchy")
		}
	}
	return nil
}
