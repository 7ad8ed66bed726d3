package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/veloprocure/be-proc-approvals/internal/apperrors"
	"github.com/veloprocure/be-proc-approvals/internal/database"
)

// HierarchyRepository handles CRUD for approval hierarchies and their levels.
type HierarchyRepository struct {
	db *database.DB
}

// NewHierarchyRepository creates a new HierarchyRepository.
func NewHierarchyRepository(db *database.DB) *HierarchyRepository {
	return &HierarchyRepository{db: db}
}

// ── Hierarchies ───────────────────────────────────────────────────────────────

// ListByEntityType returns all hierarchies for an entity type in creation
// order, so selection is deterministic across calls.
func (r *HierarchyRepository) ListByEntityType(ctx context.Context, entityType EntityType) ([]*ApprovalHierarchy, error) {
	query := `
		SELECT id, entity_type, name, description, is_active, is_default,
		       conditions, created_at, updated_at
		FROM approval_hierarchies
		WHERE entity_type = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, entityType)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to list approval hierarchies")
	}
	defer rows.Close()

	var hierarchies []*ApprovalHierarchy
	for rows.Next() {
		h, err := r.scanHierarchy(rows)
		if err != nil {
			return nil, err
		}
		hierarchies = append(hierarchies, h)
	}
	return hierarchies, nil
}

// GetByID retrieves a hierarchy by primary key.
func (r *HierarchyRepository) GetByID(ctx context.Context, id string) (*ApprovalHierarchy, error) {
	query := `
		SELECT id, entity_type, name, description, is_active, is_default,
		       conditions, created_at, updated_at
		FROM approval_hierarchies
		WHERE id = $1
	`

	h, err := r.scanHierarchy(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound("approval_hierarchy", id)
	}
	return h, err
}

// Create inserts a new hierarchy. Marking it default+active while another
// default+active hierarchy exists for the same entity type is rejected, so
// selection never has to tie-break.
func (r *HierarchyRepository) Create(ctx context.Context, h *ApprovalHierarchy) error {
	if err := r.assertNoOtherDefault(ctx, h, ""); err != nil {
		return err
	}

	conditionsJSON, err := marshalMap(h.Conditions)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "failed to marshal hierarchy conditions")
	}

	query := `
		INSERT INTO approval_hierarchies
		    (entity_type, name, description, is_active, is_default, conditions)
		VALUES ($1::procurement_entity_type, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`

	return r.db.QueryRow(ctx, query,
		h.EntityType,
		h.Name,
		h.Description,
		h.IsActive,
		h.IsDefault,
		conditionsJSON,
	).Scan(&h.ID, &h.CreatedAt, &h.UpdatedAt)
}

// Update persists changes to an existing hierarchy, with the same
// duplicate-default guard as Create.
func (r *HierarchyRepository) Update(ctx context.Context, h *ApprovalHierarchy) error {
	if err := r.assertNoOtherDefault(ctx, h, h.ID); err != nil {
		return err
	}

	conditionsJSON, err := marshalMap(h.Conditions)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "failed to marshal hierarchy conditions")
	}

	query := `
		UPDATE approval_hierarchies
		SET name        = $2,
		    description = $3,
		    is_active   = $4,
		    is_default  = $5,
		    conditions  = $6,
		    updated_at  = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err = r.db.QueryRow(ctx, query,
		h.ID,
		h.Name,
		h.Description,
		h.IsActive,
		h.IsDefault,
		conditionsJSON,
	).Scan(&h.UpdatedAt)
	if err == pgx.ErrNoRows {
		return apperrors.NotFound("approval_hierarchy", h.ID)
	}
	return err
}

// Delete removes a hierarchy; its levels go with it (FK cascade).
func (r *HierarchyRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM approval_hierarchies WHERE id = $1`, id)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "failed to delete approval hierarchy")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("approval_hierarchy", id)
	}
	return nil
}

// assertNoOtherDefault enforces at most one default+active hierarchy per
// entity type at write time.
func (r *HierarchyRepository) assertNoOtherDefault(ctx context.Context, h *ApprovalHierarchy, excludeID string) error {
	if !h.IsDefault || !h.IsActive {
		return nil
	}

	query := `
		SELECT EXISTS (
			SELECT 1 FROM approval_hierarchies
			WHERE entity_type = $1 AND is_default AND is_active AND id <> $2
		)
	`

	var exists bool
	if err := r.db.QueryRow(ctx, query, h.EntityType, excludeID).Scan(&exists); err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "failed to check default hierarchy uniqueness")
	}
	if exists {
		return apperrors.New(apperrors.CodeConflict,
			"another default active hierarchy already exists for this entity type")
	}
	return nil
}

// ── Levels ────────────────────────────────────────────────────────────────────

// GetLevels returns a hierarchy's levels ordered by sort_order, the
// authoritative execution sequence.
func (r *HierarchyRepository) GetLevels(ctx context.Context, hierarchyID string) ([]*ApprovalLevel, error) {
	query := `
		SELECT id, hierarchy_id, level_number, name, description,
		       required_role, required_count, is_parallel, timeout_hours,
		       sort_order, created_at, updated_at
		FROM approval_levels
		WHERE hierarchy_id = $1
		ORDER BY sort_order ASC, level_number ASC
	`

	rows, err := r.db.Query(ctx, query, hierarchyID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to get approval levels")
	}
	defer rows.Close()

	var levels []*ApprovalLevel
	for rows.Next() {
		l, err := r.scanLevel(rows)
		if err != nil {
			return nil, err
		}
		levels = append(levels, l)
	}
	return levels, nil
}

// GetLevelByID retrieves a single level.
func (r *HierarchyRepository) GetLevelByID(ctx context.Context, id string) (*ApprovalLevel, error) {
	query := `
		SELECT id, hierarchy_id, level_number, name, description,
		       required_role, required_count, is_parallel, timeout_hours,
		       sort_order, created_at, updated_at
		FROM approval_levels
		WHERE id = $1
	`

	l, err := r.scanLevel(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound("approval_level", id)
	}
	return l, err
}

// CreateLevel inserts a level under a hierarchy. Level numbers are unique
// within a hierarchy (also enforced by a DB constraint).
func (r *HierarchyRepository) CreateLevel(ctx context.Context, l *ApprovalLevel) error {
	query := `
		INSERT INTO approval_levels
		    (hierarchy_id, level_number, name, description,
		     required_role, required_count, is_parallel, timeout_hours, sort_order)
		VALUES ($1, $2, $3, $4,
		        $5::approver_role, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`

	return r.db.QueryRow(ctx, query,
		l.HierarchyID,
		l.LevelNumber,
		l.Name,
		l.Description,
		l.RequiredRole,
		l.RequiredCount,
		l.IsParallel,
		l.TimeoutHours,
		l.SortOrder,
	).Scan(&l.ID, &l.CreatedAt, &l.UpdatedAt)
}

// UpdateLevel persists changes to an existing level.
func (r *HierarchyRepository) UpdateLevel(ctx context.Context, l *ApprovalLevel) error {
	query := `
		UPDATE approval_levels
		SET level_number   = $2,
		    name           = $3,
		    description    = $4,
		    required_role  = $5::approver_role,
		    required_count = $6,
		    is_parallel    = $7,
		    timeout_hours  = $8,
		    sort_order     = $9,
		    updated_at     = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.db.QueryRow(ctx, query,
		l.ID,
		l.LevelNumber,
		l.Name,
		l.Description,
		l.RequiredRole,
		l.RequiredCount,
		l.IsParallel,
		l.TimeoutHours,
		l.SortOrder,
	).Scan(&l.UpdatedAt)
	if err == pgx.ErrNoRows {
		return apperrors.NotFound("approval_level", l.ID)
	}
	return err
}

// DeleteLevel removes a single level.
func (r *HierarchyRepository) DeleteLevel(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM approval_levels WHERE id = $1`, id)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "failed to delete approval level")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("approval_level", id)
	}
	return nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *HierarchyRepository) scanHierarchy(row rowScanner) (*ApprovalHierarchy, error) {
	h := &ApprovalHierarchy{}
	var conditionsJSON []byte

	err := row.Scan(
		&h.ID,
		&h.EntityType,
		&h.Name,
		&h.Description,
		&h.IsActive,
		&h.IsDefault,
		&conditionsJSON,
		&h.CreatedAt,
		&h.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if conditionsJSON != nil {
		if err := json.Unmarshal(conditionsJSON, &h.Conditions); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to unmarshal hierarchy conditions")
		}
	}
	return h, nil
}

func (r *HierarchyRepository) scanLevel(row rowScanner) (*ApprovalLevel, error) {
	l := &ApprovalLevel{}
	err := row.Scan(
		&l.ID,
		&l.HierarchyID,
		&l.LevelNumber,
		&l.Name,
		&l.Description,
		&l.RequiredRole,
		&l.RequiredCount,
		&l.IsParallel,
		&l.TimeoutHours,
		&l.SortOrder,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return l, nil
}

func marshalMap(m map[string]interface{}) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}
