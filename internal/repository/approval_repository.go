package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/veloprocure/be-proc-approvals/internal/apperrors"
	"github.com/veloprocure/be-proc-approvals/internal/database"
)

// ApprovalRepository persists the per-approver, per-level approval rows.
type ApprovalRepository struct {
	db *database.DB
}

// NewApprovalRepository creates a new ApprovalRepository.
func NewApprovalRepository(db *database.DB) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

// CreateBatch inserts all approval rows for a workflow in one transaction,
// so a crash mid-initiation cannot leave a partially materialized workflow.
func (r *ApprovalRepository) CreateBatch(ctx context.Context, approvals []*Approval) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO approvals
			    (id, entity_type, entity_id, approver_id,
			     level_id, level_number, status, assigned_at, required_by)
			VALUES ($1, $2::procurement_entity_type, $3, $4,
			        $5, $6, $7::approval_status, $8, $9)
			RETURNING created_at, updated_at
		`

		for _, a := range approvals {
			err := tx.QueryRow(ctx, query,
				a.ID,
				a.EntityType,
				a.EntityID,
				a.ApproverID,
				a.LevelID,
				a.LevelNumber,
				a.Status,
				a.AssignedAt,
				a.RequiredBy,
			).Scan(&a.CreatedAt, &a.UpdatedAt)
			if err != nil {
				return apperrors.Wrap(err, apperrors.CodeInternal, "failed to create approval")
			}
		}
		return nil
	})
}

// GetByID retrieves a single approval row.
func (r *ApprovalRepository) GetByID(ctx context.Context, id string) (*Approval, error) {
	query := selectApprovals + ` WHERE id = $1`

	a, err := r.scanApproval(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound("approval", id)
	}
	return a, err
}

// GetByEntity returns every approval row for an entity ordered by level
// number then assignment time.
func (r *ApprovalRepository) GetByEntity(ctx context.Context, entityID string, entityType EntityType) ([]*Approval, error) {
	query := selectApprovals + `
		WHERE entity_id = $1 AND entity_type = $2
		ORDER BY level_number ASC, assigned_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, entityID, entityType)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to get approvals for entity")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// GetPendingForUser returns all pending approvals assigned to a user,
// soonest deadline first.
func (r *ApprovalRepository) GetPendingForUser(ctx context.Context, userID string) ([]*Approval, error) {
	query := selectApprovals + `
		WHERE approver_id = $1 AND status = 'pending'
		ORDER BY required_by ASC NULLS LAST, assigned_at ASC
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to get pending approvals")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// Decide records an approver's decision. The update is guarded on the row
// still being pending: deciding an already-decided row fails with
// AlreadyDecided, a missing row with NotFound.
func (r *ApprovalRepository) Decide(ctx context.Context, id string, status ApprovalStatus, comments *string) (*Approval, error) {
	query := `
		UPDATE approvals
		SET status     = $2::approval_status,
		    acted_at   = NOW(),
		    comments   = $3,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING id, entity_type, entity_id, approver_id,
		          level_id, level_number, status, assigned_at, required_by,
		          acted_at, comments, created_at, updated_at
	`

	a, err := r.scanApproval(r.db.QueryRow(ctx, query, id, status, comments))
	if err == pgx.ErrNoRows {
		// Distinguish "no such row" from "row already decided".
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, apperrors.New(apperrors.CodeAlreadyDecided, "approval has already been decided")
	}
	return a, err
}

// ── scan helpers ──────────────────────────────────────────────────────────────

const selectApprovals = `
	SELECT id, entity_type, entity_id, approver_id,
	       level_id, level_number, status, assigned_at, required_by,
	       acted_at, comments, created_at, updated_at
	FROM approvals`

func (r *ApprovalRepository) scanApproval(row rowScanner) (*Approval, error) {
	a := &Approval{}
	err := row.Scan(
		&a.ID,
		&a.EntityType,
		&a.EntityID,
		&a.ApproverID,
		&a.LevelID,
		&a.LevelNumber,
		&a.Status,
		&a.AssignedAt,
		&a.RequiredBy,
		&a.ActedAt,
		&a.Comments,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (r *ApprovalRepository) scanRows(rows pgx.Rows) ([]*Approval, error) {
	var approvals []*Approval
	for rows.Next() {
		a, err := r.scanApproval(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to scan approval")
		}
		approvals = append(approvals, a)
	}
	return approvals, nil
}
