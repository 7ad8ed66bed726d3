package repository

import (
	"context"

	"github.com/veloprocure/be-proc-approvals/internal/apperrors"
	"github.com/veloprocure/be-proc-approvals/internal/database"
)

// EntityStatusRepository updates the approval status column on the
// procurement documents themselves when a workflow finalizes. The documents
// are owned by the wider platform; this service only flips their status.
type EntityStatusRepository struct {
	db *database.DB
}

// NewEntityStatusRepository creates a new EntityStatusRepository.
func NewEntityStatusRepository(db *database.DB) *EntityStatusRepository {
	return &EntityStatusRepository{db: db}
}

// UpdateStatus sets the document's status. The target table depends on the
// entity type.
func (r *EntityStatusRepository) UpdateStatus(ctx context.Context, entityID string, entityType EntityType, status string) error {
	var query string
	switch entityType {
	case EntityProcurementRequest:
		query = `UPDATE procurement_requests SET status = $2, updated_at = NOW() WHERE id = $1`
	case EntityPurchaseOrder:
		query = `UPDATE purchase_orders SET status = $2, updated_at = NOW() WHERE id = $1`
	default:
		return apperrors.InvalidInput("entity_type", "unknown entity type")
	}

	tag, err := r.db.Exec(ctx, query, entityID, status)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "failed to update entity status")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound(string(entityType), entityID)
	}
	return nil
}
