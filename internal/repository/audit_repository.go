package repository

import (
	"context"
	"encoding/json"

	"github.com/veloprocure/be-proc-approvals/internal/apperrors"
	"github.com/veloprocure/be-proc-approvals/internal/database"
)

// AuditRepository appends and reads immutable approval audit log entries.
type AuditRepository struct {
	db *database.DB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *database.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append inserts one audit entry. The table has a delete-prevention trigger,
// so this is the only mutation exposed.
func (r *AuditRepository) Append(ctx context.Context, entry *AuditEntry) error {
	metadataJSON, err := marshalMap(entry.Metadata)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "failed to marshal audit metadata")
	}

	query := `
		INSERT INTO approval_audit_log
		    (entity_type, entity_id, approval_id,
		     action, performed_by,
		     entity_status_before, entity_status_after, metadata)
		VALUES ($1::procurement_entity_type, $2, $3,
		        $4, $5,
		        $6, $7, $8)
		RETURNING id, performed_at
	`

	return r.db.QueryRow(ctx, query,
		entry.EntityType,
		entry.EntityID,
		entry.ApprovalID,
		entry.Action,
		entry.PerformedBy,
		entry.EntityStatusBefore,
		entry.EntityStatusAfter,
		metadataJSON,
	).Scan(&entry.ID, &entry.PerformedAt)
}

// GetByEntity returns the full audit trail for an entity oldest-first.
func (r *AuditRepository) GetByEntity(ctx context.Context, entityID string, entityType EntityType) ([]*AuditEntry, error) {
	query := `
		SELECT id, entity_type, entity_id, approval_id,
		       action, performed_by, performed_at,
		       entity_status_before, entity_status_after, metadata
		FROM approval_audit_log
		WHERE entity_id = $1 AND entity_type = $2
		ORDER BY performed_at ASC
	`

	rows, err := r.db.Query(ctx, query, entityID, entityType)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to get audit log")
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		entry := &AuditEntry{}
		var metadataJSON []byte

		err := rows.Scan(
			&entry.ID,
			&entry.EntityType,
			&entry.EntityID,
			&entry.ApprovalID,
			&entry.Action,
			&entry.PerformedBy,
			&entry.PerformedAt,
			&entry.EntityStatusBefore,
			&entry.EntityStatusAfter,
			&metadataJSON,
		)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to scan audit entry")
		}

		if metadataJSON != nil {
			if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
				return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to unmarshal audit metadata")
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
