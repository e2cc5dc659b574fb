package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/casebook-api/internal/models"
)

const attachmentColumns = `id, case_id, file_name, mime_type, size_bytes, checksum, storage_path, state, replaced,
       original_ref, uploaded_by, uploaded_at, deleted_at`

// AttachmentRepository persists attachment metadata and the change log.
type AttachmentRepository struct {
	db *sqlx.DB
}

// NewAttachmentRepository constructs the repository.
func NewAttachmentRepository(db *sqlx.DB) *AttachmentRepository {
	return &AttachmentRepository{db: db}
}

// ListByCase returns every attachment of a case, deleted ones included.
func (r *AttachmentRepository) ListByCase(ctx context.Context, caseID string) ([]models.Attachment, error) {
	query := `SELECT ` + attachmentColumns + ` FROM case_attachments WHERE case_id = $1 ORDER BY uploaded_at ASC, id ASC`
	var attachments []models.Attachment
	if err := r.db.SelectContext(ctx, &attachments, query, caseID); err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	return attachments, nil
}

// GetByID fetches one attachment of a case.
func (r *AttachmentRepository) GetByID(ctx context.Context, caseID, id string) (*models.Attachment, error) {
	query := `SELECT ` + attachmentColumns + ` FROM case_attachments WHERE case_id = $1 AND id = $2`
	var att models.Attachment
	if err := r.db.GetContext(ctx, &att, query, caseID, id); err != nil {
		return nil, err
	}
	return &att, nil
}

// SaveCommit persists one editing session atomically.
func (r *AttachmentRepository) SaveCommit(ctx context.Context, commit models.AttachmentCommit) (err error) {
	if commit.Empty() {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin attachment transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const insert = `INSERT INTO case_attachments
	(id, case_id, file_name, mime_type, size_bytes, checksum, storage_path, state, replaced, original_ref, uploaded_by, uploaded_at, deleted_at)
	VALUES (:id, :case_id, :file_name, :mime_type, :size_bytes, :checksum, :storage_path, :state, :replaced, :original_ref, :uploaded_by, :uploaded_at, :deleted_at)`
	for i := range commit.Created {
		if _, err = tx.NamedExecContext(ctx, insert, &commit.Created[i]); err != nil {
			return fmt.Errorf("insert attachment: %w", err)
		}
	}

	const markDeleted = `UPDATE case_attachments SET state = $1, deleted_at = $2 WHERE id = $3 AND case_id = $4 AND state <> $1`
	for _, att := range commit.Deleted {
		if _, err = tx.ExecContext(ctx, markDeleted, models.AttachmentStateDeleted, att.DeletedAt, att.ID, att.CaseID); err != nil {
			return fmt.Errorf("delete attachment: %w", err)
		}
	}

	const insertChange = `INSERT INTO case_attachment_changes
	(id, case_id, attachment_id, change_type, file_name, old_file_name, actor_id, recorded_at)
	VALUES (:id, :case_id, :attachment_id, :change_type, :file_name, :old_file_name, :actor_id, :recorded_at)`
	for i := range commit.Changes {
		if _, err = tx.NamedExecContext(ctx, insertChange, &commit.Changes[i]); err != nil {
			return fmt.Errorf("insert attachment change: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit attachments: %w", err)
	}
	return nil
}

// ListChanges returns the attachment change log of a case, oldest first.
func (r *AttachmentRepository) ListChanges(ctx context.Context, caseID string) ([]models.AttachmentChange, error) {
	const query = `SELECT id, case_id, attachment_id, change_type, file_name, old_file_name, actor_id, recorded_at
	FROM case_attachment_changes WHERE case_id = $1 ORDER BY recorded_at ASC, id ASC`
	var changes []models.AttachmentChange
	if err := r.db.SelectContext(ctx, &changes, query, caseID); err != nil {
		return nil, fmt.Errorf("list attachment changes: %w", err)
	}
	return changes, nil
}
