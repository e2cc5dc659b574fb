package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/casebook-api/internal/models"
)

// AmendmentRepository persists amended case details and amendment records.
type AmendmentRepository struct {
	db *sqlx.DB
}

// NewAmendmentRepository constructs the repository.
func NewAmendmentRepository(db *sqlx.DB) *AmendmentRepository {
	return &AmendmentRepository{db: db}
}

type fieldChangeRow struct {
	AmendmentID string                 `db:"amendment_id"`
	Field       string                 `db:"field"`
	OldValue    string                 `db:"old_value"`
	NewValue    string                 `db:"new_value"`
	Kind        models.FieldChangeKind `db:"kind"`
}

// Save writes the amended case fields and the amendment record atomically.
// The update only applies while the case still has the status and
// updated_at it was loaded with; otherwise sql.ErrNoRows is returned.
func (r *AmendmentRepository) Save(ctx context.Context, c *models.Case, previousUpdatedAt time.Time, record *models.AmendmentRecord) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin amendment transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const update = `UPDATE cases SET hospital = $1, surgeon = $2, procedure_type = $3,
	procedure_name = $4, surgery_date = $5, surgery_time = $6,
	patient_reference = $7, special_instructions = $8,
	is_amended = $9, amended_by = $10, amended_at = $11, updated_at = $12
	WHERE id = $13 AND status = $14 AND updated_at = $15`
	result, err := tx.ExecContext(ctx, update,
		c.Hospital, c.Surgeon, c.ProcedureType,
		c.ProcedureName, c.SurgeryDate, c.SurgeryTime,
		c.PatientReference, c.SpecialInstructions,
		c.IsAmended, c.AmendedBy, c.AmendedAt, c.UpdatedAt,
		c.ID, c.Status, previousUpdatedAt)
	if err != nil {
		return fmt.Errorf("update amended case: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check amended case rows: %w", err)
	}
	if rows == 0 {
		err = sql.ErrNoRows
		return err
	}

	const insertRecord = `INSERT INTO case_amendments (id, case_id, amended_by, amended_at, reason)
	VALUES (:id, :case_id, :amended_by, :amended_at, :reason)`
	if _, err = tx.NamedExecContext(ctx, insertRecord, record); err != nil {
		return fmt.Errorf("insert amendment: %w", err)
	}
	const insertChange = `INSERT INTO case_amendment_changes (id, amendment_id, position, field, old_value, new_value, kind)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`
	for i, change := range record.Changes {
		if _, err = tx.ExecContext(ctx, insertChange, uuid.NewString(), record.ID, i, change.Field, change.OldValue, change.NewValue, change.Kind); err != nil {
			return fmt.Errorf("insert amendment change: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit amendment: %w", err)
	}
	return nil
}

// ListByCase returns amendment records of a case, oldest first, with their
// field changes in diff order.
func (r *AmendmentRepository) ListByCase(ctx context.Context, caseID string) ([]models.AmendmentRecord, error) {
	const query = `SELECT id, case_id, amended_by, amended_at, reason FROM case_amendments
	WHERE case_id = $1 ORDER BY amended_at ASC, id ASC`
	var records []models.AmendmentRecord
	if err := r.db.SelectContext(ctx, &records, query, caseID); err != nil {
		return nil, fmt.Errorf("list amendments: %w", err)
	}
	if len(records) == 0 {
		return records, nil
	}

	ids := make([]string, len(records))
	index := make(map[string]int, len(records))
	for i := range records {
		ids[i] = records[i].ID
		index[records[i].ID] = i
		records[i].Changes = []models.FieldChange{}
	}
	const changesQuery = `SELECT amendment_id, field, old_value, new_value, kind FROM case_amendment_changes
	WHERE amendment_id = ANY($1) ORDER BY amendment_id, position ASC`
	var rows []fieldChangeRow
	if err := r.db.SelectContext(ctx, &rows, changesQuery, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("list amendment changes: %w", err)
	}
	for _, row := range rows {
		i, ok := index[row.AmendmentID]
		if !ok {
			continue
		}
		records[i].Changes = append(records[i].Changes, models.FieldChange{
			Field:    row.Field,
			OldValue: row.OldValue,
			NewValue: row.NewValue,
			Kind:     row.Kind,
		})
	}
	return records, nil
}
