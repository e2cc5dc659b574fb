package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/casebook-api/internal/models"
)

const caseColumns = `id, case_reference, status, is_amended, amended_by, amended_at, submitted_by, country, department,
       hospital, surgeon, procedure_type, procedure_name, surgery_date, surgery_time, patient_reference,
       special_instructions, created_at, updated_at`

// CaseRepository persists cases and their status history.
type CaseRepository struct {
	db *sqlx.DB
}

// NewCaseRepository constructs the repository.
func NewCaseRepository(db *sqlx.DB) *CaseRepository {
	return &CaseRepository{db: db}
}

type historyRow struct {
	models.StatusHistoryEntry
	AttachmentRefs pq.StringArray `db:"attachment_refs"`
}

// Create inserts a case together with its first history entry.
func (r *CaseRepository) Create(ctx context.Context, c *models.Case, entry *models.StatusHistoryEntry) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin case transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const query = `INSERT INTO cases
	(id, case_reference, status, is_amended, amended_by, amended_at, submitted_by, country, department, hospital, surgeon,
	 procedure_type, procedure_name, surgery_date, surgery_time, patient_reference, special_instructions, created_at, updated_at)
	VALUES (:id, :case_reference, :status, :is_amended, :amended_by, :amended_at, :submitted_by, :country, :department, :hospital, :surgeon,
	 :procedure_type, :procedure_name, :surgery_date, :surgery_time, :patient_reference, :special_instructions, :created_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, query, c); err != nil {
		return fmt.Errorf("create case: %w", err)
	}
	if entry != nil {
		if err = insertHistory(ctx, tx, entry); err != nil {
			return err
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit case: %w", err)
	}
	return nil
}

// GetByID fetches a case without its history.
func (r *CaseRepository) GetByID(ctx context.Context, id string) (*models.Case, error) {
	query := `SELECT ` + caseColumns + ` FROM cases WHERE id = $1`
	var c models.Case
	if err := r.db.GetContext(ctx, &c, query, id); err != nil {
		return nil, err
	}
	return &c, nil
}

// List returns one page of cases matching filter, most recently updated
// first, together with the total number of matching cases.
func (r *CaseRepository) List(ctx context.Context, filter models.CaseFilter) ([]models.Case, int, error) {
	args := make([]interface{}, 0, 4)
	conditions := make([]string, 0, 4)
	if len(filter.Status) > 0 {
		statuses := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			statuses[i] = string(status)
		}
		args = append(args, pq.Array(statuses))
		conditions = append(conditions, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if filter.Country != "" {
		args = append(args, filter.Country)
		conditions = append(conditions, fmt.Sprintf("country = $%d", len(args)))
	}
	if filter.Department != "" {
		args = append(args, filter.Department)
		conditions = append(conditions, fmt.Sprintf("department = $%d", len(args)))
	}
	if filter.SubmittedBy != "" {
		args = append(args, filter.SubmittedBy)
		conditions = append(conditions, fmt.Sprintf("submitted_by = $%d", len(args)))
	}
	base := "FROM cases"
	if len(conditions) > 0 {
		base += " WHERE " + strings.Join(conditions, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	query := fmt.Sprintf("SELECT %s %s ORDER BY updated_at DESC LIMIT %d OFFSET %d", caseColumns, base, limit, offset)

	var cases []models.Case
	if err := r.db.SelectContext(ctx, &cases, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list cases: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count cases: %w", err)
	}
	return cases, total, nil
}

// ListHistory returns a case's status history in sequence order.
func (r *CaseRepository) ListHistory(ctx context.Context, caseID string) ([]models.StatusHistoryEntry, error) {
	const query = `SELECT id, case_id, sequence, status, actor_id, actor_name, recorded_at, detail, attachment_refs
	FROM case_status_history WHERE case_id = $1 ORDER BY sequence ASC`
	var rows []historyRow
	if err := r.db.SelectContext(ctx, &rows, query, caseID); err != nil {
		return nil, fmt.Errorf("list case history: %w", err)
	}
	entries := make([]models.StatusHistoryEntry, len(rows))
	for i, row := range rows {
		entries[i] = row.StatusHistoryEntry
		if len(row.AttachmentRefs) > 0 {
			entries[i].AttachmentRefs = []string(row.AttachmentRefs)
		}
	}
	return entries, nil
}

// UpdateStatus moves a case from previous to c.Status and appends entry in
// one transaction. It returns sql.ErrNoRows when the stored status no longer
// matches previous.
func (r *CaseRepository) UpdateStatus(ctx context.Context, c *models.Case, previous models.CaseStatus, entry *models.StatusHistoryEntry) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin status transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const update = `UPDATE cases SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`
	result, err := tx.ExecContext(ctx, update, c.Status, c.UpdatedAt, c.ID, previous)
	if err != nil {
		return fmt.Errorf("update case status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check case status rows: %w", err)
	}
	if rows == 0 {
		err = sql.ErrNoRows
		return err
	}
	if err = insertHistory(ctx, tx, entry); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit case status: %w", err)
	}
	return nil
}

func insertHistory(ctx context.Context, tx *sqlx.Tx, entry *models.StatusHistoryEntry) error {
	const query = `INSERT INTO case_status_history
	(id, case_id, sequence, status, actor_id, actor_name, recorded_at, detail, attachment_refs)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	refs := entry.AttachmentRefs
	if refs == nil {
		refs = []string{}
	}
	if _, err := tx.ExecContext(ctx, query, entry.ID, entry.CaseID, entry.Sequence, entry.Status, entry.ActorID,
		entry.ActorName, entry.Timestamp, entry.Detail, pq.StringArray(refs)); err != nil {
		return fmt.Errorf("insert case history: %w", err)
	}
	return nil
}
