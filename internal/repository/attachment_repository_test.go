package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/casebook-api/internal/models"
)

func TestAttachmentRepositorySaveCommit(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAttachmentRepository(db)

	now := time.Now().UTC()
	original := "att-1"
	commit := models.AttachmentCommit{
		CaseID: "case-1",
		Created: []models.Attachment{{
			ID: "att-2", CaseID: "case-1", FileName: "v2.pdf", State: models.AttachmentStateExisting,
			Replaced: true, OriginalRef: &original, UploadedAt: now,
		}},
		Deleted: []models.Attachment{{ID: "att-1", CaseID: "case-1", State: models.AttachmentStateDeleted, DeletedAt: &now}},
		Changes: []models.AttachmentChange{{ID: "chg-1", CaseID: "case-1", AttachmentID: "att-2", Type: models.AttachmentChangeReplace, FileName: "v2.pdf", Timestamp: now}},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO case_attachments")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE case_attachments SET state = $1, deleted_at = $2")).
		WithArgs(models.AttachmentStateDeleted, &now, "att-1", "case-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO case_attachment_changes")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.SaveCommit(context.Background(), commit))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttachmentRepositorySaveCommitRollsBack(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAttachmentRepository(db)

	commit := models.AttachmentCommit{
		CaseID:  "case-1",
		Created: []models.Attachment{{ID: "att-2", CaseID: "case-1"}},
		Changes: []models.AttachmentChange{{ID: "chg-1", CaseID: "case-1"}},
	}
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO case_attachments")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO case_attachment_changes")).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	require.Error(t, repo.SaveCommit(context.Background(), commit))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttachmentRepositorySkipsEmptyCommit(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	require.NoError(t, NewAttachmentRepository(db).SaveCommit(context.Background(), models.AttachmentCommit{CaseID: "case-1"}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttachmentRepositoryListByCase(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAttachmentRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "case_id", "file_name", "mime_type", "size_bytes", "checksum", "storage_path", "state",
		"replaced", "original_ref", "uploaded_by", "uploaded_at", "deleted_at"}).
		AddRow("att-1", "case-1", "v1.pdf", "application/pdf", 10, "abc", "case-1/v1.pdf", "DELETED", false, nil, "u-1", now, now).
		AddRow("att-2", "case-1", "v2.pdf", "application/pdf", 12, "def", "case-1/v2.pdf", "EXISTING", true, "att-1", "u-1", now, nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM case_attachments WHERE case_id = $1")).WithArgs("case-1").WillReturnRows(rows)

	list, err := repo.ListByCase(context.Background(), "case-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.False(t, list[0].Active())
	require.True(t, list[1].Replaced)
	require.Equal(t, "att-1", *list[1].OriginalRef)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttachmentRepositoryListChanges(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAttachmentRepository(db)

	rows := sqlmock.NewRows([]string{"id", "case_id", "attachment_id", "change_type", "file_name", "old_file_name", "actor_id", "recorded_at"}).
		AddRow("chg-1", "case-1", "att-2", "replace", "v2.pdf", "v1.pdf", "u-1", time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM case_attachment_changes WHERE case_id = $1")).WithArgs("case-1").WillReturnRows(rows)

	changes, err := repo.ListChanges(context.Background(), "case-1")
	require.NoError(t, err)
	require.Len(t, changes, 1)
	require.Equal(t, models.AttachmentChangeReplace, changes[0].Type)
	require.Equal(t, "v1.pdf", *changes[0].OldFileName)
	require.NoError(t, mock.ExpectationsWereMet())
}
