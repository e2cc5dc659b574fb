package models

import "time"

// AttachmentState is the lifecycle state of one attachment identity.
type AttachmentState string

const (
	AttachmentStateNew      AttachmentState = "NEW"
	AttachmentStateExisting AttachmentState = "EXISTING"
	AttachmentStateDeleted  AttachmentState = "DELETED"
)

// Attachment is file metadata tied to a case. Replaced marks an attachment
// created by replacing OriginalRef.
type Attachment struct {
	ID          string          `db:"id" json:"id"`
	CaseID      string          `db:"case_id" json:"caseId"`
	FileName    string          `db:"file_name" json:"fileName"`
	MimeType    string          `db:"mime_type" json:"mimeType"`
	SizeBytes   int64           `db:"size_bytes" json:"sizeBytes"`
	Checksum    string          `db:"checksum" json:"checksum"`
	StoragePath string          `db:"storage_path" json:"-"`
	State       AttachmentState `db:"state" json:"state"`
	Replaced    bool            `db:"replaced" json:"replaced"`
	OriginalRef *string         `db:"original_ref" json:"originalRef,omitempty"`
	UploadedBy  string          `db:"uploaded_by" json:"uploadedBy"`
	UploadedAt  time.Time       `db:"uploaded_at" json:"uploadedAt"`
	DeletedAt   *time.Time      `db:"deleted_at" json:"deletedAt,omitempty"`
}

// Active reports whether the attachment is part of the current view.
func (a Attachment) Active() bool {
	return a.State != AttachmentStateDeleted
}

// AttachmentChangeType enumerates the attachment audit actions.
type AttachmentChangeType string

const (
	AttachmentChangeAdd     AttachmentChangeType = "add"
	AttachmentChangeDelete  AttachmentChangeType = "delete"
	AttachmentChangeReplace AttachmentChangeType = "replace"
)

// AttachmentChange is the audit record of one add/delete/replace.
type AttachmentChange struct {
	ID           string               `db:"id" json:"id"`
	CaseID       string               `db:"case_id" json:"caseId"`
	AttachmentID string               `db:"attachment_id" json:"attachmentId"`
	Type         AttachmentChangeType `db:"change_type" json:"type"`
	FileName     string               `db:"file_name" json:"fileName"`
	OldFileName  *string              `db:"old_file_name" json:"oldFileName,omitempty"`
	ActorID      string               `db:"actor_id" json:"actorId"`
	Timestamp    time.Time            `db:"recorded_at" json:"timestamp"`
}

// AttachmentCommit is the set of rows one editing session must persist.
type AttachmentCommit struct {
	CaseID  string
	Created []Attachment
	Deleted []Attachment
	Changes []AttachmentChange
}

// Empty reports whether the session changed nothing.
func (c AttachmentCommit) Empty() bool {
	return len(c.Created) == 0 && len(c.Deleted) == 0 && len(c.Changes) == 0
}
