package dto

import (
	"time"

	"github.com/noah-isme/casebook-api/internal/models"
)

// AttachmentRejection names a file refused during an upload.
type AttachmentRejection struct {
	FileName string `json:"fileName"`
	Reason   string `json:"reason"`
}

// AttachmentResult is returned by every attachment mutation.
type AttachmentResult struct {
	Attachments []models.Attachment       `json:"attachments"`
	Rejected    []AttachmentRejection     `json:"rejected,omitempty"`
	Changes     []models.AttachmentChange `json:"changes"`
}

// AttachmentDownloadResponse returns a signed URL for one attachment.
type AttachmentDownloadResponse struct {
	models.Attachment
	DownloadURL string    `json:"downloadUrl"`
	ExpiresAt   time.Time `json:"expiresAt"`
}
