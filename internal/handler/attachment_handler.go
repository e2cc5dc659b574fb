package handler

import (
	"context"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/casebook-api/internal/dto"
	"github.com/noah-isme/casebook-api/internal/middleware"
	"github.com/noah-isme/casebook-api/internal/models"
	"github.com/noah-isme/casebook-api/internal/service"
	appErrors "github.com/noah-isme/casebook-api/pkg/errors"
	"github.com/noah-isme/casebook-api/pkg/response"
)

type attachmentService interface {
	List(ctx context.Context, caseID string, includeDeleted bool, actor models.Actor) ([]models.Attachment, error)
	Upload(ctx context.Context, caseID string, uploads []service.AttachmentUpload, actor models.Actor) (*dto.AttachmentResult, error)
	Remove(ctx context.Context, caseID, attachmentID string, actor models.Actor) (*dto.AttachmentResult, error)
	Replace(ctx context.Context, caseID, attachmentID string, upload service.AttachmentUpload, actor models.Actor) (*dto.AttachmentResult, error)
	ClearAll(ctx context.Context, caseID string, actor models.Actor) (*dto.AttachmentResult, error)
	Lineage(ctx context.Context, caseID, attachmentID string, actor models.Actor) ([]models.Attachment, error)
	Changes(ctx context.Context, caseID string, actor models.Actor) ([]models.AttachmentChange, error)
	DownloadURL(ctx context.Context, caseID, attachmentID string, actor models.Actor) (*dto.AttachmentDownloadResponse, error)
	Download(ctx context.Context, caseID, attachmentID, token string, actor models.Actor) (*service.AttachmentDownload, error)
}

// AttachmentHandler manages case attachment endpoints.
type AttachmentHandler struct {
	service attachmentService
}

// NewAttachmentHandler constructs the handler.
func NewAttachmentHandler(service attachmentService) *AttachmentHandler {
	return &AttachmentHandler{service: service}
}

// List godoc
// @Summary List case attachments
// @Tags Attachments
// @Produce json
// @Param id path string true "Case ID"
// @Param includeDeleted query bool false "Include deleted and replaced versions"
// @Success 200 {object} response.Envelope
// @Router /cases/{id}/attachments [get]
func (h *AttachmentHandler) List(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "attachment service not configured"))
		return
	}
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	items, err := h.service.List(c.Request.Context(), c.Param("id"), queryBool(c, "includeDeleted"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// Upload godoc
// @Summary Upload one or more attachments
// @Tags Attachments
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Case ID"
// @Param files formData file true "Documents"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /cases/{id}/attachments [post]
func (h *AttachmentHandler) Upload(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "attachment service not configured"))
		return
	}
	form, err := c.MultipartForm()
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "multipart form is required"))
		return
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "at least one file is required"))
		return
	}
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	uploads := make([]service.AttachmentUpload, 0, len(headers))
	for _, header := range headers {
		upload, err := openUpload(header)
		if err != nil {
			response.Error(c, err)
			return
		}
		defer upload.close() //nolint:errcheck
		uploads = append(uploads, upload.AttachmentUpload)
	}

	result, err := h.service.Upload(c.Request.Context(), c.Param("id"), uploads, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetMeta(c, "rejected", len(result.Rejected))
	response.JSON(c, http.StatusCreated, result, nil, middleware.ExtractMeta(c))
}

// Replace godoc
// @Summary Replace an attachment with a new version
// @Tags Attachments
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Case ID"
// @Param attachmentId path string true "Attachment ID"
// @Param file formData file true "Document"
// @Success 200 {object} response.Envelope
// @Router /cases/{id}/attachments/{attachmentId} [put]
func (h *AttachmentHandler) Replace(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "attachment service not configured"))
		return
	}
	header, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file is required"))
		return
	}
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	upload, err := openUpload(header)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer upload.close() //nolint:errcheck

	result, err := h.service.Replace(c.Request.Context(), c.Param("id"), c.Param("attachmentId"), upload.AttachmentUpload, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Remove godoc
// @Summary Remove an attachment
// @Tags Attachments
// @Produce json
// @Param id path string true "Case ID"
// @Param attachmentId path string true "Attachment ID"
// @Success 200 {object} response.Envelope
// @Router /cases/{id}/attachments/{attachmentId} [delete]
func (h *AttachmentHandler) Remove(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "attachment service not configured"))
		return
	}
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	result, err := h.service.Remove(c.Request.Context(), c.Param("id"), c.Param("attachmentId"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// ClearAll godoc
// @Summary Remove every active attachment of a case
// @Tags Attachments
// @Produce json
// @Param id path string true "Case ID"
// @Success 200 {object} response.Envelope
// @Router /cases/{id}/attachments [delete]
func (h *AttachmentHandler) ClearAll(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "attachment service not configured"))
		return
	}
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	result, err := h.service.ClearAll(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Lineage godoc
// @Summary Walk the replacement chain of an attachment
// @Tags Attachments
// @Produce json
// @Param id path string true "Case ID"
// @Param attachmentId path string true "Attachment ID"
// @Success 200 {object} response.Envelope
// @Router /cases/{id}/attachments/{attachmentId}/lineage [get]
func (h *AttachmentHandler) Lineage(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "attachment service not configured"))
		return
	}
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	chain, err := h.service.Lineage(c.Request.Context(), c.Param("id"), c.Param("attachmentId"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, chain, nil)
}

// Changes godoc
// @Summary List the attachment change log of a case
// @Tags Attachments
// @Produce json
// @Param id path string true "Case ID"
// @Success 200 {object} response.Envelope
// @Router /cases/{id}/attachment-changes [get]
func (h *AttachmentHandler) Changes(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "attachment service not configured"))
		return
	}
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	changes, err := h.service.Changes(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, changes, nil)
}

// DownloadURL godoc
// @Summary Issue a signed download URL
// @Tags Attachments
// @Produce json
// @Param id path string true "Case ID"
// @Param attachmentId path string true "Attachment ID"
// @Success 200 {object} response.Envelope
// @Router /cases/{id}/attachments/{attachmentId} [get]
func (h *AttachmentHandler) DownloadURL(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "attachment service not configured"))
		return
	}
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	link, err := h.service.DownloadURL(c.Request.Context(), c.Param("id"), c.Param("attachmentId"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, link, nil)
}

// Download godoc
// @Summary Download an attachment via signed token
// @Tags Attachments
// @Produce octet-stream
// @Param id path string true "Case ID"
// @Param attachmentId path string true "Attachment ID"
// @Param token query string true "Signed token"
// @Success 200 {file} binary
// @Router /cases/{id}/attachments/{attachmentId}/download [get]
func (h *AttachmentHandler) Download(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "attachment service not configured"))
		return
	}
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	token := c.Query("token")
	if strings.TrimSpace(token) == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	result, err := h.service.Download(c.Request.Context(), c.Param("id"), c.Param("attachmentId"), token, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer result.File.Close() //nolint:errcheck
	response.AttachmentStream(c, result.FileName, result.MimeType, result.SizeBytes, result.File)
}

type openedUpload struct {
	service.AttachmentUpload
	file multipart.File
}

func (u openedUpload) close() error {
	return u.file.Close()
}

func openUpload(header *multipart.FileHeader) (openedUpload, error) {
	src, err := header.Open()
	if err != nil {
		return openedUpload{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file")
	}
	return openedUpload{
		AttachmentUpload: service.AttachmentUpload{
			FileName: header.Filename,
			Size:     header.Size,
			MimeType: header.Header.Get("Content-Type"),
			Content:  src,
		},
		file: src,
	}, nil
}
