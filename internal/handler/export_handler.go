package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/casebook-api/internal/models"
	"github.com/noah-isme/casebook-api/internal/service"
	appErrors "github.com/noah-isme/casebook-api/pkg/errors"
	"github.com/noah-isme/casebook-api/pkg/response"
)

type historyExporter interface {
	Export(ctx context.Context, caseID string, format service.ExportFormat, actor models.Actor) (*service.HistoryExport, error)
}

// ExportHandler streams rendered status histories.
type ExportHandler struct {
	service historyExporter
}

// NewExportHandler constructs the handler.
func NewExportHandler(service historyExporter) *ExportHandler {
	return &ExportHandler{service: service}
}

// History godoc
// @Summary Export the status history of a case
// @Tags Cases
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Case ID"
// @Param format query string false "csv or pdf" Enums(csv, pdf)
// @Success 200 {file} binary
// @Router /cases/{id}/history/export [get]
func (h *ExportHandler) History(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "export service not configured"))
		return
	}
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	format, err := service.ParseExportFormat(c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	out, err := h.service.Export(c.Request.Context(), c.Param("id"), format, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, out.FileName, out.ContentType, out.Data)
}
