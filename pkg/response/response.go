package response

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/casebook-api/internal/models"
	appErrors "github.com/noah-isme/casebook-api/pkg/errors"
)

// RetryAfterSeconds is advertised on retryable failures.
const RetryAfterSeconds = "5"

// Envelope is the body of every JSON response.
type Envelope struct {
	Data       interface{}            `json:"data,omitempty"`
	Error      *appErrors.Error       `json:"error,omitempty"`
	Pagination *models.Pagination     `json:"pagination,omitempty"`
	Meta       map[string]interface{} `json:"meta,omitempty"`
}

// JSON sends a success envelope. Only the first meta map is used.
func JSON(c *gin.Context, status int, data interface{}, pagination *models.Pagination, meta ...map[string]interface{}) {
	noStore(c)
	envelope := Envelope{Data: data, Pagination: pagination}
	if len(meta) > 0 && meta[0] != nil {
		envelope.Meta = meta[0]
	}
	c.JSON(status, envelope)
}

// Created responds with HTTP 201 Created.
func Created(c *gin.Context, data interface{}) {
	JSON(c, http.StatusCreated, data, nil)
}

// Error converts err into an error envelope. Retryable failures carry a
// Retry-After hint and the underlying cause is attached to the gin context
// for the request logger.
func Error(c *gin.Context, err error) {
	appErr := appErrors.FromError(err)
	noStore(c)
	if appErrors.Retryable(appErr) {
		c.Header("Retry-After", RetryAfterSeconds)
	}
	if appErr.Err != nil {
		_ = c.Error(appErr.Err)
	}
	c.JSON(appErr.Status, Envelope{Error: appErr})
}

// Attachment sends an in-memory file as a download.
func Attachment(c *gin.Context, fileName, contentType string, data []byte) {
	disposition(c, fileName)
	c.Data(http.StatusOK, contentType, data)
}

// AttachmentStream copies size bytes from r as a download.
func AttachmentStream(c *gin.Context, fileName, contentType string, size int64, r io.Reader) {
	disposition(c, fileName)
	c.DataFromReader(http.StatusOK, size, contentType, r, nil)
}

func disposition(c *gin.Context, fileName string) {
	noStore(c)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))
}

func noStore(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
}
