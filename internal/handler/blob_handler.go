package handler

import (
	"context"
	"mime"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/revision-checker/internal/dto"
	appErrors "github.com/noah-isme/revision-checker/pkg/errors"
	"github.com/noah-isme/revision-checker/pkg/response"
)

type blobLinkService interface {
	CreateLink(ctx context.Context, blobID string, req dto.CreateBlobLinkRequest) (*dto.BlobLink, error)
	Resolve(ctx context.Context, token string) (string, []byte, error)
}

// BlobHandler hands out and serves signed blob download links.
type BlobHandler struct {
	service blobLinkService
}

// NewBlobHandler builds a new handler.
func NewBlobHandler(service blobLinkService) *BlobHandler {
	return &BlobHandler{service: service}
}

// CreateLink signs a download link for a stored blob.
func (h *BlobHandler) CreateLink(c *gin.Context) {
	var req dto.CreateBlobLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid link payload"))
		return
	}
	link, err := h.service.CreateLink(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, link)
}

// Download serves the blob behind a signed token.
func (h *BlobHandler) Download(c *gin.Context) {
	name, data, err := h.service.Resolve(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": name})
	if disposition == "" {
		disposition = "attachment"
	}
	c.Header("Content-Disposition", disposition)
	c.Data(http.StatusOK, "application/octet-stream", data)
}
