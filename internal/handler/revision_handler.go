package handler

import (
	"context"
	"mime"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/revision-checker/internal/dto"
	"github.com/noah-isme/revision-checker/internal/models"
	"github.com/noah-isme/revision-checker/internal/service"
	appErrors "github.com/noah-isme/revision-checker/pkg/errors"
	"github.com/noah-isme/revision-checker/pkg/response"
)

type revisionService interface {
	SyncStatus(ctx context.Context) (*dto.SyncStatus, error)
	Ingest(ctx context.Context, req dto.IngestRevisionRequest) (*models.Revision, error)
	RegisterTicket(ctx context.Context, req dto.RegisterTicketRequest) (bool, error)
	Get(ctx context.Context, id int64) (*models.Revision, error)
	Reportable(ctx context.Context, assignmentID int64) ([]models.ReportableRevision, error)
	MarkReported(ctx context.Context, id int64, actor *models.JWTClaims) error
	Report(ctx context.Context, id int64, format string) (*service.RenderedReport, error)
}

// RevisionHandler exposes ingestion and reporting endpoints.
type RevisionHandler struct {
	service revisionService
}

// NewRevisionHandler builds a new handler.
func NewRevisionHandler(service revisionService) *RevisionHandler {
	return &RevisionHandler{service: service}
}

// SyncStatus returns the last ingested revision number.
func (h *RevisionHandler) SyncStatus(c *gin.Context) {
	status, err := h.service.SyncStatus(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status)
}

// Ingest stores a revision pulled from version control.
func (h *RevisionHandler) Ingest(c *gin.Context) {
	var req dto.IngestRevisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid revision payload"))
		return
	}
	rev, err := h.service.Ingest(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, rev)
}

// RegisterTicket records a tracker ticket.
func (h *RevisionHandler) RegisterTicket(c *gin.Context) {
	var req dto.RegisterTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid ticket payload"))
		return
	}
	created, err := h.service.RegisterTicket(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	response.JSON(c, status, gin.H{"id": req.ID, "created": created})
}

// Get returns a revision with its check result.
func (h *RevisionHandler) Get(c *gin.Context) {
	id, err := int64Param(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	rev, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rev)
}

// Reportable lists checked revisions of an assignment awaiting a report.
func (h *RevisionHandler) Reportable(c *gin.Context) {
	id, err := int64Param(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	rows, err := h.service.Reportable(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, map[string]interface{}{"count": len(rows)})
}

// MarkReported records that a checked revision was posted to its ticket.
func (h *RevisionHandler) MarkReported(c *gin.Context) {
	id, err := int64Param(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.service.MarkReported(c.Request.Context(), id, claimsFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Report downloads the check result of a revision as csv or pdf.
func (h *RevisionHandler) Report(c *gin.Context) {
	id, err := int64Param(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	report, err := h.service.Report(c.Request.Context(), id, c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": report.FileName}))
	c.Data(http.StatusOK, report.ContentType, report.Data)
}
