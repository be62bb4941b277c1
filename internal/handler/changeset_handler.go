package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/evr-admin-api/internal/dto"
	"github.com/noah-isme/evr-admin-api/internal/models"
	"github.com/noah-isme/evr-admin-api/internal/service"
	appErrors "github.com/noah-isme/evr-admin-api/pkg/errors"
	"github.com/noah-isme/evr-admin-api/pkg/response"
)

type changesetService interface {
	Create(ctx context.Context, req dto.CreateChangesetRequest, actor *models.JWTClaims) (*models.Changeset, error)
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*dto.ChangesetResponse, error)
	List(ctx context.Context, query dto.ChangesetQuery, actor *models.JWTClaims) ([]models.Changeset, int, error)
	Update(ctx context.Context, id string, req dto.UpdateChangesetRequest, actor *models.JWTClaims) (*models.Changeset, error)
	Delete(ctx context.Context, id string, actor *models.JWTClaims) error
	Approve(ctx context.Context, id string, actor *models.JWTClaims) (*models.Changeset, error)
	RevokeApproval(ctx context.Context, id string, actor *models.JWTClaims) (*models.Changeset, error)
	Queue(ctx context.Context, id string, actor *models.JWTClaims) (*models.Changeset, error)
	Records(ctx context.Context, id string, actor *models.JWTClaims) ([]models.ChangeRecord, error)
	Approvers(ctx context.Context, id string, actor *models.JWTClaims) ([]models.ChangesetApproval, error)
}

type changesetExporter interface {
	ExportRecords(ctx context.Context, changesetID, format string) (*service.ExportResult, error)
}

// ChangesetHandler exposes REST endpoints for the changeset workflow.
type ChangesetHandler struct {
	service changesetService
	export  changesetExporter
}

// NewChangesetHandler constructs the handler.
func NewChangesetHandler(svc changesetService, export changesetExporter) *ChangesetHandler {
	return &ChangesetHandler{service: svc, export: export}
}

// Create godoc
// @Summary Author a new changeset
// @Tags Changesets
// @Accept json
// @Produce json
// @Param payload body dto.CreateChangesetRequest true "Changeset payload"
// @Success 201 {object} response.Envelope
// @Router /changesets [post]
func (h *ChangesetHandler) Create(c *gin.Context) {
	var req dto.CreateChangesetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid changeset payload"))
		return
	}
	cs, err := h.service.Create(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, cs)
}

// List godoc
// @Summary List changesets
// @Tags Changesets
// @Produce json
// @Param status query string false "Comma separated statuses"
// @Param kind query string false "Change kind"
// @Param search query string false "Name search"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /changesets [get]
func (h *ChangesetHandler) List(c *gin.Context) {
	query := dto.ChangesetQuery{
		CreatedBy: c.Query("created_by"),
		Search:    c.Query("search"),
		Page:      intQuery(c, "page", 1),
		PageSize:  intQuery(c, "page_size", 50),
	}
	if rawKind := c.Query("kind"); rawKind != "" {
		query.Kind = models.ChangeKind(strings.ToUpper(rawKind))
	}
	if rawStatus := c.Query("status"); rawStatus != "" {
		for _, part := range strings.Split(rawStatus, ",") {
			part = strings.ToUpper(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			query.Status = append(query.Status, models.ChangesetStatus(part))
		}
	}
	changesets, total, err := h.service.List(c.Request.Context(), query, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, changesets, &models.Pagination{
		Page:       query.Page,
		PageSize:   query.PageSize,
		TotalCount: total,
	})
}

// Get godoc
// @Summary Get changeset detail with ledger counts
// @Tags Changesets
// @Produce json
// @Param id path string true "Changeset ID"
// @Success 200 {object} response.Envelope
// @Router /changesets/{id} [get]
func (h *ChangesetHandler) Get(c *gin.Context) {
	cs, err := h.service.Get(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, cs, nil)
}

// Update godoc
// @Summary Edit a changeset that has not been queued
// @Tags Changesets
// @Accept json
// @Produce json
// @Param id path string true "Changeset ID"
// @Param payload body dto.UpdateChangesetRequest true "Fields to change"
// @Success 200 {object} response.Envelope
// @Router /changesets/{id} [put]
func (h *ChangesetHandler) Update(c *gin.Context) {
	var req dto.UpdateChangesetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid changeset payload"))
		return
	}
	cs, err := h.service.Update(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, cs, nil)
}

// Delete godoc
// @Summary Soft-delete a changeset that has not been queued
// @Tags Changesets
// @Param id path string true "Changeset ID"
// @Success 204
// @Router /changesets/{id} [delete]
func (h *ChangesetHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id"), claimsFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Approve godoc
// @Summary Approve a changeset
// @Tags Changesets
// @Produce json
// @Param id path string true "Changeset ID"
// @Success 200 {object} response.Envelope
// @Router /changesets/{id}/approve [post]
func (h *ChangesetHandler) Approve(c *gin.Context) {
	cs, err := h.service.Approve(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, cs, nil)
}

// RevokeApproval godoc
// @Summary Withdraw an approval
// @Tags Changesets
// @Produce json
// @Param id path string true "Changeset ID"
// @Success 200 {object} response.Envelope
// @Router /changesets/{id}/approve [delete]
func (h *ChangesetHandler) RevokeApproval(c *gin.Context) {
	cs, err := h.service.RevokeApproval(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, cs, nil)
}

// Queue godoc
// @Summary Queue an approved changeset for execution
// @Tags Changesets
// @Produce json
// @Param id path string true "Changeset ID"
// @Success 200 {object} response.Envelope
// @Router /changesets/{id}/queue [post]
func (h *ChangesetHandler) Queue(c *gin.Context) {
	cs, err := h.service.Queue(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, cs, nil)
}

// Records godoc
// @Summary List the change ledger of a changeset
// @Tags Changesets
// @Produce json
// @Param id path string true "Changeset ID"
// @Success 200 {object} response.Envelope
// @Router /changesets/{id}/records [get]
func (h *ChangesetHandler) Records(c *gin.Context) {
	records, err := h.service.Records(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, nil)
}

// Approvers godoc
// @Summary List current approvers of a changeset
// @Tags Changesets
// @Produce json
// @Param id path string true "Changeset ID"
// @Success 200 {object} response.Envelope
// @Router /changesets/{id}/approvers [get]
func (h *ChangesetHandler) Approvers(c *gin.Context) {
	approvers, err := h.service.Approvers(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, approvers, nil)
}

// ExportRecords godoc
// @Summary Download the change ledger as CSV or PDF
// @Tags Changesets
// @Produce octet-stream
// @Param id path string true "Changeset ID"
// @Param format query string false "csv or pdf"
// @Success 200 {file} binary
// @Router /changesets/{id}/records/export [get]
func (h *ChangesetHandler) ExportRecords(c *gin.Context) {
	if h.export == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "export not configured"))
		return
	}
	result, err := h.export.ExportRecords(c.Request.Context(), c.Param("id"), c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+result.Filename+`"`)
	c.Data(http.StatusOK, result.ContentType, result.Content)
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}
