package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/evr-admin-api/internal/models"
	"github.com/noah-isme/evr-admin-api/internal/service"
	appErrors "github.com/noah-isme/evr-admin-api/pkg/errors"
	"github.com/noah-isme/evr-admin-api/pkg/response"
)

type citizenService interface {
	Get(ctx context.Context, id string) (*service.CitizenProfile, error)
	Lookup(ctx context.Context, ids []string) ([]models.Citizen, error)
}

// CitizenHandler exposes read access to citizens.
type CitizenHandler struct {
	service citizenService
}

// NewCitizenHandler constructs the handler.
func NewCitizenHandler(service citizenService) *CitizenHandler {
	return &CitizenHandler{service: service}
}

// Get godoc
// @Summary Get a citizen with their confirmed registration
// @Tags Citizens
// @Produce json
// @Param id path string true "Citizen ID"
// @Success 200 {object} response.Envelope
// @Router /citizens/{id} [get]
func (h *CitizenHandler) Get(c *gin.Context) {
	profile, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, profile, nil)
}

type lookupCitizensRequest struct {
	IDs []string `json:"ids" binding:"required,min=1"`
}

// Lookup godoc
// @Summary Resolve citizen identifiers to citizens
// @Tags Citizens
// @Accept json
// @Produce json
// @Param payload body lookupCitizensRequest true "Citizen identifiers"
// @Success 200 {object} response.Envelope
// @Router /citizens/lookup [post]
func (h *CitizenHandler) Lookup(c *gin.Context) {
	var req lookupCitizensRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid lookup payload"))
		return
	}
	citizens, err := h.service.Lookup(c.Request.Context(), req.IDs)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, citizens, nil)
}
