package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/evr-admin-api/internal/dto"
	"github.com/noah-isme/evr-admin-api/internal/models"
	appErrors "github.com/noah-isme/evr-admin-api/pkg/errors"
	"github.com/noah-isme/evr-admin-api/pkg/response"
)

type centerService interface {
	Get(ctx context.Context, id string) (*models.RegistrationCenter, error)
	List(ctx context.Context, query dto.CenterQuery) ([]models.RegistrationCenter, int, error)
	Update(ctx context.Context, id string, req dto.UpdateCenterRequest, actor *models.JWTClaims) (*models.RegistrationCenter, error)
}

// CenterHandler exposes registration-center endpoints.
type CenterHandler struct {
	service centerService
}

// NewCenterHandler constructs the handler.
func NewCenterHandler(service centerService) *CenterHandler {
	return &CenterHandler{service: service}
}

// List godoc
// @Summary List registration centers
// @Tags Centers
// @Produce json
// @Param search query string false "Name or code search"
// @Param reg_open query bool false "Only centers open/closed for registration"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /centers [get]
func (h *CenterHandler) List(c *gin.Context) {
	query := dto.CenterQuery{
		Search:   c.Query("search"),
		Page:     intQuery(c, "page", 1),
		PageSize: intQuery(c, "page_size", 100),
	}
	if raw := c.Query("reg_open"); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "reg_open must be a boolean"))
			return
		}
		query.RegOpen = &value
	}
	centers, total, err := h.service.List(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, centers, &models.Pagination{
		Page:       query.Page,
		PageSize:   query.PageSize,
		TotalCount: total,
	})
}

// Get godoc
// @Summary Get one registration center
// @Tags Centers
// @Produce json
// @Param id path string true "Center ID"
// @Success 200 {object} response.Envelope
// @Router /centers/{id} [get]
func (h *CenterHandler) Get(c *gin.Context) {
	center, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, center, nil)
}

// Update godoc
// @Summary Edit a registration center
// @Tags Centers
// @Accept json
// @Produce json
// @Param id path string true "Center ID"
// @Param payload body dto.UpdateCenterRequest true "Fields to change"
// @Success 200 {object} response.Envelope
// @Router /centers/{id} [put]
func (h *CenterHandler) Update(c *gin.Context) {
	var req dto.UpdateCenterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid center payload"))
		return
	}
	center, err := h.service.Update(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, center, nil)
}
