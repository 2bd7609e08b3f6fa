package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	apierrors "github.com/landhub-tz/backend/internal/errors"
	"github.com/landhub-tz/backend/internal/geometry"
	"github.com/landhub-tz/backend/internal/middleware"
	"github.com/landhub-tz/backend/internal/models"
	"github.com/landhub-tz/backend/internal/repository"
	"github.com/landhub-tz/backend/internal/services"
)

// PlotHandler handles plot CRUD and lifecycle HTTP requests.
type PlotHandler struct {
	service services.PlotService
}

// NewPlotHandler creates a new PlotHandler instance.
func NewPlotHandler(service services.PlotService) *PlotHandler {
	return &PlotHandler{
		service: service,
	}
}

// SearchRequest represents the query parameters for the plot search endpoint.
type SearchRequest struct {
	Query      string  `form:"q"`
	Status     string  `form:"status"`
	UsageType  string  `form:"usageType"`
	LocationID string  `form:"locationId"`
	MinPrice   float64 `form:"minPrice" binding:"omitempty,gte=0"`
	MaxPrice   float64 `form:"maxPrice" binding:"omitempty,gte=0"`
	MinArea    float64 `form:"minArea" binding:"omitempty,gte=0"`
	MaxArea    float64 `form:"maxArea" binding:"omitempty,gte=0"`
	Limit      int     `form:"limit" binding:"omitempty,min=1,max=500"`
	Offset     int     `form:"offset" binding:"omitempty,gte=0"`
}

// UpdateStatusRequest represents the body of the status update endpoint.
type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// PlotListResponse represents the response for list-shaped plot endpoints.
type PlotListResponse struct {
	Plots []models.Plot `json:"plots"`
	Count int           `json:"count"`
}

// Create handles POST /api/v1/plots.
func (h *PlotHandler) Create(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		apierrors.Forbidden(c, "A user identity is required to create plots")
		return
	}

	var input services.CreatePlotInput
	if err := c.ShouldBindJSON(&input); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			apierrors.ValidationError(c, validationErrors)
			return
		}
		apierrors.BadRequest(c, "Invalid request body", nil)
		return
	}

	plot, err := h.service.Create(c.Request.Context(), input, userID)
	if err != nil {
		if errors.Is(err, geometry.ErrInvalidGeometry) {
			apierrors.BadRequest(c, err.Error(), nil)
			return
		}
		apierrors.InternalServerError(c, "Failed to create plot", err)
		return
	}

	c.JSON(http.StatusCreated, plot)
}

// Get handles GET /api/v1/plots/:id.
func (h *PlotHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		apierrors.BadRequest(c, "Invalid plot ID", nil)
		return
	}

	plot, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrPlotNotFound) {
			apierrors.NotFound(c, "Plot not found")
			return
		}
		apierrors.InternalServerError(c, "Failed to fetch plot", err)
		return
	}

	c.JSON(http.StatusOK, plot)
}

// Search handles GET /api/v1/plots.
func (h *PlotHandler) Search(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			apierrors.ValidationError(c, validationErrors)
			return
		}
		apierrors.BadRequest(c, "Invalid query parameters", nil)
		return
	}

	params := repository.SearchParams{
		Text:      req.Query,
		UsageType: req.UsageType,
		Limit:     req.Limit,
		Offset:    req.Offset,
	}
	if req.MinPrice > 0 {
		params.MinPrice = &req.MinPrice
	}
	if req.MaxPrice > 0 {
		params.MaxPrice = &req.MaxPrice
	}
	if req.MinArea > 0 {
		params.MinArea = &req.MinArea
	}
	if req.MaxArea > 0 {
		params.MaxArea = &req.MaxArea
	}
	if req.Status != "" {
		status := models.PlotStatus(req.Status)
		if !status.Valid() {
			apierrors.BadRequest(c, "Unknown plot status: "+req.Status, nil)
			return
		}
		params.Status = status
	}
	if req.LocationID != "" {
		locID, err := uuid.Parse(req.LocationID)
		if err != nil {
			apierrors.BadRequest(c, "Invalid location ID", nil)
			return
		}
		params.LocationID = &locID
	}

	plots, err := h.service.Search(c.Request.Context(), params)
	if err != nil {
		apierrors.InternalServerError(c, "Failed to search plots", err)
		return
	}

	c.JSON(http.StatusOK, PlotListResponse{
		Plots: plots,
		Count: len(plots),
	})
}

// UpdateStatus handles PATCH /api/v1/plots/:id/status.
func (h *PlotHandler) UpdateStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		apierrors.BadRequest(c, "Invalid plot ID", nil)
		return
	}

	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			apierrors.ValidationError(c, validationErrors)
			return
		}
		apierrors.BadRequest(c, "Invalid request body", nil)
		return
	}

	plot, err := h.service.UpdateStatus(c.Request.Context(), id, models.PlotStatus(req.Status))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrPlotNotFound):
			apierrors.NotFound(c, "Plot not found")
		case errors.Is(err, services.ErrInvalidStatus):
			apierrors.BadRequest(c, err.Error(), nil)
		case errors.Is(err, services.ErrIllegalTransition):
			apierrors.Conflict(c, err.Error())
		default:
			apierrors.InternalServerError(c, "Failed to update plot status", err)
		}
		return
	}

	c.JSON(http.StatusOK, plot)
}

// Delete handles DELETE /api/v1/plots/:id.
func (h *PlotHandler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		apierrors.BadRequest(c, "Invalid plot ID", nil)
		return
	}

	if err := h.service.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, services.ErrPlotNotFound) {
			apierrors.NotFound(c, "Plot not found")
			return
		}
		apierrors.InternalServerError(c, "Failed to delete plot", err)
		return
	}

	c.Status(http.StatusNoContent)
}
