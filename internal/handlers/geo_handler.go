package handlers

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/landhub-tz/backend/internal/config"
	apierrors "github.com/landhub-tz/backend/internal/errors"
	"github.com/landhub-tz/backend/internal/geometry"
	"github.com/landhub-tz/backend/internal/jobs"
	"github.com/landhub-tz/backend/internal/middleware"
	"github.com/landhub-tz/backend/internal/models"
	"github.com/landhub-tz/backend/internal/services"
	"github.com/landhub-tz/backend/internal/shapefile"
)

// GeoHandler handles spatial query, statistics, and shapefile ingestion
// HTTP requests.
type GeoHandler struct {
	geo    services.GeoService
	ingest services.IngestService
	cfg    config.UploadConfig
}

// NewGeoHandler creates a new GeoHandler instance.
func NewGeoHandler(geo services.GeoService, ingest services.IngestService, cfg config.UploadConfig) *GeoHandler {
	return &GeoHandler{
		geo:    geo,
		ingest: ingest,
		cfg:    cfg,
	}
}

// AreaRequest represents the body of the plots-in-area endpoint.
type AreaRequest struct {
	Coordinates [][2]float64 `json:"coordinates" binding:"required,min=3"`
}

// NearRequest represents the query parameters for the plots-near-point
// endpoint. Lat and Lng are pointers so the zero coordinate (equator,
// prime meridian) binds as present; the service checks the ranges.
type NearRequest struct {
	Lat      *float64 `form:"lat" binding:"required"`
	Lng      *float64 `form:"lng" binding:"required"`
	RadiusKm float64  `form:"radiusKm"`
	Limit    int      `form:"limit" binding:"omitempty,min=1,max=500"`
}

// ValidateGeometryRequest represents the body of the validate-geometry endpoint.
type ValidateGeometryRequest struct {
	Geometry *models.Polygon `json:"geometry" binding:"required"`
}

// GeometryReport represents the response of the validate-geometry endpoint.
type GeometryReport struct {
	Valid   bool    `json:"valid"`
	Reason  string  `json:"reason,omitempty"`
	AreaSqm float64 `json:"areaSqm,omitempty"`
}

// JobStatusResponse represents the response for the job status endpoint.
type JobStatusResponse struct {
	TaskID   string         `json:"taskId"`
	Status   string         `json:"status"`
	Progress *jobs.Progress `json:"progress,omitempty"`
	Result   interface{}    `json:"result,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// PlotsInArea handles POST /api/v1/geo/plots-in-area.
// It returns available plots contained in the posted polygon ring.
func (h *GeoHandler) PlotsInArea(c *gin.Context) {
	var req AreaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			apierrors.ValidationError(c, validationErrors)
			return
		}
		apierrors.BadRequest(c, "Invalid request body", nil)
		return
	}

	plots, err := h.geo.QueryPolygon(c.Request.Context(), req.Coordinates)
	if err != nil {
		if errors.Is(err, services.ErrInvalidPolygon) || errors.Is(err, services.ErrInvalidCoordinates) {
			apierrors.BadRequest(c, err.Error(), nil)
			return
		}
		apierrors.InternalServerError(c, "Failed to query plots in area", err)
		return
	}

	c.JSON(http.StatusOK, PlotListResponse{
		Plots: plots,
		Count: len(plots),
	})
}

// PlotsNearPoint handles GET /api/v1/geo/plots-near-point.
// Large radii are resolved through the worker pool; the response shape
// does not depend on the execution path.
func (h *GeoHandler) PlotsNearPoint(c *gin.Context) {
	var req NearRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			apierrors.ValidationError(c, validationErrors)
			return
		}
		apierrors.BadRequest(c, "Invalid query parameters", nil)
		return
	}

	const defaultRadiusKm = 5.0
	if req.RadiusKm == 0 {
		req.RadiusKm = defaultRadiusKm
	}

	plots, err := h.geo.QueryRadius(c.Request.Context(), *req.Lat, *req.Lng, req.RadiusKm, req.Limit)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidCoordinates), errors.Is(err, services.ErrInvalidRadius):
			apierrors.BadRequest(c, err.Error(), nil)
		case errors.Is(err, services.ErrQueryTimeout):
			apierrors.GatewayTimeout(c, err.Error())
		default:
			apierrors.InternalServerError(c, "Failed to query nearby plots", err)
		}
		return
	}

	c.JSON(http.StatusOK, PlotListResponse{
		Plots: plots,
		Count: len(plots),
	})
}

// Statistics handles GET /api/v1/geo/statistics.
// An optional locationId query parameter scopes the aggregates.
func (h *GeoHandler) Statistics(c *gin.Context) {
	var locationID *uuid.UUID
	if raw := c.Query("locationId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			apierrors.BadRequest(c, "Invalid location ID", nil)
			return
		}
		locationID = &id
	}

	stats, err := h.geo.Statistics(c.Request.Context(), locationID)
	if err != nil {
		apierrors.InternalServerError(c, "Failed to compute statistics", err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// ValidateGeometry handles POST /api/v1/geo/validate-geometry.
// Invalid geometry is a normal 200 outcome with the invalidity reason,
// not an error response.
func (h *GeoHandler) ValidateGeometry(c *gin.Context) {
	var req ValidateGeometryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			apierrors.ValidationError(c, validationErrors)
			return
		}
		apierrors.BadRequest(c, "Invalid request body", nil)
		return
	}

	if err := geometry.Validate(req.Geometry); err != nil {
		if errors.Is(err, geometry.ErrInvalidGeometry) {
			c.JSON(http.StatusOK, GeometryReport{Valid: false, Reason: err.Error()})
			return
		}
		apierrors.InternalServerError(c, "Failed to validate geometry", err)
		return
	}

	area, err := geometry.GroundArea(req.Geometry)
	if err != nil {
		apierrors.InternalServerError(c, "Failed to measure geometry", err)
		return
	}

	c.JSON(http.StatusOK, GeometryReport{Valid: true, AreaSqm: area})
}

// UploadShapefile handles POST /api/v1/geo/upload-shapefile.
// It accepts a multipart form with shp and dbf parts (prj optional),
// stages them to disk, and queues the conversion job.
func (h *GeoHandler) UploadShapefile(c *gin.Context) {
	log := middleware.GetLogger(c)

	userID, ok := middleware.GetUserID(c)
	if !ok {
		apierrors.Forbidden(c, "A user identity is required to upload shapefiles")
		return
	}

	maxBytes := h.cfg.MaxSizeMB * 1024 * 1024
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)

	form, err := c.MultipartForm()
	if err != nil {
		if errors.As(err, new(*http.MaxBytesError)) {
			apierrors.PayloadTooLarge(c, fmt.Sprintf("Upload exceeds the %d MB limit", h.cfg.MaxSizeMB))
			return
		}
		apierrors.BadRequest(c, "Invalid multipart form", nil)
		return
	}

	shpFile, err := formFile(form, "shp", ".shp")
	if err != nil {
		apierrors.BadRequest(c, err.Error(), nil)
		return
	}
	dbfFile, err := formFile(form, "dbf", ".dbf")
	if err != nil {
		apierrors.BadRequest(c, err.Error(), nil)
		return
	}
	prjFile, _ := formFile(form, "prj", ".prj")

	var locationID *uuid.UUID
	if raw := c.PostForm("locationId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			apierrors.BadRequest(c, "Invalid location ID", nil)
			return
		}
		locationID = &id
	}

	files, err := h.stageUpload(c, shpFile, dbfFile, prjFile)
	if err != nil {
		apierrors.InternalServerError(c, "Failed to stage uploaded files", err)
		return
	}

	receipt, err := h.ingest.SubmitShapefile(c.Request.Context(), files, userID, locationID)
	if err != nil {
		if errors.Is(err, shapefile.ErrInvalidDataset) {
			apierrors.BadRequest(c, err.Error(), nil)
			return
		}
		apierrors.InternalServerError(c, "Failed to queue shapefile for processing", err)
		return
	}

	if log != nil {
		log.Info("Shapefile upload accepted", map[string]interface{}{
			"task_id":  receipt.TaskID,
			"features": receipt.Dataset.FeatureCount,
		})
	}

	c.JSON(http.StatusAccepted, receipt)
}

// JobStatus handles GET /api/v1/geo/jobs/:id.
func (h *GeoHandler) JobStatus(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		apierrors.Forbidden(c, "A user identity is required to query job status")
		return
	}

	taskID := c.Param("id")
	status, err := h.ingest.JobStatus(c.Request.Context(), taskID, userID)
	if err != nil {
		switch {
		case errors.Is(err, jobs.ErrJobNotFound):
			apierrors.NotFound(c, "Job not found or expired")
		case errors.Is(err, services.ErrAccessDenied):
			apierrors.Forbidden(c, "You did not submit this job")
		default:
			apierrors.InternalServerError(c, "Failed to fetch job status", err)
		}
		return
	}

	resp := JobStatusResponse{
		TaskID: status.TaskID,
		Status: string(status.State),
		Error:  status.Error,
	}
	if status.Progress != nil {
		resp.Progress = status.Progress
	}
	if len(status.Result) > 0 {
		resp.Result = status.Result
	}

	c.JSON(http.StatusOK, resp)
}

// formFile pulls a single part out of the multipart form and checks its
// extension before anything touches the disk.
func formFile(form *multipart.Form, field, wantExt string) (*multipart.FileHeader, error) {
	headers := form.File[field]
	if len(headers) == 0 {
		if wantExt == ".prj" {
			return nil, fmt.Errorf("missing optional part %q", field)
		}
		return nil, fmt.Errorf("missing required file part %q", field)
	}
	fh := headers[0]
	if ext := strings.ToLower(filepath.Ext(fh.Filename)); ext != wantExt {
		return nil, fmt.Errorf("part %q must be a %s file, got %q", field, wantExt, fh.Filename)
	}
	return fh, nil
}

// stageUpload writes the parts under a fresh staging directory. A
// failure removes the directory so half-staged sets never reach the
// queue.
func (h *GeoHandler) stageUpload(c *gin.Context, shpFile, dbfFile, prjFile *multipart.FileHeader) (shapefile.FileSet, error) {
	dir := filepath.Join(h.cfg.Dir, uuid.New().String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return shapefile.FileSet{}, fmt.Errorf("create staging dir: %w", err)
	}

	var files shapefile.FileSet
	save := func(fh *multipart.FileHeader, name string) (string, error) {
		dst := filepath.Join(dir, name)
		if err := c.SaveUploadedFile(fh, dst); err != nil {
			return "", fmt.Errorf("save %s: %w", name, err)
		}
		return dst, nil
	}

	var err error
	if files.SHP, err = save(shpFile, "upload.shp"); err == nil {
		files.DBF, err = save(dbfFile, "upload.dbf")
	}
	if err == nil && prjFile != nil {
		files.PRJ, err = save(prjFile, "upload.prj")
	}
	if err != nil {
		os.RemoveAll(dir)
		return shapefile.FileSet{}, err
	}
	return files, nil
}
