package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/landhub-tz/backend/internal/config"
	apierrors "github.com/landhub-tz/backend/internal/errors"
	"github.com/landhub-tz/backend/internal/jobs"
	"github.com/landhub-tz/backend/internal/logger"
	"github.com/landhub-tz/backend/internal/middleware"
	"github.com/landhub-tz/backend/internal/models"
	"github.com/landhub-tz/backend/internal/services"
	"github.com/landhub-tz/backend/internal/shapefile"
)

type stubGeoService struct {
	queryPolygonFn func(ctx context.Context, ring [][2]float64) ([]models.Plot, error)
	queryRadiusFn  func(ctx context.Context, lat, lng, radiusKm float64, limit int) ([]models.Plot, error)
	statisticsFn   func(ctx context.Context, locationID *uuid.UUID) (*models.PlotStatistics, error)
}

func (s *stubGeoService) QueryPolygon(ctx context.Context, ring [][2]float64) ([]models.Plot, error) {
	return s.queryPolygonFn(ctx, ring)
}

func (s *stubGeoService) QueryRadius(ctx context.Context, lat, lng, radiusKm float64, limit int) ([]models.Plot, error) {
	return s.queryRadiusFn(ctx, lat, lng, radiusKm, limit)
}

func (s *stubGeoService) Statistics(ctx context.Context, locationID *uuid.UUID) (*models.PlotStatistics, error) {
	return s.statisticsFn(ctx, locationID)
}

type stubIngestService struct {
	submitFn func(ctx context.Context, files shapefile.FileSet, userID uuid.UUID, locationID *uuid.UUID) (*services.UploadReceipt, error)
	statusFn func(ctx context.Context, taskID string, userID uuid.UUID) (*jobs.Status, error)
}

func (s *stubIngestService) SubmitShapefile(ctx context.Context, files shapefile.FileSet, userID uuid.UUID, locationID *uuid.UUID) (*services.UploadReceipt, error) {
	return s.submitFn(ctx, files, userID, locationID)
}

func (s *stubIngestService) JobStatus(ctx context.Context, taskID string, userID uuid.UUID) (*jobs.Status, error) {
	return s.statusFn(ctx, taskID, userID)
}

// setupGeoTestRouter creates a test router with middleware and geo routes.
func setupGeoTestRouter(t *testing.T, geo services.GeoService, ingest services.IngestService) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logger.New("test")

	handler := NewGeoHandler(geo, ingest, config.UploadConfig{
		Dir:       t.TempDir(),
		MaxSizeMB: 10,
	})

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(log))
	router.Use(middleware.Identity())

	v1 := router.Group("/api/v1")
	{
		geoGroup := v1.Group("/geo")
		{
			geoGroup.POST("/plots-in-area", handler.PlotsInArea)
			geoGroup.GET("/plots-near-point", handler.PlotsNearPoint)
			geoGroup.GET("/statistics", handler.Statistics)
			geoGroup.POST("/validate-geometry", handler.ValidateGeometry)
			geoGroup.POST("/upload-shapefile", handler.UploadShapefile)
			geoGroup.GET("/jobs/:id", handler.JobStatus)
		}
	}

	return router
}

func TestPlotsInArea(t *testing.T) {
	t.Run("returns contained plots", func(t *testing.T) {
		var gotRing [][2]float64
		geo := &stubGeoService{
			queryPolygonFn: func(ctx context.Context, ring [][2]float64) ([]models.Plot, error) {
				gotRing = ring
				return []models.Plot{{ID: uuid.New(), Status: models.StatusAvailable}}, nil
			},
		}
		router := setupGeoTestRouter(t, geo, &stubIngestService{})

		body := `{"coordinates":[[39.20,-6.80],[39.21,-6.80],[39.21,-6.81]]}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/geo/plots-in-area", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Len(t, gotRing, 3)

		var response PlotListResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, 1, response.Count)
	})

	t.Run("too few vertices", func(t *testing.T) {
		router := setupGeoTestRouter(t, &stubGeoService{}, &stubIngestService{})

		body := `{"coordinates":[[39.20,-6.80],[39.21,-6.80]]}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/geo/plots-in-area", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		response := parseAPIError(t, w.Body)
		assert.Equal(t, apierrors.ErrValidation, response.Error.Code)
	})

	t.Run("degenerate ring from service", func(t *testing.T) {
		geo := &stubGeoService{
			queryPolygonFn: func(ctx context.Context, ring [][2]float64) ([]models.Plot, error) {
				return nil, services.ErrInvalidPolygon
			},
		}
		router := setupGeoTestRouter(t, geo, &stubIngestService{})

		body := `{"coordinates":[[39.20,-6.80],[39.20,-6.80],[39.20,-6.80]]}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/geo/plots-in-area", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		response := parseAPIError(t, w.Body)
		assert.Equal(t, apierrors.ErrBadRequest, response.Error.Code)
	})
}

func TestPlotsNearPoint(t *testing.T) {
	t.Run("defaults the radius", func(t *testing.T) {
		var gotRadius float64
		geo := &stubGeoService{
			queryRadiusFn: func(ctx context.Context, lat, lng, radiusKm float64, limit int) ([]models.Plot, error) {
				gotRadius = radiusKm
				return []models.Plot{}, nil
			},
		}
		router := setupGeoTestRouter(t, geo, &stubIngestService{})

		req := httptest.NewRequest(http.MethodGet, "/api/v1/geo/plots-near-point?lat=-6.80&lng=39.28", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 5.0, gotRadius)

		var response PlotListResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, 0, response.Count)
	})

	t.Run("zero coordinates bind as present", func(t *testing.T) {
		var gotLat, gotLng float64
		geo := &stubGeoService{
			queryRadiusFn: func(ctx context.Context, lat, lng, radiusKm float64, limit int) ([]models.Plot, error) {
				gotLat, gotLng = lat, lng
				return []models.Plot{}, nil
			},
		}
		router := setupGeoTestRouter(t, geo, &stubIngestService{})

		req := httptest.NewRequest(http.MethodGet, "/api/v1/geo/plots-near-point?lat=0&lng=0", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 0.0, gotLat)
		assert.Equal(t, 0.0, gotLng)
	})

	t.Run("missing latitude", func(t *testing.T) {
		router := setupGeoTestRouter(t, &stubGeoService{}, &stubIngestService{})

		req := httptest.NewRequest(http.MethodGet, "/api/v1/geo/plots-near-point?lng=39.28", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		response := parseAPIError(t, w.Body)
		assert.Equal(t, apierrors.ErrValidation, response.Error.Code)
	})

	t.Run("oversized radius", func(t *testing.T) {
		geo := &stubGeoService{
			queryRadiusFn: func(ctx context.Context, lat, lng, radiusKm float64, limit int) ([]models.Plot, error) {
				return nil, services.ErrInvalidRadius
			},
		}
		router := setupGeoTestRouter(t, geo, &stubIngestService{})

		req := httptest.NewRequest(http.MethodGet, "/api/v1/geo/plots-near-point?lat=-6.80&lng=39.28&radiusKm=900", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("worker timeout maps to 504", func(t *testing.T) {
		geo := &stubGeoService{
			queryRadiusFn: func(ctx context.Context, lat, lng, radiusKm float64, limit int) ([]models.Plot, error) {
				return nil, services.ErrQueryTimeout
			},
		}
		router := setupGeoTestRouter(t, geo, &stubIngestService{})

		req := httptest.NewRequest(http.MethodGet, "/api/v1/geo/plots-near-point?lat=-6.80&lng=39.28&radiusKm=400", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusGatewayTimeout, w.Code)
		response := parseAPIError(t, w.Body)
		assert.Equal(t, apierrors.ErrTimeout, response.Error.Code)
	})
}

func TestStatistics(t *testing.T) {
	t.Run("global scope", func(t *testing.T) {
		geo := &stubGeoService{
			statisticsFn: func(ctx context.Context, locationID *uuid.UUID) (*models.PlotStatistics, error) {
				assert.Nil(t, locationID)
				return &models.PlotStatistics{TotalPlots: 12, AvailablePlots: 7}, nil
			},
		}
		router := setupGeoTestRouter(t, geo, &stubIngestService{})

		req := httptest.NewRequest(http.MethodGet, "/api/v1/geo/statistics", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var stats models.PlotStatistics
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
		assert.Equal(t, 12, stats.TotalPlots)
	})

	t.Run("location scope", func(t *testing.T) {
		locID := uuid.New()
		geo := &stubGeoService{
			statisticsFn: func(ctx context.Context, locationID *uuid.UUID) (*models.PlotStatistics, error) {
				require.NotNil(t, locationID)
				assert.Equal(t, locID, *locationID)
				return &models.PlotStatistics{TotalPlots: 3}, nil
			},
		}
		router := setupGeoTestRouter(t, geo, &stubIngestService{})

		req := httptest.NewRequest(http.MethodGet, "/api/v1/geo/statistics?locationId="+locID.String(), nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("malformed location id", func(t *testing.T) {
		router := setupGeoTestRouter(t, &stubGeoService{}, &stubIngestService{})

		req := httptest.NewRequest(http.MethodGet, "/api/v1/geo/statistics?locationId=abc", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestValidateGeometry(t *testing.T) {
	post := func(router *gin.Engine, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/geo/validate-geometry", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	t.Run("valid polygon reports its ground area", func(t *testing.T) {
		router := setupGeoTestRouter(t, &stubGeoService{}, &stubIngestService{})

		body := `{"geometry":{"type":"Polygon","coordinates":[[[39.20,-6.80],[39.21,-6.80],[39.21,-6.79],[39.20,-6.79],[39.20,-6.80]]]}}`
		w := post(router, body)

		assert.Equal(t, http.StatusOK, w.Code)

		var report GeometryReport
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
		assert.True(t, report.Valid)
		assert.Empty(t, report.Reason)
		// A 0.01-degree square is roughly 1110 m on a side.
		assert.InDelta(t, 1110.0*1110.0, report.AreaSqm, 1.0)
	})

	t.Run("self-intersecting polygon is a report, not an error", func(t *testing.T) {
		router := setupGeoTestRouter(t, &stubGeoService{}, &stubIngestService{})

		body := `{"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,1],[1,0],[0,1],[0,0]]]}}`
		w := post(router, body)

		assert.Equal(t, http.StatusOK, w.Code)

		var report GeometryReport
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
		assert.False(t, report.Valid)
		assert.NotEmpty(t, report.Reason)
		assert.Zero(t, report.AreaSqm)
	})

	t.Run("missing geometry", func(t *testing.T) {
		router := setupGeoTestRouter(t, &stubGeoService{}, &stubIngestService{})

		w := post(router, `{}`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		response := parseAPIError(t, w.Body)
		assert.Equal(t, apierrors.ErrValidation, response.Error.Code)
	})
}

// buildUploadForm assembles a multipart body with the named file parts.
func buildUploadForm(t *testing.T, parts map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for field, filename := range parts {
		part, err := writer.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = part.Write([]byte("file contents"))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func TestUploadShapefile(t *testing.T) {
	t.Run("requires identity", func(t *testing.T) {
		router := setupGeoTestRouter(t, &stubGeoService{}, &stubIngestService{})

		body, contentType := buildUploadForm(t, map[string]string{
			"shp": "plots.shp",
			"dbf": "plots.dbf",
		})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/geo/upload-shapefile", body)
		req.Header.Set("Content-Type", contentType)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("accepted", func(t *testing.T) {
		userID := uuid.New()
		var gotFiles shapefile.FileSet
		var gotUserID uuid.UUID
		ingest := &stubIngestService{
			submitFn: func(ctx context.Context, files shapefile.FileSet, uid uuid.UUID, locationID *uuid.UUID) (*services.UploadReceipt, error) {
				gotFiles = files
				gotUserID = uid
				return &services.UploadReceipt{
					TaskID:  uuid.NewString(),
					Dataset: &shapefile.DatasetInfo{FeatureCount: 42},
					Message: "Shapefile with 42 features queued for processing",
				}, nil
			},
		}
		router := setupGeoTestRouter(t, &stubGeoService{}, ingest)

		body, contentType := buildUploadForm(t, map[string]string{
			"shp": "plots.shp",
			"dbf": "plots.dbf",
			"prj": "plots.prj",
		})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/geo/upload-shapefile", body)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set(middleware.UserIDHeader, userID.String())
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, userID, gotUserID)
		assert.NotEmpty(t, gotFiles.SHP)
		assert.NotEmpty(t, gotFiles.DBF)
		assert.NotEmpty(t, gotFiles.PRJ)

		var receipt services.UploadReceipt
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &receipt))
		assert.NotEmpty(t, receipt.TaskID)
		assert.Equal(t, 42, receipt.Dataset.FeatureCount)
	})

	t.Run("missing dbf part", func(t *testing.T) {
		router := setupGeoTestRouter(t, &stubGeoService{}, &stubIngestService{})

		body, contentType := buildUploadForm(t, map[string]string{"shp": "plots.shp"})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/geo/upload-shapefile", body)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set(middleware.UserIDHeader, uuid.NewString())
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("wrong extension", func(t *testing.T) {
		router := setupGeoTestRouter(t, &stubGeoService{}, &stubIngestService{})

		body, contentType := buildUploadForm(t, map[string]string{
			"shp": "plots.zip",
			"dbf": "plots.dbf",
		})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/geo/upload-shapefile", body)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set(middleware.UserIDHeader, uuid.NewString())
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid dataset", func(t *testing.T) {
		ingest := &stubIngestService{
			submitFn: func(ctx context.Context, files shapefile.FileSet, uid uuid.UUID, locationID *uuid.UUID) (*services.UploadReceipt, error) {
				return nil, shapefile.ErrInvalidDataset
			},
		}
		router := setupGeoTestRouter(t, &stubGeoService{}, ingest)

		body, contentType := buildUploadForm(t, map[string]string{
			"shp": "plots.shp",
			"dbf": "plots.dbf",
		})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/geo/upload-shapefile", body)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set(middleware.UserIDHeader, uuid.NewString())
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestJobStatusEndpoint(t *testing.T) {
	userID := uuid.New()

	get := func(router *gin.Engine, taskID string, withIdentity bool) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/geo/jobs/"+taskID, nil)
		if withIdentity {
			req.Header.Set(middleware.UserIDHeader, userID.String())
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	t.Run("requires identity", func(t *testing.T) {
		router := setupGeoTestRouter(t, &stubGeoService{}, &stubIngestService{})
		w := get(router, "task-1", false)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("returns status for owner", func(t *testing.T) {
		ingest := &stubIngestService{
			statusFn: func(ctx context.Context, taskID string, uid uuid.UUID) (*jobs.Status, error) {
				assert.Equal(t, userID, uid)
				return &jobs.Status{
					TaskID:   taskID,
					State:    jobs.StateProgress,
					Progress: &jobs.Progress{Percent: 60, Message: "Converting features"},
				}, nil
			},
		}
		router := setupGeoTestRouter(t, &stubGeoService{}, ingest)
		w := get(router, "task-1", true)

		assert.Equal(t, http.StatusOK, w.Code)

		var response JobStatusResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "task-1", response.TaskID)
		assert.Equal(t, string(jobs.StateProgress), response.Status)
		require.NotNil(t, response.Progress)
		assert.Equal(t, 60, response.Progress.Percent)
	})

	t.Run("unknown or expired job", func(t *testing.T) {
		ingest := &stubIngestService{
			statusFn: func(ctx context.Context, taskID string, uid uuid.UUID) (*jobs.Status, error) {
				return nil, jobs.ErrJobNotFound
			},
		}
		router := setupGeoTestRouter(t, &stubGeoService{}, ingest)
		w := get(router, "task-gone", true)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("someone else's job", func(t *testing.T) {
		ingest := &stubIngestService{
			statusFn: func(ctx context.Context, taskID string, uid uuid.UUID) (*jobs.Status, error) {
				return nil, services.ErrAccessDenied
			},
		}
		router := setupGeoTestRouter(t, &stubGeoService{}, ingest)
		w := get(router, "task-2", true)

		assert.Equal(t, http.StatusForbidden, w.Code)
		response := parseAPIError(t, w.Body)
		assert.Equal(t, apierrors.ErrForbidden, response.Error.Code)
	})
}
