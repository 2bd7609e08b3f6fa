package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/landhub-tz/backend/internal/cache"
	"github.com/landhub-tz/backend/internal/config"
	"github.com/landhub-tz/backend/internal/jobs"
	"github.com/landhub-tz/backend/internal/logger"
	"github.com/landhub-tz/backend/internal/models"
	"github.com/landhub-tz/backend/internal/repository"
)

// Coordinate validation constants
const (
	MinLatitude  = -90.0
	MaxLatitude  = 90.0
	MinLongitude = -180.0
	MaxLongitude = 180.0
)

// Radius and result-set bounds
const (
	MaxRadiusKm  = 500.0
	DefaultLimit = 50
	MaxLimit     = 500
)

// TaskRadius is the job queue task name for large-radius scans.
const TaskRadius = "geo.radius"

// Service-level errors
var (
	ErrInvalidCoordinates = errors.New("invalid coordinates")
	ErrInvalidRadius      = errors.New("invalid radius")
	ErrInvalidPolygon     = errors.New("invalid query polygon")
	ErrQueryTimeout       = errors.New("spatial query timed out")
)

// RadiusJobArgs are the arguments of a queued large-radius scan.
type RadiusJobArgs struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	RadiusKm float64 `json:"radiusKm"`
}

// GeoService resolves spatial queries and cached aggregate statistics.
type GeoService interface {
	// QueryPolygon returns AVAILABLE plots contained in the ring. The
	// ring is closed automatically; fewer than 3 distinct points is a
	// validation error.
	QueryPolygon(ctx context.Context, ring [][2]float64) ([]models.Plot, error)

	// QueryRadius returns AVAILABLE plots within radiusKm of the point.
	// Radii above the configured threshold run through the job queue
	// with a bounded wait; the execution path never changes the result
	// set, only where the scan runs.
	QueryRadius(ctx context.Context, lat, lng, radiusKm float64, limit int) ([]models.Plot, error)

	// Statistics returns the aggregate plot statistics, cache-aside
	// with a short TTL. A stale read within the TTL is accepted.
	Statistics(ctx context.Context, locationID *uuid.UUID) (*models.PlotStatistics, error)
}

type geoService struct {
	repo  repository.PlotRepository
	queue jobs.Queue
	cache *cache.Client
	cfg   config.GeoConfig
	jcfg  config.JobsConfig
	log   *logger.Logger
}

// NewGeoService creates a GeoService.
func NewGeoService(repo repository.PlotRepository, queue jobs.Queue, cacheClient *cache.Client, cfg config.GeoConfig, jcfg config.JobsConfig, log *logger.Logger) GeoService {
	return &geoService{
		repo:  repo,
		queue: queue,
		cache: cacheClient,
		cfg:   cfg,
		jcfg:  jcfg,
		log:   log,
	}
}

// RadiusHandler is the job queue handler backing TaskRadius. It returns
// only matching identifiers; the caller fetches full records.
func (s *geoService) RadiusHandler() jobs.Handler {
	return func(ctx context.Context, raw json.RawMessage, report jobs.ProgressFunc) (interface{}, error) {
		var args RadiusJobArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("decode radius args: %w", err)
		}
		report(0, fmt.Sprintf("Scanning %.1f km radius", args.RadiusKm))
		ids, err := s.repo.IDsWithinRadius(ctx, args.Lat, args.Lng, args.RadiusKm)
		if err != nil {
			return nil, err
		}
		report(100, fmt.Sprintf("Found %d plots", len(ids)))
		return ids, nil
	}
}

// RegisterGeoTasks binds the service's job handlers into the registry.
// Must run before the queue starts claiming work.
func RegisterGeoTasks(reg *jobs.Registry, svc GeoService) {
	if s, ok := svc.(*geoService); ok {
		reg.Register(TaskRadius, s.RadiusHandler())
	}
}

func (s *geoService) QueryPolygon(ctx context.Context, ring [][2]float64) ([]models.Plot, error) {
	closed, err := normalizeRing(ring)
	if err != nil {
		return nil, err
	}

	for _, pt := range closed {
		if err := validateCoords(pt[1], pt[0]); err != nil {
			return nil, fmt.Errorf("%w: vertex (%f, %f) out of range", ErrInvalidPolygon, pt[0], pt[1])
		}
	}

	s.log.Info("Querying plots in polygon", map[string]interface{}{
		"vertices": len(closed) - 1,
	})

	plots, err := s.repo.WithinPolygon(ctx, closed)
	if err != nil {
		s.log.Error("Polygon query failed", err, nil)
		return nil, fmt.Errorf("failed to query plots in polygon: %w", err)
	}
	return plots, nil
}

func (s *geoService) QueryRadius(ctx context.Context, lat, lng, radiusKm float64, limit int) ([]models.Plot, error) {
	if err := validateCoords(lat, lng); err != nil {
		return nil, err
	}
	if radiusKm <= 0 || radiusKm > MaxRadiusKm {
		return nil, fmt.Errorf("%w: radius must be between 0 and %.0f km, got %f", ErrInvalidRadius, MaxRadiusKm, radiusKm)
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	// Cost-based dispatch: large radii are too expensive for the
	// request path, so the scan runs on a worker and we wait, bounded,
	// for the identifiers.
	if radiusKm > s.cfg.RadiusJobThresholdKm {
		return s.queryRadiusViaJob(ctx, lat, lng, radiusKm, limit)
	}

	s.log.Info("Querying plots within radius", map[string]interface{}{
		"lat":       lat,
		"lng":       lng,
		"radius_km": radiusKm,
	})

	nearby, err := s.repo.WithinRadius(ctx, lat, lng, radiusKm, limit)
	if err != nil {
		s.log.Error("Radius query failed", err, nil)
		return nil, fmt.Errorf("failed to query plots within radius: %w", err)
	}

	plots := make([]models.Plot, 0, len(nearby))
	for _, item := range nearby {
		plots = append(plots, item.Plot)
	}
	return plots, nil
}

// queryRadiusViaJob runs the radius scan on the worker pool and blocks,
// with a bounded timeout, for the matching identifiers.
func (s *geoService) queryRadiusViaJob(ctx context.Context, lat, lng, radiusKm float64, limit int) ([]models.Plot, error) {
	taskID, err := s.queue.Submit(ctx, TaskRadius, RadiusJobArgs{Lat: lat, Lng: lng, RadiusKm: radiusKm})
	if err != nil {
		return nil, fmt.Errorf("failed to submit radius job: %w", err)
	}

	s.log.Info("Radius query dispatched to worker", map[string]interface{}{
		"task_id":   taskID,
		"radius_km": radiusKm,
	})

	raw, err := jobs.WaitForResult(ctx, s.queue, taskID, s.jcfg.ResultTimeout, s.jcfg.PollInterval)
	if err != nil {
		if errors.Is(err, jobs.ErrTimeout) {
			return nil, fmt.Errorf("%w: retry with a smaller radius", ErrQueryTimeout)
		}
		return nil, fmt.Errorf("radius job failed: %w", err)
	}

	var ids []uuid.UUID
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("failed to decode radius job result: %w", err)
	}

	return s.repo.GetByIDs(ctx, ids, limit)
}

func (s *geoService) Statistics(ctx context.Context, locationID *uuid.UUID) (*models.PlotStatistics, error) {
	scope := ""
	if locationID != nil {
		scope = locationID.String()
	}
	key := cache.StatsKey(scope)

	var cached models.PlotStatistics
	if s.cache.Get(ctx, key, &cached) {
		return &cached, nil
	}

	stats, err := s.repo.Stats(ctx, locationID)
	if err != nil {
		s.log.Error("Statistics computation failed", err, nil)
		return nil, fmt.Errorf("failed to compute statistics: %w", err)
	}

	s.cache.Set(ctx, key, stats, s.cfg.StatsCacheTTL)
	return stats, nil
}

// normalizeRing closes an open ring and rejects degenerate input.
func normalizeRing(ring [][2]float64) ([][2]float64, error) {
	distinct := make(map[[2]float64]struct{}, len(ring))
	for _, pt := range ring {
		distinct[pt] = struct{}{}
	}
	if len(distinct) < 3 {
		return nil, fmt.Errorf("%w: need at least 3 distinct points, got %d", ErrInvalidPolygon, len(distinct))
	}

	if ring[0] != ring[len(ring)-1] {
		ring = append(append([][2]float64{}, ring...), ring[0])
	}
	return ring, nil
}

// validateCoords checks geographic coordinate ranges.
func validateCoords(lat, lng float64) error {
	if lat < MinLatitude || lat > MaxLatitude {
		return fmt.Errorf("%w: latitude must be between %f and %f, got %f",
			ErrInvalidCoordinates, MinLatitude, MaxLatitude, lat)
	}
	if lng < MinLongitude || lng > MaxLongitude {
		return fmt.Errorf("%w: longitude must be between %f and %f, got %f",
			ErrInvalidCoordinates, MinLongitude, MaxLongitude, lng)
	}
	return nil
}
