package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/landhub-tz/backend/internal/cache"
	"github.com/landhub-tz/backend/internal/config"
	"github.com/landhub-tz/backend/internal/geometry"
	"github.com/landhub-tz/backend/internal/logger"
	"github.com/landhub-tz/backend/internal/models"
	"github.com/landhub-tz/backend/internal/realtime"
	"github.com/landhub-tz/backend/internal/repository"
)

// Service-level errors
var (
	ErrPlotNotFound      = errors.New("plot not found")
	ErrInvalidStatus     = errors.New("invalid plot status")
	ErrIllegalTransition = errors.New("illegal status transition")
)

// Broadcaster fans a realtime envelope out to connected sessions,
// locally and across instances.
type Broadcaster interface {
	Publish(ctx context.Context, env realtime.Envelope)
}

// CreatePlotInput carries the fields of a manually created plot.
type CreatePlotInput struct {
	Title       string          `json:"title" binding:"required"`
	Description string          `json:"description"`
	PlotNumber  string          `json:"plotNumber" binding:"required"`
	UsageType   string          `json:"usageType"`
	Price       float64         `json:"price"`
	AreaSqm     float64         `json:"areaSqm"`
	Geometry    *models.Polygon `json:"geometry"`
	LocationID  *uuid.UUID      `json:"locationId"`
}

// plotUpdatePayload is the plot_update envelope body.
type plotUpdatePayload struct {
	PlotID uuid.UUID         `json:"plotId"`
	Status models.PlotStatus `json:"status"`
	Event  string            `json:"event"`
}

// plot_update event kinds, one per mutation.
const (
	eventCreated       = "created"
	eventStatusChanged = "status_changed"
	eventDeleted       = "deleted"
)

// PlotService manages plot records and the status lifecycle. Every
// mutation broadcasts a plot_update envelope and invalidates the
// statistics cache.
type PlotService interface {
	Create(ctx context.Context, input CreatePlotInput, userID uuid.UUID) (*models.Plot, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Plot, error)
	Search(ctx context.Context, params repository.SearchParams) ([]models.Plot, error)

	// UpdateStatus applies a lifecycle transition, rejecting moves the
	// state machine does not allow, and broadcasts the change.
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.PlotStatus) (*models.Plot, error)

	Delete(ctx context.Context, id uuid.UUID) error
}

type plotService struct {
	repo      repository.PlotRepository
	cache     *cache.Client
	broadcast Broadcaster
	cfg       config.GeoConfig
	log       *logger.Logger
}

// NewPlotService creates a PlotService. broadcast may be nil when no
// realtime layer is wired (tests, one-shot tools).
func NewPlotService(repo repository.PlotRepository, cacheClient *cache.Client, broadcast Broadcaster, cfg config.GeoConfig, log *logger.Logger) PlotService {
	return &plotService{
		repo:      repo,
		cache:     cacheClient,
		broadcast: broadcast,
		cfg:       cfg,
		log:       log,
	}
}

func (s *plotService) Create(ctx context.Context, input CreatePlotInput, userID uuid.UUID) (*models.Plot, error) {
	geom := input.Geometry
	area := input.AreaSqm
	if geom != nil {
		repaired, err := geometry.Repair(geom)
		if err != nil {
			return nil, err
		}
		geom = repaired
		if area <= 0 {
			if computed, err := geometry.GroundArea(geom); err == nil {
				area = computed
			}
		}
	}
	if area <= 0 {
		area = s.cfg.DefaultAreaSqm
	}

	price := input.Price
	if price <= 0 {
		price = s.cfg.DefaultPrice
	}
	usage := input.UsageType
	if usage == "" {
		usage = s.cfg.DefaultUsageType
	}

	plot := &models.Plot{
		ID:           uuid.New(),
		Title:        input.Title,
		Description:  input.Description,
		PlotNumber:   input.PlotNumber,
		UsageType:    usage,
		Status:       models.StatusAvailable,
		Geom:         geom,
		LocationID:   input.LocationID,
		UploadedByID: userID,
		AreaSqm:      area,
		Price:        price,
	}

	if err := s.repo.Create(ctx, plot); err != nil {
		s.log.Error("Failed to create plot", err, nil)
		return nil, fmt.Errorf("failed to create plot: %w", err)
	}

	s.log.Info("Plot created", map[string]interface{}{
		"plot_id":     plot.ID.String(),
		"plot_number": plot.PlotNumber,
	})

	s.invalidateStats(ctx, plot.LocationID)
	s.publishUpdate(ctx, eventCreated, plot.ID, plot.Status)
	return plot, nil
}

func (s *plotService) Get(ctx context.Context, id uuid.UUID) (*models.Plot, error) {
	plot, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPlotNotFound
		}
		return nil, fmt.Errorf("failed to get plot: %w", err)
	}
	return plot, nil
}

func (s *plotService) Search(ctx context.Context, params repository.SearchParams) ([]models.Plot, error) {
	if params.Limit <= 0 {
		params.Limit = DefaultLimit
	}
	if params.Limit > MaxLimit {
		params.Limit = MaxLimit
	}
	plots, err := s.repo.Search(ctx, params)
	if err != nil {
		s.log.Error("Plot search failed", err, nil)
		return nil, fmt.Errorf("failed to search plots: %w", err)
	}
	return plots, nil
}

func (s *plotService) UpdateStatus(ctx context.Context, id uuid.UUID, status models.PlotStatus) (*models.Plot, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPlotNotFound
		}
		return nil, fmt.Errorf("failed to get plot: %w", err)
	}

	if !current.Status.CanTransitionTo(status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current.Status, status)
	}

	updated, err := s.repo.UpdateStatus(ctx, id, status)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPlotNotFound
		}
		s.log.Error("Failed to update plot status", err, map[string]interface{}{
			"plot_id": id.String(),
		})
		return nil, fmt.Errorf("failed to update plot status: %w", err)
	}

	s.log.Info("Plot status updated", map[string]interface{}{
		"plot_id": id.String(),
		"from":    string(current.Status),
		"to":      string(status),
	})

	s.invalidateStats(ctx, updated.LocationID)
	s.publishUpdate(ctx, eventStatusChanged, updated.ID, updated.Status)
	return updated, nil
}

func (s *plotService) Delete(ctx context.Context, id uuid.UUID) error {
	plot, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrPlotNotFound
		}
		return fmt.Errorf("failed to get plot: %w", err)
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrPlotNotFound
		}
		return fmt.Errorf("failed to delete plot: %w", err)
	}

	s.log.Info("Plot deleted", map[string]interface{}{
		"plot_id": id.String(),
	})

	s.invalidateStats(ctx, plot.LocationID)
	s.publishUpdate(ctx, eventDeleted, plot.ID, plot.Status)
	return nil
}

// invalidateStats drops the global stats key and, when the plot is
// scoped, the per-location key as well.
func (s *plotService) invalidateStats(ctx context.Context, locationID *uuid.UUID) {
	if s.cache == nil {
		return
	}
	s.cache.Invalidate(ctx, cache.StatsKey(""))
	if locationID != nil {
		s.cache.Invalidate(ctx, cache.StatsKey(locationID.String()))
	}
}

func (s *plotService) publishUpdate(ctx context.Context, event string, id uuid.UUID, status models.PlotStatus) {
	if s.broadcast == nil {
		return
	}
	env, err := realtime.NewEnvelope(realtime.TypePlotUpdate, plotUpdatePayload{PlotID: id, Status: status, Event: event})
	if err != nil {
		return
	}
	s.broadcast.Publish(ctx, env)
}
