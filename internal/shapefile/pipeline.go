package shapefile

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	shp "github.com/jonas-p/go-shp"

	"github.com/landhub-tz/backend/internal/config"
	"github.com/landhub-tz/backend/internal/geometry"
	"github.com/landhub-tz/backend/internal/jobs"
	"github.com/landhub-tz/backend/internal/logger"
	"github.com/landhub-tz/backend/internal/models"
	"github.com/landhub-tz/backend/internal/repository"
)

// TaskProcess is the job queue task name for dataset ingestion.
const TaskProcess = "shapefile.process"

// Attribute names recognized on ingested features.
const (
	attrName        = "NAME"
	attrDescription = "DESCRIPTION"
	attrArea        = "AREA"
	attrPrice       = "PRICE"
	attrUsageType   = "USAGE_TYPE"
	attrPlotNumber  = "PLOT_NUM"
)

// Args are the job arguments for one ingestion run.
type Args struct {
	Files      FileSet    `json:"files"`
	UserID     uuid.UUID  `json:"userId"`
	LocationID *uuid.UUID `json:"locationId,omitempty"`
}

// SkippedFeature records one malformed feature that was dropped without
// failing the job.
type SkippedFeature struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// Result is the terminal payload of an ingestion job.
type Result struct {
	CreatedPlots   []uuid.UUID      `json:"createdPlots"`
	TotalProcessed int              `json:"totalProcessed"`
	Skipped        []SkippedFeature `json:"skipped,omitempty"`
	Message        string           `json:"message"`
}

// RepairFunc validates and repairs a feature polygon.
type RepairFunc func(*models.Polygon) (*models.Polygon, error)

// AreaFunc computes ground area in square meters from a polygon.
type AreaFunc func(*models.Polygon) (float64, error)

// Pipeline turns a staged shapefile dataset into persisted plots.
type Pipeline struct {
	repo     repository.PlotRepository
	defaults config.GeoConfig
	repair   RepairFunc
	area     AreaFunc
	log      *logger.Logger
}

// NewPipeline wires the pipeline with the production geometry helpers.
func NewPipeline(repo repository.PlotRepository, defaults config.GeoConfig, log *logger.Logger) *Pipeline {
	return &Pipeline{
		repo:     repo,
		defaults: defaults,
		repair:   geometry.Repair,
		area:     geometry.GroundArea,
		log:      log,
	}
}

// Handler adapts the pipeline to the job queue contract.
func (p *Pipeline) Handler() jobs.Handler {
	return func(ctx context.Context, raw json.RawMessage, report jobs.ProgressFunc) (interface{}, error) {
		var args Args
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("decode ingestion args: %w", err)
		}
		return p.Run(ctx, args, report)
	}
}

// Run executes one ingestion job: re-validate the dataset, stream and
// transform features, persist survivors in a single transaction, and
// release the staged files whether the job succeeds or fails. Malformed
// individual features are skipped and counted; store errors fail the
// whole job with nothing persisted.
func (p *Pipeline) Run(ctx context.Context, args Args, report jobs.ProgressFunc) (*Result, error) {
	defer args.Files.Cleanup()

	report(0, "Validating dataset")
	info, err := ValidateSet(args.Files)
	if err != nil {
		return nil, err
	}
	if info.FeatureCount == 0 {
		return &Result{CreatedPlots: []uuid.UUID{}, Message: "Dataset contains no features"}, nil
	}

	reader, err := shp.Open(args.Files.SHP)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed geometry file: %v", ErrInvalidDataset, err)
	}
	defer reader.Close()

	fieldIndex := make(map[string]int)
	for i, field := range reader.Fields() {
		fieldIndex[strings.ToUpper(field.String())] = i
	}

	var (
		plots     []*models.Plot
		skipped   []SkippedFeature
		processed int
	)

	for reader.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		row, shape := reader.Shape()
		attr := func(name string) string {
			idx, ok := fieldIndex[name]
			if !ok {
				return ""
			}
			return strings.TrimSpace(strings.TrimRight(reader.ReadAttribute(row, idx), "\x00"))
		}

		plot, err := p.buildPlot(row, shape, attr, args)
		if err != nil {
			p.log.Warn("Skipping malformed feature", map[string]interface{}{
				"feature": row,
				"reason":  err.Error(),
			})
			skipped = append(skipped, SkippedFeature{Index: row, Reason: err.Error()})
		} else {
			plots = append(plots, plot)
			processed++
		}

		report((row+1)*100/info.FeatureCount,
			fmt.Sprintf("Processing feature %d of %d", row+1, info.FeatureCount))
	}
	if err := reader.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading features: %v", ErrInvalidDataset, err)
	}

	report(100, "Persisting plots")
	if err := p.repo.CreateBatch(ctx, plots); err != nil {
		return nil, fmt.Errorf("persisting plots: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(plots))
	for _, plot := range plots {
		ids = append(ids, plot.ID)
	}

	p.log.Info("Shapefile ingestion complete", map[string]interface{}{
		"created": len(ids),
		"skipped": len(skipped),
	})

	return &Result{
		CreatedPlots:   ids,
		TotalProcessed: processed,
		Skipped:        skipped,
		Message:        fmt.Sprintf("Successfully processed %d plots from shapefile", processed),
	}, nil
}

// buildPlot derives one plot record from a feature's geometry and
// attributes, applying the configured fallbacks for absent values.
func (p *Pipeline) buildPlot(row int, shape shp.Shape, attr func(string) string, args Args) (*models.Plot, error) {
	polygon, err := polygonFromShape(shape)
	if err != nil {
		return nil, err
	}

	repaired, err := p.repair(polygon)
	if err != nil {
		return nil, fmt.Errorf("geometry: %w", err)
	}

	title := attr(attrName)
	if title == "" {
		title = fmt.Sprintf("Plot %d", row+1)
	}

	area := parseFloat(attr(attrArea))
	if area <= 0 {
		computed, err := p.area(repaired)
		if err != nil || computed <= 0 {
			area = p.defaults.DefaultAreaSqm
		} else {
			area = computed
		}
	}

	price := parseFloat(attr(attrPrice))
	if price <= 0 {
		price = p.defaults.DefaultPrice
	}

	usage := attr(attrUsageType)
	if usage == "" {
		usage = p.defaults.DefaultUsageType
	}

	plotNumber := attr(attrPlotNumber)
	if plotNumber == "" {
		plotNumber = fmt.Sprintf("SHP_%d", row+1)
	}

	return &models.Plot{
		ID:           uuid.New(),
		Title:        title,
		Description:  attr(attrDescription),
		AreaSqm:      area,
		Price:        price,
		UsageType:    usage,
		PlotNumber:   plotNumber,
		Status:       models.StatusAvailable,
		Geom:         repaired,
		LocationID:   args.LocationID,
		UploadedByID: args.UserID,
	}, nil
}

// polygonFromShape extracts the exterior ring of a polygon feature.
func polygonFromShape(shape shp.Shape) (*models.Polygon, error) {
	poly, ok := shape.(*shp.Polygon)
	if !ok {
		return nil, fmt.Errorf("unsupported geometry type %T", shape)
	}
	if len(poly.Points) < 3 {
		return nil, fmt.Errorf("polygon has only %d points", len(poly.Points))
	}

	// Only the first part is used; plots are single simple polygons.
	end := len(poly.Points)
	if len(poly.Parts) > 1 {
		end = int(poly.Parts[1])
	}

	ring := make([][2]float64, 0, end)
	for _, pt := range poly.Points[:end] {
		ring = append(ring, [2]float64{pt.X, pt.Y})
	}
	return models.NewPolygon(ring), nil
}

// parseFloat converts a dbf attribute value, tolerating blanks.
func parseFloat(raw string) float64 {
	if raw == "" {
		return 0
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return val
}
