package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/landhub-tz/backend/internal/database"
	"github.com/landhub-tz/backend/internal/models"
)

// ErrNotFound is returned when the requested plot does not exist.
// Every other error from this package is a store failure.
var ErrNotFound = errors.New("plot not found")

// PlotWithDistance pairs a plot with its distance from a query point.
type PlotWithDistance struct {
	Plot     models.Plot
	Distance float64 // meters
}

// SearchParams are the attribute filters for plot listing.
type SearchParams struct {
	Text       string
	MinPrice   *float64
	MaxPrice   *float64
	MinArea    *float64
	MaxArea    *float64
	UsageType  string
	Status     models.PlotStatus
	LocationID *uuid.UUID
	Offset     int
	Limit      int
}

// PlotRepository defines the data access operations over plot records.
type PlotRepository interface {
	// Create persists a single plot.
	Create(ctx context.Context, plot *models.Plot) error

	// CreateBatch persists all plots in one transaction. Either every
	// plot becomes visible or none does.
	CreateBatch(ctx context.Context, plots []*models.Plot) error

	// GetByID returns a plot or ErrNotFound.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Plot, error)

	// GetByIDs returns the plots matching the given IDs, capped at limit
	// when limit is positive. Unknown IDs are silently absent.
	GetByIDs(ctx context.Context, ids []uuid.UUID, limit int) ([]models.Plot, error)

	// Search lists plots matching the attribute filters.
	Search(ctx context.Context, params SearchParams) ([]models.Plot, error)

	// UpdateStatus sets a plot's lifecycle status and returns the
	// updated record, or ErrNotFound.
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.PlotStatus) (*models.Plot, error)

	// Delete removes a plot, or returns ErrNotFound.
	Delete(ctx context.Context, id uuid.UUID) error

	// WithinPolygon returns AVAILABLE plots whose geometry lies within
	// the closed ring.
	WithinPolygon(ctx context.Context, ring [][2]float64) ([]models.Plot, error)

	// WithinRadius returns AVAILABLE plots within radiusKm of the point,
	// ordered by ascending distance and truncated to limit.
	WithinRadius(ctx context.Context, lat, lng, radiusKm float64, limit int) ([]PlotWithDistance, error)

	// IDsWithinRadius returns only the identifiers within radiusKm of
	// the point. Used by the background large-radius job.
	IDsWithinRadius(ctx context.Context, lat, lng, radiusKm float64) ([]uuid.UUID, error)

	// Stats computes the aggregate statistics, optionally scoped to a
	// location.
	Stats(ctx context.Context, locationID *uuid.UUID) (*models.PlotStatistics, error)
}

// plotRepository is the pgx/PostGIS implementation of PlotRepository.
type plotRepository struct {
	db *database.Database
}

// NewPlotRepository creates a PlotRepository over the connection pool.
func NewPlotRepository(db *database.Database) PlotRepository {
	return &plotRepository{db: db}
}

const plotColumns = `
	id,
	plot_number,
	title,
	description,
	area_sqm,
	price,
	usage_type,
	status,
	location_id,
	ST_AsGeoJSON(geom) as geometry,
	uploaded_by_id,
	created_at`

const insertPlotSQL = `
	INSERT INTO plots (
		id, plot_number, title, description, area_sqm, price,
		usage_type, status, location_id, geom, uploaded_by_id, created_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9,
		ST_SetSRID(ST_GeomFromGeoJSON($10::text), 4326), $11, now()
	)`

// scanPlot reads one plot row, parsing the GeoJSON geometry column.
func scanPlot(row pgx.Row) (*models.Plot, error) {
	var (
		plot     models.Plot
		geomJSON []byte
	)
	err := row.Scan(
		&plot.ID,
		&plot.PlotNumber,
		&plot.Title,
		&plot.Description,
		&plot.AreaSqm,
		&plot.Price,
		&plot.UsageType,
		&plot.Status,
		&plot.LocationID,
		&geomJSON,
		&plot.UploadedByID,
		&plot.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if geomJSON != nil {
		plot.Geom = &models.Polygon{}
		if err := plot.Geom.Scan(geomJSON); err != nil {
			return nil, fmt.Errorf("failed to parse geometry for plot %s: %w", plot.ID, err)
		}
	}
	return &plot, nil
}

// geomArg converts an optional polygon to a nullable GeoJSON text
// parameter for ST_GeomFromGeoJSON.
func geomArg(p *models.Polygon) interface{} {
	if p == nil || len(p.Coordinates) == 0 {
		return nil
	}
	val, err := p.Value()
	if err != nil {
		return nil
	}
	return val
}

// insertArgs builds the parameter list for insertPlotSQL.
func insertArgs(plot *models.Plot) []interface{} {
	return []interface{}{
		plot.ID,
		plot.PlotNumber,
		plot.Title,
		plot.Description,
		plot.AreaSqm,
		plot.Price,
		plot.UsageType,
		plot.Status,
		plot.LocationID,
		geomArg(plot.Geom),
		plot.UploadedByID,
	}
}

func (r *plotRepository) Create(ctx context.Context, plot *models.Plot) error {
	if _, err := r.db.Pool.Exec(ctx, insertPlotSQL, insertArgs(plot)...); err != nil {
		return fmt.Errorf("failed to insert plot %s: %w", plot.ID, err)
	}
	return nil
}

func (r *plotRepository) CreateBatch(ctx context.Context, plots []*models.Plot) error {
	if len(plots) == 0 {
		return nil
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, plot := range plots {
		if _, err := tx.Exec(ctx, insertPlotSQL, insertArgs(plot)...); err != nil {
			return fmt.Errorf("failed to insert plot %s: %w", plot.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit plot batch: %w", err)
	}
	return nil
}

func (r *plotRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Plot, error) {
	query := `SELECT` + plotColumns + ` FROM plots WHERE id = $1`

	plot, err := scanPlot(r.db.Pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query plot %s: %w", id, err)
	}
	return plot, nil
}

func (r *plotRepository) GetByIDs(ctx context.Context, ids []uuid.UUID, limit int) ([]models.Plot, error) {
	if len(ids) == 0 {
		return []models.Plot{}, nil
	}

	query := `SELECT` + plotColumns + ` FROM plots WHERE id = ANY($1)`
	args := []interface{}{ids}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query plots by id: %w", err)
	}
	defer rows.Close()

	return collectPlots(rows)
}

func (r *plotRepository) Search(ctx context.Context, params SearchParams) ([]models.Plot, error) {
	query := `SELECT` + plotColumns + ` FROM plots WHERE 1=1`
	var args []interface{}

	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if params.Text != "" {
		p := arg("%" + params.Text + "%")
		query += fmt.Sprintf(" AND (title ILIKE %s OR description ILIKE %s)", p, p)
	}
	if params.MinPrice != nil {
		query += " AND price >= " + arg(*params.MinPrice)
	}
	if params.MaxPrice != nil {
		query += " AND price <= " + arg(*params.MaxPrice)
	}
	if params.MinArea != nil {
		query += " AND area_sqm >= " + arg(*params.MinArea)
	}
	if params.MaxArea != nil {
		query += " AND area_sqm <= " + arg(*params.MaxArea)
	}
	if params.UsageType != "" {
		query += " AND usage_type = " + arg(params.UsageType)
	}
	if params.Status != "" {
		query += " AND status = " + arg(params.Status)
	}
	if params.LocationID != nil {
		query += " AND location_id = " + arg(*params.LocationID)
	}

	query += " ORDER BY created_at DESC"
	if params.Limit > 0 {
		query += " LIMIT " + arg(params.Limit)
	}
	if params.Offset > 0 {
		query += " OFFSET " + arg(params.Offset)
	}

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search plots: %w", err)
	}
	defer rows.Close()

	return collectPlots(rows)
}

func (r *plotRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.PlotStatus) (*models.Plot, error) {
	query := `
		UPDATE plots SET status = $2 WHERE id = $1
		RETURNING` + plotColumns

	plot, err := scanPlot(r.db.Pool.QueryRow(ctx, query, id, status))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update status of plot %s: %w", id, err)
	}
	return plot, nil
}

func (r *plotRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM plots WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete plot %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *plotRepository) WithinPolygon(ctx context.Context, ring [][2]float64) ([]models.Plot, error) {
	ringJSON, err := json.Marshal(map[string]interface{}{
		"type":        "Polygon",
		"coordinates": [][][2]float64{ring},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode query polygon: %w", err)
	}

	query := `
		SELECT` + plotColumns + `
		FROM plots
		WHERE ST_Within(geom, ST_SetSRID(ST_GeomFromGeoJSON($1::text), 4326))
		AND status = 'available'
	`

	rows, err := r.db.Pool.Query(ctx, query, string(ringJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to query plots in polygon: %w", err)
	}
	defer rows.Close()

	return collectPlots(rows)
}

// WithinRadius uses geography casting so the radius is measured in
// meters on the ground.
//
// Note: PostGIS point constructors take (longitude, latitude) order.
func (r *plotRepository) WithinRadius(ctx context.Context, lat, lng, radiusKm float64, limit int) ([]PlotWithDistance, error) {
	query := `
		SELECT` + plotColumns + `,
			ST_Distance(
				geom::geography,
				ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography
			) as distance_meters
		FROM plots
		WHERE ST_DWithin(
			geom::geography,
			ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography,
			$3
		)
		AND status = 'available'
		ORDER BY distance_meters
		LIMIT $4
	`

	rows, err := r.db.Pool.Query(ctx, query, lng, lat, radiusKm*1000, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query plots within radius (lat=%f, lng=%f, km=%f): %w",
			lat, lng, radiusKm, err)
	}
	defer rows.Close()

	results := []PlotWithDistance{}
	for rows.Next() {
		var (
			plot     models.Plot
			geomJSON []byte
			distance float64
		)
		err := rows.Scan(
			&plot.ID,
			&plot.PlotNumber,
			&plot.Title,
			&plot.Description,
			&plot.AreaSqm,
			&plot.Price,
			&plot.UsageType,
			&plot.Status,
			&plot.LocationID,
			&geomJSON,
			&plot.UploadedByID,
			&plot.CreatedAt,
			&distance,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plot row: %w", err)
		}
		if geomJSON != nil {
			plot.Geom = &models.Polygon{}
			if err := plot.Geom.Scan(geomJSON); err != nil {
				return nil, fmt.Errorf("failed to parse geometry for plot %s: %w", plot.ID, err)
			}
		}
		results = append(results, PlotWithDistance{Plot: plot, Distance: distance})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating plot rows: %w", err)
	}

	return results, nil
}

func (r *plotRepository) IDsWithinRadius(ctx context.Context, lat, lng, radiusKm float64) ([]uuid.UUID, error) {
	query := `
		SELECT id
		FROM plots
		WHERE ST_DWithin(
			geom::geography,
			ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography,
			$3
		)
		AND status = 'available'
	`

	rows, err := r.db.Pool.Query(ctx, query, lng, lat, radiusKm*1000)
	if err != nil {
		return nil, fmt.Errorf("failed to query plot ids within radius: %w", err)
	}
	defer rows.Close()

	ids := []uuid.UUID{}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan plot id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating plot id rows: %w", err)
	}

	return ids, nil
}

func (r *plotRepository) Stats(ctx context.Context, locationID *uuid.UUID) (*models.PlotStatistics, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'available'),
			COUNT(*) FILTER (WHERE status = 'sold'),
			COALESCE(SUM(area_sqm), 0),
			COALESCE(AVG(price), 0),
			COALESCE(MIN(price), 0),
			COALESCE(MAX(price), 0)
		FROM plots
		WHERE ($1::uuid IS NULL OR location_id = $1)
	`

	var stats models.PlotStatistics
	err := r.db.Pool.QueryRow(ctx, query, locationID).Scan(
		&stats.TotalPlots,
		&stats.AvailablePlots,
		&stats.SoldPlots,
		&stats.TotalAreaSqm,
		&stats.AveragePrice,
		&stats.MinPrice,
		&stats.MaxPrice,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to compute plot statistics: %w", err)
	}
	return &stats, nil
}

// collectPlots drains rows produced by a plotColumns select.
func collectPlots(rows pgx.Rows) ([]models.Plot, error) {
	plots := []models.Plot{}
	for rows.Next() {
		plot, err := scanPlot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plot row: %w", err)
		}
		plots = append(plots, *plot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating plot rows: %w", err)
	}
	return plots, nil
}
