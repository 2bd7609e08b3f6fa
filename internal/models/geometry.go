package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Polygon represents a PostGIS Polygon geometry in GeoJSON form:
// [rings][points][lon,lat], SRID 4326 (WGS84).
type Polygon struct {
	Coordinates [][][2]float64
	SRID        int
}

// Ring returns the exterior ring of the polygon, or nil if unset.
func (p *Polygon) Ring() [][2]float64 {
	if p == nil || len(p.Coordinates) == 0 {
		return nil
	}
	return p.Coordinates[0]
}

// Scan implements sql.Scanner for reading geometry selected with
// ST_AsGeoJSON. A nil value leaves the polygon empty.
func (p *Polygon) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("failed to scan Polygon: expected []byte, got %T", value)
	}

	var geom struct {
		Type        string         `json:"type"`
		Coordinates [][][2]float64 `json:"coordinates"`
	}
	if err := json.Unmarshal(bytes, &geom); err != nil {
		return fmt.Errorf("failed to unmarshal polygon geometry: %w", err)
	}
	if geom.Type != "Polygon" {
		return fmt.Errorf("expected Polygon type, got %s", geom.Type)
	}

	p.Coordinates = geom.Coordinates
	p.SRID = 4326

	return nil
}

// Value implements driver.Valuer. It returns a GeoJSON string for use
// with ST_GeomFromGeoJSON in raw SQL.
func (p Polygon) Value() (driver.Value, error) {
	if len(p.Coordinates) == 0 {
		return nil, nil
	}

	geoJSON, err := json.Marshal(map[string]interface{}{
		"type":        "Polygon",
		"coordinates": p.Coordinates,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal polygon to GeoJSON: %w", err)
	}

	return string(geoJSON), nil
}

// MarshalJSON renders the polygon as a GeoJSON geometry object.
func (p Polygon) MarshalJSON() ([]byte, error) {
	geom := struct {
		Type        string         `json:"type"`
		Coordinates [][][2]float64 `json:"coordinates"`
	}{
		Type:        "Polygon",
		Coordinates: p.Coordinates,
	}
	return json.Marshal(geom)
}

// UnmarshalJSON parses a GeoJSON Polygon geometry object.
func (p *Polygon) UnmarshalJSON(data []byte) error {
	var geom struct {
		Type        string         `json:"type"`
		Coordinates [][][2]float64 `json:"coordinates"`
	}

	if err := json.Unmarshal(data, &geom); err != nil {
		return fmt.Errorf("failed to unmarshal polygon: %w", err)
	}
	if geom.Type != "" && geom.Type != "Polygon" {
		return fmt.Errorf("expected Polygon type, got %s", geom.Type)
	}

	p.Coordinates = geom.Coordinates
	p.SRID = 4326

	return nil
}

// NewPolygon builds a Polygon from a single exterior ring, closing the
// ring if its first and last points differ.
func NewPolygon(ring [][2]float64) *Polygon {
	if len(ring) == 0 {
		return &Polygon{SRID: 4326}
	}
	closed := ring
	if ring[0] != ring[len(ring)-1] {
		closed = append(append([][2]float64{}, ring...), ring[0])
	}
	return &Polygon{
		Coordinates: [][][2]float64{closed},
		SRID:        4326,
	}
}
