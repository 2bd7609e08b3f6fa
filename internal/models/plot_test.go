package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlotStatus_Valid(t *testing.T) {
	tests := []struct {
		status PlotStatus
		valid  bool
	}{
		{StatusAvailable, true},
		{StatusLocked, true},
		{StatusPendingPayment, true},
		{StatusSold, true},
		{PlotStatus("reserved"), false},
		{PlotStatus(""), false},
		{PlotStatus("AVAILABLE"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.status.Valid())
		})
	}
}

func TestPlotStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name    string
		from    PlotStatus
		to      PlotStatus
		allowed bool
	}{
		{"available to locked", StatusAvailable, StatusLocked, true},
		{"locked back to available", StatusLocked, StatusAvailable, true},
		{"locked to pending payment", StatusLocked, StatusPendingPayment, true},
		{"pending payment to sold", StatusPendingPayment, StatusSold, true},
		{"available straight to sold", StatusAvailable, StatusSold, false},
		{"available to pending payment", StatusAvailable, StatusPendingPayment, false},
		{"sold is terminal", StatusSold, StatusAvailable, false},
		{"pending payment cannot revert", StatusPendingPayment, StatusAvailable, false},
		{"no self transition", StatusAvailable, StatusAvailable, false},
		{"unknown target", StatusAvailable, PlotStatus("reserved"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestNewPolygon_ClosesOpenRing(t *testing.T) {
	ring := [][2]float64{{0, 0}, {1, 0}, {1, 1}, {0, 1}}

	p := NewPolygon(ring)
	require.Len(t, p.Coordinates, 1)

	closed := p.Coordinates[0]
	require.Len(t, closed, 5)
	assert.Equal(t, closed[0], closed[len(closed)-1])
	assert.Equal(t, 4326, p.SRID)

	// The input slice must not be mutated.
	assert.Len(t, ring, 4)
}

func TestNewPolygon_KeepsClosedRing(t *testing.T) {
	ring := [][2]float64{{0, 0}, {1, 0}, {1, 1}, {0, 0}}

	p := NewPolygon(ring)
	require.Len(t, p.Coordinates, 1)
	assert.Len(t, p.Coordinates[0], 4)
}

func TestPolygon_JSONRoundTrip(t *testing.T) {
	p := NewPolygon([][2]float64{{39.2, -6.8}, {39.3, -6.8}, {39.3, -6.7}})

	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"Polygon"`)

	var decoded Polygon
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, p.Coordinates, decoded.Coordinates)
	assert.Equal(t, 4326, decoded.SRID)
}

func TestPolygon_UnmarshalRejectsOtherGeometry(t *testing.T) {
	var p Polygon
	err := json.Unmarshal([]byte(`{"type":"Point","coordinates":[1,2]}`), &p)
	assert.Error(t, err)
}

func TestPolygon_ScanFromGeoJSON(t *testing.T) {
	var p Polygon
	raw := []byte(`{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}`)

	require.NoError(t, p.Scan(raw))
	require.Len(t, p.Coordinates, 1)
	assert.Len(t, p.Coordinates[0], 4)
	assert.Equal(t, 4326, p.SRID)
}

func TestPolygon_ScanNilLeavesEmpty(t *testing.T) {
	var p Polygon
	require.NoError(t, p.Scan(nil))
	assert.Nil(t, p.Coordinates)
}

func TestPolygon_ValueEmptyIsNil(t *testing.T) {
	var p Polygon
	v, err := p.Value()
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestPolygon_ValueProducesGeoJSON(t *testing.T) {
	p := NewPolygon([][2]float64{{0, 0}, {1, 0}, {1, 1}})

	v, err := p.Value()
	require.NoError(t, err)

	s, ok := v.(string)
	require.True(t, ok)
	assert.Contains(t, s, `"type":"Polygon"`)
}
