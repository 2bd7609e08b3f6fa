package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/landhub-tz/backend/internal/models"
)

func square(origin [2]float64, side float64) *models.Polygon {
	x, y := origin[0], origin[1]
	return models.NewPolygon([][2]float64{
		{x, y}, {x + side, y}, {x + side, y + side}, {x, y + side},
	})
}

// bowtie crosses itself in the middle, the classic self-intersection.
func bowtie() *models.Polygon {
	return models.NewPolygon([][2]float64{
		{0, 0}, {1, 1}, {1, 0}, {0, 1},
	})
}

// collinear has a closed ring but encloses nothing.
func collinear() *models.Polygon {
	return models.NewPolygon([][2]float64{
		{0, 0}, {1, 1}, {2, 2},
	})
}

func TestValidate(t *testing.T) {
	t.Run("valid square", func(t *testing.T) {
		assert.NoError(t, Validate(square([2]float64{39.2, -6.8}, 0.01)))
	})

	t.Run("self-intersecting ring", func(t *testing.T) {
		err := Validate(bowtie())
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidGeometry)
		// The GEOS invalidity reason rides along for the caller.
		assert.NotEqual(t, ErrInvalidGeometry.Error(), err.Error())
	})

	t.Run("missing coordinates", func(t *testing.T) {
		assert.ErrorIs(t, Validate(nil), ErrInvalidGeometry)
		assert.ErrorIs(t, Validate(&models.Polygon{}), ErrInvalidGeometry)
	})
}

func TestRepair(t *testing.T) {
	t.Run("valid input passes through unchanged", func(t *testing.T) {
		p := square([2]float64{39.2, -6.8}, 0.01)
		got, err := Repair(p)
		require.NoError(t, err)
		assert.Same(t, p, got)
	})

	t.Run("self-intersection is repaired", func(t *testing.T) {
		got, err := Repair(bowtie())
		require.NoError(t, err)
		require.NotNil(t, got)

		assert.NoError(t, Validate(got))
		area, err := GroundArea(got)
		require.NoError(t, err)
		assert.Greater(t, area, 0.0)
	})

	t.Run("zero-area ring is unrepairable", func(t *testing.T) {
		_, err := Repair(collinear())
		assert.ErrorIs(t, err, ErrInvalidGeometry)
	})
}

func TestGroundArea(t *testing.T) {
	t.Run("one degree square", func(t *testing.T) {
		area, err := GroundArea(square([2]float64{0, 0}, 1))
		require.NoError(t, err)
		assert.InEpsilon(t, metersPerDegree*metersPerDegree, area, 1e-9)
	})

	t.Run("scales quadratically with the side", func(t *testing.T) {
		small, err := GroundArea(square([2]float64{0, 0}, 0.01))
		require.NoError(t, err)
		large, err := GroundArea(square([2]float64{0, 0}, 0.02))
		require.NoError(t, err)
		assert.InEpsilon(t, 4.0, large/small, 1e-9)
	})
}
