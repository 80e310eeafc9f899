package tiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCellOf_Deterministic(t *testing.T) {
	a, err := CellOf(40.7128, -74.0060, 9)
	require.NoError(t, err)
	b, err := CellOf(40.7128, -74.0060, 9)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	res, err := Resolution(a)
	require.NoError(t, err)
	assert.Equal(t, 9, res)
}

func TestCellOf_RejectsBadInput(t *testing.T) {
	_, err := CellOf(91, 0, 9)
	assert.Error(t, err)
	_, err = CellOf(0, 181, 9)
	assert.Error(t, err)
	_, err = CellOf(40.7, -74.0, 16)
	assert.Error(t, err)
	_, err = CellOf(40.7, -74.0, -1)
	assert.Error(t, err)
}

func TestCover_CircleContainsCenterCell(t *testing.T) {
	region := Region{
		Center:       &Point{Lat: 37.7749, Lon: -122.4194},
		RadiusMeters: 2000,
	}
	cells, err := Cover(region, 9)
	require.NoError(t, err)
	require.NotEmpty(t, cells)

	centerCell, err := CellOf(37.7749, -122.4194, 9)
	require.NoError(t, err)
	assert.Contains(t, cells, centerCell)

	// No duplicates, all at the requested resolution.
	seen := map[string]bool{}
	for _, c := range cells {
		assert.False(t, seen[c], "duplicate cell %s", c)
		seen[c] = true
		res, err := Resolution(c)
		require.NoError(t, err)
		assert.Equal(t, 9, res)
	}
}

func TestCover_TinyRegionStillYieldsACell(t *testing.T) {
	region := Region{
		Center:       &Point{Lat: 51.5074, Lon: -0.1278},
		RadiusMeters: 1,
	}
	cells, err := Cover(region, 7)
	require.NoError(t, err)
	require.Len(t, cells, 1)

	want, err := CellOf(51.5074, -0.1278, 7)
	require.NoError(t, err)
	assert.Equal(t, want, cells[0])
}

func TestCover_Polygon(t *testing.T) {
	region := Region{
		Polygon: []Point{
			{Lat: 40.70, Lon: -74.02},
			{Lat: 40.72, Lon: -74.02},
			{Lat: 40.72, Lon: -73.99},
			{Lat: 40.70, Lon: -73.99},
		},
	}
	cells, err := Cover(region, 9)
	require.NoError(t, err)
	assert.NotEmpty(t, cells)
}

func TestCover_ConcavePolygonExcludesNotch(t *testing.T) {
	// U-shaped region: the vertex average falls inside the notch, outside
	// the region itself. Its cell must not leak into the cover.
	region := Region{
		Polygon: []Point{
			{Lat: 40.70, Lon: -74.06},
			{Lat: 40.70, Lon: -74.00},
			{Lat: 40.76, Lon: -74.00},
			{Lat: 40.76, Lon: -74.02},
			{Lat: 40.72, Lon: -74.02},
			{Lat: 40.72, Lon: -74.04},
			{Lat: 40.76, Lon: -74.04},
			{Lat: 40.76, Lon: -74.06},
		},
	}
	cells, err := Cover(region, 9)
	require.NoError(t, err)
	require.NotEmpty(t, cells)

	notchCenter, err := CellOf(40.735, -74.03, 9)
	require.NoError(t, err)
	assert.NotContains(t, cells, notchCenter)
}

func TestCover_Deterministic(t *testing.T) {
	region := Region{
		Center:       &Point{Lat: 48.8566, Lon: 2.3522},
		RadiusMeters: 1500,
	}
	first, err := Cover(region, 9)
	require.NoError(t, err)
	second, err := Cover(region, 9)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestParentChildren_RoundTrip(t *testing.T) {
	cell, err := CellOf(35.6762, 139.6503, 9)
	require.NoError(t, err)

	children, err := Children(cell, 10)
	require.NoError(t, err)
	assert.Len(t, children, 7)

	for _, child := range children {
		parent, err := Parent(child)
		require.NoError(t, err)
		assert.Equal(t, cell, parent)
	}
}

func TestChildren_RequiresFinerResolution(t *testing.T) {
	cell, err := CellOf(35.6762, 139.6503, 9)
	require.NoError(t, err)

	_, err = Children(cell, 9)
	assert.Error(t, err)
	_, err = Children(cell, 8)
	assert.Error(t, err)
}

func TestNeighbors_ExcludesSelf(t *testing.T) {
	cell, err := CellOf(-33.8688, 151.2093, 9)
	require.NoError(t, err)

	neighbors, err := Neighbors(cell)
	require.NoError(t, err)
	assert.Len(t, neighbors, 6)
	assert.NotContains(t, neighbors, cell)
}

func TestCentroid_RoundTripsToSameCell(t *testing.T) {
	cell, err := CellOf(55.7558, 37.6173, 9)
	require.NoError(t, err)

	center, err := Centroid(cell)
	require.NoError(t, err)

	back, err := CellOf(center.Lat, center.Lon, 9)
	require.NoError(t, err)
	assert.Equal(t, cell, back)
}

func TestParseCell_RejectsGarbage(t *testing.T) {
	_, err := Resolution("not-a-cell")
	assert.Error(t, err)
	_, err = Parent("")
	assert.Error(t, err)
}

func TestRegion_Validate(t *testing.T) {
	assert.Error(t, Region{}.Validate(), "empty region")

	both := Region{
		Polygon:      []Point{{0, 0}, {0, 1}, {1, 1}},
		Center:       &Point{Lat: 0, Lon: 0},
		RadiusMeters: 100,
	}
	assert.Error(t, both.Validate(), "polygon and circle are mutually exclusive")

	assert.Error(t, Region{Polygon: []Point{{0, 0}, {1, 1}}}.Validate(), "too few vertices")
	assert.Error(t, Region{Center: &Point{Lat: 0, Lon: 0}}.Validate(), "radius required")
	assert.Error(t, Region{Center: &Point{Lat: 99, Lon: 0}, RadiusMeters: 100}.Validate(), "latitude out of range")

	assert.NoError(t, Region{Center: &Point{Lat: 40, Lon: -74}, RadiusMeters: 500}.Validate())
	assert.NoError(t, Region{Polygon: []Point{{0, 0}, {0, 1}, {1, 1}}}.Validate())
}
