package raster

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 3x3 grid of 1-degree cells covering lat 0..3, lon 10..13.
const sampleGrid = `ncols 3
nrows 3
xllcorner 10
yllcorner 0
cellsize 1
NODATA_value -9999
0.9 0.8 -9999
0.6 0.5 0.4
0.3 0.2 0.1
`

func TestParseASCIIGrid(t *testing.T) {
	g, err := ParseASCIIGrid(strings.NewReader(sampleGrid))

	require.NoError(t, err)
	assert.Equal(t, 3, g.Cols)
	assert.Equal(t, 3, g.Rows)
	assert.Equal(t, -9999.0, g.NoData)
	assert.Len(t, g.Values, 9)
}

func TestParseASCIIGridCentredOrigin(t *testing.T) {
	g, err := ParseASCIIGrid(strings.NewReader("ncols 1\nnrows 1\nxllcenter 0.5\nyllcenter 0.5\ncellsize 1\n7\n"))

	require.NoError(t, err)
	assert.Equal(t, 0.0, g.XLLCorner)
	assert.Equal(t, 0.0, g.YLLCorner)
	assert.True(t, g.valid(7))
}

func TestParseASCIIGridRejectsBadInput(t *testing.T) {
	for _, in := range []string{
		"ncols 2\nnrows 2\nxllcorner 0\nyllcorner 0\ncellsize 1\n1 2 3\n",
		"ncols 2\nnrows 2\ncellsize 0\n1 2 3 4\n",
		"ncols 1\nnrows 1\nxllcorner 0\nyllcorner 0\ncellsize 1\nbanana\n",
		"colour 1\n",
	} {
		_, err := ParseASCIIGrid(strings.NewReader(in))
		assert.Error(t, err, in)
	}
}

func sampler(t *testing.T) *GridSampler {
	t.Helper()
	g, err := ParseASCIIGrid(strings.NewReader(sampleGrid))
	require.NoError(t, err)
	s := NewGridSampler("")
	s.AddSurface("run-1", g)
	return s
}

func TestSamplePoint(t *testing.T) {
	ctx := context.Background()
	s := sampler(t)

	v, err := s.SamplePoint(ctx, "run-1", 2.5, 10.5)
	require.NoError(t, err)
	assert.Equal(t, 0.9, *v)

	v, err = s.SamplePoint(ctx, "run-1", 0.2, 12.9)
	require.NoError(t, err)
	assert.Equal(t, 0.1, *v)

	v, err = s.SamplePoint(ctx, "run-1", 2.5, 12.5)
	require.NoError(t, err)
	assert.Nil(t, v, "no-data cell")

	v, err = s.SamplePoint(ctx, "run-1", 45, 10.5)
	require.NoError(t, err)
	assert.Nil(t, v, "off the grid")

	_, err = s.SamplePoint(ctx, "run-2", 1, 11)
	assert.ErrorIs(t, err, ErrUnknownSurface)
}

func square(minLon, minLat, maxLon, maxLat float64) orb.Polygon {
	return orb.Polygon{{{minLon, minLat}, {maxLon, minLat}, {maxLon, maxLat}, {minLon, maxLat}, {minLon, minLat}}}
}

func TestZonalMean(t *testing.T) {
	ctx := context.Background()
	s := sampler(t)
	require.NoError(t, s.LoadFootprints(strings.NewReader(`{"type": "FeatureCollection", "features": [
		{"type": "Feature", "properties": {"gaul_code": 1, "global": false},
		 "geometry": {"type": "Polygon", "coordinates": [[[10, 1], [13, 1], [13, 3], [10, 3], [10, 1]]]}},
		{"type": "Feature", "properties": {"gaul_code": 2},
		 "geometry": {"type": "Polygon", "coordinates": [[[12.1, 2.1], [12.9, 2.1], [12.9, 2.9], [12.1, 2.9], [12.1, 2.1]]]}},
		{"type": "Feature", "properties": {"gaul_code": 3, "global": true},
		 "geometry": {"type": "Polygon", "coordinates": [[[50, 50], [51, 50], [51, 51], [50, 51], [50, 50]]]}}
	]}`)))

	stats, err := s.ZonalMean(ctx, "run-1", false, 1)
	require.NoError(t, err)
	assert.Equal(t, 6, stats.CoveredCells)
	assert.InDelta(t, (0.9+0.8+0.6+0.5+0.4)/5, *stats.Mean, 1e-9)

	stats, err = s.ZonalMean(ctx, "run-1", false, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CoveredCells)
	assert.Nil(t, stats.Mean)

	stats, err = s.ZonalMean(ctx, "run-1", true, 3)
	require.NoError(t, err)
	assert.Zero(t, stats.CoveredCells)

	stats, err = s.ZonalMean(ctx, "run-1", true, 1)
	require.NoError(t, err)
	assert.Zero(t, stats.CoveredCells, "footprints are per admin unit set")
}

func TestZonalMeanExcludesCellsOutsideThePolygon(t *testing.T) {
	ctx := context.Background()
	s := sampler(t)
	// The triangle's bounding box covers all nine cells; only three centres lie under the hypotenuse.
	require.NoError(t, s.SetFootprint(false, 4, orb.Polygon{{{10, 0}, {12.8, 0}, {10, 2.8}, {10, 0}}}))
	// Opposite corners of the grid, with every other cell between them.
	require.NoError(t, s.SetFootprint(false, 5, orb.MultiPolygon{
		square(10.1, 2.1, 10.9, 2.9),
		square(12.1, 0.1, 12.9, 0.9),
	}))

	stats, err := s.ZonalMean(ctx, "run-1", false, 4)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.CoveredCells)
	assert.InDelta(t, (0.3+0.2+0.6)/3, *stats.Mean, 1e-9)

	stats, err = s.ZonalMean(ctx, "run-1", false, 5)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.CoveredCells)
	assert.InDelta(t, (0.9+0.1)/2, *stats.Mean, 1e-9)
}

func TestLoadFootprintsRejectsBadFeatures(t *testing.T) {
	for name, in := range map[string]string{
		"not geojson":       `[{"gaul_code": 1}]`,
		"point":             `{"type": "FeatureCollection", "features": [{"type": "Feature", "properties": {"gaul_code": 1}, "geometry": {"type": "Point", "coordinates": [10, 1]}}]}`,
		"missing gaul code": `{"type": "FeatureCollection", "features": [{"type": "Feature", "properties": {}, "geometry": {"type": "Polygon", "coordinates": [[[10, 1], [13, 1], [13, 3], [10, 1]]]}}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, NewGridSampler("").LoadFootprints(strings.NewReader(in)))
		})
	}
}

func TestSurfacesLoadFromDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "run-9.asc"), []byte(sampleGrid), 0o644))
	s := NewGridSampler(dir)
	require.NoError(t, s.LoadFootprintsFile(filepath.Join(dir, "missing.geojson")))

	v, err := s.SamplePoint(context.Background(), "run-9", 1.5, 11.5)

	require.NoError(t, err)
	assert.Equal(t, 0.5, *v)
}
