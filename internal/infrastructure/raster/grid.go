package raster

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/spf13/cast"

	"surveillance_service/internal/domain/model"
)

var ErrUnknownSurface = errors.New("unknown prediction surface")

// Grid is a north-up raster in geographic coordinates. Cells equal to NoData hold no value.
type Grid struct {
	Cols, Rows int
	XLLCorner  float64
	YLLCorner  float64
	CellSize   float64
	NoData     float64
	Values     []float64 // row-major, first row is the northernmost
}

func (g Grid) valid(v float64) bool {
	return !math.IsNaN(v) && (math.IsNaN(g.NoData) || v != g.NoData)
}

// cell returns the row and column containing the point, or false when it is off the grid.
func (g Grid) cell(latitude, longitude float64) (int, int, bool) {
	col := int(math.Floor((longitude - g.XLLCorner) / g.CellSize))
	rowFromBottom := int(math.Floor((latitude - g.YLLCorner) / g.CellSize))
	row := g.Rows - 1 - rowFromBottom
	if col < 0 || col >= g.Cols || row < 0 || row >= g.Rows {
		return 0, 0, false
	}
	return row, col, true
}

type footprintKey struct {
	global   bool
	gaulCode int
}

// footprint is an admin unit's outline in lon/lat with its bound cached for prefiltering cells.
type footprint struct {
	shape orb.MultiPolygon
	bound orb.Bound
}

func newFootprint(geom orb.Geometry) (footprint, error) {
	var shape orb.MultiPolygon
	switch g := geom.(type) {
	case orb.Polygon:
		shape = orb.MultiPolygon{g}
	case orb.MultiPolygon:
		shape = g
	default:
		return footprint{}, fmt.Errorf("admin unit footprint must be a polygon, got %T", geom)
	}
	return footprint{shape: shape, bound: shape.Bound()}, nil
}

func (f footprint) contains(latitude, longitude float64) bool {
	p := orb.Point{longitude, latitude}
	return f.bound.Contains(p) && planar.MultiPolygonContains(f.shape, p)
}

// GridSampler serves point samples and zonal means from in-memory surfaces. Surfaces missing from
// memory are loaded from {dir}/{surface}.asc on first use.
type GridSampler struct {
	dir string

	mu         sync.RWMutex
	surfaces   map[string]Grid
	footprints map[footprintKey]footprint
}

func NewGridSampler(dir string) *GridSampler {
	return &GridSampler{
		dir:        dir,
		surfaces:   map[string]Grid{},
		footprints: map[footprintKey]footprint{},
	}
}

func (s *GridSampler) AddSurface(name string, g Grid) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.surfaces[name] = g
}

// SetFootprint accepts an orb.Polygon or orb.MultiPolygon in lon/lat order.
func (s *GridSampler) SetFootprint(global bool, gaulCode int, geom orb.Geometry) error {
	fp, err := newFootprint(geom)
	if err != nil {
		return fmt.Errorf("admin unit %d: %w", gaulCode, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.footprints[footprintKey{global, gaulCode}] = fp
	return nil
}

// LoadFootprints reads a GeoJSON FeatureCollection of admin unit polygons. Each feature carries
// "gaul_code" and "global" properties.
func (s *GridSampler) LoadFootprints(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read admin unit footprints: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return fmt.Errorf("failed to decode admin unit footprints: %w", err)
	}
	for i, f := range fc.Features {
		raw, ok := f.Properties["gaul_code"]
		code, err := cast.ToIntE(raw)
		if !ok || err != nil {
			return fmt.Errorf("feature %d: missing or invalid gaul_code", i)
		}
		if err := s.SetFootprint(cast.ToBool(f.Properties["global"]), code, f.Geometry); err != nil {
			return err
		}
	}
	return nil
}

// LoadFootprintsFile is a no-op when the file does not exist.
func (s *GridSampler) LoadFootprintsFile(path string) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()
	return s.LoadFootprints(f)
}

func (s *GridSampler) surface(name string) (Grid, error) {
	s.mu.RLock()
	g, ok := s.surfaces[name]
	s.mu.RUnlock()
	if ok {
		return g, nil
	}
	if s.dir == "" {
		return Grid{}, fmt.Errorf("%s: %w", name, ErrUnknownSurface)
	}

	f, err := os.Open(filepath.Join(s.dir, filepath.Base(name)+".asc"))
	if errors.Is(err, os.ErrNotExist) {
		return Grid{}, fmt.Errorf("%s: %w", name, ErrUnknownSurface)
	}
	if err != nil {
		return Grid{}, err
	}
	defer f.Close()
	g, err = ParseASCIIGrid(f)
	if err != nil {
		return Grid{}, fmt.Errorf("surface %s: %w", name, err)
	}
	s.AddSurface(name, g)
	return g, nil
}

// SamplePoint returns nil for points off the grid or on a no-data cell.
func (s *GridSampler) SamplePoint(_ context.Context, surface string, latitude, longitude float64) (*float64, error) {
	g, err := s.surface(surface)
	if err != nil {
		return nil, err
	}
	row, col, ok := g.cell(latitude, longitude)
	if !ok {
		return nil, nil
	}
	v := g.Values[row*g.Cols+col]
	if !g.valid(v) {
		return nil, nil
	}
	return &v, nil
}

// ZonalMean averages the valid cells whose centres fall inside the admin unit's polygon.
func (s *GridSampler) ZonalMean(_ context.Context, surface string, global bool, gaulCode int) (model.ZonalStatistics, error) {
	g, err := s.surface(surface)
	if err != nil {
		return model.ZonalStatistics{}, err
	}
	s.mu.RLock()
	fp, ok := s.footprints[footprintKey{global, gaulCode}]
	s.mu.RUnlock()
	if !ok {
		return model.ZonalStatistics{}, nil
	}

	var stats model.ZonalStatistics
	var sum float64
	var n int
	for row := 0; row < g.Rows; row++ {
		lat := g.YLLCorner + (float64(g.Rows-1-row)+0.5)*g.CellSize
		if lat < fp.bound.Min.Lat() || lat > fp.bound.Max.Lat() {
			continue
		}
		for col := 0; col < g.Cols; col++ {
			lon := g.XLLCorner + (float64(col)+0.5)*g.CellSize
			if !fp.contains(lat, lon) {
				continue
			}
			stats.CoveredCells++
			if v := g.Values[row*g.Cols+col]; g.valid(v) {
				sum += v
				n++
			}
		}
	}
	if n > 0 {
		mean := sum / float64(n)
		stats.Mean = &mean
	}
	return stats, nil
}

// ParseASCIIGrid reads an ESRI ASCII grid (.asc). A missing NODATA_value header means only NaN cells are no-data.
func ParseASCIIGrid(r io.Reader) (Grid, error) {
	g := Grid{NoData: math.NaN()}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 64*1024*1024)
	sc.Split(bufio.ScanWords)

	var centred bool
	for sc.Scan() {
		token := sc.Text()
		if v, err := strconv.ParseFloat(token, 64); err == nil {
			g.Values = append(g.Values, v)
			break
		}
		key := strings.ToLower(token)
		if !sc.Scan() {
			return Grid{}, fmt.Errorf("missing value for header %q", key)
		}
		v, err := strconv.ParseFloat(sc.Text(), 64)
		if err != nil {
			return Grid{}, fmt.Errorf("header %q: %w", key, err)
		}
		switch key {
		case "ncols":
			g.Cols = int(v)
		case "nrows":
			g.Rows = int(v)
		case "xllcorner":
			g.XLLCorner = v
		case "yllcorner":
			g.YLLCorner = v
		case "xllcenter":
			g.XLLCorner, centred = v, true
		case "yllcenter":
			g.YLLCorner, centred = v, true
		case "cellsize":
			g.CellSize = v
		case "nodata_value":
			g.NoData = v
		default:
			return Grid{}, fmt.Errorf("unknown header %q", key)
		}
	}
	if g.Cols <= 0 || g.Rows <= 0 || g.CellSize <= 0 {
		return Grid{}, fmt.Errorf("invalid grid header: %d cols, %d rows, cell size %g", g.Cols, g.Rows, g.CellSize)
	}
	if centred {
		g.XLLCorner -= g.CellSize / 2
		g.YLLCorner -= g.CellSize / 2
	}

	for sc.Scan() {
		v, err := strconv.ParseFloat(sc.Text(), 64)
		if err != nil {
			return Grid{}, fmt.Errorf("cell %d: %w", len(g.Values), err)
		}
		g.Values = append(g.Values, v)
	}
	if err := sc.Err(); err != nil {
		return Grid{}, err
	}
	if len(g.Values) != g.Cols*g.Rows {
		return Grid{}, fmt.Errorf("expected %d cells, found %d", g.Cols*g.Rows, len(g.Values))
	}
	return g, nil
}
