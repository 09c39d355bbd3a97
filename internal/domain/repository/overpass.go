package repository

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/serjvanilla/go-overpass"

	"surveillance_service/internal/domain/model"
)

type OverpassRepository struct {
	client  *overpass.Client
	timeout time.Duration
}

func NewOverpassRepository(endpoint string, timeout time.Duration) *OverpassRepository {
	httpClient := &http.Client{
		Timeout: timeout,
	}
	client := overpass.NewWithSettings(endpoint, 2, httpClient)
	return &OverpassRepository{
		client:  &client,
		timeout: timeout,
	}
}

// BoundariesContaining returns the administrative boundary relations enclosing the point, outermost first.
func (r *OverpassRepository) BoundariesContaining(ctx context.Context, latitude, longitude float64) ([]model.OSMBoundary, error) {
	query := fmt.Sprintf(`
		[out:json][timeout:%d];
		is_in(%f,%f)->.a;
		rel(pivot.a)["boundary"="administrative"];
		out tags;
	`, int(r.timeout.Seconds()), latitude, longitude)

	result, err := r.executeQuery(ctx, query)
	if err != nil {
		return nil, &model.ExternalServiceError{Service: "overpass", Err: err}
	}

	return convertToBoundaries(result), nil
}

func (r *OverpassRepository) executeQuery(ctx context.Context, query string) (*overpass.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type outcome struct {
		result overpass.Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := r.client.Query(query)
		done <- outcome{result: result, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("overpass query abandoned: %w", ctx.Err())
	case o := <-done:
		if o.err != nil {
			return nil, fmt.Errorf("overpass query failed: %w", o.err)
		}
		return &o.result, nil
	}
}

func convertToBoundaries(result *overpass.Result) []model.OSMBoundary {
	boundaries := make([]model.OSMBoundary, 0, len(result.Relations))
	for _, rel := range result.Relations {
		iso := rel.Tags["ISO3166-1:alpha2"]
		if iso == "" {
			iso = rel.Tags["ISO3166-1"]
		}
		boundaries = append(boundaries, model.OSMBoundary{
			RelationID: rel.ID,
			Name:       rel.Tags["name"],
			AdminLevel: rel.Tags["admin_level"],
			ISOCode:    strings.ToUpper(iso),
			Tags:       rel.Tags,
		})
	}
	sort.Slice(boundaries, func(i, j int) bool {
		if boundaries[i].AdminLevel != boundaries[j].AdminLevel {
			return adminLevel(boundaries[i]) < adminLevel(boundaries[j])
		}
		return boundaries[i].RelationID < boundaries[j].RelationID
	})
	return boundaries
}

func adminLevel(b model.OSMBoundary) int {
	var level int
	if _, err := fmt.Sscanf(b.AdminLevel, "%d", &level); err != nil {
		return 99
	}
	return level
}

type boundaryFinder interface {
	BoundariesContaining(ctx context.Context, latitude, longitude float64) ([]model.OSMBoundary, error)
}

type countryCodes interface {
	CountryGaulCodeByISO(ctx context.Context, isoCode string) (*int, error)
}

// OverpassCountryLocator resolves a point to a country GAUL code through the OSM national boundary's ISO code.
type OverpassCountryLocator struct {
	boundaries boundaryFinder
	countries  countryCodes
}

func NewOverpassCountryLocator(boundaries boundaryFinder, countries countryCodes) *OverpassCountryLocator {
	return &OverpassCountryLocator{boundaries: boundaries, countries: countries}
}

func (l *OverpassCountryLocator) LocateCountry(ctx context.Context, latitude, longitude float64) (*int, error) {
	boundaries, err := l.boundaries.BoundariesContaining(ctx, latitude, longitude)
	if err != nil {
		return nil, err
	}
	for _, b := range boundaries {
		if b.IsCountry() {
			return l.countries.CountryGaulCodeByISO(ctx, b.ISOCode)
		}
	}
	return nil, nil
}
