package core

import (
	"context"
	"errors"
	"fmt"

	"surveillance_service/internal/cache"
	"surveillance_service/internal/domain/model"
	"surveillance_service/internal/logger"
)

// SpatialFeatureResolver computes the two spatial validation parameters of a location, through the shared cache.
type SpatialFeatureResolver struct {
	spatial SpatialQuery
	raster  model.RasterSampler
	cache   cache.ValidationParameterCache
	log     *logger.Logger
}

func NewSpatialFeatureResolver(
	spatial SpatialQuery,
	raster model.RasterSampler,
	parameterCache cache.ValidationParameterCache,
	log *logger.Logger,
) *SpatialFeatureResolver {
	return &SpatialFeatureResolver{
		spatial: spatial,
		raster:  raster,
		cache:   parameterCache,
		log:     log.With("component", "spatial_features"),
	}
}

// FindDistanceFromExtent is negative inside the extent, positive outside, 0 on a straddled admin unit
// and nil when the extent does not cover the location at all.
func (r *SpatialFeatureResolver) FindDistanceFromExtent(ctx context.Context, group model.DiseaseGroup, loc model.Location) (*float64, error) {
	key := cache.Key{Parameter: cache.DistanceFromExtent, DiseaseGroupID: group.ID, LocationID: loc.ID}
	return r.cache.GetOrCompute(ctx, key, func(ctx context.Context) (*float64, error) {
		return r.distanceFromExtent(ctx, group, loc)
	})
}

func (r *SpatialFeatureResolver) distanceFromExtent(ctx context.Context, group model.DiseaseGroup, loc model.Location) (*float64, error) {
	classes, err := r.spatial.ExtentClassesForLocation(ctx, group, loc)
	if err != nil {
		return nil, &model.ExternalServiceError{Service: "spatial query", Err: err}
	}

	var inside, outside bool
	for _, c := range classes {
		if c.IsInside() {
			inside = true
		} else {
			outside = true
		}
	}

	switch {
	case inside && outside:
		return model.Float64(0), nil
	case outside:
		d, err := r.spatial.DistanceOutsideExtent(ctx, group, loc)
		if err != nil {
			return nil, &model.ExternalServiceError{Service: "spatial query", Err: err}
		}
		return d, nil
	case inside:
		d, err := r.spatial.DistanceInsideExtent(ctx, group, loc)
		if err != nil {
			return nil, &model.ExternalServiceError{Service: "spatial query", Err: err}
		}
		if d == nil {
			return nil, nil
		}
		return model.Float64(-*d), nil
	}
	return nil, nil
}

// FindEnvironmentalSuitability samples the named prediction surface. An empty surface name means the
// disease group has no completed model run yet and yields nil.
func (r *SpatialFeatureResolver) FindEnvironmentalSuitability(ctx context.Context, group model.DiseaseGroup, loc model.Location, surface string) (*float64, error) {
	if surface == "" {
		return nil, nil
	}
	key := cache.Key{Parameter: cache.EnvironmentalSuitability, DiseaseGroupID: group.ID, LocationID: loc.ID}
	return r.cache.GetOrCompute(ctx, key, func(ctx context.Context) (*float64, error) {
		return r.environmentalSuitability(ctx, group, loc, surface)
	})
}

func (r *SpatialFeatureResolver) environmentalSuitability(ctx context.Context, group model.DiseaseGroup, loc model.Location, surface string) (*float64, error) {
	gaulCode := loc.AdminUnitGaulCode(group.IsGlobal)
	if loc.Precision == model.PrecisionCountry && gaulCode == nil {
		gaulCode = loc.CountryGaulCode
	}
	if loc.Precision == model.PrecisionPrecise || gaulCode == nil {
		return r.samplePoint(ctx, loc, surface)
	}

	stats, err := r.raster.ZonalMean(ctx, surface, group.IsGlobal, *gaulCode)
	if err != nil {
		return nil, &model.ExternalServiceError{Service: "raster sampling", Err: err}
	}
	if stats.CoveredCells == 0 {
		return nil, fmt.Errorf("admin unit %d of location %d: %w", *gaulCode, loc.ID, model.ErrNoRasterCoverage)
	}
	if stats.Mean == nil {
		r.log.Debug("Admin unit covers only no-data pixels, sampling location point instead",
			"location_id", loc.ID, "gaul_code", *gaulCode)
		return r.samplePoint(ctx, loc, surface)
	}
	return stats.Mean, nil
}

func (r *SpatialFeatureResolver) samplePoint(ctx context.Context, loc model.Location, surface string) (*float64, error) {
	v, err := r.raster.SamplePoint(ctx, surface, loc.Latitude, loc.Longitude)
	if err != nil {
		return nil, &model.ExternalServiceError{Service: "raster sampling", Err: err}
	}
	return v, nil
}

// optionalFeature turns an unavailable collaborator into a nil value; anything else is returned.
func optionalFeature(log *logger.Logger, name string, v *float64, err error) (*float64, error) {
	if err == nil {
		return v, nil
	}
	var ext *model.ExternalServiceError
	if errors.As(err, &ext) {
		log.Warn("Validation parameter unavailable", "parameter", name, "error", err)
		return nil, nil
	}
	return nil, err
}
