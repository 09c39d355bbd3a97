package core

import (
	"context"
	"time"

	"surveillance_service/internal/domain/model"
)

// SpatialQuery answers the geometric questions the resolver needs about a location.
type SpatialQuery interface {
	// ExtentClassesForLocation returns the extent classes of every admin unit the location falls in.
	ExtentClassesForLocation(ctx context.Context, group model.DiseaseGroup, location model.Location) ([]model.ExtentClass, error)
	DistanceOutsideExtent(ctx context.Context, group model.DiseaseGroup, location model.Location) (*float64, error)
	DistanceInsideExtent(ctx context.Context, group model.DiseaseGroup, location model.Location) (*float64, error)
}

// CountryLocator is the point-in-country lookup used when a location has no stored country.
type CountryLocator interface {
	LocateCountry(ctx context.Context, latitude, longitude float64) (*int, error)
}

// Clock is swapped out in tests.
type Clock func() time.Time
