package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"surveillance_service/internal/domain/model"
	"surveillance_service/internal/domain/repository"
	"surveillance_service/internal/logger"
)

var testLog = logger.NewNop()

type MockMachineLearning struct {
	mock.Mock
}

func (m *MockMachineLearning) Train(ctx context.Context, diseaseGroupID int, occurrences []model.Occurrence) error {
	args := m.Called(ctx, diseaseGroupID, occurrences)
	return args.Error(0)
}

func (m *MockMachineLearning) Predict(ctx context.Context, occurrence model.Occurrence) (*float64, error) {
	args := m.Called(ctx, occurrence)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*float64), args.Error(1)
}

type MockExecution struct {
	mock.Mock
}

func (m *MockExecution) Dispatch(ctx context.Context, pkg model.RunPackage) (model.RunHandle, error) {
	args := m.Called(ctx, pkg)
	return args.Get(0).(model.RunHandle), args.Error(1)
}

type MockExtentGenerator struct {
	mock.Mock
}

func (m *MockExtentGenerator) Regenerate(ctx context.Context, group model.DiseaseGroup, minimumOccurrenceDate *time.Time, useGoldStandardOnly bool) error {
	args := m.Called(ctx, group, minimumOccurrenceDate, useGoldStandardOnly)
	return args.Error(0)
}

type MockRaster struct {
	mock.Mock
}

func (m *MockRaster) SamplePoint(ctx context.Context, surface string, latitude, longitude float64) (*float64, error) {
	args := m.Called(ctx, surface, latitude, longitude)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*float64), args.Error(1)
}

func (m *MockRaster) ZonalMean(ctx context.Context, surface string, global bool, gaulCode int) (model.ZonalStatistics, error) {
	args := m.Called(ctx, surface, global, gaulCode)
	return args.Get(0).(model.ZonalStatistics), args.Error(1)
}

type MockSpatialQuery struct {
	mock.Mock
}

func (m *MockSpatialQuery) ExtentClassesForLocation(ctx context.Context, group model.DiseaseGroup, location model.Location) ([]model.ExtentClass, error) {
	args := m.Called(ctx, group, location)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ExtentClass), args.Error(1)
}

func (m *MockSpatialQuery) DistanceOutsideExtent(ctx context.Context, group model.DiseaseGroup, location model.Location) (*float64, error) {
	args := m.Called(ctx, group, location)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*float64), args.Error(1)
}

func (m *MockSpatialQuery) DistanceInsideExtent(ctx context.Context, group model.DiseaseGroup, location model.Location) (*float64, error) {
	args := m.Called(ctx, group, location)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*float64), args.Error(1)
}

type stubCountryLocator map[[2]float64]int

func (s stubCountryLocator) LocateCountry(_ context.Context, latitude, longitude float64) (*int, error) {
	code, ok := s[[2]float64{latitude, longitude}]
	if !ok {
		return nil, nil
	}
	return &code, nil
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func timePtr(t time.Time) *time.Time { return &t }

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

func passedLocation(id int) *model.Location {
	return &model.Location{ID: id, Name: "loc", Precision: model.PrecisionPrecise, HasPassedQC: true,
		Latitude: float64(id), Longitude: float64(-id)}
}

func mustOccurrence(t testing.TB, store *repository.MemoryStore, id int) model.Occurrence {
	t.Helper()
	o, err := store.GetOccurrence(context.Background(), id)
	require.NoError(t, err)
	return o
}
