package model

import (
	"context"
	"time"
)

// MachineLearningService is the external predictor that scores new occurrences.
type MachineLearningService interface {
	// Train submits the current training set for a disease group.
	Train(ctx context.Context, diseaseGroupID int, occurrences []Occurrence) error

	// Predict returns nil when the predictor cannot decide and the occurrence needs manual review.
	Predict(ctx context.Context, occurrence Occurrence) (*float64, error)
}

// ModelExecution starts a model run out of process. Completion arrives later as a CompletionEvent.
type ModelExecution interface {
	Dispatch(ctx context.Context, pkg RunPackage) (RunHandle, error)
}

type DiseaseExtentGenerator interface {
	Regenerate(ctx context.Context, group DiseaseGroup, minimumOccurrenceDate *time.Time, useGoldStandardOnly bool) error
}

// ZonalStatistics describes the raster cells under an admin unit's footprint.
// Mean is nil when every covered cell is no-data.
type ZonalStatistics struct {
	Mean         *float64
	CoveredCells int
}

// RasterSampler reads a named prediction surface (one per completed model run).
type RasterSampler interface {
	SamplePoint(ctx context.Context, surface string, latitude, longitude float64) (*float64, error)
	ZonalMean(ctx context.Context, surface string, global bool, gaulCode int) (ZonalStatistics, error)
}
