package repository

import (
	"context"
	"time"

	"surveillance_service/internal/domain/model"
)

// Store is the persistence port. Implementations return value copies; callers save explicitly.
type Store interface {
	// WithinTx runs fn against a transactional view of the store. Any error rolls back everything fn wrote.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error

	GetDiseaseGroup(ctx context.Context, id int) (model.DiseaseGroup, error)
	ListDiseaseGroups(ctx context.Context) ([]model.DiseaseGroup, error)
	SaveDiseaseGroup(ctx context.Context, group model.DiseaseGroup) error

	GetOccurrence(ctx context.Context, id int) (model.Occurrence, error)
	ListOccurrences(ctx context.Context, filter OccurrenceFilter) ([]model.Occurrence, error)
	CountOccurrences(ctx context.Context, filter OccurrenceFilter) (int, error)
	SaveOccurrences(ctx context.Context, occurrences ...model.Occurrence) error

	ListExperts(ctx context.Context) ([]model.Expert, error)
	SaveExpertWeightings(ctx context.Context, weightings map[int]float64) error
	ListReviews(ctx context.Context, filter ReviewFilter) ([]model.Review, error)

	CreateModelRun(ctx context.Context, run model.ModelRun) (model.ModelRun, error)
	SaveModelRun(ctx context.Context, run model.ModelRun) error
	GetModelRunByName(ctx context.Context, name string) (model.ModelRun, error)
	LatestCompletedModelRun(ctx context.Context, diseaseGroupID int) (*model.ModelRun, error)
	HasBatchingEverCompleted(ctx context.Context, diseaseGroupID int) (bool, error)

	ExtentClasses(ctx context.Context, diseaseGroupID int) ([]model.AdminUnitExtentClass, error)
	CountriesOfInterest(ctx context.Context) ([]int, error)
	CountryGaulCodeByISO(ctx context.Context, isoCode string) (*int, error)
}

// OccurrenceFilter narrows ListOccurrences/CountOccurrences. Zero values mean "no restriction".
type OccurrenceFilter struct {
	DiseaseGroupID          int
	IDs                     []int
	Statuses                []model.OccurrenceStatus
	GoldStandard            *bool
	FinalWeightingMissing   bool
	FinalWeightingAbove     *float64
	ExcludeBias             bool
	OccurrenceDateFrom      *time.Time
	OccurrenceDateTo        *time.Time
	OccurrenceDateAfter     *time.Time
	CreatedAfter            *time.Time
	RequireTrainingFeatures bool
}

type ReviewFilter struct {
	DiseaseGroupID     *int
	OccurrenceIDs      []int
	SubmittedAfter     *time.Time
	MinExpertWeighting *float64
}
