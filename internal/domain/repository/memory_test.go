package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surveillance_service/internal/domain/model"
)

func seededStore() *MemoryStore {
	s := NewMemoryStore()
	s.PutDiseaseGroup(model.DiseaseGroup{ID: 87, Name: "dengue", MinDataVolume: 2})
	s.PutOccurrences(
		model.Occurrence{ID: 1, DiseaseGroupID: 87, Status: model.StatusReady, FinalWeighting: model.Float64(0.8),
			OccurrenceDate: time.Date(2014, 3, 1, 0, 0, 0, 0, time.UTC)},
		model.Occurrence{ID: 2, DiseaseGroupID: 87, Status: model.StatusInReview,
			OccurrenceDate: time.Date(2014, 3, 2, 0, 0, 0, 0, time.UTC)},
		model.Occurrence{ID: 3, DiseaseGroupID: 87, Status: model.StatusReady, IsGoldStandard: true,
			FinalWeighting: model.Float64(1), OccurrenceDate: time.Date(2014, 3, 3, 0, 0, 0, 0, time.UTC)},
	)
	return s
}

func TestMemoryStoreWithinTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := seededStore()
	boom := errors.New("dispatch failed")

	err := s.WithinTx(ctx, func(ctx context.Context, tx Store) error {
		o, err := tx.GetOccurrence(ctx, 2)
		require.NoError(t, err)
		o.Status = model.StatusReady
		require.NoError(t, tx.SaveOccurrences(ctx, o))
		_, err = tx.CreateModelRun(ctx, model.ModelRun{Name: "run", DiseaseGroupID: 87, Status: model.ModelRunInProgress})
		require.NoError(t, err)
		return boom
	})

	assert.ErrorIs(t, err, boom)
	o, err := s.GetOccurrence(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, model.StatusInReview, o.Status)
	_, err = s.GetModelRunByName(ctx, "run")
	assert.ErrorIs(t, err, model.ErrModelRunNotFound)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestMemoryStoreWithinTxCommits(t *testing.T) {
	ctx := context.Background()
	s := seededStore()

	err := s.WithinTx(ctx, func(ctx context.Context, tx Store) error {
		_, err := tx.CreateModelRun(ctx, model.ModelRun{Name: "run", DiseaseGroupID: 87, Status: model.ModelRunInProgress})
		return err
	})

	require.NoError(t, err)
	run, err := s.GetModelRunByName(ctx, "run")
	require.NoError(t, err)
	assert.Equal(t, 1, run.ID)
}

func TestMemoryStoreWithinTxKeepsWritesMadeOutsideTheTransaction(t *testing.T) {
	ctx := context.Background()
	s := seededStore()

	err := s.WithinTx(ctx, func(ctx context.Context, tx Store) error {
		other, err := s.GetOccurrence(ctx, 2)
		require.NoError(t, err)
		other.Status = model.StatusReady
		require.NoError(t, s.SaveOccurrences(ctx, other))
		_, err = s.CreateModelRun(ctx, model.ModelRun{Name: "outside", DiseaseGroupID: 87, Status: model.ModelRunInProgress})
		require.NoError(t, err)

		o, err := tx.GetOccurrence(ctx, 1)
		require.NoError(t, err)
		o.FinalWeighting = nil
		require.NoError(t, tx.SaveOccurrences(ctx, o))
		_, err = tx.CreateModelRun(ctx, model.ModelRun{Name: "inside", DiseaseGroupID: 87, Status: model.ModelRunInProgress})
		return err
	})
	require.NoError(t, err)

	other, err := s.GetOccurrence(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, model.StatusReady, other.Status)
	o, err := s.GetOccurrence(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, o.FinalWeighting)

	outside, err := s.GetModelRunByName(ctx, "outside")
	require.NoError(t, err)
	inside, err := s.GetModelRunByName(ctx, "inside")
	require.NoError(t, err)
	assert.NotEqual(t, outside.ID, inside.ID)
}

func TestMemoryStoreWithinTxRejectsDuplicateRunName(t *testing.T) {
	ctx := context.Background()
	s := seededStore()

	err := s.WithinTx(ctx, func(ctx context.Context, tx Store) error {
		_, err := s.CreateModelRun(ctx, model.ModelRun{Name: "run", DiseaseGroupID: 87})
		require.NoError(t, err)
		_, err = tx.CreateModelRun(ctx, model.ModelRun{Name: "run", DiseaseGroupID: 87})
		return err
	})

	assert.ErrorContains(t, err, "already exists")
}

func TestMemoryStoreListOccurrencesFilters(t *testing.T) {
	ctx := context.Background()
	s := seededStore()

	tests := []struct {
		name   string
		filter OccurrenceFilter
		want   []int
	}{
		{"all of group", OccurrenceFilter{DiseaseGroupID: 87}, []int{1, 2, 3}},
		{"ready", OccurrenceFilter{Statuses: []model.OccurrenceStatus{model.StatusReady}}, []int{1, 3}},
		{"not gold", OccurrenceFilter{GoldStandard: model.Bool(false)}, []int{1, 2}},
		{"missing final weighting", OccurrenceFilter{FinalWeightingMissing: true}, []int{2}},
		{"final weighting above 0.9", OccurrenceFilter{FinalWeightingAbove: model.Float64(0.9)}, []int{3}},
		{"date window", OccurrenceFilter{
			OccurrenceDateFrom: timePtr(time.Date(2014, 3, 2, 0, 0, 0, 0, time.UTC)),
			OccurrenceDateTo:   timePtr(time.Date(2014, 3, 2, 23, 59, 59, 0, time.UTC)),
		}, []int{2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListOccurrences(ctx, tt.filter)
			require.NoError(t, err)
			var ids []int
			for _, o := range got {
				ids = append(ids, o.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestMemoryStoreReviewsCarryCurrentExpertWeighting(t *testing.T) {
	ctx := context.Background()
	s := seededStore()
	s.PutExperts(model.Expert{ID: 1, Weighting: 0.9}, model.Expert{ID: 2, Weighting: 0.3})
	s.PutReviews(
		model.Review{ExpertID: 1, OccurrenceID: 1, DiseaseGroupID: 87, Response: model.ReviewYes},
		model.Review{ExpertID: 2, OccurrenceID: 1, DiseaseGroupID: 87, Response: model.ReviewNo},
	)

	reviews, err := s.ListReviews(ctx, ReviewFilter{MinExpertWeighting: model.Float64(model.ExpertWeightingThreshold)})

	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, 1, reviews[0].ExpertID)
	assert.Equal(t, 0.9, reviews[0].ExpertWeighting)
}

func TestMemoryStoreLatestCompletedModelRun(t *testing.T) {
	ctx := context.Background()
	s := seededStore()
	early := time.Date(2014, 1, 1, 0, 0, 0, 0, time.UTC)
	late := early.Add(48 * time.Hour)

	latest, err := s.LatestCompletedModelRun(ctx, 87)
	require.NoError(t, err)
	assert.Nil(t, latest)

	for _, run := range []model.ModelRun{
		{Name: "a", DiseaseGroupID: 87, Status: model.ModelRunCompleted, ResponseDate: &late},
		{Name: "b", DiseaseGroupID: 87, Status: model.ModelRunCompleted, ResponseDate: &early},
		{Name: "c", DiseaseGroupID: 87, Status: model.ModelRunFailed, ResponseDate: &late},
	} {
		_, err := s.CreateModelRun(ctx, run)
		require.NoError(t, err)
	}

	latest, err = s.LatestCompletedModelRun(ctx, 87)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "a", latest.Name)
}

func timePtr(t time.Time) *time.Time { return &t }
