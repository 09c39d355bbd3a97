package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surveillance_service/internal/domain/model"
	"surveillance_service/internal/domain/repository"
)

// spreadOccurrences creates one ready occurrence per country code, the first being the most recent.
func spreadOccurrences(countries ...int) []model.Occurrence {
	out := make([]model.Occurrence, len(countries))
	for i, country := range countries {
		out[i] = model.Occurrence{
			ID:             i + 1,
			DiseaseGroupID: 87,
			Status:         model.StatusReady,
			FinalWeighting: model.Float64(0.8),
			OccurrenceDate: date(2014, 6, 30).AddDate(0, 0, -i),
			Location: &model.Location{ID: i + 1, HasPassedQC: true, Precision: model.PrecisionPrecise,
				CountryGaulCode: model.Int(country)},
		}
	}
	return out
}

func ids(occurrences []model.Occurrence) []int {
	out := make([]int, len(occurrences))
	for i, o := range occurrences {
		out[i] = o.ID
	}
	return out
}

func admissionController(group model.DiseaseGroup, occurrences []model.Occurrence) (*DataSpreadAdmissionController, *repository.MemoryStore) {
	store := repository.NewMemoryStore()
	store.PutDiseaseGroup(group)
	store.PutOccurrences(occurrences...)
	return NewDataSpreadAdmissionController(store, nil, testLog), store
}

func TestSelectOccurrencesVolumeOnly(t *testing.T) {
	countries := make([]int, 30)
	for i := range countries {
		countries[i] = 100 + i%3
	}
	occurrences := spreadOccurrences(countries...)
	// Shuffle storage order; selection must still be by date.
	occurrences[0].ID, occurrences[29].ID = 30, 1
	occurrences[0].Location.ID, occurrences[29].Location.ID = 30, 1
	controller, _ := admissionController(model.DiseaseGroup{ID: 87, MinDataVolume: 27, MinDistinctCountries: model.Int(50)}, occurrences)

	selected, err := controller.SelectOccurrences(context.Background(), 87)

	require.NoError(t, err)
	require.Len(t, selected, 27)
	for i := 1; i < len(selected); i++ {
		assert.False(t, selected[i].OccurrenceDate.After(selected[i-1].OccurrenceDate))
	}
	assert.Equal(t, 30, selected[0].ID)
	assert.Equal(t, date(2014, 6, 4), selected[26].OccurrenceDate)
}

func TestSelectOccurrencesNotEnoughVolume(t *testing.T) {
	controller, _ := admissionController(model.DiseaseGroup{ID: 87, MinDataVolume: 4}, spreadOccurrences(1, 2, 3))

	selected, err := controller.SelectOccurrences(context.Background(), 87)

	require.NoError(t, err)
	assert.Nil(t, selected)
}

func TestSelectOccurrencesGrowsUntilSpreadIsMet(t *testing.T) {
	group := model.DiseaseGroup{ID: 87, MinDataVolume: 3, OccursInAfrica: model.Bool(false), MinDistinctCountries: model.Int(3)}
	controller, _ := admissionController(group, spreadOccurrences(1, 1, 2, 2, 3, 4))

	selected, err := controller.SelectOccurrences(context.Background(), 87)

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, ids(selected))
}

func TestSelectBySpreadExhaustsEveryOccurrenceBeforeDenying(t *testing.T) {
	group := model.DiseaseGroup{ID: 87, MinDataVolume: 5, OccursInAfrica: model.Bool(false), MinDistinctCountries: model.Int(5)}
	occurrences := spreadOccurrences(1, 2, 3, 4, 1, 2, 3, 4, 4, 4)
	var visited []int
	countryOf := func(o model.Occurrence) *int {
		visited = append(visited, o.ID)
		return o.CountryGaulCode()
	}

	selected := selectBySpread(occurrences, group, nil, countryOf)

	assert.Nil(t, selected)
	assert.Equal(t, ids(occurrences), visited)
}

func TestSelectOccurrencesAfricaPath(t *testing.T) {
	group := model.DiseaseGroup{
		ID:                        87,
		MinDataVolume:             4,
		OccursInAfrica:            model.Bool(true),
		MinDistinctCountries:      model.Int(2),
		HighFrequencyThreshold:    model.Int(2),
		MinHighFrequencyCountries: model.Int(2),
	}
	// Country 9 is outside the countries of interest and never counts.
	controller, store := admissionController(group, spreadOccurrences(1, 9, 9, 9, 1, 2, 9, 2))
	store.PutCountry(1, "AO", true)
	store.PutCountry(2, "BJ", true)
	store.PutCountry(9, "FR", false)

	selected, err := controller.SelectOccurrences(context.Background(), 87)

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8}, ids(selected))
}

func TestSelectOccurrencesSkipsIncompleteAfricaThresholds(t *testing.T) {
	group := model.DiseaseGroup{ID: 87, MinDataVolume: 2, OccursInAfrica: model.Bool(true), MinDistinctCountries: model.Int(5)}
	controller, _ := admissionController(group, spreadOccurrences(1, 1, 1))

	selected, err := controller.SelectOccurrences(context.Background(), 87)

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, ids(selected))
}

func TestSelectOccurrencesFiltersIneligible(t *testing.T) {
	occurrences := spreadOccurrences(1, 2, 3, 4, 5)
	occurrences[0].FinalWeighting = model.Float64(0)
	occurrences[1].Status = model.StatusInReview
	occurrences[2].BiasDiseaseGroupID = model.Int(87)
	occurrences[3].Status = model.StatusAwaitingBatching
	controller, _ := admissionController(model.DiseaseGroup{ID: 87, MinDataVolume: 1, AutomaticModelRunsEnabled: true}, occurrences)

	selected, err := controller.SelectOccurrences(context.Background(), 87)

	require.NoError(t, err)
	assert.Equal(t, []int{5}, ids(selected))
}

func TestSelectOccurrencesIncludesAwaitingBatchingWhileAutomaticRunsDisabled(t *testing.T) {
	occurrences := spreadOccurrences(1, 2)
	occurrences[0].Status = model.StatusAwaitingBatching
	controller, _ := admissionController(model.DiseaseGroup{ID: 87, MinDataVolume: 2}, occurrences)

	selected, err := controller.SelectOccurrences(context.Background(), 87)

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, ids(selected))
}

func TestSelectOccurrencesLocatesMissingCountries(t *testing.T) {
	occurrences := spreadOccurrences(1, 1, 1)
	occurrences[2].Location.CountryGaulCode = nil
	occurrences[2].Location.Latitude, occurrences[2].Location.Longitude = 9.1, 7.4
	store := repository.NewMemoryStore()
	store.PutDiseaseGroup(model.DiseaseGroup{ID: 87, MinDataVolume: 2, OccursInAfrica: model.Bool(false), MinDistinctCountries: model.Int(2)})
	store.PutOccurrences(occurrences...)
	controller := NewDataSpreadAdmissionController(store, stubCountryLocator{{9.1, 7.4}: 182}, testLog)

	selected, err := controller.SelectOccurrences(context.Background(), 87)

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, ids(selected))
}

func TestSelectOccurrencesDoesNotCountMissingCountryAsDistinct(t *testing.T) {
	occurrences := spreadOccurrences(1, 1, 1, 1)
	occurrences[1].Location.CountryGaulCode = nil
	occurrences[3].Location.CountryGaulCode = nil
	group := model.DiseaseGroup{ID: 87, MinDataVolume: 2, OccursInAfrica: model.Bool(false), MinDistinctCountries: model.Int(2)}
	controller, _ := admissionController(group, occurrences)

	selected, err := controller.SelectOccurrences(context.Background(), 87)

	require.NoError(t, err)
	assert.Nil(t, selected)
}

func TestSortMostRecentFirstBreaksTiesByID(t *testing.T) {
	same := date(2014, 1, 1)
	occurrences := []model.Occurrence{
		{ID: 1, OccurrenceDate: same},
		{ID: 3, OccurrenceDate: same},
		{ID: 2, OccurrenceDate: same.Add(time.Hour)},
		{ID: 4, OccurrenceDate: same},
	}

	sortMostRecentFirst(occurrences)

	assert.Equal(t, []int{2, 4, 3, 1}, ids(occurrences))
}
