package core

import (
	"context"
	"fmt"
	"sort"

	"surveillance_service/internal/domain/model"
	"surveillance_service/internal/domain/repository"
	"surveillance_service/internal/logger"
	"surveillance_service/internal/metrics"
)

// DataSpreadAdmissionController implements the minimum data spread check that gates model runs.
type DataSpreadAdmissionController struct {
	store     repository.Store
	countries CountryLocator
	log       *logger.Logger
}

// NewDataSpreadAdmissionController accepts a nil locator; occurrences without a stored country then count toward volume only.
func NewDataSpreadAdmissionController(store repository.Store, countries CountryLocator, log *logger.Logger) *DataSpreadAdmissionController {
	return &DataSpreadAdmissionController{store: store, countries: countries, log: log.With("component", "data_spread")}
}

func (c *DataSpreadAdmissionController) WithStore(store repository.Store) *DataSpreadAdmissionController {
	return &DataSpreadAdmissionController{store: store, countries: c.countries, log: c.log}
}

// SelectOccurrences returns the occurrences to send to a model run, most recent first, or nil when
// the disease group does not yet have enough well spread data. A nil result is not an error.
func (c *DataSpreadAdmissionController) SelectOccurrences(ctx context.Context, diseaseGroupID int) ([]model.Occurrence, error) {
	group, err := c.store.GetDiseaseGroup(ctx, diseaseGroupID)
	if err != nil {
		return nil, err
	}

	statuses := []model.OccurrenceStatus{model.StatusReady}
	if !group.AutomaticModelRunsEnabled {
		statuses = append(statuses, model.StatusAwaitingBatching)
	}
	occurrences, err := c.store.ListOccurrences(ctx, repository.OccurrenceFilter{
		DiseaseGroupID:      diseaseGroupID,
		Statuses:            statuses,
		FinalWeightingAbove: model.Float64(0),
		ExcludeBias:         true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load occurrences for model run: %w", err)
	}
	sortMostRecentFirst(occurrences)

	var interest []int
	if group.OccursInAfrica != nil && *group.OccursInAfrica {
		if interest, err = c.store.CountriesOfInterest(ctx); err != nil {
			return nil, fmt.Errorf("failed to load countries of interest: %w", err)
		}
	}

	selected := selectBySpread(occurrences, group, interest, c.countryResolver(ctx))
	if selected == nil {
		metrics.AdmissionDecisions.WithLabelValues("denied").Inc()
		c.log.Info("Minimum data spread not met, model run will not be requested",
			"disease_group_id", diseaseGroupID, "eligible_occurrences", len(occurrences), "min_data_volume", group.MinDataVolume)
		return nil, nil
	}
	metrics.AdmissionDecisions.WithLabelValues("admitted").Inc()
	c.log.Info("Minimum data spread met", "disease_group_id", diseaseGroupID, "selected_occurrences", len(selected))
	return selected, nil
}

// sortMostRecentFirst orders by occurrence date descending; occurrences sharing a date are ordered by ID descending.
func sortMostRecentFirst(occurrences []model.Occurrence) {
	sort.SliceStable(occurrences, func(i, j int) bool {
		a, b := occurrences[i], occurrences[j]
		if !a.OccurrenceDate.Equal(b.OccurrenceDate) {
			return a.OccurrenceDate.After(b.OccurrenceDate)
		}
		return a.ID > b.ID
	})
}

// countryResolver returns the stored country, or asks the locator once per location.
func (c *DataSpreadAdmissionController) countryResolver(ctx context.Context) func(model.Occurrence) *int {
	located := map[int]*int{}
	return func(o model.Occurrence) *int {
		if code := o.CountryGaulCode(); code != nil || o.Location == nil || c.countries == nil {
			return code
		}
		if code, ok := located[o.Location.ID]; ok {
			return code
		}
		code, err := c.countries.LocateCountry(ctx, o.Location.Latitude, o.Location.Longitude)
		if err != nil {
			c.log.Warn("Could not locate country of occurrence", "occurrence_id", o.ID, "location_id", o.Location.ID, "error", err)
			code = nil
		}
		located[o.Location.ID] = code
		return code
	}
}

// selectBySpread grows the candidate set one occurrence at a time until the spread check passes.
func selectBySpread(occurrences []model.Occurrence, group model.DiseaseGroup, countriesOfInterest []int, countryOf func(model.Occurrence) *int) []model.Occurrence {
	n := group.MinDataVolume
	if n < 0 {
		n = 0
	}
	if len(occurrences) < n {
		return nil
	}

	check := newSpreadCheck(group, countriesOfInterest)
	if check == nil {
		return occurrences[:n]
	}

	for _, o := range occurrences[:n] {
		check.add(countryOf(o))
	}
	size := n
	for !check.passes() {
		if size == len(occurrences) {
			return nil
		}
		check.add(countryOf(occurrences[size]))
		size++
	}
	return occurrences[:size]
}

type spreadCheck struct {
	restrictTo             map[int]bool
	counts                 map[int]int
	minDistinctCountries   int
	highFrequencyThreshold int
	minHighFrequency       int
}

// newSpreadCheck returns nil when the disease group's thresholds leave nothing to check.
func newSpreadCheck(group model.DiseaseGroup, countriesOfInterest []int) *spreadCheck {
	if group.OccursInAfrica == nil || group.MinDistinctCountries == nil {
		return nil
	}
	check := &spreadCheck{counts: map[int]int{}, minDistinctCountries: *group.MinDistinctCountries}
	if !*group.OccursInAfrica {
		return check
	}
	if group.HighFrequencyThreshold == nil || group.MinHighFrequencyCountries == nil {
		return nil
	}
	check.highFrequencyThreshold = *group.HighFrequencyThreshold
	check.minHighFrequency = *group.MinHighFrequencyCountries
	check.restrictTo = make(map[int]bool, len(countriesOfInterest))
	for _, code := range countriesOfInterest {
		check.restrictTo[code] = true
	}
	return check
}

// add counts one occurrence. A nil country adds volume only and is never a distinct country.
func (c *spreadCheck) add(country *int) {
	if country == nil {
		return
	}
	if c.restrictTo != nil && !c.restrictTo[*country] {
		return
	}
	c.counts[*country]++
}

func (c *spreadCheck) passes() bool {
	if len(c.counts) < c.minDistinctCountries {
		return false
	}
	if c.restrictTo == nil {
		return true
	}
	highFrequency := 0
	for _, n := range c.counts {
		if n >= c.highFrequencyThreshold {
			highFrequency++
		}
	}
	return highFrequency >= c.minHighFrequency
}
