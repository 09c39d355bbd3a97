package core

import (
	"context"
	"fmt"
	"time"

	"surveillance_service/internal/domain/model"
	"surveillance_service/internal/domain/repository"
	"surveillance_service/internal/logger"
	"surveillance_service/internal/metrics"
)

// Statuses whose occurrences still need validation and final weightings assigned.
var weightableStatuses = []model.OccurrenceStatus{model.StatusReady, model.StatusAwaitingBatching}

// OccurrenceWeightingEngine turns reviews and validation parameters into per-occurrence weightings.
// Both passes only touch occurrences that still need work, so either can be re-run after an interruption.
type OccurrenceWeightingEngine struct {
	store repository.Store
	log   *logger.Logger
}

func NewOccurrenceWeightingEngine(store repository.Store, log *logger.Logger) *OccurrenceWeightingEngine {
	return &OccurrenceWeightingEngine{store: store, log: log.With("component", "occurrence_weighting")}
}

func (e *OccurrenceWeightingEngine) WithStore(store repository.Store) *OccurrenceWeightingEngine {
	return &OccurrenceWeightingEngine{store: store, log: e.log}
}

// Refresh runs both passes for a disease group.
func (e *OccurrenceWeightingEngine) Refresh(ctx context.Context, diseaseGroupID int) error {
	if err := e.UpdateExpertWeightingsOfOccurrences(ctx, diseaseGroupID); err != nil {
		return err
	}
	return e.UpdateValidationAndFinalWeightings(ctx, diseaseGroupID)
}

// UpdateExpertWeightingsOfOccurrences averages the reviews of well-weighted experts onto each occurrence
// that received such a review since the disease group's last model run preparation.
func (e *OccurrenceWeightingEngine) UpdateExpertWeightingsOfOccurrences(ctx context.Context, diseaseGroupID int) error {
	start := time.Now()
	defer func() {
		metrics.WeightingRefreshDuration.WithLabelValues("occurrence_expert").Observe(time.Since(start).Seconds())
	}()

	group, err := e.store.GetDiseaseGroup(ctx, diseaseGroupID)
	if err != nil {
		return err
	}

	threshold := model.ExpertWeightingThreshold
	newReviews, err := e.store.ListReviews(ctx, repository.ReviewFilter{
		DiseaseGroupID:     &diseaseGroupID,
		SubmittedAfter:     group.LastModelRunPrepDate,
		MinExpertWeighting: &threshold,
	})
	if err != nil {
		return fmt.Errorf("failed to load new reviews: %w", err)
	}
	if len(newReviews) == 0 {
		e.log.Info(fmt.Sprintf("No new occurrence reviews have been submitted by experts with a weighting >= %.2f - "+
			"expert weightings of disease occurrences will not be updated", threshold), "disease_group_id", diseaseGroupID)
		return nil
	}

	seen := map[int]bool{}
	var affected []int
	for _, r := range newReviews {
		if !seen[r.OccurrenceID] {
			seen[r.OccurrenceID] = true
			affected = append(affected, r.OccurrenceID)
		}
	}

	allReviews, err := e.store.ListReviews(ctx, repository.ReviewFilter{
		OccurrenceIDs:      affected,
		MinExpertWeighting: &threshold,
	})
	if err != nil {
		return fmt.Errorf("failed to load reviews of affected occurrences: %w", err)
	}
	responses := map[int][]float64{}
	for _, r := range allReviews {
		responses[r.OccurrenceID] = append(responses[r.OccurrenceID], r.Response.Value())
	}

	occurrences, err := e.store.ListOccurrences(ctx, repository.OccurrenceFilter{DiseaseGroupID: diseaseGroupID, IDs: affected})
	if err != nil {
		return fmt.Errorf("failed to load reviewed occurrences: %w", err)
	}
	var changed []model.Occurrence
	for _, o := range occurrences {
		if o.IsGoldStandard || len(responses[o.ID]) == 0 {
			continue
		}
		o.ExpertWeighting = model.Float64(mean(responses[o.ID]))
		changed = append(changed, o)
	}
	if err := e.store.SaveOccurrences(ctx, changed...); err != nil {
		return fmt.Errorf("failed to save occurrence expert weightings: %w", err)
	}
	e.log.Info("Updated expert weightings of occurrences", "disease_group_id", diseaseGroupID, "occurrences", len(changed))
	return nil
}

// UpdateValidationAndFinalWeightings fills in weightings for every occurrence that does not have a final weighting yet.
func (e *OccurrenceWeightingEngine) UpdateValidationAndFinalWeightings(ctx context.Context, diseaseGroupID int) error {
	start := time.Now()
	defer func() {
		metrics.WeightingRefreshDuration.WithLabelValues("occurrence_final").Observe(time.Since(start).Seconds())
	}()

	occurrences, err := e.store.ListOccurrences(ctx, repository.OccurrenceFilter{
		DiseaseGroupID:        diseaseGroupID,
		Statuses:              weightableStatuses,
		GoldStandard:          model.Bool(false),
		FinalWeightingMissing: true,
	})
	if err != nil {
		return fmt.Errorf("failed to load occurrences without final weighting: %w", err)
	}
	if len(occurrences) == 0 {
		e.log.Info("No occurrences found that need their validation and final weightings set", "disease_group_id", diseaseGroupID)
		return nil
	}

	for i := range occurrences {
		occurrences[i] = applyWeightings(occurrences[i])
	}
	if err := e.store.SaveOccurrences(ctx, occurrences...); err != nil {
		return fmt.Errorf("failed to save final weightings: %w", err)
	}
	e.log.Info("Set validation and final weightings", "disease_group_id", diseaseGroupID, "occurrences", len(occurrences))
	return nil
}

// applyWeightings derives the validation and final weightings from what is already on the occurrence.
func applyWeightings(o model.Occurrence) model.Occurrence {
	if o.IsGoldStandard {
		o.FinalWeighting = model.Float64(model.GoldStandardFinalWeighting)
		o.FinalWeightingExcludingSpatial = model.Float64(model.GoldStandardFinalWeighting)
		return o
	}

	o.ValidationWeighting = o.MachineWeighting
	if o.ExpertWeighting != nil {
		o.ValidationWeighting = o.ExpertWeighting
	}

	var resolution *float64
	if o.Location != nil {
		resolution = o.Location.ResolutionWeighting
	}
	o.FinalWeighting = model.Float64(average(o.ValidationWeighting, resolution))

	o.FinalWeightingExcludingSpatial = model.Float64(1.0)
	if o.ValidationWeighting != nil {
		o.FinalWeightingExcludingSpatial = model.Float64(*o.ValidationWeighting)
	}
	return o
}

// average ignores nil operands and is 0 only when every operand is nil.
func average(values ...*float64) float64 {
	var present []float64
	for _, v := range values {
		if v != nil {
			present = append(present, *v)
		}
	}
	return mean(present)
}
