package core

import (
	"context"
	"fmt"
	"math"
	"time"

	"surveillance_service/internal/domain/repository"
	"surveillance_service/internal/logger"
	"surveillance_service/internal/metrics"
)

// ExpertWeightingEngine scores each expert by how closely their reviews agree with their peers'.
type ExpertWeightingEngine struct {
	store repository.Store
	log   *logger.Logger
}

func NewExpertWeightingEngine(store repository.Store, log *logger.Logger) *ExpertWeightingEngine {
	return &ExpertWeightingEngine{store: store, log: log.With("component", "expert_weighting")}
}

// WithStore binds the engine to another view of the store, typically a transaction.
func (e *ExpertWeightingEngine) WithStore(store repository.Store) *ExpertWeightingEngine {
	return &ExpertWeightingEngine{store: store, log: e.log}
}

// RefreshExpertWeightings recomputes and persists the weighting of every expert who has reviewed.
func (e *ExpertWeightingEngine) RefreshExpertWeightings(ctx context.Context) error {
	start := time.Now()
	defer func() {
		metrics.WeightingRefreshDuration.WithLabelValues("experts").Observe(time.Since(start).Seconds())
	}()

	weightings, err := e.CalculateNewExpertWeightings(ctx)
	if err != nil {
		return err
	}
	return e.SaveExpertWeightings(ctx, weightings)
}

// CalculateNewExpertWeightings computes weightings from all historical reviews without saving them.
func (e *ExpertWeightingEngine) CalculateNewExpertWeightings(ctx context.Context) (map[int]float64, error) {
	reviews, err := e.store.ListReviews(ctx, repository.ReviewFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to load reviews: %w", err)
	}
	if len(reviews) == 0 {
		e.log.Info("No occurrence reviews have been submitted - weightings of experts will not be updated")
		return nil, nil
	}

	byOccurrence := map[int]map[int]float64{}
	for _, r := range reviews {
		if byOccurrence[r.OccurrenceID] == nil {
			byOccurrence[r.OccurrenceID] = map[int]float64{}
		}
		byOccurrence[r.OccurrenceID][r.ExpertID] = r.Response.Value()
	}

	disagreements := map[int][]float64{}
	for _, responses := range byOccurrence {
		for expertID, value := range responses {
			disagreements[expertID] = append(disagreements[expertID], disagreement(expertID, value, responses))
		}
	}

	weightings := make(map[int]float64, len(disagreements))
	for expertID, ds := range disagreements {
		weightings[expertID] = 1 - mean(ds)
	}
	e.log.Debug("Calculated expert weightings", "experts", len(weightings), "reviews", len(reviews))
	return weightings, nil
}

func (e *ExpertWeightingEngine) SaveExpertWeightings(ctx context.Context, weightings map[int]float64) error {
	if len(weightings) == 0 {
		return nil
	}
	if err := e.store.SaveExpertWeightings(ctx, weightings); err != nil {
		return fmt.Errorf("failed to save expert weightings: %w", err)
	}
	e.log.Info("Updated expert weightings", "experts", len(weightings))
	return nil
}

// disagreement is 0 when nobody else reviewed the occurrence.
func disagreement(expertID int, value float64, responses map[int]float64) float64 {
	var others []float64
	for otherID, v := range responses {
		if otherID != expertID {
			others = append(others, v)
		}
	}
	if len(others) == 0 {
		return 0
	}
	return math.Abs(value - mean(others))
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
