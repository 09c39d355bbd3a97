package core

import (
	"context"
	"fmt"
	"time"

	"surveillance_service/internal/domain/model"
	"surveillance_service/internal/domain/repository"
	"surveillance_service/internal/logger"
)

const automaticRunInterval = 7 * 24 * time.Hour

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	return startOfDay(t).AddDate(0, 0, 1).Add(-time.Millisecond)
}

// normaliseBatchRange widens the manual batch window to whole days and checks its order.
func normaliseBatchRange(batch *model.BatchRange) (*time.Time, *time.Time, error) {
	if batch == nil {
		return nil, nil, nil
	}
	var start, end *time.Time
	if batch.Start != nil {
		s := startOfDay(*batch.Start)
		start = &s
	}
	if batch.End != nil {
		e := endOfDay(*batch.End)
		end = &e
	}
	if start != nil && end != nil && start.After(*end) {
		return nil, nil, fmt.Errorf("%s after %s: %w", start.Format(time.DateOnly), end.Format(time.DateOnly), model.ErrInvalidBatchRange)
	}
	return start, end, nil
}

// oldestOccurrenceDate is the automatic run's extent cutoff.
func oldestOccurrenceDate(occurrences []model.Occurrence) *time.Time {
	var oldest *time.Time
	for _, o := range occurrences {
		if oldest == nil || o.OccurrenceDate.Before(*oldest) {
			d := o.OccurrenceDate
			oldest = &d
		}
	}
	return oldest
}

func newestOccurrenceDate(occurrences []model.Occurrence) *time.Time {
	var newest *time.Time
	for _, o := range occurrences {
		if newest == nil || o.OccurrenceDate.After(*newest) {
			d := o.OccurrenceDate
			newest = &d
		}
	}
	return newest
}

// ModelRunGatekeeper decides whether an automatic model run is due for a disease group.
type ModelRunGatekeeper struct {
	store repository.Store
	now   Clock
	log   *logger.Logger
}

func NewModelRunGatekeeper(store repository.Store, now Clock, log *logger.Logger) *ModelRunGatekeeper {
	return &ModelRunGatekeeper{store: store, now: now, log: log.With("component", "gatekeeper")}
}

// DueToRun is never true without a new-occurrences trigger. Otherwise a run is due when no run was
// ever prepared, a week has passed since the last preparation, or enough new occurrences arrived since.
func (g *ModelRunGatekeeper) DueToRun(ctx context.Context, group model.DiseaseGroup) (bool, error) {
	if group.MinNewOccurrencesTrigger == nil {
		return false, nil
	}
	if group.LastModelRunPrepDate == nil {
		return true, nil
	}
	if !g.now().Before(group.LastModelRunPrepDate.Add(automaticRunInterval)) {
		return true, nil
	}

	n, err := g.store.CountOccurrences(ctx, repository.OccurrenceFilter{
		DiseaseGroupID: group.ID,
		Statuses:       []model.OccurrenceStatus{model.StatusReady},
		CreatedAfter:   group.LastModelRunPrepDate,
	})
	if err != nil {
		return false, fmt.Errorf("failed to count new occurrences: %w", err)
	}
	g.log.Debug("Counted new occurrences since last model run", "disease_group_id", group.ID,
		"new_occurrences", n, "trigger", *group.MinNewOccurrencesTrigger)
	return n >= *group.MinNewOccurrencesTrigger, nil
}
