package core

import (
	"context"
	"fmt"

	"surveillance_service/internal/domain/model"
	"surveillance_service/internal/domain/repository"
	"surveillance_service/internal/logger"
	"surveillance_service/internal/metrics"
)

// ValidationGate decides what validation parameters a new occurrence gets and whether it needs manual review.
type ValidationGate struct {
	store    repository.Store
	resolver *SpatialFeatureResolver
	ml       model.MachineLearningService
	log      *logger.Logger
}

func NewValidationGate(
	store repository.Store,
	resolver *SpatialFeatureResolver,
	ml model.MachineLearningService,
	log *logger.Logger,
) *ValidationGate {
	return &ValidationGate{store: store, resolver: resolver, ml: ml, log: log.With("component", "validation_gate")}
}

func (g *ValidationGate) WithStore(store repository.Store) *ValidationGate {
	return &ValidationGate{store: store, resolver: g.resolver, ml: g.ml, log: g.log}
}

// ApplyValidation loads an occurrence, runs it through the gate and saves it when it was eligible.
func (g *ValidationGate) ApplyValidation(ctx context.Context, occurrenceID int, isGoldStandard bool) (bool, error) {
	occurrence, err := g.store.GetOccurrence(ctx, occurrenceID)
	if err != nil {
		return false, err
	}
	eligible, err := g.Apply(ctx, &occurrence, isGoldStandard)
	if err != nil || !eligible {
		return eligible, err
	}
	if err := g.store.SaveOccurrences(ctx, occurrence); err != nil {
		return false, fmt.Errorf("failed to save validated occurrence %d: %w", occurrenceID, err)
	}
	return true, nil
}

// Apply mutates the occurrence in place. It returns false, without touching it, when the occurrence
// has no location or its location failed QC.
func (g *ValidationGate) Apply(ctx context.Context, o *model.Occurrence, isGoldStandard bool) (bool, error) {
	if o == nil || o.Location == nil || !o.Location.HasPassedQC {
		return false, nil
	}

	if isGoldStandard {
		o.IsGoldStandard = true
		o.FinalWeighting = model.Float64(model.GoldStandardFinalWeighting)
		o.FinalWeightingExcludingSpatial = model.Float64(model.GoldStandardFinalWeighting)
		o.Status = model.StatusReady
		metrics.ValidationOutcomes.WithLabelValues(string(o.Status)).Inc()
		return true, nil
	}

	group, err := g.store.GetDiseaseGroup(ctx, o.DiseaseGroupID)
	if err != nil {
		return false, err
	}

	if !group.AutomaticModelRunsEnabled {
		o.Status = model.StatusAwaitingBatching
		metrics.ValidationOutcomes.WithLabelValues(string(o.Status)).Inc()
		return true, nil
	}

	surface, err := g.latestSurface(ctx, group.ID)
	if err != nil {
		return false, err
	}
	if err := g.assess(ctx, group, surface, o, false); err != nil {
		return false, err
	}
	metrics.ValidationOutcomes.WithLabelValues(string(o.Status)).Inc()
	return true, nil
}

// ValidateBatch gives validation parameters to occurrences held back while the disease group was being
// set up. When the ML predictor fails here, the legacy fixed machine weighting is used instead of
// routing the occurrence to manual review.
func (g *ValidationGate) ValidateBatch(ctx context.Context, occurrences []model.Occurrence) ([]model.Occurrence, error) {
	if len(occurrences) == 0 {
		return nil, nil
	}
	groupID := occurrences[0].DiseaseGroupID
	for _, o := range occurrences[1:] {
		if o.DiseaseGroupID != groupID {
			return nil, fmt.Errorf("occurrences %d and %d belong to disease groups %d and %d: %w",
				occurrences[0].ID, o.ID, groupID, o.DiseaseGroupID, model.ErrDataIntegrity)
		}
	}

	group, err := g.store.GetDiseaseGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	surface, err := g.latestSurface(ctx, groupID)
	if err != nil {
		return nil, err
	}

	out := make([]model.Occurrence, 0, len(occurrences))
	for _, o := range occurrences {
		if o.Location == nil || !o.Location.HasPassedQC {
			continue
		}
		if err := g.assess(ctx, group, surface, &o, true); err != nil {
			return nil, err
		}
		metrics.ValidationOutcomes.WithLabelValues(string(o.Status)).Inc()
		out = append(out, o)
	}
	return out, nil
}

func (g *ValidationGate) latestSurface(ctx context.Context, diseaseGroupID int) (string, error) {
	run, err := g.store.LatestCompletedModelRun(ctx, diseaseGroupID)
	if err != nil {
		return "", err
	}
	if run == nil {
		return "", nil
	}
	return run.Name, nil
}

func (g *ValidationGate) assess(ctx context.Context, group model.DiseaseGroup, surface string, o *model.Occurrence, legacyFallback bool) error {
	es, err := g.resolver.FindEnvironmentalSuitability(ctx, group, *o.Location, surface)
	if es, err = optionalFeature(g.log, "environmental_suitability", es, err); err != nil {
		return err
	}
	distance, err := g.resolver.FindDistanceFromExtent(ctx, group, *o.Location)
	if distance, err = optionalFeature(g.log, "distance_from_extent", distance, err); err != nil {
		return err
	}
	o.EnvironmentalSuitability = es
	o.DistanceFromExtent = distance

	if group.UseMachineLearning {
		prediction, err := g.ml.Predict(ctx, *o)
		if err != nil {
			if legacyFallback {
				g.log.Warn("ML predictor failed, using legacy machine weighting", "occurrence_id", o.ID, "error", err)
				prediction = model.Float64(model.LegacyMachineWeighting)
			} else {
				g.log.Warn("ML predictor failed, occurrence needs manual review", "occurrence_id", o.ID, "error", err)
				prediction = nil
			}
		}
		o.MachineWeighting = prediction
		setValidated(o, prediction != nil)
		return nil
	}

	if needsManualReview(group, es, distance) {
		o.MachineWeighting = nil
		setValidated(o, false)
		return nil
	}
	o.MachineWeighting = model.Float64(1)
	setValidated(o, true)
	return nil
}

// needsManualReview applies the fixed thresholds used when the disease group has no ML predictor.
func needsManualReview(group model.DiseaseGroup, es, distance *float64) bool {
	maxES := group.MaxEnvironmentalSuitabilityWithoutML
	switch {
	case es != nil && maxES != nil && *es > *maxES:
		return true
	case distance != nil && *distance > 0:
		return true
	case es == nil && distance == nil:
		return true
	}
	return false
}

func setValidated(o *model.Occurrence, validated bool) {
	if validated {
		o.Status = model.StatusReady
	} else {
		o.Status = model.StatusInReview
	}
}
