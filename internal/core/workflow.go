package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"surveillance_service/internal/domain/model"
	"surveillance_service/internal/domain/repository"
	"surveillance_service/internal/logger"
	"surveillance_service/internal/metrics"
)

// errAdmissionDenied rolls back the request transaction without surfacing an error.
var errAdmissionDenied = errors.New("admission denied")

type OrchestratorConfig struct {
	Covariates       []string
	TrainingWindow   time.Duration
	SaveTrainingData bool
}

// ModelRunOrchestrator prepares and dispatches model runs.
type ModelRunOrchestrator struct {
	store       repository.Store
	experts     *ExpertWeightingEngine
	occurrences *OccurrenceWeightingEngine
	admission   *DataSpreadAdmissionController
	extent      model.DiseaseExtentGenerator
	execution   model.ModelExecution
	ml          model.MachineLearningService
	recorder    repository.TrainingDataRecorder
	locks       *GroupLocks
	now         Clock
	cfg         OrchestratorConfig
	log         *logger.Logger

	training sync.WaitGroup
}

type OrchestratorDeps struct {
	Store       repository.Store
	Experts     *ExpertWeightingEngine
	Occurrences *OccurrenceWeightingEngine
	Admission   *DataSpreadAdmissionController
	Extent      model.DiseaseExtentGenerator
	Execution   model.ModelExecution
	ML          model.MachineLearningService
	Recorder    repository.TrainingDataRecorder
	Locks       *GroupLocks
	Now         Clock
	Log         *logger.Logger
}

func NewModelRunOrchestrator(deps OrchestratorDeps, cfg OrchestratorConfig) *ModelRunOrchestrator {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Locks == nil {
		deps.Locks = NewGroupLocks()
	}
	return &ModelRunOrchestrator{
		store:       deps.Store,
		experts:     deps.Experts,
		occurrences: deps.Occurrences,
		admission:   deps.Admission,
		extent:      deps.Extent,
		execution:   deps.Execution,
		ml:          deps.ML,
		recorder:    deps.Recorder,
		locks:       deps.Locks,
		now:         deps.Now,
		cfg:         cfg,
		log:         deps.Log.With("component", "model_run_orchestrator"),
	}
}

// RequestModelRun prepares the disease group and dispatches a run. Everything it writes is rolled back
// if any mandatory step fails. It returns (nil, nil) when the minimum data spread is not met.
func (o *ModelRunOrchestrator) RequestModelRun(ctx context.Context, diseaseGroupID int, trigger model.Trigger, batch *model.BatchRange) (*model.ModelRun, error) {
	batchStart, batchEnd, err := normaliseBatchRange(batch)
	if err != nil {
		return nil, err
	}

	unlock := o.locks.Lock(diseaseGroupID)
	defer unlock()

	log := o.log.With("disease_group_id", diseaseGroupID, "trigger", trigger)
	var run model.ModelRun
	var group model.DiseaseGroup

	err = o.store.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
		var err error
		group, err = tx.GetDiseaseGroup(ctx, diseaseGroupID)
		if err != nil {
			return err
		}
		if trigger == model.TriggerGoldStandard && !group.GoldStandardEligible {
			return fmt.Errorf("disease group %d: %w", diseaseGroupID, model.ErrNotGoldStandard)
		}

		var expertWeightings map[int]float64
		if trigger == model.TriggerManual {
			if expertWeightings, err = o.experts.WithStore(tx).CalculateNewExpertWeightings(ctx); err != nil {
				return err
			}
		}
		if trigger != model.TriggerGoldStandard {
			if err := o.occurrences.WithStore(tx).Refresh(ctx, diseaseGroupID); err != nil {
				return err
			}
		}

		occurrences, err := o.selectOccurrences(ctx, tx, diseaseGroupID, trigger)
		if err != nil {
			return err
		}
		if occurrences == nil {
			return errAdmissionDenied
		}

		var cutoff *time.Time
		if trigger == model.TriggerAutomatic {
			cutoff = oldestOccurrenceDate(occurrences)
		}
		if err := o.extent.Regenerate(ctx, group, cutoff, trigger == model.TriggerGoldStandard); err != nil {
			return fmt.Errorf("failed to regenerate disease extent: %w", err)
		}

		now := o.now()
		run, err = tx.CreateModelRun(ctx, model.ModelRun{
			Name:                     newRunName(group, now),
			DiseaseGroupID:           diseaseGroupID,
			Status:                   model.ModelRunInProgress,
			RequestDate:              now,
			BatchStartDate:           batchStart,
			BatchEndDate:             batchEnd,
			OccurrenceDataRangeStart: oldestOccurrenceDate(occurrences),
			OccurrenceDataRangeEnd:   newestOccurrenceDate(occurrences),
		})
		if err != nil {
			return err
		}
		group.LastModelRunPrepDate = &now
		if err := tx.SaveDiseaseGroup(ctx, group); err != nil {
			return err
		}

		extent, err := tx.ExtentClasses(ctx, diseaseGroupID)
		if err != nil {
			return err
		}
		handle, err := o.execution.Dispatch(ctx, model.RunPackage{
			RunName:      run.Name,
			DiseaseGroup: group,
			Occurrences:  occurrences,
			Extent:       extent,
			Covariates:   o.cfg.Covariates,
		})
		if err != nil {
			return fmt.Errorf("failed to dispatch model run %s: %w", run.Name, err)
		}
		run.RequestServer = handle.Server
		if err := tx.SaveModelRun(ctx, run); err != nil {
			return err
		}

		return o.experts.WithStore(tx).SaveExpertWeightings(ctx, expertWeightings)
	})
	if errors.Is(err, errAdmissionDenied) {
		log.Info("Model run not requested")
		return nil, nil
	}
	if err != nil {
		log.Error("Model run request rolled back", "error", err)
		return nil, err
	}

	metrics.ModelRunsRequested.WithLabelValues(string(trigger)).Inc()
	log.Info("Model run requested", "model_run", run.Name, "server", run.RequestServer)
	o.submitTrainingData(ctx, group, run.Name)
	return &run, nil
}

func (o *ModelRunOrchestrator) selectOccurrences(ctx context.Context, tx repository.Store, diseaseGroupID int, trigger model.Trigger) ([]model.Occurrence, error) {
	if trigger != model.TriggerGoldStandard {
		return o.admission.WithStore(tx).SelectOccurrences(ctx, diseaseGroupID)
	}
	occurrences, err := tx.ListOccurrences(ctx, repository.OccurrenceFilter{
		DiseaseGroupID: diseaseGroupID,
		GoldStandard:   model.Bool(true),
		ExcludeBias:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load gold standard occurrences: %w", err)
	}
	if len(occurrences) == 0 {
		return nil, nil
	}
	sortMostRecentFirst(occurrences)
	return occurrences, nil
}

// submitTrainingData sends fresh training data to the ML predictor in the background. Failures are logged only.
func (o *ModelRunOrchestrator) submitTrainingData(ctx context.Context, group model.DiseaseGroup, runName string) {
	if o.ml == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	cutoff := o.now().Add(-o.cfg.TrainingWindow)

	o.training.Add(1)
	go func() {
		defer o.training.Done()
		log := o.log.With("disease_group_id", group.ID, "model_run", runName)

		occurrences, err := o.store.ListOccurrences(ctx, repository.OccurrenceFilter{
			DiseaseGroupID:          group.ID,
			Statuses:                []model.OccurrenceStatus{model.StatusReady},
			RequireTrainingFeatures: true,
			OccurrenceDateAfter:     &cutoff,
		})
		if err != nil {
			log.Error("Failed to load ML training data", "error", err)
			return
		}
		if err := o.ml.Train(ctx, group.ID, occurrences); err != nil {
			log.Error("Failed to train ML predictor", "error", err)
			return
		}
		log.Info("Trained ML predictor", "occurrences", len(occurrences))

		if o.cfg.SaveTrainingData && o.recorder != nil {
			if err := o.recorder.SaveTrainingData(ctx, group.ID, runName, occurrences); err != nil {
				log.Warn("Failed to record training data", "error", err)
			}
		}
	}()
}

// WaitForTraining blocks until background training submissions have finished.
func (o *ModelRunOrchestrator) WaitForTraining() {
	o.training.Wait()
}

func newRunName(group model.DiseaseGroup, now time.Time) string {
	return fmt.Sprintf("%d_%s_%s", group.ID, now.UTC().Format("2006-01-02-15-04-05"), uuid.NewString()[:8])
}
