package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"surveillance_service/internal/api"
	"surveillance_service/internal/cache"
	"surveillance_service/internal/config"
	"surveillance_service/internal/core"
	"surveillance_service/internal/domain/repository"
	"surveillance_service/internal/infrastructure/mlclient"
	"surveillance_service/internal/infrastructure/modelrunner"
	"surveillance_service/internal/infrastructure/raster"
	"surveillance_service/internal/logger"
	"surveillance_service/internal/scheduler"
)

// backend is a store that can also answer spatial queries.
type backend interface {
	repository.Store
	core.SpatialQuery
}

type app struct {
	cfg config.Config
	log *logger.Logger

	store backend

	experts      *core.ExpertWeightingEngine
	occurrences  *core.OccurrenceWeightingEngine
	admission    *core.DataSpreadAdmissionController
	validation   *core.ValidationGate
	gatekeeper   *core.ModelRunGatekeeper
	orchestrator *core.ModelRunOrchestrator
	completions  *core.CompletionQueue

	closers []func() error
}

func newApp(ctx context.Context, cfg config.Config, log *logger.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	var recorder repository.TrainingDataRecorder
	if cfg.PostgresURL != "" {
		pg, err := repository.NewPostgresStore(cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pg.Close)
		if err := pg.EnsureSchema(ctx); err != nil {
			a.Close()
			return nil, err
		}
		a.store = pg
		recorder = repository.NewPostgresTrainingRecorder(pg.DB())
	} else {
		log.Warn("POSTGRES_URL is not set, using the in-memory store")
		a.store = repository.NewMemoryStore()
		recorder = &repository.MemoryTrainingRecorder{}
	}

	var parameters cache.ValidationParameterCache = cache.NewMemoryCache()
	if cfg.RedisAddr != "" {
		rc, err := cache.NewRedisCache(ctx, cache.RedisConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, rc.Close)
		parameters = rc
	}

	var countries core.CountryLocator
	if cfg.OverpassURL != "" {
		countries = repository.NewOverpassCountryLocator(
			repository.NewOverpassRepository(cfg.OverpassURL, cfg.OverpassTimeout), a.store)
	}

	sampler := raster.NewGridSampler(cfg.RasterDir)
	if cfg.RasterDir != "" {
		if err := sampler.LoadFootprintsFile(filepath.Join(cfg.RasterDir, "admin_units.geojson")); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to load admin unit footprints: %w", err)
		}
	}

	ml := mlclient.NewHTTPMLClient(cfg.MLServiceURL, cfg.HTTPTimeout)
	locks := core.NewGroupLocks()

	a.experts = core.NewExpertWeightingEngine(a.store, log)
	a.occurrences = core.NewOccurrenceWeightingEngine(a.store, log)
	a.admission = core.NewDataSpreadAdmissionController(a.store, countries, log)
	resolver := core.NewSpatialFeatureResolver(a.store, sampler, parameters, log)
	a.validation = core.NewValidationGate(a.store, resolver, ml, log)
	a.gatekeeper = core.NewModelRunGatekeeper(a.store, time.Now, log)
	a.orchestrator = core.NewModelRunOrchestrator(core.OrchestratorDeps{
		Store:       a.store,
		Experts:     a.experts,
		Occurrences: a.occurrences,
		Admission:   a.admission,
		Extent:      modelrunner.NewExtentGenerator(cfg.ExtentGeneratorURL, cfg.HTTPTimeout),
		Execution:   modelrunner.NewDispatcher(cfg.ModelWrapperURL, cfg.HTTPTimeout),
		ML:          ml,
		Recorder:    recorder,
		Locks:       locks,
		Log:         log,
	}, core.OrchestratorConfig{
		Covariates:       cfg.Covariates,
		TrainingWindow:   cfg.MLTrainingWindow,
		SaveTrainingData: cfg.SaveTrainingData,
	})

	handler := core.NewRunCompletionHandler(a.store, a.validation, locks, time.Now, log)
	a.completions = core.NewCompletionQueue(handler, cfg.CompletionQueue, log)
	return a, nil
}

func (a *app) apiHandler() *api.Handler {
	return api.NewHandler(api.Services{
		Experts:      a.experts,
		Occurrences:  a.occurrences,
		Admission:    a.admission,
		Validation:   a.validation,
		Orchestrator: a.orchestrator,
		Completions:  a.completions,
	}, a.log)
}

func (a *app) newScheduler() (*scheduler.Scheduler, error) {
	return scheduler.New(scheduler.Config{
		ExpertWeightingSchedule: a.cfg.ExpertWeightingSchedule,
		AutomaticRunSchedule:    a.cfg.AutomaticRunSchedule,
	}, scheduler.Deps{
		Groups:     a.store,
		Experts:    a.experts,
		Runs:       a.orchestrator,
		Gatekeeper: a.gatekeeper,
	}, a.log)
}

// Close waits for background training submissions, then releases connections in reverse order.
func (a *app) Close() {
	if a.orchestrator != nil {
		a.orchestrator.WaitForTraining()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("Failed to close resource", "error", err)
		}
	}
}
