package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"surveillance_service/internal/domain/model"
	"surveillance_service/internal/logger"
	"surveillance_service/internal/metrics"
)

type ExpertRefresher interface {
	RefreshExpertWeightings(ctx context.Context) error
}

type RunRequester interface {
	RequestModelRun(ctx context.Context, diseaseGroupID int, trigger model.Trigger, batch *model.BatchRange) (*model.ModelRun, error)
}

type Gatekeeper interface {
	DueToRun(ctx context.Context, group model.DiseaseGroup) (bool, error)
}

type GroupLister interface {
	ListDiseaseGroups(ctx context.Context) ([]model.DiseaseGroup, error)
}

type Config struct {
	ExpertWeightingSchedule string
	AutomaticRunSchedule    string
}

type Deps struct {
	Groups     GroupLister
	Experts    ExpertRefresher
	Runs       RunRequester
	Gatekeeper Gatekeeper
}

// Scheduler runs the periodic expert weighting refresh and automatic model run checks.
// Cron expressions include a seconds field.
type Scheduler struct {
	cron   *cron.Cron
	deps   Deps
	ctx    context.Context
	cancel context.CancelFunc
	log    *logger.Logger
}

func New(cfg Config, deps Deps, log *logger.Logger) (*Scheduler, error) {
	log = log.With("component", "scheduler")
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.SkipIfStillRunning(cronLogger{log})),
		),
		deps:   deps,
		ctx:    ctx,
		cancel: cancel,
		log:    log,
	}

	jobs := []struct {
		name     string
		schedule string
		run      func(context.Context) error
	}{
		{"expert_weightings", cfg.ExpertWeightingSchedule, s.RefreshExpertWeightings},
		{"automatic_model_runs", cfg.AutomaticRunSchedule, s.RequestAutomaticModelRuns},
	}
	for _, job := range jobs {
		if job.schedule == "" {
			log.Info("Scheduled job disabled", "job", job.name)
			continue
		}
		if _, err := s.cron.AddFunc(job.schedule, func() { s.execute(job.name, job.run) }); err != nil {
			cancel()
			return nil, fmt.Errorf("invalid schedule %q for %s: %w", job.schedule, job.name, err)
		}
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.log.Info("Starting scheduler", "jobs", len(s.cron.Entries()))
	s.cron.Start()
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.log.Info("Scheduler stopped")
}

func (s *Scheduler) execute(name string, run func(context.Context) error) {
	if err := run(s.ctx); err != nil {
		metrics.ScheduledJobRuns.WithLabelValues(name, "error").Inc()
		s.log.Error("Scheduled job failed", "job", name, "error", err)
		return
	}
	metrics.ScheduledJobRuns.WithLabelValues(name, "ok").Inc()
}

func (s *Scheduler) RefreshExpertWeightings(ctx context.Context) error {
	return s.deps.Experts.RefreshExpertWeightings(ctx)
}

// RequestAutomaticModelRuns requests a run for every disease group with automatic runs enabled that is due.
// A failure for one group does not stop the others; the first error is returned.
func (s *Scheduler) RequestAutomaticModelRuns(ctx context.Context) error {
	groups, err := s.deps.Groups.ListDiseaseGroups(ctx)
	if err != nil {
		return fmt.Errorf("failed to list disease groups: %w", err)
	}

	var firstErr error
	for _, group := range groups {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !group.AutomaticModelRunsEnabled {
			continue
		}
		log := s.log.With("disease_group_id", group.ID)

		due, err := s.deps.Gatekeeper.DueToRun(ctx, group)
		if err != nil {
			log.Error("Failed to decide whether a model run is due", "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if !due {
			log.Debug("Automatic model run not due")
			continue
		}

		run, err := s.deps.Runs.RequestModelRun(ctx, group.ID, model.TriggerAutomatic, nil)
		if err != nil {
			log.Error("Automatic model run request failed", "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("disease group %d: %w", group.ID, err)
			}
			continue
		}
		if run != nil {
			log.Info("Automatic model run requested", "model_run", run.Name)
		}
	}
	return firstErr
}

// cronLogger adapts the service logger to cron's logging interface.
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(keysAndValues, "error", err)...)
}
