package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"surveillance_service/internal/domain/model"
	"surveillance_service/internal/domain/repository"
	"surveillance_service/internal/logger"
	"surveillance_service/internal/metrics"
)

var ErrQueueClosed = errors.New("completion queue is closed")

// GroupLocks serialises preparation and completion work per disease group.
type GroupLocks struct {
	mu    sync.Mutex
	locks map[int]*sync.Mutex
}

func NewGroupLocks() *GroupLocks {
	return &GroupLocks{locks: map[int]*sync.Mutex{}}
}

// Lock blocks until the group is free and returns the matching unlock.
func (l *GroupLocks) Lock(diseaseGroupID int) func() {
	l.mu.Lock()
	m, ok := l.locks[diseaseGroupID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[diseaseGroupID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// RunCompletionHandler records the outcome of a model run and, for groups still being set up,
// validates the batch of occurrences the run was requested for.
type RunCompletionHandler struct {
	store      repository.Store
	validation *ValidationGate
	locks      *GroupLocks
	now        Clock
	log        *logger.Logger
}

func NewRunCompletionHandler(store repository.Store, validation *ValidationGate, locks *GroupLocks, now Clock, log *logger.Logger) *RunCompletionHandler {
	if now == nil {
		now = time.Now
	}
	if locks == nil {
		locks = NewGroupLocks()
	}
	return &RunCompletionHandler{
		store:      store,
		validation: validation,
		locks:      locks,
		now:        now,
		log:        log.With("component", "run_completion"),
	}
}

// Handle applies a completion event. Events for runs that already reached a terminal status are ignored.
func (h *RunCompletionHandler) Handle(ctx context.Context, event model.CompletionEvent) error {
	if !event.Status.IsTerminal() {
		return fmt.Errorf("model run %s reported %q: %w", event.RunName, event.Status, model.ErrInvalidRunStatus)
	}

	run, err := h.store.GetModelRunByName(ctx, event.RunName)
	if err != nil {
		return err
	}
	unlock := h.locks.Lock(run.DiseaseGroupID)
	defer unlock()

	log := h.log.With("model_run", run.Name, "disease_group_id", run.DiseaseGroupID)
	var batched int
	err = h.store.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
		run, err := tx.GetModelRunByName(ctx, event.RunName)
		if err != nil {
			return err
		}
		if run.Status.IsTerminal() {
			log.Warn("Model run already finished, ignoring completion event", "status", run.Status)
			return nil
		}

		now := h.now()
		run.Status = event.Status
		run.ResponseDate = &now
		run.OutputText = event.OutputText
		run.ErrorText = event.ErrorText
		for kind, location := range event.Artifacts {
			log.Debug("Model run produced artifact", "kind", kind, "location", location)
		}
		if err := tx.SaveModelRun(ctx, run); err != nil {
			return err
		}

		if batched, err = h.batch(ctx, tx, run); err != nil {
			return fmt.Errorf("failed to batch occurrences after model run %s: %w", run.Name, err)
		}
		return nil
	})
	if err != nil {
		log.Error("Failed to handle model run completion", "error", err)
		return err
	}

	metrics.ModelRunsCompleted.WithLabelValues(string(event.Status)).Inc()
	metrics.BatchedOccurrences.Add(float64(batched))
	log.Info("Model run completion handled", "status", event.Status, "batched_occurrences", batched)
	return nil
}

// batch only does work for completed runs of groups whose automatic runs are still disabled.
func (h *RunCompletionHandler) batch(ctx context.Context, tx repository.Store, run model.ModelRun) (int, error) {
	if run.Status != model.ModelRunCompleted {
		return 0, nil
	}
	group, err := tx.GetDiseaseGroup(ctx, run.DiseaseGroupID)
	if err != nil {
		return 0, err
	}
	if group.AutomaticModelRunsEnabled {
		return 0, nil
	}

	completed, err := tx.HasBatchingEverCompleted(ctx, group.ID)
	if err != nil {
		return 0, err
	}
	if !completed {
		if err := h.resetFinalWeightings(ctx, tx, group.ID); err != nil {
			return 0, err
		}
	}

	if run.BatchEndDate == nil {
		return 0, nil
	}
	end := endOfDay(*run.BatchEndDate)
	occurrences, err := tx.ListOccurrences(ctx, repository.OccurrenceFilter{
		DiseaseGroupID:     group.ID,
		Statuses:           []model.OccurrenceStatus{model.StatusAwaitingBatching},
		GoldStandard:       model.Bool(false),
		OccurrenceDateFrom: run.BatchStartDate,
		OccurrenceDateTo:   &end,
	})
	if err != nil {
		return 0, err
	}

	validated, err := h.validation.WithStore(tx).ValidateBatch(ctx, occurrences)
	if err != nil {
		return 0, err
	}
	if err := tx.SaveOccurrences(ctx, validated...); err != nil {
		return 0, err
	}

	now := h.now()
	count := len(validated)
	run.BatchingCompletedDate = &now
	run.BatchOccurrenceCount = &count
	if err := tx.SaveModelRun(ctx, run); err != nil {
		return 0, err
	}
	return count, nil
}

// resetFinalWeightings clears final weightings before a group's first batch so that only batched
// occurrences feed the next run.
func (h *RunCompletionHandler) resetFinalWeightings(ctx context.Context, tx repository.Store, diseaseGroupID int) error {
	occurrences, err := tx.ListOccurrences(ctx, repository.OccurrenceFilter{
		DiseaseGroupID: diseaseGroupID,
		GoldStandard:   model.Bool(false),
	})
	if err != nil {
		return err
	}
	changed := occurrences[:0]
	for _, o := range occurrences {
		if o.FinalWeighting == nil && o.FinalWeightingExcludingSpatial == nil {
			continue
		}
		o.FinalWeighting = nil
		o.FinalWeightingExcludingSpatial = nil
		changed = append(changed, o)
	}
	if len(changed) == 0 {
		return nil
	}
	h.log.Info("Resetting final weightings before first batch", "disease_group_id", diseaseGroupID, "occurrences", len(changed))
	return tx.SaveOccurrences(ctx, changed...)
}

type queuedEvent struct {
	event model.CompletionEvent
	done  chan error
}

// CompletionQueue hands completion events to a single worker so they are applied one at a time.
type CompletionQueue struct {
	handler *RunCompletionHandler
	events  chan queuedEvent
	log     *logger.Logger

	mu      sync.RWMutex
	started bool
	closed  bool
	done    chan struct{}
}

func NewCompletionQueue(handler *RunCompletionHandler, size int, log *logger.Logger) *CompletionQueue {
	if size <= 0 {
		size = 1
	}
	return &CompletionQueue{
		handler: handler,
		events:  make(chan queuedEvent, size),
		log:     log.With("component", "completion_queue"),
		done:    make(chan struct{}),
	}
}

// Start runs the worker until Stop is called or ctx is cancelled.
func (q *CompletionQueue) Start(ctx context.Context) {
	q.mu.Lock()
	q.started = true
	q.mu.Unlock()
	go func() {
		defer close(q.done)
		for {
			select {
			case <-ctx.Done():
				return
			case item, ok := <-q.events:
				if !ok {
					return
				}
				metrics.CompletionQueueDepth.Set(float64(len(q.events)))
				err := q.handler.Handle(ctx, item.event)
				if err != nil {
					q.log.Error("Completion event failed", "model_run", item.event.RunName, "error", err)
				}
				if item.done != nil {
					item.done <- err
				}
			}
		}
	}()
}

// Submit enqueues an event, blocking while the queue is full.
func (q *CompletionQueue) Submit(event model.CompletionEvent) error {
	return q.enqueue(queuedEvent{event: event})
}

// SubmitAndWait enqueues an event and blocks until the worker has handled it, returning the
// handler's error. It returns ctx.Err() if ctx ends first; the event is still handled.
func (q *CompletionQueue) SubmitAndWait(ctx context.Context, event model.CompletionEvent) error {
	done := make(chan error, 1)
	if err := q.enqueue(queuedEvent{event: event, done: done}); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-q.done:
		select {
		case err := <-done:
			return err
		default:
			return ErrQueueClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *CompletionQueue) enqueue(item queuedEvent) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.events <- item
	metrics.CompletionQueueDepth.Set(float64(len(q.events)))
	return nil
}

// Stop closes the queue and waits for the worker to drain what was already submitted.
func (q *CompletionQueue) Stop() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.events)
	}
	started := q.started
	q.mu.Unlock()
	if started {
		<-q.done
	}
}
