package core

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"surveillance_service/internal/cache"
	"surveillance_service/internal/domain/model"
	"surveillance_service/internal/domain/repository"
)

var responseTime = time.Date(2014, 7, 2, 18, 0, 0, 0, time.UTC)

type completionFixture struct {
	store   *repository.MemoryStore
	raster  *MockRaster
	handler *RunCompletionHandler
}

func newCompletionFixture(t *testing.T, group model.DiseaseGroup, run model.ModelRun) completionFixture {
	t.Helper()
	store := repository.NewMemoryStore()
	store.PutDiseaseGroup(group)
	_, err := store.CreateModelRun(context.Background(), run)
	require.NoError(t, err)

	awaiting := func(id int, occurred time.Time) model.Occurrence {
		return model.Occurrence{ID: id, DiseaseGroupID: 87, Status: model.StatusAwaitingBatching, OccurrenceDate: occurred,
			Location: passedLocation(id)}
	}
	inRange := awaiting(1, date(2014, 3, 1).Add(20*time.Hour))
	afterRange := awaiting(2, date(2014, 3, 2))
	gold := awaiting(3, date(2014, 2, 1))
	gold.IsGoldStandard = true
	gold.FinalWeighting = model.Float64(1)
	weighted := trainable(4, date(2014, 1, 1))
	store.PutOccurrences(inRange, afterRange, gold, weighted)

	raster := new(MockRaster)
	raster.On("SamplePoint", mock.Anything, run.Name, mock.Anything, mock.Anything).Return(model.Float64(0.3), nil).Maybe()
	resolver := NewSpatialFeatureResolver(store, raster, cache.NewMemoryCache(), testLog)
	gate := NewValidationGate(store, resolver, new(MockMachineLearning), testLog)
	return completionFixture{
		store:   store,
		raster:  raster,
		handler: NewRunCompletionHandler(store, gate, NewGroupLocks(), fixedClock(responseTime), testLog),
	}
}

func batchedRun(name string) model.ModelRun {
	return model.ModelRun{
		Name:           name,
		DiseaseGroupID: 87,
		Status:         model.ModelRunInProgress,
		RequestDate:    requestTime,
		BatchEndDate:   timePtr(date(2014, 3, 1)),
	}
}

func TestHandleFirstCompletionResetsAndBatches(t *testing.T) {
	ctx := context.Background()
	f := newCompletionFixture(t, model.DiseaseGroup{ID: 87}, batchedRun("run-1"))

	err := f.handler.Handle(ctx, model.CompletionEvent{RunName: "run-1", Status: model.ModelRunCompleted, OutputText: "ok",
		Artifacts: map[string]string{"mean_prediction": "s3://results/run-1/mean.tif"}})

	require.NoError(t, err)
	run, err := f.store.GetModelRunByName(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.ModelRunCompleted, run.Status)
	assert.Equal(t, responseTime, *run.ResponseDate)
	assert.Equal(t, "ok", run.OutputText)
	assert.Equal(t, responseTime, *run.BatchingCompletedDate)
	assert.Equal(t, 1, *run.BatchOccurrenceCount)

	batched := mustOccurrence(t, f.store, 1)
	assert.Equal(t, model.StatusReady, batched.Status)
	assert.Equal(t, 0.3, *batched.EnvironmentalSuitability)
	assert.Equal(t, 1.0, *batched.MachineWeighting)
	assert.Equal(t, model.StatusAwaitingBatching, mustOccurrence(t, f.store, 2).Status)
	assert.Equal(t, model.StatusAwaitingBatching, mustOccurrence(t, f.store, 3).Status)
	assert.Equal(t, 1.0, *mustOccurrence(t, f.store, 3).FinalWeighting)

	reset := mustOccurrence(t, f.store, 4)
	assert.Nil(t, reset.FinalWeighting)
	assert.Nil(t, reset.FinalWeightingExcludingSpatial)
	assert.Equal(t, model.StatusReady, reset.Status)
}

func TestHandleLaterCompletionDoesNotReset(t *testing.T) {
	ctx := context.Background()
	f := newCompletionFixture(t, model.DiseaseGroup{ID: 87}, batchedRun("run-2"))
	_, err := f.store.CreateModelRun(ctx, model.ModelRun{Name: "run-1", DiseaseGroupID: 87, Status: model.ModelRunCompleted,
		ResponseDate: timePtr(date(2014, 4, 1)), BatchingCompletedDate: timePtr(date(2014, 4, 1))})
	require.NoError(t, err)

	require.NoError(t, f.handler.Handle(ctx, model.CompletionEvent{RunName: "run-2", Status: model.ModelRunCompleted}))

	assert.Equal(t, 1.0, *mustOccurrence(t, f.store, 4).FinalWeighting)
	assert.Equal(t, model.StatusReady, mustOccurrence(t, f.store, 1).Status)
}

func TestHandleWithoutBatchEndDateOnlyResets(t *testing.T) {
	ctx := context.Background()
	run := batchedRun("run-1")
	run.BatchEndDate = nil
	f := newCompletionFixture(t, model.DiseaseGroup{ID: 87}, run)

	require.NoError(t, f.handler.Handle(ctx, model.CompletionEvent{RunName: "run-1", Status: model.ModelRunCompleted}))

	stored, err := f.store.GetModelRunByName(ctx, "run-1")
	require.NoError(t, err)
	assert.Nil(t, stored.BatchingCompletedDate)
	assert.Nil(t, stored.BatchOccurrenceCount)
	assert.Nil(t, mustOccurrence(t, f.store, 4).FinalWeighting)
	assert.Equal(t, model.StatusAwaitingBatching, mustOccurrence(t, f.store, 1).Status)
}

func TestHandleSkipsBatching(t *testing.T) {
	cases := []struct {
		name   string
		group  model.DiseaseGroup
		status model.ModelRunStatus
	}{
		{"failed run", model.DiseaseGroup{ID: 87}, model.ModelRunFailed},
		{"automatic runs enabled", model.DiseaseGroup{ID: 87, AutomaticModelRunsEnabled: true}, model.ModelRunCompleted},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ctx := context.Background()
			f := newCompletionFixture(t, c.group, batchedRun("run-1"))

			require.NoError(t, f.handler.Handle(ctx, model.CompletionEvent{RunName: "run-1", Status: c.status, ErrorText: "R exited 1"}))

			run, err := f.store.GetModelRunByName(ctx, "run-1")
			require.NoError(t, err)
			assert.Equal(t, c.status, run.Status)
			assert.Equal(t, "R exited 1", run.ErrorText)
			assert.Nil(t, run.BatchingCompletedDate)
			assert.Equal(t, model.StatusAwaitingBatching, mustOccurrence(t, f.store, 1).Status)
			assert.Equal(t, 1.0, *mustOccurrence(t, f.store, 4).FinalWeighting)
		})
	}
}

func TestHandleIgnoresDuplicateEvents(t *testing.T) {
	ctx := context.Background()
	f := newCompletionFixture(t, model.DiseaseGroup{ID: 87, AutomaticModelRunsEnabled: true}, batchedRun("run-1"))

	require.NoError(t, f.handler.Handle(ctx, model.CompletionEvent{RunName: "run-1", Status: model.ModelRunCompleted, OutputText: "first"}))
	require.NoError(t, f.handler.Handle(ctx, model.CompletionEvent{RunName: "run-1", Status: model.ModelRunFailed, OutputText: "second"}))

	run, err := f.store.GetModelRunByName(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.ModelRunCompleted, run.Status)
	assert.Equal(t, "first", run.OutputText)
}

func TestHandleRejectsBadEvents(t *testing.T) {
	ctx := context.Background()
	f := newCompletionFixture(t, model.DiseaseGroup{ID: 87}, batchedRun("run-1"))

	err := f.handler.Handle(ctx, model.CompletionEvent{RunName: "run-1", Status: model.ModelRunInProgress})
	assert.ErrorIs(t, err, model.ErrInvalidRunStatus)

	err = f.handler.Handle(ctx, model.CompletionEvent{RunName: "missing", Status: model.ModelRunCompleted})
	assert.ErrorIs(t, err, model.ErrModelRunNotFound)
}

func TestCompletionQueueProcessesEveryEvent(t *testing.T) {
	ctx := context.Background()
	f := newCompletionFixture(t, model.DiseaseGroup{ID: 87, AutomaticModelRunsEnabled: true}, batchedRun("run-0"))
	for i := 1; i < 5; i++ {
		_, err := f.store.CreateModelRun(ctx, batchedRun(fmt.Sprintf("run-%d", i)))
		require.NoError(t, err)
	}
	queue := NewCompletionQueue(f.handler, 2, testLog)
	queue.Start(ctx)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, queue.Submit(model.CompletionEvent{RunName: fmt.Sprintf("run-%d", i), Status: model.ModelRunCompleted}))
		}(i)
	}
	wg.Wait()
	queue.Stop()

	for _, run := range f.store.ModelRuns(87) {
		assert.Equal(t, model.ModelRunCompleted, run.Status, run.Name)
	}
	assert.ErrorIs(t, queue.Submit(model.CompletionEvent{RunName: "run-0", Status: model.ModelRunCompleted}), ErrQueueClosed)
}

func TestCompletionQueueSubmitAndWaitReturnsAfterHandling(t *testing.T) {
	ctx := context.Background()
	f := newCompletionFixture(t, model.DiseaseGroup{ID: 87, AutomaticModelRunsEnabled: true}, batchedRun("run-1"))
	queue := NewCompletionQueue(f.handler, 1, testLog)
	queue.Start(ctx)
	defer queue.Stop()

	require.NoError(t, queue.SubmitAndWait(ctx, model.CompletionEvent{RunName: "run-1", Status: model.ModelRunCompleted}))
	run, err := f.store.GetModelRunByName(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.ModelRunCompleted, run.Status)

	err = queue.SubmitAndWait(ctx, model.CompletionEvent{RunName: "missing", Status: model.ModelRunCompleted})
	assert.ErrorIs(t, err, model.ErrModelRunNotFound)
}

func TestCompletionQueueSubmitAndWaitAfterStop(t *testing.T) {
	f := newCompletionFixture(t, model.DiseaseGroup{ID: 87}, batchedRun("run-1"))
	queue := NewCompletionQueue(f.handler, 1, testLog)
	queue.Start(context.Background())
	queue.Stop()

	err := queue.SubmitAndWait(context.Background(), model.CompletionEvent{RunName: "run-1", Status: model.ModelRunCompleted})

	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestGroupLocksSerialisePerGroup(t *testing.T) {
	locks := NewGroupLocks()
	unlock := locks.Lock(87)

	acquired := make(chan struct{})
	go func() {
		defer locks.Lock(87)()
		close(acquired)
	}()
	// Another group is not blocked.
	locks.Lock(64)()

	select {
	case <-acquired:
		t.Fatal("second lock on the same group acquired while held")
	case <-time.After(20 * time.Millisecond):
	}
	unlock()
	<-acquired
}
