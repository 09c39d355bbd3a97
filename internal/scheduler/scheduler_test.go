package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"surveillance_service/internal/domain/model"
	"surveillance_service/internal/logger"
)

type mockRuns struct{ mock.Mock }

func (m *mockRuns) RequestModelRun(ctx context.Context, id int, trigger model.Trigger, batch *model.BatchRange) (*model.ModelRun, error) {
	args := m.Called(ctx, id, trigger, batch)
	run, _ := args.Get(0).(*model.ModelRun)
	return run, args.Error(1)
}

type mockExperts struct{ mock.Mock }

func (m *mockExperts) RefreshExpertWeightings(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type groupList []model.DiseaseGroup

func (g groupList) ListDiseaseGroups(context.Context) ([]model.DiseaseGroup, error) { return g, nil }

// dueSet marks the groups whose run is due; a missing entry is an error.
type dueSet map[int]bool

func (d dueSet) DueToRun(_ context.Context, group model.DiseaseGroup) (bool, error) {
	due, ok := d[group.ID]
	if !ok {
		return false, errors.New("count failed")
	}
	return due, nil
}

func TestRequestAutomaticModelRuns(t *testing.T) {
	runs := new(mockRuns)
	runs.On("RequestModelRun", mock.Anything, 1, model.TriggerAutomatic, (*model.BatchRange)(nil)).
		Return(&model.ModelRun{Name: "1_run"}, nil).Once()
	runs.On("RequestModelRun", mock.Anything, 4, model.TriggerAutomatic, (*model.BatchRange)(nil)).
		Return(nil, nil).Once()
	s, err := New(Config{}, Deps{
		Groups: groupList{
			{ID: 1, AutomaticModelRunsEnabled: true},
			{ID: 2, AutomaticModelRunsEnabled: true},
			{ID: 3},
			{ID: 4, AutomaticModelRunsEnabled: true},
		},
		Runs:       runs,
		Gatekeeper: dueSet{1: true, 2: false, 3: true, 4: true},
	}, logger.NewNop())
	require.NoError(t, err)

	require.NoError(t, s.RequestAutomaticModelRuns(context.Background()))
	runs.AssertExpectations(t)
}

func TestRequestAutomaticModelRunsContinuesAfterFailures(t *testing.T) {
	runs := new(mockRuns)
	boom := errors.New("extent generator down")
	runs.On("RequestModelRun", mock.Anything, 2, model.TriggerAutomatic, mock.Anything).Return(nil, boom).Once()
	runs.On("RequestModelRun", mock.Anything, 3, model.TriggerAutomatic, mock.Anything).Return(&model.ModelRun{Name: "3_run"}, nil).Once()
	s, err := New(Config{}, Deps{
		Groups: groupList{
			{ID: 1, AutomaticModelRunsEnabled: true},
			{ID: 2, AutomaticModelRunsEnabled: true},
			{ID: 3, AutomaticModelRunsEnabled: true},
		},
		Runs:       runs,
		Gatekeeper: dueSet{2: true, 3: true},
	}, logger.NewNop())
	require.NoError(t, err)

	err = s.RequestAutomaticModelRuns(context.Background())

	assert.ErrorContains(t, err, "count failed")
	runs.AssertExpectations(t)
}

func TestRefreshExpertWeightings(t *testing.T) {
	experts := new(mockExperts)
	experts.On("RefreshExpertWeightings", mock.Anything).Return(nil).Once()
	s, err := New(Config{}, Deps{Experts: experts}, logger.NewNop())
	require.NoError(t, err)

	require.NoError(t, s.RefreshExpertWeightings(context.Background()))
	experts.AssertExpectations(t)
}

func TestNewRegistersJobs(t *testing.T) {
	s, err := New(Config{ExpertWeightingSchedule: "0 0 2 * * *", AutomaticRunSchedule: "0 30 3 * * *"}, Deps{}, logger.NewNop())
	require.NoError(t, err)
	assert.Len(t, s.cron.Entries(), 2)

	s.Start()
	s.Stop()
}

func TestNewRejectsInvalidSchedule(t *testing.T) {
	_, err := New(Config{AutomaticRunSchedule: "every tuesday"}, Deps{}, logger.NewNop())

	assert.ErrorContains(t, err, "automatic_model_runs")
}
