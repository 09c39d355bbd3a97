package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"

	"surveillance_service/internal/domain/model"
)

// TrainingDataRecorder keeps an audit copy of every training set sent to the ML predictor.
type TrainingDataRecorder interface {
	SaveTrainingData(ctx context.Context, diseaseGroupID int, modelRunName string, occurrences []model.Occurrence) error
}

type PostgresTrainingRecorder struct {
	db *sqlx.DB
}

func NewPostgresTrainingRecorder(db *sqlx.DB) *PostgresTrainingRecorder {
	return &PostgresTrainingRecorder{db: db}
}

func (r *PostgresTrainingRecorder) SaveTrainingData(
	ctx context.Context,
	diseaseGroupID int,
	modelRunName string,
	occurrences []model.Occurrence,
) error {
	const query = `
		INSERT INTO training_submission (
			disease_group_id, model_run_name, occurrence_ids, occurrences, recorded_at
		) VALUES (
			$1, $2, $3, $4, NOW()
		)`

	ids := make([]int, len(occurrences))
	for i, o := range occurrences {
		ids[i] = o.ID
	}

	occurrencesJSON, err := json.Marshal(occurrences)
	if err != nil {
		return fmt.Errorf("failed to marshal training occurrences: %w", err)
	}

	_, err = r.db.ExecContext(ctx, query, diseaseGroupID, modelRunName, int64Array(ids), occurrencesJSON)
	if err != nil {
		return fmt.Errorf("failed to record training data: %w", err)
	}
	return nil
}

type TrainingSubmission struct {
	DiseaseGroupID int
	ModelRunName   string
	OccurrenceIDs  []int
}

// MemoryTrainingRecorder is the in-process recorder used without Postgres.
type MemoryTrainingRecorder struct {
	mu          sync.Mutex
	submissions []TrainingSubmission
}

func (r *MemoryTrainingRecorder) SaveTrainingData(_ context.Context, diseaseGroupID int, modelRunName string, occurrences []model.Occurrence) error {
	ids := make([]int, len(occurrences))
	for i, o := range occurrences {
		ids[i] = o.ID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submissions = append(r.submissions, TrainingSubmission{DiseaseGroupID: diseaseGroupID, ModelRunName: modelRunName, OccurrenceIDs: ids})
	return nil
}

func (r *MemoryTrainingRecorder) Submissions() []TrainingSubmission {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TrainingSubmission(nil), r.submissions...)
}
