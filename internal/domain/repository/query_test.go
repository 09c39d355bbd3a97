package repository

import (
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"surveillance_service/internal/domain/model"
)

func TestOccurrenceWhereNumbersPlaceholders(t *testing.T) {
	from := time.Date(2014, 1, 1, 0, 0, 0, 0, time.UTC)
	b := occurrenceWhere(OccurrenceFilter{
		DiseaseGroupID:        87,
		Statuses:              []model.OccurrenceStatus{model.StatusReady, model.StatusAwaitingBatching},
		GoldStandard:          model.Bool(false),
		FinalWeightingMissing: true,
		OccurrenceDateFrom:    &from,
	})

	assert.Equal(t,
		" WHERE o.disease_group_id = $1 AND o.status = ANY($2) AND o.is_gold_standard = $3"+
			" AND o.final_weighting IS NULL AND o.occurrence_date >= $4",
		b.sql())
	assert.Equal(t, []interface{}{87, pq.Array([]string{"READY", "AWAITING_BATCHING"}), false, from}, b.args)
}

func TestEmptyFilterHasNoWhereClause(t *testing.T) {
	b := occurrenceWhere(OccurrenceFilter{})
	assert.Empty(t, b.sql())
	assert.Empty(t, b.args)

	r := reviewWhere(ReviewFilter{})
	assert.Empty(t, r.sql())
}

func TestReviewWhere(t *testing.T) {
	b := reviewWhere(ReviewFilter{DiseaseGroupID: model.Int(1), MinExpertWeighting: model.Float64(0.6)})
	assert.Equal(t, " WHERE o.disease_group_id = $1 AND e.weighting >= $2", b.sql())
	assert.Equal(t, []interface{}{1, 0.6}, b.args)
}
