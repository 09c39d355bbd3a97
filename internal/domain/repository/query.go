package repository

import (
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// whereBuilder collects parameterized conditions and numbers their placeholders.
type whereBuilder struct {
	conds []string
	args  []interface{}
}

func (b *whereBuilder) add(cond string, args ...interface{}) {
	for _, arg := range args {
		b.args = append(b.args, arg)
		cond = strings.Replace(cond, "?", fmt.Sprintf("$%d", len(b.args)), 1)
	}
	b.conds = append(b.conds, cond)
}

func (b *whereBuilder) sql() string {
	if len(b.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.conds, " AND ")
}

func occurrenceWhere(f OccurrenceFilter) whereBuilder {
	var b whereBuilder
	if f.DiseaseGroupID != 0 {
		b.add("o.disease_group_id = ?", f.DiseaseGroupID)
	}
	if len(f.IDs) > 0 {
		b.add("o.id = ANY(?)", int64Array(f.IDs))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		b.add("o.status = ANY(?)", pq.Array(statuses))
	}
	if f.GoldStandard != nil {
		b.add("o.is_gold_standard = ?", *f.GoldStandard)
	}
	if f.FinalWeightingMissing {
		b.add("o.final_weighting IS NULL")
	}
	if f.FinalWeightingAbove != nil {
		b.add("o.final_weighting > ?", *f.FinalWeightingAbove)
	}
	if f.ExcludeBias {
		b.add("o.bias_disease_group_id IS NULL")
	}
	if f.OccurrenceDateFrom != nil {
		b.add("o.occurrence_date >= ?", *f.OccurrenceDateFrom)
	}
	if f.OccurrenceDateTo != nil {
		b.add("o.occurrence_date <= ?", *f.OccurrenceDateTo)
	}
	if f.OccurrenceDateAfter != nil {
		b.add("o.occurrence_date > ?", *f.OccurrenceDateAfter)
	}
	if f.CreatedAfter != nil {
		b.add("o.created_date > ?", *f.CreatedAfter)
	}
	if f.RequireTrainingFeatures {
		b.add("o.environmental_suitability IS NOT NULL")
		b.add("o.distance_from_extent IS NOT NULL")
		b.add("o.expert_weighting IS NOT NULL")
	}
	return b
}

func reviewWhere(f ReviewFilter) whereBuilder {
	var b whereBuilder
	if f.DiseaseGroupID != nil {
		b.add("o.disease_group_id = ?", *f.DiseaseGroupID)
	}
	if len(f.OccurrenceIDs) > 0 {
		b.add("r.disease_occurrence_id = ANY(?)", int64Array(f.OccurrenceIDs))
	}
	if f.SubmittedAfter != nil {
		b.add("r.created_date > ?", *f.SubmittedAfter)
	}
	if f.MinExpertWeighting != nil {
		b.add("e.weighting >= ?", *f.MinExpertWeighting)
	}
	return b
}

func int64Array(ids []int) pq.Int64Array {
	out := make(pq.Int64Array, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}
