package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"surveillance_service/internal/domain/model"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore is the PostGIS-backed Store and SpatialQuery.
type PostgresStore struct {
	db *sqlx.DB
	q  sqlx.ExtContext
	tx *sqlx.Tx
}

func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return &PostgresStore{db: db, q: db}, nil
}

func (s *PostgresStore) DB() *sqlx.DB { return s.db }

func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if s.tx != nil {
		return fn(ctx, s)
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(ctx, &PostgresStore{db: s.db, q: tx, tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const diseaseGroupColumns = `
	id, name, is_global, min_data_volume, min_distinct_countries, high_frequency_threshold,
	min_high_frequency_countries, occurs_in_africa, automatic_model_runs_enabled, use_machine_learning,
	max_env_suitability_without_ml, gold_standard_eligible, last_model_run_prep_date, min_new_occurrences_trigger`

type diseaseGroupRow struct {
	ID                        int        `db:"id"`
	Name                      string     `db:"name"`
	IsGlobal                  bool       `db:"is_global"`
	MinDataVolume             int        `db:"min_data_volume"`
	MinDistinctCountries      *int       `db:"min_distinct_countries"`
	HighFrequencyThreshold    *int       `db:"high_frequency_threshold"`
	MinHighFrequencyCountries *int       `db:"min_high_frequency_countries"`
	OccursInAfrica            *bool      `db:"occurs_in_africa"`
	AutomaticModelRuns        bool       `db:"automatic_model_runs_enabled"`
	UseMachineLearning        bool       `db:"use_machine_learning"`
	MaxEnvSuitabilityNoML     *float64   `db:"max_env_suitability_without_ml"`
	GoldStandardEligible      bool       `db:"gold_standard_eligible"`
	LastModelRunPrepDate      *time.Time `db:"last_model_run_prep_date"`
	MinNewOccurrencesTrigger  *int       `db:"min_new_occurrences_trigger"`
}

func (r diseaseGroupRow) toModel() model.DiseaseGroup {
	return model.DiseaseGroup{
		ID:                                   r.ID,
		Name:                                 r.Name,
		IsGlobal:                             r.IsGlobal,
		MinDataVolume:                        r.MinDataVolume,
		MinDistinctCountries:                 r.MinDistinctCountries,
		HighFrequencyThreshold:               r.HighFrequencyThreshold,
		MinHighFrequencyCountries:            r.MinHighFrequencyCountries,
		OccursInAfrica:                       r.OccursInAfrica,
		AutomaticModelRunsEnabled:            r.AutomaticModelRuns,
		UseMachineLearning:                   r.UseMachineLearning,
		MaxEnvironmentalSuitabilityWithoutML: r.MaxEnvSuitabilityNoML,
		GoldStandardEligible:                 r.GoldStandardEligible,
		LastModelRunPrepDate:                 r.LastModelRunPrepDate,
		MinNewOccurrencesTrigger:             r.MinNewOccurrencesTrigger,
	}
}

func (s *PostgresStore) GetDiseaseGroup(ctx context.Context, id int) (model.DiseaseGroup, error) {
	var row diseaseGroupRow
	err := sqlx.GetContext(ctx, s.q, &row, `SELECT `+diseaseGroupColumns+` FROM disease_group WHERE id = $1`, id)
	if err != nil {
		return model.DiseaseGroup{}, notFound(err, "disease group %d", id)
	}
	return row.toModel(), nil
}

func (s *PostgresStore) ListDiseaseGroups(ctx context.Context) ([]model.DiseaseGroup, error) {
	var rows []diseaseGroupRow
	if err := sqlx.SelectContext(ctx, s.q, &rows, `SELECT `+diseaseGroupColumns+` FROM disease_group ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list disease groups: %w", err)
	}
	groups := make([]model.DiseaseGroup, len(rows))
	for i, r := range rows {
		groups[i] = r.toModel()
	}
	return groups, nil
}

func (s *PostgresStore) SaveDiseaseGroup(ctx context.Context, g model.DiseaseGroup) error {
	const query = `
		UPDATE disease_group SET
			last_model_run_prep_date = $2,
			automatic_model_runs_enabled = $3
		WHERE id = $1`
	res, err := s.q.ExecContext(ctx, query, g.ID, g.LastModelRunPrepDate, g.AutomaticModelRunsEnabled)
	if err != nil {
		return fmt.Errorf("failed to save disease group %d: %w", g.ID, err)
	}
	return requireRow(res, "disease group %d", g.ID)
}

const occurrenceSelect = `
	SELECT
		o.id, o.disease_group_id, o.alert_id, o.occurrence_date, o.created_date, o.status, o.is_gold_standard,
		o.environmental_suitability, o.distance_from_extent, o.expert_weighting, o.machine_weighting,
		o.validation_weighting, o.final_weighting, o.final_weighting_excl_spatial, o.bias_disease_group_id,
		l.id AS location_id, l.name AS location_name, ST_Y(l.geom) AS latitude, ST_X(l.geom) AS longitude,
		l.precision, l.admin_unit_global_gaul_code, l.admin_unit_tropical_gaul_code, l.country_gaul_code,
		l.has_passed_qc, l.resolution_weighting
	FROM disease_occurrence o
	LEFT JOIN location l ON l.id = o.location_id`

type occurrenceRow struct {
	ID                        int       `db:"id"`
	DiseaseGroupID            int       `db:"disease_group_id"`
	AlertID                   *int      `db:"alert_id"`
	OccurrenceDate            time.Time `db:"occurrence_date"`
	CreatedDate               time.Time `db:"created_date"`
	Status                    string    `db:"status"`
	IsGoldStandard            bool      `db:"is_gold_standard"`
	EnvironmentalSuitability  *float64  `db:"environmental_suitability"`
	DistanceFromExtent        *float64  `db:"distance_from_extent"`
	ExpertWeighting           *float64  `db:"expert_weighting"`
	MachineWeighting          *float64  `db:"machine_weighting"`
	ValidationWeighting       *float64  `db:"validation_weighting"`
	FinalWeighting            *float64  `db:"final_weighting"`
	FinalWeightingExclSpatial *float64  `db:"final_weighting_excl_spatial"`
	BiasDiseaseGroupID        *int      `db:"bias_disease_group_id"`
	LocationID                *int      `db:"location_id"`
	LocationName              *string   `db:"location_name"`
	Latitude                  *float64  `db:"latitude"`
	Longitude                 *float64  `db:"longitude"`
	Precision                 *string   `db:"precision"`
	AdminUnitGlobalGaulCode   *int      `db:"admin_unit_global_gaul_code"`
	AdminUnitTropicalGaulCode *int      `db:"admin_unit_tropical_gaul_code"`
	CountryGaulCode           *int      `db:"country_gaul_code"`
	HasPassedQC               *bool     `db:"has_passed_qc"`
	ResolutionWeighting       *float64  `db:"resolution_weighting"`
}

func (r occurrenceRow) toModel() model.Occurrence {
	o := model.Occurrence{
		ID:                             r.ID,
		DiseaseGroupID:                 r.DiseaseGroupID,
		AlertID:                        r.AlertID,
		OccurrenceDate:                 r.OccurrenceDate,
		CreatedDate:                    r.CreatedDate,
		Status:                         model.OccurrenceStatus(r.Status),
		IsGoldStandard:                 r.IsGoldStandard,
		EnvironmentalSuitability:       r.EnvironmentalSuitability,
		DistanceFromExtent:             r.DistanceFromExtent,
		ExpertWeighting:                r.ExpertWeighting,
		MachineWeighting:               r.MachineWeighting,
		ValidationWeighting:            r.ValidationWeighting,
		FinalWeighting:                 r.FinalWeighting,
		FinalWeightingExcludingSpatial: r.FinalWeightingExclSpatial,
		BiasDiseaseGroupID:             r.BiasDiseaseGroupID,
	}
	if r.LocationID != nil {
		loc := &model.Location{
			ID:                        *r.LocationID,
			AdminUnitGlobalGaulCode:   r.AdminUnitGlobalGaulCode,
			AdminUnitTropicalGaulCode: r.AdminUnitTropicalGaulCode,
			CountryGaulCode:           r.CountryGaulCode,
			ResolutionWeighting:       r.ResolutionWeighting,
		}
		if r.LocationName != nil {
			loc.Name = *r.LocationName
		}
		if r.Latitude != nil && r.Longitude != nil {
			loc.Latitude, loc.Longitude = *r.Latitude, *r.Longitude
		}
		if r.Precision != nil {
			loc.Precision = model.LocationPrecision(*r.Precision)
		}
		if r.HasPassedQC != nil {
			loc.HasPassedQC = *r.HasPassedQC
		}
		o.Location = loc
	}
	return o
}

func (s *PostgresStore) GetOccurrence(ctx context.Context, id int) (model.Occurrence, error) {
	var row occurrenceRow
	if err := sqlx.GetContext(ctx, s.q, &row, occurrenceSelect+` WHERE o.id = $1`, id); err != nil {
		return model.Occurrence{}, notFound(err, "occurrence %d", id)
	}
	return row.toModel(), nil
}

func (s *PostgresStore) ListOccurrences(ctx context.Context, filter OccurrenceFilter) ([]model.Occurrence, error) {
	where := occurrenceWhere(filter)
	var rows []occurrenceRow
	if err := sqlx.SelectContext(ctx, s.q, &rows, occurrenceSelect+where.sql()+` ORDER BY o.id`, where.args...); err != nil {
		return nil, fmt.Errorf("failed to list occurrences: %w", err)
	}
	out := make([]model.Occurrence, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

func (s *PostgresStore) CountOccurrences(ctx context.Context, filter OccurrenceFilter) (int, error) {
	where := occurrenceWhere(filter)
	var n int
	if err := sqlx.GetContext(ctx, s.q, &n, `SELECT count(*) FROM disease_occurrence o`+where.sql(), where.args...); err != nil {
		return 0, fmt.Errorf("failed to count occurrences: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) SaveOccurrences(ctx context.Context, occurrences ...model.Occurrence) error {
	const query = `
		UPDATE disease_occurrence SET
			status = $2,
			environmental_suitability = $3,
			distance_from_extent = $4,
			expert_weighting = $5,
			machine_weighting = $6,
			validation_weighting = $7,
			final_weighting = $8,
			final_weighting_excl_spatial = $9
		WHERE id = $1`
	for _, o := range occurrences {
		res, err := s.q.ExecContext(ctx, query,
			o.ID, string(o.Status),
			o.EnvironmentalSuitability, o.DistanceFromExtent,
			o.ExpertWeighting, o.MachineWeighting, o.ValidationWeighting,
			o.FinalWeighting, o.FinalWeightingExcludingSpatial,
		)
		if err != nil {
			return fmt.Errorf("failed to save occurrence %d: %w", o.ID, err)
		}
		if err := requireRow(res, "occurrence %d", o.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) ListExperts(ctx context.Context) ([]model.Expert, error) {
	var experts []model.Expert
	if err := sqlx.SelectContext(ctx, s.q, &experts, `SELECT id, name, weighting FROM expert ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list experts: %w", err)
	}
	return experts, nil
}

func (s *PostgresStore) SaveExpertWeightings(ctx context.Context, weightings map[int]float64) error {
	for id, w := range weightings {
		if _, err := s.q.ExecContext(ctx, `UPDATE expert SET weighting = $2 WHERE id = $1`, id, w); err != nil {
			return fmt.Errorf("failed to save weighting of expert %d: %w", id, err)
		}
	}
	return nil
}

func (s *PostgresStore) ListReviews(ctx context.Context, filter ReviewFilter) ([]model.Review, error) {
	where := reviewWhere(filter)
	query := `
		SELECT
			r.expert_id, r.disease_occurrence_id AS occurrence_id, o.disease_group_id,
			r.response, r.created_date, e.weighting AS expert_weighting
		FROM disease_occurrence_review r
		JOIN disease_occurrence o ON o.id = r.disease_occurrence_id
		JOIN expert e ON e.id = r.expert_id` + where.sql() + `
		ORDER BY r.disease_occurrence_id, r.expert_id`
	var rows []struct {
		ExpertID        int       `db:"expert_id"`
		OccurrenceID    int       `db:"occurrence_id"`
		DiseaseGroupID  int       `db:"disease_group_id"`
		Response        string    `db:"response"`
		CreatedDate     time.Time `db:"created_date"`
		ExpertWeighting float64   `db:"expert_weighting"`
	}
	if err := sqlx.SelectContext(ctx, s.q, &rows, query, where.args...); err != nil {
		return nil, fmt.Errorf("failed to list reviews: %w", err)
	}
	reviews := make([]model.Review, len(rows))
	for i, r := range rows {
		reviews[i] = model.Review{
			ExpertID:        r.ExpertID,
			OccurrenceID:    r.OccurrenceID,
			DiseaseGroupID:  r.DiseaseGroupID,
			Response:        model.ReviewResponse(r.Response),
			CreatedDate:     r.CreatedDate,
			ExpertWeighting: r.ExpertWeighting,
		}
	}
	return reviews, nil
}

const modelRunColumns = `
	id, name, disease_group_id, request_server, status, request_date, response_date, output_text, error_text,
	batch_start_date, batch_end_date, batching_completed_date, batch_occurrence_count,
	occurrence_data_range_start, occurrence_data_range_end`

type modelRunRow struct {
	ID                       int        `db:"id"`
	Name                     string     `db:"name"`
	DiseaseGroupID           int        `db:"disease_group_id"`
	RequestServer            string     `db:"request_server"`
	Status                   string     `db:"status"`
	RequestDate              time.Time  `db:"request_date"`
	ResponseDate             *time.Time `db:"response_date"`
	OutputText               string     `db:"output_text"`
	ErrorText                string     `db:"error_text"`
	BatchStartDate           *time.Time `db:"batch_start_date"`
	BatchEndDate             *time.Time `db:"batch_end_date"`
	BatchingCompletedDate    *time.Time `db:"batching_completed_date"`
	BatchOccurrenceCount     *int       `db:"batch_occurrence_count"`
	OccurrenceDataRangeStart *time.Time `db:"occurrence_data_range_start"`
	OccurrenceDataRangeEnd   *time.Time `db:"occurrence_data_range_end"`
}

func (r modelRunRow) toModel() model.ModelRun {
	return model.ModelRun{
		ID:                       r.ID,
		Name:                     r.Name,
		DiseaseGroupID:           r.DiseaseGroupID,
		RequestServer:            r.RequestServer,
		Status:                   model.ModelRunStatus(r.Status),
		RequestDate:              r.RequestDate,
		ResponseDate:             r.ResponseDate,
		OutputText:               r.OutputText,
		ErrorText:                r.ErrorText,
		BatchStartDate:           r.BatchStartDate,
		BatchEndDate:             r.BatchEndDate,
		BatchingCompletedDate:    r.BatchingCompletedDate,
		BatchOccurrenceCount:     r.BatchOccurrenceCount,
		OccurrenceDataRangeStart: r.OccurrenceDataRangeStart,
		OccurrenceDataRangeEnd:   r.OccurrenceDataRangeEnd,
	}
}

func (s *PostgresStore) CreateModelRun(ctx context.Context, run model.ModelRun) (model.ModelRun, error) {
	const query = `
		INSERT INTO model_run (
			name, disease_group_id, request_server, status, request_date,
			batch_start_date, batch_end_date, occurrence_data_range_start, occurrence_data_range_end
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`
	err := sqlx.GetContext(ctx, s.q, &run.ID, query,
		run.Name, run.DiseaseGroupID, run.RequestServer, string(run.Status), run.RequestDate,
		run.BatchStartDate, run.BatchEndDate, run.OccurrenceDataRangeStart, run.OccurrenceDataRangeEnd,
	)
	if err != nil {
		return model.ModelRun{}, fmt.Errorf("failed to create model run %s: %w", run.Name, err)
	}
	return run, nil
}

func (s *PostgresStore) SaveModelRun(ctx context.Context, run model.ModelRun) error {
	const query = `
		UPDATE model_run SET
			request_server = $2,
			status = $3,
			response_date = $4,
			output_text = $5,
			error_text = $6,
			batching_completed_date = $7,
			batch_occurrence_count = $8
		WHERE name = $1`
	res, err := s.q.ExecContext(ctx, query,
		run.Name, run.RequestServer, string(run.Status), run.ResponseDate,
		run.OutputText, run.ErrorText, run.BatchingCompletedDate, run.BatchOccurrenceCount,
	)
	if err != nil {
		return fmt.Errorf("failed to save model run %s: %w", run.Name, err)
	}
	return requireRow(res, "model run %s", run.Name)
}

func (s *PostgresStore) GetModelRunByName(ctx context.Context, name string) (model.ModelRun, error) {
	var row modelRunRow
	err := sqlx.GetContext(ctx, s.q, &row, `SELECT `+modelRunColumns+` FROM model_run WHERE name = $1`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ModelRun{}, fmt.Errorf("%s: %w", name, model.ErrModelRunNotFound)
	}
	if err != nil {
		return model.ModelRun{}, fmt.Errorf("failed to get model run %s: %w", name, err)
	}
	return row.toModel(), nil
}

func (s *PostgresStore) LatestCompletedModelRun(ctx context.Context, diseaseGroupID int) (*model.ModelRun, error) {
	var row modelRunRow
	err := sqlx.GetContext(ctx, s.q, &row, `SELECT `+modelRunColumns+` FROM model_run
		WHERE disease_group_id = $1 AND status = $2
		ORDER BY response_date DESC NULLS LAST, id DESC
		LIMIT 1`, diseaseGroupID, string(model.ModelRunCompleted))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest completed model run: %w", err)
	}
	run := row.toModel()
	return &run, nil
}

func (s *PostgresStore) HasBatchingEverCompleted(ctx context.Context, diseaseGroupID int) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, s.q, &exists, `SELECT EXISTS (
		SELECT 1 FROM model_run WHERE disease_group_id = $1 AND batching_completed_date IS NOT NULL)`, diseaseGroupID)
	if err != nil {
		return false, fmt.Errorf("failed to check batching history: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) ExtentClasses(ctx context.Context, diseaseGroupID int) ([]model.AdminUnitExtentClass, error) {
	var rows []struct {
		GaulCode        int    `db:"gaul_code"`
		Class           string `db:"disease_extent_class"`
		OccurrenceCount int    `db:"occurrence_count"`
	}
	err := sqlx.SelectContext(ctx, s.q, &rows, `
		SELECT e.gaul_code, e.disease_extent_class, e.occurrence_count
		FROM admin_unit_disease_extent_class e
		JOIN disease_group g ON g.id = e.disease_group_id AND g.is_global = e.is_global
		WHERE e.disease_group_id = $1
		ORDER BY e.gaul_code`, diseaseGroupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list extent classes: %w", err)
	}
	out := make([]model.AdminUnitExtentClass, len(rows))
	for i, r := range rows {
		out[i] = model.AdminUnitExtentClass{GaulCode: r.GaulCode, Class: model.ExtentClass(r.Class), OccurrenceCount: r.OccurrenceCount}
	}
	return out, nil
}

func (s *PostgresStore) CountriesOfInterest(ctx context.Context) ([]int, error) {
	var codes []int
	if err := sqlx.SelectContext(ctx, s.q, &codes, `SELECT gaul_code FROM country WHERE for_min_data_spread ORDER BY gaul_code`); err != nil {
		return nil, fmt.Errorf("failed to list countries of interest: %w", err)
	}
	return codes, nil
}

func (s *PostgresStore) CountryGaulCodeByISO(ctx context.Context, isoCode string) (*int, error) {
	var code int
	err := sqlx.GetContext(ctx, s.q, &code, `SELECT gaul_code FROM country WHERE upper(iso_code) = upper($1) LIMIT 1`, isoCode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up country %s: %w", isoCode, err)
	}
	return &code, nil
}

// ExtentClassesForLocation finds the admin units the location falls in and returns their extent classes.
// Precise points are matched with ST_Contains; imprecise locations use their stored admin unit or country.
func (s *PostgresStore) ExtentClassesForLocation(ctx context.Context, group model.DiseaseGroup, loc model.Location) ([]model.ExtentClass, error) {
	var b whereBuilder
	b.add("e.disease_group_id = ?", group.ID)
	b.add("e.is_global = ?", group.IsGlobal)
	switch {
	case loc.Precision == model.PrecisionPrecise:
		b.add("ST_Contains(a.geom, ST_SetSRID(ST_MakePoint(?, ?), 4326))", loc.Longitude, loc.Latitude)
	case loc.AdminUnitGaulCode(group.IsGlobal) != nil:
		b.add("a.gaul_code = ?", *loc.AdminUnitGaulCode(group.IsGlobal))
	case loc.CountryGaulCode != nil:
		b.add("a.country_gaul_code = ?", *loc.CountryGaulCode)
	default:
		return nil, nil
	}
	var classes []string
	err := sqlx.SelectContext(ctx, s.q, &classes, `
		SELECT DISTINCT e.disease_extent_class
		FROM admin_unit_disease_extent_class e
		JOIN admin_unit a ON a.gaul_code = e.gaul_code AND a.is_global = e.is_global`+b.sql(), b.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to classify location %d: %w", loc.ID, err)
	}
	out := make([]model.ExtentClass, len(classes))
	for i, c := range classes {
		out[i] = model.ExtentClass(c)
	}
	return out, nil
}

// DistanceOutsideExtent is the distance in km from the location to the nearest inside admin unit.
func (s *PostgresStore) DistanceOutsideExtent(ctx context.Context, group model.DiseaseGroup, loc model.Location) (*float64, error) {
	return s.distanceToClasses(ctx, group, loc, true)
}

// DistanceInsideExtent is the distance in km from the location to the nearest outside admin unit.
func (s *PostgresStore) DistanceInsideExtent(ctx context.Context, group model.DiseaseGroup, loc model.Location) (*float64, error) {
	return s.distanceToClasses(ctx, group, loc, false)
}

func (s *PostgresStore) distanceToClasses(ctx context.Context, group model.DiseaseGroup, loc model.Location, toInside bool) (*float64, error) {
	membership := "IN"
	if !toInside {
		membership = "NOT IN"
	}
	query := `
		SELECT MIN(ST_Distance(l.geom::geography, a.geom::geography)) / 1000
		FROM location l, admin_unit_disease_extent_class e
		JOIN admin_unit a ON a.gaul_code = e.gaul_code AND a.is_global = e.is_global
		WHERE l.id = $1 AND e.disease_group_id = $2 AND e.is_global = $3
		AND e.disease_extent_class ` + membership + ` ('PRESENCE', 'POSSIBLE_PRESENCE')`
	var d *float64
	if err := sqlx.GetContext(ctx, s.q, &d, query, loc.ID, group.ID, group.IsGlobal); err != nil {
		return nil, fmt.Errorf("failed to compute distance from extent for location %d: %w", loc.ID, err)
	}
	return d, nil
}

func notFound(err error, format string, args ...interface{}) error {
	what := fmt.Sprintf(format, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, model.ErrNotFound)
	}
	return fmt.Errorf("failed to get %s: %w", what, err)
}

func requireRow(res sql.Result, format string, args ...interface{}) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), model.ErrNotFound)
	}
	return nil
}
