package model

import "time"

type ModelRunStatus string

const (
	ModelRunInProgress ModelRunStatus = "IN_PROGRESS"
	ModelRunCompleted  ModelRunStatus = "COMPLETED"
	ModelRunFailed     ModelRunStatus = "FAILED"
)

// IsTerminal reports whether no further status transition is allowed.
func (s ModelRunStatus) IsTerminal() bool {
	return s == ModelRunCompleted || s == ModelRunFailed
}

type ModelRun struct {
	ID                       int            `json:"id"`
	Name                     string         `json:"name"`
	DiseaseGroupID           int            `json:"disease_group_id"`
	RequestServer            string         `json:"request_server"`
	Status                   ModelRunStatus `json:"status"`
	RequestDate              time.Time      `json:"request_date"`
	ResponseDate             *time.Time     `json:"response_date,omitempty"`
	OutputText               string         `json:"output_text,omitempty"`
	ErrorText                string         `json:"error_text,omitempty"`
	BatchStartDate           *time.Time     `json:"batch_start_date,omitempty"`
	BatchEndDate             *time.Time     `json:"batch_end_date,omitempty"`
	BatchingCompletedDate    *time.Time     `json:"batching_completed_date,omitempty"`
	BatchOccurrenceCount     *int           `json:"batch_occurrence_count,omitempty"`
	OccurrenceDataRangeStart *time.Time     `json:"occurrence_data_range_start,omitempty"`
	OccurrenceDataRangeEnd   *time.Time     `json:"occurrence_data_range_end,omitempty"`
}

type Trigger string

const (
	TriggerManual       Trigger = "MANUAL"
	TriggerAutomatic    Trigger = "AUTOMATIC"
	TriggerGoldStandard Trigger = "GOLD_STANDARD"
)

func ParseTrigger(s string) (Trigger, error) {
	switch t := Trigger(s); t {
	case TriggerManual, TriggerAutomatic, TriggerGoldStandard:
		return t, nil
	}
	return "", ErrUnknownTrigger
}

// BatchRange is the optional manual override of the post-run batching window.
type BatchRange struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// RunPackage is everything the model wrapper needs to start a run.
type RunPackage struct {
	RunName      string                 `json:"run_name"`
	DiseaseGroup DiseaseGroup           `json:"disease_group"`
	Occurrences  []Occurrence           `json:"occurrences"`
	Extent       []AdminUnitExtentClass `json:"extent"`
	Covariates   []string               `json:"covariates"`
}

type RunHandle struct {
	Name   string `json:"model_run_name"`
	Server string `json:"server"`
}

// CompletionEvent is delivered once per run by the model wrapper.
type CompletionEvent struct {
	RunName    string            `json:"model_run_name"`
	Status     ModelRunStatus    `json:"status"`
	OutputText string            `json:"output_text,omitempty"`
	ErrorText  string            `json:"error_text,omitempty"`
	Artifacts  map[string]string `json:"artifacts,omitempty"`
}
