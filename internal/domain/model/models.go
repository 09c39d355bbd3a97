package model

import "time"

const (
	// GoldStandardFinalWeighting is fixed for manually curated occurrences.
	GoldStandardFinalWeighting = 1.0
	// ExpertWeightingThreshold is the minimum expert weighting whose reviews count toward an occurrence.
	ExpertWeightingThreshold = 0.6
	// LegacyMachineWeighting is assigned by the batch validation path when the ML predictor fails.
	LegacyMachineWeighting = 0.7
	// DefaultExpertWeighting is given to experts who have not been weighted yet.
	DefaultExpertWeighting = 1.0
)

type OccurrenceStatus string

const (
	StatusReady             OccurrenceStatus = "READY"
	StatusInReview          OccurrenceStatus = "IN_REVIEW"
	StatusAwaitingBatching  OccurrenceStatus = "AWAITING_BATCHING"
	StatusDiscardedFailedQC OccurrenceStatus = "DISCARDED_FAILED_QC"
	StatusBias              OccurrenceStatus = "BIAS"
)

type LocationPrecision string

const (
	PrecisionCountry LocationPrecision = "COUNTRY"
	PrecisionAdmin1  LocationPrecision = "ADMIN1"
	PrecisionAdmin2  LocationPrecision = "ADMIN2"
	PrecisionPrecise LocationPrecision = "PRECISE"
)

type Location struct {
	ID                        int               `json:"id"`
	Name                      string            `json:"name"`
	Latitude                  float64           `json:"latitude"`
	Longitude                 float64           `json:"longitude"`
	Precision                 LocationPrecision `json:"precision"`
	AdminUnitGlobalGaulCode   *int              `json:"admin_unit_global_gaul_code,omitempty"`
	AdminUnitTropicalGaulCode *int              `json:"admin_unit_tropical_gaul_code,omitempty"`
	CountryGaulCode           *int              `json:"country_gaul_code,omitempty"`
	HasPassedQC               bool              `json:"has_passed_qc"`
	ResolutionWeighting       *float64          `json:"resolution_weighting,omitempty"`
}

// AdminUnitGaulCode picks the global or tropical admin unit the location falls in.
func (l Location) AdminUnitGaulCode(global bool) *int {
	if global {
		return l.AdminUnitGlobalGaulCode
	}
	return l.AdminUnitTropicalGaulCode
}

type Occurrence struct {
	ID                             int              `json:"id"`
	DiseaseGroupID                 int              `json:"disease_group_id"`
	Location                       *Location        `json:"location,omitempty"`
	AlertID                        *int             `json:"alert_id,omitempty"`
	OccurrenceDate                 time.Time        `json:"occurrence_date"`
	CreatedDate                    time.Time        `json:"created_date"`
	Status                         OccurrenceStatus `json:"status"`
	IsGoldStandard                 bool             `json:"is_gold_standard"`
	EnvironmentalSuitability       *float64         `json:"environmental_suitability,omitempty"`
	DistanceFromExtent             *float64         `json:"distance_from_extent,omitempty"`
	ExpertWeighting                *float64         `json:"expert_weighting,omitempty"`
	MachineWeighting               *float64         `json:"machine_weighting,omitempty"`
	ValidationWeighting            *float64         `json:"validation_weighting,omitempty"`
	FinalWeighting                 *float64         `json:"final_weighting,omitempty"`
	FinalWeightingExcludingSpatial *float64         `json:"final_weighting_excluding_spatial,omitempty"`
	BiasDiseaseGroupID             *int             `json:"bias_disease_group_id,omitempty"`
}

// CountryGaulCode returns the country of the occurrence's location, if known.
func (o Occurrence) CountryGaulCode() *int {
	if o.Location == nil {
		return nil
	}
	return o.Location.CountryGaulCode
}

type Expert struct {
	ID        int     `json:"id"`
	Name      string  `json:"name"`
	Weighting float64 `json:"weighting"`
}

type ReviewResponse string

const (
	ReviewYes    ReviewResponse = "YES"
	ReviewNo     ReviewResponse = "NO"
	ReviewUnsure ReviewResponse = "UNSURE"
)

// Value maps a response onto the numeric scale used by the weighting engines.
func (r ReviewResponse) Value() float64 {
	switch r {
	case ReviewYes:
		return 1.0
	case ReviewUnsure:
		return 0.5
	default:
		return 0.0
	}
}

type Review struct {
	ExpertID        int            `json:"expert_id"`
	OccurrenceID    int            `json:"occurrence_id"`
	DiseaseGroupID  int            `json:"disease_group_id"`
	Response        ReviewResponse `json:"response"`
	CreatedDate     time.Time      `json:"created_date"`
	ExpertWeighting float64        `json:"expert_weighting"`
}

type DiseaseGroup struct {
	ID                                   int        `json:"id"`
	Name                                 string     `json:"name"`
	IsGlobal                             bool       `json:"is_global"`
	MinDataVolume                        int        `json:"min_data_volume"`
	MinDistinctCountries                 *int       `json:"min_distinct_countries,omitempty"`
	HighFrequencyThreshold               *int       `json:"high_frequency_threshold,omitempty"`
	MinHighFrequencyCountries            *int       `json:"min_high_frequency_countries,omitempty"`
	OccursInAfrica                       *bool      `json:"occurs_in_africa,omitempty"`
	AutomaticModelRunsEnabled            bool       `json:"automatic_model_runs_enabled"`
	UseMachineLearning                   bool       `json:"use_machine_learning"`
	MaxEnvironmentalSuitabilityWithoutML *float64   `json:"max_environmental_suitability_without_ml,omitempty"`
	GoldStandardEligible                 bool       `json:"gold_standard_eligible"`
	LastModelRunPrepDate                 *time.Time `json:"last_model_run_prep_date,omitempty"`
	MinNewOccurrencesTrigger             *int       `json:"min_new_occurrences_trigger,omitempty"`
}

type ExtentClass string

const (
	ExtentPresence         ExtentClass = "PRESENCE"
	ExtentPossiblePresence ExtentClass = "POSSIBLE_PRESENCE"
	ExtentUncertain        ExtentClass = "UNCERTAIN"
	ExtentPossibleAbsence  ExtentClass = "POSSIBLE_ABSENCE"
	ExtentAbsence          ExtentClass = "ABSENCE"
)

// IsInside reports whether the class counts as inside the disease extent.
func (c ExtentClass) IsInside() bool {
	return c == ExtentPresence || c == ExtentPossiblePresence
}

type AdminUnitExtentClass struct {
	GaulCode        int         `json:"gaul_code"`
	Class           ExtentClass `json:"class"`
	OccurrenceCount int         `json:"occurrence_count"`
}

func Float64(v float64) *float64 { return &v }

func Int(v int) *int { return &v }

func Bool(v bool) *bool { return &v }
