package model

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrModelRunNotFound  = fmt.Errorf("model run %w", ErrNotFound)
	ErrDataIntegrity     = errors.New("data integrity violation")
	ErrInvalidBatchRange = errors.New("batch start date must not be after batch end date")
	ErrUnknownTrigger    = errors.New("unknown model run trigger")
	ErrNoRasterCoverage  = errors.New("admin unit does not appear to cover any raster pixels")
	ErrNotGoldStandard   = errors.New("disease group is not eligible for gold standard model runs")
	ErrInvalidRunStatus  = errors.New("completion status must be COMPLETED or FAILED")
)

// ExternalServiceError wraps a failure of a collaborator outside the process.
type ExternalServiceError struct {
	Service    string
	StatusCode int
	Err        error
}

func (e *ExternalServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s returned status %d: %v", e.Service, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s request failed: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

func IsExternalServiceError(err error) bool {
	var ext *ExternalServiceError
	return errors.As(err, &ext)
}
