package modelrunner

import (
	"context"
	"strconv"
	"time"

	"surveillance_service/internal/domain/model"
	"surveillance_service/internal/infrastructure/webclient"
)

// ExtentGenerator asks the extent service to rebuild a disease group's admin unit classes.
type ExtentGenerator struct {
	rootURL string
	client  *webclient.Client
}

func NewExtentGenerator(rootURL string, timeout time.Duration) *ExtentGenerator {
	return NewExtentGeneratorWith(rootURL, webclient.New("disease extent generator", timeout))
}

func NewExtentGeneratorWith(rootURL string, client *webclient.Client) *ExtentGenerator {
	return &ExtentGenerator{rootURL: rootURL, client: client}
}

type extentRequest struct {
	DiseaseGroupID        int     `json:"disease_group_id"`
	IsGlobal              bool    `json:"is_global"`
	MinimumOccurrenceDate *string `json:"minimum_occurrence_date"`
	UseGoldStandardOnly   bool    `json:"use_gold_standard_only"`
}

// Regenerate blocks until the extent service has written the new classes.
func (g *ExtentGenerator) Regenerate(ctx context.Context, group model.DiseaseGroup, minimumOccurrenceDate *time.Time, useGoldStandardOnly bool) error {
	req := extentRequest{
		DiseaseGroupID:      group.ID,
		IsGlobal:            group.IsGlobal,
		UseGoldStandardOnly: useGoldStandardOnly,
	}
	if minimumOccurrenceDate != nil {
		d := minimumOccurrenceDate.Format(time.DateOnly)
		req.MinimumOccurrenceDate = &d
	}
	_, err := g.client.PostJSON(ctx, webclient.JoinURL(g.rootURL, strconv.Itoa(group.ID), "extent"), req)
	return err
}
