package mlclient

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"surveillance_service/internal/domain/model"
	"surveillance_service/internal/infrastructure/webclient"
)

// noPrediction is the predictor's reply when the occurrence should be reviewed by hand.
const noPrediction = "No prediction"

type HTTPMLClient struct {
	rootURL string
	client  *webclient.Client
}

func NewHTTPMLClient(rootURL string, timeout time.Duration) *HTTPMLClient {
	return &HTTPMLClient{
		rootURL: rootURL,
		client:  webclient.New("machine learning", timeout),
	}
}

func NewHTTPMLClientWith(rootURL string, client *webclient.Client) *HTTPMLClient {
	return &HTTPMLClient{rootURL: rootURL, client: client}
}

// DataPoint is one occurrence as the predictor sees it.
type DataPoint struct {
	Latitude                 float64  `json:"latitude"`
	Longitude                float64  `json:"longitude"`
	EnvironmentalSuitability *float64 `json:"environmental_suitability"`
	DistanceFromExtent       *float64 `json:"distance_from_extent"`
	ExpertWeighting          *float64 `json:"expert_weighting,omitempty"`
}

type DataSet struct {
	Points []DataPoint `json:"points"`
}

func toDataPoint(o model.Occurrence) DataPoint {
	p := DataPoint{
		EnvironmentalSuitability: o.EnvironmentalSuitability,
		DistanceFromExtent:       o.DistanceFromExtent,
		ExpertWeighting:          o.ExpertWeighting,
	}
	if o.Location != nil {
		p.Latitude = o.Location.Latitude
		p.Longitude = o.Location.Longitude
	}
	return p
}

// Train posts the training set of a disease group to {root}/{diseaseGroupId}/train.
func (c *HTTPMLClient) Train(ctx context.Context, diseaseGroupID int, occurrences []model.Occurrence) error {
	for _, o := range occurrences {
		if o.DiseaseGroupID != diseaseGroupID {
			return fmt.Errorf("occurrence %d belongs to disease group %d, not %d: %w",
				o.ID, o.DiseaseGroupID, diseaseGroupID, model.ErrDataIntegrity)
		}
	}
	set := DataSet{Points: make([]DataPoint, len(occurrences))}
	for i, o := range occurrences {
		set.Points[i] = toDataPoint(o)
	}
	_, err := c.client.PostJSON(ctx, c.url(diseaseGroupID, "train"), set)
	return err
}

// Predict asks for the machine weighting of one occurrence. The predictor answers with a bare number
// or with "No prediction", which maps to nil.
func (c *HTTPMLClient) Predict(ctx context.Context, occurrence model.Occurrence) (*float64, error) {
	point := toDataPoint(occurrence)
	point.ExpertWeighting = nil
	body, err := c.client.PostJSON(ctx, c.url(occurrence.DiseaseGroupID, "predict"), point)
	if err != nil {
		return nil, err
	}

	text := strings.TrimSpace(string(body))
	if text == noPrediction {
		return nil, nil
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, &model.ExternalServiceError{Service: "machine learning", Err: fmt.Errorf("malformed prediction %q: %w", text, err)}
	}
	return &v, nil
}

func (c *HTTPMLClient) url(diseaseGroupID int, action string) string {
	return webclient.JoinURL(c.rootURL, strconv.Itoa(diseaseGroupID), action)
}
