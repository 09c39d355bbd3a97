package modelrunner

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"surveillance_service/internal/domain/model"
	"surveillance_service/internal/infrastructure/webclient"
)

// Dispatcher starts model runs on the model wrapper over HTTP.
type Dispatcher struct {
	rootURL string
	client  *webclient.Client
}

func NewDispatcher(rootURL string, timeout time.Duration) *Dispatcher {
	return NewDispatcherWith(rootURL, webclient.New("model wrapper", timeout))
}

func NewDispatcherWith(rootURL string, client *webclient.Client) *Dispatcher {
	return &Dispatcher{rootURL: rootURL, client: client}
}

type runResponse struct {
	ModelRunName string `json:"model_run_name"`
	Server       string `json:"server,omitempty"`
	ErrorText    string `json:"error_text,omitempty"`
}

// Dispatch posts the run package to {root}/model/run. The wrapper must echo the run name back.
func (d *Dispatcher) Dispatch(ctx context.Context, pkg model.RunPackage) (model.RunHandle, error) {
	var resp runResponse
	if err := d.client.DecodeJSON(ctx, webclient.JoinURL(d.rootURL, "model", "run"), pkg, &resp); err != nil {
		return model.RunHandle{}, err
	}
	if resp.ErrorText != "" {
		return model.RunHandle{}, &model.ExternalServiceError{Service: d.client.Service(), Err: fmt.Errorf("run rejected: %s", resp.ErrorText)}
	}
	if resp.ModelRunName != pkg.RunName {
		return model.RunHandle{}, &model.ExternalServiceError{Service: d.client.Service(),
			Err: fmt.Errorf("started run %q, expected %q", resp.ModelRunName, pkg.RunName)}
	}

	server := resp.Server
	if server == "" {
		server = hostOf(d.rootURL)
	}
	return model.RunHandle{Name: resp.ModelRunName, Server: server}, nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}
