// Package portainer adapts the docker backend to run against a Docker
// Engine fronted by a Portainer instance: same Docker API, reached through
// Portainer's endpoint proxy and authenticated with an API key header
// instead of a raw socket connection.
package portainer

import (
	"fmt"
	"net/http"

	dockerclient "github.com/docker/docker/client"

	"github.com/filigran/xtm-composer/pkg/errs"
	"github.com/filigran/xtm-composer/pkg/orchestrator"
	"github.com/filigran/xtm-composer/pkg/orchestrator/docker"
)

// Config configures the Portainer-fronted backend.
type Config struct {
	URL        string
	APIKey     string
	EndpointID int
	ManagerID  string
}

// New builds an orchestrator.Orchestrator that talks to a Docker Engine
// through Portainer's /api/endpoints/{id}/docker proxy.
func New(cfg Config) (orchestrator.Orchestrator, error) {
	proxyPath := fmt.Sprintf("/api/endpoints/%d/docker", cfg.EndpointID)

	cli, err := dockerclient.NewClientWithOpts(
		dockerclient.WithHost(cfg.URL),
		dockerclient.WithHTTPClient(&http.Client{
			Transport: &proxyTransport{pathPrefix: proxyPath, apiKey: cfg.APIKey},
		}),
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, &errs.OrchestratorError{Op: "connect", Transient: false, Message: err.Error()}
	}

	return docker.NewFromClient(cli, cfg.ManagerID), nil
}

// proxyTransport rewrites every Docker API request onto Portainer's
// endpoint proxy path and injects the X-API-Key header, in place of
// Docker's usual unauthenticated local-socket trust model.
type proxyTransport struct {
	pathPrefix string
	apiKey     string
}

func (t *proxyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.URL.Path = t.pathPrefix + req.URL.Path
	req.Header.Set("X-API-Key", t.apiKey)
	return http.DefaultTransport.RoundTrip(req)
}
