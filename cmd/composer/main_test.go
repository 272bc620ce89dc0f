package main

import (
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/filigran/xtm-composer/pkg/config"
)

func TestExitFromErrorUsesExitErrorCode(t *testing.T) {
	err := &exitError{code: exitOrchestratorUnreachable, err: errors.New("boom")}
	assert.Equal(t, exitOrchestratorUnreachable, exitFromError(err))
}

func TestExitFromErrorDefaultsToConfigError(t *testing.T) {
	assert.Equal(t, exitConfigError, exitFromError(errors.New("plain")))
}

func TestRegistryURLPicksDockerRegistry(t *testing.T) {
	cfg := &config.Config{}
	cfg.OpenCTI.Daemon.Type = config.DaemonDocker
	cfg.OpenCTI.Daemon.Docker.Registry.URL = "localhost:5000"

	assert.Equal(t, "localhost:5000", registryURL(cfg))
}

func TestRegistryURLEmptyForKubernetes(t *testing.T) {
	cfg := &config.Config{}
	cfg.OpenCTI.Daemon.Type = config.DaemonKubernetes

	assert.Empty(t, registryURL(cfg))
}

func TestMetricsMuxServesHealthz(t *testing.T) {
	srv := httptest.NewServer(metricsMux())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/healthz")
	assert.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 200, resp.StatusCode)
}
