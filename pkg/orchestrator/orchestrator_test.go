package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorkloadName(t *testing.T) {
	got := WorkloadName("11111111-2222-3333-4444-555555555555", "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee")
	assert.Equal(t, "xtm-11111111-aaaaaaaa", got)
}

func TestWorkloadNameShortIDs(t *testing.T) {
	assert.Equal(t, "xtm-mgr-conn", WorkloadName("mgr", "conn"))
}

func TestResolveImageRef(t *testing.T) {
	tests := []struct {
		name        string
		imageRef    string
		registryURL string
		want        string
	}{
		{"bare image, registry configured", "connector-misp:5.0.0", "localhost:5000", "localhost:5000/connector-misp:5.0.0"},
		{"org-qualified image, registry configured", "myorg/connector:1.0", "localhost:5000", "localhost:5000/myorg/connector:1.0"},
		{"already registry-qualified by dot", "docker.io/alpine:3.18", "localhost:5000", "docker.io/alpine:3.18"},
		{"already registry-qualified, any registry configured", "registry.com/app:v1", "anything:1234", "registry.com/app:v1"},
		{"no registry configured, bare image unchanged", "connector-misp:5.0.0", "", "connector-misp:5.0.0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveImageRef(tt.imageRef, tt.registryURL))
		})
	}
}

func TestLabels(t *testing.T) {
	labels := Labels("mgr-1", "conn-1", "hash-1")
	assert.Equal(t, "mgr-1", labels["filigran.io/manager_id"])
	assert.Equal(t, "conn-1", labels["filigran.io/connector_id"])
	assert.Equal(t, "hash-1", labels["filigran.io/contract_hash"])
}
