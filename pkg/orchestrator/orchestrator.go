// Package orchestrator defines the capability set every backend (Kubernetes,
// Docker, Portainer) implements, plus the naming and image-resolution rules
// shared across all three, grounded the way the teacher expresses its
// runtime.ContainerdRuntime contract as a narrow Go interface in front of a
// concrete remote API client.
package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/filigran/xtm-composer/pkg/types"
)

// Orchestrator is the capability set the reconciler drives. Every backend
// MUST only return workloads carrying the agent's own manager_id label.
type Orchestrator interface {
	List(ctx context.Context) ([]types.Workload, error)
	Deploy(ctx context.Context, spec types.WorkloadSpec) (types.Workload, error)
	Remove(ctx context.Context, w types.Workload) error
	Start(ctx context.Context, w types.Workload) error
	Stop(ctx context.Context, w types.Workload) error
	LogsOf(ctx context.Context, w types.Workload, since time.Time) ([]string, error)
}

const namePrefix = "xtm-"

// WorkloadName computes the deterministic workload name for a connector:
// "xtm-" + first 8 chars of the manager id + "-" + first 8 chars of the
// connector id.
func WorkloadName(managerID, connectorID string) string {
	return namePrefix + first8(managerID) + "-" + first8(connectorID)
}

func first8(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// Labels returns the label set every workload the agent creates must carry.
func Labels(managerID, connectorID, contractHash string) map[string]string {
	return map[string]string{
		types.LabelManagerID:    managerID,
		types.LabelConnectorID:  connectorID,
		types.LabelContractHash: contractHash,
	}
}

// ResolveImageRef applies the configured registry to an image reference that
// carries no registry component of its own. A reference already qualified
// with a registry (a `.`-containing or `localhost` segment before the first
// `/`) passes through unchanged; a reference with no `/` at all, or whose
// first segment is a plain name such as an organization, gets the registry
// prepended. An empty registryURL leaves every reference unchanged.
func ResolveImageRef(imageRef, registryURL string) string {
	if registryURL == "" || hasRegistryComponent(imageRef) {
		return imageRef
	}
	return registryURL + "/" + imageRef
}

// hasRegistryComponent reports whether imageRef already specifies a
// registry host, per the decision table in the orchestrator abstraction
// spec: no slash before the first tag means no registry; a slash whose
// preceding segment contains a dot or is "localhost" means a registry is
// already present.
func hasRegistryComponent(imageRef string) bool {
	slashIdx := strings.Index(imageRef, "/")
	if slashIdx == -1 {
		return false
	}

	firstSegment := imageRef[:slashIdx]
	return strings.Contains(firstSegment, ".") || firstSegment == "localhost"
}
