// Package docker implements the orchestrator.Orchestrator contract against
// a local Docker Engine over its UNIX socket, following the same
// client-wrapper-over-a-remote-API shape the teacher uses for its
// containerd runtime: a thin struct holding a connected client, with one
// method per lifecycle operation.
package docker

import (
	"bufio"
	"context"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/filigran/xtm-composer/pkg/errs"
	"github.com/filigran/xtm-composer/pkg/orchestrator"
	"github.com/filigran/xtm-composer/pkg/types"
)

// DefaultSocketPath is the default Docker Engine UNIX socket.
const DefaultSocketPath = "unix:///var/run/docker.sock"

// dockerAPI is the subset of *dockerclient.Client the backend drives,
// narrowed to a Go interface so tests can substitute a fake instead of
// dialing a real Docker Engine.
type dockerAPI interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
}

// Backend implements orchestrator.Orchestrator against a Docker Engine.
type Backend struct {
	client    dockerAPI
	managerID string
}

// New connects to a Docker Engine over the given host (a UNIX socket URL
// such as DefaultSocketPath, or a tcp:// endpoint for a remote daemon).
func New(host, managerID string) (*Backend, error) {
	cli, err := dockerclient.NewClientWithOpts(
		dockerclient.WithHost(host),
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, &errs.OrchestratorError{Op: "connect", Transient: false, Message: err.Error()}
	}

	return &Backend{client: cli, managerID: managerID}, nil
}

// NewFromClient wraps an already-constructed Docker client, letting the
// Portainer backend reuse this backend's operations against a proxied
// endpoint.
func NewFromClient(cli *dockerclient.Client, managerID string) *Backend {
	return &Backend{client: cli, managerID: managerID}
}

var _ orchestrator.Orchestrator = (*Backend)(nil)

// List returns every container carrying the agent's manager_id label. Each
// one is inspected individually: the list endpoint alone doesn't carry a
// restart count, only Engine's inspect response does, the same field
// Deploy already reads via inspectToWorkload.
func (b *Backend) List(ctx context.Context) ([]types.Workload, error) {
	args := filters.NewArgs(filters.Arg("label", types.LabelManagerID+"="+b.managerID))
	containers, err := b.client.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return nil, &errs.OrchestratorError{Op: "list", Transient: isTransientErr(err), Message: err.Error()}
	}

	workloads := make([]types.Workload, 0, len(containers))
	for _, c := range containers {
		inspect, err := b.client.ContainerInspect(ctx, c.ID)
		if err != nil {
			workloads = append(workloads, containerToWorkload(c))
			continue
		}
		workloads = append(workloads, inspectToWorkload(inspect))
	}
	return workloads, nil
}

func (b *Backend) Deploy(ctx context.Context, spec types.WorkloadSpec) (types.Workload, error) {
	if err := b.pullImage(ctx, spec.ImageRef); err != nil {
		return types.Workload{}, err
	}

	labels := orchestrator.Labels(b.managerID, spec.ConnectorID, spec.ContractHash)

	resp, err := b.client.ContainerCreate(ctx,
		&container.Config{
			Image:  spec.ImageRef,
			Env:    toEnvSlice(spec.Env),
			Labels: labels,
		},
		&container.HostConfig{
			RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyUnlessStopped},
		},
		nil, nil, spec.Name,
	)
	if err != nil {
		return types.Workload{}, &errs.OrchestratorError{Op: "deploy", Transient: isTransientErr(err), Message: err.Error()}
	}

	if spec.RequestedStatus == types.RequestedStatusStarting {
		if err := b.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
			return types.Workload{}, &errs.OrchestratorError{Op: "deploy", Transient: isTransientErr(err), Message: err.Error()}
		}
	}

	inspect, err := b.client.ContainerInspect(ctx, resp.ID)
	if err != nil {
		return types.Workload{}, &errs.OrchestratorError{Op: "deploy", Transient: isTransientErr(err), Message: err.Error()}
	}

	return inspectToWorkload(inspect), nil
}

func (b *Backend) pullImage(ctx context.Context, imageRef string) error {
	reader, err := b.client.ImagePull(ctx, imageRef, image.PullOptions{})
	if err != nil {
		return &errs.ImagePullError{ImageRef: imageRef, Message: err.Error()}
	}
	defer reader.Close()

	if _, err := io.Copy(io.Discard, reader); err != nil {
		return &errs.ImagePullError{ImageRef: imageRef, Message: err.Error()}
	}
	return nil
}

func (b *Backend) Start(ctx context.Context, w types.Workload) error {
	if err := b.client.ContainerStart(ctx, w.Name, container.StartOptions{}); err != nil {
		return &errs.OrchestratorError{Op: "start", Transient: isTransientErr(err), Message: err.Error()}
	}
	return nil
}

func (b *Backend) Stop(ctx context.Context, w types.Workload) error {
	if err := b.client.ContainerStop(ctx, w.Name, container.StopOptions{}); err != nil {
		return &errs.OrchestratorError{Op: "stop", Transient: isTransientErr(err), Message: err.Error()}
	}
	return nil
}

// Remove stops the container before removing it (the Kubernetes backend
// instead deletes its Deployment directly). Stop errors are not fatal here: the
// container may already be stopped, or gone entirely, and Force below
// handles both.
func (b *Backend) Remove(ctx context.Context, w types.Workload) error {
	_ = b.client.ContainerStop(ctx, w.Name, container.StopOptions{})

	err := b.client.ContainerRemove(ctx, w.Name, container.RemoveOptions{Force: true})
	if dockerclient.IsErrNotFound(err) {
		return nil
	}
	if err != nil {
		return &errs.OrchestratorError{Op: "remove", Transient: isTransientErr(err), Message: err.Error()}
	}
	return nil
}

func (b *Backend) LogsOf(ctx context.Context, w types.Workload, since time.Time) ([]string, error) {
	opts := container.LogsOptions{ShowStdout: true, ShowStderr: true}
	if !since.IsZero() {
		opts.Since = since.Format(time.RFC3339Nano)
	}

	reader, err := b.client.ContainerLogs(ctx, w.Name, opts)
	if err != nil {
		return nil, &errs.OrchestratorError{Op: "logs_of", Transient: isTransientErr(err), Message: err.Error()}
	}
	defer reader.Close()

	return demuxLines(reader)
}

// demuxLines splits Docker's multiplexed stdout/stderr log stream (8-byte
// frame headers per stdcopy.StdCopy) into individual log lines: every stdout
// line first, then every stderr line. The relative order of stdout and stderr
// lines is not preserved.
func demuxLines(r io.Reader) ([]string, error) {
	var stdout, stderr strings.Builder
	if _, err := stdcopy.StdCopy(&stdout, &stderr, r); err != nil {
		return nil, err
	}

	var lines []string
	lines = append(lines, splitNonEmpty(stdout.String())...)
	lines = append(lines, splitNonEmpty(stderr.String())...)
	return lines, nil
}

func splitNonEmpty(s string) []string {
	var out []string
	scanner := bufio.NewScanner(strings.NewReader(s))
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			out = append(out, line)
		}
	}
	return out
}

func toEnvSlice(env []types.EnvVar) []string {
	out := make([]string, 0, len(env))
	for _, e := range env {
		out = append(out, e.Key+"="+e.Value)
	}
	return out
}

func containerToWorkload(c container.Summary) types.Workload {
	name := strings.TrimPrefix(firstOr(c.Names, c.ID), "/")
	return types.Workload{
		Name:        name,
		ConnectorID: c.Labels[types.LabelConnectorID],
		Labels:      c.Labels,
		Image:       c.Image,
		Status:      statusFromState(c.State),
		StartedAt:   time.Unix(c.Created, 0),
	}
}

func inspectToWorkload(c container.InspectResponse) types.Workload {
	name := ""
	status := types.WorkloadStatusPending
	restarts := 0
	var startedAt time.Time
	if c.ContainerJSONBase != nil {
		name = strings.TrimPrefix(c.Name, "/")
		if c.State != nil {
			status = statusFromState(c.State.Status)
			restarts = c.RestartCount
			if t, err := time.Parse(time.RFC3339Nano, c.State.StartedAt); err == nil {
				startedAt = t
			}
		}
	}

	var labels map[string]string
	image := ""
	if c.Config != nil {
		labels = c.Config.Labels
		image = c.Config.Image
	}

	return types.Workload{
		Name:         name,
		ConnectorID:  labels[types.LabelConnectorID],
		Labels:       labels,
		Image:        image,
		Status:       status,
		RestartCount: restarts,
		StartedAt:    startedAt,
	}
}

func statusFromState(state string) types.WorkloadStatus {
	switch state {
	case "running":
		return types.WorkloadStatusRunning
	case "exited", "dead":
		return types.WorkloadStatusStopped
	case "created", "restarting":
		return types.WorkloadStatusPending
	default:
		return types.WorkloadStatusUnknown
	}
}

func firstOr(names []string, fallback string) string {
	if len(names) > 0 {
		return names[0]
	}
	return fallback
}

func isTransientErr(err error) bool {
	return dockerclient.IsErrConnectionFailed(err)
}
