// Package kubernetes implements the orchestrator.Orchestrator contract
// against a Kubernetes cluster: one Deployment per connector, replicas in
// {0,1} reflecting requested status, grounded on the example pack's use of
// k8s.io/client-go for cluster-facing tooling.
package kubernetes

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/filigran/xtm-composer/pkg/errs"
	"github.com/filigran/xtm-composer/pkg/orchestrator"
	"github.com/filigran/xtm-composer/pkg/types"
)

// Backend implements orchestrator.Orchestrator against a Kubernetes cluster.
type Backend struct {
	clientset kubernetes.Interface
	namespace string
	managerID string
}

// Config configures the Kubernetes backend.
type Config struct {
	Namespace      string
	KubeconfigPath string
	InCluster      bool
	ManagerID      string
}

// New builds a Backend, authenticating via an in-cluster service-account
// token or a kubeconfig file, per Config.
func New(cfg Config) (*Backend, error) {
	restConfig, err := buildRestConfig(cfg)
	if err != nil {
		return nil, &errs.OrchestratorError{Op: "connect", Transient: false, Message: err.Error()}
	}

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, &errs.OrchestratorError{Op: "connect", Transient: false, Message: err.Error()}
	}

	return &Backend{clientset: clientset, namespace: cfg.Namespace, managerID: cfg.ManagerID}, nil
}

func buildRestConfig(cfg Config) (*rest.Config, error) {
	if cfg.InCluster {
		return rest.InClusterConfig()
	}
	return clientcmd.BuildConfigFromFlags("", cfg.KubeconfigPath)
}

var _ orchestrator.Orchestrator = (*Backend)(nil)

// List returns one Workload per Deployment carrying the agent's manager_id
// label. Restart count isn't a Deployment-level field, so for each one the
// Pods matching its connector_id label are also listed and their container
// restart counts summed, the same Pod lookup LogsOf already does.
func (b *Backend) List(ctx context.Context) ([]types.Workload, error) {
	list, err := b.clientset.AppsV1().Deployments(b.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: fmt.Sprintf("%s=%s", types.LabelManagerID, b.managerID),
	})
	if err != nil {
		return nil, &errs.OrchestratorError{Op: "list", Transient: isTransientK8sErr(err), Message: err.Error()}
	}

	workloads := make([]types.Workload, 0, len(list.Items))
	for i := range list.Items {
		d := &list.Items[i]
		restarts, err := b.podRestartCount(ctx, d.Labels[types.LabelConnectorID])
		if err != nil {
			restarts = 0
		}
		workloads = append(workloads, deploymentToWorkload(d, restarts))
	}
	return workloads, nil
}

func (b *Backend) podRestartCount(ctx context.Context, connectorID string) (int, error) {
	pods, err := b.clientset.CoreV1().Pods(b.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: fmt.Sprintf("%s=%s", types.LabelConnectorID, connectorID),
	})
	if err != nil {
		return 0, err
	}
	return sumPodRestarts(pods.Items), nil
}

func sumPodRestarts(pods []corev1.Pod) int {
	total := 0
	for _, p := range pods {
		for _, cs := range p.Status.ContainerStatuses {
			total += int(cs.RestartCount)
		}
	}
	return total
}

func (b *Backend) Deploy(ctx context.Context, spec types.WorkloadSpec) (types.Workload, error) {
	replicas := int32(0)
	if spec.RequestedStatus == types.RequestedStatusStarting {
		replicas = 1
	}

	labels := orchestrator.Labels(b.managerID, spec.ConnectorID, spec.ContractHash)

	deployment := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      spec.Name,
			Namespace: b.namespace,
			Labels:    labels,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{MatchLabels: labels},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{
						{
							Name:  "connector",
							Image: spec.ImageRef,
							Env:   toEnvVars(spec.Env),
						},
					},
				},
			},
		},
	}

	created, err := b.clientset.AppsV1().Deployments(b.namespace).Create(ctx, deployment, metav1.CreateOptions{})
	if err != nil {
		return types.Workload{}, &errs.OrchestratorError{Op: "deploy", Transient: isTransientK8sErr(err), Message: err.Error()}
	}

	return deploymentToWorkload(created, 0), nil
}

func (b *Backend) Remove(ctx context.Context, w types.Workload) error {
	policy := metav1.DeletePropagationForeground
	err := b.clientset.AppsV1().Deployments(b.namespace).Delete(ctx, w.Name, metav1.DeleteOptions{
		PropagationPolicy: &policy,
	})
	if apierrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return &errs.OrchestratorError{Op: "remove", Transient: isTransientK8sErr(err), Message: err.Error()}
	}
	return nil
}

func (b *Backend) Start(ctx context.Context, w types.Workload) error {
	return b.setReplicas(ctx, w.Name, 1)
}

func (b *Backend) Stop(ctx context.Context, w types.Workload) error {
	return b.setReplicas(ctx, w.Name, 0)
}

func (b *Backend) setReplicas(ctx context.Context, name string, replicas int32) error {
	deployments := b.clientset.AppsV1().Deployments(b.namespace)

	deployment, err := deployments.Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return &errs.OrchestratorError{Op: "set_replicas", Transient: isTransientK8sErr(err), Message: err.Error()}
	}

	deployment.Spec.Replicas = &replicas
	if _, err := deployments.Update(ctx, deployment, metav1.UpdateOptions{}); err != nil {
		return &errs.OrchestratorError{Op: "set_replicas", Transient: isTransientK8sErr(err), Message: err.Error()}
	}
	return nil
}

func (b *Backend) LogsOf(ctx context.Context, w types.Workload, since time.Time) ([]string, error) {
	pods, err := b.clientset.CoreV1().Pods(b.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: fmt.Sprintf("%s=%s", types.LabelConnectorID, w.ConnectorID),
	})
	if err != nil {
		return nil, &errs.OrchestratorError{Op: "logs_of", Transient: isTransientK8sErr(err), Message: err.Error()}
	}
	if len(pods.Items) == 0 {
		return nil, nil
	}

	sinceTime := metav1.NewTime(since)
	opts := &corev1.PodLogOptions{}
	if !since.IsZero() {
		opts.SinceTime = &sinceTime
	}

	stream, err := b.clientset.CoreV1().Pods(b.namespace).GetLogs(pods.Items[0].Name, opts).Stream(ctx)
	if err != nil {
		return nil, &errs.OrchestratorError{Op: "logs_of", Transient: isTransientK8sErr(err), Message: err.Error()}
	}
	defer stream.Close()

	return readLines(stream)
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

func toEnvVars(env []types.EnvVar) []corev1.EnvVar {
	out := make([]corev1.EnvVar, 0, len(env))
	for _, e := range env {
		out = append(out, corev1.EnvVar{Name: e.Key, Value: e.Value})
	}
	return out
}

func deploymentToWorkload(d *appsv1.Deployment, restartCount int) types.Workload {
	status := types.WorkloadStatusUnknown
	switch {
	case d.Spec.Replicas != nil && *d.Spec.Replicas == 0:
		status = types.WorkloadStatusStopped
	case d.Status.ReadyReplicas > 0:
		status = types.WorkloadStatusRunning
	case d.Status.Replicas > 0:
		status = types.WorkloadStatusPending
	case d.Status.UnavailableReplicas > 0:
		status = types.WorkloadStatusFailed
	}

	image := ""
	if len(d.Spec.Template.Spec.Containers) > 0 {
		image = d.Spec.Template.Spec.Containers[0].Image
	}

	return types.Workload{
		Name:         d.Name,
		ConnectorID:  d.Labels[types.LabelConnectorID],
		Labels:       d.Labels,
		Image:        image,
		Status:       status,
		RestartCount: restartCount,
		StartedAt:    d.CreationTimestamp.Time,
	}
}

func isTransientK8sErr(err error) bool {
	return apierrors.IsServerTimeout(err) || apierrors.IsTimeout(err) || apierrors.IsTooManyRequests(err) || apierrors.IsServiceUnavailable(err)
}
