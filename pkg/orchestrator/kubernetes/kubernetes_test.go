package kubernetes

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/filigran/xtm-composer/pkg/types"
)

func TestDeploymentToWorkloadStoppedWhenZeroReplicas(t *testing.T) {
	zero := int32(0)
	d := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:   "xtm-aaaaaaaa-bbbbbbbb",
			Labels: map[string]string{types.LabelConnectorID: "conn-1"},
		},
		Spec: appsv1.DeploymentSpec{Replicas: &zero},
	}

	w := deploymentToWorkload(d, 0)
	assert.Equal(t, types.WorkloadStatusStopped, w.Status)
	assert.Equal(t, "conn-1", w.ConnectorID)
}

func TestDeploymentToWorkloadRunningWhenReady(t *testing.T) {
	one := int32(1)
	d := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: "xtm-a-b"},
		Spec:       appsv1.DeploymentSpec{Replicas: &one},
		Status:     appsv1.DeploymentStatus{ReadyReplicas: 1},
	}

	assert.Equal(t, types.WorkloadStatusRunning, deploymentToWorkload(d, 0).Status)
}

func TestDeploymentToWorkloadPendingWhenNotYetReady(t *testing.T) {
	one := int32(1)
	d := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: "xtm-a-b"},
		Spec:       appsv1.DeploymentSpec{Replicas: &one},
		Status:     appsv1.DeploymentStatus{Replicas: 1},
	}

	assert.Equal(t, types.WorkloadStatusPending, deploymentToWorkload(d, 0).Status)
}

func TestDeploymentToWorkloadCarriesImage(t *testing.T) {
	d := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: "xtm-a-b"},
		Spec: appsv1.DeploymentSpec{
			Template: corev1.PodTemplateSpec{
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{Image: "connector-misp:5.0.0"}},
				},
			},
		},
	}

	assert.Equal(t, "connector-misp:5.0.0", deploymentToWorkload(d, 0).Image)
}

func TestDeploymentToWorkloadCarriesRestartCount(t *testing.T) {
	d := &appsv1.Deployment{ObjectMeta: metav1.ObjectMeta{Name: "xtm-a-b"}}
	assert.Equal(t, 7, deploymentToWorkload(d, 7).RestartCount)
}

func TestToEnvVars(t *testing.T) {
	env := []types.EnvVar{{Key: "OPENCTI_URL", Value: "https://octi.example"}}
	got := toEnvVars(env)
	if assert.Len(t, got, 1) {
		assert.Equal(t, "OPENCTI_URL", got[0].Name)
		assert.Equal(t, "https://octi.example", got[0].Value)
	}
}

func TestReadLinesSplitsOnNewlines(t *testing.T) {
	r := strings.NewReader("line one\nline two\n")
	lines, err := readLines(r)
	assert.NoError(t, err)
	assert.Equal(t, []string{"line one", "line two"}, lines)
}

func TestReadLinesEmpty(t *testing.T) {
	lines, err := readLines(strings.NewReader(""))
	assert.NoError(t, err)
	assert.Empty(t, lines)
}

func TestListSumsPodRestartCountsFromPods(t *testing.T) {
	const namespace = "xtm"
	deployment := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "xtm-aaaaaaaa-bbbbbbbb",
			Namespace: namespace,
			Labels: map[string]string{
				types.LabelManagerID:   "mgr-1",
				types.LabelConnectorID: "conn-1",
			},
		},
		Spec:   appsv1.DeploymentSpec{Replicas: int32Ptr(1)},
		Status: appsv1.DeploymentStatus{ReadyReplicas: 1},
	}

	pod1 := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "xtm-aaaaaaaa-bbbbbbbb-1",
			Namespace: namespace,
			Labels:    map[string]string{types.LabelConnectorID: "conn-1"},
		},
		Status: corev1.PodStatus{
			ContainerStatuses: []corev1.ContainerStatus{{RestartCount: 3}},
		},
	}
	pod2 := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "xtm-aaaaaaaa-bbbbbbbb-2",
			Namespace: namespace,
			Labels:    map[string]string{types.LabelConnectorID: "conn-1"},
		},
		Status: corev1.PodStatus{
			ContainerStatuses: []corev1.ContainerStatus{{RestartCount: 2}, {RestartCount: 1}},
		},
	}
	otherPod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "unrelated-pod",
			Namespace: namespace,
			Labels:    map[string]string{types.LabelConnectorID: "conn-2"},
		},
		Status: corev1.PodStatus{
			ContainerStatuses: []corev1.ContainerStatus{{RestartCount: 99}},
		},
	}

	clientset := fake.NewSimpleClientset(deployment, pod1, pod2, otherPod)
	b := &Backend{clientset: clientset, namespace: namespace, managerID: "mgr-1"}

	workloads, err := b.List(context.Background())
	assert.NoError(t, err)
	if assert.Len(t, workloads, 1) {
		assert.Equal(t, "conn-1", workloads[0].ConnectorID)
		assert.Equal(t, 6, workloads[0].RestartCount)
	}
}

func int32Ptr(v int32) *int32 { return &v }
