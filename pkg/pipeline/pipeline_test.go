package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/filigran/xtm-composer/pkg/types"
)

type fakeOrchestrator struct {
	mu    sync.Mutex
	logs  map[string][]string
	calls int
}

func (f *fakeOrchestrator) List(ctx context.Context) ([]types.Workload, error) { return nil, nil }
func (f *fakeOrchestrator) Deploy(ctx context.Context, spec types.WorkloadSpec) (types.Workload, error) {
	return types.Workload{}, nil
}
func (f *fakeOrchestrator) Remove(ctx context.Context, w types.Workload) error { return nil }
func (f *fakeOrchestrator) Start(ctx context.Context, w types.Workload) error  { return nil }
func (f *fakeOrchestrator) Stop(ctx context.Context, w types.Workload) error   { return nil }
func (f *fakeOrchestrator) LogsOf(ctx context.Context, w types.Workload, since time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.logs[w.ConnectorID], nil
}

type fakePlatformClient struct {
	mu           sync.Mutex
	reportedLogs map[string][][]string
	health       map[string]bool
}

func newFakePlatformClient() *fakePlatformClient {
	return &fakePlatformClient{
		reportedLogs: make(map[string][][]string),
		health:       make(map[string]bool),
	}
}

func (f *fakePlatformClient) Register(ctx context.Context, managerID, name string, publicKeyPEM []byte) error {
	return nil
}
func (f *fakePlatformClient) Ping(ctx context.Context, managerID string) error { return nil }
func (f *fakePlatformClient) ListConnectors(ctx context.Context, managerID string) ([]types.ManagedConnector, error) {
	return nil, nil
}
func (f *fakePlatformClient) SetCurrentStatus(ctx context.Context, connectorID string, status types.CurrentStatus) error {
	return nil
}
func (f *fakePlatformClient) SetRequestedStatus(ctx context.Context, connectorID string, status types.RequestedStatus) error {
	return nil
}
func (f *fakePlatformClient) ReportLogs(ctx context.Context, connectorID string, lines []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reportedLogs[connectorID] = append(f.reportedLogs[connectorID], lines)
	return nil
}
func (f *fakePlatformClient) ReportHealth(ctx context.Context, connectorID string, restartCount int, startedAt *time.Time, isInRebootLoop bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.health[connectorID] = isInRebootLoop
	return nil
}
func (f *fakePlatformClient) DeleteConnector(ctx context.Context, connectorID string) error {
	return nil
}

func TestCollectLogsBatchesAndReports(t *testing.T) {
	orch := &fakeOrchestrator{logs: map[string][]string{
		"c1": {"line1", "line2", "line3"},
	}}
	plat := newFakePlatformClient()
	p := New(plat, orch, 2)

	p.CollectAll(context.Background(), []types.Workload{{ConnectorID: "c1", Status: types.WorkloadStatusRunning}})

	batches := plat.reportedLogs["c1"]
	if assert.Len(t, batches, 2) {
		assert.Len(t, batches[0], 2)
		assert.Len(t, batches[1], 1)
	}
}

func TestCollectLogsSkipsEmptyBatch(t *testing.T) {
	orch := &fakeOrchestrator{logs: map[string][]string{}}
	plat := newFakePlatformClient()
	p := New(plat, orch, 10)

	p.CollectAll(context.Background(), []types.Workload{{ConnectorID: "c1", Status: types.WorkloadStatusRunning}})

	assert.Empty(t, plat.reportedLogs["c1"])
}

func TestCollectHealthFlagsRebootLoop(t *testing.T) {
	orch := &fakeOrchestrator{}
	plat := newFakePlatformClient()
	p := New(plat, orch, 10)

	state := p.stateFor("c1")
	now := time.Now()
	state.RestartHistory = []types.RestartSample{
		{At: now.Add(-2 * time.Minute), Count: 0},
	}

	p.CollectAll(context.Background(), []types.Workload{{ConnectorID: "c1", RestartCount: 3, Status: types.WorkloadStatusRunning}})

	assert.True(t, plat.health["c1"], "want is_in_reboot_loop=true after 3 restarts within window")
}

func TestCollectHealthClearsAfterQuietPeriod(t *testing.T) {
	orch := &fakeOrchestrator{}
	plat := newFakePlatformClient()
	p := New(plat, orch, 10)

	state := p.stateFor("c1")
	state.IsInRebootLoop = true
	state.RebootLoopClearsAt = time.Now().Add(-time.Minute)

	p.CollectAll(context.Background(), []types.Workload{{ConnectorID: "c1", RestartCount: 0, Status: types.WorkloadStatusRunning}})

	assert.False(t, plat.health["c1"], "want is_in_reboot_loop cleared after quiet period")
}

func TestIncreasedWithinWindow(t *testing.T) {
	now := time.Now()
	history := []types.RestartSample{
		{At: now.Add(-2 * time.Minute), Count: 1},
		{At: now.Add(-1 * time.Minute), Count: 4},
		{At: now, Count: 4},
	}
	assert.Equal(t, 3, increasedWithinWindow(history, now, rebootLoopWindow))
}

func TestPruneOlderThan(t *testing.T) {
	now := time.Now()
	history := []types.RestartSample{
		{At: now.Add(-20 * time.Minute), Count: 1},
		{At: now.Add(-1 * time.Minute), Count: 2},
	}
	pruned := pruneOlderThan(history, now, rebootLoopClearAfter)
	assert.Len(t, pruned, 1)
}
