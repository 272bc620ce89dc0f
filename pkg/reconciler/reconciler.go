// Package reconciler runs the periodic diff-and-act loop that keeps
// orchestrator workloads in sync with the connectors declared by the
// platform, the same ticker/stopCh/mutex shape the teacher's own
// pkg/reconciler and pkg/scheduler packages are built around.
package reconciler

import (
	"context"
	"crypto/rsa"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/filigran/xtm-composer/pkg/cryptutil"
	"github.com/filigran/xtm-composer/pkg/errs"
	"github.com/filigran/xtm-composer/pkg/log"
	"github.com/filigran/xtm-composer/pkg/metrics"
	"github.com/filigran/xtm-composer/pkg/orchestrator"
	"github.com/filigran/xtm-composer/pkg/pipeline"
	"github.com/filigran/xtm-composer/pkg/platform"
	"github.com/filigran/xtm-composer/pkg/types"
)

const maxConsecutivePullFailures = 5

// Reconciler owns the per-connector state machine. One instance runs for
// the lifetime of the agent against a single orchestrator backend.
type Reconciler struct {
	platform    platform.Client
	orch        orchestrator.Orchestrator
	pipeline    *pipeline.Pipeline
	privateKey  *rsa.PrivateKey
	managerID   string
	registryURL string
	interval    time.Duration

	mu           sync.Mutex
	pullFailures map[string]int

	stopCh chan struct{}
}

// New builds a Reconciler. pipe may be nil in tests that only exercise the
// diff-and-act step. privateKey may be nil when no connector in the test
// fixture carries encrypted configuration.
func New(platformClient platform.Client, orch orchestrator.Orchestrator, pipe *pipeline.Pipeline, privateKey *rsa.PrivateKey, managerID, registryURL string, interval time.Duration) *Reconciler {
	return &Reconciler{
		platform:     platformClient,
		orch:         orch,
		pipeline:     pipe,
		privateKey:   privateKey,
		managerID:    managerID,
		registryURL:  registryURL,
		interval:     interval,
		pullFailures: make(map[string]int),
		stopCh:       make(chan struct{}),
	}
}

// Start begins the reconciliation loop in a background goroutine.
func (r *Reconciler) Start() {
	go r.run()
}

// Stop signals the loop to exit. It does not wait for the current tick to
// finish; callers needing a drain window should select on their own timer.
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

func (r *Reconciler) run() {
	logger := log.WithComponent("reconciler")
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := r.Tick(context.Background()); err != nil {
				logger.Warn().Err(err).Msg("reconcile tick failed")
			}
		case <-r.stopCh:
			return
		}
	}
}

// Tick runs one reconciliation cycle: fetch declared and observed state,
// decide an action per connector, execute in lexicographic order, then run
// the log/health pipeline over every running workload.
func (r *Reconciler) Tick(ctx context.Context) error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconcileDuration)
		metrics.ReconcileCyclesTotal.Inc()
	}()

	logger := log.WithComponent("reconciler")

	declared, err := r.platform.ListConnectors(ctx, r.managerID)
	if err != nil {
		if platform.IsTransient(err) {
			logger.Warn().Err(err).Msg("skipping tick, platform unreachable")
			return nil
		}
		return err
	}

	observed, err := r.orch.List(ctx)
	if err != nil {
		return err
	}

	declaredByID := make(map[string]types.ManagedConnector, len(declared))
	for _, c := range declared {
		declaredByID[c.ID] = c
	}

	observedByConnector := make(map[string]types.Workload, len(observed))
	for _, w := range observed {
		observedByConnector[w.ConnectorID] = w
	}

	ids := unionKeys(declaredByID, observedByConnector)

	running := make([]types.Workload, 0, len(ids))
	for _, id := range ids {
		connector, isDeclared := declaredByID[id]
		workload, isObserved := observedByConnector[id]

		w, err := r.reconcileOne(ctx, id, connector, isDeclared, workload, isObserved)
		if err != nil {
			logger.Error().Err(err).Str("connector_id", id).Msg("reconcile action failed")
			continue
		}
		if w != nil && w.Status == types.WorkloadStatusRunning {
			running = append(running, *w)
		}
	}

	updateConnectorGauges(declaredByID)

	if r.pipeline != nil {
		r.pipeline.CollectAll(ctx, running)
	}

	return nil
}

func unionKeys(declared map[string]types.ManagedConnector, observed map[string]types.Workload) []string {
	seen := make(map[string]struct{}, len(declared)+len(observed))
	for id := range declared {
		seen[id] = struct{}{}
	}
	for id := range observed {
		seen[id] = struct{}{}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// reconcileOne applies the state-machine matrix to a single connector id
// and returns the resulting workload, if any still exists after the action.
func (r *Reconciler) reconcileOne(ctx context.Context, id string, connector types.ManagedConnector, isDeclared bool, workload types.Workload, isObserved bool) (*types.Workload, error) {
	switch {
	case isDeclared && !isObserved:
		return r.deploy(ctx, connector)

	case isDeclared && isObserved && !r.connectorMatchesWorkload(connector, workload):
		if workload.Status == types.WorkloadStatusRunning {
			metrics.ReconcileActionsTotal.WithLabelValues("stop").Inc()
			if err := r.orch.Stop(ctx, workload); err != nil {
				return nil, err
			}
		}
		if err := r.removeWorkload(ctx, workload); err != nil {
			return nil, err
		}
		return r.deploy(ctx, connector)

	case isDeclared && isObserved && connector.RequestedStatus == types.RequestedStatusStarting && workload.Status == types.WorkloadStatusStopped:
		metrics.ReconcileActionsTotal.WithLabelValues("start").Inc()
		if err := r.orch.Start(ctx, workload); err != nil {
			return nil, err
		}
		if err := r.platform.SetCurrentStatus(ctx, id, types.CurrentStatusStarted); err != nil {
			reconcilerLogger := log.WithComponent("reconciler")
			reconcilerLogger.Warn().Err(err).Str("connector_id", id).Msg("set_current_status failed")
		}
		workload.Status = types.WorkloadStatusRunning
		return &workload, nil

	case isDeclared && isObserved && connector.RequestedStatus == types.RequestedStatusStopping && workload.Status == types.WorkloadStatusRunning:
		metrics.ReconcileActionsTotal.WithLabelValues("stop").Inc()
		if err := r.orch.Stop(ctx, workload); err != nil {
			return nil, err
		}
		if err := r.platform.SetCurrentStatus(ctx, id, types.CurrentStatusStopped); err != nil {
			reconcilerLogger := log.WithComponent("reconciler")
			reconcilerLogger.Warn().Err(err).Str("connector_id", id).Msg("set_current_status failed")
		}
		workload.Status = types.WorkloadStatusStopped
		return &workload, nil

	case isDeclared && isObserved:
		metrics.ReconcileActionsTotal.WithLabelValues("noop").Inc()
		current := types.CurrentStatusStopped
		if workload.Status == types.WorkloadStatusRunning {
			current = types.CurrentStatusStarted
		}
		if err := r.platform.SetCurrentStatus(ctx, id, current); err != nil {
			reconcilerLogger := log.WithComponent("reconciler")
			reconcilerLogger.Warn().Err(err).Str("connector_id", id).Msg("set_current_status failed")
		}
		return &workload, nil

	case !isDeclared && isObserved:
		return nil, r.removeWorkload(ctx, workload)

	default:
		metrics.ReconcileActionsTotal.WithLabelValues("noop").Inc()
		return nil, nil
	}
}

// connectorMatchesWorkload reports whether the observed workload still
// matches what's declared: the contract hash AND the resolved image must
// both agree, since a connector's image can change (a version bump) without
// its contract hash changing if the platform doesn't recompute it. Either
// diverging means the workload is stale and must be replaced.
func (r *Reconciler) connectorMatchesWorkload(connector types.ManagedConnector, workload types.Workload) bool {
	if connector.ContractHash != workload.ContractHash() {
		return false
	}
	declaredImage := orchestrator.ResolveImageRef(connector.ContractImage, r.registryURL)
	return declaredImage == workload.Image
}

func (r *Reconciler) removeWorkload(ctx context.Context, w types.Workload) error {
	metrics.ReconcileActionsTotal.WithLabelValues("remove").Inc()
	return r.orch.Remove(ctx, w)
}

// deploy creates the workload for a declared connector, starting it
// immediately when requested=starting. A connector with 5 consecutive image
// pull failures is parked: the agent reports the cause through the log
// channel, asks the platform to set requested=stopping, and resets the
// failure count. ImagePullError carries no transience flag, so every pull
// failure counts toward the five, and later ticks still deploy whatever the
// platform declares.
func (r *Reconciler) deploy(ctx context.Context, connector types.ManagedConnector) (*types.Workload, error) {
	metrics.ReconcileActionsTotal.WithLabelValues("deploy").Inc()

	name := orchestrator.WorkloadName(connector.ManagerID, connector.ID)
	imageRef := orchestrator.ResolveImageRef(connector.ContractImage, r.registryURL)

	env, err := r.decryptConfig(connector.ContractConfiguration)
	if err != nil {
		return nil, r.handleDeployFailure(ctx, connector.ID, err)
	}

	spec := types.WorkloadSpec{
		ConnectorID:     connector.ID,
		Name:            name,
		ImageRef:        imageRef,
		Env:             env,
		ContractHash:    connector.ContractHash,
		RequestedStatus: connector.RequestedStatus,
	}

	workload, err := r.orch.Deploy(ctx, spec)
	if err != nil {
		return nil, r.handleDeployFailure(ctx, connector.ID, err)
	}

	r.clearPullFailures(connector.ID)

	current := types.CurrentStatusStopped
	if connector.RequestedStatus == types.RequestedStatusStarting {
		current = types.CurrentStatusStarted
		workload.Status = types.WorkloadStatusRunning
	}
	if err := r.platform.SetCurrentStatus(ctx, connector.ID, current); err != nil {
		reconcilerLogger := log.WithComponent("reconciler")
		reconcilerLogger.Warn().Err(err).Str("connector_id", connector.ID).Msg("set_current_status failed")
	}

	return &workload, nil
}

// handleDeployFailure decides whether a failed deploy should park the
// connector. A DecryptError is never transient: the same ciphertext will
// never decrypt on a later tick, so the connector is parked immediately
// rather than waiting on the pull-failure counter, which does not apply
// here. An ImagePullError parks only after five consecutive occurrences,
// since a registry outage or a momentarily missing tag can resolve itself.
func (r *Reconciler) handleDeployFailure(ctx context.Context, connectorID string, cause error) error {
	var decErr *errs.DecryptError
	if errors.As(cause, &decErr) {
		r.parkConnector(ctx, connectorID, cause)
		return cause
	}

	var pullErr *errs.ImagePullError
	if !errors.As(cause, &pullErr) {
		return cause
	}

	r.mu.Lock()
	r.pullFailures[connectorID]++
	count := r.pullFailures[connectorID]
	r.mu.Unlock()

	if count < maxConsecutivePullFailures {
		return cause
	}

	reconcilerLogger := log.WithComponent("reconciler")
	reconcilerLogger.Error().Err(cause).Str("connector_id", connectorID).
		Int("consecutive_failures", count).Msg("parking connector after repeated pull failures")
	r.parkConnector(ctx, connectorID, cause)

	return cause
}

// parkConnector asks the platform to stop requesting the connector and
// reports a log line describing why. The line is built from cause.Error(),
// which for every parking-eligible error type carries only an operation
// name, image reference, or config key, never ciphertext or plaintext.
func (r *Reconciler) parkConnector(ctx context.Context, connectorID string, cause error) {
	logger := log.WithComponent("reconciler")

	if err := r.platform.ReportLogs(ctx, connectorID, []string{"composer: parking connector: " + cause.Error()}); err != nil {
		logger.Warn().Err(err).Str("connector_id", connectorID).Msg("report_logs failed while parking connector")
	}
	if err := r.platform.SetRequestedStatus(ctx, connectorID, types.RequestedStatusStopping); err != nil {
		logger.Warn().Err(err).Str("connector_id", connectorID).Msg("set_requested_status failed while parking connector")
	}
	r.clearPullFailures(connectorID)
}

func (r *Reconciler) clearPullFailures(connectorID string) {
	r.mu.Lock()
	delete(r.pullFailures, connectorID)
	r.mu.Unlock()
}

// decryptConfig decrypts every contract configuration value lazily, one at
// a time, per invariant 4: only values actually injected as env vars are
// ever decrypted. A single bad ciphertext fails the whole deploy, since a
// connector missing part of its configuration is not safe to start.
func (r *Reconciler) decryptConfig(entries []types.ContractConfigEntry) ([]types.EnvVar, error) {
	env := make([]types.EnvVar, 0, len(entries))
	for _, e := range entries {
		plaintext, err := cryptutil.DecryptValue(r.privateKey, e.Key, e.Value)
		if err != nil {
			return nil, err
		}
		env = append(env, types.EnvVar{Key: e.Key, Value: plaintext})
	}
	return env, nil
}

func updateConnectorGauges(declared map[string]types.ManagedConnector) {
	counts := map[types.RequestedStatus]int{}
	for _, c := range declared {
		counts[c.RequestedStatus]++
	}
	metrics.ConnectorsTotal.WithLabelValues("starting").Set(float64(counts[types.RequestedStatusStarting]))
	metrics.ConnectorsTotal.WithLabelValues("stopping").Set(float64(counts[types.RequestedStatusStopping]))
}
