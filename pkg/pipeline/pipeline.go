// Package pipeline collects logs and health signals from running
// workloads on every reconcile tick: a per-connector cursor for log
// batching, and restart-count tracking for reboot-loop detection, run with
// the same bounded-concurrency idiom the example pack uses for fan-out
// I/O (golang.org/x/sync/errgroup with a fixed worker limit).
package pipeline

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/filigran/xtm-composer/pkg/log"
	"github.com/filigran/xtm-composer/pkg/metrics"
	"github.com/filigran/xtm-composer/pkg/orchestrator"
	"github.com/filigran/xtm-composer/pkg/platform"
	"github.com/filigran/xtm-composer/pkg/types"
)

const (
	maxConcurrency      = 8
	rebootLoopThreshold = 3
	rebootLoopWindow    = 3 * time.Minute
	rebootLoopClearAfter = 10 * time.Minute
)

// Pipeline pulls logs and health for every running workload each tick.
type Pipeline struct {
	platform     platform.Client
	orch         orchestrator.Orchestrator
	logBatchSize int

	mu    sync.Mutex
	state map[string]*types.ConnectorState
}

// New builds a Pipeline. logBatchSize caps how many lines are sent to
// ReportLogs in a single call.
func New(platformClient platform.Client, orch orchestrator.Orchestrator, logBatchSize int) *Pipeline {
	return &Pipeline{
		platform:     platformClient,
		orch:         orch,
		logBatchSize: logBatchSize,
		state:        make(map[string]*types.ConnectorState),
	}
}

// CollectAll runs log and health collection for every running workload
// concurrently, bounded to maxConcurrency in flight. A failure on one
// workload does not affect the others.
func (p *Pipeline) CollectAll(ctx context.Context, workloads []types.Workload) {
	if len(workloads) == 0 {
		return
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency)

	for _, w := range workloads {
		w := w
		g.Go(func() error {
			p.collectOne(ctx, w)
			return nil
		})
	}

	_ = g.Wait()

	metrics.RebootLoopsGauge.Set(float64(p.rebootLoopCount()))
}

func (p *Pipeline) rebootLoopCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	count := 0
	for _, s := range p.state {
		if s.IsInRebootLoop {
			count++
		}
	}
	return count
}

func (p *Pipeline) collectOne(ctx context.Context, w types.Workload) {
	logger := log.WithComponent("pipeline")
	state := p.stateFor(w.ConnectorID)

	if err := p.collectLogs(ctx, w, state); err != nil {
		logger.Warn().Err(err).Str("connector_id", w.ConnectorID).Msg("log collection failed")
	}

	if err := p.collectHealth(ctx, w, state); err != nil {
		logger.Warn().Err(err).Str("connector_id", w.ConnectorID).Msg("health collection failed")
	}
}

// collectLogs pulls everything the orchestrator has produced since the
// cursor, batches it to logBatchSize, and reports it. The cursor advances
// to the pull time on success; on failure it is left alone so the same
// window is retried next tick.
func (p *Pipeline) collectLogs(ctx context.Context, w types.Workload, state *types.ConnectorState) error {
	since := state.LastLogLineTime
	now := time.Now()

	lines, err := p.orch.LogsOf(ctx, w, since)
	if err != nil {
		return err
	}
	if len(lines) == 0 {
		return nil
	}

	for start := 0; start < len(lines); start += p.logBatchSize {
		end := start + p.logBatchSize
		if end > len(lines) {
			end = len(lines)
		}
		batch := lines[start:end]
		if err := p.platform.ReportLogs(ctx, w.ConnectorID, batch); err != nil {
			return err
		}
		metrics.LogLinesReportedTotal.Add(float64(len(batch)))
	}

	state.LastLogLineTime = now
	return nil
}

// collectHealth derives reboot-loop status from the workload's restart
// count history and reports it alongside started_at.
func (p *Pipeline) collectHealth(ctx context.Context, w types.Workload, state *types.ConnectorState) error {
	now := time.Now()

	state.RestartHistory = append(state.RestartHistory, types.RestartSample{At: now, Count: w.RestartCount})
	state.RestartHistory = pruneOlderThan(state.RestartHistory, now, rebootLoopClearAfter)

	if increasedWithinWindow(state.RestartHistory, now, rebootLoopWindow) >= rebootLoopThreshold {
		state.IsInRebootLoop = true
		state.RebootLoopClearsAt = now.Add(rebootLoopClearAfter)
	} else if state.IsInRebootLoop && now.After(state.RebootLoopClearsAt) {
		state.IsInRebootLoop = false
	}

	var startedAt *time.Time
	if !w.StartedAt.IsZero() {
		startedAt = &w.StartedAt
	}

	return p.platform.ReportHealth(ctx, w.ConnectorID, w.RestartCount, startedAt, state.IsInRebootLoop)
}

// increasedWithinWindow returns how much the restart count grew across
// samples taken within window of now.
func increasedWithinWindow(history []types.RestartSample, now time.Time, window time.Duration) int {
	var min, max int
	first := true
	for _, s := range history {
		if now.Sub(s.At) > window {
			continue
		}
		if first {
			min, max = s.Count, s.Count
			first = false
			continue
		}
		if s.Count < min {
			min = s.Count
		}
		if s.Count > max {
			max = s.Count
		}
	}
	return max - min
}

func pruneOlderThan(history []types.RestartSample, now time.Time, maxAge time.Duration) []types.RestartSample {
	kept := history[:0]
	for _, s := range history {
		if now.Sub(s.At) <= maxAge {
			kept = append(kept, s)
		}
	}
	return kept
}

func (p *Pipeline) stateFor(connectorID string) *types.ConnectorState {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.state[connectorID]
	if !ok {
		s = &types.ConnectorState{}
		p.state[connectorID] = s
	}
	return s
}
