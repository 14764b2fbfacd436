// Package tickloop drives one scenario's tick stream through the full
// per-tick pipeline (§4.8): execution -> bar rendering -> worker dispatch
// -> decision compute/execute -> live-progress update. Grounded on
// libs/strategies/backtest.go's Backtester.Run main loop, generalized from
// per-candle iteration to per-tick iteration with the §4.4 pending-order
// pipeline and §4.6 worker dispatch inserted ahead of the decision step.
package tickloop

import (
	"context"
	"time"

	"jax-backtest-core/libs/barrender"
	"jax-backtest-core/libs/decision"
	"jax-backtest-core/libs/execution"
	"jax-backtest-core/libs/observability"
	"jax-backtest-core/libs/pendingorder"
	"jax-backtest-core/libs/portfolio"
	"jax-backtest-core/libs/simtypes"
	"jax-backtest-core/libs/worker"
)

// BarHistorySpec tells TickLoop which (symbol, timeframe) bar history a
// worker instance needs, collected from worker instances' declared
// warmup requirements (§4.9 Phase 0).
type BarHistorySpec struct {
	Symbol    string
	Timeframe time.Duration
}

// Config bundles everything TickLoop needs to run one scenario to
// completion.
type Config struct {
	Executor    *execution.Executor
	PendingMgr  *pendingorder.Manager
	Portfolio   *portfolio.Manager
	BarRenderer *barrender.Renderer
	Coordinator *worker.Coordinator
	Logic       decision.DecisionLogic
	API         decision.TradingAPI

	// WorkerBarSpec maps worker instance name -> the (symbol, timeframe)
	// its bar history argument should be built from.
	WorkerBarSpec map[string]BarHistorySpec

	// ProgressEvery, if > 0, emits a ProgressUpdate on Progress every N
	// ticks (§6's lossy live-progress channel). A nil/unbuffered Progress
	// channel with no reader simply means updates are dropped, matching
	// the spec's "lossy" characterization.
	Progress      chan<- simtypes.ProgressUpdate
	ProgressEvery int
	ScenarioIndex int
	ScenarioName  string

	// Metrics, if non-nil, receives per-stage duration histograms and
	// order-outcome counters (§10 Metrics). Nil is valid: a TickLoop run
	// outside a batch context (e.g. a unit test) simply records nothing.
	Metrics *observability.BacktestMetrics
}

// TickLoop runs Config.Logic against one tick stream.
type TickLoop struct {
	cfg     Config
	profile *simtypes.ProfileTable

	decisionStats map[simtypes.DecisionAction]int
}

// New builds a TickLoop after validating the decision logic's declared
// contract against what this scenario actually wires up (§4.7: fail fast,
// not mid-run).
func New(cfg Config, availableWorkers []string, allowedOrderTypes []simtypes.OrderType) (*TickLoop, error) {
	if err := decision.ValidateContract(cfg.Logic.Contract(), availableWorkers, allowedOrderTypes); err != nil {
		return nil, err
	}
	return &TickLoop{
		cfg:           cfg,
		profile:       simtypes.NewProfileTable(),
		decisionStats: map[simtypes.DecisionAction]int{},
	}, nil
}

// Run drives ticks through the pipeline in order and assembles the final
// TickLoopResult. It stops early and returns the error if any stage
// reports a fatal error (§7: fatal errors abort the scenario).
func (l *TickLoop) Run(ctx context.Context, ticks []simtypes.Tick) (simtypes.TickLoopResult, error) {
	start := time.Now()
	total := len(ticks)
	observability.LogScenarioStart(ctx, l.cfg.ScenarioName, total)

	for i, tick := range ticks {
		if err := ctx.Err(); err != nil {
			observability.LogScenarioEnd(ctx, l.cfg.ScenarioName, time.Since(start), err)
			return simtypes.TickLoopResult{}, err
		}
		if err := l.step(ctx, tick, i); err != nil {
			observability.LogScenarioEnd(ctx, l.cfg.ScenarioName, time.Since(start), err)
			return simtypes.TickLoopResult{}, err
		}
		l.emitProgress(i, total, tick)
	}

	// The latency manager already records each force-closed order in its
	// own AnomalyOrders, so the returned records are not appended again.
	l.cfg.Executor.CloseAllRemainingOrders(total, lastTimestamp(ticks))
	stats := l.cfg.Executor.PendingStats()

	limitOrders, stopOrders := l.cfg.Executor.ActiveOrdersSnapshot()
	orderHistory := l.cfg.Executor.OrderHistory()
	l.recordOrderOutcomes(orderHistory)

	observability.LogScenarioEnd(ctx, l.cfg.ScenarioName, time.Since(start), nil)

	return simtypes.TickLoopResult{
		PortfolioStats:     l.cfg.Portfolio.Stats(),
		TradeHistory:       l.cfg.Portfolio.TradeHistory(),
		OrderHistory:       orderHistory,
		PendingStats:       stats,
		DecisionStatistics: l.decisionStats,
		Profile:            l.profile,
		ExecutionStats:     l.cfg.Executor.ExecutionStats(),
		ActiveLimitOrders:  limitOrders,
		ActiveStopOrders:   stopOrders,
	}, nil
}

// recordOrderOutcomes increments the order-outcome counter once per
// resolved order, labeled by status (and rejection reason when rejected).
func (l *TickLoop) recordOrderOutcomes(history []simtypes.OrderResult) {
	if l.cfg.Metrics == nil {
		return
	}
	for _, o := range history {
		if o.Status == simtypes.StatusRejected {
			l.cfg.Metrics.OrderOutcomes.Inc("outcome", string(o.Status), "reason", string(o.RejectionReason))
			continue
		}
		l.cfg.Metrics.OrderOutcomes.Inc("outcome", string(o.Status))
	}
}

func (l *TickLoop) step(ctx context.Context, tick simtypes.Tick, tickIndex int) error {
	start := time.Now()
	if err := l.cfg.Executor.OnTick(tick, tickIndex); err != nil {
		return err
	}
	l.recordStage("execution", start)

	start = time.Now()
	l.cfg.BarRenderer.ProcessTick(tick)
	l.recordStage("bar_render", start)

	start = time.Now()
	results, err := l.cfg.Coordinator.Dispatch(ctx, tick, func(instance string) []simtypes.Bar {
		spec, ok := l.cfg.WorkerBarSpec[instance]
		if !ok {
			return nil
		}
		return l.cfg.BarRenderer.History(spec.Symbol, spec.Timeframe)
	})
	if err != nil {
		return err
	}
	l.recordStage("worker_dispatch", start)

	start = time.Now()
	decision, err := l.cfg.Logic.Compute(tick, results, l.cfg.Portfolio.Stats())
	if err != nil {
		return err
	}
	l.decisionStats[decision.Action]++
	if err := l.cfg.Logic.Execute(l.cfg.API, decision, tick, tickIndex); err != nil {
		return err
	}
	l.recordStage("decision", start)

	return nil
}

// recordStage records a pipeline stage's elapsed time into both the
// per-run ProfileTable (§4.8 timing breakdown) and, when wired, the batch's
// shared duration histogram (§10 Metrics).
func (l *TickLoop) recordStage(stage string, start time.Time) {
	elapsed := time.Since(start)
	l.profile.Record(stage, elapsed.Nanoseconds())
	if l.cfg.Metrics != nil {
		l.cfg.Metrics.StageDuration.ObserveDuration(elapsed, "stage", stage)
	}
}

func (l *TickLoop) emitProgress(i, total int, tick simtypes.Tick) {
	if l.cfg.Progress == nil || l.cfg.ProgressEvery <= 0 || i%l.cfg.ProgressEvery != 0 {
		return
	}
	update := simtypes.ProgressUpdate{
		ScenarioIndex:   l.cfg.ScenarioIndex,
		ScenarioName:    l.cfg.ScenarioName,
		Status:          simtypes.StatusRunning,
		TicksProcessed:  i + 1,
		TotalTicks:      total,
		ProgressPercent: 100 * float64(i+1) / float64(max(total, 1)),
		CurrentBalance:  l.cfg.Portfolio.Stats().Balance,
	}
	// A lossy channel: non-blocking send, dropping the update if the
	// reader is behind (§6).
	select {
	case l.cfg.Progress <- update:
	default:
	}
}

func lastTimestamp(ticks []simtypes.Tick) time.Time {
	if len(ticks) == 0 {
		return time.Time{}
	}
	return ticks[len(ticks)-1].Timestamp
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
