package orchestrator

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"jax-backtest-core/libs/config"
	"jax-backtest-core/libs/observability"
	"jax-backtest-core/libs/resilience"
	"jax-backtest-core/libs/simtypes"
)

// WorkerPayload is what crosses the process-isolation boundary to a
// worker (§4.9 Phase 2 step 1): the scenario's config plus its immutable
// data bundle, msgpack-encoded rather than JSON since this boundary is a
// genuine process (or process-equivalent) crossing inside one batch run,
// not an external API surface. The full Set travels (not just its Global
// block) so a worker can resolve this scenario's effective seeds/stress
// config via Set.EffectiveSeeds/Set.EffectiveStressTest — §6's cascade
// rule ("global provides defaults, scenarios override per-leaf") is
// otherwise impossible to honor once a scenario is off on its own.
type WorkerPayload struct {
	ScenarioIndex int
	ScenarioName  string
	Scenario      config.Scenario
	Set           config.ScenarioSet
	Bundle        *ScenarioBundle
}

// EncodePayload msgpack-encodes a WorkerPayload for transport to a worker.
func EncodePayload(p WorkerPayload) ([]byte, error) {
	b, err := msgpack.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: encode worker payload: %w", err)
	}
	return b, nil
}

// DecodePayload reverses EncodePayload on the worker side.
func DecodePayload(data []byte) (WorkerPayload, error) {
	var p WorkerPayload
	if err := msgpack.Unmarshal(data, &p); err != nil {
		return WorkerPayload{}, fmt.Errorf("orchestrator: decode worker payload: %w", err)
	}
	return p, nil
}

// WorkerFunc runs one scenario end to end (§4.9 Phase 2 steps 2-5):
// construct its own logger, workers, decision logic, coordinator and
// executor from the decoded payload (never shared across workers), inject
// warmup bars, run the TickLoop, and return a ProcessResult. The
// orchestrator supplies this as a callback rather than owning
// construction itself, since decision-logic/worker wiring is
// scenario-specific and lives with the hosting application.
type WorkerFunc func(ctx context.Context, payload WorkerPayload) simtypes.ProcessResult

// ExecutionMode selects how Phase 2 dispatches scenarios to workers.
type ExecutionMode string

const (
	ModeProcessParallel ExecutionMode = "process_parallel" // default
	ModeThreadParallel   ExecutionMode = "thread_parallel"  // debugger-attached fallback
)

// DetectExecutionMode auto-selects between process-parallel (default) and
// thread-parallel execution (§4.9: "auto-selects ... when a debugger is
// attached"). Detecting an attached debugger portably has no stdlib hook;
// this honors the documented JAX_DEBUGGER_ATTACHED override used
// elsewhere in the pack for environment-driven mode switches, falling
// back to the default otherwise.
func DetectExecutionMode() ExecutionMode {
	if os.Getenv("JAX_DEBUGGER_ATTACHED") == "1" {
		return ModeThreadParallel
	}
	return ModeProcessParallel
}

// Orchestrator drives the full §4.9 batch pipeline.
type Orchestrator struct {
	coverage *CoverageCache
	ticks    TickSource
	bars     BarSource
	metrics  *observability.BacktestMetrics

	mu       sync.Mutex
	breakers map[string]*resilience.WorkerSpawnBreaker
}

// New builds an Orchestrator. coverage may be nil if gap classification
// is not needed (e.g. synthetic/in-memory data sources with no index).
// metrics may be nil; a nil registry simply means RunBatch records nothing.
func New(coverage *CoverageCache, ticks TickSource, bars BarSource, metrics *observability.BacktestMetrics) *Orchestrator {
	return &Orchestrator{
		coverage: coverage, ticks: ticks, bars: bars, metrics: metrics,
		breakers: map[string]*resilience.WorkerSpawnBreaker{},
	}
}

// breakerFor returns (creating if absent) the circuit breaker guarding
// worker spawns for a given decision-logic type. One breaker per type: a
// misconfigured decision logic that crashes on construction for every
// scenario referencing it should not burn a spawn attempt per remaining
// scenario of that type (SPEC_FULL.md §11).
func (o *Orchestrator) breakerFor(decisionLogicType string) *resilience.WorkerSpawnBreaker {
	o.mu.Lock()
	defer o.mu.Unlock()
	if cb, ok := o.breakers[decisionLogicType]; ok {
		return cb
	}
	cb := resilience.NewWorkerSpawnBreaker(decisionLogicType)
	o.breakers[decisionLogicType] = cb
	return cb
}

// RunBatch executes Phases 0 through 2 for set, calling run for every
// scenario that passes validation. Cancellation is cooperative: ctx is
// checked between scenario dispatches and within the tick loop (via the
// context the caller's TickLoop.Run honors), so an aborted batch returns
// partial results rather than corrupting state (§5).
func (o *Orchestrator) RunBatch(ctx context.Context, set config.ScenarioSet, warmupsByInstance map[string][]WorkerWarmup, strictWarmup bool, mode ExecutionMode, run WorkerFunc) ([]simtypes.ProcessResult, error) {
	// Phase 0.
	reqs := CollectRequirements(set, warmupsByInstance)

	// Phase 0.5.
	coverageBySymbol := map[string]CoverageReport{}
	if o.coverage != nil {
		symbols := map[string]bool{}
		for _, w := range reqs.Warmups {
			symbols[w.Symbol] = true
		}
		for _, tr := range reqs.TickRanges {
			symbols[tr.Symbol] = true
		}
		for symbol := range symbols {
			// Coverage is computed against the warmup timeframe(s) declared
			// for that symbol; absent any, skip (no index to classify).
			for _, w := range reqs.Warmups {
				if w.Symbol != symbol {
					continue
				}
				report, err := o.coverage.Get(symbol, w.Timeframe)
				if err != nil {
					return nil, err
				}
				coverageBySymbol[symbol] = report
				break
			}
		}
	}

	// Phase 1 + 1.5.
	prep := &Preparer{Ticks: o.ticks, Bars: o.bars, Warmups: reqs.Warmups}
	type preparedScenario struct {
		index      int
		scenario   config.Scenario
		bundle     *ScenarioBundle
		validation ValidationResult
	}
	prepared := make([]preparedScenario, 0, len(set.Scenarios))

	validCount := 0
	for i, sc := range set.Scenarios {
		maxTicks := 0
		if sc.MaxTicks != nil {
			maxTicks = *sc.MaxTicks
		}
		bundle, err := prep.Prepare(i, TickRangeRequirement{
			Symbol: sc.Symbol, StartTime: sc.StartTime, EndTime: sc.EndTime, MaxTicks: maxTicks,
		}, sc.Name)
		if err != nil {
			prepared = append(prepared, preparedScenario{
				index: i, scenario: sc,
				validation: ValidationResult{Valid: false, Errors: []string{err.Error()}},
			})
			continue
		}
		v := ValidateScenario(bundle, coverageBySymbol[sc.Symbol], AllowedGapsDefault, strictWarmup)
		if v.Valid {
			validCount++
		}
		prepared = append(prepared, preparedScenario{index: i, scenario: sc, bundle: bundle, validation: v})
	}

	invalidCount := len(prepared) - validCount
	if o.metrics != nil {
		o.metrics.ScenariosValid.Set(float64(validCount))
		o.metrics.ScenariosInvalid.Set(float64(invalidCount))
	}

	if validCount == 0 {
		return nil, &simtypes.DataQualityError{Reason: "all scenarios failed validation; batch aborted"}
	}

	batchStart := time.Now()
	observability.LogBatchStart(ctx, len(prepared), validCount, string(mode))

	// Phase 2.
	results := make([]simtypes.ProcessResult, len(prepared))
	concurrency := runtime.GOMAXPROCS(0)
	if mode == ModeThreadParallel {
		concurrency = 1
	}
	sem := make(chan struct{}, max1(concurrency))
	var wg sync.WaitGroup
	var running int64

	for _, ps := range prepared {
		ps := ps
		if !ps.validation.Valid {
			results[ps.index] = simtypes.ProcessResult{
				Success: false, Name: ps.scenario.Name, Symbol: ps.scenario.Symbol,
				ScenarioIndex: ps.index, ErrorKind: "DataQuality",
				ErrorMessage: joinErrors(ps.validation.Errors),
			}
			continue
		}
		if ctx.Err() != nil {
			results[ps.index] = simtypes.ProcessResult{
				Success: false, Name: ps.scenario.Name, Symbol: ps.scenario.Symbol,
				ScenarioIndex: ps.index, ErrorKind: "Cancelled", ErrorMessage: ctx.Err().Error(),
			}
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			n := atomic.AddInt64(&running, 1)
			if o.metrics != nil {
				o.metrics.ScenariosRunning.Set(float64(n))
			}
			results[ps.index] = o.dispatch(ctx, ps.index, ps.scenario, set, ps.bundle, run)
			n = atomic.AddInt64(&running, -1)
			if o.metrics != nil {
				o.metrics.ScenariosRunning.Set(float64(n))
			}
		}()
	}
	wg.Wait()

	succeeded, failed := 0, 0
	for _, r := range results {
		if r.Success {
			succeeded++
		} else {
			failed++
		}
	}
	observability.LogBatchEnd(ctx, time.Since(batchStart), succeeded, failed)

	return results, nil
}

func (o *Orchestrator) dispatch(ctx context.Context, index int, sc config.Scenario, set config.ScenarioSet, bundle *ScenarioBundle, run WorkerFunc) simtypes.ProcessResult {
	payload := WorkerPayload{
		ScenarioIndex: index, ScenarioName: sc.Name, Scenario: sc, Set: set, Bundle: bundle,
	}
	// Round-trip through the wire format even for in-process dispatch: the
	// payload a worker receives must be exactly what crosses the boundary
	// in a genuinely process-isolated deployment, so the contract is
	// exercised identically regardless of how the hosting binary wires
	// actual OS-process spawning.
	encoded, err := EncodePayload(payload)
	if err != nil {
		return simtypes.ProcessResult{Success: false, Name: sc.Name, Symbol: sc.Symbol, ScenarioIndex: index, ErrorKind: "InternalInvariant", ErrorMessage: err.Error()}
	}
	decoded, err := DecodePayload(encoded)
	if err != nil {
		return simtypes.ProcessResult{Success: false, Name: sc.Name, Symbol: sc.Symbol, ScenarioIndex: index, ErrorKind: "InternalInvariant", ErrorMessage: err.Error()}
	}

	cb := o.breakerFor(set.Global.StrategyConfig.DecisionLogicType)
	start := time.Now()
	result, err := resilience.RunWorkerSpawn(cb, func() (simtypes.ProcessResult, error) {
		res := run(ctx, decoded)
		if !res.Success {
			return res, fmt.Errorf("scenario %q failed: %s", sc.Name, res.ErrorMessage)
		}
		return res, nil
	})
	if err != nil {
		if result.Name == "" {
			result = simtypes.ProcessResult{
				Success: false, Name: sc.Name, Symbol: sc.Symbol, ScenarioIndex: index,
				ErrorKind: "ContractViolation", ErrorMessage: err.Error(),
			}
		}
	}
	result.ExecutionTimeMs = time.Since(start).Milliseconds()
	return result
}

func joinErrors(errs []string) string {
	if len(errs) == 0 {
		return ""
	}
	msg := errs[0]
	if len(errs) > 1 {
		msg += fmt.Sprintf(" (+%d more)", len(errs)-1)
	}
	return msg
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
