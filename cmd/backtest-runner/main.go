// cmd/backtest-runner is the thin entry point that wires the backtest
// core's libraries together into a runnable binary. Reading scenario/tick
// data off disk, indicator algorithms and CLI ergonomics generally are
// explicitly out of scope for the core itself (§1); this binary exists
// only to exercise the wiring end to end, the way cmd/research exercises
// the orchestration libs in jax-trading-assistant.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"jax-backtest-core/libs/barrender"
	"jax-backtest-core/libs/config"
	"jax-backtest-core/libs/decision"
	"jax-backtest-core/libs/execution"
	"jax-backtest-core/libs/observability"
	"jax-backtest-core/libs/orchestrator"
	"jax-backtest-core/libs/pendingorder"
	"jax-backtest-core/libs/portfolio"
	"jax-backtest-core/libs/seedgen"
	"jax-backtest-core/libs/simtypes"
	"jax-backtest-core/libs/tickloop"
	"jax-backtest-core/libs/worker"
)

func main() {
	scenarioPath := flag.String("scenario", "", "path to a scenario set JSON document")
	brokerPath := flag.String("broker", "", "path to a broker config JSON document")
	tickDir := flag.String("ticks", "", "directory of <symbol>.jsonl tick files")
	flag.Parse()

	if *scenarioPath == "" || *brokerPath == "" || *tickDir == "" {
		log.Fatal("backtest-runner: -scenario, -broker and -ticks are all required")
	}

	set, broker, err := loadConfigs(*scenarioPath, *brokerPath)
	if err != nil {
		log.Fatalf("backtest-runner: %v", err)
	}

	ctx := observability.WithRunInfo(context.Background(), observability.RunInfo{RunID: observability.NewRunID()})
	metricsReg := observability.NewRegistry()
	metrics := observability.NewBacktestMetrics(metricsReg)

	ticks := &jsonlTickSource{dir: *tickDir}
	orc := orchestrator.New(nil, ticks, noWarmupBars{}, metrics)

	results, err := orc.RunBatch(ctx, *set, nil, false, orchestrator.DetectExecutionMode(), func(ctx context.Context, payload orchestrator.WorkerPayload) simtypes.ProcessResult {
		return runScenario(ctx, payload, broker, metrics)
	})
	if err != nil {
		log.Fatalf("backtest-runner: batch aborted: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		log.Fatalf("backtest-runner: encode results: %v", err)
	}

	reportPath := filepath.Join(os.TempDir(), "jax-backtest-metrics.prom")
	if f, err := os.Create(reportPath); err == nil {
		metricsReg.WriteText(f)
		f.Close()
	}
}

func loadConfigs(scenarioPath, brokerPath string) (*config.ScenarioSet, *config.BrokerConfig, error) {
	raw, err := os.ReadFile(scenarioPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read scenario config: %w", err)
	}
	set, err := config.LoadScenarioSet(raw)
	if err != nil {
		return nil, nil, err
	}

	raw, err = os.ReadFile(brokerPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read broker config: %w", err)
	}
	broker, err := config.LoadBrokerConfig(raw)
	if err != nil {
		return nil, nil, err
	}
	return set, broker, nil
}

// runScenario builds a fresh worker registry, executor and decision logic
// for one scenario from its payload and drives it through a TickLoop
// (§4.9 Phase 2 steps 2-5). Nothing here is shared across scenarios: each
// invocation constructs its own state, matching the process-isolation
// contract even though this binary runs every scenario in one process.
func runScenario(ctx context.Context, payload orchestrator.WorkerPayload, broker *config.BrokerConfig, metrics *observability.BacktestMetrics) simtypes.ProcessResult {
	ctx = observability.WithRunInfo(ctx, observability.RunInfo{Symbol: payload.Scenario.Symbol})

	global := payload.Set.Global
	sim := global.TradeSimulatorConfig
	pm := portfolio.New(sim.InitialBalance, broker.BrokerInfo.Leverage, global.ExecutionConfig.TradeHistoryMax)

	// Seeds and stress config follow §6's cascade: a scenario's own
	// override wins over the batch-wide default.
	seeds := payload.Set.EffectiveSeeds(payload.ScenarioIndex)
	ls := pendingorder.NewLatencySimulator(seedgen.New(seeds.APILatencySeed), seedgen.New(seeds.MarketExecutionSeed), 1, 3)

	var rejectionGen *seedgen.Generator
	stress := execution.StressConfig{}
	if st := payload.Set.EffectiveStressTest(payload.ScenarioIndex); st != nil && st.Enabled {
		stress = execution.StressConfig{Enabled: true, Probability: st.Probability}
		rejectionGen = seedgen.New(st.Seed)
	}

	ex := execution.New(pm, ls, broker.Symbols, broker.FeeStructure, stress, rejectionGen, global.ExecutionConfig.OrderHistoryMax)
	renderer := barrender.New(global.ExecutionConfig.BarMaxHistory)

	registry := worker.NewRegistry()
	threshold := time.Duration(global.ExecutionConfig.WorkerParallelThresholdMs * float64(time.Millisecond))
	if threshold <= 0 {
		threshold = worker.DefaultParallelThreshold
	}
	coord := worker.NewCoordinator(registry, threshold)

	logic := newBuiltinDecisionLogic(global.StrategyConfig.DecisionLogicType)
	if logic == nil {
		return simtypes.ProcessResult{
			Success: false, Name: payload.ScenarioName, Symbol: payload.Scenario.Symbol,
			ScenarioIndex: payload.ScenarioIndex, ErrorKind: "InvalidConfig",
			ErrorMessage: fmt.Sprintf("unknown decision_logic_type %q", global.StrategyConfig.DecisionLogicType),
		}
	}

	loop, err := tickloop.New(tickloop.Config{
		Executor: ex, Portfolio: pm, BarRenderer: renderer, Coordinator: coord,
		Logic: logic, API: decision.NewTradingAPI(ex),
		WorkerBarSpec: map[string]tickloop.BarHistorySpec{},
		ScenarioIndex: payload.ScenarioIndex, ScenarioName: payload.ScenarioName,
		Metrics: metrics,
	}, registry.Names(), []simtypes.OrderType{simtypes.OrderMarket, simtypes.OrderLimit, simtypes.OrderStop, simtypes.OrderStopLimit})
	if err != nil {
		return simtypes.ProcessResult{
			Success: false, Name: payload.ScenarioName, Symbol: payload.Scenario.Symbol,
			ScenarioIndex: payload.ScenarioIndex, ErrorKind: "ContractViolation", ErrorMessage: err.Error(),
		}
	}

	result, err := loop.Run(ctx, payload.Bundle.Ticks)
	if err != nil {
		return simtypes.ProcessResult{
			Success: false, Name: payload.ScenarioName, Symbol: payload.Scenario.Symbol,
			ScenarioIndex: payload.ScenarioIndex, ErrorKind: "InternalInvariant", ErrorMessage: err.Error(),
		}
	}

	return simtypes.ProcessResult{
		Success: true, Name: payload.ScenarioName, Symbol: payload.Scenario.Symbol,
		ScenarioIndex: payload.ScenarioIndex, TickLoopResult: &result,
	}
}

// jsonlTickSource reads one newline-delimited JSON file per symbol. This
// is a stand-in for the out-of-scope "tick import from vendor JSON"
// collaborator (§1), just enough for this binary to run end to end.
type jsonlTickSource struct{ dir string }

type tickLine struct {
	Symbol       string          `json:"symbol"`
	Timestamp    time.Time       `json:"timestamp"`
	Bid          json.Number     `json:"bid"`
	Ask          json.Number     `json:"ask"`
	SpreadPoints json.Number     `json:"spread_points"`
	RealVolume   int64           `json:"real_volume,omitempty"`
	TickVolume   int64           `json:"tick_volume,omitempty"`
}

func (s *jsonlTickSource) LoadTicks(symbol string, start, end time.Time, maxTicks int) ([]simtypes.Tick, error) {
	f, err := os.Open(filepath.Join(s.dir, symbol+".jsonl"))
	if err != nil {
		return nil, fmt.Errorf("backtest-runner: open tick file for %s: %w", symbol, err)
	}
	defer f.Close()

	var out []simtypes.Tick
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var line tickLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			return nil, fmt.Errorf("backtest-runner: decode tick line: %w", err)
		}
		if line.Timestamp.Before(start) || line.Timestamp.After(end) {
			continue
		}
		bid, _ := decimalFromNumber(line.Bid)
		ask, _ := decimalFromNumber(line.Ask)
		spread, _ := decimalFromNumber(line.SpreadPoints)
		out = append(out, simtypes.Tick{
			Symbol: symbol, Timestamp: line.Timestamp, Bid: bid, Ask: ask,
			SpreadPoints: spread, RealVolume: line.RealVolume, TickVolume: line.TickVolume,
		})
		if maxTicks > 0 && len(out) >= maxTicks {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("backtest-runner: scan tick file for %s: %w", symbol, err)
	}
	return out, nil
}

// noWarmupBars is a BarSource that never supplies warmup history; bar-index
// storage is out of scope for the core (§1), so a hosting binary that
// needs warmup bars must supply its own BarSource.
type noWarmupBars struct{}

func (noWarmupBars) LoadWarmupBars(symbol string, timeframe time.Duration, count int, before time.Time) ([]simtypes.Bar, error) {
	return nil, nil
}

func decimalFromNumber(n json.Number) (decimal.Decimal, error) {
	if n == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(n.String())
}
