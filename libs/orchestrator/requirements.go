package orchestrator

import (
	"time"

	"jax-backtest-core/libs/config"
)

// WarmupRequirement is one (symbol, timeframe) pair a scenario's workers
// need bar history for, plus how many bars of warmup they need before the
// first tick.
type WarmupRequirement struct {
	Symbol    string
	Timeframe time.Duration
	BarCount  int
}

// TickRangeRequirement is the tick span a scenario needs loaded.
type TickRangeRequirement struct {
	Symbol    string
	StartTime time.Time
	EndTime   time.Time
	MaxTicks  int
}

// Requirements is Phase 0's output: every scenario's tick range plus the
// deduplicated union of warmup-bar requirements across the whole batch.
type Requirements struct {
	TickRanges []TickRangeRequirement
	Warmups    []WarmupRequirement
}

// WorkerWarmup lets a worker declare what bar history it needs before the
// first tick, so Phase 0 can collect it without instantiating workers.
type WorkerWarmup struct {
	Symbol    string
	Timeframe time.Duration
	BarCount  int
}

// CollectRequirements walks scenario_set and, for each scenario, pulls its
// tick-range requirement plus the warmup requirements declared by
// warmupsByInstance (keyed by the worker instance names the scenario's
// global strategy_config.worker_instances lists), deduplicating identical
// (symbol, timeframe, count) triples (§4.9 Phase 0).
func CollectRequirements(set config.ScenarioSet, warmupsByInstance map[string][]WorkerWarmup) Requirements {
	var req Requirements
	seen := map[[3]any]bool{}

	for _, sc := range set.Scenarios {
		maxTicks := 0
		if sc.MaxTicks != nil {
			maxTicks = *sc.MaxTicks
		}
		req.TickRanges = append(req.TickRanges, TickRangeRequirement{
			Symbol:    sc.Symbol,
			StartTime: sc.StartTime,
			EndTime:   sc.EndTime,
			MaxTicks:  maxTicks,
		})
	}

	for instance := range set.Global.StrategyConfig.WorkerInstances {
		for _, w := range warmupsByInstance[instance] {
			key := [3]any{w.Symbol, w.Timeframe, w.BarCount}
			if seen[key] {
				continue
			}
			seen[key] = true
			req.Warmups = append(req.Warmups, WarmupRequirement{
				Symbol: w.Symbol, Timeframe: w.Timeframe, BarCount: w.BarCount,
			})
		}
	}
	return req
}
