package orchestrator

import (
	"fmt"
	"time"

	"jax-backtest-core/libs/simtypes"
)

// TickSource loads a tick stretch for one scenario, auto-skipping to the
// first available tick after any leading gap (§4.9 Phase 1). The external
// data layer implements this; loading from a specific storage format is
// out of scope here.
type TickSource interface {
	LoadTicks(symbol string, start, end time.Time, maxTicks int) ([]simtypes.Tick, error)
}

// BarSource loads warmup bars for one (symbol, timeframe, count) need.
type BarSource interface {
	LoadWarmupBars(symbol string, timeframe time.Duration, count int, before time.Time) ([]simtypes.Bar, error)
}

// ScenarioBundle is the immutable, read-only package of data one
// scenario's worker operates on. Workers never write into a bundle; the
// owning process holds it and hands out read-only views across the
// process-isolation boundary (§4.9: "the engine relies on immutability,
// not on a specific sharing mechanism").
type ScenarioBundle struct {
	ScenarioIndex int
	ScenarioName  string
	Symbol        string
	StartTime     time.Time // the scenario's configured start, not Ticks[0]'s
	Ticks         []simtypes.Tick
	WarmupBars    map[string][]simtypes.Bar // keyed by symbol|timeframe
}

func warmupKey(symbol string, tf time.Duration) string {
	return symbol + "|" + tf.String()
}

// WarmupBarsFor returns the warmup bars loaded for (symbol, timeframe),
// or nil if none were requested for that pair.
func (b *ScenarioBundle) WarmupBarsFor(symbol string, tf time.Duration) []simtypes.Bar {
	return b.WarmupBars[warmupKey(symbol, tf)]
}

// Preparer implements Phase 1: loading and packaging bundles.
type Preparer struct {
	Ticks   TickSource
	Bars    BarSource
	Warmups []WarmupRequirement
}

// Prepare builds one scenario's bundle. Ticks are loaded first (auto-skip
// handled by the TickSource implementation), then warmup bars for every
// requirement touching this scenario's symbol.
func (p *Preparer) Prepare(scenarioIndex int, sc TickRangeRequirement, scenarioName string) (*ScenarioBundle, error) {
	ticks, err := p.Ticks.LoadTicks(sc.Symbol, sc.StartTime, sc.EndTime, sc.MaxTicks)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: load ticks for scenario %q: %w", scenarioName, err)
	}

	bundle := &ScenarioBundle{
		ScenarioIndex: scenarioIndex,
		ScenarioName:  scenarioName,
		Symbol:        sc.Symbol,
		StartTime:     sc.StartTime,
		Ticks:         ticks,
		WarmupBars:    map[string][]simtypes.Bar{},
	}

	for _, w := range p.Warmups {
		if w.Symbol != sc.Symbol {
			continue
		}
		bars, err := p.Bars.LoadWarmupBars(w.Symbol, w.Timeframe, w.BarCount, sc.StartTime)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: load warmup bars for scenario %q: %w", scenarioName, err)
		}
		bundle.WarmupBars[warmupKey(w.Symbol, w.Timeframe)] = bars
	}

	return bundle, nil
}
