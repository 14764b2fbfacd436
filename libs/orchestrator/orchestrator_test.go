package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"jax-backtest-core/libs/config"
	"jax-backtest-core/libs/simtypes"
)

func TestClassifyGap(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want GapCategory
	}{
		{2 * time.Second, GapSeamless},
		{10 * time.Minute, GapShort},
		{2 * time.Hour, GapModerate},
		{50 * time.Hour, GapWeekend},
		{10 * time.Hour, GapLarge},
	}
	for _, c := range cases {
		if got := ClassifyGap(c.d); got != c.want {
			t.Errorf("ClassifyGap(%v) = %s, want %s", c.d, got, c.want)
		}
	}
}

type fakeIndexReader struct{ entries []BarIndexEntry }

func (f fakeIndexReader) ReadIndex(symbol string, tf time.Duration) ([]BarIndexEntry, error) {
	return f.entries, nil
}

func TestCoverageCacheComputesOnce(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	reader := fakeIndexReader{entries: []BarIndexEntry{
		{Time: base}, {Time: base.Add(time.Minute)}, {Time: base.Add(3 * time.Hour)},
	}}
	cache := NewCoverageCache(reader)

	r1, err := cache.Get("EURUSD", time.Minute)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(r1.Gaps) != 1 || r1.Gaps[0].Category != GapModerate {
		t.Fatalf("unexpected gaps: %+v", r1.Gaps)
	}

	r2, err := cache.Get("EURUSD", time.Minute)
	if err != nil {
		t.Fatalf("get (cached): %v", err)
	}
	if len(r2.Gaps) != len(r1.Gaps) {
		t.Fatalf("cached report diverged from first computation")
	}
}

type fakeTickSource struct{}

func (fakeTickSource) LoadTicks(symbol string, start, end time.Time, maxTicks int) ([]simtypes.Tick, error) {
	ticks := make([]simtypes.Tick, 0, 5)
	for i := 0; i < 5; i++ {
		ticks = append(ticks, simtypes.Tick{
			Symbol: symbol, Timestamp: start.Add(time.Duration(i) * time.Second),
			Bid: decimal.NewFromFloat(1.1), Ask: decimal.NewFromFloat(1.1002),
		})
	}
	return ticks, nil
}

type fakeBarSource struct{}

func (fakeBarSource) LoadWarmupBars(symbol string, tf time.Duration, count int, before time.Time) ([]simtypes.Bar, error) {
	return nil, nil
}

func TestRunBatchRunsValidScenario(t *testing.T) {
	maxTicks := 5
	set := config.ScenarioSet{
		Global: config.Global{StrategyConfig: config.StrategyConfig{DecisionLogicType: "always_flat"}},
		Scenarios: []config.Scenario{
			{Name: "ok", Symbol: "EURUSD", StartTime: time.Now(), EndTime: time.Now().Add(time.Minute), MaxTicks: &maxTicks},
		},
	}
	o := New(nil, fakeTickSource{}, fakeBarSource{}, nil)

	ran := false
	results, err := o.RunBatch(context.Background(), set, nil, false, ModeProcessParallel, func(ctx context.Context, p WorkerPayload) simtypes.ProcessResult {
		ran = true
		return simtypes.ProcessResult{Success: true, Name: p.ScenarioName, Symbol: p.Scenario.Symbol, ScenarioIndex: p.ScenarioIndex}
	})
	if err != nil {
		t.Fatalf("run batch: %v", err)
	}
	if !ran {
		t.Fatal("expected worker func to run for the valid scenario")
	}
	if len(results) != 1 || !results[0].Success {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestRunBatchAbortsWhenAllScenariosInvalid(t *testing.T) {
	set := config.ScenarioSet{
		Global: config.Global{StrategyConfig: config.StrategyConfig{DecisionLogicType: "always_flat"}},
		Scenarios: []config.Scenario{
			{Name: "empty", Symbol: "EURUSD", StartTime: time.Now(), EndTime: time.Now().Add(time.Minute)},
		},
	}
	o := New(nil, emptyTickSource{}, fakeBarSource{}, nil)
	_, err := o.RunBatch(context.Background(), set, nil, false, ModeProcessParallel, func(ctx context.Context, p WorkerPayload) simtypes.ProcessResult {
		t.Fatal("worker should never run when all scenarios are invalid")
		return simtypes.ProcessResult{}
	})
	if err == nil {
		t.Fatal("expected batch abort error")
	}
}

type emptyTickSource struct{}

func (emptyTickSource) LoadTicks(symbol string, start, end time.Time, maxTicks int) ([]simtypes.Tick, error) {
	return nil, nil
}

func TestPayloadRoundTripsThroughMsgpack(t *testing.T) {
	maxTicks := 3
	payload := WorkerPayload{
		ScenarioIndex: 2, ScenarioName: "rt",
		Scenario: config.Scenario{Name: "rt", Symbol: "USDJPY", MaxTicks: &maxTicks},
		Bundle: &ScenarioBundle{
			ScenarioIndex: 2, Symbol: "USDJPY",
			Ticks: []simtypes.Tick{{Symbol: "USDJPY", Bid: decimal.NewFromFloat(144.0), Ask: decimal.NewFromFloat(144.01)}},
		},
	}
	encoded, err := EncodePayload(payload)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodePayload(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.ScenarioName != "rt" || len(decoded.Bundle.Ticks) != 1 {
		t.Fatalf("round trip lost data: %+v", decoded)
	}
	if !decoded.Bundle.Ticks[0].Bid.Equal(decimal.NewFromFloat(144.0)) {
		t.Fatalf("decimal field lost precision across msgpack round trip: %s", decoded.Bundle.Ticks[0].Bid)
	}
}
