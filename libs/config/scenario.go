package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// StressTestConfig configures the seeded rejection filter (§4.4.4).
type StressTestConfig struct {
	Enabled     bool    `json:"enabled"`
	Seed        int64   `json:"seed"`
	Probability float64 `json:"probability"`
}

// Seeds carries the two (or three) generator seeds a scenario needs
// (§4.1, §6).
type Seeds struct {
	APILatencySeed      int64  `json:"api_latency_seed"`
	MarketExecutionSeed int64  `json:"market_execution_seed"`
	RejectionSeed       *int64 `json:"rejection_seed,omitempty"`
}

// StrategyConfig is the global, non-per-scenario-overridable strategy
// wiring (§6: "worker_instances … is global-only and cannot be overridden
// per scenario").
type StrategyConfig struct {
	DecisionLogicType    string                     `json:"decision_logic_type"`
	WorkerInstances      map[string]string          `json:"worker_instances"`
	Workers              map[string]json.RawMessage `json:"workers"`
	DecisionLogicConfig  json.RawMessage            `json:"decision_logic_config,omitempty"`
}

// ExecutionConfig controls the worker-parallelism threshold and resource
// caps (§4.6, §5).
type ExecutionConfig struct {
	ParallelWorkers            int     `json:"parallel_workers"`
	WorkerParallelThresholdMs  float64 `json:"worker_parallel_threshold_ms"`
	StrictParameterValidation bool    `json:"strict_parameter_validation"`
	OrderHistoryMax            int     `json:"order_history_max,omitempty"`
	TradeHistoryMax             int     `json:"trade_history_max,omitempty"`
	BarMaxHistory               int     `json:"bar_max_history,omitempty"`
}

// TradeSimulatorConfig carries the broker reference and seeds (§6).
type TradeSimulatorConfig struct {
	BrokerConfigRef string          `json:"broker_config_ref"`
	InitialBalance  decimal.Decimal `json:"initial_balance"`
	Currency        string          `json:"currency"`
	Seeds           Seeds           `json:"seeds"`
}

// Global is the scenario-set-wide defaults block (§6).
type Global struct {
	StrategyConfig       StrategyConfig        `json:"strategy_config"`
	ExecutionConfig      ExecutionConfig       `json:"execution_config"`
	TradeSimulatorConfig TradeSimulatorConfig  `json:"trade_simulator_config"`
	StressTestConfig     *StressTestConfig     `json:"stress_test_config,omitempty"`
}

// DataMode selects the tick-stream filtering discipline (GLOSSARY).
type DataMode string

const (
	DataModeClean     DataMode = "clean"
	DataModeRealistic DataMode = "realistic"
	DataModeRaw       DataMode = "raw"
)

// ScenarioOverride holds the per-leaf fields a scenario may override from
// Global. Nil/zero fields mean "inherit". WorkerInstances is deliberately
// absent here: per §6 it is global-only.
type ScenarioOverride struct {
	StressTestConfig *StressTestConfig `json:"stress_test_config,omitempty"`
	Seeds            *Seeds            `json:"seeds,omitempty"`
}

// Scenario is one entry of ScenarioSet.Scenarios (§6).
type Scenario struct {
	Name      string           `json:"name"`
	Symbol    string           `json:"symbol"`
	StartTime time.Time        `json:"start_time"`
	EndTime   time.Time        `json:"end_time"`
	MaxTicks  *int             `json:"max_ticks,omitempty"`
	DataMode  DataMode         `json:"data_mode,omitempty"`
	Override  ScenarioOverride `json:"override,omitempty"`
}

// ScenarioSet is the top-level decoded scenario configuration document.
type ScenarioSet struct {
	Version         string     `json:"version"`
	ScenarioSetName string     `json:"scenario_set_name"`
	Global          Global     `json:"global"`
	Scenarios       []Scenario `json:"scenarios"`
}

// LoadScenarioSet decodes and validates a scenario configuration document.
func LoadScenarioSet(raw []byte) (*ScenarioSet, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var set ScenarioSet
	if err := dec.Decode(&set); err != nil {
		return nil, fmt.Errorf("config: decode scenario set: %w", err)
	}
	if err := set.validate(); err != nil {
		return nil, err
	}
	return &set, nil
}

func (s *ScenarioSet) validate() error {
	if s.Version == "" {
		return fmt.Errorf("config: version is required")
	}
	if s.ScenarioSetName == "" {
		return fmt.Errorf("config: scenario_set_name is required")
	}
	if len(s.Scenarios) == 0 {
		return fmt.Errorf("config: at least one scenario is required")
	}
	if s.Global.StrategyConfig.DecisionLogicType == "" {
		return fmt.Errorf("config: global.strategy_config.decision_logic_type is required")
	}
	for i, sc := range s.Scenarios {
		if sc.Name == "" {
			return fmt.Errorf("config: scenarios[%d].name is required", i)
		}
		if sc.Symbol == "" {
			return fmt.Errorf("config: scenarios[%d].symbol is required", i)
		}
		if !sc.EndTime.After(sc.StartTime) {
			return fmt.Errorf("config: scenarios[%d]: end_time must be after start_time", i)
		}
	}
	return nil
}

// EffectiveSeeds resolves a scenario's seeds: an explicit per-scenario
// override wins; otherwise falls back to the global seeds, with the
// api_latency and market_execution seeds offset by the scenario's batch
// index (see SPEC_FULL.md §12, adapted from the teacher's walk-forward
// window seeding). The rejection seed is not offset.
func (s *ScenarioSet) EffectiveSeeds(scenarioIndex int) Seeds {
	sc := s.Scenarios[scenarioIndex]
	if sc.Override.Seeds != nil {
		return *sc.Override.Seeds
	}
	base := s.Global.TradeSimulatorConfig.Seeds
	return Seeds{
		APILatencySeed:      base.APILatencySeed + int64(scenarioIndex),
		MarketExecutionSeed: base.MarketExecutionSeed + int64(scenarioIndex),
		RejectionSeed:       base.RejectionSeed,
	}
}

// EffectiveStressTest resolves a scenario's stress-test config: per-
// scenario override wins, else global, else nil (disabled).
func (s *ScenarioSet) EffectiveStressTest(scenarioIndex int) *StressTestConfig {
	sc := s.Scenarios[scenarioIndex]
	if sc.Override.StressTestConfig != nil {
		return sc.Override.StressTestConfig
	}
	return s.Global.StressTestConfig
}
