package main

import (
	"github.com/shopspring/decimal"

	"jax-backtest-core/libs/decision"
	"jax-backtest-core/libs/simtypes"
)

// newBuiltinDecisionLogic resolves a decision_logic_type name to one of the
// two trivial reference logics this binary ships. Real indicator-driven
// decision logic is out of scope for the core (§1's "concrete indicator
// algorithms"); these exist only so the wiring has something to drive.
func newBuiltinDecisionLogic(name string) decision.DecisionLogic {
	switch name {
	case "always_flat":
		return &alwaysFlatLogic{}
	case "buy_and_hold":
		return &buyAndHoldLogic{}
	default:
		return nil
	}
}

// alwaysFlatLogic never submits an order. Useful for exercising the
// pipeline (bar rendering, worker dispatch, profiling) without any
// position risk.
type alwaysFlatLogic struct{}

func (l *alwaysFlatLogic) Name() string { return "always_flat" }

func (l *alwaysFlatLogic) Contract() decision.Contract { return decision.Contract{} }

func (l *alwaysFlatLogic) Compute(tick simtypes.Tick, workers map[string]simtypes.WorkerResult, stats simtypes.PortfolioStats) (simtypes.Decision, error) {
	return simtypes.Decision{Action: simtypes.DecisionFlat, Timestamp: tick.Timestamp}, nil
}

func (l *alwaysFlatLogic) Execute(api decision.TradingAPI, dec simtypes.Decision, tick simtypes.Tick, tickIndex int) error {
	return nil
}

// buyAndHoldLogic opens a single long market position on the first tick
// and never touches it again.
type buyAndHoldLogic struct {
	opened bool
}

func (l *buyAndHoldLogic) Name() string { return "buy_and_hold" }

func (l *buyAndHoldLogic) Contract() decision.Contract {
	return decision.Contract{RequiredOrderTypes: []simtypes.OrderType{simtypes.OrderMarket}}
}

func (l *buyAndHoldLogic) Compute(tick simtypes.Tick, workers map[string]simtypes.WorkerResult, stats simtypes.PortfolioStats) (simtypes.Decision, error) {
	if l.opened {
		return simtypes.Decision{Action: simtypes.DecisionFlat, Timestamp: tick.Timestamp}, nil
	}
	return simtypes.Decision{Action: simtypes.DecisionBuy, Price: tick.Ask, Timestamp: tick.Timestamp}, nil
}

func (l *buyAndHoldLogic) Execute(api decision.TradingAPI, dec simtypes.Decision, tick simtypes.Tick, tickIndex int) error {
	if dec.Action != simtypes.DecisionBuy || l.opened {
		return nil
	}
	l.opened = true
	return api.SubmitOpen(simtypes.PendingOrder{
		Type: simtypes.OrderMarket, Symbol: tick.Symbol, Direction: simtypes.Long, Lots: decimal.NewFromFloat(0.01),
	}, tickIndex)
}
