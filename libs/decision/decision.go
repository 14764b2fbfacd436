// Package decision defines the DecisionLogic contract (§4.7) and a narrow
// TradingAPI facade that is the only surface decision logic gets onto
// execution.Executor — generalized from libs/strategies/strategy.go's
// Strategy interface (OnBar/OnStart) into compute/execute plus an explicit
// startup contract (required_worker_instances, required_order_types).
package decision

import (
	"time"

	"github.com/shopspring/decimal"

	"jax-backtest-core/libs/execution"
	"jax-backtest-core/libs/simtypes"
)

// TradingAPI is the only way decision logic can affect the portfolio. It
// deliberately exposes a subset of execution.Executor's methods so a
// DecisionLogic cannot reach into bar rendering, pending-order internals,
// or scenario orchestration.
type TradingAPI interface {
	SubmitOpen(order simtypes.PendingOrder, currentTick int) error
	SubmitClose(positionID simtypes.OrderID, currentTick int) error
	ModifyPosition(positionID simtypes.OrderID, sl, tp simtypes.PriceOverride) error
	ModifyLimitOrder(orderID simtypes.OrderID, price *decimal.Decimal, sl, tp simtypes.PriceOverride) error
	ModifyStopOrder(orderID simtypes.OrderID, stopPrice, limitPrice *decimal.Decimal, sl, tp simtypes.PriceOverride) error
}

// tradingAPI adapts *execution.Executor to TradingAPI. A struct wrapper
// rather than a direct type alias keeps the Executor's non-trading methods
// (OnTick, CloseAllRemainingOrders, stats accessors) off the interface.
type tradingAPI struct{ ex *execution.Executor }

// NewTradingAPI wraps an Executor as the facade decision logic receives.
func NewTradingAPI(ex *execution.Executor) TradingAPI { return &tradingAPI{ex: ex} }

func (a *tradingAPI) SubmitOpen(order simtypes.PendingOrder, currentTick int) error {
	return a.ex.SubmitOpen(order, currentTick)
}

func (a *tradingAPI) SubmitClose(positionID simtypes.OrderID, currentTick int) error {
	return a.ex.SubmitClose(positionID, currentTick)
}

func (a *tradingAPI) ModifyPosition(positionID simtypes.OrderID, sl, tp simtypes.PriceOverride) error {
	return a.ex.ModifyPosition(positionID, sl, tp)
}

func (a *tradingAPI) ModifyLimitOrder(orderID simtypes.OrderID, price *decimal.Decimal, sl, tp simtypes.PriceOverride) error {
	return a.ex.ModifyLimitOrder(orderID, price, sl, tp)
}

func (a *tradingAPI) ModifyStopOrder(orderID simtypes.OrderID, stopPrice, limitPrice *decimal.Decimal, sl, tp simtypes.PriceOverride) error {
	return a.ex.ModifyStopOrder(orderID, stopPrice, limitPrice, sl, tp)
}

// Contract declares what a DecisionLogic needs before it can run (§4.7):
// named worker instances it reads results from, and the order types it
// may submit. TickLoop validates this at startup, failing fast rather
// than discovering a missing worker mid-scenario.
type Contract struct {
	RequiredWorkerInstances []string
	RequiredOrderTypes      []simtypes.OrderType
}

// DecisionLogic is a pure decision function (compute) plus an imperative
// trading step (execute) that acts on compute's output. Splitting the two
// keeps Decision values loggable/replayable independent of execution
// side effects.
type DecisionLogic interface {
	Name() string
	Contract() Contract

	// Compute is pure: given this tick's worker results and the portfolio
	// snapshot, produce a Decision. It must not call the TradingAPI.
	Compute(tick simtypes.Tick, workerResults map[string]simtypes.WorkerResult, stats simtypes.PortfolioStats) (simtypes.Decision, error)

	// Execute turns a Decision into TradingAPI calls. Separated from
	// Compute so retries/replays of the decision step don't risk
	// double-submitting orders.
	Execute(api TradingAPI, decision simtypes.Decision, tick simtypes.Tick, tickIndex int) error
}

// ValidateContract checks a DecisionLogic's declared requirements against
// what a scenario actually wires up (registered worker instance names and
// the order types its symbol specs/config allow), failing fast per §4.7
// rather than surfacing a missing-worker panic mid-run.
func ValidateContract(c Contract, availableWorkers []string, allowedOrderTypes []simtypes.OrderType) error {
	have := make(map[string]bool, len(availableWorkers))
	for _, w := range availableWorkers {
		have[w] = true
	}
	for _, w := range c.RequiredWorkerInstances {
		if !have[w] {
			return &simtypes.ContractViolationError{Reason: "worker instance not registered: " + w}
		}
	}

	allowed := make(map[simtypes.OrderType]bool, len(allowedOrderTypes))
	for _, t := range allowedOrderTypes {
		allowed[t] = true
	}
	for _, t := range c.RequiredOrderTypes {
		if !allowed[t] {
			return &simtypes.ContractViolationError{Reason: "order type not permitted by scenario config: " + string(t)}
		}
	}
	return nil
}

// elapsedSince is a small helper decision logic implementations can use to
// keep their own cooldown/debounce state without importing time directly
// in every strategy file; mirrors the teacher's own small-helper style in
// libs/strategies.
func elapsedSince(t time.Time, now time.Time) time.Duration {
	return now.Sub(t)
}
