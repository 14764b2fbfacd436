// Package execution implements the shared fill/close/margin/fee engine of
// §4.4 — the single code path a simulation executor (and, per §9, a future
// live executor sharing the same Executor shape by delegation) drives
// pending orders through. Executor is the concrete type this
// package exports; it is the primary grounding target for
// libs/replay/replay.go's SimBroker fill logic, generalized from
// market/limit/stop to the full §4.4 three-phase pipeline plus STOP_LIMIT
// conversion and stress injection.
package execution

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"jax-backtest-core/libs/config"
	"jax-backtest-core/libs/observability"
	"jax-backtest-core/libs/pendingorder"
	"jax-backtest-core/libs/portfolio"
	"jax-backtest-core/libs/seedgen"
	"jax-backtest-core/libs/simtypes"
)

// Default resource caps (§5).
const (
	DefaultOrderHistoryMax = 10000
	DefaultBarMaxHistory   = 1000
)

// StressConfig configures §4.4.4's seeded rejection filter.
type StressConfig struct {
	Enabled     bool
	Probability float64
}

// Executor is §4.4's SimulationExecutor.
type Executor struct {
	portfolio *portfolio.Manager
	latency   *pendingorder.LatencySimulator

	activeLimitOrders []simtypes.PendingOrder // world 2
	activeStopOrders  []simtypes.PendingOrder // world 3

	symbolSpecs  map[string]config.SymbolSpec
	feeStructure config.FeeStructure

	stress       StressConfig
	rejectionGen *seedgen.Generator

	orderHistory    []simtypes.OrderResult
	orderHistoryMax int

	execStats simtypes.ExecutionStats

	lastTick simtypes.Tick
}

// New creates an Executor. symbolSpecs maps symbol -> broker symbol spec;
// orderHistoryMax 0 selects the §5 default (10000); only a negative value
// leaves the order history uncapped.
func New(pm *portfolio.Manager, latency *pendingorder.LatencySimulator, symbolSpecs map[string]config.SymbolSpec, fees config.FeeStructure, stress StressConfig, rejectionGen *seedgen.Generator, orderHistoryMax int) *Executor {
	if orderHistoryMax == 0 {
		orderHistoryMax = DefaultOrderHistoryMax
	}
	return &Executor{
		portfolio:       pm,
		latency:         latency,
		symbolSpecs:     symbolSpecs,
		feeStructure:    fees,
		stress:          stress,
		rejectionGen:    rejectionGen,
		orderHistoryMax: orderHistoryMax,
	}
}

// OrderHistory returns the recorded outcomes (§3: appended once per order,
// never mutated).
func (e *Executor) OrderHistory() []simtypes.OrderResult {
	out := make([]simtypes.OrderResult, len(e.orderHistory))
	copy(out, e.orderHistory)
	return out
}

// ExecutionStats returns the running §6 execution_stats counters.
func (e *Executor) ExecutionStats() simtypes.ExecutionStats {
	return e.execStats
}

// ActiveOrdersSnapshot exposes the current world-2/world-3 books, for
// §4.4.6's end-of-scenario snapshot and §6's reporting shape.
func (e *Executor) ActiveOrdersSnapshot() (limit, stop []simtypes.PendingOrder) {
	limit = make([]simtypes.PendingOrder, len(e.activeLimitOrders))
	copy(limit, e.activeLimitOrders)
	stop = make([]simtypes.PendingOrder, len(e.activeStopOrders))
	copy(stop, e.activeStopOrders)
	return limit, stop
}

func (e *Executor) appendHistory(r simtypes.OrderResult) {
	if e.orderHistoryMax <= 0 || len(e.orderHistory) < e.orderHistoryMax {
		e.orderHistory = append(e.orderHistory, r)
		return
	}
	copy(e.orderHistory, e.orderHistory[1:])
	e.orderHistory[len(e.orderHistory)-1] = r
}

// SubmitOpen is the TradingAPI's entry point for a new OPEN order (§4.2.1,
// §6). It increments orders_sent immediately; the order's ultimate
// EXECUTED/REJECTED fate is recorded asynchronously via latency + the
// pending pipeline.
func (e *Executor) SubmitOpen(order simtypes.PendingOrder, currentTick int) error {
	if order.ID == "" {
		order.ID = simtypes.NewOrderID()
	}
	order.Action = simtypes.ActionOpen
	e.execStats.OrdersSent++
	return e.latency.SubmitOpen(order, currentTick)
}

// SubmitClose is the TradingAPI's entry point for closing a position.
func (e *Executor) SubmitClose(positionID simtypes.OrderID, currentTick int) error {
	order := simtypes.PendingOrder{
		ID:     simtypes.NewOrderID(),
		Action: simtypes.ActionClose,
		Type:   simtypes.OrderMarket,
	}
	return e.latency.SubmitClose(positionID, order, currentTick)
}

// OnTick is §4.4.1's single entry point from TickLoop.
func (e *Executor) OnTick(tick simtypes.Tick, tickIndex int) error {
	e.lastTick = tick
	e.portfolio.UpdatePrices(tick)
	if err := e.processPendingOrders(tick, tickIndex); err != nil {
		return err
	}
	e.checkSLTPTriggers(tick, tickIndex)
	return nil
}

// processPendingOrders runs §4.4.2's three phases, in order.
func (e *Executor) processPendingOrders(tick simtypes.Tick, tickIndex int) error {
	// Phase 1 — latency drain.
	due := e.latency.ProcessTick(tickIndex)
	for _, order := range due {
		if e.stressRejects() {
			e.recordResolution(order, tickIndex, simtypes.OrderResult{
				OrderID: order.ID, Status: simtypes.StatusRejected,
				RejectionReason: simtypes.RejectBrokerError,
			}, "[STRESS TEST] seeded rejection")
			continue
		}

		switch {
		case order.Action == simtypes.ActionClose:
			e.fillCloseOrder(order, nil, tick, tickIndex)
		case order.Type == simtypes.OrderMarket:
			e.fillOpenOrder(order, nil, tick, tickIndex, simtypes.FillMarket, false)
		case order.Type == simtypes.OrderLimit:
			if e.limitTriggered(order, tick) {
				e.fillOpenOrder(order, ptr(order.EntryPrice), tick, tickIndex, simtypes.FillLimitImmediate, true)
			} else {
				e.activeLimitOrders = append(e.activeLimitOrders, order)
			}
		case order.Type == simtypes.OrderStop:
			if e.stopTriggered(order, tick) {
				e.fillOpenOrder(order, nil, tick, tickIndex, simtypes.FillStop, false)
			} else {
				e.activeStopOrders = append(e.activeStopOrders, order)
			}
		case order.Type == simtypes.OrderStopLimit:
			if e.stopTriggered(order, tick) {
				converted := order
				converted.EntryPrice = order.LimitPrice
				converted.FromStopLimit = true
				if e.limitTriggered(converted, tick) {
					e.fillOpenOrder(converted, ptr(converted.EntryPrice), tick, tickIndex, simtypes.FillStopLimit, true)
				} else {
					e.activeLimitOrders = append(e.activeLimitOrders, converted)
				}
			} else {
				e.activeStopOrders = append(e.activeStopOrders, order)
			}
		}
	}

	// Phase 2 — limit monitoring.
	remaining := e.activeLimitOrders[:0:0]
	for _, order := range e.activeLimitOrders {
		if e.limitTriggered(order, tick) {
			fillType := simtypes.FillLimit
			if order.FromStopLimit {
				fillType = simtypes.FillStopLimit
			}
			e.fillOpenOrder(order, ptr(order.EntryPrice), tick, tickIndex, fillType, true)
			continue
		}
		remaining = append(remaining, order)
	}
	e.activeLimitOrders = remaining

	// Phase 3 — stop monitoring.
	remainingStops := e.activeStopOrders[:0:0]
	for _, order := range e.activeStopOrders {
		if !e.stopTriggered(order, tick) {
			remainingStops = append(remainingStops, order)
			continue
		}
		if order.Type == simtypes.OrderStopLimit {
			converted := order
			converted.EntryPrice = order.LimitPrice
			converted.FromStopLimit = true
			// Strict ordering: Phase 2 for this tick has already run: the
			// converted order can only fill starting next tick's Phase 2.
			e.activeLimitOrders = append(e.activeLimitOrders, converted)
			continue
		}
		e.fillOpenOrder(order, nil, tick, tickIndex, simtypes.FillStop, false)
	}
	e.activeStopOrders = remainingStops

	return nil
}

func ptr(d decimal.Decimal) *decimal.Decimal { return &d }

func (e *Executor) limitTriggered(order simtypes.PendingOrder, tick simtypes.Tick) bool {
	if order.Direction == simtypes.Long {
		return tick.Ask.LessThanOrEqual(order.EntryPrice)
	}
	return tick.Bid.GreaterThanOrEqual(order.EntryPrice)
}

func (e *Executor) stopTriggered(order simtypes.PendingOrder, tick simtypes.Tick) bool {
	if order.Direction == simtypes.Long {
		return tick.Ask.GreaterThanOrEqual(order.EntryPrice)
	}
	return tick.Bid.LessThanOrEqual(order.EntryPrice)
}

// stressRejects draws the seeded Bernoulli stress filter (§4.4.4).
func (e *Executor) stressRejects() bool {
	if !e.stress.Enabled || e.rejectionGen == nil {
		return false
	}
	fire, err := e.rejectionGen.NextBool(e.stress.Probability)
	if err != nil {
		return false
	}
	return fire
}

// recordResolution appends an OrderResult to history and, for OPEN
// actions, updates execution_stats, then tells the pending manager the
// order's final fate so its latency/outcome stats stay consistent. The
// "latency" recorded here is time-to-resolution (fill tick minus placement
// tick), which is the only measurement that stays meaningful for orders
// that sat in the limit/stop books awaiting a price trigger rather than
// resolving immediately out of the latency queue.
func (e *Executor) recordResolution(order simtypes.PendingOrder, resolvedAtTick int, result simtypes.OrderResult, rejectComment string) {
	e.appendHistory(result)
	if order.Action == simtypes.ActionOpen {
		if result.Status == simtypes.StatusExecuted {
			e.execStats.OrdersExecuted++
		} else if result.Status == simtypes.StatusRejected {
			e.execStats.OrdersRejected++
		}
	}
	outcome := simtypes.OutcomeFilled
	if result.Status == simtypes.StatusRejected {
		outcome = simtypes.OutcomeRejected
	}
	e.latency.RecordOutcome(order, outcome, resolvedAtTick-order.PlacedAtTick, rejectComment)
}

// fillOpenOrder is §4.4.3's _fill_open_order: side-effect only, never
// returns success/failure — all outcomes go to order_history.
func (e *Executor) fillOpenOrder(order simtypes.PendingOrder, fillPriceOverride *decimal.Decimal, tick simtypes.Tick, tickIndex int, fillType simtypes.FillType, isMaker bool) {
	spec, ok := e.symbolSpecs[order.Symbol]
	if !ok {
		e.recordResolution(order, tickIndex, simtypes.OrderResult{
			OrderID: order.ID, Status: simtypes.StatusRejected,
			RejectionReason: simtypes.RejectBrokerError,
		}, "unknown symbol")
		return
	}

	if err := portfolio.ValidateLots(order.Lots, spec.VolumeMin, spec.VolumeMax, spec.VolumeStep); err != nil {
		e.recordResolution(order, tickIndex, simtypes.OrderResult{
			OrderID: order.ID, Status: simtypes.StatusRejected,
			RejectionReason: simtypes.RejectLotValidation,
		}, err.Error())
		return
	}

	price := e.resolveOpenPrice(order.Direction, tick, fillPriceOverride)
	fee := e.entryFee(order.Lots, spec, price, tick, isMaker)

	pos, err := e.portfolio.OpenPosition(portfolio.OpenPositionInput{
		OrderID:        order.ID,
		Symbol:         order.Symbol,
		Direction:      order.Direction,
		Lots:           order.Lots,
		EntryPrice:     price,
		EntryTime:      tick.Timestamp,
		EntryTickIndex: tickIndex,
		EntryType:      order.Type,
		StopLoss:       order.StopLoss,
		TakeProfit:     order.TakeProfit,
		EntryFee:       fee,
		TickValue:      spec.TickValue,
		Digits:         spec.Digits,
		ContractSize:   spec.ContractSize,
	})
	if err != nil {
		e.recordResolution(order, tickIndex, simtypes.OrderResult{
			OrderID: order.ID, Status: simtypes.StatusRejected,
			RejectionReason: simtypes.RejectInsufficientMargin,
		}, err.Error())
		return
	}
	_ = pos

	e.recordResolution(order, tickIndex, simtypes.OrderResult{
		OrderID: order.ID, Status: simtypes.StatusExecuted,
		ExecutedPrice: price, FillType: fillType,
	}, "")
}

func (e *Executor) resolveOpenPrice(dir simtypes.Direction, tick simtypes.Tick, override *decimal.Decimal) decimal.Decimal {
	if override != nil {
		return *override
	}
	if dir == simtypes.Long {
		return tick.Ask
	}
	return tick.Bid
}

func (e *Executor) resolveClosePrice(dir simtypes.Direction, tick simtypes.Tick, override *decimal.Decimal) decimal.Decimal {
	if override != nil {
		return *override
	}
	// Closing a LONG sells at bid; closing a SHORT buys back at ask.
	if dir == simtypes.Long {
		return tick.Bid
	}
	return tick.Ask
}

// entryFee implements §4.4.3 step 3's two fee models.
func (e *Executor) entryFee(lots decimal.Decimal, spec config.SymbolSpec, price decimal.Decimal, tick simtypes.Tick, isMaker bool) decimal.Decimal {
	switch e.feeStructure.Model {
	case config.FeeModelMakerTaker:
		rate := e.feeStructure.TakerFee
		if isMaker {
			rate = e.feeStructure.MakerFee
		}
		orderValue := lots.Mul(spec.ContractSize).Mul(price)
		return orderValue.Mul(rate).Div(decimal.NewFromInt(100))
	default: // spread model, and fallback
		return tick.SpreadPoints.Mul(spec.TickValue).Mul(lots)
	}
}

// fillCloseOrder is §4.4.3's close counterpart, driven through the same
// pending-order dispatch as opens. A close referencing an unknown
// position is PositionNotFoundError: logged, no-op, per §7 — it does not
// append to order_history, since no order outcome was ever produced.
func (e *Executor) fillCloseOrder(order simtypes.PendingOrder, fillPriceOverride *decimal.Decimal, tick simtypes.Tick, tickIndex int) {
	pos, ok := e.portfolio.GetPosition(order.PositionID)
	if !ok {
		observability.LogEvent(context.Background(), "warn", "close_position_not_found", map[string]any{
			"order_id":    order.ID,
			"position_id": order.PositionID,
		})
		return
	}

	price := e.resolveClosePrice(pos.Direction, tick, fillPriceOverride)
	spec := e.symbolSpecs[pos.Symbol]
	exitFee := e.entryFee(pos.Lots, spec, price, tick, false)

	_, err := e.portfolio.ClosePosition(portfolio.ClosePositionInput{
		PositionID:    order.PositionID,
		ExitPrice:     price,
		ExitTickIndex: tickIndex,
		ExitTime:      tick.Timestamp,
		ExitFee:       exitFee,
	})
	if err != nil {
		return
	}

	e.appendHistory(simtypes.OrderResult{
		OrderID: order.ID, Status: simtypes.StatusExecuted,
		ExecutedPrice: price, FillType: simtypes.FillMarket,
	})
}

// checkSLTPTriggers is §4.4.1 step 3: inline close on SL/TP crossing.
func (e *Executor) checkSLTPTriggers(tick simtypes.Tick, tickIndex int) {
	for _, pos := range e.portfolio.GetOpenPositions() {
		triggered := false
		if pos.StopLoss != nil {
			if pos.Direction == simtypes.Long && tick.Bid.LessThanOrEqual(*pos.StopLoss) {
				triggered = true
			}
			if pos.Direction == simtypes.Short && tick.Ask.GreaterThanOrEqual(*pos.StopLoss) {
				triggered = true
			}
		}
		if !triggered && pos.TakeProfit != nil {
			if pos.Direction == simtypes.Long && tick.Bid.GreaterThanOrEqual(*pos.TakeProfit) {
				triggered = true
			}
			if pos.Direction == simtypes.Short && tick.Ask.LessThanOrEqual(*pos.TakeProfit) {
				triggered = true
			}
		}
		if !triggered {
			continue
		}
		synthetic := simtypes.PendingOrder{
			ID:         simtypes.NewOrderID(),
			Action:     simtypes.ActionClose,
			PositionID: pos.ID,
		}
		e.fillCloseOrder(synthetic, nil, tick, tickIndex)
	}
}

// ModifyPosition implements §4.4.5's tri-state modification API for open
// positions.
func (e *Executor) ModifyPosition(positionID simtypes.OrderID, sl, tp simtypes.PriceOverride) error {
	return e.portfolio.ModifyPosition(positionID, sl, tp)
}

// ModifyLimitOrder updates a queued limit order's price and/or SL/TP,
// validated against the (new or current) limit price (§4.4.5).
func (e *Executor) ModifyLimitOrder(orderID simtypes.OrderID, price *decimal.Decimal, sl, tp simtypes.PriceOverride) error {
	for i := range e.activeLimitOrders {
		o := &e.activeLimitOrders[i]
		if o.ID != orderID {
			continue
		}
		if price != nil {
			o.EntryPrice = *price
		}
		applyOrderOverride(&o.StopLoss, sl)
		applyOrderOverride(&o.TakeProfit, tp)
		return nil
	}
	return &simtypes.InternalInvariantError{Invariant: "modify_limit_order: order not found in active_limit_orders"}
}

// ModifyStopOrder updates a queued stop/stop-limit order (§4.4.5).
func (e *Executor) ModifyStopOrder(orderID simtypes.OrderID, stopPrice, limitPrice *decimal.Decimal, sl, tp simtypes.PriceOverride) error {
	for i := range e.activeStopOrders {
		o := &e.activeStopOrders[i]
		if o.ID != orderID {
			continue
		}
		if stopPrice != nil {
			o.EntryPrice = *stopPrice
		}
		if limitPrice != nil {
			o.LimitPrice = *limitPrice
		}
		applyOrderOverride(&o.StopLoss, sl)
		applyOrderOverride(&o.TakeProfit, tp)
		return nil
	}
	return &simtypes.InternalInvariantError{Invariant: "modify_stop_order: order not found in active_stop_orders"}
}

func applyOrderOverride(field **decimal.Decimal, o simtypes.PriceOverride) {
	if !o.Set {
		return
	}
	if o.Clear {
		*field = nil
		return
	}
	v := o.Value
	*field = &v
}

// CloseAllRemainingOrders is §4.4.6's end-of-scenario cleanup.
func (e *Executor) CloseAllRemainingOrders(currentTick int, timestamp time.Time) []simtypes.PendingOrderRecord {
	tick := e.lastTick
	tick.Timestamp = timestamp

	for _, pos := range e.portfolio.GetOpenPositions() {
		synthetic := simtypes.PendingOrder{
			ID: simtypes.NewOrderID(), Action: simtypes.ActionClose, PositionID: pos.ID,
		}
		e.fillCloseOrder(synthetic, nil, tick, currentTick)
	}

	cleared := e.latency.Clear(currentTick, "scenario_end")
	records := make([]simtypes.PendingOrderRecord, 0, len(cleared))
	for _, o := range cleared {
		records = append(records, simtypes.PendingOrderRecord{
			OrderID: o.ID, Outcome: simtypes.OutcomeForceClosed, Reason: "scenario_end", AtTick: currentTick,
		})
	}
	// active_limit_orders and active_stop_orders are preserved, not
	// cleared, per §4.4.6 step 2 — ActiveOrdersSnapshot is how a caller
	// reports them.
	return records
}

// PendingStats exposes the latency manager's running aggregate.
func (e *Executor) PendingStats() simtypes.PendingOrderStats {
	return e.latency.Stats()
}
