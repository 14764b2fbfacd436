// Package pendingorder implements the three-world pending-order pipeline
// of §4.3/§4.4: a latency queue (world 1) plus the active limit and stop
// books (worlds 2 and 3, owned by the caller — see execution.Executor).
// This package owns world 1 and the shared stats/outcome bookkeeping every
// world feeds into.
package pendingorder

import (
	"fmt"

	"jax-backtest-core/libs/seedgen"
	"jax-backtest-core/libs/simtypes"
)

// Manager is the abstract PendingOrderManager contract of §4.3: an arena
// of in-flight orders keyed by order id, plus outcome/stat bookkeeping.
// LatencySimulator embeds Manager and adds tick-scheduled release.
type Manager struct {
	orders map[simtypes.OrderID]*simtypes.PendingOrder
	stats  simtypes.PendingOrderStats
}

func newManager() Manager {
	return Manager{orders: map[simtypes.OrderID]*simtypes.PendingOrder{}}
}

// Store inserts a pending order. order.ID must be unique; a duplicate is
// an InternalInvariant violation (the id arena's one invariant) since ids
// are minted by simtypes.NewOrderID and never reused.
func (m *Manager) Store(order simtypes.PendingOrder) error {
	if _, exists := m.orders[order.ID]; exists {
		return &simtypes.InternalInvariantError{Invariant: fmt.Sprintf("duplicate pending order id %s", order.ID)}
	}
	cp := order
	m.orders[order.ID] = &cp
	return nil
}

// Remove removes and returns a pending order, or ok=false if not found.
func (m *Manager) Remove(id simtypes.OrderID) (simtypes.PendingOrder, bool) {
	o, ok := m.orders[id]
	if !ok {
		return simtypes.PendingOrder{}, false
	}
	delete(m.orders, id)
	return *o, true
}

// HasPending reports whether any order is still in the latency queue.
func (m *Manager) HasPending() bool {
	return len(m.orders) > 0
}

// IsPendingClose reports whether a CLOSE order for positionID is currently
// queued.
func (m *Manager) IsPendingClose(positionID simtypes.OrderID) bool {
	for _, o := range m.orders {
		if o.Action == simtypes.ActionClose && o.PositionID == positionID {
			return true
		}
	}
	return false
}

// GetPending returns all orders currently queued, in a stable (insertion-
// adjacent) order determined by the caller's own index if needed; map
// iteration order is not guaranteed, so LatencySimulator additionally
// tracks insertion order for Phase 1 dispatch (see LatencySimulator below).
func (m *Manager) GetPending() []simtypes.PendingOrder {
	out := make([]simtypes.PendingOrder, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, *o)
	}
	return out
}

// RecordOutcome folds a resolved order's outcome into the running stats
// (§4.3). Only TIMED_OUT and FORCE_CLOSED also append an individual
// PendingOrderRecord to AnomalyOrders.
func (m *Manager) RecordOutcome(order simtypes.PendingOrder, outcome simtypes.PendingOutcome, latencyTicks int, reason string) {
	switch outcome {
	case simtypes.OutcomeFilled:
		m.stats.FilledCount++
	case simtypes.OutcomeRejected:
		m.stats.RejectedCount++
	case simtypes.OutcomeTimedOut:
		m.stats.TimedOutCount++
		m.stats.AnomalyOrders = append(m.stats.AnomalyOrders, simtypes.PendingOrderRecord{
			OrderID: order.ID, Outcome: outcome, Reason: reason, AtTick: order.FillAtTick,
		})
	case simtypes.OutcomeForceClosed:
		m.stats.ForceClosedCount++
		m.stats.AnomalyOrders = append(m.stats.AnomalyOrders, simtypes.PendingOrderRecord{
			OrderID: order.ID, Outcome: outcome, Reason: reason, AtTick: order.FillAtTick,
		})
	}
	if outcome == simtypes.OutcomeFilled || outcome == simtypes.OutcomeRejected {
		m.stats.Observe(latencyTicks)
	}
}

// Stats returns a copy of the running aggregate.
func (m *Manager) Stats() simtypes.PendingOrderStats {
	return m.stats
}

// Clear records every order still in the queue as FORCE_CLOSED and empties
// storage (§4.3's clear(current_tick, reason)).
func (m *Manager) Clear(currentTick int, reason string) []simtypes.PendingOrder {
	cleared := make([]simtypes.PendingOrder, 0, len(m.orders))
	for _, o := range m.orders {
		cp := *o
		cleared = append(cleared, cp)
		m.RecordOutcome(cp, simtypes.OutcomeForceClosed, currentTick-cp.PlacedAtTick, reason)
	}
	m.orders = map[simtypes.OrderID]*simtypes.PendingOrder{}
	return cleared
}

// LatencySimulator is §4.2.1's simulation subclass: it adds tick-count-
// based fill-at-tick scheduling to Manager's storage/outcome contract.
type LatencySimulator struct {
	Manager
	apiLatency      *seedgen.Generator
	marketExecution *seedgen.Generator
	minDelay        int
	maxDelay        int
	insertionOrder  []simtypes.OrderID // world-1 release ordering, §4.2.1
}

// DefaultMinDelayTicks and DefaultMaxDelayTicks are §4.2.1's documented
// default latency range.
const (
	DefaultMinDelayTicks = 2
	DefaultMaxDelayTicks = 10
)

// NewLatencySimulator creates a LatencySimulator with the given per-role
// generators and delay bounds.
func NewLatencySimulator(apiLatency, marketExecution *seedgen.Generator, minDelay, maxDelay int) *LatencySimulator {
	if minDelay == 0 && maxDelay == 0 {
		minDelay, maxDelay = DefaultMinDelayTicks, DefaultMaxDelayTicks
	}
	return &LatencySimulator{
		Manager:         newManager(),
		apiLatency:      apiLatency,
		marketExecution: marketExecution,
		minDelay:        minDelay,
		maxDelay:        maxDelay,
	}
}

// drawDelay draws the combined api_latency + market_execution delay per
// §4.2.1.
func (l *LatencySimulator) drawDelay() (int, error) {
	a, err := l.apiLatency.NextDelay(l.minDelay, l.maxDelay)
	if err != nil {
		return 0, err
	}
	b, err := l.marketExecution.NextDelay(l.minDelay, l.maxDelay)
	if err != nil {
		return 0, err
	}
	return a + b, nil
}

// SubmitOpen schedules an OPEN order for latency-delayed release.
func (l *LatencySimulator) SubmitOpen(order simtypes.PendingOrder, currentTick int) error {
	delay, err := l.drawDelay()
	if err != nil {
		return err
	}
	order.PlacedAtTick = currentTick
	order.FillAtTick = currentTick + delay
	if err := l.Manager.Store(order); err != nil {
		return err
	}
	l.insertionOrder = append(l.insertionOrder, order.ID)
	return nil
}

// SubmitClose schedules a CLOSE order the same way as SubmitOpen.
func (l *LatencySimulator) SubmitClose(positionID simtypes.OrderID, order simtypes.PendingOrder, currentTick int) error {
	order.PositionID = positionID
	return l.SubmitOpen(order, currentTick)
}

// ProcessTick returns and removes all orders whose FillAtTick <=
// currentTick, in insertion order among simultaneously due orders
// (§4.2.1).
func (l *LatencySimulator) ProcessTick(currentTick int) []simtypes.PendingOrder {
	var due []simtypes.PendingOrder
	remaining := l.insertionOrder[:0:0]
	for _, id := range l.insertionOrder {
		o, ok := l.Manager.orders[id]
		if !ok {
			continue
		}
		if o.FillAtTick <= currentTick {
			due = append(due, *o)
			delete(l.Manager.orders, id)
		} else {
			remaining = append(remaining, id)
		}
	}
	l.insertionOrder = remaining
	return due
}

// Clear overrides Manager.Clear to also drop the insertion-order index.
func (l *LatencySimulator) Clear(currentTick int, reason string) []simtypes.PendingOrder {
	cleared := l.Manager.Clear(currentTick, reason)
	l.insertionOrder = nil
	return cleared
}
