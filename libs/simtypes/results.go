package simtypes

import "github.com/shopspring/decimal"

// PendingOrderRecord is an individual anomaly record — only TIMED_OUT and
// FORCE_CLOSED outcomes get one (§4.3: "Only TIMED_OUT and FORCE_CLOSED
// also append an individual PendingOrderRecord to anomaly_orders").
type PendingOrderRecord struct {
	OrderID   OrderID
	Outcome   PendingOutcome
	Reason    string
	AtTick    int
}

// PendingOrderStats is the running aggregate maintained by a
// PendingOrderManager across a scenario.
type PendingOrderStats struct {
	FilledCount      int
	RejectedCount    int
	TimedOutCount    int
	ForceClosedCount int

	LatencyMinTicks int
	LatencyMaxTicks int
	latencySum      int
	latencyN        int

	AnomalyOrders []PendingOrderRecord
}

// LatencyAvgTicks returns the running mean latency, or 0 if no order has
// resolved yet.
func (s *PendingOrderStats) LatencyAvgTicks() float64 {
	if s.latencyN == 0 {
		return 0
	}
	return float64(s.latencySum) / float64(s.latencyN)
}

// Observe folds one resolved order's latency into the running stats. Not
// exported beyond this package's own callers' use of the struct fields
// directly would be wrong since min/max/avg must stay consistent; keep the
// update logic here.
func (s *PendingOrderStats) Observe(latencyTicks int) {
	if s.latencyN == 0 || latencyTicks < s.LatencyMinTicks {
		s.LatencyMinTicks = latencyTicks
	}
	if s.latencyN == 0 || latencyTicks > s.LatencyMaxTicks {
		s.LatencyMaxTicks = latencyTicks
	}
	s.latencySum += latencyTicks
	s.latencyN++
}

// ExecutionStats mirrors §6's execution_stats block.
type ExecutionStats struct {
	OrdersSent     int
	OrdersExecuted int
	OrdersRejected int
}

// ProfileTable is per-pipeline-stage timing captured once per tick and
// aggregated for the scenario (§4.8).
type ProfileTable struct {
	StageNanos map[string]int64
	StageCalls map[string]int64
}

func NewProfileTable() *ProfileTable {
	return &ProfileTable{StageNanos: map[string]int64{}, StageCalls: map[string]int64{}}
}

func (p *ProfileTable) Record(stage string, nanos int64) {
	p.StageNanos[stage] += nanos
	p.StageCalls[stage]++
}

// PortfolioStats is a read-only snapshot of portfolio accounting state for
// reporting.
type PortfolioStats struct {
	Balance        decimal.Decimal
	Equity         decimal.Decimal
	MarginUsed     decimal.Decimal
	FreeMargin     decimal.Decimal
	TotalProfit    decimal.Decimal
	TotalLoss      decimal.Decimal
	TotalSpreadCost decimal.Decimal
	OpenPositions  int
}

// TickLoopResult is what TickLoop.Run assembles at the end of a scenario.
type TickLoopResult struct {
	PortfolioStats     PortfolioStats
	TradeHistory       []TradeRecord
	OrderHistory       []OrderResult
	PendingStats       PendingOrderStats
	DecisionStatistics map[DecisionAction]int
	Profile            *ProfileTable
	ExecutionStats     ExecutionStats
	ActiveLimitOrders  []PendingOrder
	ActiveStopOrders   []PendingOrder
}

// ProcessStatus is the live-progress channel's status enum (§6).
type ProcessStatus string

const (
	StatusInit              ProcessStatus = "INIT"
	StatusRunning           ProcessStatus = "RUNNING"
	StatusCompleted         ProcessStatus = "COMPLETED"
	StatusFinishedWithError ProcessStatus = "FINISHED_WITH_ERROR"
)

// ProgressUpdate is one message on the lossy live-progress channel.
type ProgressUpdate struct {
	ScenarioIndex    int
	ScenarioName     string
	Status           ProcessStatus
	TicksProcessed   int
	TotalTicks       int
	ProgressPercent  float64
	CurrentBalance   decimal.Decimal
	TotalTrades      int
}

// ProcessResult is one scenario's outcome in a batch (§6).
type ProcessResult struct {
	Success         bool
	Name            string
	Symbol          string
	ScenarioIndex   int
	ExecutionTimeMs int64
	TickLoopResult  *TickLoopResult
	ErrorKind       string
	ErrorMessage    string
	LogBuffer       []string
}
