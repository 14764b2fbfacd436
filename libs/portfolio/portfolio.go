// Package portfolio is the single source of truth for balance, equity,
// open positions, and realized trade history (§4.2). It is the only
// component that mutates account state; SimulationExecutor calls into it
// but never duplicates its bookkeeping.
package portfolio

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"jax-backtest-core/libs/simtypes"
)

// quote is the last known bid/ask for a symbol, used to mark open
// positions to market on read.
type quote struct {
	bid decimal.Decimal
	ask decimal.Decimal
}

// Manager implements §4.2's PortfolioManager. Not safe for concurrent use
// from multiple goroutines without external synchronization — a single
// scenario owns exactly one Manager (§3 "ownership"), so none is needed
// for the tick-loop hot path; the mutex exists only to let
// GetOpenPositions be called safely from a concurrent progress-reporting
// goroutine.
type Manager struct {
	mu sync.RWMutex

	balance    decimal.Decimal
	marginUsed decimal.Decimal
	leverage   float64

	quotes        map[string]quote
	openPositions map[simtypes.OrderID]*simtypes.Position

	tradeHistory    []simtypes.TradeRecord
	tradeHistoryMax int // 0 = unbounded
	tradeHistoryPos int

	totalProfit     decimal.Decimal
	totalLoss       decimal.Decimal
	totalSpreadCost decimal.Decimal

	warnedTradeOverflow bool
}

// DefaultTradeHistoryMax is §5's default ring cap.
const DefaultTradeHistoryMax = 5000

// New creates a Manager with the given starting balance and leverage.
// tradeHistoryMax 0 selects the default (5000); only a negative value
// leaves the trade history uncapped.
func New(initialBalance decimal.Decimal, leverage float64, tradeHistoryMax int) *Manager {
	if tradeHistoryMax == 0 {
		tradeHistoryMax = DefaultTradeHistoryMax
	}
	return &Manager{
		balance:         initialBalance,
		leverage:        leverage,
		quotes:          map[string]quote{},
		openPositions:   map[simtypes.OrderID]*simtypes.Position{},
		tradeHistoryMax: tradeHistoryMax,
	}
}

// UpdatePrices records the latest bid/ask for tick.Symbol (§4.2).
func (m *Manager) UpdatePrices(tick simtypes.Tick) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotes[tick.Symbol] = quote{bid: tick.Bid, ask: tick.Ask}
}

// unrealizedPnL computes a position's mark-to-market P&L using the same
// formula as realized close (§3's gross_pnl formula), against the last
// known quote for its symbol.
func (m *Manager) unrealizedPnL(p *simtypes.Position) decimal.Decimal {
	q, ok := m.quotes[p.Symbol]
	if !ok {
		return decimal.Zero
	}
	price := q.bid
	if p.Direction == simtypes.Long {
		price = q.bid // a long position is marked at the price it could sell at (bid)
	} else {
		price = q.ask // a short position is marked at the price it could buy back at (ask)
	}
	return grossPnL(p.Direction, p.EntryPrice, price, p.Digits, p.TickValue, p.Lots)
}

// grossPnL implements §3's exact formula:
//
//	points = (exit_price - entry_price) * 10^digits * (LONG? +1 : -1)
//	gross_pnl = points * tick_value * lots
func grossPnL(dir simtypes.Direction, entry, exit decimal.Decimal, digits int32, tickValue, lots decimal.Decimal) decimal.Decimal {
	diff := exit.Sub(entry)
	scale := decimal.New(1, digits)
	sign := decimal.NewFromInt(1)
	if dir == simtypes.Short {
		sign = decimal.NewFromInt(-1)
	}
	points := diff.Mul(scale).Mul(sign)
	return points.Mul(tickValue).Mul(lots)
}

// RequiredMargin computes the margin §4.2 requires for an order.
func RequiredMargin(lots, contractSize, price decimal.Decimal, leverage float64) decimal.Decimal {
	if leverage <= 0 {
		leverage = 1
	}
	notional := lots.Mul(contractSize).Mul(price)
	return notional.Div(decimal.NewFromFloat(leverage))
}

// Equity returns balance plus unrealized P&L across open positions.
func (m *Manager) Equity() decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.equityLocked()
}

func (m *Manager) equityLocked() decimal.Decimal {
	eq := m.balance
	for _, p := range m.openPositions {
		eq = eq.Add(m.unrealizedPnL(p))
	}
	return eq
}

// FreeMargin returns equity minus margin currently committed to open
// positions.
func (m *Manager) FreeMargin() decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.equityLocked().Sub(m.marginUsed)
}

// CanOpen reports whether an order of the given size at the given price
// can be opened given current free margin (§4.2).
func (m *Manager) CanOpen(lots, contractSize, price decimal.Decimal) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.canOpenLocked(lots, contractSize, price)
}

func (m *Manager) canOpenLocked(lots, contractSize, price decimal.Decimal) bool {
	required := RequiredMargin(lots, contractSize, price, m.leverage)
	free := m.equityLocked().Sub(m.marginUsed)
	return required.LessThanOrEqual(free)
}

// OpenPositionInput carries everything OpenPosition needs to create a
// Position and charge its entry fee.
type OpenPositionInput struct {
	OrderID        simtypes.OrderID
	Symbol         string
	Direction      simtypes.Direction
	Lots           decimal.Decimal
	EntryPrice     decimal.Decimal
	EntryTime      time.Time
	EntryTickIndex int
	EntryType      simtypes.OrderType
	StopLoss       *decimal.Decimal
	TakeProfit     *decimal.Decimal
	EntryFee       decimal.Decimal
	TickValue      decimal.Decimal
	Digits         int32
	ContractSize   decimal.Decimal
}

// OpenPosition adds a confirmed position, deducting margin and the entry
// fee from balance (§4.2). Returns InsufficientMarginError (non-fatal, per
// §7) if the margin check fails; callers must check CanOpen beforehand if
// they want to avoid paying the cost of building the input, but
// OpenPosition re-checks via the same canOpenLocked helper for safety,
// since margin can move between the caller's check and this call.
func (m *Manager) OpenPosition(in OpenPositionInput) (*simtypes.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	required := RequiredMargin(in.Lots, in.ContractSize, in.EntryPrice, m.leverage)
	if !m.canOpenLocked(in.Lots, in.ContractSize, in.EntryPrice) {
		free := m.equityLocked().Sub(m.marginUsed)
		return nil, &simtypes.InsufficientMarginError{Required: required, Free: free}
	}

	pos := &simtypes.Position{
		ID:             in.OrderID,
		Symbol:         in.Symbol,
		Direction:      in.Direction,
		Lots:           in.Lots,
		EntryPrice:     in.EntryPrice,
		EntryTime:      in.EntryTime,
		EntryTickIndex: in.EntryTickIndex,
		EntryType:      in.EntryType,
		StopLoss:       in.StopLoss,
		TakeProfit:     in.TakeProfit,
		TickValue:      in.TickValue,
		Digits:         in.Digits,
		ContractSize:   in.ContractSize,
		SpreadCost:     in.EntryFee,
	}
	m.openPositions[pos.ID] = pos
	m.marginUsed = m.marginUsed.Add(required)
	m.balance = m.balance.Sub(in.EntryFee)
	m.totalSpreadCost = m.totalSpreadCost.Add(in.EntryFee)

	return pos, nil
}

// ClosePositionInput carries what ClosePosition needs beyond the stored
// Position.
type ClosePositionInput struct {
	PositionID    simtypes.OrderID
	ExitPrice     decimal.Decimal
	ExitTickIndex int
	ExitTime      time.Time
	ExitFee       decimal.Decimal
	SwapCost      decimal.Decimal
}

// ClosePosition realizes P&L for an open position, releases its margin,
// appends a TradeRecord, and returns it (§4.2). Returns
// PositionNotFoundError (non-fatal) if positionID is unknown.
func (m *Manager) ClosePosition(in ClosePositionInput) (*simtypes.TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.openPositions[in.PositionID]
	if !ok {
		return nil, &simtypes.PositionNotFoundError{PositionID: in.PositionID}
	}
	delete(m.openPositions, in.PositionID)

	required := RequiredMargin(pos.Lots, pos.ContractSize, pos.EntryPrice, m.leverage)
	m.marginUsed = m.marginUsed.Sub(required)

	gross := grossPnL(pos.Direction, pos.EntryPrice, in.ExitPrice, pos.Digits, pos.TickValue, pos.Lots)
	totalFees := pos.SpreadCost.Add(in.ExitFee).Add(in.SwapCost)
	net := gross.Sub(totalFees)

	m.balance = m.balance.Add(net)
	if net.GreaterThanOrEqual(decimal.Zero) {
		m.totalProfit = m.totalProfit.Add(net)
	} else {
		m.totalLoss = m.totalLoss.Add(net.Abs())
	}
	m.totalSpreadCost = m.totalSpreadCost.Add(in.ExitFee)

	rec := simtypes.TradeRecord{
		PositionID:     pos.ID,
		Symbol:         pos.Symbol,
		Direction:      pos.Direction,
		Lots:           pos.Lots,
		Digits:         pos.Digits,
		ContractSize:   pos.ContractSize,
		EntryPrice:     pos.EntryPrice,
		ExitPrice:      in.ExitPrice,
		EntryTickIndex: pos.EntryTickIndex,
		ExitTickIndex:  in.ExitTickIndex,
		EntryTime:      pos.EntryTime,
		ExitTime:       in.ExitTime,
		SpreadCost:     pos.SpreadCost.Add(in.ExitFee),
		CommissionCost: decimal.Zero,
		SwapCost:       in.SwapCost,
		GrossPnL:       gross,
		NetPnL:         net,
		TickValue:      pos.TickValue,
	}
	m.appendTrade(rec)
	return &rec, nil
}

// appendTrade enforces the ring cap described in §4.2/§5.
func (m *Manager) appendTrade(rec simtypes.TradeRecord) {
	if m.tradeHistoryMax <= 0 || len(m.tradeHistory) < m.tradeHistoryMax {
		m.tradeHistory = append(m.tradeHistory, rec)
		return
	}
	m.tradeHistory[m.tradeHistoryPos] = rec
	m.tradeHistoryPos = (m.tradeHistoryPos + 1) % m.tradeHistoryMax
	if !m.warnedTradeOverflow {
		m.warnedTradeOverflow = true
	}
}

// GetOpenPositions returns confirmed positions only, never pending orders
// (§4.2).
func (m *Manager) GetOpenPositions() []simtypes.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]simtypes.Position, 0, len(m.openPositions))
	for _, p := range m.openPositions {
		out = append(out, *p)
	}
	return out
}

// GetPosition returns a single open position by id.
func (m *Manager) GetPosition(id simtypes.OrderID) (*simtypes.Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.openPositions[id]
	if !ok {
		return nil, false
	}
	cp := *p
	return &cp, true
}

// ModifyPosition updates a position's stop-loss/take-profit in place,
// honoring the tri-state sentinel (§4.4.5).
func (m *Manager) ModifyPosition(id simtypes.OrderID, sl, tp simtypes.PriceOverride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.openPositions[id]
	if !ok {
		return &simtypes.PositionNotFoundError{PositionID: id}
	}
	applyOverride(&pos.StopLoss, sl)
	applyOverride(&pos.TakeProfit, tp)
	return nil
}

func applyOverride(field **decimal.Decimal, o simtypes.PriceOverride) {
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

// TradeHistory returns a copy of the ring-ordered trade history (oldest
// first is not guaranteed once the ring has wrapped; callers needing
// strict chronological order should track ExitTickIndex).
func (m *Manager) TradeHistory() []simtypes.TradeRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]simtypes.TradeRecord, len(m.tradeHistory))
	copy(out, m.tradeHistory)
	return out
}

// Stats snapshots portfolio accounting for reporting (§6).
func (m *Manager) Stats() simtypes.PortfolioStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return simtypes.PortfolioStats{
		Balance:         m.balance,
		Equity:          m.equityLocked(),
		MarginUsed:      m.marginUsed,
		FreeMargin:      m.equityLocked().Sub(m.marginUsed),
		TotalProfit:     m.totalProfit,
		TotalLoss:       m.totalLoss,
		TotalSpreadCost: m.totalSpreadCost,
		OpenPositions:   len(m.openPositions),
	}
}

// ValidateLots enforces §4's LotValidation rule: lots must fall within
// [volume_min, volume_max] and align to volume_step.
func ValidateLots(lots, volumeMin, volumeMax, volumeStep decimal.Decimal) error {
	if lots.LessThan(volumeMin) {
		return &simtypes.LotValidationError{Lots: lots, Reason: "below volume_min"}
	}
	if lots.GreaterThan(volumeMax) {
		return &simtypes.LotValidationError{Lots: lots, Reason: "above volume_max"}
	}
	if volumeStep.GreaterThan(decimal.Zero) {
		steps := lots.Div(volumeStep)
		if !steps.Equal(steps.Round(0)) {
			return &simtypes.LotValidationError{Lots: lots, Reason: "not aligned to volume_step"}
		}
	}
	return nil
}
