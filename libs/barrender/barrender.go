// Package barrender aggregates ticks into OHLC bars per configured
// timeframe (§4.5), synthesizing bars across tick-stream gaps so worker
// bar history stays temporally continuous. Grounded on the GBM-based
// OHLC generator's invariant discipline (high >= max(open,close), low <=
// min(open,close)) from the retrieval pack's deterministic builder, and on
// libs/dataset/registry.go's ring-history handling style.
package barrender

import (
	"time"

	"github.com/shopspring/decimal"

	"jax-backtest-core/libs/simtypes"
)

// DefaultMaxHistory is §4.5's default ring length.
const DefaultMaxHistory = 1000

type series struct {
	timeframe time.Duration
	current   *simtypes.Bar
	history   []simtypes.Bar
	maxLen    int
}

// Renderer maintains one series per (symbol, timeframe).
type Renderer struct {
	series map[string]*series // keyed by symbol+timeframe
	maxLen int
}

// New creates a Renderer. maxLen <= 0 means the §4.5 default (1000).
func New(maxLen int) *Renderer {
	if maxLen <= 0 {
		maxLen = DefaultMaxHistory
	}
	return &Renderer{series: map[string]*series{}, maxLen: maxLen}
}

func key(symbol string, tf time.Duration) string {
	return symbol + "|" + tf.String()
}

// EnsureSeries registers a (symbol, timeframe) pair so History can be
// queried for it even before the first tick arrives — used to satisfy
// worker warmup requirements collected in §4.9 Phase 0.
func (r *Renderer) EnsureSeries(symbol string, tf time.Duration) {
	k := key(symbol, tf)
	if _, ok := r.series[k]; !ok {
		r.series[k] = &series{timeframe: tf, maxLen: r.maxLen}
	}
}

func alignedOpenTime(ts time.Time, tf time.Duration) time.Time {
	return ts.Truncate(tf)
}

// ProcessTick folds one tick into every registered (symbol, *) series and
// returns the bars that closed as a result (§4.5).
func (r *Renderer) ProcessTick(tick simtypes.Tick) []simtypes.Bar {
	var closed []simtypes.Bar
	mid := tick.Mid()
	for k, s := range r.series {
		if len(k) <= len(tick.Symbol) || k[:len(tick.Symbol)] != tick.Symbol || k[len(tick.Symbol)] != '|' {
			continue
		}
		if bar := s.fold(tick, mid); bar != nil {
			closed = append(closed, *bar)
		}
	}
	return closed
}

func (s *series) openInterval(ts time.Time) time.Time {
	return alignedOpenTime(ts, s.timeframe)
}

func (s *series) fold(tick simtypes.Tick, mid decimal.Decimal) *simtypes.Bar {
	interval := s.openInterval(tick.Timestamp)

	if s.current == nil {
		s.current = &simtypes.Bar{
			Symbol: tick.Symbol, Timeframe: simtypes.Timeframe(s.timeframe),
			OpenTime: interval, Open: mid, High: mid, Low: mid, Close: mid,
			Volume: tick.RealVolume, TickCount: 1, BarType: simtypes.BarReal,
		}
		return nil
	}

	if interval.Equal(s.current.OpenTime) {
		if mid.GreaterThan(s.current.High) {
			s.current.High = mid
		}
		if mid.LessThan(s.current.Low) {
			s.current.Low = mid
		}
		s.current.Close = mid
		s.current.Volume += tick.RealVolume
		s.current.TickCount++
		return nil
	}

	closedBar := *s.current
	s.appendHistory(closedBar)

	// Synthesize bars for any fully-missed intervals in between, so
	// worker bar history stays temporally continuous (§4.5).
	lastClose := closedBar.Close
	next := s.current.OpenTime.Add(s.timeframe)
	for next.Before(interval) {
		synth := simtypes.Bar{
			Symbol: tick.Symbol, Timeframe: simtypes.Timeframe(s.timeframe),
			OpenTime: next, Open: lastClose, High: lastClose, Low: lastClose, Close: lastClose,
			BarType: simtypes.BarSynthetic,
		}
		s.appendHistory(synth)
		next = next.Add(s.timeframe)
	}

	s.current = &simtypes.Bar{
		Symbol: tick.Symbol, Timeframe: simtypes.Timeframe(s.timeframe),
		OpenTime: interval, Open: mid, High: mid, Low: mid, Close: mid,
		Volume: tick.RealVolume, TickCount: 1, BarType: simtypes.BarReal,
	}
	return &closedBar
}

func (s *series) appendHistory(bar simtypes.Bar) {
	if s.maxLen <= 0 || len(s.history) < s.maxLen {
		s.history = append(s.history, bar)
		return
	}
	copy(s.history, s.history[1:])
	s.history[len(s.history)-1] = bar
}

// History returns the ring-buffered closed-bar history for (symbol, tf).
func (r *Renderer) History(symbol string, tf time.Duration) []simtypes.Bar {
	s, ok := r.series[key(symbol, tf)]
	if !ok {
		return nil
	}
	out := make([]simtypes.Bar, len(s.history))
	copy(out, s.history)
	return out
}

// CurrentBar returns the in-progress bar for (symbol, tf), if any.
func (r *Renderer) CurrentBar(symbol string, tf time.Duration) (simtypes.Bar, bool) {
	s, ok := r.series[key(symbol, tf)]
	if !ok || s.current == nil {
		return simtypes.Bar{}, false
	}
	return *s.current, true
}
