// Package orchestrator implements the four-phase batch driver of §4.9:
// requirements collection, coverage/gap classification, data preparation,
// quality validation, and process-parallel execution. Grounded on
// internal/modules/orchestration/service.go's Service composition and
// upfront-validation style, and on libs/dataset/registry.go's
// content-hash-verified catalog, adapted here into a per-symbol coverage
// cache.
package orchestrator

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// GapCategory classifies a gap between two consecutive available bars
// against the symbol's expected bar spacing (§4.9 Phase 0.5).
type GapCategory string

const (
	GapSeamless GapCategory = "SEAMLESS" // < 5s
	GapShort    GapCategory = "SHORT"    // 5s - 30m
	GapModerate GapCategory = "MODERATE" // 30m - 4h
	GapWeekend  GapCategory = "WEEKEND"  // 40h - 80h
	GapLarge    GapCategory = "LARGE"    // > 4h, not weekend-shaped
)

// ClassifyGap buckets a gap duration into one of §4.9's five categories.
func ClassifyGap(d time.Duration) GapCategory {
	switch {
	case d < 5*time.Second:
		return GapSeamless
	case d < 30*time.Minute:
		return GapShort
	case d >= 40*time.Hour && d <= 80*time.Hour:
		return GapWeekend
	case d < 4*time.Hour:
		return GapModerate
	default:
		return GapLarge
	}
}

// Gap is one detected discontinuity in a symbol's bar index.
type Gap struct {
	Start    time.Time
	End      time.Time
	Category GapCategory
}

// CoverageReport is Phase 0.5's per-symbol output: the full set of gaps
// found by walking bar index metadata (no tick/bar data I/O — §4.9 is
// explicit that this phase reads only index metadata).
type CoverageReport struct {
	Symbol    string
	Gaps      []Gap
	ComputedAt time.Time
}

// BarIndexEntry is one (timestamp, present) marker read from an external
// bar index. IndexReader supplies these; loading/parsing the index itself
// is the external data layer's job, out of scope here per §1.
type BarIndexEntry struct {
	Time time.Time
}

// IndexReader reads bar-index metadata for symbol at the given
// timeframe, ordered by time, with no gaps pre-resolved.
type IndexReader interface {
	ReadIndex(symbol string, timeframe time.Duration) ([]BarIndexEntry, error)
}

// BuildCoverageReport walks entries and emits a Gap for every consecutive
// pair whose spacing exceeds the expected timeframe spacing.
func BuildCoverageReport(symbol string, timeframe time.Duration, entries []BarIndexEntry) CoverageReport {
	report := CoverageReport{Symbol: symbol}
	for i := 1; i < len(entries); i++ {
		prev, cur := entries[i-1].Time, entries[i].Time
		gap := cur.Sub(prev)
		if gap <= timeframe {
			continue
		}
		report.Gaps = append(report.Gaps, Gap{Start: prev, End: cur, Category: ClassifyGap(gap)})
	}
	return report
}

// coverageHash is a stable content hash over a report's gap list, used to
// detect whether a cached report still matches a freshly computed one —
// adapted from dataset.Registry's SHA-256 file-content verification,
// applied here to gap-list content instead of file bytes.
func coverageHash(report CoverageReport) (string, error) {
	encoded, err := json.Marshal(report.Gaps)
	if err != nil {
		return "", fmt.Errorf("orchestrator: hash coverage report: %w", err)
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}

// CoverageCache caches one CoverageReport per symbol and timeframe for a
// batch run (§4.9: "One report per symbol, cached"). Every cache hit still
// re-reads the bar index to verify the stored report (see Get).
type CoverageCache struct {
	reader IndexReader

	mu    sync.Mutex
	byKey map[string]cachedReport
}

type cachedReport struct {
	report CoverageReport
	hash   string
}

func NewCoverageCache(reader IndexReader) *CoverageCache {
	return &CoverageCache{reader: reader, byKey: map[string]cachedReport{}}
}

func cacheKey(symbol string, timeframe time.Duration) string {
	return symbol + "|" + timeframe.String()
}

// Get returns the report for (symbol, timeframe). On a cache hit it calls
// VerifyFresh first: a hash mismatch means the underlying bar index changed
// since the report was cached (e.g. the Orchestrator this cache belongs to
// ran an earlier batch against the same symbol), so the stale entry is
// evicted and the report recomputed rather than silently served.
func (c *CoverageCache) Get(symbol string, timeframe time.Duration) (CoverageReport, error) {
	key := cacheKey(symbol, timeframe)

	c.mu.Lock()
	cached, ok := c.byKey[key]
	c.mu.Unlock()

	if ok {
		fresh, err := c.VerifyFresh(symbol, timeframe)
		if err != nil {
			return CoverageReport{}, err
		}
		if fresh {
			return cached.report, nil
		}
	}

	return c.compute(symbol, timeframe)
}

// VerifyFresh reports whether the cached entry for (symbol, timeframe), if
// any, still matches a freshly read index. A symbol with no cached entry is
// trivially fresh (nothing to compare against).
func (c *CoverageCache) VerifyFresh(symbol string, timeframe time.Duration) (bool, error) {
	key := cacheKey(symbol, timeframe)
	c.mu.Lock()
	cached, ok := c.byKey[key]
	c.mu.Unlock()
	if !ok {
		return true, nil
	}

	entries, err := c.readSorted(symbol, timeframe)
	if err != nil {
		return false, err
	}
	report := BuildCoverageReport(symbol, timeframe, entries)
	hash, err := coverageHash(report)
	if err != nil {
		return false, err
	}
	return hash == cached.hash, nil
}

func (c *CoverageCache) compute(symbol string, timeframe time.Duration) (CoverageReport, error) {
	entries, err := c.readSorted(symbol, timeframe)
	if err != nil {
		return CoverageReport{}, err
	}

	report := BuildCoverageReport(symbol, timeframe, entries)
	hash, err := coverageHash(report)
	if err != nil {
		return CoverageReport{}, err
	}

	c.mu.Lock()
	c.byKey[cacheKey(symbol, timeframe)] = cachedReport{report: report, hash: hash}
	c.mu.Unlock()
	return report, nil
}

func (c *CoverageCache) readSorted(symbol string, timeframe time.Duration) ([]BarIndexEntry, error) {
	entries, err := c.reader.ReadIndex(symbol, timeframe)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: read bar index for %s: %w", symbol, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Time.Before(entries[j].Time) })
	return entries, nil
}

// AllowedGaps returns whether every gap in report belongs to allowed.
func AllowedGaps(report CoverageReport, allowed map[GapCategory]bool) (ok bool, offending []Gap) {
	for _, g := range report.Gaps {
		if !allowed[g.Category] {
			offending = append(offending, g)
		}
	}
	return len(offending) == 0, offending
}
