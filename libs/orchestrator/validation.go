package orchestrator

import (
	"jax-backtest-core/libs/simtypes"
)

// ValidationResult is Phase 1.5's per-scenario verdict. Invalid scenarios
// are never removed from the batch (§4.9): they are marked and skipped at
// Phase 2, producing a failed ProcessResult instead of disappearing
// silently.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// AllowedGapsDefault is the default "standard" gap-tolerance set (§4.9
// Phase 1.5: "default: SEAMLESS, SHORT").
var AllowedGapsDefault = map[GapCategory]bool{
	GapSeamless: true,
	GapShort:    true,
}

// ValidateScenario runs Phase 1.5's three checks against one scenario's
// bundle and coverage report:
//   - start_time must not fall inside a gap
//   - the coverage-report gaps that overlap the tick stretch (the bundle's
//     first to last tick) must all belong to allowedGaps
//   - in "standard" mode (strict=true), warmup bars must contain no
//     synthetic bars
func ValidateScenario(bundle *ScenarioBundle, report CoverageReport, allowedGaps map[GapCategory]bool, strictWarmup bool) ValidationResult {
	result := ValidationResult{Valid: true}
	if allowedGaps == nil {
		allowedGaps = AllowedGapsDefault
	}

	if len(bundle.Ticks) == 0 {
		result.Valid = false
		result.Errors = append(result.Errors, "scenario tick stretch is empty")
		return result
	}

	startTime := bundle.StartTime
	for _, g := range report.Gaps {
		if !startTime.Before(g.Start) && startTime.Before(g.End) {
			result.Valid = false
			result.Errors = append(result.Errors, "start_time falls inside a "+string(g.Category)+" gap")
		}
	}

	stretchStart := bundle.Ticks[0].Timestamp
	stretchEnd := bundle.Ticks[len(bundle.Ticks)-1].Timestamp
	stretch := CoverageReport{Symbol: report.Symbol}
	for _, g := range report.Gaps {
		if g.End.After(stretchStart) && g.Start.Before(stretchEnd) {
			stretch.Gaps = append(stretch.Gaps, g)
		}
	}
	if ok, offending := AllowedGaps(stretch, allowedGaps); !ok {
		result.Valid = false
		for _, g := range offending {
			result.Errors = append(result.Errors, "forbidden gap category "+string(g.Category)+" in tick stretch")
		}
	}

	if strictWarmup {
		for key, bars := range bundle.WarmupBars {
			for _, b := range bars {
				if b.BarType == simtypes.BarSynthetic {
					result.Valid = false
					result.Errors = append(result.Errors, "synthetic bar present in warmup set "+key+" under strict mode")
					break
				}
			}
		}
	}

	return result
}
