package observability

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"
)

var logger = log.New(os.Stdout, "", 0)

func LogEvent(ctx context.Context, level string, event string, fields map[string]any) {
	payload := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339),
		"level": level,
		"event": event,
	}

	info := RunInfoFromContext(ctx)
	if info.FlowID != "" {
		payload["flow_id"] = info.FlowID
	}
	if info.RunID != "" {
		payload["run_id"] = info.RunID
	}
	if info.TaskID != "" {
		payload["task_id"] = info.TaskID
	}
	if info.Symbol != "" {
		payload["symbol"] = info.Symbol
	}

	for key, value := range normalizeFields(fields) {
		payload[key] = value
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		logger.Printf("{\"level\":\"error\",\"event\":\"log_marshal_failed\",\"error\":%q}", err.Error())
		return
	}
	logger.Print(string(raw))
}

// LogScenarioStart logs a TickLoop beginning to run a scenario's tick
// stream, carrying its size so a slow batch can be diagnosed from the log
// stream alone.
func LogScenarioStart(ctx context.Context, scenarioName string, tickCount int) {
	LogEvent(ctx, "info", "scenario_start", map[string]any{
		"scenario":   scenarioName,
		"tick_count": tickCount,
	})
}

// LogScenarioEnd logs a TickLoop finishing a scenario, successfully or not.
func LogScenarioEnd(ctx context.Context, scenarioName string, duration time.Duration, err error) {
	fields := map[string]any{
		"scenario":   scenarioName,
		"latency_ms": duration.Milliseconds(),
		"success":    err == nil,
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	LogEvent(ctx, "info", "scenario_end", fields)
}

// LogBatchStart logs a ScenarioOrchestrator batch beginning Phase 2
// dispatch, after Phases 0-1.5 have resolved which scenarios are valid.
func LogBatchStart(ctx context.Context, total, valid int, mode string) {
	LogEvent(ctx, "info", "batch_start", map[string]any{
		"scenarios_total": total,
		"scenarios_valid": valid,
		"mode":            mode,
	})
}

// LogBatchEnd logs a ScenarioOrchestrator batch finishing all dispatches.
func LogBatchEnd(ctx context.Context, duration time.Duration, succeeded, failed int) {
	LogEvent(ctx, "info", "batch_end", map[string]any{
		"latency_ms": duration.Milliseconds(),
		"succeeded":  succeeded,
		"failed":     failed,
	})
}

func normalizeFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for key, value := range fields {
		switch key {
		case "input", "payload":
			out[key] = RedactValue(value)
			continue
		}
		if err, ok := value.(error); ok {
			out[key] = err.Error()
			continue
		}
		out[key] = value
	}
	return out
}
