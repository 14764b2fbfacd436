// Package resilience wraps gobreaker with the logging/config conventions
// this module uses elsewhere, and hosts WorkerSpawnBreaker: the
// per-decision-logic-type breaker ScenarioOrchestrator's Phase 2 guards
// worker dispatch with (SPEC_FULL.md §11).
package resilience

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sony/gobreaker/v2"
)

// CircuitBreakerConfig defines configuration for a circuit breaker.
type CircuitBreakerConfig struct {
	Name          string
	MaxRequests   uint32
	Interval      time.Duration
	Timeout       time.Duration
	MaxFailures   uint32
	OnStateChange func(name string, from gobreaker.State, to gobreaker.State)
}

// DefaultConfig returns sensible defaults for a circuit breaker.
func DefaultConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		MaxFailures: 3,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("[CircuitBreaker:%s] state changed: %s -> %s", name, from, to)
		},
	}
}

// CircuitBreaker wraps gobreaker with logging and configuration.
type CircuitBreaker struct {
	cb     *gobreaker.CircuitBreaker[any]
	name   string
	config CircuitBreakerConfig
}

// NewCircuitBreaker creates a new circuit breaker with the given config.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	settings := gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.MaxFailures
		},
		OnStateChange: config.OnStateChange,
	}

	return &CircuitBreaker{
		cb:     gobreaker.NewCircuitBreaker[any](settings),
		name:   config.Name,
		config: config,
	}
}

// Execute runs fn with circuit breaker protection.
func (cb *CircuitBreaker) Execute(fn func() (any, error)) (any, error) {
	result, err := cb.cb.Execute(fn)
	if err != nil {
		return nil, fmt.Errorf("circuit breaker %s: %w", cb.name, err)
	}
	return result, nil
}

// ExecuteWithContext runs fn with circuit breaker protection, failing fast
// if ctx is already done rather than counting a context cancellation as a
// breaker failure.
func (cb *CircuitBreaker) ExecuteWithContext(ctx context.Context, fn func() (any, error)) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return cb.Execute(fn)
}

func (cb *CircuitBreaker) State() gobreaker.State { return cb.cb.State() }

func (cb *CircuitBreaker) Counts() gobreaker.Counts { return cb.cb.Counts() }

func (cb *CircuitBreaker) Name() string { return cb.name }

// WorkerSpawnBreaker guards one decision-logic type's worker dispatch
// across a scenario batch: if constructing/running a worker for that type
// fails repeatedly, the breaker opens and remaining scenarios referencing
// it fail fast with a ContractViolation instead of re-attempting a spawn
// known to be failing (SPEC_FULL.md §11).
type WorkerSpawnBreaker struct {
	cb *CircuitBreaker
}

// NewWorkerSpawnBreaker creates a breaker scoped to one decision-logic
// type name.
func NewWorkerSpawnBreaker(decisionLogicType string) *WorkerSpawnBreaker {
	return &WorkerSpawnBreaker{cb: NewCircuitBreaker(DefaultConfig("decision_logic:" + decisionLogicType))}
}

// RunWorkerSpawn executes spawn under the breaker. spawn returns T on success; a
// non-nil error counts as a breaker failure.
func RunWorkerSpawn[T any](b *WorkerSpawnBreaker, spawn func() (T, error)) (T, error) {
	var zero T
	result, err := b.cb.Execute(func() (any, error) {
		return spawn()
	})
	if err != nil {
		return zero, err
	}
	return result.(T), nil
}

func (b *WorkerSpawnBreaker) State() gobreaker.State { return b.cb.State() }
