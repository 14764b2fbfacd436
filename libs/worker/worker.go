// Package worker defines the Worker capability interface and
// WorkerCoordinator's sequential/task-parallel dispatch (§4.6). Generalized
// from libs/strategies/strategy.go's Strategy interface and
// registry.go's sync.RWMutex map registry — from "one strategy" to "N
// named worker instances" as SPEC_FULL.md's §4.6 requires.
package worker

import (
	"context"
	"sync"
	"time"

	"jax-backtest-core/libs/simtypes"
)

// Worker is an indicator unit: given a tick plus bar history, it produces
// one WorkerResult. Implementations are the "concrete indicator
// algorithms" the spec places out of scope (§1); this package only hosts
// the contract and its dispatch.
type Worker interface {
	Name() string
	Compute(ctx context.Context, tick simtypes.Tick, barHistory []simtypes.Bar) (simtypes.WorkerResult, error)
}

// Registry holds named worker instances, keyed by the instance name a
// ScenarioConfig's strategy_config.worker_instances map assigns (not by
// worker type — two instances of the same type get distinct names).
type Registry struct {
	mu    sync.RWMutex
	order []string // fixed iteration order (§9: "not by task completion order")
	byName map[string]Worker
}

func NewRegistry() *Registry {
	return &Registry{byName: map[string]Worker{}}
}

// Register adds a worker instance under name. Registration order becomes
// iteration order for both sequential and task-parallel dispatch.
func (r *Registry) Register(name string, w Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[name]; !exists {
		r.order = append(r.order, name)
	}
	r.byName[name] = w
}

func (r *Registry) Get(name string) (Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.byName[name]
	return w, ok
}

// Names returns registered instance names in fixed registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// DefaultParallelThreshold is §4.6's documented default (1.0ms estimated
// per-tick worker time).
const DefaultParallelThreshold = time.Millisecond

// Coordinator invokes all workers for a tick, in fixed order, choosing
// between sequential and task-parallel dispatch based on a rolling
// estimate of per-tick work (§4.6).
type Coordinator struct {
	registry  *Registry
	threshold time.Duration

	mu          sync.Mutex
	rollingMean time.Duration
	samples     int
}

// NewCoordinator creates a Coordinator. threshold <= 0 means the §4.6
// default.
func NewCoordinator(registry *Registry, threshold time.Duration) *Coordinator {
	if threshold <= 0 {
		threshold = DefaultParallelThreshold
	}
	return &Coordinator{registry: registry, threshold: threshold}
}

// Dispatch runs every registered worker against tick and barHistoryFor,
// returning results indexed by instance name. It chooses sequential or
// task-parallel execution based on the rolling per-tick-work estimate;
// either mode preserves §9's "fixed by instance iteration order, not by
// task completion order" guarantee since results are written into a
// pre-sized, name-indexed map rather than appended as tasks complete.
func (c *Coordinator) Dispatch(ctx context.Context, tick simtypes.Tick, barHistoryFor func(instance string) []simtypes.Bar) (map[string]simtypes.WorkerResult, error) {
	names := c.registry.Names()
	results := make(map[string]simtypes.WorkerResult, len(names))
	errs := make(map[string]error, len(names))

	start := time.Now()
	if c.useParallel() {
		var wg sync.WaitGroup
		var mu sync.Mutex
		for _, name := range names {
			name := name
			wg.Add(1)
			go func() {
				defer wg.Done()
				w, ok := c.registry.Get(name)
				if !ok {
					return
				}
				res, err := w.Compute(ctx, tick, barHistoryFor(name))
				mu.Lock()
				if err != nil {
					errs[name] = err
				} else {
					results[name] = res
				}
				mu.Unlock()
			}()
		}
		wg.Wait()
	} else {
		for _, name := range names {
			w, ok := c.registry.Get(name)
			if !ok {
				continue
			}
			res, err := w.Compute(ctx, tick, barHistoryFor(name))
			if err != nil {
				errs[name] = err
				continue
			}
			results[name] = res
		}
	}
	c.observe(time.Since(start))

	for name, err := range errs {
		return nil, &simtypes.InternalInvariantError{Invariant: "worker " + name + " failed: " + err.Error()}
	}
	return results, nil
}

func (c *Coordinator) useParallel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.samples > 0 && c.rollingMean > c.threshold
}

func (c *Coordinator) observe(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples++
	// Simple running mean; good enough for a threshold estimate and keeps
	// no unbounded history.
	c.rollingMean += (d - c.rollingMean) / time.Duration(c.samples)
}
