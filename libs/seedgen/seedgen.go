// Package seedgen implements the core's only source of nondeterminism: a
// per-role seeded generator (§4.1, §9 "deterministic randomness"). It
// follows the retrieval pack's rngFrom(cfg, seed) pattern — one private
// *rand.Rand per role, never the package-level math/rand source — rather
// than the teacher's own internal/modules/backtest global rand.Seed
// approach, which that file's own comment flags as a stopgap.
package seedgen

import (
	"fmt"
	"math/rand"
)

// Generator produces reproducible delay and Bernoulli draws from a single
// seed. One Generator serves exactly one role (api_latency,
// market_execution, or rejection); SplitRoles below builds one Generator
// per role, each from its own seed.
type Generator struct {
	rng *rand.Rand
}

// New creates a Generator seeded deterministically. Same seed, same call
// sequence, same outputs — platform-independent because math/rand's
// algorithm is pure Go, not libc.
func New(seed int64) *Generator {
	return &Generator{rng: rand.New(rand.NewSource(seed))}
}

// InvalidParameterError is returned when NextDelay or NextBool is called
// with an out-of-range argument (§4.1).
type InvalidParameterError struct {
	Reason string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("seedgen: invalid parameter: %s", e.Reason)
}

// NextDelay draws a uniform integer in [minTicks, maxTicks], inclusive.
func (g *Generator) NextDelay(minTicks, maxTicks int) (int, error) {
	if minTicks > maxTicks {
		return 0, &InvalidParameterError{Reason: fmt.Sprintf("min (%d) > max (%d)", minTicks, maxTicks)}
	}
	span := maxTicks - minTicks + 1
	return minTicks + g.rng.Intn(span), nil
}

// NextBool draws true with the given probability, false otherwise.
func (g *Generator) NextBool(probability float64) (bool, error) {
	if probability < 0 || probability > 1 {
		return false, &InvalidParameterError{Reason: fmt.Sprintf("probability %.4f outside [0,1]", probability)}
	}
	return g.rng.Float64() < probability, nil
}

// Roles names the generator instances an executor owns (§4.1).
type Roles struct {
	APILatency       *Generator
	MarketExecution  *Generator
	Rejection        *Generator // optional: only needed when stress testing is configured
}

// SplitRoles builds the role generators, each from its own seed:
// api_latency and market_execution always, rejection only when
// rejectionSeed is non-nil. No seed is derived from another; the streams
// are fully deterministic given the seeds passed in.
func SplitRoles(apiLatencySeed, marketExecutionSeed int64, rejectionSeed *int64) Roles {
	roles := Roles{
		APILatency:      New(apiLatencySeed),
		MarketExecution: New(marketExecutionSeed),
	}
	if rejectionSeed != nil {
		roles.Rejection = New(*rejectionSeed)
	}
	return roles
}
