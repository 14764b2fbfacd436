package simtypes

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// The error taxonomy of §7, as typed errors rather than stringly-tagged
// kinds: callers that need to branch on kind use errors.As, callers that
// just want to log use Error().

// InvalidConfigError is a fatal, scenario-scoped startup validation failure.
type InvalidConfigError struct {
	Field  string
	Reason string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config: %s: %s", e.Field, e.Reason)
}

// DataQualityError is a fatal, scenario-scoped data-coverage failure.
type DataQualityError struct {
	Symbol string
	Reason string
}

func (e *DataQualityError) Error() string {
	return fmt.Sprintf("data quality: %s: %s", e.Symbol, e.Reason)
}

// InsufficientMarginError is non-fatal: callers record it as a REJECTED
// OrderResult and continue.
type InsufficientMarginError struct {
	Required decimal.Decimal
	Free     decimal.Decimal
}

func (e *InsufficientMarginError) Error() string {
	return fmt.Sprintf("insufficient margin: required=%s free=%s", e.Required, e.Free)
}

// LotValidationError is non-fatal: lots outside [volume_min, volume_max]
// or not aligned to volume_step.
type LotValidationError struct {
	Lots   decimal.Decimal
	Reason string
}

func (e *LotValidationError) Error() string {
	return fmt.Sprintf("lot validation: %s: %s", e.Lots, e.Reason)
}

// BrokerError is non-fatal: stress-injected or (live) real broker rejection.
type BrokerError struct {
	Reason string
}

func (e *BrokerError) Error() string {
	return fmt.Sprintf("broker error: %s", e.Reason)
}

// PositionNotFoundError is non-fatal: close on an unknown position_id is a
// logged no-op.
type PositionNotFoundError struct {
	PositionID OrderID
}

func (e *PositionNotFoundError) Error() string {
	return fmt.Sprintf("position not found: %s", e.PositionID)
}

// ContractViolationError is fatal: a DecisionLogic requires an undeclared
// order type, references a missing worker instance, or supplies
// out-of-range parameters in strict mode.
type ContractViolationError struct {
	Reason string
}

func (e *ContractViolationError) Error() string {
	return fmt.Sprintf("contract violation: %s", e.Reason)
}

// InternalInvariantError is fatal: a math/shape invariant was violated.
type InternalInvariantError struct {
	Invariant string
}

func (e *InternalInvariantError) Error() string {
	return fmt.Sprintf("internal invariant violated: %s", e.Invariant)
}
