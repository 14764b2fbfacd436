// Package config decodes the two JSON-shaped inputs the core consumes
// (§6): scenario configuration and broker configuration. Decoding follows
// internal/infra/config/jax_core_config.go's strict-decode-then-default-
// fill convention; reading bytes off disk is explicitly out of scope
// (§1), so Load* here takes the raw bytes, never a path.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// FeeModel selects how entry/exit fees are computed (§4.4.3).
type FeeModel string

const (
	FeeModelSpread     FeeModel = "spread"
	FeeModelMakerTaker FeeModel = "maker_taker"
)

// SymbolSpec is one entry of BrokerConfig.Symbols (§6).
type SymbolSpec struct {
	VolumeMin      decimal.Decimal `json:"volume_min"`
	VolumeMax      decimal.Decimal `json:"volume_max"`
	VolumeStep     decimal.Decimal `json:"volume_step"`
	ContractSize   decimal.Decimal `json:"contract_size"`
	TickSize       decimal.Decimal `json:"tick_size"`
	Digits         int32           `json:"digits"`
	BaseCurrency   string          `json:"base_currency,omitempty"`
	QuoteCurrency  string          `json:"quote_currency,omitempty"`
	SwapLong       decimal.Decimal `json:"swap_long,omitempty"`
	SwapShort      decimal.Decimal `json:"swap_short,omitempty"`
	// TickValue must be pre-resolved into the account currency by the
	// caller; see DESIGN.md Open Question #1. Zero means "unset".
	TickValue decimal.Decimal `json:"tick_value"`
}

// BrokerInfo carries broker-level terms (§6).
type BrokerInfo struct {
	Company          string  `json:"company"`
	Server           string  `json:"server"`
	TradeMode        string  `json:"trade_mode"`
	Leverage         float64 `json:"leverage"`
	HedgingAllowed   bool    `json:"hedging_allowed"`
	MarginMode       string  `json:"margin_mode,omitempty"`
	MarginCallLevel  float64 `json:"margin_call_level,omitempty"`
	StopoutLevel     float64 `json:"stopout_level,omitempty"`
}

// FeeStructure selects and parameterizes the fee model (§4.4.3).
type FeeStructure struct {
	Model     FeeModel        `json:"model"`
	MakerFee  decimal.Decimal `json:"maker_fee,omitempty"`
	TakerFee  decimal.Decimal `json:"taker_fee,omitempty"`
}

// BrokerConfig is the decoded broker configuration document (§6).
type BrokerConfig struct {
	BrokerInfo   BrokerInfo            `json:"broker_info"`
	FeeStructure FeeStructure          `json:"fee_structure"`
	Symbols      map[string]SymbolSpec `json:"symbols"`
}

// LoadBrokerConfig decodes and validates a broker configuration document.
// DisallowUnknownFields mirrors the teacher's strict-decode convention so a
// typo'd field name fails fast at load time instead of being silently
// ignored.
func LoadBrokerConfig(raw []byte) (*BrokerConfig, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var cfg BrokerConfig
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode broker config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *BrokerConfig) validate() error {
	if c.BrokerInfo.Company == "" {
		return fmt.Errorf("config: broker_info.company is required")
	}
	if c.BrokerInfo.Leverage > 1 {
		if c.BrokerInfo.MarginMode == "" {
			return fmt.Errorf("config: broker_info.margin_mode is required when leverage > 1")
		}
	}
	switch c.FeeStructure.Model {
	case FeeModelSpread:
		// no further required fields
	case FeeModelMakerTaker:
		if c.FeeStructure.MakerFee.IsZero() && c.FeeStructure.TakerFee.IsZero() {
			return fmt.Errorf("config: fee_structure.maker_fee/taker_fee required when model=maker_taker")
		}
	default:
		return fmt.Errorf("config: fee_structure.model must be %q or %q, got %q", FeeModelSpread, FeeModelMakerTaker, c.FeeStructure.Model)
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("config: symbols must have at least one entry")
	}
	for name, spec := range c.Symbols {
		if spec.ContractSize.IsZero() || spec.TickSize.IsZero() {
			return fmt.Errorf("config: symbols[%s]: contract_size and tick_size are required", name)
		}
	}
	return nil
}
