package decision

import (
	"testing"

	"jax-backtest-core/libs/simtypes"
)

func TestValidateContractRejectsMissingWorker(t *testing.T) {
	c := Contract{RequiredWorkerInstances: []string{"rsi_fast"}}
	err := ValidateContract(c, []string{"macd"}, nil)
	if err == nil {
		t.Fatal("expected error for missing worker instance")
	}
}

func TestValidateContractRejectsDisallowedOrderType(t *testing.T) {
	c := Contract{RequiredOrderTypes: []simtypes.OrderType{simtypes.OrderStopLimit}}
	err := ValidateContract(c, nil, []simtypes.OrderType{simtypes.OrderMarket, simtypes.OrderLimit})
	if err == nil {
		t.Fatal("expected error for disallowed order type")
	}
}

func TestValidateContractPassesWhenSatisfied(t *testing.T) {
	c := Contract{
		RequiredWorkerInstances: []string{"rsi_fast", "macd_main"},
		RequiredOrderTypes:      []simtypes.OrderType{simtypes.OrderMarket},
	}
	err := ValidateContract(c, []string{"rsi_fast", "macd_main", "atr"}, []simtypes.OrderType{simtypes.OrderMarket, simtypes.OrderStop})
	if err != nil {
		t.Fatalf("expected contract to validate, got %v", err)
	}
}
