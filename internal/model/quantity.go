package model

import (
	"math/big"
)

// ParseLovelace converts an indexer quantity string into a positive int64 amount.
func ParseLovelace(quantity string) (int64, error) {
	if quantity == "" {
		return 0, &ValidationError{Field: "quantity", Reason: "missing"}
	}

	amt, ok := new(big.Int).SetString(quantity, 10)
	if !ok {
		return 0, &ValidationError{Field: "quantity", Reason: "not a base-10 integer"}
	}

	if amt.Sign() <= 0 {
		return 0, &ValidationError{Field: "quantity", Reason: "must be positive"}
	}

	if !amt.IsInt64() {
		return 0, &ValidationError{Field: "quantity", Reason: "out of range"}
	}

	return amt.Int64(), nil
}
