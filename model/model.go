package model

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GenerateUUIDWithSuffix generates a UUID with a given module name as a prefix.
// This is useful for creating unique identifiers with context-specific prefixes.
func GenerateUUIDWithSuffix(module string) string {
	id := uuid.New()
	uuidStr := id.String()
	idWithSuffix := fmt.Sprintf("%s_%s", module, uuidStr)
	return idWithSuffix
}

// ToMinorUnits converts a JSON amount (e.g. "2500" or "25.00") to integer minor
// units. Financial amounts are exact: a value that does not land on a whole
// cent is rejected rather than rounded.
func ToMinorUnits(amount json.Number) (int64, error) {
	d, err := decimal.NewFromString(amount.String())
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", amount.String(), err)
	}
	cents := d.Shift(2)
	if !cents.IsInteger() {
		return 0, fmt.Errorf("amount %q is not a whole number of cents", amount.String())
	}
	if !cents.BigInt().IsInt64() {
		return 0, fmt.Errorf("amount %q out of range", amount.String())
	}
	return cents.IntPart(), nil
}
