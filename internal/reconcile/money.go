// Package reconcile matches fetched dispute records against the order store,
// updating existing rows or queuing new ones for bulk insertion.
package reconcile

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ParseAmount normalizes a dispute amount into decimal currency units.
// Formatted strings like "$2.68" or "$1,234.56" are stripped and parsed;
// numeric inputs pass through unchanged; a nil or unparseable input yields
// nil, never zero, so "no amount" stays distinguishable from "zero amount".
func ParseAmount(value interface{}) *float64 {
	switch v := value.(type) {
	case nil:
		return nil
	case float64:
		return &v
	case float32:
		f := float64(v)
		return &f
	case int:
		f := float64(v)
		return &f
	case int64:
		f := float64(v)
		return &f
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return nil
		}
		return &f
	case string:
		cleaned := strings.NewReplacer("$", "", ",", "").Replace(strings.TrimSpace(v))
		if cleaned == "" {
			return nil
		}
		f, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return nil
		}
		return &f
	default:
		return nil
	}
}

// MinorToDecimal converts an amount in minor currency units (cents) to
// decimal currency units.
func MinorToDecimal(minor int64) float64 {
	return float64(minor) / 100
}
