package catalog

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

var maxPrice = decimal.NewFromInt(math.MaxInt64)

// ParsePrice reads harga as a whole, non-negative amount in the smallest
// currency unit. "15000" and "15000.00" are accepted, "15000.5" is not.
func ParsePrice(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, &ValidationError{Field: "harga", Message: "is required"}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, &ValidationError{Field: "harga", Message: "must be a number"}
	}
	switch {
	case d.IsNegative():
		return 0, &ValidationError{Field: "harga", Message: "must not be negative"}
	case !d.IsInteger():
		return 0, &ValidationError{Field: "harga", Message: "must be a whole number"}
	case d.GreaterThan(maxPrice):
		return 0, &ValidationError{Field: "harga", Message: "is too large"}
	}
	return d.IntPart(), nil
}
