package domain

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// ToMinorUnits converts a major-unit amount to paise, rounding half away from zero.
func ToMinorUnits(major float64) int64 {
	return decimal.NewFromFloat(major).Mul(hundred).Round(0).IntPart()
}

// FromMinorUnits converts paise back to major units.
func FromMinorUnits(minor int64) float64 {
	value, _ := decimal.New(minor, -2).Float64()
	return value
}
