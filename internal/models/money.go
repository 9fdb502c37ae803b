package models

import (
	"errors"
	"fmt"
	"math"
)

var errNonFiniteAmount = errors.New("amount is not a finite number")

// ToMinor converts a major-unit amount to integer minor units, rounding half
// away from zero.
func ToMinor(major float64) (int64, error) {
	if math.IsNaN(major) || math.IsInf(major, 0) {
		return 0, errNonFiniteAmount
	}
	scaled := math.Round(major * 100)
	if scaled > math.MaxInt64/2 || scaled < math.MinInt64/2 {
		return 0, fmt.Errorf("amount %v out of range", major)
	}
	return int64(scaled), nil
}

// FormatMinor renders minor units as a major-unit decimal string.
func FormatMinor(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}
