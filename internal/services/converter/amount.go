package converter

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

const minorUnitExp = -2

var maxMinorUnits = decimal.NewFromInt(math.MaxInt64)

// FormatAmount turns minor units (fen) into major units (yuan) for client JSON.
func FormatAmount(amount int64) float64 {
	return decimal.New(amount, minorUnitExp).InexactFloat64()
}

// ConvertAmount turns client supplied yuan into minor units. Fractions of a
// minor unit are rejected rather than rounded.
func ConvertAmount(amount float64) (int64, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0, fmt.Errorf("amount %v is not a number", amount)
	}

	value := decimal.NewFromFloat(amount).Shift(-minorUnitExp)

	if value.Abs().GreaterThan(maxMinorUnits) {
		return 0, fmt.Errorf("amount %v is out of range", amount)
	}

	if !value.Equal(value.Truncate(0)) {
		return 0, fmt.Errorf("amount %v has more than 2 decimal places", amount)
	}

	return value.IntPart(), nil
}

// ApplyRate returns amount * rate rounded half away from zero.
func ApplyRate(amount int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(amount).Mul(rate).Round(0).IntPart()
}

// ApplyRateFloor returns floor(amount * rate).
func ApplyRateFloor(amount int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(amount).Mul(rate).Floor().IntPart()
}
