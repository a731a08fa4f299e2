package payment

import "github.com/shopspring/decimal"

// ToMinorUnits rounds half-up to two decimals and converts to cents.
// 99.99 -> 9999, 10.005 -> 1001.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Round(2).Shift(2).IntPart()
}
