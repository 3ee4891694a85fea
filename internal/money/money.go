// Package money содержит целочисленную арифметику денежных сумм в минорных единицах.
package money

import "fmt"

// BasisPointsDenominator — знаменатель ставки в базисных пунктах (1 бп = 0.01%).
const BasisPointsDenominator = 10000

// RoundHalfUpBasisPoints вычисляет amount × bp / 10000 с округлением
// половины вверх до ближайшей минорной единицы. Вся арифметика целочисленная,
// поэтому результат воспроизводим бит-в-бит для одинаковых входов.
func RoundHalfUpBasisPoints(amountMinor, bp int64) int64 {
	product := amountMinor * bp
	quotient := product / BasisPointsDenominator
	remainder := product % BasisPointsDenominator

	if remainder < 0 {
		remainder = -remainder
	}
	if remainder*2 >= BasisPointsDenominator {
		if product < 0 {
			return quotient - 1
		}
		return quotient + 1
	}
	return quotient
}

// ValidBasisPoints проверяет, что ставка лежит в допустимом диапазоне [0, 10000].
func ValidBasisPoints(bp int64) bool {
	return bp >= 0 && bp <= BasisPointsDenominator
}

// FormatMinor форматирует сумму в минорных единицах для отображения,
// например 16200 -> "162.00". Единственное место, где сумма покидает
// целочисленное представление.
func FormatMinor(amountMinor int64) string {
	sign := ""
	if amountMinor < 0 {
		sign = "-"
		amountMinor = -amountMinor
	}
	return fmt.Sprintf("%s%d.%02d", sign, amountMinor/100, amountMinor%100)
}
