package pricing

import (
	"fmt"
	"math"
)

// Money represents a monetary value stored in integer cents.
//
// Keeping every intermediate amount in cents makes the totals chain exactly
// reproducible between the preview computation and the charge-time
// recomputation: the integer handed to the payment processor is the same
// value the snapshot carries, with no floating point in between.
type Money = int64

// ApplyBps multiplies amount by a basis-point rate and rounds half-up to the
// nearest cent. 700 bps == 7%.
func ApplyBps(amount Money, bps int) Money {
	if amount <= 0 || bps <= 0 {
		return 0
	}
	return (amount*Money(bps) + 5000) / 10000
}

// CentsFromFloat rounds a fractional cent amount half-up to whole cents.
func CentsFromFloat(cents float64) Money {
	if cents <= 0 || math.IsNaN(cents) || math.IsInf(cents, 0) {
		return 0
	}
	return Money(math.Floor(cents + 0.5))
}

// FormatDollars renders cents as a decimal string such as "78.75".
func FormatDollars(m Money) string {
	neg := ""
	if m < 0 {
		neg = "-"
		m = -m
	}
	return fmt.Sprintf("%s%d.%02d", neg, m/100, m%100)
}
