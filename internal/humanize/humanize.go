// Package humanize formats raw metric values for display in prompts, tables,
// and assembled documents.
package humanize

import (
	"fmt"
	"math"
	"strconv"
)

// Money renders a USD amount with a magnitude suffix: $1.23B, $456.70M.
func Money(v float64) string {
	neg := ""
	if v < 0 {
		neg = "-"
		v = -v
	}
	switch {
	case v >= 1e12:
		return fmt.Sprintf("%s$%.2fT", neg, v/1e12)
	case v >= 1e9:
		return fmt.Sprintf("%s$%.2fB", neg, v/1e9)
	case v >= 1e6:
		return fmt.Sprintf("%s$%.2fM", neg, v/1e6)
	case v >= 1e3:
		return fmt.Sprintf("%s$%.2fK", neg, v/1e3)
	case v >= 1:
		return fmt.Sprintf("%s$%.2f", neg, v)
	default:
		return fmt.Sprintf("%s$%.6f", neg, v)
	}
}

// Number renders a count with a magnitude suffix: 1.23B, 456.70M, 1234.
func Number(v float64) string {
	neg := ""
	if v < 0 {
		neg = "-"
		v = -v
	}
	switch {
	case v >= 1e12:
		return fmt.Sprintf("%s%.2fT", neg, v/1e12)
	case v >= 1e9:
		return fmt.Sprintf("%s%.2fB", neg, v/1e9)
	case v >= 1e6:
		return fmt.Sprintf("%s%.2fM", neg, v/1e6)
	case v >= 1e3:
		return fmt.Sprintf("%s%.2fK", neg, v/1e3)
	default:
		return strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64)
	}
}

// Percent renders a signed percentage with two decimals: +2.50%, -1.20%.
func Percent(v float64) string {
	return fmt.Sprintf("%+.2f%%", v)
}

// Value renders any merged field value for display. Numbers that look like
// USD amounts take moneyHint; everything else falls back to fmt.
func Value(v any, moneyHint bool) string {
	switch t := v.(type) {
	case float64:
		if moneyHint {
			return Money(t)
		}
		return Number(t)
	case int:
		return Value(float64(t), moneyHint)
	case string:
		return t
	default:
		return fmt.Sprintf("%v", v)
	}
}
