// Package money formats rupee amounts the way Indian users read them.
package money

import (
	"math"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

var printer = message.NewPrinter(language.MustParse("en-IN"))

// INR renders x rounded to whole rupees with lakh grouping: ₹1,50,000.
func INR(x float64) string {
	sign := ""
	if x < 0 {
		sign = "-"
		x = -x
	}
	return sign + "₹" + printer.Sprint(number.Decimal(math.Round(x), number.MaxFractionDigits(0)))
}

// Percent renders x with one decimal and trailing zeros removed: 26.4%, 30%.
func Percent(x float64) string {
	s := printer.Sprint(number.Decimal(math.Round(x*10)/10, number.MaxFractionDigits(1)))
	return strings.TrimSuffix(s, ".0") + "%"
}

// Compact renders large amounts in lakh or crore: ₹2.58 Cr, ₹3.2 L.
func Compact(x float64) string {
	abs := math.Abs(x)
	switch {
	case abs >= 1e7:
		return trimmed(x/1e7) + " Cr"
	case abs >= 1e5:
		return trimmed(x/1e5) + " L"
	}
	return INR(x)
}

func trimmed(v float64) string {
	s := printer.Sprint(number.Decimal(v, number.MaxFractionDigits(2)))
	if v < 0 {
		return "-₹" + strings.TrimPrefix(s, "-")
	}
	return "₹" + s
}
