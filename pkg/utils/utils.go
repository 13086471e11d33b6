package utils

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

func TruncateString(str string, num int) string {
	if len(str) <= num {
		return str
	}
	if num <= 3 {
		return str[:num]
	}
	return str[0:num-3] + "..."
}

// ShortenAddress keeps the first and last n characters of a base58 address.
func ShortenAddress(addr string, n int) string {
	if n <= 0 || len(addr) <= 2*n+2 {
		return addr
	}
	return addr[:n] + ".." + addr[len(addr)-n:]
}

func AddCommas(s string) string {
	if len(s) == 0 {
		return s
	}
	intPart, frac, hasFrac := strings.Cut(s, ".")
	sign := ""
	if strings.HasPrefix(intPart, "-") {
		sign, intPart = "-", intPart[1:]
	}
	if len(intPart) <= 3 {
		return s
	}

	var b strings.Builder
	b.WriteString(sign)
	lead := len(intPart) % 3
	if lead == 0 {
		lead = 3
	}
	b.WriteString(intPart[:lead])
	for i := lead; i < len(intPart); i += 3 {
		b.WriteByte(',')
		b.WriteString(intPart[i : i+3])
	}
	if hasFrac {
		b.WriteByte('.')
		b.WriteString(frac)
	}
	return b.String()
}

func FormatFloat(f float64, decimals int) string {
	return AddCommas(fmt.Sprintf("%.*f", decimals, f))
}

func FormatDecimal(d decimal.Decimal, places int32) string {
	return AddCommas(d.StringFixed(places))
}

// FormatUSD renders a dollar amount, using more places for sub-cent prices.
func FormatUSD(d decimal.Decimal) string {
	places := int32(2)
	if abs := d.Abs(); !abs.IsZero() && abs.LessThan(decimal.NewFromFloat(0.01)) {
		places = 6
	}
	s := FormatDecimal(d.Abs(), places)
	if d.IsNegative() {
		return "-$" + s
	}
	return "$" + s
}

func FormatPercent(p float64) string {
	return fmt.Sprintf("%+.2f%%", p)
}

// FormatAge renders how long ago t was, "never" for a nil time.
func FormatAge(t *time.Time, now time.Time) string {
	if t == nil {
		return "never"
	}
	d := now.Sub(*t)
	switch {
	case d < time.Second:
		return "just now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
	return fmt.Sprintf("%dd ago", int(d.Hours()/24))
}
