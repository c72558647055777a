package utils

import (
	"fmt"
	"strings"
	"time"
)

// MinorUnitsPerCoin is the number of minor units in one NEXA.
const MinorUnitsPerCoin = 100

func TruncateString(str string, num int) string {
	if len(str) <= num {
		return str
	}
	if num <= 3 {
		return str[:num]
	}
	return str[0:num-3] + "..."
}

// ShortAddress keeps the scheme and the head and tail of an address.
func ShortAddress(addr string, keep int) string {
	if keep <= 0 || len(addr) <= keep*2+3 {
		return addr
	}
	return addr[:keep] + "..." + addr[len(addr)-keep:]
}

func AddCommas(s string) string {
	if len(s) == 0 {
		return s
	}
	parts := strings.Split(s, ".")
	integerPart := parts[0]
	sign := ""
	if strings.HasPrefix(integerPart, "-") {
		sign = "-"
		integerPart = integerPart[1:]
	}

	n := len(integerPart)
	if n <= 3 {
		return s
	}

	var result strings.Builder
	result.WriteString(sign)
	remainder := n % 3
	if remainder > 0 {
		result.WriteString(integerPart[:remainder])
		result.WriteString(",")
	}
	for i := remainder; i < n; i += 3 {
		if i > remainder {
			result.WriteString(",")
		}
		result.WriteString(integerPart[i : i+3])
	}

	if len(parts) > 1 {
		result.WriteString(".")
		result.WriteString(parts[1])
	}
	return result.String()
}

// FormatBalance renders a minor-unit amount as whole coins with two decimals.
func FormatBalance(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	whole := minor / MinorUnitsPerCoin
	frac := minor % MinorUnitsPerCoin
	return AddCommas(fmt.Sprintf("%s%d.%02d", sign, whole, frac))
}

// BalanceToFloat converts minor units to coins for charting.
func BalanceToFloat(minor int64) float64 {
	return float64(minor) / MinorUnitsPerCoin
}

// FormatRelativeTime renders how long ago t was, relative to now.
func FormatRelativeTime(t, now time.Time) string {
	if t.IsZero() {
		return "Never updated"
	}
	d := now.Sub(t)
	switch {
	case d < 10*time.Second:
		return "Just now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
