package ledger

import (
	"fmt"
	"strings"

	"golang.org/x/text/currency"
)

// ParseCurrency validates an ISO 4217 code such as "USD".
func ParseCurrency(code string) (currency.Unit, error) {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return currency.Unit{}, fmt.Errorf("ledger: unknown currency %q", code)
	}
	return unit, nil
}

// Format renders m with the ISO code and grouped digits, e.g. "USD 1,073.05".
func Format(m Money, unit currency.Unit) string {
	fixed := m.d.StringFixed(MinorDigits)
	sign := ""
	if strings.HasPrefix(fixed, "-") {
		sign, fixed = "-", fixed[1:]
	}
	whole, frac, _ := strings.Cut(fixed, ".")
	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return unit.String() + " " + sign + b.String() + "." + frac
}
