package messaging

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// FormatAmount renders an amount in the currency's minor unit (as Stripe reports it) for display.
func FormatAmount(minor int64, code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	unit, err := currency.ParseISO(code)
	if err != nil {
		return fmt.Sprintf("%d %s", minor, code)
	}
	scale, _ := currency.Standard.Rounding(unit)
	major := float64(minor) / math.Pow10(scale)
	printer := message.NewPrinter(language.English)
	return printer.Sprintf("%v%v", currency.Symbol(unit), number.Decimal(major, number.Scale(scale)))
}
