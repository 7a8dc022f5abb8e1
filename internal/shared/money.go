package shared

import (
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var (
	pesoPrinter = message.NewPrinter(language.Filipino)
	// x/text only predeclares a handful of currency units, so PHP is
	// parsed from its ISO code once at init.
	peso = currency.MustParseISO("PHP")
)

// FormatPeso renders an amount as Philippine pesos for user-facing views and
// audit reasons, e.g. "₱1,234.50".
func FormatPeso(amount float64) string {
	return pesoPrinter.Sprintf("%v", currency.NarrowSymbol(peso.Amount(amount)))
}
