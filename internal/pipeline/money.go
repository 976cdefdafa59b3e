package pipeline

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// MoneyFormatter renders bucket totals for column headers.
type MoneyFormatter struct {
	printer *message.Printer
	symbol  string
}

// NewMoneyFormatter formats with the grouping and decimal rules of tag.
func NewMoneyFormatter(tag language.Tag, symbol string) MoneyFormatter {
	return MoneyFormatter{printer: message.NewPrinter(tag), symbol: symbol}
}

// Format renders v with two decimals, prefixed by the currency symbol.
func (f MoneyFormatter) Format(v float64) string {
	if f.printer == nil {
		f.printer = message.NewPrinter(language.English)
	}
	amount := f.printer.Sprint(number.Decimal(v, number.Scale(2)))
	if f.symbol == "" {
		return amount
	}
	return f.symbol + " " + amount
}
