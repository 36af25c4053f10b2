package models

import "strings"

// CurrencyCode is a string representation of a currency, eg. BTC or USD.
type CurrencyCode string

// String returns the string representation of the code.
func (c CurrencyCode) String() string {
	return string(c)
}

// Normalized returns the uppercased code with any testnet prefix
// stripped. TBTC and BTC price identically for contract purposes.
func (c CurrencyCode) Normalized() CurrencyCode {
	return CurrencyCode(strings.TrimPrefix(strings.ToUpper(string(c)), "T"))
}

// currencyDivisibility is the number of decimal places between a
// currency's display unit and its base unit. Amounts everywhere in
// this package are in base units.
var currencyDivisibility = map[CurrencyCode]uint{
	"BTC": 8,
	"BCH": 8,
	"LTC": 8,
	"ZEC": 8,
	"ETH": 18,
	"MCK": 8,
	"USD": 2,
	"EUR": 2,
	"CNY": 2,
	"JPY": 0,
}

// Divisibility returns the base unit divisibility for the code and
// whether the currency is known.
func (c CurrencyCode) Divisibility() (uint, bool) {
	d, ok := currencyDivisibility[c.Normalized()]
	return d, ok
}
