package taxfolio

import (
	"testing"

	"github.com/etnz/taxfolio/date"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

// EUR is a helper for test to create euro money from const
func EUR(v float64) Money { return M(v, "EUR") }

// USD is a helper for test to create usd money from const
func USD(v float64) Money { return M(v, "USD") }

// RUB is a helper for test to create rouble money from const
func RUB(v float64) Money { return M(v, "RUB") }

// day is a helper to write dates in tests.
func day(s string) date.Date { return date.MustParse(s) }

// testRates returns a provider with a constant USDRUB rate over 2020-2025 and
// a USDEUR rate of 0.9.
func testRates(usdrub float64) *StaticRates {
	r := NewStaticRates()
	for on := day("2020-01-01"); on.Before(day("2026-01-01")); on = on.Add(1) {
		r.Set("USDRUB", on, decimal.NewFromFloat(usdrub))
		r.Set("USDEUR", on, decimal.NewFromFloat(0.9))
	}
	return r
}

// assertMoney compares money values by amount and currency.
func assertMoney(t *testing.T, want, got Money, msgAndArgs ...any) {
	t.Helper()
	assert.Truef(t, want.Equal(got), "want %s %s, got %s %s %v", want.Amount(), want.Currency(), got.Amount(), got.Currency(), msgAndArgs)
}

// assertQuantity compares quantities by value.
func assertQuantity(t *testing.T, want, got Quantity, msgAndArgs ...any) {
	t.Helper()
	assert.Truef(t, want.Equal(got), "want %s, got %s %v", want, got, msgAndArgs)
}

// usdLedger returns a ledger in dollars that needs no rates.
func usdLedger() *Ledger { return NewLedger("test", US(), NewConverter(NewStaticRates())) }

// purchase returns a lot bought on `on` by event seq.
func purchase(seq int64, on, symbol string, quantity float64, price Money) Lot {
	return Lot{
		ID:       lotID("test", seq, 0),
		Symbol:   symbol,
		Quantity: Q(quantity),
		UnitCost: price,
		Acquired: day(on),
		CostDate: day(on),
		Seq:      seq,
		Origin:   Origin{Kind: OriginPurchase, Seq: seq},
	}
}
