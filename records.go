package taxfolio

import (
	"github.com/etnz/taxfolio/date"
)

// Disposal records the closing of a portion of a lot. All amounts are in the
// policy's base currency. Disposals are never modified once emitted.
type Disposal struct {
	Portfolio  string
	LotID      string
	Symbol     string
	Quantity   Quantity
	Proceeds   Money
	CostBasis  Money // acquisition cost including acquisition fees
	Commission Money // share of the disposal commission
	Acquired   date.Date
	Disposed   date.Date
	Origin     Origin
}

// Gain returns the realized gain, negative for a loss.
func (d Disposal) Gain() Money { return d.Proceeds.Sub(d.CostBasis).Sub(d.Commission) }

// MarshalJSON writes the disposal with a stable field order.
func (d Disposal) MarshalJSON() ([]byte, error) {
	var w jsonObjectWriter
	w.Append("record", "disposal")
	w.Append("portfolio", d.Portfolio)
	w.Append("lot", d.LotID)
	w.Append("symbol", d.Symbol)
	w.Append("quantity", d.Quantity)
	w.Append("proceeds", d.Proceeds)
	w.Append("costBasis", d.CostBasis)
	w.Optional("commission", d.Commission)
	w.Append("acquired", d.Acquired)
	w.Append("disposed", d.Disposed)
	w.Append("origin", d.Origin)
	return w.MarshalJSON()
}

// IncomeKind distinguishes dividends from interest.
type IncomeKind string

const (
	Dividend IncomeKind = "dividend"
	Interest IncomeKind = "interest"
)

// Income records a taxable cash income. Amount and Withheld are in the base
// currency, Local keeps the amount as paid.
type Income struct {
	Portfolio string
	Date      date.Date
	Kind      IncomeKind
	Symbol    string
	Amount    Money
	Withheld  Money
	Local     Money
}

// MarshalJSON writes the income with a stable field order.
func (i Income) MarshalJSON() ([]byte, error) {
	var w jsonObjectWriter
	w.Append("record", "income")
	w.Append("portfolio", i.Portfolio)
	w.Append("date", i.Date)
	w.Append("kind", i.Kind)
	w.Optional("symbol", i.Symbol)
	w.Append("amount", i.Amount)
	w.Optional("withheld", i.Withheld)
	w.Append("local", i.Local)
	return w.MarshalJSON()
}

// Expense records an account level fee in the base currency. It is kept for
// reporting and never enters the tax computation.
type Expense struct {
	Portfolio   string
	Date        date.Date
	Description string
	Amount      Money
	Local       Money
}

// MarshalJSON writes the expense with a stable field order.
func (e Expense) MarshalJSON() ([]byte, error) {
	var w jsonObjectWriter
	w.Append("record", "expense")
	w.Append("portfolio", e.Portfolio)
	w.Append("date", e.Date)
	w.Optional("description", e.Description)
	w.Append("amount", e.Amount)
	w.Append("local", e.Local)
	return w.MarshalJSON()
}
