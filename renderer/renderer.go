// Package renderer renders replay and tax results as markdown.
package renderer

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/etnz/taxfolio"
	"github.com/etnz/taxfolio/tax"
)

// Disposals renders realized gains lot by lot, with a total row per currency.
func Disposals(disposals []taxfolio.Disposal) string {
	var b strings.Builder
	ConditionalBlock(&b, func(w io.Writer) bool {
		fmt.Fprint(w, "## Disposals\n\n")
		header(w, "Disposed", "Symbol", ">Quantity", "Acquired", ">Proceeds", ">Cost Basis", ">Commission", ">Gain")
		totals := map[string]taxfolio.Money{}
		for _, d := range disposals {
			gain := d.Gain()
			row(w, d.Disposed.String(), d.Symbol, d.Quantity.String(), d.Acquired.String(),
				amount(d.Proceeds), amount(d.CostBasis), amount(d.Commission), gain.SignedString())
			totals[gain.Currency()] = totals[gain.Currency()].Add(gain)
		}
		for _, cur := range sortedKeys(totals) {
			row(w, bold("Total"), "", "", "", "", "", "", bold(totals[cur].SignedString()))
		}
		fmt.Fprintln(w)
		return len(disposals) > 0
	})
	return b.String()
}

// Income renders dividends and interest with the tax withheld at source.
func Income(income []taxfolio.Income) string {
	var b strings.Builder
	ConditionalBlock(&b, func(w io.Writer) bool {
		fmt.Fprint(w, "## Income\n\n")
		header(w, "Date", "Kind", "Symbol", ">Amount", ">Withheld", ">Original")
		for _, i := range income {
			row(w, i.Date.String(), string(i.Kind), i.Symbol, amount(i.Amount), amount(i.Withheld), amount(i.Local))
		}
		fmt.Fprintln(w)
		return len(income) > 0
	})
	return b.String()
}

// Expenses renders account fees.
func Expenses(expenses []taxfolio.Expense) string {
	var b strings.Builder
	ConditionalBlock(&b, func(w io.Writer) bool {
		fmt.Fprint(w, "## Expenses\n\n")
		header(w, "Date", "Description", ">Amount", ">Original")
		for _, e := range expenses {
			row(w, e.Date.String(), e.Description, amount(e.Amount), amount(e.Local))
		}
		fmt.Fprintln(w)
		return len(expenses) > 0
	})
	return b.String()
}

// Positions renders open lots grouped by symbol, in FIFO order.
func Positions(lots []taxfolio.Lot) string {
	var b strings.Builder
	fmt.Fprint(&b, "## Open Lots\n\n")
	if len(lots) == 0 {
		fmt.Fprint(&b, "No open lots.\n\n")
		return b.String()
	}
	header(&b, "Symbol", "Lot", ">Quantity", ">Unit Cost", "Acquired", "Origin")
	var symbol string
	var total taxfolio.Quantity
	flush := func() {
		if symbol != "" {
			row(&b, bold(symbol), "", bold(total.String()), "", "", "")
		}
	}
	for _, lot := range lots {
		if lot.Symbol != symbol {
			flush()
			symbol, total = lot.Symbol, taxfolio.Quantity{}
		}
		total = total.Add(lot.Quantity)
		row(&b, lot.Symbol, shortID(lot.ID), lot.Quantity.String(), amount(lot.UnitCost), lot.Acquired.String(), string(lot.Origin.Kind))
	}
	flush()
	fmt.Fprintln(&b)
	return b.String()
}

// Replay renders the records of a replay dated in year.
func Replay(res *taxfolio.Result, year int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Portfolio %s, %d\n\n", res.Portfolio, year)
	fmt.Fprintf(&b, "Replayed up to event %d on %s.\n\n", res.LastSeq, res.LastDate)
	b.WriteString(Disposals(res.DisposalsForYear(year)))
	b.WriteString(Income(res.IncomeForYear(year)))
	b.WriteString(Expenses(res.ExpensesForYear(year)))
	return b.String()
}

// Tax renders the tax computation of a year.
func Tax(r *tax.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Tax Report %d\n\n", r.Year)
	fmt.Fprintf(&b, "Amounts in %s.\n\n", r.Currency)
	header(&b, "Item", ">Amount")
	row(&b, "Taxable gain", r.TaxableGain.SignedString())
	row(&b, "Exempt gain", amount(r.ExemptGain))
	row(&b, "Taxable income", amount(r.TaxableIncome))
	row(&b, "Tax on gains", amount(r.TradingTax))
	row(&b, "Tax on income", amount(r.IncomeTax))
	row(&b, "Tax due", amount(r.TaxDue))
	row(&b, "Withheld at source", amount(r.WithheldCredit.Neg()))
	row(&b, "Deductions", amount(r.Deductions.Neg()))
	row(&b, bold("Net payable"), bold(amount(r.NetTaxPayable)))
	fmt.Fprintln(&b)
	if !r.PaymentDate.IsZero() {
		fmt.Fprintf(&b, "Payment due by %s.\n", r.PaymentDate)
	}
	return b.String()
}

func sortedKeys(m map[string]taxfolio.Money) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// shortID keeps the first block of a lot UUID.
func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}
