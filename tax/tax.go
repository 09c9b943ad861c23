// Package tax computes the yearly tax of a portfolio from its disposals and
// income records.
package tax

import (
	"errors"
	"fmt"

	"github.com/Rhymond/go-money"
	"github.com/etnz/taxfolio"
	"github.com/etnz/taxfolio/date"
	"github.com/shopspring/decimal"
)

// ErrMissingRate reports a tax year without a configured rate.
var ErrMissingRate = fmt.Errorf("%w: missing tax rate", taxfolio.ErrConfigurationMissing)

// Result is the tax of one year. All amounts are in the configured currency.
type Result struct {
	Year           int
	Currency       string
	TaxableGain    taxfolio.Money // net of losses, may be negative
	ExemptGain     taxfolio.Money
	TaxableIncome  taxfolio.Money
	TradingTax     taxfolio.Money
	IncomeTax      taxfolio.Money
	TaxDue         taxfolio.Money
	WithheldCredit taxfolio.Money
	Deductions     taxfolio.Money
	NetTaxPayable  taxfolio.Money // negative for a refund
	PaymentDate    date.Date
}

// Compute returns the tax of year. Records dated outside year are ignored.
func Compute(year int, cfg *Config, disposals []taxfolio.Disposal, income []taxfolio.Income) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	period := date.Year(year)
	accounts := make(map[string]rules)

	var errs []error
	checkCurrency := func(what string, m taxfolio.Money) {
		if !m.IsZero() && m.Currency() != cfg.Currency {
			errs = append(errs, fmt.Errorf("%w: %s in %s, taxes computed in %s", taxfolio.ErrConfigurationMissing, what, m.Currency(), cfg.Currency))
		}
	}

	var taxable, exempt decimal.Decimal
	for _, d := range disposals {
		if !period.Contains(d.Disposed) {
			continue
		}
		gain := d.Gain()
		checkCurrency("disposal of "+d.Symbol, gain)
		r, ok := accounts[d.Portfolio]
		if !ok {
			var err error
			if r, err = cfg.rulesFor(d.Portfolio); err != nil {
				errs = append(errs, err)
				continue
			}
			accounts[d.Portfolio] = r
		}
		if r.isExempt(d) {
			exempt = exempt.Add(gain.Amount())
		} else {
			taxable = taxable.Add(gain.Amount())
		}
	}

	var incomeTotal, credit decimal.Decimal
	for _, i := range income {
		if !period.Contains(i.Date) {
			continue
		}
		checkCurrency(string(i.Kind)+" "+i.Symbol, i.Amount)
		incomeTotal = incomeTotal.Add(i.Amount.Amount())
		withheld := i.Withheld.Amount()
		if cfg.CreditLimit != nil {
			withheld = decimal.Min(withheld, i.Amount.Amount().Mul(*cfg.CreditLimit))
		}
		credit = credit.Add(withheld)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	var deductions decimal.Decimal
	for _, d := range cfg.Deductions {
		if period.Contains(d.Date) {
			deductions = deductions.Add(d.Amount)
		}
	}

	tradingRate, ok := cfg.Trading[year]
	if !ok {
		return nil, fmt.Errorf("%w: no trading rate for %d", ErrMissingRate, year)
	}
	incomeRate, ok := cfg.Income[year]
	if !ok {
		incomeRate = tradingRate
	}

	places := cfg.precision()
	prior := cfg.PriorIncome[year]
	positiveGain := decimal.Max(taxable, decimal.Zero)
	tradingTax := tradingRate.Tax(positiveGain, prior).Round(places)
	incomeTax := incomeRate.Tax(incomeTotal, prior.Add(positiveGain)).Round(places)
	credit = credit.Round(places)
	due := tradingTax.Add(incomeTax)

	m := func(d decimal.Decimal) taxfolio.Money { return taxfolio.M(d, cfg.Currency) }
	return &Result{
		Year:           year,
		Currency:       cfg.Currency,
		TaxableGain:    m(taxable),
		ExemptGain:     m(exempt),
		TaxableIncome:  m(incomeTotal),
		TradingTax:     m(tradingTax),
		IncomeTax:      m(incomeTax),
		TaxDue:         m(due),
		WithheldCredit: m(credit),
		Deductions:     m(deductions),
		NetTaxPayable:  m(due.Sub(credit).Sub(deductions)),
		PaymentDate:    cfg.paymentDate(year),
	}, nil
}

// isExempt reports whether the gain of d is out of the taxable base. Losses
// stay deductible under the long term ownership rule.
func (r rules) isExempt(d taxfolio.Disposal) bool {
	if r.exemptions[TaxFree] {
		return true
	}
	if r.exemptions[LongTermOwnership] && d.Gain().IsPositive() {
		return date.OwnershipYears(d.Acquired, d.Disposed) >= r.longTermYears
	}
	return false
}

// precision returns the number of decimal places of tax amounts.
func (c *Config) precision() int32 {
	if c.Precision != nil {
		return *c.Precision
	}
	if cur := money.GetCurrency(c.Currency); cur != nil {
		return int32(cur.Fraction)
	}
	return 2
}
