package tax

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/etnz/taxfolio"
	"github.com/etnz/taxfolio/date"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Exemption names a rule that removes trading gains from the taxable base.
type Exemption string

const (
	// NoExemption states explicitly that every gain is taxable.
	NoExemption Exemption = "none"
	// TaxFree exempts every trading gain, as for tax advantaged accounts.
	TaxFree Exemption = "tax-free"
	// LongTermOwnership exempts gains of lots held for at least LongTermYears.
	LongTermOwnership Exemption = "long-term-ownership"
)

// DefaultLongTermYears is the holding period of LongTermOwnership.
const DefaultLongTermYears = 3

// Deduction lowers the tax to pay, for instance a loss carried forward.
type Deduction struct {
	Date   date.Date       `yaml:"date"`
	Amount decimal.Decimal `yaml:"amount"`
}

// MonthDay is a day of the year written "MM-DD".
type MonthDay struct {
	Month time.Month
	Day   int
}

func (m MonthDay) String() string { return fmt.Sprintf("%02d-%02d", int(m.Month), m.Day) }

func (m *MonthDay) UnmarshalText(text []byte) error {
	t, err := time.Parse("01-02", string(text))
	if err != nil {
		return fmt.Errorf("invalid month-day %q: %w", text, err)
	}
	m.Month, m.Day = t.Month(), t.Day()
	return nil
}

func (m MonthDay) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// Account holds the exemption rules of one portfolio, for instance a tax
// advantaged account held next to a taxable one.
type Account struct {
	Exemptions    []Exemption `yaml:"exemptions"`
	LongTermYears int         `yaml:"long_term_years"` // falls back to the Config's
}

// Config describes a jurisdiction's tax rules for the portfolios of one
// taxpayer.
type Config struct {
	Currency      string                  `yaml:"currency"`
	Trading       RateTable               `yaml:"trading"`
	Income        RateTable               `yaml:"income"`     // falls back to Trading
	Exemptions    []Exemption             `yaml:"exemptions"` // of portfolios not in Accounts
	LongTermYears int                     `yaml:"long_term_years"`
	Accounts      map[string]Account      `yaml:"accounts"` // per portfolio
	Deductions    []Deduction             `yaml:"deductions"`
	PriorIncome   map[int]decimal.Decimal `yaml:"prior_income"` // income taxed elsewhere, per year
	CreditLimit   *decimal.Decimal        `yaml:"credit_limit"` // max withheld credit per unit of income
	Precision     *int32                  `yaml:"precision"`    // decimal places of tax amounts
	PaymentDay    *MonthDay               `yaml:"payment_day"`  // of the following year
}

// Validate checks the configuration is complete.
func (c *Config) Validate() error {
	if c.Currency == "" {
		return fmt.Errorf("%w: tax currency not specified", taxfolio.ErrConfigurationMissing)
	}
	if err := taxfolio.ValidateCurrency(c.Currency); err != nil {
		return err
	}
	if len(c.Exemptions) > 0 || len(c.Accounts) == 0 {
		if _, err := parseExemptions(c.Exemptions); err != nil {
			return err
		}
	}
	if c.LongTermYears < 0 {
		return fmt.Errorf("negative long term years %d", c.LongTermYears)
	}
	for name, a := range c.Accounts {
		if _, err := parseExemptions(a.Exemptions); err != nil {
			return fmt.Errorf("account %q: %w", name, err)
		}
		if a.LongTermYears < 0 {
			return fmt.Errorf("account %q: negative long term years %d", name, a.LongTermYears)
		}
	}
	if c.CreditLimit != nil && c.CreditLimit.IsNegative() {
		return fmt.Errorf("negative credit limit %s", c.CreditLimit)
	}
	return nil
}

// rules are the exemptions applying to one portfolio.
type rules struct {
	exemptions    map[Exemption]bool
	longTermYears int
}

// rulesFor returns the rules of portfolio: its account when configured, the
// defaults otherwise.
func (c *Config) rulesFor(portfolio string) (rules, error) {
	exemptions, years := c.Exemptions, c.LongTermYears
	if a, ok := c.Accounts[portfolio]; ok {
		exemptions = a.Exemptions
		if a.LongTermYears != 0 {
			years = a.LongTermYears
		}
	}
	set, err := parseExemptions(exemptions)
	if err != nil {
		return rules{}, fmt.Errorf("portfolio %q: %w", portfolio, err)
	}
	if years == 0 {
		years = DefaultLongTermYears
	}
	return rules{exemptions: set, longTermYears: years}, nil
}

// parseExemptions returns the set of active exemptions.
func parseExemptions(exemptions []Exemption) (map[Exemption]bool, error) {
	if len(exemptions) == 0 {
		return nil, fmt.Errorf("%w: no exemption policy specified", taxfolio.ErrConfigurationMissing)
	}
	set := make(map[Exemption]bool, len(exemptions))
	for _, e := range exemptions {
		switch e {
		case NoExemption, TaxFree, LongTermOwnership:
			set[e] = true
		default:
			return nil, fmt.Errorf("unknown exemption %q", e)
		}
	}
	if set[NoExemption] && len(set) > 1 {
		return nil, fmt.Errorf("exemption %q cannot be combined with others", NoExemption)
	}
	return set, nil
}

func (c *Config) paymentDate(year int) date.Date {
	day := MonthDay{Month: time.March, Day: 15}
	if c.PaymentDay != nil {
		day = *c.PaymentDay
	}
	return date.New(year+1, day.Month, day.Day)
}

// LoadConfig reads a configuration file.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read tax config: %w", err)
	}
	defer f.Close()
	return DecodeConfig(f)
}

// DecodeConfig reads a YAML configuration. JSON documents are accepted too.
func DecodeConfig(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		// yaml reads most JSON, report the JSON error when it looks like JSON.
		if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
			var probe map[string]any
			if jerr := json.Unmarshal(data, &probe); jerr != nil {
				return nil, fmt.Errorf("parse tax config (tried YAML and JSON): %w", jerr)
			}
		}
		return nil, fmt.Errorf("parse tax config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
