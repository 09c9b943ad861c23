package tax

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Rate computes the tax owed on an amount.
type Rate interface {
	// Tax returns the tax on amount when base has already been taxed in the
	// same year. Non positive amounts owe nothing.
	Tax(amount, base decimal.Decimal) decimal.Decimal
}

// Flat taxes every unit at the same rate.
type Flat struct {
	Rate decimal.Decimal
}

func (f Flat) Tax(amount, _ decimal.Decimal) decimal.Decimal {
	if !amount.IsPositive() {
		return decimal.Zero
	}
	return amount.Mul(f.Rate)
}

// Bracket applies Rate to the income up to UpTo. The last bracket has no
// upper bound.
type Bracket struct {
	UpTo *decimal.Decimal `yaml:"up_to"`
	Rate decimal.Decimal  `yaml:"rate"`
}

// Progressive taxes each slice of the yearly income at its bracket rate.
type Progressive struct {
	Brackets []Bracket // sorted by UpTo, unbounded last
}

func (p Progressive) Tax(amount, base decimal.Decimal) decimal.Decimal {
	if !amount.IsPositive() {
		return decimal.Zero
	}
	from, to := base, base.Add(amount)
	var tax decimal.Decimal
	lower := decimal.Zero
	for _, b := range p.Brackets {
		upper := to
		if b.UpTo != nil && b.UpTo.LessThan(upper) {
			upper = *b.UpTo
		}
		start := decimal.Max(lower, from)
		if upper.GreaterThan(start) {
			tax = tax.Add(upper.Sub(start).Mul(b.Rate))
		}
		if b.UpTo == nil || !b.UpTo.LessThan(to) {
			break
		}
		lower = *b.UpTo
	}
	return tax
}

func (p Progressive) validate() error {
	if len(p.Brackets) == 0 {
		return fmt.Errorf("progressive rate without brackets")
	}
	for i, b := range p.Brackets {
		last := i == len(p.Brackets)-1
		if b.UpTo == nil && !last {
			return fmt.Errorf("only the last bracket can be unbounded")
		}
		if b.UpTo != nil && last {
			return fmt.Errorf("the last bracket must be unbounded")
		}
		if i > 0 && b.UpTo != nil && !b.UpTo.GreaterThan(*p.Brackets[i-1].UpTo) {
			return fmt.Errorf("brackets must be sorted by increasing bound")
		}
		if b.Rate.IsNegative() {
			return fmt.Errorf("negative rate %s", b.Rate)
		}
	}
	return nil
}

// RateTable holds the rate of each tax year.
type RateTable map[int]Rate

// UnmarshalYAML reads a year keyed mapping. A year holds either a plain
// number (flat rate), a {flat: rate} mapping or a {brackets: [...]} mapping.
func (t *RateTable) UnmarshalYAML(node *yaml.Node) error {
	// string keys so that JSON documents decode too.
	var raw map[string]yaml.Node
	if err := node.Decode(&raw); err != nil {
		return err
	}
	table := make(RateTable, len(raw))
	for key, n := range raw {
		year, err := strconv.Atoi(key)
		if err != nil {
			return fmt.Errorf("invalid tax year %q", key)
		}
		rate, err := decodeRate(&n)
		if err != nil {
			return fmt.Errorf("rate of %d: %w", year, err)
		}
		table[year] = rate
	}
	*t = table
	return nil
}

func decodeRate(n *yaml.Node) (Rate, error) {
	if n.Kind == yaml.ScalarNode {
		var r decimal.Decimal
		if err := n.Decode(&r); err != nil {
			return nil, err
		}
		return Flat{Rate: r}, nil
	}
	var raw struct {
		Flat     *decimal.Decimal `yaml:"flat"`
		Brackets []Bracket        `yaml:"brackets"`
	}
	if err := n.Decode(&raw); err != nil {
		return nil, err
	}
	switch {
	case raw.Flat != nil && len(raw.Brackets) > 0:
		return nil, fmt.Errorf("both flat and brackets given")
	case raw.Flat != nil:
		if raw.Flat.IsNegative() {
			return nil, fmt.Errorf("negative rate %s", raw.Flat)
		}
		return Flat{Rate: *raw.Flat}, nil
	default:
		p := Progressive{Brackets: raw.Brackets}
		if err := p.validate(); err != nil {
			return nil, err
		}
		return p, nil
	}
}

// Years returns the years of the table in increasing order.
func (t RateTable) Years() []int {
	years := make([]int, 0, len(t))
	for y := range t {
		years = append(years, y)
	}
	sort.Ints(years)
	return years
}
