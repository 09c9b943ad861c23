package taxfolio

import (
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// DateBasis selects which of the two dates of a trade prices an amount.
type DateBasis int

const (
	// TradeDate uses the date the trade was concluded.
	TradeDate DateBasis = iota
	// SettlementDate uses the date the trade settled.
	SettlementDate
)

func (b DateBasis) String() string {
	switch b {
	case TradeDate:
		return "trade"
	case SettlementDate:
		return "settlement"
	default:
		return "unknown"
	}
}

// ParseDateBasis parses a string into a DateBasis.
func ParseDateBasis(s string) (DateBasis, error) {
	switch s {
	case "trade":
		return TradeDate, nil
	case "settlement":
		return SettlementDate, nil
	default:
		return 0, fmt.Errorf("unknown date basis: %q", s)
	}
}

func (b DateBasis) MarshalText() ([]byte, error) { return []byte(b.String()), nil }

func (b *DateBasis) UnmarshalText(text []byte) error {
	v, err := ParseDateBasis(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// Policy holds the jurisdiction choices that alter lot accounting.
type Policy struct {
	Name         string    `yaml:"name"`
	BaseCurrency string    `yaml:"base_currency"`
	CostDate     DateBasis `yaml:"cost_date"`     // date whose rate prices the acquisition cost
	ProceedsDate DateBasis `yaml:"proceeds_date"` // date whose rate prices disposal proceeds

	// When set, lots transformed by the action are treated as acquired on the
	// action date: FIFO order and holding period restart.
	SplitResetsAcquisition   bool `yaml:"split_resets_acquisition"`
	MergerResetsAcquisition  bool `yaml:"merger_resets_acquisition"`
	SpinOffResetsAcquisition bool `yaml:"spin_off_resets_acquisition"`

	// Epsilon is the tolerance of value conservation checks. Zero means 1e-6.
	Epsilon decimal.Decimal `yaml:"epsilon"`
}

var defaultEpsilon = decimal.New(1, -6)

func (p Policy) epsilon() decimal.Decimal {
	if p.Epsilon.IsZero() {
		return defaultEpsilon
	}
	return p.Epsilon
}

// Validate checks the policy is usable.
func (p Policy) Validate() error {
	if p.BaseCurrency == "" {
		return fmt.Errorf("%w: policy %q has no base currency", ErrConfigurationMissing, p.Name)
	}
	if err := ValidateCurrency(p.BaseCurrency); err != nil {
		return fmt.Errorf("policy %q: %w", p.Name, err)
	}
	if p.Epsilon.IsNegative() {
		return fmt.Errorf("policy %q: negative epsilon %s", p.Name, p.Epsilon)
	}
	return nil
}

// Russia prices acquisition costs and proceeds in roubles at the settlement date.
func Russia() Policy {
	return Policy{
		Name:         "russia",
		BaseCurrency: "RUB",
		CostDate:     SettlementDate,
		ProceedsDate: SettlementDate,
	}
}

// US prices everything in dollars at the trade date.
func US() Policy {
	return Policy{
		Name:         "us",
		BaseCurrency: "USD",
		CostDate:     TradeDate,
		ProceedsDate: TradeDate,
	}
}

// Preset returns a named policy.
func Preset(name string) (Policy, error) {
	switch name {
	case "russia":
		return Russia(), nil
	case "us":
		return US(), nil
	default:
		return Policy{}, fmt.Errorf("%w: unknown policy preset %q", ErrConfigurationMissing, name)
	}
}

// DecodePolicy reads a YAML policy document. A `preset` key selects the
// starting values; other keys override them.
func DecodePolicy(r io.Reader) (Policy, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Policy{}, err
	}
	var head struct {
		Preset string `yaml:"preset"`
	}
	if err := yaml.Unmarshal(data, &head); err != nil {
		return Policy{}, fmt.Errorf("parse policy: %w", err)
	}
	var p Policy
	if head.Preset != "" {
		if p, err = Preset(head.Preset); err != nil {
			return Policy{}, err
		}
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("parse policy: %w", err)
	}
	return p, p.Validate()
}
