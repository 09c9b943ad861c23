package taxfolio

import (
	"fmt"

	"github.com/etnz/taxfolio/date"
)

// Event is one entry of the canonical event stream of a portfolio.
type Event struct {
	Seq        int64     // strictly increasing within a portfolio
	Date       date.Date // trade or action date
	Settlement date.Date // zero when unknown
	Payload    Payload
}

// Payload is the content of an event. The set of payloads is closed: Trade,
// Payout, Fee and the corporate actions.
type Payload interface {
	// kind is the discriminator used in the JSONL encoding.
	kind() string
	// symbols lists the symbols the payload reads or writes.
	symbols() []string
	// remap returns a copy of the payload with its symbols rewritten.
	remap(func(string) string) Payload
}

// Trade buys (positive quantity) or sells (negative quantity) a security.
type Trade struct {
	Symbol     string
	Quantity   Quantity
	Price      Money // per share
	Commission Money
}

func (t Trade) kind() string      { return "trade" }
func (t Trade) symbols() []string { return []string{t.Symbol} }
func (t Trade) remap(f func(string) string) Payload {
	t.Symbol = f(t.Symbol)
	return t
}

// validate checks the trade can be booked.
func (t Trade) validate() error {
	if t.Symbol == "" {
		return fmt.Errorf("%w: trade without symbol", ErrInvalidEvent)
	}
	if t.Quantity.IsZero() {
		return fmt.Errorf("%w: zero quantity trade of %s", ErrInvalidEvent, t.Symbol)
	}
	if t.Quantity.IsPositive() && !t.Price.IsPositive() {
		return fmt.Errorf("%w: buy of %s at non positive price %s", ErrInvalidEvent, t.Symbol, t.Price)
	}
	if t.Price.IsNegative() || t.Commission.IsNegative() {
		return fmt.Errorf("%w: negative price or commission for %s", ErrInvalidEvent, t.Symbol)
	}
	if err := checkCurrency("price", t.Price); err != nil {
		return err
	}
	return checkCurrency("commission", t.Commission)
}

// checkCurrency rejects a non zero amount without a known currency. Only zero
// amounts may leave it empty.
func checkCurrency(what string, m Money) error {
	if m.IsZero() {
		return nil
	}
	if err := ValidateCurrency(m.Currency()); err != nil {
		return fmt.Errorf("%w: %s of %s: %v", ErrInvalidEvent, what, m.Amount(), err)
	}
	return nil
}

// Payout is a cash income: a dividend or an interest payment.
type Payout struct {
	Kind     IncomeKind
	Symbol   string // empty for account interest
	Amount   Money  // gross amount
	Withheld Money  // tax withheld at source
}

func (p Payout) kind() string { return string(p.Kind) }
func (p Payout) symbols() []string {
	if p.Symbol == "" {
		return nil
	}
	return []string{p.Symbol}
}
func (p Payout) remap(f func(string) string) Payload {
	if p.Symbol != "" {
		p.Symbol = f(p.Symbol)
	}
	return p
}

// Fee is an account level fee.
type Fee struct {
	Description string
	Amount      Money
}

func (f Fee) kind() string                      { return "fee" }
func (f Fee) symbols() []string                 { return nil }
func (f Fee) remap(func(string) string) Payload { return f }
