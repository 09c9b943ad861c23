package taxfolio

import (
	"fmt"

	"github.com/etnz/taxfolio/date"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Ratio reads "To for From": a 3-for-2 split is Ratio{From: 2, To: 3}.
type Ratio struct {
	From int64
	To   int64
}

func (r Ratio) String() string { return fmt.Sprintf("%d:%d", r.To, r.From) }

func (r Ratio) valid() bool { return r.From > 0 && r.To > 0 }

// CorporateAction is a payload that transforms lots without a trade.
type CorporateAction interface {
	Payload
	corporateAction()
}

// StockSplit multiplies the shares held, To > From.
type StockSplit struct {
	Symbol string
	Ratio  Ratio
}

// ReverseSplit consolidates the shares held, To < From. When the resulting
// position has a fractional part and CashInLieu is set, the fraction is sold
// at CashInLieu per new share.
type ReverseSplit struct {
	Symbol     string
	Ratio      Ratio
	CashInLieu *Money
}

// Rename changes the symbol of a security.
type Rename struct {
	Symbol    string
	NewSymbol string
}

// SpinOff distributes shares of a new company to the holders of Symbol.
// Cost is shared using Allocation (the fraction of cost moved to the new
// shares) or, when absent, the fair value of both securities.
type SpinOff struct {
	Symbol     string
	NewSymbol  string
	Ratio      Ratio // new shares per held shares
	Allocation *decimal.Decimal
	OldPrice   *Money
	NewPrice   *Money
}

// StockDividend pays a dividend in shares.
type StockDividend struct {
	Symbol          string
	NewSymbol       string          // empty when paid in the same security
	QuantityPerHeld decimal.Decimal // new shares per held share
	UnitCost        *Money          // cost reported by the broker, zero when nil
}

// Merger replaces Symbol by IntoSymbol without a taxable disposal.
type Merger struct {
	Symbol     string
	IntoSymbol string
	Ratio      Ratio
}

// Delisting closes a position, for the Cash paid if any.
type Delisting struct {
	Symbol   string
	Quantity *Quantity // all shares when nil
	Cash     *Money    // total cash received, zero when nil
}

func (StockSplit) corporateAction()    {}
func (ReverseSplit) corporateAction()  {}
func (Rename) corporateAction()        {}
func (SpinOff) corporateAction()       {}
func (StockDividend) corporateAction() {}
func (Merger) corporateAction()        {}
func (Delisting) corporateAction()     {}

func (StockSplit) kind() string    { return "split" }
func (ReverseSplit) kind() string  { return "reverse-split" }
func (Rename) kind() string        { return "rename" }
func (SpinOff) kind() string       { return "spin-off" }
func (StockDividend) kind() string { return "stock-dividend" }
func (Merger) kind() string        { return "merger" }
func (Delisting) kind() string     { return "delisting" }

func (a StockSplit) symbols() []string   { return []string{a.Symbol} }
func (a ReverseSplit) symbols() []string { return []string{a.Symbol} }
func (a Rename) symbols() []string       { return []string{a.Symbol, a.NewSymbol} }
func (a SpinOff) symbols() []string      { return []string{a.Symbol, a.NewSymbol} }
func (a Merger) symbols() []string       { return []string{a.Symbol, a.IntoSymbol} }
func (a Delisting) symbols() []string    { return []string{a.Symbol} }

func (a StockDividend) symbols() []string {
	if a.NewSymbol == "" {
		return []string{a.Symbol}
	}
	return []string{a.Symbol, a.NewSymbol}
}

func (a StockSplit) remap(f func(string) string) Payload {
	a.Symbol = f(a.Symbol)
	return a
}

func (a ReverseSplit) remap(f func(string) string) Payload {
	a.Symbol = f(a.Symbol)
	return a
}

func (a Rename) remap(f func(string) string) Payload {
	a.Symbol, a.NewSymbol = f(a.Symbol), f(a.NewSymbol)
	return a
}

func (a SpinOff) remap(f func(string) string) Payload {
	a.Symbol, a.NewSymbol = f(a.Symbol), f(a.NewSymbol)
	return a
}

func (a StockDividend) remap(f func(string) string) Payload {
	a.Symbol = f(a.Symbol)
	if a.NewSymbol != "" {
		a.NewSymbol = f(a.NewSymbol)
	}
	return a
}

func (a Merger) remap(f func(string) string) Payload {
	a.Symbol, a.IntoSymbol = f(a.Symbol), f(a.IntoSymbol)
	return a
}

func (a Delisting) remap(f func(string) string) Payload {
	a.Symbol = f(a.Symbol)
	return a
}

// Engine applies corporate actions to a Ledger.
type Engine struct {
	policy Policy
	ledger *Ledger
	log    zerolog.Logger
}

// NewEngine creates an engine writing to ledger.
func NewEngine(policy Policy, ledger *Ledger, log zerolog.Logger) *Engine {
	return &Engine{policy: policy, ledger: ledger, log: log}
}

// Apply transforms the ledger according to action. Either the whole action
// is applied or the ledger is left untouched. Only reverse splits with cash
// in lieu and delistings produce disposals.
func (e *Engine) Apply(ev Event, action CorporateAction) ([]Disposal, error) {
	for _, symbol := range action.symbols() {
		if last := e.ledger.last[symbol]; ev.Date.Before(last) {
			return nil, e.fail(ev, action, fmt.Errorf("%w: %s on %s is before the last event of %s on %s", ErrOutOfOrder, action.kind(), ev.Date, symbol, last))
		}
	}

	if err := checkActionCurrencies(action); err != nil {
		return nil, e.fail(ev, action, err)
	}

	var disposals []Disposal
	var err error
	switch a := action.(type) {
	case StockSplit:
		if a.Ratio.valid() && a.Ratio.To <= a.Ratio.From {
			err = fmt.Errorf("%w: split ratio %s does not increase the shares", ErrInvalidEvent, a.Ratio)
			break
		}
		err = e.split(ev, a.Symbol, a.Ratio, OriginSplit)
	case ReverseSplit:
		if a.Ratio.valid() && a.Ratio.To >= a.Ratio.From {
			err = fmt.Errorf("%w: reverse split ratio %s does not decrease the shares", ErrInvalidEvent, a.Ratio)
			break
		}
		disposals, err = e.reverseSplit(ev, a)
	case Rename:
		err = e.rename(ev, a)
	case SpinOff:
		err = e.spinOff(ev, a)
	case StockDividend:
		err = e.stockDividend(ev, a)
	case Merger:
		err = e.merger(ev, a)
	case Delisting:
		disposals, err = e.delisting(ev, a)
	default:
		err = fmt.Errorf("%w: unhandled corporate action %T", ErrInvalidEvent, action)
	}
	if err != nil {
		return nil, e.fail(ev, action, err)
	}
	for _, symbol := range action.symbols() {
		e.ledger.touch(symbol, ev.Date)
	}
	e.log.Info().Int64("seq", ev.Seq).Str("action", action.kind()).Strs("symbols", action.symbols()).Stringer("date", ev.Date).Msg("corporate action applied")
	return disposals, nil
}

// checkActionCurrencies validates the currency of every amount of action.
func checkActionCurrencies(action CorporateAction) error {
	var what []string
	var amounts []*Money
	switch a := action.(type) {
	case ReverseSplit:
		what, amounts = []string{"cash in lieu"}, []*Money{a.CashInLieu}
	case SpinOff:
		what, amounts = []string{"old price", "new price"}, []*Money{a.OldPrice, a.NewPrice}
	case StockDividend:
		what, amounts = []string{"unit cost"}, []*Money{a.UnitCost}
	case Delisting:
		what, amounts = []string{"cash"}, []*Money{a.Cash}
	}
	for i, m := range amounts {
		if m == nil {
			continue
		}
		if err := checkCurrency(what[i], *m); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) fail(ev Event, action CorporateAction, err error) error {
	if le, ok := err.(*Error); ok {
		if le.Seq == 0 {
			le.Seq = ev.Seq
		}
		return le
	}
	var lots []string
	if symbols := action.symbols(); len(symbols) > 0 {
		for _, lot := range e.ledger.lots[symbols[0]] {
			lots = append(lots, lot.ID)
		}
		return &Error{Op: action.kind(), Portfolio: e.ledger.portfolio, Symbol: symbols[0], Date: ev.Date, Seq: ev.Seq, Lots: lots, Err: err}
	}
	return &Error{Op: action.kind(), Portfolio: e.ledger.portfolio, Date: ev.Date, Seq: ev.Seq, Err: err}
}

// held returns the open lots of symbol or an ambiguous match error.
func (e *Engine) held(symbol string) ([]Lot, error) {
	lots := e.ledger.Lots(symbol)
	if len(lots) == 0 {
		return nil, fmt.Errorf("%w: no open lots of %s", ErrAmbiguousMatch, symbol)
	}
	return lots, nil
}

// derive returns a copy of parent created by the event, with a new ID.
func (e *Engine) derive(ev Event, parent Lot, index int, kind OriginKind, reset bool) Lot {
	child := parent
	child.ID = lotID(e.ledger.portfolio, ev.Seq, index)
	child.Origin = Origin{Kind: kind, Parent: parent.ID, Seq: ev.Seq}
	if reset {
		// Seq is kept: lots reset on the same day stay in their FIFO order.
		child.Acquired = ev.Date
	}
	return child
}

// scale applies ratio to the lots: quantities times To/From, unit costs times
// From/To.
func (e *Engine) scale(ev Event, lots []Lot, ratio Ratio, kind OriginKind, reset bool) ([]Lot, error) {
	if !ratio.valid() {
		return nil, fmt.Errorf("%w: invalid ratio %s", ErrInvalidEvent, ratio)
	}
	whole, rest := sumQuantity(lots).QuoRem(ratio.To, ratio.From)
	target := whole.Add(rest.MulRatio(1, ratio.From))

	scaled := make([]Lot, len(lots))
	var before, after decimal.Decimal
	var total Quantity
	for i, lot := range lots {
		child := e.derive(ev, lot, i, kind, reset)
		child.Quantity = lot.Quantity.MulRatio(ratio.To, ratio.From)
		if i == len(lots)-1 {
			// the last lot absorbs the rounding of the others
			child.Quantity = target.Sub(total)
		}
		total = total.Add(child.Quantity)
		child.UnitCost = lot.UnitCost.MulDecimal(decimal.NewFromInt(ratio.From)).DivDecimal(decimal.NewFromInt(ratio.To))
		before = before.Add(lot.Cost().Amount())
		after = after.Add(child.Cost().Amount())
		scaled[i] = child
	}
	if err := e.conserved(before, after); err != nil {
		return nil, err
	}
	return scaled, nil
}

func sumQuantity(lots []Lot) Quantity {
	var total Quantity
	for _, lot := range lots {
		total = total.Add(lot.Quantity)
	}
	return total
}

// conserved checks two total costs agree within the policy tolerance.
func (e *Engine) conserved(before, after decimal.Decimal) error {
	if before.Sub(after).Abs().GreaterThan(e.policy.epsilon()) {
		return fmt.Errorf("%w: cost %s before, %s after", ErrValueConservation, before, after)
	}
	return nil
}

func (e *Engine) split(ev Event, symbol string, ratio Ratio, kind OriginKind) error {
	lots, err := e.held(symbol)
	if err != nil {
		return err
	}
	scaled, err := e.scale(ev, lots, ratio, kind, e.policy.SplitResetsAcquisition)
	if err != nil {
		return err
	}
	e.ledger.replace(symbol, scaled)
	return nil
}

func (e *Engine) reverseSplit(ev Event, a ReverseSplit) ([]Disposal, error) {
	lots, err := e.held(a.Symbol)
	if err != nil {
		return nil, err
	}
	scaled, err := e.scale(ev, lots, a.Ratio, OriginReverseSplit, e.policy.SplitResetsAcquisition)
	if err != nil {
		return nil, err
	}
	e.ledger.replace(a.Symbol, scaled)

	// held*To = whole*From + rest: rest/From new shares are sold in lieu
	_, rest := sumQuantity(lots).QuoRem(a.Ratio.To, a.Ratio.From)
	if a.CashInLieu == nil || rest.IsZero() {
		return nil, nil
	}
	fraction := e.ledger.Snapshot(a.Symbol).Fraction()
	cash := a.CashInLieu.Mul(rest).Div(Q(a.Ratio.From))
	disposals, err := e.ledger.Close(a.Symbol, fraction, ev.Date, ev.Settlement, cash, Money{})
	if err != nil {
		e.ledger.replace(a.Symbol, lots)
		return nil, err
	}
	return disposals, nil
}

func (e *Engine) rename(ev Event, a Rename) error {
	if a.Symbol == a.NewSymbol || a.NewSymbol == "" {
		return fmt.Errorf("%w: cannot rename %s into %q", ErrAmbiguousMatch, a.Symbol, a.NewSymbol)
	}
	lots, err := e.held(a.Symbol)
	if err != nil {
		return err
	}
	if len(e.ledger.lots[a.NewSymbol]) > 0 {
		return fmt.Errorf("%w: rename target %s is already held", ErrAmbiguousMatch, a.NewSymbol)
	}
	renamed := make([]Lot, len(lots))
	for i, lot := range lots {
		child := e.derive(ev, lot, i, OriginRename, false)
		child.Symbol = a.NewSymbol
		renamed[i] = child
	}
	e.ledger.replace(a.Symbol, nil)
	e.ledger.replace(a.NewSymbol, renamed)
	return nil
}

// spinOffFraction returns the part of the cost moved to the new shares.
func spinOffFraction(a SpinOff) (decimal.Decimal, error) {
	var f decimal.Decimal
	switch {
	case a.Allocation != nil:
		f = *a.Allocation
	case a.OldPrice != nil && a.NewPrice != nil:
		if a.OldPrice.Currency() != a.NewPrice.Currency() {
			return f, fmt.Errorf("%w: spin-off prices in %s and %s", ErrInvalidEvent, a.OldPrice.Currency(), a.NewPrice.Currency())
		}
		newValue := a.NewPrice.Amount().Mul(decimal.NewFromInt(a.Ratio.To)).Div(decimal.NewFromInt(a.Ratio.From))
		total := a.OldPrice.Amount().Add(newValue)
		if !total.IsPositive() {
			return f, fmt.Errorf("%w: spin-off fair value %s is not positive", ErrInvalidEvent, total)
		}
		f = newValue.Div(total)
	default:
		return f, fmt.Errorf("%w: spin-off of %s into %s needs an allocation or both prices", ErrConfigurationMissing, a.Symbol, a.NewSymbol)
	}
	if !f.IsPositive() || f.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return f, fmt.Errorf("%w: spin-off cost fraction %s is not strictly between 0 and 1", ErrInvalidEvent, f)
	}
	return f, nil
}

func (e *Engine) spinOff(ev Event, a SpinOff) error {
	if a.Symbol == a.NewSymbol || a.NewSymbol == "" {
		return fmt.Errorf("%w: cannot spin off %s into %q", ErrAmbiguousMatch, a.Symbol, a.NewSymbol)
	}
	if !a.Ratio.valid() {
		return fmt.Errorf("%w: invalid ratio %s", ErrInvalidEvent, a.Ratio)
	}
	f, err := spinOffFraction(a)
	if err != nil {
		return err
	}
	lots, err := e.held(a.Symbol)
	if err != nil {
		return err
	}
	if len(e.ledger.lots[a.NewSymbol]) > 0 {
		return fmt.Errorf("%w: spin-off target %s is already held", ErrAmbiguousMatch, a.NewSymbol)
	}

	keep := decimal.NewFromInt(1).Sub(f)
	parents := make([]Lot, len(lots))
	children := make([]Lot, 0, len(lots))
	var before, after decimal.Decimal
	for i, lot := range lots {
		parent := lot
		parent.UnitCost = lot.UnitCost.MulDecimal(keep)
		parent.Fees = lot.Fees.MulDecimal(keep)
		parents[i] = parent

		child := e.derive(ev, lot, i, OriginSpinOff, e.policy.SpinOffResetsAcquisition)
		child.Symbol = a.NewSymbol
		child.Quantity = lot.Quantity.MulRatio(a.Ratio.To, a.Ratio.From)
		child.Fees = lot.Fees.Sub(parent.Fees)
		if child.Quantity.IsPositive() {
			child.UnitCost = lot.Cost().MulDecimal(f).Div(child.Quantity)
		}
		children = append(children, child)

		before = before.Add(lot.Cost().Amount())
		after = after.Add(parent.Cost().Amount()).Add(child.Cost().Amount())
	}
	if err := e.conserved(before, after); err != nil {
		return err
	}
	e.ledger.replace(a.Symbol, parents)
	e.ledger.replace(a.NewSymbol, children)
	return nil
}

func (e *Engine) stockDividend(ev Event, a StockDividend) error {
	lots, err := e.held(a.Symbol)
	if err != nil {
		return err
	}
	if !a.QuantityPerHeld.IsPositive() {
		return fmt.Errorf("%w: stock dividend of %s shares per held share", ErrInvalidEvent, a.QuantityPerHeld)
	}
	quantity := Q(e.ledger.Snapshot(a.Symbol).Decimal().Mul(a.QuantityPerHeld))
	cost := M(0, lots[0].UnitCost.Currency())
	if a.UnitCost != nil {
		cost = *a.UnitCost
	}
	target := a.Symbol
	if a.NewSymbol != "" {
		target = a.NewSymbol
	}
	e.ledger.Open(Lot{
		ID:       lotID(e.ledger.portfolio, ev.Seq, 0),
		Symbol:   target,
		Quantity: quantity,
		UnitCost: cost,
		Acquired: ev.Date,
		Settled:  ev.Settlement,
		CostDate: costDate(e.policy, ev),
		Seq:      ev.Seq,
		Origin:   Origin{Kind: OriginStockDividend, Seq: ev.Seq},
	})
	return nil
}

func (e *Engine) merger(ev Event, a Merger) error {
	if a.Symbol == a.IntoSymbol || a.IntoSymbol == "" {
		return fmt.Errorf("%w: cannot merge %s into %q", ErrAmbiguousMatch, a.Symbol, a.IntoSymbol)
	}
	lots, err := e.held(a.Symbol)
	if err != nil {
		return err
	}
	scaled, err := e.scale(ev, lots, a.Ratio, OriginMerger, e.policy.MergerResetsAcquisition)
	if err != nil {
		return err
	}
	for i := range scaled {
		scaled[i].Symbol = a.IntoSymbol
	}
	merged := append(e.ledger.Lots(a.IntoSymbol), scaled...)
	e.ledger.replace(a.Symbol, nil)
	e.ledger.replace(a.IntoSymbol, merged)
	return nil
}

func (e *Engine) delisting(ev Event, a Delisting) ([]Disposal, error) {
	if _, err := e.held(a.Symbol); err != nil {
		return nil, err
	}
	quantity := e.ledger.Snapshot(a.Symbol)
	if a.Quantity != nil {
		quantity = *a.Quantity
	}
	var cash Money
	if a.Cash != nil {
		cash = *a.Cash
	}
	return e.ledger.Close(a.Symbol, quantity, ev.Date, ev.Settlement, cash, Money{})
}

// costDate returns the date whose rate prices an acquisition made by ev.
func costDate(p Policy, ev Event) date.Date {
	if p.CostDate == SettlementDate && !ev.Settlement.IsZero() {
		return ev.Settlement
	}
	return ev.Date
}
