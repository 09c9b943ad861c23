package taxfolio

import (
	"fmt"
	"sort"

	"github.com/etnz/taxfolio/date"
)

// Ledger keeps the open lots of one portfolio, one FIFO queue per symbol.
//
// It is not safe for concurrent use: a portfolio is replayed by a single
// goroutine.
type Ledger struct {
	portfolio string
	policy    Policy
	conv      *Converter
	lots      map[string][]Lot    // per symbol, in FIFO order, quantities > 0
	last      map[string]date.Date // latest event date per symbol
}

// NewLedger creates an empty ledger.
func NewLedger(portfolio string, policy Policy, conv *Converter) *Ledger {
	return &Ledger{
		portfolio: portfolio,
		policy:    policy,
		conv:      conv,
		lots:      make(map[string][]Lot),
		last:      make(map[string]date.Date),
	}
}

// Open inserts a lot at its FIFO position. Lots without a positive quantity
// are ignored.
func (l *Ledger) Open(lot Lot) {
	if !lot.Quantity.IsPositive() {
		return
	}
	queue := l.lots[lot.Symbol]
	i := sort.Search(len(queue), func(i int) bool { return lot.before(queue[i]) })
	queue = append(queue, Lot{})
	copy(queue[i+1:], queue[i:])
	queue[i] = lot
	l.lots[lot.Symbol] = queue
	l.touch(lot.Symbol, lot.Acquired)
}

// touch records that symbol was involved in an event on day on.
func (l *Ledger) touch(symbol string, on date.Date) {
	if on.After(l.last[symbol]) {
		l.last[symbol] = on
	}
}

// portion is a closed part of a lot, computed before any mutation.
type portion struct {
	index    int
	quantity Quantity
	disposal Disposal
}

// Close disposes of quantity shares of symbol in FIFO order.
//
// proceeds and commission are totals for the whole quantity, in the trade
// currency. They are shared between closed lots pro rata, the last portion
// taking the remainder so that the sums are exact. The ledger is left
// untouched when an error is returned.
func (l *Ledger) Close(symbol string, quantity Quantity, on, settle date.Date, proceeds, commission Money) ([]Disposal, error) {
	fail := func(err error, lots ...string) error {
		return &Error{Op: "close", Portfolio: l.portfolio, Symbol: symbol, Date: on, Lots: lots, Err: err}
	}
	if !quantity.IsPositive() {
		return nil, fail(fmt.Errorf("%w: cannot close %s shares", ErrInvalidEvent, quantity))
	}
	held := l.Snapshot(symbol)
	if quantity.GreaterThan(held) {
		return nil, fail(fmt.Errorf("%w: closing %s, holding %s", ErrInsufficientQuantity, quantity, held))
	}

	base := l.policy.BaseCurrency
	proceedsOn := on
	if l.policy.ProceedsDate == SettlementDate && !settle.IsZero() {
		proceedsOn = settle
	}
	totalProceeds, err := l.conv.Convert(proceeds, base, proceedsOn)
	if err != nil {
		return nil, fail(err)
	}
	totalCommission, err := l.conv.Convert(commission, base, on)
	if err != nil {
		return nil, fail(err)
	}

	queue := l.lots[symbol]
	var portions []portion
	remaining := quantity
	leftProceeds, leftCommission := totalProceeds, totalCommission
	for i := 0; i < len(queue) && remaining.IsPositive(); i++ {
		lot := queue[i]
		q := lot.Quantity
		if q.GreaterThan(remaining) {
			q = remaining
		}
		remaining = remaining.Sub(q)

		fees := lot.Fees
		if !q.Equal(lot.Quantity) {
			fees = lot.Fees.Mul(q).Div(lot.Quantity)
		}
		// price and fees may be in different currencies, they meet in base.
		cost, err := l.conv.Convert(lot.UnitCost.Mul(q), base, lot.CostDate)
		if err != nil {
			return nil, fail(err, lot.ID)
		}
		baseFees, err := l.conv.Convert(fees, base, lot.CostDate)
		if err != nil {
			return nil, fail(err, lot.ID)
		}
		cost = cost.Add(baseFees)

		p, c := leftProceeds, leftCommission
		if remaining.IsPositive() {
			p = totalProceeds.Mul(q).Div(quantity)
			c = totalCommission.Mul(q).Div(quantity)
		}
		leftProceeds = leftProceeds.Sub(p)
		leftCommission = leftCommission.Sub(c)

		portions = append(portions, portion{index: i, quantity: q, disposal: Disposal{
			Portfolio:  l.portfolio,
			LotID:      lot.ID,
			Symbol:     symbol,
			Quantity:   q,
			Proceeds:   p,
			CostBasis:  cost,
			Commission: c,
			Acquired:   lot.Acquired,
			Disposed:   on,
			Origin:     lot.Origin,
		}})
	}

	// commit
	disposals := make([]Disposal, 0, len(portions))
	consumed := 0
	for _, p := range portions {
		disposals = append(disposals, p.disposal)
		lot := &queue[p.index]
		if p.quantity.Equal(lot.Quantity) {
			consumed++
			continue
		}
		fees := lot.Fees.Mul(p.quantity).Div(lot.Quantity)
		lot.Fees = lot.Fees.Sub(fees)
		lot.Quantity = lot.Quantity.Sub(p.quantity)
	}
	queue = append([]Lot(nil), queue[consumed:]...)
	if len(queue) == 0 {
		delete(l.lots, symbol)
	} else {
		l.lots[symbol] = queue
	}
	l.touch(symbol, on)
	return disposals, nil
}

// Snapshot returns the open quantity of symbol.
func (l *Ledger) Snapshot(symbol string) Quantity {
	var total Quantity
	for _, lot := range l.lots[symbol] {
		total = total.Add(lot.Quantity)
	}
	return total
}

// Positions returns the open quantity of every held symbol.
func (l *Ledger) Positions() map[string]Quantity {
	positions := make(map[string]Quantity, len(l.lots))
	for symbol := range l.lots {
		positions[symbol] = l.Snapshot(symbol)
	}
	return positions
}

// Symbols returns held symbols in alphabetical order.
func (l *Ledger) Symbols() []string {
	symbols := make([]string, 0, len(l.lots))
	for symbol := range l.lots {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// Lots returns a copy of the open lots of symbol in FIFO order.
func (l *Ledger) Lots(symbol string) []Lot {
	return append([]Lot(nil), l.lots[symbol]...)
}

// All returns a copy of every open lot, by symbol then FIFO order.
func (l *Ledger) All() []Lot {
	var all []Lot
	for _, symbol := range l.Symbols() {
		all = append(all, l.lots[symbol]...)
	}
	return all
}

// replace swaps the lots of a symbol. Used by corporate actions once the new
// lot set has been fully computed.
func (l *Ledger) replace(symbol string, lots []Lot) {
	var kept []Lot
	for _, lot := range lots {
		if lot.Quantity.IsPositive() {
			kept = append(kept, lot)
		}
	}
	if len(kept) == 0 {
		delete(l.lots, symbol)
		return
	}
	sortLots(kept)
	l.lots[symbol] = kept
}
