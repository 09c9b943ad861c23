package taxfolio

import (
	"fmt"

	"github.com/etnz/taxfolio/date"
)

// Snapshot is the state of a portfolio's ledger after an event. It is enough
// to resume a replay without the events it already covers.
type Snapshot struct {
	Portfolio string
	LastSeq   int64
	LastDate  date.Date
	Lots      []Lot
}

// Positions sums the lots by symbol.
func (s Snapshot) Positions() map[string]Quantity {
	positions := make(map[string]Quantity)
	for _, lot := range s.Lots {
		positions[lot.Symbol] = positions[lot.Symbol].Add(lot.Quantity)
	}
	return positions
}

// Validate checks the snapshot can seed a ledger.
func (s Snapshot) Validate() error {
	if s.Portfolio == "" {
		return fmt.Errorf("%w: snapshot without portfolio", ErrInvalidEvent)
	}
	seen := make(map[string]bool, len(s.Lots))
	for _, lot := range s.Lots {
		switch {
		case lot.ID == "" || lot.Symbol == "":
			return fmt.Errorf("%w: snapshot lot without id or symbol", ErrInvalidEvent)
		case seen[lot.ID]:
			return fmt.Errorf("%w: duplicated lot %s", ErrInvalidEvent, lot.ID)
		case !lot.Quantity.IsPositive():
			return fmt.Errorf("%w: lot %s has quantity %s", ErrInvalidEvent, lot.ID, lot.Quantity)
		case lot.Acquired.After(s.LastDate) && !s.LastDate.IsZero():
			return fmt.Errorf("%w: lot %s acquired after the snapshot date", ErrInvalidEvent, lot.ID)
		}
		seen[lot.ID] = true
	}
	return nil
}
