package taxfolio

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/etnz/taxfolio/date"
	"github.com/google/uuid"
)

// OriginKind tells how a lot came to exist.
type OriginKind string

const (
	OriginPurchase      OriginKind = "purchase"
	OriginSeeded        OriginKind = "seeded"
	OriginSplit         OriginKind = "split"
	OriginReverseSplit  OriginKind = "reverse-split"
	OriginSpinOff       OriginKind = "spin-off"
	OriginStockDividend OriginKind = "stock-dividend"
	OriginMerger        OriginKind = "merger"
	OriginRename        OriginKind = "rename"
)

// Origin links a lot to the event and the lot it derives from.
type Origin struct {
	Kind   OriginKind `json:"kind"`
	Parent string     `json:"parent,omitempty"` // ID of the lot it was derived from
	Seq    int64      `json:"seq"`              // event that created it
}

// Lot is a quantity of a security acquired at one time for one price.
type Lot struct {
	ID       string
	Symbol   string
	Quantity Quantity
	UnitCost Money // acquisition price per share, in the trade currency
	Fees     Money // acquisition commission attached to the open quantity
	Acquired date.Date
	Settled  date.Date // zero when the broker did not report it
	CostDate date.Date // date whose exchange rate prices the cost
	Seq      int64     // tie breaker for lots acquired the same day
	Origin   Origin
}

// Cost returns the acquisition cost of the whole lot in the trade currency,
// without fees.
func (l Lot) Cost() Money { return l.UnitCost.Mul(l.Quantity) }

// before reports whether l is consumed before m in FIFO order.
func (l Lot) before(m Lot) bool {
	if c := l.Acquired.Compare(m.Acquired); c != 0 {
		return c < 0
	}
	if l.Seq != m.Seq {
		return l.Seq < m.Seq
	}
	return l.ID < m.ID
}

// lotNamespace scopes lot IDs so they never collide with other UUIDv5 uses.
var lotNamespace = uuid.MustParse("6f1c7c56-2b7e-5a51-9d3e-2f7d8a4b0c11")

// lotID derives a stable ID from the portfolio, the event sequence number and
// the index of the lot created by that event.
func lotID(portfolio string, seq int64, index int) string {
	return uuid.NewSHA1(lotNamespace, []byte(fmt.Sprintf("%s/%d/%d", portfolio, seq, index))).String()
}

// sortLots sorts lots in FIFO order.
func sortLots(lots []Lot) {
	sort.SliceStable(lots, func(i, j int) bool { return lots[i].before(lots[j]) })
}

// MarshalJSON writes the lot with a stable field order.
func (l Lot) MarshalJSON() ([]byte, error) {
	var w jsonObjectWriter
	w.Append("id", l.ID)
	w.Append("symbol", l.Symbol)
	w.Append("quantity", l.Quantity)
	w.Append("unitCost", l.UnitCost)
	w.Optional("fees", l.Fees)
	w.Append("acquired", l.Acquired)
	w.Optional("settled", l.Settled)
	w.Append("costDate", l.CostDate)
	w.Append("seq", l.Seq)
	w.Append("origin", l.Origin)
	return w.MarshalJSON()
}

// UnmarshalJSON reads a lot written by MarshalJSON.
func (l *Lot) UnmarshalJSON(data []byte) error {
	var temp struct {
		ID       string    `json:"id"`
		Symbol   string    `json:"symbol"`
		Quantity Quantity  `json:"quantity"`
		UnitCost Money     `json:"unitCost"`
		Fees     Money     `json:"fees"`
		Acquired date.Date `json:"acquired"`
		Settled  date.Date `json:"settled"`
		CostDate date.Date `json:"costDate"`
		Seq      int64     `json:"seq"`
		Origin   Origin    `json:"origin"`
	}
	if err := json.Unmarshal(data, &temp); err != nil {
		return err
	}
	*l = Lot(temp)
	return nil
}
