// Package store persists ledger snapshots so that a replay can resume
// without the events it already covers.
package store

import (
	"errors"
	"fmt"

	"github.com/etnz/taxfolio"
	"github.com/etnz/taxfolio/date"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned by Load when no snapshot exists for a portfolio.
var ErrNotFound = errors.New("snapshot not found")

// Store saves and loads portfolio snapshots.
type Store interface {
	Load(portfolio string) (taxfolio.Snapshot, error)
	Save(s taxfolio.Snapshot) error
	Close() error
}

// lotRecord is the storage form of a lot: decimals and dates as strings so
// that no precision is lost.
type lotRecord struct {
	ID           string `msgpack:"id"`
	Symbol       string `msgpack:"symbol"`
	Quantity     string `msgpack:"quantity"`
	UnitCost     string `msgpack:"unit_cost"`
	Currency     string `msgpack:"currency"`
	Fees         string `msgpack:"fees"`
	FeesCurrency string `msgpack:"fees_currency"`
	Acquired     string `msgpack:"acquired"`
	Settled      string `msgpack:"settled"`
	CostDate     string `msgpack:"cost_date"`
	Seq          int64  `msgpack:"seq"`
	OriginKind   string `msgpack:"origin_kind"`
	OriginParent string `msgpack:"origin_parent"`
	OriginSeq    int64  `msgpack:"origin_seq"`
}

type snapshotRecord struct {
	Portfolio string      `msgpack:"portfolio"`
	LastSeq   int64       `msgpack:"last_seq"`
	LastDate  string      `msgpack:"last_date"`
	Lots      []lotRecord `msgpack:"lots"`
}

func formatDate(d date.Date) string {
	if d.IsZero() {
		return ""
	}
	return d.String()
}

func parseDate(s string) (date.Date, error) {
	if s == "" {
		return date.Date{}, nil
	}
	return date.Parse(s)
}

func toRecord(lot taxfolio.Lot) lotRecord {
	return lotRecord{
		ID:           lot.ID,
		Symbol:       lot.Symbol,
		Quantity:     lot.Quantity.String(),
		UnitCost:     lot.UnitCost.Amount().String(),
		Currency:     lot.UnitCost.Currency(),
		Fees:         lot.Fees.Amount().String(),
		FeesCurrency: lot.Fees.Currency(),
		Acquired:     formatDate(lot.Acquired),
		Settled:      formatDate(lot.Settled),
		CostDate:     formatDate(lot.CostDate),
		Seq:          lot.Seq,
		OriginKind:   string(lot.Origin.Kind),
		OriginParent: lot.Origin.Parent,
		OriginSeq:    lot.Origin.Seq,
	}
}

func (r lotRecord) lot() (taxfolio.Lot, error) {
	quantity, err := decimal.NewFromString(r.Quantity)
	if err != nil {
		return taxfolio.Lot{}, fmt.Errorf("lot %s quantity: %w", r.ID, err)
	}
	unitCost, err := decimal.NewFromString(r.UnitCost)
	if err != nil {
		return taxfolio.Lot{}, fmt.Errorf("lot %s unit cost: %w", r.ID, err)
	}
	fees, err := decimal.NewFromString(r.Fees)
	if err != nil {
		return taxfolio.Lot{}, fmt.Errorf("lot %s fees: %w", r.ID, err)
	}
	lot := taxfolio.Lot{
		ID:       r.ID,
		Symbol:   r.Symbol,
		Quantity: taxfolio.Q(quantity),
		UnitCost: taxfolio.M(unitCost, r.Currency),
		Fees:     taxfolio.M(fees, r.FeesCurrency),
		Seq:      r.Seq,
		Origin:   taxfolio.Origin{Kind: taxfolio.OriginKind(r.OriginKind), Parent: r.OriginParent, Seq: r.OriginSeq},
	}
	for _, d := range []struct {
		dst *date.Date
		src string
	}{{&lot.Acquired, r.Acquired}, {&lot.Settled, r.Settled}, {&lot.CostDate, r.CostDate}} {
		if *d.dst, err = parseDate(d.src); err != nil {
			return taxfolio.Lot{}, fmt.Errorf("lot %s: %w", r.ID, err)
		}
	}
	return lot, nil
}

func toSnapshotRecord(s taxfolio.Snapshot) snapshotRecord {
	rec := snapshotRecord{Portfolio: s.Portfolio, LastSeq: s.LastSeq, LastDate: formatDate(s.LastDate)}
	for _, lot := range s.Lots {
		rec.Lots = append(rec.Lots, toRecord(lot))
	}
	return rec
}

func (r snapshotRecord) snapshot() (taxfolio.Snapshot, error) {
	last, err := parseDate(r.LastDate)
	if err != nil {
		return taxfolio.Snapshot{}, err
	}
	s := taxfolio.Snapshot{Portfolio: r.Portfolio, LastSeq: r.LastSeq, LastDate: last}
	for _, rec := range r.Lots {
		lot, err := rec.lot()
		if err != nil {
			return taxfolio.Snapshot{}, err
		}
		s.Lots = append(s.Lots, lot)
	}
	return s, s.Validate()
}
