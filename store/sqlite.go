package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/etnz/taxfolio"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	portfolio TEXT PRIMARY KEY,
	last_seq  INTEGER NOT NULL,
	last_date TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS lots (
	portfolio     TEXT NOT NULL REFERENCES snapshots(portfolio) ON DELETE CASCADE,
	id            TEXT NOT NULL,
	symbol        TEXT NOT NULL,
	quantity      TEXT NOT NULL,
	unit_cost     TEXT NOT NULL,
	currency      TEXT NOT NULL,
	fees          TEXT NOT NULL,
	fees_currency TEXT NOT NULL,
	acquired      TEXT NOT NULL,
	settled       TEXT NOT NULL,
	cost_date     TEXT NOT NULL,
	seq           INTEGER NOT NULL,
	origin_kind   TEXT NOT NULL,
	origin_parent TEXT NOT NULL,
	origin_seq    INTEGER NOT NULL,
	PRIMARY KEY (portfolio, id)
);
`

// SQLite stores snapshots in a sqlite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens or creates the database at path.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Load(portfolio string) (taxfolio.Snapshot, error) {
	rec := snapshotRecord{Portfolio: portfolio}
	err := s.db.QueryRow(`SELECT last_seq, last_date FROM snapshots WHERE portfolio = ?`, portfolio).
		Scan(&rec.LastSeq, &rec.LastDate)
	if errors.Is(err, sql.ErrNoRows) {
		return taxfolio.Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, portfolio)
	}
	if err != nil {
		return taxfolio.Snapshot{}, err
	}

	rows, err := s.db.Query(`
		SELECT id, symbol, quantity, unit_cost, currency, fees, fees_currency,
		       acquired, settled, cost_date, seq, origin_kind, origin_parent, origin_seq
		FROM lots WHERE portfolio = ?
		ORDER BY symbol, acquired, seq, id`, portfolio)
	if err != nil {
		return taxfolio.Snapshot{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l lotRecord
		if err := rows.Scan(&l.ID, &l.Symbol, &l.Quantity, &l.UnitCost, &l.Currency, &l.Fees, &l.FeesCurrency,
			&l.Acquired, &l.Settled, &l.CostDate, &l.Seq, &l.OriginKind, &l.OriginParent, &l.OriginSeq); err != nil {
			return taxfolio.Snapshot{}, err
		}
		rec.Lots = append(rec.Lots, l)
	}
	if err := rows.Err(); err != nil {
		return taxfolio.Snapshot{}, err
	}
	return rec.snapshot()
}

// Save replaces the snapshot of the portfolio in a single transaction.
func (s *SQLite) Save(snap taxfolio.Snapshot) error {
	rec := toSnapshotRecord(snap)
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM lots WHERE portfolio = ?`, rec.Portfolio); err != nil {
		return err
	}
	if _, err := tx.Exec(`
		INSERT INTO snapshots (portfolio, last_seq, last_date) VALUES (?, ?, ?)
		ON CONFLICT(portfolio) DO UPDATE SET last_seq = excluded.last_seq, last_date = excluded.last_date`,
		rec.Portfolio, rec.LastSeq, rec.LastDate); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`
		INSERT INTO lots (portfolio, id, symbol, quantity, unit_cost, currency, fees, fees_currency,
		                  acquired, settled, cost_date, seq, origin_kind, origin_parent, origin_seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, l := range rec.Lots {
		if _, err := stmt.Exec(rec.Portfolio, l.ID, l.Symbol, l.Quantity, l.UnitCost, l.Currency, l.Fees, l.FeesCurrency,
			l.Acquired, l.Settled, l.CostDate, l.Seq, l.OriginKind, l.OriginParent, l.OriginSeq); err != nil {
			return fmt.Errorf("insert lot %s: %w", l.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) Close() error { return s.db.Close() }
