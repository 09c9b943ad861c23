// Package taxfolio replays the event stream of a brokerage portfolio into
// tax lots, realized gains and taxable income. It is designed to be
// deterministic and auditable: replaying the same events always yields the
// same records, byte for byte.
//
// The core functionalities include:
//   - Event Stream: trades, dividends, interest, account fees and corporate
//     actions, ordered by a sequence number and persisted as JSONL.
//   - Lot Ledger: open lots per symbol matched first-in first-out, with the
//     acquisition cost converted to the base currency at the date chosen by
//     the jurisdiction Policy (trade or settlement date).
//   - Corporate Actions: splits, reverse splits, renames, spin-offs, stock
//     dividends, mergers and delistings rewrite lots while conserving their
//     total cost.
//   - Currency Conversion: a Converter in front of a RateProvider, with
//     memoization and optional lookback for missing days.
//   - Snapshots: the open lots after an event, enough to resume a replay
//     without the events already processed.
//
// The tax sub-package computes the yearly tax from the disposals and income
// produced here. This package serves as the foundational logic for the `txf`
// command-line tool.
package taxfolio
