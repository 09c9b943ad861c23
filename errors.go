package taxfolio

import (
	"errors"
	"fmt"
	"strings"

	"github.com/etnz/taxfolio/date"
)

// Error categories. Every error returned by the ledger, the corporate action
// engine or the processor matches exactly one of them with errors.Is.
var (
	// ErrDataInconsistency reports broker data that contradicts the ledger.
	// It is fatal for the portfolio replay and never corrected automatically.
	ErrDataInconsistency = errors.New("data inconsistency")
	// ErrConfigurationMissing reports a decision that requires operator input.
	ErrConfigurationMissing = errors.New("configuration missing")
	// ErrExternalUnavailable reports missing external data such as an FX rate.
	ErrExternalUnavailable = errors.New("external data unavailable")
)

var (
	ErrInsufficientQuantity = fmt.Errorf("%w: insufficient quantity", ErrDataInconsistency)
	ErrValueConservation    = fmt.Errorf("%w: value not conserved", ErrDataInconsistency)
	ErrOutOfOrder           = fmt.Errorf("%w: out of order", ErrDataInconsistency)
	ErrMissingSettlement    = fmt.Errorf("%w: missing settlement date", ErrDataInconsistency)
	ErrInvalidEvent         = fmt.Errorf("%w: invalid event", ErrDataInconsistency)

	ErrAmbiguousMatch = fmt.Errorf("%w: ambiguous match", ErrConfigurationMissing)

	ErrRateNotAvailable = fmt.Errorf("%w: rate not available", ErrExternalUnavailable)
)

// Error carries the context needed to act on a failure without re-running
// the replay in a debugger.
type Error struct {
	Op        string    // operation: "close", "split", "replay", ...
	Portfolio string    // may be empty outside of a replay
	Symbol    string
	Date      date.Date
	Seq       int64    // event sequence number, 0 when unknown
	Lots      []string // affected lot IDs
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Portfolio != "" {
		fmt.Fprintf(&b, " portfolio=%s", e.Portfolio)
	}
	if e.Symbol != "" {
		fmt.Fprintf(&b, " symbol=%s", e.Symbol)
	}
	if !e.Date.IsZero() {
		fmt.Fprintf(&b, " date=%s", e.Date)
	}
	if e.Seq != 0 {
		fmt.Fprintf(&b, " seq=%d", e.Seq)
	}
	if len(e.Lots) > 0 {
		fmt.Fprintf(&b, " lots=%s", strings.Join(e.Lots, ","))
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// withEvent fills the context fields that are still empty.
func withEvent(err error, portfolio string, ev Event) error {
	var e *Error
	if errors.As(err, &e) {
		if e.Portfolio == "" {
			e.Portfolio = portfolio
		}
		if e.Seq == 0 {
			e.Seq = ev.Seq
		}
		if e.Date.IsZero() {
			e.Date = ev.Date
		}
		return err
	}
	return &Error{Op: "replay", Portfolio: portfolio, Date: ev.Date, Seq: ev.Seq, Err: err}
}
