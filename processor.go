package taxfolio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/etnz/taxfolio/date"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Processor replays event streams into lots, disposals and income.
//
// A Processor holds no portfolio state: each Replay builds its own Ledger, so
// one Processor can serve several portfolios at once.
type Processor struct {
	policy Policy
	conv   *Converter
	log    zerolog.Logger
	remap  *Remapping
}

// Option configures a Processor.
type Option func(*Processor)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option { return func(p *Processor) { p.log = l } }

// WithRemapping rewrites event symbols before processing.
func WithRemapping(r *Remapping) Option { return func(p *Processor) { p.remap = r } }

// NewProcessor creates a processor for a jurisdiction policy.
func NewProcessor(policy Policy, conv *Converter, opts ...Option) *Processor {
	p := &Processor{policy: policy, conv: conv, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Result is the outcome of a successful replay.
type Result struct {
	Portfolio string
	Disposals []Disposal
	Income    []Income
	Expenses  []Expense
	Lots      []Lot // open lots after the last event, in FIFO order per symbol
	LastSeq   int64
	LastDate  date.Date
}

// Replay processes the events of a portfolio starting with no assets.
func (p *Processor) Replay(portfolio string, events []Event) (*Result, error) {
	return p.Resume(Snapshot{Portfolio: portfolio}, events)
}

// Resume processes events on top of a snapshot. Events already covered by
// the snapshot (Seq up to LastSeq) are skipped.
//
// A replay is all or nothing: on error the returned Result is nil.
func (p *Processor) Resume(seed Snapshot, events []Event) (*Result, error) {
	if err := p.policy.Validate(); err != nil {
		return nil, err
	}
	if err := seed.Validate(); err != nil {
		return nil, err
	}
	portfolio := seed.Portfolio
	log := p.log.With().Str("portfolio", portfolio).Logger()
	log.Info().Int("events", len(events)).Int64("from", seed.LastSeq).Msg("replay started")

	ledger := NewLedger(portfolio, p.policy, p.conv)
	for _, lot := range seed.Lots {
		ledger.Open(lot)
	}
	r := &replay{
		Processor: p,
		log:       log,
		ledger:    ledger,
		engine:    NewEngine(p.policy, ledger, log),
		result:    &Result{Portfolio: portfolio, LastSeq: seed.LastSeq, LastDate: seed.LastDate},
	}
	for _, ev := range events {
		if ev.Seq <= 0 {
			return nil, withEvent(fmt.Errorf("%w: sequence numbers start at 1", ErrInvalidEvent), portfolio, ev)
		}
		if ev.Seq <= seed.LastSeq {
			continue
		}
		if err := r.process(ev); err != nil {
			log.Error().Err(err).Int64("seq", ev.Seq).Msg("replay failed")
			return nil, withEvent(err, portfolio, ev)
		}
	}
	r.result.Lots = ledger.All()
	log.Info().
		Int("disposals", len(r.result.Disposals)).
		Int("income", len(r.result.Income)).
		Int("lots", len(r.result.Lots)).
		Msg("replay finished")
	return r.result, nil
}

// replay holds the state of one portfolio replay.
type replay struct {
	*Processor
	log    zerolog.Logger
	ledger *Ledger
	engine *Engine
	result *Result
}

func (r *replay) process(ev Event) error {
	if ev.Payload == nil {
		return fmt.Errorf("%w: event without payload", ErrInvalidEvent)
	}
	if ev.Seq <= r.result.LastSeq {
		return fmt.Errorf("%w: sequence %d after %d", ErrOutOfOrder, ev.Seq, r.result.LastSeq)
	}
	if ev.Date.IsZero() {
		return fmt.Errorf("%w: event without date", ErrInvalidEvent)
	}
	if ev.Date.Before(r.result.LastDate) {
		return fmt.Errorf("%w: %s after %s", ErrOutOfOrder, ev.Date, r.result.LastDate)
	}
	if !ev.Settlement.IsZero() && ev.Settlement.Before(ev.Date) {
		return fmt.Errorf("%w: settles on %s before %s", ErrInvalidEvent, ev.Settlement, ev.Date)
	}
	if r.remap != nil {
		ev.Payload = ev.Payload.remap(r.remap.Map)
	}

	switch payload := ev.Payload.(type) {
	case Trade:
		if err := r.trade(ev, payload); err != nil {
			return err
		}
	case Payout:
		if err := r.payout(ev, payload); err != nil {
			return err
		}
	case Fee:
		if err := r.fee(ev, payload); err != nil {
			return err
		}
	case CorporateAction:
		disposals, err := r.engine.Apply(ev, payload)
		if err != nil {
			return err
		}
		r.result.Disposals = append(r.result.Disposals, disposals...)
	default:
		return fmt.Errorf("%w: unhandled payload %T", ErrInvalidEvent, ev.Payload)
	}
	r.result.LastSeq = ev.Seq
	r.result.LastDate = ev.Date
	return nil
}

func (r *replay) trade(ev Event, t Trade) error {
	if err := t.validate(); err != nil {
		return err
	}
	if ev.Settlement.IsZero() {
		if r.policy.CostDate == SettlementDate || r.policy.ProceedsDate == SettlementDate {
			return &Error{Op: "trade", Symbol: t.Symbol, Err: ErrMissingSettlement}
		}
		r.log.Info().Int64("seq", ev.Seq).Str("symbol", t.Symbol).Msg("no settlement date, trade date used")
	}

	if t.Quantity.IsPositive() {
		r.ledger.Open(Lot{
			ID:       lotID(r.result.Portfolio, ev.Seq, 0),
			Symbol:   t.Symbol,
			Quantity: t.Quantity,
			UnitCost: t.Price,
			Fees:     t.Commission,
			Acquired: ev.Date,
			Settled:  ev.Settlement,
			CostDate: costDate(r.policy, ev),
			Seq:      ev.Seq,
			Origin:   Origin{Kind: OriginPurchase, Seq: ev.Seq},
		})
		return nil
	}

	quantity := t.Quantity.Neg()
	disposals, err := r.ledger.Close(t.Symbol, quantity, ev.Date, ev.Settlement, t.Price.Mul(quantity), t.Commission)
	if err != nil {
		return err
	}
	r.result.Disposals = append(r.result.Disposals, disposals...)
	return nil
}

func (r *replay) payout(ev Event, p Payout) error {
	if p.Kind != Dividend && p.Kind != Interest {
		return fmt.Errorf("%w: unknown income kind %q", ErrInvalidEvent, p.Kind)
	}
	if p.Amount.IsNegative() || p.Withheld.IsNegative() {
		return fmt.Errorf("%w: negative %s amount", ErrInvalidEvent, p.Kind)
	}
	if err := checkCurrency(string(p.Kind), p.Amount); err != nil {
		return err
	}
	if err := checkCurrency("withheld tax", p.Withheld); err != nil {
		return err
	}
	base := r.policy.BaseCurrency
	amount, err := r.conv.Convert(p.Amount, base, ev.Date)
	if err != nil {
		return err
	}
	withheld, err := r.conv.Convert(p.Withheld, base, ev.Date)
	if err != nil {
		return err
	}
	r.result.Income = append(r.result.Income, Income{
		Portfolio: r.result.Portfolio,
		Date:      ev.Date,
		Kind:      p.Kind,
		Symbol:    p.Symbol,
		Amount:    amount,
		Withheld:  withheld,
		Local:     p.Amount,
	})
	return nil
}

func (r *replay) fee(ev Event, f Fee) error {
	if err := checkCurrency("fee", f.Amount); err != nil {
		return err
	}
	amount, err := r.conv.Convert(f.Amount, r.policy.BaseCurrency, ev.Date)
	if err != nil {
		return err
	}
	r.result.Expenses = append(r.result.Expenses, Expense{
		Portfolio:   r.result.Portfolio,
		Date:        ev.Date,
		Description: f.Description,
		Amount:      amount,
		Local:       f.Amount,
	})
	return nil
}

// Snapshot returns the ledger state after the last processed event.
func (r *Result) Snapshot() Snapshot {
	return Snapshot{
		Portfolio: r.Portfolio,
		LastSeq:   r.LastSeq,
		LastDate:  r.LastDate,
		Lots:      append([]Lot(nil), r.Lots...),
	}
}

// Positions returns the open quantity per symbol.
func (r *Result) Positions() map[string]Quantity { return r.Snapshot().Positions() }

// DisposalsForYear returns the disposals dated in year.
func (r *Result) DisposalsForYear(year int) []Disposal {
	var out []Disposal
	for _, d := range r.Disposals {
		if d.Disposed.Year() == year {
			out = append(out, d)
		}
	}
	return out
}

// IncomeForYear returns the income dated in year.
func (r *Result) IncomeForYear(year int) []Income {
	var out []Income
	for _, i := range r.Income {
		if i.Date.Year() == year {
			out = append(out, i)
		}
	}
	return out
}

// ExpensesForYear returns the expenses dated in year.
func (r *Result) ExpensesForYear(year int) []Expense {
	var out []Expense
	for _, e := range r.Expenses {
		if e.Date.Year() == year {
			out = append(out, e)
		}
	}
	return out
}

// EncodeRecords writes disposals, income, expenses and open lots as JSONL.
// Two replays of the same events write the same bytes.
func (r *Result) EncodeRecords(w io.Writer) error {
	write := func(v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
		return nil
	}
	for _, d := range r.Disposals {
		if err := write(d); err != nil {
			return err
		}
	}
	for _, i := range r.Income {
		if err := write(i); err != nil {
			return err
		}
	}
	for _, e := range r.Expenses {
		if err := write(e); err != nil {
			return err
		}
	}
	for _, lot := range r.Lots {
		var o jsonObjectWriter
		o.Append("record", "lot")
		o.Append("portfolio", r.Portfolio)
		o.EmbedFrom(lot)
		if err := write(&o); err != nil {
			return err
		}
	}
	return nil
}

// ReplayAll replays independent portfolios in parallel. It waits for all of
// them: a failing portfolio does not stop the others. The returned map holds
// the successful results and the error joins the failures.
func (p *Processor) ReplayAll(ctx context.Context, streams map[string][]Event) (map[string]*Result, error) {
	portfolios := make([]string, 0, len(streams))
	for name := range streams {
		portfolios = append(portfolios, name)
	}
	sort.Strings(portfolios)

	results := make([]*Result, len(portfolios))
	errs := make([]error, len(portfolios))
	var g errgroup.Group
	for i, name := range portfolios {
		i, name := i, name
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = fmt.Errorf("portfolio %s: %w", name, err)
				return nil
			}
			results[i], errs[i] = p.Replay(name, streams[name])
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]*Result, len(portfolios))
	for i, name := range portfolios {
		if results[i] != nil {
			out[name] = results[i]
		}
	}
	return out, errors.Join(errs...)
}
