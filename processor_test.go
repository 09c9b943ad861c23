package taxfolio

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buy(seq int64, on, settle, symbol string, quantity float64, price Money) Event {
	return Event{Seq: seq, Date: day(on), Settlement: day(settle), Payload: Trade{Symbol: symbol, Quantity: Q(quantity), Price: price}}
}

func sell(seq int64, on, settle, symbol string, quantity float64, price Money) Event {
	return Event{Seq: seq, Date: day(on), Settlement: day(settle), Payload: Trade{Symbol: symbol, Quantity: Q(-quantity), Price: price}}
}

// sampleEvents exercises every payload kind.
func sampleEvents() []Event {
	cash := USD(3)
	return []Event{
		buy(1, "2021-01-04", "2021-01-06", "AAPL", 100, USD(10)),
		buy(2, "2021-02-01", "2021-02-03", "MSFT", 10, USD(200)),
		{Seq: 3, Date: day("2021-03-01"), Payload: Payout{Kind: Dividend, Symbol: "AAPL", Amount: USD(20), Withheld: USD(2)}},
		{Seq: 4, Date: day("2021-06-01"), Payload: StockSplit{Symbol: "AAPL", Ratio: Ratio{From: 1, To: 4}}},
		sell(5, "2022-01-10", "2022-01-12", "AAPL", 150, USD(5)),
		{Seq: 6, Date: day("2022-02-01"), Payload: Fee{Description: "custody", Amount: USD(1)}},
		{Seq: 7, Date: day("2022-03-01"), Payload: ReverseSplit{Symbol: "MSFT", Ratio: Ratio{From: 3, To: 1}, CashInLieu: &cash}},
		{Seq: 8, Date: day("2022-04-01"), Payload: Rename{Symbol: "MSFT", NewSymbol: "MSFX"}},
		{Seq: 9, Date: day("2022-05-01"), Payload: Payout{Kind: Interest, Amount: USD(4)}},
		sell(10, "2023-01-10", "2023-01-12", "AAPL", 250, USD(6)),
		buy(11, "2023-02-10", "2023-02-14", "AAPL", 10, USD(7)),
	}
}

func TestReplay(t *testing.T) {
	p := NewProcessor(US(), NewConverter(NewStaticRates()))
	res, err := p.Replay("main", sampleEvents())
	require.NoError(t, err)

	assert.Equal(t, int64(11), res.LastSeq)
	assert.Equal(t, day("2023-02-10"), res.LastDate)

	positions := res.Positions()
	assertQuantity(t, Q(10), positions["AAPL"])
	assertQuantity(t, Q(3), positions["MSFX"])
	assert.NotContains(t, positions, "MSFT")

	d2022 := res.DisposalsForYear(2022)
	require.Len(t, d2022, 2)
	assertMoney(t, USD(375), d2022[0].CostBasis) // 150 shares at 2.5 after the split
	assertMoney(t, USD(750), d2022[0].Proceeds)
	assertQuantity(t, Q(decimal.RequireFromString("0.3333333333333333")), d2022[1].Quantity, "fraction sold in lieu")
	assertMoney(t, USD(1), d2022[1].Proceeds, "one third of a share at 3")

	d2023 := res.DisposalsForYear(2023)
	require.Len(t, d2023, 1)
	assertMoney(t, USD(625), d2023[0].CostBasis)

	require.Len(t, res.IncomeForYear(2021), 1)
	assertMoney(t, USD(2), res.IncomeForYear(2021)[0].Withheld)
	require.Len(t, res.IncomeForYear(2022), 1)
	assert.Equal(t, Interest, res.IncomeForYear(2022)[0].Kind)
	require.Len(t, res.ExpensesForYear(2022), 1)
}

func TestReplayConservesQuantity(t *testing.T) {
	events := sampleEvents()
	p := NewProcessor(US(), NewConverter(NewStaticRates()))

	// held follows the shares independently of the ledger
	held := map[string]decimal.Decimal{}
	scale := func(symbol string, r Ratio) {
		held[symbol] = held[symbol].Mul(decimal.NewFromInt(r.To)).Div(decimal.NewFromInt(r.From))
	}
	for k := 1; k <= len(events); k++ {
		switch a := events[k-1].Payload.(type) {
		case Trade:
			held[a.Symbol] = held[a.Symbol].Add(a.Quantity.Decimal())
		case StockSplit:
			scale(a.Symbol, a.Ratio)
		case ReverseSplit:
			if a.CashInLieu != nil {
				whole, _ := held[a.Symbol].Mul(decimal.NewFromInt(a.Ratio.To)).QuoRem(decimal.NewFromInt(a.Ratio.From), 0)
				held[a.Symbol] = whole
			} else {
				scale(a.Symbol, a.Ratio)
			}
		case Rename:
			held[a.NewSymbol] = held[a.Symbol]
			delete(held, a.Symbol)
		}

		res, err := p.Replay("main", events[:k])
		require.NoError(t, err, "prefix %d", k)
		positions := res.Positions()
		for symbol, q := range held {
			if q.IsZero() {
				assert.NotContains(t, positions, symbol, "prefix %d", k)
				continue
			}
			assertQuantity(t, Q(q), positions[symbol], "prefix %d %s", k, symbol)
		}
		assert.LessOrEqual(t, len(positions), len(held), "prefix %d", k)

		var lots Quantity
		for _, lot := range res.Lots {
			require.True(t, lot.Quantity.IsPositive(), "prefix %d lot %s", k, lot.ID)
			lots = lots.Add(lot.Quantity)
		}
		var total Quantity
		for _, q := range positions {
			total = total.Add(q)
		}
		assertQuantity(t, total, lots, "prefix %d", k)
	}
}

func TestReplayPartialClose(t *testing.T) {
	p := NewProcessor(US(), NewConverter(NewStaticRates()))
	res, err := p.Replay("main", []Event{
		buy(1, "2024-01-10", "2024-01-12", "X", 100, USD(10)),
		sell(2, "2024-03-10", "2024-03-12", "X", 40, USD(15)),
	})
	require.NoError(t, err)
	require.Len(t, res.Disposals, 1)
	assertMoney(t, USD(400), res.Disposals[0].CostBasis)
	require.Len(t, res.Lots, 1)
	assertQuantity(t, Q(60), res.Lots[0].Quantity)
	assertMoney(t, USD(10), res.Lots[0].UnitCost)
}

func TestReplayIdempotence(t *testing.T) {
	p := NewProcessor(US(), NewConverter(NewStaticRates()))
	var outputs [2]bytes.Buffer
	for i := range outputs {
		res, err := p.Replay("main", sampleEvents())
		require.NoError(t, err)
		require.NoError(t, res.EncodeRecords(&outputs[i]))
	}
	assert.NotZero(t, outputs[0].Len())
	assert.Equal(t, outputs[0].String(), outputs[1].String())
}

func TestReplayFIFODeterminism(t *testing.T) {
	events := []Event{
		buy(1, "2024-01-01", "2024-01-03", "X", 10, USD(1)),
		buy(2, "2024-01-01", "2024-01-03", "X", 10, USD(2)), // same day, later sequence
		sell(3, "2024-02-01", "2024-02-03", "X", 20, USD(3)),
		buy(4, "2024-03-01", "2024-03-03", "X", 5, USD(4)),
		buy(5, "2024-03-02", "2024-03-04", "X", 5, USD(5)),
		sell(6, "2024-04-01", "2024-04-03", "X", 6, USD(6)),
	}
	p := NewProcessor(US(), NewConverter(NewStaticRates()))
	res, err := p.Replay("main", events)
	require.NoError(t, err)
	require.Len(t, res.Disposals, 4)

	var lots []string
	for _, d := range res.Disposals {
		lots = append(lots, d.LotID)
	}
	assert.Equal(t, []string{lotID("main", 1, 0), lotID("main", 2, 0), lotID("main", 4, 0), lotID("main", 5, 0)}, lots)
	assertMoney(t, USD(5), res.Disposals[3].CostBasis)
}

func TestReplayValidation(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
		events []Event
		err    error
	}{
		{
			name:   "sequence not increasing",
			policy: US(),
			events: []Event{buy(2, "2024-01-01", "2024-01-03", "X", 1, USD(1)), buy(2, "2024-01-02", "2024-01-04", "X", 1, USD(1))},
			err:    ErrOutOfOrder,
		},
		{
			name:   "date going back",
			policy: US(),
			events: []Event{buy(1, "2024-01-02", "2024-01-03", "X", 1, USD(1)), buy(2, "2024-01-01", "2024-01-03", "X", 1, USD(1))},
			err:    ErrOutOfOrder,
		},
		{
			name:   "zero sequence",
			policy: US(),
			events: []Event{buy(0, "2024-01-02", "2024-01-03", "X", 1, USD(1))},
			err:    ErrInvalidEvent,
		},
		{
			name:   "zero quantity",
			policy: US(),
			events: []Event{buy(1, "2024-01-02", "2024-01-03", "X", 0, USD(1))},
			err:    ErrInvalidEvent,
		},
		{
			name:   "free buy",
			policy: US(),
			events: []Event{buy(1, "2024-01-02", "2024-01-03", "X", 1, USD(0))},
			err:    ErrInvalidEvent,
		},
		{
			name:   "oversell",
			policy: US(),
			events: []Event{buy(1, "2024-01-02", "2024-01-03", "X", 1, USD(1)), sell(2, "2024-01-03", "2024-01-05", "X", 2, USD(1))},
			err:    ErrInsufficientQuantity,
		},
		{
			name:   "missing settlement under settlement costing",
			policy: Russia(),
			events: []Event{{Seq: 1, Date: day("2024-01-02"), Payload: Trade{Symbol: "X", Quantity: Q(1), Price: USD(1)}}},
			err:    ErrMissingSettlement,
		},
		{
			name:   "price without currency",
			policy: Russia(),
			events: []Event{buy(1, "2024-01-02", "2024-01-04", "X", 1, M(100, ""))},
			err:    ErrInvalidEvent,
		},
		{
			name:   "commission in unknown currency",
			policy: US(),
			events: []Event{{Seq: 1, Date: day("2024-01-02"), Payload: Trade{Symbol: "X", Quantity: Q(1), Price: USD(1), Commission: M(1, "ZZZ")}}},
			err:    ErrInvalidEvent,
		},
		{
			name:   "dividend without currency",
			policy: US(),
			events: []Event{{Seq: 1, Date: day("2024-01-02"), Payload: Payout{Kind: Dividend, Symbol: "X", Amount: M(5, "")}}},
			err:    ErrInvalidEvent,
		},
		{
			name:   "delisting cash without currency",
			policy: US(),
			events: []Event{buy(1, "2024-01-02", "2024-01-04", "X", 1, USD(1)), {Seq: 2, Date: day("2024-02-02"), Payload: Delisting{Symbol: "X", Cash: func() *Money { m := M(3, ""); return &m }()}}},
			err:    ErrInvalidEvent,
		},
		{
			name:   "settlement before trade",
			policy: US(),
			events: []Event{buy(1, "2024-01-02", "2024-01-01", "X", 1, USD(1))},
			err:    ErrInvalidEvent,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProcessor(tt.policy, NewConverter(testRates(90)))
			res, err := p.Replay("main", tt.events)
			assert.Nil(t, res)
			assert.True(t, errors.Is(err, tt.err), "got %v", err)
			assert.True(t, errors.Is(err, ErrDataInconsistency))

			var e *Error
			require.True(t, errors.As(err, &e))
			assert.Equal(t, "main", e.Portfolio)
		})
	}
}

func TestReplayTradeDateWithoutSettlement(t *testing.T) {
	p := NewProcessor(US(), NewConverter(NewStaticRates()))
	res, err := p.Replay("main", []Event{{Seq: 1, Date: day("2024-01-02"), Payload: Trade{Symbol: "X", Quantity: Q(1), Price: USD(1)}}})
	require.NoError(t, err)
	assert.Equal(t, day("2024-01-02"), res.Lots[0].CostDate)
}

func TestReplayInBaseCurrency(t *testing.T) {
	p := NewProcessor(Russia(), NewConverter(testRates(90)))
	res, err := p.Replay("ru", []Event{
		buy(1, "2024-01-10", "2024-01-12", "X", 10, USD(10)),
		{Seq: 2, Date: day("2024-02-01"), Payload: Payout{Kind: Dividend, Symbol: "X", Amount: USD(1), Withheld: USD(0.1)}},
		sell(3, "2024-03-10", "2024-03-12", "X", 10, USD(12)),
	})
	require.NoError(t, err)
	assertMoney(t, RUB(9000), res.Disposals[0].CostBasis)
	assertMoney(t, RUB(10800), res.Disposals[0].Proceeds)
	assertMoney(t, RUB(90), res.Income[0].Amount)
	assertMoney(t, RUB(9), res.Income[0].Withheld)
	assertMoney(t, USD(1), res.Income[0].Local)
	assert.Empty(t, res.Lots)
}

func TestReplayCommissionInOtherCurrency(t *testing.T) {
	p := NewProcessor(Russia(), NewConverter(testRates(90)))
	res, err := p.Replay("ru", []Event{
		{Seq: 1, Date: day("2024-01-10"), Settlement: day("2024-01-12"), Payload: Trade{Symbol: "AAPL", Quantity: Q(10), Price: USD(100), Commission: RUB(50)}},
		{Seq: 2, Date: day("2024-03-10"), Settlement: day("2024-03-12"), Payload: Trade{Symbol: "AAPL", Quantity: Q(-4), Price: USD(110), Commission: RUB(40)}},
		{Seq: 3, Date: day("2024-04-10"), Settlement: day("2024-04-12"), Payload: Trade{Symbol: "AAPL", Quantity: Q(-6), Price: USD(120)}},
	})
	require.NoError(t, err)
	require.Len(t, res.Disposals, 2)
	assertMoney(t, RUB(36020), res.Disposals[0].CostBasis) // 400 USD at 90 plus 20 RUB of fees
	assertMoney(t, RUB(39600), res.Disposals[0].Proceeds)
	assertMoney(t, RUB(40), res.Disposals[0].Commission)
	assertMoney(t, RUB(54030), res.Disposals[1].CostBasis)
	assert.Empty(t, res.Lots)
}

func TestReplayRejectsDecodedAmountWithoutCurrency(t *testing.T) {
	events, err := DecodeEvents(strings.NewReader(`{"seq":1,"date":"2024-01-10","settlement":"2024-01-12","kind":"trade","symbol":"X","quantity":10,"price":{"amount":100}}` + "\n"))
	require.NoError(t, err)

	p := NewProcessor(Russia(), NewConverter(testRates(90)))
	_, err = p.Replay("ru", events)
	assert.True(t, errors.Is(err, ErrInvalidEvent), "got %v", err)
	assert.Contains(t, err.Error(), "price")
}

func TestResume(t *testing.T) {
	events := sampleEvents()
	p := NewProcessor(US(), NewConverter(NewStaticRates()))

	full, err := p.Replay("main", events)
	require.NoError(t, err)

	head, err := p.Replay("main", events[:6])
	require.NoError(t, err)
	tail, err := p.Resume(head.Snapshot(), events)
	require.NoError(t, err)

	assert.Equal(t, full.Lots, tail.Lots)
	assert.Equal(t, full.LastSeq, tail.LastSeq)
	assert.Equal(t, len(full.Disposals), len(head.Disposals)+len(tail.Disposals))
}

func TestReplayRemapping(t *testing.T) {
	remap := NewRemapping()
	require.NoError(t, remap.Add("FB.US", "META"))
	require.NoError(t, remap.Add("UNUSED", "NOPE"))

	p := NewProcessor(US(), NewConverter(NewStaticRates()), WithRemapping(remap))
	res, err := p.Replay("main", []Event{buy(1, "2024-01-10", "2024-01-12", "FB.US", 1, USD(10))})
	require.NoError(t, err)
	assert.Contains(t, res.Positions(), "META")

	err = remap.EnsureAllMapped()
	assert.True(t, errors.Is(err, ErrConfigurationMissing))
	assert.Contains(t, err.Error(), "UNUSED")
}

func TestReplayAll(t *testing.T) {
	p := NewProcessor(US(), NewConverter(NewStaticRates()))
	streams := map[string][]Event{
		"good": sampleEvents(),
		"bad":  {sell(1, "2024-01-10", "2024-01-12", "X", 1, USD(10))},
		"also": {buy(1, "2024-01-10", "2024-01-12", "X", 1, USD(10))},
	}
	results, err := p.ReplayAll(context.Background(), streams)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientQuantity))
	assert.Contains(t, results, "good")
	assert.Contains(t, results, "also")
	assert.NotContains(t, results, "bad")

	single, err := p.Replay("good", sampleEvents())
	require.NoError(t, err)
	assert.Equal(t, single.Lots, results["good"].Lots)
}
