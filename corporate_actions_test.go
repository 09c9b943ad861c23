package taxfolio

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(seq int64, on string) Event { return Event{Seq: seq, Date: day(on), Settlement: day(on)} }

func newEngine(l *Ledger) *Engine { return NewEngine(l.policy, l, zerolog.Nop()) }

func TestSplitThenSell(t *testing.T) {
	l := usdLedger()
	l.Open(purchase(1, "2024-01-01", "X", 100, USD(10)))
	e := newEngine(l)

	_, err := e.Apply(at(2, "2024-02-01"), StockSplit{Symbol: "X", Ratio: Ratio{From: 1, To: 2}})
	require.NoError(t, err)
	lots := l.Lots("X")
	require.Len(t, lots, 1)
	assertQuantity(t, Q(200), lots[0].Quantity)
	assertMoney(t, USD(5), lots[0].UnitCost)
	assert.Equal(t, day("2024-01-01"), lots[0].Acquired, "acquisition date survives the split")
	assert.Equal(t, OriginSplit, lots[0].Origin.Kind)

	disposals, err := l.Close("X", Q(50), day("2024-03-01"), day("2024-03-01"), USD(400), USD(0))
	require.NoError(t, err)
	assertMoney(t, USD(250), disposals[0].CostBasis)
}

func TestSplitResetsAcquisition(t *testing.T) {
	p := US()
	p.SplitResetsAcquisition = true
	l := NewLedger("test", p, NewConverter(NewStaticRates()))
	l.Open(purchase(1, "2024-01-01", "X", 100, USD(10)))

	_, err := newEngine(l).Apply(at(2, "2024-02-01"), StockSplit{Symbol: "X", Ratio: Ratio{From: 1, To: 2}})
	require.NoError(t, err)
	lot := l.Lots("X")[0]
	assert.Equal(t, day("2024-02-01"), lot.Acquired)
	assert.Equal(t, int64(1), lot.Seq)
	assert.Equal(t, int64(2), lot.Origin.Seq)
	assert.Equal(t, day("2024-01-01"), lot.CostDate, "cost stays priced at the purchase")
}

func TestResetKeepsFIFOOrder(t *testing.T) {
	p := US()
	p.SplitResetsAcquisition = true
	p.MergerResetsAcquisition = true
	// lot IDs depend on the event sequence, try enough of them to cover both
	// orders of the derived IDs.
	for seq := int64(3); seq < 23; seq++ {
		l := NewLedger("test", p, NewConverter(NewStaticRates()))
		l.Open(purchase(1, "2024-01-10", "X", 10, USD(10)))
		l.Open(purchase(2, "2024-02-10", "X", 10, USD(50)))
		e := newEngine(l)

		_, err := e.Apply(at(seq, "2024-03-01"), StockSplit{Symbol: "X", Ratio: Ratio{From: 1, To: 2}})
		require.NoError(t, err)
		lots := l.Lots("X")
		require.Len(t, lots, 2)
		assertMoney(t, USD(5), lots[0].UnitCost, "seq %d", seq)
		assertMoney(t, USD(25), lots[1].UnitCost, "seq %d", seq)

		_, err = e.Apply(at(seq+100, "2024-04-01"), Merger{Symbol: "X", IntoSymbol: "Y", Ratio: Ratio{From: 1, To: 1}})
		require.NoError(t, err)

		disposals, err := l.Close("Y", Q(15), day("2024-05-01"), day("2024-05-01"), USD(300), USD(0))
		require.NoError(t, err)
		require.Len(t, disposals, 1)
		assertMoney(t, USD(75), disposals[0].CostBasis, "seq %d", seq)
		assert.Equal(t, day("2024-04-01"), disposals[0].Acquired)
	}
}

func TestSplitValueConservation(t *testing.T) {
	for _, ratio := range []Ratio{{1, 2}, {2, 3}, {1, 3}, {7, 9}} {
		l := usdLedger()
		l.Open(purchase(1, "2024-01-01", "X", 100, USD(10)))
		l.Open(purchase(2, "2024-01-02", "X", 33, USD(7.77)))
		before := l.Lots("X")

		_, err := newEngine(l).Apply(at(3, "2024-02-01"), StockSplit{Symbol: "X", Ratio: ratio})
		require.NoError(t, err, ratio)

		after := l.Lots("X")
		require.Len(t, after, 2)
		for i := range before {
			diff := before[i].Cost().Sub(after[i].Cost()).Amount().Abs()
			assert.True(t, diff.LessThanOrEqual(defaultEpsilon), "ratio %s lot %d off by %s", ratio, i, diff)
		}
	}

	t.Run("strict tolerance", func(t *testing.T) {
		p := US()
		p.Epsilon = decimal.New(1, -20)
		l := NewLedger("test", p, NewConverter(NewStaticRates()))
		l.Open(purchase(1, "2024-01-01", "X", 100, USD(10)))

		_, err := newEngine(l).Apply(at(2, "2024-02-01"), StockSplit{Symbol: "X", Ratio: Ratio{From: 1, To: 3}})
		assert.True(t, errors.Is(err, ErrValueConservation))
		assert.True(t, errors.Is(err, ErrDataInconsistency))
		assertQuantity(t, Q(100), l.Snapshot("X"))
	})
}

func TestSplitInvalidRatio(t *testing.T) {
	l := usdLedger()
	l.Open(purchase(1, "2024-01-01", "X", 100, USD(10)))
	e := newEngine(l)

	_, err := e.Apply(at(2, "2024-02-01"), StockSplit{Symbol: "X", Ratio: Ratio{From: 2, To: 1}})
	assert.True(t, errors.Is(err, ErrInvalidEvent))
	_, err = e.Apply(at(2, "2024-02-01"), ReverseSplit{Symbol: "X", Ratio: Ratio{From: 1, To: 2}})
	assert.True(t, errors.Is(err, ErrInvalidEvent))
	_, err = e.Apply(at(2, "2024-02-01"), StockSplit{Symbol: "X", Ratio: Ratio{From: 0, To: 2}})
	assert.True(t, errors.Is(err, ErrInvalidEvent))
	assertQuantity(t, Q(100), l.Snapshot("X"))
}

func TestReverseSplitCashInLieu(t *testing.T) {
	l := usdLedger()
	l.Open(purchase(1, "2024-01-01", "X", 105, USD(1)))
	cash := USD(12)

	disposals, err := newEngine(l).Apply(at(2, "2024-02-01"), ReverseSplit{Symbol: "X", Ratio: Ratio{From: 10, To: 1}, CashInLieu: &cash})
	require.NoError(t, err)
	require.Len(t, disposals, 1)
	assertQuantity(t, Q(0.5), disposals[0].Quantity)
	assertMoney(t, USD(6), disposals[0].Proceeds)
	assertMoney(t, USD(5), disposals[0].CostBasis)
	assert.Equal(t, OriginReverseSplit, disposals[0].Origin.Kind)

	lots := l.Lots("X")
	require.Len(t, lots, 1)
	assertQuantity(t, Q(10), lots[0].Quantity)
	assertMoney(t, USD(10), lots[0].UnitCost)
}

func TestReverseSplitKeepsFractionWithoutCash(t *testing.T) {
	l := usdLedger()
	l.Open(purchase(1, "2024-01-01", "X", 105, USD(1)))
	disposals, err := newEngine(l).Apply(at(2, "2024-02-01"), ReverseSplit{Symbol: "X", Ratio: Ratio{From: 10, To: 1}})
	require.NoError(t, err)
	assert.Empty(t, disposals)
	assertQuantity(t, Q(10.5), l.Snapshot("X"))
}

func TestReverseSplitExactRemainder(t *testing.T) {
	cash := USD(3)

	l := usdLedger()
	l.Open(purchase(1, "2024-01-01", "X", 6, USD(1)))
	l.Open(purchase(2, "2024-01-02", "X", 4, USD(1)))
	disposals, err := newEngine(l).Apply(at(3, "2024-02-01"), ReverseSplit{Symbol: "X", Ratio: Ratio{From: 3, To: 1}, CashInLieu: &cash})
	require.NoError(t, err)
	require.Len(t, disposals, 1)
	assertMoney(t, USD(1), disposals[0].Proceeds, "a third of a share at 3")
	assertQuantity(t, Q(3), l.Snapshot("X"))

	l = usdLedger()
	l.Open(purchase(1, "2024-01-01", "X", 10, USD(1)))
	l.Open(purchase(2, "2024-01-02", "X", 5, USD(1)))
	disposals, err = newEngine(l).Apply(at(3, "2024-02-01"), ReverseSplit{Symbol: "X", Ratio: Ratio{From: 3, To: 1}, CashInLieu: &cash})
	require.NoError(t, err)
	assert.Empty(t, disposals, "thirds of each lot add up to whole shares")
	assertQuantity(t, Q(5), l.Snapshot("X"))
}

func TestRename(t *testing.T) {
	l := usdLedger()
	l.Open(purchase(1, "2024-01-01", "FB", 10, USD(100)))
	l.Open(purchase(2, "2024-01-01", "GOOG", 1, USD(100)))
	e := newEngine(l)

	_, err := e.Apply(at(3, "2024-02-01"), Rename{Symbol: "FB", NewSymbol: "GOOG"})
	assert.True(t, errors.Is(err, ErrAmbiguousMatch))
	assert.True(t, errors.Is(err, ErrConfigurationMissing))

	_, err = e.Apply(at(3, "2024-02-01"), Rename{Symbol: "FB", NewSymbol: "META"})
	require.NoError(t, err)
	assert.Empty(t, l.Lots("FB"))
	lots := l.Lots("META")
	require.Len(t, lots, 1)
	assertMoney(t, USD(100), lots[0].UnitCost)
	assert.Equal(t, day("2024-01-01"), lots[0].Acquired)
	assert.Equal(t, OriginRename, lots[0].Origin.Kind)
	assert.Equal(t, lotID("test", 1, 0), lots[0].Origin.Parent)
}

func TestSpinOff(t *testing.T) {
	allocation := decimal.RequireFromString("0.2")
	oldPrice, newPrice := USD(40), USD(20)
	one := decimal.NewFromInt(1)

	tests := []struct {
		name   string
		action SpinOff
		err    error
	}{
		{name: "allocation", action: SpinOff{Symbol: "X", NewSymbol: "Y", Ratio: Ratio{From: 2, To: 1}, Allocation: &allocation}},
		{name: "fair value", action: SpinOff{Symbol: "X", NewSymbol: "Y", Ratio: Ratio{From: 2, To: 1}, OldPrice: &oldPrice, NewPrice: &newPrice}},
		{name: "missing", action: SpinOff{Symbol: "X", NewSymbol: "Y", Ratio: Ratio{From: 2, To: 1}}, err: ErrConfigurationMissing},
		{name: "whole cost", action: SpinOff{Symbol: "X", NewSymbol: "Y", Ratio: Ratio{From: 2, To: 1}, Allocation: &one}, err: ErrInvalidEvent},
		{name: "held target", action: SpinOff{Symbol: "X", NewSymbol: "Z", Ratio: Ratio{From: 2, To: 1}, Allocation: &allocation}, err: ErrAmbiguousMatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := usdLedger()
			l.Open(purchase(1, "2024-01-01", "X", 100, USD(10)))
			l.Open(purchase(2, "2024-01-01", "Z", 1, USD(1)))

			_, err := newEngine(l).Apply(at(3, "2024-02-01"), tt.action)
			if tt.err != nil {
				assert.True(t, errors.Is(err, tt.err), "got %v", err)
				assertMoney(t, USD(10), l.Lots("X")[0].UnitCost)
				assert.Empty(t, l.Lots("Y"))
				return
			}
			require.NoError(t, err)
			parent := l.Lots("X")[0]
			assertQuantity(t, Q(100), parent.Quantity)
			assertMoney(t, USD(8), parent.UnitCost)

			children := l.Lots("Y")
			require.Len(t, children, 1)
			assertQuantity(t, Q(50), children[0].Quantity)
			assertMoney(t, USD(4), children[0].UnitCost)
			assert.Equal(t, day("2024-01-01"), children[0].Acquired)
			assert.Equal(t, parent.ID, children[0].Origin.Parent)
		})
	}
}

func TestStockDividend(t *testing.T) {
	l := usdLedger()
	l.Open(purchase(1, "2024-01-01", "X", 100, USD(10)))

	_, err := newEngine(l).Apply(at(2, "2024-02-01"), StockDividend{Symbol: "X", QuantityPerHeld: decimal.RequireFromString("0.05")})
	require.NoError(t, err)
	lots := l.Lots("X")
	require.Len(t, lots, 2)
	assertQuantity(t, Q(100), lots[0].Quantity)
	assertMoney(t, USD(10), lots[0].UnitCost)
	assertQuantity(t, Q(5), lots[1].Quantity)
	assert.True(t, lots[1].UnitCost.IsZero())
	assert.Equal(t, day("2024-02-01"), lots[1].Acquired)
	assert.Equal(t, OriginStockDividend, lots[1].Origin.Kind)
}

func TestMerger(t *testing.T) {
	l := usdLedger()
	l.Open(purchase(1, "2024-01-01", "X", 100, USD(10)))
	l.Open(purchase(2, "2024-01-15", "Y", 10, USD(50)))

	disposals, err := newEngine(l).Apply(at(3, "2024-02-01"), Merger{Symbol: "X", IntoSymbol: "Y", Ratio: Ratio{From: 2, To: 3}})
	require.NoError(t, err)
	assert.Empty(t, disposals, "a merger is not a disposal")
	assert.Empty(t, l.Lots("X"))

	lots := l.Lots("Y")
	require.Len(t, lots, 2)
	assertQuantity(t, Q(150), lots[0].Quantity, "former X lot comes first")
	assert.Equal(t, OriginMerger, lots[0].Origin.Kind)
	diff := lots[0].Cost().Amount().Sub(decimal.NewFromInt(1000)).Abs()
	assert.True(t, diff.LessThanOrEqual(defaultEpsilon))
	assertQuantity(t, Q(160), l.Snapshot("Y"))
}

func TestDelisting(t *testing.T) {
	l := usdLedger()
	l.Open(purchase(1, "2024-01-01", "X", 100, USD(10)))
	cash := USD(50)

	disposals, err := newEngine(l).Apply(at(2, "2024-02-01"), Delisting{Symbol: "X", Cash: &cash})
	require.NoError(t, err)
	require.Len(t, disposals, 1)
	assertMoney(t, USD(50), disposals[0].Proceeds)
	assertMoney(t, USD(-950), disposals[0].Gain())
	assert.Empty(t, l.Lots("X"))

	t.Run("without cash", func(t *testing.T) {
		l := usdLedger()
		l.Open(purchase(1, "2024-01-01", "X", 100, USD(10)))
		disposals, err := newEngine(l).Apply(at(2, "2024-02-01"), Delisting{Symbol: "X"})
		require.NoError(t, err)
		assert.True(t, disposals[0].Proceeds.IsZero())
		assertMoney(t, USD(-1000), disposals[0].Gain())
	})
}

func TestCorporateActionOrdering(t *testing.T) {
	l := usdLedger()
	l.Open(purchase(1, "2024-01-01", "X", 100, USD(10)))
	_, err := l.Close("X", Q(10), day("2024-06-01"), day("2024-06-01"), USD(100), USD(0))
	require.NoError(t, err)

	_, err = newEngine(l).Apply(at(3, "2024-05-01"), StockSplit{Symbol: "X", Ratio: Ratio{From: 1, To: 2}})
	assert.True(t, errors.Is(err, ErrOutOfOrder))
	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, int64(3), e.Seq)
	assert.Equal(t, "split", e.Op)
	assertQuantity(t, Q(90), l.Snapshot("X"))
}

func TestCorporateActionWithoutLots(t *testing.T) {
	l := usdLedger()
	_, err := newEngine(l).Apply(at(1, "2024-05-01"), StockSplit{Symbol: "X", Ratio: Ratio{From: 1, To: 2}})
	assert.True(t, errors.Is(err, ErrAmbiguousMatch))
}
