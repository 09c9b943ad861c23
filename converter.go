package taxfolio

import (
	"fmt"
	"sync"

	"github.com/etnz/taxfolio/date"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// RateProvider returns the exchange rate of a currency pair on a day.
//
// A pair is the concatenation of two currency codes: "USDEUR" is the price of
// one dollar in euros. Providers must return an error wrapping
// ErrRateNotAvailable when they have no rate for that day.
type RateProvider interface {
	Rate(pair string, on date.Date) (decimal.Decimal, error)
}

// Converter converts amounts into another currency. It is safe for
// concurrent use: there is at most one outstanding provider call per pair
// and date, and once fetched a rate never changes for the converter's life.
// Rates are kept as long as the converter, one entry per pair and day.
type Converter struct {
	provider RateProvider
	lookback int
	log      zerolog.Logger
	group    singleflight.Group

	mu   sync.RWMutex
	memo map[rateKey]decimal.Decimal
}

// ConverterOption configures a Converter.
type ConverterOption func(*Converter)

// WithLookback lets the converter use the most recent rate of the previous n
// days when the requested day has none (week-ends, bank holidays).
func WithLookback(n int) ConverterOption { return func(c *Converter) { c.lookback = n } }

// WithConverterLogger sets the logger used to trace rate fetches.
func WithConverterLogger(l zerolog.Logger) ConverterOption { return func(c *Converter) { c.log = l } }

// NewConverter creates a converter on top of a rate provider.
func NewConverter(p RateProvider, opts ...ConverterOption) *Converter {
	c := &Converter{provider: p, log: zerolog.Nop(), memo: make(map[rateKey]decimal.Decimal)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Convert returns amount expressed in currency `to` at the rate of day `on`.
func (c *Converter) Convert(amount Money, to string, on date.Date) (Money, error) {
	if amount.Currency() == to || amount.IsZero() {
		return amount.In(to), nil
	}
	if amount.Currency() == "" {
		return Money{}, fmt.Errorf("%w: amount %s without currency", ErrInvalidEvent, amount.Amount())
	}
	rate, err := c.Rate(amount.Currency(), to, on)
	if err != nil {
		return Money{}, err
	}
	return amount.MulDecimal(rate).In(to), nil
}

type rateKey struct {
	from, to string
	on       date.Date
}

// Rate returns the price of one unit of `from` in `to` on day `on`.
func (c *Converter) Rate(from, to string, on date.Date) (decimal.Decimal, error) {
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	key := rateKey{from, to, on}
	if rate, ok := c.lookup(key); ok {
		return rate, nil
	}
	v, err, _ := c.group.Do(from+to+on.String(), func() (any, error) {
		if rate, ok := c.lookup(key); ok {
			return rate, nil
		}
		rate, err := c.fetch(from, to, on)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.memo[key] = rate
		c.mu.Unlock()
		return rate, nil
	})
	if err != nil {
		return decimal.Decimal{}, err
	}
	return v.(decimal.Decimal), nil
}

func (c *Converter) lookup(key rateKey) (decimal.Decimal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rate, ok := c.memo[key]
	return rate, ok
}

// fetch tries the direct pair then the inverse one, walking back at most
// lookback days.
func (c *Converter) fetch(from, to string, on date.Date) (decimal.Decimal, error) {
	for i := 0; i <= c.lookback; i++ {
		day := on.Add(-i)
		rate, err := c.provider.Rate(from+to, day)
		if err == nil {
			c.log.Debug().Str("pair", from+to).Stringer("date", day).Stringer("rate", rate).Msg("rate fetched")
			return rate, nil
		}
		inverse, ierr := c.provider.Rate(to+from, day)
		if ierr == nil {
			if inverse.IsZero() {
				return decimal.Decimal{}, fmt.Errorf("%w: inverse rate %s%s is zero on %s", ErrRateNotAvailable, to, from, day)
			}
			rate = decimal.NewFromInt(1).DivRound(inverse, 16)
			c.log.Debug().Str("pair", to+from).Stringer("date", day).Stringer("rate", rate).Msg("inverse rate fetched")
			return rate, nil
		}
	}
	return decimal.Decimal{}, fmt.Errorf("%w: %s to %s on %s", ErrRateNotAvailable, from, to, on)
}
