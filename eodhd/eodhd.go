// Package eodhd provides exchange rates from the EODHD forex API.
package eodhd

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sync"

	"github.com/etnz/taxfolio"
	"github.com/etnz/taxfolio/date"
	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const defaultBaseURL = "https://eodhd.com/api"

// yearsInMemory bounds the number of (pair, year) tables kept in memory.
// Evicted years are read again from the daily disk cache.
const yearsInMemory = 64

// Rates is a taxfolio.RateProvider backed by EODHD. It downloads a whole
// year of a pair at once and keeps the most recently used years in memory.
type Rates struct {
	apiKey  string
	baseURL string
	client  *http.Client
	log     zerolog.Logger

	mu    sync.Mutex
	years *lru.Cache // yearKey to map[date.Date]decimal.Decimal
}

type yearKey struct {
	pair string
	year int
}

// Option configures Rates.
type Option func(*Rates)

// WithBaseURL sets the API root, mostly for tests.
func WithBaseURL(u string) Option { return func(r *Rates) { r.baseURL = u } }

// WithClient sets the http client. The default caches responses on disk for a day.
func WithClient(c *http.Client) Option { return func(r *Rates) { r.client = c } }

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option { return func(r *Rates) { r.log = l } }

// New returns a rate provider using apiKey.
func New(apiKey string, opts ...Option) *Rates {
	r := &Rates{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		log:     zerolog.Nop(),
	}
	r.years, _ = lru.New(yearsInMemory) // only fails on a non positive size
	for _, opt := range opts {
		opt(r)
	}
	if r.client == nil {
		r.client = newDailyCachingClient(os.TempDir(), r.log)
	}
	return r
}

// Rate returns the rate of pair (e.g. "USDRUB") on a day.
func (r *Rates) Rate(pair string, on date.Date) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := yearKey{pair, on.Year()}
	var days map[date.Date]decimal.Decimal
	if v, ok := r.years.Get(key); ok {
		days = v.(map[date.Date]decimal.Decimal)
	} else {
		var err error
		if days, err = r.fetchYear(pair, on.Year()); err != nil {
			return decimal.Decimal{}, fmt.Errorf("%w: %s on %s: %v", taxfolio.ErrRateNotAvailable, pair, on, err)
		}
		r.years.Add(key, days)
	}
	rate, ok := days[on]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%w: %s on %s", taxfolio.ErrRateNotAvailable, pair, on)
	}
	return rate, nil
}

// fetchYear downloads the daily rates of a pair over a year.
//
// eodhd forex close values are mostly equal to the open: the open of the next
// day is closer to the truth, so the rate of a day is the next day's open.
func (r *Rates) fetchYear(pair string, year int) (map[date.Date]decimal.Decimal, error) {
	if len(pair) != 6 {
		return nil, fmt.Errorf("invalid currency pair %q", pair)
	}
	from := date.New(year, 1, 1).Add(1)
	to := date.New(year, 12, 31).Add(1)

	// https://eodhd.com/api/eod/USDRUB.FOREX?api_token=demo&fmt=json&from=2024-01-02&to=2025-01-01
	addr := fmt.Sprintf("%s/eod/%s.FOREX?fmt=json&api_token=%s&from=%s&to=%s",
		r.baseURL, pair, url.QueryEscape(r.apiKey), from, to)
	type Info struct {
		Date date.Date       `json:"date"`
		Open decimal.Decimal `json:"open"`
	}
	content := make([]Info, 0)
	if err := jwget(r.client, addr, &content); err != nil {
		return nil, err
	}

	days := make(map[date.Date]decimal.Decimal, len(content))
	for _, info := range content {
		if !info.Open.IsPositive() {
			continue
		}
		days[info.Date.Add(-1)] = info.Open
	}
	r.log.Info().Str("pair", pair).Int("year", year).Int("days", len(days)).Msg("fetched exchange rates")
	return days, nil
}
