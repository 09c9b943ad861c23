package taxfolio

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/etnz/taxfolio/date"
	"github.com/shopspring/decimal"
)

// StaticRates is an in-memory RateProvider keyed by pair and day.
type StaticRates struct {
	rates map[string]map[date.Date]decimal.Decimal
}

// NewStaticRates returns an empty provider.
func NewStaticRates() *StaticRates {
	return &StaticRates{rates: make(map[string]map[date.Date]decimal.Decimal)}
}

// Set records the rate of pair on day on.
func (s *StaticRates) Set(pair string, on date.Date, rate decimal.Decimal) {
	days, ok := s.rates[pair]
	if !ok {
		days = make(map[date.Date]decimal.Decimal)
		s.rates[pair] = days
	}
	days[on] = rate
}

func (s *StaticRates) Rate(pair string, on date.Date) (decimal.Decimal, error) {
	if r, ok := s.rates[pair][on]; ok {
		return r, nil
	}
	return decimal.Decimal{}, fmt.Errorf("%w: %s on %s", ErrRateNotAvailable, pair, on)
}

// Chain asks each provider in turn and returns the first rate found.
type Chain []RateProvider

func (c Chain) Rate(pair string, on date.Date) (decimal.Decimal, error) {
	err := fmt.Errorf("%w: %s on %s", ErrRateNotAvailable, pair, on)
	for _, p := range c {
		var r decimal.Decimal
		if r, err = p.Rate(pair, on); err == nil {
			return r, nil
		}
	}
	return decimal.Decimal{}, err
}

type rateLine struct {
	Pair string          `json:"pair"`
	Date date.Date       `json:"date"`
	Rate decimal.Decimal `json:"rate"`
}

// DecodeRates reads rates from JSONL, one {"pair","date","rate"} object per line.
func DecodeRates(r io.Reader) (*StaticRates, error) {
	s := NewStaticRates()
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		b := scanner.Bytes()
		if len(b) == 0 {
			continue
		}
		var l rateLine
		if err := json.Unmarshal(b, &l); err != nil {
			return nil, fmt.Errorf("rates line %d: %w", line, err)
		}
		if len(l.Pair) != 6 {
			return nil, fmt.Errorf("rates line %d: invalid pair %q", line, l.Pair)
		}
		if !l.Rate.IsPositive() {
			return nil, fmt.Errorf("rates line %d: rate must be positive, got %s", line, l.Rate)
		}
		s.Set(l.Pair, l.Date, l.Rate)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading rates: %w", err)
	}
	return s, nil
}

// EncodeRates writes rates as JSONL sorted by pair then date.
func EncodeRates(w io.Writer, s *StaticRates) error {
	var lines []rateLine
	for pair, days := range s.rates {
		for on, rate := range days {
			lines = append(lines, rateLine{Pair: pair, Date: on, Rate: rate})
		}
	}
	sort.Slice(lines, func(i, j int) bool {
		if lines[i].Pair != lines[j].Pair {
			return lines[i].Pair < lines[j].Pair
		}
		return lines[i].Date.Before(lines[j].Date)
	})
	enc := json.NewEncoder(w)
	for _, l := range lines {
		if err := enc.Encode(l); err != nil {
			return err
		}
	}
	return nil
}
