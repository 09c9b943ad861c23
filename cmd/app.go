// Package cmd implements the CLI application replaying portfolios and computing their taxes.
package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/etnz/taxfolio"
	"github.com/etnz/taxfolio/eodhd"
	"github.com/etnz/taxfolio/store"
	"github.com/google/subcommands"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Register the subcommands.
// A main package will call Register() to allow subcommands, and Execute() on the user-selected one.
func Register(c *subcommands.Commander) {
	c.Register(&replayCmd{}, "reports")
	c.Register(&positionsCmd{}, "reports")
	c.Register(&taxesCmd{}, "reports")
}

// as a CLI application, it has a very short lived lifecycle, so it is ok to use global variables.

var eventsPath = flag.String("events", "events", "Path to an event stream (JSONL) or a folder of streams, one per portfolio")
var ratesFile = flag.String("rates", "rates.jsonl", "Path to the exchange rates file (JSONL format)")
var policyFile = flag.String("policy", "", "Path to a YAML policy file. Overrides -preset.")
var presetName = flag.String("preset", "us", "Jurisdiction preset (us, russia)")
var remapFile = flag.String("remap", "", "Path to a YAML map of symbols to rename before processing")
var storePath = flag.String("store", "", "Snapshot store: a .db file for sqlite, a folder otherwise. Empty disables snapshots.")
var eodhdKey = flag.String("eodhd-key", os.Getenv("EODHD_API_KEY"), "EODHD API key to download the rates missing from -rates")
var lookback = flag.Int("lookback", 0, "Days to look back for a missing exchange rate")
var logLevel = flag.String("log-level", "warn", "Log level (debug, info, warn, error)")

// NewLogger returns the console logger of the application.
func NewLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.WarnLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
}

// DecodeStreams reads the event streams. A folder holds one stream per
// portfolio, named after the file without its extension.
func DecodeStreams() (map[string][]taxfolio.Event, error) {
	info, err := os.Stat(*eventsPath)
	if err != nil {
		return nil, err
	}
	files := []string{*eventsPath}
	if info.IsDir() {
		if files, err = filepath.Glob(filepath.Join(*eventsPath, "*.jsonl")); err != nil {
			return nil, err
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("no event stream found in %q", *eventsPath)
		}
	}
	streams := make(map[string][]taxfolio.Event, len(files))
	for _, file := range files {
		name := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
		events, err := decodeEventFile(file)
		if err != nil {
			return nil, fmt.Errorf("portfolio %s: %w", name, err)
		}
		streams[name] = events
	}
	return streams, nil
}

func decodeEventFile(path string) ([]taxfolio.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return taxfolio.DecodeEvents(f)
}

// DecodePolicy returns the policy file if any, the preset otherwise.
func DecodePolicy() (taxfolio.Policy, error) {
	if *policyFile == "" {
		return taxfolio.Preset(*presetName)
	}
	f, err := os.Open(*policyFile)
	if err != nil {
		return taxfolio.Policy{}, err
	}
	defer f.Close()
	return taxfolio.DecodePolicy(f)
}

// NewConverter loads the exchange rates. A missing rates file gives an empty
// provider: single currency portfolios need none. With an EODHD key, rates
// missing from the file are downloaded.
func NewConverter(log zerolog.Logger) (*taxfolio.Converter, error) {
	rates := taxfolio.NewStaticRates()
	f, err := os.Open(*ratesFile)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Warn().Str("file", *ratesFile).Msg("rates file does not exist, no conversion available")
	case err != nil:
		return nil, err
	default:
		defer f.Close()
		if rates, err = taxfolio.DecodeRates(f); err != nil {
			return nil, fmt.Errorf("rates %s: %w", *ratesFile, err)
		}
	}
	var provider taxfolio.RateProvider = rates
	if *eodhdKey != "" {
		provider = taxfolio.Chain{rates, eodhd.New(*eodhdKey, eodhd.WithLogger(log))}
	}
	return taxfolio.NewConverter(provider, taxfolio.WithLookback(*lookback), taxfolio.WithConverterLogger(log)), nil
}

// DecodeRemapping reads the symbol renaming rules, nil when there are none.
func DecodeRemapping() (*taxfolio.Remapping, error) {
	if *remapFile == "" {
		return nil, nil
	}
	data, err := os.ReadFile(*remapFile)
	if err != nil {
		return nil, err
	}
	var rules map[string]string
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("remap %s: %w", *remapFile, err)
	}
	from := make([]string, 0, len(rules))
	for k := range rules {
		from = append(from, k)
	}
	sort.Strings(from)
	remap := taxfolio.NewRemapping()
	for _, k := range from {
		if err := remap.Add(k, rules[k]); err != nil {
			return nil, err
		}
	}
	return remap, nil
}

// OpenStore opens the snapshot store, nil when snapshots are disabled.
func OpenStore() (store.Store, error) {
	switch {
	case *storePath == "":
		return nil, nil
	case filepath.Ext(*storePath) == ".db":
		return store.NewSQLite(*storePath)
	default:
		return store.NewFile(*storePath)
	}
}

// app gathers what every report needs to replay portfolios.
type app struct {
	log       zerolog.Logger
	processor *taxfolio.Processor
	remap     *taxfolio.Remapping
	streams   map[string][]taxfolio.Event
}

func newApp() (*app, error) {
	log := NewLogger()
	policy, err := DecodePolicy()
	if err != nil {
		return nil, err
	}
	conv, err := NewConverter(log)
	if err != nil {
		return nil, err
	}
	remap, err := DecodeRemapping()
	if err != nil {
		return nil, err
	}
	streams, err := DecodeStreams()
	if err != nil {
		return nil, err
	}
	return &app{
		log:       log,
		processor: taxfolio.NewProcessor(policy, conv, taxfolio.WithLogger(log), taxfolio.WithRemapping(remap)),
		remap:     remap,
		streams:   streams,
	}, nil
}

// selected returns the stream of portfolio, or all of them when portfolio is empty.
func (a *app) selected(portfolio string) (map[string][]taxfolio.Event, error) {
	if portfolio == "" {
		return a.streams, nil
	}
	events, ok := a.streams[portfolio]
	if !ok {
		return nil, fmt.Errorf("unknown portfolio %q", portfolio)
	}
	return map[string][]taxfolio.Event{portfolio: events}, nil
}

// replay replays the selected portfolios from their first event. Only
// complete replays are used for reports: a failing portfolio fails the whole
// command.
func (a *app) replay(ctx context.Context, portfolio string) (map[string]*taxfolio.Result, error) {
	streams, err := a.selected(portfolio)
	if err != nil {
		return nil, err
	}
	results, err := a.processor.ReplayAll(ctx, streams)
	if err != nil {
		return nil, err
	}
	a.checkRemapping()
	return results, nil
}

// resume replays the selected portfolios on top of their stored snapshot, and
// stores the new one.
func (a *app) resume(s store.Store, portfolio string) (map[string]*taxfolio.Result, error) {
	streams, err := a.selected(portfolio)
	if err != nil {
		return nil, err
	}
	results := make(map[string]*taxfolio.Result, len(streams))
	for _, name := range sortedKeys(streams) {
		seed, err := s.Load(name)
		switch {
		case errors.Is(err, store.ErrNotFound):
			seed = taxfolio.Snapshot{Portfolio: name}
		case err != nil:
			return nil, err
		default:
			a.log.Info().Str("portfolio", name).Int64("seq", seed.LastSeq).Msg("resuming from snapshot")
		}
		res, err := a.processor.Resume(seed, streams[name])
		if err != nil {
			return nil, err
		}
		if err := s.Save(res.Snapshot()); err != nil {
			return nil, fmt.Errorf("save snapshot %s: %w", name, err)
		}
		results[name] = res
	}
	a.checkRemapping()
	return results, nil
}

func (a *app) checkRemapping() {
	if err := a.remap.EnsureAllMapped(); err != nil {
		a.log.Warn().Err(err).Msg("unused remapping rules")
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
