package taxfolio

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Remapping rewrites broker symbols before they reach the ledger, for
// instance when a broker changed the ticker it reports.
type Remapping struct {
	mu    sync.Mutex
	rules map[string]string
	used  map[string]bool
}

// NewRemapping returns an empty remapping.
func NewRemapping() *Remapping {
	return &Remapping{rules: make(map[string]string), used: make(map[string]bool)}
}

// Add maps symbol from to symbol to. A symbol can only be mapped once.
func (r *Remapping) Add(from, to string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if from == "" || to == "" || from == to {
		return fmt.Errorf("%w: invalid remapping %q -> %q", ErrConfigurationMissing, from, to)
	}
	if prev, ok := r.rules[from]; ok {
		return fmt.Errorf("%w: %s is already remapped to %s", ErrAmbiguousMatch, from, prev)
	}
	r.rules[from] = to
	return nil
}

// Map returns the symbol to use in place of symbol.
func (r *Remapping) Map(symbol string) string {
	if r == nil {
		return symbol
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	to, ok := r.rules[symbol]
	if !ok {
		return symbol
	}
	r.used[symbol] = true
	return to
}

// EnsureAllMapped reports the rules that never matched any symbol.
func (r *Remapping) EnsureAllMapped() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var unused []string
	for from := range r.rules {
		if !r.used[from] {
			unused = append(unused, from)
		}
	}
	sort.Strings(unused)
	var errs []error
	for _, from := range unused {
		errs = append(errs, fmt.Errorf("%w: remapping rule %s -> %s was never used", ErrConfigurationMissing, from, r.rules[from]))
	}
	return errors.Join(errs...)
}
