// Package strategy turns indicator columns into trading signals and drives
// a full backtest: load bars, compute indicators, generate signals, simulate
// the portfolio and evaluate the result.
package strategy

import (
	"fmt"
	"sort"
	"strings"
)

// Registry maps config names to signal modes. Several names may alias the
// same mode.
type Registry struct {
	modes map[string]Mode
}

// builtin is the registry ParseMode consults.
var builtin = NewRegistry()

// NewRegistry creates a Registry preloaded with the built-in modes.
func NewRegistry() *Registry {
	r := &Registry{modes: make(map[string]Mode)}
	r.Register("", ModeNone)
	r.Register("none", ModeNone)
	r.Register("rsi", ModeRSI)
	r.Register("macd", ModeMACD)
	return r
}

// Register adds or replaces name. Names are case-insensitive.
func (r *Registry) Register(name string, m Mode) {
	r.modes[normalize(name)] = m
}

// Get retrieves a mode by name. The second return value indicates whether
// the name was found.
func (r *Registry) Get(name string) (Mode, bool) {
	m, ok := r.modes[normalize(name)]
	return m, ok
}

// Resolve is Get returning ErrUnknownMode for unregistered names.
func (r *Registry) Resolve(name string) (Mode, error) {
	m, ok := r.Get(name)
	if !ok {
		return ModeNone, fmt.Errorf("%w: %q (known: %s)", ErrUnknownMode, name, strings.Join(r.List(), ", "))
	}
	return m, nil
}

// List returns a sorted slice of all non-empty registered names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.modes))
	for name := range r.modes {
		if name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Modes lists the built-in mode names.
func Modes() []string {
	return builtin.List()
}
