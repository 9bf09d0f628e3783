// Package patterns provides the compiled indicator pattern registry used by
// the request matcher. All regexes are compiled once at startup and shared
// across every connection.
//
// Design principles:
// - COMPILE ONCE: all patterns compiled at init, not per-request
// - FAIL FAST: a single bad regex aborts startup; the core never runs with a
//   partially loaded rule set
// - DATA-DRIVEN: the pattern table is configuration, not code
package patterns

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/glancesec/glance/pkg/config"
)

// Pattern holds a compiled regex with metadata.
type Pattern struct {
	Kind         string         // Indicator kind reported on match
	Regex        *regexp.Regexp // Compiled regex (never nil after init)
	Severity     float64        // Risk score contribution (0-100)
	KnownChannel bool           // Conclusive evidence; forces BLOCK
}

// Match is one hit of a pattern against a piece of request text.
type Match struct {
	Pattern *Pattern
	Text    string // The matched substring
}

// Registry holds all compiled patterns, organized by kind.
type Registry struct {
	mu     sync.RWMutex
	byKind map[string][]*Pattern
	all    []*Pattern
}

// NewRegistry compiles the given rules into a registry. Any compilation
// failure is returned as an error; callers must treat it as fatal.
func NewRegistry(rules []config.PatternRule) (*Registry, error) {
	r := &Registry{
		byKind: make(map[string][]*Pattern),
		all:    make([]*Pattern, 0, len(rules)),
	}
	for _, rule := range rules {
		compiled, err := regexp.Compile(rule.Regex)
		if err != nil {
			return nil, fmt.Errorf("compile pattern %q (%s): %w", rule.Kind, rule.Regex, err)
		}
		p := &Pattern{
			Kind:         rule.Kind,
			Regex:        compiled,
			Severity:     rule.Severity,
			KnownChannel: rule.KnownChannel,
		}
		r.byKind[rule.Kind] = append(r.byKind[rule.Kind], p)
		r.all = append(r.all, p)
	}
	return r, nil
}

// MustNewRegistry is NewRegistry that panics on a bad rule. Use at startup
// where a misconfigured pattern table must not allow the core to run.
func MustNewRegistry(rules []config.PatternRule) *Registry {
	r, err := NewRegistry(rules)
	if err != nil {
		panic(err)
	}
	return r
}

// FindAll returns every pattern hit in text, in registration order. Multiple
// hits of the same pattern are preserved individually so cumulative severity
// can be weighed downstream.
func (r *Registry) FindAll(text string) []Match {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matches []Match
	for _, p := range r.all {
		for _, m := range p.Regex.FindAllString(text, -1) {
			matches = append(matches, Match{Pattern: p, Text: m})
		}
	}
	return matches
}

// MatchAny reports the first pattern that hits text, or nil.
// Optimized for early exit.
func (r *Registry) MatchAny(text string) *Pattern {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.all {
		if p.Regex.MatchString(text) {
			return p
		}
	}
	return nil
}

// ByKind returns all patterns registered under a kind.
// Returns an empty slice if the kind is unknown (never nil).
func (r *Registry) ByKind(kind string) []*Pattern {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if ps, ok := r.byKind[kind]; ok {
		return ps
	}
	return []*Pattern{}
}

// KnownChannels returns the patterns flagged as conclusive evidence.
func (r *Registry) KnownChannels() []*Pattern {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Pattern
	for _, p := range r.all {
		if p.KnownChannel {
			out = append(out, p)
		}
	}
	return out
}

// TotalPatterns returns the total count of registered patterns.
func (r *Registry) TotalPatterns() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.all)
}
