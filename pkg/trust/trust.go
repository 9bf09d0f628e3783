// Package trust classifies destination hosts against the static allow and
// bypass lists. The lists are built once at startup and never written again,
// so classification is safe for unsynchronized concurrent reads.
package trust

import "strings"

// Class is the trust classification of a destination host.
type Class string

const (
	// Trusted hosts are the game vendor's own infrastructure. They bypass
	// scoring only while strict mode is disabled.
	Trusted Class = "TRUSTED"
	// Ignored hosts short-circuit to ALLOW with no profiling and no export
	// beyond the bypassed stream, regardless of strict mode.
	Ignored Class = "IGNORED"
	// Untracked hosts flow through the full detection pipeline.
	Untracked Class = "UNTRACKED"
)

// Registry answers classify(host) lookups in O(1) per label.
type Registry struct {
	strict  bool
	known   map[string]struct{}
	ignored map[string]struct{}
}

// NewRegistry builds the lookup sets. Host entries are lowercased; a request
// host matches an entry exactly or as a subdomain of it.
func NewRegistry(knownHosts, ignoreHosts []string, strict bool) *Registry {
	r := &Registry{
		strict:  strict,
		known:   make(map[string]struct{}, len(knownHosts)),
		ignored: make(map[string]struct{}, len(ignoreHosts)),
	}
	for _, h := range knownHosts {
		if h = normalize(h); h != "" {
			r.known[h] = struct{}{}
		}
	}
	for _, h := range ignoreHosts {
		if h = normalize(h); h != "" {
			r.ignored[h] = struct{}{}
		}
	}
	return r
}

// Classify returns the trust class for a destination host. Under strict mode
// every non-ignored host is Untracked.
func (r *Registry) Classify(host string) Class {
	host = normalize(host)
	if host == "" {
		return Untracked
	}
	if r.contains(r.ignored, host) {
		return Ignored
	}
	if r.strict {
		return Untracked
	}
	if r.contains(r.known, host) {
		return Trusted
	}
	return Untracked
}

// Strict reports whether strict mode is active.
func (r *Registry) Strict() bool {
	return r.strict
}

// contains checks the host and each parent-domain suffix against the set.
// Walking labels keeps the lookup O(labels), not O(entries).
func (r *Registry) contains(set map[string]struct{}, host string) bool {
	for {
		if _, ok := set[host]; ok {
			return true
		}
		idx := strings.IndexByte(host, '.')
		if idx < 0 {
			return false
		}
		host = host[idx+1:]
	}
}

func normalize(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	// Strip a trailing port if the transport hands us host:port.
	if idx := strings.LastIndexByte(host, ':'); idx >= 0 && !strings.Contains(host[idx+1:], "]") {
		if isDigits(host[idx+1:]) {
			host = host[:idx]
		}
	}
	return strings.TrimSuffix(host, ".")
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
