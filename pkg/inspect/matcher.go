// Package inspect implements the stateless indicator matcher. Scanning is a
// pure function of request content plus the static pattern table, so a single
// Matcher is safe for unsynchronized concurrent use.
package inspect

import (
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/glancesec/glance/pkg/config"
	"github.com/glancesec/glance/pkg/flow"
	"github.com/glancesec/glance/pkg/patterns"
)

// largeUploadSeverity is the score contribution of a body too large to scan
// in full. Oversized bodies are head-sampled rather than fully scanned to
// bound inspection latency.
const largeUploadSeverity = 30

// Matcher scans request URL, headers, and body against the pattern registry.
type Matcher struct {
	registry *patterns.Registry
	ceiling  int64
}

// NewMatcher builds a matcher over an already-compiled registry.
func NewMatcher(registry *patterns.Registry, bodyCeiling int64) *Matcher {
	return &Matcher{registry: registry, ceiling: bodyCeiling}
}

// Scan returns the ordered indicator matches for a request, possibly empty,
// and whether the body was undecodable. Matching is applied independently to
// URL, headers, and body; matches are preserved individually, never
// deduplicated, so cumulative severity can be weighed by the scorer.
func (m *Matcher) Scan(req *flow.Request) (indicators []flow.Indicator, malformed bool) {
	indicators = append(indicators, m.scanText(req.URL(), flow.LocationURL)...)

	for name, value := range req.Headers {
		indicators = append(indicators, m.scanText(name, flow.LocationHeader)...)
		indicators = append(indicators, m.scanText(value, flow.LocationHeader)...)
	}

	body := req.Body
	if len(body) == 0 {
		return indicators, false
	}

	if int64(len(body)) > m.ceiling {
		// Head sample only. The truncation itself is evidence.
		indicators = append(indicators, flow.Indicator{
			Kind:     config.KindLargeUpload,
			Location: flow.LocationBody,
			Severity: largeUploadSeverity,
		})
		body = body[:m.ceiling]
	}

	if !utf8.Valid(body) {
		// Cannot-parse is reported to the profiler as a behavioral signal;
		// the request still proceeds with reduced indicator coverage.
		return indicators, true
	}

	text := norm.NFKC.String(string(body))
	indicators = append(indicators, m.scanText(text, flow.LocationBody)...)
	return indicators, false
}

func (m *Matcher) scanText(text string, loc flow.Location) []flow.Indicator {
	if text == "" {
		return nil
	}
	hits := m.registry.FindAll(text)
	if len(hits) == 0 {
		return nil
	}
	out := make([]flow.Indicator, 0, len(hits))
	for _, h := range hits {
		out = append(out, flow.Indicator{
			Kind:         h.Pattern.Kind,
			Location:     loc,
			Matched:      h.Text,
			Severity:     h.Pattern.Severity,
			KnownChannel: h.Pattern.KnownChannel,
		})
	}
	return out
}
