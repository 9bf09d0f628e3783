// Package flow defines the request, detection, and decision types that move
// through the interception pipeline. A Request is immutable once captured;
// exactly one Assessment is produced per Request, and the Assessment is
// immutable after creation.
package flow

import (
	"time"

	"github.com/google/uuid"
)

// Decision is the terminal verdict for a request.
type Decision string

const (
	// DecisionAllow forwards the request unmodified.
	DecisionAllow Decision = "ALLOW"
	// DecisionBlock terminates the request before any byte leaves the
	// interception boundary.
	DecisionBlock Decision = "BLOCK"
	// DecisionFlag forwards the request but records it for human review.
	DecisionFlag Decision = "FLAG_POTENTIAL"
)

// Location identifies where in a request an indicator matched.
type Location string

const (
	LocationURL    Location = "url"
	LocationHeader Location = "header"
	LocationBody   Location = "body"
)

// Request is one decrypted HTTP request delivered by the transport layer.
// Fields are never mutated after capture.
type Request struct {
	ID           string            `json:"id"`
	Timestamp    time.Time         `json:"timestamp"`
	ConnectionID string            `json:"connection_id"`
	Host         string            `json:"host"`
	Port         int               `json:"port"`
	Method       string            `json:"method"`
	Path         string            `json:"path"`
	Headers      map[string]string `json:"headers,omitempty"`
	Body         []byte            `json:"-"`
	BodySize     int64             `json:"body_size"`
}

// URL reconstructs the request URL without scheme, matching how the
// interception boundary reports it.
func (r *Request) URL() string {
	return r.Host + r.Path
}

// NewRequestID returns a fresh identifier for a captured request.
func NewRequestID() string {
	return uuid.NewString()
}

// Indicator is a single pattern match against a request. Multiple matches on
// the same request are preserved individually so the scorer can weigh
// cumulative severity.
type Indicator struct {
	Kind         string   `json:"kind"`
	Location     Location `json:"location"`
	Matched      string   `json:"matched,omitempty"`
	Severity     float64  `json:"severity"`
	KnownChannel bool     `json:"known_channel"`
}

// BehaviorSignal is one heuristic measurement derived from per-host state.
// Signals are additive inputs to the scorer, never decisions by themselves.
type BehaviorSignal struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
	Detail string  `json:"detail,omitempty"`
}

// Assessment is the scored result for one request. Created once, immutable
// after creation, consumed by the enforcer and the report sinks.
type Assessment struct {
	Request    *Request         `json:"request"`
	Indicators []Indicator      `json:"indicators,omitempty"`
	Signals    []BehaviorSignal `json:"signals,omitempty"`
	Score      float64          `json:"score"`
	Decision   Decision         `json:"decision"`
	Reason     string           `json:"reason,omitempty"`
}

// HasKnownChannel reports whether any indicator matched a known abuse channel
// (webhook URL, bot token). Known-channel matches force BLOCK unconditionally.
func (a *Assessment) HasKnownChannel() bool {
	for _, ind := range a.Indicators {
		if ind.KnownChannel {
			return true
		}
	}
	return false
}

// Stream names the disjoint record streams a sink must keep separate.
type Stream string

const (
	// StreamBlocked holds confirmed-block records.
	StreamBlocked Stream = "blocked"
	// StreamFlagged holds review-pending records, never conflated with blocks.
	StreamFlagged Stream = "flagged"
	// StreamAudit is the complete all-connections trail.
	StreamAudit Stream = "audit"
	// StreamBypassed holds ignored-host traffic that skipped inspection.
	StreamBypassed Stream = "bypassed"
)

// Record is one well-formed audit record emitted per terminal state.
type Record struct {
	ID         string      `json:"id"`
	Stream     Stream      `json:"stream"`
	Timestamp  time.Time   `json:"timestamp"`
	Assessment *Assessment `json:"assessment,omitempty"`
	Host       string      `json:"host"`
	Note       string      `json:"note,omitempty"`
}

// NewRecord stamps a record for the given stream.
func NewRecord(stream Stream, host string, a *Assessment) Record {
	return Record{
		ID:         uuid.NewString(),
		Stream:     stream,
		Timestamp:  time.Now().UTC(),
		Assessment: a,
		Host:       host,
	}
}
