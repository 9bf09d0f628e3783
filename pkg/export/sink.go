// Package export persists audit records into disjoint streams: confirmed
// blocks, review-pending flags, the complete connection trail, and bypassed
// ignored-host traffic. Sinks only format and store; they never influence a
// decision, and a sink failure must be surfaced, not swallowed.
package export

import (
	"errors"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/glancesec/glance/pkg/flow"
)

// Sink persists one well-formed record per terminal request state.
type Sink interface {
	Write(rec flow.Record) error
	Close() error
}

// ErrNoSinks is returned by a Multi with nothing configured behind it.
var ErrNoSinks = errors.New("export: no sinks configured")

// Multi fans a record out to every configured sink. Enforcement never waits
// on the slowest backend twice: each sink gets the record once, failures are
// collected, counted, and logged, and the first error is returned so callers
// can surface the audit-trail gap.
type Multi struct {
	sinks    []Sink
	logger   zerolog.Logger
	failures atomic.Int64
}

// NewMulti wraps the given sinks. Nil entries are skipped.
func NewMulti(logger zerolog.Logger, sinks ...Sink) *Multi {
	m := &Multi{logger: logger}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

func (m *Multi) Write(rec flow.Record) error {
	if len(m.sinks) == 0 {
		return ErrNoSinks
	}
	var firstErr error
	for _, s := range m.sinks {
		if err := s.Write(rec); err != nil {
			m.failures.Add(1)
			m.logger.Error().Err(err).
				Str("stream", string(rec.Stream)).
				Str("record_id", rec.ID).
				Msg("record persistence failed; audit trail has a gap")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (m *Multi) Close() error {
	var firstErr error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Failures reports how many individual sink writes have failed since start.
// Operators watch this to know the audit trail is incomplete.
func (m *Multi) Failures() int64 {
	return m.failures.Load()
}
