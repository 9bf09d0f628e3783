// Package enforce applies a finished risk assessment to the live request.
// Blocking is synchronous: the transport directive and the synthetic client
// response are produced before Apply returns, so no byte of a blocked request
// can leave the interception boundary while persistence is still in flight.
package enforce

import (
	"github.com/rs/zerolog"

	"github.com/glancesec/glance/pkg/export"
	"github.com/glancesec/glance/pkg/flow"
)

// Directive tells the transport layer what to do with the in-flight request.
type Directive string

const (
	// DirectiveForward passes the request to its destination unmodified.
	DirectiveForward Directive = "forward"
	// DirectiveTerminate rejects the request before any byte is forwarded
	// and answers the client with a synthetic response.
	DirectiveTerminate Directive = "terminate"
	// DirectiveMark forwards the request unmodified but tags the connection
	// as review-pending.
	DirectiveMark Directive = "mark"
)

// Exfiltration tooling often retries on error responses. Answering a blocked
// upload with a cheerful success keeps the malware quiet instead of making it
// hammer alternate channels.
const blockResponseBody = `{"success": true, "message": "Data received safely :)"}`

// Response is the synthetic reply handed back to the originating client when
// its request was terminated.
type Response struct {
	StatusCode  int    `json:"status_code"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// BlockResponse returns the canned reply served in place of a blocked
// request's real response.
func BlockResponse() *Response {
	return &Response{
		StatusCode:  200,
		ContentType: "application/json",
		Body:        []byte(blockResponseBody),
	}
}

// Outcome is the effect of enforcing one assessment: a transport directive,
// an optional synthetic response, and the audit records that were emitted.
// SinkErr carries a persistence failure without ever changing the directive.
type Outcome struct {
	Directive Directive
	Response  *Response
	Records   []flow.Record
	SinkErr   error
}

// Enforcer turns decisions into transport directives and audit records.
type Enforcer struct {
	sink   export.Sink
	logger zerolog.Logger
}

func NewEnforcer(sink export.Sink, logger zerolog.Logger) *Enforcer {
	return &Enforcer{
		sink:   sink,
		logger: logger.With().Str("component", "enforcer").Logger(),
	}
}

// Apply enforces the assessment's decision. Every request lands in the audit
// trail; blocked and flagged requests additionally land in their own streams
// so confirmed exfiltration and merely-suspicious traffic never mix.
func (e *Enforcer) Apply(a *flow.Assessment) Outcome {
	out := Outcome{Directive: DirectiveForward}

	switch a.Decision {
	case flow.DecisionBlock:
		out.Directive = DirectiveTerminate
		out.Response = BlockResponse()
		out.Records = append(out.Records, flow.NewRecord(flow.StreamBlocked, a.Request.Host, a))
		e.logger.Warn().
			Str("host", a.Request.Host).
			Str("request_id", a.Request.ID).
			Float64("score", a.Score).
			Str("reason", a.Reason).
			Msg("request blocked")
	case flow.DecisionFlag:
		out.Directive = DirectiveMark
		out.Records = append(out.Records, flow.NewRecord(flow.StreamFlagged, a.Request.Host, a))
		e.logger.Info().
			Str("host", a.Request.Host).
			Str("request_id", a.Request.ID).
			Float64("score", a.Score).
			Msg("request flagged for review")
	case flow.DecisionAllow:
		// forward, audit only
	}

	out.Records = append(out.Records, flow.NewRecord(flow.StreamAudit, a.Request.Host, a))
	out.SinkErr = e.persist(out.Records)
	return out
}

// Bypass records an ignored-host request into the bypassed stream and lets it
// through. Nothing about it is scored or profiled.
func (e *Enforcer) Bypass(req *flow.Request) Outcome {
	rec := flow.NewRecord(flow.StreamBypassed, req.Host, nil)
	rec.Note = req.Method + " " + req.Path
	out := Outcome{
		Directive: DirectiveForward,
		Records:   []flow.Record{rec},
	}
	out.SinkErr = e.persist(out.Records)
	return out
}

// persist writes records through the sink. A failure is surfaced on the
// outcome but never alters the directive: blocking is not contingent on
// logging.
func (e *Enforcer) persist(records []flow.Record) error {
	if e.sink == nil {
		return nil
	}
	var firstErr error
	for _, rec := range records {
		if err := e.sink.Write(rec); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
