package enforce

import (
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/rs/zerolog"

	"github.com/glancesec/glance/pkg/flow"
)

type memorySink struct {
	records []flow.Record
	err     error
}

func (m *memorySink) Write(rec flow.Record) error {
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *memorySink) Close() error { return nil }

func assessment(decision flow.Decision, score float64) *flow.Assessment {
	return &flow.Assessment{
		Request: &flow.Request{
			ID:     flow.NewRequestID(),
			Host:   "c2.example.com",
			Method: "POST",
			Path:   "/beacon",
		},
		Score:    score,
		Decision: decision,
	}
}

func streams(records []flow.Record) []flow.Stream {
	out := make([]flow.Stream, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.Stream)
	}
	return out
}

func TestApplyBlock(t *testing.T) {
	sink := &memorySink{}
	enf := NewEnforcer(sink, zerolog.New(os.Stderr))

	out := enf.Apply(assessment(flow.DecisionBlock, 100))

	if out.Directive != DirectiveTerminate {
		t.Fatalf("directive = %s, want terminate", out.Directive)
	}
	if out.Response == nil {
		t.Fatal("blocked request needs a synthetic response")
	}
	if out.Response.ContentType != "application/json" {
		t.Errorf("content type = %s", out.Response.ContentType)
	}
	var body struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(out.Response.Body, &body); err != nil {
		t.Fatalf("synthetic body is not JSON: %v", err)
	}
	// The client is told the upload worked so it does not retry elsewhere.
	if !body.Success {
		t.Error("synthetic response must claim success")
	}

	got := streams(sink.records)
	want := []flow.Stream{flow.StreamBlocked, flow.StreamAudit}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("streams = %v, want %v", got, want)
	}
}

func TestApplyFlag(t *testing.T) {
	sink := &memorySink{}
	enf := NewEnforcer(sink, zerolog.New(os.Stderr))

	out := enf.Apply(assessment(flow.DecisionFlag, 55))

	if out.Directive != DirectiveMark {
		t.Fatalf("directive = %s, want mark", out.Directive)
	}
	if out.Response != nil {
		t.Error("flagged requests proceed without a synthetic response")
	}
	got := streams(sink.records)
	want := []flow.Stream{flow.StreamFlagged, flow.StreamAudit}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("streams = %v, want %v", got, want)
	}
}

func TestApplyAllowAuditsOnly(t *testing.T) {
	sink := &memorySink{}
	enf := NewEnforcer(sink, zerolog.New(os.Stderr))

	out := enf.Apply(assessment(flow.DecisionAllow, 0))

	if out.Directive != DirectiveForward {
		t.Fatalf("directive = %s, want forward", out.Directive)
	}
	if len(sink.records) != 1 || sink.records[0].Stream != flow.StreamAudit {
		t.Errorf("allow must emit exactly one audit record, got %v", streams(sink.records))
	}
}

func TestSinkFailureNeverChangesDirective(t *testing.T) {
	sink := &memorySink{err: errors.New("disk full")}
	enf := NewEnforcer(sink, zerolog.New(os.Stderr))

	out := enf.Apply(assessment(flow.DecisionBlock, 100))

	if out.Directive != DirectiveTerminate {
		t.Fatal("a persistence failure must not unblock the request")
	}
	if out.SinkErr == nil {
		t.Fatal("persistence failure must be surfaced")
	}
}

func TestBypass(t *testing.T) {
	sink := &memorySink{}
	enf := NewEnforcer(sink, zerolog.New(os.Stderr))

	out := enf.Bypass(&flow.Request{
		ID:     flow.NewRequestID(),
		Host:   "launchermeta.mojang.com",
		Method: "GET",
		Path:   "/mc/game/version_manifest.json",
	})

	if out.Directive != DirectiveForward {
		t.Fatalf("directive = %s, want forward", out.Directive)
	}
	if len(sink.records) != 1 || sink.records[0].Stream != flow.StreamBypassed {
		t.Fatalf("bypass must emit exactly one bypassed record, got %v", streams(sink.records))
	}
	if sink.records[0].Assessment != nil {
		t.Error("bypassed traffic is never assessed")
	}
}

func TestApplyWithoutSink(t *testing.T) {
	enf := NewEnforcer(nil, zerolog.New(os.Stderr))
	out := enf.Apply(assessment(flow.DecisionBlock, 100))
	if out.Directive != DirectiveTerminate || out.SinkErr != nil {
		t.Fatalf("nil sink: directive=%s err=%v", out.Directive, out.SinkErr)
	}
}
