package export

import (
	"errors"
	"os"
	"testing"

	"github.com/rs/zerolog"

	"github.com/glancesec/glance/pkg/flow"
)

func blockedRecord(host string) flow.Record {
	return flow.NewRecord(flow.StreamBlocked, host, &flow.Assessment{
		Request:  &flow.Request{ID: flow.NewRequestID(), Host: host, Method: "POST", Path: "/x"},
		Score:    100,
		Decision: flow.DecisionBlock,
	})
}

func TestJSONLSinkStreamsAreDisjoint(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewJSONLSink(dir)
	if err != nil {
		t.Fatal(err)
	}

	if err := sink.Write(blockedRecord("evil.example.com")); err != nil {
		t.Fatal(err)
	}
	flagged := flow.NewRecord(flow.StreamFlagged, "odd.example.com", nil)
	if err := sink.Write(flagged); err != nil {
		t.Fatal(err)
	}
	bypassed := flow.NewRecord(flow.StreamBypassed, "launchermeta.mojang.com", nil)
	if err := sink.Write(bypassed); err != nil {
		t.Fatal(err)
	}

	blocked, err := ReadStream(dir, flow.StreamBlocked)
	if err != nil {
		t.Fatal(err)
	}
	if len(blocked) != 1 || blocked[0].Host != "evil.example.com" {
		t.Fatalf("blocked stream: %+v", blocked)
	}
	if blocked[0].Assessment == nil || blocked[0].Assessment.Decision != flow.DecisionBlock {
		t.Error("blocked record must carry the assessment")
	}

	flaggedBack, err := ReadStream(dir, flow.StreamFlagged)
	if err != nil {
		t.Fatal(err)
	}
	if len(flaggedBack) != 1 || flaggedBack[0].Host != "odd.example.com" {
		t.Fatalf("flagged stream: %+v", flaggedBack)
	}

	// Nothing leaked across streams.
	audit, err := ReadStream(dir, flow.StreamAudit)
	if err != nil {
		t.Fatal(err)
	}
	if len(audit) != 0 {
		t.Fatalf("audit stream should be empty, got %d records", len(audit))
	}
}

func TestReadStreamMissingFile(t *testing.T) {
	recs, err := ReadStream(t.TempDir(), flow.StreamAudit)
	if err != nil {
		t.Fatalf("missing stream file must read as empty: %v", err)
	}
	if recs != nil {
		t.Fatalf("expected nil, got %d records", len(recs))
	}
}

func TestJSONLSinkAppends(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewJSONLSink(dir)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if err := sink.Write(blockedRecord("evil.example.com")); err != nil {
			t.Fatal(err)
		}
	}
	recs, err := ReadStream(dir, flow.StreamBlocked)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 5 {
		t.Fatalf("expected 5 records, got %d", len(recs))
	}
}

type failingSink struct{ err error }

func (f *failingSink) Write(flow.Record) error { return f.err }
func (f *failingSink) Close() error            { return nil }

func TestMultiSurfacesFailuresButKeepsWriting(t *testing.T) {
	dir := t.TempDir()
	jsonl, err := NewJSONLSink(dir)
	if err != nil {
		t.Fatal(err)
	}
	failing := &failingSink{err: errors.New("backend down")}
	multi := NewMulti(zerolog.New(os.Stderr), failing, jsonl)

	if err := multi.Write(blockedRecord("evil.example.com")); err == nil {
		t.Fatal("multi must surface the sink failure")
	}
	if multi.Failures() != 1 {
		t.Errorf("failures = %d, want 1", multi.Failures())
	}

	// The healthy sink still received the record.
	recs, err := ReadStream(dir, flow.StreamBlocked)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("jsonl sink should have the record despite the failing peer, got %d", len(recs))
	}
}

func TestMultiWithoutSinks(t *testing.T) {
	multi := NewMulti(zerolog.New(os.Stderr))
	if err := multi.Write(blockedRecord("x.example.com")); !errors.Is(err, ErrNoSinks) {
		t.Fatalf("expected ErrNoSinks, got %v", err)
	}
}
