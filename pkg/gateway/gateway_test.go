package gateway

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/glancesec/glance/pkg/config"
	"github.com/glancesec/glance/pkg/enforce"
	"github.com/glancesec/glance/pkg/flow"
)

type memorySink struct {
	mu      sync.Mutex
	records []flow.Record
}

func (m *memorySink) Write(rec flow.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *memorySink) Close() error { return nil }

func (m *memorySink) byStream(stream flow.Stream) []flow.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []flow.Record
	for _, rec := range m.records {
		if rec.Stream == stream {
			out = append(out, rec)
		}
	}
	return out
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestGateway(t *testing.T, cfg *config.Config) (*Gateway, *memorySink) {
	t.Helper()
	sink := &memorySink{}
	g, err := New(cfg, sink, zerolog.New(os.Stderr))
	if err != nil {
		t.Fatal(err)
	}
	return g, sink
}

func request(host string, port int, method, path string, body []byte) *flow.Request {
	return &flow.Request{
		ID:        flow.NewRequestID(),
		Timestamp: time.Now(),
		Host:      host,
		Port:      port,
		Method:    method,
		Path:      path,
		Body:      body,
		BodySize:  int64(len(body)),
	}
}

func TestWebhookInBodyIsBlocked(t *testing.T) {
	g, sink := newTestGateway(t, config.NewDefaultConfig())

	body := []byte(`{"hook": "https://discord.com/api/webhooks/1234567890/aBcDeFgHiJkLmNoP-qRsTuVwXyZ"}`)
	out, a, err := g.Inspect(context.Background(), request("evil.example.com", 443, "POST", "/collect", body))
	if err != nil {
		t.Fatal(err)
	}

	if a.Decision != flow.DecisionBlock {
		t.Fatalf("decision = %s, want BLOCK", a.Decision)
	}
	if out.Directive != enforce.DirectiveTerminate {
		t.Fatalf("directive = %s, want terminate", out.Directive)
	}
	if out.Response == nil {
		t.Fatal("blocked request needs a synthetic response")
	}
	blocked := sink.byStream(flow.StreamBlocked)
	if len(blocked) != 1 || blocked[0].Host != "evil.example.com" {
		t.Fatalf("confirmed-block stream: %+v", blocked)
	}
}

func TestKnownChannelBlocksUnderStrictAndLaxMode(t *testing.T) {
	for _, strict := range []bool{false, true} {
		t.Run(fmt.Sprintf("strict=%v", strict), func(t *testing.T) {
			cfg := config.NewDefaultConfig()
			cfg.StrictMode = strict
			g, _ := newTestGateway(t, cfg)

			body := []byte("token=123456789:AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
			_, a, err := g.Inspect(context.Background(), request("evil.example.com", 443, "POST", "/send", body))
			if err != nil {
				t.Fatal(err)
			}
			if a.Decision != flow.DecisionBlock {
				t.Fatalf("strict=%v: decision = %s, want BLOCK", strict, a.Decision)
			}
		})
	}
}

func TestIgnoredHostBypassesEverything(t *testing.T) {
	g, sink := newTestGateway(t, config.NewDefaultConfig())

	// Even a webhook in the body goes untouched: ignored means ignored.
	body := []byte("https://discord.com/api/webhooks/1234567890/aBcDeFgHiJkLmNoP-qRsTuVwXyZ")
	out, a, err := g.Inspect(context.Background(), request("launchermeta.mojang.com", 443, "POST", "/x", body))
	if err != nil {
		t.Fatal(err)
	}

	if out.Directive != enforce.DirectiveForward {
		t.Fatalf("directive = %s, want forward", out.Directive)
	}
	if a != nil {
		t.Fatal("ignored hosts are never assessed")
	}
	if g.Profiler().Tracked("launchermeta.mojang.com") {
		t.Error("ignored hosts must not be profiled")
	}
	if n := len(sink.byStream(flow.StreamBypassed)); n != 1 {
		t.Errorf("bypassed stream records = %d, want 1", n)
	}
	if n := len(sink.byStream(flow.StreamAudit)); n != 0 {
		t.Errorf("ignored traffic must stay out of the audit trail, got %d records", n)
	}
}

func TestTrustedHostSkipsMatcher(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.StrictMode = false
	g, sink := newTestGateway(t, cfg)

	// A webhook in the body would force BLOCK if the matcher ran. Coming back
	// ALLOW proves the trusted short-circuit happens before any scanning.
	body := []byte("https://discord.com/api/webhooks/1234567890/aBcDeFgHiJkLmNoP-qRsTuVwXyZ")
	_, a, err := g.Inspect(context.Background(), request("sessionserver.mojang.com", 443, "POST", "/session/minecraft/join", body))
	if err != nil {
		t.Fatal(err)
	}

	if a.Decision != flow.DecisionAllow {
		t.Fatalf("decision = %s, want ALLOW", a.Decision)
	}
	if len(a.Indicators) != 0 {
		t.Error("trusted hosts must not be scanned")
	}
	if g.Profiler().Tracked("sessionserver.mojang.com") {
		t.Error("trusted hosts must not be profiled")
	}
	if n := len(sink.byStream(flow.StreamAudit)); n != 1 {
		t.Errorf("trusted traffic still lands in the audit trail, got %d records", n)
	}
}

func TestStrictModeScoresKnownHosts(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.StrictMode = true
	g, _ := newTestGateway(t, cfg)

	body := []byte("https://discord.com/api/webhooks/1234567890/aBcDeFgHiJkLmNoP-qRsTuVwXyZ")
	_, a, err := g.Inspect(context.Background(), request("sessionserver.mojang.com", 443, "POST", "/x", body))
	if err != nil {
		t.Fatal(err)
	}
	if a.Decision != flow.DecisionBlock {
		t.Fatalf("strict mode must score allow-listed hosts, got %s", a.Decision)
	}
}

func TestFrequencyOvershootFlagsTail(t *testing.T) {
	cfg := config.NewDefaultConfig()
	g, _ := newTestGateway(t, cfg)

	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	g.Profiler().SetClock(clock.Now)

	body := make([]byte, 1024)
	for i := range body {
		body[i] = 'a'
	}

	// 60 requests inside one 60s window against max-requests-per-minute=50.
	// Distinct paths keep the repetition signal out of the way so the tail
	// decisions are driven by frequency alone.
	for i := 1; i <= 60; i++ {
		_, a, err := g.Inspect(context.Background(), request("beacon.example.com", 443, "POST", fmt.Sprintf("/p/%d", i), body))
		if err != nil {
			t.Fatal(err)
		}
		switch {
		case i <= cfg.MaxRequestsPerMinute:
			if a.Decision != flow.DecisionAllow {
				t.Fatalf("request %d: decision = %s (score %.1f), want ALLOW", i, a.Decision, a.Score)
			}
		default:
			if a.Decision == flow.DecisionAllow {
				t.Fatalf("request %d: decision = ALLOW (score %.1f), want at least FLAG_POTENTIAL", i, a.Score)
			}
		}
		clock.Advance(100 * time.Millisecond)
	}

	stats := g.Stats()
	if stats.Captured != 60 || stats.Allowed != 50 || stats.Flagged != 10 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestCancelledConnectionIsDiscarded(t *testing.T) {
	g, sink := newTestGateway(t, config.NewDefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := g.Inspect(ctx, request("gone.example.com", 443, "POST", "/x", []byte("data")))
	if err == nil {
		t.Fatal("aborted connection must surface an error")
	}
	if g.Profiler().Tracked("gone.example.com") {
		t.Error("aborted inspection must not mutate the host profile")
	}
	if len(sink.records) != 0 {
		t.Error("aborted inspection must not emit records")
	}
}

func TestBadPatternIsFatalAtConstruction(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.CustomPatterns = append(cfg.CustomPatterns, config.PatternRule{
		Kind: "broken", Regex: "([unclosed", Severity: 10,
	})
	if _, err := New(cfg, &memorySink{}, zerolog.New(os.Stderr)); err == nil {
		t.Fatal("a pattern that fails to compile must abort startup")
	}
}

func TestConcurrentInspections(t *testing.T) {
	g, _ := newTestGateway(t, config.NewDefaultConfig())

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			host := fmt.Sprintf("host-%d.example.com", w)
			for i := 0; i < 50; i++ {
				if _, _, err := g.Inspect(context.Background(), request(host, 443, "GET", "/ping", nil)); err != nil {
					t.Error(err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	stats := g.Stats()
	if stats.Captured != 400 {
		t.Errorf("captured = %d, want 400", stats.Captured)
	}
	if stats.TrackedHosts != 8 {
		t.Errorf("tracked hosts = %d, want 8", stats.TrackedHosts)
	}
}
