package score

import (
	"testing"

	"github.com/glancesec/glance/pkg/config"
	"github.com/glancesec/glance/pkg/flow"
)

func newTestScorer() *Scorer {
	cfg := config.NewDefaultConfig()
	cfg.BlockThreshold = 70
	cfg.FlagThreshold = 40
	return NewScorer(cfg)
}

func req() *flow.Request {
	return &flow.Request{ID: flow.NewRequestID(), Host: "evil.example.com", Port: 443, Method: "POST", Path: "/x"}
}

func TestKnownChannelForcesBlock(t *testing.T) {
	s := newTestScorer()

	// Severity deliberately zero: the override must not depend on the scalar.
	indicators := []flow.Indicator{
		{Kind: config.KindDiscordWebhook, Location: flow.LocationBody, KnownChannel: true, Severity: 0},
	}
	a := s.Score(req(), indicators, nil)
	if a.Decision != flow.DecisionBlock {
		t.Fatalf("known-channel indicator must force BLOCK, got %s", a.Decision)
	}
}

func TestThresholds(t *testing.T) {
	s := newTestScorer()

	testCases := []struct {
		name  string
		score float64
		want  flow.Decision
	}{
		{"below flag", 39.9, flow.DecisionAllow},
		{"exactly flag", 40, flow.DecisionFlag},
		{"between", 55, flow.DecisionFlag},
		{"exactly block", 70, flow.DecisionBlock},
		{"above block", 90, flow.DecisionBlock},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			signals := []flow.BehaviorSignal{{Name: "frequency", Weight: tc.score}}
			a := s.Score(req(), nil, signals)
			if a.Decision != tc.want {
				t.Errorf("score %.1f: decision %s, want %s", tc.score, a.Decision, tc.want)
			}
			if a.Score != tc.score {
				t.Errorf("score %.1f: aggregate %.1f", tc.score, a.Score)
			}
		})
	}
}

func TestCumulativeSeverity(t *testing.T) {
	s := newTestScorer()

	// Two sub-threshold indicators plus one signal cross the flag line together.
	indicators := []flow.Indicator{
		{Kind: config.KindSuspiciousURL, Severity: 25, Location: flow.LocationURL},
		{Kind: config.KindSuspiciousPath, Severity: 20, Location: flow.LocationURL},
	}
	signals := []flow.BehaviorSignal{{Name: "port", Weight: 20}}

	a := s.Score(req(), indicators, signals)
	if a.Score != 65 {
		t.Errorf("aggregate = %.1f, want 65", a.Score)
	}
	if a.Decision != flow.DecisionFlag {
		t.Errorf("decision = %s, want FLAG_POTENTIAL", a.Decision)
	}
}

func TestEmptyInputsAllow(t *testing.T) {
	s := newTestScorer()
	a := s.Score(req(), nil, nil)
	if a.Decision != flow.DecisionAllow {
		t.Errorf("no evidence must ALLOW, got %s", a.Decision)
	}
	if a.Score != 0 {
		t.Errorf("score = %.1f, want 0", a.Score)
	}
}

func TestDeterminism(t *testing.T) {
	s := newTestScorer()
	indicators := []flow.Indicator{{Kind: config.KindSuspiciousURL, Severity: 25}}
	signals := []flow.BehaviorSignal{{Name: "frequency", Weight: 45.9}}

	r := req()
	first := s.Score(r, indicators, signals)
	second := s.Score(r, indicators, signals)
	if first.Score != second.Score || first.Decision != second.Decision {
		t.Error("identical inputs must yield identical assessments")
	}
}
