// Package score combines indicator matches and behavioral signals into a
// single risk assessment and decision.
package score

import (
	"fmt"

	"github.com/glancesec/glance/pkg/config"
	"github.com/glancesec/glance/pkg/flow"
)

// Scorer renders the per-request decision. Thresholds and weights come from
// the static configuration surface; the scorer itself is stateless and safe
// for concurrent use.
type Scorer struct {
	blockThreshold float64
	flagThreshold  float64
}

// NewScorer builds a scorer from config thresholds.
func NewScorer(cfg *config.Config) *Scorer {
	return &Scorer{
		blockThreshold: cfg.BlockThreshold,
		flagThreshold:  cfg.FlagThreshold,
	}
}

// Score produces the single immutable assessment for a request.
//
// Any known-channel indicator forces BLOCK before the additive path runs; the
// override is a short-circuit, not a weight, so its unconditional guarantee
// holds regardless of thresholds or strict mode. Otherwise indicator
// severities and signal weights sum into one scalar checked against the
// thresholds. A score sitting exactly on a boundary resolves to the
// higher-severity decision.
func (s *Scorer) Score(req *flow.Request, indicators []flow.Indicator, signals []flow.BehaviorSignal) *flow.Assessment {
	a := &flow.Assessment{
		Request:    req,
		Indicators: indicators,
		Signals:    signals,
	}

	for _, ind := range indicators {
		if ind.KnownChannel {
			a.Score = sumScore(indicators, signals)
			a.Decision = flow.DecisionBlock
			a.Reason = fmt.Sprintf("known abuse channel: %s in %s", ind.Kind, ind.Location)
			return a
		}
	}

	a.Score = sumScore(indicators, signals)
	switch {
	case a.Score >= s.blockThreshold:
		a.Decision = flow.DecisionBlock
		a.Reason = fmt.Sprintf("score %.1f at or above block threshold %.1f", a.Score, s.blockThreshold)
	case a.Score >= s.flagThreshold:
		a.Decision = flow.DecisionFlag
		a.Reason = fmt.Sprintf("score %.1f at or above flag threshold %.1f", a.Score, s.flagThreshold)
	default:
		a.Decision = flow.DecisionAllow
	}
	return a
}

func sumScore(indicators []flow.Indicator, signals []flow.BehaviorSignal) float64 {
	total := 0.0
	for _, ind := range indicators {
		total += ind.Severity
	}
	for _, sig := range signals {
		total += sig.Weight
	}
	return total
}
