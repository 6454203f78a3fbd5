package aggregate

import "github.com/mailcanary/renderq/pkg/core"

// ScorePolicy is the configurable weighting that folds the per-client pass
// ratio and any externally supplied analyzer scores into the overall 0-100
// score. Weights are relative; only weights whose score is present count.
type ScorePolicy struct {
	PassWeight          float64
	AccessibilityWeight float64
	PerformanceWeight   float64
	SpamWeight          float64
}

// DefaultScorePolicy weights the client pass ratio most heavily, with the
// analyzer scores contributing when present.
func DefaultScorePolicy() ScorePolicy {
	return ScorePolicy{
		PassWeight:          0.7,
		AccessibilityWeight: 0.1,
		PerformanceWeight:   0.1,
		SpamWeight:          0.1,
	}
}

// PassOnlyScorePolicy scores on the client pass ratio alone.
func PassOnlyScorePolicy() ScorePolicy {
	return ScorePolicy{PassWeight: 1}
}

// Score computes the overall score from the pass ratio (0..1) and optional
// sub-scores (each 0-100). Absent sub-scores redistribute their weight to the
// components that are present.
func (p ScorePolicy) Score(passRatio float64, sub *core.SubScores) float64 {
	if passRatio < 0 {
		passRatio = 0
	}
	if passRatio > 1 {
		passRatio = 1
	}

	total := p.PassWeight * passRatio * 100
	weights := p.PassWeight

	if sub != nil {
		if sub.Accessibility != nil {
			total += p.AccessibilityWeight * *sub.Accessibility
			weights += p.AccessibilityWeight
		}
		if sub.Performance != nil {
			total += p.PerformanceWeight * *sub.Performance
			weights += p.PerformanceWeight
		}
		if sub.Spam != nil {
			total += p.SpamWeight * *sub.Spam
			weights += p.SpamWeight
		}
	}

	if weights == 0 {
		return passRatio * 100
	}

	score := total / weights
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
