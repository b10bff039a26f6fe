package agent

import (
	"context"
	"time"

	"github.com/auditflow/auditflow/types"
)

// DefaultRiskTimeout is the risk scorer's declared budget.
const DefaultRiskTimeout = 10 * time.Second

// RiskScorer consumes the full collection context and produces a risk
// score and confidence. It runs only after the parallel collection stage
// has fully drained.
type RiskScorer struct {
	timeout time.Duration
}

// NewRiskScorer creates the risk scorer. A zero timeout uses the default
// budget.
func NewRiskScorer(timeout time.Duration) *RiskScorer {
	if timeout <= 0 {
		timeout = DefaultRiskTimeout
	}
	return &RiskScorer{timeout: timeout}
}

func (a *RiskScorer) Name() string { return NameRiskScorer }

func (a *RiskScorer) Timeout() time.Duration { return a.timeout }

func (a *RiskScorer) Execute(ctx context.Context, query string, rc *types.Context) (types.Payload, error) {
	var factors []string
	score := 0.5
	positives, negatives := 0, 0

	if p, ok := rc.Payload(NamePolicyRetriever).(types.PolicyPayload); ok && len(p.Policies) > 0 {
		if len(p.Policies) >= 2 {
			factors = append(factors, "Multiple relevant policies identified")
			score -= 0.1
			positives++
		} else {
			factors = append(factors, "Limited policy coverage")
			score += 0.15
			negatives++
		}
	}

	if e, ok := rc.Payload(NameEvidenceCollector).(types.EvidencePayload); ok && len(e.Evidence) > 0 {
		total := 0.0
		for _, doc := range e.Evidence {
			total += doc.Confidence
		}
		if total/float64(len(e.Evidence)) > 0.8 {
			factors = append(factors, "High-confidence evidence found")
			score -= 0.15
			positives++
		} else {
			factors = append(factors, "Low-confidence evidence")
			score += 0.2
			negatives++
		}
	}

	if c, ok := rc.Payload(NameCodeScanner).(types.CodePayload); ok && len(c.Findings) > 0 {
		if c.ComplianceItems >= 2 {
			factors = append(factors, "Multiple compliance controls detected in code")
			score -= 0.1
			positives++
		} else {
			factors = append(factors, "Limited compliance controls in code")
			score += 0.15
			negatives++
		}
	}

	score = clamp01(score)

	// Confidence follows the strength of the observed signals: every
	// positive factor raises it from the 0.75 baseline, every negative
	// factor lowers it.
	confidence := 0.75 + 0.05*float64(positives) - 0.05*float64(negatives)
	if confidence > 0.95 {
		confidence = 0.95
	}
	if confidence < 0.5 {
		confidence = 0.5
	}

	recommendation := "acceptable"
	if score > 0.6 {
		recommendation = "needs_review"
	}

	return types.RiskPayload{
		RiskScore:      score,
		Confidence:     confidence,
		RiskFactors:    factors,
		Recommendation: recommendation,
	}, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
