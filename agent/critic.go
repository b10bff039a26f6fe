package agent

import (
	"context"
	"time"

	"github.com/auditflow/auditflow/types"
)

// DefaultCriticTimeout is the red-team critic's declared budget.
const DefaultCriticTimeout = 15 * time.Second

// RedTeamCritic challenges the assembled analysis: it identifies gaps,
// raises follow-up questions, and decides whether human input is needed
// before a decision is finalized.
type RedTeamCritic struct {
	timeout time.Duration
}

// NewRedTeamCritic creates the critic. A zero timeout uses the default
// budget.
func NewRedTeamCritic(timeout time.Duration) *RedTeamCritic {
	if timeout <= 0 {
		timeout = DefaultCriticTimeout
	}
	return &RedTeamCritic{timeout: timeout}
}

func (a *RedTeamCritic) Name() string { return NameRedTeamCritic }

func (a *RedTeamCritic) Timeout() time.Duration { return a.timeout }

func (a *RedTeamCritic) Execute(ctx context.Context, query string, rc *types.Context) (types.Payload, error) {
	riskScore := 0.5
	if r, ok := rc.Payload(NameRiskScorer).(types.RiskPayload); ok {
		riskScore = r.RiskScore
	}

	var gaps, questions, challenges []string
	if riskScore > 0.6 {
		gaps = []string{
			"Insufficient evidence for backup authentication methods",
			"No verification of policy enforcement in production",
			"Missing details about user enrollment process",
		}
		questions = []string{
			"What happens if SMS is unavailable? Is there a backup MFA method?",
			"How are users enrolled in MFA? Is it mandatory?",
			"Are there any exceptions or bypass mechanisms?",
		}
		challenges = []string{
			"Evidence suggests MFA is implemented but lacks depth verification",
			"Policy compliance appears partial based on available information",
			"Need human verification of actual system behavior",
		}
	} else {
		gaps = []string{"Minor: Could benefit from explicit policy version references"}
		questions = []string{"Which specific version of the MFA policy applies?"}
		challenges = []string{"Overall implementation appears compliant but needs final verification"}
	}

	return types.CriticPayload{
		GapsIdentified:    gaps,
		FollowUpQuestions: questions,
		Challenges:        challenges,
		NeedsHITL:         riskScore > 0.5 || len(gaps) > 2,
		Criticality:       Criticality(riskScore),
	}, nil
}

// Criticality maps a risk score to its label: >0.7 high, >0.4 medium,
// otherwise low.
func Criticality(riskScore float64) string {
	switch {
	case riskScore > 0.7:
		return types.CriticalityHigh
	case riskScore > 0.4:
		return types.CriticalityMedium
	default:
		return types.CriticalityLow
	}
}
