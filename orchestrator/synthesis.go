package orchestrator

import (
	"fmt"
	"strings"

	"github.com/auditflow/auditflow/agent"
	"github.com/auditflow/auditflow/types"
)

// Synthesize builds the final ComplianceResult from the accumulated run
// context. It is a deterministic function of the context with no side
// effects beyond construction.
func Synthesize(rc *types.Context, interactions []types.HumanInteraction) *types.ComplianceResult {
	policy, _ := rc.Payload(agent.NamePolicyRetriever).(types.PolicyPayload)
	evidence, _ := rc.Payload(agent.NameEvidenceCollector).(types.EvidencePayload)
	vision, _ := rc.Payload(agent.NameVisionOCR).(types.VisionPayload)
	code, _ := rc.Payload(agent.NameCodeScanner).(types.CodePayload)
	critic, _ := rc.Payload(agent.NameRedTeamCritic).(types.CriticPayload)

	// A failed risk scorer leaves the conservative midpoint defaults.
	riskScore, confidence := 0.5, 0.5
	if risk, ok := rc.Payload(agent.NameRiskScorer).(types.RiskPayload); ok {
		riskScore = risk.RiskScore
		confidence = risk.Confidence
	}

	// Citations in discovery order: policy, evidence, vision. Duplicates
	// are preserved.
	var citations []types.Citation
	for _, p := range policy.Policies {
		citations = append(citations, types.Citation{DocID: p.DocID, ChunkID: p.ChunkID, Snippet: p.Snippet})
	}
	for _, e := range evidence.Evidence {
		citations = append(citations, types.Citation{DocID: e.DocID, ChunkID: e.ChunkID, Snippet: e.Snippet})
	}
	for _, v := range vision.VisionEvidence {
		citations = append(citations, types.Citation{DocID: v.DocID, ChunkID: v.ChunkID, Snippet: v.Content})
	}
	if citations == nil {
		citations = []types.Citation{}
	}

	decision := Decide(riskScore, confidence)

	openQuestions := critic.FollowUpQuestions
	if openQuestions == nil {
		openQuestions = []string{}
	}
	if interactions == nil {
		interactions = []types.HumanInteraction{}
	}

	return &types.ComplianceResult{
		Decision:          decision,
		Confidence:        confidence,
		RiskScore:         riskScore,
		Rationale:         rationale(riskScore, confidence, policy, evidence, vision, code, critic),
		Citations:         citations,
		OpenQuestions:     openQuestions,
		HumanInteractions: interactions,
	}
}

// Decide applies the decision rule in its fixed evaluation order.
func Decide(riskScore, confidence float64) types.Decision {
	switch {
	case riskScore < 0.3 && confidence > 0.8:
		return types.DecisionCompliant
	case riskScore > 0.7 || confidence < 0.6:
		return types.DecisionInsufficientEvidence
	default:
		return types.DecisionNonCompliant
	}
}

// rationale concatenates human-readable fragments; each fragment is
// included only when its source data is present.
func rationale(riskScore, confidence float64,
	policy types.PolicyPayload, evidence types.EvidencePayload,
	vision types.VisionPayload, code types.CodePayload,
	critic types.CriticPayload,
) string {
	parts := []string{
		fmt.Sprintf("Risk assessment score: %.2f", riskScore),
		fmt.Sprintf("Analysis confidence: %.2f", confidence),
	}

	if len(policy.Policies) > 0 {
		parts = append(parts, fmt.Sprintf("Found %d relevant policy references", len(policy.Policies)))
	}
	if len(evidence.Evidence) > 0 {
		parts = append(parts, fmt.Sprintf("Identified %d pieces of supporting evidence", len(evidence.Evidence)))
	}
	if len(vision.VisionEvidence) > 0 {
		parts = append(parts, fmt.Sprintf("Processed %d visual/OCR evidence items", len(vision.VisionEvidence)))
	}
	if code.ComplianceItems > 0 {
		parts = append(parts, fmt.Sprintf("Code analysis found %d compliance-relevant implementations", code.ComplianceItems))
	}
	if len(critic.GapsIdentified) > 0 {
		parts = append(parts, fmt.Sprintf("Critic identified %d potential gaps", len(critic.GapsIdentified)))
	}

	return strings.Join(parts, ". ") + "."
}
