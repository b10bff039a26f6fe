package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditflow/auditflow/types"
)

func TestPolicyRetrieverMatchesRelevantPolicies(t *testing.T) {
	a := NewPolicyRetriever(0)
	rc := types.NewContext("s1", "", nil)

	payload, err := a.Execute(context.Background(), "Does our login system comply with the multi-factor authentication policy?", rc)
	require.NoError(t, err)

	p, ok := payload.(types.PolicyPayload)
	require.True(t, ok)
	require.NotEmpty(t, p.Policies)

	docIDs := make([]string, 0, len(p.Policies))
	for _, doc := range p.Policies {
		docIDs = append(docIDs, doc.DocID)
	}
	assert.Contains(t, docIDs, "POLICY-001", "MFA policy must rank for an MFA query")
	assert.Equal(t, len(p.Policies), p.TotalFound)
}

func TestPolicyRetrieverFallsBackOnNoOverlap(t *testing.T) {
	a := NewPolicyRetriever(0)
	rc := types.NewContext("s1", "", nil)

	payload, err := a.Execute(context.Background(), "zzzz qqqq", rc)
	require.NoError(t, err)

	p := payload.(types.PolicyPayload)
	require.Len(t, p.Policies, 2, "no term overlap falls back to the top corpus entries")
	assert.Equal(t, "POLICY-001", p.Policies[0].DocID)
}

func TestEvidenceCollectorReturnsScoredEvidence(t *testing.T) {
	a := NewEvidenceCollector(0)
	rc := types.NewContext("s1", "", nil)

	payload, err := a.Execute(context.Background(), "login authentication session", rc)
	require.NoError(t, err)

	e := payload.(types.EvidencePayload)
	require.NotEmpty(t, e.Evidence)
	for _, doc := range e.Evidence {
		assert.Greater(t, doc.Confidence, 0.0)
		assert.NotEmpty(t, doc.DocID)
	}
}

func TestVisionOCRWithoutImages(t *testing.T) {
	a := NewVisionOCR(0, nil)
	rc := types.NewContext("s1", "q", []string{"notes.txt", "main.go"})

	payload, err := a.Execute(context.Background(), "q", rc)
	require.NoError(t, err)

	v := payload.(types.VisionPayload)
	assert.Empty(t, v.OCRResults)
	assert.Empty(t, v.VisionEvidence)
	assert.Equal(t, "No images provided for OCR", v.Message)
}

func TestVisionOCRExtractsFromImages(t *testing.T) {
	a := NewVisionOCR(0, nil)
	rc := types.NewContext("s1", "q", []string{"screenshot.png", "report.pdf", "photo.JPG"})

	payload, err := a.Execute(context.Background(), "q", rc)
	require.NoError(t, err)

	v := payload.(types.VisionPayload)
	assert.Equal(t, 2, v.TotalProcessed, "only image attachments are processed")
	require.NotEmpty(t, v.VisionEvidence)
	assert.Equal(t, "VISION-001", v.VisionEvidence[0].DocID)
	assert.NotEmpty(t, v.VisionEvidence[0].Content)
}

func TestCodeScannerWithoutSources(t *testing.T) {
	a := NewCodeScanner(0)
	rc := types.NewContext("s1", "q", []string{"diagram.png"})

	payload, err := a.Execute(context.Background(), "q", rc)
	require.NoError(t, err)

	c := payload.(types.CodePayload)
	assert.Empty(t, c.Findings)
	assert.Zero(t, c.ComplianceItems)
	assert.Equal(t, "No code provided for scanning", c.Message)
}

func TestCodeScannerFindsComplianceControls(t *testing.T) {
	a := NewCodeScanner(0)
	rc := types.NewContext("s1", "q", []string{"auth.py", "login.go"})

	payload, err := a.Execute(context.Background(), "q", rc)
	require.NoError(t, err)

	c := payload.(types.CodePayload)
	require.NotEmpty(t, c.Findings)
	assert.Equal(t, 2, c.ComplianceItems)
}

func TestRiskScorerLowRiskPath(t *testing.T) {
	a := NewRiskScorer(0)
	rc := types.NewContext("s1", "q", nil)

	rc.SetResult(types.AgentResult{
		Agent:  NamePolicyRetriever,
		Status: types.ResultSuccess,
		Payload: types.PolicyPayload{Policies: []types.PolicyDoc{
			{DocID: "POLICY-001"}, {DocID: "POLICY-002"},
		}},
	})
	rc.SetResult(types.AgentResult{
		Agent:  NameEvidenceCollector,
		Status: types.ResultSuccess,
		Payload: types.EvidencePayload{Evidence: []types.EvidenceDoc{
			{DocID: "SPEC-001", Confidence: 0.92},
			{DocID: "API-DOC-001", Confidence: 0.88},
		}},
	})

	payload, err := a.Execute(context.Background(), "q", rc)
	require.NoError(t, err)

	r := payload.(types.RiskPayload)
	// 0.5 - 0.1 (policies) - 0.15 (evidence) = 0.25
	assert.InDelta(t, 0.25, r.RiskScore, 1e-9)
	// 0.75 + 2*0.05 positive signals.
	assert.InDelta(t, 0.85, r.Confidence, 1e-9)
	assert.Equal(t, "acceptable", r.Recommendation)
	assert.Contains(t, r.RiskFactors, "Multiple relevant policies identified")
}

func TestRiskScorerHighRiskPath(t *testing.T) {
	a := NewRiskScorer(0)
	rc := types.NewContext("s1", "q", nil)

	rc.SetResult(types.AgentResult{
		Agent:   NamePolicyRetriever,
		Status:  types.ResultSuccess,
		Payload: types.PolicyPayload{Policies: []types.PolicyDoc{{DocID: "POLICY-001"}}},
	})
	rc.SetResult(types.AgentResult{
		Agent:  NameEvidenceCollector,
		Status: types.ResultSuccess,
		Payload: types.EvidencePayload{Evidence: []types.EvidenceDoc{
			{DocID: "SPEC-001", Confidence: 0.4},
		}},
	})
	rc.SetResult(types.AgentResult{
		Agent:  NameCodeScanner,
		Status: types.ResultSuccess,
		Payload: types.CodePayload{
			Findings:        []types.CodeFinding{{Type: "mfa-check"}},
			ComplianceItems: 1,
		},
	})

	payload, err := a.Execute(context.Background(), "q", rc)
	require.NoError(t, err)

	r := payload.(types.RiskPayload)
	// 0.5 + 0.15 + 0.2 + 0.15 = 1.0
	assert.InDelta(t, 1.0, r.RiskScore, 1e-9)
	assert.Equal(t, "needs_review", r.Recommendation)
	// Three negative signals drop confidence to 0.6.
	assert.InDelta(t, 0.6, r.Confidence, 1e-9)
}

func TestRiskScorerIgnoresFailedAgents(t *testing.T) {
	a := NewRiskScorer(0)
	rc := types.NewContext("s1", "q", nil)

	rc.SetResult(types.AgentResult{
		Agent:  NamePolicyRetriever,
		Status: types.ResultFailed,
		Error:  "broken",
	})

	payload, err := a.Execute(context.Background(), "q", rc)
	require.NoError(t, err)

	r := payload.(types.RiskPayload)
	assert.InDelta(t, 0.5, r.RiskScore, 1e-9, "no successful inputs leaves the baseline")
	assert.Empty(t, r.RiskFactors)
}

func TestCriticHighRiskRequestsHITL(t *testing.T) {
	a := NewRedTeamCritic(0)
	rc := types.NewContext("s1", "q", nil)
	rc.SetResult(types.AgentResult{
		Agent:   NameRiskScorer,
		Status:  types.ResultSuccess,
		Payload: types.RiskPayload{RiskScore: 0.75},
	})

	payload, err := a.Execute(context.Background(), "q", rc)
	require.NoError(t, err)

	c := payload.(types.CriticPayload)
	assert.True(t, c.NeedsHITL)
	assert.Len(t, c.GapsIdentified, 3)
	assert.Len(t, c.FollowUpQuestions, 3)
	assert.Equal(t, types.CriticalityHigh, c.Criticality)
}

func TestCriticLowRiskSkipsHITL(t *testing.T) {
	a := NewRedTeamCritic(0)
	rc := types.NewContext("s1", "q", nil)
	rc.SetResult(types.AgentResult{
		Agent:   NameRiskScorer,
		Status:  types.ResultSuccess,
		Payload: types.RiskPayload{RiskScore: 0.25},
	})

	payload, err := a.Execute(context.Background(), "q", rc)
	require.NoError(t, err)

	c := payload.(types.CriticPayload)
	assert.False(t, c.NeedsHITL)
	assert.Len(t, c.GapsIdentified, 1)
	assert.Equal(t, types.CriticalityLow, c.Criticality)
}

func TestCriticalityBands(t *testing.T) {
	assert.Equal(t, types.CriticalityLow, Criticality(0.4))
	assert.Equal(t, types.CriticalityMedium, Criticality(0.41))
	assert.Equal(t, types.CriticalityMedium, Criticality(0.7))
	assert.Equal(t, types.CriticalityHigh, Criticality(0.71))
}
