package types

import (
	"encoding/json"
	"time"
)

// Payload is the agent-specific structured output carried inside an
// AgentResult. The orchestrator passes payloads through without
// interpreting them; only the downstream stage that needs a payload
// (risk scorer, critic, synthesis) asserts its concrete type.
type Payload interface {
	Kind() string
}

// PolicyDoc is one retrieved policy chunk.
type PolicyDoc struct {
	DocID          string  `json:"doc_id"`
	ChunkID        string  `json:"chunk_id"`
	Snippet        string  `json:"snippet"`
	RelevanceScore float64 `json:"relevance_score"`
}

// PolicyPayload is the policy retriever's output.
type PolicyPayload struct {
	Policies   []PolicyDoc `json:"policies"`
	TotalFound int         `json:"total_found"`
	Query      string      `json:"query"`
}

func (PolicyPayload) Kind() string { return "policy" }

// EvidenceDoc is one collected piece of supporting evidence.
type EvidenceDoc struct {
	DocID      string  `json:"doc_id"`
	ChunkID    string  `json:"chunk_id"`
	Snippet    string  `json:"snippet"`
	Source     string  `json:"source"`
	Confidence float64 `json:"confidence"`
}

// EvidencePayload is the evidence collector's output.
type EvidencePayload struct {
	Evidence   []EvidenceDoc `json:"evidence"`
	TotalFound int           `json:"total_found"`
	Query      string        `json:"query"`
}

func (EvidencePayload) Kind() string { return "evidence" }

// OCRResult is the extraction outcome for one attached image.
type OCRResult struct {
	ImageID          string   `json:"image_id"`
	ImagePath        string   `json:"image_path"`
	ExtractedText    string   `json:"extracted_text"`
	Confidence       float64  `json:"confidence"`
	DetectedElements []string `json:"detected_elements,omitempty"`
}

// VisionDoc is a citation-shaped item derived from visual evidence.
type VisionDoc struct {
	DocID   string `json:"doc_id"`
	ChunkID string `json:"chunk_id"`
	Content string `json:"content"`
}

// VisionPayload is the vision/OCR agent's output.
type VisionPayload struct {
	OCRResults     []OCRResult `json:"ocr_results"`
	VisionEvidence []VisionDoc `json:"vision_evidence"`
	TotalProcessed int         `json:"total_processed"`
	Message        string      `json:"message,omitempty"`
}

func (VisionPayload) Kind() string { return "vision" }

// CodeFinding is one compliance-relevant observation from code analysis.
type CodeFinding struct {
	Type               string `json:"type"`
	Severity           string `json:"severity"`
	Description        string `json:"description"`
	Location           string `json:"code_location"`
	Snippet            string `json:"snippet"`
	ComplianceRelevant bool   `json:"compliance_relevant"`
}

// CodePayload is the code scanner's output.
type CodePayload struct {
	Findings        []CodeFinding `json:"findings"`
	TotalScanned    int           `json:"total_scanned"`
	ComplianceItems int           `json:"compliance_items"`
	Message         string        `json:"message,omitempty"`
}

func (CodePayload) Kind() string { return "code" }

// RiskPayload is the risk scorer's output, consumed by the critic and
// by result synthesis.
type RiskPayload struct {
	RiskScore      float64  `json:"risk_score"`
	Confidence     float64  `json:"confidence"`
	RiskFactors    []string `json:"risk_factors"`
	Recommendation string   `json:"recommendation"`
}

func (RiskPayload) Kind() string { return "risk" }

// Criticality labels derived from the risk score.
const (
	CriticalityHigh   = "high"
	CriticalityMedium = "medium"
	CriticalityLow    = "low"
)

// CriticPayload is the red-team critic's output. NeedsHITL gates the
// conditional human-in-the-loop stage.
type CriticPayload struct {
	GapsIdentified    []string `json:"gaps_identified"`
	FollowUpQuestions []string `json:"follow_up_questions"`
	Challenges        []string `json:"challenges"`
	NeedsHITL         bool     `json:"needs_hitl"`
	Criticality       string   `json:"criticality"`
}

func (CriticPayload) Kind() string { return "critic" }

// RawPayload carries a payload read back from persistence, where the
// concrete agent type is no longer known. It round-trips as raw JSON.
type RawPayload json.RawMessage

func (RawPayload) Kind() string { return "raw" }

// MarshalJSON emits the stored bytes unchanged.
func (p RawPayload) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("null"), nil
	}
	return p, nil
}

// UnmarshalJSON stores the bytes unchanged.
func (p *RawPayload) UnmarshalJSON(data []byte) error {
	*p = append((*p)[:0], data...)
	return nil
}

// UnmarshalJSON decodes an AgentResult with the payload preserved as a
// RawPayload, since the concrete agent type is not recoverable from JSON.
func (r *AgentResult) UnmarshalJSON(data []byte) error {
	var raw struct {
		Agent    string          `json:"agent"`
		Status   ResultStatus    `json:"status"`
		Payload  json.RawMessage `json:"payload,omitempty"`
		Error    string          `json:"error,omitempty"`
		Duration int64           `json:"duration"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Agent = raw.Agent
	r.Status = raw.Status
	r.Error = raw.Error
	r.Duration = time.Duration(raw.Duration)
	if len(raw.Payload) > 0 && string(raw.Payload) != "null" {
		r.Payload = RawPayload(raw.Payload)
	} else {
		r.Payload = nil
	}
	return nil
}
