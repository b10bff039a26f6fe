package types

import "time"

// Decision is the terminal verdict of a compliance run.
type Decision string

const (
	DecisionCompliant            Decision = "compliant"
	DecisionNonCompliant         Decision = "non_compliant"
	DecisionInsufficientEvidence Decision = "insufficient_evidence"
)

// ResultStatus describes the outcome of one agent invocation.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultFailed  ResultStatus = "failed"
	ResultTimeout ResultStatus = "timeout"
)

// Citation points at a source document chunk backing part of the final decision.
type Citation struct {
	DocID   string `json:"doc_id"`
	ChunkID string `json:"chunk_id"`
	Snippet string `json:"snippet"`
}

// HITLRequestType classifies what is being asked of the human operator.
type HITLRequestType string

const (
	HITLClarification HITLRequestType = "clarification"
	HITLApproval      HITLRequestType = "approval"
	HITLUploadRequest HITLRequestType = "upload_request"
)

// HITLResponseType classifies the payload of a human response.
type HITLResponseType string

const (
	HITLResponseText     HITLResponseType = "text"
	HITLResponseApproval HITLResponseType = "approval"
	HITLResponseUpload   HITLResponseType = "upload"
)

// InteractionStatus records how a HITL round resolved.
type InteractionStatus string

const (
	InteractionProvided InteractionStatus = "provided"
	InteractionApproved InteractionStatus = "approved"
	InteractionDenied   InteractionStatus = "denied"
	InteractionTimeout  InteractionStatus = "timeout"
)

// HITLRequest is a question posed to a human operator. The RequestID is
// unique per round and is never reused.
type HITLRequest struct {
	SessionID        string          `json:"session_id"`
	RequestID        string          `json:"request_id"`
	Type             HITLRequestType `json:"type"`
	Prompt           string          `json:"prompt"`
	RequiredArtifact string          `json:"required_artifact,omitempty"`
}

// HITLResponse is the operator's answer to an outstanding HITLRequest.
// The RequestID must match the request; unmatched responses are discarded.
type HITLResponse struct {
	SessionID    string           `json:"session_id"`
	RequestID    string           `json:"request_id"`
	ResponseType HITLResponseType `json:"response_type"`
	Payload      map[string]any   `json:"payload"`
}

// HumanInteraction is the immutable audit record of one HITL round.
type HumanInteraction struct {
	Timestamp time.Time         `json:"timestamp"`
	Type      HITLRequestType   `json:"type"`
	Prompt    string            `json:"prompt"`
	Response  string            `json:"response"`
	Status    InteractionStatus `json:"status"`
}

// ComplianceResult is the terminal artifact of a workflow run.
// Citations must be non-empty unless the decision is insufficient_evidence,
// and the rationale must be at least 50 characters; the guardrails result
// screen enforces both.
type ComplianceResult struct {
	Decision          Decision           `json:"decision"`
	Confidence        float64            `json:"confidence"`
	RiskScore         float64            `json:"risk_score"`
	Rationale         string             `json:"rationale"`
	Citations         []Citation         `json:"citations"`
	OpenQuestions     []string           `json:"open_questions"`
	HumanInteractions []HumanInteraction `json:"human_interactions"`
}

// ProgressUpdate is one stage-transition event reported to the session
// transport while a workflow runs.
type ProgressUpdate struct {
	Stage  string         `json:"stage"`
	Status string         `json:"status"`
	Meta   map[string]any `json:"meta,omitempty"`
}

// Progress statuses.
const (
	ProgressStarted   = "started"
	ProgressCompleted = "completed"
	ProgressFailed    = "failed"
)

// AgentResult is the output of one agent invocation, produced exactly once
// per agent per session. A failed or timed-out agent still yields a result;
// the workflow never sees an agent error as a fault.
type AgentResult struct {
	Agent    string        `json:"agent"`
	Status   ResultStatus  `json:"status"`
	Payload  Payload       `json:"payload,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// SessionState is the full persisted view of one workflow run.
type SessionState struct {
	SessionID         string                 `json:"session_id"`
	CreatedAt         time.Time              `json:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at"`
	Query             string                 `json:"query"`
	Attachments       []string               `json:"attachments"`
	Stage             string                 `json:"stage"`
	AgentOutputs      map[string]AgentResult `json:"agent_outputs"`
	HumanInteractions []HumanInteraction     `json:"human_interactions"`
	FinalResult       *ComplianceResult      `json:"final_result,omitempty"`
}
