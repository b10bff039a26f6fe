package agent

import (
	"context"
	"time"

	"github.com/auditflow/auditflow/types"
)

// DefaultEvidenceTimeout is the evidence collector's declared budget.
const DefaultEvidenceTimeout = 25 * time.Second

var evidenceCorpus = []types.EvidenceDoc{
	{
		DocID:      "SPEC-001",
		ChunkID:    "LOGIN-FLOW-001",
		Snippet:    "User enters credentials -> SMS OTP sent to registered phone -> User enters OTP -> Access granted",
		Source:     "Product Specification",
		Confidence: 0.92,
	},
	{
		DocID:      "API-DOC-001",
		ChunkID:    "AUTH-ENDPOINT-001",
		Snippet:    "POST /auth/login - Requires username, password, and otp_token parameters",
		Source:     "API Documentation",
		Confidence: 0.88,
	},
	{
		DocID:      "RUNBOOK-002",
		ChunkID:    "SESSION-MGMT-004",
		Snippet:    "Idle sessions are terminated server-side after the configured timeout; active admin sessions require step-up authentication.",
		Source:     "Operations Runbook",
		Confidence: 0.84,
	},
}

// EvidenceCollector gathers implementation evidence relevant to the query.
type EvidenceCollector struct {
	timeout time.Duration
}

// NewEvidenceCollector creates the evidence collector. A zero timeout
// uses the default budget.
func NewEvidenceCollector(timeout time.Duration) *EvidenceCollector {
	if timeout <= 0 {
		timeout = DefaultEvidenceTimeout
	}
	return &EvidenceCollector{timeout: timeout}
}

func (a *EvidenceCollector) Name() string { return NameEvidenceCollector }

func (a *EvidenceCollector) Timeout() time.Duration { return a.timeout }

func (a *EvidenceCollector) Execute(ctx context.Context, query string, rc *types.Context) (types.Payload, error) {
	matched := rankByOverlap(query, evidenceCorpus, func(d types.EvidenceDoc) string { return d.Snippet + " " + d.Source })
	if len(matched) == 0 {
		matched = evidenceCorpus[:2]
	}

	return types.EvidencePayload{
		Evidence:   matched,
		TotalFound: len(matched),
		Query:      query,
	}, nil
}
