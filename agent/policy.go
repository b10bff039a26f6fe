package agent

import (
	"context"
	"strings"
	"time"

	"github.com/auditflow/auditflow/types"
)

// DefaultPolicyTimeout is the policy retriever's declared budget.
const DefaultPolicyTimeout = 20 * time.Second

// policyCorpus is the built-in policy knowledge base. Retrieval backed by
// embedding search is an external collaborator; the built-in agent ranks
// this corpus by naive term overlap.
var policyCorpus = []types.PolicyDoc{
	{
		DocID:   "POLICY-001",
		ChunkID: "MFA-SEC-001",
		Snippet: "Multi-factor authentication is required for all user logins accessing sensitive data. " +
			"MFA must include at least two factors: something you know (password) and something you have (token/phone).",
		RelevanceScore: 0.95,
	},
	{
		DocID:   "POLICY-002",
		ChunkID: "AUTH-REQ-003",
		Snippet: "Login systems must implement session timeout after 30 minutes of inactivity and force " +
			"re-authentication for administrative functions.",
		RelevanceScore: 0.87,
	},
	{
		DocID:   "POLICY-003",
		ChunkID: "DATA-ENC-002",
		Snippet: "All personally identifiable information must be encrypted at rest using AES-256 and in " +
			"transit using TLS 1.2 or higher.",
		RelevanceScore: 0.82,
	},
	{
		DocID:   "POLICY-004",
		ChunkID: "ACC-REV-001",
		Snippet: "Access rights must be reviewed quarterly. Privileged accounts require documented approval " +
			"and are subject to annual recertification.",
		RelevanceScore: 0.78,
	},
}

// PolicyRetriever looks up policy chunks relevant to the query.
type PolicyRetriever struct {
	timeout time.Duration
}

// NewPolicyRetriever creates the policy retriever. A zero timeout uses
// the default budget.
func NewPolicyRetriever(timeout time.Duration) *PolicyRetriever {
	if timeout <= 0 {
		timeout = DefaultPolicyTimeout
	}
	return &PolicyRetriever{timeout: timeout}
}

func (a *PolicyRetriever) Name() string { return NamePolicyRetriever }

func (a *PolicyRetriever) Timeout() time.Duration { return a.timeout }

func (a *PolicyRetriever) Execute(ctx context.Context, query string, rc *types.Context) (types.Payload, error) {
	matched := rankByOverlap(query, policyCorpus, func(d types.PolicyDoc) string { return d.Snippet })
	if len(matched) == 0 {
		// No direct overlap: surface the two highest-relevance policies so
		// downstream stages still see the applicable baseline.
		matched = policyCorpus[:2]
	}

	return types.PolicyPayload{
		Policies:   matched,
		TotalFound: len(matched),
		Query:      query,
	}, nil
}

// rankByOverlap returns the docs whose text shares at least one
// significant term with the query, preserving corpus order.
func rankByOverlap[T any](query string, docs []T, text func(T) string) []T {
	terms := significantTerms(query)
	var out []T
	for _, d := range docs {
		lower := strings.ToLower(text(d))
		for term := range terms {
			if strings.Contains(lower, term) {
				out = append(out, d)
				break
			}
		}
	}
	return out
}

func significantTerms(query string) map[string]struct{} {
	terms := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(query)) {
		w = strings.Trim(w, ".,?!:;\"'()")
		if len(w) >= 4 {
			terms[w] = struct{}{}
		}
	}
	return terms
}
