// Package guardrails screens queries before a workflow run starts and
// checks final results for internal consistency before they are returned.
// Both screens are pure functions over their inputs; the caller decides
// how to act on a failed validation.
package guardrails

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/auditflow/auditflow/types"
)

// Severity levels for validation errors.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// Validation error codes.
const (
	ErrCodeUnsafeQuery      = "UNSAFE_QUERY"
	ErrCodeOffDomainQuery   = "OFF_DOMAIN_QUERY"
	ErrCodeInconsistent     = "INCONSISTENT_RESULT"
	ErrCodeMissingCitations = "MISSING_CITATIONS"
	ErrCodeWeakRationale    = "WEAK_RATIONALE"
)

// ValidationError describes one failed check.
type ValidationError struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// QueryScreen is the outcome of the pre-run query check.
type QueryScreen struct {
	IsSafe              bool     `json:"is_safe"`
	IsComplianceRelated bool     `json:"is_compliance_related"`
	UnsafeMatches       []string `json:"unsafe_matches,omitempty"`
	ComplianceScore     int      `json:"compliance_score"`
	Reason              string   `json:"reason"`
}

// Accepted reports whether the query may start a workflow run.
func (s QueryScreen) Accepted() bool {
	return s.IsSafe && s.IsComplianceRelated
}

// ResultScreen is the outcome of the post-run consistency check.
type ResultScreen struct {
	IsValid bool              `json:"is_valid"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

var unsafePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(hack|exploit|vulnerability|attack|malware|virus)\b`),
	regexp.MustCompile(`\b(bypass|circumvent|disable|override)\b.*\b(security|authentication|authorization)\b`),
	regexp.MustCompile(`\bsql\s+injection\b`),
	regexp.MustCompile(`\bxss\b|\bcross.site.scripting\b`),
	regexp.MustCompile(`\bddos\b|\bdenial.of.service\b`),
}

var complianceKeywords = []string{
	"policy", "compliance", "regulation", "audit", "security",
	"privacy", "gdpr", "hipaa", "sox", "pci", "iso27001",
	"authentication", "authorization", "access control",
	"data protection", "encryption",
}

var redactions = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`\b[A-Za-z0-9]{32,}\b`), "[REDACTED_TOKEN]"},
	{regexp.MustCompile(`(?i)\bpassword\s*[=:]\s*\S+`), "password=[REDACTED]"},
	{regexp.MustCompile(`(?i)\bapi[_-]?key\s*[=:]\s*\S+`), "api_key=[REDACTED]"},
	{regexp.MustCompile(`(?i)\bsecret\s*[=:]\s*\S+`), "secret=[REDACTED]"},
	{regexp.MustCompile(`(?i)\btoken\s*[=:]\s*\S+`), "token=[REDACTED]"},
}

// Screener validates queries and results. The zero value is not usable;
// construct with NewScreener.
type Screener struct {
	logger *zap.Logger
}

// NewScreener creates a Screener. A nil logger is replaced with a nop logger.
func NewScreener(logger *zap.Logger) *Screener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Screener{logger: logger.With(zap.String("component", "guardrails"))}
}

// ScreenQuery checks that a query is safe and compliance-related. Queries
// shorter than five words pass the domain check regardless of keyword
// content; short queries get the benefit of the doubt.
func (s *Screener) ScreenQuery(query string) QueryScreen {
	lower := strings.ToLower(query)

	var unsafeMatches []string
	for _, p := range unsafePatterns {
		unsafeMatches = append(unsafeMatches, p.FindAllString(lower, -1)...)
	}

	score := 0
	for _, kw := range complianceKeywords {
		if strings.Contains(lower, kw) {
			score++
		}
	}

	screen := QueryScreen{
		IsSafe:              len(unsafeMatches) == 0,
		IsComplianceRelated: score >= 1 || len(strings.Fields(query)) < 5,
		UnsafeMatches:       unsafeMatches,
		ComplianceScore:     score,
	}
	screen.Reason = screenReason(screen)

	if !screen.Accepted() {
		s.logger.Warn("query rejected by pre-screen",
			zap.Bool("is_safe", screen.IsSafe),
			zap.Bool("is_compliance_related", screen.IsComplianceRelated),
			zap.Strings("unsafe_matches", screen.UnsafeMatches),
		)
	}
	return screen
}

func screenReason(s QueryScreen) string {
	switch {
	case !s.IsSafe:
		return fmt.Sprintf("Query contains potentially unsafe content: %s", strings.Join(s.UnsafeMatches, ", "))
	case !s.IsComplianceRelated:
		return "Query does not appear to be compliance or risk-related"
	default:
		return "Query is acceptable for compliance analysis"
	}
}

// ScreenResult checks a ComplianceResult's internal consistency. All
// violations are collected; nothing short-circuits and the result is
// never mutated.
func (s *Screener) ScreenResult(result *types.ComplianceResult) ResultScreen {
	var errs []ValidationError

	if result.Decision == types.DecisionCompliant && result.RiskScore > 0.7 {
		errs = append(errs, ValidationError{
			Code:     ErrCodeInconsistent,
			Message:  "decision is 'compliant' but risk_score is high",
			Severity: SeverityHigh,
		})
	}
	if result.Decision == types.DecisionNonCompliant && result.RiskScore < 0.3 {
		errs = append(errs, ValidationError{
			Code:     ErrCodeInconsistent,
			Message:  "decision is 'non_compliant' but risk_score is low",
			Severity: SeverityHigh,
		})
	}
	if result.Confidence < 0.5 && result.Decision != types.DecisionInsufficientEvidence {
		errs = append(errs, ValidationError{
			Code:     ErrCodeInconsistent,
			Message:  "low confidence should result in 'insufficient_evidence' decision",
			Severity: SeverityMedium,
		})
	}
	if result.Decision != types.DecisionInsufficientEvidence && len(result.Citations) == 0 {
		errs = append(errs, ValidationError{
			Code:     ErrCodeMissingCitations,
			Message:  "compliant/non-compliant decisions must include citations",
			Severity: SeverityHigh,
		})
	}
	if len(result.Rationale) < 50 {
		errs = append(errs, ValidationError{
			Code:     ErrCodeWeakRationale,
			Message:  "rationale is too brief (minimum 50 characters)",
			Severity: SeverityLow,
		})
	}

	return ResultScreen{IsValid: len(errs) == 0, Errors: errs}
}

// SafeRefusal builds the canonical refusal result returned when a query
// fails the pre-screen. The pipeline never starts for such queries.
func SafeRefusal(reason string) *types.ComplianceResult {
	return &types.ComplianceResult{
		Decision:   types.DecisionInsufficientEvidence,
		Confidence: 0,
		RiskScore:  0,
		Rationale: fmt.Sprintf("Request cannot be processed: %s. "+
			"This system is designed for defensive compliance and risk assessment only.", reason),
		Citations:         []types.Citation{},
		OpenQuestions:     []string{},
		HumanInteractions: []types.HumanInteraction{},
	}
}

// Sanitize redacts likely credentials and tokens from output text.
func Sanitize(text string) string {
	for _, r := range redactions {
		text = r.pattern.ReplaceAllString(text, r.replacement)
	}
	return text
}

// LogSecurityEvent records a security-relevant event for monitoring.
func (s *Screener) LogSecurityEvent(eventType string, fields ...zap.Field) {
	s.logger.Warn("security event", append([]zap.Field{zap.String("event_type", eventType)}, fields...)...)
}
