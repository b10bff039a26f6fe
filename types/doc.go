// Package types defines the shared domain model for the compliance
// workflow: sessions, agent results, HITL request/response messages,
// the final ComplianceResult, and the unified error codes used across
// the orchestrator and its transports.
package types
