// Package audit is the write-only sink for dispatch failures that are
// dropped rather than raised, currently a single case: a dashboard
// command naming a function the registry cannot resolve.
package audit

import (
	"context"
	"time"
)

// FailureRecord is one dropped dispatch attempt.
type FailureRecord struct {
	// InvocationID is the caller-supplied invocation id, when present.
	InvocationID string
	// FunctionID is the function id the command named.
	FunctionID string
	// Detail is a human-readable description of why the attempt was
	// dropped.
	Detail string
	// OccurredAt is when the failure was recorded.
	OccurredAt time.Time
}

// Logger is the audit collaborator interface.
type Logger interface {
	WriteFailure(ctx context.Context, rec *FailureRecord) error
}

// NopLogger discards every record.
type NopLogger struct{}

// WriteFailure does nothing.
func (NopLogger) WriteFailure(ctx context.Context, rec *FailureRecord) error {
	return nil
}
