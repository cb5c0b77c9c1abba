package observability

import (
	"context"

	"github.com/google/uuid"
)

// Context keys for observability data.
type contextKey string

const (
	cycleIDCtxKey   contextKey = "cycle_id"
	operationCtxKey contextKey = "operation"
)

// Standard attribute keys used in logs and metrics.
const (
	CycleIDKey   = "cycle_id"
	OperationKey = "operation"
	DurationKey  = "duration_ms"
	ErrorKey     = "error"
	StatusKey    = "status"
)

// WithCycleID adds a cycle ID to the context.
// If id is empty, a new UUID is generated.
func WithCycleID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = uuid.New().String()
	}
	return context.WithValue(ctx, cycleIDCtxKey, id)
}

// CycleIDFromContext extracts the cycle ID from context.
func CycleIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(cycleIDCtxKey).(string); ok {
		return id
	}
	return ""
}

// WithOperation adds the current operation name to the context.
func WithOperation(ctx context.Context, operation string) context.Context {
	return context.WithValue(ctx, operationCtxKey, operation)
}

// OperationFromContext extracts the operation name from context.
func OperationFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if op, ok := ctx.Value(operationCtxKey).(string); ok {
		return op
	}
	return ""
}
