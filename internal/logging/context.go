package logging

import (
	"context"
	"fmt"
	"regexp"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	// Trace correlation (from OpenTelemetry)
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}

	// Batch/fan-out operation correlation
	if opID := OperationIDFromContext(ctx); opID != "" {
		fields = append(fields, zap.String("operation.id", opID))
	}

	// Document being processed
	if docID := DocumentIDFromContext(ctx); docID != "" {
		fields = append(fields, zap.String("document.id", docID))
	}

	return fields
}

// Context key types
type operationCtxKey struct{}
type documentCtxKey struct{}

const maxIDLen = 128

// idPattern allows alphanumeric, hyphen, underscore.
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// validateID validates an operation or document ID.
func validateID(id, name string) error {
	if id == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("%s contains invalid UTF-8", name)
	}
	if len(id) > maxIDLen {
		return fmt.Errorf("%s exceeds max length %d", name, maxIDLen)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters (must be alphanumeric, hyphen, underscore)", name)
	}
	return nil
}

// ValidID reports whether id is usable as an operation or document ID.
// Boundary code checks untrusted IDs with this before calling the
// With* helpers, which panic on invalid input.
func ValidID(id string) bool {
	return validateID(id, "id") == nil
}

// OperationIDFromContext extracts the batch operation ID from context.
func OperationIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(operationCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithOperationID adds a batch operation ID to context.
// Panics if operationID is empty or contains invalid characters.
func WithOperationID(ctx context.Context, operationID string) context.Context {
	if err := validateID(operationID, "operationID"); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	return context.WithValue(ctx, operationCtxKey{}, operationID)
}

// DocumentIDFromContext extracts the document ID from context.
func DocumentIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(documentCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithDocumentID adds a document ID to context.
// Panics if documentID is empty or contains invalid characters.
func WithDocumentID(ctx context.Context, documentID string) context.Context {
	if err := validateID(documentID, "documentID"); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	return context.WithValue(ctx, documentCtxKey{}, documentID)
}

// loggerCtxKey is the context key for Logger.
type loggerCtxKey struct{}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
