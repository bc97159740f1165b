// Package logging provides structured, context-aware logging for redactd.
//
// It wraps Zap with a custom trace level, correlation fields pulled from the
// context (trace/span IDs, operation ID, document ID), redaction of sensitive
// log fields, level-aware sampling, and an optional OTEL log bridge.
//
// Redactd handles documents full of personal data; the redacting encoder is
// the last line of defense against that data reaching log sinks.
package logging
