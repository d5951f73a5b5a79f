// Package commbus provides CommBus Middleware implementations.
//
// Middleware intercepts messages before/after handling for cross-cutting
// concerns.
//
// Available Middleware:
//   - LoggingMiddleware: Structured logging of all messages
//
// Failure protection for collaborator calls lives in the recovery package;
// the bus only carries events and control traffic, so it does not need a
// breaker of its own.
package commbus

import (
	"context"
)

// =============================================================================
// LOGGING MIDDLEWARE
// =============================================================================

// LoggingMiddleware logs all message traffic.
type LoggingMiddleware struct {
	logger Logger
}

// NewLoggingMiddleware creates a new LoggingMiddleware.
func NewLoggingMiddleware(logger Logger) *LoggingMiddleware {
	return &LoggingMiddleware{logger: logger}
}

// Before logs message receipt.
func (m *LoggingMiddleware) Before(ctx context.Context, message Message) (Message, error) {
	if m.logger != nil {
		m.logger.Debug("bus_message_received",
			"category", message.Category(),
			"message_type", GetMessageType(message))
	}
	return message, nil
}

// After logs message completion.
func (m *LoggingMiddleware) After(ctx context.Context, message Message, result any, err error) (any, error) {
	if m.logger == nil {
		return result, nil
	}
	msgType := GetMessageType(message)
	if err != nil {
		m.logger.Warn("bus_message_failed", "message_type", msgType, "error", err)
	} else {
		m.logger.Debug("bus_message_completed", "message_type", msgType)
	}
	return result, nil
}

// Ensure all middleware types implement Middleware interface.
var _ Middleware = (*LoggingMiddleware)(nil)
