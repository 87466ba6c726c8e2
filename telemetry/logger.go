// Package telemetry provides the structured logger threaded through the
// engine (spec.md §9's ambient logging concern), grounded on zap usage
// elsewhere in the examples pack (*zap.SugaredLogger passed in by
// constructor) and provided via fx alongside the rest of the engine's
// dependency graph.
package telemetry

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewLogger builds and returns a production *zap.Logger; NewSugaredLogger
// derives the SugaredLogger form the rest of the engine takes.
func NewLogger() (*zap.Logger, error) {
	return zap.NewProduction()
}

// NewSugaredLogger derives a SugaredLogger from the fx-provided *zap.Logger.
func NewSugaredLogger(base *zap.Logger) *zap.SugaredLogger {
	return base.Sugar()
}

// Module wires NewLogger/NewSugaredLogger into an fx app.
var Module = fx.Options(
	fx.Provide(NewLogger),
	fx.Provide(NewSugaredLogger),
)

// RequestFields builds the standard log fields attached to every request
// log line: resource, operation, and request id.
func RequestFields(resource, operation, requestID string) []zap.Field {
	return []zap.Field{
		zap.String("resource", resource),
		zap.String("operation", operation),
		zap.String("request_id", requestID),
	}
}
