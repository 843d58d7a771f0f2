// Package logging builds the service's structured logger.
//
// New returns a standard *slog.Logger whose handler:
//   - writes JSON, text or console output at the configured level
//   - masks sensitive attributes such as passwords and connection strings
//   - adds request_id, feature, scope, trace_id and span_id from the context
//     passed to the *Context logging methods
//
// # Usage
//
//	logger, err := logging.New(logging.FromConfig(cfg.Telemetry.Logging))
//	if err != nil {
//	    return err
//	}
//
//	ctx = logging.WithFeature(ctx, "refresh")
//	logger.InfoContext(ctx, "usage reset") // includes feature=refresh
//
// Library packages accept a plain *slog.Logger and never import this package.
package logging
