// Package logging provides the structured, subsystem-tagged logger used across
// odatamcp.
//
// It is a thin layer over log/slog: every entry carries a "subsystem" attribute
// and an optional "error" attribute, and messages use printf-style formatting.
//
// # Usage
//
//	logging.InitForCLI(logging.LevelInfo, os.Stdout)
//
//	logging.Info("Bootstrap", "Listening on %s", addr)
//	logging.Debug("Destination", "Resolved %s via %s", name, source)
//	logging.Warn("Destination", "Principal propagation without JWT, using basic auth")
//	logging.Error("IAS", err, "Token exchange failed")
//
// # Subsystems
//
//   - Bootstrap: application startup and shutdown
//   - Config: configuration loading and validation
//   - Session: token store operations and sweeps
//   - IAS: identity provider grants, userinfo, introspection
//   - Destination: destination resolution and caching
//   - OData: SAP backend requests
//   - Gateway: HTTP auth gateway
//   - MCP: tool invocations
//
// # Secrets
//
// Access tokens, refresh tokens, passwords and client secrets are never logged.
// Session ids are shortened with TruncateSessionID before they reach a log line.
//
// # Audit Logging
//
//	logging.Audit(logging.AuditEvent{
//	    Action:    "login",
//	    Outcome:   "success",
//	    User:      user,
//	    SessionID: logging.TruncateSessionID(sessionID),
//	})
//
// Audit events are logged at INFO level with an [AUDIT] prefix for easy
// filtering by log aggregation systems.
package logging
