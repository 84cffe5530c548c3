// Package app is the composition root of the odatamcp gateway.
//
// NewApplication loads the configuration (defaults, YAML file, environment),
// validates it, initializes logging and builds the component graph:
//
//	metrics ─┬─ session.Store (memory or redis)
//	         ├─ ias.Client
//	         └─ destination.Resolver ── odata.Client ── mcpserver.Server
//	                                                           │
//	server.Server (auth gateway, /mcp mounted) ◀───────────────┘
//
// Every component receives its collaborators explicitly; there is no global
// state besides the process logger.
//
// Run serves until the context is cancelled or SIGINT/SIGTERM arrives, then
// drains in-flight requests within Server.ShutdownTimeout and closes the
// token store.
package app
