// Package mcpserver exposes the SAP OData client as MCP tools over the
// streamable HTTP transport.
//
// Every tool call builds an api.AuthContext from its own HTTP request: the
// bearer token when one is sent, otherwise the token of the session named by
// the x-mcp-session-id header. The context is passed explicitly to the OData
// client and is never stored.
//
// # Tools
//
//   - sap_discover_services - list services from the gateway catalog
//   - sap_get_metadata - fetch a service's $metadata document
//   - sap_read_entity_set, sap_read_entity - query entities
//   - sap_create_entity, sap_update_entity, sap_delete_entity - modify entities
//
// Create and update need the "write" scope and delete the "delete" scope;
// "admin" satisfies both. Session callers bring their stored scopes, bearer
// callers the scopes introspection reports, anonymous callers none. Reads
// need no scope.
//
// Tool failures are returned as MCP tool errors prefixed with the error kind,
// e.g. "destination_not_found: runtime destination \"SAP_RUNTIME\" not found".
package mcpserver
