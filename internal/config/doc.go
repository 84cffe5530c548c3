// Package config provides configuration loading for odatamcp.
//
// Configuration is built in three layers, later layers winning:
//
//  1. GetDefaultConfig
//  2. an optional YAML file (--config); a missing file falls back to defaults
//  3. environment variables, decoded with envdecode from the env struct tags
//
// # Environment
//
//	PORT, HOST, PUBLIC_URL                  gateway listener
//	SAP_IAS_URL, SAP_IAS_CLIENT_ID,
//	SAP_IAS_CLIENT_SECRET                   identity provider
//	SAP_DESIGNTIME_DESTINATION,
//	SAP_RUNTIME_DESTINATION                 destination names
//	destinations                            local override JSON list
//	DESTINATION_SERVICE_URL,
//	DESTINATION_SERVICE_TOKEN_URL,
//	DESTINATION_SERVICE_CLIENT_ID,
//	DESTINATION_SERVICE_CLIENT_SECRET       BTP destination service binding
//	SESSION_STORE, REDIS_ADDR,
//	REDIS_PASSWORD                          token store backend
//	LOG_LEVEL, LOG_FORMAT                   logging
//
// The "destinations" variable uses the approuter shape:
//
//	[{"name":"SAP_RUNTIME","url":"https://host","username":"u","password":"p"}]
//
// # Example File
//
//	server:
//	  port: 3000
//	  publicURL: https://odata-mcp.example.com
//	  rateLimit:
//	    enabled: true
//	    requestsPerSecond: 5
//	    burst: 20
//	ias:
//	  url: https://tenant.accounts.ondemand.com
//	  scopeMapping:
//	    SAP_ADMINS: admin
//	session:
//	  store: redis
//	  sweepInterval: 5m
//
// Durations are written as Go duration strings ("30s", "5m").
package config
