// Package config handles configuration loading for parley-gateway.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files (chosen by extension) with
// environment variable expansion. Missing values get defaults, then the
// result is validated.
//
// # Environment Variable Expansion
//
//	auth:
//	  jwt_secret: "${PARLEY_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	server:
//	  request_timeout: "10s"
//	auth:
//	  token_ttl: "2h"
//	push:
//	  pong_timeout: "60s"
//
// # Configuration Sections
//
//	server:
//	  http_addr: "localhost:5002"
//	  allowed_origins: ["http://localhost:5173"]
//	database:
//	  driver: "sqlite"          # or "postgres"
//	  path: "./parley.db"
//	  url: "postgres://..."     # postgres only
//	auth:
//	  jwt_secret: "..."
//	  cookie_name: "authToken"
//	redis:
//	  url: "redis://localhost:6379/0"   # optional directory cache
//	  cache_ttl: "5m"
//	push:
//	  send_buffer: 64
//	  write_timeout: "10s"
//	  dedupe_ttl: "5m"
//	logging:
//	  level: "info"             # debug, info, warn, error
//	  format: "text"            # text or json
package config
