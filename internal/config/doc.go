// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation.
// When realtime.url is omitted the endpoint comes from REALTIME_WS_URL, falling
// back to ws://localhost:8000/ws.
package config
