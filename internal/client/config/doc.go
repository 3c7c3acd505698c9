// Package config loads runtime configuration for the gophnotes client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON or YAML file (see parseFile) selected via -c or -config.
//     Files ending in .yaml or .yml are read as YAML, anything else as JSON.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-l string   local SQLite database path
//	-r string   remote backend: postgres, s3 or none
//	-d string   Postgres DSN
//	-b string   S3 bucket
//	-g string   S3 region
//	-e string   S3 endpoint URL
//	-s string   session token signing secret
//	-t int      remote write timeout (seconds)
//	-i int      online status check interval (seconds)
//	-w int      detached remote write workers
//	-q int      detached remote write queue size
//	-gate       hydration gate: empty or once
//	-log        log backend: slog or zap
//	-logfile    log file path
//
// # File schema
//
// Durations use timex.Duration, so values can be either strings like "3s"
// or integer nanoseconds. Missing keys keep their defaults:
//
//	{
//	  "local_db_path": "data/gophnotes.db",
//	  "remote_backend": "postgres",
//	  "postgres_dsn": "postgres://...",
//	  "remote_timeout": "5s",
//	  "hydrate_timeout": "30s",
//	  "hydration_gate": "empty",
//	  "log_backend": "zap"
//	}
//
// This package does not read environment variables; S3 credentials given in
// the file or defaults are passed to the SDK as static credentials.
package config
