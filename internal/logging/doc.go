// Package logging configures slog for finrag. Without --debug, JSON logs go
// to stderr at the configured level. With --debug, logs are also written to
// ~/.finrag/logs/finrag.log with size-based rotation.
package logging
