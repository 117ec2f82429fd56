// Package logger provides a slog factory with environment-driven
// defaults and attribute helpers for consistent structured logging.
package logger
