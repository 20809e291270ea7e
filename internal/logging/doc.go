// Package logging builds the slog loggers shared by every distill process and
// provides the attribute helpers and field-name constants used across the
// codebase so log output stays greppable.
package logging
