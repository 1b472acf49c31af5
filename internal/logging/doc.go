// Package logging builds slog loggers and shared attribute helpers.
//
// Loggers are constructed from config (console or json format, optional file
// output alongside stdout) and carry standardized field names so item, tenant,
// and stage context stays queryable across the daemon.
package logging
