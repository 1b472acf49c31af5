// Package daemon runs the per-tenant pipeline process: it enforces
// single-instance execution with a lock file, starts the workflow manager,
// and serves the HTTP API.
package daemon
