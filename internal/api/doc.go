// Package api defines the JSON types served by the daemon's HTTP endpoint
// and consumed by the CLI. Keeping them apart from the queue models lets the
// wire format evolve without touching storage.
package api
