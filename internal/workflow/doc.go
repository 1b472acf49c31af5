// Package workflow assembles the daemon's moving parts: the stage consumers,
// the recovery coordinator, the regeneration worker, the ingest watcher, and
// the admission control loop. The manager owns their lifecycles and exposes a
// status snapshot for the API.
package workflow
