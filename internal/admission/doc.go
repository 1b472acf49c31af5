// Package admission implements the per-tenant control loop that feeds the
// pipeline. It is the only component that publishes upload triggers against
// the quota ledger and the only one that turns drop-directory headlines into
// work items, which concentrates every pacing decision in one place.
package admission
