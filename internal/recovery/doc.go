// Package recovery implements the upload failure coordinator and the
// regeneration handler. The coordinator is the single writer for transitions
// out of uploading on failure, which keeps retry accounting and quota
// deferrals race-free; regeneration revives failed items from the top of the
// pipeline within a bounded budget.
package recovery
