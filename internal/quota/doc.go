// Package quota maintains the per-tenant upload quota ledger. Each tenant gets
// a fixed unit budget per daily window; uploads reserve a fixed cost before
// dispatch and the admission controller refuses to trigger uploads that would
// exceed the window.
package quota
